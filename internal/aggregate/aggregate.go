// Package aggregate runs the store's trust score procedure and writes the
// defined scores back to their surgeons.
package aggregate

import (
	"bytes"
	"context"
	"encoding/json"
	"sync/atomic"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/surgeon-pipeline/internal/model"
)

// Store is the slice of the persistence layer the aggregator needs.
type Store interface {
	CallTrustScoreProcedure(ctx context.Context) ([]byte, error)
	UpdateTrustScore(ctx context.Context, surgeonID int64, score float64) error
}

// Result summarizes one aggregation pass.
type Result struct {
	Returned int `json:"returned"`
	Scored   int `json:"scored"`
	Updated  int `json:"updated"`
	Failed   int `json:"failed"`
}

// Aggregator computes final trust scores.
type Aggregator struct {
	store       Store
	concurrency int
}

// New creates an Aggregator that issues at most concurrency updates at once.
func New(store Store, concurrency int) *Aggregator {
	if concurrency <= 0 {
		concurrency = 10
	}
	return &Aggregator{store: store, concurrency: concurrency}
}

// Run invokes the procedure once, drops entries with no score, and updates
// the rest concurrently. A failed update is logged and counted; it does not
// roll back or stop the others. The error is non-nil only when the
// procedure call fails or its result is not a sequence of scores.
func (a *Aggregator) Run(ctx context.Context) (*Result, error) {
	log := zap.L().With(zap.String("stage", string(model.StageAggregate)))

	raw, err := a.store.CallTrustScoreProcedure(ctx)
	if err != nil {
		return nil, eris.Wrapf(ErrAggregationUnavailable, "aggregate: %v", err)
	}

	scores, err := decodeScores(raw)
	if err != nil {
		return nil, err
	}

	res := &Result{Returned: len(scores)}
	defined := make([]model.TrustScore, 0, len(scores))
	for _, s := range scores {
		if s.Score != nil {
			defined = append(defined, s)
		}
	}
	res.Scored = len(defined)

	var updated, failed atomic.Int64
	var g errgroup.Group
	g.SetLimit(a.concurrency)
	for _, s := range defined {
		g.Go(func() error {
			if err := a.store.UpdateTrustScore(ctx, s.ID, *s.Score); err != nil {
				failed.Add(1)
				log.Warn("aggregate: update failed", zap.Int64("surgeon_id", s.ID), zap.Error(err))
				return nil
			}
			updated.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	res.Updated = int(updated.Load())
	res.Failed = int(failed.Load())
	log.Info("aggregate: trust scores updated",
		zap.Int("returned", res.Returned),
		zap.Int("count", res.Updated),
		zap.Int("failed", res.Failed),
	)
	return res, nil
}

func decodeScores(raw []byte) ([]model.TrustScore, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, &MalformedResultError{Received: jsonOrNull(trimmed)}
	}
	var scores []model.TrustScore
	if err := json.Unmarshal(trimmed, &scores); err != nil {
		return nil, &MalformedResultError{Received: jsonOrNull(trimmed), Cause: err}
	}
	return scores, nil
}

// jsonOrNull keeps the received payload embeddable in a JSON response.
func jsonOrNull(b []byte) json.RawMessage {
	if len(b) == 0 {
		return json.RawMessage("null")
	}
	if !json.Valid(b) {
		quoted, _ := json.Marshal(string(b))
		return quoted
	}
	return json.RawMessage(b)
}
