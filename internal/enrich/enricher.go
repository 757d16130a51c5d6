// Package enrich derives specialties, languages and a provisional trust
// estimate for surgeons by asking an external oracle about each one.
package enrich

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/sells-group/surgeon-pipeline/internal/model"
	"github.com/sells-group/surgeon-pipeline/internal/resilience"
)

// Store is the slice of the persistence layer the enricher needs.
type Store interface {
	ListUnenriched(ctx context.Context, limit int, exclude []int64) ([]model.Surgeon, error)
	UpdateEnrichment(ctx context.Context, surgeonID int64, e model.Enrichment) error
}

// Options configures an Enricher.
type Options struct {
	BatchSize         int
	Concurrency       int
	RequestsPerSecond float64
	Retry             resilience.RetryConfig
	Breaker           *resilience.CircuitBreaker
}

// Stats summarizes one enrichment run.
type Stats struct {
	Batches         int `json:"batches"`
	Selected        int `json:"selected"`
	Enriched        int `json:"enriched"`
	OracleFailures  int `json:"oracle_failures"`
	ParseFailures   int `json:"parse_failures"`
	PersistFailures int `json:"persist_failures"`
}

// Failed is the number of surgeons that were selected but not enriched.
func (s Stats) Failed() int {
	return s.OracleFailures + s.ParseFailures + s.PersistFailures
}

// Enricher drains the unenriched set batch by batch.
type Enricher struct {
	store   Store
	oracle  Oracle
	opts    Options
	limiter *rate.Limiter
}

// New creates an Enricher. A zero RequestsPerSecond disables rate limiting.
func New(store Store, oracle Oracle, opts Options) *Enricher {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 10
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	e := &Enricher{store: store, oracle: oracle, opts: opts}
	if opts.RequestsPerSecond > 0 {
		burst := max(1, opts.Concurrency)
		e.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}
	return e
}

// Run selects batches of unenriched surgeons until none remain. Surgeons
// that fail in this run are excluded from later selections of the same run,
// so the loop ends even when the oracle keeps failing; they stay unenriched
// and are retried by the next run. Per-record failures are logged and
// counted. Only a selection failure or cancellation aborts the run.
func (e *Enricher) Run(ctx context.Context) (*Stats, error) {
	log := zap.L().With(zap.String("stage", string(model.StageEnrich)))
	stats := &Stats{}
	var failed []int64

	for {
		if err := ctx.Err(); err != nil {
			return stats, eris.Wrap(err, "enrich: run interrupted")
		}

		batch, err := e.store.ListUnenriched(ctx, e.opts.BatchSize, failed)
		if err != nil {
			return stats, eris.Wrap(err, "enrich: select unenriched")
		}
		if len(batch) == 0 {
			break
		}
		stats.Batches++
		stats.Selected += len(batch)

		errs := e.enrichBatch(ctx, batch)
		for i, err := range errs {
			switch {
			case err == nil:
				stats.Enriched++
				continue
			case errors.Is(err, ErrEnrichmentParse):
				stats.ParseFailures++
			case errors.Is(err, ErrEnrichmentPersist):
				stats.PersistFailures++
			default:
				stats.OracleFailures++
			}
			failed = append(failed, batch[i].SurgeonID)
		}

		log.Info("enrich: batch complete",
			zap.Int("batch", stats.Batches),
			zap.Int("size", len(batch)),
			zap.Int("enriched_total", stats.Enriched),
			zap.Int("failed_total", stats.Failed()),
		)
	}

	log.Info("enrich: run complete",
		zap.Int("batches", stats.Batches),
		zap.Int("enriched", stats.Enriched),
		zap.Int("failed", stats.Failed()),
	)
	return stats, nil
}

// enrichBatch enriches a batch with bounded concurrency. The returned slice
// is parallel to batch.
func (e *Enricher) enrichBatch(ctx context.Context, batch []model.Surgeon) []error {
	errs := make([]error, len(batch))

	var g errgroup.Group
	g.SetLimit(e.opts.Concurrency)
	for i, s := range batch {
		g.Go(func() error {
			errs[i] = e.EnrichSurgeon(ctx, s)
			return nil
		})
	}
	_ = g.Wait()
	return errs
}

// EnrichSurgeon asks the oracle about one surgeon and persists the validated
// result. Errors wrap ErrEnrichmentParse or ErrEnrichmentPersist when the
// failure happened after the oracle answered.
func (e *Enricher) EnrichSurgeon(ctx context.Context, s model.Surgeon) error {
	log := zap.L().With(
		zap.Int64("surgeon_id", s.SurgeonID),
		zap.String("name", s.Name),
	)

	raw, err := e.ask(ctx, BuildPrompt(s))
	if err != nil {
		log.Warn("enrich: oracle request failed", zap.Error(err))
		return eris.Wrapf(err, "enrich: surgeon %d", s.SurgeonID)
	}

	result, err := ParseResult(raw)
	if err != nil {
		log.Warn("enrich: invalid oracle response", zap.Error(err))
		return eris.Wrapf(err, "enrich: surgeon %d", s.SurgeonID)
	}

	if err := e.store.UpdateEnrichment(ctx, s.SurgeonID, ToEnrichment(result)); err != nil {
		log.Warn("enrich: persist failed", zap.Error(err))
		return eris.Wrapf(ErrEnrichmentPersist, "surgeon %d: %v", s.SurgeonID, err)
	}

	log.Debug("enrich: surgeon enriched",
		zap.Strings("specialties", result.Specialties),
		zap.Bool("has_trust_prior", result.TrustScore != nil),
	)
	return nil
}

func (e *Enricher) ask(ctx context.Context, prompt string) (string, error) {
	return resilience.Retry(ctx, e.opts.Retry, func(ctx context.Context) (string, error) {
		if e.limiter != nil {
			if err := e.limiter.Wait(ctx); err != nil {
				return "", eris.Wrap(err, "enrich: rate limit wait")
			}
		}
		if e.opts.Breaker == nil {
			return e.oracle.Complete(ctx, prompt)
		}
		return resilience.Call(ctx, e.opts.Breaker, func(ctx context.Context) (string, error) {
			return e.oracle.Complete(ctx, prompt)
		})
	})
}
