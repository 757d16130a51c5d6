// Package server exposes the aggregation pass over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/surgeon-pipeline/internal/aggregate"
)

// Aggregator runs one aggregation pass.
type Aggregator interface {
	Run(ctx context.Context) (*aggregate.Result, error)
}

// Options configures the router.
type Options struct {
	AllowedOrigins []string
}

type handler struct {
	agg Aggregator
}

// NewRouter returns the trigger surface. GET /health reports liveness and
// every other request runs one aggregation pass.
func NewRouter(agg Aggregator, opts Options) http.Handler {
	h := &handler{agg: agg}

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(recoverJSON)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		MaxAge:         300,
	}))

	r.Get("/health", h.health)
	r.HandleFunc("/*", h.aggregate)
	r.MethodNotAllowed(h.aggregate)
	return r
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) aggregate(w http.ResponseWriter, r *http.Request) {
	log := zap.L().With(
		zap.String("request_id", middleware.GetReqID(r.Context())),
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
	)
	log.Info("server: aggregation triggered")

	res, err := h.agg.Run(r.Context())
	if err != nil {
		log.Error("server: aggregation failed", zap.Error(err))
		writeAggregationError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Trust scores updated",
		"count":   res.Updated,
	})
}

func writeAggregationError(w http.ResponseWriter, err error) {
	var malformed *aggregate.MalformedResultError
	switch {
	case errors.As(err, &malformed):
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error":    "Invalid aggregation response",
			"context":  "Trust score procedure did not return a list",
			"received": malformed.Received,
		})
	case errors.Is(err, aggregate.ErrAggregationUnavailable):
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error":   err.Error(),
			"context": "Failed to run trust score procedure",
		})
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error":   "Internal server error",
			"details": err.Error(),
		})
	}
}

// recoverJSON turns a panic into a 500 with a JSON body.
func recoverJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			zap.L().Error("server: panic recovered",
				zap.Any("panic", rec),
				zap.String("path", r.URL.Path),
				zap.String("method", r.Method),
			)
			writeJSON(w, http.StatusInternalServerError, map[string]any{
				"error":   "Internal server error",
				"details": fmt.Sprint(rec),
			})
		}()
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("server: encode response", zap.Error(err))
	}
}

// ListenAndServe serves handler on port until ctx is cancelled, then shuts
// down gracefully.
func ListenAndServe(ctx context.Context, port int, handler http.Handler) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		zap.L().Info("server: listening", zap.Int("port", port))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server: listen")
		}
		return nil
	case <-ctx.Done():
	}

	zap.L().Info("server: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return eris.Wrap(err, "server: shutdown")
	}
	return nil
}
