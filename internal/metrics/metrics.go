// Package metrics holds the Prometheus collectors for the draft, confirm
// and apply protocol, and the HTTP server that exposes them.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// DraftsStaged counts drafts written in the proposed state, by agent.
	DraftsStaged = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stagehand_drafts_staged_total",
		Help: "Drafts staged in the proposed state, by agent",
	}, []string{"agent"})

	// DraftOutcomes counts draft requests by how they ended: staged,
	// needs_input, no_changes, fallback or error.
	DraftOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stagehand_draft_outcomes_total",
		Help: "Draft requests by outcome",
	}, []string{"outcome"})

	// GenerationAttempts counts completion attempts by outcome: valid,
	// invalid or error.
	GenerationAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stagehand_generation_attempts_total",
		Help: "Completion attempts by outcome",
	}, []string{"outcome"})

	// ConfirmResults counts confirm calls by result kind ("ok" or an error kind).
	ConfirmResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stagehand_confirm_results_total",
		Help: "Confirm calls by result",
	}, []string{"result"})

	// ApplyResults counts apply calls by result kind ("ok" or an error kind).
	ApplyResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stagehand_apply_results_total",
		Help: "Apply calls by result",
	}, []string{"result"})

	// ApplyDuration tracks how long the apply transaction takes.
	ApplyDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "stagehand_apply_duration_seconds",
		Help:    "Apply transaction duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
	})

	// SweptRecords counts records touched by the background sweeper.
	SweptRecords = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stagehand_swept_records_total",
		Help: "Records expired, purged or evicted by the sweeper",
	}, []string{"action"})
)

// Serve exposes /metrics on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("metrics server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
