// Package ingestion runs crawls: it fetches every target, records new
// snapshots and materializes the changes they introduce.
package ingestion

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/rpattn/cohortwatch/internal/changes"
	"github.com/rpattn/cohortwatch/internal/domain"
	"github.com/rpattn/cohortwatch/internal/history"
	"github.com/rpattn/cohortwatch/internal/identity"
	"github.com/rpattn/cohortwatch/internal/metrics"
	"github.com/rpattn/cohortwatch/internal/repository"
	"github.com/rpattn/cohortwatch/internal/source"
)

var tracer = otel.Tracer("cohortwatch/ingestion")

// Options tunes a crawl.
type Options struct {
	// Concurrency bounds the number of targets processed at once. Defaults to 8.
	Concurrency int
	// FetchTimeout bounds each document fetch. Defaults to 30s.
	FetchTimeout time.Duration
	// RequestsPerSecond throttles fetches across workers; 0 disables throttling.
	RequestsPerSecond float64
	// Source labels runs in the run log.
	Source string
	// Now overrides the observation clock.
	Now func() time.Time
}

// ItemFailure describes one target that could not be observed.
type ItemFailure struct {
	ExternalID string             `json:"external_id"`
	URL        string             `json:"url"`
	Kind       domain.FailureKind `json:"kind"`
	Temporary  bool               `json:"temporary"`
	Message    string             `json:"message"`
	Err        error              `json:"-"`
}

// RunSummary reports the outcome of one run.
type RunSummary struct {
	RunID     uuid.UUID     `json:"run_id"`
	Total     int           `json:"total"`
	Changed   int           `json:"changed"`
	Failed    int           `json:"failed"`
	Elapsed   time.Duration `json:"elapsed_ns"`
	Failures  []ItemFailure `json:"failures"`
	Cancelled bool          `json:"cancelled"`
}

// Orchestrator drives the source, identity, history and change components
// over a list of targets.
type Orchestrator struct {
	fetcher  source.Fetcher
	resolver *identity.Resolver
	store    *history.Store
	changes  *changes.Materializer
	runs     repository.RunRepository
	limiter  *rate.Limiter
	locks    *keyedMutex
	opts     Options
	logger   *zap.Logger
}

// NewOrchestrator wires an orchestrator. runs may be nil to skip the run log.
func NewOrchestrator(
	fetcher source.Fetcher,
	resolver *identity.Resolver,
	store *history.Store,
	materializer *changes.Materializer,
	runs repository.RunRepository,
	opts Options,
	logger *zap.Logger,
) *Orchestrator {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 8
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = 30 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var limiter *rate.Limiter
	if opts.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
	}

	return &Orchestrator{
		fetcher:  fetcher,
		resolver: resolver,
		store:    store,
		changes:  materializer,
		runs:     runs,
		limiter:  limiter,
		locks:    newKeyedMutex(),
		opts:     opts,
		logger:   logger,
	}
}

// Run crawls targets under the configured source label.
func (o *Orchestrator) Run(ctx context.Context, targets []source.Target) (RunSummary, error) {
	return o.RunFrom(ctx, o.opts.Source, targets)
}

// RunFrom crawls targets and logs the run under label. Item failures never
// abort the run. When ctx is cancelled no further targets start and the
// partial summary is returned together with ctx.Err().
func (o *Orchestrator) RunFrom(ctx context.Context, label string, targets []source.Target) (RunSummary, error) {
	started := time.Now()
	summary := RunSummary{RunID: uuid.New(), Failures: []ItemFailure{}}

	ctx, span := tracer.Start(ctx, "ingestion.Run")
	defer span.End()
	span.SetAttributes(
		attribute.String("run.id", summary.RunID.String()),
		attribute.Int("run.targets", len(targets)),
	)

	logger := o.logger.With(zap.Stringer("run_id", summary.RunID), zap.String("source", label))
	logger.Info("crawl started", zap.Int("targets", len(targets)), zap.Int("concurrency", o.opts.Concurrency))

	run := domain.IngestionRun{ID: summary.RunID, Source: label, StartedAt: o.opts.Now().UTC(), Total: len(targets)}
	runLogged := o.startRun(ctx, run, logger)

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(o.opts.Concurrency)

	for _, target := range targets {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			changed, err := o.processItem(ctx, target)
			if err != nil {
				failure := newItemFailure(target, err)
				metrics.CrawlItems.WithLabelValues("failed").Inc()
				metrics.CrawlFailures.WithLabelValues(string(failure.Kind)).Inc()
				logger.Warn("crawl item failed",
					zap.String("external_id", target.ExternalID),
					zap.String("kind", string(failure.Kind)),
					zap.Bool("temporary", failure.Temporary),
					zap.Error(err))
				if runLogged {
					o.recordFailure(ctx, summary.RunID, failure, logger)
				}

				mu.Lock()
				summary.Total++
				summary.Failed++
				summary.Failures = append(summary.Failures, failure)
				mu.Unlock()
				return nil
			}

			outcome := "unchanged"
			if changed {
				outcome = "changed"
			}
			metrics.CrawlItems.WithLabelValues(outcome).Inc()

			mu.Lock()
			summary.Total++
			if changed {
				summary.Changed++
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	slices.SortFunc(summary.Failures, func(a, b ItemFailure) int {
		return strings.Compare(a.ExternalID, b.ExternalID)
	})
	summary.Elapsed = time.Since(started)
	summary.Cancelled = ctx.Err() != nil

	span.SetAttributes(
		attribute.Int("run.total", summary.Total),
		attribute.Int("run.changed", summary.Changed),
		attribute.Int("run.failed", summary.Failed),
		attribute.Bool("run.cancelled", summary.Cancelled),
	)

	if runLogged {
		finished := o.opts.Now().UTC()
		run.FinishedAt = &finished
		run.Total = summary.Total
		run.Changed = summary.Changed
		run.Failed = summary.Failed
		run.Cancelled = summary.Cancelled
		if err := o.runs.Finish(context.WithoutCancel(ctx), run); err != nil {
			logger.Warn("failed to record run finish", zap.Error(err))
		}
	}

	fields := []zap.Field{
		zap.Int("total", summary.Total),
		zap.Int("changed", summary.Changed),
		zap.Int("failed", summary.Failed),
		zap.Duration("elapsed", summary.Elapsed),
	}
	if summary.Cancelled {
		metrics.CrawlRuns.WithLabelValues("cancelled").Inc()
		span.SetStatus(codes.Error, "cancelled")
		logger.Warn("crawl cancelled", fields...)
		return summary, ctx.Err()
	}
	metrics.CrawlRuns.WithLabelValues("completed").Inc()
	logger.Info("crawl finished", fields...)
	return summary, nil
}

// processItem observes one target and reports whether a new snapshot was written.
func (o *Orchestrator) processItem(ctx context.Context, target source.Target) (bool, error) {
	ctx, span := tracer.Start(ctx, "ingestion.Item")
	defer span.End()
	span.SetAttributes(attribute.String("target.external_id", target.ExternalID))

	changed, err := o.observe(ctx, target)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(domain.Classify(err)))
	}
	span.SetAttributes(attribute.Bool("target.changed", changed))
	return changed, err
}

func (o *Orchestrator) observe(ctx context.Context, target source.Target) (bool, error) {
	// The lock key must match the id the resolver stores.
	target = target.WithDefaults("")
	if err := target.Validate(); err != nil {
		return false, err
	}

	unlock := o.locks.Lock(target.ExternalID)
	defer unlock()

	raw, err := o.fetch(ctx, target.URL)
	if err != nil {
		return false, err
	}

	obs, pageName, err := source.ParseCompanyPage(raw)
	if err != nil {
		return false, err
	}
	if err := obs.Validate(); err != nil {
		return false, err
	}

	displayName := pageName
	if displayName == "" {
		displayName = target.DisplayName
	}
	observedAt := o.opts.Now().UTC()

	entityID, err := o.resolver.Resolve(ctx, target.ExternalID, displayName, observedAt)
	if err != nil {
		return false, err
	}

	result, err := o.store.Append(ctx, entityID, obs, observedAt)
	if err != nil {
		return false, err
	}
	if !result.Written || result.Previous == nil {
		return result.Written, nil
	}

	events, err := o.changes.Record(ctx, *result.Previous, result.Snapshot)
	if err != nil {
		return false, fmt.Errorf("snapshot %d written but change events not recorded: %w", result.Snapshot.ID, err)
	}
	for _, event := range events {
		metrics.ChangeEvents.WithLabelValues(string(event.Category)).Inc()
	}
	return true, nil
}

func (o *Orchestrator) fetch(ctx context.Context, url string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, o.opts.FetchTimeout)
	defer cancel()

	if o.limiter != nil {
		if err := o.limiter.Wait(ctx); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, &domain.SourceError{URL: url, Temporary: true, Err: err}
		}
	}

	start := time.Now()
	raw, err := o.fetcher.Fetch(ctx, url)
	metrics.FetchDuration.Observe(time.Since(start).Seconds())
	return raw, err
}

func (o *Orchestrator) startRun(ctx context.Context, run domain.IngestionRun, logger *zap.Logger) bool {
	if o.runs == nil {
		return false
	}
	if err := o.runs.Start(ctx, run); err != nil {
		logger.Warn("failed to record run start, run log disabled for this run", zap.Error(err))
		return false
	}
	return true
}

func (o *Orchestrator) recordFailure(ctx context.Context, runID uuid.UUID, failure ItemFailure, logger *zap.Logger) {
	err := o.runs.RecordFailure(context.WithoutCancel(ctx), domain.IngestionFailure{
		RunID:      runID,
		ExternalID: failure.ExternalID,
		Kind:       failure.Kind,
		Temporary:  failure.Temporary,
		Message:    failure.Message,
		OccurredAt: o.opts.Now().UTC(),
	})
	if err != nil {
		logger.Warn("failed to record item failure", zap.String("external_id", failure.ExternalID), zap.Error(err))
	}
}

func newItemFailure(target source.Target, err error) ItemFailure {
	return ItemFailure{
		ExternalID: target.ExternalID,
		URL:        target.URL,
		Kind:       domain.Classify(err),
		Temporary:  domain.IsTemporary(err),
		Message:    err.Error(),
		Err:        err,
	}
}

// Rebuild recomputes all materialized change events from snapshot history.
func (o *Orchestrator) Rebuild(ctx context.Context) (int, error) {
	ctx, span := tracer.Start(ctx, "ingestion.Rebuild")
	defer span.End()

	n, err := o.changes.Rebuild(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "rebuild failed")
		return 0, err
	}
	return n, nil
}
