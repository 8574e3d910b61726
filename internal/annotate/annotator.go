// Package annotate submits message bodies to the text-analysis collaborator
// in bounded batches and attaches the returned sentiment/entity annotations.
package annotate

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/caseward/forensics-cli/internal/model"
	"github.com/caseward/forensics-cli/internal/resilience"
	"github.com/caseward/forensics-cli/pkg/textanalysis"
)

// Config tunes annotation batching and the collaborator guard rails.
type Config struct {
	// BatchSize bounds one collaborator request. Default: 25.
	BatchSize int
	// Concurrency bounds in-flight collaborator calls. Default: 4.
	Concurrency int
	// RequestsPerSecond caps the call rate toward the collaborator.
	// Zero disables the limiter.
	RequestsPerSecond float64
	// Retry is the per-batch retry policy for transient failures.
	Retry resilience.RetryConfig
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = 25
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	return c
}

// Stats summarizes one annotation pass. Failures are absorbed as data:
// Unannotated counts messages whose batch exhausted its retries.
type Stats struct {
	Submitted   int
	Annotated   int
	Skipped     int // already carried a current-version annotation
	Unannotated int
}

// Annotator attaches collaborator annotations to normalized messages.
type Annotator struct {
	client  textanalysis.Client
	breaker *resilience.CircuitBreaker
	limiter *rate.Limiter
	cfg     Config
}

// New creates an Annotator around the given collaborator client.
func New(client textanalysis.Client, breaker *resilience.CircuitBreaker, cfg Config) *Annotator {
	cfg = cfg.withDefaults()
	a := &Annotator{client: client, breaker: breaker, cfg: cfg}
	if cfg.RequestsPerSecond > 0 {
		a.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return a
}

// Run annotates every message in msgs that does not already carry an
// annotation from the current model version (re-submitting one is a no-op).
// The input slice is not mutated; a new slice is returned. Batches that
// still fail after retries leave their messages unannotated rather than
// blocking the rest of the source. Only context cancellation returns an
// error.
func (a *Annotator) Run(ctx context.Context, msgs []model.AnnotatedMessage) ([]model.AnnotatedMessage, Stats, error) {
	out := make([]model.AnnotatedMessage, len(msgs))
	copy(out, msgs)

	var stats Stats
	var pending []int
	for i, m := range out {
		if m.Annotation != nil && m.Annotation.Model == a.client.Model() {
			stats.Skipped++
			continue
		}
		pending = append(pending, i)
	}
	stats.Submitted = len(pending)
	if len(pending) == 0 {
		return out, stats, nil
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.cfg.Concurrency)

	for start := 0; start < len(pending); start += a.cfg.BatchSize {
		batch := pending[start:min(start+a.cfg.BatchSize, len(pending))]
		g.Go(func() error {
			results, err := a.annotateBatch(gctx, out, batch)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				zap.L().Warn("annotate: batch left unannotated",
					zap.Int("batch_size", len(batch)),
					zap.Error(err),
				)
				mu.Lock()
				stats.Unannotated += len(batch)
				mu.Unlock()
				return nil
			}

			mu.Lock()
			for j, idx := range batch {
				out[idx].Annotation = &model.Annotation{
					Sentiment: results[j].Sentiment,
					Entities:  results[j].Entities,
					Model:     a.client.Model(),
				}
			}
			stats.Annotated += len(batch)
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return out, stats, err
	}
	return out, stats, nil
}

func (a *Annotator) annotateBatch(ctx context.Context, msgs []model.AnnotatedMessage, batch []int) ([]textanalysis.Result, error) {
	texts := make([]string, len(batch))
	for j, idx := range batch {
		texts[j] = msgs[idx].Body
	}

	return resilience.DoVal(ctx, a.cfg.Retry, func(ctx context.Context) ([]textanalysis.Result, error) {
		if a.limiter != nil {
			if err := a.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}
		return resilience.ExecuteVal(ctx, a.breaker, func(ctx context.Context) ([]textanalysis.Result, error) {
			return a.client.Annotate(ctx, texts)
		})
	})
}
