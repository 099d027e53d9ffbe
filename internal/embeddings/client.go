package embeddings

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/quillframe/ragcore/internal/metrics"
	"github.com/quillframe/ragcore/internal/provider"
)

// Provider is the upstream embedding operation. *provider.Client satisfies
// it.
type Provider interface {
	Embed(ctx context.Context, texts []string) ([][]float32, int, error)
}

// Config tunes the embedding client.
type Config struct {
	Model          string
	MaxConcurrent  int64
	MaxRetries     int
	CacheTTL       time.Duration
	CacheMaxBytes  int64
	InitialBackoff time.Duration
}

// Client generates embeddings through the provider, deduplicating work via
// the cache and holding provider concurrency under MaxConcurrent.
type Client struct {
	provider Provider
	cache    *Cache
	sem      *semaphore.Weighted
	cfg      Config
	log      *zap.Logger
}

// NewClient builds an embedding client around a provider.
func NewClient(p Provider, cfg Config, logger *zap.Logger) *Client {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 5
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 500 * time.Millisecond
	}
	return &Client{
		provider: p,
		cache:    NewCache(cfg.CacheTTL, cfg.CacheMaxBytes),
		sem:      semaphore.NewWeighted(cfg.MaxConcurrent),
		cfg:      cfg,
		log:      logger,
	}
}

// Embed returns the vector for a single text, consulting the cache before
// and after acquiring a provider permit so concurrent requests for the same
// text collapse into one upstream call in the common case.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	key := CacheKey(text)
	if vec, ok := c.cache.Get(key); ok {
		metrics.EmbeddingCacheHits.Inc()
		return vec, nil
	}
	metrics.EmbeddingCacheMisses.Inc()

	if err := c.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer c.sem.Release(1)

	// A sibling request may have filled the cache while we waited. The miss
	// is already counted, so this lookup stays off the counters.
	if vec, ok := c.cache.Peek(key); ok {
		return vec, nil
	}

	vec, err := c.embedWithRetry(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Set(key, vec)
	return vec, nil
}

// embedWithRetry calls the provider with exponential backoff. Non-retryable
// provider errors and cancellations stop immediately.
func (c *Client) embedWithRetry(ctx context.Context, text string) ([]float32, error) {
	var vec []float32

	attempt := 0
	op := func() error {
		start := time.Now()
		vecs, _, err := c.provider.Embed(ctx, []string{text})
		elapsed := time.Since(start).Seconds()
		if err != nil {
			metrics.RecordEmbedding(c.cfg.Model, "error", elapsed)
			if !provider.IsRetryable(err) || ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			attempt++
			metrics.EmbeddingRetries.Inc()
			c.log.Warn("Embedding call failed, retrying",
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			return err
		}
		if len(vecs) == 0 {
			metrics.RecordEmbedding(c.cfg.Model, "empty", elapsed)
			return backoff.Permanent(fmt.Errorf("embeddings: provider returned no vectors"))
		}
		metrics.RecordEmbedding(c.cfg.Model, "ok", elapsed)
		vec = vecs[0]
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.cfg.InitialBackoff
	bo.Multiplier = 2
	bo.RandomizationFactor = 0

	err := backoff.Retry(op, backoff.WithContext(
		backoff.WithMaxRetries(bo, uint64(c.cfg.MaxRetries)), ctx))
	if err != nil {
		return nil, err
	}
	return vec, nil
}

// EmbedBatch embeds texts concurrently, reporting progress after each
// completion. Failed texts leave a nil slot; err is non-nil only when every
// text failed or the context was cancelled.
func (c *Client) EmbedBatch(ctx context.Context, texts []string, onProgress func(done, total int)) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	results := make([][]float32, len(texts))
	errs := make([]error, len(texts))

	var mu sync.Mutex
	done := 0

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(int(c.cfg.MaxConcurrent))

	for i := range texts {
		i := i
		g.Go(func() error {
			vec, err := c.Embed(gctx, texts[i])
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				errs[i] = err
				c.log.Warn("Batch embedding failed for text",
					zap.Int("index", i),
					zap.Error(err),
				)
			} else {
				results[i] = vec
			}
			mu.Lock()
			done++
			if onProgress != nil {
				onProgress(done, len(texts))
			}
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return results, err
	}
	if err := firstIfAllFailed(errs); err != nil {
		return results, err
	}
	return results, nil
}

// CacheStats exposes cache counters for the stats surface.
func (c *Client) CacheStats() CacheStats {
	return c.cache.Stats()
}

func firstIfAllFailed(errs []error) error {
	var first error
	for _, err := range errs {
		if err == nil {
			return nil
		}
		if first == nil {
			first = err
		}
	}
	return first
}
