// Package pipeline runs the staged ingestion flow: validate, chunk, embed,
// index. Stages are connected by bounded channels so a slow embedder
// backpressures the chunker instead of buffering a whole document.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/quillframe/ragcore/internal/chunker"
	"github.com/quillframe/ragcore/internal/metrics"
	"github.com/quillframe/ragcore/internal/rag"
	"github.com/quillframe/ragcore/internal/session"
)

// Stage channel capacities. Chunks are cheap, embedded chunks carry
// vectors, so the downstream buffer is smaller.
const (
	chunkBuffer    = 50
	embeddedBuffer = 20
)

// ErrValidation marks pre-flight rejections (size caps, document limits).
var ErrValidation = errors.New("validation failed")

// ErrCancelled marks a caller-initiated abort.
var ErrCancelled = errors.New("ingestion cancelled")

// Embedder is the single-text embedding operation the pipeline consumes.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Ingestor runs ingestion pipelines against sessions.
type Ingestor struct {
	embedder Embedder
	log      *zap.Logger
}

// NewIngestor builds an ingestion pipeline runner.
func NewIngestor(embedder Embedder, logger *zap.Logger) *Ingestor {
	return &Ingestor{embedder: embedder, log: logger}
}

// Ingest processes one document into the session's index, pushing progress
// updates into sink as stages advance. Returned errors have already been
// reported through the sink as an Error update.
func (in *Ingestor) Ingest(ctx context.Context, sess *session.Session, fileName, content string, strategy rag.ChunkingStrategy, sink rag.ProgressSink) error {
	start := time.Now()
	log := in.log.With(
		zap.String("session_id", sess.ID),
		zap.String("file_name", fileName),
	)

	emit := func(phase string, step int, message string, percent float64) {
		sink(rag.IngestProgressUpdate{
			Phase:           phase,
			CurrentStep:     step,
			TotalSteps:      rag.IngestTotalSteps,
			Message:         message,
			PercentComplete: percent,
		})
	}
	fail := func(step int, message string, err error) error {
		emit(rag.PhaseError, step, message, 0)
		metrics.DocumentsIngested.WithLabelValues("error").Inc()
		log.Warn("Ingestion failed", zap.String("message", message), zap.Error(err))
		return err
	}

	emit(rag.PhaseStarting, 1, "Starting document processing", 0)

	cfg := sess.Config
	if len(content) > cfg.MaxFileSizeBytes {
		msg := fmt.Sprintf("File too large (%dKB). Maximum: %dKB",
			len(content)/1024, cfg.MaxFileSizeBytes/1024)
		return fail(1, msg, fmt.Errorf("%w: %s", ErrValidation, msg))
	}
	if sess.DocumentCount() >= cfg.MaxDocuments {
		msg := fmt.Sprintf("Cannot add document: document limit reached (%d)", cfg.MaxDocuments)
		return fail(1, msg, fmt.Errorf("%w: %s", ErrValidation, msg))
	}

	if !strategy.Valid() {
		strategy = cfg.DefaultChunkingStrategy
	}
	doc := rag.NewDocument(fileName, content)

	chunkStart := time.Now()
	chunks := chunker.New(strategy, cfg.ChunkSize, cfg.ChunkOverlap).Chunk(doc)
	chunkingMs := time.Since(chunkStart).Milliseconds()
	if len(chunks) == 0 {
		msg := "Document produced no chunks"
		return fail(2, msg, fmt.Errorf("%w: %s", ErrValidation, msg))
	}
	emit(rag.PhaseChunking, 2, fmt.Sprintf("Split into %d chunks", len(chunks)), 10)
	emit(rag.PhaseEmbedding, 3, fmt.Sprintf("Embedding %d chunks", len(chunks)), 30)

	embedStart := time.Now()
	indexed, err := in.runStages(ctx, sess, chunks, emit)
	embeddingMs := time.Since(embedStart).Milliseconds()
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			emit(rag.PhaseError, 3, "document processing was cancelled", 0)
			metrics.DocumentsIngested.WithLabelValues("cancelled").Inc()
			log.Info("Ingestion cancelled", zap.Int("chunks_indexed", indexed))
			return fmt.Errorf("%w: %v", ErrCancelled, err)
		}
		return fail(3, "Embedding failed for all chunks", err)
	}
	if indexed == 0 {
		return fail(3, "Embedding failed for all chunks",
			errors.New("pipeline: no chunks indexed"))
	}

	emit(rag.PhaseIndexing, 4, "Building vector index", 90)

	sess.AddDocument(doc)
	sess.Touch(time.Now())
	sess.AccumulateMetrics(rag.Metrics{
		ChunkingTimeMs:  chunkingMs,
		EmbeddingTimeMs: embeddingMs,
		TotalTimeMs:     time.Since(start).Milliseconds(),
		TotalChunks:     indexed,
	})

	metrics.DocumentsIngested.WithLabelValues("ok").Inc()
	metrics.ChunksIndexed.Add(float64(indexed))
	metrics.IngestDuration.Observe(time.Since(start).Seconds())

	emit(rag.PhaseComplete, 4, "Document processed successfully", 100)
	log.Info("Document ingested",
		zap.String("document_id", doc.ID),
		zap.Int("chunks", indexed),
		zap.Duration("elapsed", time.Since(start)),
	)
	return nil
}

// runStages wires chunk producer, embed workers, and the single indexer.
// It returns the number of chunks indexed. Per-chunk embedding failures are
// logged and skipped; only cancellation or an index invariant violation
// aborts the run.
func (in *Ingestor) runStages(ctx context.Context, sess *session.Session, chunks []rag.Chunk, emit func(string, int, string, float64)) (int, error) {
	total := len(chunks)
	workers := sess.Config.MaxConcurrentEmbeddings
	if workers <= 0 {
		workers = 1
	}

	chunkCh := make(chan rag.Chunk, chunkBuffer)
	embeddedCh := make(chan rag.EmbeddedChunk, embeddedBuffer)

	var embedded atomic.Int64

	g, gctx := errgroup.WithContext(ctx)

	// producer
	g.Go(func() error {
		defer close(chunkCh)
		for _, c := range chunks {
			select {
			case chunkCh <- c:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	// embed workers
	wg, wgctx := errgroup.WithContext(gctx)
	for w := 0; w < workers; w++ {
		wg.Go(func() error {
			for c := range chunkCh {
				vec, err := in.embedder.Embed(wgctx, c.Content)
				if err != nil {
					if wgctx.Err() != nil {
						return wgctx.Err()
					}
					in.log.Warn("Skipping chunk after embedding failure",
						zap.String("chunk_id", c.ID),
						zap.Error(err),
					)
					continue
				}
				done := embedded.Add(1)
				pct := 30 + 50*float64(done)/float64(total)
				emit(rag.PhaseEmbedding, 3,
					fmt.Sprintf("Embedded %d/%d chunks", done, total), pct)

				select {
				case embeddedCh <- rag.EmbeddedChunk{Chunk: c, Embedding: vec}:
				case <-wgctx.Done():
					return wgctx.Err()
				}
			}
			return nil
		})
	}
	g.Go(func() error {
		defer close(embeddedCh)
		return wg.Wait()
	})

	// single indexer keeps Add ordering deterministic
	indexed := 0
	g.Go(func() error {
		for ec := range embeddedCh {
			if err := sess.Index.Add(ec); err != nil {
				return err
			}
			indexed++
		}
		return nil
	})

	err := g.Wait()
	return indexed, err
}
