// Package orchestrator coordinates sessions, the ingestion pipeline, and
// retrieval strategies into the event streams served over SSE.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/quillframe/ragcore/internal/metrics"
	"github.com/quillframe/ragcore/internal/pipeline"
	"github.com/quillframe/ragcore/internal/provider"
	"github.com/quillframe/ragcore/internal/rag"
	"github.com/quillframe/ragcore/internal/retrieval"
	"github.com/quillframe/ragcore/internal/session"
)

// ErrEmptyQuery and ErrEmptyDocument reject blank inputs before any
// stream starts.
var (
	ErrEmptyQuery    = errors.New("query must not be empty")
	ErrEmptyDocument = errors.New("document content must not be empty")
	ErrEmptyFileName = errors.New("file name must not be empty")
)

// streamBuffer bounds in-flight events per stream.
const streamBuffer = 20

// Generator is the generation surface the orchestrator needs:
// streaming for answers, blocking for hypothesis generation.
type Generator interface {
	retrieval.Generator
	GenerateStream(ctx context.Context, prompt string, opts provider.GenerateOptions, emit func(string)) (provider.Usage, error)
}

// Embedder is re-exported here so wiring needs one import.
type Embedder = retrieval.Embedder

// Orchestrator runs ingest and query flows against the session store.
type Orchestrator struct {
	sessions  *session.Manager
	ingestor  *pipeline.Ingestor
	embedder  Embedder
	generator Generator
	log       *zap.Logger
}

// New wires an orchestrator.
func New(sessions *session.Manager, ingestor *pipeline.Ingestor, embedder Embedder, generator Generator, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		sessions:  sessions,
		ingestor:  ingestor,
		embedder:  embedder,
		generator: generator,
		log:       logger,
	}
}

// Sessions exposes the session manager for the HTTP layer.
func (o *Orchestrator) Sessions() *session.Manager { return o.sessions }

// IngestStream validates the request, then runs the ingestion pipeline in
// the background and returns its progress stream. The channel closes when
// the pipeline finishes, fails, or the context is cancelled.
func (o *Orchestrator) IngestStream(ctx context.Context, sessionID, fileName, content string, strategy rag.ChunkingStrategy) (<-chan rag.IngestProgressUpdate, error) {
	if strings.TrimSpace(fileName) == "" {
		return nil, ErrEmptyFileName
	}
	if content == "" {
		return nil, ErrEmptyDocument
	}
	sess, err := o.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}

	out := make(chan rag.IngestProgressUpdate, streamBuffer)
	sink := func(p rag.IngestProgressUpdate) {
		select {
		case out <- p:
		case <-ctx.Done():
		}
	}

	go func() {
		defer close(out)
		_ = o.ingestor.Ingest(ctx, sess, fileName, content, strategy, sink)
	}()
	return out, nil
}

// QueryStream validates the request and returns the query's event stream.
// Events arrive in the fixed order: optional retrieval, zero or more
// generation, zero or more citation, then exactly one done; or a single
// error event.
func (o *Orchestrator) QueryStream(ctx context.Context, sessionID, query string, strategy rag.RetrievalStrategy, topK int) (<-chan rag.QueryEvent, error) {
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}
	sess, err := o.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}

	if !strategy.Valid() {
		strategy = sess.Config.DefaultStrategy
	}
	if topK <= 0 {
		topK = sess.Config.TopK
	}

	out := make(chan rag.QueryEvent, streamBuffer)
	go func() {
		defer close(out)
		o.runQuery(ctx, sess, query, strategy, topK, out)
	}()
	return out, nil
}

func (o *Orchestrator) runQuery(ctx context.Context, sess *session.Session, query string, strategy rag.RetrievalStrategy, topK int, out chan<- rag.QueryEvent) {
	start := time.Now()
	metrics.QueriesStarted.WithLabelValues(string(strategy)).Inc()

	emit := func(ev rag.QueryEvent) bool {
		metrics.QueryEvents.WithLabelValues(ev.Type).Inc()
		select {
		case out <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}
	emitErr := func(msg string, err error) {
		o.log.Warn("Query stream failed",
			zap.String("session_id", sess.ID),
			zap.String("strategy", string(strategy)),
			zap.Error(err),
		)
		emit(rag.QueryEvent{Type: rag.EventError, Content: msg})
	}

	if sess.Index.Size() == 0 {
		emit(rag.QueryEvent{
			Type:    rag.EventError,
			Content: "No documents in session. Please upload documents first.",
		})
		return
	}

	// retrieval
	retrStart := time.Now()
	strat := retrieval.New(strategy, o.embedder, o.generator, o.log)
	results, err := strat.Retrieve(ctx, sess, query, topK)
	retrievalMs := time.Since(retrStart).Milliseconds()
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		emitErr(fmt.Sprintf("Retrieval failed: %v", err), err)
		return
	}

	if !emit(rag.QueryEvent{
		Type: rag.EventRetrieval,
		Content: fmt.Sprintf("Retrieved %d chunks using %s strategy",
			len(results), strategy),
		RetrievedChunks: results,
	}) {
		return
	}

	queryMetrics := rag.Metrics{
		RetrievalTimeMs: retrievalMs,
		ChunksRetrieved: len(results),
	}

	if len(results) == 0 {
		if !emit(rag.QueryEvent{
			Type:    rag.EventGeneration,
			Content: "No relevant information found in the uploaded documents for this question.",
		}) {
			return
		}
		o.finish(sess, strategy, start, queryMetrics, emit)
		return
	}

	// generation
	genStart := time.Now()
	usage, err := o.generator.GenerateStream(ctx, buildPrompt(query, results),
		provider.GenerateOptions{},
		func(fragment string) {
			emit(rag.QueryEvent{Type: rag.EventGeneration, Content: fragment})
		})
	queryMetrics.GenerationTimeMs = time.Since(genStart).Milliseconds()
	queryMetrics.TotalTokensUsed = usage.TotalTokens
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		emitErr("Answer generation failed. Please try again.", err)
		return
	}

	// citations follow retrieval order
	for _, r := range results {
		if !emit(rag.QueryEvent{
			Type: rag.EventCitation,
			Citation: &rag.Citation{
				DocumentName:   r.Chunk.DocumentName,
				ChunkPreview:   rag.Preview(r.Chunk.Content),
				RelevanceScore: r.SimilarityScore,
				ChunkIndex:     r.Chunk.ChunkIndex,
			},
		}) {
			return
		}
	}

	o.finish(sess, strategy, start, queryMetrics, emit)
}

// finish emits the terminal done event with final metrics and folds them
// into the session totals.
func (o *Orchestrator) finish(sess *session.Session, strategy rag.RetrievalStrategy, start time.Time, m rag.Metrics, emit func(rag.QueryEvent) bool) {
	m.TotalTimeMs = time.Since(start).Milliseconds()

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	m.MemoryUsedBytes = ms.HeapAlloc

	sess.AccumulateMetrics(m)
	metrics.RecordQuery(string(strategy), time.Since(start).Seconds(), m.TotalTokensUsed)

	emit(rag.QueryEvent{Type: rag.EventDone, Metrics: &m})
	o.log.Info("Query complete",
		zap.String("session_id", sess.ID),
		zap.String("strategy", string(strategy)),
		zap.Int("chunks_retrieved", m.ChunksRetrieved),
		zap.Int64("total_ms", m.TotalTimeMs),
	)
}

// buildPrompt renders retrieved chunks as cited sources above the
// question.
func buildPrompt(query string, results []rag.RetrievalResult) string {
	var sb strings.Builder
	sb.WriteString("Answer the question using only the sources below. Cite nothing else.\n\n")
	for _, r := range results {
		fmt.Fprintf(&sb, "[Source: %s, Relevance: %.0f%%]\n%s\n\n",
			r.Chunk.DocumentName, r.SimilarityScore*100, r.Chunk.Content)
	}
	sb.WriteString("Question: ")
	sb.WriteString(query)
	return sb.String()
}
