package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/quillframe/ragcore/internal/rag"
	"github.com/quillframe/ragcore/internal/session"
)

// stubEmbedder embeds by text length; failFor texts always fail.
type stubEmbedder struct {
	mu      sync.Mutex
	calls   int
	failFor map[string]bool
	failAll bool
	delay   time.Duration
}

func (s *stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()

	if s.failAll || s.failFor[text] {
		return nil, errors.New("embed refused")
	}
	return []float32{float32(len(text)), 1, 0}, nil
}

type updateLog struct {
	mu      sync.Mutex
	updates []rag.IngestProgressUpdate
}

func (u *updateLog) sink(p rag.IngestProgressUpdate) {
	u.mu.Lock()
	u.updates = append(u.updates, p)
	u.mu.Unlock()
}

func (u *updateLog) phases() []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	var out []string
	for _, p := range u.updates {
		if len(out) == 0 || out[len(out)-1] != p.Phase {
			out = append(out, p.Phase)
		}
	}
	return out
}

func (u *updateLog) last() rag.IngestProgressUpdate {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.updates[len(u.updates)-1]
}

func newSession(overrides rag.SessionConfig) *session.Session {
	m := session.NewManager(rag.DefaultSessionConfig(), zap.NewNop())
	return m.Create(overrides)
}

func TestIngestHappyPath(t *testing.T) {
	// E1 fixture: FixedSize(10, 5) over 24 chars yields 4 chunks
	sess := newSession(rag.SessionConfig{ChunkSize: 10, ChunkOverlap: 5})
	in := NewIngestor(&stubEmbedder{}, zap.NewNop())
	log := &updateLog{}

	err := in.Ingest(context.Background(), sess, "a.txt",
		"AAAA_BBBB_CCCC_DDDD_EEEE", rag.ChunkFixedSize, log.sink)
	require.NoError(t, err)

	assert.Equal(t,
		[]string{rag.PhaseStarting, rag.PhaseChunking, rag.PhaseEmbedding, rag.PhaseIndexing, rag.PhaseComplete},
		log.phases())

	last := log.last()
	assert.Equal(t, rag.PhaseComplete, last.Phase)
	assert.InDelta(t, 100, last.PercentComplete, 1e-9)

	assert.Equal(t, 1, sess.DocumentCount())
	assert.GreaterOrEqual(t, sess.Index.Size(), 4)

	stats := sess.Stats()
	assert.Equal(t, 1, stats.DocumentCount)
	assert.GreaterOrEqual(t, stats.ChunkCount, 4)
}

func TestIngestEmbeddingProgressInterpolates(t *testing.T) {
	sess := newSession(rag.SessionConfig{ChunkSize: 10, ChunkOverlap: 0})
	in := NewIngestor(&stubEmbedder{}, zap.NewNop())
	log := &updateLog{}

	err := in.Ingest(context.Background(), sess, "a.txt",
		strings.Repeat("0123456789", 6), rag.ChunkFixedSize, log.sink)
	require.NoError(t, err)

	var max float64
	var percents []float64
	log.mu.Lock()
	for _, p := range log.updates {
		if p.Phase == rag.PhaseEmbedding {
			percents = append(percents, p.PercentComplete)
			assert.GreaterOrEqual(t, p.PercentComplete, 30.0)
			assert.LessOrEqual(t, p.PercentComplete, 80.0)
			if p.PercentComplete > max {
				max = p.PercentComplete
			}
		}
	}
	log.mu.Unlock()
	// checkpoint at 30 plus one update per chunk
	require.Len(t, percents, 7)
	assert.InDelta(t, 30, percents[0], 1e-9)
	assert.InDelta(t, 80, max, 1e-9)
}

func TestIngestEmbeddingStartsAtThirtyPercent(t *testing.T) {
	// single-chunk document: the 30% checkpoint precedes the 80% update
	sess := newSession(rag.SessionConfig{ChunkSize: 100, ChunkOverlap: 0})
	in := NewIngestor(&stubEmbedder{}, zap.NewNop())
	log := &updateLog{}

	require.NoError(t, in.Ingest(context.Background(), sess, "a.txt",
		strings.Repeat("x", 100), rag.ChunkFixedSize, log.sink))

	var percents []float64
	log.mu.Lock()
	for _, p := range log.updates {
		if p.Phase == rag.PhaseEmbedding {
			percents = append(percents, p.PercentComplete)
		}
	}
	log.mu.Unlock()
	assert.Equal(t, []float64{30, 80}, percents)
}

func TestIngestDocumentLimit(t *testing.T) {
	// E4: third ingest on a two-document session is rejected
	sess := newSession(rag.SessionConfig{MaxDocuments: 2, ChunkSize: 10, ChunkOverlap: 0})
	in := NewIngestor(&stubEmbedder{}, zap.NewNop())

	for i := 0; i < 2; i++ {
		log := &updateLog{}
		require.NoError(t, in.Ingest(context.Background(), sess, "doc.txt",
			"0123456789abcdefghij", rag.ChunkFixedSize, log.sink))
	}

	log := &updateLog{}
	err := in.Ingest(context.Background(), sess, "third.txt",
		"0123456789", rag.ChunkFixedSize, log.sink)
	require.ErrorIs(t, err, ErrValidation)

	last := log.last()
	assert.Equal(t, rag.PhaseError, last.Phase)
	assert.Contains(t, last.Message, "document limit reached")
	assert.Equal(t, 2, sess.DocumentCount())
}

func TestIngestFileTooLarge(t *testing.T) {
	// E5: 150 KiB against a 100 KiB cap
	sess := newSession(rag.SessionConfig{})
	in := NewIngestor(&stubEmbedder{}, zap.NewNop())
	log := &updateLog{}

	err := in.Ingest(context.Background(), sess, "big.txt",
		strings.Repeat("x", 150*1024), rag.ChunkFixedSize, log.sink)
	require.ErrorIs(t, err, ErrValidation)

	last := log.last()
	assert.Equal(t, rag.PhaseError, last.Phase)
	assert.Equal(t, "File too large (150KB). Maximum: 100KB", last.Message)
	assert.Equal(t, 0, sess.DocumentCount())
}

func TestIngestCancellation(t *testing.T) {
	// E9: cancel mid-flight, session stays usable
	sess := newSession(rag.SessionConfig{ChunkSize: 100, ChunkOverlap: 0})
	emb := &stubEmbedder{delay: 10 * time.Millisecond}
	in := NewIngestor(emb, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	log := &updateLog{}
	sink := func(p rag.IngestProgressUpdate) {
		log.sink(p)
		if p.Phase == rag.PhaseChunking {
			cancel()
		}
	}

	err := in.Ingest(ctx, sess, "big.txt",
		strings.Repeat("words and more words. ", 2000), rag.ChunkFixedSize, sink)
	require.ErrorIs(t, err, ErrCancelled)

	last := log.last()
	assert.Equal(t, rag.PhaseError, last.Phase)
	assert.Contains(t, last.Message, "cancelled")
	assert.Equal(t, 0, sess.DocumentCount())
}

func TestIngestSkipsFailedChunks(t *testing.T) {
	sess := newSession(rag.SessionConfig{ChunkSize: 10, ChunkOverlap: 0})
	emb := &stubEmbedder{failFor: map[string]bool{"aaaaaaaaaa": true}}
	in := NewIngestor(emb, zap.NewNop())
	log := &updateLog{}

	err := in.Ingest(context.Background(), sess, "a.txt",
		"aaaaaaaaaa"+"bbbbbbbbbb"+"cccccccccc", rag.ChunkFixedSize, log.sink)
	require.NoError(t, err)

	assert.Equal(t, 2, sess.Index.Size())
	assert.Equal(t, 1, sess.DocumentCount())
	assert.Equal(t, rag.PhaseComplete, log.last().Phase)
}

func TestIngestAllChunksFail(t *testing.T) {
	sess := newSession(rag.SessionConfig{ChunkSize: 10, ChunkOverlap: 0})
	in := NewIngestor(&stubEmbedder{failAll: true}, zap.NewNop())
	log := &updateLog{}

	err := in.Ingest(context.Background(), sess, "a.txt",
		"aaaaaaaaaabbbbbbbbbb", rag.ChunkFixedSize, log.sink)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrCancelled)

	assert.Equal(t, rag.PhaseError, log.last().Phase)
	assert.Equal(t, 0, sess.DocumentCount())
	assert.Equal(t, 0, sess.Index.Size())
}

func TestIngestInvalidStrategyFallsBack(t *testing.T) {
	sess := newSession(rag.SessionConfig{ChunkSize: 10, ChunkOverlap: 0})
	in := NewIngestor(&stubEmbedder{}, zap.NewNop())
	log := &updateLog{}

	err := in.Ingest(context.Background(), sess, "a.txt",
		"0123456789abcdefghij", rag.ChunkingStrategy("bogus"), log.sink)
	require.NoError(t, err)
	assert.Equal(t, 2, sess.Index.Size())
}

func TestIngestAccumulatesMetrics(t *testing.T) {
	sess := newSession(rag.SessionConfig{ChunkSize: 10, ChunkOverlap: 0})
	in := NewIngestor(&stubEmbedder{}, zap.NewNop())
	log := &updateLog{}

	require.NoError(t, in.Ingest(context.Background(), sess, "a.txt",
		"0123456789abcdefghij", rag.ChunkFixedSize, log.sink))

	m := sess.Metrics()
	assert.Equal(t, 2, m.TotalChunks)
	assert.GreaterOrEqual(t, m.TotalTimeMs, int64(0))
}
