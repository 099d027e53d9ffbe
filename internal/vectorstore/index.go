package vectorstore

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/quillframe/ragcore/internal/metrics"
	"github.com/quillframe/ragcore/internal/rag"
)

// parallelThreshold is the index size at which search scoring fans out
// across goroutines.
const parallelThreshold = 100

// scoringShards is the fan-out width for parallel scoring.
const scoringShards = 4

// Index is an append-only, in-memory vector index for one session. Adds
// and searches may run concurrently; a search operates on a snapshot of
// the entries present when it started.
type Index struct {
	mu      sync.RWMutex
	entries []rag.EmbeddedChunk
	dims    int

	log *zap.Logger
}

// NewIndex creates an empty index.
func NewIndex(logger *zap.Logger) *Index {
	return &Index{log: logger}
}

// Add appends an embedded chunk. The first entry fixes the index
// dimensionality; later entries must match it.
func (ix *Index) Add(ec rag.EmbeddedChunk) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if ix.dims == 0 {
		ix.dims = len(ec.Embedding)
	} else if len(ec.Embedding) != ix.dims {
		err := &ErrDimensionMismatch{A: ix.dims, B: len(ec.Embedding)}
		ix.log.Error("Rejected embedding with wrong dimensionality",
			zap.String("chunk_id", ec.Chunk.ID),
			zap.Int("expected", ix.dims),
			zap.Int("got", len(ec.Embedding)),
		)
		return err
	}
	ix.entries = append(ix.entries, ec)
	return nil
}

// Size returns the number of indexed chunks.
func (ix *Index) Size() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.entries)
}

// Dimensions returns the index dimensionality, 0 while empty.
func (ix *Index) Dimensions() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.dims
}

// ChunkCountsByDocument returns the number of indexed chunks per document.
func (ix *Index) ChunkCountsByDocument() map[string]int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	counts := make(map[string]int)
	for _, e := range ix.entries {
		counts[e.Chunk.DocumentID]++
	}
	return counts
}

type scored struct {
	pos   int
	score float32
}

// Search scores every entry against the query vector and returns up to
// topK results with similarity at or above minScore, ordered by score
// descending. Ties keep insertion order. Ranks run 1..len(results).
func (ix *Index) Search(query []float32, topK int, minScore float32) ([]rag.RetrievalResult, error) {
	start := time.Now()

	ix.mu.RLock()
	snapshot := ix.entries
	dims := ix.dims
	ix.mu.RUnlock()

	if len(snapshot) == 0 || topK <= 0 {
		metrics.RecordVectorSearch("empty", time.Since(start).Seconds())
		return nil, nil
	}
	if len(query) != dims {
		metrics.RecordVectorSearch("error", time.Since(start).Seconds())
		return nil, &ErrDimensionMismatch{A: dims, B: len(query)}
	}

	scores := make([]scored, len(snapshot))
	var scoreErr error
	if len(snapshot) >= parallelThreshold {
		scoreErr = scoreParallel(snapshot, query, scores)
	} else {
		scoreErr = scoreRange(snapshot, query, scores, 0, len(snapshot))
	}
	if scoreErr != nil {
		metrics.RecordVectorSearch("error", time.Since(start).Seconds())
		return nil, scoreErr
	}

	kept := scores[:0]
	for _, s := range scores {
		if s.score >= minScore {
			kept = append(kept, s)
		}
	}

	sort.SliceStable(kept, func(i, j int) bool { return kept[i].score > kept[j].score })
	if len(kept) > topK {
		kept = kept[:topK]
	}

	results := make([]rag.RetrievalResult, len(kept))
	for i, s := range kept {
		results[i] = rag.RetrievalResult{
			Chunk:           snapshot[s.pos].Chunk,
			SimilarityScore: s.score,
			Rank:            i + 1,
		}
	}

	metrics.RecordVectorSearch("ok", time.Since(start).Seconds())
	return results, nil
}

func scoreRange(entries []rag.EmbeddedChunk, query []float32, out []scored, lo, hi int) error {
	for i := lo; i < hi; i++ {
		score, err := CosineSimilarity(query, entries[i].Embedding)
		if err != nil {
			return err
		}
		out[i] = scored{pos: i, score: score}
	}
	return nil
}

func scoreParallel(entries []rag.EmbeddedChunk, query []float32, out []scored) error {
	var wg sync.WaitGroup
	errs := make([]error, scoringShards)

	stride := (len(entries) + scoringShards - 1) / scoringShards
	for s := 0; s < scoringShards; s++ {
		lo := s * stride
		hi := lo + stride
		if lo >= len(entries) {
			break
		}
		if hi > len(entries) {
			hi = len(entries)
		}
		wg.Add(1)
		go func(s, lo, hi int) {
			defer wg.Done()
			errs[s] = scoreRange(entries, query, out, lo, hi)
		}(s, lo, hi)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
