package retrieval

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/quillframe/ragcore/internal/rag"
	"github.com/quillframe/ragcore/internal/session"
)

// hitBonus is added per extra query variant that surfaced the same chunk.
const hitBonus = 0.05

// queryExpansion searches with several phrasings of the query and merges
// the result sets, rewarding chunks that match more than one phrasing.
type queryExpansion struct {
	embedder Embedder
	log      *zap.Logger
}

func (q *queryExpansion) Name() rag.RetrievalStrategy { return rag.StrategyQueryExpansion }

// expandQuery renders the query templates over the trimmed query and drops
// case-insensitive duplicates, preserving template order.
func expandQuery(query string) []string {
	query = strings.TrimSpace(query)
	variants := []string{
		query,
		fmt.Sprintf("What is %s?", query),
		fmt.Sprintf("How does %s work?", query),
		fmt.Sprintf("Examples of %s", query),
	}
	seen := make(map[string]bool, len(variants))
	out := variants[:0]
	for _, v := range variants {
		k := strings.ToLower(v)
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, v)
	}
	return out
}

func (q *queryExpansion) Retrieve(ctx context.Context, sess *session.Session, query string, topK int) ([]rag.RetrievalResult, error) {
	variants := expandQuery(query)

	// search each variant wider and shallower than the final cut
	perVariantK := topK * 2
	minScore := sess.Config.MinSimilarityScore * 0.8

	resultSets := make([][]rag.RetrievalResult, len(variants))
	errs := make([]error, len(variants))

	g, gctx := errgroup.WithContext(ctx)
	for i, v := range variants {
		i, v := i, v
		g.Go(func() error {
			vec, err := q.embedder.Embed(gctx, v)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				errs[i] = err
				q.log.Warn("Query variant failed",
					zap.String("variant", v),
					zap.Error(err),
				)
				return nil
			}
			results, err := sess.Index.Search(vec, perVariantK, minScore)
			if err != nil {
				errs[i] = err
				return nil
			}
			resultSets[i] = results
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	failed := 0
	for _, err := range errs {
		if err != nil {
			failed++
		}
	}
	if failed == len(variants) {
		return nil, fmt.Errorf("retrieval: all %d query variants failed: %w", len(variants), firstErr(errs))
	}

	merged := mergeResults(resultSets)
	if len(merged) > topK {
		merged = merged[:topK]
	}
	for i := range merged {
		merged[i].Rank = i + 1
	}

	q.log.Debug("Query expansion complete",
		zap.String("session_id", sess.ID),
		zap.Int("variants", len(variants)),
		zap.Int("failed_variants", failed),
		zap.Int("results", len(merged)),
	)
	return merged, nil
}

// mergeResults combines per-variant result sets by chunk id. A chunk's
// score is its best score across variants plus hitBonus for each extra
// variant that found it. Ordering ties keep first-seen order.
func mergeResults(sets [][]rag.RetrievalResult) []rag.RetrievalResult {
	type acc struct {
		result rag.RetrievalResult
		hits   int
		order  int
	}
	byID := make(map[string]*acc)
	var ids []string

	for _, set := range sets {
		for _, r := range set {
			a, ok := byID[r.Chunk.ID]
			if !ok {
				byID[r.Chunk.ID] = &acc{result: r, hits: 1, order: len(ids)}
				ids = append(ids, r.Chunk.ID)
				continue
			}
			a.hits++
			if r.SimilarityScore > a.result.SimilarityScore {
				a.result.SimilarityScore = r.SimilarityScore
			}
		}
	}

	out := make([]rag.RetrievalResult, 0, len(ids))
	for _, id := range ids {
		a := byID[id]
		a.result.SimilarityScore += float32(a.hits-1) * hitBonus
		out = append(out, a.result)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].SimilarityScore > out[j].SimilarityScore
	})
	return out
}

func firstErr(errs []error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
