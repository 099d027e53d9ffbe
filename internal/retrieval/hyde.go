package retrieval

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/quillframe/ragcore/internal/provider"
	"github.com/quillframe/ragcore/internal/rag"
	"github.com/quillframe/ragcore/internal/session"
)

// Generation settings for the hypothetical answer. Low temperature keeps
// the hypothesis close to the question's vocabulary.
const (
	hydeTemperature = 0.3
	hydeMaxTokens   = 500
)

// hypotheticalDocument generates a hypothetical answer to the query,
// embeds that answer, and searches with the hypothesis vector. Document
// passages tend to sit closer to answers than to questions in embedding
// space. Any failure falls back to direct retrieval.
type hypotheticalDocument struct {
	embedder  Embedder
	generator Generator
	fallback  Strategy
	log       *zap.Logger
}

func (h *hypotheticalDocument) Name() rag.RetrievalStrategy { return rag.StrategyHypothetical }

func (h *hypotheticalDocument) Retrieve(ctx context.Context, sess *session.Session, query string, topK int) ([]rag.RetrievalResult, error) {
	prompt := fmt.Sprintf(
		"Write a short passage that directly answers the following question. "+
			"Write as if excerpted from a reference document. Question: %s", query)

	hypothesis, _, err := h.generator.GenerateText(ctx, prompt, provider.GenerateOptions{
		Temperature:     hydeTemperature,
		MaxOutputTokens: hydeMaxTokens,
	})
	if err != nil || hypothesis == "" {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		h.log.Warn("Hypothesis generation failed, falling back to direct retrieval",
			zap.String("session_id", sess.ID),
			zap.Error(err),
		)
		return h.fallback.Retrieve(ctx, sess, query, topK)
	}

	vec, err := h.embedder.Embed(ctx, hypothesis)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		h.log.Warn("Hypothesis embedding failed, falling back to direct retrieval",
			zap.Error(err),
		)
		return h.fallback.Retrieve(ctx, sess, query, topK)
	}

	results, err := sess.Index.Search(vec, topK, sess.Config.MinSimilarityScore)
	if err != nil {
		return h.fallback.Retrieve(ctx, sess, query, topK)
	}
	h.log.Debug("Hypothetical-document retrieval complete",
		zap.String("session_id", sess.ID),
		zap.Int("hypothesis_chars", len(hypothesis)),
		zap.Int("results", len(results)),
	)
	return results, nil
}
