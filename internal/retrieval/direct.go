package retrieval

import (
	"context"

	"go.uber.org/zap"

	"github.com/quillframe/ragcore/internal/rag"
	"github.com/quillframe/ragcore/internal/session"
)

// direct embeds the query verbatim and searches the session index once.
type direct struct {
	embedder Embedder
	log      *zap.Logger
}

func (d *direct) Name() rag.RetrievalStrategy { return rag.StrategyDirect }

func (d *direct) Retrieve(ctx context.Context, sess *session.Session, query string, topK int) ([]rag.RetrievalResult, error) {
	vec, err := d.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	results, err := sess.Index.Search(vec, topK, sess.Config.MinSimilarityScore)
	if err != nil {
		return nil, err
	}
	d.log.Debug("Direct retrieval complete",
		zap.String("session_id", sess.ID),
		zap.Int("results", len(results)),
	)
	return results, nil
}
