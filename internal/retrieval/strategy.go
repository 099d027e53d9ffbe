// Package retrieval implements the query-side strategies: direct search,
// query expansion, and hypothetical-document retrieval.
package retrieval

import (
	"context"

	"go.uber.org/zap"

	"github.com/quillframe/ragcore/internal/provider"
	"github.com/quillframe/ragcore/internal/rag"
	"github.com/quillframe/ragcore/internal/session"
)

// Embedder is the single-text embedding operation strategies consume.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Generator produces a complete text for a prompt. *provider.Client
// satisfies it.
type Generator interface {
	GenerateText(ctx context.Context, prompt string, opts provider.GenerateOptions) (string, provider.Usage, error)
}

// Strategy retrieves relevant chunks from a session's index for a query.
type Strategy interface {
	Name() rag.RetrievalStrategy
	Retrieve(ctx context.Context, sess *session.Session, query string, topK int) ([]rag.RetrievalResult, error)
}

// New selects a strategy implementation by name. Unknown names fall back
// to direct retrieval.
func New(name rag.RetrievalStrategy, embedder Embedder, generator Generator, logger *zap.Logger) Strategy {
	switch name {
	case rag.StrategyQueryExpansion:
		return &queryExpansion{embedder: embedder, log: logger}
	case rag.StrategyHypothetical:
		return &hypotheticalDocument{
			embedder:  embedder,
			generator: generator,
			fallback:  &direct{embedder: embedder, log: logger},
			log:       logger,
		}
	default:
		return &direct{embedder: embedder, log: logger}
	}
}
