package rag

import "time"

// RetrievalStrategy selects how a query is matched against the index.
type RetrievalStrategy string

const (
	StrategyDirect         RetrievalStrategy = "direct"
	StrategyQueryExpansion RetrievalStrategy = "query_expansion"
	StrategyHypothetical   RetrievalStrategy = "hypothetical_document"
)

// Valid reports whether s names a known strategy.
func (s RetrievalStrategy) Valid() bool {
	switch s {
	case StrategyDirect, StrategyQueryExpansion, StrategyHypothetical:
		return true
	}
	return false
}

// ChunkingStrategy selects how documents are split into chunks.
type ChunkingStrategy string

const (
	ChunkFixedSize ChunkingStrategy = "fixed_size"
	ChunkSentence  ChunkingStrategy = "sentence"
	ChunkParagraph ChunkingStrategy = "paragraph"
)

// Valid reports whether c names a known chunking strategy.
func (c ChunkingStrategy) Valid() bool {
	switch c {
	case ChunkFixedSize, ChunkSentence, ChunkParagraph:
		return true
	}
	return false
}

// SessionConfig is fixed at session creation and never mutated afterwards.
type SessionConfig struct {
	SessionTTL              time.Duration     `json:"sessionTtl"`
	MaxDocuments            int               `json:"maxDocuments"`
	MaxFileSizeBytes        int               `json:"maxFileSizeBytes"`
	ChunkSize               int               `json:"chunkSize"`
	ChunkOverlap            int               `json:"chunkOverlap"`
	TopK                    int               `json:"topK"`
	MinSimilarityScore      float32           `json:"minSimilarityScore"`
	DefaultStrategy         RetrievalStrategy `json:"defaultStrategy"`
	DefaultChunkingStrategy ChunkingStrategy  `json:"defaultChunkingStrategy"`
	MaxConcurrentEmbeddings int               `json:"maxConcurrentEmbeddings"`
}

// Merge overlays non-zero fields of o on top of c. ChunkOverlap is taken
// from o whenever o sets a chunk size, so a caller can request zero overlap.
func (c SessionConfig) Merge(o SessionConfig) SessionConfig {
	out := c
	if o.SessionTTL > 0 {
		out.SessionTTL = o.SessionTTL
	}
	if o.MaxDocuments > 0 {
		out.MaxDocuments = o.MaxDocuments
	}
	if o.MaxFileSizeBytes > 0 {
		out.MaxFileSizeBytes = o.MaxFileSizeBytes
	}
	if o.ChunkSize > 0 {
		out.ChunkSize = o.ChunkSize
		out.ChunkOverlap = o.ChunkOverlap
	}
	if o.TopK > 0 {
		out.TopK = o.TopK
	}
	if o.MinSimilarityScore > 0 {
		out.MinSimilarityScore = o.MinSimilarityScore
	}
	if o.DefaultStrategy.Valid() {
		out.DefaultStrategy = o.DefaultStrategy
	}
	if o.DefaultChunkingStrategy.Valid() {
		out.DefaultChunkingStrategy = o.DefaultChunkingStrategy
	}
	if o.MaxConcurrentEmbeddings > 0 {
		out.MaxConcurrentEmbeddings = o.MaxConcurrentEmbeddings
	}
	return out
}

// DefaultSessionConfig returns the documented defaults.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		SessionTTL:              15 * time.Minute,
		MaxDocuments:            2,
		MaxFileSizeBytes:        100 * 1024,
		ChunkSize:               512,
		ChunkOverlap:            50,
		TopK:                    5,
		MinSimilarityScore:      0.3,
		DefaultStrategy:         StrategyDirect,
		DefaultChunkingStrategy: ChunkFixedSize,
		MaxConcurrentEmbeddings: 5,
	}
}
