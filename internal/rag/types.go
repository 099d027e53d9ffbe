// Package rag defines the shared data model for the retrieval-augmented
// generation engine: documents, chunks, retrieval results, per-query metrics
// and the event types streamed to clients.
package rag

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// Document is an uploaded text document owned by a session. Immutable after
// creation; CharCount always equals len(Content).
type Document struct {
	ID         string    `json:"id"`
	FileName   string    `json:"fileName"`
	Content    string    `json:"content"`
	CharCount  int       `json:"charCount"`
	UploadedAt time.Time `json:"uploadedAt"`
}

// NewDocument builds a Document with a freshly generated ID.
func NewDocument(fileName, content string) Document {
	return Document{
		ID:         NewDocumentID(),
		FileName:   fileName,
		Content:    content,
		CharCount:  len(content),
		UploadedAt: time.Now(),
	}
}

// NewDocumentID returns a 16-hex-char opaque identifier.
func NewDocumentID() string {
	var b [8]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

// Chunk is a contiguous span of a document's content. StartIndex/EndIndex are
// half-open offsets into the owning document; ChunkIndex is a per-document
// 0-based sequence.
type Chunk struct {
	ID           string `json:"id"`
	DocumentID   string `json:"documentId"`
	DocumentName string `json:"documentName"`
	Content      string `json:"content"`
	StartIndex   int    `json:"startIndex"`
	EndIndex     int    `json:"endIndex"`
	ChunkIndex   int    `json:"chunkIndex"`
}

// ChunkID derives the canonical chunk identifier for a document position.
func ChunkID(documentID string, chunkIndex int) string {
	return fmt.Sprintf("%s_chunk_%d", documentID, chunkIndex)
}

// EmbeddedChunk pairs a chunk with its embedding vector. All embeddings in a
// session share the same dimension.
type EmbeddedChunk struct {
	Chunk     Chunk     `json:"chunk"`
	Embedding []float32 `json:"embedding"`
}

// RetrievalResult is a scored chunk returned by a retrieval strategy.
// Rank starts at 1 for the highest-scoring result.
type RetrievalResult struct {
	Chunk           Chunk   `json:"chunk"`
	SimilarityScore float32 `json:"similarityScore"`
	Rank            int     `json:"rank"`
}

// Citation points a generated answer back at a source chunk.
type Citation struct {
	DocumentName   string  `json:"documentName"`
	ChunkPreview   string  `json:"chunkPreview"`
	RelevanceScore float32 `json:"relevanceScore"`
	ChunkIndex     int     `json:"chunkIndex"`
}

// ChunkPreviewLimit caps citation previews.
const ChunkPreviewLimit = 200

// Preview truncates content to ChunkPreviewLimit characters, appending an
// ellipsis when truncated.
func Preview(content string) string {
	if len(content) <= ChunkPreviewLimit {
		return content
	}
	return content[:ChunkPreviewLimit] + "..."
}

// Metrics captures timing and counting data for a single query or ingestion.
// Session-level metrics accumulate these across operations.
type Metrics struct {
	ChunkingTimeMs      int64 `json:"chunkingTimeMs"`
	EmbeddingTimeMs     int64 `json:"embeddingTimeMs"`
	RetrievalTimeMs     int64 `json:"retrievalTimeMs"`
	GenerationTimeMs    int64 `json:"generationTimeMs"`
	TotalTimeMs         int64 `json:"totalTimeMs"`
	TotalChunks         int   `json:"totalChunks"`
	ChunksRetrieved     int   `json:"chunksRetrieved"`
	EmbeddingCacheHits  int64 `json:"embeddingCacheHits"`
	EmbeddingCacheMisses int64 `json:"embeddingCacheMisses"`
	TotalTokensUsed     int   `json:"totalTokensUsed"`
	MemoryUsedBytes     uint64 `json:"memoryUsedBytes"`
}

// Accumulate folds a per-operation metrics snapshot into the receiver.
func (m *Metrics) Accumulate(q Metrics) {
	m.ChunkingTimeMs += q.ChunkingTimeMs
	m.EmbeddingTimeMs += q.EmbeddingTimeMs
	m.RetrievalTimeMs += q.RetrievalTimeMs
	m.GenerationTimeMs += q.GenerationTimeMs
	m.TotalTimeMs += q.TotalTimeMs
	m.TotalChunks += q.TotalChunks
	m.ChunksRetrieved += q.ChunksRetrieved
	m.EmbeddingCacheHits += q.EmbeddingCacheHits
	m.EmbeddingCacheMisses += q.EmbeddingCacheMisses
	m.TotalTokensUsed += q.TotalTokensUsed
}
