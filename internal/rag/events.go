package rag

// Ingestion progress phases, emitted in order during document processing.
const (
	PhaseStarting  = "Starting"
	PhaseChunking  = "Chunking"
	PhaseEmbedding = "Embedding"
	PhaseIndexing  = "Indexing"
	PhaseComplete  = "Complete"
	PhaseError     = "Error"
)

// IngestTotalSteps is the number of pipeline stages reported to clients.
const IngestTotalSteps = 4

// IngestProgressUpdate reports pipeline progress for one document.
type IngestProgressUpdate struct {
	Phase           string  `json:"phase"`
	CurrentStep     int     `json:"currentStep"`
	TotalSteps      int     `json:"totalSteps"`
	Message         string  `json:"message"`
	PercentComplete float64 `json:"percentComplete"`
}

// Query event types, in the order they may appear on a query stream.
const (
	EventRetrieval  = "retrieval"
	EventGeneration = "generation"
	EventCitation   = "citation"
	EventDone       = "done"
	EventError      = "error"
)

// QueryEvent is the tagged union streamed in response to a query. Exactly one
// of the optional fields is populated depending on Type.
type QueryEvent struct {
	Type            string            `json:"type"`
	Content         string            `json:"content,omitempty"`
	RetrievedChunks []RetrievalResult `json:"retrievedChunks,omitempty"`
	Citation        *Citation         `json:"citation,omitempty"`
	Metrics         *Metrics          `json:"metrics,omitempty"`
}

// ProgressSink receives ingestion progress updates. The pipeline pushes
// updates into a sink; the orchestrator bridges the sink to the outbound
// event stream.
type ProgressSink func(IngestProgressUpdate)
