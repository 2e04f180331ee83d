// File: api/schemas/interfaces.go
package schemas

import (
	"context"
	"time"
)

// -- Collaborator Interfaces --
//
// The run core depends on its privileged host environment (browser, storage,
// embedding service) only through these narrow interfaces, which keeps the
// state machine unit-testable with fakes.

// Storage is the persistence collaborator. Memory nodes and embeddings are
// write-once; settings are read-only from the core's perspective.
//
//go:generate mockery --name Storage --output ../../internal/mocks --outpkg mocks
type Storage interface {
	// GetAgentSettings returns the per-installation agent configuration.
	GetAgentSettings(ctx context.Context) (AgentSettings, error)
	// AddAgentLog appends one structured log row for a run.
	AddAgentLog(ctx context.Context, entry AgentLogEntry) error
	// AddMemoryNode persists the memory record for one step.
	AddMemoryNode(ctx context.Context, node MemoryRecord) error
	// StoreEmbedding attaches an embedding vector to a stored memory node.
	StoreEmbedding(ctx context.Context, nodeID string, emb Embedding) error
	// GetMemoryNodes returns a run's memory records in step order.
	GetMemoryNodes(ctx context.Context, runID string) ([]MemoryRecord, error)
}

// BrowserControl is the browser-tab collaborator. Timeouts and per-action
// retries are its responsibility; the core treats each call as a black box
// returning success or failure.
//
//go:generate mockery --name BrowserControl --output ../../internal/mocks --outpkg mocks
type BrowserControl interface {
	// EnsureTab resolves a tab to operate on, preferring the given id and
	// falling back to the provided fallback id or a fresh tab.
	EnsureTab(ctx context.Context, preferred, fallback int) (int, error)
	// Navigate points the tab at a URL, waiting up to timeout for load.
	Navigate(ctx context.Context, tabID int, url string, timeout time.Duration) error
	// ExtractSnapshot captures the tab's current DOM state.
	ExtractSnapshot(ctx context.Context, tabID int, timeout time.Duration) (*DomSnapshot, error)
}

// Embedder is the keyword/embedding collaborator. The core never computes
// embeddings itself; it only forwards snapshot text here.
type Embedder interface {
	ExtractKeywords(text, title string) []string
	GenerateEmbedding(ctx context.Context, text, title string, keywords []string) (Embedding, error)
}

// InferenceBackend turns a planning request into raw planner output text.
// Implementations return ErrBackendUnavailable when the backend cannot be
// reached or loaded, and *BackendError for request-level failures; callers own
// JSON extraction and validation of the returned text.
type InferenceBackend interface {
	Infer(ctx context.Context, req InferenceRequest) (string, error)
}
