// File: internal/mocks/mocks.go
package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/AGmitmanipal/MINDMESH/api/schemas"
)

// Hand-rolled testify mocks for the collaborator interfaces. Kept in one
// file; regenerate with mockery only when an interface grows enough to make
// maintenance here annoying.

// -- Storage Mock --

// MockStorage mocks schemas.Storage.
type MockStorage struct {
	mock.Mock
}

var _ schemas.Storage = (*MockStorage)(nil)

func (m *MockStorage) GetAgentSettings(ctx context.Context) (schemas.AgentSettings, error) {
	args := m.Called(ctx)
	return args.Get(0).(schemas.AgentSettings), args.Error(1)
}

func (m *MockStorage) AddAgentLog(ctx context.Context, entry schemas.AgentLogEntry) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

func (m *MockStorage) AddMemoryNode(ctx context.Context, node schemas.MemoryRecord) error {
	args := m.Called(ctx, node)
	return args.Error(0)
}

func (m *MockStorage) StoreEmbedding(ctx context.Context, nodeID string, emb schemas.Embedding) error {
	args := m.Called(ctx, nodeID, emb)
	return args.Error(0)
}

func (m *MockStorage) GetMemoryNodes(ctx context.Context, runID string) ([]schemas.MemoryRecord, error) {
	args := m.Called(ctx, runID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]schemas.MemoryRecord), args.Error(1)
}

// -- BrowserControl Mock --

// MockBrowserControl mocks schemas.BrowserControl.
type MockBrowserControl struct {
	mock.Mock
}

var _ schemas.BrowserControl = (*MockBrowserControl)(nil)

func (m *MockBrowserControl) EnsureTab(ctx context.Context, preferred, fallback int) (int, error) {
	args := m.Called(ctx, preferred, fallback)
	return args.Int(0), args.Error(1)
}

func (m *MockBrowserControl) Navigate(ctx context.Context, tabID int, url string, timeout time.Duration) error {
	args := m.Called(ctx, tabID, url, timeout)
	return args.Error(0)
}

func (m *MockBrowserControl) ExtractSnapshot(ctx context.Context, tabID int, timeout time.Duration) (*schemas.DomSnapshot, error) {
	args := m.Called(ctx, tabID, timeout)
	var snap *schemas.DomSnapshot
	if args.Get(0) != nil {
		snap = args.Get(0).(*schemas.DomSnapshot)
	}
	return snap, args.Error(1)
}

// -- Embedder Mock --

// MockEmbedder mocks schemas.Embedder.
type MockEmbedder struct {
	mock.Mock
}

var _ schemas.Embedder = (*MockEmbedder)(nil)

func (m *MockEmbedder) ExtractKeywords(text, title string) []string {
	args := m.Called(text, title)
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).([]string)
}

func (m *MockEmbedder) GenerateEmbedding(ctx context.Context, text, title string, keywords []string) (schemas.Embedding, error) {
	args := m.Called(ctx, text, title, keywords)
	return args.Get(0).(schemas.Embedding), args.Error(1)
}

// -- InferenceBackend Mock --

// MockInferenceBackend mocks schemas.InferenceBackend.
type MockInferenceBackend struct {
	mock.Mock
}

var _ schemas.InferenceBackend = (*MockInferenceBackend)(nil)

func (m *MockInferenceBackend) Infer(ctx context.Context, req schemas.InferenceRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}
