// File: internal/llmclient/embedder.go
package llmclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/AGmitmanipal/MINDMESH/api/schemas"
	"github.com/AGmitmanipal/MINDMESH/internal/config"
)

// keywordLimit caps how many keywords ExtractKeywords returns.
const keywordLimit = 10

// LocalEmbedder computes embeddings through the local inference server's
// embeddings endpoint, using the same host as the on-device generation
// backend. Keyword extraction is purely lexical and never leaves the process.
type LocalEmbedder struct {
	cfg        config.OnDeviceConfig
	httpClient *http.Client
	logger     *zap.Logger
}

var _ schemas.Embedder = (*LocalEmbedder)(nil)

// NewLocalEmbedder builds the embedder against the on-device endpoint.
func NewLocalEmbedder(cfg config.OnDeviceConfig, logger *zap.Logger) *LocalEmbedder {
	return &LocalEmbedder{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger.Named("llm_client.embedder"),
	}
}

// ExtractKeywords returns the most frequent substantive tokens of the text,
// most frequent first, ties broken by first appearance.
func (e *LocalEmbedder) ExtractKeywords(text, title string) []string {
	fields := strings.FieldsFunc(strings.ToLower(title+" "+text), func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9')
	})

	counts := make(map[string]int)
	order := make(map[string]int)
	for i, f := range fields {
		if len(f) < 4 {
			continue
		}
		if _, seen := counts[f]; !seen {
			order[f] = i
		}
		counts[f]++
	}

	keywords := make([]string, 0, len(counts))
	for w := range counts {
		keywords = append(keywords, w)
	}
	sort.Slice(keywords, func(i, j int) bool {
		if counts[keywords[i]] != counts[keywords[j]] {
			return counts[keywords[i]] > counts[keywords[j]]
		}
		return order[keywords[i]] < order[keywords[j]]
	})

	if len(keywords) > keywordLimit {
		keywords = keywords[:keywordLimit]
	}
	return keywords
}

type embeddingsRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type embeddingsResponse struct {
	Embedding []float32 `json:"embedding"`
}

// GenerateEmbedding embeds the record's text with the on-device model. The
// keywords are prepended so they weigh into the vector.
func (e *LocalEmbedder) GenerateEmbedding(ctx context.Context, text, title string, keywords []string) (schemas.Embedding, error) {
	model := e.cfg.Model
	if model == "" {
		model = e.cfg.DefaultModel
	}

	prompt := strings.TrimSpace(strings.Join(keywords, " ") + "\n" + title + "\n" + text)
	body, err := json.Marshal(embeddingsRequest{Model: model, Prompt: prompt})
	if err != nil {
		return schemas.Embedding{}, fmt.Errorf("failed to marshal embeddings request: %w", err)
	}

	endpoint := strings.TrimRight(e.cfg.Endpoint, "/") + "/api/embeddings"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return schemas.Embedding{}, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(httpReq)
	if err != nil {
		return schemas.Embedding{}, fmt.Errorf("%w: %v", schemas.ErrBackendUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return schemas.Embedding{}, fmt.Errorf("failed to read embeddings response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return schemas.Embedding{}, &schemas.BackendError{
			Backend: "ondevice",
			Status:  resp.StatusCode,
			Body:    truncate(string(respBody), 200),
		}
	}

	var out embeddingsResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return schemas.Embedding{}, fmt.Errorf("failed to decode embeddings response: %w", err)
	}
	if len(out.Embedding) == 0 {
		return schemas.Embedding{}, &schemas.BackendError{Backend: "ondevice", Status: http.StatusOK, Body: "empty embedding"}
	}

	e.logger.Debug("generated embedding", zap.String("model", model), zap.Int("dims", len(out.Embedding)))
	return schemas.Embedding{
		Vector:   out.Embedding,
		Metadata: map[string]string{"model": model},
	}, nil
}
