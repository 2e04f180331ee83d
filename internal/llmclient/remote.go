// File: internal/llmclient/remote.go
package llmclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/AGmitmanipal/MINDMESH/api/schemas"
	"github.com/AGmitmanipal/MINDMESH/internal/config"
)

// RemoteBackend is the hosted-model fallback. Each Infer call issues exactly
// one generateContent request: any failure, transient or not, fails the stage
// and the resolution chain falls through to the deterministic planner. The
// API credential comes from the environment and is required at construction.
type RemoteBackend struct {
	apiKey     string
	endpoint   string
	cfg        config.RemoteConfig
	httpClient *http.Client
	logger     *zap.Logger
}

var _ schemas.InferenceBackend = (*RemoteBackend)(nil)

// NewRemoteBackend initializes the client. The endpoint defaults to the
// hosted generateContent URL for the configured model.
func NewRemoteBackend(cfg config.RemoteConfig, logger *zap.Logger) (*RemoteBackend, error) {
	if cfg.APIKey == "" {
		return nil, schemas.ErrMissingCredential
	}

	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = fmt.Sprintf("https://generativelanguage.googleapis.com/v1beta/models/%s:generateContent", cfg.Model)
	}

	return &RemoteBackend{
		apiKey:     cfg.APIKey,
		endpoint:   endpoint,
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger.Named("llm_client.remote"),
	}, nil
}

// -- Hosted API request/response structures --

type remoteContent struct {
	Parts []remotePart `json:"parts"`
	Role  string       `json:"role,omitempty"`
}

type remotePart struct {
	Text string `json:"text"`
}

type remoteGenerationConfig struct {
	Temperature      float64 `json:"temperature"`
	ResponseMimeType string  `json:"response_mime_type,omitempty"`
	MaxOutputTokens  int     `json:"maxOutputTokens,omitempty"`
}

type remoteRequestPayload struct {
	Contents          []remoteContent        `json:"contents"`
	SystemInstruction *remoteContent         `json:"system_instruction,omitempty"`
	GenerationConfig  remoteGenerationConfig `json:"generationConfig"`
}

type remoteResponsePayload struct {
	Candidates []struct {
		Content      remoteContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
}

// Infer sends the planning request to the hosted endpoint and returns the raw
// generated text. One request per call: the remote stage is itself a
// fallback, so retrying inside it would only delay the deterministic floor
// every chain resolution is guaranteed to reach.
func (c *RemoteBackend) Infer(ctx context.Context, req schemas.InferenceRequest) (string, error) {
	userPayload, err := buildUserPayload(req)
	if err != nil {
		return "", err
	}

	payload := remoteRequestPayload{
		Contents: []remoteContent{
			{Role: "user", Parts: []remotePart{{Text: userPayload}}},
		},
		SystemInstruction: &remoteContent{Parts: []remotePart{{Text: systemInstruction}}},
		GenerationConfig: remoteGenerationConfig{
			Temperature:      0,
			ResponseMimeType: "application/json",
			MaxOutputTokens:  c.cfg.MaxTokens,
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", c.apiKey)

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("%w: %v", schemas.ErrBackendUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		c.logger.Error("Remote API returned error status", zap.Int("status", resp.StatusCode))
		return "", &schemas.BackendError{Backend: "remote", Status: resp.StatusCode, Body: truncate(string(respBody), 500)}
	}

	var responsePayload remoteResponsePayload
	if err := json.Unmarshal(respBody, &responsePayload); err != nil {
		return "", fmt.Errorf("failed to decode response payload: %w", err)
	}
	if len(responsePayload.Candidates) == 0 {
		return "", fmt.Errorf("remote API returned no candidates")
	}

	candidate := responsePayload.Candidates[0]
	if len(candidate.Content.Parts) == 0 {
		return "", fmt.Errorf("remote API returned empty content parts (reason: %s)", candidate.FinishReason)
	}

	c.logger.Debug("Remote generation complete",
		zap.Duration("duration", time.Since(start)),
		zap.Int("prompt_tokens", responsePayload.UsageMetadata.PromptTokenCount),
		zap.Int("completion_tokens", responsePayload.UsageMetadata.CandidatesTokenCount),
	)

	return candidate.Content.Parts[0].Text, nil
}
