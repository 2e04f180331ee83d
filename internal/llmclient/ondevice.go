// File: internal/llmclient/ondevice.go
package llmclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/AGmitmanipal/MINDMESH/api/schemas"
	"github.com/AGmitmanipal/MINDMESH/internal/config"
)

// OnDeviceBackend runs generation against a local inference server. The
// server holds at most one loaded pipeline at a time: loading a different
// model evicts the previous one. First loads are deduplicated through a
// singleflight group so concurrent callers share one load instead of racing.
//
// Generation is greedy (temperature 0) so the same planning request yields
// the same output.
type OnDeviceBackend struct {
	cfg        config.OnDeviceConfig
	httpClient *http.Client
	logger     *zap.Logger

	mu          sync.Mutex
	loadedModel string
	loadGroup   singleflight.Group
}

var _ schemas.InferenceBackend = (*OnDeviceBackend)(nil)

// NewOnDeviceBackend builds the backend. No connection is made until the
// first Infer call; model loading is lazy.
func NewOnDeviceBackend(cfg config.OnDeviceConfig, logger *zap.Logger) *OnDeviceBackend {
	return &OnDeviceBackend{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger.Named("llm_client.ondevice"),
	}
}

// -- Local inference API payloads --

type generateRequest struct {
	Model   string          `json:"model"`
	System  string          `json:"system,omitempty"`
	Prompt  string          `json:"prompt"`
	Stream  bool            `json:"stream"`
	Format  string          `json:"format,omitempty"`
	Options generateOptions `json:"options,omitempty"`
}

type generateOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// Infer ensures a pipeline is loaded and runs one greedy generation. The
// preferred model comes from the request when set, otherwise configuration;
// if it fails to load, the fixed default model is retried once before the
// failure propagates.
func (b *OnDeviceBackend) Infer(ctx context.Context, req schemas.InferenceRequest) (string, error) {
	model := req.ModelPreference
	if model == "" {
		model = b.cfg.Model
	}

	loaded, err := b.ensureLoaded(ctx, model)
	if err != nil {
		if model == b.cfg.DefaultModel || b.cfg.DefaultModel == "" {
			return "", err
		}
		b.logger.Warn("Preferred pipeline failed to load, retrying default model",
			zap.String("model", model),
			zap.String("default_model", b.cfg.DefaultModel),
			zap.Error(err))
		loaded, err = b.ensureLoaded(ctx, b.cfg.DefaultModel)
		if err != nil {
			return "", err
		}
	}

	userPayload, err := buildUserPayload(req)
	if err != nil {
		return "", err
	}

	return b.generate(ctx, loaded, userPayload)
}

// ensureLoaded makes sure the named pipeline is resident, evicting any other
// loaded model. Single-flight per model name so a burst of first calls issues
// one load request.
func (b *OnDeviceBackend) ensureLoaded(ctx context.Context, model string) (string, error) {
	b.mu.Lock()
	if b.loadedModel == model {
		b.mu.Unlock()
		return model, nil
	}
	b.mu.Unlock()

	_, err, _ := b.loadGroup.Do(model, func() (interface{}, error) {
		// An empty prompt instructs the server to load the model without
		// generating anything.
		body, mErr := json.Marshal(generateRequest{Model: model, Prompt: "", Stream: false})
		if mErr != nil {
			return nil, mErr
		}
		if _, dErr := b.post(ctx, body); dErr != nil {
			return nil, dErr
		}

		b.mu.Lock()
		if b.loadedModel != "" && b.loadedModel != model {
			b.logger.Info("Replacing loaded pipeline",
				zap.String("evicted", b.loadedModel), zap.String("loaded", model))
		}
		b.loadedModel = model
		b.mu.Unlock()
		return nil, nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: loading model %q: %v", schemas.ErrBackendUnavailable, model, err)
	}
	return model, nil
}

func (b *OnDeviceBackend) generate(ctx context.Context, model, userPayload string) (string, error) {
	body, err := json.Marshal(generateRequest{
		Model:  model,
		System: systemInstruction,
		Prompt: userPayload,
		Stream: false,
		Format: "json",
		Options: generateOptions{
			Temperature: 0, // Greedy decode for reproducibility.
			NumPredict:  b.cfg.MaxTokens,
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal generation request: %w", err)
	}

	respBody, err := b.post(ctx, body)
	if err != nil {
		return "", err
	}

	var resp generateResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return "", fmt.Errorf("failed to decode generation response: %w", err)
	}
	if strings.TrimSpace(resp.Response) == "" {
		return "", &schemas.BackendError{Backend: "ondevice", Status: http.StatusOK, Body: "empty generation"}
	}
	return resp.Response, nil
}

func (b *OnDeviceBackend) post(ctx context.Context, body []byte) ([]byte, error) {
	endpoint := strings.TrimRight(b.cfg.Endpoint, "/") + "/api/generate"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := b.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", schemas.ErrBackendUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &schemas.BackendError{Backend: "ondevice", Status: resp.StatusCode, Body: truncate(string(respBody), 200)}
	}
	return respBody, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
