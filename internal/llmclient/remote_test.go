// File: internal/llmclient/remote_test.go
package llmclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/AGmitmanipal/MINDMESH/api/schemas"
	"github.com/AGmitmanipal/MINDMESH/internal/config"
)

func remoteConfig(endpoint string) config.RemoteConfig {
	return config.RemoteConfig{
		ModelPattern: "gemini-",
		Model:        "gemini-2.5-flash",
		Endpoint:     endpoint,
		APIKey:       "test-key",
		Timeout:      5 * time.Second,
		MaxTokens:    1024,
	}
}

func candidateResponse(text string) remoteResponsePayload {
	var resp remoteResponsePayload
	resp.Candidates = []struct {
		Content      remoteContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	}{
		{Content: remoteContent{Parts: []remotePart{{Text: text}}, Role: "model"}, FinishReason: "STOP"},
	}
	return resp
}

func TestNewRemoteBackendRequiresCredential(t *testing.T) {
	_, err := NewRemoteBackend(config.RemoteConfig{Model: "gemini-2.5-flash"}, zaptest.NewLogger(t))
	assert.ErrorIs(t, err, schemas.ErrMissingCredential)
}

func TestRemoteInfer(t *testing.T) {
	var captured remoteRequestPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.Header.Get("x-goog-api-key"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		json.NewEncoder(w).Encode(candidateResponse(`{"done": true, "reason": "ok"}`))
	}))
	defer srv.Close()

	c, err := NewRemoteBackend(remoteConfig(srv.URL), zaptest.NewLogger(t))
	require.NoError(t, err)

	out, err := c.Infer(context.Background(), schemas.InferenceRequest{
		Goal:            "summarize the page",
		Step:            2,
		ModelPreference: "gemini-2.5-flash",
	})
	require.NoError(t, err)
	assert.Equal(t, `{"done": true, "reason": "ok"}`, out)

	require.Len(t, captured.Contents, 1)
	assert.Equal(t, "user", captured.Contents[0].Role)
	assert.Contains(t, captured.Contents[0].Parts[0].Text, `"goal":"summarize the page"`)
	require.NotNil(t, captured.SystemInstruction)
	assert.Equal(t, systemInstruction, captured.SystemInstruction.Parts[0].Text)
	assert.Zero(t, captured.GenerationConfig.Temperature)
	assert.Equal(t, "application/json", captured.GenerationConfig.ResponseMimeType)
	assert.Equal(t, 1024, captured.GenerationConfig.MaxOutputTokens)
}

func TestRemoteInferFailures(t *testing.T) {
	t.Run("transient status fails after a single attempt", func(t *testing.T) {
		// The stage issues exactly one request; the chain's deterministic
		// floor is the recovery path, not a retry loop here.
		var attempts atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			attempts.Add(1)
			http.Error(w, "rate limited", http.StatusTooManyRequests)
		}))
		defer srv.Close()

		c, err := NewRemoteBackend(remoteConfig(srv.URL), zaptest.NewLogger(t))
		require.NoError(t, err)

		_, err = c.Infer(context.Background(), schemas.InferenceRequest{Goal: "anything"})
		require.Error(t, err)
		var berr *schemas.BackendError
		require.ErrorAs(t, err, &berr)
		assert.Equal(t, http.StatusTooManyRequests, berr.Status)
		assert.Equal(t, int32(1), attempts.Load())
	})

	t.Run("client error fails after a single attempt", func(t *testing.T) {
		var attempts atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			attempts.Add(1)
			http.Error(w, "bad request", http.StatusBadRequest)
		}))
		defer srv.Close()

		c, err := NewRemoteBackend(remoteConfig(srv.URL), zaptest.NewLogger(t))
		require.NoError(t, err)

		_, err = c.Infer(context.Background(), schemas.InferenceRequest{Goal: "anything"})
		require.Error(t, err)
		var berr *schemas.BackendError
		require.ErrorAs(t, err, &berr)
		assert.Equal(t, http.StatusBadRequest, berr.Status)
		assert.Equal(t, int32(1), attempts.Load())
	})

	t.Run("empty candidate list", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(remoteResponsePayload{})
		}))
		defer srv.Close()

		c, err := NewRemoteBackend(remoteConfig(srv.URL), zaptest.NewLogger(t))
		require.NoError(t, err)

		_, err = c.Infer(context.Background(), schemas.InferenceRequest{Goal: "anything"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no candidates")
	})

	t.Run("unreachable endpoint", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		srv.Close()

		c, err := NewRemoteBackend(remoteConfig(srv.URL), zaptest.NewLogger(t))
		require.NoError(t, err)

		_, err = c.Infer(context.Background(), schemas.InferenceRequest{Goal: "anything"})
		assert.ErrorIs(t, err, schemas.ErrBackendUnavailable)
	})
}
