// File: internal/llmclient/factory.go
package llmclient

import (
	"errors"

	"go.uber.org/zap"

	"github.com/AGmitmanipal/MINDMESH/api/schemas"
	"github.com/AGmitmanipal/MINDMESH/internal/config"
)

// Backends bundles the two inference strategies the resolution chain draws
// from. Remote is nil when no credential is configured; the resolver reports
// that explicitly if the remote path is ever exercised.
type Backends struct {
	OnDevice schemas.InferenceBackend
	Remote   schemas.InferenceBackend
}

// NewBackends constructs both backends from configuration. A missing remote
// credential is not a startup failure: the remote path is a conditional
// fallback, so its absence only matters when the fallback is selected.
func NewBackends(cfg config.LLMConfig, logger *zap.Logger) (*Backends, error) {
	b := &Backends{
		OnDevice: NewOnDeviceBackend(cfg.OnDevice, logger),
	}

	remote, err := NewRemoteBackend(cfg.Remote, logger)
	switch {
	case err == nil:
		b.Remote = remote
	case errors.Is(err, schemas.ErrMissingCredential):
		logger.Info("Remote backend credential not configured; remote fallback disabled")
	default:
		return nil, err
	}

	return b, nil
}
