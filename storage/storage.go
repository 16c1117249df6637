package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/eddielth/vmstats-trans/logger"
	"github.com/eddielth/vmstats-trans/transformer"
	"go.uber.org/multierr"
)

// StorageBackend is a sink for transformed device stats.
type StorageBackend interface {
	// Name identifies the backend in logs.
	Name() string
	// Store persists one transform result.
	Store(ctx context.Context, res transformer.Result) error
	// Close releases the backend's connections.
	Close() error
}

// Manager fans results out to several backends.
type Manager struct {
	backends []StorageBackend
	log      *logger.Logger
	mutex    sync.RWMutex
}

// NewManager creates a storage manager.
func NewManager(log *logger.Logger, backends ...StorageBackend) *Manager {
	return &Manager{
		backends: backends,
		log:      log,
	}
}

// Store writes res to every backend. A failing backend does not stop the
// others; all failures are logged and returned combined.
func (m *Manager) Store(ctx context.Context, res transformer.Result) error {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	var errs error
	for _, backend := range m.backends {
		if err := backend.Store(ctx, res); err != nil {
			m.log.Error("Failed to store %s to %s: %v", res.Stats.Name, backend.Name(), err)
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", backend.Name(), err))
		}
	}
	return errs
}

// Close closes all backends.
func (m *Manager) Close() error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	var errs error
	for _, backend := range m.backends {
		if err := backend.Close(); err != nil {
			m.log.Error("Failed to close %s: %v", backend.Name(), err)
			errs = multierr.Append(errs, err)
		}
	}
	m.backends = nil
	return errs
}

// AddBackend registers another backend.
func (m *Manager) AddBackend(backend StorageBackend) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.backends = append(m.backends, backend)
}

// Len returns the number of registered backends.
func (m *Manager) Len() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.backends)
}
