// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ryan1234/mule-couchbase/connectors/base"
	"github.com/ryan1234/mule-couchbase/connectors/kvconnector"
)

const defaultConnectTimeout = 30 * time.Second

var (
	ErrNotFound      = errors.New("connector not found")
	ErrAmbiguousRef  = errors.New("config-ref is required when more than one connector is registered")
	ErrNotKVStore    = errors.New("connector is not a key-value store connector")
	ErrAlreadyExists = errors.New("connector already registered")
)

// ConnectorFactory creates an unconnected connector for a configuration.
// The registry connects it with the same configuration.
type ConnectorFactory func(config *base.ConnectorConfig) (base.Connector, error)

// Registry manages all registered connectors
// Thread-safe for concurrent access
type Registry struct {
	connectors map[string]base.Connector
	configs    map[string]*base.ConnectorConfig
	factory    ConnectorFactory // Factory for lazy-loading connectors
	mu         sync.RWMutex
	logger     *zap.Logger
}

// NewRegistry creates a new connector registry
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		connectors: make(map[string]base.Connector),
		configs:    make(map[string]*base.ConnectorConfig),
		logger:     logger,
	}
}

// SetFactory sets the connector factory for lazy-loading
func (r *Registry) SetFactory(factory ConnectorFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factory = factory
	r.logger.Debug("Connector factory configured for lazy-loading")
}

// AddConfig records a configuration whose connector is created on first use.
// A factory must be set.
func (r *Registry) AddConfig(config *base.ConnectorConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.configs[config.Name]; exists {
		return fmt.Errorf("%w: '%s'", ErrAlreadyExists, config.Name)
	}
	r.configs[config.Name] = config
	r.logger.Info("Loaded connector config",
		zap.String("connector", config.Name),
		zap.String("type", config.Type))
	return nil
}

// Register connects a connector and adds it to the registry
// Returns error if a connector with the same name already exists
func (r *Registry) Register(name string, connector base.Connector, config *base.ConnectorConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.connectors[name]; exists {
		return fmt.Errorf("%w: '%s'", ErrAlreadyExists, name)
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout(config))
	defer cancel()

	if err := connector.Connect(ctx, config); err != nil {
		r.logger.Error("Failed to connect connector", zap.String("connector", name), zap.Error(err))
		return fmt.Errorf("failed to connect connector '%s': %w", name, err)
	}

	r.connectors[name] = connector
	r.configs[name] = config

	r.logger.Info("Registered connector",
		zap.String("connector", name),
		zap.String("type", connector.Type()))
	return nil
}

// Unregister removes a connector from the registry and disconnects it
func (r *Registry) Unregister(ctx context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	connector, exists := r.connectors[name]
	if !exists {
		if _, hasConfig := r.configs[name]; !hasConfig {
			return fmt.Errorf("%w: '%s'", ErrNotFound, name)
		}
		delete(r.configs, name)
		return nil
	}

	if err := connector.Disconnect(ctx); err != nil {
		r.logger.Warn("Error disconnecting connector", zap.String("connector", name), zap.Error(err))
	}

	delete(r.connectors, name)
	delete(r.configs, name)

	r.logger.Info("Unregistered connector", zap.String("connector", name))
	return nil
}

// Get retrieves a connector by name, lazy-loading if necessary
func (r *Registry) Get(name string) (base.Connector, error) {
	r.mu.RLock()
	connector, exists := r.connectors[name]
	config, hasConfig := r.configs[name]
	factory := r.factory
	r.mu.RUnlock()

	if exists {
		return connector, nil
	}

	if hasConfig && factory != nil {
		return r.lazyLoadConnector(name, config)
	}

	return nil, fmt.Errorf("%w: '%s'", ErrNotFound, name)
}

// lazyLoadConnector creates and connects a connector instance from its stored config
func (r *Registry) lazyLoadConnector(name string, config *base.ConnectorConfig) (base.Connector, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Double-check if connector was created by another goroutine
	if connector, exists := r.connectors[name]; exists {
		return connector, nil
	}

	r.logger.Info("Lazy-loading connector", zap.String("connector", name), zap.String("type", config.Type))

	connector, err := r.factory(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connector '%s': %w", name, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout(config))
	defer cancel()

	if err := connector.Connect(ctx, config); err != nil {
		r.logger.Error("Failed to connect lazy-loaded connector", zap.String("connector", name), zap.Error(err))
		return nil, fmt.Errorf("failed to connect connector '%s': %w", name, err)
	}

	r.connectors[name] = connector
	return connector, nil
}

// Manager resolves a config-ref to its connection manager. An empty
// reference selects the only known connector.
func (r *Registry) Manager(configRef string) (*kvconnector.Manager, error) {
	if configRef == "" {
		names := r.Names()
		switch len(names) {
		case 0:
			return nil, ErrNotFound
		case 1:
			configRef = names[0]
		default:
			return nil, ErrAmbiguousRef
		}
	}

	connector, err := r.Get(configRef)
	if err != nil {
		return nil, err
	}
	manager, ok := connector.(*kvconnector.Manager)
	if !ok {
		return nil, fmt.Errorf("%w: '%s' has type %s", ErrNotKVStore, configRef, connector.Type())
	}
	return manager, nil
}

// GetConfig retrieves a connector's configuration by name
func (r *Registry) GetConfig(name string) (*base.ConnectorConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	config, exists := r.configs[name]
	if !exists {
		return nil, fmt.Errorf("%w: config for '%s'", ErrNotFound, name)
	}
	return config, nil
}

// List returns the names of connected connectors, sorted
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.connectors))
	for name := range r.connectors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Names returns every known connector name, connected or not, sorted
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.configs))
	for name := range r.configs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ListWithTypes returns all registered connectors with their types
func (r *Registry) ListWithTypes() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[string]string, len(r.connectors))
	for name, connector := range r.connectors {
		result[name] = connector.Type()
	}
	return result
}

// HealthCheck performs health checks on all connected connectors
func (r *Registry) HealthCheck(ctx context.Context) map[string]*base.HealthStatus {
	r.mu.RLock()
	connectors := make(map[string]base.Connector, len(r.connectors))
	for name, connector := range r.connectors {
		connectors[name] = connector
	}
	r.mu.RUnlock()

	results := make(map[string]*base.HealthStatus, len(connectors))
	for name, connector := range connectors {
		results[name] = r.check(ctx, name, connector)
	}
	return results
}

// HealthCheckSingle performs a health check on a specific connector
func (r *Registry) HealthCheckSingle(ctx context.Context, name string) (*base.HealthStatus, error) {
	connector, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	return r.check(ctx, name, connector), nil
}

func (r *Registry) check(ctx context.Context, name string, connector base.Connector) *base.HealthStatus {
	status, err := connector.HealthCheck(ctx)
	if err != nil {
		r.logger.Warn("Health check failed", zap.String("connector", name), zap.Error(err))
		return &base.HealthStatus{
			Healthy:   false,
			Timestamp: time.Now(),
			Error:     err.Error(),
		}
	}
	return status
}

// Count returns the number of connected connectors
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.connectors)
}

// DisconnectAll disconnects all registered connectors
// Useful for graceful shutdown
func (r *Registry) DisconnectAll(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for name, connector := range r.connectors {
		if err := connector.Disconnect(ctx); err != nil {
			r.logger.Warn("Error disconnecting connector", zap.String("connector", name), zap.Error(err))
			continue
		}
		r.logger.Info("Disconnected connector", zap.String("connector", name))
	}
	r.connectors = make(map[string]base.Connector)
}

func connectTimeout(config *base.ConnectorConfig) time.Duration {
	if config != nil && config.Timeout > 0 {
		return config.Timeout
	}
	return defaultConnectTimeout
}
