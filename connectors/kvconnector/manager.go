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

// Package kvconnector manages pooled connections to a key-value store and
// exposes them through the base.Connector interface.
package kvconnector

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ryan1234/mule-couchbase/connectors/kvstore"
	"github.com/ryan1234/mule-couchbase/connectors/pool"
	"github.com/ryan1234/mule-couchbase/shared/logger"
)

var (
	ErrMissingBucket   = errors.New("You must provide a bucketName at the config or the message processor level.")
	ErrMissingPassword = errors.New("You must provide a password at the config or the message processor level.")
	ErrNotInitialised  = errors.New("connection manager is not initialised")
)

// Config describes one store target.
type Config struct {
	Name       string              `json:"name" yaml:"name"`
	URI        string              `json:"uri" yaml:"uri"`
	BucketName string              `json:"bucket_name" yaml:"bucket_name"`
	Password   string              `json:"-" yaml:"password"`
	Profile    pool.PoolingProfile `json:"pooling_profile" yaml:"pooling_profile"`
}

// OperationObserver is told about every store operation.
type OperationObserver interface {
	ObserveOperation(connector, operation string, duration time.Duration, err error)
}

// Option configures a Manager.
type Option func(*Manager)

// WithClientFactory replaces the Redis client factory.
func WithClientFactory(f kvstore.ClientFactory) Option {
	return func(m *Manager) {
		if f != nil {
			m.newClient = f
		}
	}
}

// WithLogger sets the manager logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithPoolObserver reports pool events to obs.
func WithPoolObserver(obs pool.Observer) Option {
	return func(m *Manager) {
		m.poolObserver = obs
	}
}

// WithOperationObserver reports store operations to obs.
func WithOperationObserver(obs OperationObserver) Option {
	return func(m *Manager) {
		m.opObserver = obs
	}
}

// Manager owns the connection pool of one configured store target.
type Manager struct {
	newClient    kvstore.ClientFactory
	logger       *zap.Logger
	poolObserver pool.Observer
	opObserver   OperationObserver

	mu   sync.RWMutex
	cfg  Config
	pool *pool.KeyedPool[*kvstore.Connection]
	// owners maps checked-out connections to the pool they came from, so
	// they go back to it even after Dispose.
	owners map[*kvstore.Connection]*pool.KeyedPool[*kvstore.Connection]
}

// NewManager creates a manager. Initialise must be called before use. A
// zero pooling profile is replaced by pool.DefaultPoolingProfile.
func NewManager(cfg Config, opts ...Option) *Manager {
	if cfg.Profile == (pool.PoolingProfile{}) {
		cfg.Profile = pool.DefaultPoolingProfile()
	}
	m := &Manager{
		cfg:       cfg,
		newClient: kvstore.RedisClientFactory,
		logger:    zap.NewNop(),
		owners:    make(map[*kvstore.Connection]*pool.KeyedPool[*kvstore.Connection]),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With(zap.String("connector", cfg.Name))
	return m
}

// Initialise builds the pool and applies the initialisation policy to the
// default key. Calling it again is a no-op.
func (m *Manager) Initialise(ctx context.Context) error {
	m.mu.Lock()
	if m.pool != nil {
		m.mu.Unlock()
		return nil
	}
	cfg := m.cfg
	if err := cfg.Profile.Validate(); err != nil {
		m.mu.Unlock()
		return fmt.Errorf("invalid pooling profile: %w", err)
	}

	opts := []pool.Option{pool.WithLogger(m.logger)}
	if m.poolObserver != nil {
		opts = append(opts, pool.WithObserver(m.poolObserver))
	}
	factory := NewConnectionFactory(cfg.URI, m.newClient, m.logger)
	p := pool.NewKeyedPool[*kvstore.Connection](factory, cfg.Profile, opts...)
	m.pool = p
	m.mu.Unlock()

	n := cfg.Profile.InitialIdle()
	if n > 0 && cfg.BucketName != "" {
		key := pool.NewConnectionKey(cfg.BucketName, cfg.Password)
		added, err := p.Prefill(ctx, key, n)
		if err != nil {
			m.logger.Error("Failed to apply initialisation policy",
				zap.String("policy", cfg.Profile.InitialisationPolicy.String()),
				zap.Error(err))
			_ = m.Dispose(ctx)
			return err
		}
		m.logger.Debug("Pre-created idle connections", zap.Int("count", added))
	}

	m.logger.Info("Connection manager initialised",
		zap.String("uri", cfg.URI),
		zap.String("bucket", cfg.BucketName),
		zap.Int("max_active", cfg.Profile.MaxActive),
		zap.Int("max_idle", cfg.Profile.MaxIdle),
		zap.Duration("max_wait", cfg.Profile.MaxWait),
		zap.String("exhausted_action", cfg.Profile.ExhaustedAction.String()))
	return nil
}

// Config returns the manager configuration.
func (m *Manager) Config() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// ResolveKey builds the connection key for an operation. Empty arguments
// fall back to the configured bucket and password.
func (m *Manager) ResolveKey(bucket, password string) (pool.ConnectionKey, error) {
	cfg := m.Config()
	if bucket == "" {
		bucket = cfg.BucketName
	}
	if bucket == "" {
		return pool.ConnectionKey{}, ErrMissingBucket
	}
	if password == "" {
		password = cfg.Password
	}
	if password == "" {
		return pool.ConnectionKey{}, ErrMissingPassword
	}
	return pool.NewConnectionKey(bucket, password), nil
}

// Acquire checks out a connection for key.
func (m *Manager) Acquire(ctx context.Context, key pool.ConnectionKey) (*kvstore.Connection, error) {
	p, err := m.currentPool()
	if err != nil {
		return nil, err
	}
	m.logger.Debug("Attempting to acquire a connection",
		zap.String("bucket", key.BucketName),
		zap.String("password", logger.Mask(key.Credential)))

	conn, err := p.Acquire(ctx, key)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.owners[conn] = p
	m.mu.Unlock()
	m.logger.Debug("Connection has been acquired", zap.String("connection_id", conn.ID()))
	return conn, nil
}

// Release returns a connection to the pool it was acquired from. A
// connection released after Dispose is destroyed.
func (m *Manager) Release(ctx context.Context, key pool.ConnectionKey, conn *kvstore.Connection) error {
	p, err := m.ownerPool(conn)
	if err != nil {
		return err
	}
	m.logger.Debug("Releasing the connection back into the pool", zap.String("connection_id", conn.ID()))
	return p.Release(ctx, key, conn)
}

// DestroyConnection removes a connection from the pool and tears it down.
func (m *Manager) DestroyConnection(ctx context.Context, key pool.ConnectionKey, conn *kvstore.Connection) error {
	p, err := m.ownerPool(conn)
	if err != nil {
		return err
	}
	m.logger.Debug("Destroying connection", zap.String("connection_id", conn.ID()))
	return p.Destroy(ctx, key, conn)
}

// WithConnection runs fn on a checked-out connection. The connection is
// released when fn succeeds and destroyed when it fails. Teardown errors
// are logged and never replace fn's error.
func (m *Manager) WithConnection(ctx context.Context, key pool.ConnectionKey, fn func(ctx context.Context, conn *kvstore.Connection) error) error {
	conn, err := m.Acquire(ctx, key)
	if err != nil {
		return err
	}

	if err := fn(ctx, conn); err != nil {
		if derr := m.DestroyConnection(ctx, key, conn); derr != nil {
			m.logger.Warn("Failed to destroy connection after error",
				zap.String("connection_id", conn.ID()),
				zap.Error(derr))
		}
		return err
	}
	return m.Release(ctx, key, conn)
}

// ClearIdle destroys the idle connections of bucket. Checked-out
// connections are left alone.
func (m *Manager) ClearIdle(ctx context.Context, bucket string) error {
	p, err := m.currentPool()
	if err != nil {
		return err
	}
	m.logger.Info("Clearing idle connections", zap.String("bucket", bucket))
	return p.Clear(ctx, pool.NewConnectionKey(bucket, ""))
}

// Stats returns the pool statistics per bucket.
func (m *Manager) Stats() map[string]pool.Stats {
	p, err := m.currentPool()
	if err != nil {
		return map[string]pool.Stats{}
	}
	return p.AllStats()
}

// Dispose closes the pool. The manager can be initialised again afterwards.
func (m *Manager) Dispose(ctx context.Context) error {
	m.mu.Lock()
	p := m.pool
	m.pool = nil
	m.mu.Unlock()

	if p == nil {
		return nil
	}
	err := p.Close(ctx)
	m.logger.Info("Connection manager disposed")
	return err
}

// ObserveOperation forwards an operation outcome to the operation observer.
func (m *Manager) ObserveOperation(operation string, start time.Time, err error) {
	if m.opObserver != nil {
		m.opObserver.ObserveOperation(m.Name(), operation, time.Since(start), err)
	}
}

// ownerPool forgets conn's checkout and returns the pool it belongs to,
// falling back to the current pool for connections not acquired here.
func (m *Manager) ownerPool(conn *kvstore.Connection) (*pool.KeyedPool[*kvstore.Connection], error) {
	m.mu.Lock()
	p, ok := m.owners[conn]
	delete(m.owners, conn)
	m.mu.Unlock()
	if ok {
		return p, nil
	}
	return m.currentPool()
}

func (m *Manager) currentPool() (*pool.KeyedPool[*kvstore.Connection], error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.pool == nil {
		return nil, ErrNotInitialised
	}
	return m.pool, nil
}
