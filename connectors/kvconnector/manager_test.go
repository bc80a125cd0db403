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

package kvconnector

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ryan1234/mule-couchbase/connectors/base"
	"github.com/ryan1234/mule-couchbase/connectors/kvstore"
	"github.com/ryan1234/mule-couchbase/connectors/kvstore/kvstoretest"
	"github.com/ryan1234/mule-couchbase/connectors/pool"
)

func newMockManager(t *testing.T, store *kvstoretest.MockStore, profile pool.PoolingProfile) *Manager {
	t.Helper()
	m := NewManager(Config{
		Name:       "orders-store",
		URI:        "mock://store",
		BucketName: "orders",
		Password:   "s3cret",
		Profile:    profile,
	}, WithClientFactory(store.Factory()), WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, m.Initialise(context.Background()))
	t.Cleanup(func() { _ = m.Dispose(context.Background()) })
	return m
}

func newRedisManager(t *testing.T) (*Manager, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	mr.RequireAuth("s3cret")

	m := NewManager(Config{}, WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, m.Connect(context.Background(), &base.ConnectorConfig{
		Name:          "orders-store",
		ConnectionURL: "redis://" + mr.Addr(),
		Credentials: map[string]string{
			CredentialBucketName: "orders",
			CredentialPassword:   "s3cret",
		},
	}))
	t.Cleanup(func() { _ = m.Disconnect(context.Background()) })
	return m, mr
}

func TestConnectionFactory_Hooks(t *testing.T) {
	store := kvstoretest.NewMockStore()
	f := NewConnectionFactory("mock://store", store.Factory(), zaptest.NewLogger(t))
	ctx := context.Background()
	key := pool.NewConnectionKey("orders", "s3cret")

	conn, err := f.Create(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, kvstore.StateStarted, conn.State())
	assert.Equal(t, "mock://store", conn.URI())
	assert.False(t, f.Validate(ctx, key, conn))

	require.NoError(t, f.Activate(ctx, key, conn))
	assert.True(t, f.Validate(ctx, key, conn))
	assert.Equal(t, "s3cret", store.Clients()[0].Credential())
	require.NoError(t, f.Activate(ctx, pool.NewConnectionKey("orders", "other"), conn), "already connected")
	assert.Equal(t, 1, store.Connects())

	assert.NoError(t, f.Passivate(ctx, key, conn))
	require.NoError(t, f.Destroy(ctx, key, conn))
	assert.Equal(t, kvstore.StateDisposed, conn.State())
}

func TestConnectionFactory_CreateFails(t *testing.T) {
	store := kvstoretest.NewMockStore()
	store.Set(func(s *kvstoretest.MockStore) { s.FactoryError = errors.New("bad uri") })
	f := NewConnectionFactory("mock://store", store.Factory(), nil)

	_, err := f.Create(context.Background(), pool.NewConnectionKey("orders", ""))
	assert.EqualError(t, err, "bad uri")
}

func TestConnectionFactory_DestroyStopsAndDisposesWhenDisconnectFails(t *testing.T) {
	store := kvstoretest.NewMockStore()
	f := NewConnectionFactory("mock://store", store.Factory(), nil)
	ctx := context.Background()
	key := pool.NewConnectionKey("orders", "s3cret")

	conn, err := f.Create(ctx, key)
	require.NoError(t, err)
	require.NoError(t, f.Activate(ctx, key, conn))

	cause := errors.New("broken pipe")
	store.Set(func(s *kvstoretest.MockStore) { s.DisconnectError = cause })

	err = f.Destroy(ctx, key, conn)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, kvstore.StateDisposed, conn.State())
}

func TestManager_InitialisationPolicy(t *testing.T) {
	tests := []struct {
		name     string
		policy   pool.InitialisationPolicy
		wantIdle int
	}{
		{"none", pool.InitialiseNone, 0},
		{"one", pool.InitialiseOne, 1},
		{"all", pool.InitialiseAll, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := kvstoretest.NewMockStore()
			profile := pool.DefaultPoolingProfile()
			profile.MaxIdle = 3
			profile.InitialisationPolicy = tt.policy

			m := newMockManager(t, store, profile)
			assert.Equal(t, tt.wantIdle, m.Stats()["orders"].Idle)
			assert.Equal(t, 0, store.Connects(), "pre-created connections are not connected")
		})
	}
}

func TestManager_InitialiseIsIdempotent(t *testing.T) {
	store := kvstoretest.NewMockStore()
	m := newMockManager(t, store, pool.DefaultPoolingProfile())
	require.NoError(t, m.Initialise(context.Background()))
	assert.Equal(t, 1, m.Stats()["orders"].Idle)
}

func TestManager_FailedInitialiseCanBeRetried(t *testing.T) {
	store := kvstoretest.NewMockStore()
	store.Set(func(s *kvstoretest.MockStore) { s.FactoryError = errors.New("bad uri") })
	m := NewManager(Config{Name: "orders-store", URI: "mock://store", BucketName: "orders", Password: "s3cret"},
		WithClientFactory(store.Factory()), WithLogger(zaptest.NewLogger(t)))
	ctx := context.Background()

	require.ErrorContains(t, m.Initialise(ctx), "bad uri")
	_, err := m.Acquire(ctx, pool.NewConnectionKey("orders", "s3cret"))
	assert.ErrorIs(t, err, ErrNotInitialised)

	store.Set(func(s *kvstoretest.MockStore) { s.FactoryError = nil })
	require.NoError(t, m.Initialise(ctx))
	t.Cleanup(func() { _ = m.Dispose(ctx) })
	assert.Equal(t, 1, m.Stats()["orders"].Idle)
}

func TestManager_ResolveKey(t *testing.T) {
	m := NewManager(Config{BucketName: "orders", Password: "s3cret"})

	key, err := m.ResolveKey("", "")
	require.NoError(t, err)
	assert.Equal(t, pool.NewConnectionKey("orders", "s3cret"), key)

	key, err = m.ResolveKey("invoices", "other")
	require.NoError(t, err)
	assert.Equal(t, pool.NewConnectionKey("invoices", "other"), key)

	_, err = NewManager(Config{Password: "x"}).ResolveKey("", "")
	assert.ErrorIs(t, err, ErrMissingBucket)
	assert.EqualError(t, err, "You must provide a bucketName at the config or the message processor level.")

	_, err = NewManager(Config{BucketName: "orders"}).ResolveKey("", "")
	assert.ErrorIs(t, err, ErrMissingPassword)
}

func TestManager_NotInitialised(t *testing.T) {
	m := NewManager(Config{BucketName: "orders", Password: "x"})
	_, err := m.Acquire(context.Background(), pool.NewConnectionKey("orders", "x"))
	assert.ErrorIs(t, err, ErrNotInitialised)
	assert.Empty(t, m.Stats())
	assert.NoError(t, m.Dispose(context.Background()))
}

func TestManager_ReleaseAfterDisposeDestroysConnection(t *testing.T) {
	store := kvstoretest.NewMockStore()
	profile := pool.DefaultPoolingProfile()
	profile.InitialisationPolicy = pool.InitialiseNone
	m := newMockManager(t, store, profile)
	ctx := context.Background()
	key := pool.NewConnectionKey("orders", "s3cret")

	released, err := m.Acquire(ctx, key)
	require.NoError(t, err)
	destroyed, err := m.Acquire(ctx, key)
	require.NoError(t, err)

	require.NoError(t, m.Dispose(ctx))

	require.NoError(t, m.Release(ctx, key, released))
	assert.Equal(t, kvstore.StateDisposed, released.State())
	assert.False(t, released.IsConnected())

	require.NoError(t, m.DestroyConnection(ctx, key, destroyed))
	assert.Equal(t, kvstore.StateDisposed, destroyed.State())
}

func TestManager_ReleaseAfterReinitialiseSkipsNewPool(t *testing.T) {
	store := kvstoretest.NewMockStore()
	profile := pool.DefaultPoolingProfile()
	profile.InitialisationPolicy = pool.InitialiseNone
	m := newMockManager(t, store, profile)
	ctx := context.Background()
	key := pool.NewConnectionKey("orders", "s3cret")

	conn, err := m.Acquire(ctx, key)
	require.NoError(t, err)
	require.NoError(t, m.Dispose(ctx))
	require.NoError(t, m.Initialise(ctx))

	require.NoError(t, m.Release(ctx, key, conn))
	assert.Equal(t, kvstore.StateDisposed, conn.State())
	assert.Zero(t, m.Stats()["orders"].Idle)
}

func TestManager_WithConnection(t *testing.T) {
	store := kvstoretest.NewMockStore()
	profile := pool.DefaultPoolingProfile()
	profile.InitialisationPolicy = pool.InitialiseNone
	m := newMockManager(t, store, profile)
	ctx := context.Background()
	key := pool.NewConnectionKey("orders", "s3cret")

	var firstID string
	err := m.WithConnection(ctx, key, func(ctx context.Context, conn *kvstore.Connection) error {
		firstID = conn.ID()
		return conn.Store(ctx, "k", "v", 0)
	})
	require.NoError(t, err)
	assert.Equal(t, pool.Stats{Partition: "orders", Idle: 1, Created: 1}, m.Stats()["orders"])

	cause := errors.New("operation rejected")
	store.Set(func(s *kvstoretest.MockStore) { s.DisconnectError = errors.New("teardown failed") })
	err = m.WithConnection(ctx, key, func(ctx context.Context, conn *kvstore.Connection) error {
		assert.Equal(t, firstID, conn.ID())
		return cause
	})
	assert.Same(t, cause, err, "teardown errors never replace the operation error")
	assert.Equal(t, pool.Stats{Partition: "orders", Created: 1, Destroyed: 1}, m.Stats()["orders"])
}

func TestManager_ReconnectsDroppedConnection(t *testing.T) {
	store := kvstoretest.NewMockStore()
	m := newMockManager(t, store, pool.DefaultPoolingProfile())
	ctx := context.Background()
	key := pool.NewConnectionKey("orders", "s3cret")

	require.NoError(t, m.WithConnection(ctx, key, func(ctx context.Context, conn *kvstore.Connection) error {
		return conn.Ping(ctx)
	}))
	for _, c := range store.Clients() {
		c.Drop()
	}

	require.NoError(t, m.WithConnection(ctx, key, func(ctx context.Context, conn *kvstore.Connection) error {
		return conn.Ping(ctx)
	}))
	assert.Equal(t, 2, store.Connects())
}

func TestManager_QueryAndExecute(t *testing.T) {
	m, mr := newRedisManager(t)
	ctx := context.Background()

	res, err := m.Execute(ctx, &base.Command{
		Action:     "STORE",
		Parameters: map[string]interface{}{"key": "order-1", "value": `{"id":1}`, "ttl": "30s"},
	})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 1, res.RowsAffected)
	assert.Equal(t, "orders-store", res.Connector)
	assert.Equal(t, 30*time.Second, mr.TTL("orders:order-1"))

	q, err := m.Query(ctx, &base.Query{Statement: "GET", Parameters: map[string]interface{}{"key": "order-1"}})
	require.NoError(t, err)
	require.Equal(t, 1, q.RowCount)
	assert.Equal(t, `{"id":1}`, q.Rows[0]["value"])
	assert.Equal(t, true, q.Rows[0]["found"])

	q, err = m.Query(ctx, &base.Query{Statement: "EXISTS", Parameters: map[string]interface{}{"key": "order-1"}})
	require.NoError(t, err)
	assert.Equal(t, true, q.Rows[0]["exists"])

	res, err = m.Execute(ctx, &base.Command{Action: "REMOVE", Parameters: map[string]interface{}{"key": "order-1"}})
	require.NoError(t, err)
	assert.Equal(t, 1, res.RowsAffected)

	q, err = m.Query(ctx, &base.Query{Statement: "GET", Parameters: map[string]interface{}{"key": "order-1"}})
	require.NoError(t, err)
	assert.Equal(t, false, q.Rows[0]["found"])
	assert.Nil(t, q.Rows[0]["value"])

	_, err = m.Query(ctx, &base.Query{Statement: "KEYS", Parameters: map[string]interface{}{"key": "*"}})
	assert.ErrorContains(t, err, "unsupported operation: KEYS")

	_, err = m.Execute(ctx, &base.Command{Action: "STORE", Parameters: map[string]interface{}{"value": "x"}})
	assert.ErrorContains(t, err, "key parameter is required")
}

func TestManager_QueryFailureIsOperationFailed(t *testing.T) {
	m, mr := newRedisManager(t)
	mr.Close()

	_, err := m.Query(context.Background(), &base.Query{Statement: "GET", Parameters: map[string]interface{}{"key": "k"}})
	require.Error(t, err)

	var cerr *base.ConnectorError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "Query", cerr.Operation)
	assert.ErrorIs(t, err, base.ErrOperationFailed)
}

func TestManager_HealthCheck(t *testing.T) {
	m, mr := newRedisManager(t)
	ctx := context.Background()

	status, err := m.HealthCheck(ctx)
	require.NoError(t, err)
	assert.True(t, status.Healthy)
	assert.Contains(t, status.Details, "pool.orders")

	mr.Close()
	status, err = m.HealthCheck(ctx)
	require.NoError(t, err)
	assert.False(t, status.Healthy)
	assert.NotEmpty(t, status.Error)

	status, err = NewManager(Config{}).HealthCheck(ctx)
	require.NoError(t, err)
	assert.False(t, status.Healthy)
}

func TestManager_Metadata(t *testing.T) {
	m := NewManager(Config{})
	assert.Equal(t, "kv-connector", m.Name())
	assert.Equal(t, "kv", m.Type())
	assert.Equal(t, "1.0.0", m.Version())
	assert.Equal(t, []string{"query", "execute", "pooling", "kv-store"}, m.Capabilities())
	assert.Equal(t, pool.DefaultPoolingProfile(), m.Config().Profile)
}

type recordedOp struct {
	connector, operation string
	failed               bool
}

type opRecorder struct {
	mu  sync.Mutex
	ops []recordedOp
}

func (r *opRecorder) ObserveOperation(connector, operation string, _ time.Duration, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = append(r.ops, recordedOp{connector, operation, err != nil})
}

func TestManager_OperationObserver(t *testing.T) {
	store := kvstoretest.NewMockStore()
	rec := &opRecorder{}
	m := NewManager(Config{Name: "orders-store", URI: "mock://", BucketName: "orders", Password: "x"},
		WithClientFactory(store.Factory()), WithOperationObserver(rec))
	require.NoError(t, m.Initialise(context.Background()))
	defer m.Dispose(context.Background())

	_, err := m.Execute(context.Background(), &base.Command{Action: "STORE", Parameters: map[string]interface{}{"key": "k", "value": "v"}})
	require.NoError(t, err)

	store.Set(func(s *kvstoretest.MockStore) { s.OperationError = errors.New("READONLY") })
	_, err = m.Query(context.Background(), &base.Query{Statement: "GET", Parameters: map[string]interface{}{"key": "k"}})
	require.Error(t, err)

	assert.Equal(t, []recordedOp{
		{"orders-store", "STORE", false},
		{"orders-store", "GET", true},
	}, rec.ops)
}

func TestConfigFromConnectorConfig(t *testing.T) {
	cfg, err := ConfigFromConnectorConfig(&base.ConnectorConfig{
		Name:          "orders-store",
		ConnectionURL: "redis://localhost:6379",
		Credentials:   map[string]string{CredentialBucketName: "orders", CredentialPassword: "pw"},
		Options: map[string]interface{}{
			OptionMaxActive:            float64(10),
			OptionMaxIdle:              "2",
			OptionMaxWait:              "250",
			OptionExhaustedAction:      "WHEN_EXHAUSTED_FAIL",
			OptionInitialisationPolicy: "INITIALISE_ALL",
			OptionEvictionInterval:     "1m",
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "orders", cfg.BucketName)
	assert.Equal(t, "pw", cfg.Password)
	assert.Equal(t, 10, cfg.Profile.MaxActive)
	assert.Equal(t, 2, cfg.Profile.MaxIdle)
	assert.Equal(t, 250*time.Millisecond, cfg.Profile.MaxWait)
	assert.Equal(t, pool.ExhaustedFail, cfg.Profile.ExhaustedAction)
	assert.Equal(t, pool.InitialiseAll, cfg.Profile.InitialisationPolicy)
	assert.Equal(t, time.Minute, cfg.Profile.EvictionInterval)

	back, err := ConfigFromConnectorConfig(cfg.ToConnectorConfig())
	require.NoError(t, err)
	assert.Equal(t, cfg, back)

	_, err = ConfigFromConnectorConfig(&base.ConnectorConfig{Name: "x"})
	assert.Error(t, err)

	_, err = ConfigFromConnectorConfig(&base.ConnectorConfig{
		ConnectionURL: "redis://localhost",
		Options:       map[string]interface{}{OptionExhaustedAction: "EXPLODE"},
	})
	assert.Error(t, err)
}
