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

package kvstore_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ryan1234/mule-couchbase/connectors/kvstore"
	"github.com/ryan1234/mule-couchbase/connectors/kvstore/kvstoretest"
)

func startedConnection(t *testing.T, store *kvstoretest.MockStore) *kvstore.Connection {
	t.Helper()
	conn := kvstore.NewConnection(store.Factory(), zaptest.NewLogger(t))
	require.NoError(t, conn.SetURI("mock://store"))
	require.NoError(t, conn.Initialise())
	require.NoError(t, conn.Start())
	return conn
}

func TestConnection_Lifecycle(t *testing.T) {
	store := kvstoretest.NewMockStore()
	ctx := context.Background()

	conn := kvstore.NewConnection(store.Factory(), nil)
	assert.NotEmpty(t, conn.ID())
	assert.Equal(t, kvstore.StateCreated, conn.State())
	assert.Nil(t, conn.Session())

	require.NoError(t, conn.SetURI("mock://store"))
	assert.Equal(t, "mock://store", conn.URI())
	require.NoError(t, conn.Initialise())
	assert.Equal(t, kvstore.StateInitialised, conn.State())
	require.NotNil(t, conn.Session())
	require.NoError(t, conn.Start())
	assert.False(t, conn.IsConnected())

	require.NoError(t, conn.Connect(ctx, "orders", "pw"))
	assert.True(t, conn.IsConnected())
	assert.Equal(t, kvstore.StateConnected, conn.State())

	require.NoError(t, conn.Disconnect(ctx))
	assert.Equal(t, kvstore.StateDisconnected, conn.State())
	require.NoError(t, conn.Connect(ctx, "orders", "pw"), "reconnect after disconnect")

	require.NoError(t, conn.Disconnect(ctx))
	require.NoError(t, conn.Stop())
	require.NoError(t, conn.Dispose())
	assert.Equal(t, kvstore.StateDisposed, conn.State())
	assert.Nil(t, conn.Session())
}

func TestConnection_IllegalTransitions(t *testing.T) {
	store := kvstoretest.NewMockStore()
	ctx := context.Background()

	tests := []struct {
		name string
		run  func(c *kvstore.Connection) error
	}{
		{"start before initialise", func(c *kvstore.Connection) error { return c.Start() }},
		{"connect before start", func(c *kvstore.Connection) error { return c.Connect(ctx, "b", "") }},
		{"stop before start", func(c *kvstore.Connection) error { return c.Stop() }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := kvstore.NewConnection(store.Factory(), nil)
			require.NoError(t, conn.SetURI("mock://store"))
			assert.ErrorIs(t, tt.run(conn), kvstore.ErrInvalidTransition)
		})
	}

	t.Run("set uri after initialise", func(t *testing.T) {
		conn := startedConnection(t, store)
		assert.ErrorIs(t, conn.SetURI("mock://other"), kvstore.ErrInvalidTransition)
	})

	t.Run("initialise without uri", func(t *testing.T) {
		conn := kvstore.NewConnection(store.Factory(), nil)
		assert.Error(t, conn.Initialise())
		assert.Equal(t, kvstore.StateCreated, conn.State())
	})

	t.Run("nothing leaves disposed", func(t *testing.T) {
		conn := startedConnection(t, store)
		require.NoError(t, conn.Dispose())
		assert.ErrorIs(t, conn.Connect(ctx, "b", ""), kvstore.ErrInvalidTransition)
		assert.ErrorIs(t, conn.Disconnect(ctx), kvstore.ErrInvalidTransition)
		assert.ErrorIs(t, conn.Stop(), kvstore.ErrInvalidTransition)
		assert.ErrorIs(t, conn.Dispose(), kvstore.ErrInvalidTransition)
	})
}

func TestConnection_FailedConnectKeepsState(t *testing.T) {
	store := kvstoretest.NewMockStore()
	store.Set(func(s *kvstoretest.MockStore) { s.ConnectError = errors.New("refused") })

	conn := startedConnection(t, store)
	assert.Error(t, conn.Connect(context.Background(), "orders", ""))
	assert.Equal(t, kvstore.StateStarted, conn.State())
}

func TestConnection_StopAfterFailedDisconnect(t *testing.T) {
	store := kvstoretest.NewMockStore()
	ctx := context.Background()
	conn := startedConnection(t, store)
	require.NoError(t, conn.Connect(ctx, "orders", ""))

	store.Set(func(s *kvstoretest.MockStore) { s.DisconnectError = errors.New("broken pipe") })
	assert.Error(t, conn.Disconnect(ctx))
	require.NoError(t, conn.Stop())
	require.NoError(t, conn.Dispose())
	assert.Equal(t, kvstore.StateDisposed, conn.State())
}

func TestConnection_DataOperations(t *testing.T) {
	store := kvstoretest.NewMockStore()
	ctx := context.Background()
	conn := startedConnection(t, store)

	_, _, err := conn.Get(ctx, "k")
	assert.ErrorIs(t, err, kvstore.ErrNotConnected)
	assert.ErrorIs(t, conn.Ping(ctx), kvstore.ErrNotConnected)

	require.NoError(t, conn.Connect(ctx, "orders", ""))
	require.NoError(t, conn.Ping(ctx))
	require.NoError(t, conn.Store(ctx, "k", "v", 0))

	v, ok := store.Value("orders", "k")
	assert.True(t, ok)
	assert.Equal(t, "v", v)

	got, found, err := conn.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "v", got)

	removed, err := conn.Remove(ctx, "k")
	require.NoError(t, err)
	assert.True(t, removed)

	_, found, err = conn.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestConnection_UniqueIDs(t *testing.T) {
	store := kvstoretest.NewMockStore()
	a := kvstore.NewConnection(store.Factory(), nil)
	b := kvstore.NewConnection(store.Factory(), nil)
	assert.NotEqual(t, a.ID(), b.ID())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "connected", kvstore.StateConnected.String())
	assert.Equal(t, "disposed", kvstore.StateDisposed.String())
	assert.Equal(t, "State(42)", kvstore.State(42).String())
}
