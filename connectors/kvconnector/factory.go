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

	"go.uber.org/zap"

	"github.com/ryan1234/mule-couchbase/connectors/kvstore"
	"github.com/ryan1234/mule-couchbase/connectors/pool"
)

// ConnectionFactory supplies the pool hooks for store connections.
type ConnectionFactory struct {
	uri       string
	newClient kvstore.ClientFactory
	logger    *zap.Logger
}

// NewConnectionFactory creates hooks producing connections to uri.
func NewConnectionFactory(uri string, newClient kvstore.ClientFactory, logger *zap.Logger) *ConnectionFactory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConnectionFactory{uri: uri, newClient: newClient, logger: logger}
}

// Create instantiates a connection, sets its URI, initialises and starts it.
// The connection is not connected yet.
func (f *ConnectionFactory) Create(_ context.Context, key pool.ConnectionKey) (*kvstore.Connection, error) {
	conn := kvstore.NewConnection(f.newClient, f.logger)
	err := conn.SetURI(f.uri)
	if err == nil {
		err = conn.Initialise()
	}
	if err == nil {
		err = conn.Start()
	}
	if err != nil {
		_ = conn.Dispose()
		return nil, err
	}
	f.logger.Debug("Created connection",
		zap.String("connection_id", conn.ID()),
		zap.String("bucket", key.BucketName))
	return conn, nil
}

// Validate reports whether the connection is connected.
func (f *ConnectionFactory) Validate(_ context.Context, key pool.ConnectionKey, conn *kvstore.Connection) bool {
	if conn == nil {
		return false
	}
	if !conn.IsConnected() {
		f.logger.Debug("Connection is not connected",
			zap.String("connection_id", conn.ID()),
			zap.String("bucket", key.BucketName))
		return false
	}
	return true
}

// Activate connects with the caller's bucket and credential unless already connected.
func (f *ConnectionFactory) Activate(ctx context.Context, key pool.ConnectionKey, conn *kvstore.Connection) error {
	if conn.IsConnected() {
		return nil
	}
	if conn.State() == kvstore.StateConnected {
		// the client dropped underneath a connected handle
		_ = conn.Disconnect(ctx)
	}
	return conn.Connect(ctx, key.BucketName, key.Credential)
}

// Passivate has nothing to do for store connections.
func (f *ConnectionFactory) Passivate(context.Context, pool.ConnectionKey, *kvstore.Connection) error {
	return nil
}

// Destroy disconnects, then stops and disposes the connection even when
// disconnecting fails. All failures are joined.
func (f *ConnectionFactory) Destroy(ctx context.Context, key pool.ConnectionKey, conn *kvstore.Connection) error {
	var errs []error
	if err := conn.Disconnect(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := conn.Stop(); err != nil {
		errs = append(errs, err)
	}
	if err := conn.Dispose(); err != nil {
		errs = append(errs, err)
	}
	f.logger.Debug("Destroyed connection",
		zap.String("connection_id", conn.ID()),
		zap.String("bucket", key.BucketName))
	return errors.Join(errs...)
}
