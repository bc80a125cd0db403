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
	"fmt"
	"strconv"
	"time"

	"github.com/ryan1234/mule-couchbase/connectors/base"
	"github.com/ryan1234/mule-couchbase/connectors/kvstore"
)

// ConnectorType is the Type of every manager.
const ConnectorType = "kv"

const (
	connectorVersion = "1.0.0"
	defaultName      = "kv-connector"
)

var _ base.Connector = (*Manager)(nil)

// Connect applies config, when given, and initialises the pool.
func (m *Manager) Connect(ctx context.Context, config *base.ConnectorConfig) error {
	if config != nil {
		cfg, err := ConfigFromConnectorConfig(config)
		if err != nil {
			return base.NewConnectorError(config.Name, "Connect", "invalid configuration", err)
		}
		m.mu.Lock()
		if m.pool != nil {
			m.mu.Unlock()
			return base.NewConnectorError(config.Name, "Connect", "already connected", nil)
		}
		m.cfg = cfg
		m.mu.Unlock()
	}
	if err := m.Initialise(ctx); err != nil {
		return base.NewConnectorError(m.Name(), "Connect", "failed to initialise connection pool", err)
	}
	return nil
}

// Disconnect disposes the pool.
func (m *Manager) Disconnect(ctx context.Context) error {
	if err := m.Dispose(ctx); err != nil {
		return base.NewConnectorError(m.Name(), "Disconnect", "failed to close connection pool", err)
	}
	return nil
}

// HealthCheck pings the store through a connection for the default key.
func (m *Manager) HealthCheck(ctx context.Context) (*base.HealthStatus, error) {
	key, err := m.ResolveKey("", "")
	if err != nil {
		return &base.HealthStatus{
			Healthy:   false,
			Timestamp: time.Now(),
			Error:     err.Error(),
		}, nil
	}

	start := time.Now()
	err = m.WithConnection(ctx, key, func(ctx context.Context, conn *kvstore.Connection) error {
		return conn.Ping(ctx)
	})
	latency := time.Since(start)

	if err != nil {
		return &base.HealthStatus{
			Healthy:   false,
			Latency:   latency,
			Timestamp: time.Now(),
			Error:     err.Error(),
		}, nil
	}

	details := map[string]string{
		"connected": "true",
		"uri":       m.Config().URI,
	}
	for bucket, stats := range m.Stats() {
		details["pool."+bucket] = fmt.Sprintf("active=%d idle=%d waiters=%d", stats.Active, stats.Idle, stats.Waiters)
	}

	return &base.HealthStatus{
		Healthy:   true,
		Latency:   latency,
		Details:   details,
		Timestamp: time.Now(),
	}, nil
}

// Query executes a read operation (GET, EXISTS)
func (m *Manager) Query(ctx context.Context, query *base.Query) (*base.QueryResult, error) {
	key, err := requiredParam(query.Parameters, "key")
	if err != nil {
		return nil, base.NewConnectorError(m.Name(), "Query", "invalid parameters", err)
	}
	connKey, err := m.ResolveKey(optionalParam(query.Parameters, "bucket"), optionalParam(query.Parameters, "password"))
	if err != nil {
		return nil, base.NewConnectorError(m.Name(), "Query", "invalid parameters", err)
	}
	ctx, cancel := withTimeout(ctx, query.Timeout)
	defer cancel()

	start := time.Now()
	var row map[string]interface{}

	switch query.Statement {
	case "GET", "EXISTS":
		err = m.WithConnection(ctx, connKey, func(ctx context.Context, conn *kvstore.Connection) error {
			value, found, err := conn.Get(ctx, key)
			if err != nil {
				return err
			}
			if query.Statement == "EXISTS" {
				row = map[string]interface{}{"key": key, "exists": found}
				return nil
			}
			row = map[string]interface{}{"key": key, "found": found, "value": nil}
			if found {
				row["value"] = value
			}
			return nil
		})
	default:
		return nil, base.NewConnectorError(m.Name(), "Query",
			fmt.Sprintf("unsupported operation: %s", query.Statement), nil)
	}

	m.ObserveOperation(query.Statement, start, err)
	if err != nil {
		return nil, base.NewConnectorError(m.Name(), "Query", "query execution failed",
			fmt.Errorf("%w: %w", base.ErrOperationFailed, err))
	}

	return &base.QueryResult{
		Rows:      []map[string]interface{}{row},
		RowCount:  1,
		Duration:  time.Since(start),
		Connector: m.Name(),
	}, nil
}

// Execute executes a write operation (STORE, REMOVE)
func (m *Manager) Execute(ctx context.Context, cmd *base.Command) (*base.CommandResult, error) {
	key, err := requiredParam(cmd.Parameters, "key")
	if err != nil {
		return nil, base.NewConnectorError(m.Name(), "Execute", "invalid parameters", err)
	}
	connKey, err := m.ResolveKey(optionalParam(cmd.Parameters, "bucket"), optionalParam(cmd.Parameters, "password"))
	if err != nil {
		return nil, base.NewConnectorError(m.Name(), "Execute", "invalid parameters", err)
	}
	ctx, cancel := withTimeout(ctx, cmd.Timeout)
	defer cancel()

	start := time.Now()
	var rowsAffected int
	var message string

	switch cmd.Action {
	case "STORE":
		value, verr := requiredParam(cmd.Parameters, "value")
		if verr != nil {
			return nil, base.NewConnectorError(m.Name(), "Execute", "invalid parameters", verr)
		}
		ttl, terr := durationParam(cmd.Parameters, "ttl")
		if terr != nil {
			return nil, base.NewConnectorError(m.Name(), "Execute", "invalid parameters", terr)
		}
		err = m.WithConnection(ctx, connKey, func(ctx context.Context, conn *kvstore.Connection) error {
			return conn.Store(ctx, key, value, ttl)
		})
		rowsAffected = 1
		message = fmt.Sprintf("stored key %s", key)
	case "REMOVE":
		var removed bool
		err = m.WithConnection(ctx, connKey, func(ctx context.Context, conn *kvstore.Connection) error {
			var rerr error
			removed, rerr = conn.Remove(ctx, key)
			return rerr
		})
		if removed {
			rowsAffected = 1
		}
		message = fmt.Sprintf("removed %d key(s)", rowsAffected)
	default:
		return nil, base.NewConnectorError(m.Name(), "Execute",
			fmt.Sprintf("unsupported action: %s", cmd.Action), nil)
	}

	m.ObserveOperation(cmd.Action, start, err)
	if err != nil {
		return nil, base.NewConnectorError(m.Name(), "Execute", "command execution failed",
			fmt.Errorf("%w: %w", base.ErrOperationFailed, err))
	}

	return &base.CommandResult{
		Success:      true,
		RowsAffected: rowsAffected,
		Duration:     time.Since(start),
		Message:      message,
		Connector:    m.Name(),
	}, nil
}

// Name returns the connector name
func (m *Manager) Name() string {
	if name := m.Config().Name; name != "" {
		return name
	}
	return defaultName
}

// Type returns the connector type
func (m *Manager) Type() string {
	return ConnectorType
}

// Version returns the connector version
func (m *Manager) Version() string {
	return connectorVersion
}

// Capabilities returns the list of connector capabilities
func (m *Manager) Capabilities() []string {
	return []string{"query", "execute", "pooling", "kv-store"}
}

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout > 0 {
		return context.WithTimeout(ctx, timeout)
	}
	return context.WithCancel(ctx)
}

func requiredParam(params map[string]interface{}, name string) (string, error) {
	v := optionalParam(params, name)
	if v == "" {
		return "", fmt.Errorf("%s parameter is required", name)
	}
	return v, nil
}

func optionalParam(params map[string]interface{}, name string) string {
	v, ok := params[name]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// durationParam accepts a Go duration string or a number of seconds.
func durationParam(params map[string]interface{}, name string) (time.Duration, error) {
	switch v := params[name].(type) {
	case nil:
		return 0, nil
	case time.Duration:
		return v, nil
	case int:
		return time.Duration(v) * time.Second, nil
	case int64:
		return time.Duration(v) * time.Second, nil
	case float64:
		return time.Duration(v * float64(time.Second)), nil
	case string:
		if v == "" {
			return 0, nil
		}
		if secs, err := strconv.Atoi(v); err == nil {
			return time.Duration(secs) * time.Second, nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", name, err)
		}
		return d, nil
	default:
		return 0, fmt.Errorf("invalid %s type %T", name, v)
	}
}
