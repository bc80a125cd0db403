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

package base

import (
	"context"
	"time"
)

// Connector defines the interface that all store connectors implement
type Connector interface {
	// Lifecycle Management
	Connect(ctx context.Context, config *ConnectorConfig) error
	Disconnect(ctx context.Context) error
	HealthCheck(ctx context.Context) (*HealthStatus, error)

	// Read operations (GET, EXISTS)
	Query(ctx context.Context, query *Query) (*QueryResult, error)

	// Write operations (STORE, REMOVE)
	Execute(ctx context.Context, cmd *Command) (*CommandResult, error)

	// Metadata
	Name() string           // Unique connector instance name
	Type() string           // Connector type (kv)
	Version() string        // Connector version
	Capabilities() []string // List of capabilities (query, execute, pooling)
}

// ConnectorConfig holds the configuration for a connector instance
type ConnectorConfig struct {
	Name          string                 `json:"name"`           // Unique name, referenced by config-ref
	Type          string                 `json:"type"`           // Connector type
	ConnectionURL string                 `json:"connection_url"` // Target service URI
	Credentials   map[string]string      `json:"credentials"`    // bucket_name, password
	Options       map[string]interface{} `json:"options"`        // Pooling profile and connector options
	Timeout       time.Duration          `json:"timeout"`        // Operation timeout (default: 5s)
	MaxRetries    int                    `json:"max_retries"`    // Retry count for connection-class failures
}

// Query represents a read operation
type Query struct {
	Statement  string                 `json:"statement"`  // GET or EXISTS
	Parameters map[string]interface{} `json:"parameters"` // key, bucket, password
	Timeout    time.Duration          `json:"timeout"`    // Override default timeout
}

// QueryResult contains the results of a Query operation
type QueryResult struct {
	Rows      []map[string]interface{} `json:"rows"`
	RowCount  int                      `json:"row_count"`
	Duration  time.Duration            `json:"duration"`
	Connector string                   `json:"connector"`
	Metadata  map[string]interface{}   `json:"metadata,omitempty"`
}

// Command represents a write operation
type Command struct {
	Action     string                 `json:"action"`     // STORE or REMOVE
	Parameters map[string]interface{} `json:"parameters"` // key, value, ttl, bucket, password
	Timeout    time.Duration          `json:"timeout"`
}

// CommandResult contains the results of a Command execution
type CommandResult struct {
	Success      bool                   `json:"success"`
	RowsAffected int                    `json:"rows_affected"`
	Duration     time.Duration          `json:"duration"`
	Message      string                 `json:"message"`
	Connector    string                 `json:"connector"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// HealthStatus represents the health of a connector
type HealthStatus struct {
	Healthy   bool              `json:"healthy"`
	Latency   time.Duration     `json:"latency"`
	Details   map[string]string `json:"details"`
	Timestamp time.Time         `json:"timestamp"`
	Error     string            `json:"error"`
}
