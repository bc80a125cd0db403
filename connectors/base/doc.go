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

/*
Package base provides the core interfaces and types shared by key-value
store connectors.

# Overview

A connector exposes read operations through Query and write operations
through Execute. Both run against a pooled store connection chosen by the
bucket and credential carried in the request parameters.

# Connector Interface

	type Connector interface {
	    Connect(ctx context.Context, config *ConnectorConfig) error
	    Disconnect(ctx context.Context) error
	    HealthCheck(ctx context.Context) (*HealthStatus, error)

	    Query(ctx context.Context, query *Query) (*QueryResult, error)
	    Execute(ctx context.Context, cmd *Command) (*CommandResult, error)

	    Name() string
	    Type() string
	    Version() string
	    Capabilities() []string
	}

# Query Operations

	query := &Query{
	    Statement:  "GET",
	    Parameters: map[string]interface{}{"key": "order-42", "bucket": "orders"},
	}

	result, err := connector.Query(ctx, query)

# Command Operations

	cmd := &Command{
	    Action:     "STORE",
	    Parameters: map[string]interface{}{"key": "order-42", "value": "{...}"},
	}

	result, err := connector.Execute(ctx, cmd)

# Error Handling

Failures are reported as *ConnectorError. The error kinds are sentinels
matched with errors.Is:

	if errors.Is(err, base.ErrOperationFailed) {
	    // the store call itself failed
	}

# Thread Safety

Connector implementations must be safe for concurrent use.
*/
package base
