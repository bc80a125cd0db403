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
Package registry provides a thread-safe registry of configured connectors.

# Overview

The Registry is the lookup point for store connectors. It handles:

  - Connector registration and lifecycle management
  - Lazy loading of connectors from their configuration
  - Resolving config-ref names to connection managers
  - Health checking across all registered connectors

# Registering Connectors

	config := &base.ConnectorConfig{
	    Name:          "orders-store",
	    Type:          "kv",
	    ConnectionURL: "redis://localhost:6379",
	    Credentials:   map[string]string{"bucket_name": "orders", "password": "..."},
	    Timeout:       5 * time.Second,
	}

	err := registry.Register("orders-store", kvconnector.NewManager(kvconnector.Config{}), config)

# Resolving config-ref

Processors look up their connection manager by name. An empty name
resolves to the only registered connector:

	manager, err := registry.Manager("orders-store")

# Graceful Shutdown

	registry.DisconnectAll(ctx)
*/
package registry
