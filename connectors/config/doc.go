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
Package config loads key-value connector definitions and the flows that use
them.

Three sources are supported:

  - XML documents in the Mule bean-definition layout, with <config> and
    <connection-pooling-profile> elements and <flow> elements holding
    <get>, <store> and <remove> operations. Namespace prefixes are ignored.
  - YAML files, with ${VAR} and ${VAR:-default} environment expansion.
  - Environment variables prefixed with KV_<NAME>_.

Passwords of the form secret:<ref>#<field> are resolved through a
SecretsManager before connectors are built.

Example YAML:

	version: "1.0"
	service:
	  listen_addr: ":8080"
	  lazy_connect: false
	connectors:
	  orders:
	    uri: redis://localhost:6379
	    bucket_name: orders
	    password: ${ORDERS_PASSWORD}
	    connection_pooling_profile:
	      max_active: 10
	      exhausted_action: WHEN_EXHAUSTED_WAIT
	flows:
	  - name: archive
	    steps:
	      - operation: store
	        key: "#[flowVars.id]"
	        value: "#[payload]"
*/
package config
