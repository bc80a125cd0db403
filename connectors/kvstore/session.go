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

package kvstore

// Session exposes the store client owned by a connection.
type Session struct {
	client Client
}

// NewSession wraps client.
func NewSession(client Client) *Session {
	return &Session{client: client}
}

// Client returns the underlying store client.
func (s *Session) Client() Client {
	return s.client
}
