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

package pool

import "errors"

var (
	// ErrConnectionCreationFailed is returned when a new connection cannot be
	// created, activated or validated.
	ErrConnectionCreationFailed = errors.New("connection creation failed")

	// ErrPoolExhausted is returned when a partition is at capacity and the
	// exhausted action is fail, or a wait timed out.
	ErrPoolExhausted = errors.New("pool exhausted")

	// ErrValidationFailed is reported when a connection fails validation after activation.
	ErrValidationFailed = errors.New("connection validation failed")

	// ErrPoolClosed is returned by operations on a closed pool.
	ErrPoolClosed = errors.New("pool closed")
)
