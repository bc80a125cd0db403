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

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
)

var (
	// ErrNotConnected is returned by data operations on a client or
	// connection that is not connected.
	ErrNotConnected = errors.New("not connected")

	// ErrInvalidTransition is returned when a lifecycle method is called in
	// a state that does not allow it.
	ErrInvalidTransition = errors.New("invalid lifecycle transition")
)

// Client is the boundary to the key-value store. The wire protocol lives
// behind it.
type Client interface {
	Connect(ctx context.Context, bucket, credential string) error
	Disconnect(ctx context.Context) error
	IsConnected() bool
	Ping(ctx context.Context) error
	// Get returns the value and whether the key exists.
	Get(ctx context.Context, key string) (string, bool, error)
	// Store writes the value. A zero ttl keeps the key forever.
	Store(ctx context.Context, key, value string, ttl time.Duration) error
	// Remove deletes the key and reports whether it existed.
	Remove(ctx context.Context, key string) (bool, error)
}

// ClientFactory builds an unconnected client for a target URI.
type ClientFactory func(uri string) (Client, error)

// IsConnectionError reports whether err means the store could not be
// reached, as opposed to the store rejecting the operation.
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNotConnected) ||
		errors.Is(err, redis.ErrClosed) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"connection refused", "connection reset", "broken pipe", "i/o timeout"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
