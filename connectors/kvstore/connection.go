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
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// State is the lifecycle state of a Connection.
type State int

const (
	StateCreated State = iota
	StateInitialised
	StateStarted
	StateConnected
	StateDisconnected
	StateStopped
	StateDisposed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateInitialised:
		return "initialised"
	case StateStarted:
		return "started"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateStopped:
		return "stopped"
	case StateDisposed:
		return "disposed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Connection is a pooled handle on a store client.
//
// Its lifecycle is Created, Initialised, Started, then Connected and
// Disconnected any number of times, then Stopped and Disposed. Stop is
// allowed while still connected so teardown can finish after a failed
// disconnect. Nothing leaves Disposed.
type Connection struct {
	id        string
	newClient ClientFactory
	logger    *zap.Logger

	mu      sync.Mutex
	state   State
	uri     string
	session *Session
}

// NewConnection creates a connection in the Created state.
func NewConnection(newClient ClientFactory, logger *zap.Logger) *Connection {
	if logger == nil {
		logger = zap.NewNop()
	}
	id := uuid.NewString()
	return &Connection{
		id:        id,
		newClient: newClient,
		logger:    logger.With(zap.String("connection_id", id)),
		state:     StateCreated,
	}
}

// ID returns the identifier used in logs.
func (c *Connection) ID() string {
	return c.id
}

// State returns the current lifecycle state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// URI returns the configured target URI.
func (c *Connection) URI() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.uri
}

// SetURI configures the target. Only allowed before Initialise.
func (c *Connection) SetURI(uri string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateCreated {
		return c.transitionError("set uri")
	}
	c.uri = uri
	return nil
}

// Initialise builds the store client for the configured URI.
func (c *Connection) Initialise() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateCreated {
		return c.transitionError("initialise")
	}
	if c.uri == "" {
		return errors.New("target URI is not set")
	}
	client, err := c.newClient(c.uri)
	if err != nil {
		return err
	}
	c.session = NewSession(client)
	c.state = StateInitialised
	return nil
}

// Start makes an initialised connection ready to connect.
func (c *Connection) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateInitialised {
		return c.transitionError("start")
	}
	c.state = StateStarted
	return nil
}

// Connect opens the session for bucket with credential. A failed attempt
// leaves the state unchanged.
func (c *Connection) Connect(ctx context.Context, bucket, credential string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateStarted && c.state != StateDisconnected {
		return c.transitionError("connect")
	}
	if err := c.session.Client().Connect(ctx, bucket, credential); err != nil {
		return err
	}
	c.state = StateConnected
	c.logger.Debug("Connection connected", zap.String("bucket", bucket))
	return nil
}

// Disconnect closes the session. It is a no-op unless connected.
func (c *Connection) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case StateDisposed:
		return c.transitionError("disconnect")
	case StateConnected:
	default:
		return nil
	}
	err := c.session.Client().Disconnect(ctx)
	c.state = StateDisconnected
	if err != nil {
		return err
	}
	c.logger.Debug("Connection disconnected")
	return nil
}

// IsConnected reports whether the connection is connected and its client agrees.
func (c *Connection) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateConnected && c.session.Client().IsConnected()
}

// Stop ends the started phase.
func (c *Connection) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case StateStarted, StateConnected, StateDisconnected:
		c.state = StateStopped
		return nil
	default:
		return c.transitionError("stop")
	}
}

// Dispose releases the session. The connection cannot be used afterwards.
func (c *Connection) Dispose() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateDisposed {
		return c.transitionError("dispose")
	}
	if c.session != nil && c.session.Client().IsConnected() {
		_ = c.session.Client().Disconnect(context.Background())
	}
	c.session = nil
	c.state = StateDisposed
	return nil
}

// Session returns the session, or nil before Initialise and after Dispose.
func (c *Connection) Session() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

func (c *Connection) Ping(ctx context.Context) error {
	client, err := c.connectedClient()
	if err != nil {
		return err
	}
	return client.Ping(ctx)
}

func (c *Connection) Get(ctx context.Context, key string) (string, bool, error) {
	client, err := c.connectedClient()
	if err != nil {
		return "", false, err
	}
	return client.Get(ctx, key)
}

func (c *Connection) Store(ctx context.Context, key, value string, ttl time.Duration) error {
	client, err := c.connectedClient()
	if err != nil {
		return err
	}
	return client.Store(ctx, key, value, ttl)
}

func (c *Connection) Remove(ctx context.Context, key string) (bool, error) {
	client, err := c.connectedClient()
	if err != nil {
		return false, err
	}
	return client.Remove(ctx, key)
}

func (c *Connection) connectedClient() (Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateConnected {
		return nil, fmt.Errorf("connection %s is %s: %w", c.id, c.state, ErrNotConnected)
	}
	return c.session.Client(), nil
}

// transitionError builds the error for op in the current state. Caller must hold c.mu.
func (c *Connection) transitionError(op string) error {
	return fmt.Errorf("%w: cannot %s connection in state %s", ErrInvalidTransition, op, c.state)
}
