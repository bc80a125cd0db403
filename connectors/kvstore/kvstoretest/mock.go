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

// Package kvstoretest provides an in-memory store client for tests.
package kvstoretest

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ryan1234/mule-couchbase/connectors/kvstore"
)

// MockStore is an in-memory store shared by the clients it creates.
// Error fields inject failures into every client.
type MockStore struct {
	mu   sync.Mutex
	data map[string]string

	ConnectError    error
	DisconnectError error
	OperationError  error
	FactoryError    error

	// Credential, when set, is the only credential Connect accepts.
	Credential string

	clients     []*MockClient
	connects    int
	disconnects int
}

// NewMockStore creates an empty store.
func NewMockStore() *MockStore {
	return &MockStore{data: make(map[string]string)}
}

// Factory returns a ClientFactory creating clients of this store.
func (s *MockStore) Factory() kvstore.ClientFactory {
	return func(uri string) (kvstore.Client, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.FactoryError != nil {
			return nil, s.FactoryError
		}
		c := &MockClient{store: s, URI: uri}
		s.clients = append(s.clients, c)
		return c, nil
	}
}

// Set configures the store under its lock.
func (s *MockStore) Set(fn func(s *MockStore)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s)
}

// Value returns the raw value stored under bucket and key.
func (s *MockStore) Value(bucket, key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[bucket+":"+key]
	return v, ok
}

// Put writes a raw value.
func (s *MockStore) Put(bucket, key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[bucket+":"+key] = value
}

// Clients returns every client created so far.
func (s *MockStore) Clients() []*MockClient {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*MockClient(nil), s.clients...)
}

// Connects returns the number of successful Connect calls.
func (s *MockStore) Connects() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connects
}

// Disconnects returns the number of Disconnect calls on connected clients.
func (s *MockStore) Disconnects() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disconnects
}

// MockClient is a kvstore.Client over a MockStore.
type MockClient struct {
	store *MockStore
	URI   string

	mu         sync.Mutex
	connected  bool
	bucket     string
	credential string
}

func (c *MockClient) Connect(_ context.Context, bucket, credential string) error {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	if c.store.ConnectError != nil {
		return c.store.ConnectError
	}
	if c.store.Credential != "" && c.store.Credential != credential {
		return ErrAuth
	}
	c.store.connects++

	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = true
	c.bucket = bucket
	c.credential = credential
	return nil
}

func (c *MockClient) Disconnect(_ context.Context) error {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return nil
	}
	c.store.disconnects++
	if c.store.DisconnectError != nil {
		return c.store.DisconnectError
	}
	c.connected = false
	return nil
}

func (c *MockClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Drop simulates the server closing the client.
func (c *MockClient) Drop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
}

// Credential returns the credential of the last successful Connect.
func (c *MockClient) Credential() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.credential
}

func (c *MockClient) Ping(_ context.Context) error {
	_, err := c.prefix()
	return err
}

func (c *MockClient) Get(_ context.Context, key string) (string, bool, error) {
	bucket, err := c.prefix()
	if err != nil {
		return "", false, err
	}
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	v, ok := c.store.data[bucket+":"+key]
	return v, ok, nil
}

func (c *MockClient) Store(_ context.Context, key, value string, _ time.Duration) error {
	bucket, err := c.prefix()
	if err != nil {
		return err
	}
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	c.store.data[bucket+":"+key] = value
	return nil
}

func (c *MockClient) Remove(_ context.Context, key string) (bool, error) {
	bucket, err := c.prefix()
	if err != nil {
		return false, err
	}
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	_, ok := c.store.data[bucket+":"+key]
	delete(c.store.data, bucket+":"+key)
	return ok, nil
}

func (c *MockClient) prefix() (string, error) {
	c.store.mu.Lock()
	opErr := c.store.OperationError
	c.store.mu.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return "", kvstore.ErrNotConnected
	}
	if opErr != nil {
		return "", opErr
	}
	return c.bucket, nil
}

// ErrAuth is returned by Connect when the credential does not match.
var ErrAuth = errors.New("WRONGPASS invalid username-password pair")
