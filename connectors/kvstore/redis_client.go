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

	"github.com/go-redis/redis/v8"
)

// Redis client defaults
const (
	DefaultDialTimeout  = 5 * time.Second
	DefaultReadTimeout  = 3 * time.Second
	DefaultWriteTimeout = 3 * time.Second
)

// RedisClient is a Client backed by Redis.
//
// The target URI is a redis:// or rediss:// URL. The credential is sent
// with AUTH and the bucket is a key namespace, so key k of bucket b is
// stored as "b:k".
type RedisClient struct {
	opts *redis.Options

	mu     sync.RWMutex
	client *redis.Client
	bucket string
}

// NewRedisClient parses uri and returns an unconnected client.
func NewRedisClient(uri string) (*RedisClient, error) {
	opts, err := redis.ParseURL(uri)
	if err != nil {
		return nil, fmt.Errorf("failed to parse store URI: %w", err)
	}
	if opts.DialTimeout == 0 {
		opts.DialTimeout = DefaultDialTimeout
	}
	opts.ReadTimeout = DefaultReadTimeout
	opts.WriteTimeout = DefaultWriteTimeout
	// one pooled connection wraps exactly one client
	opts.PoolSize = 1
	opts.MaxRetries = -1
	return &RedisClient{opts: opts}, nil
}

// RedisClientFactory is a ClientFactory producing RedisClients.
func RedisClientFactory(uri string) (Client, error) {
	return NewRedisClient(uri)
}

// Connect opens the client for bucket and authenticates with credential.
// An empty credential keeps the password of the URI.
func (c *RedisClient) Connect(ctx context.Context, bucket, credential string) error {
	opts := *c.opts
	if credential != "" {
		opts.Password = credential
	}
	client := redis.NewClient(&opts)

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return fmt.Errorf("failed to connect to %s: %w", opts.Addr, err)
	}

	c.mu.Lock()
	old := c.client
	c.client = client
	c.bucket = bucket
	c.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}
	return nil
}

// Disconnect closes the client. It is a no-op when not connected.
func (c *RedisClient) Disconnect(_ context.Context) error {
	c.mu.Lock()
	client := c.client
	c.client = nil
	c.mu.Unlock()

	if client == nil {
		return nil
	}
	if err := client.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
		return fmt.Errorf("failed to close connection: %w", err)
	}
	return nil
}

func (c *RedisClient) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.client != nil
}

func (c *RedisClient) Ping(ctx context.Context) error {
	client, _, err := c.current()
	if err != nil {
		return err
	}
	return client.Ping(ctx).Err()
}

func (c *RedisClient) Get(ctx context.Context, key string) (string, bool, error) {
	client, bucket, err := c.current()
	if err != nil {
		return "", false, err
	}
	val, err := client.Get(ctx, namespaced(bucket, key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

func (c *RedisClient) Store(ctx context.Context, key, value string, ttl time.Duration) error {
	client, bucket, err := c.current()
	if err != nil {
		return err
	}
	return client.Set(ctx, namespaced(bucket, key), value, ttl).Err()
}

func (c *RedisClient) Remove(ctx context.Context, key string) (bool, error) {
	client, bucket, err := c.current()
	if err != nil {
		return false, err
	}
	n, err := client.Del(ctx, namespaced(bucket, key)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Addr returns the host:port the client targets.
func (c *RedisClient) Addr() string {
	return c.opts.Addr
}

func (c *RedisClient) current() (*redis.Client, string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.client == nil {
		return nil, "", ErrNotConnected
	}
	return c.client, c.bucket, nil
}

func namespaced(bucket, key string) string {
	if bucket == "" {
		return key
	}
	return bucket + ":" + key
}
