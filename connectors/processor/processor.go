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

// Package processor implements the get, store and remove message
// processors and the flows that chain them.
package processor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/ryan1234/mule-couchbase/connectors/base"
	"github.com/ryan1234/mule-couchbase/connectors/kvconnector"
	"github.com/ryan1234/mule-couchbase/connectors/kvstore"
	"github.com/ryan1234/mule-couchbase/connectors/pool"
	"github.com/ryan1234/mule-couchbase/connectors/value"
)

// DefaultRetryMax is the number of retries after a connection failure.
const DefaultRetryMax = 1

// RemovedProperty is set by the remove processor to whether the key existed.
const RemovedProperty = "kv.removed"

// MaxTTLSeconds is the largest expiry a store accepts.
const MaxTTLSeconds = int64(math.MaxInt64 / int64(time.Second))

var (
	ErrConfigNotFound = errors.New("Cannot find the configuration specified by the config-ref attribute.")
	ErrMissingKey     = errors.New("key is required")
	ErrInvalidTTL     = fmt.Errorf("ttl must be between 0 and %d seconds", MaxTTLSeconds)
)

// Resolver finds the connection manager named by a config-ref. An empty
// reference selects the only configured manager.
type Resolver interface {
	Manager(configRef string) (*kvconnector.Manager, error)
}

// Processor transforms a message.
type Processor interface {
	Name() string
	Process(ctx context.Context, msg *value.Message) (*value.Message, error)
}

// Args are the raw arguments of an operation. String values may contain
// #[...] expressions unless Literal is set; a Null bucket or password falls
// back to the configuration. A negative RetryMax counts as zero.
type Args struct {
	ConfigRef  string
	Key        value.Value
	BucketName value.Value
	Password   value.Value
	RetryMax   int
	// Literal uses every argument as given, without evaluating expressions.
	Literal bool
}

// NewArgs returns arguments for key with the default retry count.
func NewArgs(configRef, key string) Args {
	return Args{ConfigRef: configRef, Key: value.String(key), RetryMax: DefaultRetryMax}
}

// NewLiteralArgs returns arguments whose key and values are never
// evaluated, so keys containing #[ can be addressed.
func NewLiteralArgs(configRef, key string) Args {
	args := NewArgs(configRef, key)
	args.Literal = true
	return args
}

// Option configures a processor.
type Option func(*operation)

// WithLogger sets the processor logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *operation) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithRetryInterval sets the wait before the first retry.
func WithRetryInterval(d time.Duration) Option {
	return func(o *operation) {
		o.retryInterval = d
	}
}

type invokeFunc func(ctx context.Context, conn *kvstore.Connection, key string) error

type operation struct {
	name          string // Get, Store or Remove
	statement     string // GET, STORE or REMOVE
	args          Args
	resolver      Resolver
	logger        *zap.Logger
	retryInterval time.Duration
}

func newOperation(name, statement string, resolver Resolver, args Args, opts []Option) operation {
	o := operation{
		name:          name,
		statement:     statement,
		args:          args,
		resolver:      resolver,
		logger:        zap.NewNop(),
		retryInterval: DefaultRetryConfig(0).InitialInterval,
	}
	for _, opt := range opts {
		opt(&o)
	}
	o.logger = o.logger.With(zap.String("operation", statement))
	return o
}

// Args returns the raw arguments.
func (o *operation) Args() Args {
	return o.args
}

// run resolves the arguments and invokes the operation on a pooled
// connection, retrying connection failures up to RetryMax times.
func (o *operation) run(ctx context.Context, msg *value.Message, invoke invokeFunc) error {
	m, err := o.resolver.Manager(o.args.ConfigRef)
	if err != nil {
		return base.NewConnectorError(o.args.ConfigRef, o.name, ErrConfigNotFound.Error(), err)
	}
	cfg := m.Config()

	bucket, err := o.resolveDefaulted(o.args.BucketName, cfg.BucketName, msg, kvconnector.ErrMissingBucket)
	if err != nil {
		return base.NewConnectorError(m.Name(), o.name, "failed to create "+o.name, err)
	}
	password, err := o.resolveDefaulted(o.args.Password, cfg.Password, msg, kvconnector.ErrMissingPassword)
	if err != nil {
		return base.NewConnectorError(m.Name(), o.name, "failed to create "+o.name, err)
	}
	key, err := o.resolveString(o.args.Key, msg)
	if err == nil && key == "" {
		err = ErrMissingKey
	}
	if err != nil {
		return base.NewConnectorError(m.Name(), o.name, "failed to create "+o.name, err)
	}
	connKey := pool.NewConnectionKey(bucket, password)

	retry := DefaultRetryConfig(o.args.RetryMax)
	retry.InitialInterval = o.retryInterval
	retry.OnRetry = func(attempt int, err error, wait time.Duration) {
		o.logger.Warn("Retrying after connection failure",
			zap.Int("attempt", attempt),
			zap.Int("retry_max", o.args.RetryMax),
			zap.Duration("wait", wait),
			zap.Error(err))
	}

	start := time.Now()
	err = RetryWithBackoff(ctx, retry, func(attempt int) error {
		return m.WithConnection(ctx, connKey, func(ctx context.Context, conn *kvstore.Connection) error {
			o.logger.Debug("Invoking operation",
				zap.String("connection_id", conn.ID()),
				zap.String("bucket", bucket),
				zap.String("key", key),
				zap.Int("attempt", attempt))
			return invoke(ctx, conn, key)
		})
	})
	m.ObserveOperation(o.statement, start, err)

	if err != nil {
		return base.NewConnectorError(m.Name(), o.name, "failed to invoke "+o.name,
			fmt.Errorf("%w: %w", base.ErrOperationFailed, err))
	}
	return nil
}

func (o *operation) resolveDefaulted(raw value.Value, fallback string, msg *value.Message, missing error) (string, error) {
	if raw.IsNull() {
		if fallback == "" {
			return "", missing
		}
		raw = value.String(fallback)
	}
	s, err := o.resolveString(raw, msg)
	if err != nil {
		return "", err
	}
	if s == "" {
		return "", missing
	}
	return s, nil
}

func (o *operation) resolveString(raw value.Value, msg *value.Message) (string, error) {
	v, err := o.resolve(raw, msg, value.StringType)
	if err != nil {
		return "", err
	}
	return v.String(), nil
}

func (o *operation) resolve(raw value.Value, msg *value.Message, t value.Type) (value.Value, error) {
	if o.args.Literal {
		return value.Coerce(raw, t)
	}
	return value.Resolve(raw, msg, t)
}

// GetProcessor reads a key and replaces the payload with its value, or
// null when the key does not exist.
type GetProcessor struct {
	operation
}

// NewGetProcessor creates a get processor.
func NewGetProcessor(resolver Resolver, args Args, opts ...Option) *GetProcessor {
	return &GetProcessor{operation: newOperation("Get", "GET", resolver, args, opts)}
}

func (p *GetProcessor) Name() string { return "get" }

func (p *GetProcessor) Process(ctx context.Context, msg *value.Message) (*value.Message, error) {
	result := value.Null()
	err := p.run(ctx, msg, func(ctx context.Context, conn *kvstore.Connection, key string) error {
		v, found, err := conn.Get(ctx, key)
		if err != nil {
			return err
		}
		if found {
			result = value.String(v)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	msg.Payload = result
	return msg, nil
}

// StoreArgs extends Args with the value to write and an optional TTL in seconds.
type StoreArgs struct {
	Args
	Value value.Value
	TTL   value.Value
}

// StoreProcessor writes a value. Sequences and mappings are stored as JSON.
// The payload is left untouched.
type StoreProcessor struct {
	operation
	value value.Value
	ttl   value.Value
}

// NewStoreProcessor creates a store processor.
func NewStoreProcessor(resolver Resolver, args StoreArgs, opts ...Option) *StoreProcessor {
	return &StoreProcessor{
		operation: newOperation("Store", "STORE", resolver, args.Args, opts),
		value:     args.Value,
		ttl:       args.TTL,
	}
}

func (p *StoreProcessor) Name() string { return "store" }

func (p *StoreProcessor) Process(ctx context.Context, msg *value.Message) (*value.Message, error) {
	stored, err := p.resolveString(p.value, msg)
	if err != nil {
		return nil, base.NewConnectorError(p.args.ConfigRef, p.name, "failed to create "+p.name, err)
	}
	var ttl time.Duration
	if !p.ttl.IsNull() {
		secs, err := p.resolve(p.ttl, msg, value.IntType)
		if err != nil {
			return nil, base.NewConnectorError(p.args.ConfigRef, p.name, "failed to create "+p.name, err)
		}
		n, _ := secs.Scalar().(int64)
		if n < 0 || n > MaxTTLSeconds {
			return nil, base.NewConnectorError(p.args.ConfigRef, p.name, "failed to create "+p.name,
				fmt.Errorf("%w: %d", ErrInvalidTTL, n))
		}
		ttl = time.Duration(n) * time.Second
	}

	err = p.run(ctx, msg, func(ctx context.Context, conn *kvstore.Connection, key string) error {
		return conn.Store(ctx, key, stored, ttl)
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// RemoveProcessor deletes a key and records whether it existed in the
// kv.removed property. The payload is left untouched.
type RemoveProcessor struct {
	operation
}

// NewRemoveProcessor creates a remove processor.
func NewRemoveProcessor(resolver Resolver, args Args, opts ...Option) *RemoveProcessor {
	return &RemoveProcessor{operation: newOperation("Remove", "REMOVE", resolver, args, opts)}
}

func (p *RemoveProcessor) Name() string { return "remove" }

func (p *RemoveProcessor) Process(ctx context.Context, msg *value.Message) (*value.Message, error) {
	var removed bool
	err := p.run(ctx, msg, func(ctx context.Context, conn *kvstore.Connection, key string) error {
		var err error
		removed, err = conn.Remove(ctx, key)
		return err
	})
	if err != nil {
		return nil, err
	}
	msg.SetProperty(RemovedProperty, value.Bool(removed))
	return msg, nil
}
