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

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Factory supplies the lifecycle hooks of pooled connections.
//
// Hooks receive the key passed by the caller of the pool operation, so a
// connection may be activated with a different credential than the one it
// was created for when both keys share a partition.
type Factory[C any] interface {
	// Create builds a ready-to-use, not yet connected, connection.
	Create(ctx context.Context, key ConnectionKey) (C, error)
	// Validate reports whether the connection is usable. A panic counts as invalid.
	Validate(ctx context.Context, key ConnectionKey, conn C) bool
	// Activate runs when a connection is checked out.
	Activate(ctx context.Context, key ConnectionKey, conn C) error
	// Passivate runs when a connection is returned.
	Passivate(ctx context.Context, key ConnectionKey, conn C) error
	// Destroy releases every resource held by the connection.
	Destroy(ctx context.Context, key ConnectionKey, conn C) error
}

// Observer receives pool events. Implementations must be safe for concurrent use.
type Observer interface {
	ConnectionCreated(partition string)
	ConnectionDestroyed(partition string)
	PoolExhausted(partition string)
	ValidationFailed(partition string)
	WaitCompleted(partition string, waited time.Duration)
}

type nopObserver struct{}

func (nopObserver) ConnectionCreated(string)            {}
func (nopObserver) ConnectionDestroyed(string)          {}
func (nopObserver) PoolExhausted(string)                {}
func (nopObserver) ValidationFailed(string)             {}
func (nopObserver) WaitCompleted(string, time.Duration) {}

// Stats is a snapshot of one partition.
type Stats struct {
	Partition string `json:"partition"`
	Active    int    `json:"active"`
	Idle      int    `json:"idle"`
	Waiters   int    `json:"waiters"`
	Created   uint64 `json:"created"`
	Destroyed uint64 `json:"destroyed"`
}

// Option configures a KeyedPool.
type Option func(*options)

type options struct {
	logger   *zap.Logger
	observer Observer
}

// WithLogger sets the pool logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithObserver sets the receiver of pool events.
func WithObserver(obs Observer) Option {
	return func(o *options) {
		if obs != nil {
			o.observer = obs
		}
	}
}

type idleConn[C any] struct {
	conn  C
	since time.Time
}

type partition[C any] struct {
	name      string
	idle      []idleConn[C] // LIFO, most recently returned last
	active    int
	created   uint64
	destroyed uint64
	waiters   []chan struct{}
}

// KeyedPool is a pool of connections partitioned by ConnectionKey.
//
// A single mutex guards the partitions; factory hooks always run outside it.
// Unless the exhausted action is ExhaustedGrow, active plus idle connections
// of a partition never exceed MaxActive.
type KeyedPool[C any] struct {
	factory  Factory[C]
	profile  PoolingProfile
	logger   *zap.Logger
	observer Observer

	mu         sync.Mutex
	partitions map[string]*partition[C]
	closed     bool

	closeOnce sync.Once
	stopChan  chan struct{}
	evictDone chan struct{}
}

// NewKeyedPool creates a pool. When the profile enables eviction a background
// goroutine destroys stale idle connections until Close is called.
func NewKeyedPool[C any](factory Factory[C], profile PoolingProfile, opts ...Option) *KeyedPool[C] {
	o := options{logger: zap.NewNop(), observer: nopObserver{}}
	for _, opt := range opts {
		opt(&o)
	}

	p := &KeyedPool[C]{
		factory:    factory,
		profile:    profile,
		logger:     o.logger,
		observer:   o.observer,
		partitions: make(map[string]*partition[C]),
		stopChan:   make(chan struct{}),
		evictDone:  make(chan struct{}),
	}

	if profile.evictionEnabled() {
		go p.evictLoop()
	} else {
		close(p.evictDone)
	}
	return p
}

// Profile returns the pooling profile the pool was created with.
func (p *KeyedPool[C]) Profile() PoolingProfile {
	return p.profile
}

// Acquire checks out a connection for key.
//
// Idle connections are reused most recent first. An idle connection that
// fails activation or validation is destroyed and another one is tried. A
// new connection that fails is destroyed and ErrConnectionCreationFailed is
// returned.
func (p *KeyedPool[C]) Acquire(ctx context.Context, key ConnectionKey) (C, error) {
	var zero C
	var timeout <-chan time.Time
	var waitStart time.Time

	for {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return zero, ErrPoolClosed
		}
		part := p.partitionLocked(key)

		if n := len(part.idle); n > 0 {
			entry := part.idle[n-1]
			part.idle = part.idle[:n-1]
			part.active++
			p.mu.Unlock()
			p.waitCompleted(part.name, waitStart)

			if err := p.prepare(ctx, key, entry.conn); err != nil {
				p.logger.Debug("Discarding idle connection",
					zap.String("bucket", part.name),
					zap.Error(err))
				if derr := p.Destroy(ctx, key, entry.conn); derr != nil {
					p.logger.Warn("Failed to destroy idle connection",
						zap.String("bucket", part.name),
						zap.Error(derr))
				}
				continue
			}
			return entry.conn, nil
		}

		if part.active < p.profile.maxActive() || p.profile.ExhaustedAction == ExhaustedGrow {
			part.active++
			p.mu.Unlock()
			p.waitCompleted(part.name, waitStart)
			return p.create(ctx, key, part.name)
		}

		p.observer.PoolExhausted(part.name)
		if p.profile.ExhaustedAction == ExhaustedFail {
			p.mu.Unlock()
			return zero, fmt.Errorf("%w: bucket %s has %d active connections", ErrPoolExhausted, part.name, part.active)
		}

		wake := make(chan struct{}, 1)
		part.waiters = append(part.waiters, wake)
		p.mu.Unlock()

		if waitStart.IsZero() {
			waitStart = time.Now()
			if p.profile.MaxWait > 0 {
				timer := time.NewTimer(p.profile.MaxWait)
				defer timer.Stop()
				timeout = timer.C
			}
		}

		select {
		case <-wake:
		case <-ctx.Done():
			p.abandonWait(part, wake)
			return zero, fmt.Errorf("%w: %w", ErrPoolExhausted, ctx.Err())
		case <-timeout:
			p.abandonWait(part, wake)
			return zero, fmt.Errorf("%w: timed out after %s waiting for bucket %s", ErrPoolExhausted, p.profile.MaxWait, part.name)
		}
	}
}

// Release returns a checked-out connection to its partition.
//
// An invalid connection is destroyed. A Passivate error destroys the
// connection and is returned. When the pool is closed or the partition
// already holds MaxIdle idle connections the connection is destroyed.
func (p *KeyedPool[C]) Release(ctx context.Context, key ConnectionKey, conn C) error {
	if !p.validate(ctx, key, conn) {
		p.destroyQuietly(ctx, key, conn, "invalid connection returned")
		return nil
	}

	if err := p.factory.Passivate(ctx, key, conn); err != nil {
		p.destroyQuietly(ctx, key, conn, "passivate failed")
		return fmt.Errorf("passivate connection for bucket %s: %w", key.Partition(), err)
	}

	p.mu.Lock()
	part := p.partitionLocked(key)
	if p.closed || len(part.idle) >= p.profile.maxIdle() {
		p.mu.Unlock()
		p.destroyQuietly(ctx, key, conn, "idle limit reached")
		return nil
	}
	if part.active > 0 {
		part.active--
	}
	part.idle = append(part.idle, idleConn[C]{conn: conn, since: time.Now()})
	p.wakeLocked(part)
	p.mu.Unlock()
	return nil
}

// Destroy removes a checked-out connection from the pool and tears it down.
// The factory's Destroy error is returned for the caller to log.
func (p *KeyedPool[C]) Destroy(ctx context.Context, key ConnectionKey, conn C) error {
	p.mu.Lock()
	part := p.partitionLocked(key)
	if part.active > 0 {
		part.active--
	}
	part.destroyed++
	p.wakeLocked(part)
	p.mu.Unlock()

	return p.teardown(ctx, key, part.name, conn)
}

// Prefill creates up to n idle connections for key without activating them.
// It stops early at the MaxActive or MaxIdle limit and returns how many
// connections were added.
func (p *KeyedPool[C]) Prefill(ctx context.Context, key ConnectionKey, n int) (int, error) {
	added := 0
	for added < n {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return added, ErrPoolClosed
		}
		part := p.partitionLocked(key)
		if part.active+len(part.idle) >= p.profile.maxActive() || len(part.idle) >= p.profile.maxIdle() {
			p.mu.Unlock()
			break
		}
		part.active++
		p.mu.Unlock()

		conn, err := p.factory.Create(ctx, key)

		p.mu.Lock()
		part.active--
		if err != nil {
			p.wakeLocked(part)
			p.mu.Unlock()
			return added, fmt.Errorf("%w: %w", ErrConnectionCreationFailed, err)
		}
		part.created++
		part.idle = append(part.idle, idleConn[C]{conn: conn, since: time.Now()})
		p.wakeLocked(part)
		p.mu.Unlock()

		p.observer.ConnectionCreated(part.name)
		added++
	}
	return added, nil
}

// Clear destroys the idle connections of key's partition.
func (p *KeyedPool[C]) Clear(ctx context.Context, key ConnectionKey) error {
	p.mu.Lock()
	part, ok := p.partitions[key.Partition()]
	if !ok {
		p.mu.Unlock()
		return nil
	}
	idle := part.idle
	part.idle = nil
	part.destroyed += uint64(len(idle))
	p.wakeLocked(part)
	p.mu.Unlock()

	var errs []error
	for _, entry := range idle {
		if err := p.teardown(ctx, key, part.name, entry.conn); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close stops the evictor, fails waiting and future acquires with
// ErrPoolClosed and destroys all idle connections. Connections still
// checked out are destroyed when they are released. Close is idempotent.
func (p *KeyedPool[C]) Close(ctx context.Context) error {
	var errs []error
	p.closeOnce.Do(func() {
		close(p.stopChan)
		<-p.evictDone

		type pending struct {
			key  ConnectionKey
			name string
			conn C
		}
		var idle []pending

		p.mu.Lock()
		p.closed = true
		for name, part := range p.partitions {
			for _, entry := range part.idle {
				idle = append(idle, pending{key: NewConnectionKey(name, ""), name: name, conn: entry.conn})
			}
			part.destroyed += uint64(len(part.idle))
			part.idle = nil
			for len(part.waiters) > 0 {
				p.wakeLocked(part)
			}
		}
		p.mu.Unlock()

		for _, entry := range idle {
			if err := p.teardown(ctx, entry.key, entry.name, entry.conn); err != nil {
				errs = append(errs, err)
			}
		}
		p.logger.Info("Connection pool closed", zap.Int("destroyed_idle", len(idle)))
	})
	return errors.Join(errs...)
}

// Stats returns a snapshot of key's partition.
func (p *KeyedPool[C]) Stats(key ConnectionKey) Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	part, ok := p.partitions[key.Partition()]
	if !ok {
		return Stats{Partition: key.Partition()}
	}
	return part.stats()
}

// AllStats returns a snapshot of every partition.
func (p *KeyedPool[C]) AllStats() map[string]Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]Stats, len(p.partitions))
	for name, part := range p.partitions {
		out[name] = part.stats()
	}
	return out
}

// EvictIdle destroys idle connections older than MinEvictableIdle and
// returns how many were removed. It is a no-op when MinEvictableIdle is not positive.
func (p *KeyedPool[C]) EvictIdle(ctx context.Context) int {
	if p.profile.MinEvictableIdle <= 0 {
		return 0
	}
	cutoff := time.Now().Add(-p.profile.MinEvictableIdle)

	type stale struct {
		name string
		conn C
	}
	var evicted []stale

	p.mu.Lock()
	for name, part := range p.partitions {
		before := len(evicted)
		kept := part.idle[:0]
		for _, entry := range part.idle {
			if entry.since.Before(cutoff) {
				evicted = append(evicted, stale{name: name, conn: entry.conn})
				part.destroyed++
				continue
			}
			kept = append(kept, entry)
		}
		part.idle = kept
		if len(evicted) > before {
			p.wakeLocked(part)
		}
	}
	p.mu.Unlock()

	for _, entry := range evicted {
		if err := p.teardown(ctx, NewConnectionKey(entry.name, ""), entry.name, entry.conn); err != nil {
			p.logger.Warn("Failed to destroy evicted connection",
				zap.String("bucket", entry.name),
				zap.Error(err))
		}
	}
	if len(evicted) > 0 {
		p.logger.Debug("Evicted idle connections", zap.Int("count", len(evicted)))
	}
	return len(evicted)
}

func (p *KeyedPool[C]) evictLoop() {
	defer close(p.evictDone)
	ticker := time.NewTicker(p.profile.EvictionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.EvictIdle(context.Background())
		case <-p.stopChan:
			return
		}
	}
}

// create builds a connection for a slot already counted as active.
func (p *KeyedPool[C]) create(ctx context.Context, key ConnectionKey, name string) (C, error) {
	var zero C

	conn, err := p.factory.Create(ctx, key)
	if err != nil {
		p.mu.Lock()
		part := p.partitionLocked(key)
		if part.active > 0 {
			part.active--
		}
		p.wakeLocked(part)
		p.mu.Unlock()
		return zero, fmt.Errorf("%w: %w", ErrConnectionCreationFailed, err)
	}

	p.mu.Lock()
	p.partitionLocked(key).created++
	p.mu.Unlock()
	p.observer.ConnectionCreated(name)

	if err := p.prepare(ctx, key, conn); err != nil {
		if derr := p.Destroy(ctx, key, conn); derr != nil {
			p.logger.Warn("Failed to destroy rejected connection",
				zap.String("bucket", name),
				zap.Error(derr))
		}
		return zero, fmt.Errorf("%w: %w", ErrConnectionCreationFailed, err)
	}
	return conn, nil
}

// prepare activates then validates a connection being checked out.
func (p *KeyedPool[C]) prepare(ctx context.Context, key ConnectionKey, conn C) error {
	if err := p.factory.Activate(ctx, key, conn); err != nil {
		return err
	}
	if !p.validate(ctx, key, conn) {
		return ErrValidationFailed
	}
	return nil
}

func (p *KeyedPool[C]) validate(ctx context.Context, key ConnectionKey, conn C) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Connection validation panicked",
				zap.String("bucket", key.Partition()),
				zap.Any("panic", r))
			ok = false
		}
		if !ok {
			p.observer.ValidationFailed(key.Partition())
		}
	}()
	return p.factory.Validate(ctx, key, conn)
}

func (p *KeyedPool[C]) teardown(ctx context.Context, key ConnectionKey, name string, conn C) error {
	p.observer.ConnectionDestroyed(name)
	if err := p.factory.Destroy(ctx, key, conn); err != nil {
		return fmt.Errorf("destroy connection for bucket %s: %w", name, err)
	}
	return nil
}

func (p *KeyedPool[C]) destroyQuietly(ctx context.Context, key ConnectionKey, conn C, reason string) {
	if err := p.Destroy(ctx, key, conn); err != nil {
		p.logger.Warn("Failed to destroy connection",
			zap.String("bucket", key.Partition()),
			zap.String("reason", reason),
			zap.Error(err))
	}
}

func (p *KeyedPool[C]) waitCompleted(name string, start time.Time) {
	if !start.IsZero() {
		p.observer.WaitCompleted(name, time.Since(start))
	}
}

// abandonWait removes a waiter that gave up. A wake-up that raced with the
// timeout is handed to the next waiter.
func (p *KeyedPool[C]) abandonWait(part *partition[C], wake chan struct{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, w := range part.waiters {
		if w == wake {
			part.waiters = append(part.waiters[:i], part.waiters[i+1:]...)
			return
		}
	}
	select {
	case <-wake:
		p.wakeLocked(part)
	default:
	}
}

// wakeLocked signals the oldest waiter of the partition. Caller must hold p.mu.
func (p *KeyedPool[C]) wakeLocked(part *partition[C]) {
	if len(part.waiters) == 0 {
		return
	}
	wake := part.waiters[0]
	part.waiters = part.waiters[1:]
	wake <- struct{}{}
}

// partitionLocked returns key's partition, creating it. Caller must hold p.mu.
func (p *KeyedPool[C]) partitionLocked(key ConnectionKey) *partition[C] {
	name := key.Partition()
	part, ok := p.partitions[name]
	if !ok {
		part = &partition[C]{name: name}
		p.partitions[name] = part
	}
	return part
}

func (part *partition[C]) stats() Stats {
	return Stats{
		Partition: part.name,
		Active:    part.active,
		Idle:      len(part.idle),
		Waiters:   len(part.waiters),
		Created:   part.created,
		Destroyed: part.destroyed,
	}
}
