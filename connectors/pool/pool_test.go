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
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeConn struct {
	id         int
	credential string
	valid      atomic.Bool
	connected  atomic.Bool
	stopped    atomic.Bool
	disposed   atomic.Bool
}

type fakeFactory struct {
	mu     sync.Mutex
	nextID int

	createErr       error
	activateErr     error
	passivateErr    error
	destroyErr      error
	invalidOnCreate bool
	panicOnValidate bool

	created   []*fakeConn
	destroyed []*fakeConn
}

func (f *fakeFactory) Create(_ context.Context, key ConnectionKey) (*fakeConn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.nextID++
	c := &fakeConn{id: f.nextID}
	c.valid.Store(!f.invalidOnCreate)
	f.created = append(f.created, c)
	return c, nil
}

func (f *fakeFactory) Validate(_ context.Context, _ ConnectionKey, c *fakeConn) bool {
	f.mu.Lock()
	panicking := f.panicOnValidate
	f.mu.Unlock()
	if panicking {
		panic("validate exploded")
	}
	return c.valid.Load()
}

func (f *fakeFactory) Activate(_ context.Context, key ConnectionKey, c *fakeConn) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.activateErr != nil {
		return f.activateErr
	}
	c.credential = key.Credential
	c.connected.Store(true)
	return nil
}

func (f *fakeFactory) Passivate(_ context.Context, _ ConnectionKey, _ *fakeConn) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.passivateErr
}

func (f *fakeFactory) Destroy(_ context.Context, _ ConnectionKey, c *fakeConn) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c.connected.Store(false)
	c.stopped.Store(true)
	c.disposed.Store(true)
	f.destroyed = append(f.destroyed, c)
	return f.destroyErr
}

func (f *fakeFactory) destroyedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.destroyed)
}

func (f *fakeFactory) set(fn func(f *fakeFactory)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func newTestPool(t *testing.T, profile PoolingProfile, opts ...Option) (*KeyedPool[*fakeConn], *fakeFactory) {
	t.Helper()
	f := &fakeFactory{}
	opts = append([]Option{WithLogger(zaptest.NewLogger(t))}, opts...)
	p := NewKeyedPool[*fakeConn](f, profile, opts...)
	t.Cleanup(func() { _ = p.Close(context.Background()) })
	return p, f
}

func profileWith(maxActive, maxIdle int, action ExhaustedAction, maxWait time.Duration) PoolingProfile {
	profile := DefaultPoolingProfile()
	profile.MaxActive = maxActive
	profile.MaxIdle = maxIdle
	profile.ExhaustedAction = action
	profile.MaxWait = maxWait
	return profile
}

var orders = NewConnectionKey("orders", "s3cret")

func TestAcquireRelease_ReusesConnection(t *testing.T) {
	p, f := newTestPool(t, DefaultPoolingProfile())
	ctx := context.Background()

	c1, err := p.Acquire(ctx, orders)
	require.NoError(t, err)
	assert.True(t, c1.connected.Load())
	assert.Equal(t, Stats{Partition: "orders", Active: 1, Created: 1}, p.Stats(orders))

	require.NoError(t, p.Release(ctx, orders, c1))
	assert.Equal(t, Stats{Partition: "orders", Idle: 1, Created: 1}, p.Stats(orders))

	c2, err := p.Acquire(ctx, orders)
	require.NoError(t, err)
	assert.Same(t, c1, c2)
	assert.Len(t, f.created, 1)
}

func TestAcquire_IdleIsLIFO(t *testing.T) {
	p, _ := newTestPool(t, DefaultPoolingProfile())
	ctx := context.Background()

	c1, err := p.Acquire(ctx, orders)
	require.NoError(t, err)
	c2, err := p.Acquire(ctx, orders)
	require.NoError(t, err)

	require.NoError(t, p.Release(ctx, orders, c1))
	require.NoError(t, p.Release(ctx, orders, c2))

	got, err := p.Acquire(ctx, orders)
	require.NoError(t, err)
	assert.Same(t, c2, got)
}

func TestAcquire_SameBucketDifferentCredentialSharesPartition(t *testing.T) {
	p, f := newTestPool(t, DefaultPoolingProfile())
	ctx := context.Background()

	first := NewConnectionKey("orders", "alpha")
	second := NewConnectionKey("orders", "beta")
	assert.True(t, first.Equal(second))
	assert.Equal(t, first.Partition(), second.Partition())

	c1, err := p.Acquire(ctx, first)
	require.NoError(t, err)
	require.NoError(t, p.Release(ctx, first, c1))

	c2, err := p.Acquire(ctx, second)
	require.NoError(t, err)
	assert.Same(t, c1, c2)
	assert.Equal(t, "beta", c2.credential, "activation receives the caller's key")
	assert.Len(t, f.created, 1)
	assert.Len(t, p.AllStats(), 1)
}

func TestAcquire_DifferentBucketsArePartitioned(t *testing.T) {
	p, _ := newTestPool(t, DefaultPoolingProfile())
	ctx := context.Background()

	a, err := p.Acquire(ctx, NewConnectionKey("a", "x"))
	require.NoError(t, err)
	require.NoError(t, p.Release(ctx, NewConnectionKey("a", "x"), a))

	b, err := p.Acquire(ctx, NewConnectionKey("b", "x"))
	require.NoError(t, err)
	assert.NotSame(t, a, b)

	stats := p.AllStats()
	assert.Equal(t, 1, stats["a"].Idle)
	assert.Equal(t, 1, stats["b"].Active)
}

func TestAcquire_InvalidIdleConnectionIsRecreated(t *testing.T) {
	p, f := newTestPool(t, DefaultPoolingProfile())
	ctx := context.Background()

	c1, err := p.Acquire(ctx, orders)
	require.NoError(t, err)
	require.NoError(t, p.Release(ctx, orders, c1))
	c1.valid.Store(false)

	c2, err := p.Acquire(ctx, orders)
	require.NoError(t, err)
	assert.NotSame(t, c1, c2)
	assert.True(t, c1.stopped.Load())
	assert.True(t, c1.disposed.Load())
	assert.Equal(t, Stats{Partition: "orders", Active: 1, Created: 2, Destroyed: 1}, p.Stats(orders))
	assert.Equal(t, 1, f.destroyedCount())
}

func TestAcquire_CreateFails(t *testing.T) {
	p, f := newTestPool(t, DefaultPoolingProfile())
	cause := errors.New("unreachable host")
	f.set(func(f *fakeFactory) { f.createErr = cause })

	_, err := p.Acquire(context.Background(), orders)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConnectionCreationFailed)
	assert.ErrorIs(t, err, cause)

	stats := p.Stats(orders)
	assert.Equal(t, 0, stats.Idle)
	assert.Equal(t, 0, stats.Active)
}

func TestAcquire_NewConnectionFailsActivation(t *testing.T) {
	p, f := newTestPool(t, DefaultPoolingProfile())
	cause := errors.New("auth rejected")
	f.set(func(f *fakeFactory) { f.activateErr = cause })

	_, err := p.Acquire(context.Background(), orders)
	assert.ErrorIs(t, err, ErrConnectionCreationFailed)
	assert.ErrorIs(t, err, cause)

	require.Len(t, f.created, 1)
	assert.True(t, f.created[0].disposed.Load())
	assert.Equal(t, Stats{Partition: "orders", Created: 1, Destroyed: 1}, p.Stats(orders))
}

func TestAcquire_NewConnectionFailsValidation(t *testing.T) {
	p, f := newTestPool(t, DefaultPoolingProfile())
	f.set(func(f *fakeFactory) { f.invalidOnCreate = true })

	_, err := p.Acquire(context.Background(), orders)
	assert.ErrorIs(t, err, ErrConnectionCreationFailed)
	assert.ErrorIs(t, err, ErrValidationFailed)
	assert.Equal(t, 0, p.Stats(orders).Idle)
}

func TestAcquire_ValidatePanicIsTreatedAsInvalid(t *testing.T) {
	p, f := newTestPool(t, DefaultPoolingProfile())
	f.set(func(f *fakeFactory) { f.panicOnValidate = true })

	assert.NotPanics(t, func() {
		_, err := p.Acquire(context.Background(), orders)
		assert.ErrorIs(t, err, ErrValidationFailed)
	})
}

func TestAcquire_BlocksUntilRelease(t *testing.T) {
	p, _ := newTestPool(t, profileWith(1, 1, ExhaustedWait, 0))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c1, err := p.Acquire(ctx, orders)
	require.NoError(t, err)

	type result struct {
		conn *fakeConn
		err  error
	}
	done := make(chan result, 1)
	go func() {
		c, err := p.Acquire(ctx, orders)
		done <- result{c, err}
	}()

	require.Eventually(t, func() bool { return p.Stats(orders).Waiters == 1 }, time.Second, 5*time.Millisecond)
	select {
	case <-done:
		t.Fatal("second acquire returned before release")
	default:
	}

	require.NoError(t, p.Release(ctx, orders, c1))

	select {
	case r := <-done:
		require.NoError(t, r.err)
		assert.Same(t, c1, r.conn)
	case <-ctx.Done():
		t.Fatal("second acquire never returned")
	}
}

func TestAcquire_WaitTimesOut(t *testing.T) {
	p, _ := newTestPool(t, profileWith(1, 1, ExhaustedWait, 20*time.Millisecond))
	ctx := context.Background()

	_, err := p.Acquire(ctx, orders)
	require.NoError(t, err)

	start := time.Now()
	_, err = p.Acquire(ctx, orders)
	assert.ErrorIs(t, err, ErrPoolExhausted)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
	assert.Equal(t, 0, p.Stats(orders).Waiters)
}

func TestAcquire_WaitHonoursContext(t *testing.T) {
	p, _ := newTestPool(t, profileWith(1, 1, ExhaustedWait, 0))

	_, err := p.Acquire(context.Background(), orders)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = p.Acquire(ctx, orders)
	assert.ErrorIs(t, err, ErrPoolExhausted)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestAcquire_FailPolicy(t *testing.T) {
	p, _ := newTestPool(t, profileWith(1, 1, ExhaustedFail, time.Second))
	ctx := context.Background()

	_, err := p.Acquire(ctx, orders)
	require.NoError(t, err)

	_, err = p.Acquire(ctx, orders)
	assert.ErrorIs(t, err, ErrPoolExhausted)
}

func TestAcquire_GrowPolicy(t *testing.T) {
	p, f := newTestPool(t, profileWith(1, 1, ExhaustedGrow, time.Second))
	ctx := context.Background()

	c1, err := p.Acquire(ctx, orders)
	require.NoError(t, err)
	c2, err := p.Acquire(ctx, orders)
	require.NoError(t, err)
	assert.NotSame(t, c1, c2)
	assert.Equal(t, 2, p.Stats(orders).Active)

	require.NoError(t, p.Release(ctx, orders, c1))
	require.NoError(t, p.Release(ctx, orders, c2))
	assert.Equal(t, 1, p.Stats(orders).Idle, "idle is capped at MaxIdle")
	assert.Equal(t, 1, f.destroyedCount())
}

func TestRelease_InvalidConnectionIsDestroyed(t *testing.T) {
	p, f := newTestPool(t, DefaultPoolingProfile())
	ctx := context.Background()

	c1, err := p.Acquire(ctx, orders)
	require.NoError(t, err)
	c1.valid.Store(false)

	require.NoError(t, p.Release(ctx, orders, c1))
	assert.Equal(t, 1, f.destroyedCount())
	assert.Equal(t, Stats{Partition: "orders", Created: 1, Destroyed: 1}, p.Stats(orders))
}

func TestRelease_PassivateErrorDestroysAndPropagates(t *testing.T) {
	p, f := newTestPool(t, DefaultPoolingProfile())
	ctx := context.Background()

	c1, err := p.Acquire(ctx, orders)
	require.NoError(t, err)

	cause := errors.New("passivate failed")
	f.set(func(f *fakeFactory) { f.passivateErr = cause })

	err = p.Release(ctx, orders, c1)
	assert.ErrorIs(t, err, cause)
	assert.True(t, c1.disposed.Load())
	assert.Equal(t, 0, p.Stats(orders).Idle)
}

func TestDestroy_StopsAndDisposesEvenWhenDisconnectFails(t *testing.T) {
	p, f := newTestPool(t, DefaultPoolingProfile())
	ctx := context.Background()

	c1, err := p.Acquire(ctx, orders)
	require.NoError(t, err)

	cause := errors.New("disconnect failed")
	f.set(func(f *fakeFactory) { f.destroyErr = cause })

	err = p.Destroy(ctx, orders, c1)
	assert.ErrorIs(t, err, cause)
	assert.True(t, c1.stopped.Load())
	assert.True(t, c1.disposed.Load())
	assert.Equal(t, 0, p.Stats(orders).Active)
}

func TestDestroy_WakesWaiter(t *testing.T) {
	p, _ := newTestPool(t, profileWith(1, 1, ExhaustedWait, 0))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c1, err := p.Acquire(ctx, orders)
	require.NoError(t, err)

	done := make(chan *fakeConn, 1)
	go func() {
		c, err := p.Acquire(ctx, orders)
		if err != nil {
			done <- nil
			return
		}
		done <- c
	}()
	require.Eventually(t, func() bool { return p.Stats(orders).Waiters == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, p.Destroy(ctx, orders, c1))

	c2 := <-done
	require.NotNil(t, c2)
	assert.NotSame(t, c1, c2)
}

func TestPrefill(t *testing.T) {
	p, f := newTestPool(t, profileWith(5, 3, ExhaustedGrow, time.Second))

	n, err := p.Prefill(context.Background(), orders, 10)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, Stats{Partition: "orders", Idle: 3, Created: 3}, p.Stats(orders))
	for _, c := range f.created {
		assert.False(t, c.connected.Load(), "prefilled connections are not activated")
	}
}

func TestPrefill_CreateFails(t *testing.T) {
	p, f := newTestPool(t, DefaultPoolingProfile())
	f.set(func(f *fakeFactory) { f.createErr = errors.New("boom") })

	n, err := p.Prefill(context.Background(), orders, 1)
	assert.Equal(t, 0, n)
	assert.ErrorIs(t, err, ErrConnectionCreationFailed)
	assert.Equal(t, Stats{Partition: "orders"}, p.Stats(orders))
}

func TestClear(t *testing.T) {
	p, f := newTestPool(t, DefaultPoolingProfile())
	ctx := context.Background()

	_, err := p.Prefill(ctx, orders, 2)
	require.NoError(t, err)

	require.NoError(t, p.Clear(ctx, orders))
	assert.Equal(t, 0, p.Stats(orders).Idle)
	assert.Equal(t, 2, f.destroyedCount())
	assert.NoError(t, p.Clear(ctx, NewConnectionKey("unknown", "")))
}

func TestClose(t *testing.T) {
	p, f := newTestPool(t, profileWith(1, 1, ExhaustedWait, 0))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c1, err := p.Acquire(ctx, orders)
	require.NoError(t, err)

	waitErr := make(chan error, 1)
	go func() {
		_, err := p.Acquire(ctx, orders)
		waitErr <- err
	}()
	require.Eventually(t, func() bool { return p.Stats(orders).Waiters == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, p.Close(ctx))
	assert.ErrorIs(t, <-waitErr, ErrPoolClosed)

	_, err = p.Acquire(ctx, orders)
	assert.ErrorIs(t, err, ErrPoolClosed)

	require.NoError(t, p.Release(ctx, orders, c1))
	assert.True(t, c1.disposed.Load(), "connections released after close are destroyed")
	assert.Equal(t, 1, f.destroyedCount())

	assert.NoError(t, p.Close(ctx))
}

func TestEvictIdle(t *testing.T) {
	profile := DefaultPoolingProfile()
	profile.MinEvictableIdle = 10 * time.Millisecond
	p, f := newTestPool(t, profile)
	ctx := context.Background()

	_, err := p.Prefill(ctx, orders, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, p.EvictIdle(ctx))

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, p.EvictIdle(ctx))
	assert.Equal(t, 0, p.Stats(orders).Idle)
	assert.Equal(t, 1, f.destroyedCount())
}

func TestEvictor_RunsInBackground(t *testing.T) {
	profile := DefaultPoolingProfile()
	profile.EvictionInterval = 5 * time.Millisecond
	profile.MinEvictableIdle = 5 * time.Millisecond
	p, _ := newTestPool(t, profile)

	_, err := p.Prefill(context.Background(), orders, 1)
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return p.Stats(orders).Idle == 0 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, uint64(1), p.Stats(orders).Destroyed)
}

func TestConcurrentAcquireRelease(t *testing.T) {
	const maxActive = 3
	p, f := newTestPool(t, profileWith(maxActive, maxActive, ExhaustedWait, 0))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var inUse, peak atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				c, err := p.Acquire(ctx, orders)
				if !assert.NoError(t, err) {
					return
				}
				n := inUse.Add(1)
				for {
					old := peak.Load()
					if n <= old || peak.CompareAndSwap(old, n) {
						break
					}
				}
				inUse.Add(-1)
				assert.NoError(t, p.Release(ctx, orders, c))
			}
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, peak.Load(), int32(maxActive))
	stats := p.Stats(orders)
	assert.Equal(t, 0, stats.Active)
	assert.Equal(t, 0, stats.Waiters)
	assert.LessOrEqual(t, stats.Idle, maxActive)
	assert.Equal(t, stats.Created-stats.Destroyed, uint64(stats.Idle), "no connection is lost")
	assert.Equal(t, 0, f.destroyedCount())
}

type recordingObserver struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingObserver) record(event string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordingObserver) ConnectionCreated(p string)   { r.record("created:" + p) }
func (r *recordingObserver) ConnectionDestroyed(p string) { r.record("destroyed:" + p) }
func (r *recordingObserver) PoolExhausted(p string)       { r.record("exhausted:" + p) }
func (r *recordingObserver) ValidationFailed(p string)    { r.record("invalid:" + p) }
func (r *recordingObserver) WaitCompleted(p string, _ time.Duration) {
	r.record("waited:" + p)
}

func TestObserver(t *testing.T) {
	obs := &recordingObserver{}
	p, _ := newTestPool(t, profileWith(1, 1, ExhaustedFail, 0), WithObserver(obs))
	ctx := context.Background()

	c1, err := p.Acquire(ctx, orders)
	require.NoError(t, err)
	_, err = p.Acquire(ctx, orders)
	require.ErrorIs(t, err, ErrPoolExhausted)
	c1.valid.Store(false)
	require.NoError(t, p.Release(ctx, orders, c1))

	assert.Equal(t, []string{
		"created:orders",
		"exhausted:orders",
		"invalid:orders",
		"destroyed:orders",
	}, obs.events)
}
