package cache_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/example/ridematch/internal/dispatch/domain"
	"github.com/example/ridematch/internal/search/cache"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{t: time.Unix(0, 0).UTC()} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Set(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = time.Unix(0, 0).UTC().Add(d)
}

type countingProducer struct {
	calls atomic.Int32
	delay time.Duration
}

func (p *countingProducer) produce(_ context.Context, key string) ([]string, error) {
	n := p.calls.Add(1)
	time.Sleep(p.delay)
	return []string{fmt.Sprintf("%s - result %d", key, n)}, nil
}

type eventLog struct {
	mu     sync.Mutex
	events []domain.Event
}

func (l *eventLog) Emit(_ context.Context, evt domain.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, evt)
}

func (l *eventLog) types() []domain.EventType {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]domain.EventType, 0, len(l.events))
	for _, evt := range l.events {
		out = append(out, evt.Type)
	}
	return out
}

func TestConcurrentGetComputesOnce(t *testing.T) {
	producer := &countingProducer{delay: 50 * time.Millisecond}
	c := cache.New(cache.Config{TTL: time.Minute}, producer.produce, nil, nil, zap.NewNop())

	const callers = 32
	results := make([][]string, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := c.Get(context.Background(), "java")
			require.NoError(t, err)
			results[i] = v
		}(i)
	}
	wg.Wait()

	require.Equal(t, int32(1), producer.calls.Load())
	for _, v := range results {
		require.Equal(t, []string{"java - result 1"}, v)
	}
}

func TestTTLScenario(t *testing.T) {
	clock := newFakeClock()
	producer := &countingProducer{}
	c := cache.New(cache.Config{TTL: 5 * time.Second}, producer.produce, clock, nil, nil)
	ctx := context.Background()

	v1, err := c.Get(ctx, "q")
	require.NoError(t, err)
	require.Equal(t, int32(1), producer.calls.Load())

	clock.Set(2 * time.Second)
	again, err := c.Get(ctx, "q")
	require.NoError(t, err)
	require.Equal(t, v1, again)
	require.Equal(t, int32(1), producer.calls.Load())

	clock.Set(6 * time.Second)
	v2, err := c.Get(ctx, "q")
	require.NoError(t, err)
	require.Equal(t, int32(2), producer.calls.Load())
	require.NotEqual(t, v1, v2)

	_, expiresAt, ok := c.Peek("q")
	require.True(t, ok)
	require.Equal(t, time.Unix(11, 0).UTC(), expiresAt)
}

func TestExpiryBoundaryIsStale(t *testing.T) {
	clock := newFakeClock()
	producer := &countingProducer{}
	c := cache.New(cache.Config{TTL: 5 * time.Second}, producer.produce, clock, nil, nil)

	_, err := c.Get(context.Background(), "q")
	require.NoError(t, err)

	clock.Set(5 * time.Second)
	_, err = c.Get(context.Background(), "q")
	require.NoError(t, err)
	require.Equal(t, int32(2), producer.calls.Load(), "now == expiry counts as expired")
}

func TestSweepRemovesExpiredThenGetRecomputes(t *testing.T) {
	clock := newFakeClock()
	producer := &countingProducer{}
	events := &eventLog{}
	c := cache.New(cache.Config{TTL: 5 * time.Second}, producer.produce, clock, events, nil)
	ctx := context.Background()

	_, err := c.Get(ctx, "old")
	require.NoError(t, err)
	clock.Set(3 * time.Second)
	_, err = c.Get(ctx, "young")
	require.NoError(t, err)
	require.Equal(t, 2, c.Len())

	clock.Set(6 * time.Second)
	require.Equal(t, 1, c.Sweep())
	_, _, ok := c.Peek("old")
	require.False(t, ok)
	_, _, ok = c.Peek("young")
	require.True(t, ok)

	v, err := c.Get(ctx, "old")
	require.NoError(t, err)
	require.Equal(t, []string{"old - result 3"}, v)
	require.Equal(t, int32(3), producer.calls.Load())

	require.Equal(t, []domain.EventType{
		domain.EventCacheRefreshed,
		domain.EventCacheRefreshed,
		domain.EventCacheEvicted,
		domain.EventCacheRefreshed,
	}, events.types())
}

func TestProducerErrorDoesNotPoisonEntry(t *testing.T) {
	boom := errors.New("search backend down")
	var fail atomic.Bool
	fail.Store(true)
	var calls atomic.Int32
	producer := func(_ context.Context, key string) ([]string, error) {
		calls.Add(1)
		if fail.Load() {
			return nil, boom
		}
		return []string{key + " - ok"}, nil
	}
	c := cache.New(cache.Config{}, producer, nil, nil, nil)

	_, err := c.Get(context.Background(), "k")
	require.ErrorIs(t, err, boom)
	require.Zero(t, c.Len())

	fail.Store(false)
	v, err := c.Get(context.Background(), "k")
	require.NoError(t, err)
	require.Equal(t, []string{"k - ok"}, v)
	require.Equal(t, int32(2), calls.Load())
}

func TestDifferentKeysDoNotBlockEachOther(t *testing.T) {
	release := make(chan struct{})
	producer := func(_ context.Context, key string) ([]string, error) {
		if key == "slow" {
			<-release
		}
		return []string{key}, nil
	}
	c := cache.New(cache.Config{}, producer, nil, nil, nil)

	slowDone := make(chan struct{})
	go func() {
		defer close(slowDone)
		_, _ = c.Get(context.Background(), "slow")
	}()

	fast := make(chan []string, 1)
	go func() {
		v, err := c.Get(context.Background(), "fast")
		if err == nil {
			fast <- v
		}
	}()

	select {
	case v := <-fast:
		require.Equal(t, []string{"fast"}, v)
	case <-time.After(time.Second):
		t.Fatal("fast key blocked behind slow key")
	}
	close(release)
	<-slowDone
}

func TestGetHonoursCallerCancellation(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	producer := func(_ context.Context, key string) ([]string, error) {
		<-release
		return []string{key}, nil
	}
	c := cache.New(cache.Config{}, producer, nil, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := c.Get(ctx, "k")
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestReturnedValuesAreCopies(t *testing.T) {
	c := cache.New(cache.Config{}, func(_ context.Context, key string) ([]string, error) {
		return []string{key}, nil
	}, nil, nil, nil)

	v, err := c.Get(context.Background(), "k")
	require.NoError(t, err)
	v[0] = "mutated"

	again, err := c.Get(context.Background(), "k")
	require.NoError(t, err)
	require.Equal(t, []string{"k"}, again)
}

func TestInvalidate(t *testing.T) {
	producer := &countingProducer{}
	c := cache.New(cache.Config{}, producer.produce, nil, nil, nil)
	_, err := c.Get(context.Background(), "k")
	require.NoError(t, err)

	require.True(t, c.Invalidate("k"))
	require.False(t, c.Invalidate("k"))

	_, err = c.Get(context.Background(), "k")
	require.NoError(t, err)
	require.Equal(t, int32(2), producer.calls.Load())
}

func TestRunSweepsOnScheduleAndStops(t *testing.T) {
	producer := &countingProducer{}
	c := cache.New(cache.Config{TTL: 20 * time.Millisecond, SweepInterval: 10 * time.Millisecond}, producer.produce, nil, nil, nil)
	_, err := c.Get(context.Background(), "k")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	require.Eventually(t, func() bool { return c.Len() == 0 }, time.Second, 5*time.Millisecond)
	require.Equal(t, int32(1), producer.calls.Load(), "sweeping never computes")

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}

func TestSweepDuringRefreshStoresEntryAgain(t *testing.T) {
	clock := newFakeClock()
	var calls atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})
	producer := func(_ context.Context, key string) ([]string, error) {
		if calls.Add(1) == 2 {
			close(started)
			<-release
		}
		return []string{key}, nil
	}
	c := cache.New(cache.Config{TTL: 5 * time.Second}, producer, clock, nil, nil)
	ctx := context.Background()

	_, err := c.Get(ctx, "q")
	require.NoError(t, err)

	clock.Set(6 * time.Second)
	done := make(chan error, 1)
	go func() {
		_, err := c.Get(ctx, "q")
		done <- err
	}()
	<-started

	require.Equal(t, 1, c.Sweep())
	require.Zero(t, c.Len())
	close(release)
	require.NoError(t, <-done)

	v, expiresAt, ok := c.Peek("q")
	require.True(t, ok)
	require.Equal(t, []string{"q"}, v)
	require.Equal(t, time.Unix(0, 0).UTC().Add(11*time.Second), expiresAt)
	require.Equal(t, 1, c.Len())
}

func TestLenTracksStoresAndRemovals(t *testing.T) {
	clock := newFakeClock()
	producer := &countingProducer{}
	c := cache.New(cache.Config{TTL: 5 * time.Second}, producer.produce, clock, nil, nil)
	ctx := context.Background()

	for _, key := range []string{"a", "b", "c"} {
		_, err := c.Get(ctx, key)
		require.NoError(t, err)
	}
	require.Equal(t, 3, c.Len())

	clock.Set(6 * time.Second)
	_, err := c.Get(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, 3, c.Len(), "refreshing an existing key does not add an entry")

	require.True(t, c.Invalidate("b"))
	require.False(t, c.Invalidate("b"))
	require.Equal(t, 2, c.Len())

	require.Equal(t, 1, c.Sweep())
	require.Equal(t, 1, c.Len())
}
