package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/hupe1980/fundusmesh/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type counter struct{ n int }

func newTestStore(clock *fakeClock, ttl time.Duration, max int) *Store[*counter] {
	seq := 0
	return NewStore[*counter](func(o *Options) {
		o.TTL = ttl
		o.MaxSessions = max
		o.Clock = clock.Now
		o.NewID = func() string {
			seq++
			return fmt.Sprintf("s%d", seq)
		}
	})
}

func newCounter() (*counter, error) { return &counter{}, nil }

func TestGetOrCreateAssignsIDAndTimestamps(t *testing.T) {
	clock := newFakeClock()
	s := newTestStore(clock, time.Hour, 10)

	c, h, err := s.GetOrCreate("", newCounter)
	require.NoError(t, err)
	require.NotNil(t, c)

	assert.Equal(t, "s1", h.ID)
	assert.Equal(t, clock.Now(), h.CreatedAt)
	assert.Equal(t, h.LastUsedAt.Add(time.Hour), h.ExpiresAt)
}

func TestGetOrCreateReturnsSameInstanceAndRefreshes(t *testing.T) {
	clock := newFakeClock()
	s := newTestStore(clock, time.Hour, 10)

	c1, h1, err := s.GetOrCreate("", newCounter)
	require.NoError(t, err)
	c1.n = 7

	clock.Advance(30 * time.Minute)
	c2, h2, err := s.GetOrCreate(h1.ID, nil)
	require.NoError(t, err)

	assert.Same(t, c1, c2)
	assert.Equal(t, h1.CreatedAt, h2.CreatedAt)
	assert.Equal(t, clock.Now(), h2.LastUsedAt)
	assert.Equal(t, h2.LastUsedAt.Add(time.Hour), h2.ExpiresAt)
}

func TestUnknownIDIsNotFound(t *testing.T) {
	s := newTestStore(newFakeClock(), time.Hour, 10)

	_, _, err := s.GetOrCreate("nope", newCounter)
	assert.ErrorIs(t, err, core.ErrSessionNotFound)
	assert.NotErrorIs(t, err, core.ErrSessionExpired)
}

func TestTTLExpiry(t *testing.T) {
	clock := newFakeClock()
	s := newTestStore(clock, time.Hour, 10)

	_, h, err := s.GetOrCreate("", newCounter)
	require.NoError(t, err)

	// Exactly at expiresAt the session is still live.
	clock.Advance(time.Hour)
	_, _, err = s.GetOrCreate(h.ID, nil)
	require.NoError(t, err)

	clock.Advance(time.Hour + time.Nanosecond)
	c, _, err := s.GetOrCreate(h.ID, nil)
	assert.Nil(t, c)
	assert.ErrorIs(t, err, core.ErrSessionExpired)
	assert.Equal(t, core.KindSessionExpired, core.KindOf(err))

	// Expired stays expired, never reverts to not found.
	_, _, err = s.Get(h.ID)
	assert.ErrorIs(t, err, core.ErrSessionExpired)
}

func TestCapacityEvictsOldestCreated(t *testing.T) {
	clock := newFakeClock()
	s := newTestStore(clock, time.Hour, 3)

	var ids []string
	for i := 0; i < 5; i++ {
		_, h, err := s.GetOrCreate("", newCounter)
		require.NoError(t, err)
		ids = append(ids, h.ID)
		clock.Advance(time.Second)
		assert.LessOrEqual(t, s.Len(), 3)
	}

	live := s.ListAll()
	require.Len(t, live, 3)
	assert.Equal(t, ids[2:], []string{live[0].ID, live[1].ID, live[2].ID})

	for _, id := range ids[:2] {
		_, _, err := s.GetOrCreate(id, nil)
		assert.ErrorIs(t, err, core.ErrSessionExpired)
	}
}

func TestCapacityIgnoresRecentUse(t *testing.T) {
	clock := newFakeClock()
	s := newTestStore(clock, time.Hour, 2)

	_, first, _ := s.GetOrCreate("", newCounter)
	clock.Advance(time.Second)
	_, second, _ := s.GetOrCreate("", newCounter)
	clock.Advance(time.Second)

	// Touching the oldest does not protect it: eviction is by creation time.
	_, _, err := s.GetOrCreate(first.ID, nil)
	require.NoError(t, err)

	_, third, _ := s.GetOrCreate("", newCounter)

	_, _, err = s.Get(first.ID)
	assert.ErrorIs(t, err, core.ErrSessionExpired)
	_, _, err = s.Get(second.ID)
	assert.NoError(t, err)
	_, _, err = s.Get(third.ID)
	assert.NoError(t, err)
}

func TestCapacityWithEqualTimestampsUsesInsertionOrder(t *testing.T) {
	clock := newFakeClock()
	s := newTestStore(clock, time.Hour, 2)

	for i := 0; i < 4; i++ {
		_, _, err := s.GetOrCreate("", newCounter)
		require.NoError(t, err)
	}

	live := s.ListAll()
	require.Len(t, live, 2)
	assert.Equal(t, "s3", live[0].ID)
	assert.Equal(t, "s4", live[1].ID)
}

func TestListAllReturnsDefensiveCopies(t *testing.T) {
	clock := newFakeClock()
	s := newTestStore(clock, time.Hour, 10)

	_, h, _ := s.GetOrCreate("", newCounter)

	list := s.ListAll()
	require.Len(t, list, 1)
	list[0].ID = "mutated"
	list[0].ExpiresAt = time.Time{}

	again := s.ListAll()
	assert.Equal(t, h.ID, again[0].ID)
	assert.Equal(t, h.ExpiresAt, again[0].ExpiresAt)
}

func TestListAllSkipsStaleEntries(t *testing.T) {
	clock := newFakeClock()
	s := newTestStore(clock, time.Minute, 10)

	_, _, _ = s.GetOrCreate("", newCounter)
	clock.Advance(2 * time.Minute)

	assert.Empty(t, s.ListAll())
}

func TestConstructorErrorIsReturned(t *testing.T) {
	s := newTestStore(newFakeClock(), time.Hour, 10)
	boom := errors.New("boom")

	_, _, err := s.GetOrCreate("", func() (*counter, error) { return nil, boom })
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, s.Len())
}

func TestExpiredSetIsBounded(t *testing.T) {
	clock := newFakeClock()
	s := NewStore[*counter](func(o *Options) {
		o.MaxSessions = 1
		o.MaxExpired = 2
		o.Clock = clock.Now
	})

	var ids []string
	for i := 0; i < 5; i++ {
		_, h, _ := s.GetOrCreate("", newCounter)
		ids = append(ids, h.ID)
	}

	// Only the two most recently evicted ids are remembered.
	_, _, err := s.Get(ids[0])
	assert.ErrorIs(t, err, core.ErrSessionNotFound)
	_, _, err = s.Get(ids[3])
	assert.ErrorIs(t, err, core.ErrSessionExpired)
}

func TestDelete(t *testing.T) {
	s := newTestStore(newFakeClock(), time.Hour, 10)
	_, h, _ := s.GetOrCreate("", newCounter)

	assert.True(t, s.Delete(h.ID))
	assert.False(t, s.Delete(h.ID))

	_, _, err := s.Get(h.ID)
	assert.ErrorIs(t, err, core.ErrSessionExpired)
}

func TestAcquireBlocksConcurrentHolders(t *testing.T) {
	s := newTestStore(newFakeClock(), time.Hour, 10)
	_, h, _ := s.GetOrCreate("", newCounter)

	c, _, release, err := s.Acquire(context.Background(), h.ID)
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		c2, _, release2, err := s.Acquire(context.Background(), h.ID)
		if err == nil {
			c2.n++
			release2()
		}
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("second holder acquired the lease while the first still held it")
	case <-time.After(50 * time.Millisecond):
	}

	c.n = 10
	release()
	release() // idempotent

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second holder never acquired the lease")
	}
	assert.Equal(t, 11, c.n)
}

func TestAcquireHonoursContext(t *testing.T) {
	s := newTestStore(newFakeClock(), time.Hour, 10)
	_, h, _ := s.GetOrCreate("", newCounter)

	_, _, release, err := s.Acquire(context.Background(), h.ID)
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, _, _, err = s.Acquire(ctx, h.ID)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestAcquireConcurrentWithLookups(t *testing.T) {
	clock := newFakeClock()
	s := newTestStore(clock, time.Hour, 10)
	_, h, _ := s.GetOrCreate("", newCounter)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			c, got, release, err := s.Acquire(context.Background(), h.ID)
			if !assert.NoError(t, err) {
				return
			}
			c.n++
			assert.Equal(t, h.ID, got.ID)
			assert.False(t, got.LastUsedAt.IsZero())
			release()
		}()
		go func() {
			defer wg.Done()
			clock.Advance(time.Second)
			_, _, err := s.Get(h.ID)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	c, _, err := s.Get(h.ID)
	require.NoError(t, err)
	assert.Equal(t, 20, c.n)
}

func TestAcquireUnknown(t *testing.T) {
	s := newTestStore(newFakeClock(), time.Hour, 10)

	_, _, _, err := s.Acquire(context.Background(), "missing")
	assert.ErrorIs(t, err, core.ErrSessionNotFound)
}

func TestConcurrentCreationRespectsCapacity(t *testing.T) {
	s := NewStore[*counter](func(o *Options) { o.MaxSessions = 20 })

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := s.GetOrCreate("", newCounter)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 20, s.Len())
	assert.Len(t, s.ListAll(), 20)
}

func TestNonPositiveTTLNeverExpires(t *testing.T) {
	clock := newFakeClock()
	s := newTestStore(clock, -1, 10)

	_, h, err := s.GetOrCreate("", newCounter)
	require.NoError(t, err)
	assert.True(t, h.ExpiresAt.IsZero())

	clock.Advance(24 * 365 * time.Hour)
	_, _, err = s.Get(h.ID)
	assert.NoError(t, err)
	assert.Len(t, s.ListAll(), 1)
}

func TestSweepEvictsWithoutLookup(t *testing.T) {
	clock := newFakeClock()
	s := newTestStore(clock, time.Minute, 10)

	_, h1, err := s.GetOrCreate("", newCounter)
	require.NoError(t, err)
	clock.Advance(30 * time.Second)
	_, h2, err := s.GetOrCreate("", newCounter)
	require.NoError(t, err)

	assert.Equal(t, 0, s.Sweep())

	clock.Advance(45 * time.Second)
	assert.Equal(t, 1, s.Sweep())
	assert.Equal(t, 1, s.Len())

	_, _, err = s.Get(h1.ID)
	assert.ErrorIs(t, err, core.ErrSessionExpired)
	_, _, err = s.Get(h2.ID)
	assert.NoError(t, err)
}
