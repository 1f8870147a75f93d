package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hupe1980/fundusmesh/core"
	"github.com/hupe1980/fundusmesh/logging"
)

// Handle identifies one stored instance. It is a value type; callers always
// receive copies.
type Handle struct {
	ID         string    `json:"session_id"`
	CreatedAt  time.Time `json:"created"`
	LastUsedAt time.Time `json:"updated"`
	ExpiresAt  time.Time `json:"expires"`
}

// LiveAt reports whether the handle is still valid at now. A zero ExpiresAt
// never expires.
func (h Handle) LiveAt(now time.Time) bool {
	return h.ExpiresAt.IsZero() || !now.After(h.ExpiresAt)
}

// Options configures a Store.
type Options struct {
	// TTL is the idle time after which a session expires. Zero or negative
	// disables expiry.
	TTL time.Duration
	// MaxSessions caps the number of live sessions; the oldest created are evicted first.
	MaxSessions int
	// MaxExpired caps the remembered expired ids. Zero means 10 * MaxSessions.
	MaxExpired int
	// Clock returns the current time.
	Clock func() time.Time
	// NewID generates session ids.
	NewID func() string
	// Logger receives lifecycle events.
	Logger logging.Logger
}

type entry[T any] struct {
	value  T
	handle Handle
	seq    uint64
	lease  chan struct{}
}

// Store is a generic session registry. All mutations are serialized by a
// single mutex; eviction runs before every lookup and after every creation.
type Store[T any] struct {
	mu           sync.Mutex
	opts         Options
	entries      map[string]*entry[T]
	expired      map[string]struct{}
	expiredOrder []string
	seq          uint64
}

// NewStore creates an empty store. Defaults: TTL 1h, MaxSessions 100.
func NewStore[T any](optFns ...func(o *Options)) *Store[T] {
	opts := Options{
		TTL:         time.Hour,
		MaxSessions: 100,
		Clock:       time.Now,
		NewID:       uuid.NewString,
		Logger:      logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.MaxExpired == 0 {
		opts.MaxExpired = 10 * opts.MaxSessions
	}

	opts.Logger = logging.OrNoOp(opts.Logger)

	return &Store[T]{
		opts:    opts,
		entries: make(map[string]*entry[T]),
		expired: make(map[string]struct{}),
	}
}

// GetOrCreate returns the instance registered under id, refreshing its
// timestamps. With an empty id a new instance is built by ctor and registered
// under a fresh id. Unknown ids fail with core.ErrSessionNotFound, evicted ids
// with core.ErrSessionExpired.
func (s *Store[T]) GetOrCreate(id string, ctor func() (T, error)) (T, Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.opts.Clock()
	s.evictLocked(now)

	if id != "" {
		e, err := s.lookupLocked(id, now)
		if err != nil {
			var zero T
			return zero, Handle{}, err
		}
		return e.value, e.handle, nil
	}

	var zero T
	if ctor == nil {
		return zero, Handle{}, core.NewError(core.KindDuplicateOrInvalid, "session.GetOrCreate", "no constructor given")
	}

	v, err := ctor()
	if err != nil {
		return zero, Handle{}, err
	}

	s.seq++
	e := &entry[T]{
		value: v,
		handle: Handle{
			ID:         s.opts.NewID(),
			CreatedAt:  now,
			LastUsedAt: now,
			ExpiresAt:  s.expiry(now),
		},
		seq:   s.seq,
		lease: make(chan struct{}, 1),
	}
	s.entries[e.handle.ID] = e

	s.opts.Logger.Info("session.created", "session_id", e.handle.ID, "live", len(s.entries))

	s.evictLocked(now)

	return v, e.handle, nil
}

// Get looks up an existing instance without constructing one.
func (s *Store[T]) Get(id string) (T, Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.opts.Clock()
	s.evictLocked(now)

	e, err := s.lookupLocked(id, now)
	if err != nil {
		var zero T
		return zero, Handle{}, err
	}

	return e.value, e.handle, nil
}

// Acquire looks up id like Get and then takes the per-session lease, blocking
// until the current holder releases it or ctx is done. The returned release
// func is idempotent.
func (s *Store[T]) Acquire(ctx context.Context, id string) (T, Handle, func(), error) {
	var zero T

	s.mu.Lock()
	now := s.opts.Clock()
	s.evictLocked(now)
	e, err := s.lookupLocked(id, now)
	var (
		v T
		h Handle
	)
	if err == nil {
		v, h = e.value, e.handle
	}
	s.mu.Unlock()

	if err != nil {
		return zero, Handle{}, nil, err
	}

	select {
	case e.lease <- struct{}{}:
	case <-ctx.Done():
		return zero, Handle{}, nil, ctx.Err()
	}

	release := sync.OnceFunc(func() { <-e.lease })

	return v, h, release, nil
}

// ListAll returns a snapshot of all live handles ordered by creation time.
// The returned slice is owned by the caller.
func (s *Store[T]) ListAll() []Handle {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.opts.Clock()
	live := make([]*entry[T], 0, len(s.entries))
	for _, e := range s.entries {
		if e.handle.LiveAt(now) {
			live = append(live, e)
		}
	}
	sortBySeq(live)

	handles := make([]Handle, len(live))
	for i, e := range live {
		handles[i] = e.handle
	}

	return handles
}

// Delete removes id and remembers it as expired. It reports whether id was live.
func (s *Store[T]) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[id]; !ok {
		return false
	}
	s.expireLocked(id, "deleted")

	return true
}

// Sweep evicts expired and surplus sessions without a lookup and returns
// the number removed.
func (s *Store[T]) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	before := len(s.entries)
	s.evictLocked(s.opts.Clock())

	return before - len(s.entries)
}

// Len returns the number of stored (not yet evicted) sessions.
func (s *Store[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.entries)
}

func (s *Store[T]) lookupLocked(id string, now time.Time) (*entry[T], error) {
	if e, ok := s.entries[id]; ok {
		e.handle.LastUsedAt = now
		e.handle.ExpiresAt = s.expiry(now)
		return e, nil
	}

	if _, ok := s.expired[id]; ok {
		return nil, core.NewError(core.KindSessionExpired, "session.lookup", "session %q has expired", id)
	}

	return nil, core.NewError(core.KindSessionNotFound, "session.lookup", "session %q not found", id)
}

func (s *Store[T]) expiry(now time.Time) time.Time {
	if s.opts.TTL <= 0 {
		return time.Time{}
	}
	return now.Add(s.opts.TTL)
}

// evictLocked moves TTL-expired entries, then the oldest created entries
// beyond capacity, into the expired set.
func (s *Store[T]) evictLocked(now time.Time) {
	for id, e := range s.entries {
		if !e.handle.LiveAt(now) {
			s.expireLocked(id, "ttl")
		}
	}

	over := len(s.entries) - s.opts.MaxSessions
	if s.opts.MaxSessions <= 0 || over <= 0 {
		return
	}

	all := make([]*entry[T], 0, len(s.entries))
	for _, e := range s.entries {
		all = append(all, e)
	}
	sortBySeq(all)

	for _, e := range all[:over] {
		s.expireLocked(e.handle.ID, "capacity")
	}
}

func (s *Store[T]) expireLocked(id, reason string) {
	delete(s.entries, id)

	if _, ok := s.expired[id]; !ok {
		s.expired[id] = struct{}{}
		s.expiredOrder = append(s.expiredOrder, id)
	}

	for s.opts.MaxExpired > 0 && len(s.expiredOrder) > s.opts.MaxExpired {
		oldest := s.expiredOrder[0]
		s.expiredOrder = s.expiredOrder[1:]
		delete(s.expired, oldest)
	}

	s.opts.Logger.Info("session.evicted", "session_id", id, "reason", reason)
}

// sortBySeq orders entries by creation; seq breaks ties between equal timestamps.
func sortBySeq[T any](es []*entry[T]) {
	sort.Slice(es, func(i, j int) bool {
		if !es[i].handle.CreatedAt.Equal(es[j].handle.CreatedAt) {
			return es[i].handle.CreatedAt.Before(es[j].handle.CreatedAt)
		}
		return es[i].seq < es[j].seq
	})
}
