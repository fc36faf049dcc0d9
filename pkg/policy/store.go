package policy

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// ErrNilSnapshot is returned when a nil snapshot is offered to a Store.
var ErrNilSnapshot = errors.New("policy: nil snapshot")

// Store holds the current policy snapshot behind an atomic pointer.
//
// Current never blocks and never observes a half-updated snapshot. Reload
// validates before swapping: a malformed snapshot is rejected and the store
// keeps serving the last valid one. Requests capture a snapshot reference at
// admission and use it for their whole lifetime, so a reload never alters a
// request already in flight.
type Store struct {
	current atomic.Pointer[Snapshot]

	// mu serializes writers only; readers go through the atomic pointer.
	mu      sync.Mutex
	version int64
}

// NewStore creates a Store serving the given initial snapshot as version 1.
func NewStore(initial *Snapshot) (*Store, error) {
	s := &Store{}
	if _, err := s.swap(initial); err != nil {
		return nil, err
	}
	return s, nil
}

// Current returns the latest published snapshot. The returned snapshot must
// be treated as read-only.
func (s *Store) Current() *Snapshot {
	return s.current.Load()
}

// Version returns the version of the latest published snapshot.
func (s *Store) Version() int64 {
	return s.Current().Version
}

// Reload validates next and swaps it in atomically, assigning the next
// version. On validation failure the previous snapshot keeps serving and the
// error is returned for the caller to surface as policy_reload_rejected.
func (s *Store) Reload(next *Snapshot) (*Snapshot, error) {
	return s.swap(next)
}

func (s *Store) swap(next *Snapshot) (*Snapshot, error) {
	if next == nil {
		return nil, ErrNilSnapshot
	}
	if err := next.Validate(); err != nil {
		return nil, fmt.Errorf("policy: snapshot rejected: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Stamp a copy so the caller's snapshot value stays untouched.
	s.version++
	stamped := *next
	stamped.Version = s.version
	stamped.LoadedAt = time.Now().UTC()
	s.current.Store(&stamped)
	return &stamped, nil
}
