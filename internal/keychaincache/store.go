package keychaincache

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/florianilch/claudine-credentials/internal/credentials"
)

// Key identifies one cached credential.
type Key struct {
	Provider string
	Kind     string
}

// OAuthKey returns the key for a provider's OAuth credentials.
func OAuthKey(provider string) Key {
	return Key{Provider: provider, Kind: "oauth"}
}

func (k Key) String() string {
	return k.Provider + "/" + k.Kind
}

// State is the state of a cache entry.
type State int

const (
	StateEmpty State = iota
	StateCached
	StateCachedAbsent
	StateInvalidated
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateCached:
		return "cached"
	case StateCachedAbsent:
		return "cached-absent"
	case StateInvalidated:
		return "invalidated"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Entry is a snapshot of one identity's cache slot.
type Entry struct {
	State    State
	Record   *credentials.Record
	CachedAt time.Time
	// Interactive records whether an absence was observed by a read that was
	// allowed to prompt.
	Interactive bool
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// WithAbsentTTL sets how long an absence marker stays valid. Zero keeps markers forever.
func WithAbsentTTL(ttl time.Duration) Option {
	return func(s *Store) {
		s.absentTTL = ttl
	}
}

// WithLogger sets the logger used for backend failures.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// Store is a process-wide keyed cache of credential records and absence markers.
// The in-memory table is authoritative. Records read from the secure store are
// written through to a Backend so a cold start can reuse them without another
// keychain prompt; records from the credentials file stay in memory because
// the file is cheap to re-check and may change between runs.
type Store struct {
	backend   Backend
	now       func() time.Time
	absentTTL time.Duration
	logger    *slog.Logger

	// writeMu orders backend writes the same way as the memory updates they follow.
	writeMu sync.Mutex

	mu      sync.Mutex
	entries map[Key]Entry
	// loaded tracks keys already looked up in the backend, or written, since the last reset.
	loaded map[Key]bool
}

// New creates a Store persisting records to backend.
func New(backend Backend, opts ...Option) *Store {
	s := &Store{
		backend: backend,
		now:     time.Now,
		logger:  slog.Default(),
		entries: make(map[Key]Entry),
		loaded:  make(map[Key]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewIsolated creates a Store backed only by memory, for tests.
func NewIsolated(opts ...Option) *Store {
	return New(NewMemoryBackend(), opts...)
}

// Get returns the entry for key. Absence markers older than the absent TTL
// are reported as StateEmpty.
func (s *Store) Get(ctx context.Context, key Key) Entry {
	s.mu.Lock()
	entry, ok := s.entries[key]
	needsBackend := !ok && !s.loaded[key]
	s.mu.Unlock()

	if needsBackend {
		entry, ok = s.loadFromBackend(ctx, key)
	}
	if !ok {
		return Entry{State: StateEmpty}
	}

	if entry.State == StateCachedAbsent && s.absentTTL > 0 && s.now().Sub(entry.CachedAt) >= s.absentTTL {
		return Entry{State: StateEmpty}
	}
	return entry
}

// loadFromBackend consults the backend once per key. A write or clear that
// happened while the backend was read wins over the persisted copy.
func (s *Store) loadFromBackend(ctx context.Context, key Key) (Entry, bool) {
	rec, cachedAt, err := s.backend.Load(ctx, key)
	if err != nil {
		s.logger.WarnContext(ctx, "reading credential cache backend failed", "key", key.String(), "error", err)
	}
	if rec != nil && !persistable(rec) {
		rec = nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.loaded[key] {
		entry, ok := s.entries[key]
		return entry, ok
	}
	s.loaded[key] = true
	if rec == nil {
		return Entry{}, false
	}

	entry := Entry{State: StateCached, Record: rec, CachedAt: cachedAt}
	s.entries[key] = entry
	return entry, true
}

// SetRecord caches rec for key.
func (s *Store) SetRecord(ctx context.Context, key Key, rec *credentials.Record) {
	s.Set(ctx, key, Entry{State: StateCached, Record: rec})
}

// SetAbsent caches an absence marker for key.
func (s *Store) SetAbsent(ctx context.Context, key Key, interactive bool) {
	s.Set(ctx, key, Entry{State: StateCachedAbsent, Interactive: interactive})
}

// Set replaces the entry for key. A zero CachedAt is stamped with the current time.
func (s *Store) Set(ctx context.Context, key Key, entry Entry) {
	if entry.CachedAt.IsZero() {
		entry.CachedAt = s.now()
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	s.entries[key] = entry
	s.loaded[key] = true
	s.mu.Unlock()

	s.persist(ctx, key, entry)
}

// Invalidate marks the entry for key stale, keeping the last record for
// inspection. Loads treat an invalidated entry as a miss.
func (s *Store) Invalidate(ctx context.Context, key Key) {
	s.InvalidateIf(ctx, key, nil)
}

// InvalidateIf marks the entry for key stale when match accepts it, checking
// and marking under one lock hold. A missing entry is passed to match as
// StateEmpty. A nil match accepts every entry. It reports whether the entry
// was invalidated.
func (s *Store) InvalidateIf(ctx context.Context, key Key, match func(Entry) bool) bool {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	entry, ok := s.entries[key]
	if !ok {
		entry = Entry{State: StateEmpty}
	}
	if match != nil && !match(entry) {
		s.mu.Unlock()
		return false
	}
	if ok {
		entry.State = StateInvalidated
		entry.CachedAt = s.now()
		s.entries[key] = entry
	}
	s.loaded[key] = true
	s.mu.Unlock()

	if err := s.backend.Delete(ctx, key); err != nil {
		s.logger.WarnContext(ctx, "clearing credential cache backend failed", "key", key.String(), "error", err)
	}
	return true
}

// Clear removes the entry for key entirely, including its persisted copy.
func (s *Store) Clear(ctx context.Context, key Key) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	delete(s.entries, key)
	s.loaded[key] = true
	s.mu.Unlock()

	if err := s.backend.Delete(ctx, key); err != nil {
		s.logger.WarnContext(ctx, "clearing credential cache backend failed", "key", key.String(), "error", err)
	}
}

// persist mirrors entry to the backend. Only secure-store records survive a restart.
func (s *Store) persist(ctx context.Context, key Key, entry Entry) {
	var err error
	if entry.State == StateCached && persistable(entry.Record) {
		err = s.backend.Save(ctx, key, entry.Record, entry.CachedAt)
	} else {
		err = s.backend.Delete(ctx, key)
	}
	if err != nil {
		s.logger.WarnContext(ctx, "writing credential cache backend failed", "key", key.String(), "error", err)
	}
}

func persistable(rec *credentials.Record) bool {
	return rec != nil && rec.Source() == credentials.SourceKeychain
}

// ClearAll drops every in-memory entry and forgets which keys were read from
// the backend. Persisted copies are left alone.
func (s *Store) ClearAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = make(map[Key]Entry)
	s.loaded = make(map[Key]bool)
}
