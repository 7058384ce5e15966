package tokenstore

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"
)

// Default lifetimes.
const (
	DefaultTTL           = 7 * 24 * time.Hour
	DefaultSweepInterval = time.Hour
)

var (
	// ErrNotFound is returned when a key is absent, expired or unreadable.
	ErrNotFound = errors.New("token not found")
	// ErrEmptyKey is returned when storing under an empty key.
	ErrEmptyKey = errors.New("token key cannot be empty")
)

// Option configures a Store.
type Option func(*Store)

// WithTTL sets the lifetime granted by Set and Extend.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		s.ttl = ttl
	}
}

// WithSweepInterval sets how often the background loop evicts expired entries.
// A non-positive interval disables the loop.
func WithSweepInterval(interval time.Duration) Option {
	return func(s *Store) {
		s.sweepInterval = interval
	}
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// Store holds named secrets with a sliding expiry.
//
// The in-memory map is authoritative for reads. Every mutation rewrites the
// whole map through the Backend while holding the lock; when that write fails
// the error is returned but memory keeps the mutation, so memory and disk may
// diverge until the next successful save.
type Store struct {
	backend       Backend
	cipher        Cipher
	ttl           time.Duration
	sweepInterval time.Duration
	now           func() time.Time

	mu      sync.Mutex
	entries map[string]Entry
	cancel  context.CancelFunc
	done    chan struct{}

	initOnce sync.Once
}

// New creates a Store. No I/O is performed until Initialize.
func New(backend Backend, cipher Cipher, opts ...Option) (*Store, error) {
	if backend == nil {
		return nil, fmt.Errorf("missing backend")
	}
	if cipher == nil {
		return nil, fmt.Errorf("missing cipher")
	}

	s := &Store{
		backend:       backend,
		cipher:        cipher,
		ttl:           DefaultTTL,
		sweepInterval: DefaultSweepInterval,
		now:           time.Now,
		entries:       make(map[string]Entry),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.ttl <= 0 {
		return nil, fmt.Errorf("ttl must be positive, got %s", s.ttl)
	}

	return s, nil
}

// Initialize loads persisted entries, drops expired ones (rewriting the file if
// any were dropped) and starts the sweep loop. The loop stops when ctx is done
// or Close is called. Load failures are logged and leave the store empty.
// Only the first call has any effect.
func (s *Store) Initialize(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.initOnce.Do(func() {
		s.load(ctx)

		if s.sweepInterval <= 0 {
			return
		}

		loopCtx, cancel := context.WithCancel(ctx)
		done := make(chan struct{})

		s.mu.Lock()
		s.cancel = cancel
		s.done = done
		s.mu.Unlock()

		go s.sweepLoop(loopCtx, done)
	})

	return nil
}

// load replaces the in-memory map with the unexpired persisted entries.
func (s *Store) load(ctx context.Context) {
	persisted, err := s.backend.Load(ctx)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			slog.DebugContext(ctx, "no persisted tokens, starting empty")
		} else {
			slog.WarnContext(ctx, "failed to load tokens, starting empty", "error", err)
		}
		return
	}

	now := s.now()
	kept := make(map[string]Entry, len(persisted))
	for key, entry := range persisted {
		if key == "" || entry.Expired(now) {
			continue
		}
		kept[key] = entry
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = kept
	dropped := len(persisted) - len(kept)
	if dropped > 0 {
		slog.InfoContext(ctx, "dropped expired tokens on load", "count", dropped)
		_ = s.persistLocked(ctx)
	}

	slog.DebugContext(ctx, "tokens loaded", "count", len(kept))
}

// sweepLoop runs Sweep on every tick until ctx is cancelled.
func (s *Store) sweepLoop(ctx context.Context, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// No caller awaits this path; Sweep already logged any failure.
			_, _ = s.Sweep(ctx)
		}
	}
}

// Close stops the sweep loop and waits for it to exit. Safe to call repeatedly.
func (s *Store) Close() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Set stores value under key with a fresh expiry and persists the map.
//
// When the cipher is unavailable the value is only base64-encoded and a
// warning is logged; such entries are NOT protected at rest.
func (s *Store) Set(ctx context.Context, key, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if key == "" {
		return ErrEmptyKey
	}

	entry := s.seal(ctx, key, value)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[key] = entry
	return s.persistLocked(ctx)
}

// Get returns the plaintext for key. Returns ErrNotFound if the key is
// missing, expired (the entry is evicted) or cannot be decrypted.
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.liveLocked(ctx, key)
	if !ok {
		return "", ErrNotFound
	}

	value, err := s.open(ctx, entry)
	if err != nil {
		slog.ErrorContext(ctx, "failed to read token", "key", key, "encoding", entry.encoding(), "error", err)
		return "", ErrNotFound
	}
	return value, nil
}

// Remove deletes key and persists the map. Absent keys are not an error.
func (s *Store) Remove(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, key)
	return s.persistLocked(ctx)
}

// Clear deletes every entry and persists an empty map.
func (s *Store) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = make(map[string]Entry)
	return s.persistLocked(ctx)
}

// IsValid reports whether key exists and has not expired. A found but expired
// entry is evicted.
func (s *Store) IsValid(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.liveLocked(ctx, key)
	return ok, nil
}

// Extend restarts the expiry of a live entry and persists the map. Returns
// false if the key is absent. An entry that has already expired is evicted
// rather than renewed, so Extend never revives a token a read would reject.
//
// A persistence failure is returned together with true: the new expiry is
// already in effect in memory.
func (s *Store) Extend(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.liveLocked(ctx, key)
	if !ok {
		return false, nil
	}

	entry.ExpiresAt = s.now().Add(s.ttl).UnixMilli()
	s.entries[key] = entry
	return true, s.persistLocked(ctx)
}

// Sweep evicts every expired entry and returns how many were removed. The map
// is persisted only when something was removed.
func (s *Store) Sweep(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for key, entry := range s.entries {
		if entry.Expired(now) {
			delete(s.entries, key)
			removed++
		}
	}

	if removed == 0 {
		return 0, nil
	}

	slog.InfoContext(ctx, "swept expired tokens", "count", removed)
	return removed, s.persistLocked(ctx)
}

// Keys returns the sorted keys of all unexpired entries. Values are never exposed.
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	keys := make([]string, 0, len(s.entries))
	for key, entry := range s.entries {
		if !entry.Expired(now) {
			keys = append(keys, key)
		}
	}
	slices.Sort(keys)
	return keys, nil
}

// liveLocked returns the entry for key if it is unexpired. Expired entries are
// deleted and the map is persisted; a failed write there is only logged.
func (s *Store) liveLocked(ctx context.Context, key string) (Entry, bool) {
	entry, ok := s.entries[key]
	if !ok {
		return Entry{}, false
	}

	if entry.Expired(s.now()) {
		delete(s.entries, key)
		slog.DebugContext(ctx, "evicted expired token", "key", key)
		_ = s.persistLocked(ctx)
		return Entry{}, false
	}

	return entry, true
}

// persistLocked writes a snapshot of the map. Failures are logged here and
// returned so callers decide whether to propagate.
func (s *Store) persistLocked(ctx context.Context) error {
	if err := s.backend.Save(ctx, maps.Clone(s.entries)); err != nil {
		slog.ErrorContext(ctx, "failed to persist tokens", "error", err)
		return fmt.Errorf("persisting tokens: %w", err)
	}
	return nil
}

// seal encrypts value when the cipher allows it. If the cipher is unavailable
// or encryption fails, the value is stored base64-encoded with a warning, so
// Set only fails on persistence errors.
func (s *Store) seal(ctx context.Context, key, value string) Entry {
	entry := Entry{
		ExpiresAt: s.now().Add(s.ttl).UnixMilli(),
	}

	if s.cipher.Available(ctx) {
		ciphertext, err := s.cipher.Encrypt(ctx, value)
		if err == nil {
			entry.EncryptedData = base64.StdEncoding.EncodeToString(ciphertext)
			entry.Encoding = EncodingEncrypted
			return entry
		}
		slog.WarnContext(ctx, "encryption failed, storing token with reversible encoding (not secure)", "key", key, "error", err)
	} else {
		slog.WarnContext(ctx, "platform encryption unavailable, storing token with reversible encoding (not secure)", "key", key)
	}

	entry.EncryptedData = base64.StdEncoding.EncodeToString([]byte(value))
	entry.Encoding = EncodingEncoded
	return entry
}

func (s *Store) open(ctx context.Context, entry Entry) (string, error) {
	payload, err := entry.payload()
	if err != nil {
		return "", err
	}

	switch entry.encoding() {
	case EncodingEncoded:
		return string(payload), nil
	case EncodingEncrypted:
		return s.cipher.Decrypt(ctx, payload)
	default:
		return "", fmt.Errorf("unknown encoding %q", entry.Encoding)
	}
}
