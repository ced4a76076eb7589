package conversation

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"
)

const (
	DefaultMaxSessions   = 100
	DefaultSessionTTL    = 30 * time.Minute
	DefaultSweepInterval = time.Minute
)

// StoreConfig bounds the in-memory session store.
type StoreConfig struct {
	MaxRounds     int              // exchanges kept per session
	MaxSessions   int              // sessions kept before the least recently active is evicted
	TTL           time.Duration    // idle time after which Sweep removes a session
	SweepInterval time.Duration    // period of the background sweep
	Clock         func() time.Time // nil means time.Now
}

// DefaultStoreConfig returns the production limits.
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		MaxRounds:     DefaultMaxRounds,
		MaxSessions:   DefaultMaxSessions,
		TTL:           DefaultSessionTTL,
		SweepInterval: DefaultSweepInterval,
	}
}

// StoreStats is a point-in-time view of the store.
type StoreStats struct {
	Sessions int `json:"sessions"`
	Messages int `json:"messages"`
}

// entry guards one session. lastActive mirrors session.LastActiveAt so that
// eviction and sweeping can read it without taking the entry lock.
type entry struct {
	mu         sync.Mutex
	session    *Session
	lastActive atomic.Int64
}

func newEntry(s *Session) *entry {
	e := &entry{session: s}
	e.lastActive.Store(s.LastActiveAt.UnixNano())
	return e
}

// Store is a concurrent, capacity-bounded, time-expiring session map.
// The map lock is only held for insert, evict and remove; session reads and
// writes lock the single entry they touch.
type Store struct {
	cfg    StoreConfig
	now    func() time.Time
	logger zerolog.Logger

	mu       sync.RWMutex
	sessions map[string]*entry

	lifecycle sync.Mutex
	sweepCtx  context.Context
	cancel    context.CancelFunc
	wg        *conc.WaitGroup
}

// NewStore creates an empty store. Zero-valued limits fall back to the defaults.
func NewStore(cfg StoreConfig, logger zerolog.Logger) *Store {
	def := DefaultStoreConfig()
	if cfg.MaxRounds < 1 {
		cfg.MaxRounds = def.MaxRounds
	}
	if cfg.MaxSessions < 1 {
		cfg.MaxSessions = def.MaxSessions
	}
	if cfg.TTL <= 0 {
		cfg.TTL = def.TTL
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = def.SweepInterval
	}
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}

	return &Store{
		cfg:      cfg,
		now:      now,
		logger:   logger.With().Str("component", "conversation.store").Logger(),
		sessions: make(map[string]*entry),
	}
}

// GetOrCreate returns a snapshot of the session for id, creating it when
// unknown. A blank id gets a freshly generated one.
func (s *Store) GetOrCreate(id string) Session {
	e := s.getOrCreateEntry(id)

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session.snapshot()
}

// Get returns a snapshot of an existing session without creating one.
func (s *Store) Get(id string) (Session, bool) {
	s.mu.RLock()
	e, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return Session{}, false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session.snapshot(), true
}

// Append adds msgs to the session for id in order. All messages of one call
// are applied under the session lock, so they stay adjacent in the history.
func (s *Store) Append(id string, msgs ...Message) Session {
	e := s.getOrCreateEntry(id)

	e.mu.Lock()
	for _, msg := range msgs {
		e.session.AddMessage(msg)
	}
	e.lastActive.Store(e.session.LastActiveAt.UnixNano())
	snap := e.session.snapshot()
	e.mu.Unlock()

	s.writeBack(snap.ID, e)
	return snap
}

// Sweep removes every session idle for longer than the TTL and returns how
// many were removed.
func (s *Store) Sweep() int {
	cutoff := s.now().Add(-s.cfg.TTL).UnixNano()

	s.mu.RLock()
	var expired []string
	for id, e := range s.sessions {
		if e.lastActive.Load() < cutoff {
			expired = append(expired, id)
		}
	}
	s.mu.RUnlock()

	removed := 0
	for _, id := range expired {
		s.mu.Lock()
		// Re-check: the session may have been touched since the scan.
		if e, ok := s.sessions[id]; ok && e.lastActive.Load() < cutoff {
			delete(s.sessions, id)
			removed++
		}
		s.mu.Unlock()
	}
	return removed
}

// Start launches the periodic sweep. Calling Start on a running store is a
// no-op; a sweeper stopped by its parent context is replaced.
func (s *Store) Start(ctx context.Context) {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if s.runningLocked() {
		return
	}
	s.stopLocked()

	sweepCtx, cancel := context.WithCancel(ctx)
	s.sweepCtx = sweepCtx
	s.cancel = cancel
	s.wg = conc.NewWaitGroup()
	s.wg.Go(func() { s.runSweeper(sweepCtx) })
}

// Shutdown stops the periodic sweep and waits for it to exit. Stored
// sessions are left as they are. It is safe to call more than once.
func (s *Store) Shutdown() {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	s.stopLocked()
}

// Running reports whether the periodic sweep is active.
func (s *Store) Running() bool {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	return s.runningLocked()
}

func (s *Store) runningLocked() bool {
	return s.cancel != nil && s.sweepCtx.Err() == nil
}

// stopLocked cancels the sweeper and waits for it. Callers hold s.lifecycle.
func (s *Store) stopLocked() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	s.wg.Wait()
	s.sweepCtx = nil
	s.cancel = nil
	s.wg = nil
}

// Len returns the number of stored sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Stats counts sessions and retained messages.
func (s *Store) Stats() StoreStats {
	s.mu.RLock()
	entries := make([]*entry, 0, len(s.sessions))
	for _, e := range s.sessions {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	stats := StoreStats{Sessions: len(entries)}
	for _, e := range entries {
		e.mu.Lock()
		stats.Messages += len(e.session.History)
		e.mu.Unlock()
	}
	return stats
}

func (s *Store) runSweeper(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	s.logger.Debug().Dur("interval", s.cfg.SweepInterval).Dur("ttl", s.cfg.TTL).Msg("session sweeper started")

	for {
		select {
		case <-ctx.Done():
			s.logger.Debug().Msg("session sweeper stopped")
			return
		case <-ticker.C:
			start := time.Now()
			if removed := s.Sweep(); removed > 0 {
				s.logger.Info().
					Int("removed", removed).
					Int("remaining", s.Len()).
					Dur("duration", time.Since(start)).
					Msg("expired sessions removed")
			}
		}
	}
}

func (s *Store) getOrCreateEntry(id string) *entry {
	if strings.TrimSpace(id) == "" {
		id = s.newID()
	}

	s.mu.RLock()
	e, ok := s.sessions[id]
	s.mu.RUnlock()
	if ok {
		return e
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.sessions[id]; ok {
		return e
	}
	if len(s.sessions) >= s.cfg.MaxSessions {
		s.evictOldestLocked()
	}
	e = newEntry(newSession(id, s.cfg.MaxRounds, s.now))
	s.sessions[id] = e
	return e
}

// writeBack re-inserts e when it was evicted or swept while being appended to.
func (s *Store) writeBack(id string, e *entry) {
	s.mu.RLock()
	_, ok := s.sessions[id]
	s.mu.RUnlock()
	if ok {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; ok {
		return
	}
	if len(s.sessions) >= s.cfg.MaxSessions {
		s.evictOldestLocked()
	}
	s.sessions[id] = e
}

// evictOldestLocked removes the session with the smallest last activity.
// It scans every session, which is O(n) per insert at capacity. Callers hold s.mu.
func (s *Store) evictOldestLocked() {
	var (
		oldestID string
		oldest   int64
		found    bool
	)
	for id, e := range s.sessions {
		if ts := e.lastActive.Load(); !found || ts < oldest {
			oldestID, oldest, found = id, ts, true
		}
	}
	if !found {
		return
	}
	delete(s.sessions, oldestID)
	s.logger.Debug().
		Str("session_id", oldestID).
		Time("last_active_at", time.Unix(0, oldest)).
		Msg("session evicted at capacity")
}

func (s *Store) newID() string {
	return fmt.Sprintf("SESSION_%d_%s", s.now().UnixMilli(), uuid.NewString())
}
