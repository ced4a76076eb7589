package conversation

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
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

func newTestStore(cfg StoreConfig) *Store {
	return NewStore(cfg, zerolog.Nop())
}

func TestStore_GetOrCreateBlankGeneratesDistinctIDs(t *testing.T) {
	store := newTestStore(DefaultStoreConfig())

	a := store.GetOrCreate("")
	b := store.GetOrCreate("   ")

	assert.NotEqual(t, a.ID, b.ID)
	assert.True(t, strings.HasPrefix(a.ID, "SESSION_"))
	assert.Empty(t, a.History)
	assert.Equal(t, 2, store.Len())
}

func TestStore_GetOrCreateReturnsExisting(t *testing.T) {
	store := newTestStore(DefaultStoreConfig())

	store.Append("abc", UserMessage("hello"))
	got := store.GetOrCreate("abc")

	assert.Equal(t, "abc", got.ID)
	require.Len(t, got.History, 1)
	assert.Equal(t, "hello", got.History[0].Content)
	assert.Equal(t, 1, store.Len())
}

func TestStore_AppendKeepsMostRecentMessages(t *testing.T) {
	store := newTestStore(DefaultStoreConfig())

	for n := 1; n <= 9; n++ {
		store.Append("s", UserMessage(fmt.Sprintf("m%d", n)))

		got, ok := store.Get("s")
		require.True(t, ok)
		want := min(n, 2*DefaultMaxRounds)
		require.Len(t, got.History, want)
		assert.Equal(t, fmt.Sprintf("m%d", n), got.History[want-1].Content)
		assert.Equal(t, fmt.Sprintf("m%d", n-want+1), got.History[0].Content)
	}
}

func TestStore_GetMissing(t *testing.T) {
	store := newTestStore(DefaultStoreConfig())

	_, ok := store.Get("nope")
	assert.False(t, ok)
	assert.Equal(t, 0, store.Len())
}

func TestStore_EvictsLeastRecentlyActiveAtCapacity(t *testing.T) {
	clock := newFakeClock()
	store := newTestStore(StoreConfig{MaxSessions: 3, Clock: clock.Now})

	for _, id := range []string{"a", "b", "c"} {
		store.GetOrCreate(id)
		clock.Advance(time.Second)
	}
	// "a" becomes the most recently active; "b" is now the oldest.
	store.Append("a", UserMessage("ping"))
	clock.Advance(time.Second)

	store.GetOrCreate("d")

	assert.Equal(t, 3, store.Len())
	_, ok := store.Get("b")
	assert.False(t, ok, "oldest session should be evicted")
	for _, id := range []string{"a", "c", "d"} {
		_, ok := store.Get(id)
		assert.True(t, ok, "session %s should survive", id)
	}
}

func TestStore_NeverExceedsCapacity(t *testing.T) {
	clock := newFakeClock()
	store := newTestStore(StoreConfig{MaxSessions: 5, Clock: clock.Now})

	for i := 0; i < 50; i++ {
		store.GetOrCreate(fmt.Sprintf("s%d", i))
		clock.Advance(time.Millisecond)
		assert.LessOrEqual(t, store.Len(), 5)
	}
	// The survivors are the five most recently created.
	for i := 45; i < 50; i++ {
		_, ok := store.Get(fmt.Sprintf("s%d", i))
		assert.True(t, ok)
	}
}

func TestStore_ExistingIDAtCapacityDoesNotEvict(t *testing.T) {
	store := newTestStore(StoreConfig{MaxSessions: 2})

	store.GetOrCreate("a")
	store.GetOrCreate("b")
	store.GetOrCreate("a")

	assert.Equal(t, 2, store.Len())
	_, ok := store.Get("b")
	assert.True(t, ok)
}

func TestStore_SweepRemovesExpiredOnly(t *testing.T) {
	clock := newFakeClock()
	store := newTestStore(StoreConfig{TTL: 30 * time.Minute, Clock: clock.Now})

	store.Append("stale", UserMessage("old"))
	clock.Advance(20 * time.Minute)
	store.Append("fresh", UserMessage("new"))
	clock.Advance(11 * time.Minute)

	removed := store.Sweep()

	assert.Equal(t, 1, removed)
	_, ok := store.Get("stale")
	assert.False(t, ok)
	_, ok = store.Get("fresh")
	assert.True(t, ok)
}

func TestStore_SweepKeepsSessionAtExactTTL(t *testing.T) {
	clock := newFakeClock()
	store := newTestStore(StoreConfig{TTL: time.Minute, Clock: clock.Now})

	store.GetOrCreate("edge")
	clock.Advance(time.Minute)

	assert.Equal(t, 0, store.Sweep())
	clock.Advance(time.Nanosecond)
	assert.Equal(t, 1, store.Sweep())
}

func TestStore_ConcurrentGetOrCreateSameIDSharesSession(t *testing.T) {
	store := newTestStore(DefaultStoreConfig())

	var wg conc.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Go(func() {
			store.GetOrCreate("shared")
			store.Append("shared", UserMessage("x"))
		})
	}
	wg.Wait()

	assert.Equal(t, 1, store.Len())
	got, ok := store.Get("shared")
	require.True(t, ok)
	assert.Len(t, got.History, 2*DefaultMaxRounds)
}

func TestStore_AppendPairStaysAdjacent(t *testing.T) {
	store := newTestStore(StoreConfig{MaxRounds: 50})

	var wg conc.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Go(func() {
			tag := fmt.Sprintf("req-%d", i)
			store.Append("pair", UserMessage(tag), AssistantMessage(tag))
		})
	}
	wg.Wait()

	got, ok := store.Get("pair")
	require.True(t, ok)
	require.Len(t, got.History, 80)
	for i := 0; i < len(got.History); i += 2 {
		assert.Equal(t, RoleUser, got.History[i].Role)
		assert.Equal(t, RoleAssistant, got.History[i+1].Role)
		assert.Equal(t, got.History[i].Content, got.History[i+1].Content)
	}
}

func TestStore_ConcurrentDistinctSessions(t *testing.T) {
	store := newTestStore(StoreConfig{MaxSessions: 1000})

	var wg conc.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Go(func() {
			id := fmt.Sprintf("s%d", i)
			for j := 0; j < 10; j++ {
				store.Append(id, UserMessage("q"), AssistantMessage("a"))
			}
		})
	}
	wg.Go(func() {
		for i := 0; i < 50; i++ {
			store.Sweep()
		}
	})
	wg.Wait()

	assert.Equal(t, 100, store.Len())
	stats := store.Stats()
	assert.Equal(t, 100, stats.Sessions)
	assert.Equal(t, 100*2*DefaultMaxRounds, stats.Messages)
}

func TestStore_StartSweepsPeriodically(t *testing.T) {
	clock := newFakeClock()
	store := newTestStore(StoreConfig{
		TTL:           time.Minute,
		SweepInterval: 5 * time.Millisecond,
		Clock:         clock.Now,
	})
	store.GetOrCreate("old")
	clock.Advance(2 * time.Minute)

	store.Start(context.Background())
	defer store.Shutdown()
	assert.True(t, store.Running())

	assert.Eventually(t, func() bool { return store.Len() == 0 }, time.Second, 5*time.Millisecond)
}

func TestStore_ShutdownIsIdempotent(t *testing.T) {
	store := newTestStore(StoreConfig{SweepInterval: time.Millisecond})
	store.GetOrCreate("keep")

	store.Shutdown() // before Start
	store.Start(context.Background())
	store.Start(context.Background())
	store.Shutdown()
	store.Shutdown()

	assert.False(t, store.Running())
	assert.Equal(t, 1, store.Len(), "shutdown must not drop sessions")
}

func TestStore_StopsWhenParentContextCancelled(t *testing.T) {
	store := newTestStore(StoreConfig{SweepInterval: time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())

	store.Start(ctx)
	cancel()

	// Shutdown still returns promptly after the sweeper exited on its own.
	done := make(chan struct{})
	go func() {
		store.Shutdown()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("shutdown did not return")
	}
}

func TestStore_RestartsAfterParentContextCancelled(t *testing.T) {
	clock := newFakeClock()
	store := newTestStore(StoreConfig{
		TTL:           time.Minute,
		SweepInterval: 5 * time.Millisecond,
		Clock:         clock.Now,
	})
	defer store.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	store.Start(ctx)
	require.True(t, store.Running())
	cancel()
	assert.False(t, store.Running())

	store.GetOrCreate("old")
	clock.Advance(2 * time.Minute)

	store.Start(context.Background())
	assert.True(t, store.Running())
	assert.Eventually(t, func() bool { return store.Len() == 0 }, time.Second, 5*time.Millisecond)
}

func BenchmarkStore_AppendAtCapacity(b *testing.B) {
	store := newTestStore(DefaultStoreConfig())
	for i := 0; b.Loop(); i++ {
		store.Append(fmt.Sprintf("s%d", i), UserMessage("q"))
	}
}
