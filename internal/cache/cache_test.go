package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/woozymasta/sampinfo/internal/models"
)

type clock struct {
	now time.Time
	mu  sync.Mutex
}

func newClock() *clock {
	return &clock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func record(players uint16) models.ServerRecord {
	return models.ServerRecord{
		Hostname:    "srv",
		Online:      true,
		PlayerCount: players,
		MaxPlayers:  500,
		Rules:       map[string]string{"version": "0.3.7"},
		Players:     []models.Player{{ID: 1, Name: "CJ"}},
	}
}

func TestTTLFor(t *testing.T) {
	c := New(Options{})

	require.Equal(t, OfflineTTL, c.TTLFor(models.ServerRecord{}))
	require.Equal(t, EmptyTTL, c.TTLFor(record(0)))
	require.Equal(t, DefaultTTL, c.TTLFor(record(1)))
	require.Equal(t, DefaultTTL, c.TTLFor(record(99)))
	require.Equal(t, DefaultTTL, c.TTLFor(record(100)))
	require.Equal(t, BusyTTL, c.TTLFor(record(101)))
	require.Equal(t, 7*time.Second, New(Options{DefaultTTL: 7 * time.Second}).TTLFor(record(5)))
}

func TestExpiryTicks(t *testing.T) {
	cases := []struct {
		players uint16
		ttl     time.Duration
	}{
		{players: 150, ttl: 5 * time.Second},
		{players: 0, ttl: 20 * time.Second},
		{players: 10, ttl: 10 * time.Second},
	}

	for _, tc := range cases {
		clk := newClock()
		c := New(Options{Now: clk.Now})
		c.Set("k", record(tc.players))

		clk.Advance(tc.ttl - time.Second)
		_, ok := c.Get("k")
		require.True(t, ok, "players=%d before ttl", tc.players)

		clk.Advance(time.Second)
		_, ok = c.Get("k")
		require.False(t, ok, "players=%d at ttl", tc.players)
		require.Zero(t, c.Len())
	}
}

func TestGetReturnsCopies(t *testing.T) {
	c := New(Options{})
	rec := record(3)
	c.Set("k", rec)

	rec.Rules["version"] = "mutated"

	got, ok := c.Get("k")
	require.True(t, ok)
	require.Equal(t, "0.3.7", got.Rules["version"])

	got.Players[0].Name = "mutated"
	again, _ := c.Get("k")
	require.Equal(t, "CJ", again.Players[0].Name)
	require.Equal(t, record(3), again)
}

func TestEvictionLeastPopular(t *testing.T) {
	clk := newClock()
	c := New(Options{Now: clk.Now, MaxEntries: 3})

	for i := 0; i < 3; i++ {
		c.Set(fmt.Sprintf("k%d", i), record(5))
		clk.Advance(time.Millisecond)
	}

	// k0 and k2 gain popularity, k1 stays at one
	_, _ = c.Get("k0")
	_, _ = c.Get("k2")

	c.Set("k3", record(5))
	require.Equal(t, 3, c.Len())

	_, ok := c.Get("k1")
	require.False(t, ok)
	for _, key := range []string{"k0", "k2", "k3"} {
		_, ok := c.Get(key)
		require.True(t, ok, key)
	}
	require.EqualValues(t, 1, c.Stats().Evictions)
}

func TestEvictionTieBreaksOnLastAccess(t *testing.T) {
	clk := newClock()
	c := New(Options{Now: clk.Now, MaxEntries: 3})

	c.Set("a", record(5))
	clk.Advance(time.Millisecond)
	c.Set("b", record(5))
	clk.Advance(time.Millisecond)
	c.Set("c", record(5))
	clk.Advance(time.Millisecond)

	// Equal popularity everywhere, "b" touched least recently after this
	_, _ = c.Get("a")
	clk.Advance(time.Millisecond)
	_, _ = c.Get("c")
	clk.Advance(time.Millisecond)
	_, _ = c.Get("b")
	clk.Advance(time.Millisecond)
	_, _ = c.Get("a")
	_, _ = c.Get("c")
	clk.Advance(time.Millisecond)
	_, _ = c.Get("b")

	// a=3, b=3, c=3 popularity; a and c accessed at the same tick before b
	c.Set("d", record(5))

	keys := map[string]bool{}
	for _, k := range c.Keys() {
		keys[k.Key] = true
	}
	require.Len(t, keys, 3)
	require.True(t, keys["b"])
	require.True(t, keys["d"])
	// a and c tie on both counters, the lower key goes
	require.False(t, keys["a"])
	require.True(t, keys["c"])
}

func TestSizeNeverExceedsMax(t *testing.T) {
	c := New(Options{MaxEntries: 10})
	for i := 0; i < 100; i++ {
		c.Set(fmt.Sprintf("10.0.0.%d:7777", i), record(uint16(i)))
		require.LessOrEqual(t, c.Len(), 10)
	}
}

func TestOverwriteKeepsPopularityWithoutEviction(t *testing.T) {
	c := New(Options{MaxEntries: 2})
	c.Set("a", record(1))
	c.Set("b", record(1))
	_, _ = c.Get("a")

	c.Set("a", record(2))
	require.Equal(t, 2, c.Len())

	keys := c.Keys()
	require.Equal(t, "a", keys[0].Key)
	require.EqualValues(t, 3, keys[0].Popularity)
	require.Zero(t, keys[0].AccessCount)
}

func TestSweep(t *testing.T) {
	clk := newClock()
	c := New(Options{Now: clk.Now})

	c.Set("busy", record(150))
	c.Set("empty", record(0))
	c.Set("offline", models.ServerRecord{})

	clk.Advance(6 * time.Second)
	require.Equal(t, 1, c.Sweep())
	clk.Advance(15 * time.Second)
	require.Equal(t, 1, c.Sweep())
	clk.Advance(10 * time.Second)
	require.Equal(t, 1, c.Sweep())
	require.Zero(t, c.Len())
	require.EqualValues(t, 3, c.Stats().Expirations)
}

func TestBackgroundSweep(t *testing.T) {
	clk := newClock()
	c := New(Options{Now: clk.Now, CleanupInterval: 10 * time.Millisecond})
	c.Set("k", record(150))
	clk.Advance(time.Minute)

	c.Start()
	defer c.Stop()

	require.Eventually(t, func() bool { return c.Len() == 0 }, time.Second, 5*time.Millisecond)
}

func TestSearch(t *testing.T) {
	c := New(Options{})
	c.Set("10.0.0.1:7777", record(1))
	c.Set("10.0.0.2:7777", record(1))
	c.Set("play.example.org:7777", record(1))
	_, _ = c.Get("10.0.0.2:7777")

	matches, err := c.Search(`^10\.0\.0\.`)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	require.Equal(t, "10.0.0.2:7777", matches[0].Key)

	matches, err = c.Search("EXAMPLE")
	require.NoError(t, err)
	require.Len(t, matches, 1)

	_, err = c.Search("([")
	require.ErrorIs(t, err, ErrInvalidPattern)
}

func TestClearAndStats(t *testing.T) {
	c := New(Options{MaxEntries: 4})
	c.Set("a", record(1))
	c.Set("b", record(1))
	_, _ = c.Get("a")
	_, _ = c.Get("missing")

	st := c.Stats()
	require.Equal(t, 2, st.Entries)
	require.EqualValues(t, 1, st.Hits)
	require.EqualValues(t, 1, st.Misses)
	require.InDelta(t, 50.0, st.HitRate, 0.001)
	require.InDelta(t, 50.0, st.UsagePercent, 0.001)
	require.Positive(t, st.MemoryBytes)
	require.Equal(t, "a", st.TopServers[0].Key)

	require.Equal(t, 2, c.Clear())
	require.Zero(t, c.Len())

	st = c.Stats()
	require.EqualValues(t, 2, st.Flushed)
	require.Zero(t, st.Evictions)
}

func TestConcurrentAccess(t *testing.T) {
	c := New(Options{MaxEntries: 50})

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				key := fmt.Sprintf("k%d", (g*200+i)%80)
				c.Set(key, record(uint16(i)))
				_, _ = c.Get(key)
			}
		}(g)
	}
	wg.Wait()

	require.LessOrEqual(t, c.Len(), 50)
}
