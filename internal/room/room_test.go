package room

import (
	"regexp"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type stubHandle struct{ name string }

func (*stubHandle) IsOpen() bool            { return true }
func (*stubHandle) WriteText([]byte) error  { return nil }
func (*stubHandle) Close(int, string) error { return nil }

func TestConnections_AddGetRemove(t *testing.T) {
	c := NewConnections(nil)
	h1, h2 := &stubHandle{name: "1"}, &stubHandle{name: "2"}

	c.Add("a", h1)
	got, ok := c.Get("a")
	require.True(t, ok)
	require.Same(t, h1, got)

	c.Add("a", h2)
	got, ok = c.Get("a")
	require.True(t, ok)
	require.Same(t, h2, got)
	require.Equal(t, 1, c.Len())

	c.Remove("a")
	_, ok = c.Get("a")
	require.False(t, ok)
}

func TestConnections_RemoveIfKeepsReplacement(t *testing.T) {
	c := NewConnections(nil)
	oldH, newH := &stubHandle{name: "old"}, &stubHandle{name: "new"}

	c.Add("a", oldH)
	c.Add("a", newH)

	require.False(t, c.RemoveIf("a", oldH))
	require.True(t, c.IsCurrent("a", newH))
	require.True(t, c.RemoveIf("a", newH))
	require.Zero(t, c.Len())
}

func TestConnections_AllExcept(t *testing.T) {
	c := NewConnections(nil)
	for _, id := range []string{"a", "b", "c"} {
		c.Add(id, &stubHandle{name: id})
	}
	ids := []string{}
	for _, e := range c.AllExcept("b") {
		ids = append(ids, e.ID)
	}
	require.ElementsMatch(t, []string{"a", "c"}, ids)
	require.Len(t, c.All(), 3)
}

func TestConnections_ConcurrentAccess(t *testing.T) {
	c := NewConnections(nil)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := strconv.Itoa(i % 5)
			c.Add(id, &stubHandle{})
			c.Get(id)
			c.All()
			c.Remove(id)
		}(i)
	}
	wg.Wait()
	require.LessOrEqual(t, c.Len(), 5)
}

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (m *manualClock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *manualClock) Advance(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	m.mu.Unlock()
}

func TestParticipants_AddAndLastSeen(t *testing.T) {
	clk := &manualClock{now: time.Unix(1000, 0)}
	p := NewParticipants(clk.Now)

	added := p.Add("a", "Alice", true)
	require.Equal(t, "Alice", added.Name)
	require.True(t, added.Muted)
	require.Equal(t, clk.Now(), added.LastSeen)

	clk.Advance(time.Minute)
	p.UpdateLastSeen("a")
	got, ok := p.Get("a")
	require.True(t, ok)
	require.Equal(t, time.Unix(1060, 0), got.LastSeen)

	p.UpdateLastSeen("missing")
	require.False(t, p.Has("missing"))
}

func TestParticipants_SetMuteReportsChange(t *testing.T) {
	p := NewParticipants(nil)
	p.Add("a", "Alice", false)

	require.False(t, p.SetMute("a", false))
	require.True(t, p.SetMute("a", true))
	require.False(t, p.SetMute("a", true))
	require.True(t, p.SetMute("a", false))
	require.False(t, p.SetMute("missing", true))
}

func TestParticipants_GetReturnsCopy(t *testing.T) {
	p := NewParticipants(nil)
	p.Add("a", "Alice", false)

	got, _ := p.Get("a")
	got.Name = "Mallory"

	again, _ := p.Get("a")
	require.Equal(t, "Alice", again.Name)
}

func TestParticipants_OrderAndRemoval(t *testing.T) {
	p := NewParticipants(nil)
	p.Add("a", "A", false)
	p.Add("b", "B", false)
	p.Add("c", "C", false)

	ids := func(ps []Participant) []string {
		out := make([]string, 0, len(ps))
		for _, part := range ps {
			out = append(out, part.ID)
		}
		return out
	}
	require.Equal(t, []string{"a", "b", "c"}, ids(p.All()))
	require.Equal(t, []string{"a", "c"}, ids(p.AllExcept("b")))

	// Re-adding moves the participant to the end.
	p.Add("a", "A2", false)
	require.Equal(t, []string{"b", "c", "a"}, ids(p.All()))

	taken, ok := p.Take("b")
	require.True(t, ok)
	require.Equal(t, "B", taken.Name)
	_, ok = p.Take("b")
	require.False(t, ok)

	require.True(t, p.Remove("c"))
	require.False(t, p.Remove("c"))

	p.Clear()
	require.Empty(t, p.All())
	require.Zero(t, p.Len())
}

func TestGuestName(t *testing.T) {
	re := regexp.MustCompile(`^Guest-(\d{4})$`)
	for i := 0; i < 200; i++ {
		name := GuestName()
		m := re.FindStringSubmatch(name)
		require.NotNil(t, m, "unexpected guest name %q", name)
		n, err := strconv.Atoi(m[1])
		require.NoError(t, err)
		require.GreaterOrEqual(t, n, 1000)
		require.LessOrEqual(t, n, 9999)
	}
}
