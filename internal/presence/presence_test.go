package presence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"pulse/internal/domain"
	domaintypes "pulse/internal/domain/types"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestTypingExpiresAndResets(t *testing.T) {
	require := require.New(t)
	clk := &fakeClock{t: time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)}
	tr := New(5 * time.Second).WithClock(clk.now)

	tr.SetTyping("c", "bob", true)
	tr.SetTyping("other", "carol", true)
	require.Equal([]domain.UserID{"bob"}, tr.Typing("c"))

	clk.advance(4 * time.Second)
	tr.SetTyping("c", "bob", true)
	clk.advance(4 * time.Second)
	require.Equal([]domain.UserID{"bob"}, tr.Typing("c"), "activity resets the timeout")

	clk.advance(time.Second)
	require.Empty(tr.Typing("c"))

	tr.SetTyping("c", "dave", true)
	tr.SetTyping("c", "dave", false)
	require.Empty(tr.Typing("c"))
}

func TestDefaultTypingTimeout(t *testing.T) {
	clk := &fakeClock{t: time.Unix(0, 0)}
	tr := New(0).WithClock(clk.now)
	tr.SetTyping("c", "bob", true)
	clk.advance(DefaultTypingTimeout - time.Millisecond)
	require.Len(t, tr.Typing("c"), 1)
	clk.advance(time.Millisecond)
	require.Empty(t, tr.Typing("c"))
}

func TestLiveLocationExpires(t *testing.T) {
	require := require.New(t)
	clk := &fakeClock{t: time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)}
	tr := New(time.Second).WithClock(clk.now)

	until := clk.t.Add(time.Minute)
	require.True(tr.ObserveLocation("c", "bob", domaintypes.Location{Latitude: 1, LiveUntil: &until}))
	require.False(tr.ObserveLocation("c", "carol", domaintypes.Location{Latitude: 2}), "pinned locations are not live")

	shares := tr.Locations("c")
	require.Len(shares, 1)
	require.Equal(domain.UserID("bob"), shares[0].User)

	clk.advance(time.Minute)
	require.Empty(tr.Locations("c"))

	past := clk.t.Add(-time.Second)
	require.False(tr.ObserveLocation("c", "bob", domaintypes.Location{LiveUntil: &past}))

	later := clk.t.Add(time.Hour)
	tr.ObserveLocation("c", "bob", domaintypes.Location{LiveUntil: &later})
	tr.StopLocation("c", "bob")
	require.Empty(tr.Locations("c"))
}
