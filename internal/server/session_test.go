package server

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSessionBeginCancelsPrevious(t *testing.T) {
	s := NewSessions(0).Get("a")

	first, doneFirst := s.Begin(context.Background())
	second, doneSecond := s.Begin(context.Background())

	assert.ErrorIs(t, first.Err(), context.Canceled)
	assert.NoError(t, second.Err())

	doneFirst()
	assert.True(t, s.Busy(), "finishing a superseded scan must not clear the current one")

	doneSecond()
	assert.False(t, s.Busy())
	assert.ErrorIs(t, second.Err(), context.Canceled)
}

func TestSessionsGetIsStable(t *testing.T) {
	m := NewSessions(0)
	a := m.Get("a")
	assert.Same(t, a, m.Get("a"))
	assert.NotSame(t, a, m.Get("b"))
	assert.Equal(t, 2, m.Len())
}

func TestSessionsExpire(t *testing.T) {
	m := NewSessions(0)
	idle := m.Get("idle")
	busy := m.Get("busy")
	_, done := busy.Begin(context.Background())
	defer done()

	idle.mu.Lock()
	idle.lastSeen = time.Now().Add(-time.Hour)
	idle.mu.Unlock()

	assert.Equal(t, 1, m.Expire(time.Minute))
	assert.Equal(t, 1, m.Len())
	assert.Same(t, busy, m.Get("busy"))
}

func TestSessionsEvictOldestIdleWhenFull(t *testing.T) {
	m := NewSessions(2)
	old := m.Get("old")
	busy := m.Get("busy")
	_, done := busy.Begin(context.Background())
	defer done()

	old.mu.Lock()
	old.lastSeen = time.Now().Add(-time.Hour)
	old.mu.Unlock()

	fresh := m.Get("fresh")
	assert.Equal(t, 2, m.Len())
	assert.Same(t, busy, m.Get("busy"))
	assert.Same(t, fresh, m.Get("fresh"))
	assert.NotSame(t, old, m.Get("old"), "evicted session must be recreated")
}

func TestSessionsLimitBoundsUnknownIDs(t *testing.T) {
	m := NewSessions(3)
	for i := 0; i < 50; i++ {
		m.Get(fmt.Sprintf("client-%d", i))
	}
	assert.Equal(t, 3, m.Len())
}
