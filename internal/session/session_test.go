package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTranscriptAppendAndHistory(t *testing.T) {
	tr := &Transcript{}
	m1 := tr.Append("user", "hello")
	m2 := tr.Append("assistant", "hi there")

	require.NotEmpty(t, m1.ID)
	require.NotEqual(t, m1.ID, m2.ID)

	hist := tr.History()
	require.Len(t, hist, 2)
	assert.Equal(t, "user", hist[0].Role)
	assert.Equal(t, "hello", hist[0].Content)
	assert.Equal(t, "assistant", hist[1].Role)

	// History returns a copy
	hist[0].Content = "mutated"
	assert.Equal(t, "hello", tr.History()[0].Content)
}

func TestStoreIsolatesUsers(t *testing.T) {
	s := NewInMemoryStore(0)
	a := s.Ensure("user-a")
	b := s.Ensure("user-b")
	a.Append("user", "a's message")

	require.NotSame(t, a, b)
	assert.Len(t, a.History(), 1)
	assert.Empty(t, b.History())

	got, ok := s.Get("user-a")
	require.True(t, ok)
	assert.Same(t, a, got)

	_, ok = s.Get("user-c")
	assert.False(t, ok)
}

func TestEnsureReturnsSameTranscript(t *testing.T) {
	s := NewInMemoryStore(time.Hour)
	first := s.Ensure("user-a")
	first.Append("user", "hello")
	again := s.Ensure("user-a")
	assert.Same(t, first, again)
	assert.Len(t, again.History(), 1)
}

func TestIdleTranscriptsSweptOnAccess(t *testing.T) {
	s := NewInMemoryStore(10 * time.Minute)
	stale := s.Ensure("stale-user")
	stale.Append("user", "old message")
	stale.mu.Lock()
	stale.touched = time.Now().Add(-time.Hour)
	stale.mu.Unlock()

	fresh := s.Ensure("fresh-user")
	fresh.Append("user", "recent")

	// access triggers the sweep
	s.Ensure("another-user")

	_, ok := s.Get("stale-user")
	assert.False(t, ok, "idle transcript should be evicted")
	_, ok = s.Get("fresh-user")
	assert.True(t, ok, "active transcript should survive")
}

func TestZeroTTLDisablesSweep(t *testing.T) {
	s := NewInMemoryStore(0)
	old := s.Ensure("user-a")
	old.mu.Lock()
	old.touched = time.Now().Add(-24 * time.Hour)
	old.mu.Unlock()

	s.Ensure("user-b")
	_, ok := s.Get("user-a")
	assert.True(t, ok)
}
