package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(now time.Time) *Registry {
	r := NewRegistry(30 * time.Minute)
	r.now = func() time.Time { return now }
	return r
}

func TestOpenIsPerBooking(t *testing.T) {
	start := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	r := newTestRegistry(start.Add(-time.Hour))

	a := r.Open("b-1", []string{"tutor", "student"}, start, start.Add(time.Hour))
	b := r.Open("b-1", []string{"tutor", "student"}, start, start.Add(time.Hour))
	assert.Equal(t, a.ID, b.ID)
	assert.Equal(t, 1, r.Len())
}

func TestJoinWindow(t *testing.T) {
	start := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	r := newTestRegistry(start.Add(-time.Hour))
	s := r.Open("b-1", []string{"tutor", "student"}, start, start.Add(time.Hour))

	_, err := r.Join(s.ID, "student")
	assert.ErrorIs(t, err, ErrNotJoinable, "too early")

	r.now = func() time.Time { return start.Add(-10 * time.Minute) }
	joined, err := r.Join(s.ID, "student")
	require.NoError(t, err)
	assert.Contains(t, joined.Present, "student")

	_, err = r.Join(s.ID, "stranger")
	assert.ErrorIs(t, err, ErrNotParticipant)

	_, err = r.Join("missing", "student")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, r.Leave(s.ID, "student"))
	got, err := r.Get(s.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Present)

	r.now = func() time.Time { return start.Add(time.Hour) }
	_, err = r.Join(s.ID, "tutor")
	assert.ErrorIs(t, err, ErrNotJoinable, "room closes at the end")
}

func TestPurge(t *testing.T) {
	start := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	r := newTestRegistry(start)
	old := r.Open("b-1", []string{"a"}, start, start.Add(time.Hour))
	r.Open("b-2", []string{"a"}, start.Add(2*time.Hour), start.Add(3*time.Hour))

	assert.Equal(t, 0, r.Purge(start.Add(time.Hour+29*time.Minute)), "still within grace")
	assert.Equal(t, 1, r.Purge(start.Add(2*time.Hour)))

	_, err := r.Get(old.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 1, r.Len())

	// Reopening after purge creates a fresh room.
	again := r.Open("b-1", []string{"a"}, start, start.Add(time.Hour))
	assert.NotEqual(t, old.ID, again.ID)
}

func TestGetReturnsCopy(t *testing.T) {
	start := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	r := newTestRegistry(start)
	s := r.Open("b-1", []string{"a", "b"}, start, start.Add(time.Hour))
	s.Participants[0] = "mallory"

	got, err := r.Get(s.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, got.Participants)
}
