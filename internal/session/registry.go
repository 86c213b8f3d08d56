package session

import (
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hien22444/WDP-LM-sub000/internal/pkg/apperror"
)

var (
	ErrNotFound       = apperror.New(http.StatusNotFound, "session not found")
	ErrNotParticipant = apperror.New(http.StatusForbidden, "not a participant of this session")
	ErrNotJoinable    = apperror.New(http.StatusConflict, "session is not open for joining")
)

// JoinLead is how early before the start participants may enter the room.
const JoinLead = 15 * time.Minute

// Session is the ephemeral room of one accepted booking.
type Session struct {
	ID           string
	BookingID    string
	Participants []string
	StartTime    time.Time
	EndTime      time.Time
	Present      map[string]time.Time // participant -> joined at
	CreatedAt    time.Time
}

func (s *Session) clone() *Session {
	cp := *s
	cp.Participants = slices.Clone(s.Participants)
	cp.Present = make(map[string]time.Time, len(s.Present))
	for k, v := range s.Present {
		cp.Present[k] = v
	}
	return &cp
}

// Registry owns every live session, addressed by id. It is process-local.
type Registry struct {
	mu        sync.Mutex
	sessions  map[string]*Session
	byBooking map[string]string
	grace     time.Duration
	now       func() time.Time
}

func NewRegistry(grace time.Duration) *Registry {
	return &Registry{
		sessions:  make(map[string]*Session),
		byBooking: make(map[string]string),
		grace:     grace,
		now:       time.Now,
	}
}

// Open returns the session of the booking, creating it on first call.
func (r *Registry) Open(bookingID string, participants []string, start, end time.Time) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.byBooking[bookingID]; ok {
		return r.sessions[id].clone()
	}

	s := &Session{
		ID:           uuid.NewString(),
		BookingID:    bookingID,
		Participants: slices.Clone(participants),
		StartTime:    start,
		EndTime:      end,
		Present:      make(map[string]time.Time),
		CreatedAt:    r.now().UTC(),
	}
	r.sessions[s.ID] = s
	r.byBooking[bookingID] = s.ID
	return s.clone()
}

func (r *Registry) Get(id string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s.clone(), nil
}

// Join marks the participant present. Rooms open JoinLead before the start and close at the end.
func (r *Registry) Join(id, userID string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	if !slices.Contains(s.Participants, userID) {
		return nil, ErrNotParticipant
	}
	now := r.now()
	if now.Before(s.StartTime.Add(-JoinLead)) || !now.Before(s.EndTime) {
		return nil, ErrNotJoinable
	}
	if _, ok := s.Present[userID]; !ok {
		s.Present[userID] = now.UTC()
	}
	return s.clone(), nil
}

func (r *Registry) Leave(id, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return ErrNotFound
	}
	delete(s.Present, userID)
	return nil
}

// Close drops the session of a booking, e.g. when it is cancelled.
func (r *Registry) Close(bookingID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.byBooking[bookingID]; ok {
		delete(r.sessions, id)
		delete(r.byBooking, bookingID)
	}
}

// Purge removes sessions that ended more than the grace period before now.
func (r *Registry) Purge(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	purged := 0
	for id, s := range r.sessions {
		if now.After(s.EndTime.Add(r.grace)) {
			delete(r.sessions, id)
			delete(r.byBooking, s.BookingID)
			purged++
		}
	}
	return purged
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
