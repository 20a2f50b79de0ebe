package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lifeddx/steve/backend/internal/model/chat"
	"github.com/lifeddx/steve/backend/internal/model/specialist"
)

var ErrUnknownSpecialist = errors.New("unknown specialist")

// AuthState is the authentication gate state of one browser session.
type AuthState int

const (
	Anonymous AuthState = iota
	Authenticated
	Rejected
)

func (s AuthState) String() string {
	switch s {
	case Authenticated:
		return "authenticated"
	case Rejected:
		return "rejected"
	default:
		return "anonymous"
	}
}

// Session holds the state of one browser session: the selected specialist, the visible
// transcript, the remote thread id and the authentication state. It is never shared
// between browser sessions.
type Session struct {
	ID        string
	CreatedAt time.Time

	// turnMu serializes streaming turns; threadMu guards remote thread creation.
	turnMu   sync.Mutex
	threadMu sync.Mutex

	mu         sync.RWMutex
	auth       AuthState
	username   string
	name       string
	specialist specialist.Specialist
	threadID   string
	transcript []chat.Message
	lastSeen   time.Time
}

// New returns an anonymous session with the given initial specialist.
func New(id string, initial specialist.Specialist) *Session {
	now := time.Now().UTC()
	return &Session{
		ID:         id,
		CreatedAt:  now,
		specialist: initial,
		transcript: make([]chat.Message, 0, 16),
		lastSeen:   now,
	}
}

// Specialist returns the active specialist.
func (s *Session) Specialist() specialist.Specialist {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.specialist
}

// Select switches the active specialist. The remote thread is kept, so history
// authored by the previous specialist remains visible to the new one.
func (s *Session) Select(registry specialist.Store, name string) error {
	selected, ok := registry.Find(name)
	if !ok {
		return ErrUnknownSpecialist
	}

	s.mu.Lock()
	s.specialist = selected
	s.mu.Unlock()
	return nil
}

// ThreadID returns the remote thread id, empty until the first EnsureThread.
func (s *Session) ThreadID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.threadID
}

// EnsureThread returns the existing thread id or calls create exactly once to obtain one.
// A failed creation leaves the session without a thread so a later call may try again.
func (s *Session) EnsureThread(ctx context.Context, create func(context.Context) (string, error)) (string, error) {
	s.threadMu.Lock()
	defer s.threadMu.Unlock()

	if id := s.ThreadID(); id != "" {
		return id, nil
	}

	id, err := create(ctx)
	if err != nil {
		return "", err
	}
	if id == "" {
		return "", errors.New("remote service returned an empty thread id")
	}

	s.mu.Lock()
	s.threadID = id
	s.mu.Unlock()
	return id, nil
}

// LockTurn blocks until no other turn is streaming on this session and returns the unlock func.
func (s *Session) LockTurn() func() {
	s.turnMu.Lock()
	return s.turnMu.Unlock
}

// AppendTurn appends a completed user/assistant exchange as a single step.
func (s *Session) AppendTurn(user, assistant chat.Message) {
	now := time.Now().UTC()
	for _, msg := range []*chat.Message{&user, &assistant} {
		msg.ID = uuid.NewString()
		if msg.CreatedAt.IsZero() {
			msg.CreatedAt = now
		}
	}

	s.mu.Lock()
	s.transcript = append(s.transcript, user, assistant)
	s.mu.Unlock()
}

// Transcript returns a copy of the visible transcript in chronological order.
func (s *Session) Transcript() []chat.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	copied := make([]chat.Message, len(s.transcript))
	copy(copied, s.transcript)
	return copied
}

// AuthState reports the authentication gate state.
func (s *Session) AuthState() AuthState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.auth
}

// Identity returns the username and display name of the authenticated user.
func (s *Session) Identity() (username, name string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.username, s.name
}

// Authenticate records a successful credential match.
func (s *Session) Authenticate(username, name string) {
	s.mu.Lock()
	s.auth = Authenticated
	s.username = username
	s.name = name
	s.mu.Unlock()
}

// Reject records a failed attempt. Only an anonymous or rejected session can be rejected;
// a failed re-login does not sign out an authenticated user.
func (s *Session) Reject() {
	s.mu.Lock()
	if s.auth != Authenticated {
		s.auth = Rejected
	}
	s.mu.Unlock()
}

// Logout returns the session to the anonymous state.
func (s *Session) Logout() {
	s.mu.Lock()
	s.auth = Anonymous
	s.username = ""
	s.name = ""
	s.mu.Unlock()
}

// View snapshots the session for rendering.
func (s *Session) View() chat.SessionView {
	transcript := s.Transcript()

	s.mu.RLock()
	defer s.mu.RUnlock()
	return chat.SessionView{
		ID:            s.ID,
		Authenticated: s.auth == Authenticated,
		AuthStatus:    s.auth.String(),
		Username:      s.username,
		Name:          s.name,
		Specialist:    s.specialist,
		ThreadID:      s.threadID,
		Transcript:    transcript,
		CreatedAt:     s.CreatedAt,
	}
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastSeen = now
	s.mu.Unlock()
}

func (s *Session) idleSince() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastSeen
}
