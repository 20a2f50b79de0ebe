package conversation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/cloudwego/eino/schema"

	"github.com/lifeddx/steve/backend/internal/model/chat"
	"github.com/lifeddx/steve/backend/internal/service/assistants"
	"github.com/lifeddx/steve/backend/internal/service/session"
)

var (
	ErrServiceUnavailable = errors.New("assistant service unavailable")
	ErrEmptyMessage       = errors.New("message is empty")
)

// Remote is the slice of the hosted assistants API a conversation needs.
type Remote interface {
	CreateThread(ctx context.Context) (string, error)
	AddMessage(ctx context.Context, threadID, role, content string) error
	StreamRun(ctx context.Context, threadID, assistantID string) (*schema.StreamReader[assistants.RunEvent], error)
}

// Manager drives remote threads for browser sessions.
type Manager struct {
	remote     Remote
	userAvatar string
}

// NewManager returns a Manager. A nil remote yields a manager whose every call fails
// with ErrServiceUnavailable, which is how a missing API key surfaces.
func NewManager(remote Remote, userAvatar string) *Manager {
	return &Manager{remote: remote, userAvatar: userAvatar}
}

// Available reports whether a remote service is configured.
func (m *Manager) Available() bool {
	return m != nil && m.remote != nil
}

// EnsureThread returns the session thread, creating it remotely on first use.
func (m *Manager) EnsureThread(ctx context.Context, sess *session.Session) (string, error) {
	if !m.Available() {
		return "", ErrServiceUnavailable
	}

	threadID, err := sess.EnsureThread(ctx, m.remote.CreateThread)
	if err != nil {
		return "", fmt.Errorf("%w: create thread: %v", ErrServiceUnavailable, err)
	}
	return threadID, nil
}

// ValidateMessage rejects blank user input.
func ValidateMessage(text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyMessage
	}
	return nil
}

// SendTurn posts userText to the session thread, streams the reply of the active specialist
// and calls onUpdate with the accumulated text after every fragment. Only a completed turn
// is appended to the transcript.
func (m *Manager) SendTurn(ctx context.Context, sess *session.Session, userText string, onUpdate func(string)) (string, error) {
	if err := ValidateMessage(userText); err != nil {
		return "", err
	}
	if !m.Available() {
		return "", ErrServiceUnavailable
	}

	unlock := sess.LockTurn()
	defer unlock()

	threadID, err := m.EnsureThread(ctx, sess)
	if err != nil {
		return "", err
	}

	active := sess.Specialist()

	if err := m.remote.AddMessage(ctx, threadID, string(chat.RoleUser), userText); err != nil {
		return "", fmt.Errorf("%w: append message: %v", ErrServiceUnavailable, err)
	}

	stream, err := m.remote.StreamRun(ctx, threadID, active.AssistantID)
	if err != nil {
		return "", fmt.Errorf("%w: start run: %v", ErrServiceUnavailable, err)
	}
	defer stream.Close()

	reply, err := accumulate(stream, onUpdate)
	if err != nil {
		return "", fmt.Errorf("%w: stream run: %v", ErrServiceUnavailable, err)
	}

	sess.AppendTurn(
		chat.Message{Role: chat.RoleUser, Text: userText, AvatarURL: m.userAvatar},
		chat.Message{Role: chat.RoleAssistant, Text: reply, AvatarURL: active.AvatarURL},
	)

	log.Printf("[conversation] turn completed session=%s thread=%s specialist=%q length=%d", sess.ID, threadID, active.Name, len(reply))
	return reply, nil
}

func accumulate(stream *schema.StreamReader[assistants.RunEvent], onUpdate func(string)) (string, error) {
	var text strings.Builder
	for {
		event, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return text.String(), nil
		}
		if err != nil {
			return "", err
		}

		if event.Kind != assistants.EventMessageDelta {
			continue
		}
		for _, block := range event.Content {
			if block.Type != "text" {
				continue
			}
			text.WriteString(block.Text)
			if onUpdate != nil {
				onUpdate(text.String())
			}
		}
	}
}
