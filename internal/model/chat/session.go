package chat

import (
	"time"

	"github.com/lifeddx/steve/backend/internal/model/specialist"
)

// SessionView is the read-only snapshot of a browser session handed to the presentation layer.
type SessionView struct {
	ID            string                `json:"id"`
	Authenticated bool                  `json:"authenticated"`
	AuthStatus    string                `json:"authStatus"`
	Username      string                `json:"username,omitempty"`
	Name          string                `json:"name,omitempty"`
	Specialist    specialist.Specialist `json:"specialist"`
	ThreadID      string                `json:"threadId,omitempty"`
	Transcript    []Message             `json:"transcript"`
	CreatedAt     time.Time             `json:"createdAt"`
}
