package stream

import (
	"context"
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/lifeddx/steve/backend/internal/middleware"
	"github.com/lifeddx/steve/backend/internal/model/chat"
	"github.com/lifeddx/steve/backend/internal/service/conversation"
	"github.com/lifeddx/steve/backend/internal/service/session"
	"github.com/lifeddx/steve/backend/pkg/utils"
)

// Event names of a streamed turn.
const (
	EventStart   = "start"
	EventDelta   = "delta"
	EventMessage = "message"
	EventEnd     = "end"
	EventError   = "error"
)

// Handler manages streaming assistant replies via Server-Sent Events
type Handler struct {
	conversations *conversation.Manager
}

// New creates a new stream handler
func New(conversations *conversation.Manager) *Handler {
	return &Handler{conversations: conversations}
}

// RegisterRoutes mounts the streaming chat route
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/chat", h.handleChat)
}

// StreamResponse represents a streaming response chunk. Delta events carry the whole
// text accumulated so far, not the fragment.
type StreamResponse struct {
	Event      string        `json:"event"`
	SessionID  string        `json:"sessionId,omitempty"`
	Specialist string        `json:"specialist,omitempty"`
	Content    string        `json:"content,omitempty"`
	Message    *chat.Message `json:"message,omitempty"`
	Finished   bool          `json:"finished,omitempty"`
	Error      string        `json:"error,omitempty"`
}

func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	sess, ok := middleware.SessionFrom(r.Context())
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "session missing")
		return
	}

	var payload struct {
		Message string `json:"message"`
	}
	if err := utils.DecodeJSON(w, r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	// Reject predictable failures before switching to SSE so the client gets a real status code.
	if err := h.precheck(payload.Message); err != nil {
		utils.RespondError(w, StatusFor(err), ErrorMessage(err))
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	utils.SetupSSEHeaders(w)
	if err := h.Stream(r.Context(), sess, payload.Message, func(resp StreamResponse) error {
		return utils.SendSSEEvent(w, flusher, resp.Event, resp)
	}); err != nil {
		log.Printf("[stream] turn failed session=%s: %v", sess.ID, err)
	}
}

func (h *Handler) precheck(message string) error {
	if err := conversation.ValidateMessage(message); err != nil {
		return err
	}
	if !h.conversations.Available() {
		return conversation.ErrServiceUnavailable
	}
	return nil
}

// Stream runs one turn and reports it through emit as start, delta*, message, end or
// start, delta*, error. Emit failures (a gone client) do not abort the turn.
func (h *Handler) Stream(ctx context.Context, sess *session.Session, message string, emit func(StreamResponse) error) error {
	active := sess.Specialist()
	send := func(resp StreamResponse) {
		resp.SessionID = sess.ID
		resp.Specialist = active.Name
		if err := emit(resp); err != nil {
			log.Printf("[stream] failed to emit %s event session=%s: %v", resp.Event, sess.ID, err)
		}
	}

	send(StreamResponse{Event: EventStart})

	reply, err := h.conversations.SendTurn(ctx, sess, message, func(accumulated string) {
		send(StreamResponse{Event: EventDelta, Content: accumulated})
	})
	if err != nil {
		send(StreamResponse{Event: EventError, Error: ErrorMessage(err)})
		return err
	}

	send(StreamResponse{Event: EventMessage, Content: reply, Message: lastReply(sess.Transcript(), reply)})
	send(StreamResponse{Event: EventEnd, Finished: true})

	log.Printf("[stream] completed response for session=%s, specialist=%s", sess.ID, active.Name)
	return nil
}

func lastReply(transcript []chat.Message, text string) *chat.Message {
	for i := len(transcript) - 1; i >= 0; i-- {
		if transcript[i].Role == chat.RoleAssistant && transcript[i].Text == text {
			msg := transcript[i]
			return &msg
		}
	}
	return nil
}

// StatusFor maps conversation errors to HTTP status codes.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, conversation.ErrEmptyMessage):
		return http.StatusBadRequest
	case errors.Is(err, conversation.ErrServiceUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// ErrorMessage is the user-visible text of a failed turn.
func ErrorMessage(err error) string {
	switch {
	case errors.Is(err, conversation.ErrEmptyMessage):
		return "message is empty"
	case errors.Is(err, conversation.ErrServiceUnavailable):
		return "the assistant service is unavailable, please try again"
	default:
		return "unexpected error"
	}
}
