package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/lifeddx/steve/backend/internal/handler/stream"
	"github.com/lifeddx/steve/backend/internal/middleware"
	"github.com/lifeddx/steve/backend/internal/model/specialist"
	"github.com/lifeddx/steve/backend/internal/service/assistants"
	"github.com/lifeddx/steve/backend/internal/service/conversation"
	"github.com/lifeddx/steve/backend/internal/service/session"
)

type fakeRemote struct{}

func (fakeRemote) CreateThread(context.Context) (string, error) { return "thread_1", nil }

func (fakeRemote) AddMessage(context.Context, string, string, string) error { return nil }

func (fakeRemote) StreamRun(context.Context, string, string) (*schema.StreamReader[assistants.RunEvent], error) {
	return schema.StreamReaderFromArray([]assistants.RunEvent{
		{Kind: assistants.EventMessageDelta, Content: []assistants.ContentBlock{{Type: "text", Text: "Hi"}}},
		{Kind: assistants.EventMessageDelta, Content: []assistants.ContentBlock{{Type: "text", Text: " there"}}},
	}), nil
}

func setupRouter() (*chi.Mux, *session.Session) {
	registry := specialist.NewMemoryStore(specialist.Seed())
	sess := session.New("sess-1", registry.Default())
	sess.Authenticate("alice", "Alice")
	handler := New(stream.New(conversation.NewManager(fakeRemote{}, "")), registry, nil)

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(middleware.WithSession(r.Context(), sess)))
		})
	})
	handler.RegisterRoutes(r)
	return r, sess
}

func TestTranscriptReturnsSessionMessages(t *testing.T) {
	r, sess := setupRouter()
	if _, err := conversation.NewManager(fakeRemote{}, "").SendTurn(context.Background(), sess, "Hello", nil); err != nil {
		t.Fatalf("SendTurn err: %v", err)
	}

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/transcript", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}

	var payload struct {
		ThreadID string `json:"threadId"`
		Messages []struct {
			Role string `json:"role"`
			Text string `json:"text"`
		} `json:"messages"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.ThreadID != "thread_1" || len(payload.Messages) != 2 {
		t.Fatalf("unexpected payload %+v", payload)
	}
	if payload.Messages[0].Role != "user" || payload.Messages[1].Text != "Hi there" {
		t.Fatalf("unexpected messages %+v", payload.Messages)
	}
}

func dial(t *testing.T, r http.Handler) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	return conn
}

type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func readUntil(t *testing.T, conn *websocket.Conn, kind string) []envelope {
	t.Helper()
	var seen []envelope
	for {
		var msg envelope
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read: %v (seen %+v)", err, seen)
		}
		seen = append(seen, msg)
		if msg.Type == kind {
			return seen
		}
	}
}

func TestWebSocketStreamsTurn(t *testing.T) {
	r, sess := setupRouter()
	conn := dial(t, r)

	readUntil(t, conn, "connected")

	if err := conn.WriteJSON(inboundMessage{Type: "message", Text: "Hello"}); err != nil {
		t.Fatalf("write: %v", err)
	}

	seen := readUntil(t, conn, stream.EventEnd)
	var deltas []string
	for _, msg := range seen {
		if msg.Type != stream.EventDelta {
			continue
		}
		var resp stream.StreamResponse
		if err := json.Unmarshal(msg.Data, &resp); err != nil {
			t.Fatalf("decode delta: %v", err)
		}
		deltas = append(deltas, resp.Content)
	}
	if len(deltas) != 2 || deltas[0] != "Hi" || deltas[1] != "Hi there" {
		t.Fatalf("unexpected deltas %v", deltas)
	}
	if got := len(sess.Transcript()); got != 2 {
		t.Fatalf("expected 2 transcript entries, got %d", got)
	}
}

func TestWebSocketSelectUnknownSpecialist(t *testing.T) {
	r, sess := setupRouter()
	conn := dial(t, r)
	readUntil(t, conn, "connected")

	if err := conn.WriteJSON(inboundMessage{Type: "select", Specialist: "UnknownName"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	readUntil(t, conn, stream.EventError)
	if sess.Specialist().Name != "Steve" {
		t.Fatalf("selection must be unchanged, got %q", sess.Specialist().Name)
	}

	if err := conn.WriteJSON(inboundMessage{Type: "select", Specialist: "Hypothesis Explorer"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	readUntil(t, conn, "session")
	if sess.Specialist().Name != "Hypothesis Explorer" {
		t.Fatalf("expected Hypothesis Explorer, got %q", sess.Specialist().Name)
	}
}

func TestWebSocketClosesAfterLogout(t *testing.T) {
	r, sess := setupRouter()
	conn := dial(t, r)
	readUntil(t, conn, "connected")

	sess.Logout()

	if err := conn.WriteJSON(inboundMessage{Type: "message", Text: "Hello"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	seen := readUntil(t, conn, stream.EventError)
	for _, msg := range seen {
		if msg.Type == stream.EventStart || msg.Type == stream.EventDelta {
			t.Fatalf("turn must not start after logout, got %q", msg.Type)
		}
	}

	var next envelope
	err := conn.ReadJSON(&next)
	if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Fatalf("expected policy violation close, got %v", err)
	}
	if got := len(sess.Transcript()); got != 0 {
		t.Fatalf("expected empty transcript, got %d entries", got)
	}
}

func TestCheckOrigin(t *testing.T) {
	allowed := map[string]struct{}{"https://app.example": {}}

	req := httptest.NewRequest(http.MethodGet, "http://api.example/ws", nil)
	if !checkOrigin(req, allowed) {
		t.Fatal("requests without Origin must pass")
	}

	req.Header.Set("Origin", "https://app.example")
	if !checkOrigin(req, allowed) {
		t.Fatal("allowed origin must pass")
	}

	req.Header.Set("Origin", "http://api.example")
	if !checkOrigin(req, allowed) {
		t.Fatal("same host must pass")
	}

	req.Header.Set("Origin", "https://evil.example")
	if checkOrigin(req, allowed) {
		t.Fatal("foreign origin must be rejected")
	}
}
