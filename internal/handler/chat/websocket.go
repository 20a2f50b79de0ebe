package chat

import (
	"context"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lifeddx/steve/backend/internal/handler/stream"
	"github.com/lifeddx/steve/backend/internal/middleware"
	"github.com/lifeddx/steve/backend/internal/service/session"
)

const (
	readTimeout  = 60 * time.Second
	pingInterval = 54 * time.Second
	writeTimeout = 10 * time.Second
)

type inboundMessage struct {
	Type       string `json:"type"`
	Text       string `json:"text,omitempty"`
	Specialist string `json:"specialist,omitempty"`
}

type outgoingMessage struct {
	Type      string      `json:"type"`
	SessionID string      `json:"sessionId,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// wsConn 串行化写操作，gorilla 连接只允许一个并发写者。
type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsConn) writeJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteJSON(v)
}

func (c *wsConn) close(code int, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(writeTimeout))
}

func (c *wsConn) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
}

// handleWebSocket 处理WebSocket聊天连接
func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sess, ok := middleware.SessionFrom(r.Context())
	if !ok {
		http.Error(w, "session missing", http.StatusInternalServerError)
		return
	}

	raw, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[websocket] upgrade failed: %v", err)
		return
	}
	defer raw.Close()
	conn := &wsConn{conn: raw}

	log.Printf("[websocket] new connection for session: %s", sess.ID)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	raw.SetReadDeadline(time.Now().Add(readTimeout))
	raw.SetPongHandler(func(string) error {
		raw.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	go pingLoop(ctx, conn)

	h.send(conn, sess, "connected", sess.View())

	for {
		var msg inboundMessage
		if err := raw.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[websocket] read error: %v", err)
			}
			return
		}

		if sess.AuthState() != session.Authenticated {
			log.Printf("[websocket] session %s is no longer authenticated, closing", sess.ID)
			h.sendError(conn, "please log in again")
			conn.close(websocket.ClosePolicyViolation, "unauthenticated")
			return
		}

		h.handleMessage(ctx, conn, sess, msg)
		raw.SetReadDeadline(time.Now().Add(readTimeout))
	}
}

func (h *Handler) handleMessage(ctx context.Context, conn *wsConn, sess *session.Session, msg inboundMessage) {
	switch msg.Type {
	case "message":
		err := h.turns.Stream(ctx, sess, msg.Text, func(resp stream.StreamResponse) error {
			return h.sendRaw(conn, sess, resp.Event, resp)
		})
		if err != nil {
			log.Printf("[websocket] turn failed session=%s: %v", sess.ID, err)
		}
	case "select":
		if err := sess.Select(h.registry, msg.Specialist); err != nil {
			if errors.Is(err, session.ErrUnknownSpecialist) {
				h.sendError(conn, "unknown specialist: "+msg.Specialist)
				return
			}
			h.sendError(conn, err.Error())
			return
		}
		h.send(conn, sess, "session", sess.View())
	case "transcript":
		h.send(conn, sess, "transcript", sess.Transcript())
	default:
		h.sendError(conn, "unsupported message type: "+msg.Type)
	}
}

func (h *Handler) send(conn *wsConn, sess *session.Session, kind string, data interface{}) {
	if err := h.sendRaw(conn, sess, kind, data); err != nil {
		log.Printf("[websocket] write %s failed: %v", kind, err)
	}
}

func (h *Handler) sendRaw(conn *wsConn, sess *session.Session, kind string, data interface{}) error {
	return conn.writeJSON(outgoingMessage{
		Type:      kind,
		SessionID: sess.ID,
		Data:      data,
		Timestamp: time.Now().Unix(),
	})
}

func (h *Handler) sendError(conn *wsConn, message string) {
	msg := outgoingMessage{
		Type:      stream.EventError,
		Data:      map[string]string{"message": message},
		Timestamp: time.Now().Unix(),
	}
	if err := conn.writeJSON(msg); err != nil {
		log.Printf("[websocket] write error failed: %v", err)
	}
}

// pingLoop 定期发送ping消息
func pingLoop(ctx context.Context, conn *wsConn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.ping(); err != nil {
				return
			}
		}
	}
}
