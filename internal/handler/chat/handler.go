package chat

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/lifeddx/steve/backend/internal/handler/stream"
	"github.com/lifeddx/steve/backend/internal/middleware"
	"github.com/lifeddx/steve/backend/internal/model/specialist"
	"github.com/lifeddx/steve/backend/pkg/utils"
)

// Handler 聊天服务的HTTP处理器
type Handler struct {
	turns    *stream.Handler
	registry specialist.Store
	upgrader websocket.Upgrader
}

// New 创建聊天处理器。allowedOrigins 之外的跨域 websocket 握手会被拒绝。
func New(turns *stream.Handler, registry specialist.Store, allowedOrigins []string) *Handler {
	origins := make(map[string]struct{}, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		origins[origin] = struct{}{}
	}

	return &Handler{
		turns:    turns,
		registry: registry,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return checkOrigin(r, origins)
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes 注册聊天相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/transcript", h.handleTranscript)
	r.Get("/ws", h.handleWebSocket)
}

// handleTranscript 返回当前会话的对话记录
func (h *Handler) handleTranscript(w http.ResponseWriter, r *http.Request) {
	sess, ok := middleware.SessionFrom(r.Context())
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "session missing")
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"specialist": sess.Specialist(),
		"threadId":   sess.ThreadID(),
		"messages":   sess.Transcript(),
	})
}

func checkOrigin(r *http.Request, allowed map[string]struct{}) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if _, ok := allowed[origin]; ok {
		return true
	}
	if _, ok := allowed["*"]; ok {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Host, r.Host)
}
