package specialist

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/lifeddx/steve/backend/internal/middleware"
	"github.com/lifeddx/steve/backend/internal/model/specialist"
	"github.com/lifeddx/steve/backend/internal/service/session"
	"github.com/lifeddx/steve/backend/pkg/utils"
)

// Handler specialist服务的HTTP处理器
type Handler struct {
	registry specialist.Store
}

// New 创建specialist处理器
func New(registry specialist.Store) *Handler {
	return &Handler{registry: registry}
}

// RegisterRoutes 注册specialist相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/specialists", h.handleList)
	r.Post("/specialist", h.handleSelect)
}

// handleList 列出所有specialist以及当前会话的选择
func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	active := ""
	if sess, ok := middleware.SessionFrom(r.Context()); ok {
		active = sess.Specialist().Name
	}

	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"specialists": h.registry.List(),
		"active":      active,
	})
}

// handleSelect 切换当前会话的specialist，保留已有的对话线程
func (h *Handler) handleSelect(w http.ResponseWriter, r *http.Request) {
	sess, ok := middleware.SessionFrom(r.Context())
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "session missing")
		return
	}

	var payload struct {
		Name string `json:"name"`
	}
	if err := utils.DecodeJSON(w, r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := sess.Select(h.registry, payload.Name); err != nil {
		if errors.Is(err, session.ErrUnknownSpecialist) {
			utils.RespondError(w, http.StatusNotFound, "unknown specialist: "+payload.Name)
			return
		}
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	utils.RespondJSON(w, http.StatusOK, sess.View())
}
