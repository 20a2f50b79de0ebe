package history

import (
	"context"
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/lifeddx/steve/backend/internal/middleware"
	historyService "github.com/lifeddx/steve/backend/internal/service/history"
	"github.com/lifeddx/steve/backend/pkg/utils"
)

// Compactor 将对话线程压缩进 assistant 的指令。
type Compactor interface {
	Compact(ctx context.Context, threadID, assistantID string) (historyService.Result, error)
}

// Handler 历史压缩的HTTP处理器
type Handler struct {
	compactor Compactor
}

// New 创建历史压缩处理器。compactor 为 nil 时接口返回 503。
func New(compactor Compactor) *Handler {
	return &Handler{compactor: compactor}
}

// RegisterRoutes 注册历史压缩路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/history/compact", h.handleCompact)
}

func (h *Handler) handleCompact(w http.ResponseWriter, r *http.Request) {
	sess, ok := middleware.SessionFrom(r.Context())
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "session missing")
		return
	}
	if h.compactor == nil {
		utils.RespondError(w, http.StatusServiceUnavailable, "the assistant service is unavailable, please try again")
		return
	}

	// 与对话轮次互斥，避免压缩读到半截的线程。
	unlock := sess.LockTurn()
	defer unlock()

	active := sess.Specialist()
	result, err := h.compactor.Compact(r.Context(), sess.ThreadID(), active.AssistantID)
	if err != nil {
		if errors.Is(err, historyService.ErrNoThread) {
			utils.RespondError(w, http.StatusConflict, "nothing to compact yet, send a message first")
			return
		}
		log.Printf("[history] compaction failed session=%s specialist=%q: %v", sess.ID, active.Name, err)
		utils.RespondError(w, http.StatusBadGateway, "history compaction failed")
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"specialist": active.Name,
		"result":     result,
	})
}
