package auth

import (
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/lifeddx/steve/backend/internal/middleware"
	authService "github.com/lifeddx/steve/backend/internal/service/auth"
	"github.com/lifeddx/steve/backend/pkg/utils"
)

// Handler 认证相关的HTTP处理器
type Handler struct {
	gate    *authService.Gate
	limiter *middleware.LoginLimiter
	secure  bool
}

// New 创建认证处理器。limiter 为 nil 时登录不限流。
func New(gate *authService.Gate, limiter *middleware.LoginLimiter, secureCookies bool) *Handler {
	return &Handler{gate: gate, limiter: limiter, secure: secureCookies}
}

// RegisterRoutes 注册认证路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	login := http.Handler(http.HandlerFunc(h.handleLogin))
	if h.limiter != nil {
		login = h.limiter.Handler(login)
	}

	r.Method(http.MethodPost, "/login", login)
	r.Post("/logout", h.handleLogout)
	r.Post("/register", h.handleRegister)
	r.Get("/me", h.handleMe)

	r.Group(func(private chi.Router) {
		private.Use(middleware.RequireAuth)
		private.Post("/password", h.handleResetPassword)
		private.Put("/account", h.handleUpdateDetails)
	})
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	sess, ok := middleware.SessionFrom(r.Context())
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "session missing")
		return
	}

	var payload struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := utils.DecodeJSON(w, r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if _, err := h.gate.Login(sess, payload.Username, payload.Password); err != nil {
		if errors.Is(err, authService.ErrAuthFailure) {
			utils.RespondError(w, http.StatusUnauthorized, "username/password is incorrect")
			return
		}
		log.Printf("[auth] login error: %v", err)
		utils.RespondError(w, http.StatusInternalServerError, "login failed")
		return
	}

	token, _, err := h.gate.IssueToken(sess)
	if err != nil {
		// 登录本身已成功，只是无法签发重新认证 cookie。
		log.Printf("[auth] failed to issue cookie session=%s: %v", sess.ID, err)
	} else {
		http.SetCookie(w, h.authCookie(token, h.gate.TokenTTL()))
	}

	utils.RespondJSON(w, http.StatusOK, sess.View())
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	sess, ok := middleware.SessionFrom(r.Context())
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "session missing")
		return
	}

	h.gate.Logout(sess)
	http.SetCookie(w, h.authCookie("", -1))
	utils.RespondJSON(w, http.StatusOK, sess.View())
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Username string `json:"username"`
		Name     string `json:"name"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := utils.DecodeJSON(w, r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	id, err := h.gate.Register(authService.Registration{
		Username: payload.Username,
		Name:     payload.Name,
		Email:    payload.Email,
		Password: payload.Password,
	})
	if err != nil {
		if errors.Is(err, authService.ErrRegistration) {
			utils.RespondError(w, http.StatusBadRequest, err.Error())
			return
		}
		log.Printf("[auth] register error: %v", err)
		utils.RespondError(w, http.StatusInternalServerError, "registration failed")
		return
	}

	utils.RespondJSON(w, http.StatusCreated, id)
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	sess, ok := middleware.SessionFrom(r.Context())
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "session missing")
		return
	}
	utils.RespondJSON(w, http.StatusOK, sess.View())
}

func (h *Handler) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	sess, _ := middleware.SessionFrom(r.Context())

	var payload struct {
		Current string `json:"currentPassword"`
		New     string `json:"newPassword"`
	}
	if err := utils.DecodeJSON(w, r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.gate.ResetPassword(sess, payload.Current, payload.New); err != nil {
		utils.RespondError(w, statusFor(err), err.Error())
		return
	}

	// 旧 cookie 随密码一同失效，为当前浏览器重新签发。
	if token, _, err := h.gate.IssueToken(sess); err != nil {
		log.Printf("[auth] failed to reissue cookie session=%s: %v", sess.ID, err)
	} else {
		http.SetCookie(w, h.authCookie(token, h.gate.TokenTTL()))
	}
	utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "password modified"})
}

func (h *Handler) handleUpdateDetails(w http.ResponseWriter, r *http.Request) {
	sess, _ := middleware.SessionFrom(r.Context())

	var payload struct {
		Name  string `json:"name"`
		Email string `json:"email"`
	}
	if err := utils.DecodeJSON(w, r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	id, err := h.gate.UpdateDetails(sess, authService.Details{Name: payload.Name, Email: payload.Email})
	if err != nil {
		utils.RespondError(w, statusFor(err), err.Error())
		return
	}
	utils.RespondJSON(w, http.StatusOK, id)
}

func (h *Handler) authCookie(value string, maxAge int) *http.Cookie {
	cookie := &http.Cookie{
		Name:     h.gate.Cookie().Name,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteLaxMode,
	}
	if maxAge < 0 {
		cookie.Expires = time.Unix(0, 0)
	}
	return cookie
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, authService.ErrNotAuthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, authService.ErrAuthFailure):
		return http.StatusForbidden
	case errors.Is(err, authService.ErrUnknownUser):
		return http.StatusNotFound
	default:
		return http.StatusBadRequest
	}
}
