package middleware

import (
	"context"
	"log"
	"net/http"

	"github.com/lifeddx/steve/backend/internal/service/auth"
	"github.com/lifeddx/steve/backend/internal/service/session"
	"github.com/lifeddx/steve/backend/pkg/utils"
)

type sessionKey struct{}

// WithSession stores sess on ctx.
func WithSession(ctx context.Context, sess *session.Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, sess)
}

// SessionFrom returns the browser session attached by Sessions.
func SessionFrom(ctx context.Context) (*session.Session, bool) {
	sess, ok := ctx.Value(sessionKey{}).(*session.Session)
	return sess, ok && sess != nil
}

// Sessions binds every request to a browser session identified by a cookie. A missing or
// expired cookie starts a fresh session; a valid re-authentication cookie signs it in.
type Sessions struct {
	manager    *session.Manager
	gate       *auth.Gate
	cookieName string
	secure     bool
}

// NewSessions returns the session middleware. gate may be nil when no credential store is loaded.
func NewSessions(manager *session.Manager, gate *auth.Gate, cookieName string, secure bool) *Sessions {
	return &Sessions{manager: manager, gate: gate, cookieName: cookieName, secure: secure}
}

// Handler is the middleware func.
func (s *Sessions) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var sess *session.Session
		if cookie, err := r.Cookie(s.cookieName); err == nil && cookie.Value != "" {
			if existing, err := s.manager.Get(ctx, cookie.Value); err == nil {
				sess = existing
			}
		}

		if sess == nil {
			created, err := s.manager.Create(ctx)
			if err != nil {
				log.Printf("[session] failed to create session: %v", err)
				utils.RespondError(w, http.StatusServiceUnavailable, "session unavailable")
				return
			}
			sess = created
			http.SetCookie(w, &http.Cookie{
				Name:     s.cookieName,
				Value:    sess.ID,
				Path:     "/",
				HttpOnly: true,
				Secure:   s.secure,
				SameSite: http.SameSiteLaxMode,
			})
		}

		if s.gate != nil && sess.AuthState() != session.Authenticated {
			if cookie, err := r.Cookie(s.gate.Cookie().Name); err == nil {
				if s.gate.Restore(sess, cookie.Value) {
					user, _ := sess.Identity()
					log.Printf("[session] restored user=%s session=%s from cookie", user, sess.ID)
				}
			}
		}

		next.ServeHTTP(w, r.WithContext(WithSession(ctx, sess)))
	})
}

// RequireAuth rejects requests whose session is not authenticated.
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, ok := SessionFrom(r.Context())
		if !ok {
			utils.RespondError(w, http.StatusInternalServerError, "session missing")
			return
		}
		if sess.AuthState() != session.Authenticated {
			utils.RespondError(w, http.StatusUnauthorized, "please enter your username and password")
			return
		}
		next.ServeHTTP(w, r)
	})
}
