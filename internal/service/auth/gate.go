package auth

import (
	"errors"
	"log"

	"github.com/lifeddx/steve/backend/internal/service/session"
)

var ErrNotAuthenticated = errors.New("not authenticated")

// Gate applies credential checks to browser sessions. All state lives on the session,
// so two sessions never observe each other's authentication.
type Gate struct {
	store  Store
	tokens *TokenIssuer
}

// NewGate binds the credential store and the cookie signer.
func NewGate(store Store, tokens *TokenIssuer) *Gate {
	return &Gate{store: store, tokens: tokens}
}

// DefaultCookieName is used when the credential file leaves cookie.name empty.
const DefaultCookieName = "steve_auth"

// Cookie returns the cookie configuration of the credential store.
func (g *Gate) Cookie() CookieConfig {
	cookie := g.store.Cookie()
	if cookie.Name == "" {
		cookie.Name = DefaultCookieName
	}
	return cookie
}

// Login verifies the credentials and moves sess to authenticated or rejected.
func (g *Gate) Login(sess *session.Session, username, password string) (Identity, error) {
	id, err := g.store.Verify(username, password)
	if err != nil {
		sess.Reject()
		log.Printf("[auth] rejected login session=%s", sess.ID)
		return Identity{}, err
	}

	sess.Authenticate(id.Username, id.Name)
	log.Printf("[auth] authenticated user=%s session=%s", id.Username, sess.ID)
	return id, nil
}

// Logout returns sess to anonymous.
func (g *Gate) Logout(sess *session.Session) {
	if user, _ := sess.Identity(); user != "" {
		log.Printf("[auth] logout user=%s session=%s", user, sess.ID)
	}
	sess.Logout()
}

// IssueToken signs the re-authentication cookie value for the session user.
func (g *Gate) IssueToken(sess *session.Session) (string, Identity, error) {
	username, _ := sess.Identity()
	if sess.AuthState() != session.Authenticated || username == "" {
		return "", Identity{}, ErrNotAuthenticated
	}

	id, ok := g.store.Lookup(username)
	if !ok {
		return "", Identity{}, ErrUnknownUser
	}

	token, _, err := g.tokens.Issue(id)
	if err != nil {
		return "", Identity{}, err
	}
	return token, id, nil
}

// TokenTTL is the lifetime of issued cookies.
func (g *Gate) TokenTTL() int {
	return int(g.tokens.TTL().Seconds())
}

// Restore authenticates an anonymous session from a re-authentication cookie.
// It reports whether the session is authenticated afterwards. Tokens issued before
// the user's last password change are refused.
func (g *Gate) Restore(sess *session.Session, token string) bool {
	if sess.AuthState() == session.Authenticated {
		return true
	}
	if token == "" {
		return false
	}

	subject, err := g.tokens.Verify(token)
	if err != nil {
		return false
	}
	id, ok := g.store.Lookup(subject.Username)
	if !ok || id.Stamp != subject.Stamp {
		return false
	}

	sess.Authenticate(id.Username, id.Name)
	return true
}

// Register creates an account. The session is not signed in by registering.
func (g *Gate) Register(reg Registration) (Identity, error) {
	id, err := g.store.Register(reg)
	if err != nil {
		return Identity{}, err
	}
	log.Printf("[auth] registered user=%s", id.Username)
	return id, nil
}

// ResetPassword changes the password of the signed-in user.
func (g *Gate) ResetPassword(sess *session.Session, current, next string) error {
	username, _ := sess.Identity()
	if sess.AuthState() != session.Authenticated {
		return ErrNotAuthenticated
	}
	return g.store.ResetPassword(username, current, next)
}

// UpdateDetails edits the profile of the signed-in user and refreshes the session display name.
func (g *Gate) UpdateDetails(sess *session.Session, details Details) (Identity, error) {
	username, _ := sess.Identity()
	if sess.AuthState() != session.Authenticated {
		return Identity{}, ErrNotAuthenticated
	}

	id, err := g.store.UpdateDetails(username, details)
	if err != nil {
		return Identity{}, err
	}
	sess.Authenticate(id.Username, id.Name)
	return id, nil
}
