package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lifeddx/steve/backend/internal/model/specialist"
	"github.com/lifeddx/steve/backend/internal/service/session"
)

func newGate(t *testing.T) *Gate {
	t.Helper()
	store, _ := loadStore(t)
	tokens, err := NewTokenIssuer(store.Cookie())
	require.NoError(t, err)
	return NewGate(store, tokens)
}

func newSession(id string) *session.Session {
	return session.New(id, specialist.NewMemoryStore(specialist.Seed()).Default())
}

func TestLoginStatesAreSessionScoped(t *testing.T) {
	gate := newGate(t)
	aliceSess := newSession("a")
	bobSess := newSession("b")

	_, err := gate.Login(aliceSess, "alice", "wrong")
	assert.ErrorIs(t, err, ErrAuthFailure)
	assert.Equal(t, session.Rejected, aliceSess.AuthState())

	id, err := gate.Login(aliceSess, "alice", "pw1")
	require.NoError(t, err)
	assert.Equal(t, "Alice", id.Name)
	assert.Equal(t, session.Authenticated, aliceSess.AuthState())

	assert.Equal(t, session.Anonymous, bobSess.AuthState())
	_, err = gate.Login(bobSess, "bob", "nope")
	assert.ErrorIs(t, err, ErrAuthFailure)
	assert.Equal(t, session.Rejected, bobSess.AuthState())
	assert.Equal(t, session.Authenticated, aliceSess.AuthState())

	gate.Logout(aliceSess)
	assert.Equal(t, session.Anonymous, aliceSess.AuthState())
	assert.Equal(t, session.Rejected, bobSess.AuthState())
}

func TestRestoreFromCookie(t *testing.T) {
	gate := newGate(t)
	first := newSession("first")

	_, err := gate.Login(first, "alice", "pw1")
	require.NoError(t, err)
	token, _, err := gate.IssueToken(first)
	require.NoError(t, err)

	second := newSession("second")
	assert.True(t, gate.Restore(second, token))
	username, name := second.Identity()
	assert.Equal(t, "alice", username)
	assert.Equal(t, "Alice", name)

	third := newSession("third")
	assert.False(t, gate.Restore(third, "tampered"))
	assert.Equal(t, session.Anonymous, third.AuthState())
}

func TestPasswordResetRevokesIssuedTokens(t *testing.T) {
	gate := newGate(t)
	sess := newSession("owner")

	_, err := gate.Login(sess, "alice", "pw1")
	require.NoError(t, err)
	stale, _, err := gate.IssueToken(sess)
	require.NoError(t, err)

	require.NoError(t, gate.ResetPassword(sess, "pw1", "pw9"))

	other := newSession("stolen")
	assert.False(t, gate.Restore(other, stale))
	assert.Equal(t, session.Anonymous, other.AuthState())

	fresh, _, err := gate.IssueToken(sess)
	require.NoError(t, err)
	assert.True(t, gate.Restore(newSession("fresh"), fresh))
}

func TestIssueTokenRequiresLogin(t *testing.T) {
	gate := newGate(t)
	_, _, err := gate.IssueToken(newSession("anon"))
	assert.ErrorIs(t, err, ErrNotAuthenticated)
}

func TestAccountFlowsRequireLogin(t *testing.T) {
	gate := newGate(t)
	sess := newSession("s")

	assert.ErrorIs(t, gate.ResetPassword(sess, "pw1", "next"), ErrNotAuthenticated)
	_, err := gate.UpdateDetails(sess, Details{Name: "x"})
	assert.ErrorIs(t, err, ErrNotAuthenticated)

	_, err = gate.Login(sess, "alice", "pw1")
	require.NoError(t, err)
	id, err := gate.UpdateDetails(sess, Details{Name: "Alice L."})
	require.NoError(t, err)
	assert.Equal(t, "Alice L.", id.Name)
	_, name := sess.Identity()
	assert.Equal(t, "Alice L.", name)
}
