package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
)

const defaultExpiryDays = 30

// Subject is what a verified token vouches for.
type Subject struct {
	Username string
	Stamp    string
}

// TokenIssuer signs and verifies the re-authentication cookie with HS256.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
}

// NewTokenIssuer builds an issuer from the cookie section of the credential file.
func NewTokenIssuer(cookie CookieConfig) (*TokenIssuer, error) {
	if cookie.Key == "" {
		return nil, errors.New("cookie key is required to sign sessions")
	}

	days := cookie.ExpiryDays
	if days <= 0 {
		days = defaultExpiryDays
	}

	return &TokenIssuer{
		secret: []byte(cookie.Key),
		ttl:    time.Duration(days * float64(24*time.Hour)),
	}, nil
}

// TTL is how long issued tokens stay valid.
func (t *TokenIssuer) TTL() time.Duration {
	return t.ttl
}

// Issue signs a token for the identity and returns it with its expiry.
func (t *TokenIssuer) Issue(id Identity) (string, time.Time, error) {
	now := time.Now()
	expires := now.Add(t.ttl)
	claims := jwt.MapClaims{
		"sub":  id.Username,
		"name": id.Name,
		"pwv":  id.Stamp,
		"iat":  now.Unix(),
		"exp":  expires.Unix(),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign session token: %w", err)
	}
	return signed, expires, nil
}

// Verify validates the token and returns the user and password stamp it was issued for.
func (t *TokenIssuer) Verify(tokenString string) (Subject, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return t.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Subject{}, ErrExpiredToken
		}
		return Subject{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return Subject{}, ErrInvalidToken
	}

	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return Subject{}, fmt.Errorf("%w: missing sub", ErrInvalidToken)
	}
	stamp, _ := claims["pwv"].(string)
	return Subject{Username: sub, Stamp: stamp}, nil
}
