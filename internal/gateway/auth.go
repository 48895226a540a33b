// Package gateway is the socket gateway: it authenticates a bearer JWT,
// opens a websocket session for the carried user, and forwards whatever
// that user's pub/sub channel emits until the session closes. Grounded
// on go-server/internal/auth/jwt.go for the token-verification idiom,
// narrowed down to a `sub`-only contract (no username/role claims — the
// chat backbone only needs a subject).
package gateway

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims carries only the subject the gateway needs to bind a session to
// a pub/sub channel. Unlike go-server/internal/auth/jwt.go's Claims it
// has no role or username — the chat backbone has no notion of either.
type Claims struct {
	jwt.RegisteredClaims
}

type TokenManager struct {
	secret   []byte
	tokenTTL time.Duration
}

func NewTokenManager(secret string, tokenTTL time.Duration) *TokenManager {
	return &TokenManager{secret: []byte(secret), tokenTTL: tokenTTL}
}

func (m *TokenManager) Generate(userID string) (string, error) {
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(m.tokenTTL)),
			Issuer:    "chat4all-backbone",
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secret)
}

func (m *TokenManager) Verify(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Subject == "" {
		return nil, errors.New("invalid token claims")
	}
	return claims, nil
}

// AuthenticateRequest pulls the bearer token from the Authorization
// header or, failing that, a `token` query parameter — websocket
// clients commonly can't set arbitrary headers during the handshake —
// and verifies it.
func (m *TokenManager) AuthenticateRequest(r *http.Request) (*Claims, error) {
	if header := r.Header.Get("Authorization"); header != "" {
		const prefix = "Bearer "
		if !strings.HasPrefix(header, prefix) {
			return nil, errors.New("invalid authorization header format")
		}
		return m.Verify(strings.TrimPrefix(header, prefix))
	}

	token := r.URL.Query().Get("token")
	if token == "" {
		return nil, errors.New("no bearer token in header or query")
	}
	decoded, err := url.QueryUnescape(token)
	if err != nil {
		decoded = token
	}
	return m.Verify(decoded)
}
