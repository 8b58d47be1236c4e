package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrForbidden is returned when a request carries no token, or one that
// does not cover the requested path.
var ErrForbidden = errors.New("access token does not grant this path")

// tokenParam is the query parameter (and cookie) carrying the access token.
const tokenParam = "odpt"

// PathClaims scope a token to a path prefix. Path "/" grants everything.
type PathClaims struct {
	Path string `json:"path"`
	jwt.RegisteredClaims
}

// TokenVerifier checks HS256 access tokens. A verifier without a secret
// lets every request through.
type TokenVerifier struct {
	secret []byte
}

func NewTokenVerifier(secret string) *TokenVerifier {
	return &TokenVerifier{secret: []byte(secret)}
}

// Enabled reports whether tokens are enforced.
func (v *TokenVerifier) Enabled() bool {
	return v != nil && len(v.secret) > 0
}

// Verify checks that token is valid and covers p.
func (v *TokenVerifier) Verify(token, p string) error {
	if !v.Enabled() {
		return nil
	}
	if token == "" {
		return ErrForbidden
	}

	parsed, err := jwt.ParseWithClaims(token, &PathClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrForbidden, err)
	}
	claims, ok := parsed.Claims.(*PathClaims)
	if !ok || !parsed.Valid {
		return ErrForbidden
	}
	if !pathCovers(claims.Path, p) {
		return ErrForbidden
	}
	return nil
}

// Issue signs a token granting scope (a file or directory) until ttl
// elapses. A zero ttl never expires.
func (v *TokenVerifier) Issue(scope string, ttl time.Duration) (string, error) {
	if !v.Enabled() {
		return "", nil
	}
	claims := PathClaims{
		Path: scope,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt: jwt.NewNumericDate(time.Now()),
		},
	}
	if ttl != 0 {
		claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(ttl))
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// pathCovers reports whether scope is p or one of its parent directories.
func pathCovers(scope, p string) bool {
	if scope == "" {
		return false
	}
	scope = strings.TrimSuffix(scope, "/")
	return scope == "" || p == scope || strings.HasPrefix(p, scope+"/")
}

// tokenFromRequest returns the odpt query parameter, falling back to the
// odpt cookie.
func tokenFromRequest(r *http.Request) string {
	if t := r.URL.Query().Get(tokenParam); t != "" {
		return t
	}
	if c, err := r.Cookie(tokenParam); err == nil {
		return c.Value
	}
	return ""
}

// authorize extracts the path and token of an /api request and verifies
// them, writing the error response itself when it fails.
func authorize(w http.ResponseWriter, r *http.Request, tokens *TokenVerifier) (p, token string, ok bool) {
	p = r.URL.Query().Get("path")
	if p == "" {
		http.Error(w, "Missing path", http.StatusBadRequest)
		return "", "", false
	}
	// Scope is checked on the cleaned path, the one the backend will open.
	p = path.Clean("/" + p)
	token, ok = verifyPath(w, r, tokens, p)
	return p, token, ok
}

// verifyPath checks the request's token against p, answering 403 itself
// when it does not cover it.
func verifyPath(w http.ResponseWriter, r *http.Request, tokens *TokenVerifier, p string) (string, bool) {
	token := tokenFromRequest(r)
	if err := tokens.Verify(token, p); err != nil {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return "", false
	}
	return token, true
}
