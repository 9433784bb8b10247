// Package auth resolves the owner id of a request from its bearer token.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"budgettracker/internal/cache"
)

// Anonymous is the owner used for requests without credentials.
const Anonymous = "anonymous"

// ClaimNameIdentifier is the name identifier claim issued by WS-Federation
// style identity providers.
const ClaimNameIdentifier = "http://schemas.xmlsoap.org/ws/2005/05/identity/claims/nameidentifier"

// ownerClaims are tried in order; the first non-empty string wins.
var ownerClaims = []string{ClaimNameIdentifier, "sub", "oid"}

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid bearer token")
)

// Resolver maps a request to the owner id every store call is scoped to.
type Resolver struct {
	secret   []byte
	required bool
	parser   *jwt.Parser
	cache    *cache.LRUCache[string]
}

// NewResolver builds a resolver. With an empty secret tokens are decoded
// without signature checks. idCache may be nil.
func NewResolver(secret string, required bool, idCache *cache.LRUCache[string]) *Resolver {
	return &Resolver{
		secret:   []byte(secret),
		required: required,
		parser:   jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})),
		cache:    idCache,
	}
}

// Verifies reports whether token signatures are checked.
func (r *Resolver) Verifies() bool {
	return len(r.secret) > 0
}

// Resolve returns the caller's owner id.
func (r *Resolver) Resolve(req *http.Request) (string, error) {
	token, ok := bearerToken(req)
	if !ok {
		if r.required {
			return "", ErrMissingToken
		}
		return Anonymous, nil
	}

	if r.cache != nil {
		if id, hit := r.cache.Get(token); hit {
			return id, nil
		}
	}

	claims, err := r.parse(token)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	id := ownerFromClaims(claims)
	if id == "" {
		if r.required {
			return "", fmt.Errorf("%w: no identity claim", ErrInvalidToken)
		}
		id = Anonymous
	}

	if r.cache != nil {
		var expiresAt time.Time
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
			expiresAt = exp.Time
		}
		r.cache.SetUntil(token, id, expiresAt)
	}
	return id, nil
}

func (r *Resolver) parse(token string) (jwt.MapClaims, error) {
	claims := jwt.MapClaims{}
	if !r.Verifies() {
		if _, _, err := r.parser.ParseUnverified(token, claims); err != nil {
			return nil, err
		}
		return claims, nil
	}

	parsed, err := r.parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return r.secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !parsed.Valid {
		return nil, errors.New("token not valid")
	}
	return claims, nil
}

func ownerFromClaims(claims jwt.MapClaims) string {
	for _, name := range ownerClaims {
		if v, ok := claims[name].(string); ok && strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func bearerToken(r *http.Request) (string, bool) {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(h) < 7 || !strings.EqualFold(h[:7], "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(h[7:])
	return token, token != ""
}
