package httphandler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// OwnerHeader carries the caller's owner id when no JWT secret is configured.
// It must only be trusted behind an authenticating proxy.
const OwnerHeader = "X-Owner-ID"

var errNoOwner = errors.New("no owner identity on request")

type ownerKey struct{}

// OwnerResolver extracts the owning account from a request. With a secret it
// requires an HS256 bearer token and uses its "sub" claim; without one it
// reads OwnerHeader.
type OwnerResolver struct {
	secret []byte
}

// NewOwnerResolver creates an OwnerResolver. An empty secret selects header mode.
func NewOwnerResolver(jwtSecret string) *OwnerResolver {
	r := &OwnerResolver{}
	if jwtSecret != "" {
		r.secret = []byte(jwtSecret)
	}
	return r
}

// Resolve returns the owner id for r.
func (o *OwnerResolver) Resolve(r *http.Request) (string, error) {
	if o.secret == nil {
		owner := strings.TrimSpace(r.Header.Get(OwnerHeader))
		if owner == "" {
			return "", errNoOwner
		}
		return owner, nil
	}

	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		return "", errNoOwner
	}
	raw := strings.TrimPrefix(auth, "Bearer ")

	tok, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return o.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", fmt.Errorf("parse bearer token: %w", err)
	}

	sub, err := tok.Claims.GetSubject()
	if err != nil || sub == "" {
		return "", errNoOwner
	}
	return sub, nil
}

// identityMiddleware rejects requests without an owner and stores the owner
// id in the request context for handlers.
func identityMiddleware(resolver *OwnerResolver, logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		owner, err := resolver.Resolve(r)
		if err != nil {
			logger.Debug("request rejected", "path", r.URL.Path, "error", err)
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ownerKey{}, owner)))
	})
}

// ownerFrom returns the owner id stored by identityMiddleware.
func ownerFrom(ctx context.Context) string {
	owner, _ := ctx.Value(ownerKey{}).(string)
	return owner
}
