package auth

import (
	"context"
	"encoding/json"
	"net/http"

	"budgettracker/internal/log"
)

type ownerKey struct{}

// WithOwner stores the resolved owner id in the context.
func WithOwner(ctx context.Context, ownerID string) context.Context {
	return context.WithValue(ctx, ownerKey{}, ownerID)
}

// OwnerFromContext returns the owner id set by the middleware.
func OwnerFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(ownerKey{}).(string)
	return id, ok && id != ""
}

// Middleware resolves the caller and rejects unauthenticated requests with 401.
func Middleware(resolver *Resolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ownerID, err := resolver.Resolve(r)
			if err != nil {
				log.FromContext(r.Context()).WithComponent(log.ComponentAuth).WarnContext(r.Context(),
					"Rejected request",
					log.FieldPath, r.URL.Path,
					log.FieldError, err.Error(),
					log.FieldErrorType, log.ErrorTypeAuth)

				w.Header().Set("WWW-Authenticate", `Bearer realm="budgettracker"`)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_ = json.NewEncoder(w).Encode(map[string]string{"error": "Unauthorized"})
				return
			}
			next.ServeHTTP(w, r.WithContext(WithOwner(r.Context(), ownerID)))
		})
	}
}
