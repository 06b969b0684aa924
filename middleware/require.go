package middleware

import (
	"errors"
	"net/http"

	"github.com/MrEthical07/evalauth"
)

// Require checks the capability returned by capFor against the claims that
// Guard stored. It answers 401 without claims and 403 when the check fails.
// capFor sees the request, so it can build owner checks from path values.
func Require(engine *evalauth.Engine, capFor func(*http.Request) evalauth.Capability) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, _ := evalauth.ClaimsFromContext(r.Context())
			var capability evalauth.Capability
			if capFor != nil {
				capability = capFor(r)
			}

			switch err := engine.Authorize(claims, capability); {
			case err == nil:
				next.ServeHTTP(w, r)
			case errors.Is(err, evalauth.ErrUnauthorized):
				http.Error(w, "unauthorized", http.StatusUnauthorized)
			default:
				http.Error(w, "forbidden", http.StatusForbidden)
			}
		})
	}
}
