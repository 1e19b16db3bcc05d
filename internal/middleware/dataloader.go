package middleware

import (
	"net/http"

	"github.com/rpattn/cohortwatch/internal/entityloader"
	"github.com/rpattn/cohortwatch/internal/repository"
)

// DataLoaderMiddleware attaches a fresh entity loader to every request context
func DataLoaderMiddleware(repo repository.EntityRepository) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			loader := entityloader.NewEntityLoader(repo)
			ctx := entityloader.WithLoader(r.Context(), loader)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
