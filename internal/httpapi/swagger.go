//go:build swagger

package httpapi

import (
	"github.com/go-chi/chi/v5"
	httpSwagger "github.com/swaggo/http-swagger"
)

// MountSwagger serves the interactive API docs under /docs. The doc.json it
// references is produced by `swag init -g cmd/lorad/docs.go`.
func MountSwagger(r chi.Router) {
	r.Get("/docs/*", httpSwagger.Handler(
		httpSwagger.URL("/docs/doc.json"),
	))
}
