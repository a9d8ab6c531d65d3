// Package web exposes the document store and the profile holder over HTTP
// and configures cross-origin access for browser clients.
package web

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/tyemirov/tbase/internal/authkit"
	"github.com/tyemirov/tbase/internal/docstore"
	"github.com/tyemirov/tbase/internal/result"
)

// MountAPIRoutes registers the session-guarded /api group: document CRUD under
// /api/documents and the signed-in user's profile under /api/profile.
func MountAPIRoutes(router gin.IRouter, configuration authkit.ServerConfig, services authkit.Services) error {
	configuration = configuration.WithDefaults()
	services = services.WithDefaults(configuration)
	requireSession, err := authkit.RequireSession(configuration, services.Clock)
	if err != nil {
		return err
	}
	api := router.Group("/api", requireSession)

	documents := &documentRoutes{store: services.Documents}
	api.GET("/documents/*path", documents.read)
	api.HEAD("/documents/*path", documents.exists)
	api.POST("/documents/*path", documents.create)
	api.PUT("/documents/*path", documents.write)
	api.PATCH("/documents/*path", documents.update)
	api.DELETE("/documents/*path", documents.remove)

	profiles := &profileRoutes{services: services}
	api.GET("/profile", profiles.read)
	api.PATCH("/profile", profiles.update)
	api.POST("/profile/refresh", profiles.refresh)
	return nil
}

// respondStore writes a store outcome, mapping failures onto HTTP statuses.
func respondStore[T any](contextGin *gin.Context, successStatus int, outcome result.Result[T]) {
	authkit.RespondResult(contextGin, statusFor(outcome.Success, outcome.Error, successStatus), outcome)
}

func statusFor(success bool, message string, successStatus int) int {
	switch {
	case success:
		return successStatus
	case docstore.IsNotFound(message):
		return http.StatusNotFound
	case docstore.IsInvalidInput(message):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
