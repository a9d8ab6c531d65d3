package web

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/tyemirov/tbase/internal/authkit"
	"github.com/tyemirov/tbase/internal/docstore"
	"github.com/tyemirov/tbase/internal/profile"
	"github.com/tyemirov/tbase/internal/result"
	"github.com/tyemirov/tbase/internal/session"
)

type profileRoutes struct {
	services authkit.Services
}

// open restores the request's session and loads its profile document.
// The returned stop function releases both holders.
func (routes *profileRoutes) open(contextGin *gin.Context) (*profile.Context, func(), bool) {
	manager, ok := routes.services.RestoreSession(contextGin)
	if !ok {
		return nil, nil, false
	}
	sessionContext := session.New(manager.Client())
	sessionContext.Start()
	profileContext := profile.New(sessionContext, routes.services.Documents, routes.services.Logger)
	profileContext.Start(contextGin.Request.Context())
	return profileContext, func() {
		profileContext.Stop()
		sessionContext.Stop()
	}, true
}

func (routes *profileRoutes) read(contextGin *gin.Context) {
	profileContext, stop, ok := routes.open(contextGin)
	if !ok {
		return
	}
	defer stop()
	respondProfile(contextGin, profileContext.State())
}

func (routes *profileRoutes) update(contextGin *gin.Context) {
	fields, ok := bindFields(contextGin)
	if !ok {
		return
	}
	profileContext, stop, ok := routes.open(contextGin)
	if !ok {
		return
	}
	defer stop()
	outcome := profileContext.UpdateProfile(contextGin.Request.Context(), fields)
	if !outcome.Success {
		respondStore(contextGin, http.StatusOK, outcome)
		return
	}
	respondProfile(contextGin, profileContext.State())
}

func (routes *profileRoutes) refresh(contextGin *gin.Context) {
	profileContext, stop, ok := routes.open(contextGin)
	if !ok {
		return
	}
	defer stop()
	profileContext.Refresh(contextGin.Request.Context())
	respondProfile(contextGin, profileContext.State())
}

func respondProfile(contextGin *gin.Context, state profile.State) {
	if state.Profile == nil {
		message := state.Error
		if message == "" {
			message = docstore.MessageDocumentNotFound
		}
		respondStore(contextGin, http.StatusOK, result.Err[docstore.Document](message))
		return
	}
	authkit.RespondResult(contextGin, http.StatusOK, result.Ok(*state.Profile))
}
