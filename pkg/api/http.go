// Package api exposes the request/response surface: paginated listing,
// search and thread replies. Real-time traffic goes over pkg/realtime.
package api

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"chatsync/pkg/auth"
	"chatsync/pkg/service"
	"chatsync/pkg/utils"
)

// Handler returns the HTTP handler for the read surface. All /v1 routes
// require an authenticated caller.
func Handler(v auth.TokenVerifier) http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_ = utils.JSONWrite(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)

	v1 := mux.NewRouter().PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/messages", listMessages).Methods(http.MethodGet)
	v1.HandleFunc("/messages/search", searchMessages).Methods(http.MethodGet)
	v1.HandleFunc("/messages/{parentId}/replies", listReplies).Methods(http.MethodGet)

	r.PathPrefix("/v1").Handler(auth.RequireUser(v, v1))
	return r
}

// writeServiceError maps the service error taxonomy onto HTTP statuses.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidArgument):
		utils.JSONError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrNotFound):
		utils.JSONError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrNotAuthorized):
		utils.JSONError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, service.ErrInvalidState):
		utils.JSONError(w, http.StatusConflict, err.Error())
	default:
		utils.JSONError(w, http.StatusInternalServerError, err.Error())
	}
}
