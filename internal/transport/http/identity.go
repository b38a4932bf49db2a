package http

import (
	"net/http"

	"quizlive-service/internal/domain"
)

// HeaderIdentity resolves the caller from trusted gateway headers,
// falling back to query parameters for websocket clients that cannot
// set headers. An absent identity yields a nil caller.
type HeaderIdentity struct{}

func (HeaderIdentity) ResolveCaller(r *http.Request) *domain.Caller {
	userID := r.Header.Get("X-User-ID")
	role := r.Header.Get("X-User-Role")
	if userID == "" {
		userID = r.URL.Query().Get("userId")
	}
	if role == "" {
		role = r.URL.Query().Get("role")
	}
	if userID == "" && role == "" {
		return nil
	}
	caller := &domain.Caller{ID: userID, Role: domain.RoleParticipant}
	if role == string(domain.RoleController) {
		caller.Role = domain.RoleController
	}
	return caller
}
