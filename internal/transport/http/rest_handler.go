package http

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"quizlive-service/internal/app"
	"quizlive-service/internal/domain"
)

// RESTHandler serves the session bootstrap endpoints and health check.
type RESTHandler struct {
	service   *app.SessionService
	identity  IdentityResolver
	startedAt time.Time
}

func NewRESTHandler(service *app.SessionService, identity IdentityResolver) *RESTHandler {
	return &RESTHandler{
		service:   service,
		identity:  identity,
		startedAt: time.Now(),
	}
}

func (h *RESTHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.HandleFunc("/sessions", h.handleCreateSession)
	mux.HandleFunc("/sessions/join", h.handleJoinSession)
}

func (h *RESTHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"uptime": time.Since(h.startedAt).Round(time.Second).String(),
	})
}

type createSessionRequest struct {
	QuizID        string `json:"quizId"`
	AllowLateJoin bool   `json:"allowLateJoin"`
	GuestMode     bool   `json:"guestMode"`
}

func (h *RESTHandler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", "INVALID_STATE")
		return
	}
	caller := h.identity.ResolveCaller(r)
	if !isController(caller) {
		writeDomainError(w, domain.ErrNotController)
		return
	}
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", "INVALID_STATE")
		return
	}
	session, err := h.service.CreateSession(r.Context(), req.QuizID, req.AllowLateJoin, req.GuestMode)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	record := session.Record()
	log.Printf("session %s created for quiz %s with code %s", record.ID, req.QuizID, record.JoinCode)
	writeJSON(w, http.StatusCreated, map[string]any{"session": record})
}

type joinSessionRequest struct {
	JoinCode   string `json:"joinCode"`
	GuestName  string `json:"guestName"`
	GuestToken string `json:"guestToken"`
}

func (h *RESTHandler) handleJoinSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", "INVALID_STATE")
		return
	}
	var req joinSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", "INVALID_STATE")
		return
	}
	joinReq := app.JoinRequest{
		JoinCode:    req.JoinCode,
		GuestToken:  req.GuestToken,
		DisplayName: req.GuestName,
	}
	if caller := h.identity.ResolveCaller(r); caller != nil {
		joinReq.UserID = caller.ID
	}
	participant, session, err := h.service.Join(r.Context(), joinReq)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session":     session.Record(),
		"participant": participant,
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("response encode error: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, map[string]any{
		"error": domain.ErrorEvent{Message: message, Code: code},
	})
}

func writeDomainError(w http.ResponseWriter, err error) {
	code := domain.ErrorCode(err)
	writeError(w, statusForCode(code), err.Error(), code)
}

func statusForCode(code string) int {
	switch code {
	case "NOT_FOUND":
		return http.StatusNotFound
	case "INVALID_STATE", "CONFLICT":
		return http.StatusConflict
	case "UNAUTHORIZED":
		return http.StatusForbidden
	case "UNAVAILABLE":
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
