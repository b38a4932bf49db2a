package http

import (
	"context"
	"encoding/json"
	"log"
	"net/http"

	"github.com/gorilla/websocket"

	"quizlive-service/internal/app"
	"quizlive-service/internal/domain"
)

// IdentityResolver supplies the caller identity and role for a request.
// The engine trusts whatever it returns; authentication happens upstream.
type IdentityResolver interface {
	ResolveCaller(r *http.Request) *domain.Caller
}

// WSHandler wires websocket connections into live session rooms.
type WSHandler struct {
	service  *app.SessionService
	identity IdentityResolver
	upgrader websocket.Upgrader
}

func NewWSHandler(service *app.SessionService, identity IdentityResolver) *WSHandler {
	return &WSHandler{
		service:  service,
		identity: identity,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type outboundMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

type joinSessionPayload struct {
	SessionID     string `json:"sessionId"`
	ParticipantID string `json:"participantId"`
}

type sessionPayload struct {
	SessionID string `json:"sessionId"`
}

type submitAnswerPayload struct {
	SessionID     string          `json:"sessionId"`
	ParticipantID string          `json:"participantId"`
	QuestionID    string          `json:"questionId"`
	AnswerData    json.RawMessage `json:"answerData"`
	TimeTakenMs   int             `json:"timeTakenMs"`
}

type powerUpPayload struct {
	SessionID     string `json:"sessionId"`
	ParticipantID string `json:"participantId"`
	Type          string `json:"type"`
	QuestionIndex int    `json:"questionIndex"`
}

// roomAttachment is one connection's membership in a session room.
type roomAttachment struct {
	sessionID     string
	participantID string
	cancel        func()
	quit          chan struct{}
	done          chan struct{}
}

// wsSender feeds the connection's single writer goroutine. Once the writer
// has exited, sends become no-ops instead of blocking on a full buffer.
type wsSender struct {
	out        chan outboundMessage
	writerDone chan struct{}
}

func (s *wsSender) send(msg outboundMessage) {
	select {
	case s.out <- msg:
	case <-s.writerDone:
	}
}

// ServeWS upgrades the request and runs the connection's command loop.
// Validation failures are answered on this connection only, never broadcast.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	caller := h.identity.ResolveCaller(r)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	// Single writer goroutine: gorilla connections do not allow
	// concurrent writes. A write error closes the connection so the
	// read loop below fails instead of producing into a dead channel.
	sender := &wsSender{
		out:        make(chan outboundMessage, 32),
		writerDone: make(chan struct{}),
	}
	go func() {
		defer close(sender.writerDone)
		for msg := range sender.out {
			if err := conn.WriteJSON(msg); err != nil {
				log.Printf("ws write error: %v", err)
				conn.Close()
				return
			}
		}
	}()

	var room *roomAttachment
	leave := func() {
		if room == nil {
			return
		}
		room.cancel()
		close(room.quit)
		<-room.done
		h.service.Detach(room.sessionID, room.participantID)
		room = nil
	}

	ctx := r.Context()
	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		switch inbound.Type {
		case "JOIN_SESSION":
			var payload joinSessionPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				h.sendError(sender, "invalid JOIN_SESSION payload", "INVALID_STATE")
				continue
			}
			leave()
			room = h.join(sender, payload, caller)

		case "LEAVE_SESSION":
			leave()

		case "START_SESSION", "NEXT_QUESTION", "LOCK_QUESTION", "SHOW_RESULTS", "END_SESSION":
			var payload sessionPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				h.sendError(sender, "invalid payload", "INVALID_STATE")
				continue
			}
			if err := h.control(ctx, inbound.Type, payload.SessionID, caller); err != nil {
				h.sendDomainError(sender, err)
			}

		case "SUBMIT_ANSWER":
			var payload submitAnswerPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				h.sendError(sender, "invalid SUBMIT_ANSWER payload", "INVALID_STATE")
				continue
			}
			result, err := h.service.SubmitAnswer(ctx, payload.SessionID, payload.ParticipantID, payload.QuestionID, payload.AnswerData, payload.TimeTakenMs)
			if err != nil {
				h.sendDomainError(sender, err)
				continue
			}
			sender.send(outboundMessage{Type: "ANSWER_RESULT", Payload: result})

		case "USE_POWER_UP":
			var payload powerUpPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				h.sendError(sender, "invalid USE_POWER_UP payload", "INVALID_STATE")
				continue
			}
			if err := h.service.UsePowerUp(ctx, payload.SessionID, payload.ParticipantID, payload.Type, payload.QuestionIndex); err != nil {
				h.sendDomainError(sender, err)
			}

		default:
			h.sendError(sender, "unsupported message type", "INVALID_STATE")
		}
	}

	leave()
	close(sender.out)
	<-sender.writerDone
}

// join attaches the connection to a room and starts forwarding room events.
// Controllers may attach as observers (no participant id); everyone else
// must name their participant record.
func (h *WSHandler) join(sender *wsSender, payload joinSessionPayload, caller *domain.Caller) *roomAttachment {
	if payload.ParticipantID == "" && !isController(caller) {
		h.sendDomainError(sender, domain.ErrNotController)
		return nil
	}

	snapshot, events, cancel, err := h.service.Attach(payload.SessionID, payload.ParticipantID)
	if err != nil {
		h.sendDomainError(sender, err)
		return nil
	}
	for _, ev := range snapshot {
		sender.send(outboundMessage{Type: ev.EventType(), Payload: ev})
	}

	quit := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range events {
			select {
			case sender.out <- outboundMessage{Type: ev.EventType(), Payload: ev}:
			case <-sender.writerDone:
				return
			case <-quit:
				return
			}
		}
	}()
	return &roomAttachment{
		sessionID:     payload.SessionID,
		participantID: payload.ParticipantID,
		cancel:        cancel,
		quit:          quit,
		done:          done,
	}
}

// control dispatches a lifecycle command; only controllers may issue them.
func (h *WSHandler) control(ctx context.Context, command, sessionID string, caller *domain.Caller) error {
	if !isController(caller) {
		return domain.ErrNotController
	}
	switch command {
	case "START_SESSION":
		return h.service.Start(ctx, sessionID)
	case "NEXT_QUESTION":
		return h.service.Next(ctx, sessionID)
	case "LOCK_QUESTION":
		return h.service.Lock(ctx, sessionID)
	case "SHOW_RESULTS":
		return h.service.ShowResults(ctx, sessionID)
	case "END_SESSION":
		return h.service.End(ctx, sessionID)
	}
	return domain.ErrInvalidState
}

func isController(caller *domain.Caller) bool {
	return caller != nil && caller.Role == domain.RoleController
}

func (h *WSHandler) sendError(sender *wsSender, message, code string) {
	sender.send(outboundMessage{Type: "ERROR", Payload: domain.ErrorEvent{Message: message, Code: code}})
}

func (h *WSHandler) sendDomainError(sender *wsSender, err error) {
	sender.send(outboundMessage{Type: "ERROR", Payload: domain.ErrorEvent{
		Message: err.Error(),
		Code:    domain.ErrorCode(err),
	}})
}
