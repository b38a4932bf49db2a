package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"quizlive-service/internal/domain"
)

// SessionStore abstracts how live sessions are tracked (in-memory, Redis-mirrored, etc).
type SessionStore interface {
	Put(session *Session)
	Get(sessionID string) (*Session, bool)
	ByJoinCode(code string) (*Session, bool)
	List() []*Session
	Delete(sessionID string)
}

// QuizRepository loads quiz content (from cache/backing store).
type QuizRepository interface {
	GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error)
}

// Persistence is the durable-storage collaborator. The engine trusts it for
// long-term history and hands off final scores before ephemeral cleanup.
type Persistence interface {
	CreateSession(ctx context.Context, record domain.SessionRecord) error
	UpsertParticipant(ctx context.Context, participant domain.Participant) error
	UpsertAnswer(ctx context.Context, answer domain.AnswerRecord) error
	FinalizeSession(ctx context.Context, record domain.SessionRecord, scores []domain.ParticipantScore) error
}

// DefaultCleanupGrace is how long ephemeral state outlives COMPLETED.
const DefaultCleanupGrace = 5 * time.Minute

// SessionService contains the live-session use cases: bootstrap, join,
// lifecycle commands and answer intake.
type SessionService struct {
	sessions    SessionStore
	quizzes     QuizRepository
	persistence Persistence

	now          func() time.Time
	cleanupGrace time.Duration
	afterFunc    func(d time.Duration, f func()) *time.Timer

	rndMu sync.Mutex
	rnd   *rand.Rand
}

// Option tweaks service construction; used mainly by tests.
type Option func(*SessionService)

// WithClock injects a deterministic clock.
func WithClock(now func() time.Time) Option {
	return func(s *SessionService) { s.now = now }
}

// WithCleanupGrace overrides how long ephemeral state survives END.
func WithCleanupGrace(grace time.Duration) Option {
	return func(s *SessionService) { s.cleanupGrace = grace }
}

func NewSessionService(sessions SessionStore, quizzes QuizRepository, persistence Persistence, opts ...Option) *SessionService {
	s := &SessionService{
		sessions:     sessions,
		quizzes:      quizzes,
		persistence:  persistence,
		now:          time.Now,
		cleanupGrace: DefaultCleanupGrace,
		afterFunc:    time.AfterFunc,
		rnd:          rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateSession materializes a session from a published quiz: snapshots the
// question order, generates a unique join code and seeds WAITING state.
func (s *SessionService) CreateSession(ctx context.Context, quizID string, allowLateJoin, guestMode bool) (*Session, error) {
	quiz, err := s.quizzes.GetQuiz(ctx, quizID)
	if err != nil {
		return nil, err
	}
	if quiz.Status != domain.QuizPublished || len(quiz.Questions) == 0 {
		return nil, domain.ErrQuizNotPublished
	}

	code, err := s.uniqueJoinCode()
	if err != nil {
		return nil, err
	}

	questionIDs := make([]string, len(quiz.Questions))
	for i, q := range quiz.Questions {
		questionIDs[i] = q.ID
	}
	record := domain.SessionRecord{
		ID:            uuid.NewString(),
		QuizID:        quiz.ID,
		JoinCode:      code,
		QuestionIDs:   questionIDs,
		State:         domain.StateWaiting,
		AllowLateJoin: allowLateJoin,
		GuestMode:     guestMode,
		CreatedAt:     s.now(),
	}
	if err := s.persistence.CreateSession(ctx, record); err != nil {
		return nil, fmt.Errorf("persist session: %v: %w", err, domain.ErrStoreUnavailable)
	}

	session := NewSessionWithClock(record, quiz.Questions, s.now)
	s.sessions.Put(session)
	return session, nil
}

// uniqueJoinCode retries against currently non-terminal sessions.
func (s *SessionService) uniqueJoinCode() (string, error) {
	for attempt := 0; attempt < maxJoinCodeAttempts; attempt++ {
		s.rndMu.Lock()
		code := newJoinCode(s.rnd)
		s.rndMu.Unlock()
		if existing, ok := s.sessions.ByJoinCode(code); !ok || existing.State().Terminal() {
			return code, nil
		}
	}
	return "", domain.ErrJoinCodeExhausted
}

// JoinRequest carries everything a join needs. UserID is set for identified
// callers (resolved upstream); GuestToken lets a guest reconnect.
type JoinRequest struct {
	JoinCode    string
	UserID      string
	GuestToken  string
	DisplayName string
}

// Join attaches a participant to a session found by join code, enforcing
// guest-mode and late-join policy. Identified participants and guests with a
// token reconnect to their existing record instead of duplicating it.
func (s *SessionService) Join(ctx context.Context, req JoinRequest) (domain.Participant, *Session, error) {
	session, ok := s.sessions.ByJoinCode(strings.ToUpper(strings.TrimSpace(req.JoinCode)))
	if !ok {
		return domain.Participant{}, nil, domain.ErrSessionNotFound
	}
	record := session.Record()
	state := session.State()
	if state.Terminal() {
		return domain.Participant{}, nil, fmt.Errorf("session has ended: %w", domain.ErrInvalidState)
	}
	if !record.AllowLateJoin && state != domain.StateWaiting {
		return domain.Participant{}, nil, domain.ErrLateJoinDisabled
	}

	var participant domain.Participant
	switch {
	case req.UserID != "":
		if existing, found := session.ParticipantByUser(req.UserID); found {
			participant = existing
			participant.Connected = true
			if req.DisplayName != "" {
				participant.DisplayName = req.DisplayName
			}
		} else {
			participant = domain.Participant{
				ID:          uuid.NewString(),
				SessionID:   record.ID,
				UserID:      req.UserID,
				DisplayName: req.DisplayName,
				Connected:   true,
				JoinedAt:    s.now(),
			}
		}
	case req.GuestToken != "":
		existing, found := session.ParticipantByGuestToken(req.GuestToken)
		if !found {
			return domain.Participant{}, nil, domain.ErrParticipantNotFound
		}
		participant = existing
		participant.Connected = true
	default:
		if !record.GuestMode {
			return domain.Participant{}, nil, domain.ErrGuestModeDisabled
		}
		if strings.TrimSpace(req.DisplayName) == "" {
			return domain.Participant{}, nil, domain.ErrGuestNameRequired
		}
		participant = domain.Participant{
			ID:          uuid.NewString(),
			SessionID:   record.ID,
			GuestToken:  uuid.NewString(),
			DisplayName: req.DisplayName,
			Connected:   true,
			JoinedAt:    s.now(),
		}
	}

	if err := s.persistence.UpsertParticipant(ctx, participant); err != nil {
		return domain.Participant{}, nil, fmt.Errorf("persist participant: %v: %w", err, domain.ErrStoreUnavailable)
	}
	session.UpsertParticipant(&participant)
	return participant, session, nil
}

// Session exposes a live session for transports and the timer broadcaster.
func (s *SessionService) Session(sessionID string) (*Session, bool) {
	return s.sessions.Get(sessionID)
}

func (s *SessionService) Start(_ context.Context, sessionID string) error {
	session, ok := s.sessions.Get(sessionID)
	if !ok {
		return domain.ErrSessionNotFound
	}
	return session.Start()
}

func (s *SessionService) Next(_ context.Context, sessionID string) error {
	session, ok := s.sessions.Get(sessionID)
	if !ok {
		return domain.ErrSessionNotFound
	}
	return session.Next()
}

func (s *SessionService) Lock(_ context.Context, sessionID string) error {
	session, ok := s.sessions.Get(sessionID)
	if !ok {
		return domain.ErrSessionNotFound
	}
	return session.Lock()
}

func (s *SessionService) ShowResults(_ context.Context, sessionID string) error {
	session, ok := s.sessions.Get(sessionID)
	if !ok {
		return domain.ErrSessionNotFound
	}
	return session.ShowResults()
}

// End terminates the session, hands the final scores to persistence and
// schedules ephemeral cleanup after the grace window. The durable write is
// awaited before the COMPLETED transition commits, so a persistence outage
// leaves the session live and the controller can retry END.
func (s *SessionService) End(ctx context.Context, sessionID string) error {
	session, ok := s.sessions.Get(sessionID)
	if !ok {
		return domain.ErrSessionNotFound
	}
	err := session.End(func(record domain.SessionRecord, scores []domain.ParticipantScore) error {
		if err := s.persistence.FinalizeSession(ctx, record, scores); err != nil {
			return fmt.Errorf("%v: %w", err, domain.ErrStoreUnavailable)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.afterFunc(s.cleanupGrace, func() {
		s.sessions.Delete(sessionID)
		log.Printf("session %s ephemeral state cleaned up", sessionID)
	})
	return nil
}

// SubmitAnswer records one participant's answer for the active question.
// The durable upsert is awaited inside the session's critical section; see
// Session.SubmitAnswer for the ordering guarantees.
func (s *SessionService) SubmitAnswer(ctx context.Context, sessionID, participantID, questionID string, payload json.RawMessage, timeTakenMs int) (SubmitResult, error) {
	session, ok := s.sessions.Get(sessionID)
	if !ok {
		return SubmitResult{}, domain.ErrSessionNotFound
	}
	return session.SubmitAnswer(participantID, questionID, payload, timeTakenMs, func(record domain.AnswerRecord) error {
		return s.persistence.UpsertAnswer(ctx, record)
	})
}

// UsePowerUp relays a cosmetic power-up to the room; no scoring effect.
func (s *SessionService) UsePowerUp(_ context.Context, sessionID, participantID, powerType string, questionIndex int) error {
	session, ok := s.sessions.Get(sessionID)
	if !ok {
		return domain.ErrSessionNotFound
	}
	return session.PowerUp(participantID, powerType, questionIndex)
}

// Attach subscribes a connection to a session's room. An empty participantID
// attaches an observer (controller) connection.
func (s *SessionService) Attach(sessionID, participantID string) ([]domain.Event, <-chan domain.Event, func(), error) {
	session, ok := s.sessions.Get(sessionID)
	if !ok {
		return nil, nil, nil, domain.ErrSessionNotFound
	}
	return session.Attach(participantID)
}

// Detach removes a connection from the room, keeping the participant record.
func (s *SessionService) Detach(sessionID, participantID string) {
	if session, ok := s.sessions.Get(sessionID); ok {
		session.Detach(participantID)
	}
}
