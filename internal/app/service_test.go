package app

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"quizlive-service/internal/domain"
)

// fakeStore is a minimal SessionStore for service tests.
type fakeStore struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

func newFakeStore() *fakeStore {
	return &fakeStore{sessions: make(map[string]*Session)}
}

func (s *fakeStore) Put(session *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.ID()] = session
}

func (s *fakeStore) Get(sessionID string) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	return session, ok
}

func (s *fakeStore) ByJoinCode(code string) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, session := range s.sessions {
		if session.JoinCode() == code {
			return session, true
		}
	}
	return nil, false
}

func (s *fakeStore) List() []*Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		out = append(out, session)
	}
	return out
}

func (s *fakeStore) Delete(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
}

// fakePersistence records every durable write for assertions. Setting
// finalizeFailures makes that many FinalizeSession calls fail first.
type fakePersistence struct {
	mu               sync.Mutex
	sessions         map[string]domain.SessionRecord
	answers          map[string]domain.AnswerRecord // participantID/questionID
	finalScores      map[string][]domain.ParticipantScore
	finalizeFailures int
}

func newFakePersistence() *fakePersistence {
	return &fakePersistence{
		sessions:    make(map[string]domain.SessionRecord),
		answers:     make(map[string]domain.AnswerRecord),
		finalScores: make(map[string][]domain.ParticipantScore),
	}
}

func (p *fakePersistence) CreateSession(_ context.Context, record domain.SessionRecord) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sessions[record.ID] = record
	return nil
}

func (p *fakePersistence) UpsertParticipant(_ context.Context, _ domain.Participant) error {
	return nil
}

func (p *fakePersistence) UpsertAnswer(_ context.Context, answer domain.AnswerRecord) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.answers[answer.ParticipantID+"/"+answer.QuestionID] = answer
	return nil
}

func (p *fakePersistence) FinalizeSession(_ context.Context, record domain.SessionRecord, scores []domain.ParticipantScore) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.finalizeFailures > 0 {
		p.finalizeFailures--
		return errors.New("write timeout")
	}
	p.sessions[record.ID] = record
	p.finalScores[record.ID] = scores
	return nil
}

func (p *fakePersistence) answer(participantID, questionID string) (domain.AnswerRecord, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	a, ok := p.answers[participantID+"/"+questionID]
	return a, ok
}

// staticQuizzes satisfies QuizRepository from a fixed map.
type staticQuizzes map[string]domain.Quiz

func (q staticQuizzes) GetQuiz(_ context.Context, quizID string) (domain.Quiz, error) {
	quiz, ok := q[quizID]
	if !ok {
		return domain.Quiz{}, domain.ErrQuizNotFound
	}
	return quiz, nil
}

type serviceFixture struct {
	service     *SessionService
	persistence *fakePersistence
	store       *fakeStore
	clock       *fakeClock
	cleanups    []func()
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	f := &serviceFixture{
		persistence: newFakePersistence(),
		store:       newFakeStore(),
		clock:       newFakeClock(),
	}
	f.service = NewSessionService(f.store, publishedQuizzes(), f.persistence, WithClock(f.clock.Now))
	// Capture cleanup callbacks instead of arming real timers.
	f.service.afterFunc = func(d time.Duration, fn func()) *time.Timer {
		f.cleanups = append(f.cleanups, fn)
		return nil
	}
	return f
}

func publishedQuizzes() staticQuizzes {
	return staticQuizzes{
		"quiz-1": {
			ID:        "quiz-1",
			Title:     "Arithmetic",
			Status:    domain.QuizPublished,
			Questions: testQuestions(),
		},
		"quiz-draft": {
			ID:        "quiz-draft",
			Status:    domain.QuizDraft,
			Questions: testQuestions(),
		},
		"quiz-empty": {
			ID:     "quiz-empty",
			Status: domain.QuizPublished,
		},
	}
}

func TestCreateSessionBootstrap(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	session, err := f.service.CreateSession(ctx, "quiz-1", true, true)
	require.NoError(t, err)
	require.Equal(t, domain.StateWaiting, session.State())
	require.Len(t, session.JoinCode(), joinCodeLength)
	for _, r := range session.JoinCode() {
		require.Contains(t, joinCodeAlphabet, string(r))
	}
	require.Equal(t, []string{"q1", "q2"}, session.Record().QuestionIDs)

	// Bootstrap is durable before the session is reachable.
	stored, ok := f.persistence.sessions[session.ID()]
	require.True(t, ok)
	require.Equal(t, session.JoinCode(), stored.JoinCode)

	found, ok := f.store.ByJoinCode(session.JoinCode())
	require.True(t, ok)
	require.Equal(t, session.ID(), found.ID())
}

func TestCreateSessionRejectsUnusableQuizzes(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	_, err := f.service.CreateSession(ctx, "quiz-draft", true, true)
	require.ErrorIs(t, err, domain.ErrQuizNotPublished)

	_, err = f.service.CreateSession(ctx, "quiz-empty", true, true)
	require.ErrorIs(t, err, domain.ErrQuizNotPublished)

	_, err = f.service.CreateSession(ctx, "quiz-missing", true, true)
	require.ErrorIs(t, err, domain.ErrQuizNotFound)
}

func TestJoinGuestAndReconnect(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	session, err := f.service.CreateSession(ctx, "quiz-1", true, true)
	require.NoError(t, err)

	// Join code matching ignores case and surrounding whitespace.
	code := "  " + strings.ToLower(session.JoinCode()) + " "
	guest, _, err := f.service.Join(ctx, JoinRequest{JoinCode: code, DisplayName: "Alice"})
	require.NoError(t, err)
	require.True(t, guest.Guest())
	require.NotEmpty(t, guest.GuestToken)
	require.Equal(t, 1, session.ParticipantCount())

	// The guest token resumes the same record instead of duplicating it.
	again, _, err := f.service.Join(ctx, JoinRequest{JoinCode: session.JoinCode(), GuestToken: guest.GuestToken})
	require.NoError(t, err)
	require.Equal(t, guest.ID, again.ID)
	require.Equal(t, 1, session.ParticipantCount())

	_, _, err = f.service.Join(ctx, JoinRequest{JoinCode: session.JoinCode(), GuestToken: "bogus"})
	require.ErrorIs(t, err, domain.ErrParticipantNotFound)

	_, _, err = f.service.Join(ctx, JoinRequest{JoinCode: session.JoinCode()})
	require.ErrorIs(t, err, domain.ErrGuestNameRequired)

	_, _, err = f.service.Join(ctx, JoinRequest{JoinCode: "ZZZZZZ", DisplayName: "Bob"})
	require.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestJoinIdentifiedReconnectKeepsScore(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	session, err := f.service.CreateSession(ctx, "quiz-1", true, true)
	require.NoError(t, err)

	first, _, err := f.service.Join(ctx, JoinRequest{JoinCode: session.JoinCode(), UserID: "u1", DisplayName: "Alice"})
	require.NoError(t, err)

	require.NoError(t, f.service.Start(ctx, session.ID()))
	_, err = f.service.SubmitAnswer(ctx, session.ID(), first.ID, "q1", choiceAnswer("o2"), 0)
	require.NoError(t, err)

	second, _, err := f.service.Join(ctx, JoinRequest{JoinCode: session.JoinCode(), UserID: "u1", DisplayName: "Alice B"})
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
	require.Equal(t, 15, second.Score)
	require.Equal(t, "Alice B", second.DisplayName)
	require.Equal(t, 1, session.ParticipantCount())
}

func TestJoinPolicyEnforcement(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	noGuests, err := f.service.CreateSession(ctx, "quiz-1", true, false)
	require.NoError(t, err)
	_, _, err = f.service.Join(ctx, JoinRequest{JoinCode: noGuests.JoinCode(), DisplayName: "Alice"})
	require.ErrorIs(t, err, domain.ErrGuestModeDisabled)

	noLate, err := f.service.CreateSession(ctx, "quiz-1", false, true)
	require.NoError(t, err)
	require.NoError(t, f.service.Start(ctx, noLate.ID()))
	_, _, err = f.service.Join(ctx, JoinRequest{JoinCode: noLate.JoinCode(), DisplayName: "Late"})
	require.ErrorIs(t, err, domain.ErrLateJoinDisabled)

	ended, err := f.service.CreateSession(ctx, "quiz-1", true, true)
	require.NoError(t, err)
	require.NoError(t, f.service.End(ctx, ended.ID()))
	_, _, err = f.service.Join(ctx, JoinRequest{JoinCode: ended.JoinCode(), DisplayName: "Ghost"})
	require.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestSubmitAnswerPersistsDurably(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	session, err := f.service.CreateSession(ctx, "quiz-1", true, true)
	require.NoError(t, err)
	guest, _, err := f.service.Join(ctx, JoinRequest{JoinCode: session.JoinCode(), DisplayName: "Alice"})
	require.NoError(t, err)
	require.NoError(t, f.service.Start(ctx, session.ID()))

	result, err := f.service.SubmitAnswer(ctx, session.ID(), guest.ID, "q1", choiceAnswer("o2"), 1000)
	require.NoError(t, err)
	require.True(t, result.Accepted)

	stored, ok := f.persistence.answer(guest.ID, "q1")
	require.True(t, ok)
	require.True(t, stored.Correct)
	require.Equal(t, result.Score, stored.Score)

	// A resubmission updates the stored row in place.
	_, err = f.service.SubmitAnswer(ctx, session.ID(), guest.ID, "q1", choiceAnswer("o1"), 2000)
	require.NoError(t, err)
	stored, ok = f.persistence.answer(guest.ID, "q1")
	require.True(t, ok)
	require.False(t, stored.Correct)
}

func TestEndFinalizesAndSchedulesCleanup(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	session, err := f.service.CreateSession(ctx, "quiz-1", true, true)
	require.NoError(t, err)
	guest, _, err := f.service.Join(ctx, JoinRequest{JoinCode: session.JoinCode(), DisplayName: "Alice"})
	require.NoError(t, err)
	require.NoError(t, f.service.Start(ctx, session.ID()))
	_, err = f.service.SubmitAnswer(ctx, session.ID(), guest.ID, "q1", choiceAnswer("o2"), 0)
	require.NoError(t, err)

	require.NoError(t, f.service.End(ctx, session.ID()))

	scores := f.persistence.finalScores[session.ID()]
	require.Len(t, scores, 1)
	require.Equal(t, guest.ID, scores[0].ParticipantID)
	require.Equal(t, 15, scores[0].Score)
	require.Equal(t, 1, scores[0].Rank)

	// The session stays queryable until the grace window elapses.
	_, ok := f.store.Get(session.ID())
	require.True(t, ok)
	require.Len(t, f.cleanups, 1)
	f.cleanups[0]()
	_, ok = f.store.Get(session.ID())
	require.False(t, ok)
}

func TestEndRetriesAfterFinalizeFailure(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	session, err := f.service.CreateSession(ctx, "quiz-1", true, true)
	require.NoError(t, err)
	guest, _, err := f.service.Join(ctx, JoinRequest{JoinCode: session.JoinCode(), DisplayName: "Alice"})
	require.NoError(t, err)
	require.NoError(t, f.service.Start(ctx, session.ID()))
	_, err = f.service.SubmitAnswer(ctx, session.ID(), guest.ID, "q1", choiceAnswer("o2"), 0)
	require.NoError(t, err)

	// A persistence outage must not commit COMPLETED: the session stays
	// live, nothing is cleaned up, and the controller can retry END.
	f.persistence.finalizeFailures = 1
	err = f.service.End(ctx, session.ID())
	require.ErrorIs(t, err, domain.ErrStoreUnavailable)
	require.Equal(t, domain.StateQuestionActive, session.State())
	require.Empty(t, f.persistence.finalScores[session.ID()])
	require.Empty(t, f.cleanups)

	// Outage over: the retry finalizes and arms cleanup.
	require.NoError(t, f.service.End(ctx, session.ID()))
	require.Equal(t, domain.StateCompleted, session.State())
	scores := f.persistence.finalScores[session.ID()]
	require.Len(t, scores, 1)
	require.Equal(t, guest.ID, scores[0].ParticipantID)
	require.Equal(t, 15, scores[0].Score)
	require.Len(t, f.cleanups, 1)
}

// collidingStore reports every candidate join code as taken by a live session.
type collidingStore struct {
	*fakeStore
	live  *Session
	calls int
}

func (s *collidingStore) ByJoinCode(string) (*Session, bool) {
	s.calls++
	return s.live, true
}

func TestCreateSessionJoinCodeExhausted(t *testing.T) {
	live := NewSession(domain.SessionRecord{ID: "s-live", State: domain.StateWaiting}, testQuestions())
	store := &collidingStore{fakeStore: newFakeStore(), live: live}
	persistence := newFakePersistence()
	service := NewSessionService(store, publishedQuizzes(), persistence)

	_, err := service.CreateSession(context.Background(), "quiz-1", true, true)
	require.ErrorIs(t, err, domain.ErrJoinCodeExhausted)
	require.Equal(t, "CONFLICT", domain.ErrorCode(err))
	require.Equal(t, maxJoinCodeAttempts, store.calls)
	require.Empty(t, persistence.sessions)
}

func TestJoinCodeIgnoresCompletedSessions(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	first, err := f.service.CreateSession(ctx, "quiz-1", true, true)
	require.NoError(t, err)
	require.NoError(t, f.service.End(ctx, first.ID()))

	// A completed session no longer reserves its code.
	code, err := f.service.uniqueJoinCode()
	require.NoError(t, err)
	require.Len(t, code, joinCodeLength)
}
