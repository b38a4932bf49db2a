package app

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"quizlive-service/internal/domain"
)

// Session is the live aggregate for one session: lifecycle state, question
// cursor, countdown deadline, participants, recorded answers and the room's
// event subscribers. All mutation goes through its mutex, so two commands
// for the same session can never interleave their read and write halves.
// Different sessions share nothing and proceed independently.
type Session struct {
	record    domain.SessionRecord
	questions []domain.Question
	now       func() time.Time

	mu           sync.Mutex
	state        domain.SessionState
	index        int
	deadline     time.Time
	startedAt    time.Time // when the current question went active
	participants map[string]*domain.Participant
	answers      map[int]map[string]*recordedAnswer
	connected    map[string]struct{}
	subscribers  map[chan domain.Event]struct{}
}

// recordedAnswer keeps what the aggregate needs to support overwrite
// semantics: the prior award is subtracted when a resubmission lands.
type recordedAnswer struct {
	correct     bool
	score       int
	timeTakenMs int
	key         string // distribution key (option id or normalized value)
	streakSeed  int    // participant streak before this answer applied
}

// SubmitResult acknowledges one answer submission to its sender.
type SubmitResult struct {
	Accepted     bool `json:"accepted"`
	Score        int  `json:"score"`
	TotalScore   int  `json:"totalScore"`
	RunningCount int  `json:"runningCount"`
}

func NewSession(record domain.SessionRecord, questions []domain.Question) *Session {
	return NewSessionWithClock(record, questions, time.Now)
}

// NewSessionWithClock allows deterministic time in tests.
func NewSessionWithClock(record domain.SessionRecord, questions []domain.Question, now func() time.Time) *Session {
	return &Session{
		record:       record,
		questions:    questions,
		now:          now,
		state:        domain.StateWaiting,
		index:        domain.NoQuestionIndex,
		participants: make(map[string]*domain.Participant),
		answers:      make(map[int]map[string]*recordedAnswer),
		connected:    make(map[string]struct{}),
		subscribers:  make(map[chan domain.Event]struct{}),
	}
}

func (s *Session) ID() string       { return s.record.ID }
func (s *Session) JoinCode() string { return s.record.JoinCode }

// Record returns the durable projection with current lifecycle fields.
func (s *Session) Record() domain.SessionRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.record
	rec.State = s.state
	return rec
}

func (s *Session) State() domain.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) CurrentIndex() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index
}

func (s *Session) QuestionCount() int { return len(s.questions) }

// UpsertParticipant registers a participant record or refreshes an existing
// one. An identified participant keeps a single record per session.
func (s *Session) UpsertParticipant(p *domain.Participant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.participants[p.ID]; ok {
		existing.DisplayName = p.DisplayName
		existing.Connected = p.Connected
		return
	}
	s.participants[p.ID] = p
}

func (s *Session) Participant(id string) (domain.Participant, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.participants[id]
	if !ok {
		return domain.Participant{}, false
	}
	return *p, true
}

// ParticipantByUser finds the identified participant for a durable identity.
func (s *Session) ParticipantByUser(userID string) (domain.Participant, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.participants {
		if p.UserID != "" && p.UserID == userID {
			return *p, true
		}
	}
	return domain.Participant{}, false
}

// ParticipantByGuestToken finds a guest participant by its reconnect token.
func (s *Session) ParticipantByGuestToken(token string) (domain.Participant, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.participants {
		if p.GuestToken != "" && p.GuestToken == token {
			return *p, true
		}
	}
	return domain.Participant{}, false
}

func (s *Session) ParticipantCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.participants)
}

func (s *Session) ConnectedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.connected)
}

// Attach subscribes a connection to the room and returns the catch-up
// snapshot a late or reconnecting join needs: current state, the active
// question (sanitized) and the remaining timer. participantID may be empty
// for observer connections (the controller); only tracked participants
// produce join broadcasts and count changes. The caller must invoke cancel.
func (s *Session) Attach(participantID string) ([]domain.Event, <-chan domain.Event, func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var name string
	if participantID != "" {
		p, ok := s.participants[participantID]
		if !ok {
			return nil, nil, nil, domain.ErrParticipantNotFound
		}
		p.Connected = true
		s.connected[participantID] = struct{}{}
		name = p.DisplayName
	}

	ch := make(chan domain.Event, 16)
	s.subscribers[ch] = struct{}{}
	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.subscribers[ch]; ok {
			delete(s.subscribers, ch)
			close(ch)
		}
	}

	if participantID != "" {
		s.publishLocked(domain.ParticipantJoined{ID: participantID, Name: name, Count: len(s.connected)})
	}

	snapshot := []domain.Event{domain.StateChange{State: s.state, CurrentQuestionIndex: s.index}}
	if s.state == domain.StateQuestionActive {
		q := s.questions[s.index]
		snapshot = append(snapshot, domain.QuestionStart{
			QuestionIndex: s.index,
			Question:      q.View(),
			TimeLimit:     q.TimeLimitSeconds(),
			StartedAt:     s.startedAt.UnixMilli(),
		})
		if remaining := s.remainingLocked(); remaining > 0 {
			snapshot = append(snapshot, domain.TimerSync{Remaining: remaining})
		}
	}
	return snapshot, ch, cancel, nil
}

// Detach marks the participant disconnected and tells the room. The
// participant record is kept so a reconnect resumes score and streak.
func (s *Session) Detach(participantID string) {
	if participantID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.connected[participantID]; !ok {
		return
	}
	delete(s.connected, participantID)
	if p, ok := s.participants[participantID]; ok {
		p.Connected = false
	}
	s.publishLocked(domain.ParticipantLeft{ID: participantID, Count: len(s.connected)})
}

// Start moves WAITING to the first active question.
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != domain.StateWaiting {
		return fmt.Errorf("start from %s: %w", s.state, domain.ErrInvalidState)
	}
	s.activateQuestionLocked(0)
	started := s.now()
	s.record.StartedAt = &started
	return nil
}

// Next advances from RESULTS to the following question.
func (s *Session) Next() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != domain.StateResults {
		return fmt.Errorf("next from %s: %w", s.state, domain.ErrInvalidState)
	}
	if s.index+1 >= len(s.questions) {
		return fmt.Errorf("next past last question: %w", domain.ErrInvalidState)
	}
	s.activateQuestionLocked(s.index + 1)
	return nil
}

func (s *Session) activateQuestionLocked(index int) {
	q := s.questions[index]
	s.index = index
	s.state = domain.StateQuestionActive
	s.startedAt = s.now()
	s.deadline = s.startedAt.Add(time.Duration(q.TimeLimitSeconds()) * time.Second)
	s.publishLocked(domain.StateChange{State: s.state, CurrentQuestionIndex: index})
	s.publishLocked(domain.QuestionStart{
		QuestionIndex: index,
		Question:      q.View(),
		TimeLimit:     q.TimeLimitSeconds(),
		StartedAt:     s.startedAt.UnixMilli(),
	})
}

// Lock stops answer intake for the active question.
func (s *Session) Lock() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != domain.StateQuestionActive {
		return fmt.Errorf("lock from %s: %w", s.state, domain.ErrInvalidState)
	}
	s.state = domain.StateLocked
	s.publishLocked(domain.QuestionLock{QuestionIndex: s.index})
	s.publishLocked(domain.StateChange{State: s.state, CurrentQuestionIndex: s.index})
	return nil
}

// ShowResults reveals the answer key, per-question stats and the top of the
// leaderboard. Stats are computed synchronously before the broadcast.
func (s *Session) ShowResults() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != domain.StateLocked {
		return fmt.Errorf("show results from %s: %w", s.state, domain.ErrInvalidState)
	}
	s.state = domain.StateResults
	q := s.questions[s.index]
	s.publishLocked(domain.StateChange{State: s.state, CurrentQuestionIndex: s.index})
	s.publishLocked(domain.QuestionResults{
		QuestionIndex: s.index,
		CorrectAnswer: correctAnswerKey(q),
		Stats:         s.statsLocked(s.index),
		Leaderboard:   s.leaderboardLocked(20),
	})
	return nil
}

// End terminates the session from any non-terminal state, handing the final
// ranked scores to the persist callback before the COMPLETED transition is
// applied. Like SubmitAnswer, the durable write is awaited while the lock is
// held: a failed finalize leaves the session live so END can be retried.
func (s *Session) End(persist func(record domain.SessionRecord, scores []domain.ParticipantScore) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Terminal() {
		return fmt.Errorf("end from %s: %w", s.state, domain.ErrInvalidState)
	}
	ended := s.now()
	record := s.record
	record.State = domain.StateCompleted
	record.EndedAt = &ended

	final := s.leaderboardLocked(0)
	scores := make([]domain.ParticipantScore, 0, len(final))
	for _, entry := range final {
		p := s.participants[entry.ParticipantID]
		scores = append(scores, domain.ParticipantScore{
			ParticipantID: entry.ParticipantID,
			Score:         entry.Score,
			CorrectCount:  p.CorrectCount,
			Streak:        p.Streak,
			Rank:          entry.Rank,
		})
	}

	if persist != nil {
		if err := persist(record, scores); err != nil {
			return fmt.Errorf("finalize session: %w", err)
		}
	}

	s.state = domain.StateCompleted
	s.index = domain.NoQuestionIndex
	s.record.EndedAt = &ended

	top := final
	if len(top) > 100 {
		top = top[:100]
	}
	s.publishLocked(domain.StateChange{State: s.state, CurrentQuestionIndex: s.index})
	s.publishLocked(domain.SessionComplete{
		FinalLeaderboard: top,
		Analytics:        s.analyticsLocked(),
	})
	return nil
}

// SubmitAnswer validates, grades, persists and applies one submission. The
// persist callback is awaited while the session lock is held, so a failed
// durable write never mutates the leaderboard and a concurrent Lock can
// never slip between validation and apply. A resubmission before the lock
// overwrites the prior answer; after the lock the submission is rejected.
func (s *Session) SubmitAnswer(participantID, questionID string, payload []byte, timeTakenMs int, persist func(domain.AnswerRecord) error) (SubmitResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != domain.StateQuestionActive {
		return SubmitResult{}, fmt.Errorf("submit while %s: %w", s.state, domain.ErrInvalidState)
	}
	q := s.questions[s.index]
	if q.ID != questionID {
		return SubmitResult{}, fmt.Errorf("question %s is not active: %w", questionID, domain.ErrQuestionNotFound)
	}
	p, ok := s.participants[participantID]
	if !ok {
		return SubmitResult{}, domain.ErrParticipantNotFound
	}

	correct, key := grade(q, payload)
	score := domain.Score(q.BasePoints(), timeTakenMs, q.TimeLimitSeconds()*1000, correct)

	if persist != nil {
		record := domain.AnswerRecord{
			ID:            uuid.NewString(),
			SessionID:     s.record.ID,
			ParticipantID: participantID,
			QuestionID:    questionID,
			Payload:       payload,
			TimeTakenMs:   timeTakenMs,
			Correct:       correct,
			Score:         score,
			SubmittedAt:   s.now(),
		}
		if err := persist(record); err != nil {
			return SubmitResult{}, fmt.Errorf("persist answer: %w", err)
		}
	}

	slot := s.answers[s.index]
	if slot == nil {
		slot = make(map[string]*recordedAnswer)
		s.answers[s.index] = slot
	}

	prev := slot[participantID]
	streakSeed := p.Streak
	if prev != nil {
		// Overwrite: back out the prior award before applying the new one.
		p.Score -= prev.score
		if prev.correct {
			p.CorrectCount--
		}
		streakSeed = prev.streakSeed
	}
	slot[participantID] = &recordedAnswer{
		correct:     correct,
		score:       score,
		timeTakenMs: timeTakenMs,
		key:         key,
		streakSeed:  streakSeed,
	}
	p.Score += score
	if correct {
		p.CorrectCount++
	}
	p.Streak = domain.NextStreak(streakSeed, correct)
	if prev == nil || prev.score != score {
		p.LastScoredAt = s.now()
	}

	count := len(slot)
	s.publishLocked(domain.AnswerCountUpdate{
		QuestionIndex: s.index,
		Count:         count,
		Total:         len(s.participants),
	})
	return SubmitResult{
		Accepted:     true,
		Score:        score,
		TotalScore:   p.Score,
		RunningCount: count,
	}, nil
}

// PowerUp relays a cosmetic power-up event to the room.
func (s *Session) PowerUp(participantID, powerType string, questionIndex int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.participants[participantID]; !ok {
		return domain.ErrParticipantNotFound
	}
	s.publishLocked(domain.PowerUpUsed{ParticipantID: participantID, Type: powerType, QuestionIndex: questionIndex})
	return nil
}

// SyncTimer broadcasts the remaining countdown if a question is active.
// It returns the remaining seconds so the caller can apply expiry policy.
func (s *Session) SyncTimer() (remaining int, active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != domain.StateQuestionActive {
		return 0, false
	}
	remaining = s.remainingLocked()
	if remaining > 0 {
		s.publishLocked(domain.TimerSync{Remaining: remaining})
	}
	return remaining, true
}

func (s *Session) remainingLocked() int {
	ms := s.deadline.Sub(s.now()).Milliseconds()
	if ms <= 0 {
		return 0
	}
	return int(math.Ceil(float64(ms) / 1000))
}

// Leaderboard returns the ranked scoreboard; limit 0 means everyone.
func (s *Session) Leaderboard(limit int) domain.Leaderboard {
	s.mu.Lock()
	defer s.mu.Unlock()
	return domain.Leaderboard{
		SessionID: s.record.ID,
		Entries:   s.leaderboardLocked(limit),
		UpdatedAt: s.now(),
	}
}

// leaderboardLocked orders by score descending; ties break by which
// participant reached their total earlier, then by display name.
func (s *Session) leaderboardLocked(limit int) []domain.LeaderboardEntry {
	entries := make([]domain.LeaderboardEntry, 0, len(s.participants))
	for _, p := range s.participants {
		entries = append(entries, domain.LeaderboardEntry{
			ParticipantID: p.ID,
			DisplayName:   p.DisplayName,
			Score:         p.Score,
			Streak:        p.Streak,
			Multiplier:    domain.StreakMultiplier(p.Streak),
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Score != entries[j].Score {
			return entries[i].Score > entries[j].Score
		}
		pi := s.participants[entries[i].ParticipantID]
		pj := s.participants[entries[j].ParticipantID]
		if !pi.LastScoredAt.Equal(pj.LastScoredAt) {
			return pi.LastScoredAt.Before(pj.LastScoredAt)
		}
		return entries[i].DisplayName < entries[j].DisplayName
	})
	for i := range entries {
		entries[i].Rank = i + 1
		s.participants[entries[i].ParticipantID].LastRank = i + 1
	}
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries
}

func (s *Session) statsLocked(index int) domain.QuestionStats {
	stats := domain.QuestionStats{Distribution: make(map[string]int)}
	var totalTime int
	for _, a := range s.answers[index] {
		stats.TotalAnswers++
		if a.correct {
			stats.CorrectCount++
		}
		totalTime += a.timeTakenMs
		if a.key != "" {
			stats.Distribution[a.key]++
		}
	}
	if stats.TotalAnswers > 0 {
		stats.Accuracy = math.Round(float64(stats.CorrectCount)/float64(stats.TotalAnswers)*10000) / 100
		stats.AvgTimeMs = totalTime / stats.TotalAnswers
	}
	return stats
}

func (s *Session) analyticsLocked() domain.SessionAnalytics {
	analytics := domain.SessionAnalytics{TotalParticipants: len(s.participants)}
	if len(s.participants) == 0 {
		return analytics
	}

	scores := make([]int, 0, len(s.participants))
	completed := 0
	for id, p := range s.participants {
		scores = append(scores, p.Score)
		answered := 0
		for idx := range s.questions {
			if _, ok := s.answers[idx][id]; ok {
				answered++
			}
		}
		if answered == len(s.questions) {
			completed++
		}
	}
	sort.Ints(scores)

	var sum int
	for _, score := range scores {
		sum += score
	}
	analytics.AvgScore = float64(sum) / float64(len(scores))
	mid := len(scores) / 2
	if len(scores)%2 == 1 {
		analytics.MedianScore = float64(scores[mid])
	} else {
		analytics.MedianScore = float64(scores[mid-1]+scores[mid]) / 2
	}
	analytics.CompletionRate = math.Round(float64(completed)/float64(len(scores))*10000) / 100
	return analytics
}

func (s *Session) publishLocked(ev domain.Event) {
	for ch := range s.subscribers {
		select {
		case ch <- ev:
		default:
			// Slow consumer: drop its oldest pending event rather than
			// blocking the room (the protocol tolerates duplicates and
			// coalesced counts, not a stalled broadcast).
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- ev:
			default:
			}
		}
	}
}
