package memory

import (
	"context"
	"sync"

	"quizlive-service/internal/domain"
)

// Persistence is an in-memory durable-store stand-in for demo mode and
// tests. Answers are keyed by (participant, question) so a resubmission
// overwrites instead of duplicating, matching the real store's upsert.
type Persistence struct {
	mu           sync.RWMutex
	sessions     map[string]domain.SessionRecord
	participants map[string]domain.Participant
	answers      map[string]domain.AnswerRecord // participantID+"/"+questionID
	finalScores  map[string][]domain.ParticipantScore
}

func NewPersistence() *Persistence {
	return &Persistence{
		sessions:     make(map[string]domain.SessionRecord),
		participants: make(map[string]domain.Participant),
		answers:      make(map[string]domain.AnswerRecord),
		finalScores:  make(map[string][]domain.ParticipantScore),
	}
}

func (p *Persistence) CreateSession(_ context.Context, record domain.SessionRecord) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sessions[record.ID] = record
	return nil
}

func (p *Persistence) UpsertParticipant(_ context.Context, participant domain.Participant) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.participants[participant.ID] = participant
	return nil
}

func (p *Persistence) UpsertAnswer(_ context.Context, answer domain.AnswerRecord) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	key := answer.ParticipantID + "/" + answer.QuestionID
	if existing, ok := p.answers[key]; ok {
		answer.ID = existing.ID
	}
	p.answers[key] = answer
	return nil
}

func (p *Persistence) FinalizeSession(_ context.Context, record domain.SessionRecord, scores []domain.ParticipantScore) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sessions[record.ID] = record
	p.finalScores[record.ID] = scores
	return nil
}

// Answer returns the stored answer for a (participant, question) pair.
func (p *Persistence) Answer(participantID, questionID string) (domain.AnswerRecord, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	answer, ok := p.answers[participantID+"/"+questionID]
	return answer, ok
}

// FinalScores returns the scores handed off when the session ended.
func (p *Persistence) FinalScores(sessionID string) []domain.ParticipantScore {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.finalScores[sessionID]
}

// SessionRecord returns the stored durable projection of a session.
func (p *Persistence) SessionRecord(sessionID string) (domain.SessionRecord, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	record, ok := p.sessions[sessionID]
	return record, ok
}
