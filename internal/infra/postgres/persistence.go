package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v4/pgxpool"

	"quizlive-service/internal/domain"
)

// Persistence is the Postgres implementation of the durable-storage
// collaborator: session rows with the question-order snapshot, participant
// records and answers keyed by (participant, question).
type Persistence struct {
	pool *pgxpool.Pool
}

func NewPersistence(pool *pgxpool.Pool) *Persistence {
	return &Persistence{pool: pool}
}

func (p *Persistence) CreateSession(ctx context.Context, record domain.SessionRecord) error {
	questionIDs, err := json.Marshal(record.QuestionIDs)
	if err != nil {
		return fmt.Errorf("marshal question snapshot: %w", err)
	}
	_, err = p.pool.Exec(ctx, `
		INSERT INTO sessions (id, quiz_id, join_code, question_ids, state, allow_late_join, guest_mode, created_at)
		VALUES ($1, $2, $3, $4::jsonb, $5, $6, $7, $8)`,
		record.ID, record.QuizID, record.JoinCode, string(questionIDs),
		string(record.State), record.AllowLateJoin, record.GuestMode, record.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (p *Persistence) UpsertParticipant(ctx context.Context, participant domain.Participant) error {
	var userID, guestToken *string
	if participant.UserID != "" {
		userID = &participant.UserID
	}
	if participant.GuestToken != "" {
		guestToken = &participant.GuestToken
	}
	_, err := p.pool.Exec(ctx, `
		INSERT INTO participants (id, session_id, user_id, guest_token, display_name, connected, joined_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE
		SET display_name = EXCLUDED.display_name, connected = EXCLUDED.connected`,
		participant.ID, participant.SessionID, userID, guestToken,
		participant.DisplayName, participant.Connected, participant.JoinedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert participant: %w", err)
	}
	return nil
}

func (p *Persistence) UpsertAnswer(ctx context.Context, answer domain.AnswerRecord) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO answers (id, session_id, participant_id, question_id, payload, time_taken_ms, correct, score, submitted_at)
		VALUES ($1, $2, $3, $4, $5::jsonb, $6, $7, $8, $9)
		ON CONFLICT (participant_id, question_id) DO UPDATE
		SET payload = EXCLUDED.payload,
		    time_taken_ms = EXCLUDED.time_taken_ms,
		    correct = EXCLUDED.correct,
		    score = EXCLUDED.score,
		    submitted_at = EXCLUDED.submitted_at`,
		answer.ID, answer.SessionID, answer.ParticipantID, answer.QuestionID,
		string(answer.Payload), answer.TimeTakenMs, answer.Correct, answer.Score, answer.SubmittedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert answer: %w", err)
	}
	return nil
}

// FinalizeSession writes the terminal session row and the final score per
// participant. It must succeed before ephemeral cleanup is scheduled.
func (p *Persistence) FinalizeSession(ctx context.Context, record domain.SessionRecord, scores []domain.ParticipantScore) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin finalize: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		UPDATE sessions SET state = $2, started_at = $3, ended_at = $4 WHERE id = $1`,
		record.ID, string(record.State), record.StartedAt, record.EndedAt,
	)
	if err != nil {
		return fmt.Errorf("finalize session row: %w", err)
	}
	for _, score := range scores {
		_, err = tx.Exec(ctx, `
			UPDATE participants
			SET score = $2, correct_count = $3, streak = $4, rank = $5
			WHERE id = $1`,
			score.ParticipantID, score.Score, score.CorrectCount, score.Streak, score.Rank,
		)
		if err != nil {
			return fmt.Errorf("finalize participant %s: %w", score.ParticipantID, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit finalize: %w", err)
	}
	return nil
}
