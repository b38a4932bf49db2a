package domain

import (
	"encoding/json"
	"time"
)

// SessionState is the lifecycle phase of a live session.
type SessionState string

const (
	StateWaiting        SessionState = "WAITING"
	StateQuestionActive SessionState = "QUESTION_ACTIVE"
	StateLocked         SessionState = "LOCKED"
	StateResults        SessionState = "RESULTS"
	StateCompleted      SessionState = "COMPLETED"
)

// Terminal reports whether the state admits no further transitions.
func (s SessionState) Terminal() bool {
	return s == StateCompleted
}

// NoQuestionIndex is the current-question sentinel outside the question loop.
const NoQuestionIndex = -1

// QuizStatus gates which quizzes can be materialized into sessions.
type QuizStatus string

const (
	QuizDraft     QuizStatus = "DRAFT"
	QuizPublished QuizStatus = "PUBLISHED"
)

// Option represents a selectable answer for a choice question.
type Option struct {
	ID      string `json:"id"`
	Text    string `json:"text"`
	Correct bool   `json:"correct"`
}

// Question models one quiz question. Choice questions carry Options with
// exactly one Correct flag; free-form questions carry CorrectAnswer instead.
type Question struct {
	ID            string   `json:"id"`
	Type          string   `json:"type"`
	Prompt        string   `json:"prompt"`
	Options       []Option `json:"options,omitempty"`
	CorrectAnswer string   `json:"correctAnswer,omitempty"`
	Points        int      `json:"points"`    // defaults to 10 if zero
	TimeLimit     int      `json:"timeLimit"` // seconds, defaults to 30 if zero
}

const (
	DefaultPoints    = 10
	DefaultTimeLimit = 30
)

// BasePoints returns the question's points with the default applied.
func (q Question) BasePoints() int {
	if q.Points > 0 {
		return q.Points
	}
	return DefaultPoints
}

// TimeLimitSeconds returns the question's time limit with the default applied.
func (q Question) TimeLimitSeconds() int {
	if q.TimeLimit > 0 {
		return q.TimeLimit
	}
	return DefaultTimeLimit
}

// OptionView is an option with the correctness marker stripped.
type OptionView struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// QuestionView is the participant-facing question payload. It must never
// reveal which option is correct while the question is live.
type QuestionView struct {
	ID        string       `json:"id"`
	Type      string       `json:"type"`
	Prompt    string       `json:"prompt"`
	Options   []OptionView `json:"options,omitempty"`
	Points    int          `json:"points"`
	TimeLimit int          `json:"timeLimit"`
}

// View strips the answer key from a question for broadcast.
func (q Question) View() QuestionView {
	view := QuestionView{
		ID:        q.ID,
		Type:      q.Type,
		Prompt:    q.Prompt,
		Points:    q.BasePoints(),
		TimeLimit: q.TimeLimitSeconds(),
	}
	for _, opt := range q.Options {
		view.Options = append(view.Options, OptionView{ID: opt.ID, Text: opt.Text})
	}
	return view
}

// Quiz is ordered quiz content as loaded from the persistence collaborator.
type Quiz struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Status    QuizStatus `json:"status"`
	Questions []Question `json:"questions"`
}

// SessionRecord is the durable projection of one session.
type SessionRecord struct {
	ID            string       `json:"id"`
	QuizID        string       `json:"quizId"`
	JoinCode      string       `json:"joinCode"`
	QuestionIDs   []string     `json:"questionIds"` // order snapshot fixed at creation
	State         SessionState `json:"state"`
	AllowLateJoin bool         `json:"allowLateJoin"`
	GuestMode     bool         `json:"guestMode"`
	CreatedAt     time.Time    `json:"createdAt"`
	StartedAt     *time.Time   `json:"startedAt,omitempty"`
	EndedAt       *time.Time   `json:"endedAt,omitempty"`
}

// Participant is one joined player, identified or guest.
type Participant struct {
	ID           string    `json:"id"`
	SessionID    string    `json:"sessionId"`
	UserID       string    `json:"userId,omitempty"`     // empty for guests
	GuestToken   string    `json:"guestToken,omitempty"` // reconnect handle for guests
	DisplayName  string    `json:"displayName"`
	Connected    bool      `json:"connected"`
	Score        int       `json:"score"`
	CorrectCount int       `json:"correctCount"`
	Streak       int       `json:"streak"`
	LastRank     int       `json:"lastRank"`
	JoinedAt     time.Time `json:"joinedAt"`
	LastScoredAt time.Time `json:"-"` // when the current total was reached; leaderboard tie-break
}

// Guest reports whether the participant has no durable identity.
func (p Participant) Guest() bool {
	return p.UserID == ""
}

// AnswerRecord is one participant's stored response to one question.
type AnswerRecord struct {
	ID            string          `json:"id"`
	SessionID     string          `json:"sessionId"`
	ParticipantID string          `json:"participantId"`
	QuestionID    string          `json:"questionId"`
	Payload       json.RawMessage `json:"payload"`
	TimeTakenMs   int             `json:"timeTakenMs"`
	Correct       bool            `json:"correct"`
	Score         int             `json:"score"`
	SubmittedAt   time.Time       `json:"submittedAt"`
}

// LeaderboardEntry is the ranked view of one participant.
type LeaderboardEntry struct {
	ParticipantID string  `json:"participantId"`
	DisplayName   string  `json:"name"`
	Score         int     `json:"score"`
	Rank          int     `json:"rank"`
	Streak        int     `json:"streak"`
	Multiplier    float64 `json:"multiplier"`
}

// Leaderboard is the ordered scoreboard for one session.
type Leaderboard struct {
	SessionID string             `json:"sessionId"`
	Entries   []LeaderboardEntry `json:"entries"`
	UpdatedAt time.Time          `json:"updatedAt"`
}

// QuestionStats aggregates answers to one question.
type QuestionStats struct {
	TotalAnswers int            `json:"totalAnswers"`
	CorrectCount int            `json:"correctCount"`
	Accuracy     float64        `json:"accuracy"` // percent
	AvgTimeMs    int            `json:"avgTimeMs"`
	Distribution map[string]int `json:"distribution"` // answer key -> count
}

// SessionAnalytics summarizes a completed session.
type SessionAnalytics struct {
	TotalParticipants int     `json:"totalParticipants"`
	AvgScore          float64 `json:"avgScore"`
	MedianScore       float64 `json:"medianScore"`
	CompletionRate    float64 `json:"completionRate"` // percent of participants who answered every question
}

// ParticipantScore is one final-leaderboard row handed to persistence at END.
type ParticipantScore struct {
	ParticipantID string `json:"participantId"`
	Score         int    `json:"score"`
	CorrectCount  int    `json:"correctCount"`
	Streak        int    `json:"streak"`
	Rank          int    `json:"rank"`
}

// Caller is the resolved identity attached to a request. The engine trusts it.
type Caller struct {
	ID   string
	Role Role
}

// Role is the coarse authorization level for realtime commands.
type Role string

const (
	RoleController  Role = "CONTROLLER"
	RoleParticipant Role = "PARTICIPANT"
)
