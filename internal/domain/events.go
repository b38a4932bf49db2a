package domain

// Event is one engine-to-room message. The set below is closed: the
// websocket layer marshals events as {type, payload} envelopes and clients
// must treat duplicate delivery of any event as a no-op.
type Event interface {
	EventType() string
}

// StateChange announces a lifecycle transition.
type StateChange struct {
	State                SessionState `json:"state"`
	CurrentQuestionIndex int          `json:"currentQuestionIndex"`
}

func (StateChange) EventType() string { return "SESSION_STATE_CHANGE" }

// QuestionStart carries the sanitized payload of the newly active question.
type QuestionStart struct {
	QuestionIndex int          `json:"questionIndex"`
	Question      QuestionView `json:"question"`
	TimeLimit     int          `json:"timeLimit"` // seconds
	StartedAt     int64        `json:"startedAt"` // epoch ms
}

func (QuestionStart) EventType() string { return "QUESTION_START" }

// QuestionLock announces that the current question no longer accepts answers.
type QuestionLock struct {
	QuestionIndex int `json:"questionIndex"`
}

func (QuestionLock) EventType() string { return "QUESTION_LOCK" }

// TimerSync pushes remaining countdown seconds to the room.
type TimerSync struct {
	Remaining int `json:"remaining"`
}

func (TimerSync) EventType() string { return "TIMER_SYNC" }

// ParticipantJoined reports a connection joining the room.
type ParticipantJoined struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Count int    `json:"count"` // connected participants
}

func (ParticipantJoined) EventType() string { return "PARTICIPANT_JOINED" }

// ParticipantLeft reports a connection leaving the room.
type ParticipantLeft struct {
	ID    string `json:"id"`
	Count int    `json:"count"`
}

func (ParticipantLeft) EventType() string { return "PARTICIPANT_LEFT" }

// AnswerCountUpdate reports how many participants answered the current question.
type AnswerCountUpdate struct {
	QuestionIndex int `json:"questionIndex"`
	Count         int `json:"count"`
	Total         int `json:"total"`
}

func (AnswerCountUpdate) EventType() string { return "ANSWER_COUNT_UPDATE" }

// QuestionResults reveals the answer key, per-question stats and the top of
// the leaderboard. Only emitted once the question has been locked.
type QuestionResults struct {
	QuestionIndex int                `json:"questionIndex"`
	CorrectAnswer string             `json:"correctAnswer"`
	Stats         QuestionStats      `json:"stats"`
	Leaderboard   []LeaderboardEntry `json:"leaderboard"`
}

func (QuestionResults) EventType() string { return "QUESTION_RESULTS" }

// SessionComplete carries the final leaderboard and session analytics.
type SessionComplete struct {
	FinalLeaderboard []LeaderboardEntry `json:"finalLeaderboard"`
	Analytics        SessionAnalytics   `json:"analytics"`
}

func (SessionComplete) EventType() string { return "SESSION_COMPLETE" }

// PowerUpUsed is broadcast-only; power-ups have no scoring effect.
type PowerUpUsed struct {
	ParticipantID string `json:"participantId"`
	Type          string `json:"type"`
	QuestionIndex int    `json:"questionIndex"`
}

func (PowerUpUsed) EventType() string { return "POWER_UP_USED" }

// ErrorEvent is sent to the originating connection only, never to the room.
type ErrorEvent struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

func (ErrorEvent) EventType() string { return "ERROR" }
