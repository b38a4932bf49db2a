package app

import (
	"encoding/json"
	"strings"

	"quizlive-service/internal/domain"
)

// answerPayload is the client answer shape the engine understands. Choice
// questions submit an option id; free-form questions submit a value. The
// raw payload is stored opaquely either way.
type answerPayload struct {
	OptionID string `json:"optionId,omitempty"`
	Value    string `json:"value,omitempty"`
}

// grade compares a submission against the question's answer key and returns
// correctness plus the distribution key for per-question stats.
func grade(q domain.Question, payload []byte) (correct bool, key string) {
	var answer answerPayload
	if err := json.Unmarshal(payload, &answer); err != nil {
		return false, ""
	}

	if len(q.Options) > 0 {
		if answer.OptionID == "" {
			return false, ""
		}
		for _, opt := range q.Options {
			if opt.ID == answer.OptionID {
				return opt.Correct, opt.ID
			}
		}
		return false, answer.OptionID
	}

	value := strings.TrimSpace(answer.Value)
	if value == "" {
		return false, ""
	}
	key = strings.ToLower(value)
	return strings.EqualFold(value, strings.TrimSpace(q.CorrectAnswer)), key
}

// correctAnswerKey is what QUESTION_RESULTS reveals once the question is
// locked: the correct option id, or the expected value for free-form types.
func correctAnswerKey(q domain.Question) string {
	for _, opt := range q.Options {
		if opt.Correct {
			return opt.ID
		}
	}
	return q.CorrectAnswer
}
