package domain

import "errors"

var (
	// ErrSessionNotFound is returned when no live or durable session matches.
	ErrSessionNotFound = errors.New("session not found")
	// ErrQuizNotFound indicates the quiz content could not be loaded.
	ErrQuizNotFound = errors.New("quiz not found")
	// ErrQuestionNotFound indicates a submitted question ID is not the session's current question.
	ErrQuestionNotFound = errors.New("question not found")
	// ErrParticipantNotFound is returned when a participant acts before joining.
	ErrParticipantNotFound = errors.New("participant not found in session")

	// ErrInvalidState rejects a command that is illegal for the current lifecycle state.
	ErrInvalidState = errors.New("command not allowed in current session state")
	// ErrQuizNotPublished rejects session creation from an unpublished or empty quiz.
	ErrQuizNotPublished = errors.New("quiz is not published or has no questions")

	// ErrGuestModeDisabled rejects guest joins when the session requires identities.
	ErrGuestModeDisabled = errors.New("guest mode is not enabled for this session")
	// ErrLateJoinDisabled rejects joins after start when late join is off.
	ErrLateJoinDisabled = errors.New("late join is not allowed for this session")
	// ErrGuestNameRequired rejects guest joins without a display name.
	ErrGuestNameRequired = errors.New("guest name is required")
	// ErrNotController rejects lifecycle commands from non-controller callers.
	ErrNotController = errors.New("caller is not the session controller")

	// ErrJoinCodeExhausted signals the join-code retry bound was hit.
	ErrJoinCodeExhausted = errors.New("could not generate a unique join code")

	// ErrStoreUnavailable wraps ephemeral-store or persistence outages.
	ErrStoreUnavailable = errors.New("backing store unavailable")
)

// ErrorCode maps an error to the wire-level code carried by ERROR events.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrSessionNotFound),
		errors.Is(err, ErrQuizNotFound),
		errors.Is(err, ErrQuestionNotFound),
		errors.Is(err, ErrParticipantNotFound):
		return "NOT_FOUND"
	case errors.Is(err, ErrInvalidState), errors.Is(err, ErrQuizNotPublished):
		return "INVALID_STATE"
	case errors.Is(err, ErrGuestModeDisabled),
		errors.Is(err, ErrLateJoinDisabled),
		errors.Is(err, ErrGuestNameRequired),
		errors.Is(err, ErrNotController):
		return "UNAUTHORIZED"
	case errors.Is(err, ErrJoinCodeExhausted):
		return "CONFLICT"
	case errors.Is(err, ErrStoreUnavailable):
		return "UNAVAILABLE"
	default:
		return "INTERNAL"
	}
}
