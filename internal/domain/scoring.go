package domain

import "math"

// Score computes the awarded points for one answer. Incorrect answers score
// zero. Correct answers earn the base points plus a speed bonus of up to 50%
// that decays linearly to zero at the time limit; answering at or past the
// limit still earns the base points.
func Score(basePoints, timeTakenMs, timeLimitMs int, correct bool) int {
	if !correct {
		return 0
	}
	if timeLimitMs <= 0 {
		return basePoints
	}
	ratio := 1 - float64(timeTakenMs)/float64(timeLimitMs)
	if ratio < 0 {
		ratio = 0
	}
	bonus := int(math.Round(float64(basePoints) * 0.5 * ratio))
	return basePoints + bonus
}

// NextStreak advances a participant's streak: correct answers extend it,
// any incorrect answer resets it to zero.
func NextStreak(streak int, correct bool) int {
	if !correct {
		return 0
	}
	return streak + 1
}

// StreakMultiplier is the display multiplier for a streak. Informational
// only; it is never folded into the persisted score.
func StreakMultiplier(streak int) float64 {
	switch {
	case streak >= 5:
		return 1.5
	case streak >= 3:
		return 1.25
	case streak >= 2:
		return 1.1
	default:
		return 1
	}
}
