package app

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"quizlive-service/internal/domain"
)

func TestGradeChoiceQuestion(t *testing.T) {
	q := testQuestions()[0]

	correct, key := grade(q, choiceAnswer("o2"))
	require.True(t, correct)
	require.Equal(t, "o2", key)

	correct, key = grade(q, choiceAnswer("o1"))
	require.False(t, correct)
	require.Equal(t, "o1", key)

	// Unknown options are wrong but still counted in the distribution.
	correct, key = grade(q, choiceAnswer("o9"))
	require.False(t, correct)
	require.Equal(t, "o9", key)

	correct, key = grade(q, []byte(`{}`))
	require.False(t, correct)
	require.Empty(t, key)

	correct, key = grade(q, []byte(`not json`))
	require.False(t, correct)
	require.Empty(t, key)
}

func TestGradeFreeTextQuestion(t *testing.T) {
	q := domain.Question{ID: "q", Type: "free_text", CorrectAnswer: "Paris"}

	for _, value := range []string{"Paris", "paris", "  PARIS  "} {
		correct, key := grade(q, []byte(`{"value":"`+value+`"}`))
		require.True(t, correct, value)
		require.Equal(t, "paris", key)
	}

	correct, _ := grade(q, []byte(`{"value":"London"}`))
	require.False(t, correct)

	correct, key := grade(q, []byte(`{"value":"   "}`))
	require.False(t, correct)
	require.Empty(t, key)
}

func TestCorrectAnswerKey(t *testing.T) {
	require.Equal(t, "o2", correctAnswerKey(testQuestions()[0]))
	require.Equal(t, "2", correctAnswerKey(testQuestions()[1]))
}

func TestJoinCodeShape(t *testing.T) {
	seen := make(map[string]struct{})
	rnd := rand.New(rand.NewSource(1))
	for i := 0; i < 100; i++ {
		code := newJoinCode(rnd)
		require.Len(t, code, joinCodeLength)
		for _, r := range code {
			require.Contains(t, joinCodeAlphabet, string(r))
			require.NotContains(t, "01OI", string(r))
		}
		seen[code] = struct{}{}
	}
	require.Greater(t, len(seen), 90, "codes should rarely collide")
}
