package app

import "math/rand"

// joinCodeAlphabet omits 0/O/1/I so codes survive being read aloud.
const joinCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const joinCodeLength = 6

// maxJoinCodeAttempts bounds the collision-retry loop during bootstrap.
const maxJoinCodeAttempts = 10

func newJoinCode(rnd *rand.Rand) string {
	code := make([]byte, joinCodeLength)
	for i := range code {
		code[i] = joinCodeAlphabet[rnd.Intn(len(joinCodeAlphabet))]
	}
	return string(code)
}
