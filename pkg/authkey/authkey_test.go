package authkey

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeriveIsDeterministicPerUUID(t *testing.T) {
	a := Derive("11111111-1111-1111-1111-111111111111")
	b := Derive("11111111-1111-1111-1111-111111111111")
	c := Derive("22222222-2222-2222-2222-222222222222")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestChallengeMatchesBetweenServerAndClient(t *testing.T) {
	serverSide := Challenge("hunter2", "session-uuid")
	clientSide := Challenge("hunter2", "session-uuid")
	assert.Equal(t, serverSide, clientSide)
}

func TestChallengeDiffersOnWrongPassword(t *testing.T) {
	good := Challenge("hunter2", "session-uuid")
	bad := Challenge("wrong", "session-uuid")
	assert.NotEqual(t, good, bad)
}
