package envelope

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignVerifyRoundTrip(t *testing.T) {
	key := []byte("session-key-material")

	m, err := Create(Payload{"hello": "world"}, TypeData, StatusOK)
	require.NoError(t, err)

	Sign(m, key)
	assert.True(t, Verify(m, key), "freshly signed message must verify")

	t.Run("mutated id fails", func(t *testing.T) {
		mutated := *m
		mutated.ID = mutated.ID + "x"
		assert.False(t, Verify(&mutated, key))
	})

	t.Run("mutated now fails", func(t *testing.T) {
		mutated := *m
		mutated.Now = mutated.Now + 1
		assert.False(t, Verify(&mutated, key))
	})

	t.Run("mutated payload fails", func(t *testing.T) {
		mutated := *m
		mutated.Payload = mutated.Payload + "AA"
		assert.False(t, Verify(&mutated, key))
	})

	t.Run("wrong key fails", func(t *testing.T) {
		assert.False(t, Verify(m, []byte("wrong-key")))
	})
}

func TestVerifyFailsClosedOnEmptyKey(t *testing.T) {
	m, err := Create(Payload{}, TypeData, StatusOK)
	require.NoError(t, err)
	Sign(m, []byte("k"))
	assert.False(t, Verify(m, nil))
	assert.False(t, Verify(m, []byte{}))
}

func TestVerifyFailsClosedOnMalformedSignature(t *testing.T) {
	m, err := Create(Payload{}, TypeData, StatusOK)
	require.NoError(t, err)
	m.Signature = "not-valid-base64!!"
	assert.False(t, Verify(m, []byte("k")))
}

func TestParseRoundTrip(t *testing.T) {
	p := Payload{"a": "b", "n": float64(3), "ok": true}
	m, err := Create(p, TypeData, StatusOK)
	require.NoError(t, err)

	got := Parse(m)
	assert.Equal(t, p, got)
}

func TestParseFallsBackToEmptyPayloadOnFailure(t *testing.T) {
	m := &Message{Payload: "not-base64!!"}
	got := Parse(m)
	assert.Equal(t, Payload{}, got)

	m2 := &Message{Payload: "aGVsbG8="} // base64("hello"), not JSON
	got2 := Parse(m2)
	assert.Equal(t, Payload{}, got2)
}

func TestCreateAssignsFreshUUIDAndTimestamp(t *testing.T) {
	a, err := Create(Payload{}, TypeAuth, StatusOK)
	require.NoError(t, err)
	b, err := Create(Payload{}, TypeAuth, StatusOK)
	require.NoError(t, err)

	assert.NotEqual(t, a.ID, b.ID)
	assert.Empty(t, a.Signature)
	assert.Greater(t, a.Now, int64(0))
}
