package codec

import (
	"encoding/base64"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gatepass/internal/domain"
	"gatepass/pkg/domerr"
)

var issuedAt = time.Date(2026, 4, 10, 9, 0, 0, 0, time.UTC)

func validPass() domain.Pass {
	return domain.Pass{
		ID:           "GP-1744275600-A1B2C3",
		HolderID:     "123456789012",
		GroupSize:    4,
		SlotStart:    issuedAt.Add(time.Hour),
		ExitDeadline: issuedAt.Add(25 * time.Hour),
		Status:       domain.PassActive,
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	c := New(DefaultMaxTokenAge)
	pass := validPass()

	token, err := c.Encode(pass, issuedAt)
	require.NoError(t, err)

	payload, err := c.Decode(token, issuedAt.Add(time.Minute))
	require.NoError(t, err)

	assert.Equal(t, pass.ID, payload.PassID)
	assert.Equal(t, pass.GroupSize, payload.GroupSize)
	assert.Equal(t, HashHolder(pass.HolderID), payload.HolderHash)
	assert.Equal(t, issuedAt.UnixMilli(), payload.IssuedAt)
	assert.True(t, pass.ExitDeadline.Equal(payload.ExitDeadline))
}

func TestEncodeNeverEmbedsRawHolderID(t *testing.T) {
	c := New(DefaultMaxTokenAge)
	pass := validPass()

	token, err := c.Encode(pass, issuedAt)
	require.NoError(t, err)

	raw, err := base64.RawURLEncoding.DecodeString(token)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), pass.HolderID)
}

func TestDecodeTamperedFieldFailsChecksum(t *testing.T) {
	c := New(DefaultMaxTokenAge)

	tamper := map[string]func(p *Payload){
		"pass_id":     func(p *Payload) { p.PassID = "GP-1744275600-ZZZZZZ" },
		"group_size":  func(p *Payload) { p.GroupSize = 9 },
		"holder_hash": func(p *Payload) { p.HolderHash = "deadbeefdeadbeef" },
	}

	for field, mutate := range tamper {
		t.Run(field, func(t *testing.T) {
			token, err := c.Encode(validPass(), issuedAt)
			require.NoError(t, err)

			raw, err := base64.RawURLEncoding.DecodeString(token)
			require.NoError(t, err)
			var payload Payload
			require.NoError(t, json.Unmarshal(raw, &payload))

			mutate(&payload)
			forged, err := json.Marshal(payload)
			require.NoError(t, err)

			_, err = c.Decode(base64.RawURLEncoding.EncodeToString(forged), issuedAt.Add(time.Minute))
			require.Error(t, err)
			assert.True(t, domerr.HasCode(err, domerr.CodeChecksumMismatch))
		})
	}
}

func TestDecodeStaleness(t *testing.T) {
	c := New(DefaultMaxTokenAge)
	token, err := c.Encode(validPass(), issuedAt)
	require.NoError(t, err)

	t.Run("exactly at the boundary is still valid", func(t *testing.T) {
		_, err := c.Decode(token, issuedAt.Add(DefaultMaxTokenAge))
		assert.NoError(t, err)
	})

	t.Run("past the boundary fails stale", func(t *testing.T) {
		_, err := c.Decode(token, issuedAt.Add(DefaultMaxTokenAge+time.Millisecond))
		require.Error(t, err)
		assert.True(t, domerr.HasCode(err, domerr.CodeTokenStale))
	})
}

func TestDecodeMalformedTokens(t *testing.T) {
	c := New(DefaultMaxTokenAge)
	now := issuedAt

	cases := map[string]string{
		"not base64":     "%%%not-base64%%%",
		"not json":       base64.RawURLEncoding.EncodeToString([]byte("not-json")),
		"empty object":   base64.RawURLEncoding.EncodeToString([]byte(`{}`)),
		"missing fields": base64.RawURLEncoding.EncodeToString([]byte(`{"pass_id":"GP-1-AAAAAA"}`)),
	}

	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := c.Decode(token, now)
			require.Error(t, err)
			assert.True(t, domerr.HasCode(err, domerr.CodeMalformedToken))
		})
	}
}

func TestHashHolderIsStableAndShort(t *testing.T) {
	h1 := HashHolder("123456789012")
	h2 := HashHolder("123456789012")
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 16)
	assert.NotEqual(t, h1, HashHolder("210987654321"))
}
