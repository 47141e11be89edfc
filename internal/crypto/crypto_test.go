package crypto

import (
	"testing"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPickupCode_RoundTrip(t *testing.T) {
	pc, err := NewPickupCode()
	require.NoError(t, err)

	raw, err := base58.Decode(pc.Code)
	require.NoError(t, err)
	assert.Len(t, raw, codeBytes)
	assert.Len(t, pc.Salt, saltLen)
	assert.Len(t, pc.Hash, hashLen)

	assert.True(t, VerifyCode(pc.Code, pc.Salt, pc.Hash))
	assert.True(t, VerifyCode("  "+pc.Code+"\n", pc.Salt, pc.Hash), "surrounding whitespace is ignored")
}

func TestPickupCode_Rejects(t *testing.T) {
	pc, err := NewPickupCode()
	require.NoError(t, err)
	other, err := NewPickupCode()
	require.NoError(t, err)

	assert.False(t, VerifyCode(other.Code, pc.Salt, pc.Hash), "wrong code")
	assert.False(t, VerifyCode(pc.Code, other.Salt, pc.Hash), "wrong salt")
	assert.False(t, VerifyCode("0OIl", pc.Salt, pc.Hash), "not base58")
	assert.False(t, VerifyCode(pc.Code, nil, pc.Hash))
	assert.False(t, VerifyCode(pc.Code, pc.Salt, nil))
}

func TestPickupCode_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for range 20 {
		pc, err := NewPickupCode()
		require.NoError(t, err)
		assert.False(t, seen[pc.Code])
		seen[pc.Code] = true
	}
}

func TestWebhookVerifier(t *testing.T) {
	body := []byte(`{"event":"charge.success","data":{"reference":"fund-1"}}`)
	v := WebhookVerifier{Secret: "funding-secret"}
	sig := v.Sign(body)

	assert.NoError(t, v.Verify(body, sig))
	assert.NoError(t, v.Verify(body, " "+sig+" "))
	assert.ErrorIs(t, v.Verify(append(body, ' '), sig), ErrBadSignature)
	assert.ErrorIs(t, v.Verify(body, "not-hex"), ErrBadSignature)
	assert.ErrorIs(t, WebhookVerifier{Secret: "other"}.Verify(body, sig), ErrBadSignature)
	assert.ErrorIs(t, WebhookVerifier{}.Verify(body, sig), ErrEmptySecret)
}
