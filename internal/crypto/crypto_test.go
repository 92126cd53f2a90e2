package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	blob, err := EncryptSecret("super-secret-api-key", "hunter2")
	require.NoError(t, err)

	got, err := DecryptSecret(blob, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, "super-secret-api-key", got)
}

func TestDecryptWrongPassword(t *testing.T) {
	blob, err := EncryptSecret("super-secret-api-key", "hunter2")
	require.NoError(t, err)

	_, err = DecryptSecret(blob, "wrong")
	assert.Error(t, err)
}

func TestEncryptRequiresInputs(t *testing.T) {
	_, err := EncryptSecret("", "hunter2")
	assert.Error(t, err)

	_, err = EncryptSecret("secret", "")
	assert.Error(t, err)
}

func TestHMACHeadersDeterministic(t *testing.T) {
	auth := &HMACAuth{Key: "key-1", Secret: "secret-1"}

	h1 := auth.HeadersAt("POST", "/api/v1/order", `{"symbol":"BTCUSD"}`, 1700000000)
	h2 := auth.HeadersAt("POST", "/api/v1/order", `{"symbol":"BTCUSD"}`, 1700000000)

	assert.Equal(t, h1["X-API-SIGNATURE"], h2["X-API-SIGNATURE"])
	assert.Equal(t, "key-1", h1["X-API-KEY"])
	assert.Equal(t, "1700000000", h1["X-API-TIMESTAMP"])

	// Any change to the signed message changes the signature.
	h3 := auth.HeadersAt("POST", "/api/v1/order", `{"symbol":"ETHUSD"}`, 1700000000)
	assert.NotEqual(t, h1["X-API-SIGNATURE"], h3["X-API-SIGNATURE"])
}

func TestHMACStringRedacts(t *testing.T) {
	auth := &HMACAuth{Key: "key-123456", Secret: "secret-abcdef"}
	s := auth.String()
	assert.NotContains(t, s, "123456")
	assert.NotContains(t, s, "abcdef")
}
