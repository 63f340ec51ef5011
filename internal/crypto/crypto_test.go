package crypto

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeadersAt(t *testing.T) {
	h := &HMACAuth{Key: "key", Secret: "secret"}
	got := h.HeadersAt("category=linear&settleCoin=USDT", 1700000000000)

	assert.Equal(t, "key", got["X-BAPI-API-KEY"])
	assert.Equal(t, "1700000000000", got["X-BAPI-TIMESTAMP"])
	assert.Equal(t, "5000", got["X-BAPI-RECV-WINDOW"])
	assert.Equal(t, "754967d630c408c4e004a8c3816ef68278d5af62f4c2f24e50bb593cc27cf528", got["X-BAPI-SIGN"])
}

func TestHeadersAt_CustomRecvWindow(t *testing.T) {
	h := &HMACAuth{Key: "key", Secret: "secret", RecvWindow: 10000}
	a := h.HeadersAt("x=1", 1)
	assert.Equal(t, "10000", a["X-BAPI-RECV-WINDOW"])
	assert.NotEqual(t, a["X-BAPI-SIGN"], h.HeadersAt("x=2", 1)["X-BAPI-SIGN"])
}

func TestHMACAuth_StringRedacts(t *testing.T) {
	h := &HMACAuth{Key: "abcdefgh", Secret: "supersecret"}
	s := h.String()
	assert.NotContains(t, s, "supersecret")
	assert.Contains(t, s, "abcd****")
}

func TestEncryptDecryptSecret(t *testing.T) {
	blob, err := EncryptSecret("my-api-secret", "hunter2")
	require.NoError(t, err)

	got, err := DecryptSecret(blob, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, "my-api-secret", got)

	_, err = DecryptSecret(blob, "wrong")
	assert.ErrorIs(t, err, ErrWrongPassword)

	var sealed map[string]any
	require.NoError(t, json.Unmarshal(blob, &sealed))
	assert.Equal(t, "pbkdf2-sha256", sealed["kdf"])
	assert.NotContains(t, string(blob), "my-api-secret")

	_, err = EncryptSecret("x", "")
	assert.Error(t, err)
}

func TestLoadSecret(t *testing.T) {
	got, err := LoadSecret(SecretConfig{RawSecret: " raw \n"})
	require.NoError(t, err)
	assert.Equal(t, "raw", got)

	blob, err := EncryptSecret("from-file", "pw")
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "secret.json")
	require.NoError(t, os.WriteFile(path, blob, 0o600))

	got, err = LoadSecret(SecretConfig{EncryptedSecretPath: path, Password: "pw"})
	require.NoError(t, err)
	assert.Equal(t, "from-file", got)

	_, err = LoadSecret(SecretConfig{})
	assert.ErrorIs(t, err, ErrNoSecretSource)
}

func TestLoadSecret_RejectsOpenPermissions(t *testing.T) {
	blob, err := EncryptSecret("from-file", "pw")
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "secret.json")
	require.NoError(t, os.WriteFile(path, blob, 0o600))
	require.NoError(t, os.Chmod(path, 0o644))

	_, err = LoadSecret(SecretConfig{EncryptedSecretPath: path, Password: "pw"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "want 0600")
}
