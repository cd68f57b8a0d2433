package vault

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hivewager/custodian/internal/domain"
)

func newTestVault(t *testing.T) *Vault {
	t.Helper()
	v, err := New("test-master-secret")
	require.NoError(t, err)
	return v
}

func TestNewRequiresMasterSecret(t *testing.T) {
	_, err := New("")
	require.Error(t, err)
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	v := newTestVault(t)

	cases := []string{
		"",
		"5JabcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTU",
		"ünïcödé 🔑 キー",
		strings.Repeat("x", 64*1024),
	}

	for _, plaintext := range cases {
		ct, err := v.Encrypt([]byte(plaintext))
		require.NoError(t, err)

		got, err := v.Decrypt(ct)
		require.NoError(t, err)
		assert.Equal(t, plaintext, string(got))
	}
}

func TestEncryptIsNonDeterministic(t *testing.T) {
	v := newTestVault(t)

	a, err := v.Encrypt([]byte("same plaintext"))
	require.NoError(t, err)
	b, err := v.Encrypt([]byte("same plaintext"))
	require.NoError(t, err)

	assert.NotEqual(t, a.Data, b.Data)
	assert.NotEqual(t, a.IV, b.IV)
	assert.NotEqual(t, a.Salt, b.Salt)
}

func TestDecryptWrongSecretFails(t *testing.T) {
	v := newTestVault(t)
	ct, err := v.Encrypt([]byte("secret key"))
	require.NoError(t, err)

	other, err := New("a-different-master-secret")
	require.NoError(t, err)

	_, err = other.Decrypt(ct)
	require.ErrorIs(t, err, domain.ErrDecryptionFailed)
}

func TestDecryptTamperedCiphertextFails(t *testing.T) {
	v := newTestVault(t)
	ct, err := v.Encrypt([]byte("secret key"))
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(ct.Data)
	require.NoError(t, err)
	raw[0] ^= 0x01
	ct.Data = base64.StdEncoding.EncodeToString(raw)

	_, err = v.Decrypt(ct)
	require.ErrorIs(t, err, domain.ErrDecryptionFailed)
}

func TestDecryptTruncatedCiphertextFails(t *testing.T) {
	v := newTestVault(t)
	ct, err := v.Encrypt([]byte("secret key"))
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(ct.Data)
	require.NoError(t, err)
	ct.Data = base64.StdEncoding.EncodeToString(raw[:4])

	_, err = v.Decrypt(ct)
	require.ErrorIs(t, err, domain.ErrDecryptionFailed)
}

func TestDecryptMismatchedSaltFails(t *testing.T) {
	v := newTestVault(t)
	ct, err := v.Encrypt([]byte("secret key"))
	require.NoError(t, err)

	other, err := v.Encrypt([]byte("unrelated"))
	require.NoError(t, err)
	ct.Salt = other.Salt

	_, err = v.Decrypt(ct)
	require.ErrorIs(t, err, domain.ErrDecryptionFailed)
}

func TestLegacyFixedSaltFallback(t *testing.T) {
	v := newTestVault(t)

	// Simulate a pre-migration record: encrypted under the legacy salt,
	// stored with an empty salt column.
	gcm, err := v.aead([]byte(legacySalt))
	require.NoError(t, err)

	iv := make([]byte, gcm.NonceSize())
	sealed := gcm.Seal(nil, iv, []byte("legacy posting key"), nil)

	got, err := v.Decrypt(Ciphertext{
		Data: base64.StdEncoding.EncodeToString(sealed),
		IV:   base64.StdEncoding.EncodeToString(iv),
		Salt: "",
	})
	require.NoError(t, err)
	assert.Equal(t, "legacy posting key", string(got))
}

func TestZero(t *testing.T) {
	b := []byte("sensitive")
	Zero(b)
	for _, c := range b {
		assert.Zero(t, c)
	}
}
