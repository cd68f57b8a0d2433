// Package vault encrypts and decrypts custodial private keys at rest using
// PBKDF2-HMAC-SHA256 key derivation and AES-256-GCM authenticated
// encryption. Plaintext keys are never persisted; callers must discard them
// as soon as the signing operation completes.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/pbkdf2"

	"github.com/hivewager/custodian/internal/domain"
)

const (
	// pbkdf2Iterations is the OWASP-recommended minimum for HMAC-SHA256.
	pbkdf2Iterations = 480_000
	// saltLen is the random per-record salt length in bytes.
	saltLen = 16
	// aesKeyLen is the derived AES-256 key length.
	aesKeyLen = 32

	// legacySalt is the fixed salt used by records created before
	// per-record salts were introduced. Decrypt falls back to it when the
	// stored salt is empty. Compatibility shim only; Encrypt always
	// generates a fresh random salt.
	legacySalt = "custodian-static-salt-v0"
)

// Ciphertext is the result of one Encrypt call. All fields are base64
// standard encoding.
type Ciphertext struct {
	Data string
	IV   string
	Salt string
}

// Vault derives per-record AES keys from a server-side master secret. The
// secret's absence is a fatal configuration error at construction time.
type Vault struct {
	masterSecret []byte
}

// New creates a Vault. It returns an error if masterSecret is empty so a
// misconfigured deployment fails before any key material is touched.
func New(masterSecret string) (*Vault, error) {
	if masterSecret == "" {
		return nil, errors.New("vault: master secret is not configured")
	}
	return &Vault{masterSecret: []byte(masterSecret)}, nil
}

// Encrypt encrypts plaintext under a key derived from the master secret and
// a fresh random salt. Every call generates a new salt and IV, so encrypting
// the same plaintext twice never yields identical output.
func (v *Vault) Encrypt(plaintext []byte) (Ciphertext, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return Ciphertext{}, fmt.Errorf("vault: generating salt: %w", err)
	}

	gcm, err := v.aead(salt)
	if err != nil {
		return Ciphertext{}, err
	}

	iv := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(iv); err != nil {
		return Ciphertext{}, fmt.Errorf("vault: generating iv: %w", err)
	}

	sealed := gcm.Seal(nil, iv, plaintext, nil)

	return Ciphertext{
		Data: base64.StdEncoding.EncodeToString(sealed),
		IV:   base64.StdEncoding.EncodeToString(iv),
		Salt: base64.StdEncoding.EncodeToString(salt),
	}, nil
}

// Decrypt reverses Encrypt. It fails closed: a wrong secret, truncated or
// tampered ciphertext, or mismatched iv/salt all return an error wrapping
// domain.ErrDecryptionFailed, never garbage plaintext.
//
// An empty salt selects the legacy fixed salt used by pre-migration records.
func (v *Vault) Decrypt(ct Ciphertext) ([]byte, error) {
	var salt []byte
	if ct.Salt == "" {
		salt = []byte(legacySalt)
	} else {
		var err error
		salt, err = base64.StdEncoding.DecodeString(ct.Salt)
		if err != nil {
			return nil, fmt.Errorf("vault: decoding salt: %w", err)
		}
	}

	iv, err := base64.StdEncoding.DecodeString(ct.IV)
	if err != nil {
		return nil, fmt.Errorf("vault: decoding iv: %w", err)
	}
	sealed, err := base64.StdEncoding.DecodeString(ct.Data)
	if err != nil {
		return nil, fmt.Errorf("vault: decoding ciphertext: %w", err)
	}

	gcm, err := v.aead(salt)
	if err != nil {
		return nil, err
	}
	if len(iv) != gcm.NonceSize() {
		return nil, fmt.Errorf("vault: %w: iv length %d, want %d", domain.ErrDecryptionFailed, len(iv), gcm.NonceSize())
	}

	plaintext, err := gcm.Open(nil, iv, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("vault: %w: %v", domain.ErrDecryptionFailed, err)
	}
	return plaintext, nil
}

// DecryptRecord decrypts the posting key held in a custodial key record.
func (v *Vault) DecryptRecord(rec domain.CustodialKeyRecord) ([]byte, error) {
	return v.Decrypt(Ciphertext{
		Data: rec.EncryptedPostingKey,
		IV:   rec.IV,
		Salt: rec.Salt,
	})
}

// aead builds the AES-256-GCM cipher for the given salt.
func (v *Vault) aead(salt []byte) (cipher.AEAD, error) {
	derived := pbkdf2.Key(v.masterSecret, salt, pbkdf2Iterations, aesKeyLen, sha256.New)

	block, err := aes.NewCipher(derived)
	if err != nil {
		return nil, fmt.Errorf("vault: creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("vault: creating GCM: %w", err)
	}
	return gcm, nil
}

// Zero overwrites key material in place. Best effort: Go's garbage collector
// gives no guarantee about copies the runtime may have made.
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
