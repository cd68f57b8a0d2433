package domain

import "time"

// AuthMode distinguishes how a user signs ledger operations.
type AuthMode string

const (
	// AuthModeSoft is a custodial account: the platform holds the user's
	// encrypted posting key and signs on their behalf.
	AuthModeSoft AuthMode = "soft"
	// AuthModeHive is a self-custody account: the user's own wallet
	// extension signs, and custodial keys are never involved.
	AuthModeHive AuthMode = "hive"
)

// CustodialKeyRecord is the per-user encrypted key material held by the key
// vault. Plaintext keys never persist; they exist only for the duration of a
// single sign operation.
type CustodialKeyRecord struct {
	ID                  string
	UserID              string
	Account             string // ledger username the key unlocks
	EncryptedPostingKey string // base64 ciphertext
	IV                  string // base64, fresh per encryption
	Salt                string // base64; empty for legacy fixed-salt records
	CreatedAt           time.Time
}
