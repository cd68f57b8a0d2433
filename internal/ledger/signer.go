package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
)

// compactSigOffset converts a 0/1 recovery id into the ledger's compact
// recoverable-signature header byte (27 for legacy + 4 for compressed keys).
const compactSigOffset = 31

// Signer produces recoverable secp256k1 signatures over the transaction
// digest. The digest binds the chain id, so a transaction signed for one
// network can never be replayed on another.
type Signer struct {
	chainID []byte
}

// NewSigner creates a Signer for the given hex-encoded chain id.
func NewSigner(chainIDHex string) (*Signer, error) {
	chainID, err := hex.DecodeString(chainIDHex)
	if err != nil {
		return nil, fmt.Errorf("ledger: chain id is not valid hex: %w", err)
	}
	if len(chainID) != 32 {
		return nil, fmt.Errorf("ledger: chain id must be 32 bytes, got %d", len(chainID))
	}
	return &Signer{chainID: chainID}, nil
}

// Digest computes sha256(chainID || canonical transaction JSON), where the
// canonical form excludes any signatures already present.
func (s *Signer) Digest(tx *Transaction) ([32]byte, error) {
	unsigned := *tx
	unsigned.Signatures = []string{}

	encoded, err := json.Marshal(&unsigned)
	if err != nil {
		return [32]byte{}, fmt.Errorf("ledger: encode transaction for signing: %w", err)
	}

	h := sha256.New()
	h.Write(s.chainID)
	h.Write(encoded)

	var digest [32]byte
	copy(digest[:], h.Sum(nil))
	return digest, nil
}

// Sign appends a compact recoverable signature made with the given raw
// 32-byte private key. The caller owns the key material and is responsible
// for zeroing it afterwards; Sign never copies it anywhere long-lived.
func (s *Signer) Sign(tx *Transaction, privKey []byte) error {
	digest, err := s.Digest(tx)
	if err != nil {
		return err
	}

	key, err := crypto.ToECDSA(privKey)
	if err != nil {
		return fmt.Errorf("ledger: invalid private key: %w", err)
	}

	// 65 bytes: R || S || V with V in {0,1}.
	sig, err := crypto.Sign(digest[:], key)
	if err != nil {
		return fmt.Errorf("ledger: sign digest: %w", err)
	}

	// Compact form: header byte first, then R and S.
	compact := make([]byte, 65)
	compact[0] = sig[64] + compactSigOffset
	copy(compact[1:], sig[:64])

	tx.Signatures = append(tx.Signatures, hex.EncodeToString(compact))
	return nil
}

// Verify recovers the signer's public key from the transaction's first
// signature and compares it with the expected compressed public key hex.
// Used by tests and by the wallet bridge to sanity-check self-custody
// submissions.
func (s *Signer) Verify(tx *Transaction, compressedPubHex string) (bool, error) {
	if len(tx.Signatures) == 0 {
		return false, fmt.Errorf("ledger: verify: transaction is unsigned")
	}

	compact, err := hex.DecodeString(tx.Signatures[0])
	if err != nil || len(compact) != 65 {
		return false, fmt.Errorf("ledger: verify: malformed signature")
	}

	digest, err := s.Digest(tx)
	if err != nil {
		return false, err
	}

	// Back to R || S || V for recovery.
	sig := make([]byte, 65)
	copy(sig[:64], compact[1:])
	sig[64] = compact[0] - compactSigOffset

	pub, err := crypto.SigToPub(digest[:], sig)
	if err != nil {
		return false, fmt.Errorf("ledger: recover public key: %w", err)
	}

	return hex.EncodeToString(crypto.CompressPubkey(pub)) == compressedPubHex, nil
}
