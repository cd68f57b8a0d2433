package ledger

import (
	"encoding/hex"
	"encoding/json"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testChainID = "beeab0de00000000000000000000000000000000000000000000000000000000"

func testTransaction() *Transaction {
	return &Transaction{
		RefBlockNum:    36029,
		RefBlockPrefix: 1164960351,
		Expiration:     "2026-08-28T12:00:00",
		Operations: []json.RawMessage{
			json.RawMessage(`["vote",{"voter":"alice","author":"bob","permlink":"post","weight":10000}]`),
		},
		Extensions: []json.RawMessage{},
		Signatures: []string{},
	}
}

func TestSignerRejectsBadChainID(t *testing.T) {
	_, err := NewSigner("not-hex")
	require.Error(t, err)

	_, err = NewSigner("beef")
	require.Error(t, err)
}

func TestSignAndVerifyRoundTrip(t *testing.T) {
	signer, err := NewSigner(testChainID)
	require.NoError(t, err)

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	keyBytes := crypto.FromECDSA(key)

	tx := testTransaction()
	require.NoError(t, signer.Sign(tx, keyBytes))
	require.Len(t, tx.Signatures, 1)

	// Compact signatures are 65 bytes with a recovery header in [31, 34].
	compact, err := hex.DecodeString(tx.Signatures[0])
	require.NoError(t, err)
	require.Len(t, compact, 65)
	assert.GreaterOrEqual(t, compact[0], byte(31))
	assert.LessOrEqual(t, compact[0], byte(34))

	pubHex := hex.EncodeToString(crypto.CompressPubkey(&key.PublicKey))
	ok, err := signer.Verify(tx, pubHex)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestVerifyRejectsForeignKey(t *testing.T) {
	signer, err := NewSigner(testChainID)
	require.NoError(t, err)

	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	tx := testTransaction()
	require.NoError(t, signer.Sign(tx, crypto.FromECDSA(key)))

	other, err := crypto.GenerateKey()
	require.NoError(t, err)

	ok, err := signer.Verify(tx, hex.EncodeToString(crypto.CompressPubkey(&other.PublicKey)))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDigestBindsChainID(t *testing.T) {
	a, err := NewSigner(testChainID)
	require.NoError(t, err)
	b, err := NewSigner(strings.Repeat("00", 32))
	require.NoError(t, err)

	tx := testTransaction()
	da, err := a.Digest(tx)
	require.NoError(t, err)
	db, err := b.Digest(tx)
	require.NoError(t, err)

	assert.NotEqual(t, da, db)
}

func TestDigestIgnoresExistingSignatures(t *testing.T) {
	signer, err := NewSigner(testChainID)
	require.NoError(t, err)

	tx := testTransaction()
	before, err := signer.Digest(tx)
	require.NoError(t, err)

	tx.Signatures = []string{"deadbeef"}
	after, err := signer.Digest(tx)
	require.NoError(t, err)

	assert.Equal(t, before, after)
}

func TestSignRejectsMalformedKey(t *testing.T) {
	signer, err := NewSigner(testChainID)
	require.NoError(t, err)

	err = signer.Sign(testTransaction(), []byte{0x01, 0x02})
	require.Error(t, err)
}
