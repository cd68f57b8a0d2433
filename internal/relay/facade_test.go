package relay

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hivewager/custodian/internal/domain"
	"github.com/hivewager/custodian/internal/ledger"
	"github.com/hivewager/custodian/internal/vault"
)

const testChainID = "beeab0de00000000000000000000000000000000000000000000000000000000"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeWallet struct {
	account string
	ops     []domain.Operation
	txID    string
	err     error
}

func (f *fakeWallet) RequestSignAndBroadcast(ctx context.Context, account string, ops []domain.Operation) (string, error) {
	f.account = account
	f.ops = ops
	return f.txID, f.err
}

type fakeLimiter struct {
	allowed bool
	key     string
}

func (f *fakeLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	f.key = key
	return f.allowed, nil
}

type fakeKeyStore struct {
	rec domain.CustodialKeyRecord
}

func (f *fakeKeyStore) Create(ctx context.Context, rec domain.CustodialKeyRecord) error {
	f.rec = rec
	return nil
}

func (f *fakeKeyStore) GetByUserID(ctx context.Context, userID string) (domain.CustodialKeyRecord, error) {
	if userID != f.rec.UserID {
		return domain.CustodialKeyRecord{}, domain.ErrNotFound
	}
	return f.rec, nil
}

type recordingAudit struct {
	events []string
}

func (a *recordingAudit) Log(ctx context.Context, event string, detail map[string]any) error {
	a.events = append(a.events, event)
	return nil
}

func (a *recordingAudit) List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

func voteOp() domain.VoteOperation {
	return domain.VoteOperation{Voter: "alice", Author: "bob", Permlink: "post", Weight: 10000}
}

func TestFacadeRejectsEmptyBatch(t *testing.T) {
	f := NewFacade(nil, nil, nil, discardLogger())
	_, err := f.Broadcast(context.Background(), BroadcastRequest{
		Username: "alice", UserID: "u1", AuthMode: domain.AuthModeSoft,
	})
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "operations", verr.Field)
}

func TestFacadeRejectsUnknownAuthMode(t *testing.T) {
	f := NewFacade(nil, nil, nil, discardLogger())
	_, err := f.Broadcast(context.Background(), BroadcastRequest{
		Username: "alice", UserID: "u1", AuthMode: "magic",
		Operations: []domain.Operation{voteOp()},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown auth mode")
}

func TestFacadeCustodialRejectsActiveAuthority(t *testing.T) {
	f := NewFacade(nil, nil, nil, discardLogger())

	// Token transfers require active authority; custodial accounts only
	// ever hold posting keys.
	op := domain.CustomJSONOperation{
		RequiredAuths:        []string{"alice"},
		RequiredPostingAuths: []string{},
		ID:                   "ssc-mainnet-hive",
		JSON:                 `{}`,
	}
	_, err := f.Broadcast(context.Background(), BroadcastRequest{
		Username: "alice", UserID: "u1", AuthMode: domain.AuthModeSoft,
		Operations: []domain.Operation{op},
	})
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "required_auths", verr.Field)
}

func TestFacadeCustodialRateLimited(t *testing.T) {
	limiter := &fakeLimiter{allowed: false}
	f := NewFacade(nil, nil, limiter, discardLogger())

	_, err := f.Broadcast(context.Background(), BroadcastRequest{
		Username: "alice", UserID: "u1", AuthMode: domain.AuthModeSoft,
		Operations: []domain.Operation{voteOp()},
	})
	require.ErrorIs(t, err, domain.ErrRateLimited)
	assert.Equal(t, "relay:alice", limiter.key)
}

func TestFacadeCustodialRejectsForeignActor(t *testing.T) {
	limiter := &fakeLimiter{allowed: true}
	f := NewFacade(nil, nil, limiter, discardLogger())

	// mallory tries to vote as alice; the validator must stop it before the
	// relay is ever reached.
	_, err := f.Broadcast(context.Background(), BroadcastRequest{
		Username: "mallory", UserID: "u2", AuthMode: domain.AuthModeSoft,
		Operations: []domain.Operation{voteOp()},
	})
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "alice", verr.Got)
	assert.Equal(t, "mallory", verr.Want)
}

func TestFacadeHivePathUsesWallet(t *testing.T) {
	w := &fakeWallet{txID: "wallet-tx-1"}
	f := NewFacade(nil, w, nil, discardLogger())

	txID, err := f.Broadcast(context.Background(), BroadcastRequest{
		Username: "alice", UserID: "u1", AuthMode: domain.AuthModeHive,
		Operations: []domain.Operation{voteOp()},
	})
	require.NoError(t, err)
	assert.Equal(t, "wallet-tx-1", txID)
	assert.Equal(t, "alice", w.account)
	require.Len(t, w.ops, 1)
}

func TestFacadeHivePathWithoutWallet(t *testing.T) {
	f := NewFacade(nil, nil, nil, discardLogger())
	_, err := f.Broadcast(context.Background(), BroadcastRequest{
		Username: "alice", UserID: "u1", AuthMode: domain.AuthModeHive,
		Operations: []domain.Operation{voteOp()},
	})
	require.ErrorIs(t, err, domain.ErrWalletNotConnected)
}

// newTestNode serves the two RPC methods the ledger client calls, answering
// broadcasts with a fixed transaction id.
func newTestNode(t *testing.T, txID string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Method string `json:"method"`
			ID     int64  `json:"id"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		resp := map[string]any{"id": req.ID}
		switch req.Method {
		case "condenser_api.get_dynamic_global_properties":
			resp["result"] = map[string]any{
				"head_block_number": 123456,
				"head_block_id":     "0001e24011223344aabbccdd",
				"time":              "2026-01-02T15:04:05",
			}
		case "condenser_api.broadcast_transaction_synchronous":
			resp["result"] = map[string]any{"id": txID, "block_num": 123457, "expired": false}
		default:
			t.Fatalf("unexpected RPC method %s", req.Method)
		}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	t.Cleanup(srv.Close)
	return srv
}

// TestCustodialSignAndBroadcast exercises the full custodial path: encrypted
// key record in the store, vault decryption, transaction preparation, signing
// and broadcast against a stubbed node.
func TestCustodialSignAndBroadcast(t *testing.T) {
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	keyHex := hex.EncodeToString(ethcrypto.FromECDSA(key))

	v, err := vault.New("test-master-secret")
	require.NoError(t, err)
	ct, err := v.Encrypt([]byte(keyHex))
	require.NoError(t, err)

	keys := &fakeKeyStore{rec: domain.CustodialKeyRecord{
		ID: "k1", UserID: "u1", Account: "alice",
		EncryptedPostingKey: ct.Data, IV: ct.IV, Salt: ct.Salt,
	}}

	node := newTestNode(t, "abc123")
	client := ledger.NewClient(ledger.ClientConfig{Endpoint: node.URL, ChainID: testChainID})
	signer, err := ledger.NewSigner(testChainID)
	require.NoError(t, err)

	audit := &recordingAudit{}
	r := NewSigningRelay(keys, v, client, signer, audit, discardLogger())

	txID, err := r.SignAndBroadcast(context.Background(), "alice", "u1", []domain.Operation{voteOp()})
	require.NoError(t, err)
	assert.Equal(t, "abc123", txID)
	assert.Equal(t, []string{"custodial_broadcast"}, audit.events)
}

func TestCustodialSignRejectsAccountMismatch(t *testing.T) {
	v, err := vault.New("test-master-secret")
	require.NoError(t, err)
	ct, err := v.Encrypt([]byte("00"))
	require.NoError(t, err)

	keys := &fakeKeyStore{rec: domain.CustodialKeyRecord{
		ID: "k1", UserID: "u1", Account: "alice",
		EncryptedPostingKey: ct.Data, IV: ct.IV, Salt: ct.Salt,
	}}

	r := NewSigningRelay(keys, v, nil, nil, &recordingAudit{}, discardLogger())

	_, err = r.SignAndBroadcast(context.Background(), "mallory", "u1", []domain.Operation{voteOp()})
	require.ErrorIs(t, err, domain.ErrUnauthorized)
}
