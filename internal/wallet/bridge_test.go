package wallet

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hivewager/custodian/internal/domain"
)

func newTestBridge(t *testing.T, timeout time.Duration) (*Bridge, string) {
	t.Helper()
	b := NewBridge(timeout, slog.New(slog.NewTextHandler(io.Discard, nil)))
	srv := httptest.NewServer(http.HandlerFunc(b.HandleWS))
	t.Cleanup(srv.Close)
	return b, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dialWallet(t *testing.T, wsURL, account string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL+"?account="+account, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestBridgeRoundTrip(t *testing.T) {
	b, wsURL := newTestBridge(t, 5*time.Second)
	conn := dialWallet(t, wsURL, "alice")

	// Wait for registration.
	require.Eventually(t, func() bool { return b.Connected("alice") }, time.Second, 10*time.Millisecond)

	// The wallet side: answer the first sign request with a tx id.
	go func() {
		var req signRequest
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		_ = conn.WriteJSON(signResponse{ID: req.ID, TxID: "wallet-tx-9"})
	}()

	op := domain.VoteOperation{Voter: "alice", Author: "bob", Permlink: "post", Weight: 10000}
	txID, err := b.RequestSignAndBroadcast(context.Background(), "alice", []domain.Operation{op})
	require.NoError(t, err)
	assert.Equal(t, "wallet-tx-9", txID)
}

func TestBridgeWalletRejection(t *testing.T) {
	b, wsURL := newTestBridge(t, 5*time.Second)
	conn := dialWallet(t, wsURL, "alice")
	require.Eventually(t, func() bool { return b.Connected("alice") }, time.Second, 10*time.Millisecond)

	go func() {
		var req signRequest
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		_ = conn.WriteJSON(signResponse{ID: req.ID, Error: "user declined"})
	}()

	op := domain.VoteOperation{Voter: "alice", Author: "bob", Permlink: "post", Weight: 10000}
	_, err := b.RequestSignAndBroadcast(context.Background(), "alice", []domain.Operation{op})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "user declined")
}

func TestBridgeNotConnected(t *testing.T) {
	b, _ := newTestBridge(t, time.Second)

	op := domain.VoteOperation{Voter: "alice", Author: "bob", Permlink: "post", Weight: 10000}
	_, err := b.RequestSignAndBroadcast(context.Background(), "alice", []domain.Operation{op})
	require.ErrorIs(t, err, domain.ErrWalletNotConnected)
}

func TestBridgeTimeout(t *testing.T) {
	b, wsURL := newTestBridge(t, 100*time.Millisecond)
	_ = dialWallet(t, wsURL, "alice")
	require.Eventually(t, func() bool { return b.Connected("alice") }, time.Second, 10*time.Millisecond)

	// Wallet never answers.
	op := domain.VoteOperation{Voter: "alice", Author: "bob", Permlink: "post", Weight: 10000}
	_, err := b.RequestSignAndBroadcast(context.Background(), "alice", []domain.Operation{op})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out")
}

func TestBridgeContextCancellation(t *testing.T) {
	b, wsURL := newTestBridge(t, time.Minute)
	_ = dialWallet(t, wsURL, "alice")
	require.Eventually(t, func() bool { return b.Connected("alice") }, time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	op := domain.VoteOperation{Voter: "alice", Author: "bob", Permlink: "post", Weight: 10000}
	_, err := b.RequestSignAndBroadcast(ctx, "alice", []domain.Operation{op})
	require.ErrorIs(t, err, context.Canceled)
}

func TestBridgeRejectsMissingAccount(t *testing.T) {
	_, wsURL := newTestBridge(t, time.Second)
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 400, resp.StatusCode)
}

func TestBridgeSecondConnectionReplacesFirst(t *testing.T) {
	b, wsURL := newTestBridge(t, 5*time.Second)

	first := dialWallet(t, wsURL, "alice")
	require.Eventually(t, func() bool { return b.Connected("alice") }, time.Second, 10*time.Millisecond)

	second := dialWallet(t, wsURL, "alice")

	// The first connection is closed by the bridge; reads on it fail.
	require.Eventually(t, func() bool {
		_ = first.SetReadDeadline(time.Now().Add(50 * time.Millisecond))
		_, _, err := first.ReadMessage()
		return err != nil
	}, 2*time.Second, 20*time.Millisecond)

	// The replacement serves sign requests.
	go func() {
		var req signRequest
		if err := second.ReadJSON(&req); err != nil {
			return
		}
		_ = second.WriteJSON(signResponse{ID: req.ID, TxID: "tx-second"})
	}()

	op := domain.VoteOperation{Voter: "alice", Author: "bob", Permlink: "post", Weight: 10000}
	txID, err := b.RequestSignAndBroadcast(context.Background(), "alice", []domain.Operation{op})
	require.NoError(t, err)
	assert.Equal(t, "tx-second", txID)
}
