// Package wallet bridges the server to self-custody wallet clients over a
// persistent websocket. The wallet holds its own keys and shows its own
// authorization UI; the server only ships operations across and waits for a
// transaction id, with an explicit timeout.
package wallet

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/hivewager/custodian/internal/domain"
)

const (
	defaultSignTimeout = 60 * time.Second
	writeWait          = 10 * time.Second
	pongWait           = 60 * time.Second
	pingPeriod         = (pongWait * 9) / 10
	maxMessageSize     = 256 * 1024
)

// signRequest is sent to the wallet client.
type signRequest struct {
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	Operations []json.RawMessage `json:"operations"`
}

// signResponse is the wallet client's answer.
type signResponse struct {
	ID    string `json:"id"`
	TxID  string `json:"tx_id"`
	Error string `json:"error"`
}

type conn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
}

func (c *conn) writeJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteJSON(v)
}

// Bridge tracks one wallet connection per account and correlates sign
// requests with responses by request id.
type Bridge struct {
	timeout  time.Duration
	upgrader websocket.Upgrader
	logger   *slog.Logger

	mu      sync.RWMutex
	conns   map[string]*conn
	pending map[string]chan signResponse
}

// NewBridge creates a Bridge. A zero timeout selects the default.
func NewBridge(timeout time.Duration, logger *slog.Logger) *Bridge {
	if timeout == 0 {
		timeout = defaultSignTimeout
	}
	return &Bridge{
		timeout: timeout,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Origin checks belong to the server's CORS layer.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger:  logger,
		conns:   make(map[string]*conn),
		pending: make(map[string]chan signResponse),
	}
}

// HandleWS upgrades the request and registers the connection for the
// account named in the query string. The surrounding server authenticates
// the session before this handler runs.
func (b *Bridge) HandleWS(w http.ResponseWriter, r *http.Request) {
	account := r.URL.Query().Get("account")
	if account == "" {
		http.Error(w, `{"error":"account query parameter required"}`, http.StatusBadRequest)
		return
	}

	ws, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.logger.WarnContext(r.Context(), "wallet: upgrade failed",
			slog.String("account", account),
			slog.String("error", err.Error()),
		)
		return
	}

	c := &conn{ws: ws}

	b.mu.Lock()
	if old, ok := b.conns[account]; ok {
		_ = old.ws.Close()
	}
	b.conns[account] = c
	b.mu.Unlock()

	b.logger.InfoContext(r.Context(), "wallet: connected", slog.String("account", account))

	go b.pingLoop(account, c)
	b.readLoop(account, c)
}

func (b *Bridge) pingLoop(account string, c *conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for range ticker.C {
		c.writeMu.Lock()
		_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
		err := c.ws.WriteMessage(websocket.PingMessage, nil)
		c.writeMu.Unlock()
		if err != nil {
			return
		}
	}
}

func (b *Bridge) readLoop(account string, c *conn) {
	defer func() {
		b.mu.Lock()
		if b.conns[account] == c {
			delete(b.conns, account)
		}
		b.mu.Unlock()
		_ = c.ws.Close()
		b.logger.Info("wallet: disconnected", slog.String("account", account))
	}()

	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var resp signResponse
		if err := c.ws.ReadJSON(&resp); err != nil {
			return
		}
		b.dispatch(resp)
	}
}

func (b *Bridge) dispatch(resp signResponse) {
	b.mu.RLock()
	ch, ok := b.pending[resp.ID]
	b.mu.RUnlock()
	if !ok {
		// Late or unsolicited response; drop it.
		return
	}
	select {
	case ch <- resp:
	default:
	}
}

// Connected reports whether the account currently has a wallet attached.
func (b *Bridge) Connected(account string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.conns[account]
	return ok
}

// RequestSignAndBroadcast ships the operations to the account's wallet and
// waits for the resulting transaction id. It returns
// domain.ErrWalletNotConnected when no wallet is attached, and a timeout
// error when the wallet (or its user) does not answer in time.
func (b *Bridge) RequestSignAndBroadcast(ctx context.Context, account string, ops []domain.Operation) (string, error) {
	b.mu.RLock()
	c, ok := b.conns[account]
	b.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("wallet: account %s: %w", account, domain.ErrWalletNotConnected)
	}

	wireOps := make([]json.RawMessage, 0, len(ops))
	for _, op := range ops {
		raw, err := domain.MarshalOperation(op)
		if err != nil {
			return "", err
		}
		wireOps = append(wireOps, raw)
	}

	id := uuid.New().String()
	ch := make(chan signResponse, 1)

	b.mu.Lock()
	b.pending[id] = ch
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		delete(b.pending, id)
		b.mu.Unlock()
	}()

	if err := c.writeJSON(signRequest{ID: id, Type: "sign_request", Operations: wireOps}); err != nil {
		return "", fmt.Errorf("wallet: send sign request to %s: %w", account, err)
	}

	timer := time.NewTimer(b.timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return "", fmt.Errorf("wallet: sign request for %s: %w", account, ctx.Err())
	case <-timer.C:
		return "", fmt.Errorf("wallet: sign request for %s timed out after %s", account, b.timeout)
	case resp := <-ch:
		if resp.Error != "" {
			return "", fmt.Errorf("wallet: %s rejected sign request: %s", account, resp.Error)
		}
		return resp.TxID, nil
	}
}
