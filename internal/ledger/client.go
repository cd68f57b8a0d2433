// Package ledger is the JSON-RPC client for the blockchain node: it builds
// transaction envelopes against the current head block, signs them with
// recoverable secp256k1 signatures, and broadcasts them synchronously.
package ledger

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/hivewager/custodian/internal/domain"
)

// expirationLayout is the node's timestamp format (UTC, no zone suffix).
const expirationLayout = "2006-01-02T15:04:05"

// defaultTxLifetime bounds how long a prepared transaction stays valid.
const defaultTxLifetime = 60 * time.Second

// Transaction is the wire envelope for a batch of operations.
type Transaction struct {
	RefBlockNum    uint16            `json:"ref_block_num"`
	RefBlockPrefix uint32            `json:"ref_block_prefix"`
	Expiration     string            `json:"expiration"`
	Operations     []json.RawMessage `json:"operations"`
	Extensions     []json.RawMessage `json:"extensions"`
	Signatures     []string          `json:"signatures"`
}

// ClientConfig holds connection parameters for the ledger node.
type ClientConfig struct {
	Endpoint   string
	ChainID    string // hex-encoded chain id, part of the signing digest
	Timeout    time.Duration
	TxLifetime time.Duration
}

// Client talks JSON-RPC to a single ledger node. It is an explicitly
// constructed service object; nothing in this package caches a process-wide
// client.
type Client struct {
	endpoint   string
	chainID    string
	txLifetime time.Duration
	httpClient *http.Client
	reqID      atomic.Int64
}

// NewClient creates a ledger Client.
func NewClient(cfg ClientConfig) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	lifetime := cfg.TxLifetime
	if lifetime == 0 {
		lifetime = defaultTxLifetime
	}
	return &Client{
		endpoint:   cfg.Endpoint,
		chainID:    cfg.ChainID,
		txLifetime: lifetime,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// ChainID returns the hex chain id the client signs against.
func (c *Client) ChainID() string { return c.chainID }

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
	ID      int64  `json:"id"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

func (c *Client) call(ctx context.Context, method string, params []any, result any) error {
	payload, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      c.reqID.Add(1),
	})
	if err != nil {
		return fmt.Errorf("ledger: marshal %s request: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("ledger: build %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ledger: %s: %w: %v", method, domain.ErrBroadcastFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ledger: %s: %w: node returned HTTP %d", method, domain.ErrBroadcastFailed, resp.StatusCode)
	}

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return fmt.Errorf("ledger: decode %s response: %w", method, err)
	}
	if rpcResp.Error != nil {
		return fmt.Errorf("ledger: %s: %w: %v", method, domain.ErrBroadcastFailed, rpcResp.Error)
	}
	if result != nil {
		if err := json.Unmarshal(rpcResp.Result, result); err != nil {
			return fmt.Errorf("ledger: decode %s result: %w", method, err)
		}
	}
	return nil
}

// DynamicGlobalProps is the subset of chain state needed to anchor a
// transaction to a recent block.
type DynamicGlobalProps struct {
	HeadBlockNumber uint32 `json:"head_block_number"`
	HeadBlockID     string `json:"head_block_id"`
	Time            string `json:"time"`
}

// GetDynamicGlobalProps fetches the current head block reference data.
func (c *Client) GetDynamicGlobalProps(ctx context.Context) (DynamicGlobalProps, error) {
	var props DynamicGlobalProps
	err := c.call(ctx, "condenser_api.get_dynamic_global_properties", []any{}, &props)
	if err != nil {
		return DynamicGlobalProps{}, err
	}
	return props, nil
}

// PrepareTransaction builds an unsigned transaction envelope referencing the
// current head block, with the configured expiration window.
func (c *Client) PrepareTransaction(ctx context.Context, ops []domain.Operation) (*Transaction, error) {
	if len(ops) == 0 {
		return nil, fmt.Errorf("ledger: prepare transaction: no operations")
	}

	props, err := c.GetDynamicGlobalProps(ctx)
	if err != nil {
		return nil, err
	}

	headBlockID, err := hex.DecodeString(props.HeadBlockID)
	if err != nil || len(headBlockID) < 8 {
		return nil, fmt.Errorf("ledger: malformed head block id %q", props.HeadBlockID)
	}

	wireOps := make([]json.RawMessage, 0, len(ops))
	for _, op := range ops {
		raw, err := domain.MarshalOperation(op)
		if err != nil {
			return nil, err
		}
		wireOps = append(wireOps, raw)
	}

	return &Transaction{
		RefBlockNum:    uint16(props.HeadBlockNumber & 0xFFFF),
		RefBlockPrefix: binary.LittleEndian.Uint32(headBlockID[4:8]),
		Expiration:     time.Now().UTC().Add(c.txLifetime).Format(expirationLayout),
		Operations:     wireOps,
		Extensions:     []json.RawMessage{},
		Signatures:     []string{},
	}, nil
}

// broadcastResult is the node's answer to a synchronous broadcast.
type broadcastResult struct {
	ID       string `json:"id"`
	BlockNum uint32 `json:"block_num"`
	Expired  bool   `json:"expired"`
}

// Broadcast submits a signed transaction and waits for inclusion, returning
// the ledger-assigned transaction id. A network failure after submission
// leaves the transaction's fate genuinely unknown; callers must persist the
// returned id immediately when one arrives.
func (c *Client) Broadcast(ctx context.Context, tx *Transaction) (string, error) {
	if len(tx.Signatures) == 0 {
		return "", fmt.Errorf("ledger: broadcast: transaction is unsigned")
	}

	var result broadcastResult
	if err := c.call(ctx, "condenser_api.broadcast_transaction_synchronous", []any{tx}, &result); err != nil {
		return "", err
	}
	if result.Expired {
		return "", fmt.Errorf("ledger: broadcast: %w: transaction expired before inclusion", domain.ErrBroadcastFailed)
	}
	return result.ID, nil
}
