package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"mint-gateway/internal/config"
	"mint-gateway/internal/util"
)

// ErrTxNotFound reports a transaction hash unknown to the node.
var ErrTxNotFound = errors.New("transaction not found")

// TxStatus is the node's view of a submitted transaction.
type TxStatus struct {
	Confirmed     bool  `json:"confirmed"`
	Confirmations int64 `json:"confirmations"`
	BlockNumber   int64 `json:"blockNumber"`
	Timestamp     int64 `json:"timestamp"`
}

// StatusChecker answers transaction-status queries per network. The wallet
// and transaction-building sides of the chain integration live in the client
// application; the gateway only ever reads confirmation state.
type StatusChecker interface {
	TransactionStatus(ctx context.Context, network, txHash string) (*TxStatus, error)
}

// HTTPClient is a JSON-RPC 2.0 client against one node endpoint per network.
type HTTPClient struct {
	endpoints     map[string]string
	client        *http.Client
	confirmations int64
	requestID     atomic.Uint64
}

func NewHTTPClient(cfg *config.ChainConfig) *HTTPClient {
	return &HTTPClient{
		endpoints: map[string]string{
			"mainnet": cfg.MainnetNodeURL,
			"testnet": cfg.TestnetNodeURL,
		},
		client:        &http.Client{Timeout: cfg.RequestTimeout},
		confirmations: cfg.ConfirmationsNeeded,
	}
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type txStatusResult struct {
	Confirmations  int64 `json:"confirmations"`
	BlockNumber    int64 `json:"blockNumber"`
	BlockTimestamp int64 `json:"blockTimestamp"`
}

// TransactionStatus queries the node for txHash on the given network.
func (c *HTTPClient) TransactionStatus(ctx context.Context, network, txHash string) (*TxStatus, error) {
	endpoint, ok := c.endpoints[network]
	if !ok || endpoint == "" {
		return nil, fmt.Errorf("no node endpoint configured for network %s", network)
	}

	req := rpcRequest{
		JSONRPC: "2.0",
		ID:      c.requestID.Add(1),
		Method:  "chain_getTransactionStatus",
		Params:  []interface{}{txHash},
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal rpc request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build rpc request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("node rpc call failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read rpc response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("node rpc returned status %d", resp.StatusCode)
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(body, &rpcResp); err != nil {
		return nil, fmt.Errorf("failed to decode rpc response: %w", err)
	}
	if rpcResp.Error != nil {
		if rpcResp.Error.Code == -32000 { // node's not-found code
			return nil, ErrTxNotFound
		}
		return nil, fmt.Errorf("node rpc error %d: %s", rpcResp.Error.Code, rpcResp.Error.Message)
	}

	var result txStatusResult
	if err := json.Unmarshal(rpcResp.Result, &result); err != nil {
		return nil, fmt.Errorf("failed to decode tx status result: %w", err)
	}

	util.Debug("Transaction status fetched",
		util.String("network", network),
		util.String("tx_hash", txHash),
		util.Int64("confirmations", result.Confirmations),
		util.Duration("duration", time.Since(start)),
	)

	return &TxStatus{
		Confirmed:     result.Confirmations >= c.confirmations,
		Confirmations: result.Confirmations,
		BlockNumber:   result.BlockNumber,
		Timestamp:     result.BlockTimestamp,
	}, nil
}
