// Package node is a context aware client for the Aptos fullnode REST API. Transactions,
// addresses and signing come from the Aptos SDK; this package only moves them over HTTP.
package node

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aptos-labs/aptos-go-sdk"
	"github.com/aptos-labs/aptos-go-sdk/bcs"
	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
)

var log zerolog.Logger

func init() {
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	log = zerolog.New(out).With().Timestamp().Str("component", "aptos-node").Logger()
}

const signedTransactionContentType = "application/x.aptos.signed_transaction+bcs"

// ErrTransactionNotFound is returned by TransactionByHash while the node does not know the hash yet.
var ErrTransactionNotFound = errors.New("transaction not found")

var errStillPending = errors.New("transaction still pending")

// APIError is a non-2xx response from the node.
type APIError struct {
	StatusCode  int
	Message     string
	ErrorCode   string
	VMErrorCode int64
}

func (e *APIError) Error() string {
	if e.ErrorCode != "" {
		return fmt.Sprintf("aptos node HTTP %d: %s (%s)", e.StatusCode, e.Message, e.ErrorCode)
	}
	return fmt.Sprintf("aptos node HTTP %d: %s", e.StatusCode, e.Message)
}

func (e *APIError) HTTPStatus() int {
	return e.StatusCode
}

// ClientConfig configures the node client.
type ClientConfig struct {
	// NodeURL is the REST base including the /v1 suffix.
	NodeURL string
	Timeout time.Duration
	// TxExpiration is added to the current time to form a transaction's expiration timestamp.
	TxExpiration time.Duration
	// FinalityTimeout bounds WaitForTransaction.
	FinalityTimeout time.Duration
	// PollInterval is the first delay between finality polls; it grows exponentially.
	PollInterval time.Duration
}

// DefaultClientConfig returns mainnet defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		NodeURL:         "https://fullnode.mainnet.aptoslabs.com/v1",
		Timeout:         10 * time.Second,
		TxExpiration:    60 * time.Second,
		FinalityTimeout: 2 * time.Minute,
		PollInterval:    time.Second,
	}
}

// GasOptions carries the gas budget of a transaction.
type GasOptions struct {
	MaxGasAmount uint64
	GasUnitPrice uint64
}

// LedgerInfo is the subset of GET / the client uses.
type LedgerInfo struct {
	ChainID       uint8
	LedgerVersion uint64
}

// TransactionStatus is the on-chain view of a submitted transaction.
type TransactionStatus struct {
	Hash     string
	Version  uint64
	Pending  bool
	Success  bool
	VMStatus string
	GasUsed  uint64
}

// Client talks to an Aptos fullnode REST API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	config     ClientConfig
	now        func() time.Time

	mu      sync.Mutex
	chainID uint8
}

// NewClient creates a node client. Zero config fields fall back to DefaultClientConfig.
func NewClient(config ClientConfig) *Client {
	def := DefaultClientConfig()
	if config.NodeURL == "" {
		config.NodeURL = def.NodeURL
	}
	if config.Timeout <= 0 {
		config.Timeout = def.Timeout
	}
	if config.TxExpiration <= 0 {
		config.TxExpiration = def.TxExpiration
	}
	if config.FinalityTimeout <= 0 {
		config.FinalityTimeout = def.FinalityTimeout
	}
	if config.PollInterval <= 0 {
		config.PollInterval = def.PollInterval
	}
	return &Client{
		httpClient: &http.Client{Timeout: config.Timeout},
		baseURL:    strings.TrimSuffix(config.NodeURL, "/"),
		config:     config,
		now:        time.Now,
	}
}

// SetHTTPClient replaces the underlying HTTP client.
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

func (c *Client) do(ctx context.Context, method, path, contentType string, payload []byte) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("aptos node request %s %s failed: %w", method, path, err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.Debug().Err(err).Msg("Failed to close response body")
		}
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{
			StatusCode:  resp.StatusCode,
			Message:     gjson.GetBytes(respBody, "message").String(),
			ErrorCode:   gjson.GetBytes(respBody, "error_code").String(),
			VMErrorCode: gjson.GetBytes(respBody, "vm_error_code").Int(),
		}
		if apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(respBody))
		}
		return nil, apiErr
	}
	return respBody, nil
}

// LongAddress formats addr as 0x followed by 64 hex characters, the form the REST paths use.
func LongAddress(addr aptos.AccountAddress) string {
	return "0x" + hex.EncodeToString(addr[:])
}

func isNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// LedgerInfo fetches the node's ledger info.
func (c *Client) LedgerInfo(ctx context.Context) (*LedgerInfo, error) {
	body, err := c.do(ctx, http.MethodGet, "/", "", nil)
	if err != nil {
		return nil, err
	}
	chainID := gjson.GetBytes(body, "chain_id")
	if !chainID.Exists() {
		return nil, fmt.Errorf("ledger info without chain_id")
	}
	return &LedgerInfo{
		ChainID:       uint8(chainID.Uint()),
		LedgerVersion: gjson.GetBytes(body, "ledger_version").Uint(),
	}, nil
}

// ChainID returns the chain id, fetching it once per client.
func (c *Client) ChainID(ctx context.Context) (uint8, error) {
	c.mu.Lock()
	cached := c.chainID
	c.mu.Unlock()
	if cached != 0 {
		return cached, nil
	}

	info, err := c.LedgerInfo(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch chain id: %w", err)
	}
	c.mu.Lock()
	c.chainID = info.ChainID
	c.mu.Unlock()
	return info.ChainID, nil
}

// SequenceNumber returns the next sequence number of addr.
func (c *Client) SequenceNumber(ctx context.Context, addr aptos.AccountAddress) (uint64, error) {
	body, err := c.do(ctx, http.MethodGet, "/accounts/"+LongAddress(addr), "", nil)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch account %s: %w", addr, err)
	}
	raw := gjson.GetBytes(body, "sequence_number").String()
	seq, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid sequence_number %q for %s: %w", raw, LongAddress(addr), err)
	}
	return seq, nil
}

// ResourceExists reports whether addr holds a resource of the given type. A missing account
// counts as a missing resource.
func (c *Client) ResourceExists(ctx context.Context, addr aptos.AccountAddress, resourceType string) (bool, error) {
	path := "/accounts/" + LongAddress(addr) + "/resource/" + url.PathEscape(resourceType)
	_, err := c.do(ctx, http.MethodGet, path, "", nil)
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, fmt.Errorf("failed to read resource %s of %s: %w", resourceType, LongAddress(addr), err)
}

// SubmitTransaction submits a signed transaction and returns its hash. The hash computed from
// the signed bytes is used when the node does not echo one.
func (c *Client) SubmitTransaction(ctx context.Context, signed *aptos.SignedTransaction) (string, error) {
	payload, err := bcs.Serialize(signed)
	if err != nil {
		return "", fmt.Errorf("failed to serialize signed transaction: %w", err)
	}
	localHash, hashErr := signed.Hash()
	if hashErr != nil {
		log.Debug().Err(hashErr).Msg("Failed to hash signed transaction")
	}

	body, err := c.do(ctx, http.MethodPost, "/transactions", signedTransactionContentType, payload)
	if err != nil {
		return "", err
	}
	hash := gjson.GetBytes(body, "hash").String()
	switch {
	case hash == "" && localHash == "":
		return "", fmt.Errorf("submission response without hash")
	case hash == "":
		return localHash, nil
	case localHash != "" && !strings.EqualFold(hash, localHash):
		log.Debug().Str("hash", hash).Str("localHash", localHash).Msg("Node returned a different transaction hash")
	}
	return hash, nil
}

// TransactionByHash returns the current status of a transaction. ErrTransactionNotFound is
// returned while the node has not seen it.
func (c *Client) TransactionByHash(ctx context.Context, hash string) (*TransactionStatus, error) {
	body, err := c.do(ctx, http.MethodGet, "/transactions/by_hash/"+url.PathEscape(hash), "", nil)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	res := gjson.ParseBytes(body)
	status := &TransactionStatus{
		Hash:    res.Get("hash").String(),
		Pending: res.Get("type").String() == "pending_transaction",
	}
	if status.Hash == "" {
		status.Hash = hash
	}
	if !status.Pending {
		status.Version = res.Get("version").Uint()
		status.Success = res.Get("success").Bool()
		status.VMStatus = res.Get("vm_status").String()
		status.GasUsed = res.Get("gas_used").Uint()
	}
	return status, nil
}

// WaitForTransaction polls until the transaction leaves the pending state, ctx is done or the
// configured finality timeout elapses.
func (c *Client) WaitForTransaction(ctx context.Context, hash string) (*TransactionStatus, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.config.PollInterval
	b.MaxInterval = 5 * time.Second

	poll := func() (*TransactionStatus, error) {
		status, err := c.TransactionByHash(ctx, hash)
		switch {
		case errors.Is(err, ErrTransactionNotFound):
			return nil, err
		case err != nil:
			var apiErr *APIError
			if errors.As(err, &apiErr) && apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 &&
				apiErr.StatusCode != http.StatusTooManyRequests {
				return nil, backoff.Permanent(err)
			}
			log.Debug().Err(err).Str("hash", hash).Msg("Finality poll failed, retrying")
			return nil, err
		case status.Pending:
			return nil, errStillPending
		}
		return status, nil
	}

	status, err := backoff.Retry(ctx, poll,
		backoff.WithBackOff(b),
		backoff.WithMaxElapsedTime(c.config.FinalityTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("transaction %s not final: %w", hash, err)
	}
	log.Debug().
		Str("hash", hash).
		Bool("success", status.Success).
		Str("vmStatus", status.VMStatus).
		Msg("Transaction final")
	return status, nil
}

// BuildSignAndSubmit builds a transaction for fn with a fresh sequence number and expiration,
// signs it with acct and submits it.
func (c *Client) BuildSignAndSubmit(ctx context.Context, acct *aptos.Account, fn *aptos.EntryFunction, gas GasOptions) (string, error) {
	seq, err := c.SequenceNumber(ctx, acct.Address)
	if err != nil {
		return "", err
	}
	chainID, err := c.ChainID(ctx)
	if err != nil {
		return "", err
	}

	raw := &aptos.RawTransaction{
		Sender:                     acct.Address,
		SequenceNumber:             seq,
		Payload:                    aptos.TransactionPayload{Payload: fn},
		MaxGasAmount:               gas.MaxGasAmount,
		GasUnitPrice:               gas.GasUnitPrice,
		ExpirationTimestampSeconds: uint64(c.now().Add(c.config.TxExpiration).Unix()),
		ChainId:                    chainID,
	}
	signed, err := raw.SignedTransaction(acct)
	if err != nil {
		return "", fmt.Errorf("failed to sign transaction: %w", err)
	}

	log.Info().
		Str("sender", LongAddress(acct.Address)).
		Uint64("sequence", seq).
		Str("function", FunctionName(fn)).
		Uint64("maxGas", gas.MaxGasAmount).
		Uint64("gasPrice", gas.GasUnitPrice).
		Msg("Submitting transaction")

	return c.SubmitTransaction(ctx, signed)
}

// FunctionName returns address::module::function of fn.
func FunctionName(fn *aptos.EntryFunction) string {
	return fn.Module.Address.String() + "::" + fn.Module.Name + "::" + fn.Function
}
