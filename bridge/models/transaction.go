package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// BridgeStatus is the lifecycle state of a bridge attempt
type BridgeStatus string

const (
	BridgeStatusPending   BridgeStatus = "pending"   // Created, outcome not known yet
	BridgeStatusConfirmed BridgeStatus = "confirmed" // Chain reported success
	BridgeStatusFailed    BridgeStatus = "failed"    // Chain reported failure or the attempt never reached the chain
)

// Terminal reports whether no further transition is allowed
func (s BridgeStatus) Terminal() bool {
	return s == BridgeStatusConfirmed || s == BridgeStatusFailed
}

// ErrTerminalState is returned when a transition is attempted on a finished record.
var ErrTerminalState = errors.New("bridge transaction already in a terminal state")

// BridgeTransaction records one bridge attempt. Every attempt gets a fresh record.
type BridgeTransaction struct {
	ID          uuid.UUID       `json:"id"`
	Status      BridgeStatus    `json:"status"`
	SrcChainKey string          `json:"src_chain_key"`
	DstChainKey string          `json:"dst_chain_key"`
	SrcTxHash   string          `json:"src_tx_hash,omitempty"`
	DstTxHash   string          `json:"dst_tx_hash,omitempty"`
	Amount      decimal.Decimal `json:"amount"`
	Timestamp   time.Time       `json:"timestamp"`
	UpdatedAt   time.Time       `json:"updated_at"`
	ErrorKind   string          `json:"error_kind,omitempty"`
	Error       string          `json:"error,omitempty"`
}

// NewBridgeTransaction creates a pending record.
func NewBridgeTransaction(srcChainKey, dstChainKey string, amount decimal.Decimal, now time.Time) *BridgeTransaction {
	return &BridgeTransaction{
		ID:          uuid.New(),
		Status:      BridgeStatusPending,
		SrcChainKey: srcChainKey,
		DstChainKey: dstChainKey,
		Amount:      amount,
		Timestamp:   now,
		UpdatedAt:   now,
	}
}

// SetSourceHash stores the submitted transaction hash on a pending record.
func (t *BridgeTransaction) SetSourceHash(hash string, now time.Time) error {
	if t.Status.Terminal() {
		return fmt.Errorf("%w: %s is %s", ErrTerminalState, t.ID, t.Status)
	}
	t.SrcTxHash = hash
	t.UpdatedAt = now
	return nil
}

// Confirm moves a pending record to confirmed.
func (t *BridgeTransaction) Confirm(now time.Time) error {
	if t.Status.Terminal() {
		return fmt.Errorf("%w: %s is %s", ErrTerminalState, t.ID, t.Status)
	}
	t.Status = BridgeStatusConfirmed
	t.UpdatedAt = now
	return nil
}

// Fail moves a pending record to failed.
func (t *BridgeTransaction) Fail(kind, message string, now time.Time) error {
	if t.Status.Terminal() {
		return fmt.Errorf("%w: %s is %s", ErrTerminalState, t.ID, t.Status)
	}
	t.Status = BridgeStatusFailed
	t.ErrorKind = kind
	t.Error = message
	t.UpdatedAt = now
	return nil
}
