package models

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// NativeCurrency is the gas token of a chain
type NativeCurrency struct {
	ChainKey string `json:"chainKey,omitempty"`
	Name     string `json:"name,omitempty"`
	Symbol   string `json:"symbol"`             // e.g., "APT"
	Decimals int32  `json:"decimals"`           // e.g., 8
	Address  string `json:"address,omitempty"` // Token address of the native currency, if any
}

// Chain is one chain supported by the aggregator
type Chain struct {
	ChainID        int64          `json:"chainId"`             // EVM style numeric id, e.g., 56
	ChainKey       string         `json:"chainKey"`            // Aggregator key, e.g., "bsc"
	ChainType      string         `json:"chainType,omitempty"` // e.g., "evm", "aptos"
	Name           string         `json:"name,omitempty"`
	ShortName      string         `json:"shortName,omitempty"`
	NativeCurrency NativeCurrency `json:"nativeCurrency"`
}

// Token is one token the aggregator can route
type Token struct {
	ChainKey     string `json:"chainKey"`
	Address      string `json:"address"` // Contract address or Move coin type
	Symbol       string `json:"symbol"`
	Name         string `json:"name"`
	Decimals     int32  `json:"decimals"`
	IsBridgeable bool   `json:"isBridgeable"`
}

// BridgeQuoteRequest holds the query of GET /quotes. Amounts are integer strings already scaled
// to the token's smallest unit.
type BridgeQuoteRequest struct {
	SrcChainKey  string `json:"srcChainKey"`
	DstChainKey  string `json:"dstChainKey"`
	SrcToken     string `json:"srcToken"`
	DstToken     string `json:"dstToken"`
	SrcAddress   string `json:"srcAddress"`
	DstAddress   string `json:"dstAddress"`
	SrcAmount    string `json:"srcAmount"`
	DstAmountMin string `json:"dstAmountMin"`
}

// Fee is one fee entry of a quote
type Fee struct {
	Token    string `json:"token"`
	ChainKey string `json:"chainKey"`
	Amount   string `json:"amount"` // Smallest unit integer string
	Type     string `json:"type"`   // e.g., "message"
}

// StepTransaction is the transaction a step asks the caller to execute
type StepTransaction struct {
	Data  string `json:"data"` // Hex encoded transaction payload
	To    string `json:"to,omitempty"`
	From  string `json:"from,omitempty"`
	Value string `json:"value,omitempty"`
}

// Step is one execution step of a quote
type Step struct {
	Type        string          `json:"type"` // e.g., "bridge", "approve"
	Sender      string          `json:"sender"`
	ChainKey    string          `json:"chainKey"`
	Transaction StepTransaction `json:"transaction"`
}

// QuoteError is set by the aggregator on quotes it could not build
type QuoteError struct {
	Message string `json:"message"`
}

// QuoteDuration is the aggregator's delivery estimate
type QuoteDuration struct {
	Estimated float64 `json:"estimated"` // Seconds
}

// StargateQuote is one candidate route returned by GET /quotes
type StargateQuote struct {
	Route           string         `json:"route,omitempty"` // e.g., "stargate/v2/taxi"
	Error           *QuoteError    `json:"error,omitempty"`
	SrcToken        string         `json:"srcToken"`
	DstToken        string         `json:"dstToken"`
	SrcAddress      string         `json:"srcAddress"`
	DstAddress      string         `json:"dstAddress"`
	SrcChainKey     string         `json:"srcChainKey"`
	DstChainKey     string         `json:"dstChainKey"`
	SrcAmount       string         `json:"srcAmount"`
	SrcAmountMax    string         `json:"srcAmountMax,omitempty"`
	DstAmount       string         `json:"dstAmount,omitempty"`
	DstAmountMin    string         `json:"dstAmountMin"`
	DstNativeAmount string         `json:"dstNativeAmount,omitempty"`
	Duration        *QuoteDuration `json:"duration,omitempty"`
	Fees            []Fee          `json:"fees,omitempty"`
	Steps           []Step         `json:"steps,omitempty"`
}

// Usable reports whether the aggregator built the quote without an error
func (q StargateQuote) Usable() bool {
	return q.Error == nil
}

// TotalFee sums every fee paid in token on chainKey. Token matching is case-insensitive; an
// empty token matches all fees on the chain.
func (q StargateQuote) TotalFee(chainKey, token string) (decimal.Decimal, error) {
	total := decimal.Zero
	for i, fee := range q.Fees {
		if fee.ChainKey != chainKey {
			continue
		}
		if token != "" && !strings.EqualFold(fee.Token, token) {
			continue
		}
		amount, err := decimal.NewFromString(fee.Amount)
		if err != nil {
			return decimal.Zero, fmt.Errorf("fee %d has invalid amount %q: %w", i, fee.Amount, err)
		}
		total = total.Add(amount)
	}
	return total, nil
}

// ToBaseUnits scales a human amount such as "1.5" by 10^decimals. Amounts that do not fit the
// token's precision are rejected rather than rounded.
func ToBaseUnits(human string, decimals int32) (string, error) {
	if decimals < 0 {
		return "", fmt.Errorf("invalid decimals %d", decimals)
	}
	d, err := decimal.NewFromString(strings.TrimSpace(human))
	if err != nil {
		return "", fmt.Errorf("invalid amount %q: %w", human, err)
	}
	scaled := d.Shift(decimals)
	if !scaled.Equal(scaled.Truncate(0)) {
		return "", fmt.Errorf("amount %q has more than %d decimal places", human, decimals)
	}
	return scaled.String(), nil
}
