package quote

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/Cogwheel-Validator/spectra-aptos-bridge/bridge/bridgeerr"
	"github.com/Cogwheel-Validator/spectra-aptos-bridge/bridge/models"
)

// Catalog answers the support questions the validator asks, normally the registry.
type Catalog interface {
	ChainByKey(ctx context.Context, chainKey string) (models.Chain, bool, error)
	HasTokenAddress(ctx context.Context, address string) (bool, error)
}

// Validator checks a quote request against the aggregator's supported chains and tokens.
type Validator struct {
	catalog Catalog
}

// NewValidator creates a validator backed by catalog.
func NewValidator(catalog Catalog) *Validator {
	return &Validator{catalog: catalog}
}

// Validate runs, in order: chain support, token support, amount > 0, then the integer and route
// sanity checks. Rejections are *bridgeerr.Error values whose reason can be shown as is; catalog
// failures are returned unclassified.
func (v *Validator) Validate(ctx context.Context, req models.BridgeQuoteRequest) error {
	for _, key := range []string{req.SrcChainKey, req.DstChainKey} {
		_, found, err := v.catalog.ChainByKey(ctx, key)
		if err != nil {
			return err
		}
		if !found {
			return bridgeerr.Newf(bridgeerr.UnsupportedRoute, "unsupported chain: %q", key)
		}
	}

	for _, address := range []string{req.SrcToken, req.DstToken} {
		found, err := v.catalog.HasTokenAddress(ctx, address)
		if err != nil {
			return err
		}
		if !found {
			return bridgeerr.Newf(bridgeerr.UnsupportedRoute, "unsupported token: %q", address)
		}
	}

	amount, err := decimal.NewFromString(strings.TrimSpace(req.SrcAmount))
	if err != nil || !amount.IsPositive() {
		return bridgeerr.New(bridgeerr.InvalidAmount, "amount must be greater than 0")
	}
	if !amount.IsInteger() {
		return bridgeerr.New(bridgeerr.InvalidAmount, "amount must be an integer in the token's smallest unit")
	}

	minAmount, err := decimal.NewFromString(strings.TrimSpace(req.DstAmountMin))
	if err != nil || minAmount.IsNegative() || !minAmount.IsInteger() {
		return bridgeerr.Newf(bridgeerr.InvalidAmount, "minimum destination amount %q must be a non-negative integer", req.DstAmountMin)
	}

	if req.SrcChainKey == req.DstChainKey && strings.EqualFold(req.SrcToken, req.DstToken) {
		return bridgeerr.New(bridgeerr.UnsupportedRoute, "source and destination are the same token on the same chain")
	}
	return nil
}
