// Package precondition makes sure the source account can hold a coin before a bridge
// transaction touching it is submitted.
package precondition

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/aptos-labs/aptos-go-sdk"
	"github.com/rs/zerolog"

	"github.com/Cogwheel-Validator/spectra-aptos-bridge/bridge/bridgeerr"
	"github.com/Cogwheel-Validator/spectra-aptos-bridge/bridge/node"
)

var log zerolog.Logger

func init() {
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	log = zerolog.New(out).With().Timestamp().Str("component", "precondition").Logger()
}

// Chain is the subset of the node client the manager needs.
type Chain interface {
	ResourceExists(ctx context.Context, addr aptos.AccountAddress, resourceType string) (bool, error)
	BuildSignAndSubmit(ctx context.Context, acct *aptos.Account, fn *aptos.EntryFunction, gas node.GasOptions) (string, error)
	WaitForTransaction(ctx context.Context, hash string) (*node.TransactionStatus, error)
}

// DefaultGas is the gas budget of a registration transaction.
var DefaultGas = node.GasOptions{MaxGasAmount: 2000, GasUnitPrice: 100}

var alreadyRegisteredNeedles = []string{
	"ecoin_store_already_published",
	"resource_already_exists",
	"already registered",
	"already exists",
	"already published",
}

// IsAlreadyRegistered reports whether a registration failure only says the store exists.
func IsAlreadyRegistered(text string) bool {
	lower := strings.ToLower(text)
	for _, n := range alreadyRegisteredNeedles {
		if strings.Contains(lower, n) {
			return true
		}
	}
	return false
}

// CoinStoreType returns the resource type an account needs to hold coinType.
func CoinStoreType(coinType aptos.TypeTag) string {
	return "0x1::coin::CoinStore<" + coinType.String() + ">"
}

// RegisterFunction returns the entry function call that publishes the coin store.
func RegisterFunction(coinType aptos.TypeTag) *aptos.EntryFunction {
	return &aptos.EntryFunction{
		Module:   aptos.ModuleId{Address: aptos.AccountOne, Name: "managed_coin"},
		Function: "register",
		ArgTypes: []aptos.TypeTag{coinType},
		Args:     [][]byte{},
	}
}

// Manager checks for and publishes coin stores.
type Manager struct {
	chain Chain
	gas   node.GasOptions
}

// NewManager creates a manager. A zero gas budget uses DefaultGas.
func NewManager(chain Chain, gas node.GasOptions) *Manager {
	if gas.MaxGasAmount == 0 {
		gas.MaxGasAmount = DefaultGas.MaxGasAmount
	}
	if gas.GasUnitPrice == 0 {
		gas.GasUnitPrice = DefaultGas.GasUnitPrice
	}
	return &Manager{chain: chain, gas: gas}
}

// CheckRegistered reports whether acct already holds a coin store for coinType.
func (m *Manager) CheckRegistered(ctx context.Context, acct *aptos.Account, coinType aptos.TypeTag) (bool, error) {
	ok, err := m.chain.ResourceExists(ctx, acct.Address, CoinStoreType(coinType))
	if err != nil {
		return false, fmt.Errorf("failed to check coin store: %w", err)
	}
	return ok, nil
}

// Register publishes the coin store and waits for the transaction to finalize. A failure that
// only reports an existing store counts as success.
func (m *Manager) Register(ctx context.Context, acct *aptos.Account, coinType aptos.TypeTag) error {
	hash, err := m.chain.BuildSignAndSubmit(ctx, acct, RegisterFunction(coinType), m.gas)
	if err != nil {
		if IsAlreadyRegistered(err.Error()) {
			log.Info().Str("account", node.LongAddress(acct.Address)).Str("coin", coinType.String()).Msg("Coin store already registered")
			return nil
		}
		return bridgeerr.Wrap(bridgeerr.ResourcePreconditionFailure, err,
			fmt.Sprintf("failed to submit coin store registration for %s", coinType.String()))
	}

	// Once submitted the registration must be observed to completion.
	status, err := m.chain.WaitForTransaction(context.WithoutCancel(ctx), hash)
	if err != nil {
		return bridgeerr.Wrap(bridgeerr.ResourcePreconditionFailure, err,
			fmt.Sprintf("coin store registration %s did not finalize", hash))
	}
	if !status.Success {
		if IsAlreadyRegistered(status.VMStatus) {
			log.Info().Str("hash", hash).Str("vmStatus", status.VMStatus).Msg("Coin store registered concurrently")
			return nil
		}
		return bridgeerr.Newf(bridgeerr.ResourcePreconditionFailure,
			"coin store registration %s failed: %s", hash, status.VMStatus)
	}

	log.Info().
		Str("account", node.LongAddress(acct.Address)).
		Str("coin", coinType.String()).
		Str("hash", hash).
		Msg("Coin store registered")
	return nil
}

// EnsureRegistered registers the coin store for coinType unless acct already has one.
func (m *Manager) EnsureRegistered(ctx context.Context, acct *aptos.Account, coinType aptos.TypeTag) error {
	ok, err := m.CheckRegistered(ctx, acct, coinType)
	if err != nil {
		return err
	}
	if ok {
		log.Debug().Str("account", node.LongAddress(acct.Address)).Str("coin", coinType.String()).Msg("Coin store present")
		return nil
	}
	return m.Register(ctx, acct, coinType)
}
