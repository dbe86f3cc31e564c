// Package submitter signs and submits the reconstructed bridge call and waits for its outcome.
package submitter

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/aptos-labs/aptos-go-sdk"
	"github.com/rs/zerolog"

	"github.com/Cogwheel-Validator/spectra-aptos-bridge/bridge/bridgeerr"
	"github.com/Cogwheel-Validator/spectra-aptos-bridge/bridge/decoder"
	"github.com/Cogwheel-Validator/spectra-aptos-bridge/bridge/node"
	"github.com/Cogwheel-Validator/spectra-aptos-bridge/bridge/reconstruct"
)

var log zerolog.Logger

func init() {
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	log = zerolog.New(out).With().Timestamp().Str("component", "submitter").Logger()
}

// ErrOutcomeUnknown is returned with a Result holding the hash when a transaction reached the
// node but its finality could not be observed. The transaction may still confirm or fail.
var ErrOutcomeUnknown = errors.New("transaction submitted but its outcome is unknown")

// Chain is the subset of the node client the submitter needs.
type Chain interface {
	BuildSignAndSubmit(ctx context.Context, acct *aptos.Account, fn *aptos.EntryFunction, gas node.GasOptions) (string, error)
	WaitForTransaction(ctx context.Context, hash string) (*node.TransactionStatus, error)
}

// Result is the outcome of a transaction that reached the chain. A reverted transaction is a
// Result with Success false, not an error.
type Result struct {
	Hash     string
	Success  bool
	VMStatus string
	Version  uint64
	GasUsed  uint64
}

// GasFromCall returns the gas budget and price of the aggregator's envelope.
func GasFromCall(call *decoder.DecodedCall) node.GasOptions {
	return node.GasOptions{
		MaxGasAmount: call.MaxGasAmount,
		GasUnitPrice: call.GasUnitPrice,
	}
}

// Submitter submits reconstructed calls.
type Submitter struct {
	chain Chain
}

// New creates a submitter.
func New(chain Chain) *Submitter {
	return &Submitter{chain: chain}
}

// Submit calls the decoded call's target with args and the given gas settings, signed by acct,
// then blocks until the transaction is final. Errors before submission are classified and carry
// no hash. Once submitted, ctx cancellation no longer stops the wait; a wait failure is
// returned as ErrOutcomeUnknown together with a Result holding the hash.
func (s *Submitter) Submit(ctx context.Context, acct *aptos.Account, call *decoder.DecodedCall,
	args reconstruct.Arguments, gas node.GasOptions) (*Result, error) {
	encoded, err := args.Encode()
	if err != nil {
		return nil, bridgeerr.Wrap(bridgeerr.MalformedPayload, err, "cannot encode bridge arguments")
	}
	fn := call.WithArguments(encoded)

	hash, err := s.chain.BuildSignAndSubmit(ctx, acct, fn, gas)
	if err != nil {
		classified := bridgeerr.Classify(err)
		log.Error().
			Err(err).
			Str("kind", string(classified.Kind)).
			Str("function", node.FunctionName(fn)).
			Msg("Bridge submission failed")
		return nil, classified
	}
	log.Info().
		Str("hash", hash).
		Str("function", node.FunctionName(fn)).
		Strs("args", args.Strings()).
		Msg("Bridge transaction submitted")

	status, err := s.chain.WaitForTransaction(context.WithoutCancel(ctx), hash)
	if err != nil {
		log.Error().Err(err).Str("hash", hash).Msg("Bridge transaction finality unknown")
		return &Result{Hash: hash}, fmt.Errorf("transaction %s: %w: %w", hash, ErrOutcomeUnknown, err)
	}

	res := &Result{
		Hash:     status.Hash,
		Success:  status.Success,
		VMStatus: status.VMStatus,
		Version:  status.Version,
		GasUsed:  status.GasUsed,
	}
	if res.Hash == "" {
		res.Hash = hash
	}
	if !res.Success {
		log.Warn().Str("hash", hash).Str("vmStatus", res.VMStatus).Msg("Bridge transaction reverted")
	}
	return res, nil
}
