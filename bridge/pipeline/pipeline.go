// Package pipeline wires quoting, decoding, argument reconstruction, coin store registration and
// submission into the two operations callers use: GetBridgeQuote and ExecuteBridgeFromAptos.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/aptos-labs/aptos-go-sdk"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Cogwheel-Validator/spectra-aptos-bridge/bridge/bridgeerr"
	"github.com/Cogwheel-Validator/spectra-aptos-bridge/bridge/decoder"
	"github.com/Cogwheel-Validator/spectra-aptos-bridge/bridge/models"
	"github.com/Cogwheel-Validator/spectra-aptos-bridge/bridge/node"
	"github.com/Cogwheel-Validator/spectra-aptos-bridge/bridge/reconstruct"
	"github.com/Cogwheel-Validator/spectra-aptos-bridge/bridge/submitter"
)

var log zerolog.Logger

func init() {
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	log = zerolog.New(out).With().Timestamp().Str("component", "pipeline").Logger()
}

// SetLogger allows setting a custom logger
func SetLogger(l zerolog.Logger) {
	log = l.With().Str("component", "pipeline").Logger()
}

// AptosChainKey is the aggregator key of the only source chain ExecuteBridgeFromAptos accepts.
const AptosChainKey = "aptos"

// QuoteService validates requests and picks a quote.
type QuoteService interface {
	GetBridgeQuote(ctx context.Context, req models.BridgeQuoteRequest) (models.StargateQuote, error)
}

// Preconditions makes sure the account can hold the source coin.
type Preconditions interface {
	EnsureRegistered(ctx context.Context, acct *aptos.Account, coinType aptos.TypeTag) error
}

// Submitter submits the reconstructed call and waits for finality.
type Submitter interface {
	Submit(ctx context.Context, acct *aptos.Account, call *decoder.DecodedCall,
		args reconstruct.Arguments, gas node.GasOptions) (*submitter.Result, error)
}

// Finality looks up the final status of a submitted transaction.
type Finality interface {
	WaitForTransaction(ctx context.Context, hash string) (*node.TransactionStatus, error)
}

// CoinResolver maps an aggregator token to a Move coin type.
type CoinResolver interface {
	CoinType(chainKey, token string) (string, bool)
}

// Options are the collaborators of a Pipeline. Coins, Finality and Tracker are optional;
// without Finality pending records cannot be reconciled.
type Options struct {
	Quotes        QuoteService
	Preconditions Preconditions
	Submitter     Submitter
	Coins         CoinResolver
	Finality      Finality
	Tracker       *Tracker
}

// Pipeline runs bridge requests. Callers must not run two executions for the same account at
// the same time; the chain rejects the second one on its sequence number.
type Pipeline struct {
	quotes        QuoteService
	preconditions Preconditions
	submitter     Submitter
	coins         CoinResolver
	finality      Finality
	tracker       *Tracker
	inst          *instruments
}

// New creates a pipeline.
func New(opts Options) (*Pipeline, error) {
	if opts.Quotes == nil || opts.Preconditions == nil || opts.Submitter == nil {
		return nil, errors.New("pipeline needs a quote service, a precondition manager and a submitter")
	}
	inst, err := newInstruments()
	if err != nil {
		return nil, fmt.Errorf("failed to create instruments: %w", err)
	}
	tracker := opts.Tracker
	if tracker == nil {
		tracker = NewTracker()
	}
	return &Pipeline{
		quotes:        opts.Quotes,
		preconditions: opts.Preconditions,
		submitter:     opts.Submitter,
		coins:         opts.Coins,
		finality:      opts.Finality,
		tracker:       tracker,
		inst:          inst,
	}, nil
}

// Tracker returns the record store of the pipeline.
func (p *Pipeline) Tracker() *Tracker {
	return p.tracker
}

// ExecuteResult is the outcome of a bridge transaction that was submitted. Failure is set when
// the chain finalized the transaction as failed.
type ExecuteResult struct {
	Hash     string
	Success  bool
	VMStatus string
	Failure  *bridgeerr.Error
	Record   models.BridgeTransaction
}

// GetBridgeQuote validates req and returns the first usable aggregator quote.
func (p *Pipeline) GetBridgeQuote(ctx context.Context, req models.BridgeQuoteRequest) (models.StargateQuote, error) {
	ctx, span := p.inst.tracer.Start(ctx, "bridge.quote", trace.WithAttributes(
		attribute.String("bridge.src_chain", req.SrcChainKey),
		attribute.String("bridge.dst_chain", req.DstChainKey),
	))
	defer span.End()

	q, err := p.quotes.GetBridgeQuote(ctx, req)
	if err != nil {
		kind := bridgeerr.KindOf(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, string(kind))
		p.inst.recordQuote(ctx, string(kind))
		return models.StargateQuote{}, err
	}
	p.inst.recordQuote(ctx, "ok")
	span.SetAttributes(attribute.Int("bridge.steps", len(q.Steps)))
	return q, nil
}

// ExecuteBridgeFromAptos decodes the first step of q, rebuilds its arguments, registers the
// source coin store when missing, then submits and waits for finality. Every call creates a new
// BridgeTransaction record. Errors before the chain is reached are returned as classified
// errors; a transaction that reached the chain always yields a result with its hash. When its
// finality cannot be observed the record stays pending and the error wraps
// submitter.ErrOutcomeUnknown.
func (p *Pipeline) ExecuteBridgeFromAptos(ctx context.Context, acct *aptos.Account, q models.StargateQuote) (*ExecuteResult, error) {
	started := time.Now()
	ctx, span := p.inst.tracer.Start(ctx, "bridge.execute", trace.WithAttributes(
		attribute.String("bridge.src_chain", q.SrcChainKey),
		attribute.String("bridge.dst_chain", q.DstChainKey),
		attribute.String("bridge.account", node.LongAddress(acct.Address)),
	))
	defer span.End()

	amount, amountErr := decimal.NewFromString(q.SrcAmount)
	if amountErr != nil {
		amount = decimal.Zero
	}
	rec := p.tracker.Start(q.SrcChainKey, q.DstChainKey, amount)
	span.SetAttributes(attribute.String("bridge.record", rec.ID.String()))

	fail := func(err error, hash string) (*ExecuteResult, error) {
		classified := bridgeerr.Classify(err)
		if hash != "" {
			if _, herr := p.tracker.SetSourceHash(rec.ID, hash); herr != nil {
				log.Warn().Err(herr).Str("record", rec.ID.String()).Msg("Failed to store source hash")
			}
		}
		final, ferr := p.tracker.Fail(rec.ID, string(classified.Kind), classified.UserMessage())
		if ferr != nil {
			log.Warn().Err(ferr).Str("record", rec.ID.String()).Msg("Failed to mark record failed")
		}
		log.Error().
			Err(err).
			Str("record", rec.ID.String()).
			Str("kind", string(classified.Kind)).
			Str("hash", hash).
			Msg("Bridge execution failed")
		span.RecordError(err)
		span.SetStatus(codes.Error, string(classified.Kind))
		p.inst.recordExecution(ctx, "error", string(classified.Kind), started)
		if hash != "" {
			return &ExecuteResult{Hash: hash, Record: final}, classified
		}
		return nil, classified
	}

	if amountErr != nil || !amount.IsPositive() {
		return fail(bridgeerr.Newf(bridgeerr.InvalidAmount, "quote amount %q must be greater than 0", q.SrcAmount), "")
	}
	if q.SrcChainKey != AptosChainKey {
		return fail(bridgeerr.Newf(bridgeerr.UnsupportedRoute, "quote source chain %q is not %s", q.SrcChainKey, AptosChainKey), "")
	}
	if len(q.Steps) == 0 {
		return fail(bridgeerr.New(bridgeerr.MalformedPayload, "quote has no execution steps"), "")
	}
	step := q.Steps[0]
	if step.Transaction.Data == "" {
		return fail(bridgeerr.New(bridgeerr.MalformedPayload, "first quote step has no transaction data"), "")
	}

	_, decodeSpan := p.inst.tracer.Start(ctx, "bridge.decode")
	call, err := decoder.Decode(step.Transaction.Data)
	decodeSpan.End()
	if err != nil {
		return fail(err, "")
	}
	if call.Sender != acct.Address {
		log.Warn().
			Str("payloadSender", node.LongAddress(call.Sender)).
			Str("account", node.LongAddress(acct.Address)).
			Msg("Quote was built for another sender, submitting from the given account")
	}

	args, err := reconstruct.Reconstruct(call.RawArguments, q)
	if err != nil {
		return fail(err, "")
	}
	log.Debug().
		Str("function", call.FullName()).
		Strs("typeArgs", call.TypeArgumentStrings()).
		Strs("args", args.Strings()).
		Msg("Bridge call reconstructed")

	coinType, err := p.resolveCoinType(q, call)
	if err != nil {
		return fail(err, "")
	}
	pctx, preSpan := p.inst.tracer.Start(ctx, "bridge.precondition",
		trace.WithAttributes(attribute.String("bridge.coin_type", coinType.String())))
	err = p.preconditions.EnsureRegistered(pctx, acct, coinType)
	preSpan.End()
	if err != nil {
		if !bridgeerr.Is(err, bridgeerr.ResourcePreconditionFailure) {
			err = bridgeerr.Wrap(bridgeerr.ResourcePreconditionFailure, err, "cannot verify coin store")
		}
		return fail(err, "")
	}

	sctx, submitSpan := p.inst.tracer.Start(ctx, "bridge.submit")
	res, err := p.submitter.Submit(sctx, acct, call, args, submitter.GasFromCall(call))
	submitSpan.End()
	if err != nil {
		hash := ""
		if res != nil {
			hash = res.Hash
		}
		if hash != "" && errors.Is(err, submitter.ErrOutcomeUnknown) {
			return p.leavePending(ctx, span, rec.ID, hash, err, started)
		}
		return fail(err, hash)
	}

	if _, err := p.tracker.SetSourceHash(rec.ID, res.Hash); err != nil {
		log.Warn().Err(err).Str("record", rec.ID.String()).Msg("Failed to store source hash")
	}
	span.SetAttributes(attribute.String("bridge.hash", res.Hash))

	result := &ExecuteResult{
		Hash:     res.Hash,
		Success:  res.Success,
		VMStatus: res.VMStatus,
	}
	if !res.Success {
		kind := bridgeerr.ClassifyVMStatus(res.VMStatus)
		if kind == "" {
			kind = bridgeerr.Unknown
		}
		result.Failure = &bridgeerr.Error{Kind: kind, Reason: res.VMStatus}
		result.Record, err = p.tracker.Fail(rec.ID, string(kind), result.Failure.UserMessage())
		if err != nil {
			log.Warn().Err(err).Str("record", rec.ID.String()).Msg("Failed to mark record failed")
		}
		span.SetStatus(codes.Error, string(kind))
		p.inst.recordExecution(ctx, "reverted", string(kind), started)
		log.Warn().
			Str("record", rec.ID.String()).
			Str("hash", res.Hash).
			Str("vmStatus", res.VMStatus).
			Str("kind", string(kind)).
			Msg("Bridge transaction reverted")
		return result, nil
	}

	result.Record, err = p.tracker.Confirm(rec.ID)
	if err != nil {
		log.Warn().Err(err).Str("record", rec.ID.String()).Msg("Failed to mark record confirmed")
	}
	p.inst.recordExecution(ctx, "confirmed", "", started)
	log.Info().
		Str("record", rec.ID.String()).
		Str("hash", res.Hash).
		Dur("took", time.Since(started)).
		Msg("Bridge transaction confirmed")
	return result, nil
}

// leavePending keeps a submitted transaction whose finality could not be observed as pending
// with its hash, so Reconcile can settle it later. The transaction may still land on chain.
func (p *Pipeline) leavePending(ctx context.Context, span trace.Span, id uuid.UUID, hash string, err error, started time.Time) (*ExecuteResult, error) {
	rec, herr := p.tracker.SetSourceHash(id, hash)
	if herr != nil {
		log.Warn().Err(herr).Str("record", id.String()).Msg("Failed to store source hash")
	}
	classified := bridgeerr.Classify(err)
	span.SetAttributes(attribute.String("bridge.hash", hash))
	span.RecordError(err)
	span.SetStatus(codes.Error, "outcome unknown")
	p.inst.recordExecution(ctx, "unknown", string(classified.Kind), started)
	log.Warn().
		Err(err).
		Str("record", id.String()).
		Str("hash", hash).
		Msg("Bridge transaction submitted but not seen final, record left pending")
	return &ExecuteResult{Hash: hash, Record: rec}, classified
}

// Reconcile settles a pending record that has a source hash by waiting for its transaction
// again. Terminal records are returned unchanged. When finality still cannot be observed the
// record stays pending and the error wraps submitter.ErrOutcomeUnknown.
func (p *Pipeline) Reconcile(ctx context.Context, id uuid.UUID) (models.BridgeTransaction, error) {
	rec, ok := p.tracker.Get(id)
	if !ok {
		return models.BridgeTransaction{}, fmt.Errorf("bridge transaction %s not found", id)
	}
	if rec.Status.Terminal() {
		return rec, nil
	}
	if rec.SrcTxHash == "" {
		return rec, fmt.Errorf("bridge transaction %s was never submitted", id)
	}
	if p.finality == nil {
		return rec, errors.New("pipeline has no finality source")
	}

	status, err := p.finality.WaitForTransaction(ctx, rec.SrcTxHash)
	if err != nil {
		return rec, fmt.Errorf("transaction %s: %w: %w", rec.SrcTxHash, submitter.ErrOutcomeUnknown, err)
	}
	if status.Success {
		rec, err = p.tracker.Confirm(id)
		if err == nil {
			log.Info().Str("record", id.String()).Str("hash", rec.SrcTxHash).Msg("Pending bridge transaction confirmed")
		}
		return rec, err
	}
	kind := bridgeerr.ClassifyVMStatus(status.VMStatus)
	if kind == "" {
		kind = bridgeerr.Unknown
	}
	failure := &bridgeerr.Error{Kind: kind, Reason: status.VMStatus}
	rec, err = p.tracker.Fail(id, string(kind), failure.UserMessage())
	if err == nil {
		log.Warn().
			Str("record", id.String()).
			Str("hash", rec.SrcTxHash).
			Str("vmStatus", status.VMStatus).
			Msg("Pending bridge transaction reverted")
	}
	return rec, err
}

// resolveCoinType picks the coin whose store must exist: the call's first type argument, then
// the configured mapping for the source token, then the source token itself when it is a Move
// struct tag.
func (p *Pipeline) resolveCoinType(q models.StargateQuote, call *decoder.DecodedCall) (aptos.TypeTag, error) {
	if len(call.TypeArguments) > 0 {
		if _, ok := call.TypeArguments[0].Value.(*aptos.StructTag); ok {
			return call.TypeArguments[0], nil
		}
	}
	if p.coins != nil {
		if mapped, ok := p.coins.CoinType(q.SrcChainKey, q.SrcToken); ok {
			tag, err := aptos.ParseTypeTag(mapped)
			if err != nil {
				return aptos.TypeTag{}, bridgeerr.Wrap(bridgeerr.ResourcePreconditionFailure, err,
					fmt.Sprintf("configured coin type %q is invalid", mapped))
			}
			return *tag, nil
		}
	}
	if strings.Contains(q.SrcToken, "::") {
		if tag, err := aptos.ParseTypeTag(q.SrcToken); err == nil {
			if _, ok := tag.Value.(*aptos.StructTag); ok {
				return *tag, nil
			}
		}
	}
	return aptos.TypeTag{}, bridgeerr.Newf(bridgeerr.ResourcePreconditionFailure,
		"cannot determine the coin type of source token %q", q.SrcToken)
}
