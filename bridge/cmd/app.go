package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/Cogwheel-Validator/spectra-aptos-bridge/bridge/config"
	"github.com/Cogwheel-Validator/spectra-aptos-bridge/bridge/models"
	"github.com/Cogwheel-Validator/spectra-aptos-bridge/bridge/node"
	"github.com/Cogwheel-Validator/spectra-aptos-bridge/bridge/pipeline"
	"github.com/Cogwheel-Validator/spectra-aptos-bridge/bridge/precondition"
	"github.com/Cogwheel-Validator/spectra-aptos-bridge/bridge/quote"
	"github.com/Cogwheel-Validator/spectra-aptos-bridge/bridge/registry"
	"github.com/Cogwheel-Validator/spectra-aptos-bridge/bridge/stargate"
	"github.com/Cogwheel-Validator/spectra-aptos-bridge/bridge/submitter"
)

// app holds the components every command shares.
type app struct {
	stargate *stargate.Client
	registry *registry.Registry
	quotes   *quote.Service
	chain    *node.Client
	pipeline *pipeline.Pipeline
}

func newApp(ctx context.Context, cfg *config.BridgeConfig) (*app, error) {
	sg, err := stargate.NewClient(stargate.ClientConfig{
		BaseURL:           cfg.Stargate.BaseURL,
		Timeout:           cfg.Stargate.Timeout,
		RequestsPerSecond: cfg.Stargate.RequestsPerSecond,
		Burst:             cfg.Stargate.Burst,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create stargate client: %w", err)
	}

	reg := registry.New(sg, cfg.Registry.TTL)
	quotes := quote.NewService(reg, sg)

	chain := node.NewClient(node.ClientConfig{
		NodeURL:         cfg.Aptos.NodeURL,
		Timeout:         cfg.Aptos.Timeout,
		TxExpiration:    cfg.Aptos.TxExpiration,
		FinalityTimeout: cfg.Aptos.FinalityTimeout,
		PollInterval:    cfg.Aptos.PollInterval,
	})

	var coins *config.CoinRegistry
	if src := cfg.Registry.CoinRegistrySource; src != "" {
		coins, err = config.FetchCoinRegistry(ctx, src)
		if err != nil {
			return nil, err
		}
		log.Info().Str("source", src).Int("coins", coins.Len()).Msg("loaded coin registry")
	}

	pipe, err := pipeline.New(pipeline.Options{
		Quotes: quotes,
		Preconditions: precondition.NewManager(chain, node.GasOptions{
			MaxGasAmount: cfg.Aptos.RegistrationMaxGas,
			GasUnitPrice: cfg.Aptos.RegistrationGasPrice,
		}),
		Submitter: submitter.New(chain),
		Coins:     coins,
		Finality:  chain,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline: %w", err)
	}

	return &app{
		stargate: sg,
		registry: reg,
		quotes:   quotes,
		chain:    chain,
		pipeline: pipe,
	}, nil
}

// resolveToken accepts a token address or a symbol on chainKey.
func (a *app) resolveToken(ctx context.Context, chainKey, symbolOrAddress string) (models.Token, error) {
	tok, found, err := a.registry.ResolveToken(ctx, chainKey, symbolOrAddress)
	if err != nil {
		return models.Token{}, err
	}
	if !found {
		return models.Token{}, fmt.Errorf("token %q not found on chain %q", symbolOrAddress, chainKey)
	}
	return tok, nil
}

// quoteArgs are the flags shared by quote and execute.
type quoteArgs struct {
	srcChain       string
	dstChain       string
	srcToken       string
	dstToken       string
	amount         string
	humanAmount    string
	minAmount      string
	humanMinAmount string
	srcAddress     string
	dstAddress     string
}

func (q *quoteArgs) request(ctx context.Context, a *app) (models.BridgeQuoteRequest, error) {
	if q.srcChain == "" || q.dstChain == "" {
		return models.BridgeQuoteRequest{}, errors.New("--src-chain and --dst-chain are required")
	}
	if q.dstAddress == "" {
		return models.BridgeQuoteRequest{}, errors.New("--dst-address is required")
	}

	src, err := a.resolveToken(ctx, q.srcChain, q.srcToken)
	if err != nil {
		return models.BridgeQuoteRequest{}, err
	}
	dst, err := a.resolveToken(ctx, q.dstChain, q.dstToken)
	if err != nil {
		return models.BridgeQuoteRequest{}, err
	}

	amount, err := pickAmount("amount", q.amount, q.humanAmount, src.Decimals)
	if err != nil {
		return models.BridgeQuoteRequest{}, err
	}
	minAmount, err := pickAmount("min-amount", q.minAmount, q.humanMinAmount, dst.Decimals)
	if err != nil {
		return models.BridgeQuoteRequest{}, err
	}

	return models.BridgeQuoteRequest{
		SrcChainKey:  q.srcChain,
		DstChainKey:  q.dstChain,
		SrcToken:     src.Address,
		DstToken:     dst.Address,
		SrcAddress:   q.srcAddress,
		DstAddress:   q.dstAddress,
		SrcAmount:    amount,
		DstAmountMin: minAmount,
	}, nil
}

// pickAmount takes exactly one of the base-unit flag and its --human-* twin.
func pickAmount(name, base, human string, decimals int32) (string, error) {
	switch {
	case base != "" && human != "":
		return "", fmt.Errorf("--%s and --human-%s are mutually exclusive", name, name)
	case base != "":
		return base, nil
	case human != "":
		return models.ToBaseUnits(human, decimals)
	default:
		return "", fmt.Errorf("one of --%s or --human-%s is required", name, name)
	}
}
