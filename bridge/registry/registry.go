// Package registry caches the aggregator's chain and token lists and answers lookups on them.
package registry

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/Cogwheel-Validator/spectra-aptos-bridge/bridge/models"
)

var log zerolog.Logger

func init() {
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	log = zerolog.New(out).With().Timestamp().Str("component", "registry").Logger()
}

// DefaultTTL is how long fetched lists are served from cache.
const DefaultTTL = 60 * time.Second

const (
	chainsKey = "chains"
	tokensKey = "tokens"
)

// Source fetches the raw lists, normally the aggregator client.
type Source interface {
	ListChains(ctx context.Context) ([]models.Chain, error)
	ListTokens(ctx context.Context) ([]models.Token, error)
}

// Registry is a TTL cache in front of a Source. Fetch failures are returned as is; the registry
// never retries.
type Registry struct {
	source Source
	chains *expirable.LRU[string, []models.Chain]
	tokens *expirable.LRU[string, []models.Token]
	group  singleflight.Group
}

// New creates a registry. A non-positive ttl uses DefaultTTL.
func New(source Source, ttl time.Duration) *Registry {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Registry{
		source: source,
		chains: expirable.NewLRU[string, []models.Chain](1, nil, ttl),
		tokens: expirable.NewLRU[string, []models.Token](1, nil, ttl),
	}
}

// ListChains returns every supported chain.
func (r *Registry) ListChains(ctx context.Context) ([]models.Chain, error) {
	if chains, ok := r.chains.Get(chainsKey); ok {
		return chains, nil
	}
	chains, err := shared(ctx, &r.group, chainsKey, func(ctx context.Context) ([]models.Chain, error) {
		chains, err := r.source.ListChains(ctx)
		if err != nil {
			return nil, err
		}
		r.chains.Add(chainsKey, chains)
		log.Debug().Int("chains", len(chains)).Msg("Chain list refreshed")
		return chains, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list chains: %w", err)
	}
	return chains, nil
}

// ListTokens returns every supported token across all chains.
func (r *Registry) ListTokens(ctx context.Context) ([]models.Token, error) {
	if tokens, ok := r.tokens.Get(tokensKey); ok {
		return tokens, nil
	}
	tokens, err := shared(ctx, &r.group, tokensKey, func(ctx context.Context) ([]models.Token, error) {
		tokens, err := r.source.ListTokens(ctx)
		if err != nil {
			return nil, err
		}
		r.tokens.Add(tokensKey, tokens)
		log.Debug().Int("tokens", len(tokens)).Msg("Token list refreshed")
		return tokens, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list tokens: %w", err)
	}
	return tokens, nil
}

// shared runs fetch once for all concurrent callers of key. The fetch does not inherit the
// cancellation of whichever caller started it; each caller stops waiting when its own ctx ends.
func shared[T any](ctx context.Context, group *singleflight.Group, key string, fetch func(ctx context.Context) (T, error)) (T, error) {
	flight := context.WithoutCancel(ctx)
	ch := group.DoChan(key, func() (any, error) {
		v, err := fetch(flight)
		if err != nil {
			return nil, err
		}
		return v, nil
	})

	var zero T
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		return res.Val.(T), nil
	}
}

// ChainByKey looks up a chain by its aggregator key. A missing chain is not an error.
func (r *Registry) ChainByKey(ctx context.Context, chainKey string) (models.Chain, bool, error) {
	chains, err := r.ListChains(ctx)
	if err != nil {
		return models.Chain{}, false, err
	}
	for _, c := range chains {
		if c.ChainKey == chainKey {
			return c, true, nil
		}
	}
	return models.Chain{}, false, nil
}

// TokensByChain returns the tokens of one chain.
func (r *Registry) TokensByChain(ctx context.Context, chainKey string) ([]models.Token, error) {
	tokens, err := r.ListTokens(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]models.Token, 0)
	for _, t := range tokens {
		if t.ChainKey == chainKey {
			out = append(out, t)
		}
	}
	return out, nil
}

// TokenBySymbolAndChain finds a token by case-insensitive symbol on exactly chainKey.
func (r *Registry) TokenBySymbolAndChain(ctx context.Context, symbol, chainKey string) (models.Token, bool, error) {
	tokens, err := r.ListTokens(ctx)
	if err != nil {
		return models.Token{}, false, err
	}
	for _, t := range tokens {
		if t.ChainKey == chainKey && strings.EqualFold(t.Symbol, symbol) {
			return t, true, nil
		}
	}
	return models.Token{}, false, nil
}

// TokenByAddress finds a token by case-insensitive address on exactly chainKey.
func (r *Registry) TokenByAddress(ctx context.Context, chainKey, address string) (models.Token, bool, error) {
	tokens, err := r.ListTokens(ctx)
	if err != nil {
		return models.Token{}, false, err
	}
	for _, t := range tokens {
		if t.ChainKey == chainKey && strings.EqualFold(t.Address, address) {
			return t, true, nil
		}
	}
	return models.Token{}, false, nil
}

// ResolveToken looks a token up on chainKey by address first, then by symbol.
func (r *Registry) ResolveToken(ctx context.Context, chainKey, symbolOrAddress string) (models.Token, bool, error) {
	t, ok, err := r.TokenByAddress(ctx, chainKey, symbolOrAddress)
	if err != nil || ok {
		return t, ok, err
	}
	return r.TokenBySymbolAndChain(ctx, symbolOrAddress, chainKey)
}

// HasTokenAddress reports whether any chain lists a token with this address (case-insensitive).
func (r *Registry) HasTokenAddress(ctx context.Context, address string) (bool, error) {
	tokens, err := r.ListTokens(ctx)
	if err != nil {
		return false, err
	}
	for _, t := range tokens {
		if strings.EqualFold(t.Address, address) {
			return true, nil
		}
	}
	return false, nil
}

// Warm fetches both lists so later lookups hit the cache.
func (r *Registry) Warm(ctx context.Context) error {
	if _, err := r.ListChains(ctx); err != nil {
		return err
	}
	_, err := r.ListTokens(ctx)
	return err
}

// Warmed reports whether both lists are currently cached.
func (r *Registry) Warmed() bool {
	return r.chains.Contains(chainsKey) && r.tokens.Contains(tokensKey)
}

// Invalidate drops the cached lists.
func (r *Registry) Invalidate() {
	r.chains.Purge()
	r.tokens.Purge()
}
