package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	getter "github.com/hashicorp/go-getter"
	"github.com/pelletier/go-toml/v2"
)

// CoinEntry maps one aggregator token on one chain to its Move coin type.
type CoinEntry struct {
	ChainKey string `toml:"chain_key"`
	Token    string `toml:"token"` // Aggregator token address or symbol
	CoinType string `toml:"coin_type"`
}

type coinFile struct {
	Coins []CoinEntry `toml:"coins"`
}

// CoinRegistry resolves aggregator tokens to Move coin types.
type CoinRegistry struct {
	entries map[string]string
}

func coinKey(chainKey, token string) string {
	return chainKey + "|" + strings.ToLower(token)
}

// NewCoinRegistry builds a registry from entries. Entries missing a field are rejected.
func NewCoinRegistry(entries []CoinEntry) (*CoinRegistry, error) {
	r := &CoinRegistry{entries: make(map[string]string, len(entries))}
	for i, e := range entries {
		if e.ChainKey == "" || e.Token == "" || e.CoinType == "" {
			return nil, fmt.Errorf("coin entry %d: chain_key, token and coin_type are required", i)
		}
		if !strings.Contains(e.CoinType, "::") {
			return nil, fmt.Errorf("coin entry %d: %q is not a Move type", i, e.CoinType)
		}
		r.entries[coinKey(e.ChainKey, e.Token)] = e.CoinType
	}
	return r, nil
}

// CoinType returns the Move coin type registered for the token. The token match ignores case.
func (r *CoinRegistry) CoinType(chainKey, token string) (string, bool) {
	if r == nil {
		return "", false
	}
	t, ok := r.entries[coinKey(chainKey, token)]
	return t, ok
}

// Len returns the number of mappings.
func (r *CoinRegistry) Len() int {
	return len(r.entries)
}

// LoadCoinRegistryFile parses a coin registry TOML file.
func LoadCoinRegistryFile(filePath string) (*CoinRegistry, error) {
	if !strings.HasSuffix(filePath, ".toml") {
		return nil, fmt.Errorf("coin registry must be a .toml file: %s", filePath)
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read coin registry %s: %w", filePath, err)
	}

	var file coinFile
	if err := toml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse coin registry %s: %w", filePath, err)
	}
	return NewCoinRegistry(file.Coins)
}

// FetchCoinRegistry downloads the coin registry from any go-getter source (local path, https
// URL, git) into a temp dir and parses it.
func FetchCoinRegistry(ctx context.Context, src string) (*CoinRegistry, error) {
	dir, err := os.MkdirTemp("", "bridge-coins-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	pwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve working dir: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	dst := filepath.Join(dir, "coins.toml")
	client := getter.Client{
		Ctx:  ctx,
		Src:  src,
		Dst:  dst,
		Pwd:  pwd,
		Mode: getter.ClientModeFile,
	}
	if err := client.Get(); err != nil {
		return nil, fmt.Errorf("failed to download coin registry from %s: %w", src, err)
	}

	return LoadCoinRegistryFile(dst)
}
