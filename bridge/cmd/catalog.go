package main

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/Cogwheel-Validator/spectra-aptos-bridge/bridge/models"
)

var chainsCmd = &cobra.Command{
	Use:   "chains",
	Short: "List the chains the aggregator supports",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		chains, err := a.registry.ListChains(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(cmd, chains)
	},
}

var (
	tokensChain  string
	tokensSymbol string
)

var tokensCmd = &cobra.Command{
	Use:   "tokens",
	Short: "List bridgeable tokens, optionally filtered by chain and symbol",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}

		var tokens []models.Token
		if tokensChain != "" {
			tokens, err = a.registry.TokensByChain(cmd.Context(), tokensChain)
		} else {
			tokens, err = a.registry.ListTokens(cmd.Context())
		}
		if err != nil {
			return err
		}

		if tokensSymbol != "" {
			filtered := make([]models.Token, 0, len(tokens))
			for _, t := range tokens {
				if strings.EqualFold(t.Symbol, tokensSymbol) {
					filtered = append(filtered, t)
				}
			}
			tokens = filtered
		}
		return printJSON(cmd, tokens)
	},
}

func init() {
	tokensCmd.Flags().StringVar(&tokensChain, "chain", "", "only tokens on this chain key")
	tokensCmd.Flags().StringVar(&tokensSymbol, "symbol", "", "only tokens with this symbol (case-insensitive)")
}
