package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/Cogwheel-Validator/spectra-aptos-bridge/bridge/bridgeerr"
	"github.com/Cogwheel-Validator/spectra-aptos-bridge/bridge/models"
	"github.com/Cogwheel-Validator/spectra-aptos-bridge/bridge/node"
	"github.com/Cogwheel-Validator/spectra-aptos-bridge/bridge/pipeline"
	"github.com/Cogwheel-Validator/spectra-aptos-bridge/bridge/submitter"
)

var (
	quoteFlags   quoteArgs
	executeFlags quoteArgs

	keyEnv          string
	addressOverride string
)

type quoteOutput struct {
	Quote     models.StargateQuote `json:"quote"`
	SourceFee string               `json:"sourceFee"`
}

var quoteCmd = &cobra.Command{
	Use:   "quote",
	Short: "Fetch the first usable bridge quote for a transfer",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		req, err := quoteFlags.request(cmd.Context(), a)
		if err != nil {
			return err
		}

		q, err := a.pipeline.GetBridgeQuote(cmd.Context(), req)
		if err != nil {
			return userError(err)
		}

		fee, err := q.TotalFee(q.SrcChainKey, "")
		if err != nil {
			return err
		}
		return printJSON(cmd, quoteOutput{Quote: q, SourceFee: fee.String()})
	},
}

type executeOutput struct {
	Hash     string                   `json:"hash,omitempty"`
	Success  bool                     `json:"success"`
	VMStatus string                   `json:"vmStatus,omitempty"`
	Failure  string                   `json:"failure,omitempty"`
	Kind     string                   `json:"kind,omitempty"`
	Record   models.BridgeTransaction `json:"record"`
}

var executeCmd = &cobra.Command{
	Use:   "execute",
	Short: "Quote, sign and submit a bridge transfer from Aptos and wait for finality",
	RunE: func(cmd *cobra.Command, args []string) error {
		key := os.Getenv(keyEnv)
		if key == "" {
			return fmt.Errorf("private key env var %s is not set", keyEnv)
		}
		acct, err := node.AccountFromHex(key, addressOverride)
		if err != nil {
			return fmt.Errorf("invalid private key in %s: %w", keyEnv, err)
		}

		if executeFlags.srcChain == "" {
			executeFlags.srcChain = pipeline.AptosChainKey
		}
		if executeFlags.srcAddress == "" {
			executeFlags.srcAddress = node.LongAddress(acct.Address)
		}

		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		req, err := executeFlags.request(cmd.Context(), a)
		if err != nil {
			return err
		}

		q, err := a.pipeline.GetBridgeQuote(cmd.Context(), req)
		if err != nil {
			return userError(err)
		}

		res, err := a.pipeline.ExecuteBridgeFromAptos(cmd.Context(), acct, q)
		if err != nil {
			if res != nil && res.Hash != "" {
				log.Warn().Str("hash", res.Hash).Msg("transaction was submitted but its outcome is unknown")
				if errors.Is(err, submitter.ErrOutcomeUnknown) {
					if perr := printJSON(cmd, executeOutput{Hash: res.Hash, Record: res.Record}); perr != nil {
						return perr
					}
				}
			}
			return userError(err)
		}

		out := executeOutput{Hash: res.Hash, Success: res.Success, VMStatus: res.VMStatus, Record: res.Record}
		if res.Failure != nil {
			out.Failure = res.Failure.UserMessage()
			out.Kind = string(res.Failure.Kind)
		}
		if err := printJSON(cmd, out); err != nil {
			return err
		}
		if !res.Success {
			return errors.New("bridge transaction failed on chain")
		}
		return nil
	},
}

// userError replaces raw error text with the taxonomy message.
func userError(err error) error {
	var be *bridgeerr.Error
	if errors.As(err, &be) {
		log.Debug().Err(err).Str("kind", string(be.Kind)).Msg("bridge error")
		return fmt.Errorf("%s: %s", be.Kind, be.UserMessage())
	}
	return err
}

func addQuoteFlags(fs *pflag.FlagSet, q *quoteArgs) {
	fs.StringVar(&q.srcChain, "src-chain", "", "source chain key")
	fs.StringVar(&q.dstChain, "dst-chain", "", "destination chain key")
	fs.StringVar(&q.srcToken, "src-token", "", "source token address or symbol")
	fs.StringVar(&q.dstToken, "dst-token", "", "destination token address or symbol")
	fs.StringVar(&q.amount, "amount", "", "amount in the source token's smallest unit")
	fs.StringVar(&q.humanAmount, "human-amount", "", "amount in whole tokens, scaled by the token decimals")
	fs.StringVar(&q.minAmount, "min-amount", "", "minimum received, destination token smallest unit")
	fs.StringVar(&q.humanMinAmount, "human-min-amount", "", "minimum received in whole destination tokens")
	fs.StringVar(&q.srcAddress, "src-address", "", "sender address")
	fs.StringVar(&q.dstAddress, "dst-address", "", "receiver address on the destination chain")
}

func init() {
	addQuoteFlags(quoteCmd.Flags(), &quoteFlags)
	addQuoteFlags(executeCmd.Flags(), &executeFlags)

	executeCmd.Flags().StringVar(&keyEnv, "key-env", "BRIDGE_PRIVATE_KEY", "env var holding the Ed25519 private key hex")
	executeCmd.Flags().StringVar(&addressOverride, "address", "", "account address when the key was rotated")
}
