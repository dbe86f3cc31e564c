package node

import (
	"fmt"
	"strings"

	"github.com/aptos-labs/aptos-go-sdk"
	"github.com/aptos-labs/aptos-go-sdk/crypto"
)

// aip80Prefix marks an Ed25519 private key in AIP-80 form.
const aip80Prefix = "ed25519-priv-"

// AccountFromHex loads an Ed25519 private key in hex, with or without 0x and the AIP-80
// prefix. A non-empty address overrides the one derived from the key, which accounts that
// rotated their key need.
func AccountFromHex(privateKeyHex, address string) (*aptos.Account, error) {
	h := strings.TrimPrefix(strings.TrimSpace(privateKeyHex), aip80Prefix)
	key := &crypto.Ed25519PrivateKey{}
	if err := key.FromHex(h); err != nil {
		return nil, fmt.Errorf("invalid ed25519 private key: %w", err)
	}

	if address == "" {
		return aptos.NewAccountFromSigner(key)
	}
	var addr aptos.AccountAddress
	if err := addr.ParseStringRelaxed(address); err != nil {
		return nil, fmt.Errorf("invalid account address %q: %w", address, err)
	}
	return aptos.NewAccountFromSigner(key, crypto.AuthenticationKey(addr))
}
