package node_test

import (
	"encoding/hex"
	"testing"

	"github.com/aptos-labs/aptos-go-sdk"
	"github.com/zeebo/assert"

	"github.com/Cogwheel-Validator/spectra-aptos-bridge/bridge/node"
)

func TestAccountFromHex(t *testing.T) {
	plain, err := node.AccountFromHex(fixedSeedHex, "")
	assert.NoError(t, err)

	tests := []struct {
		name  string
		input string
	}{
		{name: "0x prefix", input: "0x" + fixedSeedHex},
		{name: "aip-80 prefix", input: "ed25519-priv-0x" + fixedSeedHex},
		{name: "surrounding spaces", input: "  0x" + fixedSeedHex + "\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			acct, err := node.AccountFromHex(tt.input, "")
			assert.NoError(t, err)
			assert.Equal(t, acct.Address, plain.Address)
		})
	}
}

func TestAccountFromHexErrors(t *testing.T) {
	for _, input := range []string{"", "0x1234", "0xzz" + fixedSeedHex[4:]} {
		_, err := node.AccountFromHex(input, "")
		assert.Error(t, err)
	}

	_, err := node.AccountFromHex(fixedSeedHex, "not-an-address")
	assert.Error(t, err)
}

func TestAccountAddressOverride(t *testing.T) {
	acct, err := node.AccountFromHex("0x"+hex.EncodeToString(make([]byte, 32)), "0xbeef")
	assert.NoError(t, err)
	assert.Equal(t, node.LongAddress(acct.Address),
		"0x000000000000000000000000000000000000000000000000000000000000beef")
}

func TestSignedTransactionVerifies(t *testing.T) {
	acct, err := node.AccountFromHex(fixedSeedHex, "")
	assert.NoError(t, err)

	raw := &aptos.RawTransaction{
		Sender:         acct.Address,
		SequenceNumber: 7,
		Payload: aptos.TransactionPayload{Payload: &aptos.EntryFunction{
			Module:   aptos.ModuleId{Address: aptos.AccountOne, Name: "coin"},
			Function: "transfer",
			ArgTypes: []aptos.TypeTag{},
			Args:     [][]byte{{0x01}},
		}},
		MaxGasAmount:               2000,
		GasUnitPrice:               100,
		ExpirationTimestampSeconds: 1700000000,
		ChainId:                    1,
	}
	signed, err := raw.SignedTransaction(acct)
	assert.NoError(t, err)
	assert.NoError(t, signed.Verify())

	hash, err := signed.Hash()
	assert.NoError(t, err)
	assert.Equal(t, len(hash), 2+64)
}
