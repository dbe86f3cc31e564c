// Package decoder turns the hex transaction payload of an aggregator step into the entry
// function call it carries. It does not interpret argument values.
package decoder

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/aptos-labs/aptos-go-sdk"
	"github.com/aptos-labs/aptos-go-sdk/bcs"

	"github.com/Cogwheel-Validator/spectra-aptos-bridge/bridge/bridgeerr"
	"github.com/Cogwheel-Validator/spectra-aptos-bridge/bridge/reconstruct"
)

// DecodedCall is the entry function call of an aggregator transaction together with the gas
// settings of the envelope it came in.
type DecodedCall struct {
	Sender         aptos.AccountAddress
	SequenceNumber uint64
	Module         aptos.ModuleId
	FunctionName   string
	TypeArguments  []aptos.TypeTag
	// RawArguments are the BCS encoded arguments in position order.
	RawArguments               [][]byte
	MaxGasAmount               uint64
	GasUnitPrice               uint64
	ExpirationTimestampSeconds uint64
	ChainID                    uint8
	// FeePayer is set when the envelope names a sponsor.
	FeePayer *aptos.AccountAddress
}

// ModuleAddress returns the address the called module is published at.
func (c *DecodedCall) ModuleAddress() aptos.AccountAddress {
	return c.Module.Address
}

// TypeArgumentStrings formats the type arguments, e.g. "0x1::aptos_coin::AptosCoin".
func (c *DecodedCall) TypeArgumentStrings() []string {
	out := make([]string, len(c.TypeArguments))
	for i := range c.TypeArguments {
		out[i] = c.TypeArguments[i].String()
	}
	return out
}

// FullName returns address::module::function.
func (c *DecodedCall) FullName() string {
	return c.Module.Address.String() + "::" + c.Module.Name + "::" + c.FunctionName
}

// WithArguments returns an entry function with the same target and type arguments as the call
// but the given BCS encoded arguments.
func (c *DecodedCall) WithArguments(args [][]byte) *aptos.EntryFunction {
	typeArgs := make([]aptos.TypeTag, len(c.TypeArguments))
	copy(typeArgs, c.TypeArguments)
	return &aptos.EntryFunction{
		Module:   c.Module,
		Function: c.FunctionName,
		ArgTypes: typeArgs,
		Args:     args,
	}
}

func malformed(err error, format string, args ...any) error {
	return bridgeerr.Wrap(bridgeerr.MalformedPayload, err, fmt.Sprintf(format, args...))
}

// Decode parses a hex payload, with or without 0x, holding a BCS RawTransaction. The
// transaction may be followed by an optional fee payer address (00, or 01 and 32 bytes).
// Anything else, a payload other than an entry function, and any argument count other than
// reconstruct.ArgumentCount is a MalformedPayload error.
func Decode(payloadHex string) (*DecodedCall, error) {
	h := strings.TrimSpace(payloadHex)
	h = strings.TrimPrefix(strings.TrimPrefix(h, "0x"), "0X")
	if h == "" {
		return nil, malformed(nil, "empty transaction payload")
	}
	data, err := hex.DecodeString(h)
	if err != nil {
		return nil, malformed(err, "transaction payload is not valid hex")
	}

	var raw aptos.RawTransaction
	d := bcs.NewDeserializer(data)
	d.Struct(&raw)
	if d.Error() != nil {
		return nil, malformed(d.Error(), "cannot parse transaction envelope")
	}
	fn, ok := raw.Payload.Payload.(*aptos.EntryFunction)
	if !ok {
		return nil, malformed(nil, "transaction payload is %T, not an entry function", raw.Payload.Payload)
	}

	// BCS is canonical, so the re-encoded envelope tells how many bytes it took.
	consumed, err := bcs.Serialize(&raw)
	if err != nil || len(consumed) > len(data) {
		return nil, malformed(err, "cannot re-encode transaction envelope")
	}
	feePayer, err := decodeFeePayer(data[len(consumed):])
	if err != nil {
		return nil, err
	}

	call := &DecodedCall{
		Sender:                     raw.Sender,
		SequenceNumber:             raw.SequenceNumber,
		Module:                     fn.Module,
		FunctionName:               fn.Function,
		TypeArguments:              fn.ArgTypes,
		RawArguments:               fn.Args,
		MaxGasAmount:               raw.MaxGasAmount,
		GasUnitPrice:               raw.GasUnitPrice,
		ExpirationTimestampSeconds: raw.ExpirationTimestampSeconds,
		ChainID:                    raw.ChainId,
		FeePayer:                   feePayer,
	}

	if n := len(call.RawArguments); n != reconstruct.ArgumentCount {
		return nil, malformed(nil, "%s takes %d arguments, want %d", call.FullName(), n, reconstruct.ArgumentCount)
	}
	return call, nil
}

func decodeFeePayer(rest []byte) (*aptos.AccountAddress, error) {
	var addr aptos.AccountAddress
	switch {
	case len(rest) == 0:
		return nil, nil
	case len(rest) == 1 && rest[0] == 0:
		return nil, nil
	case len(rest) == 1+len(addr) && rest[0] == 1:
		copy(addr[:], rest[1:])
		return &addr, nil
	default:
		return nil, malformed(nil, "%d unexpected bytes after transaction", len(rest))
	}
}

