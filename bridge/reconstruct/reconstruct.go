// Package reconstruct rebuilds the positional arguments of the bridge entry function from the
// decoded aggregator payload and the quote.
//
// Positions 0 and 2 to 5 are taken from the payload. Position 1 is always the quote's destination
// address and positions 6 and 7 are constants, whatever the payload holds there.
package reconstruct

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Cogwheel-Validator/spectra-aptos-bridge/bridge/bridgeerr"
	"github.com/Cogwheel-Validator/spectra-aptos-bridge/bridge/models"
)

// ArgumentCount is the number of positions of the bridge entry function.
const ArgumentCount = 8

// ReceiverLength is the byte length of an EVM receiver address.
const ReceiverLength = common.AddressLength

// AdapterParams is the relay adapter descriptor emitted at position 6: version 1 with a
// destination gas limit of 150000.
var AdapterParams = []byte{0x00, 0x01, 0x00, 0x00, 0x00, 0x00, 0x02, 0x49, 0xf0}

// Source says where a position's value comes from.
type Source int

const (
	FromPayload Source = iota
	FromQuote
	Constant
)

// Position describes one argument slot.
type Position struct {
	Index  int
	Name   string
	Kind   ArgKind
	Source Source
}

// Layout is the fixed position table of the bridge entry function.
var Layout = [ArgumentCount]Position{
	{Index: 0, Name: "amount", Kind: KindU64, Source: FromPayload},
	{Index: 1, Name: "receiver", Kind: KindAddress, Source: FromQuote},
	{Index: 2, Name: "min_amount", Kind: KindU64, Source: FromPayload},
	{Index: 3, Name: "native_fee", Kind: KindU64, Source: FromPayload},
	{Index: 4, Name: "zro_fee", Kind: KindU64, Source: FromPayload},
	{Index: 5, Name: "unwrap", Kind: KindBool, Source: FromPayload},
	{Index: 6, Name: "adapter_params", Kind: KindBytes, Source: Constant},
	{Index: 7, Name: "msglib_params", Kind: KindBytes, Source: Constant},
}

// Arguments are the reconstructed values in position order.
type Arguments [ArgumentCount]Arg

// Encode returns the BCS encoding of every position, ready to be used as entry function
// arguments.
func (a Arguments) Encode() ([][]byte, error) {
	out := make([][]byte, ArgumentCount)
	for i, arg := range a {
		if arg == nil {
			return nil, fmt.Errorf("argument %d (%s) is not set", i, Layout[i].Name)
		}
		b, err := arg.Encode()
		if err != nil {
			return nil, fmt.Errorf("argument %d (%s): %w", i, Layout[i].Name, err)
		}
		out[i] = b
	}
	return out, nil
}

// Strings formats every position for logs and display.
func (a Arguments) Strings() []string {
	out := make([]string, ArgumentCount)
	for i, arg := range a {
		if arg != nil {
			out[i] = arg.String()
		}
	}
	return out
}

// ReceiverBytes strips an optional 0x from dstAddress, requires exactly 20 bytes and places them
// at offset 12 of a zeroed 32 byte buffer.
func ReceiverBytes(dstAddress string) ([32]byte, error) {
	var out [32]byte
	h := strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(dstAddress), "0x"), "0X")
	raw, err := hex.DecodeString(h)
	if err != nil {
		return out, bridgeerr.Wrap(bridgeerr.InvalidReceiverLength, err,
			fmt.Sprintf("destination address %q is not valid hex", dstAddress))
	}
	if len(raw) != ReceiverLength {
		return out, bridgeerr.Newf(bridgeerr.InvalidReceiverLength,
			"destination address must be %d bytes, got %d", ReceiverLength, len(raw))
	}
	copy(out[:], common.LeftPadBytes(raw, len(out)))
	return out, nil
}

// Reconstruct applies Layout to the raw payload arguments. Any count other than ArgumentCount
// is a MalformedPayload error; the receiver is taken from quote.DstAddress.
func Reconstruct(raw [][]byte, quote models.StargateQuote) (Arguments, error) {
	var args Arguments
	if len(raw) != ArgumentCount {
		return args, bridgeerr.Newf(bridgeerr.MalformedPayload,
			"bridge call has %d arguments, want %d", len(raw), ArgumentCount)
	}

	for _, pos := range Layout {
		switch pos.Kind {
		case KindU64:
			v, err := DecodeU64LE(raw[pos.Index])
			if err != nil {
				return args, bridgeerr.Wrap(bridgeerr.MalformedPayload, err,
					fmt.Sprintf("argument %d (%s) is not a u64", pos.Index, pos.Name))
			}
			args[pos.Index] = U64Arg{Value: v}
		case KindAddress:
			receiver, err := ReceiverBytes(quote.DstAddress)
			if err != nil {
				return args, err
			}
			args[pos.Index] = AddressArg{Value: receiver}
		case KindBool:
			b := raw[pos.Index]
			if len(b) != 1 {
				return args, bridgeerr.Newf(bridgeerr.MalformedPayload,
					"argument %d (%s) has %d bytes, want 1", pos.Index, pos.Name, len(b))
			}
			args[pos.Index] = BoolArg{Value: b[0] == 1}
		case KindBytes:
			args[pos.Index] = constantBytes(pos.Index)
		}
	}
	return args, nil
}

func constantBytes(index int) BytesArg {
	if index == 6 {
		return BytesArg{Value: append([]byte(nil), AdapterParams...)}
	}
	return BytesArg{Value: []byte{}}
}
