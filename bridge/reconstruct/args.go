package reconstruct

import (
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/aptos-labs/aptos-go-sdk/bcs"
)

// ArgKind is the type of value a position holds.
type ArgKind int

const (
	KindU64 ArgKind = iota
	KindAddress
	KindBool
	KindBytes
)

func (k ArgKind) String() string {
	switch k {
	case KindU64:
		return "u64"
	case KindAddress:
		return "address"
	case KindBool:
		return "bool"
	case KindBytes:
		return "bytes"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Arg is one reconstructed argument. The set of implementations is closed.
type Arg interface {
	Kind() ArgKind
	String() string
	// Encode returns the BCS encoding submitted on chain.
	Encode() ([]byte, error)
	isArg()
}

// U64Arg is an unsigned amount as a decimal string.
type U64Arg struct {
	Value string
}

func (U64Arg) Kind() ArgKind { return KindU64 }
func (a U64Arg) String() string { return a.Value }
func (a U64Arg) Encode() ([]byte, error) {
	return EncodeU64LE(a.Value)
}
func (U64Arg) isArg() {}

// AddressArg is a 32 byte receiver buffer.
type AddressArg struct {
	Value [32]byte
}

func (AddressArg) Kind() ArgKind { return KindAddress }
func (a AddressArg) String() string { return "0x" + hex.EncodeToString(a.Value[:]) }
func (a AddressArg) Encode() ([]byte, error) {
	return encodeVector(a.Value[:]), nil
}
func (AddressArg) isArg() {}

// BoolArg is a flag.
type BoolArg struct {
	Value bool
}

func (BoolArg) Kind() ArgKind { return KindBool }
func (a BoolArg) String() string { return strconv.FormatBool(a.Value) }
func (a BoolArg) Encode() ([]byte, error) {
	ser := &bcs.Serializer{}
	ser.Bool(a.Value)
	return ser.ToBytes(), ser.Error()
}
func (BoolArg) isArg() {}

// BytesArg is an opaque byte buffer.
type BytesArg struct {
	Value []byte
}

func (BytesArg) Kind() ArgKind { return KindBytes }
func (a BytesArg) String() string { return "0x" + hex.EncodeToString(a.Value) }
func (a BytesArg) Encode() ([]byte, error) {
	return encodeVector(a.Value), nil
}
func (BytesArg) isArg() {}

func encodeVector(b []byte) []byte {
	ser := &bcs.Serializer{}
	ser.WriteBytes(b)
	return ser.ToBytes()
}

// DecodeU64LE decodes an 8 byte little-endian buffer to its decimal string.
func DecodeU64LE(b []byte) (string, error) {
	if len(b) != 8 {
		return "", fmt.Errorf("u64 argument has %d bytes, want 8", len(b))
	}
	d := bcs.NewDeserializer(b)
	v := d.U64()
	if err := d.Error(); err != nil {
		return "", err
	}
	return strconv.FormatUint(v, 10), nil
}

// EncodeU64LE encodes a decimal string as 8 little-endian bytes.
func EncodeU64LE(s string) ([]byte, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid u64 %q: %w", s, err)
	}
	ser := &bcs.Serializer{}
	ser.U64(v)
	return ser.ToBytes(), ser.Error()
}
