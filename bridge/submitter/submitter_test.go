package submitter_test

import (
	"context"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/aptos-labs/aptos-go-sdk"
	"github.com/zeebo/assert"

	"github.com/Cogwheel-Validator/spectra-aptos-bridge/bridge/bridgeerr"
	"github.com/Cogwheel-Validator/spectra-aptos-bridge/bridge/decoder"
	"github.com/Cogwheel-Validator/spectra-aptos-bridge/bridge/models"
	"github.com/Cogwheel-Validator/spectra-aptos-bridge/bridge/node"
	"github.com/Cogwheel-Validator/spectra-aptos-bridge/bridge/reconstruct"
	"github.com/Cogwheel-Validator/spectra-aptos-bridge/bridge/submitter"
)

type MockChain struct {
	submitErr error
	status    *node.TransactionStatus
	waitErr   error
	fn        *aptos.EntryFunction
	gas       node.GasOptions
	waitCtx   context.Context
}

func (m *MockChain) BuildSignAndSubmit(ctx context.Context, acct *aptos.Account, fn *aptos.EntryFunction, gas node.GasOptions) (string, error) {
	m.fn = fn
	m.gas = gas
	if m.submitErr != nil {
		return "", m.submitErr
	}
	return "0xfeed", nil
}

func (m *MockChain) WaitForTransaction(ctx context.Context, hash string) (*node.TransactionStatus, error) {
	m.waitCtx = ctx
	if m.waitErr != nil {
		return nil, m.waitErr
	}
	return m.status, nil
}

func u64(v uint64) []byte {
	return binary.LittleEndian.AppendUint64(nil, v)
}

func fixture(t *testing.T) (*aptos.Account, *decoder.DecodedCall, reconstruct.Arguments) {
	t.Helper()
	acct, err := node.AccountFromHex("0x9bf49a6a0755f953811fce125f2683d50429c3bb49e074147e0089a52eae155f", "")
	assert.NoError(t, err)
	coin, err := aptos.ParseTypeTag("0x1::aptos_coin::AptosCoin")
	assert.NoError(t, err)
	var moduleAddr aptos.AccountAddress
	assert.NoError(t, moduleAddr.ParseStringRelaxed("0xf22bede237a07e121b56d91a491eb7bcdfd1f5907926a9e58338f964a01b17fa"))

	raw := [][]byte{u64(100), {0x00}, u64(90), u64(3), u64(0), {0x00}, {0x00}, {0x00}}
	call := &decoder.DecodedCall{
		Module:        aptos.ModuleId{Address: moduleAddr, Name: "coin_bridge"},
		FunctionName:  "send_coin_from",
		TypeArguments: []aptos.TypeTag{*coin},
		RawArguments:  raw,
		MaxGasAmount:  12345,
		GasUnitPrice:  150,
	}
	args, err := reconstruct.Reconstruct(raw, models.StargateQuote{DstAddress: "0x8ac76a51cc950d9822d68b83fe1ad97b32cd580d"})
	assert.NoError(t, err)
	return acct, call, args
}

func TestSubmitPreservesTargetAndGas(t *testing.T) {
	chain := &MockChain{status: &node.TransactionStatus{Hash: "0xfeed", Success: true, VMStatus: "Executed successfully", Version: 5}}
	acct, call, args := fixture(t)

	res, err := submitter.New(chain).Submit(context.Background(), acct, call, args, submitter.GasFromCall(call))
	assert.NoError(t, err)
	assert.Equal(t, res.Hash, "0xfeed")
	assert.True(t, res.Success)
	assert.Equal(t, res.Version, uint64(5))

	assert.Equal(t, node.FunctionName(chain.fn), call.FullName())
	assert.Equal(t, chain.fn.ArgTypes[0].String(), "0x1::aptos_coin::AptosCoin")
	assert.Equal(t, len(chain.fn.Args), 8)
	assert.Equal(t, chain.fn.Args[0], u64(100))
	assert.Equal(t, chain.gas, node.GasOptions{MaxGasAmount: 12345, GasUnitPrice: 150})
}

func TestSubmitRevertedIsNotAnError(t *testing.T) {
	chain := &MockChain{status: &node.TransactionStatus{Hash: "0xfeed", Success: false, VMStatus: "INSUFFICIENT_BALANCE"}}
	acct, call, args := fixture(t)

	res, err := submitter.New(chain).Submit(context.Background(), acct, call, args, submitter.GasFromCall(call))
	assert.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, res.Hash, "0xfeed")
	assert.Equal(t, res.VMStatus, "INSUFFICIENT_BALANCE")
}

func TestSubmitRejectedIsClassified(t *testing.T) {
	chain := &MockChain{submitErr: &node.APIError{StatusCode: 400, Message: "Invalid transaction: SEQUENCE_NUMBER_TOO_OLD"}}
	acct, call, args := fixture(t)

	res, err := submitter.New(chain).Submit(context.Background(), acct, call, args, submitter.GasFromCall(call))
	assert.True(t, res == nil)
	assert.Equal(t, bridgeerr.KindOf(err), bridgeerr.TransactionExpired)
}

func TestSubmitWaitSurvivesCancellation(t *testing.T) {
	chain := &MockChain{waitErr: errors.New("timed out waiting")}
	acct, call, args := fixture(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	chain.submitErr = nil
	res, err := submitter.New(chain).Submit(ctx, acct, call, args, submitter.GasFromCall(call))
	assert.Equal(t, res.Hash, "0xfeed")
	assert.False(t, res.Success)
	assert.True(t, errors.Is(err, submitter.ErrOutcomeUnknown))
	assert.NoError(t, chain.waitCtx.Err())
}
