package pipeline_test

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"regexp"
	"testing"
	"time"

	"github.com/aptos-labs/aptos-go-sdk"
	"github.com/aptos-labs/aptos-go-sdk/bcs"
	"github.com/google/uuid"
	"github.com/jarcoal/httpmock"
	"github.com/shopspring/decimal"
	"github.com/zeebo/assert"

	"github.com/Cogwheel-Validator/spectra-aptos-bridge/bridge/bridgeerr"
	"github.com/Cogwheel-Validator/spectra-aptos-bridge/bridge/models"
	"github.com/Cogwheel-Validator/spectra-aptos-bridge/bridge/node"
	"github.com/Cogwheel-Validator/spectra-aptos-bridge/bridge/pipeline"
	"github.com/Cogwheel-Validator/spectra-aptos-bridge/bridge/precondition"
	"github.com/Cogwheel-Validator/spectra-aptos-bridge/bridge/quote"
	"github.com/Cogwheel-Validator/spectra-aptos-bridge/bridge/reconstruct"
	"github.com/Cogwheel-Validator/spectra-aptos-bridge/bridge/registry"
	"github.com/Cogwheel-Validator/spectra-aptos-bridge/bridge/stargate"
	"github.com/Cogwheel-Validator/spectra-aptos-bridge/bridge/submitter"
)

const (
	stargateURL  = "https://stargate.test/api/v1"
	nodeURL      = "https://node.test/v1"
	bridgeModule = "0xf22bede237a07e121b56d91a491eb7bcdfd1f5907926a9e58338f964a01b17fa"
	aptCoin      = "0x1::aptos_coin::AptosCoin"
	bscUSDC      = "0x8AC76a51cc950d9822D68b83fE1Ad97B32Cd580d"
	receiver     = "0x2222222222222222222222222222222222222222"
	seedHex      = "0x9bf49a6a0755f953811fce125f2683d50429c3bb49e074147e0089a52eae155f"
)

type scenario struct {
	steps          bool
	resourceExists bool
	registerErr    string
	finalSuccess   bool
	finalVMStatus  string
	finalPending   bool
}

type harness struct {
	t         *testing.T
	mock      *httpmock.MockTransport
	pipe      *pipeline.Pipeline
	quotes    pipeline.QuoteService
	node      *node.Client
	acct      *aptos.Account
	submitted []aptos.RawTransaction
	nodeCalls int
}

func u64(v uint64) []byte {
	return binary.LittleEndian.AppendUint64(nil, v)
}

func vec(b []byte) []byte {
	s := &bcs.Serializer{}
	s.WriteBytes(b)
	return s.ToBytes()
}

func bridgePayload(t *testing.T, sender aptos.AccountAddress) string {
	t.Helper()
	var moduleAddr aptos.AccountAddress
	assert.NoError(t, moduleAddr.ParseStringRelaxed(bridgeModule))
	coin, err := aptos.ParseTypeTag(aptCoin)
	assert.NoError(t, err)

	raw := &aptos.RawTransaction{
		Sender:         sender,
		SequenceNumber: 0,
		Payload: aptos.TransactionPayload{Payload: &aptos.EntryFunction{
			Module:   aptos.ModuleId{Address: moduleAddr, Name: "coin_bridge"},
			Function: "send_coin_from",
			ArgTypes: []aptos.TypeTag{*coin},
			Args: [][]byte{
				u64(1_000_000_000),
				vec(make([]byte, 32)),
				u64(1_000_000_000),
				u64(2_500_000),
				u64(0),
				{0x00},
				vec([]byte{0xde, 0xad}),
				vec([]byte{0xbe, 0xef}),
			},
		}},
		MaxGasAmount:               12000,
		GasUnitPrice:               150,
		ExpirationTimestampSeconds: 1800000000,
		ChainId:                    1,
	}
	data, err := bcs.Serialize(raw)
	assert.NoError(t, err)
	return "0x" + hex.EncodeToString(data)
}

func newHarness(t *testing.T, sc scenario) *harness {
	t.Helper()
	acct, err := node.AccountFromHex(seedHex, "")
	assert.NoError(t, err)
	h := &harness{t: t, mock: httpmock.NewMockTransport(), acct: acct}

	h.registerStargate(sc)
	h.registerNode(sc)

	sg, err := stargate.NewClient(stargate.ClientConfig{BaseURL: stargateURL})
	assert.NoError(t, err)
	sg.SetHTTPClient(&http.Client{Transport: h.mock})

	finality := 2 * time.Second
	if sc.finalPending {
		finality = 50 * time.Millisecond
	}
	h.node = node.NewClient(node.ClientConfig{
		NodeURL:         nodeURL,
		FinalityTimeout: finality,
		PollInterval:    time.Millisecond,
	})
	h.node.SetHTTPClient(&http.Client{Transport: h.mock})
	h.quotes = quote.NewService(registry.New(sg, time.Minute), sg)

	h.pipe, err = pipeline.New(pipeline.Options{
		Quotes:        h.quotes,
		Preconditions: precondition.NewManager(h.node, node.GasOptions{}),
		Submitter:     submitter.New(h.node),
		Finality:      h.node,
	})
	assert.NoError(t, err)
	return h
}

func (h *harness) registerStargate(sc scenario) {
	h.mock.RegisterResponder(http.MethodGet, stargateURL+"/chains",
		httpmock.NewStringResponder(200, `{"chains":[{"chainKey":"aptos","chainId":12},{"chainKey":"bsc","chainId":56}]}`))
	h.mock.RegisterResponder(http.MethodGet, stargateURL+"/tokens",
		httpmock.NewStringResponder(200, `{"tokens":[
			{"chainKey":"aptos","address":"`+aptCoin+`","symbol":"APT","decimals":8,"isBridgeable":true},
			{"chainKey":"bsc","address":"`+bscUSDC+`","symbol":"USDC","decimals":18,"isBridgeable":true}
		]}`))

	q := models.StargateQuote{
		Route:        "stargate/v2/taxi",
		SrcToken:     aptCoin,
		DstToken:     bscUSDC,
		SrcAddress:   node.LongAddress(h.acct.Address),
		DstAddress:   receiver,
		SrcChainKey:  "aptos",
		DstChainKey:  "bsc",
		SrcAmount:    "1000000000",
		DstAmountMin: "1000000000",
	}
	if sc.steps {
		q.Steps = []models.Step{{
			Type:        "bridge",
			Sender:      node.LongAddress(h.acct.Address),
			ChainKey:    "aptos",
			Transaction: models.StepTransaction{Data: bridgePayload(h.t, h.acct.Address)},
		}}
	}
	body, err := json.Marshal(map[string]any{"quotes": []models.StargateQuote{q}})
	assert.NoError(h.t, err)
	h.mock.RegisterResponder(http.MethodGet, stargateURL+"/quotes", httpmock.NewBytesResponder(200, body))
}

func (h *harness) registerNode(sc scenario) {
	count := func(r httpmock.Responder) httpmock.Responder {
		return func(req *http.Request) (*http.Response, error) {
			h.nodeCalls++
			return r(req)
		}
	}

	h.mock.RegisterResponder(http.MethodGet, nodeURL+"/",
		count(httpmock.NewStringResponder(200, `{"chain_id":1,"ledger_version":"1"}`)))
	h.mock.RegisterResponder(http.MethodGet, nodeURL+"/accounts/"+node.LongAddress(h.acct.Address),
		count(httpmock.NewStringResponder(200, `{"sequence_number":"5"}`)))

	resource := httpmock.NewStringResponder(404, `{"message":"Resource not found","error_code":"resource_not_found"}`)
	if sc.resourceExists {
		resource = httpmock.NewStringResponder(200, `{"type":"0x1::coin::CoinStore<0x1::aptos_coin::AptosCoin>","data":{}}`)
	}
	h.mock.RegisterRegexpResponder(http.MethodGet, regexp.MustCompile(`^https://node\.test/v1/accounts/.+/resource/`), count(resource))

	h.mock.RegisterResponder(http.MethodPost, nodeURL+"/transactions", count(func(req *http.Request) (*http.Response, error) {
		body, err := io.ReadAll(req.Body)
		if err != nil {
			return nil, err
		}
		var raw aptos.RawTransaction
		d := bcs.NewDeserializer(body)
		d.Struct(&raw)
		if d.Error() != nil {
			return httpmock.NewStringResponse(400, `{"message":"invalid bcs"}`), nil
		}
		if fn, ok := raw.Payload.Payload.(*aptos.EntryFunction); ok && fn.Function == "register" {
			if sc.registerErr != "" {
				return httpmock.NewStringResponse(400, `{"message":"`+sc.registerErr+`","error_code":"vm_error"}`), nil
			}
			return httpmock.NewStringResponse(202, `{"hash":"0xreg"}`), nil
		}
		h.submitted = append(h.submitted, raw)
		return httpmock.NewStringResponse(202, `{"hash":"0xbridge"}`), nil
	}))

	h.mock.RegisterResponder(http.MethodGet, nodeURL+"/transactions/by_hash/0xreg",
		count(httpmock.NewStringResponder(200, `{"type":"user_transaction","hash":"0xreg","success":true,"vm_status":"Executed successfully"}`)))

	if sc.finalPending {
		h.mock.RegisterResponder(http.MethodGet, nodeURL+"/transactions/by_hash/0xbridge",
			count(httpmock.NewStringResponder(200, `{"type":"pending_transaction","hash":"0xbridge"}`)))
		return
	}
	h.finalize(sc.finalSuccess, sc.finalVMStatus)
}

func (h *harness) finalize(success bool, vmStatus string) {
	final, err := json.Marshal(map[string]any{
		"type":      "user_transaction",
		"hash":      "0xbridge",
		"version":   "77",
		"success":   success,
		"vm_status": vmStatus,
	})
	assert.NoError(h.t, err)
	h.mock.RegisterResponder(http.MethodGet, nodeURL+"/transactions/by_hash/0xbridge", httpmock.NewBytesResponder(200, final))
}

func (h *harness) entryFunction(i int) *aptos.EntryFunction {
	h.t.Helper()
	fn, ok := h.submitted[i].Payload.Payload.(*aptos.EntryFunction)
	assert.True(h.t, ok)
	return fn
}

func (h *harness) quote() models.StargateQuote {
	h.t.Helper()
	q, err := h.pipe.GetBridgeQuote(context.Background(), models.BridgeQuoteRequest{
		SrcChainKey:  "aptos",
		DstChainKey:  "bsc",
		SrcToken:     aptCoin,
		DstToken:     bscUSDC,
		SrcAddress:   node.LongAddress(h.acct.Address),
		DstAddress:   receiver,
		SrcAmount:    "1000000000",
		DstAmountMin: "1000000000",
	})
	assert.NoError(h.t, err)
	return q
}

func TestScenarioHappyPath(t *testing.T) {
	h := newHarness(t, scenario{steps: true, resourceExists: true, finalSuccess: true, finalVMStatus: "Executed successfully"})

	res, err := h.pipe.ExecuteBridgeFromAptos(context.Background(), h.acct, h.quote())
	assert.NoError(t, err)
	assert.Equal(t, res.Hash, "0xbridge")
	assert.True(t, res.Success)
	assert.True(t, res.Failure == nil)
	assert.Equal(t, res.Record.Status, models.BridgeStatusConfirmed)
	assert.Equal(t, res.Record.SrcTxHash, "0xbridge")

	assert.Equal(t, len(h.submitted), 1)
	sent := h.submitted[0]
	fn := h.entryFunction(0)
	assert.Equal(t, node.FunctionName(fn), bridgeModule+"::coin_bridge::send_coin_from")
	assert.Equal(t, fn.ArgTypes[0].String(), aptCoin)
	assert.Equal(t, sent.MaxGasAmount, uint64(12000))
	assert.Equal(t, sent.GasUnitPrice, uint64(150))
	assert.Equal(t, sent.SequenceNumber, uint64(5))

	args := fn.Args
	assert.Equal(t, len(args), 8)
	assert.Equal(t, args[0], u64(1_000_000_000))
	wantReceiver, err := reconstruct.ReceiverBytes(receiver)
	assert.NoError(t, err)
	assert.Equal(t, args[1], vec(wantReceiver[:]))
	assert.Equal(t, len(wantReceiver), 32)
	assert.Equal(t, args[2], u64(1_000_000_000))
	assert.Equal(t, args[3], u64(2_500_000))
	assert.Equal(t, args[4], u64(0))
	assert.Equal(t, args[5], []byte{0x00})
	assert.Equal(t, args[6], vec(reconstruct.AdapterParams))
	assert.Equal(t, args[7], vec(nil))
}

func TestScenarioNoSteps(t *testing.T) {
	h := newHarness(t, scenario{steps: false})

	res, err := h.pipe.ExecuteBridgeFromAptos(context.Background(), h.acct, h.quote())
	assert.True(t, res == nil)
	assert.Equal(t, bridgeerr.KindOf(err), bridgeerr.MalformedPayload)
	assert.Equal(t, h.nodeCalls, 0)

	records := h.pipe.Tracker().List()
	assert.Equal(t, len(records), 1)
	assert.Equal(t, records[0].Status, models.BridgeStatusFailed)
	assert.Equal(t, records[0].ErrorKind, string(bridgeerr.MalformedPayload))
}

func TestScenarioRevertedKeepsHash(t *testing.T) {
	h := newHarness(t, scenario{steps: true, resourceExists: true, finalSuccess: false, finalVMStatus: "INSUFFICIENT_BALANCE"})

	res, err := h.pipe.ExecuteBridgeFromAptos(context.Background(), h.acct, h.quote())
	assert.NoError(t, err)
	assert.Equal(t, res.Hash, "0xbridge")
	assert.False(t, res.Success)
	assert.Equal(t, res.VMStatus, "INSUFFICIENT_BALANCE")
	assert.Equal(t, res.Failure.Kind, bridgeerr.InsufficientBalance)
	assert.Equal(t, res.Record.Status, models.BridgeStatusFailed)
	assert.Equal(t, res.Record.SrcTxHash, "0xbridge")
}

func TestScenarioAlreadyRegistered(t *testing.T) {
	h := newHarness(t, scenario{
		steps:         true,
		registerErr:   "Move abort in 0x1::coin: ECOIN_STORE_ALREADY_PUBLISHED(0x80002): already registered",
		finalSuccess:  true,
		finalVMStatus: "Executed successfully",
	})

	res, err := h.pipe.ExecuteBridgeFromAptos(context.Background(), h.acct, h.quote())
	assert.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, len(h.submitted), 1)
}

func TestScenarioRegistersMissingStore(t *testing.T) {
	h := newHarness(t, scenario{steps: true, finalSuccess: true, finalVMStatus: "Executed successfully"})

	res, err := h.pipe.ExecuteBridgeFromAptos(context.Background(), h.acct, h.quote())
	assert.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, h.mock.GetCallCountInfo()["GET "+nodeURL+"/transactions/by_hash/0xreg"], 1)
}

func TestExecuteRejectsBadReceiver(t *testing.T) {
	h := newHarness(t, scenario{steps: true, resourceExists: true, finalSuccess: true})
	q := h.quote()
	q.DstAddress = node.LongAddress(h.acct.Address)

	_, err := h.pipe.ExecuteBridgeFromAptos(context.Background(), h.acct, q)
	assert.Equal(t, bridgeerr.KindOf(err), bridgeerr.InvalidReceiverLength)
	assert.Equal(t, h.nodeCalls, 0)
}

func TestExecuteRejectsNonAptosSource(t *testing.T) {
	h := newHarness(t, scenario{steps: true})
	q := h.quote()
	q.SrcChainKey = "bsc"

	_, err := h.pipe.ExecuteBridgeFromAptos(context.Background(), h.acct, q)
	assert.Equal(t, bridgeerr.KindOf(err), bridgeerr.UnsupportedRoute)
}

func TestGetBridgeQuoteUnsupportedChainSkipsQuotes(t *testing.T) {
	h := newHarness(t, scenario{steps: true})
	_, err := h.pipe.GetBridgeQuote(context.Background(), models.BridgeQuoteRequest{
		SrcChainKey:  "aptos",
		DstChainKey:  "solana",
		SrcToken:     aptCoin,
		DstToken:     bscUSDC,
		SrcAmount:    "1",
		DstAmountMin: "0",
	})
	assert.Equal(t, bridgeerr.KindOf(err), bridgeerr.UnsupportedRoute)
	assert.Equal(t, h.mock.GetCallCountInfo()["GET "+stargateURL+"/quotes"], 0)
}

func TestScenarioFinalityUnknownStaysPending(t *testing.T) {
	h := newHarness(t, scenario{steps: true, resourceExists: true, finalPending: true})

	res, err := h.pipe.ExecuteBridgeFromAptos(context.Background(), h.acct, h.quote())
	assert.Error(t, err)
	assert.True(t, errors.Is(err, submitter.ErrOutcomeUnknown))
	assert.Equal(t, res.Hash, "0xbridge")
	assert.False(t, res.Success)
	assert.Equal(t, res.Record.Status, models.BridgeStatusPending)
	assert.Equal(t, res.Record.SrcTxHash, "0xbridge")
	assert.Equal(t, res.Record.ErrorKind, "")
	assert.Equal(t, len(h.submitted), 1)

	stored, ok := h.pipe.Tracker().Get(res.Record.ID)
	assert.True(t, ok)
	assert.Equal(t, stored.Status, models.BridgeStatusPending)

	// still pending on the node
	rec, err := h.pipe.Reconcile(context.Background(), res.Record.ID)
	assert.True(t, errors.Is(err, submitter.ErrOutcomeUnknown))
	assert.Equal(t, rec.Status, models.BridgeStatusPending)

	h.finalize(true, "Executed successfully")
	rec, err = h.pipe.Reconcile(context.Background(), res.Record.ID)
	assert.NoError(t, err)
	assert.Equal(t, rec.Status, models.BridgeStatusConfirmed)
	assert.Equal(t, rec.SrcTxHash, "0xbridge")
}

func TestReconcileReverted(t *testing.T) {
	h := newHarness(t, scenario{steps: true, resourceExists: true, finalPending: true})

	res, err := h.pipe.ExecuteBridgeFromAptos(context.Background(), h.acct, h.quote())
	assert.True(t, errors.Is(err, submitter.ErrOutcomeUnknown))

	h.finalize(false, "INSUFFICIENT_BALANCE")
	rec, err := h.pipe.Reconcile(context.Background(), res.Record.ID)
	assert.NoError(t, err)
	assert.Equal(t, rec.Status, models.BridgeStatusFailed)
	assert.Equal(t, rec.ErrorKind, string(bridgeerr.InsufficientBalance))

	again, err := h.pipe.Reconcile(context.Background(), res.Record.ID)
	assert.NoError(t, err)
	assert.Equal(t, again.Status, models.BridgeStatusFailed)
}

func TestReconcileUnsubmittedRecord(t *testing.T) {
	h := newHarness(t, scenario{steps: true})
	rec := h.pipe.Tracker().Start("aptos", "bsc", decimal.NewFromInt(1))

	_, err := h.pipe.Reconcile(context.Background(), rec.ID)
	assert.Error(t, err)
	_, err = h.pipe.Reconcile(context.Background(), uuid.New())
	assert.Error(t, err)
}

type MockCoins map[string]string

func (m MockCoins) CoinType(chainKey, token string) (string, bool) {
	coin, ok := m[chainKey+"/"+token]
	return coin, ok
}

type MockPreconditions struct {
	coins []string
}

func (m *MockPreconditions) EnsureRegistered(ctx context.Context, acct *aptos.Account, coinType aptos.TypeTag) error {
	m.coins = append(m.coins, coinType.String())
	return nil
}

func TestCoinTypeFromCallWinsOverMapping(t *testing.T) {
	tests := []struct {
		name  string
		coins MockCoins
	}{
		{name: "no mapping"},
		{name: "mapping to another coin", coins: MockCoins{"aptos/" + aptCoin: "0xcafe::wrapped::Coin"}},
		{name: "invalid mapping", coins: MockCoins{"aptos/" + aptCoin: "not a type"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, scenario{steps: true, resourceExists: true, finalSuccess: true, finalVMStatus: "Executed successfully"})
			pre := &MockPreconditions{}
			opts := pipeline.Options{
				Quotes:        h.quotes,
				Preconditions: pre,
				Submitter:     submitter.New(h.node),
			}
			if tt.coins != nil {
				opts.Coins = tt.coins
			}
			pipe, err := pipeline.New(opts)
			assert.NoError(t, err)

			res, err := pipe.ExecuteBridgeFromAptos(context.Background(), h.acct, h.quote())
			assert.NoError(t, err)
			assert.True(t, res.Success)
			assert.Equal(t, pre.coins, []string{aptCoin})
		})
	}
}
