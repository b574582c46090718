package types

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
)

// TransactionRequest mirrors the standard Ethereum JSON-RPC call object. Every
// field is optional; the simulator fills in defaults documented on the engine.
type TransactionRequest struct {
	From                 *common.Address `json:"from,omitempty"`
	To                   *common.Address `json:"to,omitempty"`
	Gas                  *hexutil.Uint64 `json:"gas,omitempty"`
	GasPrice             *hexutil.Big    `json:"gasPrice,omitempty"`
	MaxFeePerGas         *hexutil.Big    `json:"maxFeePerGas,omitempty"`
	MaxPriorityFeePerGas *hexutil.Big    `json:"maxPriorityFeePerGas,omitempty"`
	Value                *hexutil.Big    `json:"value,omitempty"`
	Nonce                *hexutil.Uint64 `json:"nonce,omitempty"`
	Data                 *hexutil.Bytes  `json:"data,omitempty"`
	Input                *hexutil.Bytes  `json:"input,omitempty"`
}

// InputData returns the calldata, preferring the newer `input` field over the
// legacy `data` alias.
func (tx *TransactionRequest) InputData() []byte {
	if tx.Input != nil {
		return *tx.Input
	}
	if tx.Data != nil {
		return *tx.Data
	}
	return nil
}

// OverrideAccount patches a single account before execution. At most one of
// State and StateDiff may be set: State replaces the whole storage, StateDiff
// overlays individual slots.
type OverrideAccount struct {
	Nonce     *hexutil.Uint64             `json:"nonce,omitempty"`
	Code      *hexutil.Bytes              `json:"code,omitempty"`
	Balance   *hexutil.Big                `json:"balance,omitempty"`
	State     map[common.Hash]common.Hash `json:"state,omitempty"`
	StateDiff map[common.Hash]common.Hash `json:"stateDiff,omitempty"`
}

// StateOverride maps accounts to their pre-execution patches.
type StateOverride map[common.Address]OverrideAccount

// BlockOverrides patches fields of the execution block environment. The
// BlockHash entries extend the BLOCKHASH opcode lookup table.
type BlockOverrides struct {
	Number     *hexutil.Big           `json:"number,omitempty"`
	Difficulty *hexutil.Big           `json:"difficulty,omitempty"`
	Time       *hexutil.Uint64        `json:"time,omitempty"`
	GasLimit   *hexutil.Uint64        `json:"gasLimit,omitempty"`
	Coinbase   *common.Address        `json:"coinbase,omitempty"`
	Random     *common.Hash           `json:"random,omitempty"`
	BaseFee    *hexutil.Big           `json:"baseFee,omitempty"`
	BlockHash  map[uint64]common.Hash `json:"blockHash,omitempty"`
}

// EvmSimulateInput bundles the positional parameters of a simulation request.
type EvmSimulateInput struct {
	Transaction    TransactionRequest
	BlockID        *rpc.BlockNumberOrHash
	StateOverrides StateOverride
	BlockOverrides *BlockOverrides
}

// TraceActionType classifies a call frame.
type TraceActionType string

const (
	TraceActionCall         TraceActionType = "CALL"
	TraceActionStaticCall   TraceActionType = "STATICCALL"
	TraceActionDelegateCall TraceActionType = "DELEGATECALL"
	TraceActionCreate       TraceActionType = "CREATE"
)

// CallTraceDecodedParam is a single ABI-decoded function input.
type CallTraceDecodedParam struct {
	Name    string `json:"name"`
	SolType string `json:"solType"`
	Value   string `json:"value"`
}

// CallTraceItem is one frame of the call tree. TraceAddress is the path of
// child indices from the root frame; the root has an empty path.
type CallTraceItem struct {
	ActionType   TraceActionType         `json:"type"`
	From         common.Address          `json:"from"`
	To           common.Address          `json:"to"`
	Gas          hexutil.Uint64          `json:"gas"`
	GasUsed      hexutil.Uint64          `json:"gasUsed"`
	Value        *hexutil.Big            `json:"value"`
	Input        hexutil.Bytes           `json:"input"`
	Output       hexutil.Bytes           `json:"output"`
	Subtraces    int                     `json:"subtraces"`
	TraceAddress []int                   `json:"traceAddress"`
	DecodeInput  []CallTraceDecodedParam `json:"decodeInput,omitempty"`
}

// RawLog is the undecoded form of an emitted log.
type RawLog struct {
	Address common.Address `json:"address"`
	Topics  []common.Hash  `json:"topics"`
	Data    hexutil.Bytes  `json:"data"`
}

// DecodeLogInput is a single ABI-decoded event parameter.
type DecodeLogInput struct {
	Name    string `json:"name"`
	SolType string `json:"solType"`
	Value   string `json:"value"`
	Indexed bool   `json:"indexed"`
}

// DecodeLog carries a raw log and, when an ABI was available, its decoded form.
type DecodeLog struct {
	Name      *string          `json:"name"`
	Anonymous *bool            `json:"anonymous"`
	Inputs    []DecodeLogInput `json:"inputs"`
	Raw       RawLog           `json:"raw"`
}

// NonceChange records an account nonce transition.
type NonceChange struct {
	PreviousValue hexutil.Uint64 `json:"previousValue"`
	NewValue      hexutil.Uint64 `json:"newValue"`
}

// BalanceChange records an account balance transition.
type BalanceChange struct {
	PreviousValue *hexutil.Big `json:"previousValue"`
	NewValue      *hexutil.Big `json:"newValue"`
}

// StorageChange records one modified storage slot. Values are 32-byte words,
// the slot is reported as a quantity.
type StorageChange struct {
	Slot          *hexutil.Big `json:"slot"`
	PreviousValue common.Hash  `json:"previousValue"`
	NewValue      common.Hash  `json:"newValue"`
}

// StateChange aggregates the deltas of a single account. A record is only
// emitted when at least one of the three parts changed.
type StateChange struct {
	Address common.Address  `json:"address"`
	Nonce   *NonceChange    `json:"nonce,omitempty"`
	Balance *BalanceChange  `json:"balance,omitempty"`
	Storage []StorageChange `json:"storage,omitempty"`
}

// EvmSimulateOutput is the full simulation report.
type EvmSimulateOutput struct {
	Status       bool            `json:"status"`
	GasUsed      hexutil.Uint64  `json:"gasUsed"`
	BlockNumber  *hexutil.Big    `json:"blockNumber"`
	Logs         []DecodeLog     `json:"logs"`
	Trace        []CallTraceItem `json:"trace"`
	StateChanges []StateChange   `json:"stateChanges,omitempty"`
}

// NewStorageSlot converts an internal storage key into its wire form.
func NewStorageSlot(key common.Hash) *hexutil.Big {
	return (*hexutil.Big)(new(big.Int).SetBytes(key.Bytes()))
}
