package simulation

import (
	"bytes"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/tracing"
	"github.com/ethereum/go-ethereum/core/vm"

	"github.com/iosh/dryrun/types"
)

type callStackFrame struct {
	trace         types.CallTraceItem
	childrenCount int
}

// TraceInspector records the call tree of one execution through the
// interpreter's enter/exit hooks. It is single-use and not safe for
// concurrent executions, matching the one-transaction-per-EVM model.
type TraceInspector struct {
	callStack []callStackFrame
	traces    []types.CallTraceItem
}

// NewTraceInspector creates an empty inspector.
func NewTraceInspector() *TraceInspector {
	return &TraceInspector{}
}

// Hooks exposes the inspector as interpreter tracing hooks.
func (t *TraceInspector) Hooks() *tracing.Hooks {
	return &tracing.Hooks{
		OnEnter: t.OnEnter,
		OnExit:  t.OnExit,
	}
}

// OnEnter pushes a frame for the starting call. The frame's trace address is
// the parent's address extended with the parent's running child counter.
func (t *TraceInspector) OnEnter(_ int, typ byte, from common.Address, to common.Address, input []byte, gas uint64, value *big.Int) {
	traceAddress := []int{}
	if len(t.callStack) > 0 {
		parent := &t.callStack[len(t.callStack)-1]
		traceAddress = append(append([]int{}, parent.trace.TraceAddress...), parent.childrenCount)
		parent.childrenCount++
	}

	if value == nil {
		value = new(big.Int)
	}

	t.callStack = append(t.callStack, callStackFrame{
		trace: types.CallTraceItem{
			ActionType:   actionTypeForOp(vm.OpCode(typ)),
			From:         from,
			To:           to,
			Value:        (*hexutil.Big)(new(big.Int).Set(value)),
			Input:        bytes.Clone(input),
			Gas:          hexutil.Uint64(gas),
			TraceAddress: traceAddress,
		},
	})
}

// OnExit pops the frame of the finished call and moves it to the result list.
func (t *TraceInspector) OnExit(_ int, output []byte, gasUsed uint64, _ error, _ bool) {
	if len(t.callStack) == 0 {
		return
	}
	frame := t.callStack[len(t.callStack)-1]
	t.callStack = t.callStack[:len(t.callStack)-1]

	frame.trace.GasUsed = hexutil.Uint64(gasUsed)
	frame.trace.Output = bytes.Clone(output)
	frame.trace.Subtraces = frame.childrenCount
	t.traces = append(t.traces, frame.trace)
}

// Traces returns the recorded frames, sorted lexicographically by trace
// address so the list reads as a pre-order traversal of the call tree.
func (t *TraceInspector) Traces() []types.CallTraceItem {
	sort.SliceStable(t.traces, func(i, j int) bool {
		return compareTraceAddress(t.traces[i].TraceAddress, t.traces[j].TraceAddress) < 0
	})
	return t.traces
}

func compareTraceAddress(a, b []int) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return len(a) - len(b)
}

func actionTypeForOp(op vm.OpCode) types.TraceActionType {
	switch op {
	case vm.DELEGATECALL:
		return types.TraceActionDelegateCall
	case vm.STATICCALL:
		return types.TraceActionStaticCall
	case vm.CREATE, vm.CREATE2:
		return types.TraceActionCreate
	default:
		// CALL and CALLCODE both surface as a plain call.
		return types.TraceActionCall
	}
}
