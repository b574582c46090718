package simulation

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/stretchr/testify/require"

	"github.com/iosh/dryrun/types"
)

// Test accounts sit above the precompile range (0x01-0x11 under Prague), so
// calls to them run their own code rather than a precompile.
var (
	addrA = common.BigToAddress(big.NewInt(0xaaaa))
	addrB = common.BigToAddress(big.NewInt(0xbbbb))
	addrC = common.BigToAddress(big.NewInt(0xcccc))
)

func TestTracerNestedCalls(t *testing.T) {
	// A calls B, B STATICCALLs C, and C issues a DELEGATECALL.
	tr := NewTraceInspector()
	tr.OnEnter(0, byte(vm.CALL), addrA, addrB, []byte{0x01}, 100_000, big.NewInt(5))
	tr.OnEnter(1, byte(vm.STATICCALL), addrB, addrC, nil, 50_000, nil)
	tr.OnEnter(2, byte(vm.DELEGATECALL), addrC, addrC, nil, 20_000, nil)
	tr.OnExit(2, nil, 1_000, nil, false)
	tr.OnExit(1, nil, 5_000, nil, false)
	tr.OnExit(0, []byte{0xff}, 60_000, nil, false)

	traces := tr.Traces()
	require.Len(t, traces, 3)

	require.Equal(t, []int{}, traces[0].TraceAddress)
	require.Equal(t, []int{0}, traces[1].TraceAddress)
	require.Equal(t, []int{0, 0}, traces[2].TraceAddress)

	require.Equal(t, types.TraceActionCall, traces[0].ActionType)
	require.Equal(t, types.TraceActionStaticCall, traces[1].ActionType)
	require.Equal(t, types.TraceActionDelegateCall, traces[2].ActionType)

	require.Equal(t, 1, traces[0].Subtraces)
	require.Equal(t, 1, traces[1].Subtraces)
	require.Equal(t, 0, traces[2].Subtraces)

	require.Equal(t, big.NewInt(5), traces[0].Value.ToInt())
	require.Equal(t, int64(0), traces[1].Value.ToInt().Int64())

	require.Equal(t, []byte{0xff}, []byte(traces[0].Output))
	require.EqualValues(t, 60_000, traces[0].GasUsed)
}

func TestTracerPreOrderAndSubtraces(t *testing.T) {
	// Root fans out to two children; each child has one grandchild. Exits
	// interleave the way the interpreter produces them (deepest first).
	tr := NewTraceInspector()
	tr.OnEnter(0, byte(vm.CALL), addrA, addrB, nil, 500_000, nil)
	tr.OnEnter(1, byte(vm.CALL), addrB, addrC, nil, 100_000, nil)
	tr.OnEnter(2, byte(vm.CREATE), addrC, addrA, nil, 50_000, nil)
	tr.OnExit(2, nil, 10, nil, false)
	tr.OnExit(1, nil, 100, nil, false)
	tr.OnEnter(1, byte(vm.CALL), addrB, addrA, nil, 100_000, nil)
	tr.OnEnter(2, byte(vm.CALL), addrA, addrC, nil, 50_000, nil)
	tr.OnExit(2, nil, 20, nil, false)
	tr.OnExit(1, nil, 200, nil, false)
	tr.OnExit(0, nil, 1_000, nil, false)

	traces := tr.Traces()
	require.Len(t, traces, 5)

	wantAddrs := [][]int{{}, {0}, {0, 0}, {1}, {1, 0}}
	for i, want := range wantAddrs {
		require.Equal(t, want, traces[i].TraceAddress, "position %d", i)
	}

	// Every non-root item's parent prefix appears earlier in the list.
	seen := map[string]bool{}
	for _, item := range traces {
		if len(item.TraceAddress) > 0 {
			parent := item.TraceAddress[:len(item.TraceAddress)-1]
			require.True(t, seen[addrKey(parent)], "parent of %v missing", item.TraceAddress)
		}
		seen[addrKey(item.TraceAddress)] = true
	}

	// subtraces matches the number of direct children.
	for _, item := range traces {
		children := 0
		for _, other := range traces {
			if len(other.TraceAddress) == len(item.TraceAddress)+1 &&
				addrKey(other.TraceAddress[:len(item.TraceAddress)]) == addrKey(item.TraceAddress) {
				children++
			}
		}
		require.Equal(t, children, item.Subtraces, "item %v", item.TraceAddress)
	}

	// Gas never exceeds the frame's limit.
	for _, item := range traces {
		require.LessOrEqual(t, uint64(item.GasUsed), uint64(item.Gas))
	}

	require.Equal(t, types.TraceActionCreate, traces[2].ActionType)
}

func addrKey(addr []int) string {
	key := ""
	for _, i := range addr {
		key += string(rune('a'+i)) + "."
	}
	return key
}
