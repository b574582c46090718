package types_test

import (
	"encoding/json"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/require"

	"github.com/iosh/dryrun/types"
)

func TestCallTraceItemJSON(t *testing.T) {
	item := types.CallTraceItem{
		ActionType:   types.TraceActionStaticCall,
		From:         common.HexToAddress("0xa"),
		To:           common.HexToAddress("0xb"),
		Gas:          100,
		GasUsed:      40,
		Value:        (*hexutil.Big)(big.NewInt(0)),
		TraceAddress: []int{0, 1},
	}

	raw, err := json.Marshal(item)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &decoded))

	require.Equal(t, "STATICCALL", decoded["type"])
	require.Equal(t, "0x64", decoded["gas"])
	require.Equal(t, "0x28", decoded["gasUsed"])
	require.Equal(t, []interface{}{float64(0), float64(1)}, decoded["traceAddress"])
	// Undecoded inputs are omitted entirely.
	require.NotContains(t, decoded, "decodeInput")
}

func TestStateChangeOmitsEmptyParts(t *testing.T) {
	change := types.StateChange{
		Address: common.HexToAddress("0xa"),
		Nonce:   &types.NonceChange{PreviousValue: 1, NewValue: 2},
	}
	raw, err := json.Marshal(change)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &decoded))
	require.Contains(t, decoded, "nonce")
	require.NotContains(t, decoded, "balance")
	require.NotContains(t, decoded, "storage")
}

func TestOutputOmitsEmptyStateChanges(t *testing.T) {
	out := types.EvmSimulateOutput{
		Status:      true,
		GasUsed:     21000,
		BlockNumber: (*hexutil.Big)(big.NewInt(100)),
	}
	raw, err := json.Marshal(out)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &decoded))
	require.Equal(t, "0x5208", decoded["gasUsed"])
	require.Equal(t, "0x64", decoded["blockNumber"])
	require.NotContains(t, decoded, "stateChanges")
}

func TestDecodeLogKeepsNullFields(t *testing.T) {
	log := types.DecodeLog{Raw: types.RawLog{Address: common.HexToAddress("0xc")}}
	raw, err := json.Marshal(log)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &decoded))
	// Absent decodings serialize as nulls alongside the raw log.
	require.Contains(t, decoded, "name")
	require.Nil(t, decoded["name"])
	require.Contains(t, decoded, "raw")
}

func TestTransactionRequestInputAlias(t *testing.T) {
	var tx types.TransactionRequest
	require.NoError(t, json.Unmarshal([]byte(`{"data":"0x01"}`), &tx))
	require.Equal(t, []byte{0x01}, tx.InputData())

	require.NoError(t, json.Unmarshal([]byte(`{"data":"0x01","input":"0x02"}`), &tx))
	require.Equal(t, []byte{0x02}, tx.InputData())
}

func TestStorageSlotQuantityEncoding(t *testing.T) {
	slot := types.NewStorageSlot(common.BigToHash(big.NewInt(0x17)))
	raw, err := json.Marshal(slot)
	require.NoError(t, err)
	require.Equal(t, `"0x17"`, string(raw))
}
