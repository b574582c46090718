package simulation

import (
	"context"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"cosmossdk.io/log"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/require"

	"github.com/iosh/dryrun/types"
)

const erc20AbiJSON = `[
  {
    "name": "transfer",
    "type": "function",
    "stateMutability": "nonpayable",
    "inputs": [
      {"name": "_to", "type": "address"},
      {"name": "_value", "type": "uint256"}
    ],
    "outputs": []
  },
  {
    "name": "Transfer",
    "type": "event",
    "anonymous": false,
    "inputs": [
      {"name": "from", "type": "address", "indexed": true},
      {"name": "to", "type": "address", "indexed": true},
      {"name": "value", "type": "uint256", "indexed": false}
    ]
  }
]`

func TestDecodeInput(t *testing.T) {
	decoder, err := NewAbiDecoder(erc20AbiJSON)
	require.NoError(t, err)

	data := hexutil.MustDecode("0xa9059cbb000000000000000000000000888888888888888888888888888888888888888800000000000000000000000000000000000000000000000000000000017d7840")

	name, params, ok := decoder.DecodeInput(data)
	require.True(t, ok)
	require.Equal(t, "transfer", name)
	require.Len(t, params, 2)

	require.Equal(t, "_to", params[0].Name)
	require.Equal(t, "address", params[0].SolType)
	require.Equal(t, "0x8888888888888888888888888888888888888888", params[0].Value)

	require.Equal(t, "_value", params[1].Name)
	require.Equal(t, "uint256", params[1].SolType)
	require.Equal(t, "0x17d7840", params[1].Value)
}

func TestDecodeInputUnknownSelector(t *testing.T) {
	decoder, err := NewAbiDecoder(erc20AbiJSON)
	require.NoError(t, err)

	_, _, ok := decoder.DecodeInput(hexutil.MustDecode("0xdeadbeef"))
	require.False(t, ok)
	_, _, ok = decoder.DecodeInput([]byte{0xa9})
	require.False(t, ok)
}

func TestDecodeLog(t *testing.T) {
	decoder, err := NewAbiDecoder(erc20AbiJSON)
	require.NoError(t, err)

	raw := &types.RawLog{
		Topics: []common.Hash{
			common.HexToHash("0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef"),
			common.HexToHash("0x0000000000000000000000008888888888888888888888888888888888888888"),
			common.HexToHash("0x000000000000000000000000b22499ac3b9fb4206d0eb620d1387c1d78a0d61d"),
		},
		Data: hexutil.MustDecode("0x00000000000000000000000000000000000000000000000000000000017d7840"),
	}

	name, anonymous, inputs, ok := decoder.DecodeLog(raw)
	require.True(t, ok)
	require.Equal(t, "Transfer", name)
	require.False(t, anonymous)
	require.Len(t, inputs, 3)

	require.Equal(t, "from", inputs[0].Name)
	require.Equal(t, "address", inputs[0].SolType)
	require.Equal(t, "0x8888888888888888888888888888888888888888", inputs[0].Value)
	require.True(t, inputs[0].Indexed)

	require.Equal(t, "to", inputs[1].Name)
	require.Equal(t, "0xb22499ac3b9fb4206d0eb620d1387c1d78a0d61d", inputs[1].Value)
	require.True(t, inputs[1].Indexed)

	require.Equal(t, "value", inputs[2].Name)
	require.Equal(t, "uint256", inputs[2].SolType)
	require.Equal(t, "0x17d7840", inputs[2].Value)
	require.False(t, inputs[2].Indexed)
}

func TestDecodeLogUnknownTopic(t *testing.T) {
	decoder, err := NewAbiDecoder(erc20AbiJSON)
	require.NoError(t, err)

	_, _, _, ok := decoder.DecodeLog(&types.RawLog{})
	require.False(t, ok)
	_, _, _, ok = decoder.DecodeLog(&types.RawLog{Topics: []common.Hash{{0x01}}})
	require.False(t, ok)
}

func TestFormatValue(t *testing.T) {
	testCases := []struct {
		name  string
		value interface{}
		want  string
	}{
		{"address", common.HexToAddress("0xAbcDef0123456789000000000000000000000000"), "0xabcdef0123456789000000000000000000000000"},
		{"uint zero", big.NewInt(0), "0x0"},
		{"uint", big.NewInt(0x17d7840), "0x17d7840"},
		{"negative int", big.NewInt(-255), "-0xff"},
		{"bool true", true, "true"},
		{"bool false", false, "false"},
		{"string", "hello", "hello"},
		{"bytes", []byte{0xde, 0xad}, "0xdead"},
		{"fixed bytes", [4]byte{0x01, 0x02, 0x03, 0x04}, "0x01020304"},
		{"array", []*big.Int{big.NewInt(1), big.NewInt(2)}, "[0x1, 0x2]"},
		{"nested array", [][]byte{{0x01}, {0x02}}, "[0x01, 0x02]"},
		{"tuple", struct {
			A *big.Int
			B common.Address
		}{big.NewInt(7), common.HexToAddress("0x8888888888888888888888888888888888888888")}, "(0x7, 0x8888888888888888888888888888888888888888)"},
		{"small uint", uint8(16), "0x10"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, formatValue(tc.value))
		})
	}
}

func TestRegistryCachesResults(t *testing.T) {
	requests := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		requests++
		_, _ = w.Write([]byte(`{"abi": ` + erc20AbiJSON + `}`))
	}))
	defer srv.Close()

	registry := NewAbiRegistry(srv.URL, log.NewNopLogger())
	addr := common.HexToAddress("0x2738d13E81e30bC615766A0410e7cF199FD59A83")

	decoder := registry.Decoder(context.Background(), addr, 1)
	require.NotNil(t, decoder)
	require.Equal(t, 1, requests)

	// A hit never refetches.
	require.Same(t, decoder, registry.Decoder(context.Background(), addr, 1))
	require.Equal(t, 1, requests)

	// A different chain id is a distinct key.
	registry.Decoder(context.Background(), addr, 2)
	require.Equal(t, 2, requests)
}

func TestRegistryCachesNegativeResults(t *testing.T) {
	requests := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		requests++
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	registry := NewAbiRegistry(srv.URL, log.NewNopLogger())
	addr := common.HexToAddress("0x2738d13E81e30bC615766A0410e7cF199FD59A83")

	require.Nil(t, registry.Decoder(context.Background(), addr, 1))
	require.Equal(t, 1, requests)

	// The negative result short-circuits later lookups.
	require.Nil(t, registry.Decoder(context.Background(), addr, 1))
	require.Equal(t, 1, requests)
}
