package simulation

import (
	"context"
	"math/big"
	"time"

	"cosmossdk.io/log"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/consensus/misc/eip4844"
	"github.com/ethereum/go-ethereum/core"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/core/vm"
	gethmetrics "github.com/ethereum/go-ethereum/metrics"
	"github.com/ethereum/go-ethereum/params"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
	"golang.org/x/sync/errgroup"

	"github.com/iosh/dryrun/statedb"
	"github.com/iosh/dryrun/types"
)

// txGasLimitCap is the EIP-7825 per-transaction gas cap, used when the
// request does not name a gas limit.
const txGasLimitCap = 16_777_216

var simulateTimer = gethmetrics.NewRegisteredTimer("dryrun/simulate", nil)

// Simulator re-executes transactions against a remote view of chain state.
// It holds no per-request state; the ABI registry and the provider connection
// pool are the only pieces shared across requests.
type Simulator struct {
	provider Provider
	registry *AbiRegistry
	logger   log.Logger
}

// NewSimulator wires a simulator over the given provider and ABI registry.
func NewSimulator(provider Provider, registry *AbiRegistry, logger log.Logger) *Simulator {
	return &Simulator{
		provider: provider,
		registry: registry,
		logger:   logger.With("module", "simulator"),
	}
}

// Simulate dry-runs a single transaction and reports gas, logs, the call
// trace and the state diff. Nothing is persisted; reverts and out-of-gas are
// reported through the status flag, not as errors.
func (s *Simulator) Simulate(ctx context.Context, input *types.EvmSimulateInput) (*types.EvmSimulateOutput, error) {
	defer simulateTimer.UpdateSince(time.Now())

	blockID := gethrpc.BlockNumberOrHashWithNumber(gethrpc.LatestBlockNumber)
	if input.BlockID != nil {
		blockID = *input.BlockID
	}
	header, err := s.provider.HeaderByID(ctx, blockID)
	if err != nil {
		return nil, err
	}

	// All state reads happen at the resolved block so a `latest` tag cannot
	// drift while the request is in flight.
	cache := statedb.NewCache(ctx, s.provider.StateReader(header.Number))

	blockCtx := s.buildBlockContext(header, cache)
	applyBlockOverrides(input.BlockOverrides, &blockCtx, cache)
	if err := applyStateOverrides(input.StateOverrides, cache); err != nil {
		return nil, err
	}

	chainID, err := s.provider.ChainID(ctx)
	if err != nil {
		return nil, err
	}

	msg, err := buildMessage(&input.Transaction, blockCtx.BaseFee)
	if err != nil {
		return nil, err
	}

	db := statedb.New(cache)
	inspector := NewTraceInspector()
	evm := vm.NewEVM(blockCtx, db, chainConfig(chainID), vm.Config{Tracer: inspector.Hooks()})
	gasPool := new(core.GasPool).AddGas(blockCtx.GasLimit)

	result, err := core.ApplyMessage(evm, msg, gasPool)
	if dbErr := cache.Err(); dbErr != nil {
		// A failed upstream read degrades to zero values inside the EVM, so
		// it has to take precedence over whatever the execution concluded.
		return nil, dbErr
	}
	if err != nil {
		return nil, executionError(err)
	}

	status := result.Err == nil
	var logs []*ethtypes.Log
	if status {
		logs = db.Logs()
	}

	changes, err := buildStateChanges(db, cache)
	if err != nil {
		return nil, err
	}
	// Write the executed state back into the cache before it is dropped with
	// the rest of the request.
	if err := db.Commit(); err != nil {
		return nil, err
	}

	traces := inspector.Traces()

	decodedLogs, decodedTraces := s.decodeResults(ctx, logs, traces, chainID.Uint64())

	return &types.EvmSimulateOutput{
		Status:       status,
		GasUsed:      hexutil.Uint64(result.UsedGas),
		BlockNumber:  (*hexutil.Big)(blockCtx.BlockNumber),
		Logs:         decodedLogs,
		Trace:        decodedTraces,
		StateChanges: changes,
	}, nil
}

// decodeResults enriches logs and trace items with ABI decodings. The two
// fan-outs run concurrently and every item resolves independently; output
// order mirrors input order regardless of completion order. Decoding is best
// effort and never fails the simulation.
func (s *Simulator) decodeResults(ctx context.Context, logs []*ethtypes.Log, traces []types.CallTraceItem, chainID uint64) ([]types.DecodeLog, []types.CallTraceItem) {
	decodedLogs := make([]types.DecodeLog, len(logs))
	g, gctx := errgroup.WithContext(ctx)
	for i, lg := range logs {
		g.Go(func() error {
			raw := types.RawLog{
				Address: lg.Address,
				Topics:  lg.Topics,
				Data:    lg.Data,
			}
			decoded := types.DecodeLog{Raw: raw}
			if decoder := s.registry.Decoder(gctx, lg.Address, chainID); decoder != nil {
				if name, anonymous, inputs, ok := decoder.DecodeLog(&raw); ok {
					decoded.Name = &name
					decoded.Anonymous = &anonymous
					decoded.Inputs = inputs
				}
			}
			decodedLogs[i] = decoded
			return nil
		})
	}
	for i := range traces {
		g.Go(func() error {
			trace := &traces[i]
			if decoder := s.registry.Decoder(gctx, trace.To, chainID); decoder != nil {
				if _, params, ok := decoder.DecodeInput(trace.Input); ok {
					trace.DecodeInput = params
				}
			}
			return nil
		})
	}
	_ = g.Wait() // decoding tasks never return errors
	return decodedLogs, traces
}

// buildBlockContext derives the EVM block environment from the header. The
// BLOCKHASH opcode resolves through the cache so override-seeded hashes win
// over the upstream chain.
func (s *Simulator) buildBlockContext(header *ethtypes.Header, cache *statedb.Cache) vm.BlockContext {
	baseFee := new(big.Int)
	if header.BaseFee != nil {
		baseFee = new(big.Int).Set(header.BaseFee)
	}
	blobBaseFee := new(big.Int)
	if header.ExcessBlobGas != nil {
		blobBaseFee = eip4844.CalcBlobFee(chainConfig(new(big.Int)), header)
	}
	random := header.MixDigest

	getHash := func(number uint64) common.Hash {
		hash, err := cache.BlockHash(number)
		if err != nil {
			s.logger.Debug("block hash lookup failed", "number", number, "err", err)
			return common.Hash{}
		}
		return hash
	}

	return vm.BlockContext{
		CanTransfer: core.CanTransfer,
		Transfer:    core.Transfer,
		GetHash:     getHash,
		Coinbase:    header.Coinbase,
		GasLimit:    header.GasLimit,
		BlockNumber: new(big.Int).Set(header.Number),
		Time:        header.Time,
		Difficulty:  new(big.Int).Set(header.Difficulty),
		BaseFee:     baseFee,
		BlobBaseFee: blobBaseFee,
		Random:      &random,
	}
}

// buildMessage turns the request into an executable message. Absent fields
// default to the zero address caller, zero value, empty calldata, the
// protocol gas cap, and nonce zero. When neither pricing scheme is given the
// transaction runs at the block base fee.
func buildMessage(tx *types.TransactionRequest, baseFee *big.Int) (*core.Message, error) {
	if tx.GasPrice != nil && (tx.MaxFeePerGas != nil || tx.MaxPriorityFeePerGas != nil) {
		return nil, invalidTransactionError("both gasPrice and EIP-1559 fee fields specified")
	}

	msg := &core.Message{
		To:    tx.To,
		Value: new(big.Int),
		Data:  tx.InputData(),
	}
	if tx.From != nil {
		msg.From = *tx.From
	}
	if tx.Value != nil {
		msg.Value = (*big.Int)(tx.Value)
	}
	msg.GasLimit = txGasLimitCap
	if tx.Gas != nil {
		msg.GasLimit = uint64(*tx.Gas)
	}
	if tx.Nonce != nil {
		msg.Nonce = uint64(*tx.Nonce)
	} else {
		// The caller asked for "whatever nonce works": skip the stale-nonce
		// check instead of failing on the default zero.
		msg.SkipNonceChecks = true
	}

	if tx.MaxFeePerGas != nil {
		feeCap := (*big.Int)(tx.MaxFeePerGas)
		tipCap := new(big.Int)
		if tx.MaxPriorityFeePerGas != nil {
			tipCap = (*big.Int)(tx.MaxPriorityFeePerGas)
		}
		if feeCap.Cmp(tipCap) < 0 {
			return nil, invalidTransactionError("maxPriorityFeePerGas exceeds maxFeePerGas")
		}
		msg.GasFeeCap = feeCap
		msg.GasTipCap = tipCap
		gasPrice := new(big.Int).Add(tipCap, baseFee)
		if gasPrice.Cmp(feeCap) > 0 {
			gasPrice = feeCap
		}
		msg.GasPrice = gasPrice
	} else {
		price := new(big.Int).Set(baseFee)
		if tx.GasPrice != nil {
			price = (*big.Int)(tx.GasPrice)
		}
		msg.GasPrice = price
		msg.GasFeeCap = price
		msg.GasTipCap = price
	}
	return msg, nil
}

// chainConfig builds a chain configuration with every supported fork active,
// bound to the upstream chain id. Simulations always run under the newest
// rules, mirroring how the block environment is taken from the live chain.
func chainConfig(chainID *big.Int) *params.ChainConfig {
	zero := big.NewInt(0)
	zeroTime := uint64(0)
	return &params.ChainConfig{
		ChainID:                 chainID,
		HomesteadBlock:          zero,
		EIP150Block:             zero,
		EIP155Block:             zero,
		EIP158Block:             zero,
		ByzantiumBlock:          zero,
		ConstantinopleBlock:     zero,
		PetersburgBlock:         zero,
		IstanbulBlock:           zero,
		MuirGlacierBlock:        zero,
		BerlinBlock:             zero,
		LondonBlock:             zero,
		ArrowGlacierBlock:       zero,
		GrayGlacierBlock:        zero,
		MergeNetsplitBlock:      zero,
		TerminalTotalDifficulty: zero,
		ShanghaiTime:            &zeroTime,
		CancunTime:              &zeroTime,
		PragueTime:              &zeroTime,
		BlobScheduleConfig:      params.DefaultBlobSchedule,
	}
}
