package simulation

import (
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/params"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"

	"github.com/iosh/dryrun/statedb"
	"github.com/iosh/dryrun/types"
)

// applyBlockOverrides mutates the block environment in place and extends the
// BLOCKHASH lookup table with the provided entries. Absent fields keep the
// value derived from the block header.
func applyBlockOverrides(o *types.BlockOverrides, blockCtx *vm.BlockContext, cache *statedb.Cache) {
	if o == nil {
		return
	}
	for number, hash := range o.BlockHash {
		cache.SetBlockHash(number, hash)
	}
	if o.Number != nil {
		blockCtx.BlockNumber = (*big.Int)(o.Number)
	}
	if o.Difficulty != nil {
		blockCtx.Difficulty = (*big.Int)(o.Difficulty)
	}
	if o.Time != nil {
		blockCtx.Time = uint64(*o.Time)
	}
	if o.GasLimit != nil {
		blockCtx.GasLimit = uint64(*o.GasLimit)
	}
	if o.Coinbase != nil {
		blockCtx.Coinbase = *o.Coinbase
	}
	if o.Random != nil {
		random := *o.Random
		blockCtx.Random = &random
	}
	if o.BaseFee != nil {
		blockCtx.BaseFee = (*big.Int)(o.BaseFee)
	}
}

// applyStateOverrides pre-seeds the state cache with the caller's account
// patches. A full `state` replacement first wipes the account's storage
// baseline (self-destruct-then-recreate), a `stateDiff` overlays slots on top
// of the upstream state. Carrying both is a caller error.
func applyStateOverrides(o types.StateOverride, cache *statedb.Cache) error {
	addrs := make([]common.Address, 0, len(o))
	for addr := range o {
		addrs = append(addrs, addr)
	}
	sort.Slice(addrs, func(i, j int) bool {
		return addrs[i].Hex() < addrs[j].Hex()
	})

	for _, addr := range addrs {
		override := o[addr]
		if override.State != nil && override.StateDiff != nil {
			return &BothStateAndStateDiffError{Address: addr}
		}

		// First read pins the account's upstream baseline.
		account, err := cache.Account(addr)
		if err != nil {
			return err
		}

		delta := statedb.AccountDelta{Status: statedb.Touched}

		if override.Nonce != nil {
			account.Nonce = uint64(*override.Nonce)
		}
		if override.Balance != nil {
			balance, overflow := uint256.FromBig((*big.Int)(override.Balance))
			if overflow {
				return invalidTransactionError("override balance does not fit 256 bits")
			}
			account.Balance = balance
		}
		if override.Code != nil {
			code := []byte(*override.Code)
			if len(code) > params.MaxCodeSize {
				return errors.Wrapf(ErrBytecodeDecode, "override code for %s exceeds %d bytes", addr.Hex(), params.MaxCodeSize)
			}
			account.CodeHash = crypto.Keccak256(code)
			delta.Code = code
		}

		switch {
		case override.State != nil:
			// Wipe the storage baseline to zero, then recreate the account
			// with the replacement storage.
			if err := cache.Commit(map[common.Address]statedb.AccountDelta{
				addr: {Status: statedb.SelfDestructed | statedb.Touched},
			}); err != nil {
				return err
			}
			delta.Status |= statedb.Created
			delta.Storage = statedb.Storage(override.State).Copy()
		case override.StateDiff != nil:
			delta.Storage = statedb.Storage(override.StateDiff).Copy()
		}

		delta.Account = &account
		if err := cache.Commit(map[common.Address]statedb.AccountDelta{addr: delta}); err != nil {
			return err
		}
	}
	return nil
}
