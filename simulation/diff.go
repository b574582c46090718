package simulation

import (
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/iosh/dryrun/statedb"
	"github.com/iosh/dryrun/types"
)

// buildStateChanges derives the per-account deltas of an execution. The
// baseline of every comparison is the cache state from after the overrides
// were committed but before execution began: account fields come from the
// cache, storage slots from the per-slot committed values the state objects
// pinned on first access.
func buildStateChanges(db *statedb.StateDB, cache *statedb.Cache) ([]types.StateChange, error) {
	var changes []types.StateChange
	for _, addr := range db.DirtyAccounts() {
		// Transient empty accounts carry no observable change.
		if db.Empty(addr) && len(db.DirtyStorage(addr)) == 0 {
			continue
		}

		original, err := cache.Account(addr)
		if err != nil {
			return nil, err
		}

		change := types.StateChange{Address: addr}

		if nonce := db.GetNonce(addr); nonce != original.Nonce {
			change.Nonce = &types.NonceChange{
				PreviousValue: hexutil.Uint64(original.Nonce),
				NewValue:      hexutil.Uint64(nonce),
			}
		}

		if balance := db.GetBalance(addr); balance.Cmp(original.Balance) != 0 {
			change.Balance = &types.BalanceChange{
				PreviousValue: (*hexutil.Big)(original.Balance.ToBig()),
				NewValue:      (*hexutil.Big)(balance.ToBig()),
			}
		}

		dirty := db.DirtyStorage(addr)
		for _, slot := range dirty.SortedKeys() {
			previous := db.GetCommittedState(addr, slot)
			if current := dirty[slot]; current != previous {
				change.Storage = append(change.Storage, types.StorageChange{
					Slot:          types.NewStorageSlot(slot),
					PreviousValue: previous,
					NewValue:      current,
				})
			}
		}

		if change.Nonce != nil || change.Balance != nil || len(change.Storage) > 0 {
			changes = append(changes, change)
		}
	}
	return changes, nil
}
