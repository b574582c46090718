package statedb

import (
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/state"
	"github.com/ethereum/go-ethereum/core/stateless"
	"github.com/ethereum/go-ethereum/core/tracing"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/params"
	"github.com/ethereum/go-ethereum/trie/utils"
	"github.com/holiman/uint256"
)

var _ vm.StateDB = &StateDB{}

// revision is the identifier of a version of state.
// it consists of an auto-increment id and a journal index.
// it's safer to use than using journal index alone.
type revision struct {
	id           int
	journalIndex int
}

// StateDB structs within the ethereum protocol are used to store anything
// within the merkle trie. It takes care of caching and storing nested states.
// Dirty state is journaled so it can be reverted to any snapshot taken during
// execution; nothing reaches the underlying cache until Commit.
type StateDB struct {
	cache *Cache

	// Journal of state modifications. This is the backbone of
	// Snapshot and RevertToSnapshot.
	journal        *journal
	validRevisions []revision
	nextRevisionID int

	stateObjects map[common.Address]*stateObject

	// Per-transaction access list
	accessList *accessList

	// Transient storage
	transientStorage transientStorage

	logs []*ethtypes.Log

	refund uint64
}

// New creates a new state from a given cache.
func New(cache *Cache) *StateDB {
	return &StateDB{
		cache:            cache,
		journal:          newJournal(),
		stateObjects:     make(map[common.Address]*stateObject),
		accessList:       newAccessList(),
		transientStorage: newTransientStorage(),
	}
}

// Cache returns the underlying state cache.
func (s *StateDB) Cache() *Cache {
	return s.cache
}

// AddLog adds a log emitted during execution. Reverting a snapshot drops the
// logs recorded after it was taken.
func (s *StateDB) AddLog(log *ethtypes.Log) {
	s.journal.append(addLogChange{})
	s.logs = append(s.logs, log)
}

// Logs returns the logs of current transaction.
func (s *StateDB) Logs() []*ethtypes.Log {
	return s.logs
}

// AddRefund adds gas to the refund counter.
func (s *StateDB) AddRefund(gas uint64) {
	s.journal.append(refundChange{prev: s.refund})
	s.refund += gas
}

// SubRefund removes gas from the refund counter.
// This method will panic if the refund counter goes below zero.
func (s *StateDB) SubRefund(gas uint64) {
	s.journal.append(refundChange{prev: s.refund})
	if gas > s.refund {
		panic(fmt.Sprintf("refund counter below zero (gas: %d > refund: %d)", gas, s.refund))
	}
	s.refund -= gas
}

// Exist reports whether the given account exists in state. Accounts the
// upstream node has never seen are indistinguishable from empty ones, so
// existence collapses to non-emptiness.
func (s *StateDB) Exist(addr common.Address) bool {
	obj := s.getStateObject(addr)
	return obj.newContract || !obj.empty()
}

// Empty returns whether the state object is either non-existent or empty
// according to the EIP-161 specification (balance = nonce = code = 0).
func (s *StateDB) Empty(addr common.Address) bool {
	return s.getStateObject(addr).empty()
}

// GetBalance retrieves the balance from the given address or 0 if the account
// doesn't exist.
func (s *StateDB) GetBalance(addr common.Address) *uint256.Int {
	return s.getStateObject(addr).Balance()
}

// GetNonce returns the nonce of the account, 0 if not exists.
func (s *StateDB) GetNonce(addr common.Address) uint64 {
	return s.getStateObject(addr).Nonce()
}

// GetCode returns the code of the account, nil if not exists.
func (s *StateDB) GetCode(addr common.Address) []byte {
	return s.getStateObject(addr).Code()
}

// GetCodeSize returns the code size of the account.
func (s *StateDB) GetCodeSize(addr common.Address) int {
	return s.getStateObject(addr).CodeSize()
}

// GetCodeHash returns the code hash of the account.
func (s *StateDB) GetCodeHash(addr common.Address) common.Hash {
	return common.BytesToHash(s.getStateObject(addr).CodeHash())
}

// GetState retrieves the value of a slot from the given address's storage.
func (s *StateDB) GetState(addr common.Address, hash common.Hash) common.Hash {
	return s.getStateObject(addr).GetState(hash)
}

// GetCommittedState retrieves a value from the given account's committed
// storage, ignoring any dirty writes of the current transaction.
func (s *StateDB) GetCommittedState(addr common.Address, hash common.Hash) common.Hash {
	return s.getStateObject(addr).GetCommittedState(hash)
}

// GetStorageRoot is not derivable from a remote state view; the zero hash
// reads as "no storage" which satisfies the create-collision check.
func (s *StateDB) GetStorageRoot(common.Address) common.Hash {
	return common.Hash{}
}

// GetRefund returns the current value of the refund counter.
func (s *StateDB) GetRefund() uint64 {
	return s.refund
}

// HasSelfDestructed returns if the contract is self-destructed in current
// transaction.
func (s *StateDB) HasSelfDestructed(addr common.Address) bool {
	if obj, ok := s.stateObjects[addr]; ok {
		return obj.selfDestructed
	}
	return false
}

// AddPreimage records a SHA3 preimage seen by the VM. Preimages are not
// collected here.
func (s *StateDB) AddPreimage(_ common.Hash, _ []byte) {}

// getStateObject materializes the state object for the address, reading it
// through the cache on first touch. The returned object is never nil: an
// account unknown upstream is a pinned zero account.
func (s *StateDB) getStateObject(addr common.Address) *stateObject {
	if obj, ok := s.stateObjects[addr]; ok {
		return obj
	}
	account, _ := s.cache.Account(addr)
	obj := newObject(s, addr, account)
	s.stateObjects[addr] = obj
	return obj
}

// AddBalance adds amount to the account associated with addr and returns the
// previous balance.
func (s *StateDB) AddBalance(addr common.Address, amount *uint256.Int, _ tracing.BalanceChangeReason) uint256.Int {
	return s.getStateObject(addr).AddBalance(amount)
}

// SubBalance subtracts amount from the account associated with addr and
// returns the previous balance.
func (s *StateDB) SubBalance(addr common.Address, amount *uint256.Int, _ tracing.BalanceChangeReason) uint256.Int {
	return s.getStateObject(addr).SubBalance(amount)
}

// SetNonce sets the nonce of account.
func (s *StateDB) SetNonce(addr common.Address, nonce uint64, _ tracing.NonceChangeReason) {
	s.getStateObject(addr).SetNonce(nonce)
}

// SetCode sets the code of account and returns the previous code.
func (s *StateDB) SetCode(addr common.Address, code []byte) []byte {
	return s.getStateObject(addr).SetCode(crypto.Keccak256Hash(code), code)
}

// SetState sets the contract state and returns the previous value.
func (s *StateDB) SetState(addr common.Address, key, value common.Hash) common.Hash {
	return s.getStateObject(addr).SetState(key, value)
}

// SetTransientState sets transient storage for a given account. It
// adds the change to the journal so that it can be rolled back
// to its previous value if there is a revert.
func (s *StateDB) SetTransientState(addr common.Address, key, value common.Hash) {
	prev := s.GetTransientState(addr, key)
	if prev == value {
		return
	}
	s.journal.append(transientStorageChange{
		account:  &addr,
		key:      key,
		prevalue: prev,
	})
	s.setTransientState(addr, key, value)
}

// setTransientState is a lower level setter for transient storage. It
// is called during a revert to prevent modifications to the journal.
func (s *StateDB) setTransientState(addr common.Address, key, value common.Hash) {
	s.transientStorage.Set(addr, key, value)
}

// GetTransientState gets transient storage for a given account.
func (s *StateDB) GetTransientState(addr common.Address, key common.Hash) common.Hash {
	return s.transientStorage.Get(addr, key)
}

// SelfDestruct marks the given account as selfdestructed. The account's
// balance is cleared; the actual removal happens at commit. Returns the
// balance held before the destruct.
func (s *StateDB) SelfDestruct(addr common.Address) uint256.Int {
	obj := s.getStateObject(addr)
	prev := *(obj.Balance())
	s.journal.append(selfDestructChange{
		account:     &addr,
		prev:        obj.selfDestructed,
		prevbalance: new(uint256.Int).Set(obj.Balance()),
	})
	obj.markSelfDestructed()
	obj.account.Balance = new(uint256.Int)
	return prev
}

// SelfDestruct6780 destructs the account per EIP-6780: only contracts created
// within the same transaction are actually removed.
func (s *StateDB) SelfDestruct6780(addr common.Address) (uint256.Int, bool) {
	obj := s.getStateObject(addr)
	if obj.newContract {
		return s.SelfDestruct(addr), true
	}
	return *(obj.Balance()), false
}

// CreateAccount materializes the account in the dirty set. Unlike a trie
// backed state there is nothing to wipe: collision rules are enforced by the
// EVM before this is called.
func (s *StateDB) CreateAccount(addr common.Address) {
	s.getStateObject(addr)
}

// CreateContract is used whenever a contract is created. This may be preceded
// by CreateAccount, but that is not required if it already existed in the
// state due to funds sent beforehand.
func (s *StateDB) CreateContract(addr common.Address) {
	obj := s.getStateObject(addr)
	if !obj.newContract {
		obj.newContract = true
		s.journal.append(createContractChange{account: &addr})
	}
}

// PointCache is only used in the verkle tree world, which this state does not
// inhabit.
func (s *StateDB) PointCache() *utils.PointCache {
	return nil
}

// Witness is unsupported; no execution witness is collected.
func (s *StateDB) Witness() *stateless.Witness {
	return nil
}

// AccessEvents is unsupported outside of verkle mode.
func (s *StateDB) AccessEvents() *state.AccessEvents {
	return nil
}

// Finalise is a no-op: dirty state stays journaled until Commit so that the
// diff builder can still see per-slot origins.
func (s *StateDB) Finalise(_ bool) {}

// Prepare handles the preparatory steps for executing a state transition with.
// This method must be invoked before state transition.
//
// Berlin fork:
// - Add sender to access list (2929)
// - Add destination to access list (2929)
// - Add precompiles to access list (2929)
// - Add the contents of the optional tx access list (2930)
//
// Potential EIPs:
// - Reset transient storage (1153)
func (s *StateDB) Prepare(rules params.Rules, sender, coinbase common.Address, dst *common.Address, precompiles []common.Address, list ethtypes.AccessList) {
	if rules.IsBerlin {
		// Clear out any leftover from previous executions
		al := newAccessList()
		s.accessList = al

		al.AddAddress(sender)
		if dst != nil {
			al.AddAddress(*dst)
			// If it's a create-tx, the destination will be added inside evm.create
		}
		for _, addr := range precompiles {
			al.AddAddress(addr)
		}
		for _, el := range list {
			al.AddAddress(el.Address)
			for _, key := range el.StorageKeys {
				al.AddSlot(el.Address, key)
			}
		}
		if rules.IsShanghai { // EIP-3651: warm coinbase
			al.AddAddress(coinbase)
		}
	}
	// Reset transient storage at the beginning of transaction execution
	s.transientStorage = newTransientStorage()
}

// AddAddressToAccessList adds the given address to the access list.
func (s *StateDB) AddAddressToAccessList(addr common.Address) {
	if s.accessList.AddAddress(addr) {
		s.journal.append(accessListAddAccountChange{address: &addr})
	}
}

// AddSlotToAccessList adds the given (address, slot)-tuple to the access list.
func (s *StateDB) AddSlotToAccessList(addr common.Address, slot common.Hash) {
	addrMod, slotMod := s.accessList.AddSlot(addr, slot)
	if addrMod {
		// In practice, this should not happen, since there is no way to enter the
		// scope of 'address' without having the 'address' become already added
		// to the access list (via call-variant, create, etc).
		// Better safe than sorry, though
		s.journal.append(accessListAddAccountChange{address: &addr})
	}
	if slotMod {
		s.journal.append(accessListAddSlotChange{
			address: &addr,
			slot:    &slot,
		})
	}
}

// AddressInAccessList returns true if the given address is in the access list.
func (s *StateDB) AddressInAccessList(addr common.Address) bool {
	return s.accessList.ContainsAddress(addr)
}

// SlotInAccessList returns true if the given (address, slot)-tuple is in the
// access list.
func (s *StateDB) SlotInAccessList(addr common.Address, slot common.Hash) (bool, bool) {
	return s.accessList.Contains(addr, slot)
}

// Snapshot returns an identifier for the current revision of the state.
func (s *StateDB) Snapshot() int {
	id := s.nextRevisionID
	s.nextRevisionID++
	s.validRevisions = append(s.validRevisions, revision{id, s.journal.length()})
	return id
}

// RevertToSnapshot reverts all state changes made since the given revision.
func (s *StateDB) RevertToSnapshot(revid int) {
	// Find the snapshot in the stack of valid snapshots.
	idx := sort.Search(len(s.validRevisions), func(i int) bool {
		return s.validRevisions[i].id >= revid
	})
	if idx == len(s.validRevisions) || s.validRevisions[idx].id != revid {
		panic(fmt.Errorf("revision id %v cannot be reverted", revid))
	}
	snapshot := s.validRevisions[idx].journalIndex

	// Replay the journal to undo changes and remove invalidated snapshots
	s.journal.revert(s, snapshot)
	s.validRevisions = s.validRevisions[:idx]
}

// DirtyAccounts returns the set of accounts touched by journaled
// modifications, sorted for deterministic iteration.
func (s *StateDB) DirtyAccounts() []common.Address {
	return s.journal.sortedDirties()
}

// DirtyStorage returns a copy of the slots written on the given account.
func (s *StateDB) DirtyStorage(addr common.Address) Storage {
	if obj, ok := s.stateObjects[addr]; ok {
		return obj.dirtyStorage.Copy()
	}
	return make(Storage)
}

// Commit writes the dirty states back into the underlying cache.
func (s *StateDB) Commit() error {
	deltas := make(map[common.Address]AccountDelta)
	for _, addr := range s.journal.sortedDirties() {
		obj, ok := s.stateObjects[addr]
		if !ok {
			continue
		}
		if obj.selfDestructed {
			deltas[addr] = AccountDelta{Status: SelfDestructed}
			continue
		}
		delta := AccountDelta{Status: Touched}
		if obj.newContract {
			delta.Status |= Created
		}
		account := obj.account
		account.Balance = new(uint256.Int).Set(obj.account.Balance)
		delta.Account = &account
		if obj.dirtyCode {
			delta.Code = obj.code
		}
		if len(obj.dirtyStorage) > 0 {
			delta.Storage = obj.dirtyStorage.Copy()
		}
		deltas[addr] = delta
	}
	return s.cache.Commit(deltas)
}
