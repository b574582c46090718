package statedb

import (
	"bytes"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

// EmptyCodeHash is the keccak256 of empty code.
var EmptyCodeHash = crypto.Keccak256(nil)

// IsEmptyCodeHash reports whether the hash denotes empty code.
func IsEmptyCodeHash(hash []byte) bool {
	return len(hash) == 0 || bytes.Equal(hash, EmptyCodeHash)
}

// Account is the Ethereum consensus representation of an account.
type Account struct {
	Nonce    uint64
	Balance  *uint256.Int
	CodeHash []byte
}

// NewEmptyAccount returns a zero-valued account.
func NewEmptyAccount() *Account {
	return &Account{
		Balance:  new(uint256.Int),
		CodeHash: EmptyCodeHash,
	}
}

// HasCode returns if the account contains contract code.
func (acct Account) HasCode() bool {
	return !IsEmptyCodeHash(acct.CodeHash)
}

// Storage represents an in-memory cache/buffer of contract storage.
type Storage map[common.Hash]common.Hash

func (s Storage) Copy() Storage {
	cpy := make(Storage, len(s))
	for key, value := range s {
		cpy[key] = value
	}
	return cpy
}

// SortedKeys sorts the keys for deterministic iteration.
func (s Storage) SortedKeys() []common.Hash {
	keys := make([]common.Hash, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return bytes.Compare(keys[i].Bytes(), keys[j].Bytes()) < 0
	})
	return keys
}

func sortAddresses(addrs []common.Address) {
	sort.Slice(addrs, func(i, j int) bool {
		return bytes.Compare(addrs[i].Bytes(), addrs[j].Bytes()) < 0
	})
}

// stateObject is the in-flight state of a single account.
type stateObject struct {
	db *StateDB

	account Account
	code    []byte

	// state storage
	originStorage Storage
	dirtyStorage  Storage

	address common.Address

	// flags
	dirtyCode      bool
	selfDestructed bool
	newContract    bool
}

// newObject creates a state object.
func newObject(db *StateDB, address common.Address, account Account) *stateObject {
	if account.Balance == nil {
		account.Balance = new(uint256.Int)
	}
	if account.CodeHash == nil {
		account.CodeHash = EmptyCodeHash
	}
	return &stateObject{
		db:            db,
		address:       address,
		account:       account,
		originStorage: make(Storage),
		dirtyStorage:  make(Storage),
	}
}

// empty returns whether the account is considered empty.
func (s *stateObject) empty() bool {
	return s.account.Nonce == 0 &&
		s.account.Balance.Sign() == 0 &&
		IsEmptyCodeHash(s.account.CodeHash)
}

func (s *stateObject) markSelfDestructed() {
	s.selfDestructed = true
}

// AddBalance adds amount to s's balance and returns the previous value.
func (s *stateObject) AddBalance(amount *uint256.Int) uint256.Int {
	if amount.IsZero() {
		return *(s.Balance())
	}
	return s.SetBalance(new(uint256.Int).Add(s.Balance(), amount))
}

// SubBalance removes amount from s's balance and returns the previous value.
func (s *stateObject) SubBalance(amount *uint256.Int) uint256.Int {
	if amount.IsZero() {
		return *(s.Balance())
	}
	return s.SetBalance(new(uint256.Int).Sub(s.Balance(), amount))
}

// SetBalance updates the account balance and returns the previous value.
func (s *stateObject) SetBalance(amount *uint256.Int) uint256.Int {
	prev := *s.account.Balance
	s.db.journal.append(balanceChange{
		account: &s.address,
		prev:    new(uint256.Int).Set(s.account.Balance),
	})
	s.setBalance(amount)
	return prev
}

func (s *stateObject) setBalance(amount *uint256.Int) {
	s.account.Balance = amount
}

// Address returns the address of the account.
func (s *stateObject) Address() common.Address {
	return s.address
}

// Code returns the contract code associated with this object, if any.
func (s *stateObject) Code() []byte {
	if s.code != nil {
		return s.code
	}
	if IsEmptyCodeHash(s.CodeHash()) {
		return nil
	}
	s.code = s.db.cache.Code(common.BytesToHash(s.CodeHash()))
	return s.code
}

// CodeSize returns the size of the contract code, or zero if none.
func (s *stateObject) CodeSize() int {
	return len(s.Code())
}

// SetCode sets the contract code and returns the previous code.
func (s *stateObject) SetCode(codeHash common.Hash, code []byte) []byte {
	prevcode := s.Code()
	s.db.journal.append(codeChange{
		account:  &s.address,
		prevhash: s.CodeHash(),
		prevcode: prevcode,
	})
	s.setCode(codeHash, code)
	return prevcode
}

func (s *stateObject) setCode(codeHash common.Hash, code []byte) {
	s.code = code
	s.account.CodeHash = codeHash[:]
	s.dirtyCode = true
}

// SetNonce sets the account nonce.
func (s *stateObject) SetNonce(nonce uint64) {
	s.db.journal.append(nonceChange{
		account: &s.address,
		prev:    s.account.Nonce,
	})
	s.setNonce(nonce)
}

func (s *stateObject) setNonce(nonce uint64) {
	s.account.Nonce = nonce
}

// CodeHash returns the code hash of the account.
func (s *stateObject) CodeHash() []byte {
	return s.account.CodeHash
}

// Balance returns the balance of the account.
func (s *stateObject) Balance() *uint256.Int {
	return s.account.Balance
}

// Nonce returns the nonce of the account.
func (s *stateObject) Nonce() uint64 {
	return s.account.Nonce
}

// GetCommittedState queries the committed state, i.e. the cache view from
// before this transaction started executing.
func (s *stateObject) GetCommittedState(key common.Hash) common.Hash {
	if value, cached := s.originStorage[key]; cached {
		return value
	}
	value, _ := s.db.cache.State(s.Address(), key)
	s.originStorage[key] = value
	return value
}

// GetState queries the current state, including dirty writes.
func (s *stateObject) GetState(key common.Hash) common.Hash {
	if value, dirty := s.dirtyStorage[key]; dirty {
		return value
	}
	return s.GetCommittedState(key)
}

// SetState sets the contract state and returns the previous value.
func (s *stateObject) SetState(key common.Hash, value common.Hash) common.Hash {
	// If the new value is the same as old, don't set
	prev := s.GetState(key)
	if prev == value {
		return prev
	}
	// New value is different, update and journal the change
	s.db.journal.append(storageChange{
		account:  &s.address,
		key:      key,
		prevalue: prev,
	})
	s.setState(key, value)
	return prev
}

func (s *stateObject) setState(key, value common.Hash) {
	s.dirtyStorage[key] = value
}
