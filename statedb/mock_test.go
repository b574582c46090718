package statedb_test

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"

	"github.com/iosh/dryrun/statedb"
)

var (
	_          statedb.Reader = &MockReader{}
	errAddress common.Address = common.BigToAddress(common.Big257)
)

type MockAccount struct {
	account statedb.Account
	code    []byte
	states  statedb.Storage
}

// MockReader is an in-memory stand-in for the upstream archive node.
type MockReader struct {
	accounts map[common.Address]MockAccount
	hashes   map[uint64]common.Hash

	accountReads int
	storageReads int
}

func NewMockReader() *MockReader {
	return &MockReader{
		accounts: make(map[common.Address]MockAccount),
		hashes:   make(map[uint64]common.Hash),
	}
}

func (r *MockReader) SetAccount(addr common.Address, nonce uint64, balance uint64, code []byte) {
	account := statedb.Account{
		Nonce:    nonce,
		Balance:  uint256.NewInt(balance),
		CodeHash: statedb.EmptyCodeHash,
	}
	if len(code) > 0 {
		account.CodeHash = crypto.Keccak256(code)
	}
	entry := r.accounts[addr]
	entry.account = account
	entry.code = code
	if entry.states == nil {
		entry.states = make(statedb.Storage)
	}
	r.accounts[addr] = entry
}

func (r *MockReader) SetState(addr common.Address, key, value common.Hash) {
	entry, ok := r.accounts[addr]
	if !ok {
		entry = MockAccount{account: *statedb.NewEmptyAccount(), states: make(statedb.Storage)}
	}
	entry.states[key] = value
	r.accounts[addr] = entry
}

func (r *MockReader) SetBlockHash(number uint64, hash common.Hash) {
	r.hashes[number] = hash
}

func (r *MockReader) Account(_ context.Context, addr common.Address) (statedb.Account, []byte, error) {
	if addr == errAddress {
		return statedb.Account{}, nil, errors.New("mock transport error")
	}
	r.accountReads++
	entry, ok := r.accounts[addr]
	if !ok {
		return *statedb.NewEmptyAccount(), nil, nil
	}
	account := entry.account
	account.Balance = new(uint256.Int).Set(entry.account.Balance)
	return account, entry.code, nil
}

func (r *MockReader) StorageAt(_ context.Context, addr common.Address, key common.Hash) (common.Hash, error) {
	if addr == errAddress {
		return common.Hash{}, errors.New("mock transport error")
	}
	r.storageReads++
	return r.accounts[addr].states[key], nil
}

func (r *MockReader) BlockHash(_ context.Context, number uint64) (common.Hash, error) {
	hash, ok := r.hashes[number]
	if !ok {
		return common.Hash{}, errors.New("mock unknown block")
	}
	return hash, nil
}
