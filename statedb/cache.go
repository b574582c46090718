package statedb

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"
)

// Reader supplies account state from an upstream source at a fixed block.
type Reader interface {
	// Account returns the basic account fields together with the contract
	// code. Accounts unknown upstream come back zero-valued.
	Account(ctx context.Context, addr common.Address) (Account, []byte, error)
	// StorageAt returns the value of a single storage slot.
	StorageAt(ctx context.Context, addr common.Address, key common.Hash) (common.Hash, error)
	// BlockHash returns the canonical hash of the given block number.
	BlockHash(ctx context.Context, number uint64) (common.Hash, error)
}

// AccountStatus flags how a committed delta should be folded into the cache.
type AccountStatus uint8

const (
	// Touched marks a plain update of account fields and storage slots.
	Touched AccountStatus = 1 << iota
	// Created marks an account recreated from scratch: its storage baseline
	// is wiped so later reads miss the upstream state entirely.
	Created
	// SelfDestructed removes the account and clears its storage.
	SelfDestructed
)

// AccountDelta is one account's slice of a commit.
type AccountDelta struct {
	Status  AccountStatus
	Account *Account
	Code    []byte
	Storage Storage
}

type cacheAccount struct {
	account Account
	storage Storage
	// wiped means the storage baseline is all-zero: slot misses resolve to
	// the zero word locally instead of hitting the upstream reader.
	wiped bool
}

// Cache is a request-scoped, lazily populated view of chain state at a single
// block. The first read of any key pins its value; overrides and executor
// write-back go through Commit. Upstream failures are remembered and surfaced
// through Err, since the EVM facing accessors cannot return errors.
type Cache struct {
	ctx    context.Context
	reader Reader

	accounts    map[common.Address]*cacheAccount
	codes       map[common.Hash][]byte
	blockHashes map[uint64]common.Hash

	err error
}

// NewCache creates a cache over the given reader. The context bounds every
// read-through issued on behalf of the EVM.
func NewCache(ctx context.Context, reader Reader) *Cache {
	return &Cache{
		ctx:         ctx,
		reader:      reader,
		accounts:    make(map[common.Address]*cacheAccount),
		codes:       make(map[common.Hash][]byte),
		blockHashes: make(map[uint64]common.Hash),
	}
}

func (c *Cache) setError(err error) {
	if c.err == nil {
		c.err = err
	}
}

// Err returns the first upstream failure observed by any accessor.
func (c *Cache) Err() error {
	return c.err
}

func (c *Cache) entry(addr common.Address) (*cacheAccount, error) {
	if entry, ok := c.accounts[addr]; ok {
		return entry, nil
	}
	account, code, err := c.reader.Account(c.ctx, addr)
	if err != nil {
		err = errors.Wrap(err, "database error")
		c.setError(err)
		return nil, err
	}
	if account.Balance == nil {
		account.Balance = NewEmptyAccount().Balance
	}
	if len(account.CodeHash) == 0 {
		account.CodeHash = EmptyCodeHash
	}
	if len(code) > 0 {
		c.codes[common.BytesToHash(account.CodeHash)] = code
	}
	entry := &cacheAccount{account: account, storage: make(Storage)}
	c.accounts[addr] = entry
	return entry, nil
}

// Account returns the current account fields, reading through on first use.
// Never-seen accounts pin a zero-valued baseline.
func (c *Cache) Account(addr common.Address) (Account, error) {
	entry, err := c.entry(addr)
	if err != nil {
		return *NewEmptyAccount(), err
	}
	account := entry.account
	account.Balance = new(uint256.Int).Set(entry.account.Balance)
	return account, nil
}

// State returns the current value of one storage slot.
func (c *Cache) State(addr common.Address, key common.Hash) (common.Hash, error) {
	entry, err := c.entry(addr)
	if err != nil {
		return common.Hash{}, err
	}
	if value, ok := entry.storage[key]; ok {
		return value, nil
	}
	if entry.wiped {
		entry.storage[key] = common.Hash{}
		return common.Hash{}, nil
	}
	value, err := c.reader.StorageAt(c.ctx, addr, key)
	if err != nil {
		err = errors.Wrap(err, "database error")
		c.setError(err)
		return common.Hash{}, err
	}
	entry.storage[key] = value
	return value, nil
}

// Code returns contract code by hash. Code enters the cache alongside its
// account or through a commit, so a lookup never goes upstream.
func (c *Cache) Code(codeHash common.Hash) []byte {
	if codeHash == (common.Hash{}) || codeHash == common.BytesToHash(EmptyCodeHash) {
		return nil
	}
	return c.codes[codeHash]
}

// BlockHash resolves a block number for the BLOCKHASH opcode, preferring
// hashes seeded by block overrides.
func (c *Cache) BlockHash(number uint64) (common.Hash, error) {
	if hash, ok := c.blockHashes[number]; ok {
		return hash, nil
	}
	hash, err := c.reader.BlockHash(c.ctx, number)
	if err != nil {
		err = errors.Wrap(err, "database error")
		c.setError(err)
		return common.Hash{}, err
	}
	c.blockHashes[number] = hash
	return hash, nil
}

// SetBlockHash seeds the BLOCKHASH table, shadowing the upstream chain.
func (c *Cache) SetBlockHash(number uint64, hash common.Hash) {
	c.blockHashes[number] = hash
}

// Commit folds account deltas into the cache. Self-destructed accounts are
// zeroed, created accounts lose their storage baseline first, and storage
// values overlay whatever is cached.
func (c *Cache) Commit(deltas map[common.Address]AccountDelta) error {
	for _, addr := range sortedAddresses(deltas) {
		delta := deltas[addr]
		entry, err := c.entry(addr)
		if err != nil {
			return err
		}
		if delta.Status&SelfDestructed != 0 {
			entry.account = *NewEmptyAccount()
			entry.storage = make(Storage)
			entry.wiped = true
			continue
		}
		if delta.Status&Created != 0 {
			entry.storage = make(Storage)
			entry.wiped = true
		}
		if delta.Account != nil {
			entry.account = *delta.Account
			if len(delta.Code) > 0 {
				c.codes[common.BytesToHash(delta.Account.CodeHash)] = delta.Code
			}
		}
		for _, key := range delta.Storage.SortedKeys() {
			entry.storage[key] = delta.Storage[key]
		}
	}
	return nil
}

func sortedAddresses(deltas map[common.Address]AccountDelta) []common.Address {
	addrs := make([]common.Address, 0, len(deltas))
	for addr := range deltas {
		addrs = append(addrs, addr)
	}
	sortAddresses(addrs)
	return addrs
}
