package statedb_test

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/iosh/dryrun/statedb"
)

func TestCacheBlockHashes(t *testing.T) {
	reader := NewMockReader()
	hash100 := common.BigToHash(big.NewInt(0x64))
	reader.SetBlockHash(100, hash100)
	cache := statedb.NewCache(context.Background(), reader)

	got, err := cache.BlockHash(100)
	require.NoError(t, err)
	require.Equal(t, hash100, got)

	// Seeded hashes shadow the upstream chain.
	seeded := common.BigToHash(big.NewInt(0xbeef))
	cache.SetBlockHash(100, seeded)
	got, err = cache.BlockHash(100)
	require.NoError(t, err)
	require.Equal(t, seeded, got)

	// A seeded hash for an unknown block never goes upstream.
	cache.SetBlockHash(999, seeded)
	got, err = cache.BlockHash(999)
	require.NoError(t, err)
	require.Equal(t, seeded, got)
}

func TestCacheUpstreamFailure(t *testing.T) {
	cache := statedb.NewCache(context.Background(), NewMockReader())

	_, err := cache.Account(errAddress)
	require.Error(t, err)
	require.Contains(t, err.Error(), "database error")
	require.Error(t, cache.Err())
}

func TestCacheCommitCreatedWipesStorage(t *testing.T) {
	reader := NewMockReader()
	reader.SetState(address, key1, value1)
	cache := statedb.NewCache(context.Background(), reader)

	// Pin the baseline, then recreate the account.
	_, err := cache.Account(address)
	require.NoError(t, err)

	account := statedb.NewEmptyAccount()
	account.Balance = uint256.NewInt(42)
	err = cache.Commit(map[common.Address]statedb.AccountDelta{
		address: {Status: statedb.Touched | statedb.Created, Account: account},
	})
	require.NoError(t, err)

	// The upstream slot is no longer visible and no read goes upstream.
	reads := reader.storageReads
	got, err := cache.State(address, key1)
	require.NoError(t, err)
	require.Equal(t, common.Hash{}, got)
	require.Equal(t, reads, reader.storageReads)

	acct, err := cache.Account(address)
	require.NoError(t, err)
	require.Equal(t, uint256.NewInt(42), acct.Balance)
}
