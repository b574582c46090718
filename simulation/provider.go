package simulation

import (
	"context"
	"math/big"
	"net/http"
	"time"

	"cosmossdk.io/log"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/iosh/dryrun/statedb"
)

// rpcCallTimeout bounds every individual upstream call.
const rpcCallTimeout = 30 * time.Second

// Provider supplies chain data from an upstream archive node.
type Provider interface {
	// HeaderByID resolves a block reference to its header. Returns
	// ErrBlockNotFound when the block does not exist upstream.
	HeaderByID(ctx context.Context, id gethrpc.BlockNumberOrHash) (*ethtypes.Header, error)
	// ChainID returns the EIP-155 chain id of the upstream chain.
	ChainID(ctx context.Context) (*big.Int, error)
	// StateReader returns a state source bound to the given block number.
	StateReader(block *big.Int) statedb.Reader
}

// Client is an HTTP provider backed by go-ethereum's RPC client. The
// connection pool is shared by all requests; per-call deadlines come from the
// HTTP client timeout and the request context.
type Client struct {
	eth    *ethclient.Client
	logger log.Logger
}

var _ Provider = &Client{}

// Dial connects to the upstream JSON-RPC endpoint.
func Dial(ctx context.Context, rawurl string, logger log.Logger) (*Client, error) {
	rpcClient, err := gethrpc.DialOptions(ctx, rawurl,
		gethrpc.WithHTTPClient(&http.Client{Timeout: rpcCallTimeout}),
	)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to dial upstream provider %s", rawurl)
	}
	return &Client{
		eth:    ethclient.NewClient(rpcClient),
		logger: logger.With("module", "provider"),
	}, nil
}

// Close tears down the underlying connection pool.
func (c *Client) Close() {
	c.eth.Close()
}

// HeaderByID resolves a header by hash, number, or tag.
func (c *Client) HeaderByID(ctx context.Context, id gethrpc.BlockNumberOrHash) (*ethtypes.Header, error) {
	var (
		header *ethtypes.Header
		err    error
	)
	if hash, ok := id.Hash(); ok {
		header, err = c.eth.HeaderByHash(ctx, hash)
	} else {
		number, _ := id.Number()
		header, err = c.eth.HeaderByNumber(ctx, big.NewInt(number.Int64()))
	}
	if errors.Is(err, ethereum.NotFound) {
		return nil, ErrBlockNotFound
	}
	if err != nil {
		return nil, providerError(err)
	}
	return header, nil
}

// ChainID returns the upstream chain id.
func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	chainID, err := c.eth.ChainID(ctx)
	if err != nil {
		return nil, providerError(err)
	}
	return chainID, nil
}

// StateReader binds the client to a resolved block number.
func (c *Client) StateReader(block *big.Int) statedb.Reader {
	return &stateReader{client: c, block: new(big.Int).Set(block)}
}

type stateReader struct {
	client *Client
	block  *big.Int
}

// Account fetches the basic account fields in parallel, the way the upstream
// protocol exposes them: one call each for nonce, balance and code.
func (r *stateReader) Account(ctx context.Context, addr common.Address) (statedb.Account, []byte, error) {
	var (
		nonce   uint64
		balance *big.Int
		code    []byte
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		nonce, err = r.client.eth.NonceAt(gctx, addr, r.block)
		return err
	})
	g.Go(func() error {
		var err error
		balance, err = r.client.eth.BalanceAt(gctx, addr, r.block)
		return err
	})
	g.Go(func() error {
		var err error
		code, err = r.client.eth.CodeAt(gctx, addr, r.block)
		return err
	})
	if err := g.Wait(); err != nil {
		return statedb.Account{}, nil, err
	}

	account := statedb.Account{
		Nonce:    nonce,
		Balance:  uint256.MustFromBig(balance),
		CodeHash: statedb.EmptyCodeHash,
	}
	if len(code) > 0 {
		account.CodeHash = crypto.Keccak256(code)
	}
	return account, code, nil
}

// StorageAt fetches a single storage slot at the bound block.
func (r *stateReader) StorageAt(ctx context.Context, addr common.Address, key common.Hash) (common.Hash, error) {
	value, err := r.client.eth.StorageAt(ctx, addr, key, r.block)
	if err != nil {
		return common.Hash{}, err
	}
	return common.BytesToHash(value), nil
}

// BlockHash resolves a block number to its canonical hash.
func (r *stateReader) BlockHash(ctx context.Context, number uint64) (common.Hash, error) {
	header, err := r.client.eth.HeaderByNumber(ctx, new(big.Int).SetUint64(number))
	if err != nil {
		return common.Hash{}, err
	}
	return header.Hash(), nil
}
