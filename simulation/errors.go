package simulation

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

// Error kinds surfaced to the RPC layer. Everything maps to the same JSON-RPC
// error code; the kind only shows up in the stringified cause.
var (
	// ErrBlockNotFound is returned when the requested block is absent
	// upstream.
	ErrBlockNotFound = errors.New("block number not found")

	// ErrInvalidTransaction is returned when the transaction request cannot
	// be turned into an executable message.
	ErrInvalidTransaction = errors.New("invalid transaction")

	// ErrBytecodeDecode is returned when overridden contract code is
	// malformed.
	ErrBytecodeDecode = errors.New("bytecode decode error")
)

// BothStateAndStateDiffError reports a contradictory state override: an
// account may carry either a full storage replacement or a sparse diff, not
// both.
type BothStateAndStateDiffError struct {
	Address common.Address
}

func (e *BothStateAndStateDiffError) Error() string {
	return fmt.Sprintf("account %s has both state and stateDiff overrides", e.Address.Hex())
}

func providerError(err error) error {
	return errors.Wrap(err, "rpc error")
}

func executionError(err error) error {
	return errors.Wrap(err, "execution error")
}

func invalidTransactionError(detail string) error {
	return errors.Wrap(ErrInvalidTransaction, detail)
}
