package chain

import (
	"errors"
	"fmt"
)

// Validation and rollback errors.
var (
	ErrInvalidHeight      = errors.New("invalid block height")
	ErrValueMismatch      = errors.New("input and output sums do not match")
	ErrNegativeValue      = errors.New("negative output value")
	ErrCoinbaseTooLarge   = errors.New("coinbase value exceeds configured limit")
	ErrInvalidHeightParam = errors.New("height must be an integer greater than or equal to 1")
	ErrTargetAboveHead    = errors.New("target height is above current height")
)

// InputNotFoundError reports an input that references a UTXO absent from
// the snapshot visible before the block.
type InputNotFoundError struct {
	Key string
}

func (e *InputNotFoundError) Error() string {
	return fmt.Sprintf("input not found: %s", e.Key)
}

// BlockIDError reports a block whose submitted id does not match the
// digest computed from its height and transaction ids.
type BlockIDError struct {
	Expected  string
	Received  string
	HashInput string
}

func (e *BlockIDError) Error() string {
	return fmt.Sprintf("invalid block id: expected %s, received %s", e.Expected, e.Received)
}

// IsValidationError reports whether err is a client-side rejection
// (invalid block or rollback parameter) as opposed to a store failure.
func IsValidationError(err error) bool {
	var notFound *InputNotFoundError
	var badID *BlockIDError
	return errors.Is(err, ErrInvalidHeight) ||
		errors.Is(err, ErrValueMismatch) ||
		errors.Is(err, ErrNegativeValue) ||
		errors.Is(err, ErrCoinbaseTooLarge) ||
		errors.Is(err, ErrInvalidHeightParam) ||
		errors.Is(err, ErrTargetAboveHead) ||
		errors.As(err, &notFound) ||
		errors.As(err, &badID)
}

// RejectReason returns a short stable label for a rejection, used as a
// metrics dimension.
func RejectReason(err error) string {
	var notFound *InputNotFoundError
	var badID *BlockIDError
	switch {
	case errors.Is(err, ErrInvalidHeight):
		return "invalid_height"
	case errors.As(err, &notFound):
		return "input_not_found"
	case errors.Is(err, ErrValueMismatch):
		return "value_mismatch"
	case errors.As(err, &badID):
		return "invalid_block_id"
	case errors.Is(err, ErrNegativeValue):
		return "negative_value"
	case errors.Is(err, ErrCoinbaseTooLarge):
		return "coinbase_too_large"
	default:
		return "other"
	}
}
