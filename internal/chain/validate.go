package chain

import (
	"fmt"

	"github.com/utxoledger/indexd/pkg/ledger"
)

// UTXOView is read access to the UTXO set as it stands before a block.
type UTXOView interface {
	UTXO(key string) (ledger.Output, bool)
}

// ValidateBlock decides whether a candidate block extends the chain at
// currentHeight. Checks run in a fixed order and the first failure wins:
//
//  1. the block height must be exactly currentHeight+1;
//  2. every input must reference a UTXO present in the pre-block
//     snapshot (outputs created earlier in the same block are not
//     visible to later transactions in it);
//  3. every non-coinbase transaction must conserve value;
//  4. the block id must equal the SHA-256 digest of the height and the
//     transaction ids.
//
// Two guards follow the mandated checks so they can never mask one:
// outputs must not carry negative values, and when maxCoinbase is
// positive a coinbase transaction may not mint more than it.
//
// ValidateBlock is read-only; it never mutates the view.
func ValidateBlock(blk *ledger.Block, view UTXOView, currentHeight uint64, maxCoinbase int64) error {
	if blk.Height != currentHeight+1 {
		return fmt.Errorf("%w: want %d, got %d", ErrInvalidHeight, currentHeight+1, blk.Height)
	}

	for ti := range blk.Transactions {
		for _, in := range blk.Transactions[ti].Inputs {
			if _, ok := view.UTXO(in.Key()); !ok {
				return &InputNotFoundError{Key: in.Key()}
			}
		}
	}

	for ti := range blk.Transactions {
		t := &blk.Transactions[ti]
		if t.IsCoinbase() {
			continue
		}
		var inSum int64
		for _, in := range t.Inputs {
			out, _ := view.UTXO(in.Key())
			inSum += out.Value
		}
		if outSum := t.OutputSum(); inSum != outSum {
			return fmt.Errorf("%w: tx %s spends %d but creates %d", ErrValueMismatch, t.ID, inSum, outSum)
		}
	}

	if expected := blk.ComputeID(); blk.ID != expected {
		return &BlockIDError{
			Expected:  expected,
			Received:  blk.ID,
			HashInput: blk.HashInput(),
		}
	}

	for ti := range blk.Transactions {
		t := &blk.Transactions[ti]
		for i, out := range t.Outputs {
			if out.Value < 0 {
				return fmt.Errorf("%w: tx %s output %d has value %d", ErrNegativeValue, t.ID, i, out.Value)
			}
		}
		if maxCoinbase > 0 && t.IsCoinbase() {
			if minted := t.OutputSum(); minted > maxCoinbase {
				return fmt.Errorf("%w: minted %d, limit %d", ErrCoinbaseTooLarge, minted, maxCoinbase)
			}
		}
	}

	return nil
}
