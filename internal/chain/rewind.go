package chain

import (
	"fmt"

	"github.com/utxoledger/indexd/internal/metrics"
)

// Rollback undoes every block above targetHeight in one atomic store
// batch and rebuilds the in-memory index by replaying the surviving
// blocks. Rolling back to the current height is a no-op. The rebuilt
// state is a pure function of the surviving journal: applying blocks
// 1..k from empty yields exactly the post-rollback state.
func (c *Chain) Rollback(targetHeight uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if targetHeight < 1 {
		return fmt.Errorf("%w: got %d", ErrInvalidHeightParam, targetHeight)
	}
	current := c.index.Height()
	if targetHeight > current {
		return fmt.Errorf("%w: target %d, current %d", ErrTargetAboveHead, targetHeight, current)
	}
	if targetHeight == current {
		return nil
	}

	blocks := c.index.Blocks()
	surviving := blocks[:targetHeight]
	doomed := blocks[targetHeight:]

	// Replay the surviving journal from empty. Addresses whose outputs
	// are all spent drop out, matching the store's recomputed balances.
	rebuilt := NewIndex()
	for _, blk := range surviving {
		rebuilt.ApplyBlock(blk)
	}
	rebuilt.PruneZeroBalances()

	// Outputs produced by surviving blocks and spent by doomed ones are
	// back in the rebuilt UTXO set; their rows flip to unspent.
	resurrected := make(map[string]OutputRow)
	for _, blk := range doomed {
		for ti := range blk.Transactions {
			for _, in := range blk.Transactions[ti].Inputs {
				key := in.Key()
				if out, ok := rebuilt.UTXO(key); ok {
					resurrected[key] = OutputRow{Address: out.Address, Value: out.Value}
				}
			}
		}
	}

	mut := &RewindMutation{
		TargetHeight: targetHeight,
		Doomed:       doomed,
		Resurrected:  resurrected,
		Balances:     rebuilt.BalancesCopy(),
	}
	if err := c.store.CommitRewind(mut); err != nil {
		return fmt.Errorf("rewind to %d: %w", targetHeight, err)
	}
	c.index = rebuilt

	metrics.Rollbacks.Inc()
	c.publishGauges()
	c.logger.Info().Uint64("target", targetHeight).Int("undone", len(doomed)).Msg("rolled back")
	return nil
}

// Reset deletes all persisted rows and clears the in-memory index,
// returning the chain to genesis (height 0).
func (c *Chain) Reset() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.store.Reset(); err != nil {
		return fmt.Errorf("reset store: %w", err)
	}
	c.index.Reset()

	c.publishGauges()
	c.logger.Info().Msg("reset to genesis")
	return nil
}
