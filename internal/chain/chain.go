// Package chain implements the ledger state engine: block validation,
// atomic state application, rollback, and the in-memory/persistent indexes
// they maintain.
package chain

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	klog "github.com/utxoledger/indexd/internal/log"
	"github.com/utxoledger/indexd/internal/metrics"
	"github.com/utxoledger/indexd/internal/storage"
	"github.com/utxoledger/indexd/pkg/ledger"
)

// BlockHandler is called after a block has been committed and the
// in-memory index updated.
type BlockHandler func(*ledger.Block)

// Options configures engine policy knobs.
type Options struct {
	// MaxCoinbaseValue caps the value a coinbase transaction may mint.
	// 0 means unlimited.
	MaxCoinbaseValue int64
}

// Chain owns the ledger state: the persistent store and the in-memory
// index. Mutations (SubmitBlock, Rollback, Reset) are serialized under a
// writer lock held across both the store commit and the index update, so
// no reader ever observes the two disagreeing.
type Chain struct {
	mu    sync.RWMutex
	store *LedgerStore
	index *Index
	opts  Options

	blockHandler BlockHandler
	logger       zerolog.Logger
}

// New creates a chain over the given database and rebuilds the in-memory
// index by replaying the persisted journal from height 1.
func New(db storage.DB, opts Options) (*Chain, error) {
	if db == nil {
		return nil, fmt.Errorf("storage db is nil")
	}

	store := NewLedgerStore(db)
	height, err := store.Height()
	if err != nil {
		return nil, fmt.Errorf("recover height: %w", err)
	}

	index := NewIndex()
	for h := uint64(1); h <= height; h++ {
		blk, err := store.GetBlockByHeight(h)
		if err != nil {
			return nil, fmt.Errorf("load block at height %d: %w", h, err)
		}
		index.ApplyBlock(blk)
	}

	c := &Chain{
		store:  store,
		index:  index,
		opts:   opts,
		logger: klog.WithComponent("chain"),
	}
	c.publishGauges()

	if height > 0 {
		c.logger.Info().Uint64("height", height).Int("utxos", index.UTXOCount()).Msg("state recovered from store")
	}
	return c, nil
}

// SetBlockHandler sets the callback invoked for each accepted block.
func (c *Chain) SetBlockHandler(fn BlockHandler) {
	c.blockHandler = fn
}

// SubmitBlock validates a candidate block and, on success, applies it
// atomically to the store and the in-memory index.
func (c *Chain) SubmitBlock(blk *ledger.Block) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := ValidateBlock(blk, c.index, c.index.Height(), c.opts.MaxCoinbaseValue); err != nil {
		metrics.BlocksRejected.WithLabelValues(RejectReason(err)).Inc()
		c.logger.Debug().Uint64("height", blk.Height).Err(err).Msg("block rejected")
		return err
	}

	if err := c.store.CommitBlock(c.buildBlockMutation(blk)); err != nil {
		return fmt.Errorf("store block %d: %w", blk.Height, err)
	}
	c.index.ApplyBlock(blk)

	metrics.BlocksAccepted.Inc()
	c.publishGauges()
	c.logger.Info().Uint64("height", blk.Height).Str("block", blk.ID).
		Int("txs", len(blk.Transactions)).Msg("block accepted")

	if fn := c.blockHandler; fn != nil {
		go fn(blk)
	}
	return nil
}

// buildBlockMutation computes the store rows touched by an accepted
// block from the current index. Must be called with the lock held, after
// validation, before the index is updated.
func (c *Chain) buildBlockMutation(blk *ledger.Block) *BlockMutation {
	spent := make(map[string]OutputRow)
	created := make(map[string]OutputRow)
	deltas := make(map[string]int64)

	consumed := make(map[string]bool)
	for ti := range blk.Transactions {
		t := &blk.Transactions[ti]
		for _, in := range t.Inputs {
			key := in.Key()
			if consumed[key] {
				continue
			}
			out, ok := c.index.UTXO(key)
			if !ok {
				continue
			}
			consumed[key] = true
			spent[key] = OutputRow{Address: out.Address, Value: out.Value, Spent: true}
			deltas[out.Address] -= out.Value
		}
		for i, out := range t.Outputs {
			key := ledger.OutpointKey(t.ID, uint32(i))
			created[key] = OutputRow{Address: out.Address, Value: out.Value}
			deltas[out.Address] += out.Value
		}
	}

	balances := make(map[string]int64, len(deltas))
	for addr, delta := range deltas {
		balances[addr] = c.index.Balance(addr) + delta
	}

	return &BlockMutation{Block: blk, Spent: spent, Created: created, Balances: balances}
}

// Balance returns the balance of an address, 0 for unknown addresses.
func (c *Chain) Balance(address string) int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.index.Balance(address)
}

// BlockSummary is a journal entry as reported by ListBlocks.
type BlockSummary struct {
	ID     string `json:"id"`
	Height uint64 `json:"height"`
}

// ListBlocks returns the journal as (id, height) pairs in ascending
// height order, together with the current height.
func (c *Chain) ListBlocks() ([]BlockSummary, uint64) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	blocks := c.index.Blocks()
	summaries := make([]BlockSummary, len(blocks))
	for i, blk := range blocks {
		summaries[i] = BlockSummary{ID: blk.ID, Height: blk.Height}
	}
	return summaries, c.index.Height()
}

// Height returns the current chain height.
func (c *Chain) Height() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.index.Height()
}

// GetBlockByHeight returns the journal entry at the given height.
func (c *Chain) GetBlockByHeight(height uint64) (*ledger.Block, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	blocks := c.index.Blocks()
	if height < 1 || height > uint64(len(blocks)) {
		return nil, false
	}
	return blocks[height-1], true
}

// TxLocation is a confirmed transaction with the block that contains it.
type TxLocation struct {
	Tx      *ledger.Transaction
	BlockID string
	Height  uint64
}

// GetTransaction looks up a confirmed transaction by id via the tx index.
func (c *Chain) GetTransaction(txID string) (*TxLocation, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	height, found, err := c.store.GetTxHeight(txID)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}

	blocks := c.index.Blocks()
	if height < 1 || height > uint64(len(blocks)) {
		return nil, fmt.Errorf("tx %s indexed at height %d beyond journal (index corrupt)", txID, height)
	}
	blk := blocks[height-1]
	for ti := range blk.Transactions {
		if blk.Transactions[ti].ID == txID {
			return &TxLocation{Tx: &blk.Transactions[ti], BlockID: blk.ID, Height: height}, nil
		}
	}
	return nil, fmt.Errorf("tx %s not found in block %s (index corrupt)", txID, blk.ID)
}

// UTXOsByAddress returns the unspent outputs credited to an address.
func (c *Chain) UTXOsByAddress(address string) []AddressUTXO {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.index.UTXOsByAddress(address)
}

// Counts returns the number of journal entries, unspent outputs, and
// balance rows.
func (c *Chain) Counts() (blocks, utxos, balances int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.index.Blocks()), c.index.UTXOCount(), c.index.BalanceCount()
}

// publishGauges refreshes the height and UTXO gauges. Called with the
// lock held after every mutation.
func (c *Chain) publishGauges() {
	metrics.ChainHeight.Set(float64(c.index.Height()))
	metrics.UTXOCount.Set(float64(c.index.UTXOCount()))
}
