package chain

import "github.com/utxoledger/indexd/pkg/ledger"

// Index is the in-memory mirror of the ledger store: the UTXO set, the
// per-address balances, and the journal of accepted blocks in height order.
// It is not safe for concurrent use; Chain serializes access.
type Index struct {
	utxos    map[string]ledger.Output
	balances map[string]int64
	blocks   []*ledger.Block
	height   uint64
}

// NewIndex creates an empty index.
func NewIndex() *Index {
	ix := &Index{}
	ix.Reset()
	return ix
}

// Reset empties the index and sets the height to 0.
func (ix *Index) Reset() {
	ix.utxos = make(map[string]ledger.Output)
	ix.balances = make(map[string]int64)
	ix.blocks = nil
	ix.height = 0
}

// ApplyBlock applies an already-validated block: spends inputs, creates
// outputs, adjusts balances, and appends the block to the journal.
// An input whose key is no longer present is skipped, so a key consumed
// twice within one block is only spent once.
func (ix *Index) ApplyBlock(blk *ledger.Block) {
	for ti := range blk.Transactions {
		t := &blk.Transactions[ti]
		for _, in := range t.Inputs {
			key := in.Key()
			out, ok := ix.utxos[key]
			if !ok {
				continue
			}
			ix.balances[out.Address] -= out.Value
			delete(ix.utxos, key)
		}
		for i, out := range t.Outputs {
			ix.utxos[ledger.OutpointKey(t.ID, uint32(i))] = out
			ix.balances[out.Address] += out.Value
		}
	}
	ix.blocks = append(ix.blocks, blk)
	ix.height = blk.Height
}

// UTXO returns the unspent output for the given "txid:index" key.
func (ix *Index) UTXO(key string) (ledger.Output, bool) {
	out, ok := ix.utxos[key]
	return out, ok
}

// Balance returns the balance of an address, 0 if unknown.
func (ix *Index) Balance(address string) int64 {
	return ix.balances[address]
}

// Height returns the height of the last accepted block, 0 if none.
func (ix *Index) Height() uint64 {
	return ix.height
}

// Blocks returns the journal in height order. Callers must not modify it.
func (ix *Index) Blocks() []*ledger.Block {
	return ix.blocks
}

// UTXOCount returns the number of unspent outputs.
func (ix *Index) UTXOCount() int {
	return len(ix.utxos)
}

// BalanceCount returns the number of tracked balance entries.
func (ix *Index) BalanceCount() int {
	return len(ix.balances)
}

// BalancesCopy returns a copy of the balance map.
func (ix *Index) BalancesCopy() map[string]int64 {
	out := make(map[string]int64, len(ix.balances))
	for addr, bal := range ix.balances {
		out[addr] = bal
	}
	return out
}

// PruneZeroBalances drops balance entries that have reached 0, matching
// the store's recomputed balances after a rewind (a sum over unspent
// outputs has no row for a fully spent address).
func (ix *Index) PruneZeroBalances() {
	for addr, bal := range ix.balances {
		if bal == 0 {
			delete(ix.balances, addr)
		}
	}
}

// AddressUTXO is an unspent output annotated with its set key.
type AddressUTXO struct {
	Key   string `json:"outpoint"`
	Value int64  `json:"value"`
}

// UTXOsByAddress returns the unspent outputs credited to an address.
func (ix *Index) UTXOsByAddress(address string) []AddressUTXO {
	var result []AddressUTXO
	for key, out := range ix.utxos {
		if out.Address == address {
			result = append(result, AddressUTXO{Key: key, Value: out.Value})
		}
	}
	return result
}
