package chain

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/utxoledger/indexd/internal/storage"
	"github.com/utxoledger/indexd/pkg/ledger"
)

// Key prefixes and state keys for the ledger store.
var (
	prefixBlock   = []byte("b/") // b/<block id> -> block JSON
	prefixHeight  = []byte("h/") // h/<height(8)> -> block id
	prefixTx      = []byte("x/") // x/<tx id> -> height(8)
	prefixOutput  = []byte("o/") // o/<txid>:<idx> -> output row JSON
	prefixBalance = []byte("a/") // a/<address> -> balance(8, two's complement)
	keyHeight     = []byte("s/height")
)

// OutputRow is the persisted form of an output: its payload plus the
// spent flag. Rows for spent outputs are kept until the producing block
// is removed by a rewind or reset.
type OutputRow struct {
	Address string `json:"address"`
	Value   int64  `json:"value"`
	Spent   bool   `json:"spent"`
}

// LedgerStore persists blocks, transactions, outputs, and balances to a
// storage.DB. All mutations go through atomic write batches.
type LedgerStore struct {
	db storage.DB
}

// NewLedgerStore creates a ledger store backed by the given database.
func NewLedgerStore(db storage.DB) *LedgerStore {
	return &LedgerStore{db: db}
}

func blockKey(id string) []byte {
	return append(append([]byte{}, prefixBlock...), id...)
}

func heightKey(height uint64) []byte {
	key := make([]byte, len(prefixHeight)+8)
	copy(key, prefixHeight)
	binary.BigEndian.PutUint64(key[len(prefixHeight):], height)
	return key
}

func txKey(id string) []byte {
	return append(append([]byte{}, prefixTx...), id...)
}

func outputKey(key string) []byte {
	return append(append([]byte{}, prefixOutput...), key...)
}

func balanceKey(address string) []byte {
	return append(append([]byte{}, prefixBalance...), address...)
}

func encodeHeight(height uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], height)
	return buf[:]
}

func encodeBalance(balance int64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(balance))
	return buf[:]
}

// Height returns the persisted chain height, 0 for a fresh store.
func (s *LedgerStore) Height() (uint64, error) {
	has, err := s.db.Has(keyHeight)
	if err != nil {
		return 0, fmt.Errorf("check height key: %w", err)
	}
	if !has {
		return 0, nil
	}
	data, err := s.db.Get(keyHeight)
	if err != nil {
		return 0, fmt.Errorf("get height: %w", err)
	}
	if len(data) != 8 {
		return 0, fmt.Errorf("corrupt height key: got %d bytes, want 8", len(data))
	}
	return binary.BigEndian.Uint64(data), nil
}

// GetBlockByHeight retrieves a block from the journal by height.
func (s *LedgerStore) GetBlockByHeight(height uint64) (*ledger.Block, error) {
	idBytes, err := s.db.Get(heightKey(height))
	if err != nil {
		return nil, fmt.Errorf("height index get %d: %w", height, err)
	}
	return s.GetBlock(string(idBytes))
}

// GetBlock retrieves a block by its id.
func (s *LedgerStore) GetBlock(id string) (*ledger.Block, error) {
	data, err := s.db.Get(blockKey(id))
	if err != nil {
		return nil, fmt.Errorf("block get: %w", err)
	}
	var blk ledger.Block
	if err := json.Unmarshal(data, &blk); err != nil {
		return nil, fmt.Errorf("block unmarshal: %w", err)
	}
	return &blk, nil
}

// HasBlock checks if a block exists by id.
func (s *LedgerStore) HasBlock(id string) (bool, error) {
	return s.db.Has(blockKey(id))
}

// GetTxHeight returns the height of the block containing the given
// transaction, and whether the transaction is known.
func (s *LedgerStore) GetTxHeight(txID string) (uint64, bool, error) {
	has, err := s.db.Has(txKey(txID))
	if err != nil {
		return 0, false, fmt.Errorf("tx index check: %w", err)
	}
	if !has {
		return 0, false, nil
	}
	data, err := s.db.Get(txKey(txID))
	if err != nil {
		return 0, false, fmt.Errorf("tx index get: %w", err)
	}
	if len(data) != 8 {
		return 0, false, fmt.Errorf("corrupt tx index: got %d bytes, want 8", len(data))
	}
	return binary.BigEndian.Uint64(data), true, nil
}

// GetOutput retrieves an output row by its "txid:index" key.
func (s *LedgerStore) GetOutput(key string) (*OutputRow, error) {
	data, err := s.db.Get(outputKey(key))
	if err != nil {
		return nil, fmt.Errorf("output get %s: %w", key, err)
	}
	var row OutputRow
	if err := json.Unmarshal(data, &row); err != nil {
		return nil, fmt.Errorf("output unmarshal %s: %w", key, err)
	}
	return &row, nil
}

// Balance returns the persisted balance of an address and whether a row
// exists for it.
func (s *LedgerStore) Balance(address string) (int64, bool, error) {
	has, err := s.db.Has(balanceKey(address))
	if err != nil {
		return 0, false, fmt.Errorf("balance check: %w", err)
	}
	if !has {
		return 0, false, nil
	}
	data, err := s.db.Get(balanceKey(address))
	if err != nil {
		return 0, false, fmt.Errorf("balance get: %w", err)
	}
	if len(data) != 8 {
		return 0, false, fmt.Errorf("corrupt balance row: got %d bytes, want 8", len(data))
	}
	return int64(binary.BigEndian.Uint64(data)), true, nil
}

// Balances returns all persisted balance rows.
func (s *LedgerStore) Balances() (map[string]int64, error) {
	balances := make(map[string]int64)
	err := s.db.ForEach(prefixBalance, func(key, value []byte) error {
		if len(value) != 8 {
			return fmt.Errorf("corrupt balance row %q", key)
		}
		addr := string(key[len(prefixBalance):])
		balances[addr] = int64(binary.BigEndian.Uint64(value))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan balances: %w", err)
	}
	return balances, nil
}

// UnspentOutputs returns all output rows whose spent flag is false,
// keyed by "txid:index". This is the store's derived view of the UTXO set.
func (s *LedgerStore) UnspentOutputs() (map[string]OutputRow, error) {
	utxos := make(map[string]OutputRow)
	err := s.db.ForEach(prefixOutput, func(key, value []byte) error {
		var row OutputRow
		if err := json.Unmarshal(value, &row); err != nil {
			return fmt.Errorf("output unmarshal %q: %w", key, err)
		}
		if !row.Spent {
			utxos[string(key[len(prefixOutput):])] = row
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan outputs: %w", err)
	}
	return utxos, nil
}

// BlockMutation is the full set of rows touched by accepting one block.
type BlockMutation struct {
	Block    *ledger.Block
	Spent    map[string]OutputRow // existing rows rewritten with Spent=true
	Created  map[string]OutputRow // new unspent rows
	Balances map[string]int64     // upserts for every touched address
}

// CommitBlock writes a block mutation in one atomic batch: the block row,
// the height and transaction indexes, spent-flag updates, new output rows,
// balance upserts, and the height key.
func (s *LedgerStore) CommitBlock(m *BlockMutation) error {
	blockData, err := json.Marshal(m.Block)
	if err != nil {
		return fmt.Errorf("block marshal: %w", err)
	}

	batch := s.db.NewBatch()
	batch.Put(blockKey(m.Block.ID), blockData)
	batch.Put(heightKey(m.Block.Height), []byte(m.Block.ID))
	for i := range m.Block.Transactions {
		batch.Put(txKey(m.Block.Transactions[i].ID), encodeHeight(m.Block.Height))
	}
	for key, row := range m.Spent {
		data, err := json.Marshal(row)
		if err != nil {
			return fmt.Errorf("output marshal %s: %w", key, err)
		}
		batch.Put(outputKey(key), data)
	}
	for key, row := range m.Created {
		data, err := json.Marshal(row)
		if err != nil {
			return fmt.Errorf("output marshal %s: %w", key, err)
		}
		batch.Put(outputKey(key), data)
	}
	for addr, bal := range m.Balances {
		batch.Put(balanceKey(addr), encodeBalance(bal))
	}
	batch.Put(keyHeight, encodeHeight(m.Block.Height))

	if err := batch.Commit(); err != nil {
		return fmt.Errorf("commit block %d: %w", m.Block.Height, err)
	}
	return nil
}

// RewindMutation describes rolling the store back to TargetHeight.
type RewindMutation struct {
	TargetHeight uint64
	Doomed       []*ledger.Block      // blocks above the target, ascending
	Resurrected  map[string]OutputRow // rows rewritten with Spent=false
	Balances     map[string]int64     // full replacement balance contents
}

// CommitRewind removes every doomed block with its transactions and
// outputs, resurrects outputs spent by doomed blocks, and replaces the
// balance rows, all in one atomic batch.
func (s *LedgerStore) CommitRewind(m *RewindMutation) error {
	// Collect existing balance rows so stale ones can be deleted.
	existing, err := s.Balances()
	if err != nil {
		return err
	}

	batch := s.db.NewBatch()
	for _, blk := range m.Doomed {
		batch.Delete(blockKey(blk.ID))
		batch.Delete(heightKey(blk.Height))
		for ti := range blk.Transactions {
			t := &blk.Transactions[ti]
			batch.Delete(txKey(t.ID))
			for i := range t.Outputs {
				batch.Delete(outputKey(ledger.OutpointKey(t.ID, uint32(i))))
			}
		}
	}
	for key, row := range m.Resurrected {
		data, err := json.Marshal(row)
		if err != nil {
			return fmt.Errorf("output marshal %s: %w", key, err)
		}
		batch.Put(outputKey(key), data)
	}
	for addr := range existing {
		if _, keep := m.Balances[addr]; !keep {
			batch.Delete(balanceKey(addr))
		}
	}
	for addr, bal := range m.Balances {
		batch.Put(balanceKey(addr), encodeBalance(bal))
	}
	batch.Put(keyHeight, encodeHeight(m.TargetHeight))

	if err := batch.Commit(); err != nil {
		return fmt.Errorf("commit rewind to %d: %w", m.TargetHeight, err)
	}
	return nil
}

// Reset deletes every row the store holds in one atomic batch.
func (s *LedgerStore) Reset() error {
	var keys [][]byte
	prefixes := [][]byte{prefixOutput, prefixTx, prefixBlock, prefixHeight, prefixBalance}
	for _, prefix := range prefixes {
		err := s.db.ForEach(prefix, func(key, _ []byte) error {
			k := make([]byte, len(key))
			copy(k, key)
			keys = append(keys, k)
			return nil
		})
		if err != nil {
			return fmt.Errorf("scan prefix %s: %w", prefix, err)
		}
	}

	batch := s.db.NewBatch()
	for _, key := range keys {
		batch.Delete(key)
	}
	batch.Delete(keyHeight)
	if err := batch.Commit(); err != nil {
		return fmt.Errorf("commit reset: %w", err)
	}
	return nil
}
