// Package ledger defines the wire types of the indexed chain: blocks,
// transactions, inputs, and outputs.
package ledger

import "fmt"

// Input references a UTXO being spent. The value is not carried on the
// input; it is looked up from the referenced output.
type Input struct {
	TxID  string `json:"txId"`
	Index uint32 `json:"index"`
}

// Key returns the UTXO set key "txid:index" for the referenced output.
func (in Input) Key() string {
	return OutpointKey(in.TxID, in.Index)
}

// Output credits a value to an address. Its identity is the pair
// (producing tx id, position in the producing tx's output list).
type Output struct {
	Address string `json:"address"`
	Value   int64  `json:"value"`
}

// Transaction is an ordered list of inputs and outputs with a chain-unique id.
type Transaction struct {
	ID      string   `json:"id"`
	Inputs  []Input  `json:"inputs"`
	Outputs []Output `json:"outputs"`
}

// IsCoinbase returns true if the transaction has no inputs and therefore
// mints its outputs from nothing.
func (t *Transaction) IsCoinbase() bool {
	return len(t.Inputs) == 0
}

// OutputSum returns the total value of the transaction's outputs.
func (t *Transaction) OutputSum() int64 {
	var sum int64
	for _, out := range t.Outputs {
		sum += out.Value
	}
	return sum
}

// OutpointKey builds the UTXO set key for an output: "txid:index".
func OutpointKey(txID string, index uint32) string {
	return fmt.Sprintf("%s:%d", txID, index)
}
