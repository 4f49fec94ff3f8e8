package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
)

// Block is a batch of transactions at a fixed height in the linear chain.
// Heights are 1-based and contiguous.
type Block struct {
	ID           string        `json:"id"`
	Height       uint64        `json:"height"`
	Transactions []Transaction `json:"transactions"`
}

// HashInput returns the preimage of the block id: the height rendered in
// base 10 with no padding, followed by each transaction id in order. No
// separator is inserted between fields.
func (b *Block) HashInput() string {
	var sb strings.Builder
	sb.WriteString(strconv.FormatUint(b.Height, 10))
	for i := range b.Transactions {
		sb.WriteString(b.Transactions[i].ID)
	}
	return sb.String()
}

// ComputeID returns the lowercase hex SHA-256 digest of HashInput.
func (b *Block) ComputeID() string {
	sum := sha256.Sum256([]byte(b.HashInput()))
	return hex.EncodeToString(sum[:])
}
