// models/block.go
package models

import "time"

// BlockRecord is an immutable block header as mirrored from the ledger.
// Heights start at 1 (genesis) and are totally ordered.
type BlockRecord struct {
	Height            uint64    `json:"height"`
	Hash              string    `json:"hash"`
	PrevHash          string    `json:"prev_hash,omitempty"`
	Timestamp         time.Time `json:"timestamp"`
	TransactionHashes []string  `json:"transaction_hashes"`
}
