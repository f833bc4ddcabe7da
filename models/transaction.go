// models/transaction.go
package models

import (
	"fmt"
	"time"
)

type TxStatus string

const (
	TxStatusCommitted TxStatus = "committed"
	TxStatusRejected  TxStatus = "rejected"
)

// ParseTxStatus accepts the two statuses the ledger reports.
func ParseTxStatus(s string) (TxStatus, error) {
	switch TxStatus(s) {
	case TxStatusCommitted, TxStatusRejected:
		return TxStatus(s), nil
	}
	return "", fmt.Errorf("unknown transaction status %q", s)
}

// TransactionRecord belongs to exactly one block, referenced by height.
// Index is the position of the transaction inside that block.
type TransactionRecord struct {
	Hash            string    `json:"hash"`
	BlockHeight     uint64    `json:"block_height"`
	Index           int       `json:"index"`
	Submitter       AccountID `json:"submitter"`
	Instructions    []string  `json:"instructions"`
	Status          TxStatus  `json:"status"`
	RejectionReason string    `json:"rejection_reason,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}
