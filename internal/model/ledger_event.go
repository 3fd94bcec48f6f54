package model

import (
	"fmt"
	"strings"
)

// Provenance locates a log entry on the ledger.  It is the idempotency key
// for redelivered events and the handle used by reorg notifications.
type Provenance struct {
	BlockHash string `json:"block_hash"`
	TxHash    string `json:"tx_hash"`
	LogIndex  uint64 `json:"log_index"`
}

// Key returns the canonical string form of p.  Hashes are lower-cased so the
// same log always maps to the same key.
func (p Provenance) Key() string {
	return fmt.Sprintf("%s:%s:%d", strings.ToLower(p.BlockHash), strings.ToLower(p.TxHash), p.LogIndex)
}

// Valid reports whether both hashes are present.
func (p Provenance) Valid() bool {
	return p.BlockHash != "" && p.TxHash != ""
}

// LedgerEvent is a confirmed mint reported by the ledger.  CategoryHash is
// the keccak-256 of the category name as emitted on-chain.
type LedgerEvent struct {
	TicketID     string     `json:"ticket_id"`
	GroupHash    string     `json:"group"`
	CategoryHash string     `json:"category"`
	Owner        string     `json:"owner"`
	Code         string     `json:"code"`
	Provenance   Provenance `json:"provenance"`
}
