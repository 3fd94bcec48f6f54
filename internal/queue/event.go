// Package queue defines the messages exchanged with the ledger watcher over
// the message broker and consumes them.
package queue

import "github.com/iliyamo/ticket-mint-reconciler/internal/model"

// Queue names.  Every queue is durable and addressed through the default
// exchange.  The ledger queues dead-letter through DeadLetterExchange.
const (
	TicketMintedQueue = "ledger.ticket_minted"
	ReorgQueue        = "ledger.reorg"
	MintedQueue       = "ticket.minted"
	MintRevertedQueue = "ticket.mint_reverted"
)

// DeadLetterExchange receives the messages rejected by the consumer.
const DeadLetterExchange = "ledger.dlx"

// DeadLetterQueue names the queue holding rejected messages of queue.
func DeadLetterQueue(queue string) string { return queue + ".dead" }

// TicketMintedMessage is published by the ledger watcher once a mint log is
// confirmed.  It is the wire form of model.LedgerEvent.
type TicketMintedMessage = model.LedgerEvent

// ReorgNotice reports that the transaction holding the log at Provenance is
// no longer on the canonical chain.
type ReorgNotice struct {
	Provenance model.Provenance `json:"provenance"`
}

// MintOutcomeEvent is published after a mint has been applied or reverted.
// It carries enough information for downstream consumers to notify the
// owner without querying the primary database.
type MintOutcomeEvent struct {
	TicketID        string `json:"ticket_id"`
	AuthorizationID string `json:"authorization_id"`
	Owner           string `json:"owner"`
	BlockHash       string `json:"block_hash"`
	TxHash          string `json:"tx_hash"`
	LogIndex        uint64 `json:"log_index"`
	OccurredAt      string `json:"occurred_at"`
}
