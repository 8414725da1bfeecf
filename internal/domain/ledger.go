package domain

import "time"

// OperationType classifies a ledger entry.
type OperationType string

const (
	OperationBuy  OperationType = "BUY"
	OperationSell OperationType = "SELL"
)

// LedgerEntry is an immutable record of one buy or sell against a pool. It is
// written once per capital-affecting action and read only for audit and
// reporting; live balances are owned by the pool accountant, not the ledger.
type LedgerEntry struct {
	ID        string
	PoolID    string
	AlertID   string
	Symbol    string
	Operation OperationType
	Quantity  float64 // negative for sells
	Price     float64
	Amount    float64 // quantity * price
	// RunningBalance is the pool's available capital at the time of entry.
	// Informational only.
	RunningBalance float64
	ExecutedAt     time.Time
}
