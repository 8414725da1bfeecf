package domain

import "time"

// SharesEpsilon is the tolerance below which a share count is considered
// zero. Fractional remainders smaller than this are rounding noise, not a
// live holding.
const SharesEpsilon = 1e-4

// Position is the per-(pool, alert) holding. A position can receive multiple
// allocation increments (staged entries); it is deactivated, never deleted,
// once its shares reach zero so that RealizedPL and SoldShares stay auditable.
type Position struct {
	ID              string
	PoolID          string
	AlertID         string // references the collaborator-owned Alert entity
	Symbol          string
	Percentage      float64 // cumulative percent of totalCapital requested
	AllocatedAmount float64 // shares * entryPrice while open, 0 once closed
	Shares          float64
	EntryPrice      float64 // volume-weighted across staged entries
	CurrentPrice    float64
	UnrealizedPL    float64
	UnrealizedPLPct float64
	RealizedPL      float64 // cumulative across all non-discarded sales
	SoldShares      float64
	Active          bool
	Sales           []SaleRecord
	OpenedAt        time.Time
	ClosedAt        *time.Time
	UpdatedAt       time.Time
}

// Open reports whether the position still holds shares.
func (p Position) Open() bool {
	return p.Active && p.Shares > SharesEpsilon
}

// SaleRecord is one partial or complete sale embedded in a position's
// history. Immutable once created except for Discarded flips.
type SaleRecord struct {
	ID              string
	PctOfOriginal   float64
	SharesSold      float64
	SellPrice       float64
	CapitalReleased float64 // sharesSold * sellPrice
	RealizedProfit  float64 // (sellPrice - entryPrice) * sharesSold
	ExecutedAt      time.Time
	ExecutedBy      string
	CompleteSale    bool
	Discarded       bool
}
