package domain

import "time"

// CapitalPool is the single shared mutable resource per trading strategy. All
// aggregate fields except InitialCapital are derived from the position set and
// are recomputed wholesale on every write; they are never patched in place.
type CapitalPool struct {
	ID                 string
	Name               string
	InitialCapital     float64
	TotalCapital       float64
	AvailableCapital   float64
	DistributedCapital float64
	TotalProfitLoss    float64
	TotalProfitLossPct float64

	// Version is the optimistic-concurrency revision. Stores reject a write
	// whose version does not match the stored row and return ErrConflict.
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// PoolSummary is the read model exposed to dashboard and notification
// collaborators: pool aggregates plus a per-instrument breakdown.
type PoolSummary struct {
	Pool       CapitalPool `json:"pool"`
	Positions  []Position  `json:"positions"`
	Realized   float64     `json:"realized_pl"`
	Unrealized float64     `json:"unrealized_pl"`
}
