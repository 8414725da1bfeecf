// Package accounting implements the capital-pool engine: pure position P&L
// math, the pool accountant that owns every aggregate mutation, and the
// valuation recalculator. Pool aggregates are always re-derived wholesale
// from the position set; nothing in this package patches them incrementally.
package accounting

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/quantdesk/alertpool/internal/domain"
)

// UnrealizedPL returns the paper profit on the open shares at the given
// market price.
func UnrealizedPL(pos domain.Position, price float64) float64 {
	return (price - pos.EntryPrice) * pos.Shares
}

// UnrealizedPLPct returns the unrealized P&L as a percentage of the entry
// price. Returns 0 when the entry price is zero.
func UnrealizedPLPct(pos domain.Position, price float64) float64 {
	if pos.EntryPrice == 0 {
		return 0
	}
	return (price - pos.EntryPrice) / pos.EntryPrice * 100
}

// MarkPrice sets the position's current price and recomputes its unrealized
// figures. It never touches realized history.
func MarkPrice(pos domain.Position, price float64) domain.Position {
	pos.CurrentPrice = price
	pos.UnrealizedPL = UnrealizedPL(pos, price)
	pos.UnrealizedPLPct = UnrealizedPLPct(pos, price)
	return pos
}

// ApplyAllocation increments a position by a staged buy. The entry price is
// recomputed as the volume-weighted average across all staged buys so that
// P&L stays correct when entries are staged at different prices.
func ApplyAllocation(pos domain.Position, shares, price, percent float64, now time.Time) domain.Position {
	totalShares := pos.Shares + shares
	if totalShares > 0 {
		pos.EntryPrice = (pos.Shares*pos.EntryPrice + shares*price) / totalShares
	}
	pos.Shares = totalShares
	pos.Percentage += percent
	pos.AllocatedAmount = pos.Shares * pos.EntryPrice
	pos.Active = true
	pos.ClosedAt = nil
	pos.UpdatedAt = now
	if pos.CurrentPrice == 0 {
		pos.CurrentPrice = price
	}
	return MarkPrice(pos, pos.CurrentPrice)
}

// ApplySale reduces a position by a sale and returns the new state together
// with the immutable SaleRecord. It is a pure function over the position;
// pool aggregates are the accountant's job.
func ApplySale(pos domain.Position, shares, price float64, executedBy string, now time.Time) (domain.Position, domain.SaleRecord, error) {
	if shares <= 0 || price <= 0 {
		return pos, domain.SaleRecord{}, fmt.Errorf("accounting: sell %g shares at %g: %w", shares, price, domain.ErrInvalidRequest)
	}
	if shares > pos.Shares+domain.SharesEpsilon {
		return pos, domain.SaleRecord{}, fmt.Errorf("accounting: sell %g of %g held: %w", shares, pos.Shares, domain.ErrInsufficientShares)
	}
	if shares > pos.Shares {
		shares = pos.Shares
	}

	originalShares := pos.Shares + pos.SoldShares
	rec := domain.SaleRecord{
		ID:              uuid.New().String(),
		SharesSold:      shares,
		SellPrice:       price,
		CapitalReleased: shares * price,
		RealizedProfit:  (price - pos.EntryPrice) * shares,
		ExecutedAt:      now,
		ExecutedBy:      executedBy,
	}
	if originalShares > 0 {
		rec.PctOfOriginal = shares / originalShares * 100
	}

	pos.Shares -= shares
	pos.SoldShares += shares
	pos.RealizedPL += rec.RealizedProfit
	pos.AllocatedAmount = pos.Shares * pos.EntryPrice
	pos.UpdatedAt = now

	if math.Abs(pos.Shares) < domain.SharesEpsilon {
		pos.Shares = 0
		pos.AllocatedAmount = 0
		pos.Active = false
		closed := now
		pos.ClosedAt = &closed
		rec.CompleteSale = true
	}

	pos = MarkPrice(pos, price)
	pos.Sales = append(pos.Sales, rec)
	return pos, rec, nil
}

// RestoreSale reverses a discarded sale on the position. The shares come
// back, and the cumulative realized figures are rebuilt from the remaining
// non-discarded records rather than patched, so a discard can never leave a
// drifted sum behind. The record itself stays in the history with its
// Discarded flag set.
func RestoreSale(pos domain.Position, rec domain.SaleRecord, now time.Time) domain.Position {
	pos.Shares += rec.SharesSold

	var sold, realized float64
	for _, s := range pos.Sales {
		if s.Discarded {
			continue
		}
		sold += s.SharesSold
		realized += s.RealizedProfit
	}
	pos.SoldShares = sold
	pos.RealizedPL = realized

	pos.AllocatedAmount = pos.Shares * pos.EntryPrice
	pos.Active = pos.Shares > domain.SharesEpsilon
	if pos.Active {
		pos.ClosedAt = nil
	}
	pos.UpdatedAt = now
	return MarkPrice(pos, pos.CurrentPrice)
}
