package accounting

import "time"

// Refresh applies a batch of fresh market prices to the pool's active
// positions and re-derives the pool aggregates. Positions whose symbol is
// missing from the price map keep their previous price and derived figures:
// a partial market-data failure leaves positions stale-but-valid, it never
// zeroes them. Refresh is idempotent for a fixed price map.
//
// It returns the number of positions that were repriced.
func Refresh(state *PoolState, prices map[string]float64, now time.Time) (int, error) {
	updated := 0
	for i := range state.Positions {
		p := &state.Positions[i]
		if !p.Open() {
			continue
		}
		price, ok := prices[p.Symbol]
		if !ok || price <= 0 {
			continue
		}
		*p = MarkPrice(*p, price)
		p.UpdatedAt = now
		updated++
	}

	if err := RecomputeTotals(state, now); err != nil {
		return 0, err
	}
	return updated, nil
}
