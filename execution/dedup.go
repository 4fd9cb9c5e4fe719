package execution

import (
	"github.com/web3guy0/tradeguard/types"
)

// Suppression records why an entry was dropped
type Suppression struct {
	Decision types.EntryDecision
	Reason   string
}

const (
	ReasonOpenPosition = "open position exists"
	ReasonPendingOrder = "pending order exists"
	ReasonBatch        = "duplicate in batch"
)

// Filter drops every entry whose (strategy, symbol, direction) already has a
// live position or pending order, and every repeat of a tuple within the batch.
// Pure: no broker calls, no mutation of its inputs.
func Filter(decisions []types.EntryDecision, snap types.Snapshot) ([]types.EntryDecision, []Suppression) {
	positions := make(map[types.PositionKey]bool, len(snap.Positions))
	for _, p := range snap.Positions {
		positions[p.Key()] = true
	}
	orders := make(map[types.PositionKey]bool, len(snap.Orders))
	for _, o := range snap.Orders {
		orders[o.Key()] = true
	}

	kept := make([]types.EntryDecision, 0, len(decisions))
	var suppressed []Suppression
	seen := make(map[types.PositionKey]bool, len(decisions))

	for _, d := range decisions {
		k := d.Key()
		switch {
		case positions[k]:
			suppressed = append(suppressed, Suppression{Decision: d, Reason: ReasonOpenPosition})
		case orders[k]:
			suppressed = append(suppressed, Suppression{Decision: d, Reason: ReasonPendingOrder})
		case seen[k]:
			suppressed = append(suppressed, Suppression{Decision: d, Reason: ReasonBatch})
		default:
			seen[k] = true
			kept = append(kept, d)
		}
	}
	return kept, suppressed
}
