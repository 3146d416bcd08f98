// internal/projection/projection.go

// Package projection derives read views from the movement ledger. The
// ledger is the only authoritative record; everything here is a pure
// recomputation over ordered movement rows and can be thrown away and
// rebuilt at any time.
package projection

import (
	"sort"

	"loadout/internal/catalog"
	"loadout/internal/ledger"
)

// LineSummary is the materialized fulfillment view for one manifest line.
type LineSummary struct {
	ItemUID       string `json:"item_uid"`
	QtyRequired   int    `json:"qty_required"`
	QtyCheckedOut int    `json:"qty_checked_out"`
	QtyCheckedIn  int    `json:"qty_checked_in"`
}

// Outstanding returns the quantity still out of the warehouse.
func (s LineSummary) Outstanding() int {
	return s.QtyCheckedOut - s.QtyCheckedIn
}

// Fulfillment recomputes per-line fulfillment totals for one manifest
// from its requirements and its ordered movement rows. Items that appear
// in movements but not in requirements are included with QtyRequired 0,
// so the view never hides ledger rows.
func Fulfillment(required map[string]int, movements []ledger.Movement) []LineSummary {
	byItem := make(map[string]*LineSummary, len(required))
	for uid, qty := range required {
		byItem[uid] = &LineSummary{ItemUID: uid, QtyRequired: qty}
	}
	for _, mv := range movements {
		s, ok := byItem[mv.ItemUID]
		if !ok {
			s = &LineSummary{ItemUID: mv.ItemUID}
			byItem[mv.ItemUID] = s
		}
		switch mv.Action {
		case ledger.ActionCheckout:
			s.QtyCheckedOut += mv.Qty
		case ledger.ActionCheckin:
			s.QtyCheckedIn += mv.Qty
		}
	}

	out := make([]LineSummary, 0, len(byItem))
	for _, s := range byItem {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ItemUID < out[j].ItemUID })
	return out
}

// MirrorUpdates derives the live item status view from a manifest's
// ordered movements: each item's status follows the destination of its
// most recent movement.
func MirrorUpdates(movements []ledger.Movement) []catalog.MirrorUpdate {
	lastRef := make(map[string]string)
	var order []string
	for _, mv := range movements {
		if _, seen := lastRef[mv.ItemUID]; !seen {
			order = append(order, mv.ItemUID)
		}
		lastRef[mv.ItemUID] = mv.ToRef
	}

	updates := make([]catalog.MirrorUpdate, 0, len(order))
	for _, uid := range order {
		updates = append(updates, catalog.MirrorForRef(uid, lastRef[uid]))
	}
	return updates
}
