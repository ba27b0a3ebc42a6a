package warehouse

import (
	"sort"
	"time"
)

// allocationLine is one planned draw from a single batch.
type allocationLine struct {
	Batch    Batch
	Quantity int64
}

// fefoOrder sorts batches first-expired-first-out: expiry date, then
// purchase date, then id as the stable tiebreaker.
func fefoOrder(batches []Batch) []Batch {
	sorted := make([]Batch, len(batches))
	copy(sorted, batches)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].ExpiryDate.Equal(sorted[j].ExpiryDate) {
			return sorted[i].ExpiryDate.Before(sorted[j].ExpiryDate)
		}
		if !sorted[i].PurchaseDate.Equal(sorted[j].PurchaseDate) {
			return sorted[i].PurchaseDate.Before(sorted[j].PurchaseDate)
		}
		return sorted[i].ID < sorted[j].ID
	})
	return sorted
}

// planFEFO greedily draws the requested quantity from sellable batches in
// FEFO order. Candidates must come from the current transaction's
// FOR UPDATE read; sellability is checked here again, at mutation time,
// so a batch that expired after the candidate query is never drawn from.
// The second return value is the unsatisfied remainder; zero means the
// plan covers the request.
func planFEFO(candidates []Batch, quantity int64, now time.Time) ([]allocationLine, int64) {
	lines := []allocationLine{}
	outstanding := quantity
	for _, batch := range fefoOrder(candidates) {
		if outstanding == 0 {
			break
		}
		if !batch.Sellable(now) {
			continue
		}
		take := min(batch.QuantityRemaining, outstanding)
		lines = append(lines, allocationLine{Batch: batch, Quantity: take})
		outstanding -= take
	}
	return lines, outstanding
}

// drawnCounters returns the batch counters and status after drawing qty
// from it. Depletion flips the status; expiry is not checked here because
// a drawn-from batch was verified sellable by the planner.
func drawnCounters(batch Batch, qty int64) (sold, remaining int64, status BatchStatus) {
	sold = batch.QuantitySold + qty
	remaining = batch.QuantityRemaining - qty
	status = batch.Status
	if remaining == 0 {
		status = BatchDepleted
	}
	return sold, remaining, status
}

// restoredCounters returns the batch counters and status after giving qty
// back on a sale reversal. The status is recomputed under the shared
// eligibility rules: an expired batch stays EXPIRED, a depleted batch with
// stock again becomes ACTIVE.
func restoredCounters(batch Batch, qty int64, now time.Time) (sold, remaining int64, status BatchStatus) {
	sold = batch.QuantitySold - qty
	remaining = batch.QuantityRemaining + qty
	status = batch.Status
	switch {
	case batch.ExpiredAt(now):
		status = BatchExpired
	case remaining > 0:
		status = BatchActive
	case remaining == 0:
		status = BatchDepleted
	}
	return sold, remaining, status
}
