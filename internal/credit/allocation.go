package credit

import (
	pkgerrors "github.com/wqooops/report-card-comments/pkg/errors"
)

// Bucket is one spendable credit row inside a consume transaction.
type Bucket struct {
	ID        string
	Remaining int
}

// Allocation records how far a bucket is drained by one consumption.
type Allocation struct {
	ID           string
	NewRemaining int
}

// Drain spends amount across buckets in order, draining each before moving
// to the next. Buckets must already be sorted oldest-expiring-first. If the
// buckets cannot cover amount, no allocations are returned and the caller
// must not mutate anything.
func Drain(buckets []Bucket, amount int) ([]Allocation, error) {
	if amount <= 0 {
		return nil, nil
	}

	available := 0
	for _, b := range buckets {
		available += b.Remaining
	}
	if available < amount {
		return nil, pkgerrors.ErrInsufficientCredits
	}

	var allocations []Allocation
	left := amount
	for _, b := range buckets {
		if left == 0 {
			break
		}
		if b.Remaining <= 0 {
			continue
		}

		take := b.Remaining
		if take > left {
			take = left
		}
		allocations = append(allocations, Allocation{
			ID:           b.ID,
			NewRemaining: b.Remaining - take,
		})
		left -= take
	}

	return allocations, nil
}
