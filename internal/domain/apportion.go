package domain

import (
	"math/bits"
	"sort"

	"github.com/google/uuid"
)

// MemberShare is one member's slice of a distributed settlement.
type MemberShare struct {
	UserID uuid.UUID
	Amount int64 // in kobo
}

// ApportionByContribution splits total pro rata to each member's net contribution using
// largest-remainder rounding, so the shares always sum exactly to total. Members with a
// zero or negative weight receive nothing. If no member has a positive weight the split
// falls back to equal shares. The weights slice is not modified.
func ApportionByContribution(total int64, weights []MemberShare) []MemberShare {
	shares := make([]MemberShare, len(weights))
	normalized := make([]int64, len(weights))
	for i, w := range weights {
		shares[i] = MemberShare{UserID: w.UserID}
		if w.Amount > 0 {
			normalized[i] = w.Amount
		}
	}
	if total <= 0 || len(weights) == 0 {
		return shares
	}

	var sum int64
	for _, w := range normalized {
		sum += w
	}
	if sum == 0 {
		// Equal split fallback; earlier members absorb the remainder.
		base := total / int64(len(weights))
		rem := total % int64(len(weights))
		for i := range shares {
			shares[i].Amount = base
			if int64(i) < rem {
				shares[i].Amount++
			}
		}
		return shares
	}

	type remainder struct {
		index int
		frac  uint64
	}
	remainders := make([]remainder, len(weights))
	var allocated int64
	divisor := uint64(sum)
	for i, w := range normalized {
		// total*weight can exceed int64 for large pools; do the division in 128 bits.
		// weight <= sum keeps the quotient <= total and the high word below the divisor.
		hi, lo := bits.Mul64(uint64(total), uint64(w))
		quo, rem := bits.Div64(hi, lo, divisor)
		shares[i].Amount = int64(quo)
		remainders[i] = remainder{index: i, frac: rem}
		allocated += int64(quo)
	}

	// Hand the leftover kobo to the largest remainders, index order breaking ties
	// deterministically.
	sort.Slice(remainders, func(a, b int) bool {
		if remainders[a].frac != remainders[b].frac {
			return remainders[a].frac > remainders[b].frac
		}
		return remainders[a].index < remainders[b].index
	})
	leftover := total - allocated
	if leftover > int64(len(remainders)) {
		leftover = int64(len(remainders))
	}
	for i := int64(0); i < leftover; i++ {
		shares[remainders[i].index].Amount++
	}
	return shares
}
