// Package divergence implements C2: a generic descending binary search over
// a monotone predicate (spec.md §4.2), used by the sync supervisor to find
// the fork point between the local and a remote chain in O(log d) peer
// calls, where d is the fork depth, and O(1) when there is no fork.
// Grounded on original_source/src/utils.rs::find_divergence, threaded
// explicitly with the peer client (spec.md §9: "the predicate is an
// async-callable; implementations must thread the peer client explicitly,
// not capture it from a global").
package divergence

import "context"

// Check is the monotone predicate: for ix1 <= ix2, Check(ix1) >= Check(ix2)
// in {true > false} order. A network error aborts the search.
type Check func(ctx context.Context, ix uint64) (bool, error)

// Find returns the largest ix in [0, ixLast] with check(ix) == true, and
// false if check(0) == false (no such ix exists). The search is optimized
// for an answer near ixLast: it probes ixLast first, then descends with an
// exponentially growing step until it brackets the answer, then binary
// searches the bracket.
func Find(ctx context.Context, ixLast uint64, check Check) (uint64, bool, error) {
	if ixLast == 0 {
		ok, err := check(ctx, 0)
		if err != nil {
			return 0, false, err
		}
		return 0, ok, nil
	}

	ok, err := check(ctx, ixLast)
	if err != nil {
		return 0, false, err
	}
	if ok {
		return ixLast, true, nil
	}

	// Descend with exponentially growing step, probing ixFrom = ixLast - step.
	step := uint64(1)
	ixTo := ixLast
	ixFrom := ixLast - step
	zeroCheckedFalse := false

	for {
		ok, err := check(ctx, ixFrom)
		if err != nil {
			return 0, false, err
		}
		if ok {
			break
		}
		if ixFrom == 0 {
			zeroCheckedFalse = true
			break
		}
		ixTo = ixFrom
		step <<= 1
		if ixLast > step {
			ixFrom = ixLast - step
		} else {
			ixFrom = 0
		}
	}

	if zeroCheckedFalse {
		return 0, false, nil
	}

	// Binary search within [ixFrom, ixTo) until adjacent.
	for ixTo-ixFrom > 1 {
		ixMid := (ixTo + ixFrom) >> 1
		ok, err := check(ctx, ixMid)
		if err != nil {
			return 0, false, err
		}
		if ok {
			ixFrom = ixMid
		} else {
			ixTo = ixMid
		}
	}

	return ixFrom, true, nil
}
