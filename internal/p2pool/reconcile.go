package p2pool

import "errors"

// ErrIndeterminate reports that window activity could not be computed this
// cycle because the chain tip or the share list was unavailable. Callers
// keep the previously recorded counts instead of writing zeros.
var ErrIndeterminate = errors.New("window state indeterminate")

// Tally partitions a wallet's shares against the PPLNS window.
type Tally struct {
	ActiveShares int64
	ActiveUncles int64
	TotalShares  int64
	TotalUncles  int64
	Clamped      int64 // shares above the fetched tip, counted active
}

// Reconcile classifies each share as window-active or aged-out against the
// given sidechain tip. A share is active when tip - height < windowSize.
// Shares above the tip happen when the tip read is stale or a reorg is in
// flight; their distance clamps to zero, they count as active, and Clamped
// reports how many so the caller can log it. A zero tip means no usable tip
// was fetched and the window state is indeterminate.
//
// The share list and the tip come from two separate observer calls, so the
// pair is never a point-in-time snapshot. Fetching the tip after the shares
// keeps the skew on the side the clamp absorbs.
func Reconcile(shares []Share, tip, windowSize uint64) (Tally, error) {
	if tip == 0 {
		return Tally{}, ErrIndeterminate
	}

	var t Tally
	for _, sh := range shares {
		active := false
		switch {
		case sh.Height > tip:
			active = true
			t.Clamped++
		case tip-sh.Height < windowSize:
			active = true
		}

		if sh.IsUncle {
			t.TotalUncles++
			if active {
				t.ActiveUncles++
			}
		} else {
			t.TotalShares++
			if active {
				t.ActiveShares++
			}
		}
	}
	return t, nil
}
