package engine

import "github.com/t77yq/scalewatch/internal/bosun"

// decide applies the compare-and-extend rule: the candidate window is
// written only when it extends coverage beyond the existing window. This is
// what keeps the stored end instant monotonically non-decreasing per
// identity, regardless of the order the two event kinds arrive in.
func decide(existing *bosun.Window, candidate bosun.Window) *bosun.Window {
	if existing != nil && !existing.End.Before(candidate.End) {
		return nil
	}
	return &candidate
}
