package model

import (
	"sort"
	"strconv"
)

// SortIDs sorts agreement ids numerically when both are numbers and
// lexically otherwise; numeric ids sort first.
func SortIDs(ids []string) {
	sort.SliceStable(ids, func(i, j int) bool { return lessID(ids[i], ids[j]) })
}

func lessID(a, b string) bool {
	na, errA := strconv.Atoi(a)
	nb, errB := strconv.Atoi(b)
	switch {
	case errA == nil && errB == nil:
		if na != nb {
			return na < nb
		}
		return a < b
	case errA == nil:
		return true
	case errB == nil:
		return false
	}
	return a < b
}
