package metrics

import (
	"sort"
	"strconv"
)

// GroupCount is the number of included units carried by one group (block).
type GroupCount struct {
	Key   string `json:"key" yaml:"key"`
	Count int    `json:"count" yaml:"count"`
}

// ReasonCount is the number of units rejected for one reason.
type ReasonCount struct {
	Reason string `json:"reason" yaml:"reason"`
	Count  int    `json:"count" yaml:"count"`
}

// FlattenGroups converts a group->count map into rows ordered by key.
// Numeric keys (block heights) sort numerically and before any other key.
func FlattenGroups(groups map[string]int) []GroupCount {
	if len(groups) == 0 {
		return nil
	}
	rows := make([]GroupCount, 0, len(groups))
	for key, count := range groups {
		rows = append(rows, GroupCount{Key: key, Count: count})
	}
	sort.Slice(rows, func(i, j int) bool {
		return lessGroupKey(rows[i].Key, rows[j].Key)
	})
	return rows
}

func lessGroupKey(a, b string) bool {
	na, errA := strconv.ParseUint(a, 10, 64)
	nb, errB := strconv.ParseUint(b, 10, 64)
	switch {
	case errA == nil && errB == nil:
		return na < nb
	case errA == nil:
		return true
	case errB == nil:
		return false
	}
	return a < b
}

// FlattenReasons converts a reason->count map into rows sorted by
// descending count, then by reason for stability.
func FlattenReasons(reasons map[string]int) []ReasonCount {
	if len(reasons) == 0 {
		return nil
	}
	rows := make([]ReasonCount, 0, len(reasons))
	for reason, count := range reasons {
		rows = append(rows, ReasonCount{Reason: reason, Count: count})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Count == rows[j].Count {
			return rows[i].Reason < rows[j].Reason
		}
		return rows[i].Count > rows[j].Count
	})
	return rows
}
