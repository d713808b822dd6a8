package reconcile

import "sort"

// Index partitions keyed entries into match-key buckets, orders each bucket
// by start instant and assigns every entry its zero-based rank. Entries
// starting at the same instant keep snapshot order. The result is in the
// same order as the input.
//
// Ranks are recomputed on every pass and never persisted.
func Index(keyed []Keyed) []Indexed {
	buckets := make(map[string][]int)
	for i, k := range keyed {
		buckets[k.MatchKey] = append(buckets[k.MatchKey], i)
	}

	out := make([]Indexed, len(keyed))
	for _, positions := range buckets {
		sort.SliceStable(positions, func(a, b int) bool {
			return keyed[positions[a]].Entry.Start.Before(keyed[positions[b]].Entry.Start)
		})
		for rank, pos := range positions {
			out[pos] = Indexed{Keyed: keyed[pos], Occurrence: rank}
		}
	}
	return out
}
