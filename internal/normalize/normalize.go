// Package normalize canonicalizes free-text schedule fields so that values
// differing only in Unicode form, case or spacing compare equal.
//
// Pipeline order
// 1 UTF-8 repair, invalid bytes dropped
// 2 Unicode NFKC
// 3 Unicode case folding
// 4 Control characters become spaces
// 5 Collapse whitespace runs to a single space and trim
package normalize

import (
	"sort"
	"strings"
	"sync"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// GroupSeparator joins sorted, normalized group labels.
const GroupSeparator = "|"

var chainPool = sync.Pool{
	New: func() any {
		return transform.Chain(norm.NFKC, cases.Fold())
	},
}

// Text returns the normalized form of s. It is total: empty input yields "".
func Text(s string) string {
	if s == "" {
		return ""
	}
	s = strings.ToValidUTF8(s, "")

	tr := chainPool.Get().(transform.Transformer)
	ns, _, err := transform.String(tr, s)
	tr.Reset()
	chainPool.Put(tr)
	if err != nil {
		// transform only fails on malformed input, already repaired above
		ns = strings.ToLower(norm.NFKC.String(s))
	}

	ns = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return ' '
		}
		return r
	}, ns)
	return strings.Join(strings.Fields(ns), " ")
}

// Groups normalizes each label, sorts them and joins them with
// GroupSeparator so that source ordering is irrelevant.
func Groups(labels []string) string {
	if len(labels) == 0 {
		return ""
	}
	out := make([]string, 0, len(labels))
	for _, l := range labels {
		out = append(out, Text(l))
	}
	sort.Strings(out)
	return strings.Join(out, GroupSeparator)
}
