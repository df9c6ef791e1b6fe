package routines

import (
	"sort"
	"strings"

	"github.com/bryanwahyu/skinroutine/internal/domain/catalog"
	"github.com/bryanwahyu/skinroutine/internal/domain/concerns"
)

// Match turns detected concerns into a deduplicated routine list ordered by
// relevance.
//
// Inclusion and ranking use two different text comparisons. A routine is
// included when it is linked to a catalog concern whose name is contained in
// a detected concern's name (linkedRoutines). It is then ranked by the
// strongest detected concern whose name is contained in the routine's
// TargetSkinTypes tags (tagRank). The two can disagree: a linked routine may
// carry tags that mention none of the detected concerns. Such routines are
// ranked after every tag-matched routine, in inclusion order.
func Match(scores []concerns.Score, cat *catalog.Catalog) []catalog.Routine {
	prioritized := concerns.SortByConfidence(scores)

	included := dedupe(linkedRoutines(prioritized, cat))

	type ranked struct {
		routine catalog.Routine
		key     float64
		matched bool
	}
	rs := make([]ranked, 0, len(included))
	for _, r := range included {
		key, ok := tagRank(r, prioritized)
		rs = append(rs, ranked{routine: r, key: key, matched: ok})
	}

	sort.SliceStable(rs, func(i, j int) bool {
		if rs[i].matched != rs[j].matched {
			return rs[i].matched
		}
		return rs[i].key > rs[j].key
	})

	out := make([]catalog.Routine, 0, len(rs))
	for _, r := range rs {
		out = append(out, r.routine)
	}
	return out
}

// linkedRoutines collects, concern by concern in priority order, every routine
// linked to a catalog concern whose lower-cased name is a substring of the
// detected concern name. Duplicates are kept; the first occurrence marks the
// concern that sourced the routine.
func linkedRoutines(prioritized []concerns.Score, cat *catalog.Catalog) []catalog.Routine {
	var out []catalog.Routine
	for _, s := range prioritized {
		name := strings.ToLower(s.ConcernName)
		for _, c := range cat.Concerns {
			if c.Name == "" || !strings.Contains(name, strings.ToLower(c.Name)) {
				continue
			}
			out = append(out, cat.RoutinesFor(c.ID)...)
		}
	}
	return out
}

// tagRank returns the confidence of the highest-confidence concern whose
// lower-cased name is a substring of the routine's lower-cased tag text.
// ok is false when no concern matches.
func tagRank(r catalog.Routine, prioritized []concerns.Score) (float64, bool) {
	tags := strings.ToLower(r.TargetSkinTypes)
	var best float64
	var found bool
	for _, s := range prioritized {
		if s.ConcernName == "" || !strings.Contains(tags, strings.ToLower(s.ConcernName)) {
			continue
		}
		if !found || s.Confidence > best {
			best = s.Confidence
			found = true
		}
	}
	return best, found
}

func dedupe(in []catalog.Routine) []catalog.Routine {
	seen := make(map[int64]bool, len(in))
	out := make([]catalog.Routine, 0, len(in))
	for _, r := range in {
		if seen[r.ID] {
			continue
		}
		seen[r.ID] = true
		out = append(out, r)
	}
	return out
}

// IDs returns the routine ids in order.
func IDs(rs []catalog.Routine) []int64 {
	out := make([]int64, 0, len(rs))
	for _, r := range rs {
		out = append(out, r.ID)
	}
	return out
}
