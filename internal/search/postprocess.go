package search

import (
	"strings"

	"github.com/davidguzman1991/clinical-core/internal/domain"
)

// groupParentChild implements spec section 4.6's post-processing step:
// when the ranked result set contains both a 3-character root code and
// at least one of its dotted children, the children are moved to sit
// immediately after their parent, in their existing score order,
// leaving every unrelated entry's relative order untouched. Applied
// only when doing so does not change how many results come back.
func groupParentChild(results []domain.RankedResult) []domain.RankedResult {
	parents := make(map[string]bool)
	for _, r := range results {
		code := strings.ToUpper(r.Code)
		if len(code) == 3 && !strings.Contains(code, ".") {
			parents[code] = true
		}
	}
	if len(parents) == 0 {
		return results
	}

	childOfParent := func(code string) (string, bool) {
		code = strings.ToUpper(code)
		dot := strings.Index(code, ".")
		if dot != 3 {
			return "", false
		}
		root := code[:3]
		if parents[root] {
			return root, true
		}
		return "", false
	}

	hasChild := false
	for _, r := range results {
		if _, ok := childOfParent(r.Code); ok {
			hasChild = true
			break
		}
	}
	if !hasChild {
		return results
	}

	placed := make(map[int]bool, len(results))
	out := make([]domain.RankedResult, 0, len(results))

	for i, r := range results {
		if placed[i] {
			continue
		}
		if _, ok := childOfParent(r.Code); ok {
			// will be placed under its parent below
			continue
		}
		out = append(out, r)
		placed[i] = true

		if !parents[strings.ToUpper(r.Code)] {
			continue
		}
		for j, child := range results {
			if placed[j] {
				continue
			}
			if root, ok := childOfParent(child.Code); ok && root == strings.ToUpper(r.Code) {
				out = append(out, child)
				placed[j] = true
			}
		}
	}

	// any remaining children whose parent never made it into the
	// result set (shouldn't happen given parents is derived from
	// results itself, but guards cardinality regardless).
	for i, r := range results {
		if !placed[i] {
			out = append(out, r)
		}
	}

	if len(out) != len(results) {
		return results
	}
	return out
}
