package dedupe

import "github.com/agenthands/cobalt/internal/types"

// GroupDuplicates collapses auto-merge pairs into connected components, so
// overlapping pairs discovered against the same pool ("excel"~"Excel",
// "Excel"~"MS Excel") resolve to a single group instead of two divergent
// merges. Returned groups preserve first-seen member order; pairs with
// other decisions are ignored.
func GroupDuplicates(pairs []types.DuplicateCandidate) [][]string {
	parent := make(map[string]string)

	var find func(string) string
	find = func(x string) string {
		if parent[x] != x {
			parent[x] = find(parent[x])
		}
		return parent[x]
	}
	union := func(a, b string) {
		if _, ok := parent[a]; !ok {
			parent[a] = a
		}
		if _, ok := parent[b]; !ok {
			parent[b] = b
		}
		ra, rb := find(a), find(b)
		if ra != rb {
			parent[rb] = ra
		}
	}

	var order []string
	seen := make(map[string]bool)
	note := func(id string) {
		if !seen[id] {
			seen[id] = true
			order = append(order, id)
		}
	}

	for _, p := range pairs {
		if p.Decision != types.DecisionAutoMerge {
			continue
		}
		union(p.EntityAID, p.EntityBID)
		note(p.EntityAID)
		note(p.EntityBID)
	}

	components := make(map[string][]string)
	var roots []string
	for _, id := range order {
		root := find(id)
		if _, ok := components[root]; !ok {
			roots = append(roots, root)
		}
		components[root] = append(components[root], id)
	}

	groups := make([][]string, 0, len(roots))
	for _, root := range roots {
		groups = append(groups, components[root])
	}
	return groups
}
