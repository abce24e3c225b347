package marking

import (
	"cmp"
	"slices"
)

// Cluster partitions markings into connected groups. Every ordered pair
// (outside, inside) is tested, so containment in either direction links two
// markings. The result does not depend on input order: members are sorted by
// classification id and clusters by their smallest member. Markings repeating
// a classification id are dropped after the first.
func Cluster(markings []Marking) [][]Marking {
	nodes := dedupe(markings)
	if len(nodes) == 0 {
		return nil
	}

	uf := newUnionFind(len(nodes))
	for i := range nodes {
		for j := range nodes {
			if i == j {
				continue
			}
			if Contains(&nodes[i], nodes[j].CenterX, nodes[j].CenterY) {
				uf.union(i, j)
			}
		}
	}

	// nodes are sorted by id, so walking them in order keeps members sorted
	// and orders groups by their first (smallest) member
	groupIndex := make(map[int]int, len(nodes))
	var clusters [][]Marking
	for i := range nodes {
		root := uf.find(i)
		idx, ok := groupIndex[root]
		if !ok {
			idx = len(clusters)
			groupIndex[root] = idx
			clusters = append(clusters, nil)
		}
		clusters[idx] = append(clusters[idx], nodes[i])
	}
	return clusters
}

// ClassificationIDs returns the ids of a cluster in order.
func ClassificationIDs(cluster []Marking) []int64 {
	ids := make([]int64, len(cluster))
	for i := range cluster {
		ids[i] = cluster[i].ClassificationID
	}
	return ids
}

// dedupe returns a copy sorted by classification id, keeping the first
// occurrence of each id
func dedupe(markings []Marking) []Marking {
	seen := make(map[int64]struct{}, len(markings))
	out := make([]Marking, 0, len(markings))
	for i := range markings {
		if _, dup := seen[markings[i].ClassificationID]; dup {
			continue
		}
		seen[markings[i].ClassificationID] = struct{}{}
		out = append(out, markings[i])
	}
	slices.SortFunc(out, func(a, b Marking) int {
		return cmp.Compare(a.ClassificationID, b.ClassificationID)
	})
	return out
}

// unionFind is a disjoint-set forest with path halving and union by size
type unionFind struct {
	parent []int
	size   []int
}

func newUnionFind(n int) *unionFind {
	uf := &unionFind{parent: make([]int, n), size: make([]int, n)}
	for i := range n {
		uf.parent[i] = i
		uf.size[i] = 1
	}
	return uf
}

func (uf *unionFind) find(x int) int {
	for uf.parent[x] != x {
		uf.parent[x] = uf.parent[uf.parent[x]]
		x = uf.parent[x]
	}
	return x
}

func (uf *unionFind) union(a, b int) {
	ra, rb := uf.find(a), uf.find(b)
	if ra == rb {
		return
	}
	if uf.size[ra] < uf.size[rb] {
		ra, rb = rb, ra
	}
	uf.parent[rb] = ra
	uf.size[ra] += uf.size[rb]
}
