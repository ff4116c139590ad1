package graph

import "sort"

// FindCycles runs a bounded-depth DFS over the edge set and returns each
// cycle as the node path that closes it, canonically rotated so the smallest
// node id comes first. Depth bounds the walk so a pathological graph cannot
// pin the projector.
func FindCycles(edges []Edge, maxDepth int) [][]string {
	if maxDepth <= 0 {
		maxDepth = 10
	}

	adjacency := make(map[string][]string)
	for _, edge := range edges {
		adjacency[edge.SrcID] = append(adjacency[edge.SrcID], edge.DstID)
	}
	for _, targets := range adjacency {
		sort.Strings(targets)
	}

	starts := make([]string, 0, len(adjacency))
	for node := range adjacency {
		starts = append(starts, node)
	}
	sort.Strings(starts)

	seen := make(map[string]bool)
	var cycles [][]string
	for _, start := range starts {
		path := []string{start}
		onPath := map[string]bool{start: true}
		walk(adjacency, start, start, path, onPath, maxDepth, seen, &cycles)
	}
	return cycles
}

func walk(adjacency map[string][]string, start, current string, path []string, onPath map[string]bool, depth int, seen map[string]bool, cycles *[][]string) {
	if depth == 0 {
		return
	}
	for _, next := range adjacency[current] {
		if next == start {
			cycle := canonicalize(path)
			key := fingerprint(cycle)
			if !seen[key] {
				seen[key] = true
				*cycles = append(*cycles, cycle)
			}
			continue
		}
		if onPath[next] {
			continue
		}
		onPath[next] = true
		walk(adjacency, start, next, append(path, next), onPath, depth-1, seen, cycles)
		delete(onPath, next)
	}
}

// canonicalize rotates the cycle so its smallest node id leads, deduping the
// same loop discovered from different start nodes.
func canonicalize(path []string) []string {
	smallest := 0
	for i, node := range path {
		if node < path[smallest] {
			smallest = i
		}
	}
	out := make([]string, 0, len(path))
	out = append(out, path[smallest:]...)
	out = append(out, path[:smallest]...)
	return out
}

func fingerprint(cycle []string) string {
	key := ""
	for _, node := range cycle {
		key += node + "->"
	}
	return key
}
