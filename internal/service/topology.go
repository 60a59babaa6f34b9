package service

import (
	"sort"

	"github.com/vouchmesh/vouchmesh/internal/domain"
)

// Below this many members there is no meaningful topology to analyze;
// everyone lands in cluster 0.
const clusterBootstrapThreshold = 4

// BuildTrustGraph projects a state snapshot into the directed vouch
// graph. The projection is disposable: rebuilt from scratch on every
// analysis pass, never merged or persisted.
func BuildTrustGraph(state *domain.TrustNetworkState) *domain.TrustGraph {
	g := domain.NewTrustGraph()
	for m := range state.Members {
		g.Members.Add(m)
	}
	for vouchee, vouchers := range state.Vouches {
		for voucher := range vouchers {
			if !g.Members.Contains(voucher) || !g.Members.Contains(vouchee) {
				continue
			}
			out, ok := g.Vouches[voucher]
			if !ok {
				out = make(domain.MemberSet)
				g.Vouches[voucher] = out
			}
			out.Add(vouchee)

			in, ok := g.ReverseVouches[vouchee]
			if !ok {
				in = make(domain.MemberSet)
				g.ReverseVouches[vouchee] = in
			}
			in.Add(voucher)
		}
	}
	return g
}

// undirectedEdge is a canonicalized edge: A sorts before B so each
// undirected pair appears once regardless of vouch direction.
type undirectedEdge struct {
	A domain.MemberHash
	B domain.MemberHash
}

func canonicalEdge(x, y domain.MemberHash) undirectedEdge {
	if y.Less(x) {
		x, y = y, x
	}
	return undirectedEdge{A: x, B: y}
}

// DetectClusters partitions the graph's members into resilience
// clusters: it discards vouch direction, removes bridge edges (edges
// whose removal disconnects the graph), and labels the remaining
// connected components with sequential cluster ids. Mutates g.Clusters
// in place.
func DetectClusters(g *domain.TrustGraph) {
	g.Clusters = make(map[domain.MemberHash]int, len(g.Members))
	members := g.Members.Sorted()

	if len(members) < clusterBootstrapThreshold {
		for _, m := range members {
			g.Clusters[m] = 0
		}
		return
	}

	edges := make(map[undirectedEdge]struct{})
	for voucher, vouchees := range g.Vouches {
		for vouchee := range vouchees {
			if voucher == vouchee {
				continue
			}
			edges[canonicalEdge(voucher, vouchee)] = struct{}{}
		}
	}

	adjacency := make(map[domain.MemberHash][]domain.MemberHash, len(members))
	for e := range edges {
		adjacency[e.A] = append(adjacency[e.A], e.B)
		adjacency[e.B] = append(adjacency[e.B], e.A)
	}
	// Deterministic traversal order.
	for _, neighbors := range adjacency {
		sort.Slice(neighbors, func(i, j int) bool { return neighbors[i].Less(neighbors[j]) })
	}

	for _, bridge := range findBridges(members, adjacency) {
		delete(edges, bridge)
	}

	uf := newUnionFind(members)
	for e := range edges {
		uf.union(e.A, e.B)
	}

	// Sequential ids in member sort order so labeling is deterministic.
	next := 0
	rootIDs := make(map[domain.MemberHash]int)
	for _, m := range members {
		root := uf.find(m)
		id, ok := rootIDs[root]
		if !ok {
			id = next
			next++
			rootIDs[root] = id
		}
		g.Clusters[m] = id
	}
}

// DFS phases for the explicit-stack traversal.
const (
	bridgePhaseInit = iota
	bridgePhaseEdges
	bridgePhasePostChild
	bridgePhaseDone
)

// bridgeFrame simulates one recursive call of Tarjan's bridge search.
// An explicit stack bounds memory by frame count rather than goroutine
// stack depth, which matters on chain-shaped graphs.
type bridgeFrame struct {
	node      domain.MemberHash
	parent    domain.MemberHash
	hasParent bool
	edgeIndex int
	phase     int
	child     domain.MemberHash
}

// findBridges runs Tarjan's bridge-finding over the undirected
// adjacency with discovery/low-link numbers: a tree edge (u, v) is a
// bridge iff low[v] > disc[u]. O(V + E).
func findBridges(members []domain.MemberHash, adjacency map[domain.MemberHash][]domain.MemberHash) []undirectedEdge {
	discovery := make(map[domain.MemberHash]int, len(members))
	lowLink := make(map[domain.MemberHash]int, len(members))
	visited := make(map[domain.MemberHash]bool, len(members))
	var bridges []undirectedEdge
	timer := 0

	for _, start := range members {
		if visited[start] {
			continue
		}
		stack := []bridgeFrame{{node: start, phase: bridgePhaseInit}}

		for len(stack) > 0 {
			frame := &stack[len(stack)-1]

			switch frame.phase {
			case bridgePhaseInit:
				visited[frame.node] = true
				discovery[frame.node] = timer
				lowLink[frame.node] = timer
				timer++
				frame.phase = bridgePhaseEdges

			case bridgePhaseEdges:
				neighbors := adjacency[frame.node]
				descended := false
				for frame.edgeIndex < len(neighbors) {
					next := neighbors[frame.edgeIndex]
					frame.edgeIndex++
					if frame.hasParent && next == frame.parent {
						continue
					}
					if !visited[next] {
						frame.phase = bridgePhasePostChild
						frame.child = next
						stack = append(stack, bridgeFrame{
							node:      next,
							parent:    frame.node,
							hasParent: true,
							phase:     bridgePhaseInit,
						})
						descended = true
						break
					}
					// Back edge.
					if discovery[next] < lowLink[frame.node] {
						lowLink[frame.node] = discovery[next]
					}
				}
				if !descended && frame.phase == bridgePhaseEdges {
					frame.phase = bridgePhaseDone
				}

			case bridgePhasePostChild:
				if lowLink[frame.child] < lowLink[frame.node] {
					lowLink[frame.node] = lowLink[frame.child]
				}
				if lowLink[frame.child] > discovery[frame.node] {
					bridges = append(bridges, canonicalEdge(frame.node, frame.child))
				}
				frame.phase = bridgePhaseEdges

			case bridgePhaseDone:
				stack = stack[:len(stack)-1]
			}
		}
	}
	return bridges
}

// unionFind labels connected components with path compression and
// union by rank.
type unionFind struct {
	parent map[domain.MemberHash]domain.MemberHash
	rank   map[domain.MemberHash]int
}

func newUnionFind(members []domain.MemberHash) *unionFind {
	uf := &unionFind{
		parent: make(map[domain.MemberHash]domain.MemberHash, len(members)),
		rank:   make(map[domain.MemberHash]int, len(members)),
	}
	for _, m := range members {
		uf.parent[m] = m
	}
	return uf
}

func (uf *unionFind) find(m domain.MemberHash) domain.MemberHash {
	root := m
	for uf.parent[root] != root {
		root = uf.parent[root]
	}
	for uf.parent[m] != root {
		m, uf.parent[m] = uf.parent[m], root
	}
	return root
}

func (uf *unionFind) union(a, b domain.MemberHash) {
	ra, rb := uf.find(a), uf.find(b)
	if ra == rb {
		return
	}
	if uf.rank[ra] < uf.rank[rb] {
		ra, rb = rb, ra
	}
	uf.parent[rb] = ra
	if uf.rank[ra] == uf.rank[rb] {
		uf.rank[ra]++
	}
}
