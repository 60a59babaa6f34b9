package service

import (
	"sort"
	"testing"

	"github.com/vouchmesh/vouchmesh/internal/domain"
)

// graphFixture builds a state whose members are 1..n and whose vouch
// edges are the given directed pairs.
func graphFixture(n int, edges [][2]byte) *domain.TrustNetworkState {
	state := domain.NewTrustNetworkState()
	delta := domain.NewDelta()
	for i := 1; i <= n; i++ {
		delta = delta.AddMember(h(byte(i)))
	}
	for _, e := range edges {
		delta = delta.AddVouch(h(e[0]), h(e[1]))
	}
	ApplyDelta(state, delta)
	return state
}

func adjacencyOf(members []domain.MemberHash, edges [][2]byte) map[domain.MemberHash][]domain.MemberHash {
	adjacency := make(map[domain.MemberHash][]domain.MemberHash)
	for _, e := range edges {
		a, b := h(e[0]), h(e[1])
		adjacency[a] = append(adjacency[a], b)
		adjacency[b] = append(adjacency[b], a)
	}
	for _, neighbors := range adjacency {
		sort.Slice(neighbors, func(i, j int) bool { return neighbors[i].Less(neighbors[j]) })
	}
	return adjacency
}

func TestFindBridges(t *testing.T) {
	tests := []struct {
		name    string
		members int
		edges   [][2]byte
		want    int
	}{
		{
			name:    "triangle has no bridges",
			members: 3,
			edges:   [][2]byte{{1, 2}, {2, 3}, {3, 1}},
			want:    0,
		},
		{
			name:    "chain is all bridges",
			members: 3,
			edges:   [][2]byte{{1, 2}, {2, 3}},
			want:    2,
		},
		{
			name:    "two triangles joined by one edge",
			members: 6,
			edges:   [][2]byte{{1, 2}, {2, 3}, {3, 1}, {4, 5}, {5, 6}, {6, 4}, {3, 4}},
			want:    1,
		},
		{
			name:    "cycle has no bridges",
			members: 5,
			edges:   [][2]byte{{1, 2}, {2, 3}, {3, 4}, {4, 5}, {5, 1}},
			want:    0,
		},
		{
			name:    "disconnected components",
			members: 4,
			edges:   [][2]byte{{1, 2}, {3, 4}},
			want:    2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var members []domain.MemberHash
			for i := 1; i <= tt.members; i++ {
				members = append(members, h(byte(i)))
			}
			bridges := findBridges(members, adjacencyOf(members, tt.edges))
			if len(bridges) != tt.want {
				t.Errorf("found %d bridges (%v), want %d", len(bridges), bridges, tt.want)
			}
		})
	}
}

func TestDetectClusters_Bootstrap(t *testing.T) {
	// Below four members everyone shares cluster 0, connected or not.
	state := graphFixture(3, nil)
	g := BuildTrustGraph(state)
	DetectClusters(g)

	if g.ClusterCount() != 1 {
		t.Errorf("cluster count = %d, want 1", g.ClusterCount())
	}
	for i := 1; i <= 3; i++ {
		if id, _ := g.ClusterOf(h(byte(i))); id != 0 {
			t.Errorf("member %d in cluster %d, want 0", i, id)
		}
	}
}

func TestDetectClusters_BridgeSplitsClusters(t *testing.T) {
	// Two triangles joined by a single bridge edge: removing the bridge
	// yields two clusters.
	state := graphFixture(6, [][2]byte{
		{1, 2}, {2, 3}, {3, 1},
		{4, 5}, {5, 6}, {6, 4},
		{3, 4},
	})
	g := BuildTrustGraph(state)
	DetectClusters(g)

	if g.ClusterCount() != 2 {
		t.Fatalf("cluster count = %d, want 2", g.ClusterCount())
	}
	if !g.SameCluster(h(1), h(2)) || !g.SameCluster(h(2), h(3)) {
		t.Error("first triangle should share a cluster")
	}
	if !g.SameCluster(h(4), h(5)) || !g.SameCluster(h(5), h(6)) {
		t.Error("second triangle should share a cluster")
	}
	if g.SameCluster(h(3), h(4)) {
		t.Error("bridge endpoints should land in different clusters")
	}
}

func TestDetectClusters_ChainFragments(t *testing.T) {
	// In a pure chain every edge is a bridge, so every member is its
	// own cluster.
	state := graphFixture(5, [][2]byte{{1, 2}, {2, 3}, {3, 4}, {4, 5}})
	g := BuildTrustGraph(state)
	DetectClusters(g)

	if g.ClusterCount() != 5 {
		t.Errorf("cluster count = %d, want 5", g.ClusterCount())
	}
}

func TestDetectClusters_RedundantCoreStaysWhole(t *testing.T) {
	// A cycle of six has no bridges and stays one cluster.
	state := graphFixture(6, [][2]byte{{1, 2}, {2, 3}, {3, 4}, {4, 5}, {5, 6}, {6, 1}})
	g := BuildTrustGraph(state)
	DetectClusters(g)

	if g.ClusterCount() != 1 {
		t.Errorf("cluster count = %d, want 1", g.ClusterCount())
	}
}

func TestDetectClusters_Deterministic(t *testing.T) {
	state := graphFixture(7, [][2]byte{
		{1, 2}, {2, 3}, {3, 1},
		{4, 5}, {5, 6}, {6, 4},
		{3, 4}, {6, 7},
	})

	first := BuildTrustGraph(state)
	DetectClusters(first)
	for i := 0; i < 10; i++ {
		again := BuildTrustGraph(state)
		DetectClusters(again)
		for m, id := range first.Clusters {
			if again.Clusters[m] != id {
				t.Fatalf("run %d assigned member %s cluster %d, first run said %d",
					i, m.Short(), again.Clusters[m], id)
			}
		}
	}
}

func TestDetectClusters_SequentialIDs(t *testing.T) {
	state := graphFixture(4, nil)
	g := BuildTrustGraph(state)
	DetectClusters(g)

	// Four isolated members: ids must be exactly 0..3 in member order.
	seen := make(map[int]bool)
	for _, m := range g.Members.Sorted() {
		id, ok := g.ClusterOf(m)
		if !ok {
			t.Fatalf("member %s unassigned", m.Short())
		}
		seen[id] = true
	}
	for i := 0; i < 4; i++ {
		if !seen[i] {
			t.Errorf("cluster id %d missing, ids must be sequential from 0", i)
		}
	}
}

func TestBuildTrustGraph_SkipsNonMemberEdges(t *testing.T) {
	state := graphFixture(2, [][2]byte{{1, 2}})
	// A vouch from an ejected member must not survive projection.
	ApplyDelta(state, domain.NewDelta().AddMember(h(9)))
	ApplyDelta(state, domain.NewDelta().AddVouch(h(9), h(1)))
	ApplyDelta(state, domain.NewDelta().RemoveMember(h(9)))

	g := BuildTrustGraph(state)
	if g.Members.Contains(h(9)) {
		t.Error("ejected member should not appear in the graph")
	}
	if in, ok := g.ReverseVouches[h(1)]; ok && in.Contains(h(9)) {
		t.Error("edge from ejected member should be dropped")
	}
}

func TestCentrality(t *testing.T) {
	state := graphFixture(4, [][2]byte{{1, 2}, {3, 2}, {2, 4}})
	g := BuildTrustGraph(state)

	// Member 2 has in-degree 2 and out-degree 1.
	if got := g.Centrality(h(2)); got != 3 {
		t.Errorf("centrality = %d, want 3", got)
	}
	if got := g.Centrality(h(4)); got != 1 {
		t.Errorf("leaf centrality = %d, want 1", got)
	}
}
