package domain

// TrustGraph is a derived, disposable projection of the vouch relation.
// It is rebuilt from a state snapshot on every analysis pass and must
// never be merged or persisted.
type TrustGraph struct {
	Members MemberSet
	// Vouches is the directed adjacency: voucher to vouchees.
	Vouches map[MemberHash]MemberSet
	// ReverseVouches is vouchee to vouchers.
	ReverseVouches map[MemberHash]MemberSet
	// Clusters maps each member to a resilience cluster id. Populated
	// only after cluster detection runs; empty until then.
	Clusters map[MemberHash]int
}

// NewTrustGraph returns an empty graph projection.
func NewTrustGraph() *TrustGraph {
	return &TrustGraph{
		Members:        make(MemberSet),
		Vouches:        make(map[MemberHash]MemberSet),
		ReverseVouches: make(map[MemberHash]MemberSet),
		Clusters:       make(map[MemberHash]int),
	}
}

// Centrality is a member's combined in-degree and out-degree in the
// directed vouch graph.
func (g *TrustGraph) Centrality(m MemberHash) int {
	return len(g.Vouches[m]) + len(g.ReverseVouches[m])
}

// ClusterOf returns the member's cluster id, or ok=false for a member
// with no assignment. Absence is an expected outcome, not a fault.
func (g *TrustGraph) ClusterOf(m MemberHash) (int, bool) {
	id, ok := g.Clusters[m]
	return id, ok
}

// SameCluster reports whether both members carry the same cluster id.
// It is an equivalence relation over members with an assignment.
func (g *TrustGraph) SameCluster(a, b MemberHash) bool {
	ca, okA := g.Clusters[a]
	cb, okB := g.Clusters[b]
	return okA && okB && ca == cb
}

// ClusterCount returns the number of distinct cluster ids assigned.
func (g *TrustGraph) ClusterCount() int {
	seen := make(map[int]struct{}, len(g.Clusters))
	for _, id := range g.Clusters {
		seen[id] = struct{}{}
	}
	return len(seen)
}

// ClusterMembers groups members by cluster id.
func (g *TrustGraph) ClusterMembers() map[int][]MemberHash {
	out := make(map[int][]MemberHash)
	for _, m := range g.Members.Sorted() {
		if id, ok := g.Clusters[m]; ok {
			out[id] = append(out[id], m)
		}
	}
	return out
}

// HealthStatus is the three-tier resilience rating derived from DVR.
type HealthStatus string

const (
	HealthUnhealthy  HealthStatus = "unhealthy"
	HealthDeveloping HealthStatus = "developing"
	HealthHealthy    HealthStatus = "healthy"
)

// Emoji returns the status indicator used in operator-facing output.
func (h HealthStatus) Emoji() string {
	switch h {
	case HealthUnhealthy:
		return "🔴"
	case HealthDeveloping:
		return "🟡"
	case HealthHealthy:
		return "🟢"
	}
	return "❓"
}

// Guidance returns the suggestion posture for the status.
func (h HealthStatus) Guidance() string {
	switch h {
	case HealthUnhealthy:
		return "actively suggest introductions"
	case HealthDeveloping:
		return "opportunistic suggestions"
	case HealthHealthy:
		return "maintenance mode"
	}
	return ""
}

// DVRReport is the Distinct-Validator-Ratio health score for a snapshot.
type DVRReport struct {
	Ratio              float64      `json:"ratio"`
	DistinctValidators int          `json:"distinct_validators"`
	MaxPossible        int          `json:"max_possible"`
	NetworkSize        int          `json:"network_size"`
	Status             HealthStatus `json:"health_status"`
}

// Introduction recommends that two members build a vouch connection.
// Transient recommender output; never persisted.
type Introduction struct {
	PersonA MemberHash
	PersonB MemberHash
	Reason  string
	// Priority orders suggestions: 0 DVR-optimal, 1 fallback, 2 cluster
	// bridging. Lower is more urgent.
	Priority int
	// DVROptimal is true exactly when Priority is 0.
	DVROptimal bool
}
