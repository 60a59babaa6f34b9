package service

import (
	"fmt"
	"sort"

	"github.com/vouchmesh/vouchmesh/internal/domain"
)

// BridgeVouchCount marks a member one vouch short of validator status.
const BridgeVouchCount = 2

// SuggestIntroductions recommends member pairs whose connection would
// most improve resilience, in three strictly ordered phases. Phase 0
// pairs near-validator "bridge" members with cross-cluster validators
// whose voucher sets are still unreserved (each suggestion would mint a
// new distinct validator). Phase 1 relaxes the reservation constraint so
// every bridge member gets some suggestion. Phase 2 pairs validators
// across every pair of clusters to stitch disconnected sub-networks.
// The combined output is sorted by non-decreasing priority.
//
// Reservation is an explicit accumulator threaded through the phases,
// so each phase stays pure and testable on its own.
func SuggestIntroductions(state *domain.TrustNetworkState, g *domain.TrustGraph) []domain.Introduction {
	if len(g.Clusters) == 0 && len(g.Members) > 0 {
		DetectClusters(g)
	}

	var bridges []domain.MemberHash
	for _, m := range state.Members.Sorted() {
		if state.VoucherCount(m) == BridgeVouchCount {
			bridges = append(bridges, m)
		}
	}
	validators := Validators(state)

	intros, unresolved, _ := suggestOptimal(state, g, bridges, validators, make(domain.MemberSet))
	intros = append(intros, suggestFallback(state, g, unresolved, validators)...)
	intros = append(intros, suggestClusterBridging(state, g, validators)...)
	return intros
}

// suggestOptimal is phase 0: for each bridge member, find the highest-
// centrality validator in a different cluster whose voucher set is
// disjoint from everything already reserved. Acceptance reserves the
// validator's vouchers and the bridge member's own, preventing
// overlapping suggestions within the pass.
func suggestOptimal(
	state *domain.TrustNetworkState,
	g *domain.TrustGraph,
	bridges []domain.MemberHash,
	validators []domain.MemberHash,
	used domain.MemberSet,
) ([]domain.Introduction, []domain.MemberHash, domain.MemberSet) {
	var intros []domain.Introduction
	var unresolved []domain.MemberHash

	for _, bridge := range bridges {
		candidate, found := bestCandidate(g, bridge, validators, func(v domain.MemberHash) bool {
			return state.Vouchers(v).Disjoint(used)
		})
		if !found {
			unresolved = append(unresolved, bridge)
			continue
		}

		for voucher := range state.Vouchers(candidate) {
			used.Add(voucher)
		}
		for voucher := range state.Vouchers(bridge) {
			used.Add(voucher)
		}

		intros = append(intros, domain.Introduction{
			PersonA: bridge,
			PersonB: candidate,
			Reason: fmt.Sprintf("one more vouch makes %s a validator; validator %s anchors an independent voucher set in another cluster",
				bridge.Short(), candidate.Short()),
			Priority:   0,
			DVROptimal: true,
		})
	}
	return intros, unresolved, used
}

// suggestFallback is phase 1: bridges left unresolved get any
// cross-cluster validator, still preferring centrality.
func suggestFallback(
	state *domain.TrustNetworkState,
	g *domain.TrustGraph,
	bridges []domain.MemberHash,
	validators []domain.MemberHash,
) []domain.Introduction {
	var intros []domain.Introduction
	for _, bridge := range bridges {
		candidate, found := bestCandidate(g, bridge, validators, func(domain.MemberHash) bool { return true })
		if !found {
			continue
		}
		intros = append(intros, domain.Introduction{
			PersonA: bridge,
			PersonB: candidate,
			Reason: fmt.Sprintf("%s is one vouch short of validator status; %s is the best-connected validator outside their cluster",
				bridge.Short(), candidate.Short()),
			Priority:   1,
			DVROptimal: false,
		})
	}
	return intros
}

// suggestClusterBridging is phase 2: one suggestion per pair of distinct
// clusters, connecting each cluster's best anchor. Skipped entirely when
// only one cluster exists.
func suggestClusterBridging(
	state *domain.TrustNetworkState,
	g *domain.TrustGraph,
	validators []domain.MemberHash,
) []domain.Introduction {
	byCluster := g.ClusterMembers()
	if len(byCluster) < 2 {
		return nil
	}

	ids := make([]int, 0, len(byCluster))
	for id := range byCluster {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	anchors := make(map[int]domain.MemberHash, len(ids))
	for _, id := range ids {
		anchors[id] = clusterAnchor(g, byCluster[id], validators)
	}

	var intros []domain.Introduction
	for i := 0; i < len(ids); i++ {
		for j := i + 1; j < len(ids); j++ {
			a, b := anchors[ids[i]], anchors[ids[j]]
			if a == b {
				continue
			}
			intros = append(intros, domain.Introduction{
				PersonA: a,
				PersonB: b,
				Reason: fmt.Sprintf("clusters %d and %d are fully disconnected; linking %s and %s joins them",
					ids[i], ids[j], a.Short(), b.Short()),
				Priority:   2,
				DVROptimal: false,
			})
		}
	}
	return intros
}

// bestCandidate picks the admissible validator with the highest
// centrality in a different cluster than target; ties break on hash
// order.
func bestCandidate(
	g *domain.TrustGraph,
	target domain.MemberHash,
	validators []domain.MemberHash,
	admissible func(domain.MemberHash) bool,
) (domain.MemberHash, bool) {
	var best domain.MemberHash
	bestScore := -1
	for _, v := range validators {
		if v == target || g.SameCluster(v, target) {
			continue
		}
		if !admissible(v) {
			continue
		}
		score := g.Centrality(v)
		if score > bestScore || (score == bestScore && v.Less(best)) {
			best = v
			bestScore = score
		}
	}
	return best, bestScore >= 0
}

// clusterAnchor prefers the cluster's highest-centrality validator and
// falls back to its highest-centrality member, so clusters without a
// validator still get a representative.
func clusterAnchor(g *domain.TrustGraph, members []domain.MemberHash, validators []domain.MemberHash) domain.MemberHash {
	inCluster := domain.NewMemberSet(members...)

	var best domain.MemberHash
	bestScore := -1
	for _, v := range validators {
		if !inCluster.Contains(v) {
			continue
		}
		if score := g.Centrality(v); score > bestScore || (score == bestScore && v.Less(best)) {
			best = v
			bestScore = score
		}
	}
	if bestScore >= 0 {
		return best
	}

	for _, m := range members {
		if score := g.Centrality(m); score > bestScore || (score == bestScore && m.Less(best)) {
			best = m
			bestScore = score
		}
	}
	return best
}
