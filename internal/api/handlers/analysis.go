package handlers

import (
	"net/http"

	"github.com/vouchmesh/vouchmesh/internal/service"
)

// AnalysisHandler exposes the topology, DVR, and recommender pipeline.
// Every request runs over a fresh snapshot; the graph projection is
// rebuilt per call and discarded.
type AnalysisHandler struct {
	svc *service.NetworkService
}

func NewAnalysisHandler(svc *service.NetworkService) *AnalysisHandler {
	return &AnalysisHandler{svc: svc}
}

type clustersResponse struct {
	ClusterCount int              `json:"cluster_count"`
	Clusters     map[int][]string `json:"clusters"`
	Assignments  map[string]int   `json:"assignments"`
}

func (h *AnalysisHandler) GetClusters(w http.ResponseWriter, r *http.Request) {
	state := h.svc.Snapshot()
	graph := service.BuildTrustGraph(state)
	service.DetectClusters(graph)

	resp := clustersResponse{
		ClusterCount: graph.ClusterCount(),
		Clusters:     make(map[int][]string),
		Assignments:  make(map[string]int, len(graph.Clusters)),
	}
	for id, members := range graph.ClusterMembers() {
		names := make([]string, 0, len(members))
		for _, m := range members {
			names = append(names, m.String())
			resp.Assignments[m.String()] = id
		}
		resp.Clusters[id] = names
	}
	writeJSON(w, http.StatusOK, resp)
}

type dvrResponse struct {
	Ratio              float64 `json:"ratio"`
	DistinctValidators int     `json:"distinct_validators"`
	MaxPossible        int     `json:"max_possible"`
	NetworkSize        int     `json:"network_size"`
	HealthStatus       string  `json:"health_status"`
	Indicator          string  `json:"indicator"`
	Guidance           string  `json:"guidance"`
}

func (h *AnalysisHandler) GetDVR(w http.ResponseWriter, r *http.Request) {
	report := service.CalculateDVR(h.svc.Snapshot())
	writeJSON(w, http.StatusOK, dvrResponse{
		Ratio:              report.Ratio,
		DistinctValidators: report.DistinctValidators,
		MaxPossible:        report.MaxPossible,
		NetworkSize:        report.NetworkSize,
		HealthStatus:       string(report.Status),
		Indicator:          report.Status.Emoji(),
		Guidance:           report.Status.Guidance(),
	})
}

type introductionResponse struct {
	PersonA    string `json:"person_a"`
	PersonB    string `json:"person_b"`
	Reason     string `json:"reason"`
	Priority   int    `json:"priority"`
	DVROptimal bool   `json:"dvr_optimal"`
}

func (h *AnalysisHandler) GetIntroductions(w http.ResponseWriter, r *http.Request) {
	state := h.svc.Snapshot()
	graph := service.BuildTrustGraph(state)
	service.DetectClusters(graph)

	intros := service.SuggestIntroductions(state, graph)
	resp := make([]introductionResponse, 0, len(intros))
	for _, in := range intros {
		resp = append(resp, introductionResponse{
			PersonA:    in.PersonA.String(),
			PersonB:    in.PersonB.String(),
			Reason:     in.Reason,
			Priority:   in.Priority,
			DVROptimal: in.DVROptimal,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"introductions": resp})
}
