package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/specific-affinity/affinity/internal/engine"
)

type healthResponse struct {
	Status  string `json:"status"`
	Records int    `json:"records"`
}

type statsResponse struct {
	TotalRecords   int     `json:"total_records"`
	Clustered      int     `json:"clustered"`
	Unclustered    int     `json:"unclustered"`
	Clusters       int     `json:"clusters"`
	LargestCluster int     `json:"largest_cluster"`
	AvgClusterSize float64 `json:"avg_cluster_size"`
	DistinctTokens int     `json:"distinct_tokens"`
	Threshold      float64 `json:"threshold"`
}

type matchResponse struct {
	Query      string          `json:"query"`
	Status     engine.Status   `json:"status"`
	Tokens     []string        `json:"tokens,omitempty"`
	Best       *candidateJSON  `json:"best,omitempty"`
	Candidates []candidateJSON `json:"candidates,omitempty"`
}

type candidateJSON struct {
	RecordID  int64   `json:"record_id"`
	ClusterID int64   `json:"cluster_id"`
	Text      string  `json:"text"`
	Score     float64 `json:"score"`
}

type clusterResponse struct {
	ClusterID int64        `json:"cluster_id"`
	Size      int          `json:"size"`
	Members   []memberJSON `json:"members"`
}

type memberJSON struct {
	RecordID int64  `json:"record_id"`
	Text     string `json:"text"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:  "ok",
		Records: len(s.prime.Records),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	sum := s.prime.Summarize()
	resp := statsResponse{
		TotalRecords:   sum.TotalRecords,
		Clustered:      sum.ClusteredRecords,
		Unclustered:    sum.UnclusteredRecords,
		Clusters:       sum.Clusters,
		LargestCluster: sum.LargestCluster,
		AvgClusterSize: sum.AvgClusterSize,
		Threshold:      s.engine.Threshold(),
	}
	if s.prime.Index != nil {
		resp.DistinctTokens = len(s.prime.Index.DistinctTokens())
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleMatch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		writeError(w, http.StatusBadRequest, "missing query parameter q")
		return
	}

	limit := 5
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid limit %q", raw))
			return
		}
		limit = n
	}

	m := s.engine.MatchText(s.prime, query, limit)
	resp := matchResponse{
		Query:  query,
		Status: m.Status,
		Tokens: m.Tokens,
	}
	if m.Best != nil {
		resp.Best = &candidateJSON{
			RecordID:  m.Best.RecordID,
			ClusterID: m.Best.ClusterID,
			Text:      m.Best.Text,
			Score:     m.Best.Score,
		}
	}
	for _, c := range m.Candidates {
		resp.Candidates = append(resp.Candidates, candidateJSON{
			RecordID:  c.RecordID,
			ClusterID: c.ClusterID,
			Text:      c.Text,
			Score:     c.Score,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCluster(w http.ResponseWriter, r *http.Request) {
	raw := mux.Vars(r)["id"]
	cid, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid cluster id %q", raw))
		return
	}

	members := s.prime.ClusterMembers(cid)
	if len(members) == 0 {
		writeError(w, http.StatusNotFound, fmt.Sprintf("cluster %d not found", cid))
		return
	}

	resp := clusterResponse{ClusterID: cid, Size: len(members)}
	for _, rec := range members {
		resp.Members = append(resp.Members, memberJSON{RecordID: rec.ID, Text: rec.Text})
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		fmt.Printf("Failed to encode response: %v\n", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
