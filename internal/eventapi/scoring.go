package eventapi

import (
	"encoding/json"
	"net/http"

	"github.com/linnemanlabs/signalos/internal/features"
	"github.com/linnemanlabs/signalos/internal/scoring"
)

type scoringDebugResponse struct {
	Score   float64             `json:"score"`
	Explain scoring.Explanation `json:"explain"`
}

// handleScoringDebug scores a caller-supplied feature vector without storing anything.
func (a *API) handleScoringDebug(w http.ResponseWriter, r *http.Request) {
	var v features.Vector
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		http.Error(w, `{"error":"invalid payload"}`, http.StatusBadRequest)
		return
	}

	score, explain := a.svc.Score(v)
	writeJSON(w, http.StatusOK, scoringDebugResponse{Score: score, Explain: explain})
}
