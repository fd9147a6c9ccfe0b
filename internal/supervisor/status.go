package supervisor

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"
)

// statusResponse is the JSON document served at /status: the read-only
// state observable plus the caution-cycle counters.
type statusResponse struct {
	State         string     `json:"state"`
	TotalCautions int        `json:"total_cautions"`
	LastCaution   *time.Time `json:"last_caution,omitempty"`
	LapAtTrigger  int        `json:"lap_at_trigger"`
}

// StatusHandler returns an http.Handler exposing the supervisor's state
// and counters as JSON. Read-only: there is deliberately no mutating
// endpoint here; control signals stay in-process.
func (s *Supervisor) StatusHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c := s.Counters()
		resp := statusResponse{
			State:         s.State().String(),
			TotalCautions: c.TotalCautions,
			LapAtTrigger:  c.LapAtTrigger,
		}
		if !c.LastCaution.IsZero() {
			resp.LastCaution = &c.LastCaution
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			slog.Error("error writing status response", "component", "supervisor", "err", err)
		}
	})
}
