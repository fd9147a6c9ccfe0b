package metrics

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMetrics_Scrape(t *testing.T) {
	m := New()
	m.IncDetectionEvents("stopped", 2)
	m.IncDetectionEvents("off-track", 1)
	m.IncCautions()
	m.IncTripsSuppressed()

	updated := false
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	m.Handler(func() {
		updated = true
		m.SetSupervisorState(5)
	}).ServeHTTP(rec, req)

	assert.True(t, updated)
	assert.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `racecontrol_detection_events_total{type="stopped"} 2`)
	assert.Contains(t, body, `racecontrol_detection_events_total{type="off-track"} 1`)
	assert.Contains(t, body, "racecontrol_cautions_total 1")
	assert.Contains(t, body, "racecontrol_trips_suppressed_total 1")
	assert.Contains(t, body, "racecontrol_supervisor_state 5")
}
