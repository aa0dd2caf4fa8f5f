package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/fleetglass/courier.track/internal/dispatch"
	"github.com/fleetglass/courier.track/internal/timeutil"
	"github.com/fleetglass/courier.track/internal/wire"
)

var apiStart = time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)

func fptr(v float64) *float64 { return &v }

func newTestServer(t *testing.T) (*dispatch.Service, *httptest.Server, *timeutil.FakeClock) {
	t.Helper()
	clock := timeutil.NewFakeClock(apiStart)
	svc := dispatch.NewService(dispatch.DefaultConfig(), clock)
	srv := httptest.NewServer(NewServer(svc, "kmph").ServeMux())
	t.Cleanup(srv.Close)
	return svc, srv, clock
}

func getJSON(t *testing.T, url string, wantStatus int, out any) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != wantStatus {
		t.Fatalf("GET %s status = %d, want %d", url, resp.StatusCode, wantStatus)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decoding %s: %v", url, err)
		}
	}
}

func TestListAgents(t *testing.T) {
	svc, srv, _ := newTestServer(t)

	var empty []agentSummary
	getJSON(t, srv.URL+"/api/agents", http.StatusOK, &empty)
	if len(empty) != 0 {
		t.Fatalf("agent list before any fix = %v", empty)
	}

	for _, id := range []string{"courier-2", "courier-1"} {
		if err := svc.HandleFix(wire.Fix{AgentID: id, Lat: 19.1890, Lng: 72.8398, Timestamp: apiStart}); err != nil {
			t.Fatalf("HandleFix %s: %v", id, err)
		}
	}

	var agents []agentSummary
	getJSON(t, srv.URL+"/api/agents", http.StatusOK, &agents)
	if len(agents) != 2 {
		t.Fatalf("agent count = %d, want 2", len(agents))
	}
	if agents[0].AgentID != "courier-1" || agents[1].AgentID != "courier-2" {
		t.Fatalf("agents not sorted: %v", agents)
	}
	if agents[0].State != "tracking" {
		t.Fatalf("agent state = %q, want tracking", agents[0].State)
	}
}

func TestShowPosition(t *testing.T) {
	svc, srv, _ := newTestServer(t)

	getJSON(t, srv.URL+"/api/agents/nobody/position", http.StatusNotFound, nil)

	if err := svc.HandleFix(wire.Fix{
		AgentID: "courier-1", Lat: 19.1890, Lng: 72.8398, SpeedKmh: fptr(30), Timestamp: apiStart,
	}); err != nil {
		t.Fatalf("HandleFix: %v", err)
	}

	var pos positionResponse
	getJSON(t, srv.URL+"/api/agents/courier-1/position", http.StatusOK, &pos)
	if pos.AgentID != "courier-1" || pos.Lat != 19.1890 || pos.Lng != 72.8398 {
		t.Fatalf("position = %+v", pos)
	}
	if pos.SpeedUnits != "kmph" {
		t.Fatalf("speed units = %q, want kmph", pos.SpeedUnits)
	}
	if pos.Stale {
		t.Fatal("fresh position flagged stale")
	}
}

func TestShowPositionConvertsUnits(t *testing.T) {
	clock := timeutil.NewFakeClock(apiStart)
	svc := dispatch.NewService(dispatch.DefaultConfig(), clock)
	srv := httptest.NewServer(NewServer(svc, "mph").ServeMux())
	defer srv.Close()

	if err := svc.HandleFix(wire.Fix{AgentID: "c", Lat: 19.1890, Lng: 72.8398, Timestamp: apiStart}); err != nil {
		t.Fatalf("HandleFix: %v", err)
	}
	clock.Advance(5 * time.Second)
	if err := svc.HandleFix(wire.Fix{
		AgentID: "c", Lat: 19.1890, Lng: 72.8398, SpeedKmh: fptr(30), HeadingDeg: fptr(90),
		Timestamp: apiStart.Add(5 * time.Second),
	}); err != nil {
		t.Fatalf("HandleFix: %v", err)
	}

	var pos positionResponse
	getJSON(t, srv.URL+"/api/agents/c/position", http.StatusOK, &pos)
	if pos.SpeedUnits != "mph" {
		t.Fatalf("speed units = %q, want mph", pos.SpeedUnits)
	}
	// The reported number must be miles per hour, well below the same value
	// expressed in km/h.
	if pos.Speed <= 0 || pos.Speed > 25 {
		t.Fatalf("speed = %v mph, want a converted value under 25", pos.Speed)
	}
}

func TestShowPrediction(t *testing.T) {
	svc, srv, clock := newTestServer(t)

	if err := svc.HandleFix(wire.Fix{AgentID: "c", Lat: 19.1890, Lng: 72.8398, Timestamp: apiStart}); err != nil {
		t.Fatalf("HandleFix: %v", err)
	}
	clock.Advance(5 * time.Second)
	if err := svc.HandleFix(wire.Fix{
		AgentID: "c", Lat: 19.18945, Lng: 72.8398, SpeedKmh: fptr(36), HeadingDeg: fptr(0),
		Timestamp: apiStart.Add(5 * time.Second),
	}); err != nil {
		t.Fatalf("HandleFix: %v", err)
	}

	var pred predictionResponse
	getJSON(t, srv.URL+"/api/agents/c/predict?seconds=10", http.StatusOK, &pred)
	if pred.SecondsAhead != 10 {
		t.Fatalf("seconds ahead = %v, want 10", pred.SecondsAhead)
	}
	// Heading north: the prediction sits further north than the last fix.
	if pred.Lat <= 19.18945 {
		t.Fatalf("prediction lat = %v, want north of 19.18945", pred.Lat)
	}

	getJSON(t, srv.URL+"/api/agents/c/predict?seconds=bogus", http.StatusBadRequest, nil)
	getJSON(t, srv.URL+"/api/agents/c/predict?seconds=-3", http.StatusBadRequest, nil)

	// Default horizon applies when the parameter is omitted.
	getJSON(t, srv.URL+"/api/agents/c/predict", http.StatusOK, &pred)
	if pred.SecondsAhead != 5 {
		t.Fatalf("default seconds ahead = %v, want 5", pred.SecondsAhead)
	}
}

func TestShowStatsAndServiceStats(t *testing.T) {
	svc, srv, _ := newTestServer(t)

	getJSON(t, srv.URL+"/api/agents/nobody/stats", http.StatusNotFound, nil)

	if err := svc.HandleFix(wire.Fix{AgentID: "c", Lat: 19.1890, Lng: 72.8398, Timestamp: apiStart}); err != nil {
		t.Fatalf("HandleFix: %v", err)
	}

	var stats struct {
		State       string `json:"state"`
		UpdateCount int    `json:"update_count"`
	}
	getJSON(t, srv.URL+"/api/agents/c/stats", http.StatusOK, &stats)
	if stats.State != "tracking" || stats.UpdateCount != 1 {
		t.Fatalf("stats = %+v", stats)
	}

	var svcStats serviceStats
	getJSON(t, srv.URL+"/api/stats", http.StatusOK, &svcStats)
	if svcStats.Agents != 1 {
		t.Fatalf("service stats agents = %d, want 1", svcStats.Agents)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	_, srv, _ := newTestServer(t)

	resp, err := http.Post(srv.URL+"/api/agents", "application/json", nil)
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("POST /api/agents status = %d, want 405", resp.StatusCode)
	}
}

func TestHealthz(t *testing.T) {
	_, srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status = %d, want 200", resp.StatusCode)
	}
}
