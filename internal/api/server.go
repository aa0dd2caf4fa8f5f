// Package api serves the HTTP query surface: current positions, short-term
// predictions and per-track statistics for every agent the distribution
// service knows about.
package api

import (
	"log"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/fleetglass/courier.track/internal/dispatch"
	"github.com/fleetglass/courier.track/internal/httputil"
	"github.com/fleetglass/courier.track/internal/track"
	"github.com/fleetglass/courier.track/internal/units"
	"github.com/fleetglass/courier.track/internal/version"
)

// ANSI escape codes for request log coloring
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

type Server struct {
	svc   *dispatch.Service
	units string
}

// NewServer wraps a distribution service. Speeds are reported in the given
// units; anything unrecognised falls back to km/h.
func NewServer(svc *dispatch.Service, speedUnits string) *Server {
	if !units.IsValid(speedUnits) {
		speedUnits = units.KMPH
	}
	return &Server{svc: svc, units: speedUnits}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/agents", s.listAgents)
	mux.HandleFunc("/api/agents/{id}/position", s.showPosition)
	mux.HandleFunc("/api/agents/{id}/predict", s.showPrediction)
	mux.HandleFunc("/api/agents/{id}/stats", s.showStats)
	mux.HandleFunc("/api/stats", s.showServiceStats)
	mux.HandleFunc("/healthz", s.healthz)
	return mux
}

// agentSummary is one row in the agent listing.
type agentSummary struct {
	AgentID     string      `json:"agent_id"`
	State       track.State `json:"state"`
	Subscribers int         `json:"subscribers"`
}

func (s *Server) listAgents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	ids := s.svc.AgentIDs()
	sort.Strings(ids)

	summaries := make([]agentSummary, 0, len(ids))
	for _, id := range ids {
		ctrl, ok := s.svc.Agent(id)
		if !ok {
			continue
		}
		summaries = append(summaries, agentSummary{
			AgentID:     id,
			State:       ctrl.State(),
			Subscribers: s.svc.SubscriberCount(id),
		})
	}
	httputil.WriteJSONOK(w, summaries)
}

// positionResponse reports a smoothed estimate with the speed converted to
// the server's configured units.
type positionResponse struct {
	AgentID         string  `json:"agent_id"`
	Lat             float64 `json:"lat"`
	Lng             float64 `json:"lng"`
	Speed           float64 `json:"speed"`
	SpeedUnits      string  `json:"speed_units"`
	HeadingDeg      float64 `json:"heading_deg"`
	Confidence      float64 `json:"confidence"`
	SecondsSinceFix float64 `json:"seconds_since_fix"`
	Stale           bool    `json:"stale"`
}

func (s *Server) showPosition(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	agentID := r.PathValue("id")
	ctrl, ok := s.svc.Agent(agentID)
	if !ok {
		httputil.NotFound(w, "unknown agent: "+agentID)
		return
	}
	pos, ok := ctrl.CurrentPosition()
	if !ok {
		httputil.NotFound(w, "no position yet for agent: "+agentID)
		return
	}

	httputil.WriteJSONOK(w, positionResponse{
		AgentID:         agentID,
		Lat:             pos.Position.Lat,
		Lng:             pos.Position.Lng,
		Speed:           units.FromKmh(pos.Velocity.SpeedKmh, s.units),
		SpeedUnits:      s.units,
		HeadingDeg:      pos.HeadingDeg,
		Confidence:      pos.Confidence,
		SecondsSinceFix: pos.SecondsSinceFix,
		Stale:           pos.Stale,
	})
}

type predictionResponse struct {
	AgentID      string  `json:"agent_id"`
	SecondsAhead float64 `json:"seconds_ahead"`
	Lat          float64 `json:"lat"`
	Lng          float64 `json:"lng"`
}

func (s *Server) showPrediction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	seconds := 5.0
	if raw := r.URL.Query().Get("seconds"); raw != "" {
		parsed, err := strconv.ParseFloat(raw, 64)
		if err != nil || parsed < 0 {
			httputil.BadRequest(w, "invalid seconds parameter: "+raw)
			return
		}
		seconds = parsed
	}

	agentID := r.PathValue("id")
	ctrl, ok := s.svc.Agent(agentID)
	if !ok {
		httputil.NotFound(w, "unknown agent: "+agentID)
		return
	}
	coord, ok := ctrl.PredictAhead(seconds)
	if !ok {
		httputil.NotFound(w, "no position yet for agent: "+agentID)
		return
	}

	httputil.WriteJSONOK(w, predictionResponse{
		AgentID:      agentID,
		SecondsAhead: seconds,
		Lat:          coord.Lat,
		Lng:          coord.Lng,
	})
}

func (s *Server) showStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	agentID := r.PathValue("id")
	ctrl, ok := s.svc.Agent(agentID)
	if !ok {
		httputil.NotFound(w, "unknown agent: "+agentID)
		return
	}
	httputil.WriteJSONOK(w, ctrl.Stats())
}

type serviceStats struct {
	Version       string `json:"version"`
	Agents        int    `json:"agents"`
	DroppedFrames uint64 `json:"dropped_frames"`
}

func (s *Server) showServiceStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, serviceStats{
		Version:       version.Version,
		Agents:        len(s.svc.AgentIDs()),
		DroppedFrames: s.svc.DroppedFrames(),
	})
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	w.Write([]byte("ok"))
}
