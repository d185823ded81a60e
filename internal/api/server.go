// Package api exposes the simulation over HTTP: state and telemetry reads
// for the renderer, commands and live tuning writes, and the stored race
// rankings.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/trackside-labs/linesim/internal/control"
	"github.com/trackside-labs/linesim/internal/db"
	"github.com/trackside-labs/linesim/internal/sim"
	"github.com/trackside-labs/linesim/internal/track"
	"github.com/trackside-labs/linesim/internal/units"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

type Server struct {
	engine *sim.Engine
	store  *db.DB
	units  string
}

// NewServer wires the engine and the results store. store may be nil when
// persistence is disabled; ranking requests then fail with 503.
func NewServer(engine *sim.Engine, store *db.DB, speedUnits string) *Server {
	return &Server{
		engine: engine,
		store:  store,
		units:  speedUnits,
	}
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
	mux.HandleFunc("/api/state", s.showState)
	mux.HandleFunc("/api/track", s.showTrack)
	mux.HandleFunc("/api/telemetry", s.showTelemetry)
	mux.HandleFunc("/api/laps", s.listLaps)
	mux.HandleFunc("/api/rankings", s.listRankings)
	mux.HandleFunc("/api/config", s.showConfig)
	mux.HandleFunc("/api/command", s.sendCommandHandler)
	mux.HandleFunc("/api/gains", s.handleGains)
	mux.HandleFunc("/api/gains/scale", s.scaleGainHandler)
	return mux
}

func (s *Server) writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// convertSnapshotSpeeds applies unit conversion to the speed fields of a
// snapshot. The engine works in cm/s.
func (s *Server) convertSnapshotSpeeds(snap sim.Snapshot) sim.Snapshot {
	snap.LinearVel = units.ConvertSpeed(snap.LinearVel, s.units)
	snap.VelLeft = units.ConvertSpeed(snap.VelLeft, s.units)
	snap.VelRight = units.ConvertSpeed(snap.VelRight, s.units)
	snap.BaseSpeed = units.ConvertSpeed(snap.BaseSpeed, s.units)
	return snap
}

func (s *Server) showState(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	snap := s.convertSnapshotSpeeds(s.engine.Snapshot())
	if err := json.NewEncoder(w).Encode(snap); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write state")
		return
	}
}

type trackResponse struct {
	Points      []track.TrackPoint `json:"points"`
	LineWidth   float64            `json:"line_width"`
	TotalLength float64            `json:"total_length"`
	StartLineA  track.Point        `json:"start_line_a"`
	StartLineB  track.Point        `json:"start_line_b"`
}

func (s *Server) showTrack(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	trk := s.engine.Track()
	a, b := trk.StartLine()
	resp := trackResponse{
		Points:      trk.Points,
		LineWidth:   trk.LineWidth,
		TotalLength: trk.TotalLength,
		StartLineA:  a,
		StartLineB:  b,
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write track")
		return
	}
}

func (s *Server) showTelemetry(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	if err := json.NewEncoder(w).Encode(s.engine.Telemetry()); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write telemetry")
		return
	}
}

func (s *Server) listLaps(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	if err := json.NewEncoder(w).Encode(s.engine.LapRecords()); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write laps")
		return
	}
}

func (s *Server) listRankings(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if s.store == nil {
		s.writeJSONError(w, http.StatusServiceUnavailable, "Persistence disabled")
		return
	}

	limit := 20 // default value
	if l := r.URL.Query().Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed < 1 {
			s.writeJSONError(w, http.StatusBadRequest, "Invalid 'limit' parameter")
			return
		}
		limit = parsed
	}

	rankings, err := s.store.Rankings(limit)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError,
			fmt.Sprintf("Failed to retrieve rankings: %v", err))
		return
	}

	if err := json.NewEncoder(w).Encode(rankings); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write rankings")
		return
	}
}

func (s *Server) showConfig(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	config := map[string]interface{}{
		"units":      s.units,
		"mode":       s.engine.Mode(),
		"gains":      s.engine.Gains(),
		"base_speed": s.engine.BaseSpeed(),
	}

	if err := json.NewEncoder(w).Encode(config); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write config")
		return
	}
}

func (s *Server) sendCommandHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	command := r.FormValue("command")
	switch command {
	case "start":
		s.engine.Start()
	case "pause":
		s.engine.Pause()
	case "resume":
		s.engine.Resume()
	case "stop":
		s.engine.Stop()
	case "reset":
		s.engine.Reset()
	case "mode":
		if err := s.engine.SetMode(sim.Mode(r.FormValue("mode"))); err != nil {
			http.Error(w, fmt.Sprintf("Failed to set mode: %v", err), http.StatusBadRequest)
			return
		}
	default:
		http.Error(w, fmt.Sprintf("Unknown command %q", command), http.StatusBadRequest)
		return
	}
	io.WriteString(w, "Command sent successfully")
}

func (s *Server) handleGains(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	switch r.Method {
	case http.MethodGet:
		if err := json.NewEncoder(w).Encode(s.engine.Gains()); err != nil {
			s.writeJSONError(w, http.StatusInternalServerError, "Failed to write gains")
		}
	case http.MethodPost:
		var gains control.Gains
		if err := json.NewDecoder(r.Body).Decode(&gains); err != nil {
			s.writeJSONError(w, http.StatusBadRequest, "Invalid gains payload")
			return
		}
		if err := s.engine.SetGains(gains); err != nil {
			s.writeGainsError(w, err)
			return
		}
		json.NewEncoder(w).Encode(s.engine.Gains())
	default:
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

type scaleGainRequest struct {
	Gain   string  `json:"gain"`
	Factor float64 `json:"factor"`
}

// scaleGainHandler accepts the instruction shape tuning tools issue:
// multiply one named gain by a factor.
func (s *Server) scaleGainHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodPost {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req scaleGainRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, "Invalid scale payload")
		return
	}
	if req.Factor <= 0 {
		s.writeJSONError(w, http.StatusBadRequest, "Factor must be positive")
		return
	}

	if err := s.engine.ScaleGain(req.Gain, req.Factor); err != nil {
		if errors.Is(err, sim.ErrGainsLocked) {
			s.writeGainsError(w, err)
		} else {
			s.writeJSONError(w, http.StatusBadRequest, err.Error())
		}
		return
	}
	json.NewEncoder(w).Encode(s.engine.Gains())
}

// writeGainsError maps locked-adjustment failures to 409 so clients can tell
// "try later" apart from a malformed request.
func (s *Server) writeGainsError(w http.ResponseWriter, err error) {
	if errors.Is(err, sim.ErrGainsLocked) {
		s.writeJSONError(w, http.StatusConflict, err.Error())
		return
	}
	s.writeJSONError(w, http.StatusBadRequest, err.Error())
}
