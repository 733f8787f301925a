package api

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/omixlabs/seqdesk/internal/metrics"
)

type chatRequest struct {
	SessionID string `json:"session_id,omitempty"`
	Message   string `json:"message"`
}

type chatResponse struct {
	SessionID  string `json:"session_id"`
	Reply      string `json:"reply"`
	ChartFile  string `json:"chart_file,omitempty"`
	ReportFile string `json:"report_file,omitempty"`
	Degraded   bool   `json:"degraded"`
	Rounds     int    `json:"rounds"`
}

type resetRequest struct {
	SessionID string `json:"session_id"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		s.writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	sess := s.cfg.Sessions.GetOrCreate(req.SessionID)

	turn, err := s.cfg.Agent.Ask(r.Context(), sess, req.Message, nil)
	if err != nil {
		s.log.Error("chat turn failed", "session_id", sess.ID, "error", err)
		metrics.ObserveTurn(metrics.TurnOutcomeFailed, 0)
		s.writeError(w, http.StatusInternalServerError, "the question could not be answered, please try again")
		return
	}

	outcome := metrics.TurnOutcomeCompleted
	if turn.Degraded {
		outcome = metrics.TurnOutcomeDegraded
	}
	metrics.ObserveTurn(outcome, turn.Rounds)

	s.writeJSON(w, http.StatusOK, chatResponse{
		SessionID:  sess.ID,
		Reply:      turn.Reply,
		ChartFile:  turn.ChartFile,
		ReportFile: turn.ReportFile,
		Degraded:   turn.Degraded,
		Rounds:     turn.Rounds,
	})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SessionID == "" {
		s.writeError(w, http.StatusBadRequest, "session_id is required")
		return
	}

	sess, ok := s.cfg.Sessions.Get(req.SessionID)
	if !ok {
		s.writeError(w, http.StatusNotFound, "unknown session")
		return
	}

	s.cfg.Agent.Reset(sess)
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSchema(w http.ResponseWriter, r *http.Request) {
	schemas, err := s.cfg.Store.DescribeSchema(r.Context())
	if err != nil {
		s.log.Error("schema introspection failed", "error", err)
		s.writeError(w, http.StatusServiceUnavailable, "study database unavailable")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"tables": schemas})
}

func (s *Server) handlePlot(w http.ResponseWriter, r *http.Request) {
	s.serveArtifact(w, r, s.cfg.PlotsDir)
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	s.serveArtifact(w, r, s.cfg.ReportsDir)
}

// serveArtifact serves one file from dir. Names are bare filenames as
// produced by the renderer and exporter; anything path-like is rejected.
func (s *Server) serveArtifact(w http.ResponseWriter, r *http.Request, dir string) {
	name := chi.URLParam(r, "name")
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		s.writeError(w, http.StatusBadRequest, "invalid artifact name")
		return
	}

	path := filepath.Join(dir, name)
	if _, err := os.Stat(path); err != nil {
		s.writeError(w, http.StatusNotFound, "artifact not found")
		return
	}
	http.ServeFile(w, r, path)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ok\n")); err != nil {
		s.log.Error("failed to write healthz response", "error", err)
	}
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if err := s.cfg.Store.Ping(r.Context()); err != nil {
		s.log.Debug("readyz: store not ready", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		if _, err := w.Write([]byte("study database not ready\n")); err != nil {
			s.log.Error("failed to write readyz response", "error", err)
		}
		return
	}
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ok\n")); err != nil {
		s.log.Error("failed to write readyz response", "error", err)
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.log.Error("failed to write response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, errorResponse{Error: msg})
}
