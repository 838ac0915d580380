package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/wigglecam/node/internal/jobqueue"
	"github.com/wigglecam/node/pkg/health"
)

const previewFrameTimeout = time.Second

// handleStream serves /api/camera/stream.mjpg: every concurrent reader
// is handed the same already-encoded preview frame for a given tick
// (broadcast), not an independent per-client encode, since all readers
// are watching the same physical sensor at the same instant.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if !s.cfg.PreviewEnabled {
		http.Error(w, ErrPreviewNotEnabled.Error(), http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		frame, err := s.engine.PreviewFrame(ctx, previewFrameTimeout)
		if err != nil {
			s.log.Warn("stream: preview frame unavailable", "error", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		frame = s.processFrame(frame)

		header := fmt.Sprintf("--frame\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", len(frame))
		if _, err := w.Write([]byte(header)); err != nil {
			return
		}
		if _, err := w.Write(frame); err != nil {
			return
		}
		if _, err := w.Write([]byte("\r\n\r\n")); err != nil {
			return
		}
		flusher.Flush()

		select {
		case <-ctx.Done():
			return
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// handleStill serves /api/camera/still: a single current preview frame.
func (s *Server) handleStill(w http.ResponseWriter, r *http.Request) {
	frame, err := s.engine.PreviewFrame(r.Context(), previewFrameTimeout)
	if err != nil {
		s.log.Error("still: preview frame unavailable", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	frame = s.processFrame(frame)
	w.Header().Set("Content-Type", "image/jpeg")
	w.Write(frame)
}

type jobSetupRequest struct {
	NumberCaptures int `json:"number_captures"`
}

// handleJobSetup serves POST /api/job/setup.
func (s *Server) handleJobSetup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req jobSetupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	item, err := s.queue.SetupJobRequest(jobqueue.JobRequest{NumberCaptures: req.NumberCaptures})
	if err != nil {
		http.Error(w, err.Error(), http.StatusTooManyRequests)
		return
	}

	writeJSON(w, http.StatusOK, item)
}

// handleJobTrigger serves GET /api/job/trigger.
func (s *Server) handleJobTrigger(w http.ResponseWriter, r *http.Request) {
	s.queue.Trigger()
	w.WriteHeader(http.StatusOK)
}

// handleJobReset serves GET /api/job/reset.
func (s *Server) handleJobReset(w http.ResponseWriter, r *http.Request) {
	s.queue.Reset()
	w.WriteHeader(http.StatusOK)
}

// handleJobList serves GET /api/job/list.
func (s *Server) handleJobList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.queue.List())
}

// handleJobResults serves GET /api/job/results/{id}.
func (s *Server) handleJobResults(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/job/results/")
	if id == "" {
		http.NotFound(w, r)
		return
	}
	item, err := s.queue.Get(id)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// handleMediaDownload serves GET /api/media/{id}/download.
func (s *Server) handleMediaDownload(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/media/")
	id, action, ok := strings.Cut(rest, "/")
	if !ok || action != "download" || id == "" {
		http.NotFound(w, r)
		return
	}

	path, err := s.media.Open(id)
	if err != nil {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", id+".jpg"))
	http.ServeFile(w, r, path)
}

// healthStatus builds the health.Status snapshot backing is_healthy.
func (s *Server) healthStatus() health.Status {
	eng := s.engine.Status()
	netclockOK := true
	if s.clock != nil {
		netclockOK = s.clock.Healthy()
	}

	healthy := eng.ClockValid && eng.CameraAlive && netclockOK
	status := "unhealthy"
	if healthy {
		status = "healthy"
	}

	return health.Status{
		Status:      status,
		Timestamp:   time.Now(),
		EngineState: eng.State.String(),
		ClockValid:  eng.ClockValid,
		CameraAlive: eng.CameraAlive,
		NetClockOK:  netclockOK,
	}
}

// handleIsPrimary serves GET /api/system/is_primary.
func (s *Server) handleIsPrimary(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"primary": s.cfg.IsPrimary})
}
