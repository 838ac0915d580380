// Package httpapi exposes the node's HTTP control surface: the MJPEG
// preview stream and still endpoint, job setup/trigger/reset/list/
// results, media download, and system health/role routes.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/wigglecam/node/internal/config"
	"github.com/wigglecam/node/internal/engine"
	"github.com/wigglecam/node/internal/image"
	"github.com/wigglecam/node/internal/jobqueue"
	"github.com/wigglecam/node/internal/media"
	"github.com/wigglecam/node/pkg/health"
)

// ErrPreviewNotEnabled is returned by the stream route when
// Config.PreviewEnabled is false. Mapped to HTTP 405. The still route
// does not check PreviewEnabled.
var ErrPreviewNotEnabled = errors.New("httpapi: preview not enabled")

// Logger is the minimal logging surface the server needs.
type Logger interface {
	Debug(msg string, kv ...any)
	Info(msg string, kv ...any)
	Warn(msg string, kv ...any)
	Error(msg string, kv ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Engine is the subset of engine.Engine the HTTP layer needs.
type Engine interface {
	Status() engine.Status
	PreviewFrame(ctx context.Context, timeout time.Duration) ([]byte, error)
}

// JobQueue is the subset of jobqueue.Queue the HTTP layer needs.
type JobQueue interface {
	SetupJobRequest(req jobqueue.JobRequest) (jobqueue.JobItem, error)
	Trigger()
	Reset()
	List() []jobqueue.JobItem
	Get(id string) (jobqueue.JobItem, error)
}

// Config configures the HTTP server.
type Config struct {
	ListenAddr     string
	PreviewEnabled bool
	IsPrimary      bool
	Image          config.ImageProcessing
}

// NetClock is the subset of netclock.Checker the health route needs.
type NetClock interface {
	Healthy() bool
}

// Server is the HTTP control-surface listener.
type Server struct {
	cfg     Config
	engine  Engine
	queue   JobQueue
	media   *media.Store
	clock   NetClock
	imgProc *image.Processor
	log     Logger
	httpSrv *http.Server
	mux     *http.ServeMux
}

// NewServer wires the route table against engine, queue, and store.
// clock may be nil, in which case the net-clock check is skipped. When
// cfg.Image requests resize/quality adjustment, still and stream
// frames are passed through an image.Processor before being written;
// persisted originals are never touched by this.
func NewServer(cfg Config, eng Engine, queue JobQueue, store *media.Store, log Logger) *Server {
	if log == nil {
		log = noopLogger{}
	}
	s := &Server{cfg: cfg, engine: eng, queue: queue, media: store, log: log}
	if cfg.Image.NeedsProcessing() {
		imgCfg := cfg.Image
		s.imgProc = image.NewProcessor(&imgCfg)
	}
	s.mux = http.NewServeMux()
	s.setupRoutes()
	return s
}

// processFrame applies the configured preview resize/quality
// adjustment, if any. A processing failure falls back to the
// unmodified frame rather than failing the request.
func (s *Server) processFrame(frame []byte) []byte {
	if s.imgProc == nil {
		return frame
	}
	processed, err := s.imgProc.Process(frame)
	if err != nil {
		s.log.Warn("preview image processing failed, serving original", "error", err)
		return frame
	}
	return processed
}

// WithNetClock attaches the net-clock checker backing the health
// route's netclock_healthy field. Optional; omit to always report true.
func (s *Server) WithNetClock(c NetClock) *Server {
	s.clock = c
	return s
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/api/camera/stream.mjpg", s.handleStream)
	s.mux.HandleFunc("/api/camera/still", s.handleStill)
	s.mux.HandleFunc("/api/job/setup", s.handleJobSetup)
	s.mux.HandleFunc("/api/job/trigger", s.handleJobTrigger)
	s.mux.HandleFunc("/api/job/reset", s.handleJobReset)
	s.mux.HandleFunc("/api/job/list", s.handleJobList)
	s.mux.HandleFunc("/api/job/results/", s.handleJobResults)
	s.mux.HandleFunc("/api/media/", s.handleMediaDownload)
	s.mux.HandleFunc("/api/system/is_healthy", health.Handler(s.healthStatus))
	s.mux.HandleFunc("/api/system/is_primary", s.handleIsPrimary)
}

// GetMux returns the underlying mux, mainly for tests.
func (s *Server) GetMux() *http.ServeMux { return s.mux }

// Start begins serving. It returns once the listener is up; errors
// from Serve itself are logged asynchronously.
func (s *Server) Start() error {
	s.httpSrv = &http.Server{
		Addr:    s.cfg.ListenAddr,
		Handler: s.mux,
	}
	ln, err := listen(s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.ListenAddr, err)
	}
	go func() {
		if err := s.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("http server stopped", "error", err)
		}
	}()
	return nil
}

// Stop gracefully shuts the listener down.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
