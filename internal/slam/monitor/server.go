// Package monitor serves live SLAM session status over HTTP and gRPC.
package monitor

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/banshee-data/slamframe/internal/httputil"
	"github.com/banshee-data/slamframe/internal/slam"
	"github.com/banshee-data/slamframe/internal/slam/posedb"
	"github.com/banshee-data/slamframe/internal/slam/report"
	"github.com/banshee-data/slamframe/internal/slam/session"
	"github.com/banshee-data/slamframe/internal/timeutil"
	"github.com/banshee-data/slamframe/internal/version"
)

// Options are the optional collaborators of a Server.
type Options struct {
	// Recorder enables the timeline, trajectory and summary endpoints.
	Recorder *report.Recorder
	// DB enables the frame log endpoint and the SQL debugger.
	DB    *posedb.DB
	Clock timeutil.Clock
}

// Server exposes the sessions of a session.Manager.
type Server struct {
	manager  *session.Manager
	recorder *report.Recorder
	db       *posedb.DB
	clock    timeutil.Clock
	health   *health.Server

	mu     sync.Mutex
	served map[string]healthpb.HealthCheckResponse_ServingStatus
}

// NewServer returns a server for m with health already evaluated.
func NewServer(m *session.Manager, opts Options) *Server {
	s := &Server{
		manager:  m,
		recorder: opts.Recorder,
		db:       opts.DB,
		clock:    opts.Clock,
		health:   health.NewServer(),
		served:   make(map[string]healthpb.HealthCheckResponse_ServingStatus),
	}
	if s.clock == nil {
		s.clock = timeutil.RealClock{}
	}
	s.Refresh()
	return s
}

// SessionStatus is the JSON view of one session.
type SessionStatus struct {
	slam.Status
	RunID         string    `json:"run_id"`
	StartedAt     time.Time `json:"started_at"`
	Exhausted     bool      `json:"exhausted"`
	DroppedFrames int       `json:"dropped_frames"`
	LastError     string    `json:"last_error,omitempty"`
	VoxelCount    int       `json:"voxel_count"`
	BlockCount    int       `json:"block_count"`
	VisibleBlocks int       `json:"visible_blocks"`
	Keyframes     int       `json:"keyframes"`
}

func statusOf(sess *session.Session) SessionStatus {
	st := SessionStatus{
		Status:        sess.Controller.Status(),
		RunID:         sess.RunID,
		StartedAt:     sess.StartedAt(),
		Exhausted:     sess.Exhausted(),
		VoxelCount:    sess.Scene.VoxelCount(),
		BlockCount:    sess.Scene.BlockCount(),
		VisibleBlocks: sess.Render.VisibleBlockCount(),
	}
	n, err := sess.Errors()
	st.DroppedFrames = n
	if err != nil {
		st.LastError = err.Error()
	}
	if sess.Relocaliser != nil {
		st.Keyframes = sess.Relocaliser.Len()
	}
	return st
}

// Statuses returns the status of every session in the order they were added.
func (s *Server) Statuses() []SessionStatus {
	sessions := s.manager.Sessions()
	out := make([]SessionStatus, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, statusOf(sess))
	}
	return out
}

// Refresh updates the gRPC health status: a scene is SERVING until its
// source is exhausted. The overall service ("") is SERVING while any scene
// still has frames.
func (s *Server) Refresh() {
	s.mu.Lock()
	defer s.mu.Unlock()

	overall := healthpb.HealthCheckResponse_NOT_SERVING
	for _, sess := range s.manager.Sessions() {
		want := healthpb.HealthCheckResponse_SERVING
		if sess.Exhausted() {
			want = healthpb.HealthCheckResponse_NOT_SERVING
		} else {
			overall = healthpb.HealthCheckResponse_SERVING
		}
		s.setLocked(sess.SceneID, want)
	}
	s.setLocked("", overall)
}

func (s *Server) setLocked(service string, status healthpb.HealthCheckResponse_ServingStatus) {
	if prev, ok := s.served[service]; ok && prev == status {
		return
	}
	s.served[service] = status
	s.health.SetServingStatus(service, status)
	diagf("health %q: %v", service, status)
}

// Watch calls Refresh every interval until ctx is done.
func (s *Server) Watch(ctx context.Context, interval time.Duration) {
	t := s.clock.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C():
			s.Refresh()
		}
	}
}

// Shutdown marks every service NOT_SERVING.
func (s *Server) Shutdown() {
	s.health.Shutdown()
}

// ServeMux returns the HTTP API.
func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", traced(s.handleHealth))
	mux.HandleFunc("/api/slam/sessions", traced(s.handleSessions))
	mux.HandleFunc("/api/slam/fusion", traced(s.handleFusion))
	mux.HandleFunc("/api/slam/frames", traced(s.handleFrames))
	mux.HandleFunc("/api/slam/summary", traced(s.handleSummary))
	mux.HandleFunc("/api/slam/timeline", traced(s.handleTimeline))
	mux.HandleFunc("/api/slam/trajectory.png", traced(s.handleTrajectory))
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	active := 0
	sessions := s.manager.Sessions()
	for _, sess := range sessions {
		if !sess.Exhausted() {
			active++
		}
	}
	httputil.WriteJSONOK(w, map[string]any{
		"status":          "ok",
		"version":         version.String(),
		"sessions":        len(sessions),
		"active_sessions": active,
		"timestamp":       s.clock.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if scene := r.URL.Query().Get("scene"); scene != "" {
		sess, err := s.manager.Session(scene)
		if err != nil {
			httputil.NotFound(w, err.Error())
			return
		}
		httputil.WriteJSONOK(w, statusOf(sess))
		return
	}
	httputil.WriteJSONOK(w, s.Statuses())
}

// handleFusion toggles fusion for a scene: POST /api/slam/fusion?scene=a&enabled=false
func (s *Server) handleFusion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	scene := r.FormValue("scene")
	if scene == "" {
		httputil.BadRequest(w, "scene is required")
		return
	}
	enabled, err := strconv.ParseBool(r.FormValue("enabled"))
	if err != nil {
		httputil.BadRequest(w, "enabled must be a boolean")
		return
	}
	sess, err := s.manager.Session(scene)
	if err != nil {
		httputil.NotFound(w, err.Error())
		return
	}
	sess.Controller.SetFusionEnabled(enabled)
	opsf("fusion for scene %s set to %v via API", scene, enabled)
	httputil.WriteJSONOK(w, statusOf(sess))
}

func (s *Server) handleFrames(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	logs := s.manager.FrameLog()
	if logs == nil {
		httputil.NotFound(w, "frame log not enabled")
		return
	}
	sess, err := s.manager.Session(r.URL.Query().Get("scene"))
	if err != nil {
		httputil.NotFound(w, err.Error())
		return
	}
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err = strconv.Atoi(v)
		if err != nil || limit < 0 {
			httputil.BadRequest(w, "limit must be a non-negative integer")
			return
		}
	}
	frames, err := logs.ListFrames(sess.RunID, limit)
	if err != nil {
		opsf("list frames for run %s: %v", sess.RunID, err)
		httputil.InternalServerError(w, "failed to list frames")
		return
	}
	httputil.WriteJSONOK(w, map[string]any{"run_id": sess.RunID, "frames": frames})
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.recorder == nil {
		httputil.NotFound(w, "recorder not enabled")
		return
	}
	out := make([]report.Summary, 0)
	for _, id := range s.recorder.Scenes() {
		out = append(out, s.recorder.Summarise(id))
	}
	httputil.WriteJSONOK(w, out)
}

func (s *Server) handleTimeline(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.recorder == nil {
		httputil.NotFound(w, "recorder not enabled")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.recorder.WriteTimelineHTML(w); err != nil {
		opsf("render timeline: %v", err)
	}
}

func (s *Server) handleTrajectory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.recorder == nil {
		httputil.NotFound(w, "recorder not enabled")
		return
	}
	scene := r.URL.Query().Get("scene")
	reports := s.recorder.Reports(scene)
	if len(reports) == 0 {
		httputil.NotFound(w, "no frames recorded for scene")
		return
	}
	w.Header().Set("Content-Type", "image/png")
	if err := report.WriteTrajectoryPNG(w, scene, reports); err != nil {
		opsf("render trajectory for %s: %v", scene, err)
	}
}
