package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/slamframe/internal/config"
	"github.com/banshee-data/slamframe/internal/slam"
	"github.com/banshee-data/slamframe/internal/slam/mapping"
	"github.com/banshee-data/slamframe/internal/slam/posedb"
	"github.com/banshee-data/slamframe/internal/slam/reloc"
	"github.com/banshee-data/slamframe/internal/slam/tracking"
	"github.com/banshee-data/slamframe/internal/slam/view"
	"github.com/banshee-data/slamframe/internal/timeutil"
)

// DefaultMaxConsecutiveErrors ends a session whose collaborators keep failing.
const DefaultMaxConsecutiveErrors = 10

// Spec describes one scene to add to a Manager.
type Spec struct {
	SceneID string
	Source  slam.FrameSource
	// Feed supplies poses to trajectory trackers.
	Feed tracking.PoseFeed
	// Config overrides the manager settings for this scene.
	Config *config.SLAMConfig

	// Intrinsics and DepthScale override the configured camera when set.
	Intrinsics *slam.Intrinsics
	DepthScale float64
	// RelocGridWidth and RelocGridHeight override the relocaliser grid.
	// Sources smaller than the default grid need this.
	RelocGridWidth  int
	RelocGridHeight int
}

// Options control how a Manager stores and paces its sessions.
type Options struct {
	// DB, when set, stores keyframe poses in sqlite and records every frame
	// in the frame log. Otherwise poses are held in memory.
	DB *posedb.DB
	// SnapshotDir holds one relocaliser snapshot per scene. Snapshots are
	// loaded on Add and written when a session finishes. Requires DB, since
	// a snapshot is useless without the poses its keyframes refer to.
	SnapshotDir string
	// FrameInterval paces each session to at most one frame per interval.
	FrameInterval time.Duration
	// MaxConcurrent bounds the sessions RunAll drives at once. Zero means
	// no limit.
	MaxConcurrent int
	// MaxConsecutiveErrors defaults to DefaultMaxConsecutiveErrors.
	MaxConsecutiveErrors int
	Clock                timeutil.Clock
	// Observers receive every frame report of every session.
	Observers []slam.FrameObserver
}

// Session is one scene being reconstructed.
type Session struct {
	RunID      string
	SceneID    string
	Controller *slam.Controller
	// Relocaliser is nil unless the failure mode is relocalise.
	Relocaliser *reloc.FernRelocaliser
	Scene       *mapping.Scene
	Render      *mapping.RenderState

	config    *config.SLAMConfig
	startedAt time.Time
	exhausted atomic.Bool

	mu      sync.Mutex
	errors  int
	lastErr error
}

// Config returns the settings the session was built with.
func (s *Session) Config() *config.SLAMConfig { return s.config }

// StartedAt returns when the session was added.
func (s *Session) StartedAt() time.Time { return s.startedAt }

// Exhausted reports whether the session's frame source has run dry.
func (s *Session) Exhausted() bool { return s.exhausted.Load() }

// Errors returns the number of dropped frames and the last error.
func (s *Session) Errors() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errors, s.lastErr
}

func (s *Session) recordError(err error) {
	s.mu.Lock()
	s.errors++
	s.lastErr = err
	s.mu.Unlock()
}

// Manager owns the sessions of one process.
type Manager struct {
	ctx      *Context
	opts     Options
	clock    timeutil.Clock
	frameLog *posedb.FrameLogStore

	mu       sync.RWMutex
	sessions map[string]*Session
	order    []string
}

// NewManager returns a manager with no sessions. A nil settings uses the
// defaults.
func NewManager(settings *config.SLAMConfig, opts Options) *Manager {
	m := &Manager{
		ctx:      NewContext(settings),
		opts:     opts,
		clock:    opts.Clock,
		sessions: make(map[string]*Session),
	}
	if m.clock == nil {
		m.clock = timeutil.RealClock{}
	}
	if m.opts.MaxConsecutiveErrors <= 0 {
		m.opts.MaxConsecutiveErrors = DefaultMaxConsecutiveErrors
	}
	if opts.DB != nil {
		m.frameLog = posedb.NewFrameLogStore(opts.DB.DB)
	}
	return m
}

// Context returns the per-scene state arena.
func (m *Manager) Context() *Context { return m.ctx }

// FrameLog returns the frame log, or nil when the manager has no database.
func (m *Manager) FrameLog() *posedb.FrameLogStore { return m.frameLog }

// Add builds the collaborators for a scene and binds a controller to a
// fresh slot in the arena. Unavailable tracker types fail here.
func (m *Manager) Add(spec Spec) (*Session, error) {
	if spec.SceneID == "" || strings.ContainsAny(spec.SceneID, `/\`) {
		return nil, fmt.Errorf("invalid scene id %q", spec.SceneID)
	}
	if spec.Source == nil {
		return nil, fmt.Errorf("scene %s: %w: frame source", spec.SceneID, slam.ErrMissingCollaborator)
	}
	if m.opts.SnapshotDir != "" && m.opts.DB == nil {
		return nil, errors.New("relocaliser snapshots need a pose database")
	}
	cfg := spec.Config
	if cfg == nil {
		cfg = m.ctx.Settings()
	}

	trackerType, err := tracking.ParseTrackerType(cfg.GetTrackerType())
	if err != nil {
		return nil, fmt.Errorf("scene %s: %w", spec.SceneID, err)
	}
	params, err := tracking.ParseParams(cfg.GetTrackerParams())
	if err != nil {
		return nil, fmt.Errorf("scene %s: %w", spec.SceneID, err)
	}
	tracker, err := tracking.New(trackerType, params, tracking.Deps{Feed: spec.Feed})
	if err != nil {
		return nil, fmt.Errorf("scene %s: %w", spec.SceneID, err)
	}

	intr := cfg.GetIntrinsics()
	if spec.Intrinsics != nil {
		intr = *spec.Intrinsics
	}
	depthScale := cfg.GetDepthScale()
	if spec.DepthScale > 0 {
		depthScale = spec.DepthScale
	}
	builder, err := view.NewBuilder(depthScale, intr)
	if err != nil {
		return nil, fmt.Errorf("scene %s: %w", spec.SceneID, err)
	}

	ctrlCfg := cfg.ControllerConfig()
	ctrlCfg.Source = spec.Source
	ctrlCfg.ViewBuilder = builder
	ctrlCfg.Tracker = tracker
	ctrlCfg.Mapper = mapping.NewMapper(cfg.GetViewFrustumMin(), cfg.GetViewFrustumMax())
	ctrlCfg.Clock = m.clock

	var relocaliser *reloc.FernRelocaliser
	if ctrlCfg.FailureMode == slam.FailureModeRelocalise {
		relocaliser, err = m.newRelocaliser(spec, cfg)
		if err != nil {
			return nil, fmt.Errorf("scene %s: %w", spec.SceneID, err)
		}
		ctrlCfg.Relocaliser = relocaliser
		if m.opts.DB != nil {
			ctrlCfg.PoseDatabase = posedb.NewSQLiteStore(m.opts.DB.DB, spec.SceneID)
		} else {
			ctrlCfg.PoseDatabase = posedb.NewMemoryStore()
		}
	}

	s := &Session{
		RunID:       uuid.NewString(),
		SceneID:     spec.SceneID,
		Relocaliser: relocaliser,
		config:      cfg,
		startedAt:   m.clock.Now(),
	}
	ctrlCfg.Observer = m.observer(s)

	state, err := m.ctx.AddScene(spec.SceneID, cfg.GetVoxelSize())
	if err != nil {
		return nil, err
	}
	ctrl, err := slam.NewController(state, ctrlCfg)
	if err != nil {
		m.ctx.removeScene(spec.SceneID)
		return nil, fmt.Errorf("scene %s: %w", spec.SceneID, err)
	}
	s.Controller = ctrl
	s.Scene = state.Scene.(*mapping.Scene)
	s.Render = state.Render.(*mapping.RenderState)

	if m.frameLog != nil {
		err := m.frameLog.StartRun(posedb.Run{
			RunID:       s.RunID,
			SceneID:     s.SceneID,
			FailureMode: ctrlCfg.FailureMode.String(),
			StartedAt:   s.startedAt,
		})
		if err != nil {
			m.ctx.removeScene(spec.SceneID)
			return nil, fmt.Errorf("scene %s: %w", spec.SceneID, err)
		}
	}

	m.mu.Lock()
	m.sessions[s.SceneID] = s
	m.order = append(m.order, s.SceneID)
	m.mu.Unlock()

	diagf("[%s] session added: run=%s tracker=%s failure_mode=%s", s.SceneID, s.RunID, trackerType, ctrlCfg.FailureMode)
	return s, nil
}

func (m *Manager) newRelocaliser(spec Spec, cfg *config.SLAMConfig) (*reloc.FernRelocaliser, error) {
	rc := reloc.DefaultConfig()
	rc.NumFerns = cfg.GetNumFerns()
	rc.NumDecisionsPerFern = cfg.GetNumDecisionsPerFern()
	rc.HarvestingThreshold = cfg.GetHarvestingThreshold()
	rc.FrustumMin = float32(cfg.GetViewFrustumMin())
	rc.FrustumMax = float32(cfg.GetViewFrustumMax())
	rc.Seed = cfg.GetSeed()
	if spec.RelocGridWidth > 0 && spec.RelocGridHeight > 0 {
		rc.GridWidth, rc.GridHeight = spec.RelocGridWidth, spec.RelocGridHeight
	}
	r, err := reloc.New(rc)
	if err != nil {
		return nil, err
	}
	if m.opts.SnapshotDir == "" {
		return r, nil
	}

	f, err := os.Open(m.snapshotPath(spec.SceneID))
	if errors.Is(err, os.ErrNotExist) {
		return r, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open relocaliser snapshot: %w", err)
	}
	defer f.Close()
	if err := r.Load(f); err != nil {
		return nil, fmt.Errorf("load relocaliser snapshot %s: %w", f.Name(), err)
	}
	diagf("[%s] relocaliser snapshot loaded: %d keyframes", spec.SceneID, r.Len())
	return r, nil
}

func (m *Manager) snapshotPath(sceneID string) string {
	return filepath.Join(m.opts.SnapshotDir, sceneID+".reloc")
}

func (m *Manager) observer(s *Session) slam.FrameObserver {
	observers := append([]slam.FrameObserver(nil), m.opts.Observers...)
	frameLog := m.frameLog
	return func(r slam.FrameReport) {
		if frameLog != nil {
			if err := frameLog.RecordFrame(s.RunID, r); err != nil {
				opsf("[%s] frame %d: record frame log: %v", s.SceneID, r.FrameIndex, err)
			}
		}
		for _, o := range observers {
			o(r)
		}
	}
}

// Session returns the session for a scene id.
func (m *Manager) Session(sceneID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sceneID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSceneNotFound, sceneID)
	}
	return s, nil
}

// Sessions returns every session in the order they were added.
func (m *Manager) Sessions() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Session, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.sessions[id])
	}
	return out
}

// SetFusionEnabled forwards to the scene's controller.
func (m *Manager) SetFusionEnabled(sceneID string, enabled bool) error {
	s, err := m.Session(sceneID)
	if err != nil {
		return err
	}
	s.Controller.SetFusionEnabled(enabled)
	return nil
}

// RunAll drives every session to exhaustion, one goroutine per session.
// Sessions are independent: one failing does not stop the others. The
// first session error is returned once all have finished.
func (m *Manager) RunAll(ctx context.Context) error {
	var g errgroup.Group
	if m.opts.MaxConcurrent > 0 {
		g.SetLimit(m.opts.MaxConcurrent)
	}
	for _, s := range m.Sessions() {
		g.Go(func() error {
			return m.run(ctx, s)
		})
	}
	return g.Wait()
}

// run processes frames until the source is exhausted, ctx is done, or the
// session has failed MaxConsecutiveErrors frames in a row.
func (m *Manager) run(ctx context.Context, s *Session) (err error) {
	defer func() {
		if ferr := m.finish(s); ferr != nil {
			err = errors.Join(err, ferr)
		}
	}()

	var tick <-chan time.Time
	if m.opts.FrameInterval > 0 {
		t := m.clock.NewTicker(m.opts.FrameInterval)
		defer t.Stop()
		tick = t.C()
	}

	consecutive := 0
	for {
		if tick != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-tick:
				tracef("[%s] tick", s.SceneID)
			}
		} else if err := ctx.Err(); err != nil {
			return err
		}

		ok, err := s.Controller.Run()
		if err != nil {
			s.recordError(err)
			consecutive++
			opsf("[%s] frame dropped (%d in a row): %v", s.SceneID, consecutive, err)
			if consecutive >= m.opts.MaxConsecutiveErrors {
				return fmt.Errorf("scene %s: %d consecutive frame errors: %w", s.SceneID, consecutive, err)
			}
			continue
		}
		consecutive = 0
		if !ok {
			s.exhausted.Store(true)
			st := s.Controller.Status()
			diagf("[%s] source exhausted after %d frames, %d fused", s.SceneID, st.FramesProcessed, st.FusedFramesCount)
			return nil
		}
	}
}

func (m *Manager) finish(s *Session) error {
	var errs []error
	if m.frameLog != nil {
		st := s.Controller.Status()
		if err := m.frameLog.FinishRun(s.RunID, m.clock.Now(), st.FramesProcessed, st.FusedFramesCount); err != nil {
			errs = append(errs, fmt.Errorf("scene %s: finish run: %w", s.SceneID, err))
		}
	}
	if m.opts.SnapshotDir != "" && s.Relocaliser != nil {
		if err := m.saveSnapshot(s); err != nil {
			opsf("[%s] %v", s.SceneID, err)
			errs = append(errs, fmt.Errorf("scene %s: %w", s.SceneID, err))
		}
	}
	return errors.Join(errs...)
}

// saveSnapshot writes through a temporary file so a crash never leaves a
// truncated snapshot behind.
func (m *Manager) saveSnapshot(s *Session) error {
	if err := os.MkdirAll(m.opts.SnapshotDir, 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}
	tmp, err := os.CreateTemp(m.opts.SnapshotDir, s.SceneID+".reloc.*")
	if err != nil {
		return fmt.Errorf("create snapshot: %w", err)
	}
	defer os.Remove(tmp.Name())
	if err := s.Relocaliser.Save(tmp); err != nil {
		tmp.Close()
		return fmt.Errorf("save relocaliser snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), m.snapshotPath(s.SceneID)); err != nil {
		return fmt.Errorf("install snapshot: %w", err)
	}
	diagf("[%s] relocaliser snapshot saved: %d keyframes", s.SceneID, s.Relocaliser.Len())
	return nil
}
