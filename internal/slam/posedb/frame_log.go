package posedb

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/banshee-data/slamframe/internal/slam"
	"github.com/banshee-data/slamframe/internal/slam/geom"
)

// Run is one execution of a session over its frame source.
type Run struct {
	RunID           string
	SceneID         string
	FailureMode     string
	StartedAt       time.Time
	FinishedAt      *time.Time
	FramesProcessed int
	FusedFrames     int
}

// FrameLogStore persists runs and their per-frame reports.
type FrameLogStore struct {
	db *sql.DB
}

// NewFrameLogStore returns a FrameLogStore over db.
func NewFrameLogStore(db *sql.DB) *FrameLogStore {
	return &FrameLogStore{db: db}
}

// StartRun records the start of a run.
func (s *FrameLogStore) StartRun(run Run) error {
	_, err := s.db.Exec(`
		INSERT INTO slam_runs (run_id, scene_id, failure_mode, started_unix_nanos)
		VALUES (?, ?, ?, ?)`,
		run.RunID, run.SceneID, run.FailureMode, run.StartedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// FinishRun records the final counters of a run.
func (s *FrameLogStore) FinishRun(runID string, finishedAt time.Time, framesProcessed, fusedFrames int) error {
	res, err := s.db.Exec(`
		UPDATE slam_runs
		SET finished_unix_nanos = ?, frames_processed = ?, fused_frames = ?
		WHERE run_id = ?`,
		finishedAt.UnixNano(), framesProcessed, fusedFrames, runID)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update run %s: %w", runID, sql.ErrNoRows)
	}
	return nil
}

// GetRun returns a run by id.
func (s *FrameLogStore) GetRun(runID string) (*Run, error) {
	var (
		run      Run
		started  int64
		finished sql.NullInt64
	)
	err := s.db.QueryRow(`
		SELECT run_id, scene_id, failure_mode, started_unix_nanos, finished_unix_nanos,
		       frames_processed, fused_frames
		FROM slam_runs WHERE run_id = ?`, runID).Scan(
		&run.RunID, &run.SceneID, &run.FailureMode, &started, &finished,
		&run.FramesProcessed, &run.FusedFrames)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("run %s not found: %w", runID, err)
		}
		return nil, fmt.Errorf("query run: %w", err)
	}
	run.StartedAt = time.Unix(0, started)
	if finished.Valid {
		t := time.Unix(0, finished.Int64)
		run.FinishedAt = &t
	}
	return &run, nil
}

// RecordFrame appends one frame report to a run's log.
func (s *FrameLogStore) RecordFrame(runID string, r slam.FrameReport) error {
	poseJSON, err := json.Marshal(r.Pose.M)
	if err != nil {
		return fmt.Errorf("marshal pose: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO frame_log (
			run_id, scene_id, frame_index, ts_unix_nanos, tracked, raw_result,
			effective_result, tracker_lost, considered_keyframe, keyframe_id,
			nearest_neighbour, action, fusion_permitted, outcome, fused_frames_count,
			keyframe_delay, fusion_enabled, pose_json
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, r.SceneID, r.FrameIndex, r.Timestamp.UnixNano(), r.Tracked, r.RawResult.String(),
		r.EffectiveResult.String(), r.TrackerLost, r.ConsideredKeyframe, int(r.KeyframeID),
		int(r.NearestNeighbour), r.Action.String(), r.FusionPermitted, r.Outcome.String(), r.FusedFramesCount, r.KeyframeDelay,
		r.FusionEnabled, string(poseJSON))
	if err != nil {
		return fmt.Errorf("insert frame log: %w", err)
	}
	return nil
}

// ListFrames returns a run's frame reports in frame order. limit <= 0 returns all.
func (s *FrameLogStore) ListFrames(runID string, limit int) ([]slam.FrameReport, error) {
	query := `
		SELECT scene_id, frame_index, ts_unix_nanos, tracked, raw_result, effective_result,
		       tracker_lost, considered_keyframe, keyframe_id, nearest_neighbour, action,
		       fusion_permitted, outcome, fused_frames_count, keyframe_delay, fusion_enabled, pose_json
		FROM frame_log WHERE run_id = ? ORDER BY frame_index`
	args := []any{runID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query frame log: %w", err)
	}
	defer rows.Close()

	var out []slam.FrameReport
	for rows.Next() {
		var (
			r                   slam.FrameReport
			ts                  int64
			raw, eff, act, outc string
			keyframe, nearest   int
			poseJSON            string
		)
		if err := rows.Scan(&r.SceneID, &r.FrameIndex, &ts, &r.Tracked, &raw, &eff,
			&r.TrackerLost, &r.ConsideredKeyframe, &keyframe, &nearest, &act,
			&r.FusionPermitted, &outc, &r.FusedFramesCount, &r.KeyframeDelay, &r.FusionEnabled, &poseJSON); err != nil {
			return nil, fmt.Errorf("scan frame log: %w", err)
		}
		r.Timestamp = time.Unix(0, ts)
		r.KeyframeID = slam.KeyframeID(keyframe)
		r.NearestNeighbour = slam.KeyframeID(nearest)
		if err := r.RawResult.UnmarshalText([]byte(raw)); err != nil {
			return nil, err
		}
		if err := r.EffectiveResult.UnmarshalText([]byte(eff)); err != nil {
			return nil, err
		}
		if err := r.Action.UnmarshalText([]byte(act)); err != nil {
			return nil, err
		}
		if err := r.Outcome.UnmarshalText([]byte(outc)); err != nil {
			return nil, err
		}
		var pose geom.Pose
		if err := json.Unmarshal([]byte(poseJSON), &pose.M); err != nil {
			return nil, fmt.Errorf("unmarshal pose: %w", err)
		}
		r.Pose = pose
		out = append(out, r)
	}
	return out, rows.Err()
}
