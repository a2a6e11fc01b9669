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

// SQLiteStore is a pose database for one scene backed by the keyframe_poses table.
type SQLiteStore struct {
	db      *sql.DB
	sceneID string
	now     func() time.Time
}

// NewSQLiteStore returns a store scoped to sceneID.
func NewSQLiteStore(db *sql.DB, sceneID string) *SQLiteStore {
	return &SQLiteStore{db: db, sceneID: sceneID, now: time.Now}
}

// StorePose upserts the pose for a keyframe.
func (s *SQLiteStore) StorePose(id slam.KeyframeID, pose geom.Pose) error {
	if !id.Valid() {
		return fmt.Errorf("store pose: invalid keyframe id %d", id)
	}
	poseJSON, err := json.Marshal(pose.M)
	if err != nil {
		return fmt.Errorf("marshal pose: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO keyframe_poses (scene_id, keyframe_id, pose_json, stored_unix_nanos)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(scene_id, keyframe_id) DO UPDATE SET
			pose_json = excluded.pose_json,
			stored_unix_nanos = excluded.stored_unix_nanos`,
		s.sceneID, int(id), string(poseJSON), s.now().UnixNano())
	if err != nil {
		return fmt.Errorf("insert keyframe pose: %w", err)
	}
	return nil
}

// RetrievePose returns the pose stored for a keyframe.
func (s *SQLiteStore) RetrievePose(id slam.KeyframeID) (geom.Pose, error) {
	var poseJSON string
	err := s.db.QueryRow(`
		SELECT pose_json FROM keyframe_poses
		WHERE scene_id = ? AND keyframe_id = ?`,
		s.sceneID, int(id)).Scan(&poseJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return geom.Pose{}, fmt.Errorf("keyframe %d: %w", id, ErrKeyframeNotFound)
	}
	if err != nil {
		return geom.Pose{}, fmt.Errorf("query keyframe pose: %w", err)
	}
	var pose geom.Pose
	if err := json.Unmarshal([]byte(poseJSON), &pose.M); err != nil {
		return geom.Pose{}, fmt.Errorf("unmarshal pose for keyframe %d: %w", id, err)
	}
	return pose, nil
}

// Count returns the number of keyframes stored for the scene.
func (s *SQLiteStore) Count() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM keyframe_poses WHERE scene_id = ?`, s.sceneID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count keyframe poses: %w", err)
	}
	return n, nil
}

// DeleteScene removes every keyframe pose stored for the scene.
func (s *SQLiteStore) DeleteScene() error {
	if _, err := s.db.Exec(`DELETE FROM keyframe_poses WHERE scene_id = ?`, s.sceneID); err != nil {
		return fmt.Errorf("delete keyframe poses: %w", err)
	}
	return nil
}
