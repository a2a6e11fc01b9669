package posedb

import (
	"path/filepath"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/slamframe/internal/slam"
	"github.com/banshee-data/slamframe/internal/slam/geom"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "slam.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

// poseDatabaseContract exercises the behaviour the controller relies on.
func poseDatabaseContract(t *testing.T, store slam.PoseDatabase) {
	pose := geom.NewPose(r3.Vec{Z: 1}, 0.3, r3.Vec{X: 1, Y: 2, Z: 3})

	require.NoError(t, store.StorePose(4, pose))
	got, err := store.RetrievePose(4)
	require.NoError(t, err)
	assert.True(t, geom.ApproxEqual(pose, got, 1e-12), "got %v", got)

	moved := pose.Compose(geom.Translate(r3.Vec{X: 1}))
	require.NoError(t, store.StorePose(4, moved))
	got, err = store.RetrievePose(4)
	require.NoError(t, err)
	assert.True(t, geom.ApproxEqual(moved, got, 1e-12), "replace: got %v", got)

	_, err = store.RetrievePose(5)
	assert.ErrorIs(t, err, ErrKeyframeNotFound)

	assert.Error(t, store.StorePose(slam.NoKeyframe, pose))
}

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore()
	poseDatabaseContract(t, s)
	assert.Equal(t, 1, s.Len())
}

func TestSQLiteStore(t *testing.T) {
	db := openTestDB(t)
	s := NewSQLiteStore(db.DB, "scene-a")
	poseDatabaseContract(t, s)

	n, err := s.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSQLiteStoreScopesByScene(t *testing.T) {
	db := openTestDB(t)
	a := NewSQLiteStore(db.DB, "a")
	b := NewSQLiteStore(db.DB, "b")

	require.NoError(t, a.StorePose(0, geom.Translate(r3.Vec{X: 1})))
	_, err := b.RetrievePose(0)
	assert.ErrorIs(t, err, ErrKeyframeNotFound)

	require.NoError(t, a.DeleteScene())
	_, err = a.RetrievePose(0)
	assert.ErrorIs(t, err, ErrKeyframeNotFound)
}

func TestSQLiteStorePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "slam.db")
	db, err := Open(path)
	require.NoError(t, err)
	pose := geom.Translate(r3.Vec{X: 0.5, Y: -1})
	require.NoError(t, NewSQLiteStore(db.DB, "s").StorePose(2, pose))
	require.NoError(t, db.Close())

	db, err = Open(path)
	require.NoError(t, err)
	defer db.Close()
	got, err := NewSQLiteStore(db.DB, "s").RetrievePose(2)
	require.NoError(t, err)
	assert.Equal(t, pose, got)
}

func TestOpenAppliesEmbeddedMigrations(t *testing.T) {
	db := openTestDB(t)
	version, dirty, err := db.MigrateVersion(Migrations())
	require.NoError(t, err)
	assert.False(t, dirty)
	assert.Equal(t, uint(2), version)

	// Re-applying is a no-op.
	require.NoError(t, db.MigrateUp(Migrations()))
}

func TestMigrateUpCustomFS(t *testing.T) {
	db := openTestDB(t)
	extra := fstest.MapFS{
		"000001_keyframe_poses.up.sql":   &fstest.MapFile{Data: []byte("SELECT 1;")},
		"000001_keyframe_poses.down.sql": &fstest.MapFile{Data: []byte("SELECT 1;")},
		"000002_frame_log.up.sql":        &fstest.MapFile{Data: []byte("SELECT 1;")},
		"000002_frame_log.down.sql":      &fstest.MapFile{Data: []byte("SELECT 1;")},
		"000003_notes.up.sql":            &fstest.MapFile{Data: []byte("CREATE TABLE notes (id INTEGER PRIMARY KEY);")},
		"000003_notes.down.sql":          &fstest.MapFile{Data: []byte("DROP TABLE notes;")},
	}
	require.NoError(t, db.MigrateUp(extra))
	version, _, err := db.MigrateVersion(extra)
	require.NoError(t, err)
	assert.Equal(t, uint(3), version)

	_, err = db.Exec(`INSERT INTO notes (id) VALUES (1)`)
	assert.NoError(t, err)
}

func TestFrameLogStore(t *testing.T) {
	db := openTestDB(t)
	logs := NewFrameLogStore(db.DB)
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, logs.StartRun(Run{RunID: "run-1", SceneID: "s", FailureMode: "relocalise", StartedAt: start}))

	reports := []slam.FrameReport{
		{
			SceneID: "s", FrameIndex: 0, Timestamp: start,
			RawResult: slam.TrackingGood, EffectiveResult: slam.TrackingGood,
			KeyframeID: 0, NearestNeighbour: slam.NoKeyframe, ConsideredKeyframe: true,
			Action: slam.ActionStoreKeyframe, FusionPermitted: true, Outcome: slam.OutcomeFused,
			FusedFramesCount: 1, FusionEnabled: true, Pose: geom.Identity(),
		},
		{
			SceneID: "s", FrameIndex: 1, Timestamp: start.Add(33 * time.Millisecond), Tracked: true,
			RawResult: slam.TrackingFailed, EffectiveResult: slam.TrackingGood,
			KeyframeID: slam.NoKeyframe, NearestNeighbour: 0,
			Action: slam.ActionRecover, FusionPermitted: true, Outcome: slam.OutcomeFused,
			FusedFramesCount: 2, KeyframeDelay: 10, FusionEnabled: true,
			Pose: geom.Translate(r3.Vec{X: 0.1}),
		},
	}
	for _, r := range reports {
		require.NoError(t, logs.RecordFrame("run-1", r))
	}
	require.NoError(t, logs.FinishRun("run-1", start.Add(time.Second), 2, 2))

	got, err := logs.ListFrames("run-1", 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	for i := range reports {
		want := reports[i]
		assert.True(t, want.Timestamp.Equal(got[i].Timestamp))
		got[i].Timestamp = want.Timestamp
		assert.Equal(t, want, got[i])
	}

	limited, err := logs.ListFrames("run-1", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	run, err := logs.GetRun("run-1")
	require.NoError(t, err)
	assert.Equal(t, 2, run.FramesProcessed)
	require.NotNil(t, run.FinishedAt)
	assert.True(t, run.FinishedAt.Equal(start.Add(time.Second)))

	assert.Error(t, logs.FinishRun("missing", start, 0, 0))
	_, err = logs.GetRun("missing")
	assert.Error(t, err)
}

func TestStats(t *testing.T) {
	db := openTestDB(t)
	store := NewSQLiteStore(db.DB, "office")
	require.NoError(t, store.StorePose(0, geom.Identity()))
	require.NoError(t, store.StorePose(1, geom.Identity()))

	stats, err := db.Stats()
	require.NoError(t, err)
	counts := map[string]int64{}
	for _, s := range stats {
		counts[s.Name] = s.Rows
	}
	assert.Equal(t, int64(2), counts["keyframe_poses"])
	assert.Contains(t, counts, "frame_log")
	assert.Contains(t, counts, "slam_runs")
	assert.Contains(t, counts, "schema_migrations")
}
