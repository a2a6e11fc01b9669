package source

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/slamframe/internal/slam/tracking"
)

func TestExportSynthetic(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "office")
	cfg := DefaultSyntheticConfig(5)
	cfg.FailedFrames = map[int]bool{2: true}
	cfg.DropoutFrames = map[int]bool{3: true}

	feedPath, err := ExportSynthetic(dir, cfg)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, FeedFile), feedPath)

	src, err := NewDirectorySource(dir)
	require.NoError(t, err)
	assert.Equal(t, 5, src.Len())
	assert.Equal(t, 5, drain(t, src))

	feed, err := tracking.LoadPoseFeed(feedPath)
	require.NoError(t, err)
	assert.Len(t, feed, 4)
	_, ok := feed.Sample(3)
	assert.False(t, ok, "dropout frames have no sample")

	s, ok := feed.Sample(2)
	require.True(t, ok)
	assert.Len(t, s.Attempts, 2)

	s, ok = feed.Sample(4)
	require.True(t, ok)
	assert.InDelta(t, 4*cfg.Step, s.Pose.Translation().X, 1e-9)
	assert.Empty(t, s.Attempts)
}

func TestExportSyntheticRejectsBadConfig(t *testing.T) {
	_, err := ExportSynthetic(t.TempDir(), SyntheticConfig{})
	assert.Error(t, err)
}
