package source

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
)

// FeedFile is the pose feed name ExportSynthetic writes next to the frames.
const FeedFile = "poses.txt"

// ExportSynthetic renders every frame of cfg into dir as a directory
// sequence and writes its ground-truth pose feed to dir/FeedFile. It returns
// the feed path.
func ExportSynthetic(dir string, cfg SyntheticConfig) (string, error) {
	src, err := NewSyntheticSource(cfg)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create sequence dir: %w", err)
	}
	for i := 0; src.HasMoreImages(); i++ {
		rgb, depth, err := src.Images()
		if err != nil {
			return "", err
		}
		if err := WritePair(dir, i, rgb, depth); err != nil {
			return "", err
		}
	}

	feedPath := filepath.Join(dir, FeedFile)
	f, err := os.Create(feedPath)
	if err != nil {
		return "", fmt.Errorf("create pose feed: %w", err)
	}
	w := bufio.NewWriter(f)
	fmt.Fprintln(w, "# frame tx ty tz qx qy qz qw [inlier_ratio rmse_m]...")
	for i := 0; i < cfg.Frames; i++ {
		sample, ok := src.Sample(i)
		if !ok {
			continue
		}
		// The synthetic camera only translates.
		t := sample.Pose.Translation()
		fmt.Fprintf(w, "%d %g %g %g 0 0 0 1", i, t.X, t.Y, t.Z)
		for _, r := range sample.Attempts {
			fmt.Fprintf(w, " %g %g", r.InlierRatio, r.RMSEMeters)
		}
		fmt.Fprintln(w)
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return "", fmt.Errorf("write pose feed: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close pose feed: %w", err)
	}
	return feedPath, nil
}
