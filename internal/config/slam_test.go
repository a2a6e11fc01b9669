package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/banshee-data/slamframe/internal/slam"
)

func TestDefaultSLAMConfig(t *testing.T) {
	cfg := DefaultSLAMConfig()

	if cfg.FailureMode == nil || *cfg.FailureMode != "relocalise" {
		t.Errorf("Expected FailureMode 'relocalise', got %v", cfg.FailureMode)
	}
	if cfg.InitialFramesToFuse == nil || *cfg.InitialFramesToFuse != 50 {
		t.Errorf("Expected InitialFramesToFuse 50, got %v", cfg.InitialFramesToFuse)
	}
	if cfg.KeyframeDelayFrames == nil || *cfg.KeyframeDelayFrames != 10 {
		t.Errorf("Expected KeyframeDelayFrames 10, got %v", cfg.KeyframeDelayFrames)
	}
	if cfg.NumFerns == nil || *cfg.NumFerns != 500 {
		t.Errorf("Expected NumFerns 500, got %v", cfg.NumFerns)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate, got %v", err)
	}
	if cfg.GetFailureMode() != slam.FailureModeRelocalise {
		t.Errorf("GetFailureMode() = %v, want relocalise", cfg.GetFailureMode())
	}
	if cfg.GetHarvestingThreshold() != 0.2 {
		t.Errorf("GetHarvestingThreshold() = %f, want 0.2", cfg.GetHarvestingThreshold())
	}
	if cfg.GetUseBilateralFilter() {
		t.Errorf("GetUseBilateralFilter() = true, want false")
	}
}

func TestEmptyConfigGettersMatchDefaults(t *testing.T) {
	empty := EmptySLAMConfig()
	def := DefaultSLAMConfig()

	if empty.GetFailureMode() != def.GetFailureMode() {
		t.Errorf("failure mode: %v != %v", empty.GetFailureMode(), def.GetFailureMode())
	}
	if empty.GetInitialFramesToFuse() != def.GetInitialFramesToFuse() {
		t.Errorf("initial frames: %d != %d", empty.GetInitialFramesToFuse(), def.GetInitialFramesToFuse())
	}
	if empty.GetKeyframeDelayFrames() != def.GetKeyframeDelayFrames() {
		t.Errorf("keyframe delay: %d != %d", empty.GetKeyframeDelayFrames(), def.GetKeyframeDelayFrames())
	}
	if empty.GetTrackerType() != def.GetTrackerType() {
		t.Errorf("tracker type: %q != %q", empty.GetTrackerType(), def.GetTrackerType())
	}
	if empty.GetNumDecisionsPerFern() != def.GetNumDecisionsPerFern() {
		t.Errorf("decisions: %d != %d", empty.GetNumDecisionsPerFern(), def.GetNumDecisionsPerFern())
	}
	if empty.GetSeed() != def.GetSeed() {
		t.Errorf("seed: %d != %d", empty.GetSeed(), def.GetSeed())
	}
	if empty.GetViewFrustumMin() != def.GetViewFrustumMin() || empty.GetViewFrustumMax() != def.GetViewFrustumMax() {
		t.Errorf("frustum mismatch")
	}
	if empty.GetVoxelSize() != def.GetVoxelSize() || empty.GetDepthScale() != def.GetDepthScale() {
		t.Errorf("voxel size or depth scale mismatch")
	}
	if empty.GetIntrinsics() != def.GetIntrinsics() {
		t.Errorf("intrinsics: %+v != %+v", empty.GetIntrinsics(), def.GetIntrinsics())
	}
}

func TestLoadSLAMConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "slam.json")

	testJSON := `{
  "failure_mode": "stop_integration",
  "initial_frames_to_fuse": 20,
  "use_bilateral_filter": true,
  "tracker_type": "composite",
  "tracker_params": "children=trajectory;trajectory",
  "num_ferns": 100
}`
	if err := os.WriteFile(configPath, []byte(testJSON), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	cfg, err := LoadSLAMConfig(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.GetFailureMode() != slam.FailureModeStopIntegration {
		t.Errorf("GetFailureMode() = %v, want stop_integration", cfg.GetFailureMode())
	}
	if cfg.GetInitialFramesToFuse() != 20 {
		t.Errorf("GetInitialFramesToFuse() = %d, want 20", cfg.GetInitialFramesToFuse())
	}
	if !cfg.GetUseBilateralFilter() {
		t.Errorf("GetUseBilateralFilter() = false, want true")
	}
	if cfg.GetTrackerType() != "composite" {
		t.Errorf("GetTrackerType() = %q, want composite", cfg.GetTrackerType())
	}
	if cfg.GetNumFerns() != 100 {
		t.Errorf("GetNumFerns() = %d, want 100", cfg.GetNumFerns())
	}
	// Omitted fields fall back to defaults.
	if cfg.GetKeyframeDelayFrames() != 10 {
		t.Errorf("GetKeyframeDelayFrames() = %d, want 10", cfg.GetKeyframeDelayFrames())
	}

	ctrl := cfg.ControllerConfig()
	if ctrl.FailureMode != slam.FailureModeStopIntegration || ctrl.InitialFramesToFuse != 20 || !ctrl.UseBilateralFilter {
		t.Errorf("ControllerConfig() = %+v", ctrl)
	}
}

func TestLoadSLAMConfigRejects(t *testing.T) {
	tmpDir := t.TempDir()

	write := func(name, body string) string {
		p := filepath.Join(tmpDir, name)
		if err := os.WriteFile(p, []byte(body), 0644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
		return p
	}

	tests := []struct {
		name    string
		path    string
		wantErr string
	}{
		{"wrong extension", write("slam.yaml", `{}`), ".json extension"},
		{"missing file", filepath.Join(tmpDir, "absent.json"), "stat config file"},
		{"bad json", write("bad.json", `{`), "parse config JSON"},
		{"unknown failure mode", write("mode.json", `{"failure_mode": "panic"}`), "invalid configuration"},
		{"negative warm start", write("warm.json", `{"initial_frames_to_fuse": -1}`), "initial_frames_to_fuse"},
		{"threshold range", write("thr.json", `{"harvesting_threshold": 1.5}`), "harvesting_threshold"},
		{"zero ferns", write("ferns.json", `{"num_ferns": 0}`), "num_ferns"},
		{"too many decisions", write("dec.json", `{"num_decisions_per_fern": 17}`), "num_decisions_per_fern"},
		{"inverted frustum", write("frustum.json", `{"view_frustum_min": 3, "view_frustum_max": 1}`), "view frustum"},
		{"zero depth scale", write("scale.json", `{"depth_scale": 0}`), "depth_scale"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadSLAMConfig(tt.path)
			if err == nil {
				t.Fatalf("expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadSLAMConfigTooLarge(t *testing.T) {
	p := filepath.Join(t.TempDir(), "big.json")
	big := make([]byte, 1024*1024+1)
	for i := range big {
		big[i] = ' '
	}
	if err := os.WriteFile(p, big, 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadSLAMConfig(p); err == nil || !strings.Contains(err.Error(), "too large") {
		t.Errorf("expected too large error, got %v", err)
	}
}

func TestMustLoadDefaultConfig(t *testing.T) {
	cfg := MustLoadDefaultConfig()
	if cfg.GetFailureMode() != slam.FailureModeRelocalise {
		t.Errorf("GetFailureMode() = %v, want relocalise", cfg.GetFailureMode())
	}
	if cfg.GetInitialFramesToFuse() != slam.DefaultInitialFramesToFuse {
		t.Errorf("GetInitialFramesToFuse() = %d", cfg.GetInitialFramesToFuse())
	}
	if got, want := cfg.GetIntrinsics(), DefaultSLAMConfig().GetIntrinsics(); got != want {
		t.Errorf("intrinsics %+v, want %+v", got, want)
	}
}
