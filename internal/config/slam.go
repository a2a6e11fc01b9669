package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/banshee-data/slamframe/internal/slam"
)

// DefaultConfigPath is the path to the canonical SLAM defaults file.
const DefaultConfigPath = "config/slam.defaults.json"

// SLAMConfig is the root configuration for a SLAM session. Every field is
// optional; the Get* accessors supply defaults for omitted fields so partial
// configs are safe.
type SLAMConfig struct {
	// Failure handling and fusion policy
	FailureMode         *string `json:"failure_mode,omitempty"` // relocalise | stop_integration | ignore
	InitialFramesToFuse *int    `json:"initial_frames_to_fuse,omitempty"`
	KeyframeDelayFrames *int    `json:"keyframe_delay_frames,omitempty"`
	UseBilateralFilter  *bool   `json:"use_bilateral_filter,omitempty"`

	// Tracker selection
	TrackerType   *string `json:"tracker_type,omitempty"`
	TrackerParams *string `json:"tracker_params,omitempty"` // "key=value,key=value"

	// Relocaliser params
	HarvestingThreshold *float64 `json:"harvesting_threshold,omitempty"`
	NumFerns            *int     `json:"num_ferns,omitempty"`
	NumDecisionsPerFern *int     `json:"num_decisions_per_fern,omitempty"`
	Seed                *int64   `json:"seed,omitempty"`

	// Camera and scene params
	ViewFrustumMin *float64 `json:"view_frustum_min,omitempty"`
	ViewFrustumMax *float64 `json:"view_frustum_max,omitempty"`
	VoxelSize      *float64 `json:"voxel_size,omitempty"`
	DepthScale     *float64 `json:"depth_scale,omitempty"` // metres per raw depth unit
	Fx             *float64 `json:"fx,omitempty"`
	Fy             *float64 `json:"fy,omitempty"`
	Cx             *float64 `json:"cx,omitempty"`
	Cy             *float64 `json:"cy,omitempty"`
}

func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }
func ptrInt64(v int64) *int64       { return &v }

// EmptySLAMConfig returns a SLAMConfig with all fields nil.
func EmptySLAMConfig() *SLAMConfig {
	return &SLAMConfig{}
}

// DefaultSLAMConfig returns a config with every field set to its default.
func DefaultSLAMConfig() *SLAMConfig {
	return &SLAMConfig{
		FailureMode:         ptrString(slam.FailureModeRelocalise.String()),
		InitialFramesToFuse: ptrInt(slam.DefaultInitialFramesToFuse),
		KeyframeDelayFrames: ptrInt(slam.DefaultKeyframeDelay),
		UseBilateralFilter:  ptrBool(false),
		TrackerType:         ptrString("trajectory"),
		TrackerParams:       ptrString(""),
		HarvestingThreshold: ptrFloat64(0.2),
		NumFerns:            ptrInt(500),
		NumDecisionsPerFern: ptrInt(4),
		Seed:                ptrInt64(42),
		ViewFrustumMin:      ptrFloat64(0.2),
		ViewFrustumMax:      ptrFloat64(3.0),
		VoxelSize:           ptrFloat64(0.05),
		DepthScale:          ptrFloat64(0.001),
		Fx:                  ptrFloat64(525),
		Fy:                  ptrFloat64(525),
		Cx:                  ptrFloat64(319.5),
		Cy:                  ptrFloat64(239.5),
	}
}

// LoadSLAMConfig loads a SLAMConfig from a JSON file.
// The file must have a .json extension and be at most 1MB.
func LoadSLAMConfig(path string) (*SLAMConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptySLAMConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical defaults from DefaultConfigPath,
// searching the current directory and its parents. Panics if the file cannot
// be loaded; intended for test setup.
func MustLoadDefaultConfig() *SLAMConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,       // from internal/config/
		"../../../" + DefaultConfigPath,    // from internal/slam/session/
		"../../../../" + DefaultConfigPath, // deeper packages
	}
	for _, path := range candidates {
		if cfg, err := LoadSLAMConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *SLAMConfig) Validate() error {
	if c.FailureMode != nil {
		if _, err := slam.ParseFailureMode(*c.FailureMode); err != nil {
			return err
		}
	}
	if c.InitialFramesToFuse != nil && *c.InitialFramesToFuse < 0 {
		return fmt.Errorf("initial_frames_to_fuse must be non-negative, got %d", *c.InitialFramesToFuse)
	}
	if c.KeyframeDelayFrames != nil && *c.KeyframeDelayFrames < 0 {
		return fmt.Errorf("keyframe_delay_frames must be non-negative, got %d", *c.KeyframeDelayFrames)
	}
	if c.HarvestingThreshold != nil {
		if *c.HarvestingThreshold < 0 || *c.HarvestingThreshold > 1 {
			return fmt.Errorf("harvesting_threshold must be between 0 and 1, got %f", *c.HarvestingThreshold)
		}
	}
	if c.NumFerns != nil && *c.NumFerns <= 0 {
		return fmt.Errorf("num_ferns must be positive, got %d", *c.NumFerns)
	}
	if c.NumDecisionsPerFern != nil {
		if *c.NumDecisionsPerFern <= 0 || *c.NumDecisionsPerFern > 16 {
			return fmt.Errorf("num_decisions_per_fern must be between 1 and 16, got %d", *c.NumDecisionsPerFern)
		}
	}
	if c.GetViewFrustumMin() <= 0 || c.GetViewFrustumMax() <= c.GetViewFrustumMin() {
		return fmt.Errorf("view frustum must satisfy 0 < min < max, got [%f, %f]", c.GetViewFrustumMin(), c.GetViewFrustumMax())
	}
	if c.VoxelSize != nil && *c.VoxelSize <= 0 {
		return fmt.Errorf("voxel_size must be positive, got %f", *c.VoxelSize)
	}
	if c.DepthScale != nil && *c.DepthScale <= 0 {
		return fmt.Errorf("depth_scale must be positive, got %f", *c.DepthScale)
	}
	return nil
}

// GetFailureMode returns the parsed failure_mode or the default.
func (c *SLAMConfig) GetFailureMode() slam.FailureMode {
	if c.FailureMode == nil {
		return slam.FailureModeRelocalise
	}
	m, err := slam.ParseFailureMode(*c.FailureMode)
	if err != nil {
		return slam.FailureModeRelocalise // default on parse error
	}
	return m
}

// GetInitialFramesToFuse returns the initial_frames_to_fuse value or the default.
func (c *SLAMConfig) GetInitialFramesToFuse() int {
	if c.InitialFramesToFuse == nil {
		return slam.DefaultInitialFramesToFuse
	}
	return *c.InitialFramesToFuse
}

// GetKeyframeDelayFrames returns the keyframe_delay_frames value or the default.
func (c *SLAMConfig) GetKeyframeDelayFrames() int {
	if c.KeyframeDelayFrames == nil {
		return slam.DefaultKeyframeDelay
	}
	return *c.KeyframeDelayFrames
}

// GetUseBilateralFilter returns the use_bilateral_filter value or the default.
func (c *SLAMConfig) GetUseBilateralFilter() bool {
	if c.UseBilateralFilter == nil {
		return false
	}
	return *c.UseBilateralFilter
}

// GetTrackerType returns the tracker_type value or the default.
func (c *SLAMConfig) GetTrackerType() string {
	if c.TrackerType == nil || *c.TrackerType == "" {
		return "trajectory"
	}
	return *c.TrackerType
}

// GetTrackerParams returns the tracker_params value or the default.
func (c *SLAMConfig) GetTrackerParams() string {
	if c.TrackerParams == nil {
		return ""
	}
	return *c.TrackerParams
}

// GetHarvestingThreshold returns the harvesting_threshold value or the default.
func (c *SLAMConfig) GetHarvestingThreshold() float64 {
	if c.HarvestingThreshold == nil {
		return 0.2
	}
	return *c.HarvestingThreshold
}

// GetNumFerns returns the num_ferns value or the default.
func (c *SLAMConfig) GetNumFerns() int {
	if c.NumFerns == nil {
		return 500
	}
	return *c.NumFerns
}

// GetNumDecisionsPerFern returns the num_decisions_per_fern value or the default.
func (c *SLAMConfig) GetNumDecisionsPerFern() int {
	if c.NumDecisionsPerFern == nil {
		return 4
	}
	return *c.NumDecisionsPerFern
}

// GetSeed returns the seed value or the default.
func (c *SLAMConfig) GetSeed() int64 {
	if c.Seed == nil {
		return 42
	}
	return *c.Seed
}

// GetViewFrustumMin returns the view_frustum_min value or the default.
func (c *SLAMConfig) GetViewFrustumMin() float64 {
	if c.ViewFrustumMin == nil {
		return 0.2
	}
	return *c.ViewFrustumMin
}

// GetViewFrustumMax returns the view_frustum_max value or the default.
func (c *SLAMConfig) GetViewFrustumMax() float64 {
	if c.ViewFrustumMax == nil {
		return 3.0
	}
	return *c.ViewFrustumMax
}

// GetVoxelSize returns the voxel_size value or the default.
func (c *SLAMConfig) GetVoxelSize() float64 {
	if c.VoxelSize == nil {
		return 0.05
	}
	return *c.VoxelSize
}

// GetDepthScale returns the depth_scale value or the default.
func (c *SLAMConfig) GetDepthScale() float64 {
	if c.DepthScale == nil {
		return 0.001
	}
	return *c.DepthScale
}

// GetIntrinsics returns the camera intrinsics, defaulting each missing value.
func (c *SLAMConfig) GetIntrinsics() slam.Intrinsics {
	get := func(v *float64, def float64) float64 {
		if v == nil {
			return def
		}
		return *v
	}
	return slam.Intrinsics{
		Fx: get(c.Fx, 525),
		Fy: get(c.Fy, 525),
		Cx: get(c.Cx, 319.5),
		Cy: get(c.Cy, 239.5),
	}
}

// ControllerConfig returns the controller policy described by this config.
// Collaborators are left for the caller to fill in.
func (c *SLAMConfig) ControllerConfig() slam.ControllerConfig {
	cfg := slam.DefaultControllerConfig()
	cfg.FailureMode = c.GetFailureMode()
	cfg.InitialFramesToFuse = c.GetInitialFramesToFuse()
	cfg.KeyframeDelay = c.GetKeyframeDelayFrames()
	cfg.UseBilateralFilter = c.GetUseBilateralFilter()
	return cfg
}
