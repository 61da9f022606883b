// Package config loads and validates the recognized configuration
// options from spec.md §6: map geometry, integrator method and
// weighting, ICP, ingest throttling, the sliding-window deintegration
// axes, submapping, mesh timers, and visualization. Mirrors the
// reference corpus's tuning-config package: a partial JSON document is
// decoded over Default(), so unset fields keep their documented default,
// a LoadTuningConfig-style file-extension/size guard, and a Validate
// pass that never aborts startup — per the error-handling taxonomy,
// configuration errors are logged and the offending feature is disabled
// in place.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"unicode"
)

const maxConfigFileSize = 1 * 1024 * 1024 // 1MB, matches the reference corpus's guard

// Config is the root configuration document, matching the recognized
// options table in spec.md §6 one-to-one.
type Config struct {
	Map           MapConfig           `json:"map"`
	Integrator    IntegratorConfig    `json:"integrator"`
	ICP           ICPConfig           `json:"icp"`
	Ingest        IngestConfig        `json:"ingest"`
	SlidingWindow SlidingWindowConfig `json:"sliding_window"`
	Submapping    SubmappingConfig    `json:"submapping"`
	Mesh          MeshConfig          `json:"mesh"`
	Visualization VisualizationConfig `json:"visualization"`
}

type MapConfig struct {
	VoxelSize     float64 `json:"voxel_size"`
	VoxelsPerSide int     `json:"voxels_per_side"`
}

// WeightPolicy names the per-point weighting policy used by the
// integrator (constant, inverse-square, or inverse-square with a
// dropoff for samples behind the surface).
type WeightPolicy string

const (
	WeightConstant          WeightPolicy = "constant"
	WeightInverseSquare     WeightPolicy = "inverse_square"
	WeightInverseSqDropoff  WeightPolicy = "inverse_square_dropoff"
)

type IntegratorConfig struct {
	Method             string       `json:"method"` // simple | merged | fast | projective
	TruncationDistance float64      `json:"truncation_distance"`
	MaxWeight          float64      `json:"max_weight"`
	WeightPolicy       WeightPolicy `json:"weight_policy"`
	MaxRayLength       float64      `json:"max_ray_length"`
}

type ICPConfig struct {
	Enable                  bool `json:"enable_icp"`
	AccumulateCorrections   bool `json:"accumulate_icp_corrections"`
	RefineRollPitch         bool `json:"icp_refine_roll_pitch"`
	MaxIterations           int  `json:"max_iterations"`
}

type IngestConfig struct {
	MinTimeBetweenMsgsSec  float64 `json:"min_time_between_msgs_sec"`
	PointcloudQueueSize    int     `json:"pointcloud_queue_size"`
	MaxBlockDistFromBody   float64 `json:"max_block_distance_from_body"`
	UseFreespacePointcloud bool    `json:"use_freespace_pointcloud"`
}

// OptionalFloat models "unset means no limit on that axis" explicitly,
// per the design guidance to never use a sentinel like 0 or -1 for this.
type OptionalFloat struct {
	Set   bool    `json:"set"`
	Value float64 `json:"value,omitempty"`
}

// OptionalInt mirrors OptionalFloat for integer-valued axes.
type OptionalInt struct {
	Set   bool `json:"set"`
	Value int  `json:"value,omitempty"`
}

func (o OptionalFloat) Exceeds(v float64) bool { return o.Set && v > o.Value }
func (o OptionalInt) Exceeds(v int) bool       { return o.Set && v > o.Value }

type SlidingWindowConfig struct {
	MaxQueueLength       OptionalInt   `json:"pointcloud_deintegration_max_queue_length"`
	MaxTimeInterval      OptionalFloat `json:"pointcloud_deintegration_max_time_interval"`
	MaxDistanceTravelled OptionalFloat `json:"pointcloud_deintegration_max_distance_travelled"`
}

type SubmappingConfig struct {
	MaxTimeInterval      OptionalFloat `json:"submap_max_time_interval"`
	MaxDistanceTravelled OptionalFloat `json:"submap_max_distance_travelled"`
	WriteToDirectory     string        `json:"write_submaps_to_directory"`
}

type MeshConfig struct {
	UpdateEveryNSec  float64 `json:"update_mesh_every_n_sec"`
	PublishEveryNSec float64 `json:"publish_map_every_n_sec"`
	ColorMode        string  `json:"color_mode"`
	Filename         string  `json:"mesh_filename"`
}

type VisualizationConfig struct {
	SliceLevel          float64 `json:"slice_level"`
	SliceLevelFollow    bool    `json:"slice_level_follow_robot"`
	IntensityColormap   string  `json:"intensity_colormap"`
	IntensityMaxValue   float64 `json:"intensity_max_value"`
}

// Default returns a Config populated with the documented defaults for
// every recognized option.
func Default() *Config {
	return &Config{
		Map: MapConfig{VoxelSize: 0.1, VoxelsPerSide: 16},
		Integrator: IntegratorConfig{
			Method:             "merged",
			TruncationDistance: 0.3,
			MaxWeight:          1e4,
			WeightPolicy:       WeightConstant,
			MaxRayLength:       15,
		},
		ICP: ICPConfig{MaxIterations: 10},
		Ingest: IngestConfig{
			MinTimeBetweenMsgsSec: 0,
			PointcloudQueueSize:   10,
			MaxBlockDistFromBody:  30,
		},
		Mesh: MeshConfig{
			UpdateEveryNSec:  0.1,
			PublishEveryNSec: 2.0,
			ColorMode:        "color",
			Filename:         "mesh.ply",
		},
		Visualization: VisualizationConfig{
			IntensityColormap: "rainbow",
			IntensityMaxValue: 1.0,
		},
	}
}

// Load reads and parses a JSON configuration file, merging it onto the
// documented defaults. Unset JSON fields leave the default values
// untouched because decoding happens directly into the already-populated
// Default() struct.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	info, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if info.Size() > maxConfigFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	return cfg, nil
}

// Warning describes one non-fatal configuration problem found by
// Validate, and the feature Validate disabled in response. Validate
// never returns an error: the error-handling taxonomy treats bad
// configuration as "log, disable the offending feature, continue".
type Warning struct {
	Field   string
	Message string
}

// Validate checks cfg for the configuration errors named in spec.md §7
// and disables the offending feature in place, returning a Warning per
// problem found. Callers should log each Warning via diag.Opsf.
func Validate(cfg *Config) []Warning {
	var warnings []Warning

	if cfg.Submapping.WriteToDirectory != "" {
		if !isAbsoluteASCII(cfg.Submapping.WriteToDirectory) {
			warnings = append(warnings, Warning{
				Field:   "submapping.write_submaps_to_directory",
				Message: fmt.Sprintf("path %q must be absolute and ASCII-only; disk persistence disabled", cfg.Submapping.WriteToDirectory),
			})
			cfg.Submapping.WriteToDirectory = ""
		}
	}

	if _, ok := colormapNames[cfg.Visualization.IntensityColormap]; cfg.Visualization.IntensityColormap != "" && !ok {
		warnings = append(warnings, Warning{
			Field:   "visualization.intensity_colormap",
			Message: fmt.Sprintf("unknown colormap %q; falling back to rainbow", cfg.Visualization.IntensityColormap),
		})
		cfg.Visualization.IntensityColormap = "rainbow"
	}

	deintegrationRequested := cfg.SlidingWindow.MaxQueueLength.Set ||
		cfg.SlidingWindow.MaxTimeInterval.Set ||
		cfg.SlidingWindow.MaxDistanceTravelled.Set
	if deintegrationRequested && cfg.Integrator.Method != "projective" {
		warnings = append(warnings, Warning{
			Field:   "sliding_window",
			Message: "deintegration requested but integrator.method is not projective; sliding window disabled",
		})
		cfg.SlidingWindow = SlidingWindowConfig{}
	}

	return warnings
}

var colormapNames = map[string]struct{}{
	"rainbow": {}, "inverse_rainbow": {}, "grayscale": {}, "inverse_grayscale": {}, "ironbow": {},
}

// isAbsoluteASCII reports whether p is an absolute, ASCII-only path, the
// precondition for submap disk persistence (spec.md §6).
func isAbsoluteASCII(p string) bool {
	if !filepath.IsAbs(p) {
		return false
	}
	for _, r := range p {
		if r > unicode.MaxASCII {
			return false
		}
	}
	return true
}
