// Package integrator implements the TSDF update: projecting an incoming
// point cloud into the sparse layer and updating each touched voxel's
// distance, weight, and color under a truncation policy. Three flavors
// (simple, merged, projective) share one contract and one update kernel,
// modeled as implementations of the Integrator interface rather than a
// class hierarchy, per the design guidance to treat this as a tagged
// capability set: every flavor can Integrate; only the projective flavor
// reports SupportsDeintegrate() == true.
package integrator

import (
	"github.com/kabilan-n/tsdf-fusion/internal/config"
	"github.com/kabilan-n/tsdf-fusion/internal/layer"
	"github.com/kabilan-n/tsdf-fusion/internal/spatial"
)

// Method names one of the four configuration-recognized integrator
// methods. "fast" is treated as an alias of "merged" — see DESIGN.md for
// the rationale (this is an explicit Open-Question resolution).
type Method string

const (
	MethodSimple     Method = "simple"
	MethodMerged     Method = "merged"
	MethodFast       Method = "fast"
	MethodProjective Method = "projective"
)

// Params holds the layer-wide constants fixed at construction: truncation
// distance, max weight, weighting policy, and ray/frustum range cap.
type Params struct {
	TruncationDistance float64
	MaxWeight          float64
	WeightPolicy       config.WeightPolicy
	MaxRayLength       float64
	// FreespaceTruncation is the "τ_freespace" near-field exclusion
	// distance: for freespace clouds, only voxels with sdf > this are
	// updated. Defaults to TruncationDistance when zero.
	FreespaceTruncation float64
}

func (p Params) freespaceCutoff() float64 {
	if p.FreespaceTruncation > 0 {
		return p.FreespaceTruncation
	}
	return p.TruncationDistance
}

// ParamsFromConfig builds integrator Params from a config.IntegratorConfig.
func ParamsFromConfig(c config.IntegratorConfig) Params {
	return Params{
		TruncationDistance: c.TruncationDistance,
		MaxWeight:          c.MaxWeight,
		WeightPolicy:       c.WeightPolicy,
		MaxRayLength:       c.MaxRayLength,
	}
}

// PointCloud is the decoded, sensor-frame input to Integrate: parallel
// points/colors slices (must be equal length — a length mismatch is a
// programming-invariant violation, not a recoverable error).
type PointCloud struct {
	Points []spatial.Vec3
	Colors []layer.RGB
}

// Integrator is the shared contract for all three update flavors.
type Integrator interface {
	// Integrate projects pointsC (in sensor frame) into l using pose
	// T_G_C (sensor-to-world). If deintegrate is true, it applies the
	// inverse update instead (only well-defined when
	// SupportsDeintegrate() is true). isFreespace restricts the update to
	// far-field voxels per spec.md §4.B.
	Integrate(l *layer.Layer, tGC spatial.Pose, cloud PointCloud, isFreespace, deintegrate bool)

	// SupportsDeintegrate reports whether this flavor's update is a pure
	// function of (pose, cloud, voxel) and therefore safe to invert
	// exactly. Only the projective flavor returns true.
	SupportsDeintegrate() bool

	// Method identifies which configuration method this instance
	// implements.
	Method() Method
}

// New constructs the Integrator named by method with the given params.
// An unrecognized method falls back to Merged — callers validating
// configuration should treat an unknown method name as a configuration
// error before reaching here.
func New(method Method, params Params) Integrator {
	switch method {
	case MethodSimple:
		return &Simple{Params: params}
	case MethodProjective:
		return &Projective{Params: params}
	case MethodMerged, MethodFast:
		return &Merged{Params: params}
	default:
		return &Merged{Params: params}
	}
}
