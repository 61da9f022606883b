// Package layer implements the sparse, block-structured TSDF grid: the
// mapping from a 3D integer block index to a fixed-size cube of voxels,
// plus the per-block "updated" marker bookkeeping that downstream
// consumers (the integrator, the mesher, pruning) use to find work.
package layer

import "github.com/kabilan-n/tsdf-fusion/internal/spatial"

// RGB is an 8-bit-per-channel color sample.
type RGB struct {
	R, G, B uint8
}

// Voxel holds a signed distance, an accumulated update weight, and a
// color. Invariants: W >= 0; |D| <= truncation distance whenever W > 0.
// A voxel with W == 0 is "unobserved" and D/Color are undefined — callers
// must not read them without checking W first.
type Voxel struct {
	D     float32
	W     float32
	Color RGB
}

// Observed reports whether this voxel has ever received a positive-weight
// update.
func (v Voxel) Observed() bool { return v.W > 0 }

// Vec3 aliases spatial.Vec3 so block/voxel math in this package shares
// one vector type with the integrator, ICP, and ingest packages.
type Vec3 = spatial.Vec3
