package integrator

import (
	"github.com/kabilan-n/tsdf-fusion/internal/layer"
	"github.com/kabilan-n/tsdf-fusion/internal/spatial"
)

// voxelCenter returns the world-frame center of voxel vi within block bi,
// given the owning layer's geometry.
func voxelCenter(bi layer.BlockIndex, vi layer.VoxelIndex, l *layer.Layer) spatial.Vec3 {
	origin := spatial.Vec3{
		X: float64(bi.X) * l.BlockSize,
		Y: float64(bi.Y) * l.BlockSize,
		Z: float64(bi.Z) * l.BlockSize,
	}
	half := l.VoxelSize / 2
	return spatial.Vec3{
		X: origin.X + float64(vi.X)*l.VoxelSize + half,
		Y: origin.Y + float64(vi.Y)*l.VoxelSize + half,
		Z: origin.Z + float64(vi.Z)*l.VoxelSize + half,
	}
}

// clip truncates a signed distance to [-tau, +tau].
func clip(sdf, tau float64) float64 {
	if sdf > tau {
		return tau
	}
	if sdf < -tau {
		return -tau
	}
	return sdf
}

// touchVoxel allocates (if needed) the block/voxel at world position p,
// applies the weighted update, and marks the block dirty for map/mesh
// consumers. Shared by all three integrator flavors.
func touchVoxel(l *layer.Layer, p spatial.Vec3, sdf, wp float64, color layer.RGB, maxWeight float64, deintegrate bool) {
	bi := layer.BlockIndexOf(p, l.BlockSize)
	blk := l.AllocateBlock(bi)
	vi := layer.VoxelIndexOf(p, bi, l.BlockSize, l.VoxelSize, l.VoxelsPerSide)
	v := blk.VoxelAt(vi)
	updateVoxel(v, sdf, wp, color, maxWeight, deintegrate)
	blk.HasData = true
	blk.SetMarker(layer.PurposeMap)
	blk.SetMarker(layer.PurposeMesh)
}
