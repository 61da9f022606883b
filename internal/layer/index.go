package layer

import "math"

// BlockIndex addresses one block in a Layer. The mapping from a world
// point to a BlockIndex uses truncated floor division (not language
// truncation-toward-zero) so negative coordinates resolve to the block
// that actually contains them, with ties on a boundary going to the
// lower-indexed block. This mirrors the floor-division voxel-grid keying
// used for point downsampling in the reference corpus, generalized from a
// map[[3]int64] key to a named struct.
type BlockIndex struct {
	X, Y, Z int32
}

// floorDiv performs floor division of a float by a strictly positive
// divisor, returning the integer index of the cell containing v.
// boundaryEpsilon nudges the floor-division result away from the
// floating-point representation error that otherwise puts an
// exact-multiple coordinate (e.g. x == 10*voxelSize) one cell short of
// where it conceptually belongs (v/size landing at 9.999999999999998
// instead of 10). It is tiny relative to any real voxel size.
const boundaryEpsilon = 1e-9

func floorDiv(v, size float64) int32 {
	return int32(math.Floor(v/size + boundaryEpsilon))
}

// BlockIndexOf returns the index of the block containing world point p,
// given the block edge length in meters.
func BlockIndexOf(p Vec3, blockSize float64) BlockIndex {
	return BlockIndex{
		X: floorDiv(p.X, blockSize),
		Y: floorDiv(p.Y, blockSize),
		Z: floorDiv(p.Z, blockSize),
	}
}

// VoxelIndex addresses one voxel within its block, each coordinate in
// [0, voxelsPerSide).
type VoxelIndex struct {
	X, Y, Z int
}

// VoxelIndexOf returns the voxel within block bi that contains world
// point p, given voxel size and voxels-per-side. Like BlockIndexOf, it
// uses floor division against the block-local offset so negative-origin
// blocks still resolve correctly.
func VoxelIndexOf(p Vec3, bi BlockIndex, blockSize, voxelSize float64, voxelsPerSide int) VoxelIndex {
	origin := Vec3{float64(bi.X) * blockSize, float64(bi.Y) * blockSize, float64(bi.Z) * blockSize}
	local := p.Sub(origin)
	vx := int(math.Floor(local.X/voxelSize + boundaryEpsilon))
	vy := int(math.Floor(local.Y/voxelSize + boundaryEpsilon))
	vz := int(math.Floor(local.Z/voxelSize + boundaryEpsilon))
	clampVoxel := func(v int) int {
		if v < 0 {
			return 0
		}
		if v >= voxelsPerSide {
			return voxelsPerSide - 1
		}
		return v
	}
	return VoxelIndex{clampVoxel(vx), clampVoxel(vy), clampVoxel(vz)}
}

// LinearIndex flattens a VoxelIndex to the row-major (x,y,z) position in a
// block's flat voxel array.
func (vi VoxelIndex) LinearIndex(voxelsPerSide int) int {
	return (vi.Z*voxelsPerSide+vi.Y)*voxelsPerSide + vi.X
}

// Center returns the world-frame center of the block.
func (bi BlockIndex) Center(blockSize float64) Vec3 {
	half := blockSize / 2
	return Vec3{
		X: float64(bi.X)*blockSize + half,
		Y: float64(bi.Y)*blockSize + half,
		Z: float64(bi.Z)*blockSize + half,
	}
}

// Neighbor returns the block index offset by (dx,dy,dz) blocks — used by
// the mesher to fetch the one-voxel skirt from adjacent blocks.
func (bi BlockIndex) Neighbor(dx, dy, dz int32) BlockIndex {
	return BlockIndex{bi.X + dx, bi.Y + dy, bi.Z + dz}
}
