package icp

import (
	"testing"

	"github.com/kabilan-n/tsdf-fusion/internal/layer"
	"github.com/kabilan-n/tsdf-fusion/internal/spatial"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// planeLayer builds a layer with a flat z=0 wall spanning blocks -1 and 0
// on every axis (x, y, z in [-0.8, 0.8)): voxels with z<0 are "inside"
// (negative d), z>=0 "outside" (positive d), linear in z.
func planeLayer(t *testing.T) *layer.Layer {
	t.Helper()
	l := layer.New(0.1, 8)
	for i := int32(0); i < 8; i++ {
		bz := i&1 - 1
		bi := layer.BlockIndex{X: i>>1&1 - 1, Y: i>>2&1 - 1, Z: bz}
		blk := l.AllocateBlock(bi)
		for x := 0; x < 8; x++ {
			for y := 0; y < 8; y++ {
				for z := 0; z < 8; z++ {
					worldZ := float64(bz)*0.8 + (float64(z)+0.5)*0.1
					v := blk.VoxelAt(layer.VoxelIndex{X: x, Y: y, Z: z})
					v.D = float32(worldZ)
					v.W = 1
				}
			}
		}
	}
	return l
}

func TestRefineConvergesTowardSurfaceAlongZ(t *testing.T) {
	l := planeLayer(t)

	points := make([]spatial.Vec3, 0, 64)
	for x := 0; x < 8; x++ {
		for y := 0; y < 8; y++ {
			points = append(points, spatial.Vec3{X: (float64(x) - 4) * 0.1, Y: (float64(y) - 4) * 0.1, Z: 0})
		}
	}

	// Start offset by 0.2m along Z from the true surface.
	tInit := spatial.Pose{R: spatial.Identity3(), T: spatial.Vec3{X: 0, Y: 0, Z: 0.2}}

	result := Refine(l, points, tInit, Params{MaxIterations: 20, RefineRollPitch: true})

	// After refinement, the points (still at local Z=0) transformed by
	// the corrected pose should land close to the Z=0 surface.
	sampled := result.Pose.Transform(spatial.Vec3{})
	assert.InDelta(t, 0, sampled.Z, 0.05)
	assert.Greater(t, result.IterationsDone, 0)
}

func TestRefineLocksRollPitchWhenDisabled(t *testing.T) {
	l := planeLayer(t)
	points := []spatial.Vec3{{X: 0, Y: 0, Z: 0}, {X: 0.1, Y: 0, Z: 0}, {X: 0, Y: 0.1, Z: 0}, {X: -0.1, Y: -0.1, Z: 0}}
	tInit := spatial.Pose{R: spatial.Identity3(), T: spatial.Vec3{Z: 0.1}}

	result := Refine(l, points, tInit, Params{MaxIterations: 5, RefineRollPitch: false})
	require.NotNil(t, result.Pose)

	// With roll/pitch locked, the resulting rotation's axis-angle should
	// have negligible X/Y components (pure yaw or identity).
	aa := spatial.LogSO3(result.Pose.R)
	assert.InDelta(t, 0, aa.X, 1e-6)
	assert.InDelta(t, 0, aa.Y, 1e-6)
}

func TestRefineWithNoUsableVoxelsReturnsInitialPose(t *testing.T) {
	l := layer.New(0.1, 8)
	tInit := spatial.Pose{R: spatial.Identity3(), T: spatial.Vec3{X: 5}}
	result := Refine(l, []spatial.Vec3{{X: 1}}, tInit, Params{MaxIterations: 5, RefineRollPitch: true})
	assert.InDelta(t, 5, result.Pose.T.X, 1e-9)
}
