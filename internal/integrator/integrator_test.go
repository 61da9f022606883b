package integrator

import (
	"math/rand/v2"
	"testing"

	"github.com/kabilan-n/tsdf-fusion/internal/config"
	"github.com/kabilan-n/tsdf-fusion/internal/layer"
	"github.com/kabilan-n/tsdf-fusion/internal/spatial"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLayer() *layer.Layer {
	return layer.New(0.1, 8)
}

func straightAheadCloud() PointCloud {
	return PointCloud{
		Points: []spatial.Vec3{{X: 1.0, Y: 0, Z: 0}},
		Colors: []layer.RGB{{R: 255, G: 0, B: 0}},
	}
}

// A single straight-ahead surface point, integrated by Simple: the voxel
// actually containing the surface point must end up observed, with a
// small-magnitude signed distance (on the order of half a voxel — the
// discretization error inherent in sampling voxel centers rather than the
// continuous surface), and a voxel well beyond the truncation band behind
// the surface must remain unobserved since Simple never marches past the
// point it is tracing.
func TestSimpleIntegrateSurfaceVoxelObserved(t *testing.T) {
	l := newTestLayer()
	s := &Simple{Params: Params{TruncationDistance: 0.3, MaxWeight: 1e4, WeightPolicy: config.WeightConstant}}

	s.Integrate(l, spatial.Identity(), straightAheadCloud(), false, false)

	bi := layer.BlockIndexOf(spatial.Vec3{X: 1.0}, l.BlockSize)
	vi := layer.VoxelIndexOf(spatial.Vec3{X: 1.0}, bi, l.BlockSize, l.VoxelSize, l.VoxelsPerSide)
	blk, ok := l.GetBlock(bi)
	require.True(t, ok)
	v := blk.VoxelAt(vi)
	assert.True(t, v.Observed())
	assert.InDelta(t, 0, float64(v.D), l.VoxelSize)

	beyondBi := layer.BlockIndexOf(spatial.Vec3{X: 1.5}, l.BlockSize)
	beyondVi := layer.VoxelIndexOf(spatial.Vec3{X: 1.5}, beyondBi, l.BlockSize, l.VoxelSize, l.VoxelsPerSide)
	if beyondBlk, ok := l.GetBlock(beyondBi); ok {
		assert.False(t, beyondBlk.VoxelAt(beyondVi).Observed())
	}
}

func TestSimpleIntegrateRespectsMaxRayLength(t *testing.T) {
	l := newTestLayer()
	s := &Simple{Params: Params{TruncationDistance: 0.3, MaxWeight: 1e4, MaxRayLength: 0.5}}
	s.Integrate(l, spatial.Identity(), straightAheadCloud(), false, false)
	assert.Equal(t, 0, l.NumBlocks())
}

func TestSimpleIntegrateMarksMapAndMeshPurposes(t *testing.T) {
	l := newTestLayer()
	s := &Simple{Params: Params{TruncationDistance: 0.3, MaxWeight: 1e4}}
	s.Integrate(l, spatial.Identity(), straightAheadCloud(), false, false)

	bi := layer.BlockIndexOf(spatial.Vec3{X: 1.0}, l.BlockSize)
	blk, ok := l.GetBlock(bi)
	require.True(t, ok)
	assert.True(t, blk.HasMarker(layer.PurposeMap))
	assert.True(t, blk.HasMarker(layer.PurposeMesh))
}

// Merged should fold repeated samples that land in the same voxel into a
// single observation: integrating the same single-point cloud twice in
// one call (duplicated in the points slice) must leave the surface voxel
// at the same signed distance as integrating it once, just at double the
// weight — never a doubled distance.
func TestMergedFoldsDuplicatePointsIntoOneVoxelUpdate(t *testing.T) {
	l := newTestLayer()
	m := &Merged{Params: Params{TruncationDistance: 0.3, MaxWeight: 1e4}}

	cloud := PointCloud{
		Points: []spatial.Vec3{{X: 1.0, Y: 0, Z: 0}, {X: 1.0, Y: 0, Z: 0}},
		Colors: []layer.RGB{{R: 255}, {R: 255}},
	}
	m.Integrate(l, spatial.Identity(), cloud, false, false)

	bi := layer.BlockIndexOf(spatial.Vec3{X: 1.0}, l.BlockSize)
	vi := layer.VoxelIndexOf(spatial.Vec3{X: 1.0}, bi, l.BlockSize, l.VoxelSize, l.VoxelsPerSide)
	blk, _ := l.GetBlock(bi)
	v := blk.VoxelAt(vi)
	assert.InDelta(t, 2.0, float64(v.W), 1e-6)
}

func TestMergedAgreesWithSimpleOnSingleCloudDistance(t *testing.T) {
	lSimple := newTestLayer()
	lMerged := newTestLayer()
	params := Params{TruncationDistance: 0.3, MaxWeight: 1e4}

	(&Simple{Params: params}).Integrate(lSimple, spatial.Identity(), straightAheadCloud(), false, false)
	(&Merged{Params: params}).Integrate(lMerged, spatial.Identity(), straightAheadCloud(), false, false)

	bi := layer.BlockIndexOf(spatial.Vec3{X: 1.0}, lSimple.BlockSize)
	vi := layer.VoxelIndexOf(spatial.Vec3{X: 1.0}, bi, lSimple.BlockSize, lSimple.VoxelSize, lSimple.VoxelsPerSide)
	bSimple, _ := lSimple.GetBlock(bi)
	bMerged, _ := lMerged.GetBlock(bi)
	assert.InDelta(t, float64(bSimple.VoxelAt(vi).D), float64(bMerged.VoxelAt(vi).D), 1e-6)
}

func TestProjectiveSeesBothSidesOfSurface(t *testing.T) {
	l := newTestLayer()
	p := &Projective{Params: Params{TruncationDistance: 0.3, MaxWeight: 1e4}}
	p.Integrate(l, spatial.Identity(), straightAheadCloud(), false, false)

	behindBi := layer.BlockIndexOf(spatial.Vec3{X: 1.2}, l.BlockSize)
	behindVi := layer.VoxelIndexOf(spatial.Vec3{X: 1.2}, behindBi, l.BlockSize, l.VoxelSize, l.VoxelsPerSide)
	blk, ok := l.GetBlock(behindBi)
	require.True(t, ok)
	v := blk.VoxelAt(behindVi)
	require.True(t, v.Observed())
	assert.Less(t, float64(v.D), 0.0)
}

func TestProjectiveReportsSupportsDeintegrate(t *testing.T) {
	p := &Projective{}
	assert.True(t, p.SupportsDeintegrate())
	assert.False(t, (&Simple{}).SupportsDeintegrate())
	assert.False(t, (&Merged{}).SupportsDeintegrate())
}

// Deintegrating a cloud immediately after integrating it must return every
// touched voxel to its pre-integration state (here: unobserved), for
// randomized poses and clouds. This is the algebraic-inverse property the
// sliding window depends on.
func TestProjectiveDeintegrationIsExactAcrossRandomClouds(t *testing.T) {
	params := Params{TruncationDistance: 0.3, MaxWeight: 1e4, WeightPolicy: config.WeightInverseSquare}
	rng := rand.New(rand.NewPCG(1, 2))

	for trial := 0; trial < 20; trial++ {
		l := newTestLayer()
		p := &Projective{Params: params}

		pose := spatial.Pose{
			R: spatial.Identity3(),
			T: spatial.Vec3{X: rng.Float64()*2 - 1, Y: rng.Float64()*2 - 1, Z: rng.Float64() * 0.2},
		}

		n := 5 + rng.IntN(10)
		points := make([]spatial.Vec3, n)
		colors := make([]layer.RGB, n)
		for i := range points {
			points[i] = spatial.Vec3{
				X: 1 + rng.Float64()*2,
				Y: rng.Float64()*2 - 1,
				Z: rng.Float64()*2 - 1,
			}
			colors[i] = layer.RGB{R: uint8(rng.IntN(255)), G: uint8(rng.IntN(255)), B: uint8(rng.IntN(255))}
		}
		cloud := PointCloud{Points: points, Colors: colors}

		p.Integrate(l, pose, cloud, false, false)
		require.Greater(t, l.NumBlocks(), 0)

		p.Integrate(l, pose, cloud, false, true)

		for _, bi := range l.Blocks() {
			blk, _ := l.GetBlock(bi)
			for i := range blk.Voxels {
				assert.InDelta(t, 0, float64(blk.Voxels[i].W), 1e-4, "trial %d voxel %d still has weight after deintegration", trial, i)
			}
		}
	}
}

func TestFreespaceCloudSkipsNearSurfaceVoxels(t *testing.T) {
	l := newTestLayer()
	s := &Simple{Params: Params{TruncationDistance: 0.3, MaxWeight: 1e4}}
	cloud := straightAheadCloud()

	s.Integrate(l, spatial.Identity(), cloud, true, false)

	bi := layer.BlockIndexOf(spatial.Vec3{X: 1.0}, l.BlockSize)
	vi := layer.VoxelIndexOf(spatial.Vec3{X: 1.0}, bi, l.BlockSize, l.VoxelSize, l.VoxelsPerSide)
	if blk, ok := l.GetBlock(bi); ok {
		assert.False(t, blk.VoxelAt(vi).Observed())
	}

	nearOriginBi := layer.BlockIndexOf(spatial.Vec3{X: 0.2}, l.BlockSize)
	nearOriginVi := layer.VoxelIndexOf(spatial.Vec3{X: 0.2}, nearOriginBi, l.BlockSize, l.VoxelSize, l.VoxelsPerSide)
	blk, ok := l.GetBlock(nearOriginBi)
	require.True(t, ok)
	assert.True(t, blk.VoxelAt(nearOriginVi).Observed())
}

func TestNewFactorySelectsFlavor(t *testing.T) {
	assert.Equal(t, MethodSimple, New(MethodSimple, Params{}).Method())
	assert.Equal(t, MethodMerged, New(MethodMerged, Params{}).Method())
	assert.Equal(t, MethodMerged, New(MethodFast, Params{}).Method())
	assert.Equal(t, MethodProjective, New(MethodProjective, Params{}).Method())
	assert.Equal(t, MethodMerged, New(Method("unknown"), Params{}).Method())
}
