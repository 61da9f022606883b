package submap

import (
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/kabilan-n/tsdf-fusion/internal/config"
	"github.com/kabilan-n/tsdf-fusion/internal/layer"
	"github.com/kabilan-n/tsdf-fusion/internal/spatial"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBookkeepingScenarioS4DistanceThreshold(t *testing.T) {
	bk := Bookkeeping{}
	positions := []float64{0, 1.0, 1.9, 2.1, 2.2}
	maxDist := config.OptionalFloat{Set: true, Value: 2.0}

	var cuts []int
	for i, x := range positions {
		p := spatial.Vec3{X: x}
		t0 := time.Unix(int64(i), 0)
		if bk.ShouldCut(config.OptionalFloat{}, maxDist, t0, p) {
			cuts = append(cuts, i)
			bk = bk.Advance(t0, p)
		} else if bk.LastPosition == nil {
			bk = bk.Seed(t0, p)
		}
	}
	assert.Equal(t, []int{3}, cuts)
}

func TestWriteToDirectoryRejectsRelativePath(t *testing.T) {
	l := layer.New(0.1, 8)
	_, _, err := WriteToDirectory("relative/dir", 1, l, "robot", "map", nil)
	assert.Error(t, err)
}

func TestWriteAndLoadLayerFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	l := layer.New(0.1, 4)
	blk := l.AllocateBlock(layer.BlockIndex{X: 1, Y: 2, Z: 3})
	blk.HasData = true
	blk.Voxels[0] = layer.Voxel{D: 0.05, W: 1, Color: layer.RGB{R: 10, G: 20, B: 30}}

	layerPath, trajPath, err := WriteToDirectory(dir, 7, l, "husky", "map", []TrajectoryPoint{
		{TimestampNS: 1000, Position: spatial.Vec3{X: 1, Y: 2, Z: 3}, Quaternion: [4]float64{1, 0, 0, 0}},
	})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "voxblox_submap_7", "volumetric_map.tsdf"), layerPath)
	assert.Equal(t, filepath.Join(dir, "voxblox_submap_7", "robot_trajectory.traj"), trajPath)

	loaded, err := LoadLayerFile(layerPath, 0.1, 4)
	require.NoError(t, err)
	gotBlk, ok := loaded.GetBlock(layer.BlockIndex{X: 1, Y: 2, Z: 3})
	require.True(t, ok)
	assert.True(t, gotBlk.HasData)
	assert.Equal(t, float32(0.05), gotBlk.Voxels[0].D)
	assert.Equal(t, layer.RGB{R: 10, G: 20, B: 30}, gotBlk.Voxels[0].Color)

	robotName, frameID, traj, err := LoadTrajectoryFile(trajPath)
	require.NoError(t, err)
	assert.Equal(t, "husky", robotName)
	assert.Equal(t, "map", frameID)
	require.Len(t, traj, 1)
	assert.Equal(t, int64(1000), traj[0].TimestampNS)
	assert.Equal(t, spatial.Vec3{X: 1, Y: 2, Z: 3}, traj[0].Position)
}

func TestTrajectoryPointFromPoseIdentityYieldsIdentityQuaternion(t *testing.T) {
	pt := TrajectoryPointFromPose(time.Unix(0, 42), spatial.Identity())
	assert.InDelta(t, 1, pt.Quaternion[0], 1e-9)
	assert.InDelta(t, 0, pt.Quaternion[1], 1e-9)
	assert.InDelta(t, 0, pt.Quaternion[2], 1e-9)
	assert.InDelta(t, 0, pt.Quaternion[3], 1e-9)
}

func TestQuaternionFromMat3IsUnitForRotatedPose(t *testing.T) {
	pose := spatial.ExpSE3([6]float64{0, 0, 0, 0, 0, math.Pi / 2})
	q := quaternionFromMat3(pose.R)
	norm := math.Sqrt(q[0]*q[0] + q[1]*q[1] + q[2]*q[2] + q[3]*q[3])
	assert.InDelta(t, 1.0, norm, 1e-9)
}

func TestIsAbsoluteASCIIRejectsNonASCII(t *testing.T) {
	assert.False(t, isAbsoluteASCII("/tmp/café"))
	assert.True(t, isAbsoluteASCII("/tmp/submaps"))
	assert.False(t, isAbsoluteASCII("submaps"))
}
