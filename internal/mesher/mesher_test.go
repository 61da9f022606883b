package mesher

import (
	"testing"

	"github.com/kabilan-n/tsdf-fusion/internal/layer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sphereLayer(t *testing.T) (*layer.Layer, layer.BlockIndex) {
	t.Helper()
	l := layer.New(0.1, 8)
	bi := layer.BlockIndex{}
	blk := l.AllocateBlock(bi)
	center := float64(blk.VoxelsPerSide) / 2
	radius := 3.0
	for x := 0; x < blk.VoxelsPerSide; x++ {
		for y := 0; y < blk.VoxelsPerSide; y++ {
			for z := 0; z < blk.VoxelsPerSide; z++ {
				dx, dy, dz := float64(x)-center, float64(y)-center, float64(z)-center
				dist := (dx*dx + dy*dy + dz*dz)
				d := dist - radius*radius
				v := blk.VoxelAt(layer.VoxelIndex{X: x, Y: y, Z: z})
				v.D = float32(d / 10)
				v.W = 1
				v.Color = layer.RGB{R: 128, G: 128, B: 128}
			}
		}
	}
	l.SetMarker(bi, layer.PurposeMesh)
	return l, bi
}

func TestGenerateEmptyBlockProducesEmptyMesh(t *testing.T) {
	l := layer.New(0.1, 8)
	bi := layer.BlockIndex{}
	l.AllocateBlock(bi)
	l.SetMarker(bi, layer.PurposeMesh)

	ml := NewMeshLayer()
	NewGenerator().Generate(l, ml, true, true)

	mesh, ok := ml.Get(bi)
	require.True(t, ok)
	assert.Empty(t, mesh.Vertices)
	assert.Empty(t, mesh.Indices)
}

func TestGenerateSphereProducesTriangles(t *testing.T) {
	l, bi := sphereLayer(t)
	ml := NewMeshLayer()
	NewGenerator().Generate(l, ml, true, true)

	mesh, ok := ml.Get(bi)
	require.True(t, ok)
	assert.NotEmpty(t, mesh.Vertices)
	assert.NotEmpty(t, mesh.Indices)
	assert.Equal(t, 0, len(mesh.Indices)%3)
	assert.True(t, mesh.Updated)
}

func TestGenerateWithClearFlagClearsMeshMarker(t *testing.T) {
	l, bi := sphereLayer(t)
	ml := NewMeshLayer()
	NewGenerator().Generate(l, ml, true, true)

	blk, ok := l.GetBlock(bi)
	require.True(t, ok)
	assert.False(t, blk.HasMarker(layer.PurposeMesh))
}

func TestMeshLayerClearMarksUpdatedAndEmpty(t *testing.T) {
	l, bi := sphereLayer(t)
	ml := NewMeshLayer()
	NewGenerator().Generate(l, ml, true, true)
	ml.ClearUpdated(bi)

	ml.Clear(bi)
	mesh, ok := ml.Get(bi)
	require.True(t, ok)
	assert.Empty(t, mesh.Vertices)
	assert.True(t, mesh.Updated)
}

func TestMeshLayerUpdatedTracksDirtyMeshes(t *testing.T) {
	l, bi := sphereLayer(t)
	ml := NewMeshLayer()
	NewGenerator().Generate(l, ml, true, true)

	assert.Contains(t, ml.Updated(), bi)
	ml.ClearUpdated(bi)
	assert.NotContains(t, ml.Updated(), bi)
}
