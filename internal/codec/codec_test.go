package codec

import (
	"bytes"
	"testing"

	"github.com/kabilan-n/tsdf-fusion/internal/layer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func populatedLayer() *layer.Layer {
	l := layer.New(0.1, 4)
	bi := layer.BlockIndex{X: 1, Y: -2, Z: 0}
	blk := l.AllocateBlock(bi)
	blk.HasData = true
	v := blk.VoxelAt(layer.VoxelIndex{X: 0, Y: 0, Z: 0})
	v.D = 0.05
	v.W = 3
	v.Color = layer.RGB{R: 10, G: 20, B: 30}
	l.SetMarker(bi, layer.PurposeMap)
	return l
}

func TestEncodeDecodeBlockRoundTrip(t *testing.T) {
	l := populatedLayer()
	bi := layer.BlockIndex{X: 1, Y: -2, Z: 0}
	blk, _ := l.GetBlock(bi)

	var buf bytes.Buffer
	require.NoError(t, EncodeBlock(&buf, bi, blk, l.VoxelSize))

	db, err := DecodeBlock(&buf)
	require.NoError(t, err)
	assert.Equal(t, bi, db.Index)
	assert.Equal(t, 4, db.VoxelsPerSide)
	assert.True(t, db.HasData)
	v0 := db.Voxels[0]
	assert.InDelta(t, 0.05, float64(v0.D), 1e-6)
	assert.Equal(t, float32(3), v0.W)
	assert.Equal(t, uint8(10), v0.Color.R)
}

func TestEncodeLayerFullThenDecodeReplace(t *testing.T) {
	src := populatedLayer()

	var buf bytes.Buffer
	require.NoError(t, EncodeLayer(&buf, src, ModeFull))

	dst := layer.New(0.1, 4)
	require.NoError(t, DecodeLayer(&buf, dst, false))

	assert.Equal(t, 1, dst.NumBlocks())
	bi := layer.BlockIndex{X: 1, Y: -2, Z: 0}
	blk, ok := dst.GetBlock(bi)
	require.True(t, ok)
	assert.True(t, blk.HasMarker(layer.PurposeMap))
	assert.True(t, blk.HasMarker(layer.PurposeMesh))
}

func TestEncodeLayerDeltaClearsMapMarker(t *testing.T) {
	src := populatedLayer()
	bi := layer.BlockIndex{X: 1, Y: -2, Z: 0}

	var buf bytes.Buffer
	require.NoError(t, EncodeLayer(&buf, src, ModeDelta))

	blk, ok := src.GetBlock(bi)
	require.True(t, ok)
	assert.False(t, blk.HasMarker(layer.PurposeMap))
}

func TestDecodeLayerForceReplaceClearsExisting(t *testing.T) {
	src := populatedLayer()
	var buf bytes.Buffer
	require.NoError(t, EncodeLayer(&buf, src, ModeFull))

	dst := layer.New(0.1, 4)
	dst.AllocateBlock(layer.BlockIndex{X: 99, Y: 99, Z: 99})
	require.NoError(t, DecodeLayer(&buf, dst, true))

	_, stillThere := dst.GetBlock(layer.BlockIndex{X: 99, Y: 99, Z: 99})
	assert.False(t, stillThere)
	assert.Equal(t, 1, dst.NumBlocks())
}
