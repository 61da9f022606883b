// Package pointcloud decodes a raw, wire-format point cloud into the
// (points, colors) pair the integrator and ICP refiner consume. A cloud
// carries one of three field schemas — packed RGB floats, a single
// intensity channel mapped through a configured colormap, or plain XYZ
// with no color — dispatched the same way the reference corpus's frame
// decoder switches on packet/field layout.
package pointcloud

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/kabilan-n/tsdf-fusion/internal/colormap"
	"github.com/kabilan-n/tsdf-fusion/internal/layer"
	"github.com/kabilan-n/tsdf-fusion/internal/spatial"
)

// Schema names which fields a RawPointCloud carries alongside XYZ.
type Schema int

const (
	SchemaXYZ Schema = iota
	SchemaRGB
	SchemaIntensity
)

// RawPointCloud is the wire-level shape decoded from a transport
// message: a schema tag, a stride, and one flat packed float32 buffer
// holding Stride floats per point (x, y, z, plus a 4th field whose
// meaning depends on Schema). This mirrors the flat-buffer-plus-stride shape point cloud
// messages use on the wire (PointCloud2-style), avoiding a
// per-point struct allocation during decode.
type RawPointCloud struct {
	Schema Schema
	Stride int // floats per point: 3 for XYZ, 4 for RGB/Intensity
	Data   []float32
	// ColorMap/IntensityMax apply only when Schema == SchemaIntensity.
	ColorMap     colormap.Map
	IntensityMax float64
}

// Decode splits msg into parallel point/color slices. For SchemaXYZ,
// colors are all black (zero value) since no color data exists.
func Decode(msg RawPointCloud) ([]spatial.Vec3, []layer.RGB, error) {
	if msg.Stride <= 0 {
		return nil, nil, fmt.Errorf("pointcloud: invalid stride %d", msg.Stride)
	}
	if len(msg.Data)%msg.Stride != 0 {
		return nil, nil, fmt.Errorf("pointcloud: data length %d not a multiple of stride %d", len(msg.Data), msg.Stride)
	}
	n := len(msg.Data) / msg.Stride
	points := make([]spatial.Vec3, n)
	colors := make([]layer.RGB, n)

	for i := 0; i < n; i++ {
		base := i * msg.Stride
		points[i] = spatial.Vec3{
			X: float64(msg.Data[base+0]),
			Y: float64(msg.Data[base+1]),
			Z: float64(msg.Data[base+2]),
		}
		switch msg.Schema {
		case SchemaRGB:
			if msg.Stride < 4 {
				return nil, nil, fmt.Errorf("pointcloud: rgb schema needs stride >= 4, got %d", msg.Stride)
			}
			colors[i] = unpackRGBFloat(msg.Data[base+3])
		case SchemaIntensity:
			if msg.Stride < 4 {
				return nil, nil, fmt.Errorf("pointcloud: intensity schema needs stride >= 4, got %d", msg.Stride)
			}
			colors[i] = colormap.Apply(msg.ColorMap, float64(msg.Data[base+3]), msg.IntensityMax)
		case SchemaXYZ:
			// colors[i] stays zero-value black.
		default:
			return nil, nil, fmt.Errorf("pointcloud: unknown schema %d", msg.Schema)
		}
	}
	return points, colors, nil
}

// unpackRGBFloat decodes a packed-float RGB field: the IEEE-754 bit
// pattern of the float32 reinterpreted as a 0x00RRGGBB big-endian
// 24-bit color, the same packing PCL-derived point cloud formats use
// for their "rgb" field.
func unpackRGBFloat(f float32) layer.RGB {
	bits := math.Float32bits(f)
	return layer.RGB{
		R: uint8(bits >> 16),
		G: uint8(bits >> 8),
		B: uint8(bits),
	}
}

// packRGBFloat is the encode-side counterpart, exercised only by tests
// to build round-trippable fixtures.
func packRGBFloat(c layer.RGB) float32 {
	bits := uint32(c.R)<<16 | uint32(c.G)<<8 | uint32(c.B)
	return math.Float32frombits(bits)
}

// encodeFloat32LE/decodeFloat32LE support constructing/parsing
// RawPointCloud.Data from little-endian wire bytes, the layout
// DecodeUDP's payload slicer hands off to Decode.
func encodeFloat32LE(v float32) [4]byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], math.Float32bits(v))
	return b
}

func decodeFloat32LE(b []byte) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(b))
}
