// Package codec implements the TSDF wire/file format: a fixed-width
// per-block header (index, voxel scale, voxels-per-side) followed by a
// packed voxel array, and a thin message wrapper distinguishing a "full
// layer replace" from a "delta" (only kMap-dirty blocks, which also
// atomically clears that marker on encode — see spec.md §4.G/§5). This
// is the same format used for both the tsdf_map transport topic and the
// on-disk volumetric_map.tsdf submap file.
package codec

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/kabilan-n/tsdf-fusion/internal/layer"
)

// Mode distinguishes a full-layer replace from a delta-only emission.
type Mode uint8

const (
	ModeFull Mode = iota
	ModeDelta
)

const blockHeaderMagic uint32 = 0x54534446 // "TSDF"

// blockHeader is the fixed-width prefix of every encoded block:
// magic, 3x int32 block index, float64 voxel size, int32 voxels-per-side,
// and a bool (as uint8) has-data flag.
type blockHeader struct {
	Magic         uint32
	X, Y, Z       int32
	VoxelSize     float64
	VoxelsPerSide int32
	HasData       uint8
}

// EncodeBlock writes bi/blk's fixed-width header followed by its packed
// voxel array (D, W as float32, R/G/B as uint8, 11 bytes per voxel).
func EncodeBlock(w io.Writer, bi layer.BlockIndex, blk *layer.Block, voxelSize float64) error {
	hasData := uint8(0)
	if blk.HasData {
		hasData = 1
	}
	hdr := blockHeader{
		Magic:         blockHeaderMagic,
		X:             bi.X,
		Y:             bi.Y,
		Z:             bi.Z,
		VoxelSize:     voxelSize,
		VoxelsPerSide: int32(blk.VoxelsPerSide),
		HasData:       hasData,
	}
	if err := binary.Write(w, binary.LittleEndian, hdr); err != nil {
		return fmt.Errorf("codec: write block header: %w", err)
	}
	for i := range blk.Voxels {
		v := blk.Voxels[i]
		if err := binary.Write(w, binary.LittleEndian, v.D); err != nil {
			return fmt.Errorf("codec: write voxel %d D: %w", i, err)
		}
		if err := binary.Write(w, binary.LittleEndian, v.W); err != nil {
			return fmt.Errorf("codec: write voxel %d W: %w", i, err)
		}
		rgb := [3]byte{v.Color.R, v.Color.G, v.Color.B}
		if _, err := w.Write(rgb[:]); err != nil {
			return fmt.Errorf("codec: write voxel %d color: %w", i, err)
		}
	}
	return nil
}

// DecodedBlock is one block read back by DecodeBlock.
type DecodedBlock struct {
	Index         layer.BlockIndex
	VoxelSize     float64
	VoxelsPerSide int
	HasData       bool
	Voxels        []layer.Voxel
}

// DecodeBlock reads one block previously written by EncodeBlock.
func DecodeBlock(r io.Reader) (DecodedBlock, error) {
	var hdr blockHeader
	if err := binary.Read(r, binary.LittleEndian, &hdr); err != nil {
		return DecodedBlock{}, fmt.Errorf("codec: read block header: %w", err)
	}
	if hdr.Magic != blockHeaderMagic {
		return DecodedBlock{}, fmt.Errorf("codec: bad block magic %#x", hdr.Magic)
	}
	n := int(hdr.VoxelsPerSide) * int(hdr.VoxelsPerSide) * int(hdr.VoxelsPerSide)
	voxels := make([]layer.Voxel, n)
	for i := 0; i < n; i++ {
		if err := binary.Read(r, binary.LittleEndian, &voxels[i].D); err != nil {
			return DecodedBlock{}, fmt.Errorf("codec: read voxel %d D: %w", i, err)
		}
		if err := binary.Read(r, binary.LittleEndian, &voxels[i].W); err != nil {
			return DecodedBlock{}, fmt.Errorf("codec: read voxel %d W: %w", i, err)
		}
		var rgb [3]byte
		if _, err := io.ReadFull(r, rgb[:]); err != nil {
			return DecodedBlock{}, fmt.Errorf("codec: read voxel %d color: %w", i, err)
		}
		voxels[i].Color = layer.RGB{R: rgb[0], G: rgb[1], B: rgb[2]}
	}
	return DecodedBlock{
		Index:         layer.BlockIndex{X: hdr.X, Y: hdr.Y, Z: hdr.Z},
		VoxelSize:     hdr.VoxelSize,
		VoxelsPerSide: int(hdr.VoxelsPerSide),
		HasData:       hdr.HasData != 0,
		Voxels:        voxels,
	}, nil
}

// messageHeader prefixes an encoded layer message.
type messageHeader struct {
	Mode      uint8
	NumBlocks uint32
}

// EncodeLayer writes l as a message: ModeFull emits every block; ModeDelta
// emits only blocks carrying the kMap marker and then clears that marker
// on every emitted block, matching the "delta publishes atomically
// consume and clear the kMap marker set" ordering guarantee.
func EncodeLayer(w io.Writer, l *layer.Layer, mode Mode) error {
	var indices []layer.BlockIndex
	if mode == ModeDelta {
		indices = l.BlocksWithMarker(layer.PurposeMap)
	} else {
		indices = l.Blocks()
	}

	if err := binary.Write(w, binary.LittleEndian, messageHeader{Mode: uint8(mode), NumBlocks: uint32(len(indices))}); err != nil {
		return fmt.Errorf("codec: write message header: %w", err)
	}

	for _, bi := range indices {
		blk, ok := l.GetBlock(bi)
		if !ok {
			continue
		}
		if err := EncodeBlock(w, bi, blk, l.VoxelSize); err != nil {
			return err
		}
		if mode == ModeDelta {
			l.ClearMarker(bi, layer.PurposeMap)
		}
	}
	return nil
}

// DecodeLayer reads a message previously written by EncodeLayer and
// applies it to l. If the message is a full replace (or replace is
// forced by the caller — e.g. a newly-subscribed client must always
// receive a full replace first), l is cleared before blocks are applied.
// Every applied block gets its kMap/kMesh markers set so downstream
// pruning/meshing notices the newly-arrived data.
func DecodeLayer(r io.Reader, l *layer.Layer, forceReplace bool) error {
	var hdr messageHeader
	if err := binary.Read(r, binary.LittleEndian, &hdr); err != nil {
		return fmt.Errorf("codec: read message header: %w", err)
	}
	if forceReplace || Mode(hdr.Mode) == ModeFull {
		l.Clear()
	}

	for i := uint32(0); i < hdr.NumBlocks; i++ {
		db, err := DecodeBlock(r)
		if err != nil {
			return fmt.Errorf("codec: decode block %d of %d: %w", i, hdr.NumBlocks, err)
		}
		blk := l.AllocateBlock(db.Index)
		copy(blk.Voxels, db.Voxels)
		blk.HasData = db.HasData
		l.SetMarker(db.Index, layer.PurposeMap)
		l.SetMarker(db.Index, layer.PurposeMesh)
	}
	return nil
}
