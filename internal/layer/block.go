package layer

// Block is a fixed-edge cube of VoxelsPerSide^3 voxels, addressed by a
// BlockIndex in its owning Layer. Voxels are stored flat, row-major in
// (x,y,z) order (see VoxelIndex.LinearIndex).
type Block struct {
	VoxelsPerSide int
	Voxels        []Voxel
	HasData       bool
	markers       markerSet
}

// newBlock allocates a zero-initialized block of the given side length.
func newBlock(voxelsPerSide int) Block {
	return Block{
		VoxelsPerSide: voxelsPerSide,
		Voxels:        make([]Voxel, voxelsPerSide*voxelsPerSide*voxelsPerSide),
	}
}

// VoxelAt returns a pointer to the voxel at vi within the block so callers
// can mutate it in place without a read-modify-write round trip through
// the Layer.
func (b *Block) VoxelAt(vi VoxelIndex) *Voxel {
	return &b.Voxels[vi.LinearIndex(b.VoxelsPerSide)]
}

// SetMarker sets the given purpose marker on the block.
func (b *Block) SetMarker(p Purpose) { b.markers = b.markers.set(p) }

// ClearMarker clears the given purpose marker on the block.
func (b *Block) ClearMarker(p Purpose) { b.markers = b.markers.clear(p) }

// HasMarker reports whether the given purpose marker is set.
func (b *Block) HasMarker(p Purpose) bool { return b.markers.has(p) }

// AllVoxelsBelowWeight reports whether every voxel in the block has
// weight strictly below eps — the prune-safety predicate from the
// ingest pipeline's periodic pruning pass.
func (b *Block) AllVoxelsBelowWeight(eps float32) bool {
	for i := range b.Voxels {
		if b.Voxels[i].W >= eps {
			return false
		}
	}
	return true
}
