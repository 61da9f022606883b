package layer

import "sync"

// Layer is the sparse mapping from BlockIndex to Block. Blocks are stored
// in an arena (a growable slice) indexed by a hash table keyed on
// BlockIndex, so repeated allocate/remove cycles reuse arena slots
// instead of triggering per-block heap churn — the arena-of-blocks +
// index-table scheme recommended for a hot sparse 3D key.
//
// Per the concurrency model, a Layer is mutated only from the ingest
// pipeline's single dispatch goroutine; mu exists to make read-only
// accessors (GetBlock, Blocks, BlocksWithMarker) safe to call from a
// concurrent debug/visualization path without coordinating with the
// dispatch goroutine.
type Layer struct {
	VoxelsPerSide int
	VoxelSize     float64
	BlockSize     float64 // VoxelSize * VoxelsPerSide

	mu    sync.RWMutex
	index map[BlockIndex]int32 // BlockIndex -> arena slot
	arena []Block
	free  []int32 // reclaimed arena slots, reused by AllocateBlock
}

// New constructs an empty Layer with the given voxel size (meters) and
// voxels-per-side (typically 8 or 16).
func New(voxelSize float64, voxelsPerSide int) *Layer {
	return &Layer{
		VoxelsPerSide: voxelsPerSide,
		VoxelSize:     voxelSize,
		BlockSize:     voxelSize * float64(voxelsPerSide),
		index:         make(map[BlockIndex]int32),
	}
}

// AllocateBlock returns the block at idx, creating a zero-initialized one
// if absent. Idempotent: calling it twice for the same index returns the
// same block.
func (l *Layer) AllocateBlock(idx BlockIndex) *Block {
	l.mu.Lock()
	defer l.mu.Unlock()
	if slot, ok := l.index[idx]; ok {
		return &l.arena[slot]
	}
	var slot int32
	if n := len(l.free); n > 0 {
		slot = l.free[n-1]
		l.free = l.free[:n-1]
		l.arena[slot] = newBlock(l.VoxelsPerSide)
	} else {
		slot = int32(len(l.arena))
		l.arena = append(l.arena, newBlock(l.VoxelsPerSide))
	}
	l.index[idx] = slot
	return &l.arena[slot]
}

// GetBlock returns the block at idx and true, or (nil, false) if absent.
func (l *Layer) GetBlock(idx BlockIndex) (*Block, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	slot, ok := l.index[idx]
	if !ok {
		return nil, false
	}
	return &l.arena[slot], true
}

// RemoveBlock drops the block at idx. Subsequent lookups are absent. The
// arena slot is recycled by a later AllocateBlock call.
func (l *Layer) RemoveBlock(idx BlockIndex) {
	l.mu.Lock()
	defer l.mu.Unlock()
	slot, ok := l.index[idx]
	if !ok {
		return
	}
	delete(l.index, idx)
	l.free = append(l.free, slot)
}

// NumBlocks returns the number of currently-allocated blocks.
func (l *Layer) NumBlocks() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.index)
}

// Blocks enumerates all currently-allocated block indices. Order is
// unspecified (map iteration order).
func (l *Layer) Blocks() []BlockIndex {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]BlockIndex, 0, len(l.index))
	for idx := range l.index {
		out = append(out, idx)
	}
	return out
}

// BlocksWithMarker returns the indices of blocks whose marker set
// includes purpose. It does not clear the marker.
func (l *Layer) BlocksWithMarker(purpose Purpose) []BlockIndex {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []BlockIndex
	for idx, slot := range l.index {
		if l.arena[slot].HasMarker(purpose) {
			out = append(out, idx)
		}
	}
	return out
}

// SetMarker sets the given marker on the block at idx, if present.
func (l *Layer) SetMarker(idx BlockIndex, purpose Purpose) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if slot, ok := l.index[idx]; ok {
		l.arena[slot].SetMarker(purpose)
	}
}

// ClearMarker clears the given marker on the block at idx, if present.
func (l *Layer) ClearMarker(idx BlockIndex, purpose Purpose) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if slot, ok := l.index[idx]; ok {
		l.arena[slot].ClearMarker(purpose)
	}
}

// RemoveBlocksBeyond removes all blocks whose center exceeds radius L2
// distance from center, returning their indices so callers (the mesher)
// can clear the paired mesh entries.
func (l *Layer) RemoveBlocksBeyond(center Vec3, radius float64) []BlockIndex {
	l.mu.Lock()
	defer l.mu.Unlock()
	var removed []BlockIndex
	r2 := radius * radius
	for idx := range l.index {
		d := idx.Center(l.BlockSize).Sub(center)
		if d.Dot(d) > r2 {
			removed = append(removed, idx)
		}
	}
	for _, idx := range removed {
		slot := l.index[idx]
		delete(l.index, idx)
		l.free = append(l.free, slot)
	}
	return removed
}

// NeighborVoxel resolves the voxel at lattice position (lx,ly,lz)
// relative to block bi's local grid, where each coordinate may range
// over [-1, VoxelsPerSide] to reach one voxel into a neighboring block.
// Returns (nil, false) if the neighboring block doesn't exist. Shared by
// the mesher (one-voxel skirt, gradient estimation) and the ICP refiner
// (trilinear sampling across block boundaries).
func (l *Layer) NeighborVoxel(bi BlockIndex, lx, ly, lz int) (*Voxel, bool) {
	s := l.VoxelsPerSide
	nbi := bi
	switch {
	case lx < 0:
		nbi.X--
		lx += s
	case lx >= s:
		nbi.X++
		lx -= s
	}
	switch {
	case ly < 0:
		nbi.Y--
		ly += s
	case ly >= s:
		nbi.Y++
		ly -= s
	}
	switch {
	case lz < 0:
		nbi.Z--
		lz += s
	case lz >= s:
		nbi.Z++
		lz -= s
	}
	blk, ok := l.GetBlock(nbi)
	if !ok {
		return nil, false
	}
	return blk.VoxelAt(VoxelIndex{X: lx, Y: ly, Z: lz}), true
}

// Clear drops every block in the layer. Used when a submap cut occurs
// with deintegration disabled.
func (l *Layer) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.index = make(map[BlockIndex]int32)
	l.arena = l.arena[:0]
	l.free = l.free[:0]
}
