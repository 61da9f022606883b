// Package mesher implements the incremental mesh integrator: it walks
// "dirty" TSDF blocks and maintains a parallel MeshLayer via a
// marching-tetrahedra surface extraction (see mctables.go for why
// tetrahedra rather than the classic 256-case cube table).
package mesher

import (
	"sync"

	"github.com/kabilan-n/tsdf-fusion/internal/layer"
	"github.com/kabilan-n/tsdf-fusion/internal/spatial"
)

// Vertex is one mesh sample: position, normal, and color, all in world
// frame / block-local color space.
type Vertex struct {
	Pos    spatial.Vec3
	Normal spatial.Vec3
	Color  layer.RGB
}

// Mesh is the triangle soup for one block: Indices are always a flat
// list of triples into Vertices (no shared-vertex welding across
// tetrahedra — simple and correct, if not minimal).
type Mesh struct {
	Vertices []Vertex
	Indices  []uint32
	Updated  bool
}

// MeshLayer is the mesh-side counterpart to layer.Layer, keyed by the
// same BlockIndex. A mesh is never deleted from the map — only cleared
// and marked Updated — so that removing a TSDF block still produces an
// observable "this mesh is now empty" event for downstream publishers,
// per the back-reference-by-index ownership rule.
type MeshLayer struct {
	mu     sync.RWMutex
	meshes map[layer.BlockIndex]*Mesh
}

// NewMeshLayer constructs an empty MeshLayer.
func NewMeshLayer() *MeshLayer {
	return &MeshLayer{meshes: make(map[layer.BlockIndex]*Mesh)}
}

// GetOrCreate returns the mesh for bi, allocating an empty one if absent.
func (ml *MeshLayer) GetOrCreate(bi layer.BlockIndex) *Mesh {
	ml.mu.Lock()
	defer ml.mu.Unlock()
	m, ok := ml.meshes[bi]
	if !ok {
		m = &Mesh{}
		ml.meshes[bi] = m
	}
	return m
}

// Get returns the mesh for bi, or (nil, false) if it was never created.
func (ml *MeshLayer) Get(bi layer.BlockIndex) (*Mesh, bool) {
	ml.mu.RLock()
	defer ml.mu.RUnlock()
	m, ok := ml.meshes[bi]
	return m, ok
}

// Clear empties the mesh at bi (creating it first if absent) and marks
// it Updated, so a downstream delta-publish sees an explicit deletion.
// Called by the ingest pipeline whenever it removes the paired TSDF
// block (pruning or spatial cull).
func (ml *MeshLayer) Clear(bi layer.BlockIndex) {
	ml.mu.Lock()
	defer ml.mu.Unlock()
	m, ok := ml.meshes[bi]
	if !ok {
		m = &Mesh{}
		ml.meshes[bi] = m
	}
	m.Vertices = nil
	m.Indices = nil
	m.Updated = true
}

// Updated returns the indices of every mesh currently flagged Updated.
func (ml *MeshLayer) Updated() []layer.BlockIndex {
	ml.mu.RLock()
	defer ml.mu.RUnlock()
	var out []layer.BlockIndex
	for idx, m := range ml.meshes {
		if m.Updated {
			out = append(out, idx)
		}
	}
	return out
}

// ClearUpdated resets the Updated flag on the mesh at bi, once a
// publisher has consumed it.
func (ml *MeshLayer) ClearUpdated(bi layer.BlockIndex) {
	ml.mu.Lock()
	defer ml.mu.Unlock()
	if m, ok := ml.meshes[bi]; ok {
		m.Updated = false
	}
}
