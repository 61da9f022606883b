package mesher

import (
	"github.com/kabilan-n/tsdf-fusion/internal/layer"
	"github.com/kabilan-n/tsdf-fusion/internal/spatial"
)

// Generator runs marching-tetrahedra extraction over dirty blocks of a
// layer into a paired MeshLayer.
type Generator struct{}

// NewGenerator constructs a mesh Generator. It carries no configuration
// of its own — color/normal handling is fixed by the extraction rule in
// spec.md §4.C.
func NewGenerator() *Generator { return &Generator{} }

// Generate walks l's blocks — only those carrying the kMesh marker when
// onlyUpdated is true, otherwise every block — and rebuilds each one's
// mesh in ml. If clearFlag is set, the kMesh marker is cleared on l once
// its mesh has been rebuilt.
func (g *Generator) Generate(l *layer.Layer, ml *MeshLayer, onlyUpdated, clearFlag bool) {
	var targets []layer.BlockIndex
	if onlyUpdated {
		targets = l.BlocksWithMarker(layer.PurposeMesh)
	} else {
		targets = l.Blocks()
	}

	for _, bi := range targets {
		blk, ok := l.GetBlock(bi)
		if !ok {
			continue
		}
		mesh := ml.GetOrCreate(bi)
		mesh.Vertices, mesh.Indices = meshBlock(l, bi, blk)
		mesh.Updated = true
		if clearFlag {
			l.ClearMarker(bi, layer.PurposeMesh)
		}
	}
}

// worldPos returns the world-frame center of the voxel at lattice point
// (lx,ly,lz) relative to block bi, the position its d value describes.
func worldPos(l *layer.Layer, bi layer.BlockIndex, lx, ly, lz int) spatial.Vec3 {
	return spatial.Vec3{
		X: float64(bi.X)*l.BlockSize + (float64(lx)+0.5)*l.VoxelSize,
		Y: float64(bi.Y)*l.BlockSize + (float64(ly)+0.5)*l.VoxelSize,
		Z: float64(bi.Z)*l.BlockSize + (float64(lz)+0.5)*l.VoxelSize,
	}
}

// gradientAt estimates the normalized gradient of d at lattice point
// (lx,ly,lz) via central differences against its 6-connected neighbors,
// skipping any axis whose neighbors aren't both observed. Falls back to
// +Z if no axis has a usable pair (e.g. an isolated observed voxel).
func gradientAt(l *layer.Layer, bi layer.BlockIndex, lx, ly, lz int) spatial.Vec3 {
	axis := func(dx, dy, dz int) float64 {
		plus, okP := l.NeighborVoxel(bi, lx+dx, ly+dy, lz+dz)
		minus, okM := l.NeighborVoxel(bi, lx-dx, ly-dy, lz-dz)
		if !okP || !okM || !plus.Observed() || !minus.Observed() {
			return 0
		}
		return float64(plus.D - minus.D)
	}
	g := spatial.Vec3{X: axis(1, 0, 0), Y: axis(0, 1, 0), Z: axis(0, 0, 1)}
	if g.Norm() < 1e-9 {
		return spatial.Vec3{Z: 1}
	}
	return g.Normalized()
}

type cubeCorner struct {
	v      *layer.Voxel
	ok     bool
	pos    spatial.Vec3
	grad   spatial.Vec3
	lx, ly int
	lz     int
}

// meshBlock extracts all triangles for the S^3 voxels of blk (plus the
// one-voxel skirt drawn from bi's neighbors) and returns them as an
// unwelded triangle soup.
func meshBlock(l *layer.Layer, bi layer.BlockIndex, blk *layer.Block) ([]Vertex, []uint32) {
	var vertices []Vertex
	var indices []uint32

	s := blk.VoxelsPerSide
	for x := 0; x < s; x++ {
		for y := 0; y < s; y++ {
			for z := 0; z < s; z++ {
				var corners [8]cubeCorner
				for ci, off := range cornerOffsets {
					lx, ly, lz := x+off[0], y+off[1], z+off[2]
					v, ok := l.NeighborVoxel(bi, lx, ly, lz)
					c := cubeCorner{v: v, ok: ok, lx: lx, ly: ly, lz: lz, pos: worldPos(l, bi, lx, ly, lz)}
					if ok && v.Observed() {
						c.grad = gradientAt(l, bi, lx, ly, lz)
					}
					corners[ci] = c
				}

				for _, tet := range tetrahedra {
					newVerts, newIdx := meshTetra(corners, tet, uint32(len(vertices)))
					vertices = append(vertices, newVerts...)
					indices = append(indices, newIdx...)
				}
			}
		}
	}
	return vertices, indices
}

// meshTetra extracts the 0, 1, or 2 triangles for one tetrahedron
// (given by 4 cube-corner indices into corners), returning new vertices
// and their indices offset by vertexBase.
func meshTetra(corners [8]cubeCorner, tet [4]int, vertexBase uint32) ([]Vertex, []uint32) {
	caseIdx := 0
	for i, ci := range tet {
		c := corners[ci]
		if c.ok && c.v.Observed() && c.v.D < 0 {
			caseIdx |= 1 << uint(i)
		}
	}
	tris, ok := tetraCaseTriangles[caseIdx]
	if !ok {
		return nil, nil
	}

	var verts []Vertex
	var idx []uint32
	for _, tri := range tris {
		triVerts := make([]Vertex, 0, 3)
		valid := true
		for _, edgeIdx := range tri {
			pair := tetraEdges[edgeIdx]
			a := corners[tet[pair[0]]]
			b := corners[tet[pair[1]]]
			if !a.ok || !b.ok || !a.v.Observed() || !b.v.Observed() {
				valid = false
				break
			}
			triVerts = append(triVerts, interpolateEdge(a, b))
		}
		if !valid {
			continue
		}
		base := vertexBase + uint32(len(verts))
		verts = append(verts, triVerts...)
		idx = append(idx, base, base+1, base+2)
	}
	return verts, idx
}

// interpolateEdge linearly interpolates position, normal, and color at
// the zero-crossing of d between corners a and b.
func interpolateEdge(a, b cubeCorner) Vertex {
	da, db := float64(a.v.D), float64(b.v.D)
	denom := da - db
	t := 0.5
	if denom != 0 {
		t = da / denom
	}
	if t < 0 {
		t = 0
	}
	if t > 1 {
		t = 1
	}

	pos := spatial.Vec3{
		X: a.pos.X + t*(b.pos.X-a.pos.X),
		Y: a.pos.Y + t*(b.pos.Y-a.pos.Y),
		Z: a.pos.Z + t*(b.pos.Z-a.pos.Z),
	}
	normal := spatial.Vec3{
		X: a.grad.X + t*(b.grad.X-a.grad.X),
		Y: a.grad.Y + t*(b.grad.Y-a.grad.Y),
		Z: a.grad.Z + t*(b.grad.Z-a.grad.Z),
	}
	if n := normal.Norm(); n > 1e-9 {
		normal = normal.Scale(1 / n)
	}
	mix := func(ca, cb uint8) uint8 {
		v := float64(ca) + t*(float64(cb)-float64(ca))
		return uint8(v + 0.5)
	}
	color := layer.RGB{R: mix(a.v.Color.R, b.v.Color.R), G: mix(a.v.Color.G, b.v.Color.G), B: mix(a.v.Color.B, b.v.Color.B)}

	return Vertex{Pos: pos, Normal: normal, Color: color}
}
