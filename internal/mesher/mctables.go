package mesher

// Surface extraction follows the marching-tetrahedra variant of
// marching cubes: each voxel cube is split into 6 tetrahedra sharing the
// 0-6 main diagonal, and each tetrahedron's 2^4 inside/outside corner
// pattern has one of three shapes (no crossing, one triangle, or a
// quad split into two triangles) rather than requiring the full
// 256-entry cube case table. This is the same zero-crossing,
// linear-interpolation contract the cube-based algorithm uses, just
// decomposed into a simplex whose cases enumerate far more easily
// without transcribing a large table by hand.

// cornerOffsets gives the unit-cube position of each of the 8 cube
// corners, numbered as in the reference marching-cubes literature.
var cornerOffsets = [8][3]int{
	{0, 0, 0}, {1, 0, 0}, {1, 1, 0}, {0, 1, 0},
	{0, 0, 1}, {1, 0, 1}, {1, 1, 1}, {0, 1, 1},
}

// tetrahedra lists the 6 tetrahedra (by cube-corner index) that share
// the main diagonal between corners 0 and 6.
var tetrahedra = [6][4]int{
	{0, 1, 2, 6},
	{0, 2, 3, 6},
	{0, 3, 7, 6},
	{0, 7, 4, 6},
	{0, 4, 5, 6},
	{0, 5, 1, 6},
}

// tetraEdges lists the 6 edges of a tetrahedron as pairs of local
// vertex indices (0..3, indexing into a tetrahedra[i] quadruple).
var tetraEdges = [6][2]int{
	{0, 1}, {1, 2}, {2, 0}, {0, 3}, {1, 3}, {2, 3},
}

// tetraCaseTriangles maps a 4-bit "which local vertices are inside the
// surface" case to the triangles to emit, each triangle given as three
// tetraEdges indices. Cases not listed (0 and 15, all-in or all-out)
// produce no triangles. The winding order is chosen so that normals
// from linked vertices point away from the "inside" (d < 0) corner,
// consistent with the SDF sign convention (negative = inside surface).
var tetraCaseTriangles = map[int][][3]int{
	// one vertex inside: cases 1, 2, 4, 8
	0b0001: {{0, 3, 2}},
	0b0010: {{0, 1, 4}},
	0b0100: {{1, 2, 5}},
	0b1000: {{3, 5, 4}},
	// three vertices inside (complement of one): reversed winding
	0b1110: {{0, 2, 3}},
	0b1101: {{0, 4, 1}},
	0b1011: {{1, 5, 2}},
	0b0111: {{3, 4, 5}},
	// two vertices inside: a quad split into two triangles
	0b0011: {{2, 3, 4}, {2, 4, 1}},
	0b1100: {{2, 1, 4}, {2, 4, 3}},
	0b0101: {{3, 0, 1}, {3, 1, 5}},
	0b1010: {{3, 5, 1}, {3, 1, 0}},
	0b0110: {{0, 2, 5}, {0, 5, 4}},
	0b1001: {{0, 4, 5}, {0, 5, 2}},
}
