// Command submap-inspect is an offline tool for a persisted submap
// directory (the voxblox_submap_<n>/volumetric_map.tsdf +
// robot_trajectory.traj layout internal/submap writes): it reports
// block/voxel occupancy and, with -ply, runs the mesher once and
// exports the result as an ASCII PLY mesh for viewing in any mesh
// viewer — the same load-then-report shape as the reference corpus's
// single-purpose cmd/tools utilities.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/kabilan-n/tsdf-fusion/internal/layer"
	"github.com/kabilan-n/tsdf-fusion/internal/mesher"
	"github.com/kabilan-n/tsdf-fusion/internal/submap"
)

func main() {
	layerPath := flag.String("layer", "", "path to a volumetric_map.tsdf file (required)")
	trajPath := flag.String("trajectory", "", "path to the matching robot_trajectory.traj file (optional)")
	voxelSize := flag.Float64("voxel-size", 0.1, "voxel size in meters, must match the size the submap was written with")
	voxelsPerSide := flag.Int("voxels-per-side", 16, "voxels per block side, must match the submap's layout")
	plyPath := flag.String("ply", "", "if set, write an ASCII PLY mesh of the loaded submap to this path")
	flag.Parse()

	if *layerPath == "" {
		fmt.Fprintln(os.Stderr, "submap-inspect: -layer is required")
		flag.Usage()
		os.Exit(1)
	}

	l, err := submap.LoadLayerFile(*layerPath, *voxelSize, *voxelsPerSide)
	if err != nil {
		log.Fatalf("submap-inspect: load layer %q: %v", *layerPath, err)
	}
	printLayerStats(l)

	if *trajPath != "" {
		robotName, frameID, traj, err := submap.LoadTrajectoryFile(*trajPath)
		if err != nil {
			log.Fatalf("submap-inspect: load trajectory %q: %v", *trajPath, err)
		}
		fmt.Printf("trajectory: robot=%q frame=%q points=%d\n", robotName, frameID, len(traj))
	}

	if *plyPath != "" {
		ml := mesher.NewMeshLayer()
		mesher.NewGenerator().Generate(l, ml, false, false)
		if err := writePLY(*plyPath, l, ml); err != nil {
			log.Fatalf("submap-inspect: write PLY %q: %v", *plyPath, err)
		}
		fmt.Printf("mesh written: %s\n", *plyPath)
	}
}

func printLayerStats(l *layer.Layer) {
	var voxelCount, observedCount int
	for _, bi := range l.Blocks() {
		blk, ok := l.GetBlock(bi)
		if !ok {
			continue
		}
		voxelCount += len(blk.Voxels)
		for _, v := range blk.Voxels {
			if v.Observed() {
				observedCount++
			}
		}
	}
	fmt.Printf("blocks: %d\n", l.NumBlocks())
	fmt.Printf("voxels: %d allocated, %d observed (%.1f%%)\n",
		voxelCount, observedCount, 100*float64(observedCount)/float64(max(voxelCount, 1)))
	fmt.Printf("voxel size: %.4f m, block size: %.4f m\n", l.VoxelSize, l.BlockSize)
}

// writePLY dumps every block's mesh in ml as a single ASCII PLY file:
// vertices carry position and color, faces are the flat index triples
// mesher.Mesh already produces (no shared-vertex welding, matching how
// the mesher builds them).
func writePLY(path string, l *layer.Layer, ml *mesher.MeshLayer) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	defer w.Flush()

	var vertices []mesher.Vertex
	var faces [][3]uint32
	for _, bi := range l.Blocks() {
		mesh, ok := ml.Get(bi)
		if !ok {
			continue
		}
		base := uint32(len(vertices))
		vertices = append(vertices, mesh.Vertices...)
		for i := 0; i+2 < len(mesh.Indices); i += 3 {
			faces = append(faces, [3]uint32{
				base + mesh.Indices[i],
				base + mesh.Indices[i+1],
				base + mesh.Indices[i+2],
			})
		}
	}

	fmt.Fprintf(w, "ply\n")
	fmt.Fprintf(w, "format ascii 1.0\n")
	fmt.Fprintf(w, "element vertex %d\n", len(vertices))
	fmt.Fprintf(w, "property float x\nproperty float y\nproperty float z\n")
	fmt.Fprintf(w, "property uchar red\nproperty uchar green\nproperty uchar blue\n")
	fmt.Fprintf(w, "element face %d\n", len(faces))
	fmt.Fprintf(w, "property list uchar int vertex_indices\n")
	fmt.Fprintf(w, "end_header\n")

	for _, v := range vertices {
		fmt.Fprintf(w, "%f %f %f %d %d %d\n", v.Pos.X, v.Pos.Y, v.Pos.Z, v.Color.R, v.Color.G, v.Color.B)
	}
	for _, face := range faces {
		fmt.Fprintf(w, "3 %d %d %d\n", face[0], face[1], face[2])
	}
	return w.Flush()
}
