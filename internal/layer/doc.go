// See layer.go for the Layer type and block.go/voxel.go for the data it
// stores. index.go holds the world<->block/voxel coordinate math shared
// by the integrator, mesher, and ingest packages.
package layer
