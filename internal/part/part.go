// Package part provides access to the swap partition backing the
// emulator: a flat array of fixed-size clusters with no filesystem on
// top. The file-backed implementation is configured by a small text
// file; an in-memory implementation backs the tests.
package part

// ClusterNo identifies a cluster on a partition.
type ClusterNo uint32

// ClusterSize is the size of one cluster in bytes.
const ClusterSize = 1024

// Partition is the block-device abstraction consumed by the paging
// core. ReadCluster and WriteCluster return a nonzero value on success
// and zero on failure; callers are not expected to inspect the value
// beyond that.
type Partition interface {
	NumClusters() ClusterNo
	ReadCluster(n ClusterNo, buf []byte) int
	WriteCluster(n ClusterNo, buf []byte) int
}
