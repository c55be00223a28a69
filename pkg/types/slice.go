package types

// Uint64Slice implements sort.Interface for a slice of uint64, such as node IDs.
//
// (etcd raft.uint64Slice)
type Uint64Slice []uint64

func (s Uint64Slice) Len() int           { return len(s) }
func (s Uint64Slice) Less(i, j int) bool { return s[i] < s[j] }
func (s Uint64Slice) Swap(i, j int)      { s[i], s[j] = s[j], s[i] }
