package rpcenvelope

import (
	"hash/crc32"

	"github.com/kfsvr/metavr/pkg/crcutil"
)

var checksumTable = crc32.MakeTable(crc32.Castagnoli)

// Checksum computes the request/response integrity checksum over the
// op's body, continuing from seed so a caller can fold in a
// connection-level running checksum rather than starting fresh per op.
func Checksum(seed uint32, body []byte) uint32 {
	h := crcutil.New(seed, checksumTable)
	h.Write(body)
	return h.Sum32()
}
