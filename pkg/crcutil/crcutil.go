// Package crcutil provides utility functions for cyclic redundancy check algorithms.
// CRCs are designed to protect against common types of errors between communications,
// where they can provide assurance of data integrity.
package crcutil

import "hash/crc32"

// digest wraps hash/crc32's digest but uses a custom initial CRC.
type digest struct {
	crc uint32
	tab *crc32.Table
}

// New creates a new hash.Hash32 computing the CRC-32 checksum using
// the polynomial represented by the Table, seeded with the given
// initial CRC value rather than 0. This lets a checksum be carried
// forward across otherwise-independent writes, such as a header
// checksum continued into its body.
func New(prev uint32, tab *crc32.Table) Hash32 {
	return &digest{crc: prev, tab: tab}
}

// Hash32 is hash.Hash32 plus the seeded constructor above.
type Hash32 interface {
	Write(p []byte) (n int, err error)
	Sum(b []byte) []byte
	Reset()
	Size() int
	BlockSize() int
	Sum32() uint32
}

func (d *digest) Write(p []byte) (n int, err error) {
	d.crc = crc32.Update(d.crc, d.tab, p)
	return len(p), nil
}

func (d *digest) Sum32() uint32 { return d.crc }

func (d *digest) Reset() { d.crc = 0 }

func (d *digest) Size() int { return crc32.Size }

func (d *digest) BlockSize() int { return 1 }

func (d *digest) Sum(in []byte) []byte {
	s := d.Sum32()
	return append(in, byte(s>>24), byte(s>>16), byte(s>>8), byte(s))
}
