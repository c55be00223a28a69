package rpcenvelope

// Buffer models a request/response content body that is either
// borrowed from a caller-owned slice or owned by the envelope itself.
// A Borrowed buffer is promoted to Owned the first time a write needs
// to grow it past its current capacity.
//
// (spec.md §9 "Owned-vs-borrowed content buffer": the original's
// AttachContentBuf(ptr, len, ownsFlag) tagged ownership choice,
// reimplemented as an explicit sum instead of a pointer+flag pair)
type Buffer struct {
	data  []byte
	owned bool
}

// NewBorrowed wraps an existing slice without copying it. The caller
// retains responsibility for the slice's lifetime until EnsureCapacity
// promotes it.
func NewBorrowed(b []byte) Buffer {
	return Buffer{data: b, owned: false}
}

// NewOwned allocates a Buffer that owns its storage outright.
func NewOwned(b []byte) Buffer {
	return Buffer{data: b, owned: true}
}

// Bytes returns the buffer's current contents.
func (b *Buffer) Bytes() []byte {
	return b.data
}

// Len returns the number of bytes currently held.
func (b *Buffer) Len() int {
	return len(b.data)
}

// Owned reports whether the buffer owns its backing storage.
func (b *Buffer) Owned() bool {
	return b.owned
}

// EnsureCapacity guarantees the buffer can hold n bytes, copying a
// Borrowed buffer's contents into newly owned storage the first time
// growth is needed. A Buffer that is already Owned and large enough
// is left untouched.
func (b *Buffer) EnsureCapacity(n int) {
	if cap(b.data) >= n {
		return
	}
	grown := make([]byte, len(b.data), n)
	copy(grown, b.data)
	b.data = grown
	b.owned = true
}

// Append writes p to the end of the buffer, promoting to Owned first
// if the current storage cannot grow in place.
func (b *Buffer) Append(p []byte) {
	b.EnsureCapacity(len(b.data) + len(p))
	b.data = append(b.data, p...)
}
