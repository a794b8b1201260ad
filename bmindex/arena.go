package bmindex

import "sync"

const defaultArenaSize = 1024

// Arena is a bump allocator for the scratch memory of one logical operation: key tuples, bitmap tuples and key
// copies. Everything it hands out becomes invalid at Reset.
type Arena struct {
	buf []byte
	off int
}

func NewArena(size int) *Arena {
	return &Arena{buf: make([]byte, size)}
}

// Alloc returns n zeroed bytes.
func (a *Arena) Alloc(n int) []byte {
	if a.off+n > len(a.buf) {
		size := max(2*len(a.buf), defaultArenaSize)
		for size < n {
			size *= 2
		}
		// Earlier allocations keep pointing into the old buffer, which stays alive until they are dropped.
		a.buf = make([]byte, size)
		a.off = 0
	}
	b := a.buf[a.off : a.off+n : a.off+n]
	a.off += n
	clear(b)
	return b
}

// Used returns the number of bytes allocated since the last Reset from the current block.
func (a *Arena) Used() int {
	return a.off
}

// Reset releases every allocation at once.
func (a *Arena) Reset() {
	a.off = 0
}

var arenaPool = sync.Pool{
	New: func() any { return NewArena(defaultArenaSize) },
}

func getArena() *Arena {
	return arenaPool.Get().(*Arena)
}

func putArena(a *Arena) {
	a.Reset()
	arenaPool.Put(a)
}
