package producer

import "sync"

// Buffer pools for injected packets. Only buffers that came from getBuffer
// are returned, checked via capacity match.

const (
	bufSmall = 256
	bufMed   = 2048
	bufLarge = 16384
)

var (
	poolSmall = sync.Pool{New: func() any { b := make([]byte, bufSmall); return &b }}
	poolMed   = sync.Pool{New: func() any { b := make([]byte, bufMed); return &b }}
	poolLarge = sync.Pool{New: func() any { b := make([]byte, bufLarge); return &b }}
)

func getBuffer(n int) []byte {
	switch {
	case n <= bufSmall:
		p := poolSmall.Get().(*[]byte)
		return (*p)[:n]
	case n <= bufMed:
		p := poolMed.Get().(*[]byte)
		return (*p)[:n]
	case n <= bufLarge:
		p := poolLarge.Get().(*[]byte)
		return (*p)[:n]
	default:
		return make([]byte, n)
	}
}

func putBuffer(b []byte) {
	switch cap(b) {
	case bufSmall:
		bb := b[:bufSmall]
		poolSmall.Put(&bb)
	case bufMed:
		bb := b[:bufMed]
		poolMed.Put(&bb)
	case bufLarge:
		bb := b[:bufLarge]
		poolLarge.Put(&bb)
	}
}
