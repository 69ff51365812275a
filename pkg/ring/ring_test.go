package ring

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingFIFO(t *testing.T) {
	r := New[byte](4)
	assert.Equal(t, 4, r.Cap())
	assert.True(t, r.Empty())

	for i := byte(1); i <= 4; i++ {
		assert.True(t, r.Push(i))
	}
	assert.False(t, r.HasRoom())
	assert.Equal(t, 0, r.Free())

	// Full: push is a no-op.
	assert.False(t, r.Push(9))
	assert.Equal(t, 4, r.Level())

	for i := byte(1); i <= 4; i++ {
		v, ok := r.Pop()
		require.True(t, ok)
		assert.Equal(t, i, v)
	}
	_, ok := r.Pop()
	assert.False(t, ok)
}

func TestRingWrapAround(t *testing.T) {
	r := New[int](3)
	next := 0
	want := 0
	for round := 0; round < 10; round++ {
		for r.Push(next) {
			next++
		}
		assert.Equal(t, 3, r.Level())
		v, ok := r.Pop()
		require.True(t, ok)
		assert.Equal(t, want, v)
		want++
		v, ok = r.Peek()
		require.True(t, ok)
		assert.Equal(t, want, v)
	}
}

func TestRingDiscard(t *testing.T) {
	r := New[byte](8)
	for i := 0; i < 5; i++ {
		r.Push(byte(i))
	}
	assert.Equal(t, 3, r.Discard(3))
	v, _ := r.Peek()
	assert.Equal(t, byte(3), v)
	assert.Equal(t, 2, r.Discard(10))
	assert.True(t, r.Empty())
	assert.Equal(t, 0, r.Discard(1))
}

func TestRingPopInto(t *testing.T) {
	r := New[byte](4)
	r.Push(0xaa)
	r.Push(0xbb)
	buf := make([]byte, 8)
	n := r.PopInto(buf)
	assert.Equal(t, 2, n)
	assert.Equal(t, []byte{0xaa, 0xbb}, buf[:n])
	assert.Equal(t, 0, r.PopInto(buf))
}

func TestRingInvalidCapacity(t *testing.T) {
	assert.Panics(t, func() { New[byte](0) })
}

// TestRingConcurrentSPSC checks ordering with one writer and one reader
// running on separate goroutines.
func TestRingConcurrentSPSC(t *testing.T) {
	const total = 100000
	r := New[uint32](64)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := uint32(0); i < total; {
			if r.Push(i) {
				i++
			}
		}
	}()

	var got uint32
	for got < total {
		v, ok := r.Pop()
		if !ok {
			continue
		}
		if v != got {
			t.Fatalf("out of order: want %d, got %d", got, v)
		}
		got++
	}
	wg.Wait()
	assert.True(t, r.Empty())
}
