package heap_test

import (
	"encoding/binary"
	stderrors "errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/vlad/heap"
)

func putWord(h *heap.Heap, offset heap.Addr, value uint32) {
	binary.LittleEndian.PutUint32(h.Bytes()[offset:], value)
}

func TestValidateUninitialized(t *testing.T) {
	h, err := heap.New(heap.CreateOptions{})
	require.NoError(t, err)
	require.NoError(t, h.Validate())
}

func TestValidateDetectsCorruption(t *testing.T) {
	testCases := map[string]func(h *heap.Heap, a, b heap.Addr){
		"AllocatedTagOverwritten": func(h *heap.Heap, a, b heap.Addr) {
			putWord(h, a-heap.AllocHeaderSize, 0)
		},
		"SizeNotWordMultiple": func(h *heap.Heap, a, b heap.Addr) {
			putWord(h, a-heap.AllocHeaderSize+4, 107)
		},
		"SizeRunsPastEnd": func(h *heap.Heap, a, b heap.Addr) {
			putWord(h, b-heap.AllocHeaderSize+4, 4096)
		},
		"BrokenPrevLink": func(h *heap.Heap, a, b heap.Addr) {
			head, _ := h.Head()
			putWord(h, head+12, uint32(a-heap.AllocHeaderSize))
		},
		"AllocatedRetaggedFree": func(h *heap.Heap, a, b heap.Addr) {
			putWord(h, b-heap.AllocHeaderSize, uint32(heap.TagFree))
		},
	}

	for name, corrupt := range testCases {
		t.Run(name, func(t *testing.T) {
			h := newHeap(t, 1024)

			a, err := h.Alloc(100)
			require.NoError(t, err)
			b, err := h.Alloc(100)
			require.NoError(t, err)
			require.NoError(t, h.Validate())

			corrupt(h, a, b)

			err = h.Validate()
			require.ErrorIs(t, err, heap.ErrCorruption)
			require.True(t, heap.IsFatal(err))
		})
	}
}

func TestValidateDetectsCounterDrift(t *testing.T) {
	h := newHeap(t, 1024)

	a, err := h.Alloc(100)
	require.NoError(t, err)
	_, err = h.Alloc(100)
	require.NoError(t, err)

	// Split a into two allocated blocks behind the heap's back: the walk still covers the heap
	// but finds one allocation more than was counted
	putWord(h, a-heap.AllocHeaderSize+4, 52)
	putWord(h, 52, uint32(heap.TagAllocated))
	putWord(h, 56, 56)

	err = h.Validate()
	require.ErrorIs(t, err, heap.ErrCorruption)
	require.True(t, stderrors.Is(err, heap.ErrCorruption))
	require.ErrorContains(t, err, "heap holds 3 allocated blocks, but 2 are counted")
	require.True(t, heap.IsFatal(err))
}

// TestRandomWorkload drives the heap with a seeded mix of allocations and frees, checking
// after every step that live payloads never alias and that the heap stays consistent.
func TestRandomWorkload(t *testing.T) {
	const capacity = 1 << 16

	rng := rand.New(rand.NewSource(42))
	h := newHeap(t, capacity)

	type allocation struct {
		ptr  heap.Addr
		size uint32
		fill byte
	}
	var live []allocation
	failures := 0

	checkLive := func() {
		for _, alloc := range live {
			payload, err := h.Payload(alloc.ptr, int(alloc.size))
			require.NoError(t, err)
			for _, b := range payload {
				require.Equal(t, alloc.fill, b, "payload at %d was overwritten", alloc.ptr)
			}
		}
	}

	checkRegions := func() {
		var total uint32
		previousFree := false
		err := h.VisitAllRegions(func(offset heap.Addr, size uint32, free bool) error {
			require.Equal(t, heap.Addr(total), offset)
			require.False(t, free && previousFree, "free blocks touch at %d", offset)
			total += size
			previousFree = free
			return nil
		})
		require.NoError(t, err)
		require.Equal(t, uint32(capacity), total)
	}

	for step := 0; step < 3000; step++ {
		if len(live) == 0 || rng.Intn(100) < 55 {
			size := uint32(rng.Intn(1024))
			ptr, err := h.Alloc(size)
			if err != nil {
				require.ErrorIs(t, err, heap.ErrNoSpace)
				failures++
				continue
			}

			fill := byte(step)
			payload, err := h.Payload(ptr, int(size))
			require.NoError(t, err)
			for i := range payload {
				payload[i] = fill
			}
			live = append(live, allocation{ptr: ptr, size: size, fill: fill})
		} else {
			index := rng.Intn(len(live))
			require.NoError(t, h.Free(live[index].ptr))
			live[index] = live[len(live)-1]
			live = live[:len(live)-1]
		}

		require.NoError(t, h.Validate())
		require.Equal(t, len(live), h.AllocationCount())
		if step%50 == 0 {
			checkLive()
			checkRegions()
		}
	}

	checkLive()
	checkRegions()
	t.Logf("%d allocation requests did not fit", failures)

	for _, alloc := range live {
		require.NoError(t, h.Free(alloc.ptr))
	}

	freeList, err := h.FreeList()
	require.NoError(t, err)
	require.Equal(t, []heap.Addr{0}, freeList)
	require.Equal(t, capacity, h.SumFreeSize())
	require.NoError(t, h.Validate())
}

func TestAllocFreeRoundTripKeepsFreeBytes(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	h := newHeap(t, 8192)

	var held []heap.Addr
	for i := 0; i < 20; i++ {
		ptr, err := h.Alloc(uint32(rng.Intn(200)))
		require.NoError(t, err)
		held = append(held, ptr)
	}
	for i := 0; i < len(held); i += 3 {
		require.NoError(t, h.Free(held[i]))
	}

	for i := 0; i < 200; i++ {
		before := h.SumFreeSize()
		ptr, err := h.Alloc(uint32(rng.Intn(300)))
		require.NoError(t, err)
		require.NoError(t, h.Free(ptr))
		require.Equal(t, before, h.SumFreeSize())
		require.NoError(t, h.Validate())
	}
}
