package heap_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/vlad/heap"
)

func TestAllocSplitsFirstBlock(t *testing.T) {
	h := newHeap(t, 1000)

	ptr, err := h.Alloc(100)
	require.NoError(t, err)
	require.Equal(t, heap.Addr(heap.AllocHeaderSize), ptr)

	payload, err := h.Payload(ptr, 100)
	require.NoError(t, err)
	require.Len(t, payload, 100)

	head, _ := h.Head()
	require.Equal(t, heap.Addr(108), head)
	require.Equal(t, 1, h.AllocationCount())
	require.Equal(t, 1, h.FreeRegionsCount())
	require.Equal(t, 1024-108, h.SumFreeSize())

	freeList, err := h.FreeList()
	require.NoError(t, err)
	require.Equal(t, []heap.Addr{108}, freeList)
	require.NoError(t, h.Validate())
}

func TestAllocRoundsRequestSize(t *testing.T) {
	testCases := []struct {
		request   uint32
		blockSize uint32
	}{
		{request: 0, blockSize: 16},
		{request: 1, blockSize: 16},
		{request: 8, blockSize: 16},
		{request: 9, blockSize: 20},
		{request: 13, blockSize: 24},
		{request: 100, blockSize: 108},
		{request: 101, blockSize: 112},
	}

	for _, tc := range testCases {
		h := newHeap(t, 1024)

		ptr, err := h.Alloc(tc.request)
		require.NoError(t, err)

		var sizes []uint32
		err = h.VisitAllRegions(func(offset heap.Addr, size uint32, free bool) error {
			if !free {
				sizes = append(sizes, size)
			}
			return nil
		})
		require.NoError(t, err)
		require.Equal(t, []uint32{tc.blockSize}, sizes, "request %d", tc.request)

		head, _ := h.Head()
		require.Equal(t, heap.Addr(tc.blockSize), head)
		require.Equal(t, heap.Addr(heap.AllocHeaderSize), ptr)
	}
}

func TestAllocSequentialBlocksDoNotOverlap(t *testing.T) {
	h := newHeap(t, 1024)

	a, err := h.Alloc(100)
	require.NoError(t, err)
	b, err := h.Alloc(100)
	require.NoError(t, err)
	c, err := h.Alloc(100)
	require.NoError(t, err)

	require.Equal(t, heap.Addr(8), a)
	require.Equal(t, heap.Addr(116), b)
	require.Equal(t, heap.Addr(224), c)

	head, _ := h.Head()
	require.Equal(t, heap.Addr(324), head)
	require.Equal(t, 3, h.AllocationCount())
	require.Equal(t, 700, h.SumFreeSize())
	require.NoError(t, h.Validate())
}

func TestAllocChoosesBestFit(t *testing.T) {
	h := newHeap(t, 1024)

	// Three holes of 48, 208 and 88 bytes, kept apart by small live blocks
	a, err := h.Alloc(40)
	require.NoError(t, err)
	_, err = h.Alloc(8)
	require.NoError(t, err)
	b, err := h.Alloc(200)
	require.NoError(t, err)
	_, err = h.Alloc(8)
	require.NoError(t, err)
	c, err := h.Alloc(80)
	require.NoError(t, err)
	_, err = h.Alloc(8)
	require.NoError(t, err)

	require.NoError(t, h.Free(a))
	require.NoError(t, h.Free(b))
	require.NoError(t, h.Free(c))

	freeList, err := h.FreeList()
	require.NoError(t, err)
	require.Equal(t, []heap.Addr{0, 64, 288, 392}, freeList)

	ptr, err := h.Alloc(60)
	require.NoError(t, err)
	require.Equal(t, c, ptr)

	freeList, err = h.FreeList()
	require.NoError(t, err)
	require.Equal(t, []heap.Addr{0, 64, 392}, freeList)
	require.NoError(t, h.Validate())
}

func TestAllocTieGoesToLowestBlock(t *testing.T) {
	h := newHeap(t, 1024)

	a, err := h.Alloc(40)
	require.NoError(t, err)
	_, err = h.Alloc(8)
	require.NoError(t, err)
	b, err := h.Alloc(40)
	require.NoError(t, err)
	_, err = h.Alloc(8)
	require.NoError(t, err)

	require.NoError(t, h.Free(b))
	require.NoError(t, h.Free(a))

	ptr, err := h.Alloc(40)
	require.NoError(t, err)
	require.Equal(t, a, ptr)
}

func TestAllocTakesWholeBlockBelowSplitThreshold(t *testing.T) {
	h := newHeap(t, 1024)

	a, err := h.Alloc(40)
	require.NoError(t, err)
	_, err = h.Alloc(100)
	require.NoError(t, err)
	require.NoError(t, h.Free(a))
	require.Equal(t, 2, h.FreeRegionsCount())

	// 40 bytes are needed and the 48 byte hole cannot spare two free headers
	ptr, err := h.Alloc(32)
	require.NoError(t, err)
	require.Equal(t, a, ptr)

	payload, err := h.Payload(ptr, 40)
	require.NoError(t, err)
	require.Len(t, payload, 40)

	require.Equal(t, 1, h.FreeRegionsCount())
	head, _ := h.Head()
	require.Equal(t, heap.Addr(156), head)
	require.NoError(t, h.Validate())
}

func TestAllocRefusesLastFreeBlockWithoutSplit(t *testing.T) {
	h := newHeap(t, 1024)

	for _, request := range []uint32{1000, 993, 1016} {
		_, err := h.Alloc(request)
		require.ErrorIs(t, err, heap.ErrNoSpace, "request %d", request)
		require.False(t, heap.IsFatal(err))
	}

	// 992 bytes leave exactly two free headers' worth behind
	ptr, err := h.Alloc(984)
	require.NoError(t, err)
	require.Equal(t, heap.Addr(8), ptr)

	freeList, err := h.FreeList()
	require.NoError(t, err)
	require.Equal(t, []heap.Addr{992}, freeList)
	require.Equal(t, 32, h.SumFreeSize())

	// The last 32 bytes could hold 16 more, but never as the only free block
	_, err = h.Alloc(8)
	require.ErrorIs(t, err, heap.ErrNoSpace)
	require.NoError(t, h.Validate())
}

func TestAllocFailureLeavesHeapUntouched(t *testing.T) {
	h := newHeap(t, 1024)

	a, err := h.Alloc(200)
	require.NoError(t, err)
	_, err = h.Alloc(200)
	require.NoError(t, err)
	require.NoError(t, h.Free(a))

	before := append([]byte(nil), h.Bytes()...)
	head, _ := h.Head()

	for _, request := range []uint32{700, 2000, 1 << 31, ^uint32(0)} {
		_, err = h.Alloc(request)
		require.ErrorIs(t, err, heap.ErrNoSpace, "request %d", request)
	}

	require.Equal(t, before, h.Bytes())
	after, _ := h.Head()
	require.Equal(t, head, after)
	require.Equal(t, 1, h.AllocationCount())
	require.Equal(t, 2, h.FreeRegionsCount())
	require.NoError(t, h.Validate())
}

func TestAllocDetectsCorruptFreeList(t *testing.T) {
	h := newHeap(t, 1024)

	_, err := h.Alloc(100)
	require.NoError(t, err)

	head, _ := h.Head()
	putWord(h, head, 0x12345678)

	_, err = h.Alloc(100)
	require.ErrorIs(t, err, heap.ErrCorruption)
	require.True(t, heap.IsFatal(err))

	var corruption *heap.CorruptionError
	require.ErrorAs(t, err, &corruption)
	require.Equal(t, head, corruption.Addr)
	require.Equal(t, heap.Tag(0x12345678), corruption.Found)
	require.Equal(t, "alloc", corruption.Op)
}

func TestAllocDetectsOutOfRangeLink(t *testing.T) {
	h := newHeap(t, 1024)

	// next link of the only free block
	putWord(h, 8, 5000)

	_, err := h.Alloc(10)
	require.ErrorIs(t, err, heap.ErrCorruption)
	require.Error(t, h.Validate())
}
