package heap

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/vlad/memutils"
	"golang.org/x/exp/slog"
)

// blockSizeFor is the size of the block, header included, that holds a payload of n bytes
func blockSizeFor(n uint32) uint64 {
	needed := memutils.AlignUp(uint64(n)+AllocHeaderSize, WordSize)
	if needed < FreeHeaderSize {
		needed = FreeHeaderSize
	}
	return needed
}

// Alloc reserves at least n payload bytes and returns the handle of the payload. The block
// is the smallest free block that fits, and when it is at least two free headers larger than
// needed, the tail is split off and stays on the free list.
//
// When nothing fits, Alloc returns an error matching ErrNoSpace and the heap is unchanged.
// The same happens when the only free block fits but is too small to split: handing it out
// whole would leave the heap with no free list at all.
func (h *Heap) Alloc(n uint32) (Addr, error) {
	if !h.initialized {
		return NilAddr, ErrUninitialized
	}

	needed64 := blockSizeFor(n)
	if needed64 > uint64(h.capacity) {
		return NilAddr, errors.Wrapf(ErrNoSpace, "request for %d bytes exceeds heap capacity %d", n, h.capacity)
	}
	needed := uint32(needed64)

	best, found, err := h.findBestFit(needed)
	if err != nil {
		return NilAddr, err
	}
	if !found {
		h.logger.Debug("Heap::Alloc no fit", slog.Int("Requested", int(n)), slog.Int("BlockSize", int(needed)))
		return NilAddr, errors.Wrapf(ErrNoSpace, "no free block holds %d bytes", needed)
	}

	sole := best.Next == best.Addr
	if uint64(best.Size) < uint64(needed)+2*FreeHeaderSize {
		if sole {
			h.logger.Debug("Heap::Alloc refused last free block",
				slog.Int("Requested", int(n)), slog.Int("FreeBlockSize", int(best.Size)))
			return NilAddr, errors.Wrapf(ErrNoSpace, "only free block (%d bytes) is too small to split for %d bytes", best.Size, needed)
		}
		h.takeWhole(best)
	} else {
		h.split(best, needed)
	}

	ptr := best.Addr + AllocHeaderSize
	h.logger.Debug("Heap::Alloc",
		slog.Int("Requested", int(n)),
		slog.Int("Offset", int(ptr)),
		slog.Int("BlockSize", int(h.word(best.Addr, sizeField))),
		slog.Int("FreeRegions", h.freeCount),
	)
	memutils.DebugValidate(h)
	return ptr, nil
}

// findBestFit walks the free list once from the head and returns the smallest block of at
// least needed bytes. The first block reached wins a tie.
func (h *Heap) findBestFit(needed uint32) (FreeHeader, bool, error) {
	var best FreeHeader
	found := false

	err := h.walkFreeList("alloc", false, func(block FreeHeader) (bool, error) {
		if block.Size >= needed && (!found || block.Size < best.Size) {
			best = block
			found = true
			if block.Size == needed {
				return false, nil
			}
		}
		return true, nil
	})
	return best, found, err
}

// takeWhole hands out an entire free block. It must not be the only free block.
func (h *Heap) takeWhole(block FreeHeader) {
	h.unlinkFree(block)
	if block.Addr == h.head {
		h.head = block.Next
	}
	h.writeAllocated(AllocatedHeader{Addr: block.Addr, Size: block.Size})

	h.allocCount++
	h.freeCount--
	h.freeBytes -= block.Size
}

// split allocates the first needed bytes of block and leaves the remainder in block's place
// on the free list. The remainder still precedes every other free block above it, so list
// order is unchanged.
func (h *Heap) split(block FreeHeader, needed uint32) {
	rest := FreeHeader{
		Addr: block.Addr + Addr(needed),
		Size: block.Size - needed,
		Next: block.Next,
		Prev: block.Prev,
	}

	if block.Next == block.Addr {
		rest.Next = rest.Addr
		rest.Prev = rest.Addr
	} else {
		h.setNext(block.Prev, rest.Addr)
		h.setPrev(block.Next, rest.Addr)
	}

	h.writeFree(rest)
	h.writeAllocated(AllocatedHeader{Addr: block.Addr, Size: needed})
	if block.Addr == h.head {
		h.head = rest.Addr
	}

	h.allocCount++
	h.freeBytes -= needed
}
