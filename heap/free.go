package heap

import (
	"github.com/vkngwrapper/vlad/memutils"
	"golang.org/x/exp/slog"
)

// Free returns the allocation at ptr to the free list and merges every run of address
// adjacent free blocks before returning.
//
// ptr must be a handle returned by Alloc that has not been freed since. NilAddr fails with
// ErrNilPointer. A handle whose header does not carry the allocated tag, which includes a
// handle that was already freed, fails with a *CorruptionError matching ErrNotAllocated.
// Every failure from Free is fatal: see IsFatal.
func (h *Heap) Free(ptr Addr) error {
	if !h.initialized {
		return ErrUninitialized
	}
	if ptr == NilAddr {
		return ErrNilPointer
	}
	if ptr < AllocHeaderSize || ptr%WordSize != 0 || !h.inBounds(ptr, 0) {
		return &CorruptionError{Op: "free", Addr: ptr, Want: TagAllocated, Detail: "handle is not inside the heap", Err: ErrNotAllocated}
	}

	addr := ptr - AllocHeaderSize
	tag, err := h.readTag("free", addr)
	if err != nil {
		return err
	}
	if tag != TagAllocated {
		return &CorruptionError{Op: "free", Addr: addr, Found: tag, Want: TagAllocated, Err: ErrNotAllocated}
	}

	block, err := h.allocatedHeaderAt("free", addr)
	if err != nil {
		return err
	}

	if err := h.insertFree(block); err != nil {
		return err
	}

	merged, err := h.coalesce()
	if err != nil {
		return err
	}

	h.logger.Debug("Heap::Free",
		slog.Int("Offset", int(ptr)),
		slog.Int("BlockSize", int(block.Size)),
		slog.Int("Merged", merged),
		slog.Int("FreeRegions", h.freeCount),
	)
	memutils.DebugValidate(h)
	return nil
}

// insertFree retags an allocated block as free and links it between the free blocks that
// bracket it in address order. The head moves to the block when it is the new lowest.
func (h *Heap) insertFree(block AllocatedHeader) error {
	prev, next, err := h.findNeighbors("free", block.Addr)
	if err != nil {
		return err
	}
	if err := checkDisjoint("free", block.Addr, block.Size, prev, next); err != nil {
		return err
	}

	h.writeFree(FreeHeader{
		Addr: block.Addr,
		Size: block.Size,
		Next: next.Addr,
		Prev: prev.Addr,
	})
	h.setNext(prev.Addr, block.Addr)
	h.setPrev(next.Addr, block.Addr)

	if block.Addr < h.head {
		h.head = block.Addr
	}

	h.allocCount--
	h.freeCount++
	h.freeBytes += block.Size
	return nil
}

// rewindHead moves the head back along prev links until it is the lowest free block. Alloc
// and Free already keep the head there, so this normally takes no steps.
func (h *Heap) rewindHead() error {
	for steps := 0; ; steps++ {
		if steps >= h.maxFreeBlocks() {
			return &CorruptionError{Op: "coalesce", Addr: h.head, Found: TagFree, Want: TagFree, Detail: "free list does not return to its head"}
		}

		head, err := h.freeHeaderAt("coalesce", h.head)
		if err != nil {
			return err
		}
		if head.Prev >= head.Addr {
			return nil
		}
		h.head = head.Prev
	}
}

// coalesce walks the free list from the head and merges each block with its successor for as
// long as the block ends where the successor starts. The absorbed header is invalidated.
// It returns the number of merges performed.
func (h *Heap) coalesce() (int, error) {
	if err := h.rewindHead(); err != nil {
		return 0, err
	}

	cur, err := h.freeHeaderAt("coalesce", h.head)
	if err != nil {
		return 0, err
	}

	merged := 0
	for steps := 0; cur.Next != h.head; steps++ {
		if steps >= 2*h.maxFreeBlocks() {
			return merged, &CorruptionError{Op: "coalesce", Addr: cur.Addr, Found: TagFree, Want: TagFree, Detail: "free list does not return to its head"}
		}

		next, err := h.freeHeaderAt("coalesce", cur.Next)
		if err != nil {
			return merged, err
		}

		if cur.End() != next.Addr {
			cur = next
			continue
		}

		cur.Size += next.Size
		cur.Next = next.Next
		if next.Next == cur.Addr {
			cur.Prev = cur.Addr
		}
		h.writeFree(cur)
		h.setPrev(next.Next, cur.Addr)
		h.invalidate(next.Addr)

		h.freeCount--
		merged++
	}

	return merged, nil
}
