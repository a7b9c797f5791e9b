package heap

import "fmt"

// maxFreeBlocks bounds every free list walk. A ring longer than the heap can hold blocks
// has a cycle that misses the head.
func (h *Heap) maxFreeBlocks() int {
	return int(h.capacity/FreeHeaderSize) + 1
}

// walkFreeList visits every free block once in link order, starting at the head and
// following next links (or prev links when backward is set). Each header is decoded and
// checked for the free tag before its links are trusted. visit may stop the walk early by
// returning false.
func (h *Heap) walkFreeList(op string, backward bool, visit func(block FreeHeader) (bool, error)) error {
	if !h.initialized {
		return ErrUninitialized
	}

	block, err := h.freeHeaderAt(op, h.head)
	if err != nil {
		return err
	}

	for steps := 0; ; steps++ {
		if steps >= h.maxFreeBlocks() {
			return &CorruptionError{Op: op, Addr: block.Addr, Found: TagFree, Want: TagFree, Detail: "free list does not return to its head"}
		}

		more, err := visit(block)
		if err != nil || !more {
			return err
		}

		link := block.Next
		if backward {
			link = block.Prev
		}
		if link == h.head {
			return nil
		}

		block, err = h.freeHeaderAt(op, link)
		if err != nil {
			return err
		}
	}
}

// unlinkFree splices block out of the free list by pointing its neighbors at each other.
// block must not be the only free block.
func (h *Heap) unlinkFree(block FreeHeader) {
	h.setNext(block.Prev, block.Next)
	h.setPrev(block.Next, block.Prev)
}

// findNeighbors returns the free blocks that will sit before and after a new free block at
// addr. The free list is kept in address order starting from the head, so the neighbors are
// the last block below addr and its successor, wrapping from the highest block to the head.
func (h *Heap) findNeighbors(op string, addr Addr) (prev FreeHeader, next FreeHeader, err error) {
	head, err := h.freeHeaderAt(op, h.head)
	if err != nil {
		return prev, next, err
	}

	if addr < head.Addr {
		next = head
		prev, err = h.freeHeaderAt(op, head.Prev)
		return prev, next, err
	}

	prev = head
	for steps := 0; prev.Next != h.head; steps++ {
		if steps >= h.maxFreeBlocks() {
			return prev, next, &CorruptionError{Op: op, Addr: prev.Addr, Found: TagFree, Want: TagFree, Detail: "free list does not return to its head"}
		}

		candidate, err := h.freeHeaderAt(op, prev.Next)
		if err != nil {
			return prev, next, err
		}
		if candidate.Addr > addr {
			break
		}
		prev = candidate
	}

	if prev.Next == prev.Addr {
		return prev, prev, nil
	}
	next, err = h.freeHeaderAt(op, prev.Next)
	return prev, next, err
}

// checkDisjoint rejects a block that overlaps either of the free blocks it is about to be
// linked between. A handle into the middle of a free block can carry a stale allocated tag.
func checkDisjoint(op string, addr Addr, size uint32, prev FreeHeader, next FreeHeader) error {
	end := addr + Addr(size)
	for _, neighbor := range []FreeHeader{prev, next} {
		if addr < neighbor.End() && neighbor.Addr < end {
			return &CorruptionError{
				Op:     op,
				Addr:   addr,
				Detail: fmt.Sprintf("block overlaps the free block at offset %d", neighbor.Addr),
				Err:    ErrNotAllocated,
			}
		}
	}
	return nil
}
