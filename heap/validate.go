package heap

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
)

// Validate cross-checks the whole heap: every block header in address order, the free list
// in both directions, and the bookkeeping counters. It returns the first inconsistency it
// finds. An uninitialized heap is trivially valid.
func (h *Heap) Validate() error {
	if !h.initialized {
		return nil
	}

	physicalFree, err := h.validateBlocks()
	if err != nil {
		return err
	}

	return h.validateFreeList(physicalFree)
}

// validateBlocks walks every block from offset 0 and returns the free blocks it met, keyed
// by offset
func (h *Heap) validateBlocks() (*swiss.Map[Addr, FreeHeader], error) {
	physicalFree := swiss.NewMap[Addr, FreeHeader](uint32(h.freeCount) + 1)

	allocCount := 0
	freeBytes := uint32(0)
	previousFree := false

	for addr := Addr(0); addr < Addr(h.capacity); {
		hdr, err := h.decodeHeader("validate", addr)
		if err != nil {
			return nil, err
		}

		switch block := hdr.(type) {
		case FreeHeader:
			if previousFree {
				return nil, &CorruptionError{Op: "validate", Addr: addr, Found: TagFree, Want: TagFree, Detail: "free block directly follows another free block"}
			}
			physicalFree.Put(addr, block)
			freeBytes += block.Size
			previousFree = true
		case AllocatedHeader:
			allocCount++
			previousFree = false
		}

		addr += Addr(hdr.BlockSize())
	}

	if allocCount != h.allocCount {
		return nil, errors.Wrapf(ErrCorruption, "heap holds %d allocated blocks, but %d are counted", allocCount, h.allocCount)
	}
	if physicalFree.Count() != h.freeCount {
		return nil, errors.Wrapf(ErrCorruption, "heap holds %d free blocks, but %d are counted", physicalFree.Count(), h.freeCount)
	}
	if freeBytes != h.freeBytes {
		return nil, errors.Wrapf(ErrCorruption, "heap holds %d free bytes, but %d are counted", freeBytes, h.freeBytes)
	}

	return physicalFree, nil
}

// validateFreeList checks that the free list visits exactly the free blocks found in the
// buffer, lowest first, and that every prev link mirrors a next link
func (h *Heap) validateFreeList(physicalFree *swiss.Map[Addr, FreeHeader]) error {
	var list []FreeHeader
	err := h.walkFreeList("validate", false, func(block FreeHeader) (bool, error) {
		if _, ok := physicalFree.Get(block.Addr); !ok {
			return false, &CorruptionError{Op: "validate", Addr: block.Addr, Found: TagFree, Want: TagFree, Detail: "free list node is not a block boundary"}
		}
		if len(list) > 0 && block.Addr <= list[len(list)-1].Addr {
			return false, &CorruptionError{Op: "validate", Addr: block.Addr, Found: TagFree, Want: TagFree,
				Detail: fmt.Sprintf("free list is out of address order after offset %d", list[len(list)-1].Addr)}
		}
		list = append(list, block)
		return true, nil
	})
	if err != nil {
		return err
	}

	if len(list) != physicalFree.Count() {
		return errors.Wrapf(ErrCorruption, "free list reaches %d of %d free blocks", len(list), physicalFree.Count())
	}

	for i, block := range list {
		prev := list[(i+len(list)-1)%len(list)]
		if block.Prev != prev.Addr {
			return &CorruptionError{Op: "validate", Addr: block.Addr, Found: TagFree, Want: TagFree,
				Detail: fmt.Sprintf("prev link is %d, expected %d", block.Prev, prev.Addr)}
		}
	}

	return nil
}
