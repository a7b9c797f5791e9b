package heap

import (
	"github.com/vkngwrapper/vlad/memutils"
	"golang.org/x/exp/slog"
)

// VisitAllRegions calls handleRegion for every block in address order, from offset 0 to the
// end of the heap. offset and size describe the whole block, header included. The walk stops
// at the first error from handleRegion or from decoding a header.
func (h *Heap) VisitAllRegions(handleRegion func(offset Addr, size uint32, free bool) error) error {
	if !h.initialized {
		return ErrUninitialized
	}

	for addr := Addr(0); addr < Addr(h.capacity); {
		hdr, err := h.decodeHeader("visit", addr)
		if err != nil {
			return err
		}

		err = handleRegion(addr, hdr.BlockSize(), hdr.Tag() == TagFree)
		if err != nil {
			return err
		}

		addr += Addr(hdr.BlockSize())
	}

	return nil
}

// FreeList returns the offsets of the free blocks in link order, head first
func (h *Heap) FreeList() ([]Addr, error) {
	return h.collectFreeList(false)
}

// FreeListReverse returns the offsets of the free blocks following prev links from the head
func (h *Heap) FreeListReverse() ([]Addr, error) {
	return h.collectFreeList(true)
}

func (h *Heap) collectFreeList(backward bool) ([]Addr, error) {
	list := make([]Addr, 0, h.freeCount)
	err := h.walkFreeList("inspect", backward, func(block FreeHeader) (bool, error) {
		list = append(list, block.Addr)
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return list, nil
}

func (h *Heap) AddStatistics(stats *memutils.Statistics) {
	if !h.initialized {
		return
	}

	stats.HeapCount++
	stats.AllocationCount += h.allocCount
	stats.HeapBytes += int(h.capacity)
	stats.AllocationBytes += int(h.capacity) - h.SumFreeSize()
}

// AddDetailedStatistics walks every block and folds its size into stats. If a header is
// corrupt, the blocks before it are still counted and the decode error is returned.
func (h *Heap) AddDetailedStatistics(stats *memutils.DetailedStatistics) error {
	if !h.initialized {
		return nil
	}

	stats.HeapCount++
	stats.HeapBytes += int(h.capacity)

	return h.VisitAllRegions(func(offset Addr, size uint32, free bool) error {
		if free {
			stats.AddFreeBlock(int(size))
		} else {
			stats.AddAllocation(int(size))
		}
		return nil
	})
}

// TagOccurrences returns every word-aligned offset whose word equals tag, whether or not it
// begins a block. Payload bytes that happen to spell a tag show up here too.
func (h *Heap) TagOccurrences(tag Tag) []Addr {
	var offsets []Addr
	for addr := Addr(0); h.inBounds(addr, WordSize); addr += WordSize {
		if Tag(h.word(addr, tagField)) == tag {
			offsets = append(offsets, addr)
		}
	}
	return offsets
}

// DebugLogAllAllocations calls logFunc with the payload handle and usable size of every live
// allocation, in address order
func (h *Heap) DebugLogAllAllocations(logger *slog.Logger, logFunc func(log *slog.Logger, ptr Addr, usable uint32)) {
	if !h.initialized {
		return
	}

	err := h.VisitAllRegions(func(offset Addr, size uint32, free bool) error {
		if !free {
			block := AllocatedHeader{Addr: offset, Size: size}
			logFunc(logger, block.Payload(), block.Usable())
		}
		return nil
	})
	if err != nil {
		logger.Error("Heap::DebugLogAllAllocations stopped early", slog.Any("error", err))
	}
}
