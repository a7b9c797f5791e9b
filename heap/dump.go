package heap

import (
	"fmt"
	"io"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/vlad/memutils"
)

// DumpState writes a human-readable report of the heap to w: the head, where each tag value
// occurs in the buffer, every block in address order, and the free list walked in both
// directions. If a corrupt header is reached, the report is written up to that point and
// the corruption error is returned.
func (h *Heap) DumpState(w io.Writer) error {
	var sb strings.Builder
	walkErr := h.writeState(&sb)
	if walkErr != nil {
		fmt.Fprintf(&sb, "corruption: %v\n", walkErr)
	}

	_, err := io.WriteString(w, sb.String())
	if err != nil {
		return errors.Wrap(err, "write heap state")
	}
	return walkErr
}

func (h *Heap) writeState(sb *strings.Builder) error {
	if !h.initialized {
		sb.WriteString("heap: uninitialized\n")
		return nil
	}

	fmt.Fprintf(sb, "heap: capacity %d, strategy %s, head %d\n", h.capacity, h.strategy, h.head)
	fmt.Fprintf(sb, "offsets of %s tags: %s\n", TagFree, joinAddrs(h.TagOccurrences(TagFree), ", "))
	fmt.Fprintf(sb, "offsets of %s tags: %s\n", TagAllocated, joinAddrs(h.TagOccurrences(TagAllocated), ", "))
	fmt.Fprintf(sb, "free regions: %d, allocated regions: %d, free bytes: %d\n", h.freeCount, h.allocCount, h.freeBytes)

	region := 0
	err := h.VisitAllRegions(func(offset Addr, size uint32, free bool) error {
		region++
		kind, usable := "Free ", size-FreeHeaderSize
		if !free {
			kind, usable = "Alloc", size-AllocHeaderSize
		}
		fmt.Fprintf(sb, "Region %d: %s : (%4d - %4d) \t Size: %4d \t Usable: %4d\n",
			region, kind, offset, offset+Addr(size), size, usable)
		return nil
	})
	if err != nil {
		return err
	}

	forward, err := h.FreeList()
	if err != nil {
		return err
	}
	fmt.Fprintf(sb, "free list along next: %s -> %d\n", joinAddrs(forward, " -> "), h.head)

	backward, err := h.FreeListReverse()
	if err != nil {
		return err
	}
	fmt.Fprintf(sb, "free list along prev: %s -> %d\n", joinAddrs(backward, " -> "), h.head)
	return nil
}

func joinAddrs(addrs []Addr, sep string) string {
	parts := make([]string, len(addrs))
	for i, addr := range addrs {
		parts[i] = fmt.Sprint(uint32(addr))
	}
	return strings.Join(parts, sep)
}

// BlockJsonData populates a json object with summary information about the heap. A corrupt
// heap also gets a Corruption field, and its totals cover only the blocks before the damage.
func (h *Heap) BlockJsonData(json jwriter.ObjectState) {
	if err := h.blockJsonData(json); err != nil {
		json.Name("Corruption").String(err.Error())
	}
}

func (h *Heap) blockJsonData(json jwriter.ObjectState) error {
	var stats memutils.DetailedStatistics
	stats.Clear()
	err := h.AddDetailedStatistics(&stats)

	json.Name("TotalBytes").Int(int(h.capacity))
	json.Name("UnusedBytes").Int(stats.FreeBytes())
	json.Name("Allocations").Int(stats.AllocationCount)
	json.Name("UnusedRanges").Int(stats.FreeBlockCount)
	json.Name("Strategy").String(h.strategy.String())

	if stats.AllocationCount > 0 {
		json.Name("AllocationSizeMin").Int(stats.AllocationSizeMin)
		json.Name("AllocationSizeMax").Int(stats.AllocationSizeMax)
	}
	if stats.FreeBlockCount > 0 {
		json.Name("UnusedRangeSizeMin").Int(stats.FreeBlockSizeMin)
		json.Name("UnusedRangeSizeMax").Int(stats.FreeBlockSizeMax)
	}
	return err
}

// PrintDetailedMap writes the heap summary and every block, in address order, as one json
// object. The region list stops at the first corrupt header, and the decode error is written
// to a Corruption field after it.
func (h *Heap) PrintDetailedMap(writer *jwriter.Writer) {
	obj := writer.Object()
	defer obj.End()

	obj.Name("Initialized").Bool(h.initialized)
	if !h.initialized {
		return
	}

	statsErr := h.blockJsonData(obj)
	obj.Name("Head").Int(int(h.head))

	regions := obj.Name("Regions").Array()
	err := h.VisitAllRegions(func(offset Addr, size uint32, free bool) error {
		region := regions.Object()
		defer region.End()

		region.Name("Offset").Int(int(offset))
		if free {
			region.Name("Type").String(TagFree.String())
		} else {
			region.Name("Type").String(TagAllocated.String())
		}
		region.Name("Size").Int(int(size))
		return nil
	})
	regions.End()

	if err == nil {
		err = statsErr
	}
	if err != nil {
		obj.Name("Corruption").String(err.Error())
	}
}

// BuildStatsString renders PrintDetailedMap to a string
func (h *Heap) BuildStatsString() string {
	writer := jwriter.NewWriter()
	h.PrintDetailedMap(&writer)
	return string(writer.Bytes())
}
