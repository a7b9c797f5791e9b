// Package heap implements a best-fit allocator over a single fixed-size simulated heap.
//
// The heap is one byte buffer obtained once from a source.BufferSource. Every block in it
// starts with a header whose leading tag says whether the block is free or allocated. Free
// blocks also carry next and prev offsets that thread them into a circular doubly-linked
// free list stored inside the buffer itself. Alloc picks the smallest free block that fits
// and splits it when the remainder is worth keeping; Free returns a block to the list in
// address order and merges it with any free neighbors before returning.
//
// A Heap is not safe for concurrent use.
package heap

import (
	"io"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/vlad/heap/source"
	"github.com/vkngwrapper/vlad/memutils"
	"golang.org/x/exp/slog"
)

// Strategy selects how Alloc chooses among the free blocks that fit a request
type Strategy uint32

const (
	// StrategyBestFit chooses the smallest free block that fits the request. Among blocks of
	// equal size, the first one reached from the free list head wins.
	StrategyBestFit Strategy = iota + 1
)

var strategyMapping = map[Strategy]string{
	StrategyBestFit: "BestFit",
}

func (s Strategy) String() string {
	return strategyMapping[s]
}

// CreateOptions contains optional settings when creating a heap. It is valid to leave all
// the fields blank.
type CreateOptions struct {
	// Source provides the backing buffer. GoSource is used when nil.
	Source source.BufferSource

	// Logger receives debug records for every heap operation. Nothing is logged when nil.
	Logger *slog.Logger

	// Strategy must be zero or StrategyBestFit
	Strategy Strategy
}

// Heap is an allocator context: one backing buffer, the offset of the free list head, and
// the bookkeeping counters used to cross-check the buffer in Validate.
type Heap struct {
	logger   *slog.Logger
	source   source.BufferSource
	strategy Strategy

	mem         []byte
	capacity    uint32
	head        Addr
	initialized bool

	allocCount int
	freeCount  int
	freeBytes  uint32
}

var _ memutils.Validatable = &Heap{}

// New creates an uninitialized heap. Init must be called before the heap is used.
func New(options CreateOptions) (*Heap, error) {
	strategy := options.Strategy
	if strategy == 0 {
		strategy = StrategyBestFit
	}
	if strategy != StrategyBestFit {
		return nil, errors.Wrapf(ErrUnsupportedStrategy, "strategy %d", uint32(options.Strategy))
	}

	src := options.Source
	if src == nil {
		src = source.GoSource{}
	}

	logger := options.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Heap{
		logger:   logger,
		source:   src,
		strategy: strategy,
	}, nil
}

// Init obtains the backing buffer and installs a single free block spanning all of it.
// capacity is raised to MinCapacity and then rounded up to a power of two.
//
// If the heap is already initialized, Init does nothing, even if capacity differs from the
// capacity the heap was built with. If the buffer cannot be obtained, the returned error
// matches ErrBufferUnavailable and the heap stays uninitialized.
func (h *Heap) Init(capacity uint32) error {
	if h.initialized {
		h.logger.Debug("Heap::Init ignored, already initialized",
			slog.Int("Capacity", int(h.capacity)), slog.Int("Requested", int(capacity)))
		return nil
	}

	if capacity > MaxCapacity {
		return errors.Wrapf(ErrCapacityTooLarge, "requested %d bytes, maximum is %d", capacity, MaxCapacity)
	}
	if capacity < MinCapacity {
		capacity = MinCapacity
	}
	capacity = memutils.NextPow2(capacity)
	memutils.DebugCheckPow2(capacity, "capacity")

	mem, err := h.source.Acquire(int(capacity))
	if err != nil {
		return errors.WithSecondaryError(errors.Wrapf(ErrBufferUnavailable, "acquire %d bytes: %v", capacity, err), err)
	}
	if len(mem) != int(capacity) {
		releaseErr := h.source.Release(mem)
		return errors.CombineErrors(
			errors.Wrapf(ErrBufferUnavailable, "source returned %d bytes, expected %d", len(mem), capacity),
			releaseErr,
		)
	}

	h.mem = mem
	h.capacity = capacity
	h.head = 0
	h.allocCount = 0
	h.freeCount = 1
	h.freeBytes = capacity
	h.initialized = true

	h.writeFree(FreeHeader{Addr: 0, Size: capacity, Next: 0, Prev: 0})

	h.logger.Debug("Heap::Init", slog.Int("Capacity", int(capacity)), slog.String("Strategy", h.strategy.String()),
		slog.Bool("DebugValidate", memutils.DebugEnabled))
	memutils.DebugValidate(h)
	return nil
}

// Shutdown returns the backing buffer to its source. Afterward the heap is uninitialized and
// may be initialized again, with any capacity. Every outstanding handle becomes invalid.
// Shutting down an uninitialized heap does nothing.
func (h *Heap) Shutdown() error {
	if !h.initialized {
		return nil
	}

	mem := h.mem
	h.mem = nil
	h.capacity = 0
	h.head = 0
	h.allocCount = 0
	h.freeCount = 0
	h.freeBytes = 0
	h.initialized = false

	h.logger.Debug("Heap::Shutdown", slog.Int("Capacity", len(mem)))
	return errors.Wrap(h.source.Release(mem), "release backing buffer")
}

// Initialized reports whether Init has built the heap and Shutdown has not torn it down
func (h *Heap) Initialized() bool { return h.initialized }

// Capacity is the size of the heap in bytes, or 0 when uninitialized
func (h *Heap) Capacity() uint32 { return h.capacity }

// Strategy is the allocation strategy the heap was created with
func (h *Heap) Strategy() Strategy { return h.strategy }

// Head returns the offset of the free list head. The boolean is false when the heap is
// uninitialized.
func (h *Heap) Head() (Addr, bool) {
	if !h.initialized {
		return NilAddr, false
	}
	return h.head, true
}

// Bytes exposes the backing buffer for inspection. Callers must not write to it.
func (h *Heap) Bytes() []byte { return h.mem }

// AllocationCount is the number of live allocations
func (h *Heap) AllocationCount() int { return h.allocCount }

// FreeRegionsCount is the number of blocks on the free list
func (h *Heap) FreeRegionsCount() int { return h.freeCount }

// SumFreeSize is the number of bytes, headers included, held by free blocks
func (h *Heap) SumFreeSize() int { return int(h.freeBytes) }

// IsEmpty reports whether the heap has no live allocations
func (h *Heap) IsEmpty() bool { return h.allocCount == 0 }

// Payload returns the first n usable bytes of the live allocation at ptr. The slice aliases
// the heap buffer and its capacity ends at the allocation's end.
func (h *Heap) Payload(ptr Addr, n int) ([]byte, error) {
	if !h.initialized {
		return nil, ErrUninitialized
	}
	if ptr < AllocHeaderSize {
		return nil, &CorruptionError{Op: "payload", Addr: ptr, Want: TagAllocated, Detail: "handle precedes the first payload", Err: ErrNotAllocated}
	}

	hdr, err := h.allocatedHeaderAt("payload", ptr-AllocHeaderSize)
	if err != nil {
		return nil, err
	}

	if n < 0 || n > int(hdr.Usable()) {
		return nil, errors.Newf("requested %d bytes of a %d byte allocation", n, hdr.Usable())
	}

	start := int(ptr)
	return h.mem[start : start+n : start+int(hdr.Usable())], nil
}
