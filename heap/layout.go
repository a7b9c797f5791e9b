package heap

import (
	"encoding/binary"
	"fmt"
)

// Addr is a byte offset from the start of the heap buffer. Block links are stored in the
// buffer as Addr values, never as host pointers.
type Addr uint32

// NilAddr is the null payload handle. No payload can start at offset 0 because every
// payload is preceded by its block header.
const NilAddr Addr = 0

// Tag is the leading word of every block header. It alone decides how the rest of the
// header is read.
type Tag uint32

// TagInvalid is written over the header of a free block that was absorbed by its lower
// neighbor. TagFree and TagAllocated mark the two live header shapes.
const (
	TagInvalid   Tag = 0
	TagFree      Tag = 0xDEADBEEF
	TagAllocated Tag = 0xBEEFDEAD
)

var tagMapping = map[Tag]string{
	TagInvalid:   "Invalid",
	TagFree:      "Free",
	TagAllocated: "Allocated",
}

func (t Tag) String() string {
	str, ok := tagMapping[t]
	if !ok {
		return fmt.Sprintf("Tag(0x%08X)", uint32(t))
	}
	return str
}

const (
	// WordSize is the alignment of every block and the width of every header field
	WordSize = 4

	// AllocHeaderSize is the size of an allocated block header: tag, size
	AllocHeaderSize = 2 * WordSize

	// FreeHeaderSize is the size of a free block header: tag, size, next, prev. It is also
	// the smallest block the heap will ever create.
	FreeHeaderSize = 4 * WordSize
)

const (
	// MinCapacity is the smallest heap Init will build. Smaller requests are raised to it.
	MinCapacity uint32 = 1024

	// MaxCapacity is the largest heap Init will build. It is the largest power of two that
	// still fits in an int on 32-bit platforms.
	MaxCapacity uint32 = 1 << 30
)

const (
	tagField  = 0
	sizeField = WordSize
	nextField = 2 * WordSize
	prevField = 3 * WordSize
)

// Header is one decoded block header: either a FreeHeader or an AllocatedHeader
type Header interface {
	Offset() Addr
	BlockSize() uint32
	Tag() Tag
}

// FreeHeader is a node of the circular free list
type FreeHeader struct {
	Addr Addr
	// Size counts header and payload bytes
	Size uint32
	Next Addr
	Prev Addr
}

func (h FreeHeader) Offset() Addr      { return h.Addr }
func (h FreeHeader) BlockSize() uint32 { return h.Size }
func (h FreeHeader) Tag() Tag          { return TagFree }

// End is the offset of the first byte past this block
func (h FreeHeader) End() Addr { return h.Addr + Addr(h.Size) }

// AllocatedHeader precedes every payload handed out by Alloc
type AllocatedHeader struct {
	Addr Addr
	Size uint32
}

func (h AllocatedHeader) Offset() Addr      { return h.Addr }
func (h AllocatedHeader) BlockSize() uint32 { return h.Size }
func (h AllocatedHeader) Tag() Tag          { return TagAllocated }

// Payload is the handle returned to callers for this block
func (h AllocatedHeader) Payload() Addr { return h.Addr + AllocHeaderSize }

// Usable is the number of payload bytes the caller may touch
func (h AllocatedHeader) Usable() uint32 { return h.Size - AllocHeaderSize }

var (
	_ Header = FreeHeader{}
	_ Header = AllocatedHeader{}
)

func (h *Heap) inBounds(addr Addr, length uint32) bool {
	return uint64(addr)+uint64(length) <= uint64(len(h.mem))
}

func (h *Heap) word(addr Addr, field Addr) uint32 {
	return binary.LittleEndian.Uint32(h.mem[addr+field:])
}

func (h *Heap) putWord(addr Addr, field Addr, value uint32) {
	binary.LittleEndian.PutUint32(h.mem[addr+field:], value)
}

// readTag returns the tag stored at addr, or a corruption error if addr cannot hold a header
func (h *Heap) readTag(op string, addr Addr) (Tag, error) {
	if addr%WordSize != 0 || !h.inBounds(addr, AllocHeaderSize) {
		return TagInvalid, &CorruptionError{Op: op, Addr: addr, Detail: "header offset is outside the heap or misaligned"}
	}
	return Tag(h.word(addr, tagField)), nil
}

func (h *Heap) checkSize(op string, addr Addr, tag Tag, size uint32) error {
	if size < FreeHeaderSize || size%WordSize != 0 || !h.inBounds(addr, size) {
		return &CorruptionError{Op: op, Addr: addr, Found: tag, Want: tag, Detail: fmt.Sprintf("block size %d is invalid", size)}
	}
	return nil
}

func (h *Heap) checkLink(op string, addr Addr, link Addr) error {
	if link%WordSize != 0 || !h.inBounds(link, FreeHeaderSize) {
		return &CorruptionError{Op: op, Addr: addr, Found: TagFree, Want: TagFree, Detail: fmt.Sprintf("free list link %d points outside the heap", link)}
	}
	return nil
}

// decodeHeader reads the tag at addr and decodes the matching header shape. Any tag other
// than TagFree or TagAllocated, and any field that does not fit the heap, is corruption.
func (h *Heap) decodeHeader(op string, addr Addr) (Header, error) {
	tag, err := h.readTag(op, addr)
	if err != nil {
		return nil, err
	}

	switch tag {
	case TagFree:
		if !h.inBounds(addr, FreeHeaderSize) {
			return nil, &CorruptionError{Op: op, Addr: addr, Found: tag, Want: tag, Detail: "free header runs past the end of the heap"}
		}
		hdr := FreeHeader{
			Addr: addr,
			Size: h.word(addr, sizeField),
			Next: Addr(h.word(addr, nextField)),
			Prev: Addr(h.word(addr, prevField)),
		}
		if err := h.checkSize(op, addr, tag, hdr.Size); err != nil {
			return nil, err
		}
		if err := h.checkLink(op, addr, hdr.Next); err != nil {
			return nil, err
		}
		if err := h.checkLink(op, addr, hdr.Prev); err != nil {
			return nil, err
		}
		return hdr, nil
	case TagAllocated:
		hdr := AllocatedHeader{
			Addr: addr,
			Size: h.word(addr, sizeField),
		}
		if err := h.checkSize(op, addr, tag, hdr.Size); err != nil {
			return nil, err
		}
		return hdr, nil
	default:
		return nil, &CorruptionError{Op: op, Addr: addr, Found: tag}
	}
}

// freeHeaderAt decodes the header at addr and demands that it be free
func (h *Heap) freeHeaderAt(op string, addr Addr) (FreeHeader, error) {
	hdr, err := h.decodeHeader(op, addr)
	if err != nil {
		return FreeHeader{}, err
	}

	free, ok := hdr.(FreeHeader)
	if !ok {
		return FreeHeader{}, &CorruptionError{Op: op, Addr: addr, Found: hdr.Tag(), Want: TagFree}
	}
	return free, nil
}

// allocatedHeaderAt decodes the header at addr and demands that it be allocated
func (h *Heap) allocatedHeaderAt(op string, addr Addr) (AllocatedHeader, error) {
	hdr, err := h.decodeHeader(op, addr)
	if err != nil {
		return AllocatedHeader{}, err
	}

	alloc, ok := hdr.(AllocatedHeader)
	if !ok {
		return AllocatedHeader{}, &CorruptionError{Op: op, Addr: addr, Found: hdr.Tag(), Want: TagAllocated}
	}
	return alloc, nil
}

func (h *Heap) writeFree(hdr FreeHeader) {
	h.putWord(hdr.Addr, tagField, uint32(TagFree))
	h.putWord(hdr.Addr, sizeField, hdr.Size)
	h.putWord(hdr.Addr, nextField, uint32(hdr.Next))
	h.putWord(hdr.Addr, prevField, uint32(hdr.Prev))
}

func (h *Heap) writeAllocated(hdr AllocatedHeader) {
	h.putWord(hdr.Addr, tagField, uint32(TagAllocated))
	h.putWord(hdr.Addr, sizeField, hdr.Size)
}

func (h *Heap) setNext(addr Addr, next Addr) {
	h.putWord(addr, nextField, uint32(next))
}

func (h *Heap) setPrev(addr Addr, prev Addr) {
	h.putWord(addr, prevField, uint32(prev))
}

func (h *Heap) invalidate(addr Addr) {
	h.putWord(addr, tagField, uint32(TagInvalid))
}
