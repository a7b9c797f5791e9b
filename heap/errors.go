package heap

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

var (
	// ErrNoSpace is returned by Alloc when no free block can satisfy the request. It is the only
	// recoverable failure: the heap is left exactly as it was.
	ErrNoSpace = errors.New("no free block large enough")

	// ErrUninitialized is returned by operations on a heap that has not been initialized, or
	// that has been shut down
	ErrUninitialized = errors.New("heap is not initialized")

	// ErrBufferUnavailable is returned by Init when the backing buffer could not be obtained
	ErrBufferUnavailable = errors.New("backing buffer unavailable")

	// ErrCapacityTooLarge is returned by Init when the requested capacity cannot be rounded to
	// a 32-bit power of two
	ErrCapacityTooLarge = errors.New("requested capacity is too large")

	// ErrUnsupportedStrategy is returned by New for any strategy other than StrategyBestFit
	ErrUnsupportedStrategy = errors.New("unsupported allocation strategy")

	// ErrNilPointer is returned by Free when passed NilAddr
	ErrNilPointer = errors.New("attempted to free a nil pointer")

	// ErrNotAllocated is the cause of the CorruptionError returned by Free when the handle does
	// not sit directly after an allocated block header. Freeing a handle twice produces it.
	ErrNotAllocated = errors.New("attempted to free memory that is not allocated")

	// ErrCorruption is the cause of every CorruptionError that is not an ErrNotAllocated
	ErrCorruption = errors.New("heap corruption")
)

// CorruptionError reports a block header that could not be trusted: a tag that does not
// match the role of the header, or header fields that do not fit inside the heap. Once one
// is returned the heap's in-buffer links are unreliable, and the heap should be shut down.
type CorruptionError struct {
	Op    string
	Addr  Addr
	Found Tag
	Want  Tag

	// Detail replaces the tag comparison in the message when set
	Detail string

	// Err is the sentinel cause; nil means ErrCorruption
	Err error
}

func (e *CorruptionError) Error() string {
	cause := e.Unwrap().Error()
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s at offset %d: %s", e.Op, cause, e.Addr, e.Detail)
	}
	if e.Want == TagInvalid {
		return fmt.Sprintf("%s: %s at offset %d: unrecognized tag %s", e.Op, cause, e.Addr, e.Found)
	}
	return fmt.Sprintf("%s: %s at offset %d: found tag %s, expected %s", e.Op, cause, e.Addr, e.Found, e.Want)
}

func (e *CorruptionError) Unwrap() error {
	if e.Err == nil {
		return ErrCorruption
	}
	return e.Err
}

// IsFatal reports whether err is one of the unrecoverable failures: corruption, a nil or
// foreign handle passed to Free, or a backing buffer that could not be obtained. ErrNoSpace
// and ErrUninitialized are not fatal.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}

	var corruption *CorruptionError
	if errors.As(err, &corruption) {
		return true
	}

	return errors.Is(err, ErrCorruption) ||
		errors.Is(err, ErrNotAllocated) ||
		errors.Is(err, ErrNilPointer) ||
		errors.Is(err, ErrBufferUnavailable)
}
