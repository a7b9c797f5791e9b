// Package source provides the collaborators a heap uses to obtain and return its backing
// buffer. A heap asks for its buffer exactly once per Init and hands it back on Shutdown.
package source

import (
	"github.com/cockroachdb/errors"
)

//go:generate mockgen -destination=../mocks/source_mock.go -package=mocks github.com/vkngwrapper/vlad/heap/source BufferSource

// ErrCapExceeded is returned by CappedSource when a request is larger than its limit
var ErrCapExceeded = errors.New("requested buffer exceeds the source limit")

// BufferSource acquires and releases the raw byte buffer a heap manages
type BufferSource interface {
	// Acquire returns a zeroed buffer of exactly size bytes, or an error if none is available
	Acquire(size int) ([]byte, error)
	// Release returns a buffer previously returned by Acquire. The buffer must not be used afterward.
	Release(buf []byte) error
}

// GoSource allocates buffers from the Go heap
type GoSource struct{}

var _ BufferSource = GoSource{}

func (GoSource) Acquire(size int) ([]byte, error) {
	if size <= 0 {
		return nil, errors.Newf("invalid buffer size %d", size)
	}
	return make([]byte, size), nil
}

func (GoSource) Release(buf []byte) error {
	return nil
}

// CappedSource wraps another BufferSource and refuses any request larger than Limit bytes.
// A nil Source means GoSource.
type CappedSource struct {
	Limit  int
	Source BufferSource
}

var _ BufferSource = CappedSource{}

func (s CappedSource) inner() BufferSource {
	if s.Source == nil {
		return GoSource{}
	}
	return s.Source
}

func (s CappedSource) Acquire(size int) ([]byte, error) {
	if size > s.Limit {
		return nil, errors.Wrapf(ErrCapExceeded, "requested %d bytes, limit is %d", size, s.Limit)
	}
	return s.inner().Acquire(size)
}

func (s CappedSource) Release(buf []byte) error {
	return s.inner().Release(buf)
}
