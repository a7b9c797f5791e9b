//go:build !(linux || darwin || freebsd || netbsd || openbsd)

package source

// MmapSource falls back to the Go heap on platforms without anonymous mappings
type MmapSource struct {
	GoSource
}

var _ BufferSource = MmapSource{}
