package source_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/vlad/heap/source"
)

func TestGoSource(t *testing.T) {
	var src source.GoSource

	buf, err := src.Acquire(1024)
	require.NoError(t, err)
	require.Len(t, buf, 1024)
	require.NoError(t, src.Release(buf))

	_, err = src.Acquire(0)
	require.Error(t, err)
}

func TestMmapSource(t *testing.T) {
	var src source.MmapSource

	buf, err := src.Acquire(4096)
	require.NoError(t, err)
	require.Len(t, buf, 4096)

	buf[0] = 0xAB
	buf[4095] = 0xCD
	require.Equal(t, byte(0), buf[1])

	require.NoError(t, src.Release(buf))
}

func TestCappedSource(t *testing.T) {
	src := source.CappedSource{Limit: 2048}

	buf, err := src.Acquire(2048)
	require.NoError(t, err)
	require.Len(t, buf, 2048)
	require.NoError(t, src.Release(buf))

	_, err = src.Acquire(4096)
	require.ErrorIs(t, err, source.ErrCapExceeded)
}
