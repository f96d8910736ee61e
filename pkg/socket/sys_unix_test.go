//go:build unix

package socket

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestOpen_PortInUseErrno(t *testing.T) {
	t.Parallel()

	first := openTestSocket(t)

	_, err := Open(first.LocalEndpoint().Port)
	require.Error(t, err)
	assert.ErrorIs(t, err, unix.EADDRINUSE)

	errno, ok := Errno(err)
	require.True(t, ok)
	assert.Equal(t, unix.EADDRINUSE, errno)
}

func TestSysPoll_InvalidHandle(t *testing.T) {
	t.Parallel()

	_, err := sysPoll(invalidHandle, 0)
	// poll ignores negative descriptors, so nothing is ever ready.
	require.NoError(t, err)
}
