package hostnet

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSocketsConflict(t *testing.T) {
	t.Parallel()

	loopback := net.IPv4(127, 0, 0, 1)
	assert.True(t, socketsConflict(net.IPv4zero, loopback))
	assert.True(t, socketsConflict(net.IPv4(127, 0, 0, 1), loopback))
	assert.False(t, socketsConflict(net.IPv4(127, 0, 0, 2), loopback))
	assert.False(t, socketsConflict(net.IPv4(10, 0, 0, 1), loopback))
}

func TestSortedPorts(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []int{53, 123, 5353}, sortedPorts(map[int]struct{}{5353: {}, 53: {}, 123: {}}))
	assert.Empty(t, sortedPorts(nil))
}

func TestLoopbackStatus_Usable(t *testing.T) {
	t.Parallel()

	assert.True(t, LoopbackStatus{Interface: "lo", Up: true}.Usable())
	assert.False(t, LoopbackStatus{Interface: "lo"}.Usable())
}
