package socket

import (
	"bytes"
	"errors"
	"math"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	if err := Startup(); err != nil {
		panic(err)
	}
	m.Run()
}

func openTestSocket(t *testing.T) *UDPSocket {
	t.Helper()
	s, err := Open(0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStartup_Repeatable(t *testing.T) {
	require.NoError(t, Startup())
	require.NoError(t, Startup())
}

func TestOpen_EphemeralPortOnLoopback(t *testing.T) {
	t.Parallel()

	s := openTestSocket(t)
	local := s.LocalEndpoint()
	assert.Equal(t, LoopbackIP, local.IP)
	assert.NotZero(t, local.Port)
}

func TestOpen_PortInUse(t *testing.T) {
	t.Parallel()

	first := openTestSocket(t)

	second, err := Open(first.LocalEndpoint().Port)
	require.Error(t, err)
	assert.Nil(t, second)
	assert.ErrorIs(t, err, ErrBind)
	assert.NotErrorIs(t, err, ErrCreation)

	var opErr *OpError
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, OpBind, opErr.Op)
	assert.Equal(t, first.LocalEndpoint(), opErr.Endpoint)

	_, ok := Errno(err)
	assert.True(t, ok)
}

func TestOpen_PortReusableAfterClose(t *testing.T) {
	t.Parallel()

	first, err := Open(0)
	require.NoError(t, err)
	port := first.LocalEndpoint().Port
	require.NoError(t, first.Close())

	second, err := Open(port)
	require.NoError(t, err)
	assert.Equal(t, Loopback(port), second.LocalEndpoint())
	require.NoError(t, second.Close())
}

func TestSendReceive(t *testing.T) {
	t.Parallel()

	a := openTestSocket(t)
	b := openTestSocket(t)

	payload := []byte("hello over loopback")
	n, err := a.SendTo(payload, b.LocalEndpoint())
	require.NoError(t, err)
	assert.Equal(t, len(payload), n)

	buf := make([]byte, 1500)
	r, err := b.ReceiveFrom(buf, 2*time.Second)
	require.NoError(t, err)
	require.False(t, r.TimedOut)
	assert.Equal(t, payload, buf[:r.N])
	assert.Equal(t, a.LocalEndpoint().Port, r.From.Port)
	assert.Equal(t, LoopbackIP, r.From.IP)
}

func TestSendReceive_Ordering(t *testing.T) {
	t.Parallel()

	a := openTestSocket(t)
	b := openTestSocket(t)

	for i := byte(0); i < 10; i++ {
		_, err := a.SendTo([]byte{i}, b.LocalEndpoint())
		require.NoError(t, err)
	}

	buf := make([]byte, 16)
	for i := byte(0); i < 10; i++ {
		r, err := b.ReceiveFrom(buf, time.Second)
		require.NoError(t, err)
		require.False(t, r.TimedOut)
		assert.Equal(t, []byte{i}, buf[:r.N])
	}
}

func TestSendReceive_EmptyDatagram(t *testing.T) {
	t.Parallel()

	a := openTestSocket(t)
	b := openTestSocket(t)

	n, err := a.SendTo(nil, b.LocalEndpoint())
	require.NoError(t, err)
	assert.Zero(t, n)

	r, err := b.ReceiveFrom(make([]byte, 8), time.Second)
	require.NoError(t, err)
	assert.False(t, r.TimedOut)
	assert.Zero(t, r.N)
	assert.Equal(t, a.LocalEndpoint(), r.From)
}

func TestReceiveFrom_Truncates(t *testing.T) {
	t.Parallel()

	a := openTestSocket(t)
	b := openTestSocket(t)

	payload := bytes.Repeat([]byte("0123456789"), 10)
	_, err := a.SendTo(payload, b.LocalEndpoint())
	require.NoError(t, err)

	buf := make([]byte, 16)
	r, err := b.ReceiveFrom(buf, 2*time.Second)
	require.NoError(t, err)
	require.False(t, r.TimedOut)
	assert.Equal(t, len(buf), r.N)
	assert.Equal(t, payload[:16], buf)
	assert.Equal(t, a.LocalEndpoint(), r.From)

	// The rest of the truncated datagram is gone.
	r, err = b.ReceiveFrom(buf, 0)
	require.NoError(t, err)
	assert.True(t, r.TimedOut)
}

func TestReceiveFrom_ZeroTimeoutReturnsImmediately(t *testing.T) {
	t.Parallel()

	s := openTestSocket(t)

	start := time.Now()
	r, err := s.ReceiveFrom(make([]byte, 64), 0)
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.True(t, r.TimedOut)
	assert.Zero(t, r.N)
	assert.Less(t, elapsed, 100*time.Millisecond)
}

func TestReceiveFrom_ShortTimeout(t *testing.T) {
	t.Parallel()

	s := openTestSocket(t)

	start := time.Now()
	r, err := s.ReceiveFrom(make([]byte, 64), 50*time.Millisecond)
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.True(t, r.TimedOut)
	assert.GreaterOrEqual(t, elapsed, 40*time.Millisecond)
	assert.Less(t, elapsed, time.Second)
}

func TestReceiveFrom_ForeverReturnsQueuedDatagram(t *testing.T) {
	t.Parallel()

	a := openTestSocket(t)
	b := openTestSocket(t)

	_, err := a.SendTo([]byte("x"), b.LocalEndpoint())
	require.NoError(t, err)

	done := make(chan Reception, 1)
	go func() {
		r, err := b.ReceiveFrom(make([]byte, 4), Forever)
		assert.NoError(t, err)
		done <- r
	}()

	select {
	case r := <-done:
		assert.Equal(t, 1, r.N)
	case <-time.After(2 * time.Second):
		t.Fatal("receive with infinite timeout did not return a queued datagram")
	}
}

func TestReceiveFrom_SocketStaysOpenAcrossGC(t *testing.T) {
	t.Parallel()

	sender := openTestSocket(t)
	s, err := Open(0)
	require.NoError(t, err)
	target := s.LocalEndpoint()

	// Only the call in flight references the socket, which the finalizer
	// releases once it returns.
	done := make(chan error, 1)
	go func(s *UDPSocket) {
		r, err := s.ReceiveFrom(make([]byte, 8), 2*time.Second)
		if err == nil && r.TimedOut {
			err = errors.New("timed out")
		}
		done <- err
	}(s)
	s = nil

	for i := 0; i < 5; i++ {
		runtime.GC()
		time.Sleep(10 * time.Millisecond)
	}

	_, err = sender.SendTo([]byte("x"), target)
	require.NoError(t, err)
	require.NoError(t, <-done)
}

func TestClosedSocket(t *testing.T) {
	t.Parallel()

	s, err := Open(0)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	assert.ErrorIs(t, s.Close(), ErrClosed)

	_, err = s.SendTo([]byte("x"), Loopback(9))
	assert.ErrorIs(t, err, ErrClosed)

	_, err = s.ReceiveFrom(make([]byte, 4), 0)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestPollTimeout(t *testing.T) {
	t.Parallel()

	tests := []struct {
		timeout time.Duration
		want    int
	}{
		{Forever, -1},
		{-5 * time.Second, -1},
		{0, 0},
		{time.Nanosecond, 1},
		{time.Millisecond, 1},
		{1500 * time.Microsecond, 2},
		{50 * time.Millisecond, 50},
		{time.Hour, 3600000},
		{maxPollTimeout, math.MaxInt32},
		{maxPollTimeout + 1, -1},
		{1 << 62, -1},
		{math.MaxInt64, -1},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, pollTimeout(tt.timeout), tt.timeout.String())
	}
}
