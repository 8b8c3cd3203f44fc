//go:build darwin || dragonfly || freebsd || linux || netbsd || openbsd

package poll

import (
	"io"
	"net"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/talostrading/poll/pollerrors"
	"golang.org/x/net/nettest"
	"golang.org/x/sys/unix"
)

func socketpair(t *testing.T) (int, int) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	for _, fd := range fds {
		require.NoError(t, unix.SetNonblock(fd, true))
	}
	t.Cleanup(func() {
		_ = unix.Close(fds[0])
		_ = unix.Close(fds[1])
	})
	return fds[0], fds[1]
}

func rawFd(t *testing.T, c syscall.Conn) int {
	rc, err := c.SyscallConn()
	require.NoError(t, err)

	var fd int
	require.NoError(t, rc.Control(func(v uintptr) {
		fd = int(v)
	}))
	return fd
}

func newPoll(t *testing.T) *Poll {
	p, err := New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func collect(events *Events) map[Token]Event {
	m := make(map[Token]Event)
	for ev := range events.All() {
		m[ev.Token()] = ev
	}
	return m
}

func TestPollLoopback(t *testing.T) {
	assert := assert.New(t)
	p := newPoll(t)
	events := NewEvents(16)

	ln, err := nettest.NewLocalListener("tcp")
	require.NoError(t, err)
	defer ln.Close()

	const (
		server Token = 0
		client Token = 1
	)

	lfd := rawFd(t, ln.(*net.TCPListener))
	require.NoError(t, p.Registry().Register(SourceFd(lfd), server, Readable))

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	cfd := rawFd(t, conn.(*net.TCPConn))
	require.NoError(t, p.Registry().Register(SourceFd(cfd), client, Readable.Add(Writable)))

	ready := make(map[Token]Event)
	deadline := time.Now().Add(5 * time.Second)
	for len(ready) < 2 && time.Now().Before(deadline) {
		require.NoError(t, p.Wait(events, time.Second))
		for tok, ev := range collect(events) {
			ready[tok] = ev
		}
	}

	assert.True(ready[server].IsReadable(), "listener should be readable once a client connects")
	assert.True(ready[client].IsWritable(), "connected client should be writable")

	peer, err := ln.Accept()
	require.NoError(t, err)
	defer peer.Close()

	_, err = peer.Write([]byte("hello"))
	require.NoError(t, err)

	var got Event
	deadline = time.Now().Add(5 * time.Second)
	for !got.IsReadable() && time.Now().Before(deadline) {
		require.NoError(t, p.Wait(events, time.Second))
		if ev, ok := collect(events)[client]; ok {
			got = ev
		}
	}
	assert.True(got.IsReadable())
	assert.Equal(client, got.Token())

	require.NoError(t, p.Registry().Deregister(SourceFd(cfd)))
	require.NoError(t, p.Registry().Deregister(SourceFd(lfd)))
}

func TestPollZeroTimeoutNothingReady(t *testing.T) {
	a, _ := socketpair(t)
	p := newPoll(t)
	events := NewEvents(4)

	require.NoError(t, p.Registry().Register(SourceFd(a), 1, Readable))

	start := time.Now()
	require.NoError(t, p.Wait(events, 0))
	assert.True(t, events.IsEmpty())
	assert.Less(t, time.Since(start), time.Second)
}

func TestPollTimeoutElapses(t *testing.T) {
	a, _ := socketpair(t)
	p := newPoll(t)
	events := NewEvents(4)

	require.NoError(t, p.Registry().Register(SourceFd(a), 1, Readable))

	start := time.Now()
	require.NoError(t, p.Wait(events, 50*time.Millisecond))
	assert.True(t, events.IsEmpty())
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestPollWaitClearsEvents(t *testing.T) {
	a, b := socketpair(t)
	p := newPoll(t)
	events := NewEvents(4)

	require.NoError(t, p.Registry().Register(SourceFd(a), 1, Readable))
	_, err := unix.Write(b, []byte("x"))
	require.NoError(t, err)

	require.NoError(t, p.Wait(events, time.Second))
	require.Equal(t, 1, events.Len())

	// Edge triggered: nothing new happened.
	require.NoError(t, p.Wait(events, 0))
	assert.Equal(t, 0, events.Len())
}

func TestPollDeregisterThenWrite(t *testing.T) {
	a, b := socketpair(t)
	p := newPoll(t)
	events := NewEvents(4)

	src := SourceFd(a)
	require.NoError(t, p.Registry().Register(src, 1, Readable))
	require.NoError(t, p.Registry().Deregister(src))

	_, err := unix.Write(b, []byte("x"))
	require.NoError(t, err)

	require.NoError(t, p.Wait(events, 50*time.Millisecond))
	assert.True(t, events.IsEmpty())

	assert.ErrorIs(t, p.Registry().Deregister(src), pollerrors.ErrNotFound)
}

func TestPollReregisterNewToken(t *testing.T) {
	a, _ := socketpair(t)
	p := newPoll(t)
	events := NewEvents(4)

	src := SourceFd(a)
	require.NoError(t, p.Registry().Register(src, 1, Readable))
	require.NoError(t, p.Registry().Reregister(src, 2, Readable.Add(Writable)))

	require.NoError(t, p.Wait(events, time.Second))
	require.Equal(t, 1, events.Len())

	ev := events.At(0)
	assert.Equal(t, Token(2), ev.Token())
	assert.True(t, ev.IsWritable())
}

func TestPollRegisterTwice(t *testing.T) {
	a, _ := socketpair(t)
	p := newPoll(t)

	require.NoError(t, p.Registry().Register(SourceFd(a), 1, Readable))
	assert.ErrorIs(t, p.Registry().Register(SourceFd(a), 2, Writable), pollerrors.ErrAlreadyRegistered)
}

func TestPollCapacityBoundsEvents(t *testing.T) {
	p := newPoll(t)
	events := NewEvents(2)

	for i := 0; i < 4; i++ {
		a, b := socketpair(t)
		require.NoError(t, p.Registry().Register(SourceFd(a), Token(i), Readable))
		_, err := unix.Write(b, []byte("x"))
		require.NoError(t, err)
	}

	seen := make(map[Token]struct{})

	require.NoError(t, p.Wait(events, time.Second))
	assert.Equal(t, 2, events.Len())
	for ev := range events.All() {
		seen[ev.Token()] = struct{}{}
	}

	require.NoError(t, p.Wait(events, time.Second))
	assert.Equal(t, 2, events.Len())
	for ev := range events.All() {
		seen[ev.Token()] = struct{}{}
	}

	assert.Len(t, seen, 4)
}

func TestPollInvalidInput(t *testing.T) {
	a, _ := socketpair(t)
	p := newPoll(t)

	assert.ErrorIs(t, p.Registry().Register(SourceFd(a), 1, 0), pollerrors.ErrInvalidInput)
	assert.ErrorIs(t, p.Registry().Register(nil, 1, Readable), pollerrors.ErrInvalidInput)
	assert.ErrorIs(t, p.Wait(nil, 0), pollerrors.ErrInvalidInput)
	assert.ErrorIs(t, p.Wait(NewEvents(0), 0), pollerrors.ErrInvalidInput)
}

func TestPollUnknownHandle(t *testing.T) {
	a, _ := socketpair(t)
	p := newPoll(t)

	assert.ErrorIs(t, p.Registry().Reregister(SourceFd(a), 1, Readable), pollerrors.ErrNotFound)
	assert.ErrorIs(t, p.Registry().Deregister(SourceFd(a)), pollerrors.ErrNotFound)
}

func TestPollDeregisterClosedFd(t *testing.T) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	defer unix.Close(fds[1])

	p := newPoll(t)
	require.NoError(t, p.Registry().Register(SourceFd(fds[0]), 1, Readable))
	require.NoError(t, unix.Close(fds[0]))

	assert.NoError(t, p.Registry().Deregister(SourceFd(fds[0])))
}

func TestPollRegisterDuringWait(t *testing.T) {
	a, b := socketpair(t)
	p := newPoll(t)
	events := NewEvents(4)

	_, err := unix.Write(b, []byte("x"))
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		done <- p.Wait(events, 5*time.Second)
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, p.Registry().Register(SourceFd(a), 7, Readable))

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("wait did not observe the new registration")
	}

	require.Equal(t, 1, events.Len())
	assert.Equal(t, Token(7), events.At(0).Token())
}

func TestPollConcurrentWait(t *testing.T) {
	p := newPoll(t)
	waker, err := NewWaker(p.Registry(), 99)
	require.NoError(t, err)
	defer waker.Close()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = p.Wait(NewEvents(4), Forever)
	}()

	for !p.waiting.Load() {
		time.Sleep(time.Millisecond)
	}

	assert.ErrorIs(t, p.Wait(NewEvents(4), 0), pollerrors.ErrConcurrentWait)

	require.NoError(t, waker.Wake())
	wg.Wait()
}

func TestPollPeerClose(t *testing.T) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	defer unix.Close(fds[0])
	require.NoError(t, unix.SetNonblock(fds[0], true))

	p := newPoll(t)
	events := NewEvents(4)

	require.NoError(t, p.Registry().Register(SourceFd(fds[0]), 1, Readable))
	require.NoError(t, unix.Close(fds[1]))

	require.NoError(t, p.Wait(events, time.Second))
	require.Equal(t, 1, events.Len())

	ev := events.At(0)
	assert.True(t, ev.IsReadable())
	assert.True(t, ev.IsReadClosed())
}

func TestPollClose(t *testing.T) {
	p, err := New()
	require.NoError(t, err)

	assert.NoError(t, p.Close())
	assert.Equal(t, io.EOF, p.Close())
	assert.ErrorIs(t, p.Wait(NewEvents(1), 0), pollerrors.ErrClosed)
}

type delegatingConn struct {
	fd int
}

func (c *delegatingConn) Register(r *Registry, token Token, interest Interest) error {
	return SourceFd(c.fd).Register(r, token, interest)
}

func (c *delegatingConn) Reregister(r *Registry, token Token, interest Interest) error {
	return SourceFd(c.fd).Reregister(r, token, interest)
}

func (c *delegatingConn) Deregister(r *Registry) error {
	return SourceFd(c.fd).Deregister(r)
}

func TestPollCustomSource(t *testing.T) {
	a, _ := socketpair(t)
	p := newPoll(t)
	events := NewEvents(4)

	conn := &delegatingConn{fd: a}
	require.NoError(t, p.Registry().Register(conn, 3, Writable))

	require.NoError(t, p.Wait(events, time.Second))
	require.Equal(t, 1, events.Len())
	assert.Equal(t, Token(3), events.At(0).Token())
	assert.True(t, events.At(0).IsWritable())

	// The raw descriptor and the wrapper are the same registration.
	assert.ErrorIs(t, p.Registry().Register(SourceFd(a), 4, Readable), pollerrors.ErrAlreadyRegistered)
	require.NoError(t, p.Registry().Deregister(conn))
}

func TestPollSocketPairReadableWritable(t *testing.T) {
	a, b := socketpair(t)
	p := newPoll(t)
	events := NewEvents(4)

	require.NoError(t, p.Registry().Register(SourceFd(a), 1, Readable.Add(Writable)))

	require.NoError(t, p.Wait(events, 0))
	require.Equal(t, 1, events.Len())
	ev := events.At(0)
	assert.Equal(t, Token(1), ev.Token())
	assert.True(t, ev.IsWritable())
	assert.False(t, ev.IsReadable())

	_, err := unix.Write(b, []byte("ping"))
	require.NoError(t, err)

	var readable bool
	deadline := time.Now().Add(5 * time.Second)
	for !readable && time.Now().Before(deadline) {
		require.NoError(t, p.Wait(events, time.Second))
		if ev, ok := collect(events)[1]; ok {
			readable = ev.IsReadable()
		}
	}
	assert.True(t, readable)
}
