//go:build windows

package internal

import (
	"errors"
	"math"
	"os"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/eapache/queue"
	"github.com/sirupsen/logrus"
	"github.com/talostrading/poll/pollerrors"
	"golang.org/x/sys/windows"
)

// Handle is a raw SOCKET.
type Handle = windows.Handle

// wakerKey is the completion key of packets posted by a Waker. AFD helpers
// are associated with key 0.
const wakerKey uintptr = 1

// closeDrainTimeout bounds how long Close waits for cancelled polls to
// complete.
const closeDrainTimeout = time.Second

type pollStatus uint8

const (
	pollIdle pollStatus = iota
	pollPending
	pollCancelled
)

// sockState is the per socket context handed to the kernel with each poll.
// iosb must stay the first field: the completion packet returns its address
// as the overlapped pointer and it is converted straight back to a
// *sockState. A sockState stays in the Selector's arena, and so reachable,
// until the kernel has no request referencing it.
type sockState struct {
	iosb windows.IO_STATUS_BLOCK
	info afdPollInfo

	afd  *afd
	sock windows.Handle
	base windows.Handle

	token    uint64
	interest Interest

	status      pollStatus
	pendingMask uint32

	// queued is set while the state sits in the update queue.
	queued bool

	// deletePending marks a deregistered state whose poll has not completed
	// yet. It is released once that completion is dequeued.
	deletePending bool

	// localClosed marks a socket the driver reported as closed. It is no
	// longer polled; its table entry remains until deregistered or replaced.
	localClosed bool
}

// Selector emulates readiness on top of an I/O completion port. Every
// registered socket has at most one IOCTL_AFD_POLL in flight; a completed
// poll is turned into an event and the socket goes back on the update queue
// so a fresh poll is submitted before Select returns. Readiness is therefore
// level triggered.
type Selector struct {
	port windows.Handle

	// mu guards everything below up to closed. It is never held while
	// blocking in GetQueuedCompletionStatus.
	mu      sync.Mutex
	table   map[windows.Handle]*sockState
	arena   map[*sockState]struct{}
	updates *queue.Queue
	afds    []*afd

	// failed holds the states whose poll could not be submitted. Each is
	// reported once as an error event.
	failed []*sockState

	wakerToken atomic.Uint64

	// wakePending collapses Wake calls issued before the packet is consumed.
	wakePending atomic.Bool

	closed atomic.Bool

	log *logrus.Entry
}

func NewSelector(log *logrus.Entry) (*Selector, error) {
	port, err := windows.CreateIoCompletionPort(windows.InvalidHandle, 0, 0, 0)
	if err != nil {
		return nil, os.NewSyscallError("CreateIoCompletionPort", err)
	}

	return &Selector{
		port:    port,
		table:   make(map[windows.Handle]*sockState),
		arena:   make(map[*sockState]struct{}),
		updates: queue.New(),
		log:     log,
	}, nil
}

func (s *Selector) acquireAFD() (*afd, error) {
	for _, a := range s.afds {
		if a.refs < afdHelperCapacity {
			a.refs++
			return a, nil
		}
	}

	a, err := openAFD(s.port)
	if err != nil {
		return nil, err
	}
	a.refs++
	s.afds = append(s.afds, a)
	return a, nil
}

func (s *Selector) enqueue(st *sockState) {
	if !st.queued {
		st.queued = true
		s.updates.Add(st)
	}
}

// release drops st from the arena. The kernel must not reference it anymore.
func (s *Selector) release(st *sockState) {
	if _, ok := s.arena[st]; !ok {
		return
	}
	delete(s.arena, st)
	st.afd.refs--
	st.deletePending = true
}

// update brings the kernel side of st in line with its interest: an idle
// socket gets a poll, a pending poll that does not cover the interest is
// cancelled and resubmitted once its completion arrives.
func (s *Selector) update(st *sockState) error {
	if st.deletePending || st.localClosed {
		return nil
	}

	mask := interestToAFD(st.interest)

	switch st.status {
	case pollIdle:
		st.info = afdPollInfo{
			Timeout:         math.MaxInt64,
			NumberOfHandles: 1,
		}
		st.info.Handles[0] = afdPollHandleInfo{
			Handle: st.base,
			Events: mask,
		}
		if err := submitPoll(st.afd, &st.info, &st.iosb); err != nil {
			if errors.Is(err, windows.ERROR_INVALID_HANDLE) {
				// The socket was closed underneath us.
				st.localClosed = true
				return nil
			}
			return err
		}
		st.status = pollPending
		st.pendingMask = mask
	case pollPending:
		if mask&^st.pendingMask == 0 {
			// The pending poll already watches for everything asked for;
			// surplus events are filtered when it completes.
			return nil
		}
		if err := st.afd.cancel(&st.iosb); err != nil {
			return err
		}
		st.status = pollCancelled
		st.pendingMask = 0
	case pollCancelled:
		// Resubmitted once the cancellation completes.
	}
	return nil
}

// submitPoll is swapped out by tests to fail poll submission.
var submitPoll = (*afd).poll

// flush updates every queued state. A state whose update fails is taken out
// of polling and reported as an error on its next Select; the other sockets
// are not held up by it.
func (s *Selector) flush() {
	for s.updates.Length() > 0 {
		st := s.updates.Remove().(*sockState)
		st.queued = false
		if err := s.update(st); err != nil {
			s.log.WithError(err).WithField("handle", st.sock).Warn("cannot poll socket")
			st.localClosed = true
			s.failed = append(s.failed, st)
		}
	}
}

// reportFailed moves the failures recorded by flush into events and returns
// how many were written. States deregistered since are skipped.
func (s *Selector) reportFailed(events []Event) int {
	n, i := 0, 0
	for ; i < len(s.failed) && n < len(events); i++ {
		st := s.failed[i]
		s.failed[i] = nil
		if s.table[st.sock] != st {
			continue
		}
		events[n] = Event{Token: st.token, Flags: FlagError}
		n++
	}
	s.failed = s.failed[i:]
	return n
}

// complete consumes the completion of st's poll and returns the event it
// yields, if any.
func (s *Selector) complete(st *sockState) (Event, bool) {
	st.status = pollIdle
	st.pendingMask = 0

	if st.deletePending {
		s.release(st)
		return Event{}, false
	}
	if st.localClosed {
		return Event{}, false
	}

	var events uint32
	switch status := st.iosb.Status; {
	case status == statusCancelled:
		// Cancelled by a reregister: nothing to report, poll again.
	case uint32(status)>>30 == 3:
		// The poll itself failed: report it as an error on the socket.
		events = afdPollConnectFail
	case st.info.NumberOfHandles < 1:
	default:
		events = st.info.Handles[0].Events
	}

	if events&afdPollLocalClose != 0 {
		st.localClosed = true
		return Event{}, false
	}

	s.enqueue(st)

	flags := afdToFlags(events & interestToAFD(st.interest))
	if flags == 0 {
		return Event{}, false
	}
	return Event{Token: st.token, Flags: flags}, true
}

func (s *Selector) Register(sock Handle, token uint64, interest Interest) error {
	if s.closed.Load() {
		return pollerrors.ErrClosed
	}
	if interestToAFD(interest) == 0 {
		return pollerrors.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if st, ok := s.table[sock]; ok {
		if !st.localClosed {
			return pollerrors.ErrAlreadyRegistered
		}
		s.log.WithField("handle", sock).Debug("replacing registration of a closed socket")
		s.remove(st)
	}

	base, err := baseSocket(sock)
	if err != nil {
		return err
	}

	a, err := s.acquireAFD()
	if err != nil {
		return err
	}

	st := &sockState{
		afd:      a,
		sock:     sock,
		base:     base,
		token:    token,
		interest: interest,
	}
	s.table[sock] = st
	s.arena[st] = struct{}{}

	if err := s.update(st); err != nil {
		delete(s.table, sock)
		s.release(st)
		return err
	}
	return nil
}

func (s *Selector) Reregister(sock Handle, token uint64, interest Interest) error {
	if s.closed.Load() {
		return pollerrors.ErrClosed
	}
	if interestToAFD(interest) == 0 {
		return pollerrors.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.table[sock]
	if !ok {
		return pollerrors.ErrNotFound
	}

	st.token = token
	st.interest = interest
	return s.update(st)
}

// remove takes st out of the table and either releases it or, when a poll
// is still in flight, cancels that poll and leaves the release to its
// completion.
func (s *Selector) remove(st *sockState) {
	delete(s.table, st.sock)

	if st.status == pollPending {
		if err := st.afd.cancel(&st.iosb); err != nil {
			s.log.WithError(err).WithField("handle", st.sock).Debug("cancelling poll of deregistered socket")
		}
		st.status = pollCancelled
	}

	if st.status == pollIdle {
		s.release(st)
	} else {
		st.deletePending = true
	}
}

// Deregister stops polling sock. Deregistering a socket that was closed
// first is not an error.
func (s *Selector) Deregister(sock Handle) error {
	if s.closed.Load() {
		return pollerrors.ErrClosed
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.table[sock]
	if !ok {
		return pollerrors.ErrNotFound
	}
	if st.localClosed {
		s.log.WithField("handle", sock).Debug("deregistering closed socket")
	}
	s.remove(st)
	return nil
}

func timeoutToWin(timeout time.Duration) uint32 {
	ms := TimeoutMillis(timeout)
	if ms < 0 {
		return windows.INFINITE
	}
	return uint32(ms)
}

// dequeue blocks for up to timeout for the first packet, then drains the
// port without blocking while events has room.
func (s *Selector) dequeue(events []Event, timeout uint32) (int, error) {
	n := 0
	for n < len(events) {
		var (
			qty        uint32
			key        uintptr
			overlapped *windows.Overlapped
		)
		err := windows.GetQueuedCompletionStatus(s.port, &qty, &key, &overlapped, timeout)
		timeout = 0

		if overlapped == nil {
			if err != nil {
				if errors.Is(err, windows.WAIT_TIMEOUT) {
					return n, nil
				}
				return n, os.NewSyscallError("GetQueuedCompletionStatus", err)
			}
			if key == wakerKey {
				s.wakePending.Store(false)
				events[n] = Event{Token: s.wakerToken.Load(), Flags: FlagReadable}
				n++
			}
			continue
		}

		// A failed poll also returns an error here; its status is read from
		// the iosb instead.
		st := (*sockState)(unsafe.Pointer(overlapped))

		s.mu.Lock()
		ev, ok := s.complete(st)
		s.mu.Unlock()

		if ok {
			events[n] = ev
			n++
		}
	}
	return n, nil
}

// Select submits pending polls, waits for completions and resubmits polls for
// the sockets that completed before returning. A batch made only of
// cancellations does not end the call while time remains. Sockets whose poll
// could not be submitted are reported with FlagError.
func (s *Selector) Select(events []Event, timeout time.Duration) (int, error) {
	if s.closed.Load() {
		return 0, pollerrors.ErrClosed
	}
	if len(events) == 0 {
		return 0, pollerrors.ErrInvalidInput
	}

	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	for {
		s.mu.Lock()
		s.flush()
		n := s.reportFailed(events)
		s.mu.Unlock()

		wait := timeoutToWin(timeout)
		if n > 0 {
			wait = 0
		}

		var err error
		if n < len(events) {
			var m int
			m, err = s.dequeue(events[n:], wait)
			n += m
		}

		s.mu.Lock()
		s.flush()
		n += s.reportFailed(events[n:])
		s.mu.Unlock()

		if err != nil || n > 0 || timeout == 0 {
			return n, err
		}

		if timeout > 0 {
			timeout = time.Until(deadline)
			if timeout <= 0 {
				return 0, nil
			}
		}
	}
}

// Close cancels every poll in flight and waits, for a bounded time, for their
// completions so that the kernel is done with every sockState before the
// port goes away.
func (s *Selector) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}

	s.mu.Lock()
	for st := range s.arena {
		s.remove(st)
	}
	s.mu.Unlock()

	deadline := time.Now().Add(closeDrainTimeout)
	for {
		s.mu.Lock()
		left := len(s.arena)
		s.mu.Unlock()
		if left == 0 || time.Now().After(deadline) {
			if left > 0 {
				s.log.WithField("pending", left).Warn("closing with polls still in flight")
			}
			break
		}

		var (
			qty        uint32
			key        uintptr
			overlapped *windows.Overlapped
		)
		_ = windows.GetQueuedCompletionStatus(s.port, &qty, &key, &overlapped, 50)
		if overlapped != nil {
			st := (*sockState)(unsafe.Pointer(overlapped))
			s.mu.Lock()
			s.release(st)
			s.mu.Unlock()
		}
	}

	var err error
	for _, a := range s.afds {
		if closeErr := a.close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}
	if closeErr := windows.CloseHandle(s.port); closeErr != nil && err == nil {
		err = os.NewSyscallError("CloseHandle", closeErr)
	}
	return err
}
