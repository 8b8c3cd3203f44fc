//go:build windows

package internal

import (
	"os"
	"unsafe"

	"golang.org/x/sys/windows"
)

const (
	ioctlAFDPoll = 0x00012024

	afdPollReceive          = 0x0001
	afdPollReceiveExpedited = 0x0002
	afdPollSend             = 0x0004
	afdPollDisconnect       = 0x0008
	afdPollAbort            = 0x0010
	afdPollLocalClose       = 0x0020
	afdPollAccept           = 0x0080
	afdPollConnectFail      = 0x0100

	// afdPollAlways is asked for on every poll: a caller learns about a
	// reset or failed connect whatever its interest.
	afdPollAlways = afdPollAbort | afdPollConnectFail | afdPollLocalClose

	afdPollReadable = afdPollReceive | afdPollDisconnect | afdPollAccept
	afdPollWritable = afdPollSend

	// afdHelperCapacity is how many sockets share one AFD helper handle.
	afdHelperCapacity = 32
)

const (
	statusSuccess   windows.NTStatus = 0x00000000
	statusPending   windows.NTStatus = 0x00000103
	statusCancelled windows.NTStatus = 0xC0000120
	statusNotFound  windows.NTStatus = 0xC0000225
)

const (
	sioBaseHandle      = 0x48000022
	sioBspHandlePoll   = 0x4800001D
	sioBspHandleSelect = 0x4800001C
)

var (
	modntdll = windows.NewLazySystemDLL("ntdll.dll")

	procNtDeviceIoControlFile = modntdll.NewProc("NtDeviceIoControlFile")
	procNtCancelIoFileEx      = modntdll.NewProc("NtCancelIoFileEx")
)

type afdPollHandleInfo struct {
	Handle windows.Handle
	Events uint32
	Status windows.NTStatus
}

type afdPollInfo struct {
	Timeout         int64
	NumberOfHandles uint32
	Exclusive       uint32
	Handles         [1]afdPollHandleInfo
}

// afd is a helper handle on the AFD driver. Poll requests for sockets are
// issued against it and complete on the completion port it is associated
// with.
type afd struct {
	handle windows.Handle

	// refs is the number of sockets currently polled through this helper.
	refs int
}

func openAFD(port windows.Handle) (*afd, error) {
	name, err := windows.NewNTUnicodeString(`\Device\Afd\Poll`)
	if err != nil {
		return nil, err
	}

	attrs := windows.OBJECT_ATTRIBUTES{
		ObjectName: name,
	}
	attrs.Length = uint32(unsafe.Sizeof(attrs))

	var (
		handle windows.Handle
		iosb   windows.IO_STATUS_BLOCK
	)
	if err := windows.NtCreateFile(
		&handle,
		windows.SYNCHRONIZE,
		&attrs,
		&iosb,
		nil,
		0,
		windows.FILE_SHARE_READ|windows.FILE_SHARE_WRITE,
		windows.FILE_OPEN,
		0,
		0,
		0,
	); err != nil {
		return nil, os.NewSyscallError("NtCreateFile", err)
	}

	if _, err := windows.CreateIoCompletionPort(handle, port, 0, 0); err != nil {
		_ = windows.CloseHandle(handle)
		return nil, os.NewSyscallError("CreateIoCompletionPort", err)
	}

	if err := windows.SetFileCompletionNotificationModes(
		handle, windows.FILE_SKIP_SET_EVENT_ON_HANDLE); err != nil {
		_ = windows.CloseHandle(handle)
		return nil, os.NewSyscallError("SetFileCompletionNotificationModes", err)
	}

	return &afd{handle: handle}, nil
}

// poll submits an IOCTL_AFD_POLL. iosb doubles as the APC context, so the
// completion packet carries its address back as the overlapped pointer. Both
// iosb and info are written by the kernel until the request completes.
func (a *afd) poll(info *afdPollInfo, iosb *windows.IO_STATUS_BLOCK) error {
	iosb.Status = statusPending

	r, _, _ := procNtDeviceIoControlFile.Call(
		uintptr(a.handle),
		0,
		0,
		uintptr(unsafe.Pointer(iosb)),
		uintptr(unsafe.Pointer(iosb)),
		ioctlAFDPoll,
		uintptr(unsafe.Pointer(info)),
		unsafe.Sizeof(*info),
		uintptr(unsafe.Pointer(info)),
		unsafe.Sizeof(*info),
	)

	switch status := windows.NTStatus(r); status {
	case statusSuccess, statusPending:
		return nil
	default:
		return os.NewSyscallError("NtDeviceIoControlFile", status.Errno())
	}
}

// cancel asks the driver to complete the request identified by iosb. A request
// that is already completing is not found; its packet is on its way anyway.
func (a *afd) cancel(iosb *windows.IO_STATUS_BLOCK) error {
	if iosb.Status != statusPending {
		return nil
	}

	var cancelIosb windows.IO_STATUS_BLOCK
	r, _, _ := procNtCancelIoFileEx.Call(
		uintptr(a.handle),
		uintptr(unsafe.Pointer(iosb)),
		uintptr(unsafe.Pointer(&cancelIosb)),
	)

	switch status := windows.NTStatus(r); status {
	case statusSuccess, statusNotFound:
		return nil
	default:
		return os.NewSyscallError("NtCancelIoFileEx", status.Errno())
	}
}

func (a *afd) close() error {
	return os.NewSyscallError("CloseHandle", windows.CloseHandle(a.handle))
}

// baseSocket returns the socket the AFD driver knows about, looking through
// any layered service providers installed on top of it.
func baseSocket(sock windows.Handle) (windows.Handle, error) {
	var err error
	for _, ioctl := range []uint32{sioBaseHandle, sioBspHandlePoll, sioBspHandleSelect} {
		var (
			base  windows.Handle
			bytes uint32
		)
		err = windows.WSAIoctl(
			sock,
			ioctl,
			nil,
			0,
			(*byte)(unsafe.Pointer(&base)),
			uint32(unsafe.Sizeof(base)),
			&bytes,
			nil,
			0,
		)
		if err == nil && base != 0 && base != windows.InvalidHandle {
			return base, nil
		}
	}
	return 0, os.NewSyscallError("WSAIoctl", err)
}

// interestToAFD maps interest onto the AFD events polled for. Zero means
// the interest has nothing AFD can watch.
func interestToAFD(interest Interest) uint32 {
	var events uint32
	if interest&InterestReadable != 0 {
		events |= afdPollReadable
	}
	if interest&InterestWritable != 0 {
		events |= afdPollWritable
	}
	if interest&InterestPriority != 0 {
		events |= afdPollReceiveExpedited
	}
	if events == 0 {
		return 0
	}
	return events | afdPollAlways
}

// afdToFlags translates the AFD events of a completed poll:
//   - RECEIVE, DISCONNECT, ACCEPT, ABORT, CONNECT_FAIL: readable
//   - SEND, ABORT, CONNECT_FAIL: writable
//   - ABORT, CONNECT_FAIL: error
//   - DISCONNECT, ABORT: read closed
//   - ABORT, CONNECT_FAIL: write closed
//   - RECEIVE_EXPEDITED: priority
func afdToFlags(events uint32) EventFlags {
	var flags EventFlags
	if events&(afdPollReceive|afdPollDisconnect|afdPollAccept|afdPollAbort|afdPollConnectFail) != 0 {
		flags |= FlagReadable
	}
	if events&(afdPollSend|afdPollAbort|afdPollConnectFail) != 0 {
		flags |= FlagWritable
	}
	if events&(afdPollAbort|afdPollConnectFail) != 0 {
		flags |= FlagError | FlagWriteClosed
	}
	if events&(afdPollDisconnect|afdPollAbort) != 0 {
		flags |= FlagReadClosed
	}
	if events&afdPollReceiveExpedited != 0 {
		flags |= FlagPriority
	}
	return flags
}
