// Package poll multiplexes I/O readiness over many sources with one
// blocking call.
//
// Sources are registered with a Poll's Registry under a caller chosen Token
// and an Interest. Wait blocks until at least one of them is ready, a Waker
// fires, or the timeout expires, and fills an Events buffer with what
// happened. Poll never reads or writes on the caller's behalf: an event only
// says an operation is likely to make progress, and the caller must keep
// going until it gets EAGAIN.
//
// On linux the selector is epoll, on darwin and the BSDs kqueue, both edge
// triggered. On windows readiness is emulated with AFD poll requests on an
// I/O completion port and is level triggered.
package poll
