//go:build darwin || dragonfly || freebsd || linux || netbsd || openbsd

package main

import (
	"flag"
	"net/http"
	"os"
	"time"

	nested "github.com/antonfisher/nested-logrus-formatter"
	"github.com/felixge/fgprof"
	"github.com/sirupsen/logrus"
	"github.com/talostrading/poll"
	"github.com/talostrading/poll/pollopts"
	"github.com/talostrading/poll/util"
	"golang.org/x/sys/unix"
)

var (
	mode    = flag.String("mode", "wake", "what to measure: wake or socket")
	pairs   = flag.Int("pairs", 1, "socket pairs to rotate through in socket mode")
	samples = flag.Int("n", 100_000, "samples to take")
	report  = flag.Int64("report", 10_000, "samples per histogram report")
	cpu     = flag.Int("cpu", -1, "cpu to pin the waiting thread to, -1 to not pin")
	prof    = flag.String("prof", "", "address to serve /debug/fgprof on, empty to disable")
)

const wakerToken poll.Token = 1 << 32

var log = logrus.New()

func init() {
	log.SetFormatter(&nested.Formatter{
		HideKeys:    true,
		FieldsOrder: []string{"component", "category"},
	})
	log.SetOutput(os.Stdout)
}

// waitFor waits until an event for token shows up.
func waitFor(p *poll.Poll, events *poll.Events, token poll.Token) error {
	for {
		if err := p.Wait(events, poll.Forever); err != nil {
			return err
		}
		for ev := range events.All() {
			if ev.Token() == token {
				return nil
			}
		}
	}
}

// measureWake times Wake on another goroutine until Wait returns.
func measureWake(p *poll.Poll, hist *util.TtyHist) error {
	waker, err := poll.NewWaker(p.Registry(), wakerToken)
	if err != nil {
		return err
	}
	defer waker.Close()

	events := poll.NewEvents(8)
	ready := make(chan struct{})
	start := make(chan time.Time)
	errs := make(chan error, 1)

	// One wake at a time: a second Wake issued before Wait consumed the first
	// would be merged into it.
	go func() {
		defer close(start)
		for range ready {
			t := time.Now()
			if err := waker.Wake(); err != nil {
				errs <- err
				return
			}
			start <- t
		}
	}()
	defer close(ready)

	for range *samples {
		ready <- struct{}{}
		t, ok := <-start
		if !ok {
			return <-errs
		}
		if err := waitFor(p, events, wakerToken); err != nil {
			return err
		}
		hist.Record(time.Since(t))
	}
	return nil
}

// measureSocket times a one byte write until the reading end is reported
// readable, rotating through the pairs.
func measureSocket(p *poll.Poll, hist *util.TtyHist) error {
	type pair struct{ r, w int }

	ps := make([]pair, *pairs)
	for i := range ps {
		fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
		if err != nil {
			return os.NewSyscallError("socketpair", err)
		}
		defer unix.Close(fds[0])
		defer unix.Close(fds[1])

		if err := unix.SetNonblock(fds[0], true); err != nil {
			return err
		}
		if err := p.Registry().Register(poll.SourceFd(fds[0]), poll.Token(i), poll.Readable); err != nil {
			return err
		}
		ps[i] = pair{r: fds[0], w: fds[1]}
	}

	events := poll.NewEvents(len(ps))
	b := []byte{1}
	var sink [64]byte

	for i := range *samples {
		idx := i % len(ps)
		pr := ps[idx]

		t := time.Now()
		if _, err := unix.Write(pr.w, b); err != nil {
			return err
		}
		if err := waitFor(p, events, poll.Token(idx)); err != nil {
			return err
		}
		hist.Record(time.Since(t))

		// Drain so the next write is a fresh edge.
		for {
			if _, err := unix.Read(pr.r, sink[:]); err != nil {
				break
			}
		}
	}
	return nil
}

func main() {
	flag.Parse()

	entry := log.WithField("component", "latency")

	if *prof != "" {
		http.DefaultServeMux.Handle("/debug/fgprof", fgprof.Handler())
		go func() {
			entry.WithError(http.ListenAndServe(*prof, nil)).Warn("profiling server stopped")
		}()
	}

	if *cpu >= 0 {
		if err := util.PinThread(*cpu); err != nil {
			entry.Fatal(err)
		}
	}

	p, err := poll.New(pollopts.Logger(entry))
	if err != nil {
		entry.Fatal(err)
	}
	defer p.Close()

	hist := util.NewTtyHist(util.TtyHistOpts{
		Name:      *mode,
		Scale:     time.Nanosecond,
		N:         *report,
		MinPct:    0.1,
		Min:       1,
		Max:       int64(time.Second),
		Precision: 2,
		Writer:    os.Stdout,
	})

	switch *mode {
	case "wake":
		err = measureWake(p, hist)
	case "socket":
		err = measureSocket(p, hist)
	default:
		entry.Fatalf("unknown mode %q", *mode)
	}
	hist.Flush()

	if err != nil {
		entry.Fatal(err)
	}
	entry.WithField("category", "done").Infof("reports=%d", hist.Reported())
}
