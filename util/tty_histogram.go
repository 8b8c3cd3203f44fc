package util

import (
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// TtyHistOpts configures a TtyHist. Min and Max bound the recordable values
// in units of Scale; values outside them are clamped.
type TtyHistOpts struct {
	Name      string
	Scale     time.Duration
	N         int64
	MinPct    float64
	Min       int64
	Max       int64
	Precision int
	Writer    io.Writer
}

// TtyHist accumulates latency samples and prints a text histogram to Writer
// every N samples.
type TtyHist struct {
	opts TtyHistOpts

	hdr  *hdrhistogram.Histogram
	tabw *tabwriter.Writer
	n    int
	last Percentiles
}

// Percentiles is what a report printed, kept for callers that want numbers
// rather than text.
type Percentiles struct {
	Count         int64
	Min, Max      time.Duration
	Mean          time.Duration
	P50, P90, P99 time.Duration
	P999          time.Duration
}

func NewTtyHist(opts TtyHistOpts) *TtyHist {
	if opts.Scale <= 0 {
		opts.Scale = time.Nanosecond
	}
	if opts.Min < 1 {
		opts.Min = 1
	}
	h := &TtyHist{
		opts: opts,
		hdr:  hdrhistogram.New(opts.Min, opts.Max, opts.Precision),
	}
	if opts.Writer != nil {
		h.tabw = tabwriter.NewWriter(opts.Writer, 2, 2, 2, byte(' '), 0)
	}
	return h
}

func (h *TtyHist) scaled(d time.Duration) int64 {
	v := int64(d / h.opts.Scale)
	if v < h.opts.Min {
		return h.opts.Min
	}
	if v > h.opts.Max {
		return h.opts.Max
	}
	return v
}

func (h *TtyHist) unscaled(v int64) time.Duration {
	return time.Duration(v) * h.opts.Scale
}

// Record adds latency samples, reporting and resetting once N are held.
func (h *TtyHist) Record(ds ...time.Duration) {
	for _, d := range ds {
		_ = h.hdr.RecordValue(h.scaled(d))
	}
	if h.hdr.TotalCount() >= h.opts.N {
		h.Flush()
	}
}

// Flush reports whatever was recorded since the last report.
func (h *TtyHist) Flush() {
	if h.hdr.TotalCount() == 0 {
		return
	}
	h.n++
	h.last = h.percentiles()
	h.report()
	h.hdr.Reset()
}

// Reported is how many reports were produced.
func (h *TtyHist) Reported() int {
	return h.n
}

// Last returns the numbers of the last report.
func (h *TtyHist) Last() Percentiles {
	return h.last
}

func (h *TtyHist) percentiles() Percentiles {
	return Percentiles{
		Count: h.hdr.TotalCount(),
		Min:   h.unscaled(h.hdr.Min()),
		Max:   h.unscaled(h.hdr.Max()),
		Mean:  time.Duration(h.hdr.Mean() * float64(h.opts.Scale)),
		P50:   h.unscaled(h.hdr.ValueAtPercentile(50.0)),
		P90:   h.unscaled(h.hdr.ValueAtPercentile(90.0)),
		P99:   h.unscaled(h.hdr.ValueAtPercentile(99.0)),
		P999:  h.unscaled(h.hdr.ValueAtPercentile(99.9)),
	}
}

func (h *TtyHist) report() {
	w := h.opts.Writer
	if w == nil {
		return
	}

	p := h.last
	fmt.Fprint(w, "----------------------------------------------\n")
	fmt.Fprintf(w,
		"%v latency report=%d name=%s samples=%d scale=%s\n\n",
		time.Now().Format("2006-01-02 15:04:05"),
		h.n, h.opts.Name, p.Count, h.opts.Scale,
	)
	fmt.Fprintf(w,
		"min/avg/max = %s/%s/%s\n", p.Min, p.Mean, p.Max)
	fmt.Fprintf(w,
		"p50=%s p90=%s p99=%s p99.9=%s\n\n", p.P50, p.P90, p.P99, p.P999)

	var minBinCount, maxBinCount int64 = math.MaxInt64, math.MinInt64
	for _, bin := range h.hdr.Distribution() {
		if h.pct(bin.Count) < h.opts.MinPct {
			continue
		}
		minBinCount = min(minBinCount, bin.Count)
		maxBinCount = max(maxBinCount, bin.Count)
	}

	for _, bin := range h.hdr.Distribution() {
		pct := h.pct(bin.Count)
		if bin.Count == 0 || pct < h.opts.MinPct {
			continue
		}

		barSize := 1
		if maxBinCount > minBinCount {
			fraction := float64(bin.Count-minBinCount) /
				float64(maxBinCount-minBinCount)
			barSize = max(1, int(math.Ceil(fraction*10)))
		}

		to := bin.To
		if bin.From == to {
			to++
		}

		fmt.Fprintf(h.tabw,
			"%s-%s\t%.3g%%\t%s\t%s\n",
			h.unscaled(bin.From), h.unscaled(to),
			pct,
			strings.Repeat("|", barSize),
			strconv.FormatInt(bin.Count, 10),
		)
	}

	_ = h.tabw.Flush()
}

func (h *TtyHist) pct(count int64) float64 {
	return float64(count) * 100.0 / float64(h.hdr.TotalCount())
}
