// Package progress derives display metrics from run snapshots: speed,
// remaining time and the kind of gauge that makes sense for what is
// known about the run. The engine publishes raw counters only; all
// presentation math lives here.
package progress

import (
	"math"
	"time"

	"github.com/quarrydev/fileops/engine"
)

// GaugeMode says how a progress gauge should behave.
type GaugeMode int

const (
	// GaugePulse: nothing is known about the total; show activity only.
	GaugePulse GaugeMode = iota
	// GaugeBytes: total bytes are known; the gauge tracks bytes copied.
	GaugeBytes
	// GaugeItems: no byte total, but the item count is known; the gauge
	// advances one tick per finished item.
	GaugeItems
)

// maxGaugeRange bounds the gauge resolution so a multi-terabyte total
// still fits an int-ranged widget.
const maxGaugeRange = math.MaxInt32

// RemainingUnknown is the sentinel for "no meaningful estimate yet".
const RemainingUnknown = time.Duration(-1)

// Metrics is one sample's worth of derived values.
type Metrics struct {
	// Speed in bytes per second since the run started.
	Speed float64

	// Remaining is the estimated time left, or RemainingUnknown.
	Remaining time.Duration

	Mode GaugeMode

	// Value and Range drive the gauge in Bytes and Items modes. Both
	// are zero in Pulse mode.
	Value int64
	Range int64

	Snapshot engine.Snapshot
}

// Fraction is the gauge position as 0..1, or 0 when indeterminate.
func (m Metrics) Fraction() float64 {
	if m.Range <= 0 {
		return 0
	}
	f := float64(m.Value) / float64(m.Range)
	if f > 1 {
		f = 1
	}
	return f
}

// Reporter turns snapshots into metrics. The gauge mode and scale are
// chosen once, when the scan result first becomes visible, and stay
// fixed for the rest of the run.
type Reporter struct {
	configured bool
	mode       GaugeMode
	bytesUnit  int64
	gaugeRange int64

	now func() time.Time // test hook
}

func NewReporter() *Reporter {
	return &Reporter{now: time.Now}
}

// Sample computes the metrics for one snapshot.
func (rep *Reporter) Sample(s engine.Snapshot) Metrics {
	if !rep.configured && s.ScanDone {
		rep.configure(s)
	}

	m := Metrics{Mode: rep.mode, Remaining: RemainingUnknown, Snapshot: s}

	elapsed := rep.now().Sub(s.Started).Seconds()
	if elapsed < 1 {
		elapsed = 1
	}
	m.Speed = float64(s.BytesDone) / elapsed

	if !rep.configured {
		return m
	}

	switch rep.mode {
	case GaugeBytes:
		m.Range = rep.gaugeRange
		m.Value = s.BytesDone / rep.bytesUnit
		if m.Value > m.Range {
			m.Value = m.Range
		}
		if m.Speed > 0 && s.TotalBytes > s.BytesDone {
			seconds := float64(s.TotalBytes-s.BytesDone) / m.Speed
			m.Remaining = time.Duration(seconds * float64(time.Second))
		} else if s.BytesDone >= s.TotalBytes {
			m.Remaining = 0
		}
	case GaugeItems:
		m.Range = int64(s.TotalItems)
		m.Value = s.ItemsDone
	}

	return m
}

// configure picks the gauge once the scan outcome is known: byte
// granularity when a total exists, per-item ticks for counted work
// without a byte total, and a pulse when neither is known.
func (rep *Reporter) configure(s engine.Snapshot) {
	rep.configured = true

	switch {
	case s.TotalBytes > 0:
		rep.mode = GaugeBytes
		rep.bytesUnit = s.TotalBytes/(maxGaugeRange-1) + 1
		rep.gaugeRange = s.TotalBytes / rep.bytesUnit
		if rep.gaugeRange < 1 {
			rep.gaugeRange = 1
		}
	case (s.Op == engine.OpTrash || s.Op == engine.OpDelete) && s.TotalItems > 0:
		rep.mode = GaugeItems
		rep.gaugeRange = int64(s.TotalItems)
	default:
		rep.mode = GaugePulse
	}
}
