package stats

import (
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
	"github.com/cockroachdb/errors"

	"xferbench/internal/runerr"
)

const (
	// LowestLatency and HighestLatency bound every histogram, in microseconds.
	LowestLatency  = int64(1)
	HighestLatency = int64(60 * time.Second / time.Microsecond)
	SigFigs        = 3
)

// LatencyHistogram records elapsed times in microseconds. It is not safe for
// concurrent use; each worker owns its own and hands it over through Merge.
type LatencyHistogram struct {
	h *hdrhistogram.Histogram
}

func NewLatencyHistogram() *LatencyHistogram {
	return &LatencyHistogram{h: hdrhistogram.New(LowestLatency, HighestLatency, SigFigs)}
}

func toMicros(d time.Duration) int64 {
	v := d.Microseconds()
	if v < LowestLatency {
		v = LowestLatency
	}
	return v
}

func (l *LatencyHistogram) checkRange(v int64) error {
	if v > l.h.HighestTrackableValue() {
		return errors.Mark(
			errors.Newf("latency %dus exceeds histogram maximum %dus", v, l.h.HighestTrackableValue()),
			runerr.ErrMeasurementIntegrity)
	}
	return nil
}

// Record stores one observed latency. Values above the histogram range are
// a measurement-integrity error.
func (l *LatencyHistogram) Record(d time.Duration) error {
	v := toMicros(d)
	if err := l.checkRange(v); err != nil {
		return err
	}
	return l.h.RecordValue(v)
}

// RecordCorrected stores d and, when d exceeds expected, the synthesized
// samples d-expected, d-2*expected, ... down to expected. It is only
// meaningful against the nominal open-loop inter-arrival interval.
func (l *LatencyHistogram) RecordCorrected(d, expected time.Duration) error {
	v := toMicros(d)
	if err := l.checkRange(v); err != nil {
		return err
	}
	return l.h.RecordCorrectedValue(v, intervalMicros(expected))
}

// intervalMicros rounds to the nearest microsecond. A positive interval never
// rounds down to 0, which would switch correction off.
func intervalMicros(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	v := d.Round(time.Microsecond).Microseconds()
	if v < 1 {
		v = 1
	}
	return v
}

// Merge adds every count of other into l. Both must share the same range and
// precision, otherwise the result would silently lose resolution.
func (l *LatencyHistogram) Merge(other *LatencyHistogram) error {
	if other == nil {
		return nil
	}
	if !l.Compatible(other) {
		return errors.Mark(errors.Newf(
			"cannot merge histogram [%d,%d]/%d into [%d,%d]/%d",
			other.h.LowestTrackableValue(), other.h.HighestTrackableValue(), other.h.SignificantFigures(),
			l.h.LowestTrackableValue(), l.h.HighestTrackableValue(), l.h.SignificantFigures(),
		), runerr.ErrMeasurementIntegrity)
	}
	if dropped := l.h.Merge(other.h); dropped > 0 {
		return errors.Mark(errors.Newf("merge dropped %d samples", dropped), runerr.ErrMeasurementIntegrity)
	}
	return nil
}

func (l *LatencyHistogram) Compatible(other *LatencyHistogram) bool {
	return l.h.LowestTrackableValue() == other.h.LowestTrackableValue() &&
		l.h.HighestTrackableValue() == other.h.HighestTrackableValue() &&
		l.h.SignificantFigures() == other.h.SignificantFigures()
}

// Copy returns an independent histogram with the same counts.
func (l *LatencyHistogram) Copy() *LatencyHistogram {
	return &LatencyHistogram{h: hdrhistogram.Import(l.h.Export())}
}

func (l *LatencyHistogram) Reset() { l.h.Reset() }
func (l *LatencyHistogram) TotalCount() int64 { return l.h.TotalCount() }
func (l *LatencyHistogram) Max() int64 { return l.h.Max() }
func (l *LatencyHistogram) Min() int64 { return l.h.Min() }
func (l *LatencyHistogram) Mean() float64 { return l.h.Mean() }

// ValueAtQuantile takes q in percent (99.9 for p99.9) and returns microseconds.
func (l *LatencyHistogram) ValueAtQuantile(q float64) int64 { return l.h.ValueAtQuantile(q) }

// Equal reports whether both histograms hold identical bucket counts.
func (l *LatencyHistogram) Equal(other *LatencyHistogram) bool { return l.h.Equals(other.h) }

// Quantiles are the reported latency percentiles, in microseconds.
type Quantiles struct {
	P50  int64   `json:"p50_us"`
	P95  int64   `json:"p95_us"`
	P99  int64   `json:"p99_us"`
	P999 int64   `json:"p999_us"`
	Max  int64   `json:"max_us"`
	Mean float64 `json:"mean_us"`
}

func (l *LatencyHistogram) Quantiles() Quantiles {
	return Quantiles{
		P50:  l.h.ValueAtQuantile(50),
		P95:  l.h.ValueAtQuantile(95),
		P99:  l.h.ValueAtQuantile(99),
		P999: l.h.ValueAtQuantile(99.9),
		Max:  l.h.Max(),
		Mean: l.h.Mean(),
	}
}

// Encode returns the base64 V2 compressed form, as it appears in .hlog
// interval lines.
func (l *LatencyHistogram) Encode() (string, error) {
	b, err := l.h.Encode(hdrhistogram.V2CompressedEncodingCookieBase)
	if err != nil {
		return "", errors.Wrap(err, "encode histogram")
	}
	return string(b), nil
}

// Decode parses the output of Encode.
func Decode(s string) (*LatencyHistogram, error) {
	h, err := hdrhistogram.Decode([]byte(s))
	if err != nil {
		return nil, errors.Wrap(err, "decode histogram")
	}
	return &LatencyHistogram{h: h}, nil
}

// Wrap adopts h, typically one read back from an interval log.
func Wrap(h *hdrhistogram.Histogram) *LatencyHistogram { return &LatencyHistogram{h: h} }

// Hdr exposes the underlying histogram for the log writer. Callers must not
// record into it.
func (l *LatencyHistogram) Hdr() *hdrhistogram.Histogram { return l.h }

// SafeHistogram guards a LatencyHistogram with a mutex so a live reader can
// take percentiles while its owning worker keeps recording.
type SafeHistogram struct {
	mu   sync.Mutex
	hist *LatencyHistogram
}

func NewSafeHistogram() *SafeHistogram {
	return &SafeHistogram{hist: NewLatencyHistogram()}
}

func (s *SafeHistogram) Record(d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hist.Record(d)
}

func (s *SafeHistogram) RecordCorrected(d, expected time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hist.RecordCorrected(d, expected)
}

// MergeInto adds the guarded counts into dst.
func (s *SafeHistogram) MergeInto(dst *LatencyHistogram) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return dst.Merge(s.hist)
}

func (s *SafeHistogram) Quantiles() Quantiles {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hist.Quantiles()
}
