// Package metrics tracks stream pipeline counters and frame latency.
package metrics

import (
	"math"
	"sort"
	"sync"
	"time"

	"go.uber.org/atomic"
	"gonum.org/v1/gonum/stat"
)

const DefaultWindow = 512

// Recorder is shared by all streams of one server.
type Recorder struct {
	chunks         atomic.Int64
	decoded        atomic.Int64
	skipped        atomic.Int64
	encodeFailures atomic.Int64
	emitted        atomic.Int64
	activeStreams  atomic.Int64

	mu        sync.Mutex
	latencies []float64
	next      int
	filled    bool
}

func NewRecorder(window int) *Recorder {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Recorder{latencies: make([]float64, window)}
}

func (r *Recorder) ChunkReceived() { r.chunks.Inc() }
func (r *Recorder) FrameDecoded()  { r.decoded.Inc() }
func (r *Recorder) FrameSkipped()  { r.skipped.Inc() }
func (r *Recorder) EncodeFailed()  { r.encodeFailures.Inc() }
func (r *Recorder) StreamOpened()  { r.activeStreams.Inc() }
func (r *Recorder) StreamClosed()  { r.activeStreams.Dec() }

// FrameEmitted counts a delivered frame and records how long it took from
// chunk arrival to encoded output.
func (r *Recorder) FrameEmitted(elapsed time.Duration) {
	r.emitted.Inc()

	r.mu.Lock()
	defer r.mu.Unlock()

	r.latencies[r.next] = float64(elapsed) / float64(time.Millisecond)
	r.next++
	if r.next == len(r.latencies) {
		r.next = 0
		r.filled = true
	}
}

type Snapshot struct {
	Chunks          int64   `json:"chunks"`
	Decoded         int64   `json:"decoded"`
	Skipped         int64   `json:"skipped"`
	EncodeFailures  int64   `json:"encode_failures"`
	Emitted         int64   `json:"emitted"`
	ActiveStreams   int64   `json:"active_streams"`
	Samples         int     `json:"latency_samples"`
	LatencyMeanMs   float64 `json:"latency_mean_ms"`
	LatencyStdDevMs float64 `json:"latency_stddev_ms"`
	LatencyP95Ms    float64 `json:"latency_p95_ms"`
}

func (r *Recorder) Snapshot() Snapshot {
	snap := Snapshot{
		Chunks:         r.chunks.Load(),
		Decoded:        r.decoded.Load(),
		Skipped:        r.skipped.Load(),
		EncodeFailures: r.encodeFailures.Load(),
		Emitted:        r.emitted.Load(),
		ActiveStreams:  r.activeStreams.Load(),
	}

	samples := r.samples()
	snap.Samples = len(samples)
	if len(samples) == 0 {
		return snap
	}

	sort.Float64s(samples)
	mean, std := stat.MeanStdDev(samples, nil)
	if math.IsNaN(std) {
		std = 0
	}
	snap.LatencyMeanMs = mean
	snap.LatencyStdDevMs = std
	snap.LatencyP95Ms = stat.Quantile(0.95, stat.Empirical, samples, nil)
	return snap
}

func (r *Recorder) samples() []float64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := r.next
	if r.filled {
		n = len(r.latencies)
	}
	out := make([]float64, n)
	copy(out, r.latencies[:n])
	return out
}
