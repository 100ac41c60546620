package metrics

import (
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
)

func TestSnapshotCounters(t *testing.T) {
	r := NewRecorder(8)
	r.StreamOpened()
	for i := 0; i < 5; i++ {
		r.ChunkReceived()
	}
	r.FrameDecoded()
	r.FrameDecoded()
	r.FrameSkipped()
	r.EncodeFailed()
	r.FrameEmitted(10 * time.Millisecond)

	got := r.Snapshot()
	want := Snapshot{
		Chunks:          5,
		Decoded:         2,
		Skipped:         1,
		EncodeFailures:  1,
		Emitted:         1,
		ActiveStreams:   1,
		Samples:         1,
		LatencyMeanMs:   10,
		LatencyStdDevMs: 0,
		LatencyP95Ms:    10,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("snapshot mismatch (-want +got):\n%s", diff)
	}
}

func TestLatencyWindowWraps(t *testing.T) {
	r := NewRecorder(4)
	for _, ms := range []int{100, 100, 1, 2, 3, 4} {
		r.FrameEmitted(time.Duration(ms) * time.Millisecond)
	}

	snap := r.Snapshot()
	assert.Equal(t, 4, snap.Samples)
	assert.InDelta(t, 2.5, snap.LatencyMeanMs, 1e-9, "oldest samples are overwritten")
	assert.Equal(t, 4.0, snap.LatencyP95Ms)
	assert.Greater(t, snap.LatencyStdDevMs, 0.0)
	assert.Equal(t, int64(6), snap.Emitted)
}

func TestEmptySnapshotHasNoLatency(t *testing.T) {
	snap := NewRecorder(0).Snapshot()
	assert.Zero(t, snap.Samples)
	assert.Zero(t, snap.LatencyMeanMs)
}

func TestRecorderIsSafeForConcurrentUse(t *testing.T) {
	r := NewRecorder(16)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				r.ChunkReceived()
				r.FrameEmitted(time.Millisecond)
				_ = r.Snapshot()
			}
		}()
	}
	wg.Wait()

	snap := r.Snapshot()
	assert.Equal(t, int64(800), snap.Chunks)
	assert.Equal(t, int64(800), snap.Emitted)
	assert.Equal(t, 16, snap.Samples)
}

func TestFPS(t *testing.T) {
	base := time.Unix(1000, 0)
	ticks := []time.Time{base, base.Add(40 * time.Millisecond), base.Add(140 * time.Millisecond), base.Add(140 * time.Millisecond)}
	i := 0
	f := &FPS{now: func() time.Time { t := ticks[i]; i++; return t }}

	assert.Equal(t, 0, f.Tick())
	assert.Equal(t, 25, f.Tick())
	assert.Equal(t, 10, f.Tick())
	assert.Equal(t, 0, f.Tick(), "zero interval does not divide by zero")
}
