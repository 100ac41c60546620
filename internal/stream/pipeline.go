package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"camlab/internal/control"
	"camlab/internal/logger"
	"camlab/internal/metrics"
	"camlab/internal/opencv/conversion"
	"camlab/internal/opencv/safe"
	"camlab/internal/processing/filters"

	"gocv.io/x/gocv"
)

const component = "StreamPipeline"

// Encoder compresses the selected output for delivery.
type Encoder interface {
	Encode(m *safe.Mat) ([]byte, error)
}

type JPEGEncoder struct{}

func (JPEGEncoder) Encode(m *safe.Mat) ([]byte, error) {
	return conversion.Encode(m, gocv.JPEGFileExt)
}

// EmitFunc receives every encoded frame. Returning an error ends the stream.
type EmitFunc func(frame []byte) error

// Pipeline is built per connection: it owns its own background model, noise
// generator and frame-rate counter.
type Pipeline struct {
	Source   Source
	Settings control.Source
	Encoder  Encoder
	Metrics  *metrics.Recorder
	Logger   logger.Logger
	Noise    *filters.SaltPepper
	Overlay  bool
}

func (p *Pipeline) withDefaults() {
	if p.Encoder == nil {
		p.Encoder = JPEGEncoder{}
	}
	if p.Metrics == nil {
		p.Metrics = metrics.NewRecorder(0)
	}
	if p.Logger == nil {
		p.Logger = logger.Nop{}
	}
}

// Run pulls buffers from the source until it ends, the context is
// cancelled or emit fails. Frames that cannot be decoded, filtered or
// encoded are logged and skipped. A clean end of stream returns nil.
func (p *Pipeline) Run(ctx context.Context, emit EmitFunc) error {
	p.withDefaults()

	reader, err := p.Source.Open(ctx)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer reader.Close()

	bank := filters.NewBank(p.Noise)
	defer bank.Close()
	fps := metrics.NewFPS()

	p.Metrics.StreamOpened()
	defer p.Metrics.StreamClosed()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		chunk, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return fmt.Errorf("read frame: %w", err)
		}
		p.Metrics.ChunkReceived()

		start := time.Now()
		frame, ok := p.processFrame(ctx, bank, fps, chunk)
		if !ok {
			continue
		}

		if err := emit(frame); err != nil {
			return fmt.Errorf("emit frame: %w", err)
		}
		p.Metrics.FrameEmitted(time.Since(start))
	}
}

func (p *Pipeline) processFrame(ctx context.Context, bank *filters.Bank, fps *metrics.FPS, chunk []byte) (out []byte, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			p.Logger.Warning(component, "frame processing panicked", map[string]interface{}{
				"panic": fmt.Sprint(r),
			})
			p.Metrics.FrameSkipped()
			out, ok = nil, false
		}
	}()

	frame, err := safe.Decode(chunk, gocv.IMReadColor)
	if err != nil {
		p.skip("decode failed", err, len(chunk))
		return nil, false
	}
	defer frame.Close()
	p.Metrics.FrameDecoded()

	snap := p.Settings.Snapshot()

	outputs, err := bank.Compute(ctx, frame, snap)
	if err != nil {
		p.skip("filter bank failed", err, len(chunk))
		return nil, false
	}
	defer outputs.Close()

	selected, err := outputs.Select(snap.Filter)
	if err != nil {
		p.skip("filter selection failed", err, len(chunk))
		return nil, false
	}
	defer selected.Close()

	if p.Overlay {
		drawOverlay(selected, snap.Filter, fps.Tick())
	}

	data, err := p.Encoder.Encode(selected)
	if err != nil {
		p.Metrics.EncodeFailed()
		p.Logger.Debug(component, "encode failed, frame dropped", map[string]interface{}{
			"error": err.Error(),
		})
		return nil, false
	}

	return data, true
}

func (p *Pipeline) skip(reason string, err error, size int) {
	p.Metrics.FrameSkipped()
	p.Logger.Warning(component, reason, map[string]interface{}{
		"error": err.Error(),
		"bytes": size,
	})
}
