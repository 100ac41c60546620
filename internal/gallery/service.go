// Package gallery runs the morphology bank over uploaded images and serves
// the resulting gallery.
package gallery

import (
	"context"
	"fmt"

	"camlab/internal/catalog"
	"camlab/internal/logger"
	"camlab/internal/opencv/conversion"
	"camlab/internal/opencv/safe"
	"camlab/internal/processing/morphology"
	"camlab/internal/storage"

	"github.com/google/uuid"
	"gocv.io/x/gocv"
	"golang.org/x/sync/errgroup"
)

const serviceComponent = "GalleryService"

// Recorder is the part of the catalog the service writes to.
type Recorder interface {
	Record(ctx context.Context, e catalog.Entry) (int64, error)
}

type Upload struct {
	Name string
	Data []byte
}

type Service struct {
	store   *storage.Store
	catalog Recorder
	workers int
	log     logger.Logger
}

// NewService wires the processor. cat may be nil, in which case nothing is
// recorded.
func NewService(store *storage.Store, cat Recorder, workers int, log logger.Logger) *Service {
	if workers <= 0 {
		workers = 1
	}
	if log == nil {
		log = logger.Nop{}
	}
	return &Service{store: store, catalog: cat, workers: workers, log: log}
}

// ProcessBatch stores and processes every upload, at most workers at a time.
// Uploads with empty names are skipped. When the same base name appears more
// than once the last upload wins. It returns the batch id and the stored base
// names in the order they first appeared.
func (s *Service) ProcessBatch(ctx context.Context, uploads []Upload) (string, []string, error) {
	batchID := uuid.NewString()

	var names []string
	latest := make(map[string][]byte)
	for _, u := range uploads {
		if u.Name == "" {
			continue
		}
		base, err := storage.CleanName(u.Name)
		if err != nil {
			return batchID, nil, err
		}
		if _, seen := latest[base]; !seen {
			names = append(names, base)
		}
		latest[base] = u.Data
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for _, name := range names {
		data := latest[name]
		g.Go(func() error {
			return s.processOne(gctx, batchID, name, data)
		})
	}
	if err := g.Wait(); err != nil {
		return batchID, names, err
	}

	s.log.Info(serviceComponent, "batch processed", map[string]interface{}{
		"batch_id": batchID,
		"files":    len(names),
		"outputs":  len(names) * len(morphology.KernelSizes) * len(morphology.Operations),
	})
	return batchID, names, nil
}

func (s *Service) processOne(ctx context.Context, batchID, name string, data []byte) error {
	ext, err := conversion.ExtForFilename(name)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}

	if _, err := s.store.SaveUpload(name, data); err != nil {
		return err
	}

	img, err := safe.Decode(data, gocv.IMReadGrayScale)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	defer img.Close()

	results, err := morphology.Process(ctx, img)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	defer morphology.CloseResults(results)

	for _, r := range results {
		outName := r.Name(name)
		encoded, err := conversion.Encode(r.Mat, ext)
		if err != nil {
			return fmt.Errorf("%s: %w", outName, err)
		}
		if err := s.store.WriteProcessed(outName, encoded); err != nil {
			return err
		}

		if s.catalog == nil {
			continue
		}
		if _, err := s.catalog.Record(ctx, catalog.Entry{
			BatchID:   batchID,
			Source:    name,
			Operation: r.Operation.Prefix(),
			Kernel:    r.Kernel,
			Filename:  outName,
			Bytes:     len(encoded),
		}); err != nil {
			return err
		}
	}

	s.log.Debug(serviceComponent, "image processed", map[string]interface{}{
		"batch_id": batchID,
		"source":   name,
		"rows":     img.Rows(),
		"cols":     img.Cols(),
	})
	return nil
}
