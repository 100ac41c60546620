// Command morph-gallery serves the upload form and the morphology results
// gallery.
package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"camlab/internal/catalog"
	"camlab/internal/config"
	"camlab/internal/gallery"
	"camlab/internal/logger"
	"camlab/internal/shutdown"
	"camlab/internal/storage"
)

var (
	configPath   = flag.String("config", "", "path to a JSON config file")
	listen       = flag.String("listen", "", "HTTP listen address (default :5001)")
	uploadDir    = flag.String("uploads", "", "directory for uploaded images")
	processedDir = flag.String("processed", "", "directory for processed images")
	catalogPath  = flag.String("catalog", "", "SQLite catalog path")
	workers      = flag.Int("workers", 0, "images processed concurrently per upload")
	logLevel     = flag.String("log-level", "", "debug, info, warn or error")
	logFormat    = flag.String("log-format", "", "console or json")
)

func main() {
	flag.Parse()

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}

	log := logger.New(cfg.Log.Format, logger.ParseLevel(cfg.Log.Level))
	if err := run(cfg, log); err != nil {
		log.Error("MorphGallery", err, nil)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(*configPath)
	if err != nil {
		return nil, err
	}

	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "listen":
			cfg.Gallery.Listen = *listen
		case "uploads":
			cfg.Gallery.UploadDir = *uploadDir
		case "processed":
			cfg.Gallery.ProcessedDir = *processedDir
		case "catalog":
			cfg.Gallery.CatalogPath = *catalogPath
		case "workers":
			cfg.Gallery.Workers = *workers
		case "log-level":
			cfg.Log.Level = *logLevel
		case "log-format":
			cfg.Log.Format = *logFormat
		}
	})

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func run(cfg *config.Config, log logger.Logger) error {
	g := cfg.Gallery

	store := storage.NewStore(storage.OSFileSystem{}, g.UploadDir, g.ProcessedDir)
	if err := store.Init(); err != nil {
		return err
	}

	cat, err := catalog.Open(g.CatalogPath)
	if err != nil {
		return err
	}

	service := gallery.NewService(store, cat, g.Workers, log)
	server := gallery.NewServer(service, store, cat, g.MaxUploadBytes, log)

	srv := &http.Server{
		Addr:              g.Listen,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	manager := shutdown.NewManager(log)
	manager.Register("catalog", shutdown.Func(func() {
		if err := cat.Close(); err != nil {
			log.Error("MorphGallery", err, map[string]interface{}{"component": "catalog"})
		}
	}))
	manager.RegisterHTTPServer("http", srv)
	manager.Listen()

	log.Info("MorphGallery", "listening", map[string]interface{}{
		"addr":      g.Listen,
		"uploads":   g.UploadDir,
		"processed": g.ProcessedDir,
		"catalog":   g.CatalogPath,
		"workers":   g.Workers,
	})

	err = shutdown.ServeHTTP(srv)
	manager.Shutdown()
	manager.Wait()
	return err
}
