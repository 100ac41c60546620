// Command stream-server pulls the camera's MJPEG stream, runs the filter
// bank over every frame and re-serves the selected output.
package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"camlab/internal/config"
	"camlab/internal/control"
	"camlab/internal/logger"
	"camlab/internal/metrics"
	"camlab/internal/panel"
	"camlab/internal/shutdown"
	"camlab/internal/stream"
	"camlab/internal/viewer"

	"fyne.io/fyne/v2/app"
)

const appID = "com.camlab.stream-server"

var (
	configPath = flag.String("config", "", "path to a JSON config file")
	listen     = flag.String("listen", "", "HTTP listen address (default :5000)")
	cameraURL  = flag.String("camera", "", "camera MJPEG stream URL")
	filter     = flag.Int("filter", 0, "initial filter index (0-8)")
	salt       = flag.Int("salt", 5, "initial salt noise percentage")
	pepper     = flag.Int("pepper", 5, "initial pepper noise percentage")
	showPanel  = flag.Bool("panel", false, "open the desktop control panel")
	logLevel   = flag.String("log-level", "", "debug, info, warn or error")
	logFormat  = flag.String("log-format", "", "console or json")
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
		log.Error("StreamServer", err, nil)
		os.Exit(1)
	}
}

// loadConfig layers flags that were set explicitly over file and env.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(*configPath)
	if err != nil {
		return nil, err
	}

	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "listen":
			cfg.Stream.Listen = *listen
		case "camera":
			cfg.Stream.CameraURL = *cameraURL
		case "filter":
			cfg.Stream.Filter = *filter
		case "salt":
			cfg.Stream.Salt = *salt
		case "pepper":
			cfg.Stream.Pepper = *pepper
		case "panel":
			cfg.Stream.Panel = *showPanel
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
	settings, err := control.NewSettings(cfg.Stream.Filter, cfg.Stream.Salt, cfg.Stream.Pepper)
	if err != nil {
		return err
	}

	source := &stream.HTTPSource{
		URL:           cfg.Stream.CameraURL,
		ChunkSize:     cfg.Stream.ChunkSize,
		MinChunkBytes: cfg.Stream.MinChunkBytes,
	}
	server := viewer.NewServer(settings, source, metrics.NewRecorder(metrics.DefaultWindow), log)

	srv := &http.Server{
		Addr:              cfg.Stream.Listen,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	manager := shutdown.NewManager(log)
	manager.Register("settings", shutdown.Func(settings.Close))
	manager.RegisterHTTPServer("http", srv)
	manager.Listen()

	serveErr := make(chan error, 1)
	go func() {
		log.Info("StreamServer", "listening", map[string]interface{}{
			"addr":   cfg.Stream.Listen,
			"camera": cfg.Stream.CameraURL,
		})
		serveErr <- shutdown.ServeHTTP(srv)
		manager.Shutdown()
	}()

	if cfg.Stream.Panel {
		fyneApp := app.NewWithID(appID)
		p := panel.New(fyneApp, settings, log)
		go func() {
			<-manager.Done()
			p.Close()
		}()
		// The UI loop owns the main goroutine until the window closes.
		p.ShowAndRun(manager.Context(), manager.Shutdown)
	}

	<-manager.Done()
	manager.Wait()
	return <-serveErr
}
