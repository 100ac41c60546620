// Package config loads settings for both binaries: an optional JSON file,
// then environment overrides, then command-line flags applied by main.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
)

const maxConfigFileSize = 1 * 1024 * 1024

// DefaultCameraURL is the ESP32 camera stream used in the lab setup.
const DefaultCameraURL = "http://192.168.18.143:81/stream"

type Config struct {
	Log     LogConfig     `json:"log"`
	Stream  StreamConfig  `json:"stream"`
	Gallery GalleryConfig `json:"gallery"`
}

type LogConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"` // "console" or "json"
}

type StreamConfig struct {
	Listen        string `json:"listen"`
	CameraURL     string `json:"camera_url"`
	ChunkSize     int    `json:"chunk_size"`
	MinChunkBytes int    `json:"min_chunk_bytes"`
	Filter        int    `json:"filter"`
	Salt          int    `json:"salt"`
	Pepper        int    `json:"pepper"`
	Panel         bool   `json:"panel"`
}

type GalleryConfig struct {
	Listen         string `json:"listen"`
	UploadDir      string `json:"upload_dir"`
	ProcessedDir   string `json:"processed_dir"`
	CatalogPath    string `json:"catalog_path"`
	MaxUploadBytes int64  `json:"max_upload_bytes"`
	Workers        int    `json:"workers"`
}

func Default() *Config {
	return &Config{
		Log: LogConfig{Level: "info", Format: "console"},
		Stream: StreamConfig{
			Listen:        ":5000",
			CameraURL:     DefaultCameraURL,
			ChunkSize:     100000,
			MinChunkBytes: 100,
			Filter:        0,
			Salt:          5,
			Pepper:        5,
		},
		Gallery: GalleryConfig{
			Listen:         ":5001",
			UploadDir:      "uploads",
			ProcessedDir:   "processed",
			CatalogPath:    "gallery.db",
			MaxUploadBytes: 64 << 20,
			Workers:        runtime.NumCPU(),
		},
	}
}

// Load returns the defaults overlaid with the JSON file at path (if any)
// and then the environment. Fields missing from the file keep their defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	info, err := os.Stat(cleanPath)
	if err != nil {
		return fmt.Errorf("failed to stat config file: %w", err)
	}
	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := json.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

type lookupFunc func(string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) error {
	if v, ok := lookup("CAMLAB_CAMERA_URL"); ok && v != "" {
		c.Stream.CameraURL = v
	}
	if v, ok := lookup("CAMLAB_LISTEN"); ok && v != "" {
		c.Stream.Listen = v
	}
	if v, ok := lookup("CAMLAB_GALLERY_LISTEN"); ok && v != "" {
		c.Gallery.Listen = v
	}
	if v, ok := lookup("CAMLAB_UPLOAD_DIR"); ok && v != "" {
		c.Gallery.UploadDir = v
	}
	if v, ok := lookup("CAMLAB_PROCESSED_DIR"); ok && v != "" {
		c.Gallery.ProcessedDir = v
	}
	if v, ok := lookup("CAMLAB_CATALOG"); ok && v != "" {
		c.Gallery.CatalogPath = v
	}
	if v, ok := lookup("CAMLAB_WORKERS"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("CAMLAB_WORKERS: %w", err)
		}
		c.Gallery.Workers = n
	}
	if v, ok := lookup("LOG_LEVEL"); ok && v != "" {
		c.Log.Level = v
	} else if v, ok := lookup("DEBUG"); ok && v == "1" {
		c.Log.Level = "debug"
	}
	if v, ok := lookup("LOG_FORMAT"); ok && v != "" {
		c.Log.Format = v
	}
	return nil
}

// Validate checks ranges after all overrides have been applied.
func (c *Config) Validate() error {
	s := c.Stream
	if s.CameraURL == "" {
		return fmt.Errorf("stream.camera_url must be set")
	}
	if s.ChunkSize <= 0 {
		return fmt.Errorf("stream.chunk_size must be positive, got %d", s.ChunkSize)
	}
	if s.MinChunkBytes < 0 {
		return fmt.Errorf("stream.min_chunk_bytes must not be negative, got %d", s.MinChunkBytes)
	}
	if s.Filter < 0 || s.Filter > 8 {
		return fmt.Errorf("stream.filter must be within [0, 8], got %d", s.Filter)
	}
	if s.Salt < 0 || s.Salt > 100 || s.Pepper < 0 || s.Pepper > 100 {
		return fmt.Errorf("stream noise percentages must be within [0, 100], got salt=%d pepper=%d", s.Salt, s.Pepper)
	}

	g := c.Gallery
	if g.UploadDir == "" || g.ProcessedDir == "" {
		return fmt.Errorf("gallery upload and processed directories must be set")
	}
	if g.MaxUploadBytes <= 0 {
		return fmt.Errorf("gallery.max_upload_bytes must be positive, got %d", g.MaxUploadBytes)
	}
	if g.Workers <= 0 {
		return fmt.Errorf("gallery.workers must be positive, got %d", g.Workers)
	}
	return nil
}
