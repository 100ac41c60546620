package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
)

var (
	ErrInvalidName = errors.New("invalid file name")
	ErrNotFound    = errors.New("file not found")
)

const filePerm = 0o644

// Store owns the upload and processed directories. Every name it accepts is
// reduced to its base component, so callers cannot escape either directory.
type Store struct {
	fs           FileSystem
	uploadDir    string
	processedDir string
}

func NewStore(fsys FileSystem, uploadDir, processedDir string) *Store {
	if fsys == nil {
		fsys = OSFileSystem{}
	}
	return &Store{fs: fsys, uploadDir: uploadDir, processedDir: processedDir}
}

// Init creates both directories if they are missing.
func (s *Store) Init() error {
	for _, dir := range []string{s.uploadDir, s.processedDir} {
		if err := s.fs.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}

// CleanName returns the base file name of a client-supplied name. Both slash
// styles count as separators.
func CleanName(name string) (string, error) {
	name = strings.ReplaceAll(name, "\\", "/")
	base := filepath.Base(filepath.FromSlash(name))
	switch {
	case strings.TrimSpace(name) == "",
		base == ".", base == "..", base == string(filepath.Separator),
		strings.ContainsRune(base, 0):
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return base, nil
}

// SaveUpload writes an uploaded file and returns the stored base name.
func (s *Store) SaveUpload(name string, data []byte) (string, error) {
	base, err := CleanName(name)
	if err != nil {
		return "", err
	}
	if err := s.fs.WriteFile(filepath.Join(s.uploadDir, base), data, filePerm); err != nil {
		return "", fmt.Errorf("save upload %s: %w", base, err)
	}
	return base, nil
}

func (s *Store) ReadUpload(name string) ([]byte, error) {
	return s.read(s.uploadDir, name)
}

func (s *Store) WriteProcessed(name string, data []byte) error {
	base, err := CleanName(name)
	if err != nil {
		return err
	}
	if err := s.fs.WriteFile(filepath.Join(s.processedDir, base), data, filePerm); err != nil {
		return fmt.Errorf("write processed %s: %w", base, err)
	}
	return nil
}

func (s *Store) ReadProcessed(name string) ([]byte, error) {
	return s.read(s.processedDir, name)
}

// ProcessedExists reports whether a regular processed file with this name exists.
func (s *Store) ProcessedExists(name string) bool {
	base, err := CleanName(name)
	if err != nil {
		return false
	}
	info, err := s.fs.Stat(filepath.Join(s.processedDir, base))
	return err == nil && !info.IsDir()
}

func (s *Store) read(dir, name string) ([]byte, error) {
	base, err := CleanName(name)
	if err != nil {
		return nil, err
	}
	data, err := s.fs.ReadFile(filepath.Join(dir, base))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, base)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", base, err)
	}
	return data, nil
}
