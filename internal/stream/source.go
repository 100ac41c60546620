// Package stream turns a camera's HTTP stream into filtered, re-encoded frames.
package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"
)

// Source opens a fresh connection to the frame producer.
type Source interface {
	Open(ctx context.Context) (Reader, error)
}

// Reader yields raw buffers. Next returns io.EOF once the stream ends.
type Reader interface {
	Next() ([]byte, error)
	Close() error
}

// HTTPSource reads an MJPEG camera endpoint. It does not reconnect: an error
// while reading ends the Reader.
type HTTPSource struct {
	URL           string
	Client        *http.Client
	ChunkSize     int
	MinChunkBytes int
}

func (s *HTTPSource) Open(ctx context.Context) (Reader, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("build camera request: %w", err)
	}

	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("camera request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("camera responded %s", resp.Status)
	}

	mediaType, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err == nil && strings.HasPrefix(mediaType, "multipart/") && params["boundary"] != "" {
		return &partReader{
			body:     resp.Body,
			parts:    multipart.NewReader(resp.Body, params["boundary"]),
			minBytes: s.MinChunkBytes,
		}, nil
	}

	size := s.ChunkSize
	if size <= 0 {
		size = 100000
	}
	return &chunkReader{body: resp.Body, size: size, minBytes: s.MinChunkBytes}, nil
}

// partReader yields one buffer per multipart part.
type partReader struct {
	body     io.ReadCloser
	parts    *multipart.Reader
	minBytes int
}

func (r *partReader) Next() ([]byte, error) {
	for {
		part, err := r.parts.NextPart()
		if err != nil {
			return nil, err
		}
		data, err := io.ReadAll(part)
		part.Close()
		if err != nil {
			return nil, fmt.Errorf("read part: %w", err)
		}
		if len(data) < r.minBytes {
			continue
		}
		return data, nil
	}
}

func (r *partReader) Close() error {
	return r.body.Close()
}

// chunkReader yields fixed-size slices of the raw body. A read error that
// arrives with data is held back until that data has been returned.
type chunkReader struct {
	body     io.ReadCloser
	size     int
	minBytes int
	pending  error
}

func (r *chunkReader) Next() ([]byte, error) {
	for {
		if r.pending != nil {
			return nil, r.pending
		}

		buf := make([]byte, r.size)
		n, err := io.ReadFull(r.body, buf)
		switch {
		case errors.Is(err, io.ErrUnexpectedEOF):
			r.pending = io.EOF
		case err != nil && n > 0:
			r.pending = err
		case err != nil:
			return nil, err
		}

		if n < r.minBytes {
			continue
		}
		return buf[:n], nil
	}
}

func (r *chunkReader) Close() error {
	return r.body.Close()
}
