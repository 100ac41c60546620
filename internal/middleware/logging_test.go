package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"camlab/internal/logger"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggingResponseWriter(t *testing.T) {
	rec := httptest.NewRecorder()
	lrw := &loggingResponseWriter{ResponseWriter: rec, statusCode: http.StatusOK}

	lrw.WriteHeader(http.StatusCreated)
	n, err := lrw.Write([]byte("hello"))
	require.NoError(t, err)
	lrw.Flush()

	assert.Equal(t, 5, n)
	assert.Equal(t, http.StatusCreated, lrw.statusCode)
	assert.Equal(t, 5, lrw.bytes)
	assert.True(t, rec.Flushed)
}

func TestHijackUnsupported(t *testing.T) {
	lrw := &loggingResponseWriter{ResponseWriter: httptest.NewRecorder()}
	_, _, err := lrw.Hijack()
	assert.Error(t, err)
}

func TestLoggingAssignsRequestID(t *testing.T) {
	var buf bytes.Buffer
	log := logger.NewZerolog(&buf, zerolog.DebugLevel)

	handler := Logging(log, "HTTP", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodPost, "/set_noise?x=1", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	id := w.Header().Get(RequestIDHeader)
	_, err := uuid.Parse(id)
	require.NoError(t, err)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, id, entry["request_id"])
	assert.Equal(t, "/set_noise", entry["path"])
	assert.Equal(t, "x=1", entry["query"])
	assert.EqualValues(t, 204, entry["status"])
	assert.Equal(t, "HTTP", entry["component"])
}

func TestLoggingKeepsIncomingRequestID(t *testing.T) {
	handler := Logging(logger.Nop{}, "HTTP", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, "abc-123", w.Header().Get(RequestIDHeader))
}
