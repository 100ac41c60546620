package stream

import (
	"fmt"
	"io"
	"net/http"
)

// Boundary separates parts of the MJPEG response.
const Boundary = "frame"

// ContentType is the response type for an MJPEG stream.
const ContentType = "multipart/x-mixed-replace; boundary=" + Boundary

// MJPEGWriter frames JPEG images as multipart parts.
type MJPEGWriter struct {
	w       io.Writer
	flusher http.Flusher
}

func NewMJPEGWriter(w io.Writer) *MJPEGWriter {
	mw := &MJPEGWriter{w: w}
	if f, ok := w.(http.Flusher); ok {
		mw.flusher = f
	}
	return mw
}

// WriteFrame writes one part and flushes it to the client.
func (mw *MJPEGWriter) WriteFrame(jpeg []byte) error {
	if _, err := fmt.Fprintf(mw.w, "--%s\r\nContent-Type: image/jpeg\r\n\r\n", Boundary); err != nil {
		return err
	}
	if _, err := mw.w.Write(jpeg); err != nil {
		return err
	}
	if _, err := io.WriteString(mw.w, "\r\n"); err != nil {
		return err
	}
	if mw.flusher != nil {
		mw.flusher.Flush()
	}
	return nil
}
