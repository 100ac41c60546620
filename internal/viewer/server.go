// Package viewer serves the filtered camera stream and the controls that
// steer it.
package viewer

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"html/template"
	"net/http"
	"strconv"
	"time"

	"camlab/internal/control"
	"camlab/internal/logger"
	"camlab/internal/metrics"
	"camlab/internal/middleware"
	"camlab/internal/opencv/safe"
	"camlab/internal/processing/filters"
	"camlab/internal/stream"

	"github.com/gorilla/websocket"
)

const component = "Viewer"

const defaultNoise = 5

//go:embed templates/*
var templateFS embed.FS

var indexTemplate = template.Must(template.ParseFS(templateFS, "templates/index.html"))

type Server struct {
	settings *control.Settings
	source   stream.Source
	metrics  *metrics.Recorder
	log      logger.Logger
	overlay  bool
	upgrader websocket.Upgrader

	// newNoise builds the noise generator for each stream; tests seed it.
	newNoise func() *filters.SaltPepper
}

func NewServer(settings *control.Settings, source stream.Source, rec *metrics.Recorder, log logger.Logger) *Server {
	if rec == nil {
		rec = metrics.NewRecorder(0)
	}
	if log == nil {
		log = logger.Nop{}
	}
	return &Server{
		settings: settings,
		source:   source,
		metrics:  rec,
		log:      log,
		overlay:  true,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 64 * 1024,
		},
		newNoise: func() *filters.SaltPepper { return filters.NewSaltPepper(nil) },
	}
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.index)
	mux.HandleFunc("GET /video_stream", s.videoStream)
	mux.HandleFunc("POST /set_noise", s.setNoise)
	mux.HandleFunc("POST /set_filter", s.setFilter)
	mux.HandleFunc("GET /ws/stream", s.wsStream)
	mux.HandleFunc("GET /api/status", s.status)
	return mux
}

// Handler is the mux wrapped in access logging.
func (s *Server) Handler() http.Handler {
	return middleware.Logging(s.log, "StreamHTTP", s.ServeMux())
}

func (s *Server) pipeline(session control.Source) *stream.Pipeline {
	return &stream.Pipeline{
		Source:   s.source,
		Settings: session,
		Metrics:  s.metrics,
		Logger:   s.log,
		Noise:    s.newNoise(),
		Overlay:  s.overlay,
	}
}

type indexData struct {
	Filters  []control.FilterInfo
	Settings control.Snapshot
}

func (s *Server) index(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	data := indexData{Filters: control.Filters[:], Settings: s.settings.Snapshot()}
	if err := indexTemplate.Execute(w, data); err != nil {
		s.log.Error(component, err, map[string]interface{}{"template": "index.html"})
	}
}

func (s *Server) videoStream(w http.ResponseWriter, r *http.Request) {
	session := control.NewSession(s.settings)
	if err := session.ApplyQuery(r.URL.Query()); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	mw := stream.NewMJPEGWriter(w)
	started := false
	err := s.pipeline(session).Run(r.Context(), func(frame []byte) error {
		if !started {
			w.Header().Set("Content-Type", stream.ContentType)
			w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
			w.Header().Set("Connection", "close")
			started = true
		}
		return mw.WriteFrame(frame)
	})

	switch {
	case err == nil, errors.Is(err, context.Canceled):
		s.log.Debug(component, "mjpeg stream ended", map[string]interface{}{"remote": r.RemoteAddr})
	case !started:
		s.log.Error(component, err, map[string]interface{}{"stream": "mjpeg"})
		http.Error(w, "camera unavailable", http.StatusBadGateway)
	default:
		s.log.Error(component, err, map[string]interface{}{"stream": "mjpeg"})
	}
}

// formInt reads an integer form field, returning def when it is absent or blank.
func formInt(r *http.Request, key string, def int) (int, error) {
	v := r.FormValue(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (s *Server) setNoise(w http.ResponseWriter, r *http.Request) {
	salt, err := formInt(r, "salt", defaultNoise)
	if err != nil {
		http.Error(w, "invalid salt value", http.StatusBadRequest)
		return
	}
	pepper, err := formInt(r, "pepper", defaultNoise)
	if err != nil {
		http.Error(w, "invalid pepper value", http.StatusBadRequest)
		return
	}

	if err := s.settings.SetNoise(salt, pepper); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) setFilter(w http.ResponseWriter, r *http.Request) {
	raw := r.FormValue("filter")
	index, err := strconv.Atoi(raw)
	if err != nil {
		http.Error(w, "invalid filter value", http.StatusBadRequest)
		return
	}
	if err := s.settings.SetFilter(index); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type statusResponse struct {
	Settings control.Snapshot `json:"settings"`
	Filter   string           `json:"filter"`
	Metrics  metrics.Snapshot `json:"metrics"`
	LiveMats int64            `json:"live_mats"`
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	snap := s.settings.Snapshot()
	resp := statusResponse{
		Settings: snap,
		Filter:   control.Filters[snap.Filter].Name,
		Metrics:  s.metrics.Snapshot(),
		LiveMats: safe.LiveMats(),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.log.Error(component, err, map[string]interface{}{"endpoint": "/api/status"})
	}
}

const wsWriteTimeout = 5 * time.Second

// wsStream sends one binary message per frame. Text messages from the
// client adjust this connection's session only.
func (s *Server) wsStream(w http.ResponseWriter, r *http.Request) {
	session := control.NewSession(s.settings)
	if err := session.ApplyQuery(r.URL.Query()); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warning(component, "websocket upgrade failed", map[string]interface{}{"error": err.Error()})
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go s.readControl(ctx, cancel, conn, session)

	err = s.pipeline(session).Run(ctx, func(frame []byte) error {
		if err := conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout)); err != nil {
			return err
		}
		return conn.WriteMessage(websocket.BinaryMessage, frame)
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		s.log.Error(component, err, map[string]interface{}{"stream": "websocket"})
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "stream ended"),
			time.Now().Add(time.Second))
		return
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
}

// readControl applies session messages until the peer goes away, then
// cancels the stream.
func (s *Server) readControl(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, session *control.Session) {
	defer cancel()
	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debug(component, "websocket read ended", map[string]interface{}{"error": err.Error()})
			}
			return
		}
		if kind != websocket.TextMessage {
			continue
		}
		if err := session.ApplyMessage(data); err != nil {
			s.log.Warning(component, "rejected session message", map[string]interface{}{"error": err.Error()})
		}
	}
}
