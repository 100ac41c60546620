package gallery

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"html/template"
	"io"
	"net/http"
	"net/url"
	"strings"

	"camlab/internal/catalog"
	"camlab/internal/logger"
	"camlab/internal/middleware"
	"camlab/internal/processing/morphology"
	"camlab/internal/storage"
)

const component = "Gallery"

const notFoundBody = "Imagen no encontrada"

// Files larger than this spill to temporary files while parsing the form.
const multipartMemory = 32 << 20

//go:embed templates/*
var templateFS embed.FS

var (
	indexTemplate   = template.Must(template.ParseFS(templateFS, "templates/index.html"))
	resultsTemplate = template.Must(template.ParseFS(templateFS, "templates/results.html"))
)

// Lister is the read side of the catalog.
type Lister interface {
	List(ctx context.Context, limit int) ([]catalog.Entry, error)
	ForSource(ctx context.Context, source string) ([]catalog.Entry, error)
}

type Server struct {
	service   *Service
	store     *storage.Store
	lister    Lister
	maxUpload int64
	log       logger.Logger
}

func NewServer(service *Service, store *storage.Store, lister Lister, maxUpload int64, log logger.Logger) *Server {
	if log == nil {
		log = logger.Nop{}
	}
	return &Server{service: service, store: store, lister: lister, maxUpload: maxUpload, log: log}
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.index)
	mux.HandleFunc("POST /{$}", s.upload)
	mux.HandleFunc("GET /results/{filenames}", s.results)
	mux.HandleFunc("GET /get_image/{filename}", s.getImage)
	mux.HandleFunc("GET /api/processed", s.processed)
	return mux
}

func (s *Server) Handler() http.Handler {
	return middleware.Logging(s.log, "GalleryHTTP", s.ServeMux())
}

func (s *Server) index(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := indexTemplate.Execute(w, nil); err != nil {
		s.log.Error(component, err, map[string]interface{}{"template": "index.html"})
	}
}

func (s *Server) upload(w http.ResponseWriter, r *http.Request) {
	if s.maxUpload > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "upload too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "invalid upload form", http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	var uploads []Upload
	for _, fh := range r.MultipartForm.File["images"] {
		if fh.Filename == "" {
			continue
		}
		f, err := fh.Open()
		if err != nil {
			s.log.Error(component, err, map[string]interface{}{"file": fh.Filename})
			http.Error(w, "could not read upload", http.StatusInternalServerError)
			return
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			s.log.Error(component, err, map[string]interface{}{"file": fh.Filename})
			http.Error(w, "could not read upload", http.StatusInternalServerError)
			return
		}
		uploads = append(uploads, Upload{Name: fh.Filename, Data: data})
	}

	if len(uploads) == 0 {
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}

	batchID, names, err := s.service.ProcessBatch(r.Context(), uploads)
	if err != nil {
		s.log.Error(component, err, map[string]interface{}{"batch_id": batchID})
		http.Error(w, "processing failed", http.StatusInternalServerError)
		return
	}

	escaped := make([]string, len(names))
	for i, n := range names {
		escaped[i] = url.PathEscape(n)
	}
	http.Redirect(w, r, "/results/"+strings.Join(escaped, ","), http.StatusFound)
}

type galleryImage struct {
	Label    string
	Filename string
}

type gallerySize struct {
	Tag    string
	Images []galleryImage
}

type galleryGroup struct {
	Source string
	Sizes  []gallerySize
}

// buildGallery lists every expected output for the given sources. Names
// that do not survive cleaning are dropped.
func buildGallery(sources []string) []galleryGroup {
	var groups []galleryGroup
	for _, raw := range sources {
		name, err := storage.CleanName(raw)
		if err != nil {
			continue
		}
		group := galleryGroup{Source: name}
		for _, k := range morphology.KernelSizes {
			size := gallerySize{Tag: morphology.SizeTag(k)}
			for _, op := range morphology.Operations {
				size.Images = append(size.Images, galleryImage{
					Label:    op.Label(),
					Filename: morphology.OutputName(op, k, name),
				})
			}
			group.Sizes = append(group.Sizes, size)
		}
		groups = append(groups, group)
	}
	return groups
}

func (s *Server) results(w http.ResponseWriter, r *http.Request) {
	groups := buildGallery(strings.Split(r.PathValue("filenames"), ","))

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := resultsTemplate.Execute(w, groups); err != nil {
		s.log.Error(component, err, map[string]interface{}{"template": "results.html"})
	}
}

func (s *Server) getImage(w http.ResponseWriter, r *http.Request) {
	data, err := s.store.ReadProcessed(r.PathValue("filename"))
	if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrInvalidName) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, notFoundBody)
		return
	}
	if err != nil {
		s.log.Error(component, err, map[string]interface{}{"file": r.PathValue("filename")})
		http.Error(w, "could not read image", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/jpeg")
	_, _ = w.Write(data)
}

const recentLimit = 100

func (s *Server) processed(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if s.lister == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "catalog disabled"})
		return
	}

	var (
		entries []catalog.Entry
		err     error
	)
	if source := r.URL.Query().Get("source"); source != "" {
		entries, err = s.lister.ForSource(r.Context(), source)
	} else {
		entries, err = s.lister.List(r.Context(), recentLimit)
	}
	if err != nil {
		s.log.Error(component, err, map[string]interface{}{"endpoint": "/api/processed"})
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "catalog query failed"})
		return
	}

	_ = json.NewEncoder(w).Encode(entries)
}
