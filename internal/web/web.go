package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"icscsv/internal/config"
	"icscsv/internal/convert"
	"icscsv/internal/export"
	"icscsv/internal/ics"
	appLog "icscsv/internal/log"
	"icscsv/internal/metric"
	"icscsv/internal/model"
)

const requestIDHeader = "X-Request-ID"

// Server exposes the converter over HTTP: uploads in, CSV out, plus access
// to the files written by the feed exporter.
type Server struct {
	cfg      *config.Config
	exporter *export.Exporter
	mux      *http.ServeMux
}

// NewServer constructs a new Server. exporter may be nil when no feeds are
// exported; the /api/exports endpoints then report an empty list.
func NewServer(cfg *config.Config, exporter *export.Exporter) *Server {
	s := &Server{
		cfg:      cfg,
		exporter: exporter,
		mux:      http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

// Handler returns the root http.Handler with request IDs and, if
// configured, basic auth applied.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		h = s.basicAuthMiddleware(h)
	}
	return requestIDMiddleware(h)
}

// Run serves on cfg.Listen until ctx is canceled, then shuts down
// gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen, "basic_auth", s.basicAuthEnabled())
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	appLog.Info("HTTP server stopped")
	return nil
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("POST /api/convert", s.handleConvert)
	s.mux.HandleFunc("GET /api/exports", s.handleExports)
	s.mux.HandleFunc("GET /api/exports/{id}", s.handleExportFile)
	s.mux.Handle("GET /metrics", promhttp.Handler())
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// Empty username or password counts as disabled.
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="icscsv", charset="UTF-8"`)
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// requestIDMiddleware echoes the caller's X-Request-ID or assigns a new one.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
			r.Header.Set(requestIDHeader, id)
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// convertResponse is the JSON shape of POST /api/convert?format=json.
type convertResponse struct {
	Filename   string        `json:"filename"`
	EventCount int           `json:"event_count"`
	Preview    []model.Event `json:"preview"`
	CSV        string        `json:"csv"`
}

// handleConvert converts an uploaded calendar.
//
// POST /api/convert
//   - multipart/form-data with a "file" part, or
//   - a raw text/calendar body with ?filename=<name>.ics
//
// The response is the CSV as an attachment, or a JSON preview when
// ?format=json or Accept: application/json is given.
func (s *Server) handleConvert(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	reqID := r.Header.Get(requestIDHeader)
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes())

	name, body, err := readUpload(r)
	if err != nil {
		metric.ObserveConversion(metric.SourceUpload, metric.ResultError, 0, start)
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("calendar larger than %d MB", s.cfg.MaxUploadMB))
		case errors.Is(err, ics.ErrNotICS), errors.Is(err, ics.ErrEmptyBody):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			appLog.Error("upload read failed", err, "request_id", reqID)
			writeError(w, http.StatusBadRequest, "could not read uploaded calendar")
		}
		return
	}

	events := ics.Parse(ics.DecodeText(body))
	if len(events) == 0 {
		metric.ObserveConversion(metric.SourceUpload, metric.ResultNoEvents, 0, start)
		appLog.Info("upload had no events", "request_id", reqID, "filename", name, "bytes", len(body))
		writeError(w, http.StatusUnprocessableEntity, ics.ErrNoEvents.Error())
		return
	}

	csvText := convert.ToCSV(events)
	filename := convert.Filename(name)
	metric.ObserveConversion(metric.SourceUpload, metric.ResultOK, len(events), start)
	appLog.Info("upload converted", "request_id", reqID, "filename", name, "event_count", len(events))

	if wantsJSON(r) {
		n := min(s.cfg.PreviewRows, len(events))
		writeJSON(w, http.StatusOK, convertResponse{
			Filename:   filename,
			EventCount: len(events),
			Preview:    events[:n],
			CSV:        csvText,
		})
		return
	}

	out := []byte(csvText)
	if s.cfg.WriteBOM {
		if out, err = convert.WithBOM(csvText); err != nil {
			appLog.Error("bom encode failed", err, "request_id", reqID)
			writeError(w, http.StatusInternalServerError, "failed to encode CSV")
			return
		}
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": filename}))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out)
}

// readUpload returns the uploaded file name and content.
func readUpload(r *http.Request) (string, []byte, error) {
	var (
		name string
		src  io.Reader
	)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		file, header, err := r.FormFile("file")
		if err != nil {
			return "", nil, err
		}
		defer file.Close()
		name, src = header.Filename, file
	} else {
		name, src = r.URL.Query().Get("filename"), r.Body
	}

	if err := ics.CheckFilename(name); err != nil {
		return "", nil, err
	}
	body, err := io.ReadAll(src)
	if err != nil {
		return "", nil, err
	}
	if len(body) == 0 {
		return "", nil, ics.ErrEmptyBody
	}
	return name, body, nil
}

func wantsJSON(r *http.Request) bool {
	if r.URL.Query().Get("format") == "json" {
		return true
	}
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}

// handleExports lists the last export status of every feed.
func (s *Server) handleExports(w http.ResponseWriter, _ *http.Request) {
	statuses := []export.Status{}
	if s.exporter != nil {
		statuses = s.exporter.Statuses()
	}
	writeJSON(w, http.StatusOK, statuses)
}

// handleExportFile serves the last CSV written for feed {id}.
func (s *Server) handleExportFile(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSuffix(r.PathValue("id"), ".csv")
	if s.exporter == nil {
		writeError(w, http.StatusNotFound, "unknown feed")
		return
	}
	st, ok := s.exporter.Get(id)
	if !ok || st.Path == "" {
		writeError(w, http.StatusNotFound, "no export for feed "+id)
		return
	}

	f, err := os.Open(st.Path)
	if err != nil {
		appLog.Error("export file open failed", err, "id", id, "path", st.Path)
		writeError(w, http.StatusNotFound, "export file unavailable")
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": id + ".csv"}))
	http.ServeContent(w, r, id+".csv", st.UpdatedAt, f)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
