// Package api serves the JSON control API.
package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"

	"github.com/olinky/olinkyd/internal/controller"
)

// Options configure the HTTP handler.
type Options struct {
	// MaxUploadBytes bounds image and file uploads.
	MaxUploadBytes int64
	CORS           cors.Options
	Version        string
}

// Server handles API requests for one controller.
type Server struct {
	ctrl *controller.Controller
	opts Options
}

// New returns an API server.
func New(ctrl *controller.Controller, opts Options) *Server {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 200 * 1024 * 1024
	}
	return &Server{ctrl: ctrl, opts: opts}
}

// Router registers every route.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(requestLogger)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", s.HealthHandler).Methods("GET")
	api.HandleFunc("/status", s.StatusHandler).Methods("GET")
	api.HandleFunc("/profiles", s.ProfilesHandler).Methods("GET")
	api.HandleFunc("/module/check", s.ModuleCheckHandler).Methods("POST")
	api.HandleFunc("/storage/mount", s.MountHandler).Methods("POST")
	api.HandleFunc("/storage/unmount", s.UnmountHandler).Methods("POST")
	api.HandleFunc("/pxe/start", s.StartPXEHandler).Methods("POST")
	api.HandleFunc("/pxe/stop", s.StopPXEHandler).Methods("POST")
	api.HandleFunc("/images", s.ListImagesHandler).Methods("GET")
	api.HandleFunc("/images", s.CreateImageHandler).Methods("POST")
	api.HandleFunc("/images/upload", s.UploadImageHandler).Methods("POST")
	api.HandleFunc("/images/{name}", s.InspectImageHandler).Methods("GET")
	api.HandleFunc("/images/{name}", s.DeleteImageHandler).Methods("DELETE")
	api.HandleFunc("/images/{name}/files", s.UploadFilesHandler).Methods("POST")
	api.HandleFunc("/system/reboot", s.RebootHandler).Methods("POST")
	return r
}

// Handler is the router wrapped with CORS.
func (s *Server) Handler() http.Handler {
	return cors.New(s.opts.CORS).Handler(s.Router())
}

type ctxKey int

const requestIDKey ctxKey = 0

// RequestID returns the id assigned to the request, if any.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.New().String()
		w.Header().Set("X-Request-Id", id)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))

		logrus.WithFields(logrus.Fields{
			"request_id": id,
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     rec.status,
			"duration":   time.Since(start).Round(time.Millisecond),
		}).Debug("Handled request")
	})
}

func logger(r *http.Request) *logrus.Entry {
	return logrus.WithField("request_id", RequestID(r.Context()))
}

// writeJSON sends v with status code. A map body gets "success" set from
// the status class unless it already has one.
func writeJSON(w http.ResponseWriter, status int, v map[string]any) {
	if _, ok := v["success"]; !ok {
		v["success"] = status < 400
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logrus.WithError(err).Debug("Failed to write response")
	}
}

func decodeJSON(r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 64*1024))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && err != io.EOF {
		return err
	}
	return nil
}
