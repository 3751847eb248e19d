// Package httpapi exposes the report pipeline over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"defectintel/internal/logging"
	"defectintel/internal/pipeline"
	"defectintel/internal/types"

	"github.com/google/uuid"
	"golang.org/x/net/netutil"
)

// Options configures a Server.
type Options struct {
	// ReportsDir is served under /reports/.
	ReportsDir string
	// UploadsDir confines imagePath in vision requests. Empty rejects paths.
	UploadsDir string
	// RequestTimeout bounds one request end to end. Zero disables it.
	RequestTimeout time.Duration
	// MaxConnections caps concurrent connections. Zero means unlimited.
	MaxConnections int
	// Health checks dependencies for /health.
	Health func(ctx context.Context) error
}

// Server routes HTTP requests to the orchestrator.
type Server struct {
	orch *pipeline.Orchestrator
	opts Options
	mux  *http.ServeMux
	log  *logging.Logger
}

// NewServer creates a server and registers its routes.
func NewServer(orch *pipeline.Orchestrator, opts Options) *Server {
	s := &Server{orch: orch, opts: opts, mux: http.NewServeMux(), log: logging.Get(logging.CategoryHTTP)}

	s.mux.HandleFunc("POST /report/generate-pdf", s.handleGeneratePDF)
	s.mux.HandleFunc("GET /property/{id}/report", s.handlePropertyReport)
	s.mux.HandleFunc("POST /property/analyze", s.handleAnalyzeProperty)
	s.mux.HandleFunc("POST /vision/analyze-image", s.handleAnalyzeImage)
	s.mux.HandleFunc("GET /health", s.handleHealth)
	if opts.ReportsDir != "" {
		s.mux.Handle("GET /reports/", http.StripPrefix("/reports/", http.FileServer(http.Dir(opts.ReportsDir))))
	}
	return s
}

// Handler returns the root handler with request logging and timeouts.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.New().String()
		}
		w.Header().Set("X-Request-ID", reqID)

		if s.opts.RequestTimeout > 0 {
			ctx, cancel := context.WithTimeout(r.Context(), s.opts.RequestTimeout)
			defer cancel()
			r = r.WithContext(ctx)
		}

		rec := &statusRecorder{ResponseWriter: w}
		s.mux.ServeHTTP(rec, r)
		s.log.Info("%s %s -> %d (%d bytes, %s, request_id=%s)",
			r.Method, r.URL.Path, rec.status(), rec.bytes, time.Since(start).Round(time.Millisecond), reqID)
	})
}

// Serve accepts connections on ln until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	if s.opts.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, s.opts.MaxConnections)
	}
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	s.log.Info("listening on %s", ln.Addr())

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		<-errCh
		return err
	}
}

// ListenAndServe listens on addr and serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// =============================================================================
// RESPONSES
// =============================================================================

type errorBody struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, types.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, types.ErrNoFindings):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	body := errorBody{Error: err.Error()}

	var verr *types.ValidationError
	if errors.As(err, &verr) {
		body.Error = "AI analysis failed"
		body.Details = verr.Error()
	}
	if status == http.StatusInternalServerError {
		s.log.Error("request failed: %v", err)
	}

	h := w.Header()
	h.Del("Content-Disposition")
	h.Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusRecorder captures the status code and body size for logging.
type statusRecorder struct {
	http.ResponseWriter
	code  int
	bytes int64
}

func (r *statusRecorder) WriteHeader(code int) {
	if r.code == 0 {
		r.code = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(p []byte) (int, error) {
	if r.code == 0 {
		r.code = http.StatusOK
	}
	n, err := r.ResponseWriter.Write(p)
	r.bytes += int64(n)
	return n, err
}

func (r *statusRecorder) status() int {
	if r.code == 0 {
		return http.StatusOK
	}
	return r.code
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }
