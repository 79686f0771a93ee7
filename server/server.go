// Package server exposes the report trigger, the notices and a health check
// over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"mythicwp/events"
	"mythicwp/inventory"
	"mythicwp/logger"
	"mythicwp/notice"
	"mythicwp/output"
	"mythicwp/report"
	"mythicwp/state"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
)

const (
	// KeyField holds the shared-secret key in a trigger request.
	KeyField = "mythic-wp"
	// HashesField requests the deep-hash block when present.
	HashesField = "mythic-wp-gethashes"

	maxFormBytes = 1 << 20
)

type Options struct {
	Generator *report.Generator
	State     *state.Manager
	// Inventory is called for every report so edits to the document are
	// picked up without a restart.
	Inventory  func() (*inventory.Inventory, error)
	Dispatcher *events.Dispatcher
	Exporter   *output.Exporter

	// AllowedOrigins lets browser dashboards read /notices cross-origin.
	AllowedOrigins []string

	ReportTimeout   time.Duration
	DeepHashTimeout time.Duration
	Now             func() time.Time
}

type Server struct {
	opts Options
}

func New(opts Options) *Server {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Dispatcher == nil {
		opts.Dispatcher = events.NewDispatcher()
	}
	if opts.Generator == nil {
		opts.Generator = report.NewGenerator(report.Options{})
	}
	if opts.ReportTimeout <= 0 {
		opts.ReportTimeout = 30 * time.Second
	}
	if opts.DeepHashTimeout <= 0 {
		opts.DeepHashTimeout = 120 * time.Second
	}
	return &Server{opts: opts}
}

func (s *Server) Handler() http.Handler {
	mux := chi.NewRouter()
	mux.Use(requestIDMiddleware, loggingMiddleware, s.trigger)

	mux.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.Group(func(r chi.Router) {
		if len(s.opts.AllowedOrigins) > 0 {
			r.Use(cors.Handler(cors.Options{
				AllowedOrigins: s.opts.AllowedOrigins,
				AllowedMethods: []string{http.MethodGet},
				MaxAge:         300,
			}))
			r.Options("/notices", func(http.ResponseWriter, *http.Request) {})
		}
		r.Get("/notices", s.handleNotices)
	})
	mux.MethodNotAllowed(http.NotFound)
	return mux
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.DeepHashTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

// trigger serves a report for POST requests carrying a valid key. Any other
// request, including one with a wrong key, continues to next untouched.
func (s *Server) trigger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			next.ServeHTTP(w, r)
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
		if err := r.ParseMultipartForm(maxFormBytes); err != nil && !errors.Is(err, http.ErrNotMultipart) {
			next.ServeHTTP(w, r)
			return
		}
		candidate, ok := r.PostForm[KeyField]
		if !ok || len(candidate) == 0 || s.opts.State == nil || !s.opts.State.Verify(r.Context(), candidate[0]) {
			next.ServeHTTP(w, r)
			return
		}
		_, hashes := r.PostForm[HashesField]
		s.serveReport(w, r, hashes)
	})
}

func (s *Server) serveReport(w http.ResponseWriter, r *http.Request, hashes bool) {
	ctx := r.Context()
	log := logger.WithFields(map[string]interface{}{
		"request_id": RequestID(ctx),
		"hashes":     hashes,
	})

	timeout := s.opts.ReportTimeout
	if hashes {
		timeout = s.opts.DeepHashTimeout
	}
	if err := http.NewResponseController(w).SetWriteDeadline(time.Now().Add(timeout)); err != nil && !errors.Is(err, http.ErrNotSupported) {
		log.Warnf("Could not extend write deadline: %v", err)
	}

	inv := &inventory.Inventory{}
	if s.opts.Inventory != nil {
		loaded, err := s.opts.Inventory()
		if err != nil {
			log.Warnf("Inventory unavailable, reporting without it: %v", err)
		} else if loaded != nil {
			inv = loaded
		}
	}

	st, err := s.opts.State.Load(ctx)
	if err != nil {
		log.Warnf("Key state unavailable: %v", err)
	}

	w.Header().Set("Cache-Control", "no-cache, must-revalidate")
	w.Header().Set("Content-Type", "text/plain;")

	lw := output.NewLineWriter(w)
	var lines []output.Line
	if s.opts.Exporter != nil {
		lw.Observe = func(l output.Line) { lines = append(lines, l) }
	}
	req := report.Request{
		Inventory:     inv,
		IncludeHashes: hashes,
		LastQuery:     strconv.FormatInt(st.LastQuery, 10),
		LastCron:      strconv.FormatInt(st.LastCron, 10),
	}
	if err := s.opts.Generator.Emit(ctx, lw, req); err != nil {
		log.Warnf("Report not completed: %v", err)
		return
	}

	now := s.opts.Now()
	if err := s.opts.State.TouchQuery(ctx, now); err != nil {
		log.Warnf("Failed to record query time: %v", err)
	}
	_ = s.opts.Dispatcher.Fire(ctx, events.EventReportServed, now)
	s.opts.Exporter.ExportReport(lines)
	log.Infof("Report served (%d lines)", lw.Count())
}

func (s *Server) handleNotices(w http.ResponseWriter, r *http.Request) {
	var lastQuery int64
	if s.opts.State != nil {
		st, err := s.opts.State.Load(r.Context())
		switch {
		case err == nil:
			lastQuery = st.LastQuery
		case !errors.Is(err, state.ErrNoKey):
			http.Error(w, "state unavailable", http.StatusInternalServerError)
			return
		}
	}
	notices := notice.Select(lastQuery, s.opts.Now(), r.URL.Query().Get("page"))
	if notices == nil {
		notices = []notice.Notice{}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(notices)
}
