package serve

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/prdigest/pr-digest/pkg/config"
	"github.com/prdigest/pr-digest/pkg/log"
	"github.com/prdigest/pr-digest/pkg/site"
)

// Builder rebuilds the site.
type Builder interface {
	Build(ctx context.Context) (*site.BuildResult, error)
}

// Server serves the generated site and a small JSON API over the archives.
type Server struct {
	router  chi.Router
	appCfg  *config.AppConfig
	builder Builder
	log     *logrus.Entry
	now     func() time.Time

	buildMu   sync.Mutex
	lastBuild *site.BuildResult
	lastErr   error
}

// NewServer creates the preview server. builder may be nil to disable /api/build.
func NewServer(appCfg *config.AppConfig, builder Builder, logger *logrus.Entry) *Server {
	s := &Server{
		appCfg:  appCfg,
		builder: builder,
		log:     logger.WithField("component", "serve"),
		now:     time.Now,
	}
	s.setupRoutes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(log.RequestLogger(s.log))

	r.Get("/healthz", s.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Get("/digests", s.handleListDigests)
		r.Get("/digests/{year}/{month}/{day}", s.handleDigest)
		r.Post("/build", s.handleBuild)
	})
	r.Handle("/*", http.FileServer(http.Dir(s.appCfg.OutputsDir)))

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{"status": "ok"}
	s.buildMu.Lock()
	if s.lastBuild != nil {
		body["last_build"] = s.lastBuild
	}
	if s.lastErr != nil {
		body["last_build_error"] = s.lastErr.Error()
	}
	s.buildMu.Unlock()
	writeJSON(w, http.StatusOK, body)
}

type digestLink struct {
	Date string `json:"date"`
	Page string `json:"page"`
	API  string `json:"api"`
}

func (s *Server) handleListDigests(w http.ResponseWriter, r *http.Request) {
	digests, err := site.ListDigests(s.appCfg.ArchivesDir)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	out := make([]digestLink, 0, len(digests))
	for _, d := range digests {
		out = append(out, digestLink{
			Date: d.Day.Format(time.DateOnly),
			Page: "/" + d.PageRelPath(),
			API:  "/api/digests/" + d.Day.Format("2006/01/02"),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"digests": out})
}

func (s *Server) handleDigest(w http.ResponseWriter, r *http.Request) {
	day, err := parseDay(chi.URLParam(r, "year"), chi.URLParam(r, "month"), chi.URLParam(r, "day"))
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	d, err := site.FindDigest(s.appCfg.ArchivesDir, day)
	if err != nil {
		jsonError(w, "digest not found", http.StatusNotFound)
		return
	}
	res, err := site.AnalyzeFile(d.Path)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, site.ViewOf(d, res, s.now().UTC()))
}

func (s *Server) handleBuild(w http.ResponseWriter, r *http.Request) {
	if s.builder == nil {
		jsonError(w, "site building is disabled", http.StatusNotImplemented)
		return
	}
	res, err := s.Rebuild(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error(), "result": res})
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Rebuild runs one site build. Concurrent calls are serialized.
func (s *Server) Rebuild(ctx context.Context) (*site.BuildResult, error) {
	s.buildMu.Lock()
	defer s.buildMu.Unlock()

	res, err := s.builder.Build(ctx)
	s.lastBuild, s.lastErr = res, err
	if err != nil {
		s.log.Errorf("Site rebuild failed: %v", err)
	}
	return res, err
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Infof("Serving %s on http://%s", s.appCfg.OutputsDir, addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		s.log.Info("Shutting down preview server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func parseDay(year, month, day string) (time.Time, error) {
	y, errY := strconv.Atoi(year)
	m, errM := strconv.Atoi(month)
	d, errD := strconv.Atoi(day)
	if errY != nil || errM != nil || errD != nil {
		return time.Time{}, fmt.Errorf("invalid date %s/%s/%s", year, month, day)
	}
	t := time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC)
	if t.Year() != y || int(t.Month()) != m || t.Day() != d {
		return time.Time{}, fmt.Errorf("invalid date %s/%s/%s", year, month, day)
	}
	return t, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func jsonError(w http.ResponseWriter, msg string, status int) {
	writeJSON(w, status, map[string]string{"error": msg})
}
