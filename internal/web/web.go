package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"ttcal/internal/config"
	"ttcal/internal/feed"
	appLog "ttcal/internal/log"
	"ttcal/internal/reconcile"
)

// Feed is what the HTTP layer needs from a feed service.
type Feed interface {
	ID() string
	Name() string
	Ensure(ctx context.Context, force bool) (*feed.Calendar, error)
	Current() *feed.Calendar
}

// Server exposes the reconciled calendars over HTTP.
type Server struct {
	cfg    *config.Config
	feeds  []Feed
	byID   map[string]Feed
	router chi.Router
}

// NewServer constructs a Server. The first feed also answers on /ical.
func NewServer(cfg *config.Config, feeds []Feed) *Server {
	s := &Server{
		cfg:    cfg,
		feeds:  feeds,
		byID:   make(map[string]Feed, len(feeds)),
		router: chi.NewRouter(),
	}
	for _, f := range feeds {
		s.byID[f.ID()] = f
	}
	s.registerRoutes()
	return s
}

// Handler returns the root http.Handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen, "feeds", len(s.feeds))
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
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) registerRoutes() {
	r := s.router
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled")
		r.Use(s.basicAuthMiddleware)
	}

	r.Get("/health", s.handleHealth)
	r.Get("/", s.handleIndex)
	r.Get("/ical", s.handleDefaultICal)
	r.Get("/ical/{id}", s.handleICal)
	r.Get("/api/feeds", s.handleFeeds)
	r.Get("/api/feeds/{id}/events", s.handleEvents)
}

func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// basicAuthMiddleware protects every route except /health.
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
			w.Header().Set("WWW-Authenticate", `Basic realm="ttcal", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		began := time.Now()
		next.ServeHTTP(ww, r)
		appLog.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"took", time.Since(began).String(),
		)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	var b strings.Builder
	b.WriteString("Timetable calendar server is running. Subscribe to /ical")
	for _, f := range s.feeds {
		b.WriteString("\n  /ical/" + f.ID() + "  " + f.Name())
	}
	b.WriteString("\n")
	_, _ = w.Write([]byte(b.String()))
}

func (s *Server) handleDefaultICal(w http.ResponseWriter, r *http.Request) {
	if len(s.feeds) == 0 {
		http.Error(w, "no feed configured", http.StatusNotFound)
		return
	}
	s.serveICal(w, r, s.feeds[0])
}

func (s *Server) handleICal(w http.ResponseWriter, r *http.Request) {
	f, ok := s.byID[strings.TrimSuffix(chi.URLParam(r, "id"), ".ics")]
	if !ok {
		http.NotFound(w, r)
		return
	}
	s.serveICal(w, r, f)
}

// serveICal answers with the feed's calendar. ?refresh=true forces a pass;
// a matching If-None-Match yields 304.
func (s *Server) serveICal(w http.ResponseWriter, r *http.Request, f Feed) {
	force := strings.EqualFold(r.URL.Query().Get("refresh"), "true")

	cal, err := f.Ensure(r.Context(), force)
	if err != nil || cal == nil {
		appLog.Error("calendar generation failed", err, "feed", f.ID(), "forced", force)
		http.Error(w, "calendar generation failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("ETag", cal.ETag)
	w.Header().Set("Cache-Control", "public, max-age=60")
	w.Header().Set("Last-Modified", cal.GeneratedAt.UTC().Format(http.TimeFormat))
	if etagMatches(r.Header.Get("If-None-Match"), cal.ETag) {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(cal.ICS)
}

// etagMatches implements the weak comparison of If-None-Match.
func etagMatches(header, etag string) bool {
	if header == "" || etag == "" {
		return false
	}
	for _, part := range strings.Split(header, ",") {
		part = strings.TrimSpace(part)
		if part == "*" {
			return true
		}
		part = strings.TrimPrefix(part, "W/")
		if part == etag || part == strings.Trim(etag, `"`) {
			return true
		}
	}
	return false
}

type feedDTO struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Path        string     `json:"path"`
	GeneratedAt *time.Time `json:"generated_at,omitempty"`
	Events      int        `json:"events"`
}

func (s *Server) handleFeeds(w http.ResponseWriter, _ *http.Request) {
	out := make([]feedDTO, 0, len(s.feeds))
	for _, f := range s.feeds {
		dto := feedDTO{ID: f.ID(), Name: f.Name(), Path: "/ical/" + f.ID()}
		if c := f.Current(); c != nil {
			ts := c.GeneratedAt
			dto.GeneratedAt = &ts
			dto.Events = len(c.Events)
		}
		out = append(out, dto)
	}
	writeJSON(w, http.StatusOK, out)
}

type eventDTO struct {
	ID           string    `json:"id"`
	Sequence     int       `json:"sequence"`
	Created      time.Time `json:"created"`
	LastModified time.Time `json:"last_modified"`
	Start        time.Time `json:"start"`
	End          time.Time `json:"end"`
	Summary      string    `json:"summary"`
	Location     string    `json:"location"`
	Description  string    `json:"description"`
	Change       string    `json:"change"`
}

type eventsResponse struct {
	Feed        string          `json:"feed"`
	GeneratedAt time.Time       `json:"generated_at"`
	Stats       reconcile.Stats `json:"stats"`
	Events      []eventDTO      `json:"events"`
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	f, ok := s.byID[chi.URLParam(r, "id")]
	if !ok {
		writeError(w, http.StatusNotFound, "unknown feed")
		return
	}
	cal, err := f.Ensure(r.Context(), false)
	if err != nil || cal == nil {
		appLog.Error("api events: calendar unavailable", err, "feed", f.ID())
		writeError(w, http.StatusInternalServerError, "calendar unavailable")
		return
	}

	events := make([]eventDTO, 0, len(cal.Events))
	for _, ev := range cal.Events {
		events = append(events, eventDTO{
			ID:           ev.ID,
			Sequence:     ev.Sequence,
			Created:      ev.Created,
			LastModified: ev.LastModified,
			Start:        ev.Start,
			End:          ev.End,
			Summary:      ev.Summary,
			Location:     ev.Location,
			Description:  ev.Description,
			Change:       string(ev.Change),
		})
	}
	writeJSON(w, http.StatusOK, eventsResponse{
		Feed:        f.ID(),
		GeneratedAt: cal.GeneratedAt,
		Stats:       cal.Stats,
		Events:      events,
	})
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
