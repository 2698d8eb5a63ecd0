package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"racecal/internal/calendar"
	"racecal/internal/config"
	"racecal/internal/ics"
	appLog "racecal/internal/log"
	"racecal/internal/provider"
	"racecal/internal/service"
)

// CalendarGetter is the capability the HTTP surface needs from the
// calendar service.
type CalendarGetter interface {
	GetSeasonCalendar(ctx context.Context, season int, asOf time.Time) (service.Result, error)
}

// Server provides the HTTP API, the iCalendar feed and the HTML dashboard.
type Server struct {
	cfg    *config.Config
	svc    CalendarGetter
	router *mux.Router
	now    func() time.Time
}

// NewServer constructs a new Server.
func NewServer(cfg *config.Config, svc CalendarGetter) *Server {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	s := &Server{
		cfg:    cfg,
		svc:    svc,
		router: mux.NewRouter(),
		now:    time.Now,
	}
	s.registerRoutes()
	return s
}

// WithClock replaces the reference clock used when a request carries no
// as_of parameter.
func (s *Server) WithClock(now func() time.Time) *Server {
	s.now = now
	return s
}

// Handler returns the routed handler wrapped with CORS and, when
// configured, HTTP Basic Auth.
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"*"},
	})
	h := c.Handler(s.router)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// NewHTTPServer returns an http.Server bound to cfg.Listen. Shutdown is
// left to the caller.
func (s *Server) NewHTTPServer() *http.Server {
	return &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// Empty username or password disables auth.
	if s.cfg.BasicAuth.Username == "" || s.cfg.BasicAuth.Password == "" {
		return false
	}
	return true
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
			w.Header().Set("WWW-Authenticate", `Basic realm="racecal", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
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

func (s *Server) registerRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/calendar", s.handleCalendarPage).Methods(http.MethodGet)
	s.router.HandleFunc("/preview.png", s.handlePreview).Methods(http.MethodGet)

	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/seasons/{season:[0-9]+}/calendar", s.handleCalendar).Methods(http.MethodGet)
	api.HandleFunc("/seasons/{season:[0-9]+}/calendar.ics", s.handleICS).Methods(http.MethodGet)
	api.HandleFunc("/seasons/{season:[0-9]+}/featured", s.handleFeatured).Methods(http.MethodGet)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handlePreview serves the last captured dashboard PNG from disk.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	// http.ServeFile maps missing files to 404.
	http.ServeFile(w, r, s.cfg.Capture.OutputPath)
}

// handleCalendar returns the classified season with featured event and summary.
//
// GET /api/seasons/{season}/calendar?as_of=2025-03-15T00:00:00Z
func (s *Server) handleCalendar(w http.ResponseWriter, r *http.Request) {
	res, ok := s.load(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toCalendarResponse(res))
}

// handleFeatured returns only the featured event.
func (s *Server) handleFeatured(w http.ResponseWriter, r *http.Request) {
	res, ok := s.load(w, r)
	if !ok {
		return
	}
	if !res.HasFeatured {
		writeError(w, http.StatusNotFound, "season has no events")
		return
	}
	writeJSON(w, http.StatusOK, toFeaturedDTO(res.Featured))
}

// handleICS returns the season as an iCalendar feed.
func (s *Server) handleICS(w http.ResponseWriter, r *http.Request) {
	res, ok := s.load(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `inline; filename="racecal-`+strconv.Itoa(res.Calendar.Season())+`.ics"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(ics.BuildFeed(res.Calendar, res.Calendar.AsOf())))
}

// load resolves the season and reference instant of an API request and runs
// the pipeline. On failure it writes the error response and returns false.
func (s *Server) load(w http.ResponseWriter, r *http.Request) (service.Result, bool) {
	season, err := strconv.Atoi(mux.Vars(r)["season"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid season")
		return service.Result{}, false
	}
	asOf, err := s.asOf(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid as_of: expected RFC3339 timestamp")
		return service.Result{}, false
	}
	return s.run(w, r, season, asOf)
}

func (s *Server) run(w http.ResponseWriter, r *http.Request, season int, asOf time.Time) (service.Result, bool) {
	res, err := s.svc.GetSeasonCalendar(r.Context(), season, asOf)
	if err != nil {
		status := statusFor(err)
		logFailure("calendar request failed", err, season, status)
		writeError(w, status, err.Error())
		return service.Result{}, false
	}
	return res, true
}

func (s *Server) asOf(r *http.Request) (time.Time, error) {
	v := r.URL.Query().Get("as_of")
	if v == "" {
		return s.now().UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

// statusFor maps pipeline errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, provider.ErrUnsupportedSeason):
		return http.StatusBadRequest
	case errors.Is(err, provider.ErrProviderUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, calendar.ErrMalformedRecord), errors.Is(err, calendar.ErrAmbiguousTimestamp):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// logFailure keeps Error for server faults. Client-correctable requests and
// an unreachable provider are logged at Warn.
func logFailure(msg string, err error, season, status int) {
	if status == http.StatusBadRequest || status == http.StatusServiceUnavailable {
		appLog.Warn(msg, "season", season, "status", status, "err", err)
		return
	}
	appLog.Error(msg, err, "season", season, "status", status)
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
