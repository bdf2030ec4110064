package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"daybook/internal/agenda"
	"daybook/internal/config"
	appLog "daybook/internal/log"
	"daybook/internal/model"
)

const (
	defaultDays = 7
	maxDays     = 366
	// memoLimit bounds the response memo; it is cleared when full.
	memoLimit = 256
)

// Server exposes the agenda as a read-mostly JSON API.
type Server struct {
	cfg    *config.Config
	agenda *agenda.Service
	now    func() time.Time
	router chi.Router

	memoMu sync.Mutex
	memo   map[string]memoEntry
}

// memoEntry is a rendered response valid for one snapshot version.
type memoEntry struct {
	version uint64
	body    []byte
}

type Option func(*Server)

// WithClock replaces time.Now for everything that depends on "today".
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

func NewServer(cfg *config.Config, svc *agenda.Service, opts ...Option) *Server {
	s := &Server{
		cfg:    cfg,
		agenda: svc,
		now:    time.Now,
		memo:   make(map[string]memoEntry),
	}
	for _, o := range opts {
		o(s)
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(requestLogger)

	r.Get("/health", s.handleHealth)

	r.Group(func(r chi.Router) {
		if s.basicAuthEnabled() {
			appLog.Info("HTTP basic auth enabled")
			r.Use(s.basicAuth)
		}
		r.Route("/api", func(r chi.Router) {
			r.Get("/events", s.handleEvents)
			r.Get("/layout/day", s.handleDayLayout)
			r.Get("/layout/week", s.handleWeekLayout)
			r.Get("/upcoming/events", s.handleUpcomingEvents)
			r.Get("/upcoming/payments", s.handleUpcomingPayments)
			r.Post("/refresh", s.handleRefresh)
		})
	})

	s.router = r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		appLog.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"elapsed", time.Since(start).String(),
			"request_id", chimiddleware.GetReqID(r.Context()),
		)
	})
}

func (s *Server) basicAuthEnabled() bool {
	return s.cfg != nil && s.cfg.BasicAuth != nil &&
		s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

func (s *Server) basicAuth(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="daybook", charset="UTF-8"`)
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func secureCompare(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// Serve runs the HTTP server until ctx is cancelled, then shuts it down
// gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if s.agenda.Snapshot() == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("starting\n"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

type eventsResponse struct {
	From        time.Time     `json:"from"`
	To          time.Time     `json:"to"`
	TimeZone    string        `json:"timezone"`
	Occurrences []model.Event `json:"occurrences"`
}

// GET /api/events?from=2024-05-13&days=7
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, err := s.dateParam(q.Get("from"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "from: "+err.Error())
		return
	}
	days, err := intParam(q.Get("days"), defaultDays, 1, maxDays)
	if err != nil {
		writeError(w, http.StatusBadRequest, "days: "+err.Error())
		return
	}

	key := "events|" + model.DateKey(from) + "|" + strconv.Itoa(days)
	s.respond(w, key, func() (any, error) {
		to := from.AddDate(0, 0, days).Add(-time.Nanosecond)
		occ, err := s.agenda.Occurrences(from, to)
		if err != nil {
			return nil, err
		}
		if occ == nil {
			occ = []model.Event{}
		}
		return eventsResponse{
			From:        from,
			To:          to,
			TimeZone:    s.agenda.Location().String(),
			Occurrences: occ,
		}, nil
	})
}

// GET /api/layout/day?date=2024-05-13
func (s *Server) handleDayLayout(w http.ResponseWriter, r *http.Request) {
	date, err := s.dateParam(r.URL.Query().Get("date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "date: "+err.Error())
		return
	}
	s.respond(w, "day|"+model.DateKey(date), func() (any, error) {
		slots, err := s.agenda.DayLayout(date)
		if err != nil {
			return nil, err
		}
		return map[string]any{"date": model.DateKey(date), "slots": slots}, nil
	})
}

// GET /api/layout/week?start=2024-05-13
func (s *Server) handleWeekLayout(w http.ResponseWriter, r *http.Request) {
	date, err := s.dateParam(r.URL.Query().Get("start"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "start: "+err.Error())
		return
	}
	weekStart := s.agenda.Calendar().StartOfWeek(date)
	s.respond(w, "week|"+model.DateKey(weekStart), func() (any, error) {
		return s.agenda.WeekLayout(weekStart)
	})
}

func (s *Server) handleUpcomingEvents(w http.ResponseWriter, _ *http.Request) {
	now := s.now()
	s.respond(w, "upcoming-events|"+s.dayKey(now), func() (any, error) {
		return s.agenda.UpcomingEvents(now)
	})
}

func (s *Server) handleUpcomingPayments(w http.ResponseWriter, _ *http.Request) {
	now := s.now()
	s.respond(w, "upcoming-payments|"+s.dayKey(now), func() (any, error) {
		return s.agenda.UpcomingPayments(now)
	})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	snap, err := s.agenda.Refresh(r.Context())
	if err != nil {
		appLog.Error("api refresh failed", err)
		writeError(w, http.StatusInternalServerError, "refresh failed")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// respond serves key from the memo when it was rendered for the current
// snapshot, otherwise renders it with build.
func (s *Server) respond(w http.ResponseWriter, key string, build func() (any, error)) {
	snap := s.agenda.Snapshot()
	if snap == nil {
		writeError(w, http.StatusServiceUnavailable, agenda.ErrNotReady.Error())
		return
	}

	s.memoMu.Lock()
	e, ok := s.memo[key]
	s.memoMu.Unlock()
	if ok && e.version == snap.Version {
		writeRaw(w, http.StatusOK, e.body)
		return
	}

	v, err := build()
	if err != nil {
		s.writeAgendaError(w, err)
		return
	}
	body, err := json.Marshal(v)
	if err != nil {
		appLog.Error("failed to encode response", err, "key", key)
		writeError(w, http.StatusInternalServerError, "encode failed")
		return
	}

	s.memoMu.Lock()
	if len(s.memo) >= memoLimit {
		clear(s.memo)
	}
	s.memo[key] = memoEntry{version: snap.Version, body: body}
	s.memoMu.Unlock()

	writeRaw(w, http.StatusOK, body)
}

func (s *Server) writeAgendaError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, agenda.ErrNotReady):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case model.IsValidation(err):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		appLog.Error("api request failed", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// dateParam parses an ISO date in the display timezone; empty means today.
func (s *Server) dateParam(v string) (time.Time, error) {
	if v == "" {
		return s.agenda.Calendar().StartOfDay(s.now()), nil
	}
	return model.ParseDate(v, s.agenda.Location())
}

func (s *Server) dayKey(t time.Time) string {
	return model.DateKey(s.agenda.Calendar().StartOfDay(t))
}

func intParam(v string, def, lo, hi int) (int, error) {
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, errors.New("not a number")
	}
	if n < lo || n > hi {
		return 0, errors.New("out of range " + strconv.Itoa(lo) + ".." + strconv.Itoa(hi))
	}
	return n, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		appLog.Error("failed to write JSON response", err)
		status = http.StatusInternalServerError
		body = []byte(`{"error":"encode failed"}`)
	}
	writeRaw(w, status, body)
}

func writeRaw(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, struct {
		Error string `json:"error"`
	}{Error: msg})
}
