// Package devserver is an in-memory user service speaking the httpapi wire format. It backs local runs
// of outboxd and end-to-end tests; Fail and SetOffline inject the failures the outbox must survive.
package devserver

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"

	"github.com/velmie/mutation-outbox/mutation"
)

// Server stores the last written documents per user.
type Server struct {
	token string

	mu       sync.Mutex
	prefs    map[string]mutation.NotificationPreferences
	profiles map[string]mutation.ProfileUpdate
	writes   int
	offline  bool
	failures []int

	router chi.Router
}

// New returns a server. A non-empty token is required as a bearer token on every request.
func New(token string) *Server {
	s := &Server{
		token:    token,
		prefs:    make(map[string]mutation.NotificationPreferences),
		profiles: make(map[string]mutation.ProfileUpdate),
	}

	r := chi.NewRouter()
	r.Use(s.authorize, s.inject)
	r.Route("/v1/users/{uid}", func(r chi.Router) {
		r.Put("/notification-preferences", s.putPreferences)
		r.Get("/notification-preferences", s.getPreferences)
		r.Put("/profile", s.putProfile)
		r.Get("/profile", s.getProfile)
	})
	s.router = r

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// SetOffline makes every request fail with 503 while offline is true.
func (s *Server) SetOffline(offline bool) {
	s.mu.Lock()
	s.offline = offline
	s.mu.Unlock()
}

// Fail queues status codes returned by the next requests, one per request.
func (s *Server) Fail(statuses ...int) {
	s.mu.Lock()
	s.failures = append(s.failures, statuses...)
	s.mu.Unlock()
}

// Writes returns the number of accepted PUT requests.
func (s *Server) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.writes
}

// Preferences returns the stored preferences of uid.
func (s *Server) Preferences(uid string) (mutation.NotificationPreferences, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.prefs[uid]

	return p, ok
}

// Profile returns the stored profile of uid.
func (s *Server) Profile(uid string) (mutation.ProfileUpdate, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[uid]

	return p, ok
}

func (s *Server) authorize(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.token != "" && r.Header.Get("Authorization") != "Bearer "+s.token {
			writeError(w, http.StatusUnauthorized, "unauthenticated", "missing or invalid bearer token")

			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) inject(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		offline := s.offline
		status := 0
		if !offline && len(s.failures) > 0 {
			status = s.failures[0]
			s.failures = s.failures[1:]
		}
		s.mu.Unlock()

		if offline {
			writeError(w, http.StatusServiceUnavailable, "offline", "service unavailable")

			return
		}
		if status != 0 {
			writeError(w, status, "injected", http.StatusText(status))

			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) putPreferences(w http.ResponseWriter, r *http.Request) {
	var prefs mutation.NotificationPreferences
	if !decode(w, r, &prefs) {
		return
	}
	if err := prefs.Validate(); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid_argument", err.Error())

		return
	}

	s.mu.Lock()
	s.prefs[chi.URLParam(r, "uid")] = prefs
	s.writes++
	s.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) getPreferences(w http.ResponseWriter, r *http.Request) {
	prefs, ok := s.Preferences(chi.URLParam(r, "uid"))
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "no preferences")

		return
	}
	writeJSON(w, http.StatusOK, prefs)
}

func (s *Server) putProfile(w http.ResponseWriter, r *http.Request) {
	var profile mutation.ProfileUpdate
	if !decode(w, r, &profile) {
		return
	}
	if err := profile.Validate(); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid_argument", err.Error())

		return
	}

	s.mu.Lock()
	s.profiles[chi.URLParam(r, "uid")] = profile
	s.writes++
	s.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) getProfile(w http.ResponseWriter, r *http.Request) {
	profile, ok := s.Profile(chi.URLParam(r, "uid"))
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "no profile")

		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func decode(w http.ResponseWriter, r *http.Request, out any) bool {
	if !strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		writeError(w, http.StatusUnsupportedMediaType, "unsupported_media_type", "expected application/json")

		return false
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())

		return false
	}

	return true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"code": code, "message": message})
}
