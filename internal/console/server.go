// Package console serves the JSON API of the fleet console.
package console

import (
	"context"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/grafostech/fleet-console/internal/directory"
	"github.com/grafostech/fleet-console/internal/metrics"
	"github.com/grafostech/fleet-console/internal/session"
)

const (
	sessionCookie  = "fleet_console_session"
	rememberCookie = "fleet_console_remember_email"
)

type sessionKey struct{}

// Server handles HTTP requests for the console
type Server struct {
	directory      *directory.Service
	sessions       *session.Manager
	metrics        *metrics.Metrics
	mux            *http.ServeMux
	allowedOrigins map[string]bool
}

// Option configures a Server
type Option func(*Server)

// WithAllowedOrigins lists the browser origins allowed to make credentialed
// cross-origin requests. Any other origin gets a wildcard without credentials.
func WithAllowedOrigins(origins ...string) Option {
	return func(s *Server) {
		for _, o := range origins {
			if o = strings.TrimRight(strings.TrimSpace(o), "/"); o != "" {
				s.allowedOrigins[o] = true
			}
		}
	}
}

// NewServer creates a new Server with default mux
func NewServer(dir *directory.Service, sessions *session.Manager, m *metrics.Metrics, opts ...Option) *Server {
	return NewServerWithMux(dir, sessions, m, http.NewServeMux(), opts...)
}

// NewServerWithMux creates a new Server with a custom mux for testing
func NewServerWithMux(dir *directory.Service, sessions *session.Manager, m *metrics.Metrics, mux *http.ServeMux, opts ...Option) *Server {
	s := &Server{
		directory:      dir,
		sessions:       sessions,
		metrics:        m,
		mux:            mux,
		allowedOrigins: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.registerRoutes()
	return s
}

// corsMiddleware adds CORS headers to responses
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.setCORSHeaders(w, r)

		// Handle preflight OPTIONS requests
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// setCORSHeaders sets CORS headers on a response. Only allowed origins get
// their origin echoed back with credentials.
func (s *Server) setCORSHeaders(w http.ResponseWriter, r *http.Request) {
	w.Header().Add("Vary", "Origin")
	if origin := r.Header.Get("Origin"); s.allowedOrigins[origin] {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Credentials", "true")
	} else {
		w.Header().Set("Access-Control-Allow-Origin", "*")
	}
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

// sessionToken reads the session cookie, falling back to a bearer token
func sessionToken(r *http.Request) string {
	if c, err := r.Cookie(sessionCookie); err == nil && c.Value != "" {
		return c.Value
	}
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}

// requireSession middleware
func (s *Server) requireSession(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, err := s.sessions.Get(sessionToken(r))
		if err != nil {
			writeError(w, err)
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), sessionKey{}, sess)))
	}
}

// requireAdmin middleware; wraps requireSession
func (s *Server) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return s.requireSession(func(w http.ResponseWriter, r *http.Request) {
		if currentSession(r).User.Role != directory.RoleAdmin {
			writeJSON(w, http.StatusForbidden, errorBody{Error: "Only administrators can manage users."})
			return
		}
		next(w, r)
	})
}

func currentSession(r *http.Request) *session.Session {
	return r.Context().Value(sessionKey{}).(*session.Session)
}

// registerRoutes registers all API routes on the server's mux
func (s *Server) registerRoutes() {
	// Authentication
	s.mux.HandleFunc("POST /api/login", s.handleLogin)
	s.mux.HandleFunc("POST /api/logout", s.handleLogout)
	s.mux.HandleFunc("GET /api/session", s.requireSession(s.handleSession))

	// Directory
	s.mux.HandleFunc("GET /api/vehicles", s.requireSession(s.handleListVehicles))
	s.mux.HandleFunc("POST /api/vehicles", s.requireSession(s.handleCreateVehicle))
	s.mux.HandleFunc("PUT /api/vehicles/{id}", s.requireSession(s.handleUpdateVehicle))
	s.mux.HandleFunc("DELETE /api/vehicles/{id}", s.requireSession(s.handleDeleteVehicle))
	s.mux.HandleFunc("GET /api/users", s.requireSession(s.handleListUsers))
	s.mux.HandleFunc("POST /api/users", s.requireAdmin(s.handleCreateUser))
	s.mux.HandleFunc("PUT /api/users/{id}", s.requireAdmin(s.handleUpdateUser))
	s.mux.HandleFunc("DELETE /api/users/{id}", s.requireAdmin(s.handleDeleteUser))

	// Odometer reading
	s.mux.HandleFunc("GET /api/odometer", s.requireSession(s.handleGetReading))
	s.mux.HandleFunc("POST /api/odometer/image", s.requireSession(s.handleCaptureImage))
	s.mux.HandleFunc("PUT /api/odometer/manual", s.requireSession(s.handleEditManual))
	s.mux.HandleFunc("PUT /api/odometer/vehicle", s.requireSession(s.handleSelectVehicle))
	s.mux.HandleFunc("POST /api/odometer/accept-ai", s.requireSession(s.handleAcceptAI))
	s.mux.HandleFunc("POST /api/odometer/confirm", s.requireSession(s.handleConfirmManual))
	s.mux.HandleFunc("POST /api/odometer/reprocess", s.requireSession(s.handleReprocess))
	s.mux.HandleFunc("POST /api/odometer/reset", s.requireSession(s.handleReset))
	s.mux.HandleFunc("GET /api/history", s.requireSession(s.handleHistory))

	// Fiscal notes
	s.mux.HandleFunc("POST /api/fiscal-notes", s.requireSession(s.handleSubmitFiscalNotes))
	s.mux.HandleFunc("GET /api/fiscal-notes", s.requireSession(s.handleListFiscalNotes))
	s.mux.HandleFunc("DELETE /api/fiscal-notes/{id}", s.requireSession(s.handleRemoveFiscalNote))

	// Uploaded images
	s.mux.HandleFunc("GET /api/images/{ref}", s.requireSession(s.handleGetImage))

	if s.metrics != nil {
		s.mux.Handle("GET /metrics", promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{}))
	}
}

// Handler returns the mux wrapped with CORS handling
func (s *Server) Handler() http.Handler {
	return s.corsMiddleware(s.mux)
}

// ServeHTTP implements http.Handler for testing
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Handler().ServeHTTP(w, r)
}
