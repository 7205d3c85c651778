package session

import (
	"crypto/subtle"
	"encoding/base64"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server handles HTTP requests for bill sessions.
type Server struct {
	service   *Service
	basicAuth BasicAuth
	gatherer  prometheus.Gatherer
	mux       *http.ServeMux
}

// BasicAuth holds basic authentication credentials.
type BasicAuth struct {
	Username string
	Password string
}

// NewServer creates a Server with a new mux. Metrics are served from
// gatherer; a nil gatherer disables /metrics.
func NewServer(service *Service, basicAuth BasicAuth, gatherer prometheus.Gatherer) *Server {
	return NewServerWithMux(service, basicAuth, gatherer, http.NewServeMux())
}

// NewServerWithMux creates a Server with a custom mux for testing.
func NewServerWithMux(service *Service, basicAuth BasicAuth, gatherer prometheus.Gatherer, mux *http.ServeMux) *Server {
	s := &Server{
		service:   service,
		basicAuth: basicAuth,
		gatherer:  gatherer,
		mux:       mux,
	}
	s.registerRoutes()
	return s
}

// authenticate checks basic auth credentials.
func (s *Server) authenticate(r *http.Request) bool {
	if s.basicAuth.Username == "" && s.basicAuth.Password == "" {
		return true
	}

	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Basic ") {
		return false
	}

	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(auth, "Basic "))
	if err != nil {
		return false
	}

	user, pass, ok := strings.Cut(string(decoded), ":")
	if !ok {
		return false
	}

	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(s.basicAuth.Username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(s.basicAuth.Password)) == 1
	return userOK && passOK
}

// corsMiddleware adds CORS headers and answers preflight requests.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setCORSHeaders(w)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.authenticate(r) {
			setCORSHeaders(w)
			w.Header().Set("WWW-Authenticate", `Basic realm="Split Bill"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

// setCORSHeaders sets CORS headers on a response.
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

// registerRoutes registers all routes on the server's mux.
func (s *Server) registerRoutes() {
	const base = "/api/sessions/{id}"

	s.mux.HandleFunc("POST /api/sessions", s.requireAuth(s.handleCreate))
	s.mux.HandleFunc("GET "+base, s.requireAuth(s.handleGet))
	s.mux.HandleFunc("DELETE "+base, s.requireAuth(s.handleReset))

	// Receipt image and scanning
	s.mux.HandleFunc("POST "+base+"/image", s.requireAuth(s.handleUploadImage))
	s.mux.HandleFunc("GET "+base+"/image", s.requireAuth(s.handleGetImage))
	s.mux.HandleFunc("DELETE "+base+"/image", s.requireAuth(s.handleDeleteImage))
	s.mux.HandleFunc("POST "+base+"/scan", s.requireAuth(s.handleScan))
	s.mux.HandleFunc("POST "+base+"/skip", s.requireAuth(s.handleSkip))

	// Items
	s.mux.HandleFunc("POST "+base+"/items", s.requireAuth(s.handleAddItem))
	s.mux.HandleFunc("PATCH "+base+"/items/{itemID}", s.requireAuth(s.handleUpdateItem))
	s.mux.HandleFunc("DELETE "+base+"/items/{itemID}", s.requireAuth(s.handleRemoveItem))
	s.mux.HandleFunc("POST "+base+"/items/{itemID}/duplicate", s.requireAuth(s.handleDuplicateItem))

	// People
	s.mux.HandleFunc("POST "+base+"/people", s.requireAuth(s.handleAddPerson))
	s.mux.HandleFunc("DELETE "+base+"/people/{personID}", s.requireAuth(s.handleRemovePerson))

	// Assignments
	s.mux.HandleFunc("PUT "+base+"/assignments/{itemID}", s.requireAuth(s.handleSetAssignment))
	s.mux.HandleFunc("POST "+base+"/assignments/{itemID}/all", s.requireAuth(s.handleAssignAll))
	s.mux.HandleFunc("POST "+base+"/assignments/{itemID}/none", s.requireAuth(s.handleAssignNone))
	s.mux.HandleFunc("POST "+base+"/assignments/{itemID}/toggle/{personID}", s.requireAuth(s.handleToggle))

	// Wizard
	s.mux.HandleFunc("POST "+base+"/next", s.requireAuth(s.handleNext))
	s.mux.HandleFunc("POST "+base+"/back", s.requireAuth(s.handleBack))
	s.mux.HandleFunc("PUT "+base+"/step", s.requireAuth(s.handleGoTo))

	// Results
	s.mux.HandleFunc("GET "+base+"/summary", s.requireAuth(s.handleSummary))
	s.mux.HandleFunc("GET "+base+"/export", s.requireAuth(s.handleExport))

	if s.gatherer != nil {
		s.mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	s.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

// Handler returns the mux wrapped with CORS handling.
func (s *Server) Handler() http.Handler {
	return s.corsMiddleware(s.mux)
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Handler().ServeHTTP(w, r)
}
