// Package http exposes the gate over a small JSON API: issuance, admin
// mutations, status, ledger reads, Prometheus metrics, and a websocket
// decision stream. Admin routes authenticate with a bearer token that maps
// to the gate's administrator identity; everything else is open.
package http

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

type contextKey string

const (
	requestIDKey contextKey = "request_id"
	callerKey    contextKey = "caller"
)

// AnonymousCaller is the identity attached to requests without a valid
// bearer token. It never matches the gate administrator.
const AnonymousCaller = "anonymous"

// Server wires the handlers, middleware, and websocket hub behind one
// gorilla/mux router.
type Server struct {
	router   *mux.Router
	server   *http.Server
	handlers *Handlers
	hub      *Hub
	metrics  *Metrics
	config   ServerConfig
	log      zerolog.Logger
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host         string
	Port         int
	AdminToken   string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DefaultServerConfig returns the local-only defaults, honoring HTTP_PORT.
func DefaultServerConfig() ServerConfig {
	port := 8080
	if portStr := os.Getenv("HTTP_PORT"); portStr != "" {
		if p, err := strconv.Atoi(portStr); err == nil {
			port = p
		}
	}

	return ServerConfig{
		Host:         "127.0.0.1",
		Port:         port,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// NewServer creates the HTTP server. The port is probed up front so a busy
// port fails at construction instead of at Start.
func NewServer(config ServerConfig, handlers *Handlers, hub *Hub, metrics *Metrics, logger zerolog.Logger) (*Server, error) {
	addr := fmt.Sprintf("%s:%d", config.Host, config.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("port %d is busy or unavailable: %w", config.Port, err)
	}
	listener.Close()

	server := &Server{
		router:   mux.NewRouter(),
		handlers: handlers,
		hub:      hub,
		metrics:  metrics,
		config:   config,
		log:      logger,
	}
	server.setupRoutes()

	server.server = &http.Server{
		Addr:         addr,
		Handler:      server.router,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}

	return server, nil
}

// Router returns the configured router, for tests driving it directly.
func (s *Server) Router() http.Handler {
	return s.router
}

// setupRoutes configures middleware and all HTTP routes.
func (s *Server) setupRoutes() {
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.requestLoggingMiddleware)
	s.router.Use(s.callerMiddleware)
	s.router.Use(s.corsMiddleware)

	// Only the /v1 API carries the request timeout and JSON content type;
	// health, metrics and the stream serve from the root router without them.
	api := s.router.PathPrefix("/v1").Subrouter()
	api.Use(s.timeoutMiddleware)
	api.Use(s.jsonContentTypeMiddleware)

	api.HandleFunc("/issue", s.handlers.Issue).Methods("POST")
	api.HandleFunc("/gate", s.handlers.GateConfig).Methods("GET")
	api.HandleFunc("/gate/feed", s.handlers.SetFeed).Methods("PUT")
	api.HandleFunc("/gate/heartbeat", s.handlers.SetHeartbeat).Methods("PUT")
	api.HandleFunc("/status", s.handlers.Status).Methods("GET")
	api.HandleFunc("/decisions", s.handlers.Decisions).Methods("GET")
	api.HandleFunc("/balances/{account}", s.handlers.Balance).Methods("GET")
	api.HandleFunc("/supply", s.handlers.Supply).Methods("GET")

	s.router.HandleFunc("/health", s.handlers.Health).Methods("GET")
	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics.Handler()).Methods("GET")
	}
	if s.hub != nil {
		s.router.HandleFunc("/v1/stream", s.hub.ServeWS)
	}

	s.router.NotFoundHandler = http.HandlerFunc(s.handlers.NotFound)
}

// requestIDMiddleware adds a unique request ID to each request.
func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.New().String()[:8]
		ctx := context.WithValue(r.Context(), requestIDKey, requestID)
		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requestLoggingMiddleware logs every request with its status and duration.
func (s *Server) requestLoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID, _ := r.Context().Value(requestIDKey).(string)

		wrapper := &responseWrapper{ResponseWriter: w, statusCode: 200}
		next.ServeHTTP(wrapper, r)

		duration := time.Since(start)
		if s.metrics != nil {
			s.metrics.ObserveRequest(r.Method, routeTemplate(r), wrapper.statusCode, duration)
		}

		s.log.Info().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", wrapper.statusCode).
			Dur("duration", duration).
			Str("remote", r.RemoteAddr).
			Msg("request")
	})
}

// callerMiddleware resolves the caller identity from the Authorization
// header. A bearer token matching the configured admin token authenticates
// as the gate administrator; anything else is anonymous. Authorization
// itself stays with the gate, which rejects non-admin mutations.
func (s *Server) callerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller := AnonymousCaller
		if token := bearerToken(r); token != "" && s.config.AdminToken != "" && token == s.config.AdminToken {
			caller = s.handlers.AdminIdentity()
		}
		ctx := context.WithValue(r.Context(), callerKey, caller)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// timeoutMiddleware enforces request timeouts on API routes.
func (s *Server) timeoutMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// corsMiddleware adds CORS headers for local development.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if strings.Contains(origin, "localhost") || strings.Contains(origin, "127.0.0.1") {
			w.Header().Set("Access-Control-Allow-Origin", origin)
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// jsonContentTypeMiddleware sets the JSON content type for API responses.
func (s *Server) jsonContentTypeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	s.log.Info().
		Str("host", s.config.Host).
		Int("port", s.config.Port).
		Msg("starting HTTP server")

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// Address returns the host:port the server binds to.
func (s *Server) Address() string {
	return fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
}

// bearerToken extracts the token from an "Authorization: Bearer x" header.
func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) {
		return ""
	}
	return strings.TrimSpace(auth[len(prefix):])
}

// routeTemplate returns the mux route template ("/v1/balances/{account}")
// so metric labels stay bounded, falling back to the raw path.
func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return r.URL.Path
}

// CallerFrom returns the caller identity the auth middleware resolved.
func CallerFrom(ctx context.Context) string {
	if caller, ok := ctx.Value(callerKey).(string); ok && caller != "" {
		return caller
	}
	return AnonymousCaller
}

// RequestIDFrom returns the request ID assigned by the middleware.
func RequestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// responseWrapper captures HTTP status codes for logging and metrics. It
// forwards Hijack so the websocket upgrade still works behind it.
type responseWrapper struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWrapper) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWrapper) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return h.Hijack()
}
