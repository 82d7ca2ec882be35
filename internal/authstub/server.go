// Package authstub is a development authority: it answers ping, version and
// app-key requests the way the production authority does, from in-memory
// state.
package authstub

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"fieldid/internal/authority"
	"fieldid/internal/health"
	"fieldid/internal/logging"
	"fieldid/internal/metrics"
	"fieldid/internal/security"
)

const maxBodyBytes = 16 * 1024

// Key states.
type keyState struct {
	deviceID string
	revoked  bool
}

// Config configures a Server.
type Config struct {
	Version string
	// Secret enables bearer token checks when set.
	Secret string
	Keys   []string
	// KeyRate and KeyBurst bound key-use requests per client address.
	KeyRate  float64
	KeyBurst int
}

// Server holds the stub's state.
type Server struct {
	mu          sync.Mutex
	version     string
	keys        map[string]*keyState
	maintenance bool

	token   authority.TokenConfig
	limiter *security.KeyedRateLimiter
	health  *health.Checker
	metrics *metrics.Registry
	logger  *logging.Logger
}

func New(cfg Config, logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.Discard()
	}
	if cfg.KeyRate <= 0 {
		cfg.KeyRate = 1
	}
	if cfg.KeyBurst <= 0 {
		cfg.KeyBurst = 5
	}
	s := &Server{
		version: cfg.Version,
		keys:    make(map[string]*keyState),
		token:   authority.DefaultTokenConfig(cfg.Secret),
		limiter: security.NewKeyedRateLimiter(cfg.KeyRate, cfg.KeyBurst, 10*time.Minute),
		health:  health.NewChecker(),
		metrics: metrics.NewRegistry(metrics.Namespace + "_authority"),
		logger:  logger.WithComponent("authstub"),
	}
	for _, k := range cfg.Keys {
		s.keys[k] = &keyState{}
	}
	s.health.Register("maintenance", true, s.checkMaintenance)
	s.health.Register("keys", false, s.checkKeys)
	return s
}

func (s *Server) checkMaintenance(ctx context.Context) health.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.maintenance {
		return health.Result{Status: health.StatusUnhealthy, Message: "maintenance mode"}
	}
	return health.Result{Status: health.StatusHealthy}
}

// checkKeys degrades the service when no key can be used.
func (s *Server) checkKeys(ctx context.Context) health.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	usable := 0
	for _, k := range s.keys {
		if !k.revoked {
			usable++
		}
	}
	if usable == 0 {
		return health.Result{Status: health.StatusDegraded, Message: "no usable app keys"}
	}
	return health.Result{Status: health.StatusHealthy, Message: fmt.Sprintf("%d usable app keys", usable)}
}

// Close stops background work.
func (s *Server) Close() {
	s.limiter.Stop()
}

// AddKey issues a fresh key.
func (s *Server) AddKey(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[key] = &keyState{}
}

// RevokeKey marks key as no longer usable.
func (s *Server) RevokeKey(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.keys[key]
	if ok {
		k.revoked = true
	}
	return ok
}

// BoundDevice returns the device a key was first used by.
func (s *Server) BoundDevice(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.keys[key]
	if !ok || k.deviceID == "" {
		return "", false
	}
	return k.deviceID, true
}

func (s *Server) SetVersion(v string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.version = v
}

// SetMaintenance makes ping report 503 in its body.
func (s *Server) SetMaintenance(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.maintenance = on
}

// Router returns the HTTP routes.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.logRequests)
	r.Handle(authority.PathPing, s.authenticate(http.HandlerFunc(s.handlePing))).Methods(http.MethodGet)
	r.Handle(authority.PathVersion, s.authenticate(http.HandlerFunc(s.handleVersion))).Methods(http.MethodGet)
	r.Handle(authority.PathUseKey, s.authenticate(http.HandlerFunc(s.handleUseKey))).Methods(http.MethodPost)
	r.Handle("/health", s.health.LivenessHandler()).Methods(http.MethodGet)
	r.Handle("/ready", s.health.ReadinessHandler()).Methods(http.MethodGet)
	r.Handle("/metrics", s.metrics.HTTPHandler()).Methods(http.MethodGet)
	return r
}

// Metrics returns the stub's request metrics.
func (s *Server) Metrics() *metrics.Registry {
	return s.metrics
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)
		elapsed := time.Since(start)

		route := r.URL.Path
		if cur := mux.CurrentRoute(r); cur != nil {
			if tmpl, err := cur.GetPathTemplate(); err == nil {
				route = tmpl
			}
		}
		labels := metrics.Labels{"route": route, "code": strconv.Itoa(sw.code)}
		s.metrics.Counter("requests_total", "Requests served, by route and HTTP status.", labels).Inc()
		s.metrics.Histogram("request_duration_seconds", "Request latency, by route.",
			metrics.Labels{"route": route}, nil).ObserveDuration(elapsed)

		s.logger.Debug("request", "method", r.Method, "path", r.URL.Path, "status", sw.code, "duration", elapsed)
	})
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.token.Secret == "" {
			next.ServeHTTP(w, r)
			return
		}
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok {
			http.Error(w, `{"error":"missing bearer token"}`, http.StatusUnauthorized)
			return
		}
		if _, err := authority.VerifyToken(token, s.token); err != nil {
			s.logger.Info("rejected token", "error", err)
			http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	json.NewEncoder(w).Encode(v)
}

type statusBody struct {
	StatusCode int    `json:"StatusCode"`
	Message    string `json:"message,omitempty"`
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	down := s.maintenance
	s.mu.Unlock()
	if down {
		writeJSON(w, statusBody{StatusCode: http.StatusServiceUnavailable, Message: "maintenance"})
		return
	}
	writeJSON(w, statusBody{StatusCode: http.StatusOK})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	v := s.version
	s.mu.Unlock()

	data := map[string]string{}
	if v != "" {
		data["version"] = v
	}
	writeJSON(w, map[string]any{"data": data})
}

func (s *Server) handleUseKey(w http.ResponseWriter, r *http.Request) {
	if !s.limiter.Allow(clientAddr(r)) {
		http.Error(w, `{"error":"rate limited"}`, http.StatusTooManyRequests)
		return
	}

	var req authority.KeyUse
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeJSON(w, statusBody{StatusCode: http.StatusBadRequest, Message: "invalid request"})
		return
	}
	writeJSON(w, s.useKey(req))
}

// useKey binds a fresh key to the requesting device. A bound key keeps
// working for that device only.
func (s *Server) useKey(req authority.KeyUse) statusBody {
	if req.AppKey == "" || req.DeviceID == "" {
		return statusBody{StatusCode: http.StatusBadRequest, Message: "app_key and device_id are required"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	k, ok := s.keys[req.AppKey]
	switch {
	case !ok:
		return statusBody{StatusCode: http.StatusInternalServerError, Message: "key cannot be verified"}
	case k.revoked:
		return statusBody{StatusCode: http.StatusForbidden, Message: "key revoked"}
	case k.deviceID == "":
		k.deviceID = req.DeviceID
		s.metrics.Gauge("keys_bound", "App keys bound to a device.", nil).Inc()
		s.logger.Info("key bound", "device_id", req.DeviceID, "device_name", req.DeviceName)
		return statusBody{StatusCode: http.StatusCreated}
	case !security.SecureCompare([]byte(k.deviceID), []byte(req.DeviceID)):
		return statusBody{StatusCode: http.StatusMethodNotAllowed, Message: "key bound to another device"}
	default:
		return statusBody{StatusCode: http.StatusOK}
	}
}

func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
