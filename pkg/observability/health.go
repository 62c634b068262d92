package observability

import (
	"context"
	"database/sql"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// HealthStatus represents the overall health status
type HealthStatus struct {
	Status       string                      `json:"status"`
	Timestamp    time.Time                   `json:"timestamp"`
	Version      string                      `json:"version,omitempty"`
	Dependencies map[string]DependencyStatus `json:"dependencies,omitempty"`
}

// DependencyStatus represents the health of a single dependency
type DependencyStatus struct {
	Status    string        `json:"status"`
	Message   string        `json:"message,omitempty"`
	Latency   time.Duration `json:"latency_ms,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// HealthChecker probes the dependencies of the REST frontend. The user
// database and the upstream daemon are required; redis only backs the login
// rate limiter, so losing it degrades the service without failing readiness.
type HealthChecker struct {
	db       *sql.DB
	redis    *redis.Client
	upstream string
	version  string
	dialer   net.Dialer
}

// HealthOption configures a HealthChecker
type HealthOption func(*HealthChecker)

// WithDatabase checks the SQL user directory
func WithDatabase(db *sql.DB) HealthOption {
	return func(h *HealthChecker) {
		h.db = db
	}
}

// WithRedis checks the distributed rate limiter store
func WithRedis(client *redis.Client) HealthOption {
	return func(h *HealthChecker) {
		h.redis = client
	}
}

// WithUpstream checks that the upstream daemon accepts TCP connections
func WithUpstream(address string) HealthOption {
	return func(h *HealthChecker) {
		h.upstream = address
	}
}

// WithVersion reports version in every status
func WithVersion(version string) HealthOption {
	return func(h *HealthChecker) {
		h.version = version
	}
}

// NewHealthChecker creates a health checker. Dependencies that are not
// configured are not reported.
func NewHealthChecker(opts ...HealthOption) *HealthChecker {
	h := &HealthChecker{}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Liveness always returns 200 while the process serves HTTP
func (h *HealthChecker) Liveness(w http.ResponseWriter, r *http.Request) {
	writeHealth(w, http.StatusOK, map[string]interface{}{
		"status":    StatusHealthy,
		"timestamp": time.Now(),
	})
}

// Readiness returns 503 when a required dependency is down, 200 otherwise
func (h *HealthChecker) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := h.Check(ctx)

	code := http.StatusOK
	if status.Status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	writeHealth(w, code, status)
}

func writeHealth(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// Check probes every configured dependency
func (h *HealthChecker) Check(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Status:       StatusHealthy,
		Timestamp:    time.Now(),
		Version:      h.version,
		Dependencies: make(map[string]DependencyStatus),
	}

	required := func(name string, dep DependencyStatus) {
		status.Dependencies[name] = dep
		if dep.Status == StatusUnhealthy {
			status.Status = StatusUnhealthy
		}
	}

	if h.db != nil {
		required("database", h.checkDatabase(ctx))
	}
	if h.upstream != "" {
		required("upstream", h.checkUpstream(ctx))
	}
	if h.redis != nil {
		dep := h.checkRedis(ctx)
		status.Dependencies["redis"] = dep
		if dep.Status != StatusHealthy && status.Status == StatusHealthy {
			status.Status = StatusDegraded
		}
	}

	return status
}

func (h *HealthChecker) checkDatabase(ctx context.Context) DependencyStatus {
	start := time.Now()

	if err := h.db.PingContext(ctx); err != nil {
		return unhealthy(start, "database ping failed: "+err.Error())
	}

	var one int
	if err := h.db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return unhealthy(start, "database query failed: "+err.Error())
	}

	dep := healthy(start)
	stats := h.db.Stats()
	if stats.MaxOpenConnections > 0 && stats.OpenConnections >= stats.MaxOpenConnections {
		dep.Status = StatusDegraded
		dep.Message = "connection pool exhausted"
	}
	return dep
}

func (h *HealthChecker) checkRedis(ctx context.Context) DependencyStatus {
	start := time.Now()
	if err := h.redis.Ping(ctx).Err(); err != nil {
		return unhealthy(start, "redis ping failed: "+err.Error())
	}
	return healthy(start)
}

func (h *HealthChecker) checkUpstream(ctx context.Context) DependencyStatus {
	start := time.Now()
	conn, err := h.dialer.DialContext(ctx, "tcp", h.upstream)
	if err != nil {
		return unhealthy(start, "upstream unreachable: "+err.Error())
	}
	_ = conn.Close()
	return healthy(start)
}

func healthy(start time.Time) DependencyStatus {
	return DependencyStatus{
		Status:    StatusHealthy,
		Latency:   time.Since(start),
		Timestamp: time.Now(),
	}
}

func unhealthy(start time.Time, message string) DependencyStatus {
	return DependencyStatus{
		Status:    StatusUnhealthy,
		Message:   message,
		Latency:   time.Since(start),
		Timestamp: time.Now(),
	}
}

// RegisterHealthRoutes mounts the probes on mux
func RegisterHealthRoutes(mux *http.ServeMux, checker *HealthChecker) {
	mux.HandleFunc("/health", checker.Readiness)
	mux.HandleFunc("/health/live", checker.Liveness)
	mux.HandleFunc("/health/ready", checker.Readiness)
}
