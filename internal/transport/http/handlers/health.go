package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"
)

const defaultReadinessTimeout = 2 * time.Second

// ReadinessCheck reports whether a dependency can serve traffic.
type ReadinessCheck func(ctx context.Context) error

// HealthOption configures HealthHandler.
type HealthOption func(*HealthHandler)

// WithReadinessCheck adds a named dependency to /readyz.
func WithReadinessCheck(name string, check ReadinessCheck) HealthOption {
	return func(h *HealthHandler) {
		if check != nil {
			h.checks[name] = check
		}
	}
}

// WithReadinessTimeout bounds the whole readiness probe.
func WithReadinessTimeout(timeout time.Duration) HealthOption {
	return func(h *HealthHandler) {
		if timeout > 0 {
			h.timeout = timeout
		}
	}
}

// HealthHandler exposes liveness and readiness information.
type HealthHandler struct {
	startedAt time.Time
	checks    map[string]ReadinessCheck
	timeout   time.Duration
}

// NewHealthHandler builds a new health handler instance.
func NewHealthHandler(opts ...HealthOption) *HealthHandler {
	h := &HealthHandler{
		startedAt: time.Now().UTC(),
		checks:    make(map[string]ReadinessCheck),
		timeout:   defaultReadinessTimeout,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Status godoc
// @Summary Service health check
// @Description Returns the status and start time of the service.
// @Tags Health
// @Produce json
// @Success 200 {object} HealthResponse
// @Router /healthz [get]
func (h *HealthHandler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:    "ok",
		StartedAt: h.startedAt,
		Timestamp: time.Now().UTC(),
	})
}

// Readiness godoc
// @Summary Service readiness check
// @Description Runs every dependency check concurrently. Any failure answers 503.
// @Tags Health
// @Produce json
// @Success 200 {object} ReadyResponse
// @Failure 503 {object} ReadyResponse
// @Router /readyz [get]
func (h *HealthHandler) Readiness(c *gin.Context) {
	results, ready := h.Check(c.Request.Context())

	status, code := "ready", http.StatusOK
	if !ready {
		status, code = "unavailable", http.StatusServiceUnavailable
	}
	c.JSON(code, ReadyResponse{Status: status, Checks: results, Timestamp: time.Now().UTC()})
}

// Check runs all readiness checks and reports per-dependency results.
func (h *HealthHandler) Check(ctx context.Context) (map[string]string, bool) {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	outcomes := make([]error, len(names))

	var g errgroup.Group
	for i, name := range names {
		check := h.checks[name]
		g.Go(func() error {
			outcomes[i] = check(ctx)
			return nil
		})
	}
	_ = g.Wait()

	results := make(map[string]string, len(names))
	ready := true
	for i, name := range names {
		if outcomes[i] != nil {
			results[name] = "unavailable"
			ready = false
			continue
		}
		results[name] = "ok"
	}
	return results, ready
}
