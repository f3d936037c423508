package health

import (
	"context"
	"time"

	"github.com/Kocoro-lab/Shannon/go/multiagent/internal/circuitbreaker"
	"github.com/Kocoro-lab/Shannon/go/multiagent/internal/db"
	"github.com/Kocoro-lab/Shannon/go/multiagent/internal/vectordb"
)

// slowThreshold marks a responding dependency as degraded
const slowThreshold = 100 * time.Millisecond

const defaultTimeout = 5 * time.Second

// Pinger is a dependency that can be pinged
type Pinger interface {
	Ping(ctx context.Context) error
}

// BreakerState reports whether a circuit breaker currently rejects calls
type BreakerState interface {
	IsCircuitBreakerOpen() bool
}

// PingChecker checks a dependency by pinging it, short-circuiting on an open breaker
type PingChecker struct {
	name     string
	label    string
	critical bool
	timeout  time.Duration
	target   Pinger
	breaker  BreakerState
	details  func() map[string]interface{}
}

// NewPingChecker creates a checker for target. breaker may be nil.
func NewPingChecker(name, label string, critical bool, target Pinger, breaker BreakerState) *PingChecker {
	return &PingChecker{
		name:     name,
		label:    label,
		critical: critical,
		timeout:  defaultTimeout,
		target:   target,
		breaker:  breaker,
	}
}

// WithTimeout overrides the check timeout
func (p *PingChecker) WithTimeout(d time.Duration) *PingChecker {
	if d > 0 {
		p.timeout = d
	}
	return p
}

func (p *PingChecker) Name() string           { return p.name }
func (p *PingChecker) IsCritical() bool       { return p.critical }
func (p *PingChecker) Timeout() time.Duration { return p.timeout }

func (p *PingChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{Component: p.name, Critical: p.critical, Timestamp: start}

	if p.breaker != nil && p.breaker.IsCircuitBreakerOpen() {
		result.Status = StatusUnhealthy
		result.Error = "circuit breaker open"
		result.Message = p.label + " circuit breaker is open"
		result.Duration = time.Since(start)
		return result
	}

	err := p.target.Ping(ctx)
	result.Duration = time.Since(start)
	if err != nil {
		result.Status = StatusUnhealthy
		result.Error = err.Error()
		result.Message = p.label + " ping failed"
		result.Details = map[string]interface{}{"latency_ms": result.Duration.Milliseconds()}
		return result
	}

	if result.Duration > slowThreshold {
		result.Status = StatusDegraded
		result.Message = p.label + " responding but with high latency"
	} else {
		result.Status = StatusHealthy
		result.Message = p.label + " healthy"
	}
	result.Details = map[string]interface{}{
		"latency_ms":           result.Duration.Milliseconds(),
		"circuit_breaker_open": false,
	}
	if p.details != nil {
		for k, v := range p.details() {
			result.Details[k] = v
		}
	}
	return result
}

type redisPinger struct{ w *circuitbreaker.RedisWrapper }

func (r redisPinger) Ping(ctx context.Context) error { return r.w.Ping(ctx).Err() }

// NewRedisHealthChecker checks the history and embedding cache
func NewRedisHealthChecker(w *circuitbreaker.RedisWrapper) *PingChecker {
	return NewPingChecker("redis", "Redis", true, redisPinger{w}, w)
}

// NewDatabaseHealthChecker checks the relational store and reports pool stats
func NewDatabaseHealthChecker(c *db.Client) *PingChecker {
	p := NewPingChecker("database", "Database", true, c, c.Wrapper())
	p.details = func() map[string]interface{} {
		stats := c.Wrapper().GetDB().Stats()
		return map[string]interface{}{
			"open_connections":     stats.OpenConnections,
			"max_open_connections": stats.MaxOpenConnections,
			"idle_connections":     stats.Idle,
			"in_use_connections":   stats.InUse,
		}
	}
	return p
}

// NewQdrantHealthChecker checks the vector store
func NewQdrantHealthChecker(c *vectordb.Client) *PingChecker {
	return NewPingChecker("qdrant", "Qdrant", true, c, c)
}

// CustomHealthChecker allows for custom health check logic
type CustomHealthChecker struct {
	name     string
	critical bool
	timeout  time.Duration
	checkFn  func(ctx context.Context) CheckResult
}

// NewCustomHealthChecker creates a custom health checker
func NewCustomHealthChecker(name string, critical bool, timeout time.Duration, checkFn func(ctx context.Context) CheckResult) *CustomHealthChecker {
	return &CustomHealthChecker{name: name, critical: critical, timeout: timeout, checkFn: checkFn}
}

func (c *CustomHealthChecker) Name() string           { return c.name }
func (c *CustomHealthChecker) IsCritical() bool       { return c.critical }
func (c *CustomHealthChecker) Timeout() time.Duration { return c.timeout }

func (c *CustomHealthChecker) Check(ctx context.Context) CheckResult {
	return c.checkFn(ctx)
}
