package core

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5"
)

// healthCheckTimeout bounds all probes together. A probe still running when it
// expires is reported as timed out and the endpoint answers 503.
const healthCheckTimeout = 2 * time.Second

const (
	healthServiceName = "sms-status-webhook"
	statusHealthy     = "healthy"
	statusUnhealthy   = "unhealthy"
)

// HealthProbe checks one dependency of the webhook.
type HealthProbe interface {
	Name() string
	Check(ctx context.Context) error
}

// Pinger is satisfied by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RowQuerier is satisfied by *pgxpool.Pool and pgx.Tx.
type RowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// DatabaseProbe reports the document store as healthy when a ping succeeds.
type DatabaseProbe struct {
	DB Pinger
}

// Name implements HealthProbe.
func (DatabaseProbe) Name() string { return "database" }

// Check implements HealthProbe.
func (p DatabaseProbe) Check(ctx context.Context) error {
	if err := p.DB.Ping(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	return nil
}

// QueueTableProbe fails when the queue table the callbacks write to does not
// exist, which is how an unmigrated database shows up.
type QueueTableProbe struct {
	DB    RowQuerier
	Table string
}

// Name implements HealthProbe.
func (QueueTableProbe) Name() string { return "queue_table" }

// Check implements HealthProbe.
func (p QueueTableProbe) Check(ctx context.Context) error {
	var exists bool
	if err := p.DB.QueryRow(ctx, `SELECT to_regclass($1) IS NOT NULL`, p.Table).Scan(&exists); err != nil {
		return fmt.Errorf("looking up table %s: %w", p.Table, err)
	}
	if !exists {
		return fmt.Errorf("table %s does not exist; run the schema migration", p.Table)
	}
	return nil
}

type componentHealth struct {
	Status    string `json:"status"`
	Message   string `json:"message,omitempty"`
	LatencyMS int64  `json:"latency_ms"`
}

type healthReport struct {
	Status      string                     `json:"status"`
	Service     string                     `json:"service"`
	Environment string                     `json:"environment"`
	CheckedAt   time.Time                  `json:"checked_at"`
	Components  map[string]componentHealth `json:"components,omitempty"`
}

// HandleHealth answers 200 when every probe passes within healthCheckTimeout
// and 503 otherwise.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	report := s.checkHealth(r.Context())
	status := http.StatusOK
	if report.Status != statusHealthy {
		status = http.StatusServiceUnavailable
	}
	JSON(w, r, status, report)
}

// checkHealth starts every probe at once; each reports on its own buffered
// channel so a probe that outlives the deadline never blocks.
func (s *Server) checkHealth(parent context.Context) healthReport {
	ctx, cancel := context.WithTimeout(parent, healthCheckTimeout)
	defer cancel()

	report := healthReport{
		Status:      statusHealthy,
		Service:     healthServiceName,
		Environment: s.Config.Environment,
		CheckedAt:   time.Now().UTC(),
	}
	if len(s.HealthProbes) == 0 {
		return report
	}

	pending := make([]chan componentHealth, len(s.HealthProbes))
	for i, probe := range s.HealthProbes {
		pending[i] = make(chan componentHealth, 1)
		go func() { pending[i] <- runProbe(ctx, probe) }()
	}

	report.Components = make(map[string]componentHealth, len(s.HealthProbes))
	for i, probe := range s.HealthProbes {
		c := awaitProbe(ctx, pending[i])
		if c.Status != statusHealthy {
			report.Status = statusUnhealthy
		}
		report.Components[probe.Name()] = c
	}
	return report
}

// awaitProbe prefers a result that is already in over the expired deadline.
func awaitProbe(ctx context.Context, ch <-chan componentHealth) componentHealth {
	select {
	case c := <-ch:
		return c
	default:
	}
	select {
	case c := <-ch:
		return c
	case <-ctx.Done():
		return componentHealth{Status: statusUnhealthy, Message: "health check timed out"}
	}
}

func runProbe(ctx context.Context, probe HealthProbe) (c componentHealth) {
	start := time.Now()
	defer func() {
		if rvr := recover(); rvr != nil {
			c = componentHealth{Status: statusUnhealthy, Message: fmt.Sprintf("probe panicked: %v", rvr)}
		}
		c.LatencyMS = time.Since(start).Milliseconds()
	}()

	if err := probe.Check(ctx); err != nil {
		return componentHealth{Status: statusUnhealthy, Message: err.Error()}
	}
	return componentHealth{Status: statusHealthy}
}
