package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNilPool is returned when a health probe is given no pool.
var ErrNilPool = errors.New("pool is nil")

// schemaProbe fails when the meetings schema has not been migrated.
const schemaProbe = `SELECT 1 FROM meetings LIMIT 0`

// HealthStatus represents the health state of the meetings database.
type HealthStatus struct {
	Healthy       bool
	SchemaReady   bool
	Latency       time.Duration
	TotalConns    int32
	IdleConns     int32
	AcquiredConns int32
	Error         error
}

// Check pings the database, confirms the meetings table exists and
// reports pool usage.
func Check(ctx context.Context, pool *pgxpool.Pool) *HealthStatus {
	status := &HealthStatus{}

	if pool == nil {
		status.Error = ErrNilPool
		return status
	}

	start := time.Now()
	err := pool.Ping(ctx)
	status.Latency = time.Since(start)
	if err != nil {
		status.Error = fmt.Errorf("ping failed: %w", err)
		return status
	}

	if _, err := pool.Exec(ctx, schemaProbe); err != nil {
		status.Error = fmt.Errorf("meetings schema not ready (run migrate): %w", err)
		return status
	}
	status.SchemaReady = true

	stats := pool.Stat()
	status.Healthy = true
	status.TotalConns = stats.TotalConns()
	status.IdleConns = stats.IdleConns()
	status.AcquiredConns = stats.AcquiredConns()

	return status
}

// Readiness adapts Check to the func(ctx) error shape used by the
// HTTP readiness endpoint.
func Readiness(pool *pgxpool.Pool) func(context.Context) error {
	return func(ctx context.Context) error {
		return Check(ctx, pool).Error
	}
}
