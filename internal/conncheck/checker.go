// Package conncheck probes PostgreSQL servers for liveness.
package conncheck

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
)

// DefaultTimeout bounds a single probe when no timeout is configured
const DefaultTimeout = 5 * time.Second

// Result reports the outcome of a single connectivity probe
type Result struct {
	Success    bool              `json:"success"`
	Error      string            `json:"error,omitempty"`
	PGVersion  string            `json:"pgVersion,omitempty"`
	ServerInfo map[string]string `json:"serverInfo,omitempty"`
}

// Checker probes the server a connection URI names. Implementations
// capture every network, authentication, and protocol failure in the
// Result; Check never raises past its boundary, so callers can probe
// many nodes without one failure aborting the batch.
type Checker interface {
	Check(ctx context.Context, uri string) Result
}

// PGChecker verifies connectivity with a real wire round trip
type PGChecker struct {
	timeout time.Duration
}

// New creates a PGChecker with the given probe timeout
func New(timeout time.Duration) *PGChecker {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &PGChecker{timeout: timeout}
}

var serverInfoKeys = []string{"server_version", "server_encoding", "TimeZone"}

// Check dials the server, runs SELECT version(), and collects a few
// server parameters. All failures come back inside the Result.
func (c *PGChecker) Check(ctx context.Context, uri string) Result {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	conn, err := pgx.Connect(ctx, uri)
	if err != nil {
		return Result{Success: false, Error: err.Error()}
	}
	defer conn.Close(ctx)

	var version string
	if err := conn.QueryRow(ctx, "SELECT version()").Scan(&version); err != nil {
		return Result{Success: false, Error: err.Error()}
	}

	info := make(map[string]string, len(serverInfoKeys))
	for _, key := range serverInfoKeys {
		if v := conn.PgConn().ParameterStatus(key); v != "" {
			info[key] = v
		}
	}

	return Result{Success: true, PGVersion: version, ServerInfo: info}
}
