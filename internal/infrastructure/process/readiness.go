package process

import (
	"context"
	"fmt"
	"net"
	"time"

	"mirrorctl/internal/core/ports"
)

// DelayReadiness waits a fixed settle delay after spawn. Process start is
// not actually confirmed; this reproduces the historical behavior and is the
// compatibility default.
type DelayReadiness struct {
	delay time.Duration
}

func NewDelayReadiness(delay time.Duration) ports.ReadinessChecker {
	return &DelayReadiness{delay: delay}
}

func (r *DelayReadiness) WaitReady(ctx context.Context, host string, port int) error {
	select {
	case <-time.After(r.delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PortReadiness polls the process's port until it accepts a connection or
// the deadline passes, removing the settle-delay race.
type PortReadiness struct {
	timeout  time.Duration
	interval time.Duration
}

func NewPortReadiness(timeout, interval time.Duration) ports.ReadinessChecker {
	return &PortReadiness{timeout: timeout, interval: interval}
}

func (r *PortReadiness) WaitReady(ctx context.Context, host string, port int) error {
	deadline := time.Now().Add(r.timeout)
	addr := net.JoinHostPort(host, fmt.Sprintf("%d", port))

	for {
		conn, err := net.DialTimeout("tcp", addr, r.interval)
		if err == nil {
			conn.Close()
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("port %d not ready after %s: %w", port, r.timeout, err)
		}
		select {
		case <-time.After(r.interval):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
