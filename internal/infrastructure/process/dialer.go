package process

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"mirrorctl/internal/core/ports"
)

// TCPDialer opens media streams to a running mirroring process. The process
// accepts connections in order on its single port: first video, then audio.
type TCPDialer struct {
	timeout time.Duration
}

func NewTCPDialer(timeout time.Duration) ports.StreamDialer {
	return &TCPDialer{timeout: timeout}
}

func (d *TCPDialer) Dial(ctx context.Context, host string, port int) (io.ReadCloser, error) {
	dialer := net.Dialer{Timeout: d.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(host, fmt.Sprintf("%d", port)))
	if err != nil {
		return nil, fmt.Errorf("dial media stream on port %d: %w", port, err)
	}
	return conn, nil
}
