package ports

import (
	"context"
	"io"

	"mirrorctl/internal/core/domain"
)

// ProcessHandle is the supervisor's view of one spawned mirroring process.
// Control is the writable control channel (the process's stdin); Video and
// Audio are the readable media streams once attached, nil before that.
type ProcessHandle interface {
	PID() int
	Running() bool
	Control() io.Writer
	Video() io.ReadCloser
	Audio() io.ReadCloser
	AttachStreams(video, audio io.ReadCloser)

	// Done is closed once the process has actually exited.
	Done() <-chan struct{}
	Terminate() error
	Kill() error
}

// ProcessRunner spawns the external mirroring binary with its stdin writable
// and stdout/stderr captured for logging.
type ProcessRunner interface {
	Spawn(ctx context.Context, args []string) (ProcessHandle, error)
}

// PortAllocator hands out the local port for one device's session. The
// default implementation hashes the device id into a fixed pool and may
// collide across devices; bind-probing implementations reserve for real.
type PortAllocator interface {
	Allocate(deviceID domain.DeviceID) (int, error)
	Release(port int)
}

// ReadinessChecker reports when a freshly spawned process is ready to accept
// media connections on its port.
type ReadinessChecker interface {
	WaitReady(ctx context.Context, host string, port int) error
}

// StreamDialer opens one media stream to a running process.
type StreamDialer interface {
	Dial(ctx context.Context, host string, port int) (io.ReadCloser, error)
}
