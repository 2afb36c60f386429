package process

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"syscall"

	"mirrorctl/internal/core/ports"

	"go.uber.org/zap"
)

// Runner spawns the mirroring binary. Stdin stays writable as the binary
// control channel; stdout and stderr carry log text only and are drained
// into the service log.
type Runner struct {
	binary string
	logger *zap.SugaredLogger
}

func NewRunner(binary string, logger *zap.SugaredLogger) ports.ProcessRunner {
	return &Runner{binary: binary, logger: logger}
}

func (r *Runner) Spawn(ctx context.Context, args []string) (ports.ProcessHandle, error) {
	cmd := exec.Command(r.binary, args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", r.binary, err)
	}

	h := &execHandle{
		cmd:     cmd,
		control: stdin,
		done:    make(chan struct{}),
		running: true,
	}

	go r.drain(cmd.Process.Pid, "stdout", stdout)
	go r.drain(cmd.Process.Pid, "stderr", stderr)

	go func() {
		err := cmd.Wait()
		h.mu.Lock()
		h.running = false
		h.mu.Unlock()
		if err != nil {
			r.logger.Infow("mirror process exited", "pid", cmd.Process.Pid, "error", err)
		} else {
			r.logger.Infow("mirror process exited", "pid", cmd.Process.Pid)
		}
		close(h.done)
	}()

	return h, nil
}

func (r *Runner) drain(pid int, stream string, rd io.Reader) {
	scanner := bufio.NewScanner(rd)
	for scanner.Scan() {
		r.logger.Debugw("mirror process output", "pid", pid, "stream", stream, "line", scanner.Text())
	}
}

type execHandle struct {
	cmd     *exec.Cmd
	control io.WriteCloser
	video   io.ReadCloser
	audio   io.ReadCloser
	done    chan struct{}
	running bool
	mu      sync.RWMutex
}

func (h *execHandle) PID() int {
	return h.cmd.Process.Pid
}

func (h *execHandle) Running() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.running
}

func (h *execHandle) Control() io.Writer {
	return h.control
}

func (h *execHandle) Video() io.ReadCloser {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.video
}

func (h *execHandle) Audio() io.ReadCloser {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.audio
}

func (h *execHandle) AttachStreams(video, audio io.ReadCloser) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.video = video
	h.audio = audio
}

func (h *execHandle) Done() <-chan struct{} {
	return h.done
}

func (h *execHandle) Terminate() error {
	return h.cmd.Process.Signal(syscall.SIGTERM)
}

func (h *execHandle) Kill() error {
	return h.cmd.Process.Kill()
}
