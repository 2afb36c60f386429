package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"mirrorctl/internal/core/domain"
	"mirrorctl/internal/core/ports"

	"go.uber.org/zap"
)

// SessionOptions carries the supervisor settings resolved from configuration
// at startup.
type SessionOptions struct {
	// RelayHost and RelayPort build the endpoint URLs handed to clients.
	RelayHost string
	RelayPort int

	// StopGrace bounds how long a process gets to exit voluntarily before
	// it is killed.
	StopGrace time.Duration

	// Defaults is the session configuration callers' overrides are merged
	// onto.
	Defaults domain.SessionConfig
}

// SessionService owns the lifecycle of one mirroring process per device.
type SessionService struct {
	registry  ports.SessionRegistry
	runner    ports.ProcessRunner
	allocator ports.PortAllocator
	readiness ports.ReadinessChecker
	dialer    ports.StreamDialer
	relay     ports.MediaRelay
	metrics   ports.MetricsSink
	opts      SessionOptions
	logger    *zap.SugaredLogger

	// One lock per device serializes start/stop against control writes, so
	// a compound action's message pair is never interleaved with another
	// connection's write for the same device.
	locks   map[domain.DeviceID]*sync.Mutex
	locksMu sync.Mutex
}

func NewSessionService(
	registry ports.SessionRegistry,
	runner ports.ProcessRunner,
	allocator ports.PortAllocator,
	readiness ports.ReadinessChecker,
	dialer ports.StreamDialer,
	opts SessionOptions,
	logger *zap.SugaredLogger,
) *SessionService {
	return &SessionService{
		registry:  registry,
		runner:    runner,
		allocator: allocator,
		readiness: readiness,
		dialer:    dialer,
		opts:      opts,
		logger:    logger,
		locks:     make(map[domain.DeviceID]*sync.Mutex),
	}
}

// SetMediaRelay late-binds the frame relay; the relay gateway is constructed
// after the service because it forwards client input through it.
func (s *SessionService) SetMediaRelay(relay ports.MediaRelay) {
	s.relay = relay
}

// SetMetricsSink attaches the lifecycle metrics collector.
func (s *SessionService) SetMetricsSink(sink ports.MetricsSink) {
	s.metrics = sink
}

func (s *SessionService) StartSession(ctx context.Context, deviceID domain.DeviceID, deviceAddress string, override *domain.ConfigOverride) (*domain.Session, error) {
	lock := s.deviceLock(deviceID)
	lock.Lock()
	defer lock.Unlock()

	if existing, err := s.registry.Get(ctx, deviceID); err == nil {
		s.logger.Infow("session already exists, returning it", "device_id", deviceID, "session_id", existing.ID)
		return existing, nil
	}

	port, err := s.allocator.Allocate(deviceID)
	if err != nil {
		return nil, fmt.Errorf("failed to allocate port for device %s: %w", deviceID, err)
	}

	cfg := s.opts.Defaults
	override.ApplyTo(&cfg)
	cfg.LocalPort = port

	args := commandArgs(deviceAddress, cfg)
	handle, err := s.runner.Spawn(ctx, args)
	if err != nil {
		s.allocator.Release(port)
		if s.metrics != nil {
			s.metrics.SpawnFailure()
		}
		return nil, fmt.Errorf("failed to spawn mirror process for device %s: %w", deviceID, err)
	}

	now := time.Now()
	session := &domain.Session{
		ID:            domain.NewSessionID(deviceID, now),
		DeviceID:      deviceID,
		DeviceAddress: deviceAddress,
		VideoURL:      s.endpointURL(deviceID, "video"),
		AudioURL:      s.endpointURL(deviceID, "audio"),
		ControlURL:    s.endpointURL(deviceID, "control"),
		Config:        cfg,
		CreatedAt:     now,
		LastActiveAt:  now,
		PID:           handle.PID(),
	}

	if err := s.registry.Put(ctx, session, handle); err != nil {
		// Lost a race with another start for the same device.
		handle.Kill()
		s.allocator.Release(port)
		if errors.Is(err, domain.ErrSessionExists) {
			if existing, gerr := s.registry.Get(ctx, deviceID); gerr == nil {
				return existing, nil
			}
		}
		return nil, fmt.Errorf("failed to register session for device %s: %w", deviceID, err)
	}

	if s.metrics != nil {
		s.metrics.SessionStarted()
	}

	// From here on the exit watcher owns cleanup, including the single
	// port release once the process is gone.
	go s.watchProcess(deviceID, port, handle)

	host, mediaPort := mediaEndpoint(cfg)
	if err := s.readiness.WaitReady(ctx, host, mediaPort); err != nil {
		s.logger.Errorw("mirror process never became ready", "device_id", deviceID, "port", mediaPort, "error", err)
		handle.Kill()
		s.registry.Remove(ctx, deviceID)
		return nil, fmt.Errorf("mirror process for device %s not ready: %w", deviceID, err)
	}

	s.attachMedia(ctx, deviceID, handle, host, mediaPort, cfg)

	s.logger.Infow("session started",
		"device_id", deviceID,
		"session_id", session.ID,
		"pid", session.PID,
		"port", port,
	)
	return session, nil
}

func (s *SessionService) StopSession(ctx context.Context, deviceID domain.DeviceID) error {
	lock := s.deviceLock(deviceID)
	lock.Lock()
	defer lock.Unlock()

	handle, err := s.registry.GetHandle(ctx, deviceID)
	if err != nil {
		return nil
	}

	s.logger.Infow("stopping session", "device_id", deviceID, "pid", handle.PID())

	if err := handle.Terminate(); err != nil {
		s.logger.Warnw("graceful terminate failed, killing", "device_id", deviceID, "error", err)
		handle.Kill()
	}

	select {
	case <-handle.Done():
	case <-time.After(s.opts.StopGrace):
		// Expected for stuck processes; logged for capacity planning.
		s.logger.Warnw("grace period elapsed, killing process", "device_id", deviceID, "pid", handle.PID())
		if s.metrics != nil {
			s.metrics.ForcedKill()
		}
		handle.Kill()
		<-handle.Done()
	}

	// The exit watcher does the same cleanup; Remove is idempotent and this
	// guarantees the session is gone before StopSession returns.
	s.registry.Remove(ctx, deviceID)
	return nil
}

func (s *SessionService) GetSession(ctx context.Context, deviceID domain.DeviceID) (*domain.Session, error) {
	return s.registry.Get(ctx, deviceID)
}

// GetProcessHandle exposes the raw handle for supervisor-side callers. The
// relay never sees it; control writes go through WriteControl.
func (s *SessionService) GetProcessHandle(ctx context.Context, deviceID domain.DeviceID) (ports.ProcessHandle, error) {
	return s.registry.GetHandle(ctx, deviceID)
}

func (s *SessionService) HasSession(ctx context.Context, deviceID domain.DeviceID) bool {
	return s.registry.Has(ctx, deviceID)
}

func (s *SessionService) ListSessions(ctx context.Context) []*domain.Session {
	return s.registry.List(ctx)
}

func (s *SessionService) TouchLastActive(ctx context.Context, deviceID domain.DeviceID) {
	if err := s.registry.Touch(ctx, deviceID); err != nil {
		s.logger.Debugw("touch on absent session", "device_id", deviceID)
	}
}

func (s *SessionService) WriteControl(ctx context.Context, deviceID domain.DeviceID, msgs ...[]byte) error {
	lock := s.deviceLock(deviceID)
	lock.Lock()
	defer lock.Unlock()

	handle, err := s.registry.GetHandle(ctx, deviceID)
	if err != nil {
		return err
	}

	w := handle.Control()
	if w == nil {
		return domain.ErrProcessNotAvailable
	}

	for _, msg := range msgs {
		if _, err := w.Write(msg); err != nil {
			return fmt.Errorf("failed to write control message for device %s: %w", deviceID, err)
		}
	}
	return nil
}

// Shutdown stops all sessions concurrently, bounding total teardown time by
// the per-device grace period rather than the device count.
func (s *SessionService) Shutdown(ctx context.Context) {
	sessions := s.registry.List(ctx)
	if len(sessions) == 0 {
		return
	}

	s.logger.Infow("shutting down all sessions", "count", len(sessions))

	var wg sync.WaitGroup
	for _, session := range sessions {
		wg.Add(1)
		go func(deviceID domain.DeviceID) {
			defer wg.Done()
			if err := s.StopSession(ctx, deviceID); err != nil {
				s.logger.Errorw("failed to stop session during shutdown", "device_id", deviceID, "error", err)
			}
		}(session.DeviceID)
	}
	wg.Wait()
}

// watchProcess tears the session down once the process exits, whether it
// died on its own or was stopped.
func (s *SessionService) watchProcess(deviceID domain.DeviceID, port int, handle ports.ProcessHandle) {
	<-handle.Done()

	if s.relay != nil {
		s.relay.StopRelay(deviceID)
	}
	s.registry.Remove(context.Background(), deviceID)
	s.allocator.Release(port)
	if s.metrics != nil {
		s.metrics.SessionEnded()
	}
	s.logger.Infow("session removed after process exit", "device_id", deviceID, "pid", handle.PID())
}

// attachMedia connects the media streams and starts the frame relay. Media
// failures are logged but not terminal: the control channel still works.
func (s *SessionService) attachMedia(ctx context.Context, deviceID domain.DeviceID, handle ports.ProcessHandle, host string, port int, cfg domain.SessionConfig) {
	if s.relay == nil || s.dialer == nil {
		return
	}
	if cfg.NoVideo && cfg.NoAudio {
		return
	}

	// The process accepts stream connections in order: video first, then
	// audio when enabled.
	var video, audio io.ReadCloser
	var err error
	if !cfg.NoVideo {
		video, err = s.dialer.Dial(ctx, host, port)
		if err != nil {
			s.logger.Warnw("failed to attach video stream", "device_id", deviceID, "error", err)
			return
		}
	}
	if !cfg.NoAudio {
		audio, err = s.dialer.Dial(ctx, host, port)
		if err != nil {
			s.logger.Warnw("failed to attach audio stream", "device_id", deviceID, "error", err)
		}
	}

	handle.AttachStreams(video, audio)
	s.relay.StartRelay(deviceID, handle)
}

func (s *SessionService) deviceLock(deviceID domain.DeviceID) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()

	lock, exists := s.locks[deviceID]
	if !exists {
		lock = &sync.Mutex{}
		s.locks[deviceID] = lock
	}
	return lock
}

func (s *SessionService) endpointURL(deviceID domain.DeviceID, channel string) string {
	return fmt.Sprintf("ws://%s:%d/mirror/%s/%s", s.opts.RelayHost, s.opts.RelayPort, deviceID, channel)
}

func mediaEndpoint(cfg domain.SessionConfig) (string, int) {
	host := "127.0.0.1"
	port := cfg.LocalPort
	if cfg.TunnelHost != "" {
		host = cfg.TunnelHost
	}
	if cfg.TunnelPort > 0 {
		port = cfg.TunnelPort
	}
	return host, port
}

// commandArgs builds the mirroring binary invocation deterministically from
// the merged configuration: device selector, video flags (or disable),
// audio flags (or disable), optional toggles, port, headless.
func commandArgs(deviceAddress string, cfg domain.SessionConfig) []string {
	args := []string{"-s", deviceAddress}

	if cfg.NoVideo {
		args = append(args, "--no-video")
	} else {
		args = append(args,
			fmt.Sprintf("--video-bit-rate=%d", cfg.VideoBitrate),
			fmt.Sprintf("--video-codec=%s", cfg.VideoCodec),
		)
		if cfg.MaxSize > 0 {
			args = append(args, fmt.Sprintf("--max-size=%d", cfg.MaxSize))
		}
		if cfg.MaxFPS > 0 {
			args = append(args, fmt.Sprintf("--max-fps=%d", cfg.MaxFPS))
		}
	}

	if cfg.NoAudio {
		args = append(args, "--no-audio")
	} else {
		args = append(args,
			fmt.Sprintf("--audio-bit-rate=%d", cfg.AudioBitrate),
			fmt.Sprintf("--audio-codec=%s", cfg.AudioCodec),
		)
	}

	if cfg.ShowTouches {
		args = append(args, "--show-touches")
	}
	if cfg.StayAwake {
		args = append(args, "--stay-awake")
	}
	if cfg.TurnScreenOff {
		args = append(args, "--turn-screen-off")
	}

	args = append(args, fmt.Sprintf("--port=%d", cfg.LocalPort), "--no-display")
	return args
}
