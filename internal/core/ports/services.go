package ports

import (
	"context"

	"mirrorctl/internal/core/domain"
)

// SessionService supervises one mirroring process per device.
type SessionService interface {
	// StartSession is idempotent per device: a second start without an
	// intervening stop returns the existing session unchanged.
	StartSession(ctx context.Context, deviceID domain.DeviceID, deviceAddress string, override *domain.ConfigOverride) (*domain.Session, error)

	// StopSession sends a graceful termination signal, escalating to a
	// forced kill after the grace period. Stopping an absent session is a
	// no-op.
	StopSession(ctx context.Context, deviceID domain.DeviceID) error

	GetSession(ctx context.Context, deviceID domain.DeviceID) (*domain.Session, error)
	HasSession(ctx context.Context, deviceID domain.DeviceID) bool
	ListSessions(ctx context.Context) []*domain.Session
	TouchLastActive(ctx context.Context, deviceID domain.DeviceID)

	// WriteControl writes encoded control messages to the device process's
	// control channel. All messages of one call are written back to back;
	// writes for the same device are serialized so a compound action's pair
	// is never interleaved with another connection's message.
	WriteControl(ctx context.Context, deviceID domain.DeviceID, msgs ...[]byte) error

	// Shutdown stops every known session concurrently and waits for all of
	// them to finish.
	Shutdown(ctx context.Context)
}

// MediaRelay consumes the media streams of a running process and fans frames
// out to subscribed clients.
type MediaRelay interface {
	StartRelay(deviceID domain.DeviceID, handle ProcessHandle)
	StopRelay(deviceID domain.DeviceID)
}
