package ports

import (
	"context"

	"mirrorctl/internal/core/domain"
)

// SessionRegistry owns the device→session and device→process maps. Both are
// mutated together: Put registers a pair atomically and fails when the device
// already has a live session, Remove drops both entries atomically so a
// concurrent lookup never observes a session without its process.
type SessionRegistry interface {
	Put(ctx context.Context, session *domain.Session, handle ProcessHandle) error
	Get(ctx context.Context, deviceID domain.DeviceID) (*domain.Session, error)
	GetHandle(ctx context.Context, deviceID domain.DeviceID) (ProcessHandle, error)
	Has(ctx context.Context, deviceID domain.DeviceID) bool
	Remove(ctx context.Context, deviceID domain.DeviceID) error
	List(ctx context.Context) []*domain.Session
	Touch(ctx context.Context, deviceID domain.DeviceID) error
}
