package domain

import "errors"

var (
	ErrSessionNotFound     = errors.New("session not found")
	ErrSessionExists       = errors.New("session already exists")
	ErrProcessNotAvailable = errors.New("mirror process not available")
	ErrNotSubscribed       = errors.New("connection is not subscribed to a session")
	ErrPortPoolExhausted   = errors.New("no free port in allocation pool")
)
