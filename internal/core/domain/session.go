package domain

import (
	"fmt"
	"time"
)

type DeviceID string
type SessionID string
type ConnID string

type VideoCodec string

const (
	VideoCodecH264 VideoCodec = "h264"
	VideoCodecH265 VideoCodec = "h265"
	VideoCodecAV1  VideoCodec = "av1"
)

type AudioCodec string

const (
	AudioCodecOpus AudioCodec = "opus"
	AudioCodecAAC  AudioCodec = "aac"
	AudioCodecRaw  AudioCodec = "raw"
)

// SessionConfig is fixed once a session is started. MaxSize and MaxFPS of 0
// mean unconstrained.
type SessionConfig struct {
	VideoBitrate  int        `json:"video_bitrate"`
	VideoCodec    VideoCodec `json:"video_codec"`
	MaxSize       int        `json:"max_size"`
	MaxFPS        int        `json:"max_fps"`
	AudioBitrate  int        `json:"audio_bitrate"`
	AudioCodec    AudioCodec `json:"audio_codec"`
	NoVideo       bool       `json:"no_video"`
	NoAudio       bool       `json:"no_audio"`
	ShowTouches   bool       `json:"show_touches"`
	StayAwake     bool       `json:"stay_awake"`
	TurnScreenOff bool       `json:"turn_screen_off"`
	LocalPort     int        `json:"local_port"`
	TunnelHost    string     `json:"tunnel_host,omitempty"`
	TunnelPort    int        `json:"tunnel_port,omitempty"`
}

// DefaultSessionConfig returns the documented session defaults.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		VideoBitrate: 8_000_000,
		VideoCodec:   VideoCodecH264,
		MaxSize:      1920,
		MaxFPS:       60,
		AudioBitrate: 128_000,
		AudioCodec:   AudioCodecOpus,
		StayAwake:    true,
	}
}

// ConfigOverride carries caller-supplied session settings. Nil fields keep
// the default value.
type ConfigOverride struct {
	VideoBitrate  *int        `json:"video_bitrate,omitempty"`
	VideoCodec    *VideoCodec `json:"video_codec,omitempty"`
	MaxSize       *int        `json:"max_size,omitempty"`
	MaxFPS        *int        `json:"max_fps,omitempty"`
	AudioBitrate  *int        `json:"audio_bitrate,omitempty"`
	AudioCodec    *AudioCodec `json:"audio_codec,omitempty"`
	NoVideo       *bool       `json:"no_video,omitempty"`
	NoAudio       *bool       `json:"no_audio,omitempty"`
	ShowTouches   *bool       `json:"show_touches,omitempty"`
	StayAwake     *bool       `json:"stay_awake,omitempty"`
	TurnScreenOff *bool       `json:"turn_screen_off,omitempty"`
	TunnelHost    *string     `json:"tunnel_host,omitempty"`
	TunnelPort    *int        `json:"tunnel_port,omitempty"`
}

// ApplyTo merges the override on top of cfg.
func (o *ConfigOverride) ApplyTo(cfg *SessionConfig) {
	if o == nil {
		return
	}
	if o.VideoBitrate != nil {
		cfg.VideoBitrate = *o.VideoBitrate
	}
	if o.VideoCodec != nil {
		cfg.VideoCodec = *o.VideoCodec
	}
	if o.MaxSize != nil {
		cfg.MaxSize = *o.MaxSize
	}
	if o.MaxFPS != nil {
		cfg.MaxFPS = *o.MaxFPS
	}
	if o.AudioBitrate != nil {
		cfg.AudioBitrate = *o.AudioBitrate
	}
	if o.AudioCodec != nil {
		cfg.AudioCodec = *o.AudioCodec
	}
	if o.NoVideo != nil {
		cfg.NoVideo = *o.NoVideo
	}
	if o.NoAudio != nil {
		cfg.NoAudio = *o.NoAudio
	}
	if o.ShowTouches != nil {
		cfg.ShowTouches = *o.ShowTouches
	}
	if o.StayAwake != nil {
		cfg.StayAwake = *o.StayAwake
	}
	if o.TurnScreenOff != nil {
		cfg.TurnScreenOff = *o.TurnScreenOff
	}
	if o.TunnelHost != nil {
		cfg.TunnelHost = *o.TunnelHost
	}
	if o.TunnelPort != nil {
		cfg.TunnelPort = *o.TunnelPort
	}
}

// Session is the live association between a device and its mirroring
// process. At most one session exists per device at any time.
type Session struct {
	ID            SessionID     `json:"session_id"`
	DeviceID      DeviceID      `json:"device_id"`
	DeviceAddress string        `json:"device_address"`
	VideoURL      string        `json:"video_url"`
	AudioURL      string        `json:"audio_url"`
	ControlURL    string        `json:"control_url"`
	Config        SessionConfig `json:"config"`
	CreatedAt     time.Time     `json:"created_at"`
	LastActiveAt  time.Time     `json:"last_active_at"`
	PID           int           `json:"pid"`
}

// NewSessionID derives the session identifier from the device id and the
// creation timestamp.
func NewSessionID(deviceID DeviceID, createdAt time.Time) SessionID {
	return SessionID(fmt.Sprintf("%s-%d", deviceID, createdAt.UnixNano()))
}

// SessionStats is the observability view of one device's relay activity.
type SessionStats struct {
	DeviceID    DeviceID `json:"device_id"`
	Subscribers int      `json:"subscribers"`
}
