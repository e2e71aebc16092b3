package client

import (
	"time"

	"github.com/danmuck/twsync/internal/buildinfo"
	"github.com/danmuck/twsync/internal/config"
	"github.com/danmuck/twsync/internal/protocol/frame"
)

// Options tunes one client. Zero fields take DefaultOptions values.
type Options struct {
	// ServerName is verified against the server certificate; empty means the host.
	ServerName       string
	ClientID         string
	ConnectTimeout   time.Duration
	HandshakeTimeout time.Duration
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	Limits           frame.Limits
}

func DefaultOptions() Options {
	return Options{
		ClientID:         buildinfo.ClientID(),
		ConnectTimeout:   5 * time.Second,
		HandshakeTimeout: 5 * time.Second,
		ReadTimeout:      15 * time.Second,
		WriteTimeout:     15 * time.Second,
		Limits:           frame.DefaultLimits(),
	}
}

// OptionsFromSettings carries the transport knobs of s.
func OptionsFromSettings(s config.Settings) Options {
	return Options{
		ServerName:       s.VerifyName(),
		ConnectTimeout:   s.ConnectTimeout,
		HandshakeTimeout: s.HandshakeTimeout,
		ReadTimeout:      s.ReadTimeout,
		WriteTimeout:     s.WriteTimeout,
		Limits:           frame.Limits{MaxMessageBytes: s.MaxMessageBytes},
	}
}

func (o Options) WithDefaults() Options {
	d := DefaultOptions()
	if o.ClientID == "" {
		o.ClientID = d.ClientID
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = d.ConnectTimeout
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = d.HandshakeTimeout
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = d.ReadTimeout
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = d.WriteTimeout
	}
	if o.Limits.MaxMessageBytes == 0 {
		o.Limits = d.Limits
	}
	return o
}
