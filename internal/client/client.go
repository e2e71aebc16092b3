// Package client performs one framed request/response exchange per call over
// a fresh mutual-TLS connection.
package client

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/danmuck/twsync/internal/config"
	"github.com/danmuck/twsync/internal/keys"
	"github.com/danmuck/twsync/internal/protocol"
	"github.com/danmuck/twsync/internal/protocol/frame"
	"github.com/danmuck/twsync/internal/task"
	"github.com/danmuck/twsync/internal/tlscontext"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

var (
	ErrConnection = errors.New("client: connection failed")
	ErrWrite      = errors.New("client: write failed")
	ErrRead       = errors.New("client: read failed")
)

// Client holds an immutable secure context and opens an independent
// connection for every exchange. It is safe for concurrent use.
type Client struct {
	cfg  config.ConnectionConfig
	tls  *tlscontext.Context
	opts Options
	addr string
}

// New loads the credential files named by cfg and builds a client speaking
// the given TLS protocol label.
func New(cfg config.ConnectionConfig, tlsProtocol string, opts Options) (*Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: nil connection config", keys.ErrInvalidInput)
	}
	secure, err := tlscontext.FromFiles(tlsProtocol, keys.Paths{
		CACert:     cfg.CACertPath(),
		ClientCert: cfg.ClientCertPath(),
		ClientKey:  cfg.ClientKeyPath(),
	})
	if err != nil {
		return nil, err
	}
	return NewWithContext(cfg, secure, opts)
}

func NewWithContext(cfg config.ConnectionConfig, secure *tlscontext.Context, opts Options) (*Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: nil connection config", keys.ErrInvalidInput)
	}
	if secure == nil {
		return nil, fmt.Errorf("%w: nil secure context", keys.ErrInvalidInput)
	}
	host := strings.TrimSpace(cfg.Host())
	if host == "" {
		return nil, fmt.Errorf("%w: server host is required", keys.ErrInvalidInput)
	}
	if cfg.Port() < 1 || cfg.Port() > 65535 {
		return nil, fmt.Errorf("%w: server port %d out of range", keys.ErrInvalidInput, cfg.Port())
	}
	opts = opts.WithDefaults()
	if strings.TrimSpace(opts.ServerName) == "" {
		opts.ServerName = host
	}
	return &Client{
		cfg:  cfg,
		tls:  secure,
		opts: opts,
		addr: net.JoinHostPort(host, strconv.Itoa(cfg.Port())),
	}, nil
}

func (c *Client) Addr() string {
	return c.addr
}

// SendAndReceive writes m on a new connection, reads exactly one reply and
// closes the connection on every path. Nothing is retried.
func (c *Client) SendAndReceive(ctx context.Context, m frame.Message) (frame.Message, error) {
	request, err := frame.Encode(m, c.opts.Limits)
	if err != nil {
		return frame.Message{}, err
	}

	conn, err := c.dial(ctx)
	if err != nil {
		return frame.Message{}, fmt.Errorf("%w: cannot connect to %s: %w", ErrConnection, c.addr, err)
	}
	defer func() {
		_ = conn.Close()
	}()

	if err := conn.SetWriteDeadline(c.deadline(ctx, c.opts.WriteTimeout)); err != nil {
		return frame.Message{}, fmt.Errorf("%w: %s: %w", ErrWrite, c.addr, err)
	}
	if _, err := conn.Write(request); err != nil {
		return frame.Message{}, fmt.Errorf("%w: %s: %w", ErrWrite, c.addr, err)
	}

	if err := conn.SetReadDeadline(c.deadline(ctx, c.opts.ReadTimeout)); err != nil {
		return frame.Message{}, fmt.Errorf("%w: %s: %w", ErrRead, c.addr, err)
	}
	reply, err := frame.ReadMessage(conn, c.opts.Limits)
	if err != nil {
		return frame.Message{}, fmt.Errorf("%w: %s: %w", ErrRead, c.addr, err)
	}
	log.Debug().Str("addr", c.addr).Int("request_bytes", len(request)).Msg("client.SendAndReceive")
	return reply, nil
}

// Statistics asks the server for account statistics.
func (c *Client) Statistics(ctx context.Context) (protocol.Response, error) {
	return c.exchange(ctx, protocol.NewStatistics(c.opts.ClientID, c.cfg.Auth()))
}

// Sync uploads tasks and returns the server's changes since syncKey. A nil
// syncKey requests every task.
func (c *Client) Sync(ctx context.Context, syncKey *uuid.UUID, tasks []task.Task) (protocol.Response, error) {
	return c.exchange(ctx, protocol.NewSync(c.opts.ClientID, c.cfg.Auth(), syncKey, tasks))
}

func (c *Client) exchange(ctx context.Context, req protocol.Request) (protocol.Response, error) {
	m, err := req.Message()
	if err != nil {
		return protocol.Response{}, err
	}
	reply, err := c.SendAndReceive(ctx, m)
	if err != nil {
		return protocol.Response{}, err
	}
	resp, err := protocol.ParseResponse(reply)
	if err != nil {
		return protocol.Response{}, err
	}
	log.Info().
		Str("type", string(req.Type)).
		Int("code", resp.Code).
		Str("status", resp.Status).
		Int("tasks", len(resp.Tasks)).
		Msg("client.exchange")
	return resp, nil
}

func (c *Client) dial(ctx context.Context) (*tls.Conn, error) {
	dialer := net.Dialer{Timeout: c.opts.ConnectTimeout}
	rawConn, err := dialer.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return nil, err
	}

	conn := tls.Client(rawConn, c.tls.Config(c.opts.ServerName))
	handshakeCtx, cancel := context.WithTimeout(ctx, c.opts.HandshakeTimeout)
	defer cancel()
	if err := conn.HandshakeContext(handshakeCtx); err != nil {
		_ = rawConn.Close()
		return nil, err
	}
	return conn, nil
}

// deadline picks the earlier of the ctx deadline and now+timeout.
func (c *Client) deadline(ctx context.Context, timeout time.Duration) time.Time {
	deadline := time.Now().Add(timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	return deadline
}
