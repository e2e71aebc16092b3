package client

import (
	"context"
	"crypto/tls"
	"encoding/binary"
	"errors"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/twsync/internal/config"
	"github.com/danmuck/twsync/internal/keys"
	"github.com/danmuck/twsync/internal/protocol/frame"
	"github.com/danmuck/twsync/internal/task"
	"github.com/danmuck/twsync/internal/testutil/testlog"
	"github.com/danmuck/twsync/internal/testutil/tlstest"
	"github.com/google/uuid"
)

const testKey = "6a0f3cbf-5b0e-4a1c-9f0e-0d3c2a8f4b11"

type fixture struct {
	ca       *tlstest.Authority
	server   tlstest.Issued
	settings config.Settings
}

func newFixture(t *testing.T, format tlstest.KeyFormat) fixture {
	t.Helper()
	dir := t.TempDir()
	ca := tlstest.NewAuthority(t, dir, "twsync-ca")
	server := ca.IssueServerCert(t, dir, "taskd", []string{"localhost"}, []net.IP{net.ParseIP("127.0.0.1")})
	client := ca.IssueClientCert(t, dir, "client", format)

	s := config.DefaultSettings()
	s.ServerHost = "127.0.0.1"
	s.CACertFile = ca.CAFile()
	s.ClientCertFile = client.CertPath
	s.ClientKeyFile = client.KeyPath
	s.Organization = "org"
	s.User = "user"
	s.Key = uuid.MustParse(testKey)
	return fixture{ca: ca, server: server, settings: s}
}

// serve accepts connections until the test ends and hands each to handle.
func serve(t *testing.T, cfg *tls.Config, handle func(net.Conn)) int {
	t.Helper()
	ln, err := tls.Listen("tcp", "127.0.0.1:0", cfg)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	var wg sync.WaitGroup
	t.Cleanup(func() {
		_ = ln.Close()
		wg.Wait()
	})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer conn.Close()
				handle(conn)
			}()
		}
	}()
	return ln.Addr().(*net.TCPAddr).Port
}

// replyWith records each request on seen and answers with resp.
func replyWith(seen chan<- frame.Message, resp frame.Message) func(net.Conn) {
	return func(conn net.Conn) {
		_ = conn.SetDeadline(time.Now().Add(10 * time.Second))
		req, err := frame.ReadMessage(conn, frame.DefaultLimits())
		if err != nil {
			return
		}
		if seen != nil {
			seen <- req
		}
		_ = frame.WriteMessage(conn, resp, frame.DefaultLimits())
	}
}

func okResponse(payload string) frame.Message {
	headers := frame.NewHeaders(
		frame.Header{Name: "client", Value: "taskd 1.1.0"},
		frame.Header{Name: "code", Value: "200"},
		frame.Header{Name: "status", Value: "Ok"},
	)
	return frame.NewMessageWithPayload(headers, payload)
}

func newClient(t *testing.T, f fixture, port int, opts Options) *Client {
	t.Helper()
	f.settings.ServerPort = port
	c, err := New(f.settings, "TLS", opts)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return c
}

func TestStatisticsAllKeyFormats(t *testing.T) {
	formats := map[string]tlstest.KeyFormat{
		"pkcs1-pem": tlstest.KeyPKCS1PEM,
		"pkcs8-pem": tlstest.KeyPKCS8PEM,
		"pkcs8-der": tlstest.KeyPKCS8DER,
	}
	for name, format := range formats {
		t.Run(name, func(t *testing.T) {
			testlog.Start(t)
			f := newFixture(t, format)
			seen := make(chan frame.Message, 1)
			port := serve(t, f.ca.ServerTLSConfig(t, f.server), replyWith(seen, okResponse("")))

			c := newClient(t, f, port, Options{ClientID: "twsync test"})
			resp, err := c.Statistics(context.Background())
			if err != nil {
				t.Fatalf("statistics: %v", err)
			}
			if !resp.OK() || resp.Status != "Ok" || resp.Server != "taskd 1.1.0" {
				t.Fatalf("unexpected response: %+v", resp)
			}

			req := <-seen
			want := map[string]string{
				"type": "statistics", "protocol": "v1", "client": "twsync test",
				"org": "org", "user": "user", "key": testKey,
			}
			for k, v := range want {
				if got, _ := req.Header(k); got != v {
					t.Fatalf("request header %s=%q want %q", k, got, v)
				}
			}
		})
	}
}

func TestSyncSendsTasksAndMapsReply(t *testing.T) {
	testlog.Start(t)
	f := newFixture(t, tlstest.KeyPKCS8PEM)
	next := uuid.MustParse("0b3f4a51-3c0d-4f8e-8a57-36c2b1c7d9a0")
	remote := `{"status":"completed","uuid":"8ad2e3db-914d-4832-b0e6-72fa04f6e331","description":"remote"}`
	seen := make(chan frame.Message, 1)
	port := serve(t, f.ca.ServerTLSConfig(t, f.server), replyWith(seen, okResponse(remote+"\n"+next.String()+"\n")))

	c := newClient(t, f, port, Options{})
	prev := uuid.MustParse("5d9d4bd4-1f51-4b4e-9c27-0c4a9b0a1e55")
	local := task.New("local")
	resp, err := c.Sync(context.Background(), &prev, []task.Task{local})
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if resp.SyncKey == nil || *resp.SyncKey != next {
		t.Fatalf("sync key=%v", resp.SyncKey)
	}
	if len(resp.Tasks) != 1 || resp.Tasks[0].Status != task.StatusCompleted {
		t.Fatalf("tasks=%+v", resp.Tasks)
	}

	req := <-seen
	payload, ok := req.Payload()
	if !ok {
		t.Fatalf("sync request without payload")
	}
	lines := strings.Split(payload, "\n")
	if len(lines) != 2 || lines[1] != prev.String() || !strings.Contains(lines[0], local.UUID.String()) {
		t.Fatalf("unexpected request payload: %q", payload)
	}
}

func TestConcurrentExchangesUseIndependentConnections(t *testing.T) {
	testlog.Start(t)
	f := newFixture(t, tlstest.KeyPKCS1PEM)
	port := serve(t, f.ca.ServerTLSConfig(t, f.server), replyWith(nil, okResponse("")))
	c := newClient(t, f, port, Options{})

	var wg sync.WaitGroup
	errs := make(chan error, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Statistics(context.Background())
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("statistics: %v", err)
		}
	}
}

func TestUntrustedServerIsConnectionError(t *testing.T) {
	testlog.Start(t)
	f := newFixture(t, tlstest.KeyPKCS1PEM)
	rogue := newFixture(t, tlstest.KeyPKCS1PEM)
	serverCfg := rogue.ca.ServerTLSConfig(t, rogue.server)
	serverCfg.ClientCAs = f.ca.Pool()
	port := serve(t, serverCfg, replyWith(nil, okResponse("")))

	c := newClient(t, f, port, Options{})
	_, err := c.Statistics(context.Background())
	if !errors.Is(err, ErrConnection) {
		t.Fatalf("expected ErrConnection, got %v", err)
	}
	if !strings.Contains(err.Error(), c.Addr()) {
		t.Fatalf("error does not name %s: %v", c.Addr(), err)
	}
}

func TestRefusedConnectionIsConnectionError(t *testing.T) {
	testlog.Start(t)
	f := newFixture(t, tlstest.KeyPKCS1PEM)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	_ = ln.Close()

	c := newClient(t, f, port, Options{ConnectTimeout: time.Second})
	_, err = c.SendAndReceive(context.Background(), okResponse(""))
	if !errors.Is(err, ErrConnection) {
		t.Fatalf("expected ErrConnection, got %v", err)
	}
}

func TestServerClosingWithoutReply(t *testing.T) {
	testlog.Start(t)
	f := newFixture(t, tlstest.KeyPKCS1PEM)
	port := serve(t, f.ca.ServerTLSConfig(t, f.server), func(conn net.Conn) {
		_, _ = frame.ReadMessage(conn, frame.DefaultLimits())
	})

	c := newClient(t, f, port, Options{})
	_, err := c.Statistics(context.Background())
	if !errors.Is(err, ErrRead) || !errors.Is(err, frame.ErrIncompleteLengthPrefix) {
		t.Fatalf("expected incomplete length prefix, got %v", err)
	}
}

func TestTruncatedReply(t *testing.T) {
	testlog.Start(t)
	f := newFixture(t, tlstest.KeyPKCS1PEM)
	port := serve(t, f.ca.ServerTLSConfig(t, f.server), func(conn net.Conn) {
		if _, err := frame.ReadMessage(conn, frame.DefaultLimits()); err != nil {
			return
		}
		partial := make([]byte, 4, 14)
		binary.BigEndian.PutUint32(partial, 100)
		_, _ = conn.Write(append(partial, "code: 200\n"...))
	})

	c := newClient(t, f, port, Options{})
	_, err := c.Statistics(context.Background())
	if !errors.Is(err, frame.ErrIncompleteMessage) {
		t.Fatalf("expected ErrIncompleteMessage, got %v", err)
	}
	if !strings.Contains(err.Error(), "missing 86 bytes") {
		t.Fatalf("unexpected deficit: %v", err)
	}
}

func TestReadTimeout(t *testing.T) {
	testlog.Start(t)
	f := newFixture(t, tlstest.KeyPKCS1PEM)
	release := make(chan struct{})
	port := serve(t, f.ca.ServerTLSConfig(t, f.server), func(conn net.Conn) {
		_, _ = frame.ReadMessage(conn, frame.DefaultLimits())
		<-release
	})
	// runs before serve's cleanup waits on the handler
	t.Cleanup(func() { close(release) })

	c := newClient(t, f, port, Options{ReadTimeout: 200 * time.Millisecond})
	_, err := c.Statistics(context.Background())
	if !errors.Is(err, ErrRead) {
		t.Fatalf("expected ErrRead, got %v", err)
	}
	var netErr net.Error
	if !errors.As(err, &netErr) || !netErr.Timeout() {
		t.Fatalf("expected timeout, got %v", err)
	}
}

func TestInvalidMessageIsRejectedBeforeDialing(t *testing.T) {
	testlog.Start(t)
	f := newFixture(t, tlstest.KeyPKCS1PEM)
	c := newClient(t, f, 1, Options{})
	bad := frame.NewMessage(frame.NewHeaders(frame.Header{Name: "type", Value: "two\nlines"}))
	if _, err := c.SendAndReceive(context.Background(), bad); !errors.Is(err, frame.ErrInvalidHeader) {
		t.Fatalf("expected ErrInvalidHeader, got %v", err)
	}
}

func TestRejectedResponseIsReturned(t *testing.T) {
	testlog.Start(t)
	f := newFixture(t, tlstest.KeyPKCS1PEM)
	resp := frame.NewMessage(frame.NewHeaders(
		frame.Header{Name: "code", Value: "430"},
		frame.Header{Name: "status", Value: "Access denied"},
	))
	port := serve(t, f.ca.ServerTLSConfig(t, f.server), replyWith(nil, resp))

	c := newClient(t, f, port, Options{})
	got, err := c.Statistics(context.Background())
	if err != nil {
		t.Fatalf("statistics: %v", err)
	}
	if got.OK() || got.Code != 430 || got.Status != "Access denied" {
		t.Fatalf("unexpected response: %+v", got)
	}
}

func TestNewValidatesInput(t *testing.T) {
	testlog.Start(t)
	f := newFixture(t, tlstest.KeyPKCS1PEM)

	missingKey := f.settings
	missingKey.ServerPort = 53589
	missingKey.ClientKeyFile = missingKey.ClientKeyFile + ".missing"
	if _, err := New(missingKey, "TLS", Options{}); !errors.Is(err, keys.ErrInvalidInput) {
		t.Fatalf("missing key: expected ErrInvalidInput, got %v", err)
	}

	noHost := f.settings
	noHost.ServerPort = 53589
	noHost.ServerHost = ""
	if _, err := New(noHost, "TLS", Options{}); !errors.Is(err, keys.ErrInvalidInput) {
		t.Fatalf("no host: expected ErrInvalidInput, got %v", err)
	}

	if _, err := New(nil, "TLS", Options{}); !errors.Is(err, keys.ErrInvalidInput) {
		t.Fatalf("nil config: expected ErrInvalidInput, got %v", err)
	}
}

func TestOptionsFromSettings(t *testing.T) {
	testlog.Start(t)
	s := config.DefaultSettings()
	s.ServerHost = "taskd.example.org"
	s.ReadTimeout = 42 * time.Second
	s.MaxMessageBytes = 1024
	opts := OptionsFromSettings(s).WithDefaults()
	if opts.ServerName != "taskd.example.org" || opts.ReadTimeout != 42*time.Second {
		t.Fatalf("unexpected options: %+v", opts)
	}
	if opts.Limits.MaxMessageBytes != 1024 || opts.ClientID == "" {
		t.Fatalf("unexpected options: %+v", opts)
	}
}
