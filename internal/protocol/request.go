package protocol

import (
	"fmt"
	"strings"

	"github.com/danmuck/twsync/internal/protocol/frame"
	"github.com/danmuck/twsync/internal/task"
	"github.com/google/uuid"
)

// Request is one client message before framing.
type Request struct {
	Type     MessageType
	Protocol string
	Client   string
	Auth     Auth
	SyncKey  *uuid.UUID
	Tasks    []task.Task
	Extra    frame.Headers
}

func NewStatistics(client string, auth Auth) Request {
	return Request{Type: TypeStatistics, Protocol: Version, Client: client, Auth: auth}
}

// NewSync builds a sync request. A nil syncKey asks the server for the full
// task set.
func NewSync(client string, auth Auth, syncKey *uuid.UUID, tasks []task.Task) Request {
	return Request{Type: TypeSync, Protocol: Version, Client: client, Auth: auth, SyncKey: syncKey, Tasks: tasks}
}

func (r Request) Validate() error {
	if !r.Type.Valid() {
		return fmt.Errorf("%w: unknown type %q", ErrInvalidRequest, r.Type)
	}
	if r.Protocol != Version {
		return fmt.Errorf("%w: unsupported protocol %q", ErrInvalidRequest, r.Protocol)
	}
	if strings.TrimSpace(r.Client) == "" {
		return fmt.Errorf("%w: missing client identifier", ErrInvalidRequest)
	}
	if err := r.Auth.Validate(); err != nil {
		return err
	}
	for _, h := range r.Extra.List() {
		if _, ok := reservedHeaders[h.Name]; ok {
			return fmt.Errorf("%w: extra header %q overrides a reserved header", ErrInvalidRequest, h.Name)
		}
	}
	if r.Type == TypeStatistics && (r.SyncKey != nil || len(r.Tasks) > 0) {
		return fmt.Errorf("%w: statistics request carries a payload", ErrInvalidRequest)
	}
	return nil
}

// Message lays out the headers as type, protocol, client, org, user, key and
// then any extra headers. The payload holds one JSON task per line followed by
// the sync key.
func (r Request) Message() (frame.Message, error) {
	if err := r.Validate(); err != nil {
		return frame.Message{}, err
	}

	headers := frame.NewHeaders(
		frame.Header{Name: HeaderType, Value: string(r.Type)},
		frame.Header{Name: HeaderProtocol, Value: r.Protocol},
		frame.Header{Name: HeaderClient, Value: r.Client},
	)
	for _, h := range r.Auth.headers() {
		headers.Set(h.Name, h.Value)
	}
	for _, h := range r.Extra.List() {
		headers.Set(h.Name, h.Value)
	}

	lines := make([]string, 0, len(r.Tasks)+1)
	for _, t := range r.Tasks {
		line, err := task.Marshal(t)
		if err != nil {
			return frame.Message{}, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
		}
		lines = append(lines, line)
	}
	if r.SyncKey != nil {
		lines = append(lines, r.SyncKey.String())
	}
	if len(lines) == 0 {
		return frame.NewMessage(headers), nil
	}
	return frame.NewMessageWithPayload(headers, strings.Join(lines, "\n")), nil
}
