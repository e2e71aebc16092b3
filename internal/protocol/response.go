package protocol

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/danmuck/twsync/internal/protocol/frame"
	"github.com/danmuck/twsync/internal/task"
	"github.com/google/uuid"
)

// Response is the mapped server reply.
type Response struct {
	Server  string
	Code    int
	Status  string
	SyncKey *uuid.UUID
	Tasks   []task.Task
	Headers frame.Headers
}

// OK reports success: 200 for a normal reply and 201 for "no change".
func (r Response) OK() bool {
	return r.Code == 200 || r.Code == 201
}

func ParseResponse(m frame.Message) (Response, error) {
	raw, ok := m.Header(HeaderCode)
	if !ok {
		return Response{}, fmt.Errorf("%w: missing %s header", ErrInvalidResponse, HeaderCode)
	}
	code, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return Response{}, fmt.Errorf("%w: code '%s' is not numeric", ErrInvalidResponse, raw)
	}

	resp := Response{Code: code, Headers: m.Headers()}
	resp.Status, _ = m.Header(HeaderStatus)
	resp.Server, _ = m.Header(HeaderClient)

	payload, ok := m.Payload()
	if !ok {
		return resp, nil
	}
	for i, line := range strings.Split(payload, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if key, err := uuid.Parse(line); err == nil {
			resp.SyncKey = &key
			continue
		}
		t, err := task.Parse(line)
		if err != nil {
			return Response{}, fmt.Errorf("%w: payload line %d: %w", ErrInvalidResponse, i+1, err)
		}
		resp.Tasks = append(resp.Tasks, t)
	}
	return resp, nil
}
