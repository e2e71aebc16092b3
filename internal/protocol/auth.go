package protocol

import (
	"fmt"
	"strings"

	"github.com/danmuck/twsync/internal/protocol/frame"
	"github.com/google/uuid"
)

// Auth identifies an account on the server.
type Auth struct {
	Organization string
	User         string
	Key          uuid.UUID
}

func (a Auth) Validate() error {
	if strings.TrimSpace(a.Organization) == "" {
		return fmt.Errorf("%w: missing organization", ErrInvalidRequest)
	}
	if strings.TrimSpace(a.User) == "" {
		return fmt.Errorf("%w: missing user", ErrInvalidRequest)
	}
	if a.Key == uuid.Nil {
		return fmt.Errorf("%w: missing auth key", ErrInvalidRequest)
	}
	return nil
}

func (a Auth) headers() []frame.Header {
	return []frame.Header{
		{Name: HeaderOrg, Value: a.Organization},
		{Name: HeaderUser, Value: a.User},
		{Name: HeaderKey, Value: a.Key.String()},
	}
}
