package keystore

import (
	"fmt"

	"github.com/google/uuid"
)

const redacted = "[redacted]"

// Passphrase gates access to one Store. It lives only in memory and renders as
// a placeholder when formatted or marshaled.
type Passphrase struct {
	value string
}

// NewPassphrase returns a random passphrase drawn from crypto/rand.
func NewPassphrase() (Passphrase, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return Passphrase{}, fmt.Errorf("keystore: generate passphrase: %w", err)
	}
	return Passphrase{value: id.String()}, nil
}

func (p Passphrase) IsZero() bool {
	return p.value == ""
}

func (p Passphrase) String() string {
	return redacted
}

func (p Passphrase) GoString() string {
	return redacted
}

func (p Passphrase) MarshalText() ([]byte, error) {
	return []byte(redacted), nil
}
