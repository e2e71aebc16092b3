package frame

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	// LengthPrefixLen is the size of the big-endian length field. The field
	// counts itself.
	LengthPrefixLen = 4

	HeaderSeparator = ": "
	lineSeparator   = "\n"
	blockSeparator  = "\n\n"
)

var (
	ErrIncompleteLengthPrefix = errors.New("frame: incomplete length prefix")
	ErrIncompleteMessage      = errors.New("frame: incomplete message")
	ErrInvalidLength          = errors.New("frame: invalid length prefix")
	ErrMessageTooLarge        = errors.New("frame: message too large")
	ErrMissingSeparator       = errors.New("frame: missing header/payload separator")
	ErrHeaderParse            = errors.New("frame: header line not parsable")
	ErrInvalidHeader          = errors.New("frame: invalid header")
	ErrInvalidUTF8            = errors.New("frame: body is not valid utf-8")
)

var headerLinePattern = regexp.MustCompile(`^(.+?)` + HeaderSeparator + `(.+)$`)

// Limits constrains encode/decode memory use. MaxMessageBytes counts the
// length prefix.
type Limits struct {
	MaxMessageBytes uint32
}

func DefaultLimits() Limits {
	return Limits{
		MaxMessageBytes: 8 * 1024 * 1024,
	}
}

func (l Limits) max() uint32 {
	if l.MaxMessageBytes == 0 {
		return math.MaxUint32
	}
	return l.MaxMessageBytes
}

// Encode serializes m as `beU32(len) ++ "h: v\n...\n\n" ++ payload`.
func Encode(m Message, limits Limits) ([]byte, error) {
	var body strings.Builder
	for _, h := range m.headers.List() {
		if !validHeader(h) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidHeader, h.Name)
		}
		body.WriteString(h.Name)
		body.WriteString(HeaderSeparator)
		body.WriteString(h.Value)
		body.WriteString(lineSeparator)
	}
	body.WriteString(lineSeparator)
	body.WriteString(m.payload)

	total := uint64(body.Len()) + LengthPrefixLen
	if total > uint64(limits.max()) {
		return nil, fmt.Errorf("%w: %d bytes exceeds %d", ErrMessageTooLarge, total, limits.max())
	}

	out := make([]byte, LengthPrefixLen, total)
	binary.BigEndian.PutUint32(out, uint32(total))
	return append(out, body.String()...), nil
}

func WriteMessage(w io.Writer, m Message, limits Limits) error {
	b, err := Encode(m, limits)
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}

// ReadMessage reads exactly one framed message from r. Bytes after the declared
// length are left unread.
func ReadMessage(r io.Reader, limits Limits) (Message, error) {
	var prefix [LengthPrefixLen]byte
	n, err := io.ReadFull(r, prefix[:])
	if err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return Message{}, fmt.Errorf(
				"%w: expected at least %d bytes but only %d are available",
				ErrIncompleteLengthPrefix, LengthPrefixLen, n,
			)
		}
		return Message{}, err
	}

	total := binary.BigEndian.Uint32(prefix[:])
	if total < LengthPrefixLen {
		return Message{}, fmt.Errorf("%w: %d", ErrInvalidLength, total)
	}
	if total > limits.max() {
		return Message{}, fmt.Errorf("%w: %d bytes exceeds %d", ErrMessageTooLarge, total, limits.max())
	}

	body := make([]byte, total-LengthPrefixLen)
	n, err = io.ReadFull(r, body)
	if err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return Message{}, fmt.Errorf("%w: missing %d bytes", ErrIncompleteMessage, len(body)-n)
		}
		return Message{}, err
	}
	return parseBody(body)
}

// Decode parses one framed message held entirely in b.
func Decode(b []byte, limits Limits) (Message, error) {
	return ReadMessage(bytes.NewReader(b), limits)
}

func parseBody(body []byte) (Message, error) {
	if !utf8.Valid(body) {
		return Message{}, ErrInvalidUTF8
	}
	text := string(body)

	idx := strings.Index(text, blockSeparator)
	if idx < 0 {
		return Message{}, ErrMissingSeparator
	}
	headerBlock := text[:idx]
	payload := text[idx+len(blockSeparator):]

	var headers Headers
	for _, line := range strings.Split(headerBlock, lineSeparator) {
		match := headerLinePattern.FindStringSubmatch(line)
		if match == nil {
			return Message{}, fmt.Errorf(
				"%w: header line '%s' must match '%s'",
				ErrHeaderParse, line, headerLinePattern.String(),
			)
		}
		headers.Set(match[1], match[2])
	}

	if payload == "" || payload == lineSeparator {
		return NewMessage(headers), nil
	}
	return NewMessageWithPayload(headers, payload), nil
}
