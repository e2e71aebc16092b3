package frame

import "strings"

// Headers is a set of unique header names with their values. Insertion order is
// kept so that encoding is deterministic; it carries no protocol meaning.
type Headers struct {
	names  []string
	values map[string]string
}

// NewHeaders builds Headers from name/value pairs. Later duplicates replace the
// earlier value but keep the first position.
func NewHeaders(pairs ...Header) Headers {
	var h Headers
	for _, p := range pairs {
		h.Set(p.Name, p.Value)
	}
	return h
}

// Header is one `name: value` entry.
type Header struct {
	Name  string
	Value string
}

func (h *Headers) Set(name string, value string) {
	if h.values == nil {
		h.values = make(map[string]string)
	}
	if _, ok := h.values[name]; !ok {
		h.names = append(h.names, name)
	}
	h.values[name] = value
}

func (h Headers) Get(name string) (string, bool) {
	v, ok := h.values[name]
	return v, ok
}

func (h Headers) Len() int {
	return len(h.names)
}

// List returns a copy of the entries in insertion order.
func (h Headers) List() []Header {
	out := make([]Header, 0, len(h.names))
	for _, name := range h.names {
		out = append(out, Header{Name: name, Value: h.values[name]})
	}
	return out
}

// Map returns a copy of the entries keyed by name.
func (h Headers) Map() map[string]string {
	out := make(map[string]string, len(h.values))
	for k, v := range h.values {
		out[k] = v
	}
	return out
}

func (h Headers) clone() Headers {
	return NewHeaders(h.List()...)
}

// Message is one wire unit: headers plus an optional UTF-8 payload.
// It is immutable once built.
type Message struct {
	headers    Headers
	payload    string
	hasPayload bool
}

// NewMessage builds a message without payload.
func NewMessage(headers Headers) Message {
	return Message{headers: headers.clone()}
}

// NewMessageWithPayload builds a message carrying payload. An empty payload is
// indistinguishable from no payload on the wire and is stored as absent.
func NewMessageWithPayload(headers Headers, payload string) Message {
	m := NewMessage(headers)
	if payload != "" {
		m.payload = payload
		m.hasPayload = true
	}
	return m
}

func (m Message) Headers() Headers {
	return m.headers.clone()
}

func (m Message) Header(name string) (string, bool) {
	return m.headers.Get(name)
}

func (m Message) Payload() (string, bool) {
	return m.payload, m.hasPayload
}

func validHeader(h Header) bool {
	if h.Name == "" || h.Value == "" {
		return false
	}
	if strings.Contains(h.Name, HeaderSeparator) || strings.ContainsAny(h.Name, "\n") {
		return false
	}
	return !strings.ContainsAny(h.Value, "\n")
}
