package protocol

// MessageType is the value of the `type` request header.
type MessageType string

const (
	TypeSync       MessageType = "sync"
	TypeStatistics MessageType = "statistics"
)

func (t MessageType) Valid() bool {
	return t == TypeSync || t == TypeStatistics
}

// Version is the only protocol revision spoken.
const Version = "v1"

const (
	HeaderType     = "type"
	HeaderProtocol = "protocol"
	HeaderClient   = "client"
	HeaderOrg      = "org"
	HeaderUser     = "user"
	HeaderKey      = "key"

	HeaderCode   = "code"
	HeaderStatus = "status"
)

var reservedHeaders = map[string]struct{}{
	HeaderType:     {},
	HeaderProtocol: {},
	HeaderClient:   {},
	HeaderOrg:      {},
	HeaderUser:     {},
	HeaderKey:      {},
}
