// Package protocol maps sync and statistics requests onto wire messages and
// wire messages back onto responses.
//
// Ownership boundary:
// - request header layout and authentication headers
// - task/sync-key payload lines
// - response code, status and payload mapping
//
// Framing lives in protocol/frame.
package protocol
