// Package message defines the two records exchanged between client and server.
//
// A Request carries a caller-chosen identifier. The server answers every decoded
// Request with exactly one Response echoing that identifier.
package message

// AckText is the acknowledgment text placed in every successful Response.
const AckText = "response message"

// Request is the inbound record. It is decoded once per read and never mutated.
type Request struct {
	ID uint64 // Identifies the call; echoed back in Response.ID
}

// Response is the outbound record built by the connection handler.
//
//   - ID:      copied from the Request it answers
//   - Message: AckText on success, a short diagnostic otherwise
//   - Success: true unless the handler chain failed
type Response struct {
	ID      uint64
	Message string
	Success bool
}

// Ack builds the acknowledgment Response for req.
func Ack(req *Request) *Response {
	return &Response{
		ID:      req.ID,
		Message: AckText,
		Success: true,
	}
}
