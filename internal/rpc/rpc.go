// Package rpc defines the JSON-RPC requests and responses that drive the
// pairing and session state machines, plus their typed parameter payloads.
package rpc

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Method names.
const (
	MethodSessionPropose = "wc_sessionPropose"
	MethodPairingDelete  = "wc_pairingDelete"
	MethodPairingPing    = "wc_pairingPing"
	MethodSessionSettle  = "wc_sessionSettle"
	MethodSessionUpdate  = "wc_sessionUpdate"
	MethodSessionExtend  = "wc_sessionExtend"
	MethodSessionDelete  = "wc_sessionDelete"
	MethodSessionPing    = "wc_sessionPing"
	MethodSessionRequest = "wc_sessionRequest"
	MethodSessionEvent   = "wc_sessionEvent"
)

// Request is a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

// Response is a JSON-RPC 2.0 response. Exactly one of Result and Error is
// set.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Error is a JSON-RPC error object.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Error codes surfaced to peers.
const (
	CodeUnauthorizedMethod = 3001
	CodeUnauthorizedEvent  = 3002
	CodeStaleExpiry        = 3003
	CodeInvalidParams      = 3004
	CodeUserRejected       = 5000
	CodeSessionNotActive   = 7001
	// CodeRequestFailed reports that an authorized request or event reached
	// the application handler and failed there.
	CodeRequestFailed = 7002
)

// NewRequest builds a request with a fresh identifier.
func NewRequest(method string, params any) (Request, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return Request{}, fmt.Errorf("encoding %s params: %w", method, err)
	}
	return Request{
		JSONRPC: "2.0",
		ID:      newID(),
		Method:  method,
		Params:  raw,
	}, nil
}

// OK builds the default success response (result: true) for a request.
func OK(id uint64) Response {
	return Result(id, true)
}

// Result builds a success response carrying result.
func Result(id uint64, result any) Response {
	raw, _ := json.Marshal(result)
	return Response{JSONRPC: "2.0", ID: id, Result: raw}
}

// Fail builds an error response.
func Fail(id uint64, code int, message string) Response {
	return Response{JSONRPC: "2.0", ID: id, Error: &Error{Code: code, Message: message}}
}

// newID derives a numeric request id from a random UUID. Collisions across
// the small window of in-flight requests are not a concern at 64 bits.
func newID() uint64 {
	u := uuid.New()
	var id uint64
	for i := 0; i < 8; i++ {
		id = id<<8 | uint64(u[i])
	}
	// JSON numbers survive better below 2^53.
	return id >> 11
}
