package mcp

import (
	"encoding/json"

	"github.com/overseer/internal/domain"
)

// JSON-RPC 2.0 reserved codes plus the custom tool-dispatch space
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603

	CodeToolNotFound = -32000
	CodeAccessDenied = -32001
	CodeValidation   = -32002
	CodeToolFailure  = -32003
)

// Request is one JSON-RPC 2.0 request. A missing id marks a notification.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// IsNotification reports whether the request expects no response
func (r *Request) IsNotification() bool {
	return len(r.ID) == 0 || string(r.ID) == "null"
}

// Response is one JSON-RPC 2.0 response
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  interface{}     `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is the error member of a response
type RPCError struct {
	Code    int        `json:"code"`
	Message string     `json:"message"`
	Data    *ErrorData `json:"data,omitempty"`
}

// ErrorData is the structured error payload. It never carries secret
// material; tool implementations redact before returning.
type ErrorData struct {
	Kind           string `json:"kind,omitempty"`
	Recommendation string `json:"recommendation,omitempty"`
}

func newResponse(id json.RawMessage, result interface{}) *Response {
	return &Response{JSONRPC: "2.0", ID: normalizeID(id), Result: result}
}

func newErrorResponse(id json.RawMessage, code int, message string, data *ErrorData) *Response {
	return &Response{
		JSONRPC: "2.0",
		ID:      normalizeID(id),
		Error:   &RPCError{Code: code, Message: message, Data: data},
	}
}

func normalizeID(id json.RawMessage) json.RawMessage {
	if len(id) == 0 {
		return json.RawMessage("null")
	}
	return id
}

// errorResponseFor maps a domain error to the JSON-RPC error space
func errorResponseFor(id json.RawMessage, err error) *Response {
	code := CodeToolFailure
	switch {
	case domain.IsNotFound(err):
		code = CodeToolNotFound
	case domain.IsAccessDenied(err):
		code = CodeAccessDenied
	case domain.IsValidation(err) || domain.IsConflict(err):
		code = CodeValidation
	}

	data := &ErrorData{Kind: domain.CodeOf(err)}
	if rec := domain.RecommendationOf(err); rec != "" {
		data.Recommendation = rec
	}
	return newErrorResponse(id, code, err.Error(), data)
}
