package control

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

const jsonrpcVersion = "2.0"

// Application error codes returned in error envelopes. Protocol violations
// never produce an envelope; they terminate the session.
const (
	CodeUnknownNetworkSend    = -32001
	CodeUnknownNetworkDelete  = -32002
	CodeUnknownNetworkHistory = -32003
	CodeHistoryDisabled       = -32004
)

// errProtocol marks a request the session must die for: malformed JSON, a
// bad envelope shape, an unknown method, or a wrong secret. No response is
// ever written for it.
var errProtocol = errors.New("control protocol violation")

// errSessionClosed marks a clean, client-requested disconnect.
var errSessionClosed = errors.New("control session closed")

// Request is one decoded control request.
type Request struct {
	ID     json.RawMessage
	Method string
	Params map[string]any
}

// Error is the JSON-RPC error object.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Response is the reply envelope for one request. ID is echoed verbatim,
// including null when the caller sent none.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Notification is an unsolicited server-to-client push. It carries no ID.
type Notification struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

// handlerParams is the payload of a stream push.
type handlerParams struct {
	Network string `json:"network"`
	Message string `json:"message"`
}

func successResponse(id json.RawMessage, result any) *Response {
	return &Response{JSONRPC: jsonrpcVersion, ID: id, Result: result}
}

func errorResponse(id json.RawMessage, code int, message string) *Response {
	return &Response{JSONRPC: jsonrpcVersion, ID: id, Error: &Error{Code: code, Message: message}}
}

// wireRequest mirrors the envelope loosely enough to tell a missing field
// from a present-but-wrong one.
type wireRequest struct {
	JSONRPC *string         `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  *string         `json:"method"`
	Params  json.RawMessage `json:"params"`
}

// decodeFrame parses one control line into its requests. A JSON array is a
// batch; a JSON object is a single request; anything else is a violation.
func decodeFrame(line string) (reqs []Request, batch bool, err error) {
	trimmed := bytes.TrimSpace([]byte(line))
	if len(trimmed) == 0 {
		return nil, false, errProtocol
	}

	if trimmed[0] == '[' {
		var elems []json.RawMessage
		if jsonErr := json.Unmarshal(trimmed, &elems); jsonErr != nil {
			return nil, false, errProtocol
		}
		reqs = make([]Request, 0, len(elems))
		for _, elem := range elems {
			req, reqErr := decodeRequest(elem)
			if reqErr != nil {
				return nil, true, reqErr
			}
			reqs = append(reqs, req)
		}
		return reqs, true, nil
	}

	req, reqErr := decodeRequest(trimmed)
	if reqErr != nil {
		return nil, false, reqErr
	}
	return []Request{req}, false, nil
}

func decodeRequest(raw json.RawMessage) (Request, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Request{}, errProtocol
	}

	var wire wireRequest
	if err := json.Unmarshal(trimmed, &wire); err != nil {
		return Request{}, errProtocol
	}
	if wire.JSONRPC == nil || *wire.JSONRPC != jsonrpcVersion {
		return Request{}, errProtocol
	}
	if wire.Method == nil || *wire.Method == "" {
		return Request{}, errProtocol
	}

	params, err := decodeParams(wire.Params)
	if err != nil {
		return Request{}, err
	}
	return Request{ID: wire.ID, Method: *wire.Method, Params: params}, nil
}

// decodeParams requires params to be a JSON object. Absent, null, or
// non-object params are violations.
func decodeParams(raw json.RawMessage) (map[string]any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, errProtocol
	}
	var params map[string]any
	if err := json.Unmarshal(trimmed, &params); err != nil {
		return nil, errProtocol
	}
	return params, nil
}

func stringParam(params map[string]any, key string) (string, bool) {
	v, ok := params[key].(string)
	return v, ok
}

func intParam(params map[string]any, key string, fallback int) int {
	if v, ok := params[key].(float64); ok {
		return int(v)
	}
	return fallback
}

func unknownNetworkMessage(method, name string) string {
	return fmt.Sprintf("%s: unknown network %q", method, name)
}
