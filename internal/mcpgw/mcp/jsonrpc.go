package mcp

import (
	"bytes"
	"encoding/json"
)

// JSON-RPC 2.0 error codes.
const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeToolFailed     = -32000
)

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// notification reports a request without an id; it gets no response body.
func (r rpcRequest) notification() bool {
	return len(r.ID) == 0 || bytes.Equal(r.ID, []byte("null"))
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  any             `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *rpcError) Error() string { return e.Message }

func rpcErr(id json.RawMessage, code int, msg string, data any) rpcResponse {
	return rpcResponse{JSONRPC: "2.0", ID: id, Error: &rpcError{Code: code, Message: msg, Data: data}}
}

func rpcOK(id json.RawMessage, result any) rpcResponse {
	return rpcResponse{JSONRPC: "2.0", ID: id, Result: result}
}

// parseRPCRequest decodes one request. Failures come back as an *rpcError
// carrying the code to answer with.
func parseRPCRequest(body []byte) (rpcRequest, *rpcError) {
	var req rpcRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return rpcRequest{}, &rpcError{Code: codeParseError, Message: "parse error", Data: err.Error()}
	}
	switch {
	case req.JSONRPC != "" && req.JSONRPC != "2.0":
		return req, &rpcError{Code: codeInvalidRequest, Message: "unsupported jsonrpc version"}
	case req.Method == "":
		return req, &rpcError{Code: codeInvalidRequest, Message: "missing method"}
	}
	return req, nil
}
