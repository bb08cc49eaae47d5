// Copyright 2025 The Conduit Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package jsonrpc implements the JSON-RPC 2.0 framing used by the Model
// Context Protocol.
package jsonrpc

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// JSONRPC_VERSION is the version of JSON-RPC used by MCP.
const JSONRPC_VERSION = "2.0"

// Standard JSON-RPC error codes
const (
	PARSE_ERROR      = -32700
	INVALID_REQUEST  = -32600
	METHOD_NOT_FOUND = -32601
	INVALID_PARAMS   = -32602
	INTERNAL_ERROR   = -32603
)

// RequestId is a uniquely identifying ID for a request in JSON-RPC.
// It can be any JSON-serializable value, typically a number or string.
// The original wire type is preserved and echoed back on responses;
// stringification happens only for internal matching.
type RequestId interface{}

// IdString normalizes a request id to a string for internal matching.
func IdString(id RequestId) string {
	switch v := id.(type) {
	case nil:
		return ""
	case string:
		return v
	case json.Number:
		return v.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}

// BaseMessage is the minimal decode of any inbound message, enough to
// classify it as a request, response, or notification.
type BaseMessage struct {
	Jsonrpc string          `json:"jsonrpc"`
	Method  string          `json:"method,omitempty"`
	Id      RequestId       `json:"id,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *McpError       `json:"error,omitempty"`
}

// IsRequest reports whether the message carries both an id and a method.
func (m *BaseMessage) IsRequest() bool { return m.Id != nil && m.Method != "" }

// IsResponse reports whether the message carries an id but no method.
func (m *BaseMessage) IsResponse() bool { return m.Id != nil && m.Method == "" }

// IsNotification reports whether the message carries a method but no id.
func (m *BaseMessage) IsNotification() bool { return m.Id == nil && m.Method != "" }

// DecodeBaseMessage decodes raw bytes into a BaseMessage. Numbers decode as
// json.Number so integer ids survive the round trip.
func DecodeBaseMessage(body []byte) (*BaseMessage, error) {
	var msg BaseMessage
	d := json.NewDecoder(bytes.NewReader(body))
	d.UseNumber()
	if err := d.Decode(&msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// JSONRPCRequest represents a request that expects a response.
type JSONRPCRequest struct {
	Jsonrpc string    `json:"jsonrpc"`
	Id      RequestId `json:"id"`
	Method  string    `json:"method"`
	Params  any       `json:"params,omitempty"`
}

// JSONRPCNotification represents a notification which does not expect a response.
type JSONRPCNotification struct {
	Jsonrpc string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// JSONRPCResponse represents a successful (non-error) response to a request.
type JSONRPCResponse struct {
	Jsonrpc string    `json:"jsonrpc"`
	Id      RequestId `json:"id"`
	Result  any       `json:"result"`
}

// McpError represents the error content.
type McpError struct {
	// The error type that occurred.
	Code int `json:"code"`
	// A short description of the error. The message SHOULD be limited
	// to a concise single sentence.
	Message string `json:"message"`
	// Additional information about the error. The value of this member
	// is defined by the sender (e.g. detailed error information, nested errors etc.).
	Data interface{} `json:"data,omitempty"`
}

func (e *McpError) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// JSONRPCError represents a non-successful (error) response to a request.
type JSONRPCError struct {
	Jsonrpc string    `json:"jsonrpc"`
	Id      RequestId `json:"id"`
	Error   McpError  `json:"error"`
}

// NewRequest returns a new JSONRPCRequest for the given method.
func NewRequest(id RequestId, method string, params any) JSONRPCRequest {
	return JSONRPCRequest{Jsonrpc: JSONRPC_VERSION, Id: id, Method: method, Params: params}
}

// NewNotification returns a new JSONRPCNotification for the given method.
func NewNotification(method string, params any) JSONRPCNotification {
	return JSONRPCNotification{Jsonrpc: JSONRPC_VERSION, Method: method, Params: params}
}

// NewResponse returns a new successful JSONRPCResponse.
func NewResponse(id RequestId, result any) JSONRPCResponse {
	return JSONRPCResponse{Jsonrpc: JSONRPC_VERSION, Id: id, Result: result}
}

// NewError returns a new JSONRPCError.
func NewError(id RequestId, code int, message string, data any) JSONRPCError {
	return JSONRPCError{
		Jsonrpc: JSONRPC_VERSION,
		Id:      id,
		Error:   McpError{Code: code, Message: message, Data: data},
	}
}
