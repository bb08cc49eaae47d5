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

package jsonrpc

import (
	"encoding/json"
	"testing"
)

func TestClassification(t *testing.T) {
	testCases := []struct {
		name           string
		body           string
		isRequest      bool
		isResponse     bool
		isNotification bool
	}{
		{
			name:      "request with string id",
			body:      `{"jsonrpc":"2.0","id":"abc","method":"ping"}`,
			isRequest: true,
		},
		{
			name:      "request with numeric id",
			body:      `{"jsonrpc":"2.0","id":7,"method":"tools/list"}`,
			isRequest: true,
		},
		{
			name:       "response",
			body:       `{"jsonrpc":"2.0","id":"abc","result":{}}`,
			isResponse: true,
		},
		{
			name:       "error response",
			body:       `{"jsonrpc":"2.0","id":3,"error":{"code":-32601,"message":"nope"}}`,
			isResponse: true,
		},
		{
			name:           "notification",
			body:           `{"jsonrpc":"2.0","method":"notifications/initialized"}`,
			isNotification: true,
		},
		{
			name: "neither",
			body: `{"jsonrpc":"2.0"}`,
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			msg, err := DecodeBaseMessage([]byte(tc.body))
			if err != nil {
				t.Fatalf("unexpected decode error: %s", err)
			}
			if got := msg.IsRequest(); got != tc.isRequest {
				t.Errorf("IsRequest: got %t, want %t", got, tc.isRequest)
			}
			if got := msg.IsResponse(); got != tc.isResponse {
				t.Errorf("IsResponse: got %t, want %t", got, tc.isResponse)
			}
			if got := msg.IsNotification(); got != tc.isNotification {
				t.Errorf("IsNotification: got %t, want %t", got, tc.isNotification)
			}
		})
	}
}

func TestIntegerIdRoundTrip(t *testing.T) {
	msg, err := DecodeBaseMessage([]byte(`{"jsonrpc":"2.0","id":42,"method":"ping"}`))
	if err != nil {
		t.Fatalf("unexpected decode error: %s", err)
	}

	out, err := json.Marshal(NewResponse(msg.Id, map[string]any{}))
	if err != nil {
		t.Fatalf("unexpected marshal error: %s", err)
	}
	var echoed struct {
		Id json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(out, &echoed); err != nil {
		t.Fatalf("unexpected unmarshal error: %s", err)
	}
	if string(echoed.Id) != "42" {
		t.Fatalf("integer id did not survive the round trip: got %s, want 42", echoed.Id)
	}
}

func TestIdString(t *testing.T) {
	testCases := []struct {
		name string
		id   RequestId
		want string
	}{
		{name: "string", id: "req_1", want: "req_1"},
		{name: "number", id: json.Number("42"), want: "42"},
		{name: "nil", id: nil, want: ""},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IdString(tc.id); got != tc.want {
				t.Fatalf("got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestDecodeBaseMessageInvalid(t *testing.T) {
	if _, err := DecodeBaseMessage([]byte(`{"jsonrpc":`)); err == nil {
		t.Fatal("expected an error for truncated input")
	}
}
