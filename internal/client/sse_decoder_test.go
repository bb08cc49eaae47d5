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

package client

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReadEvent(t *testing.T) {
	testCases := []struct {
		name   string
		stream string
		want   []SSEEvent
	}{
		{
			name:   "single event",
			stream: "event: endpoint\ndata: /messages?session_id=abc\n\n",
			want:   []SSEEvent{{Type: "endpoint", Data: "/messages?session_id=abc"}},
		},
		{
			name:   "data only",
			stream: "data: {\"jsonrpc\":\"2.0\"}\n\n",
			want:   []SSEEvent{{Data: "{\"jsonrpc\":\"2.0\"}"}},
		},
		{
			name:   "multi-line data",
			stream: "data: first\ndata: second\n\n",
			want:   []SSEEvent{{Data: "first\nsecond"}},
		},
		{
			name:   "comment skipped",
			stream: ": keepalive\ndata: hello\n\n",
			want:   []SSEEvent{{Data: "hello"}},
		},
		{
			name:   "id field",
			stream: "id: 7\ndata: hello\n\n",
			want:   []SSEEvent{{ID: "7", Data: "hello"}},
		},
		{
			name:   "crlf line endings",
			stream: "event: heartbeat\r\ndata: 1\r\n\r\n",
			want:   []SSEEvent{{Type: "heartbeat", Data: "1"}},
		},
		{
			name:   "stray separators between events",
			stream: "\n\ndata: one\n\n\ndata: two\n\n",
			want:   []SSEEvent{{Data: "one"}, {Data: "two"}},
		},
		{
			name:   "eof flushes partial event",
			stream: "event: endpoint\ndata: /messages",
			want:   []SSEEvent{{Type: "endpoint", Data: "/messages"}},
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			d := newSSEDecoder(io.NopCloser(strings.NewReader(tc.stream)))
			var got []SSEEvent
			for {
				event, err := d.ReadEvent()
				if err != nil {
					require.ErrorIs(t, err, io.EOF)
					break
				}
				got = append(got, *event)
			}
			require.Equal(t, tc.want, got)
		})
	}
}

func TestReadEventEmptyStream(t *testing.T) {
	d := newSSEDecoder(io.NopCloser(strings.NewReader("")))
	_, err := d.ReadEvent()
	require.ErrorIs(t, err, io.EOF)
}
