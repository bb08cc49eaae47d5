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
	"bufio"
	"errors"
	"io"
	"strings"
)

// ErrStreamClosed reports a read on a closed SSE stream.
var ErrStreamClosed = errors.New("stream closed")

// SSEEvent is one decoded server-sent event.
type SSEEvent struct {
	Type string
	Data string
	ID   string
}

// sseDecoder reads the text/event-stream framing: "field: value" lines
// accumulated until a blank line terminates the event.
type sseDecoder struct {
	reader *bufio.Reader
	closer io.Closer
}

func newSSEDecoder(r io.ReadCloser) *sseDecoder {
	return &sseDecoder{reader: bufio.NewReader(r), closer: r}
}

// ReadEvent blocks until one complete event arrives. Comment lines are
// skipped; EOF mid-event flushes the partial event.
func (d *sseDecoder) ReadEvent() (*SSEEvent, error) {
	event := &SSEEvent{}
	var dataLines []string

	flush := func() *SSEEvent {
		event.Data = strings.Join(dataLines, "\n")
		return event
	}

	for {
		line, err := d.reader.ReadString('\n')
		line = strings.TrimSuffix(line, "\n")
		line = strings.TrimSuffix(line, "\r")
		if err != nil {
			if err == io.EOF && (len(dataLines) > 0 || event.Type != "") {
				return flush(), nil
			}
			return nil, err
		}

		if line == "" {
			if len(dataLines) == 0 && event.Type == "" && event.ID == "" {
				// Stray separator between events.
				continue
			}
			return flush(), nil
		}
		if strings.HasPrefix(line, ":") {
			// Keepalive comment.
			continue
		}

		field, value, found := strings.Cut(line, ":")
		if !found {
			field, value = line, ""
		}
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			event.Type = value
		case "data":
			dataLines = append(dataLines, value)
		case "id":
			event.ID = value
		}
	}
}

func (d *sseDecoder) Close() error {
	if d.closer != nil {
		return d.closer.Close()
	}
	return nil
}
