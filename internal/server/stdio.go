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

package server

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/conduit-mcp/conduit/internal/jsonrpc"
	"github.com/conduit-mcp/conduit/internal/session"
	"github.com/conduit-mcp/conduit/internal/util"
)

// stdioSessionId is the fixed id of the single stdio peer.
const stdioSessionId = "stdio"

type stdioSession struct {
	server  *Server
	reader  *bufio.Reader
	writer  io.Writer
	writeMu sync.Mutex
	session *session.Session
}

// NewStdioSession serves one peer over line-delimited JSON.
func NewStdioSession(s *Server, stdin io.Reader, stdout io.Writer) *stdioSession {
	stdio := &stdioSession{
		server: s,
		reader: bufio.NewReader(stdin),
		writer: stdout,
	}
	stdio.session = session.New(stdioSessionId, func(msg any) error {
		return stdio.write(context.Background(), msg)
	})
	return stdio
}

func newStdioSession(s *Server) *stdioSession {
	return NewStdioSession(s, os.Stdin, os.Stdout)
}

// Start reads messages until EOF or context cancellation.
func (s *stdioSession) Start(ctx context.Context) error {
	ctx = util.WithLogger(ctx, s.server.logger)
	return s.readInputStream(ctx)
}

// readInputStream reads requests/notifications from MCP clients through stdin
func (s *stdioSession) readInputStream(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		line, err := s.readLine(ctx)
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}

		body := injectSessionMeta([]byte(line), stdioSessionId)
		if base, decodeErr := jsonrpc.DecodeBaseMessage(body); decodeErr == nil && base.IsResponse() {
			s.session.HandleResponse(base)
			continue
		}

		res := s.server.dispatcher.Dispatch(ctx, body, s.session)
		// no responses for notifications
		if res != nil {
			if err = s.write(ctx, res); err != nil {
				return err
			}
		}
	}
}

// readLine process each line within the input stream.
func (s *stdioSession) readLine(ctx context.Context) (string, error) {
	readChan := make(chan string, 1)
	errChan := make(chan error, 1)
	done := make(chan struct{})
	defer close(done)

	go func() {
		line, err := s.reader.ReadString('\n')
		if err != nil {
			select {
			case errChan <- err:
			case <-done:
			}
			return
		}
		select {
		case readChan <- line:
		case <-done:
		}
	}()

	select {
	// if context is cancelled, return an empty string
	case <-ctx.Done():
		return "", ctx.Err()
	// return error if error is found
	case err := <-errChan:
		return "", err
	// return line if successful
	case line := <-readChan:
		return line, nil
	}
}

// write writes one message to stdout with a trailing newline.
func (s *stdioSession) write(ctx context.Context, response any) error {
	res, err := json.Marshal(response)
	if err != nil {
		return fmt.Errorf("unable to marshal response: %w", err)
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err = fmt.Fprintf(s.writer, "%s\n", res)
	return err
}
