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

package log

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
)

// valueTextHandler writes human readable logs of the form
// "2006-01-02T15:04:05.000Z INFO message key=value".
type valueTextHandler struct {
	opts slog.HandlerOptions
	mu   *sync.Mutex
	out  io.Writer

	attrs []slog.Attr
}

func newValueTextHandler(out io.Writer, opts *slog.HandlerOptions) *valueTextHandler {
	h := &valueTextHandler{out: out, mu: &sync.Mutex{}}
	if opts != nil {
		h.opts = *opts
	}
	if h.opts.Level == nil {
		h.opts.Level = slog.LevelInfo
	}
	return h
}

func (h *valueTextHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.opts.Level.Level()
}

func (h *valueTextHandler) Handle(_ context.Context, r slog.Record) error {
	buf := make([]byte, 0, 1024)
	if !r.Time.IsZero() {
		buf = fmt.Appendf(buf, "%s ", r.Time.UTC().Format("2006-01-02T15:04:05.000Z"))
	}
	buf = fmt.Appendf(buf, "%s ", r.Level)
	buf = fmt.Appendf(buf, "%q ", r.Message)
	for _, a := range h.attrs {
		buf = h.appendAttr(buf, a)
	}
	r.Attrs(func(a slog.Attr) bool {
		buf = h.appendAttr(buf, a)
		return true
	})
	buf = append(buf, '\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.out.Write(buf)
	return err
}

func (h *valueTextHandler) appendAttr(buf []byte, a slog.Attr) []byte {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return buf
	}
	return fmt.Appendf(buf, "%s=%v ", a.Key, a.Value)
}

func (h *valueTextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	h2 := *h
	h2.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &h2
}

// WithGroup is a no-op: grouped attributes are flattened.
func (h *valueTextHandler) WithGroup(_ string) slog.Handler {
	return h
}
