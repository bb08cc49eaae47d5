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

package mcp

import (
	"encoding/base64"
	"encoding/json"
)

// cursorPayload is the tiny JSON object wrapped by an opaque cursor.
type cursorPayload struct {
	Offset int `json:"o"`
}

// EncodeCursor wraps a numeric offset into an opaque base64 cursor.
func EncodeCursor(offset int) Cursor {
	b, _ := json.Marshal(cursorPayload{Offset: offset})
	return Cursor(base64.StdEncoding.EncodeToString(b))
}

// DecodeCursor unwraps an opaque cursor back to its offset. Invalid or
// non-base64 cursors decode to offset 0, never an error.
func DecodeCursor(c Cursor) int {
	if c == "" {
		return 0
	}
	b, err := base64.StdEncoding.DecodeString(string(c))
	if err != nil {
		return 0
	}
	var p cursorPayload
	if err := json.Unmarshal(b, &p); err != nil {
		return 0
	}
	if p.Offset < 0 {
		return 0
	}
	return p.Offset
}

// Paginate slices items according to an opaque cursor and page size. A page
// size <= 0 disables pagination: the whole list comes back with no cursor.
// The second return is the cursor of the next page, empty on the last page.
func Paginate[T any](items []T, cursor Cursor, pageSize int) ([]T, Cursor) {
	if pageSize <= 0 {
		return items, ""
	}
	offset := DecodeCursor(cursor)
	if offset >= len(items) {
		return []T{}, ""
	}
	end := offset + pageSize
	if end >= len(items) {
		return items[offset:], ""
	}
	return items[offset:end], EncodeCursor(end)
}
