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

package uritemplate

import (
	"reflect"
	"testing"
)

func TestParseErrors(t *testing.T) {
	testCases := []struct {
		name     string
		template string
	}{
		{name: "unbalanced braces", template: "file:///{path"},
		{name: "invalid variable name", template: "file:///{1bad}"},
		{name: "invalid query variable", template: "db://{table}{?-x}"},
		{name: "unterminated query expression", template: "db://{table}{?x"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Parse(tc.template); err == nil {
				t.Fatalf("expected parse error for %q", tc.template)
			}
		})
	}
}

func TestMatch(t *testing.T) {
	testCases := []struct {
		name     string
		template string
		uri      string
		want     map[string]string
	}{
		{
			name:     "single segment",
			template: "file:///docs/{name}",
			uri:      "file:///docs/readme",
			want:     map[string]string{"name": "readme"},
		},
		{
			name:     "segment variable stops at slash",
			template: "file:///docs/{name}",
			uri:      "file:///docs/a/b",
			want:     nil,
		},
		{
			name:     "explode crosses segments",
			template: "file:///{path*}",
			uri:      "file:///a/b/c",
			want:     map[string]string{"path": "a/b/c"},
		},
		{
			name:     "multiple variables",
			template: "db://{schema}/{table}",
			uri:      "db://public/users",
			want:     map[string]string{"schema": "public", "table": "users"},
		},
		{
			name:     "percent-encoded value decodes",
			template: "file:///docs/{name}",
			uri:      "file:///docs/hello%20world",
			want:     map[string]string{"name": "hello world"},
		},
		{
			name:     "query variables bind when present",
			template: "db://{table}{?limit,offset}",
			uri:      "db://users?limit=10",
			want:     map[string]string{"table": "users", "limit": "10"},
		},
		{
			name:     "undeclared query parameters are ignored",
			template: "db://{table}{?limit}",
			uri:      "db://users?limit=10&order=asc",
			want:     map[string]string{"table": "users", "limit": "10"},
		},
		{
			name:     "no match",
			template: "file:///docs/{name}",
			uri:      "http://docs/readme",
			want:     nil,
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			tpl, err := Parse(tc.template)
			if err != nil {
				t.Fatalf("unexpected parse error: %s", err)
			}
			got := tpl.Match(tc.uri)
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("unexpected match: got %v, want %v", got, tc.want)
			}
		})
	}
}

func TestExpand(t *testing.T) {
	testCases := []struct {
		name     string
		template string
		params   map[string]string
		want     string
	}{
		{
			name:     "simple substitution",
			template: "file:///docs/{name}",
			params:   map[string]string{"name": "readme"},
			want:     "file:///docs/readme",
		},
		{
			name:     "reserved characters are encoded",
			template: "file:///docs/{name}",
			params:   map[string]string{"name": "hello world"},
			want:     "file:///docs/hello%20world",
		},
		{
			name:     "query variables append in order",
			template: "db://{table}{?limit,offset}",
			params:   map[string]string{"table": "users", "limit": "10", "offset": "20"},
			want:     "db://users?limit=10&offset=20",
		},
		{
			name:     "absent query variables are omitted",
			template: "db://{table}{?limit,offset}",
			params:   map[string]string{"table": "users", "offset": "20"},
			want:     "db://users?offset=20",
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			tpl, err := Parse(tc.template)
			if err != nil {
				t.Fatalf("unexpected parse error: %s", err)
			}
			if got := tpl.Expand(tc.params); got != tc.want {
				t.Fatalf("unexpected expansion: got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestExpandMatchRoundTrip(t *testing.T) {
	tpl, err := Parse("db://{schema}/{table}")
	if err != nil {
		t.Fatalf("unexpected parse error: %s", err)
	}
	params := map[string]string{"schema": "public", "table": "user accounts"}
	got := tpl.Match(tpl.Expand(params))
	if !reflect.DeepEqual(got, params) {
		t.Fatalf("round trip mismatch: got %v, want %v", got, params)
	}
}

func TestNames(t *testing.T) {
	tpl, err := Parse("db://{schema}/{table}{?limit}")
	if err != nil {
		t.Fatalf("unexpected parse error: %s", err)
	}
	want := []string{"schema", "table", "limit"}
	if got := tpl.Names(); !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected names: got %v, want %v", got, want)
	}
}
