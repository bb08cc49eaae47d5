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

// Package uritemplate implements the RFC 6570 subset used by resource
// templates: `{var}` matches one path segment, `{var*}` matches across
// segments, and a trailing `{?a,b,c}` binds query parameters.
package uritemplate

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// Template is a parsed URI template.
type Template struct {
	raw       string
	pathRe    *regexp.Regexp
	pathVars  []string
	queryVars []string
}

var varNameRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Parse compiles a template string. It returns an error on unbalanced braces
// or invalid variable names.
func Parse(template string) (*Template, error) {
	t := &Template{raw: template}

	pathPart := template
	// A query expression is only recognized at the very end of the template.
	if i := strings.Index(template, "{?"); i >= 0 {
		if !strings.HasSuffix(template, "}") {
			return nil, fmt.Errorf("unterminated query expression in %q", template)
		}
		for _, name := range strings.Split(template[i+2:len(template)-1], ",") {
			name = strings.TrimSpace(name)
			if !varNameRe.MatchString(name) {
				return nil, fmt.Errorf("invalid query variable %q in %q", name, template)
			}
			t.queryVars = append(t.queryVars, name)
		}
		pathPart = template[:i]
	}

	var re strings.Builder
	re.WriteString("^")
	for len(pathPart) > 0 {
		open := strings.IndexByte(pathPart, '{')
		if open < 0 {
			re.WriteString(regexp.QuoteMeta(pathPart))
			break
		}
		re.WriteString(regexp.QuoteMeta(pathPart[:open]))
		closing := strings.IndexByte(pathPart[open:], '}')
		if closing < 0 {
			return nil, fmt.Errorf("unbalanced braces in %q", template)
		}
		name := pathPart[open+1 : open+closing]
		explode := strings.HasSuffix(name, "*")
		name = strings.TrimSuffix(name, "*")
		if !varNameRe.MatchString(name) {
			return nil, fmt.Errorf("invalid variable %q in %q", name, template)
		}
		t.pathVars = append(t.pathVars, name)
		if explode {
			re.WriteString("(.+)")
		} else {
			re.WriteString("([^/?#]+)")
		}
		pathPart = pathPart[open+closing+1:]
	}
	re.WriteString("$")

	compiled, err := regexp.Compile(re.String())
	if err != nil {
		return nil, fmt.Errorf("unable to compile template %q: %w", template, err)
	}
	t.pathRe = compiled
	return t, nil
}

// String returns the raw template string.
func (t *Template) String() string { return t.raw }

// Names returns the path variables followed by the query variables, in
// template order.
func (t *Template) Names() []string {
	names := make([]string, 0, len(t.pathVars)+len(t.queryVars))
	names = append(names, t.pathVars...)
	names = append(names, t.queryVars...)
	return names
}

// Match binds a URI against the template. It returns nil when the URI does
// not match; otherwise a map of URL-decoded variable values, with declared
// query parameters included when present.
func (t *Template) Match(uri string) map[string]string {
	pathPart := uri
	queryPart := ""
	if i := strings.IndexByte(uri, '?'); i >= 0 {
		pathPart, queryPart = uri[:i], uri[i+1:]
	}

	m := t.pathRe.FindStringSubmatch(pathPart)
	if m == nil {
		return nil
	}
	params := make(map[string]string, len(t.pathVars)+len(t.queryVars))
	for i, name := range t.pathVars {
		decoded, err := url.PathUnescape(m[i+1])
		if err != nil {
			return nil
		}
		params[name] = decoded
	}

	if queryPart != "" && len(t.queryVars) > 0 {
		values, err := url.ParseQuery(queryPart)
		if err != nil {
			return nil
		}
		for _, name := range t.queryVars {
			if v, ok := values[name]; ok && len(v) > 0 {
				params[name] = v[0]
			}
		}
	}
	return params
}

// Expand substitutes the given parameters into the template, percent-encoding
// every value except unreserved characters. Query variables absent from the
// params map are omitted.
func (t *Template) Expand(params map[string]string) string {
	var b strings.Builder
	pathPart := t.raw
	if i := strings.Index(pathPart, "{?"); i >= 0 {
		pathPart = pathPart[:i]
	}
	for len(pathPart) > 0 {
		open := strings.IndexByte(pathPart, '{')
		if open < 0 {
			b.WriteString(pathPart)
			break
		}
		b.WriteString(pathPart[:open])
		closing := strings.IndexByte(pathPart[open:], '}')
		name := strings.TrimSuffix(pathPart[open+1:open+closing], "*")
		b.WriteString(percentEncode(params[name]))
		pathPart = pathPart[open+closing+1:]
	}

	first := true
	for _, name := range t.queryVars {
		v, ok := params[name]
		if !ok {
			continue
		}
		if first {
			b.WriteByte('?')
			first = false
		} else {
			b.WriteByte('&')
		}
		b.WriteString(name)
		b.WriteByte('=')
		b.WriteString(percentEncode(v))
	}
	return b.String()
}

// percentEncode encodes everything but RFC 3986 unreserved characters.
func percentEncode(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9',
			c == '-', c == '_', c == '.', c == '~':
			b.WriteByte(c)
		default:
			fmt.Fprintf(&b, "%%%02X", c)
		}
	}
	return b.String()
}
