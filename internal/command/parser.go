// Package command recognizes tool calls embedded in free text.
//
// Three syntaxes are tried in priority order:
//
//  1. JSON object form:  {"tool": "calc", "params": {"a": 1}}
//  2. Call form:         @calc(a=1, b=true)   (the @ prefix is optional)
//  3. Colon form:        calc: a=1, b=true
//
// Text matching none of them is plain conversation, never an error.
package command

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/oklog/ulid/v2"

	"github.com/sessionkit/sessionkit/pkg/types"
)

var (
	callRe  = regexp.MustCompile(`(?s)^@?([A-Za-z_][A-Za-z0-9_-]*)\s*\((.*)\)$`)
	colonRe = regexp.MustCompile(`(?s)^@?([A-Za-z_][A-Za-z0-9_-]*)\s*:\s*(.+)$`)
)

// Parse attempts to recognize a tool call in text. It returns the parsed
// invocation and true, or nil and false when the text is plain conversation.
func Parse(text string) (*types.ToolInvocation, bool) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, false
	}

	if inv, ok := parseJSON(trimmed); ok {
		return inv, true
	}

	if m := callRe.FindStringSubmatch(trimmed); m != nil {
		if args, ok := parsePairs(m[2]); ok {
			return newInvocation(m[1], args), true
		}
	}

	if m := colonRe.FindStringSubmatch(trimmed); m != nil {
		// The colon form requires at least one key=value pair so that
		// ordinary prose like "note: call me later" falls through.
		if args, ok := parsePairs(m[2]); ok && len(args) > 0 {
			return newInvocation(m[1], args), true
		}
	}

	return nil, false
}

func newInvocation(name string, args map[string]any) *types.ToolInvocation {
	return &types.ToolInvocation{
		ID:        ulid.Make().String(),
		Name:      name,
		Arguments: args,
	}
}

// parseJSON handles the structured object form.
func parseJSON(text string) (*types.ToolInvocation, bool) {
	if !strings.HasPrefix(text, "{") {
		return nil, false
	}

	var payload struct {
		Tool   string         `json:"tool"`
		Params map[string]any `json:"params"`
	}
	if err := json.Unmarshal([]byte(text), &payload); err != nil || payload.Tool == "" {
		return nil, false
	}

	args := payload.Params
	if args == nil {
		args = map[string]any{}
	}
	return newInvocation(payload.Tool, args), true
}

// parsePairs parses "k1=v1, k2=v2" argument lists. An empty list is valid.
// Any non-empty segment without '=' rejects the whole list.
func parsePairs(text string) (map[string]any, bool) {
	args := make(map[string]any)
	if strings.TrimSpace(text) == "" {
		return args, true
	}

	for _, segment := range splitArgs(text) {
		segment = strings.TrimSpace(segment)
		if segment == "" {
			continue
		}
		key, value, found := strings.Cut(segment, "=")
		key = strings.TrimSpace(key)
		if !found || key == "" {
			return nil, false
		}
		args[key] = coerce(value)
	}
	return args, true
}

// splitArgs splits on commas outside of single or double quotes.
func splitArgs(text string) []string {
	var (
		segments []string
		current  strings.Builder
		quote    rune
	)

	for _, r := range text {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			}
			current.WriteRune(r)
		case r == '\'' || r == '"':
			quote = r
			current.WriteRune(r)
		case r == ',':
			segments = append(segments, current.String())
			current.Reset()
		default:
			current.WriteRune(r)
		}
	}
	segments = append(segments, current.String())
	return segments
}

// coerce converts a textual argument value to its typed form:
// booleans, null, numbers, quoted strings, then raw strings.
func coerce(raw string) any {
	v := strings.TrimSpace(raw)

	switch v {
	case "true":
		return true
	case "false":
		return false
	case "null":
		return nil
	}

	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return f
	}

	if len(v) >= 2 {
		first, last := v[0], v[len(v)-1]
		if (first == '"' && last == '"') || (first == '\'' && last == '\'') {
			return v[1 : len(v)-1]
		}
	}

	return v
}
