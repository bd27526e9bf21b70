package tools

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/BaSui01/agentrelay/types"
)

var (
	actionPattern      = regexp.MustCompile(`(?i)(?:^|\n)\s*(?:\*\*)?action(?:\*\*)?\s*:\s*([A-Za-z_][A-Za-z0-9_\-]*)`)
	actionInputPattern = regexp.MustCompile(`(?i)action\s+input\s*:\s*`)
	thoughtPrefix      = regexp.MustCompile(`(?i)^\s*thought\s*:\s*`)
)

// ParseTextToolCall extracts a tool call written as free text, for providers
// without native function calling. Recognized forms:
//
//	Action: mouse_move(x=10, y=20)
//	Action: mouse_move({"x": 10, "y": 20})
//	Action: mouse_move
//	Action Input: {"x": 10, "y": 20}
//
// It returns the text preceding the action as the thought.
func ParseTextToolCall(text string) (string, *types.ToolCallRequest, bool) {
	loc := actionPattern.FindStringSubmatchIndex(text)
	if loc == nil {
		return strings.TrimSpace(thoughtPrefix.ReplaceAllString(text, "")), nil, false
	}
	thought := strings.TrimSpace(thoughtPrefix.ReplaceAllString(text[:loc[0]], ""))
	name := text[loc[2]:loc[3]]
	rest := text[loc[3]:]

	var rawArgs string
	trimmedRest := strings.TrimLeft(rest, " \t")
	if strings.HasPrefix(trimmedRest, "(") {
		if inner, ok := balancedParens(trimmedRest); ok {
			rawArgs = inner
		}
	} else if m := actionInputPattern.FindStringIndex(rest); m != nil {
		rawArgs = firstJSONObject(rest[m[1]:])
	}

	args, ok := parseTextArguments(rawArgs)
	if !ok {
		args = map[string]any{}
	}
	return thought, &types.ToolCallRequest{ToolID: name, Arguments: args}, true
}

// balancedParens returns the content between the leading '(' and its match.
func balancedParens(s string) (string, bool) {
	depth := 0
	var quote byte
	for i := 0; i < len(s); i++ {
		c := s[i]
		if quote != 0 {
			if c == '\\' {
				i++
				continue
			}
			if c == quote {
				quote = 0
			}
			continue
		}
		switch c {
		case '"', '\'':
			quote = c
		case '(', '{', '[':
			depth++
		case ')', '}', ']':
			depth--
			if depth == 0 && c == ')' {
				return s[1:i], true
			}
		}
	}
	return "", false
}

func firstJSONObject(s string) string {
	start := strings.Index(s, "{")
	if start < 0 {
		return ""
	}
	dec := json.NewDecoder(strings.NewReader(s[start:]))
	var raw json.RawMessage
	if err := dec.Decode(&raw); err != nil {
		return ""
	}
	return string(raw)
}

// parseTextArguments accepts a JSON object or comma separated key=value / key: value pairs.
func parseTextArguments(raw string) (map[string]any, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return map[string]any{}, true
	}
	if strings.HasPrefix(raw, "{") {
		args, err := ParseArguments(json.RawMessage(raw))
		return args, err == nil
	}

	args := map[string]any{}
	for _, part := range splitTopLevel(raw, ',') {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		idx := strings.IndexAny(part, "=:")
		if idx <= 0 {
			return nil, false
		}
		key := strings.Trim(strings.TrimSpace(part[:idx]), `"'`)
		args[key] = parseTextValue(strings.TrimSpace(part[idx+1:]))
	}
	return args, true
}

func parseTextValue(v string) any {
	if len(v) >= 2 && v[0] == '\'' && v[len(v)-1] == '\'' {
		return v[1 : len(v)-1]
	}
	var decoded any
	if err := json.Unmarshal([]byte(v), &decoded); err == nil {
		return decoded
	}
	return v
}

func splitTopLevel(s string, sep byte) []string {
	var parts []string
	depth := 0
	var quote byte
	start := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		if quote != 0 {
			if c == '\\' {
				i++
				continue
			}
			if c == quote {
				quote = 0
			}
			continue
		}
		switch c {
		case '"', '\'':
			quote = c
		case '(', '{', '[':
			depth++
		case ')', '}', ']':
			depth--
		case sep:
			if depth == 0 {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	return append(parts, s[start:])
}
