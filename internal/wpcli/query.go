package wpcli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/itchyny/gojq"
)

var (
	phpVersionQuery = mustCompile(`.php_version // empty`)

	// $prefix is the target id namespace, e.g. "plugin-".
	extensionUpdatesQuery = mustCompile(`
		.[]
		| select((.update_version // "") != "")
		| {
			id: ($prefix + .name),
			name: (.title // .name),
			current: (.version // ""),
			available: .update_version
		}`, "$prefix")

	coreUpdateQuery = mustCompile(`first(.[] | .version // empty)`)

	updatedQuery = mustCompile(`any(.[]; .status == "Updated")`)

	fileModsQuery = mustCompile(`
		.[]
		| select(.name == "DISALLOW_FILE_MODS" and .type == "constant")
		| .value`)
)

func mustCompile(query string, variables ...string) *gojq.Code {
	q, err := gojq.Parse(query)
	if err != nil {
		panic(fmt.Sprintf("wpcli: parse query %q: %v", query, err))
	}
	code, err := gojq.Compile(q, gojq.WithVariables(variables))
	if err != nil {
		panic(fmt.Sprintf("wpcli: compile query %q: %v", query, err))
	}
	return code
}

// runQuery evaluates code against input and collects every emitted value.
func runQuery(code *gojq.Code, input any, values ...any) ([]any, error) {
	var out []any
	iter := code.Run(input, values...)
	for {
		v, ok := iter.Next()
		if !ok {
			break
		}
		if err, ok := v.(error); ok {
			if err, ok := err.(*gojq.HaltError); ok && err.Value() == nil {
				break
			}
			return nil, fmt.Errorf("failed to process query: %w", err)
		}
		out = append(out, v)
	}
	return out, nil
}

// decodeOutput finds the JSON document in WP-CLI output. Some commands
// print progress lines before the formatted result, so the document starts
// at the first line that opens a JSON array or object and runs to the end.
// ok is false when the output holds no JSON document.
func decodeOutput(out []byte) (v any, ok bool, err error) {
	lines := bytes.Split(bytes.TrimSpace(out), []byte("\n"))
	for i, line := range lines {
		line = bytes.TrimSpace(line)
		if len(line) == 0 || (line[0] != '[' && line[0] != '{') {
			continue
		}
		doc := bytes.Join(lines[i:], []byte("\n"))
		if !json.Valid(doc) {
			continue
		}
		if err := json.Unmarshal(doc, &v); err != nil {
			return nil, false, fmt.Errorf("failed to parse wp-cli output: %w", err)
		}
		return v, true, nil
	}
	return nil, false, nil
}

func stringValue(v any) string {
	switch v := v.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

// truthy reports whether a wp-config constant value enables its flag.
func truthy(v any) bool {
	switch v := v.(type) {
	case nil:
		return false
	case bool:
		return v
	case float64:
		return v != 0
	case string:
		s := strings.TrimSpace(strings.ToLower(v))
		if b, err := strconv.ParseBool(s); err == nil {
			return b
		}
		return s != "" && s != "0" && s != "null"
	default:
		return true
	}
}
