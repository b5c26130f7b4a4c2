package config

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// The example pack carries no TOML library in any go.mod (Go or Rust), so
// ~/.meepo/config.toml is read with a small hand-rolled scanner instead of
// an unseen dependency. It only needs to understand the flat key/value,
// [section] and [[array-of-tables]] shapes config.toml actually uses —
// not the full TOML grammar (no multi-line strings, no datetimes, no
// inline tables).
//
// Rather than hand-write field-by-field assignment, the parsed document is
// re-marshaled through yaml.v3 and unmarshaled into Config the same way
// config.go already does for policy.yaml, so the struct's existing
// `yaml:"..."` tags double as its TOML field map.

type tomlTable map[string]any

// parseTOML parses a TOML document into a nested map[string]any.
func parseTOML(data []byte) (tomlTable, error) {
	root := tomlTable{}
	var current tomlTable = root
	var currentArrayKey string

	scanner := bufio.NewScanner(strings.NewReader(string(data)))
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := stripComment(scanner.Text())
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "[[") && strings.HasSuffix(line, "]]") {
			path := strings.TrimSpace(line[2 : len(line)-2])
			tbl := tomlTable{}
			arr, _ := root[path].([]tomlTable)
			arr = append(arr, tbl)
			root[path] = arr
			current = tbl
			currentArrayKey = path
			continue
		}
		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			path := strings.TrimSpace(line[1 : len(line)-1])
			tbl := navigateTable(root, path)
			current = tbl
			currentArrayKey = ""
			continue
		}

		eq := strings.Index(line, "=")
		if eq < 0 {
			return nil, fmt.Errorf("config.toml line %d: expected key = value", lineNo)
		}
		key := strings.TrimSpace(line[:eq])
		valStr := strings.TrimSpace(line[eq+1:])
		val, err := parseTOMLValue(valStr)
		if err != nil {
			return nil, fmt.Errorf("config.toml line %d: %w", lineNo, err)
		}
		current[key] = val
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	_ = currentArrayKey
	return root, nil
}

func navigateTable(root tomlTable, path string) tomlTable {
	parts := strings.Split(path, ".")
	cur := root
	for _, p := range parts {
		next, ok := cur[p].(tomlTable)
		if !ok {
			next = tomlTable{}
			cur[p] = next
		}
		cur = next
	}
	return cur
}

func stripComment(line string) string {
	inString := false
	for i, r := range line {
		switch r {
		case '"':
			inString = !inString
		case '#':
			if !inString {
				return line[:i]
			}
		}
	}
	return line
}

func parseTOMLValue(s string) (any, error) {
	switch {
	case s == "true":
		return true, nil
	case s == "false":
		return false, nil
	case strings.HasPrefix(s, "\"") && strings.HasSuffix(s, "\"") && len(s) >= 2:
		return strings.Trim(s, "\""), nil
	case strings.HasPrefix(s, "["):
		return parseTOMLArray(s)
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i, nil
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f, nil
	}
	return nil, fmt.Errorf("unrecognized value %q", s)
}

func parseTOMLArray(s string) ([]any, error) {
	inner := strings.TrimSuffix(strings.TrimPrefix(s, "["), "]")
	inner = strings.TrimSpace(inner)
	if inner == "" {
		return []any{}, nil
	}
	parts := splitTopLevel(inner, ',')
	out := make([]any, 0, len(parts))
	for _, p := range parts {
		v, err := parseTOMLValue(strings.TrimSpace(p))
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func splitTopLevel(s string, sep rune) []string {
	var parts []string
	var buf strings.Builder
	inString := false
	depth := 0
	for _, r := range s {
		switch r {
		case '"':
			inString = !inString
		case '[':
			if !inString {
				depth++
			}
		case ']':
			if !inString {
				depth--
			}
		}
		if r == sep && !inString && depth == 0 {
			parts = append(parts, buf.String())
			buf.Reset()
			continue
		}
		buf.WriteRune(r)
	}
	parts = append(parts, buf.String())
	return parts
}

// unmarshalTOML parses TOML bytes into v by bridging through yaml.v3,
// reusing v's existing `yaml:"..."` struct tags.
func unmarshalTOML(data []byte, v any) error {
	table, err := parseTOML(data)
	if err != nil {
		return err
	}
	bridged, err := yaml.Marshal(tomlToYAMLShape(table))
	if err != nil {
		return fmt.Errorf("bridge config.toml to yaml: %w", err)
	}
	return yaml.Unmarshal(bridged, v)
}

// tomlToYAMLShape recursively converts tomlTable/[]tomlTable into
// map[string]any/[]any so yaml.Marshal renders ordinary YAML.
func tomlToYAMLShape(v any) any {
	switch t := v.(type) {
	case tomlTable:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = tomlToYAMLShape(val)
		}
		return out
	case []tomlTable:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = tomlToYAMLShape(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = tomlToYAMLShape(val)
		}
		return out
	default:
		return v
	}
}

// marshalTOML renders v (any YAML-tagged struct) back to TOML text. It
// round-trips through yaml.Marshal to get a generic map, then walks that
// map emitting TOML sections — sufficient for config.toml's flat/one-level
// table shape; it does not attempt to preserve comments or key order.
func marshalTOML(v any) ([]byte, error) {
	yamlBytes, err := yaml.Marshal(v)
	if err != nil {
		return nil, err
	}
	var generic map[string]any
	if err := yaml.Unmarshal(yamlBytes, &generic); err != nil {
		return nil, err
	}
	var b strings.Builder
	writeTOMLTable(&b, "", generic)
	return []byte(b.String()), nil
}

func writeTOMLTable(b *strings.Builder, prefix string, m map[string]any) {
	var scalars []string
	var tables []string
	var arrayTables []string
	for k := range m {
		switch m[k].(type) {
		case map[string]any:
			tables = append(tables, k)
		case []any:
			if isArrayOfTables(m[k]) {
				arrayTables = append(arrayTables, k)
			} else {
				scalars = append(scalars, k)
			}
		default:
			scalars = append(scalars, k)
		}
	}
	for _, k := range scalars {
		fmt.Fprintf(b, "%s = %s\n", k, tomlLiteral(m[k]))
	}
	for _, k := range tables {
		path := k
		if prefix != "" {
			path = prefix + "." + k
		}
		fmt.Fprintf(b, "\n[%s]\n", path)
		writeTOMLTable(b, path, m[k].(map[string]any))
	}
	for _, k := range arrayTables {
		path := k
		if prefix != "" {
			path = prefix + "." + k
		}
		for _, entry := range m[k].([]any) {
			fmt.Fprintf(b, "\n[[%s]]\n", path)
			if tbl, ok := entry.(map[string]any); ok {
				writeTOMLTable(b, path, tbl)
			}
		}
	}
}

func isArrayOfTables(v any) bool {
	arr, ok := v.([]any)
	if !ok || len(arr) == 0 {
		return false
	}
	_, ok = arr[0].(map[string]any)
	return ok
}

func tomlLiteral(v any) string {
	switch t := v.(type) {
	case string:
		return strconv.Quote(t)
	case bool:
		return strconv.FormatBool(t)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	case []any:
		parts := make([]string, len(t))
		for i, e := range t {
			parts[i] = tomlLiteral(e)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	default:
		return fmt.Sprintf("%q", fmt.Sprint(t))
	}
}
