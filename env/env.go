// Package env loads flat property sources (.properties, .env and YAML files)
// into the key/value map the cache configuration is assembled from.
package env

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cockroachdb/errors"
)

// Property is a single key/value pair read from a property source.
type Property struct {
	Key string `json:"key"`
	Val string `json:"val"`
}

// LoadFile reads filename and returns its properties as a map. The format is
// chosen by extension: .yaml and .yml are flattened YAML, anything else is
// parsed as a properties / env file.
func LoadFile(filename string) (map[string]any, error) {
	buf, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.Wrapf(err, "reading property file %s", filename)
	}
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		props, err := ParseYAML(buf)
		if err != nil {
			return nil, errors.Wrapf(err, "parsing %s", filename)
		}
		return props, nil
	default:
		props, err := ParseProperties(buf)
		if err != nil {
			return nil, errors.Wrapf(err, "parsing %s", filename)
		}
		return ToMap(props), nil
	}
}

// ToMap converts properties into a map. Later keys win.
func ToMap(props []Property) map[string]any {
	m := make(map[string]any, len(props))
	for _, p := range props {
		m[p.Key] = p.Val
	}
	return m
}

// FromMap returns the entries of m as properties sorted by key.
func FromMap(m map[string]any) []Property {
	props := make([]Property, 0, len(m))
	for k, v := range m {
		props = append(props, Property{Key: k, Val: fmt.Sprint(v)})
	}
	sort.Slice(props, func(i, j int) bool { return props[i].Key < props[j].Key })
	return props
}

func dequote(s string) string {
	if len(s) >= 2 {
		if (s[0] == '\'' && s[len(s)-1] == '\'') || (s[0] == '"' && s[len(s)-1] == '"') {
			return s[1 : len(s)-1]
		}
	}
	return s
}

func isComment(line string) bool {
	return strings.HasPrefix(line, "#") || strings.HasPrefix(line, "!")
}

// ParseLine splits a single "key=value" (or "key: value") line. The first
// separator wins, surrounding whitespace is trimmed and a quoted value is
// unquoted. A line without a separator is a key with an empty value.
func ParseLine(line string) Property {
	line = strings.TrimPrefix(strings.TrimSpace(line), "export ")
	idx := strings.IndexAny(line, "=:")
	if idx < 0 {
		return Property{Key: strings.TrimSpace(line)}
	}
	return Property{
		Key: strings.TrimSpace(line[:idx]),
		Val: dequote(strings.TrimSpace(line[idx+1:])),
	}
}

// ParseProperties parses a properties or env buffer. Blank lines and lines
// starting with # or ! are skipped. Values may reference earlier or later keys
// with ${key}, the OS environment with ${env:VAR}, and either form may carry a
// default as ${key:-default}.
func ParseProperties(buf []byte) ([]Property, error) {
	if len(buf) == 0 {
		return []Property{}, nil
	}
	var props []Property
	values := make(map[string]string)

	for n, line := range strings.Split(string(buf), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || isComment(line) {
			continue
		}
		p := ParseLine(line)
		if p.Key == "" {
			return nil, errors.Newf("line %d: missing key in %q", n+1, line)
		}
		p.Val = Interpolate(p.Val, values)
		values[p.Key] = p.Val
		props = append(props, p)
	}

	// forward references resolve once every key is known
	for i := range props {
		props[i].Val = Interpolate(props[i].Val, values)
	}
	return props, nil
}

func mustQuote(val string) bool {
	return strings.Contains(val, `"`) || strings.Contains(val, "\\n") || strings.HasPrefix(val, " ") || strings.HasSuffix(val, " ")
}

// Encode renders a property as a single line that ParseProperties reads back.
func Encode(key, val string) string {
	val = strings.ReplaceAll(val, "\n", "\\n")
	if mustQuote(val) {
		if strings.Contains(val, `"`) {
			val = `'` + val + `'`
		} else {
			val = `"` + val + `"`
		}
	}
	return key + "=" + val
}

// WriteFile writes props to fn, one line per property.
func WriteFile(fn string, props []Property) error {
	of, err := os.Create(fn)
	if err != nil {
		return err
	}
	defer of.Close()
	for _, p := range props {
		if _, err := fmt.Fprintln(of, Encode(p.Key, p.Val)); err != nil {
			return err
		}
	}
	return of.Close()
}
