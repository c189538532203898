package env

import (
	"os"
	"strings"
)

const envRefPrefix = "env:"

type reference struct {
	name         string
	defaultValue string
}

func findClosingBrace(input string, start int) int {
	for i := start; i < len(input); i++ {
		switch input[i] {
		case '{':
			return -1
		case '}':
			return i
		}
	}
	return -1
}

func parseReference(inner string) reference {
	name, def, _ := strings.Cut(inner, ":-")
	return reference{name: name, defaultValue: def}
}

func (r reference) resolve(values map[string]string) (string, bool) {
	var val string
	if strings.HasPrefix(r.name, envRefPrefix) {
		val = os.Getenv(strings.TrimPrefix(r.name, envRefPrefix))
	} else {
		val = values[r.name]
	}
	if val != "" {
		return val, true
	}
	if r.defaultValue != "" {
		return r.defaultValue, true
	}
	return "", false
}

// Interpolate replaces ${name}, ${env:VAR} and ${name:-default} references in
// input. Unresolvable references and malformed ones are left untouched.
func Interpolate(input string, values map[string]string) string {
	if !strings.Contains(input, "${") {
		return input
	}
	var result strings.Builder
	last := 0
	for i := 0; i+1 < len(input); i++ {
		if input[i] != '$' || input[i+1] != '{' {
			continue
		}
		end := findClosingBrace(input, i+2)
		if end == -1 {
			continue
		}
		result.WriteString(input[last:i])
		raw := input[i : end+1]
		ref := parseReference(input[i+2 : end])
		if val, ok := ref.resolve(values); ok && ref.name != "" {
			result.WriteString(val)
		} else {
			result.WriteString(raw)
		}
		i = end
		last = end + 1
	}
	result.WriteString(input[last:])
	return result.String()
}
