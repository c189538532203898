package env

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"
)

// ParseYAML decodes a YAML document and flattens nested maps into dotted keys,
// so that
//
//	dcache:
//	  cache:
//	    c1:
//	      type: IN_MEMORY
//
// yields "dcache.cache.c1.type" = "IN_MEMORY". Scalars keep their decoded
// type; string values are interpolated like properties files.
func ParseYAML(buf []byte) (map[string]any, error) {
	var doc map[string]any
	if err := yaml.Unmarshal(buf, &doc); err != nil {
		return nil, errors.Wrap(err, "decoding yaml")
	}
	out := make(map[string]any)
	if err := flatten("", doc, out); err != nil {
		return nil, err
	}

	values := make(map[string]string, len(out))
	for k, v := range out {
		values[k] = fmt.Sprint(v)
	}
	for k, v := range out {
		if s, ok := v.(string); ok {
			out[k] = Interpolate(s, values)
		}
	}
	return out, nil
}

func flatten(prefix string, node map[string]any, out map[string]any) error {
	for k, v := range node {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		switch val := v.(type) {
		case map[string]any:
			if err := flatten(key, val, out); err != nil {
				return err
			}
		case []any:
			return errors.Newf("yaml key %q: sequences are not supported", key)
		case nil:
			out[key] = ""
		default:
			out[key] = val
		}
	}
	return nil
}
