package config

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/agentuity/go-dcache/logger"
	"github.com/agentuity/go-dcache/types"
	"github.com/xhit/go-str2duration/v2"
)

// DefaultNamespace is the property prefix caches are declared under.
const DefaultNamespace = "dcache.cache"

// Assembler groups flat properties by cache id and builds [CacheConfig]s from them.
type Assembler struct {
	// Namespace is the property prefix, without the trailing separator.
	Namespace string
	// Types resolves key_class and value_class.
	Types  *types.Registry
	Logger logger.Logger
}

// NewAssembler returns an Assembler for the default namespace and built-in types.
func NewAssembler(log logger.Logger) *Assembler {
	return &Assembler{
		Namespace: DefaultNamespace,
		Types:     types.NewRegistry(),
		Logger:    log,
	}
}

func (a *Assembler) prefix() string {
	ns := a.Namespace
	if ns == "" {
		ns = DefaultNamespace
	}
	return strings.TrimSuffix(ns, ".") + "."
}

func (a *Assembler) registry() *types.Registry {
	if a.Types == nil {
		a.Types = types.NewRegistry()
	}
	return a.Types
}

// GroupByID splits each <namespace>.<id>.<field> key into its id and field.
// Keys outside the namespace, with an empty id, or without a field are skipped.
func (a *Assembler) GroupByID(props map[string]any) map[string]map[string]any {
	prefix := a.prefix()
	groups := make(map[string]map[string]any)
	for key, val := range props {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		rest := key[len(prefix):]
		idx := strings.Index(rest, ".")
		if idx <= 0 || idx == len(rest)-1 {
			if a.Logger != nil {
				a.Logger.Trace("skipping malformed cache property %q", key)
			}
			continue
		}
		id, field := rest[:idx], rest[idx+1:]
		group, ok := groups[id]
		if !ok {
			group = make(map[string]any)
			groups[id] = group
		}
		group[field] = val
	}
	return groups
}

// BuildConfig materialises the configuration of cache id from its fields.
func (a *Assembler) BuildConfig(id string, fields map[string]any) (*CacheConfig, error) {
	for _, required := range []string{FieldType, FieldKeyClass, FieldValueClass} {
		if v, ok := fields[required]; !ok || strings.TrimSpace(toString(v)) == "" {
			return nil, &MissingFieldError{ID: id, Field: required}
		}
	}

	kindStr := toString(fields[FieldType])
	kind, ok := ParseKind(kindStr)
	if !ok {
		return nil, &UnsupportedKindError{ID: id, Value: kindStr}
	}

	keyType, err := a.registry().Lookup(toString(fields[FieldKeyClass]))
	if err != nil {
		return nil, &InvalidFieldError{ID: id, Field: FieldKeyClass, Value: fields[FieldKeyClass], Cause: err}
	}
	valueType, err := a.registry().Lookup(toString(fields[FieldValueClass]))
	if err != nil {
		return nil, &InvalidFieldError{ID: id, Field: FieldValueClass, Value: fields[FieldValueClass], Cause: err}
	}

	cfg := &CacheConfig{
		ID:               id,
		Kind:             kind,
		KeyType:          keyType,
		ValueType:        valueType,
		Prefix:           toString(fields[FieldPrefix]),
		Endpoint:         strings.TrimSpace(toString(fields[FieldEndpoint])),
		Fallback:         strings.TrimSpace(toString(fields[FieldFallback])),
		Timeout:          DefaultTimeout,
		FailureCooldown:  DefaultFailureCooldown,
		FailureThreshold: 0,
	}

	if cfg.Port, err = intField(id, FieldPort, fields); err != nil {
		return nil, err
	}
	if cfg.MaxEntries, err = intField(id, FieldMaxEntries, fields); err != nil {
		return nil, err
	}
	if cfg.FailureThreshold, err = intField(id, FieldFailureThreshold, fields); err != nil {
		return nil, err
	}
	if d, err := durationField(id, FieldExpiration, fields, time.Second); err != nil {
		return nil, err
	} else if d > 0 {
		cfg.WriteExpiry = d
	}
	if d, err := durationField(id, FieldTimeout, fields, time.Millisecond); err != nil {
		return nil, err
	} else if d > 0 {
		cfg.Timeout = d
	}
	if d, err := durationField(id, FieldFailureCooldown, fields, time.Second); err != nil {
		return nil, err
	} else if d > 0 {
		cfg.FailureCooldown = d
	}

	if host, port, ok := splitEndpoint(cfg.Endpoint); ok {
		cfg.Endpoint = host
		cfg.Port = port
	}
	if cfg.Port == 0 {
		cfg.Port = kind.DefaultPort()
	}
	return cfg, nil
}

// Assemble builds every cache declared in props, sorted by id, and checks
// that the fallback references form an acyclic graph of known ids.
func (a *Assembler) Assemble(props map[string]any) ([]*CacheConfig, error) {
	groups := a.GroupByID(props)
	ids := make([]string, 0, len(groups))
	for id := range groups {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	configs := make([]*CacheConfig, 0, len(ids))
	for _, id := range ids {
		cfg, err := a.BuildConfig(id, groups[id])
		if err != nil {
			return nil, err
		}
		configs = append(configs, cfg)
	}
	if err := ValidateFallbacks(configs); err != nil {
		return nil, err
	}
	if a.Logger != nil {
		a.Logger.Debug("assembled %d cache configurations", len(configs))
	}
	return configs, nil
}

// ValidateFallbacks checks that every fallback names a known cache and that
// no chain loops back on itself.
func ValidateFallbacks(configs []*CacheConfig) error {
	byID := make(map[string]*CacheConfig, len(configs))
	for _, cfg := range configs {
		byID[cfg.ID] = cfg
	}
	for _, cfg := range configs {
		if !cfg.HasFallback() {
			continue
		}
		if cfg.Fallback == cfg.ID {
			return invalidFallback(cfg.ID, "cache cannot fall back to itself")
		}
		if _, ok := byID[cfg.Fallback]; !ok {
			return invalidFallback(cfg.ID, "fallback [%s] is not a configured cache", cfg.Fallback)
		}
	}
	for _, cfg := range configs {
		visited := map[string]bool{cfg.ID: true}
		for next := cfg.Fallback; next != ""; next = byID[next].Fallback {
			if visited[next] {
				return invalidFallback(cfg.ID, "fallback chain loops back to [%s]", next)
			}
			visited[next] = true
		}
	}
	return nil
}

func toString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(v)
	}
}

func intField(id, field string, fields map[string]any) (int, error) {
	raw, ok := fields[field]
	if !ok || raw == nil {
		return 0, nil
	}
	var n int
	switch v := raw.(type) {
	case int:
		n = v
	case int64:
		n = int(v)
	case uint64:
		n = int(v)
	case float64:
		if v != float64(int(v)) {
			return 0, &InvalidFieldError{ID: id, Field: field, Value: raw}
		}
		n = int(v)
	default:
		s := strings.TrimSpace(toString(raw))
		if s == "" {
			return 0, nil
		}
		parsed, err := strconv.Atoi(s)
		if err != nil {
			return 0, &InvalidFieldError{ID: id, Field: field, Value: raw, Cause: err}
		}
		n = parsed
	}
	if n < 0 {
		return 0, &InvalidFieldError{ID: id, Field: field, Value: raw}
	}
	return n, nil
}

// durationField reads a bare number as a count of unit, otherwise a duration string.
func durationField(id, field string, fields map[string]any, unit time.Duration) (time.Duration, error) {
	raw, ok := fields[field]
	if !ok || raw == nil {
		return 0, nil
	}
	if d, ok := raw.(time.Duration); ok {
		return d, nil
	}
	s := strings.TrimSpace(toString(raw))
	if s == "" {
		return 0, nil
	}
	if n, err := intField(id, field, map[string]any{field: raw}); err == nil {
		return time.Duration(n) * unit, nil
	}
	d, err := str2duration.ParseDuration(s)
	if err != nil {
		return 0, &InvalidFieldError{ID: id, Field: field, Value: raw, Cause: err}
	}
	if d < 0 {
		return 0, &InvalidFieldError{ID: id, Field: field, Value: raw}
	}
	return d, nil
}
