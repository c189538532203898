// Package config turns flat property maps into validated cache configurations.
package config

import (
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/agentuity/go-dcache/types"
)

// Kind is the backend a cache is bound to.
type Kind int

const (
	KindLocal Kind = iota
	KindRedis
	KindMemcached
)

func (k Kind) String() string {
	switch k {
	case KindLocal:
		return "IN_MEMORY"
	case KindRedis:
		return "REDIS"
	case KindMemcached:
		return "MEMCACHED"
	default:
		return "UNKNOWN"
	}
}

// Remote reports whether the backend is reached over the network.
func (k Kind) Remote() bool {
	return k == KindRedis || k == KindMemcached
}

// DefaultPort returns the conventional port of the backend, or 0 for local caches.
func (k Kind) DefaultPort() int {
	switch k {
	case KindRedis:
		return DefaultRedisPort
	case KindMemcached:
		return DefaultMemcachedPort
	}
	return 0
}

// ParseKind parses a backend tag such as "REDIS". Tags are case-insensitive.
func ParseKind(s string) (Kind, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "IN_MEMORY":
		return KindLocal, true
	case "REDIS":
		return KindRedis, true
	case "MEMCACHED":
		return KindMemcached, true
	}
	return 0, false
}

const (
	DefaultRedisPort     = 6379
	DefaultMemcachedPort = 11211

	// DefaultTimeout is used for remote operations when no timeout is configured.
	DefaultTimeout = 2000 * time.Millisecond

	// DefaultFailureCooldown is how long an opened primary stays bypassed.
	DefaultFailureCooldown = 30 * time.Second
)

// Field names recognised below <namespace>.<id>.
const (
	FieldType             = "type"
	FieldKeyClass         = "key_class"
	FieldValueClass       = "value_class"
	FieldPrefix           = "prefix"
	FieldEndpoint         = "endpoint"
	FieldPort             = "port"
	FieldMaxEntries       = "max_entries"
	FieldExpiration       = "expiration_from_write"
	FieldFallback         = "fallback"
	FieldTimeout          = "timeout"
	FieldFailureThreshold = "failure_threshold"
	FieldFailureCooldown  = "failure_cooldown"
)

// CacheConfig describes one configured cache. It is not modified after assembly.
type CacheConfig struct {
	ID        string
	Kind      Kind
	KeyType   types.Type
	ValueType types.Type
	Prefix    string
	Endpoint  string
	Port      int
	// MaxEntries bounds local caches, 0 means unbounded.
	MaxEntries int
	// WriteExpiry is the default lifetime of every write, 0 means none.
	WriteExpiry time.Duration
	Timeout     time.Duration
	Fallback    string
	// FailureThreshold is the number of consecutive primary failures that
	// opens the circuit. 0 disables the breaker.
	FailureThreshold int
	FailureCooldown  time.Duration
}

// Address returns the host:port the remote backend listens on.
func (c *CacheConfig) Address() string {
	return net.JoinHostPort(c.Endpoint, strconv.Itoa(c.Port))
}

// HasFallback reports whether a fallback cache id is configured.
func (c *CacheConfig) HasFallback() bool {
	return c.Fallback != ""
}

// splitEndpoint separates an optional ":port" suffix from endpoint.
func splitEndpoint(endpoint string) (string, int, bool) {
	host, portStr, err := net.SplitHostPort(endpoint)
	if err != nil {
		return endpoint, 0, false
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return endpoint, 0, false
	}
	return host, port, true
}
