package cache

import (
	"github.com/agentuity/go-dcache/config"
	"github.com/agentuity/go-dcache/logger"
	"github.com/agentuity/go-dcache/resilience"
	"github.com/agentuity/go-dcache/types"
	"github.com/cockroachdb/errors"
	"go.opentelemetry.io/otel/trace"
)

// Capabilities open the stores and clients caches are built on. A nil field
// uses the default for that backend.
type Capabilities struct {
	Local     func(cfg *config.CacheConfig) (BoundedCache, error)
	Redis     func(cfg *config.CacheConfig) (RemoteClient, error)
	Memcached func(cfg *config.CacheConfig) (RemoteClient, error)
}

// DefaultCapabilities uses golang-lru for local caches, go-redis for Redis
// and gomemcache for Memcached.
func DefaultCapabilities() Capabilities {
	return Capabilities{
		Local: func(cfg *config.CacheConfig) (BoundedCache, error) {
			return NewLRU(cfg.MaxEntries, cfg.WriteExpiry), nil
		},
		Redis:     DialRedis,
		Memcached: DialMemcached,
	}
}

// Factory builds caches from their configuration.
type Factory struct {
	log       logger.Logger
	caps      Capabilities
	metrics   *Metrics
	tracer    trace.Tracer
	types     *types.Registry
	namespace string
}

// Option configures a Factory.
type Option func(*Factory)

func WithLogger(log logger.Logger) Option {
	return func(f *Factory) { f.log = log }
}

// WithCapabilities overrides the backend constructors. Nil fields keep the default.
func WithCapabilities(caps Capabilities) Option {
	return func(f *Factory) {
		if caps.Local != nil {
			f.caps.Local = caps.Local
		}
		if caps.Redis != nil {
			f.caps.Redis = caps.Redis
		}
		if caps.Memcached != nil {
			f.caps.Memcached = caps.Memcached
		}
	}
}

func WithMetrics(m *Metrics) Option {
	return func(f *Factory) { f.metrics = m }
}

func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(f *Factory) { f.tracer = tp.Tracer(tracerName) }
}

// WithTypes sets the registry Open resolves key_class and value_class against.
func WithTypes(reg *types.Registry) Option {
	return func(f *Factory) { f.types = reg }
}

// WithNamespace sets the property prefix Open reads, by default [config.DefaultNamespace].
func WithNamespace(ns string) Option {
	return func(f *Factory) { f.namespace = ns }
}

// NewFactory returns a Factory using the default capabilities unless overridden.
func NewFactory(opts ...Option) *Factory {
	f := &Factory{
		caps:      DefaultCapabilities(),
		tracer:    defaultTracer(),
		namespace: config.DefaultNamespace,
	}
	for _, opt := range opts {
		opt(f)
	}
	f.log = logger.OrNop(f.log)
	if f.types == nil {
		f.types = types.NewRegistry()
	}
	return f
}

func (f *Factory) validate(cfg *config.CacheConfig, failover bool) error {
	if cfg.KeyType.IsZero() || cfg.ValueType.IsZero() {
		return initError(cfg.ID, "key and value types are required")
	}
	switch cfg.Kind {
	case config.KindLocal:
		if !cfg.KeyType.Comparable() {
			return initError(cfg.ID, "key type [%s] cannot key a local cache", cfg.KeyType)
		}
	case config.KindRedis, config.KindMemcached:
		if cfg.Endpoint == "" {
			return initError(cfg.ID, "endpoint must not be blank for the %s backend", cfg.Kind)
		}
		if cfg.Kind == config.KindMemcached && !cfg.KeyType.IsString() {
			return initError(cfg.ID, "key type [%s] is not supported by the %s backend, keys must be strings", cfg.KeyType, cfg.Kind)
		}
	default:
		return initError(cfg.ID, "unsupported backend kind %d", cfg.Kind)
	}
	if (cfg.Kind.Remote() || failover) && !cfg.ValueType.Serializable() {
		return initError(cfg.ID, "value type [%s] is not serializable", cfg.ValueType)
	}
	return nil
}

func (f *Factory) newCore(cfg *config.CacheConfig, failover bool) (*core, error) {
	if cfg == nil {
		return nil, errors.Wrap(ErrInitialization, "nil cache configuration")
	}
	if err := f.validate(cfg, failover); err != nil {
		return nil, err
	}
	c := &core{
		cfg:     cfg,
		log:     f.log.With(map[string]interface{}{"cache": cfg.ID}),
		metrics: f.metrics,
		tracer:  f.tracer,
	}

	switch cfg.Kind {
	case config.KindLocal:
		store, err := f.caps.Local(cfg)
		if err != nil {
			return nil, &InitializationError{ID: cfg.ID, Reason: "opening local store", Cause: err}
		}
		c.backend = newLocalBackend(store, func(key any) {
			f.metrics.expired(cfg.ID)
			c.log.Trace("expired %v", key)
		})
	default:
		open := f.caps.Redis
		if cfg.Kind == config.KindMemcached {
			open = f.caps.Memcached
		}
		client, err := open(cfg)
		if err != nil {
			return nil, &InitializationError{ID: cfg.ID, Reason: "connecting to " + cfg.Address(), Cause: err}
		}
		c.backend = &remoteBackend{
			client:       client,
			valueType:    cfg.ValueType,
			queryTimeout: cfg.Timeout,
			writeExpiry:  cfg.WriteExpiry,
		}
	}
	c.log.Debug("built %s cache (key %s, value %s)", cfg.Kind, cfg.KeyType, cfg.ValueType)
	return c, nil
}

// Build returns the plain variant of the cache described by cfg.
func (f *Factory) Build(cfg *config.CacheConfig) (Cache, error) {
	c, err := f.newCore(cfg, false)
	if err != nil {
		return nil, err
	}
	return &plainCache{core: c}, nil
}

// BuildFailover returns the failover variant of the cache described by cfg,
// without its fallback. A positive FailureThreshold adds a circuit breaker.
func (f *Factory) BuildFailover(cfg *config.CacheConfig) (*FailoverCache, error) {
	c, err := f.newCore(cfg, true)
	if err != nil {
		return nil, err
	}
	fc := &FailoverCache{core: c}
	if cfg.FailureThreshold > 0 {
		log := c.log
		bc := resilience.DefaultCircuitBreakerConfig()
		bc.MaxFailures = cfg.FailureThreshold
		if cfg.FailureCooldown > 0 {
			bc.Timeout = cfg.FailureCooldown
		}
		bc.OnStateChange = func(from, to resilience.CircuitBreakerState) {
			log.Warn("primary circuit %s -> %s", from, to)
		}
		fc.breaker = resilience.NewCircuitBreaker(bc)
	}
	return fc, nil
}

// BuildRegistry builds every cache in cfgs. With failover set, each cache is
// a [*FailoverCache] wired to its configured fallback; otherwise fallbacks
// are ignored. On error every cache built so far is closed.
func (f *Factory) BuildRegistry(cfgs []*config.CacheConfig, failover bool) (*Registry, error) {
	for i, cfg := range cfgs {
		if cfg == nil {
			return nil, errors.Wrapf(ErrInitialization, "nil cache configuration at index %d", i)
		}
	}
	if err := config.ValidateFallbacks(cfgs); err != nil {
		return nil, err
	}
	built := make([]Cache, 0, len(cfgs))
	fail := func(err error) (*Registry, error) {
		for _, c := range built {
			if cerr := c.Close(); cerr != nil {
				f.log.Warn("closing %s after failed build: %v", c.ID(), cerr)
			}
		}
		return nil, err
	}

	byID := make(map[string]*FailoverCache, len(cfgs))
	for _, cfg := range cfgs {
		if !failover {
			c, err := f.Build(cfg)
			if err != nil {
				return fail(err)
			}
			if cfg.HasFallback() {
				f.log.Info("cache %s: fallback %s ignored, failover is disabled", cfg.ID, cfg.Fallback)
			}
			built = append(built, c)
			continue
		}
		c, err := f.BuildFailover(cfg)
		if err != nil {
			return fail(err)
		}
		byID[cfg.ID] = c
		built = append(built, c)
	}

	for _, cfg := range cfgs {
		if !failover || !cfg.HasFallback() {
			continue
		}
		if err := byID[cfg.ID].SetFallback(byID[cfg.Fallback]); err != nil {
			return fail(err)
		}
	}

	reg, err := NewRegistry(built...)
	if err != nil {
		return fail(err)
	}
	return reg, nil
}

// Open assembles the caches declared in props and builds them with failover
// enabled.
func Open(props map[string]any, opts ...Option) (*Registry, error) {
	f := NewFactory(opts...)
	assembler := &config.Assembler{Namespace: f.namespace, Types: f.types, Logger: f.log}
	cfgs, err := assembler.Assemble(props)
	if err != nil {
		return nil, err
	}
	return f.BuildRegistry(cfgs, true)
}
