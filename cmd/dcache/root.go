package main

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/agentuity/go-dcache/cache"
	"github.com/agentuity/go-dcache/config"
	"github.com/agentuity/go-dcache/env"
	"github.com/agentuity/go-dcache/logger"
	"github.com/agentuity/go-dcache/telemetry"
	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:          "dcache",
		Short:        "Inspect and exercise configured caches",
		SilenceUsage: true,
	}
	flags := root.PersistentFlags()
	flags.String("config", "", "properties or YAML file declaring the caches (env DCACHE_CONFIG)")
	flags.String("namespace", "", "property prefix the caches are declared under (env DCACHE_NAMESPACE)")
	flags.String("log-level", "", "log level: trace, debug, info, warn, error (env DCACHE_LOG_LEVEL)")
	flags.String("log-format", "", "console or json (env DCACHE_LOG_FORMAT)")
	flags.Bool("no-failover", false, "build plain caches and ignore configured fallbacks")
	flags.Bool("metrics", false, "print the cache operation counters when the command finishes")
	flags.String("otlp-url", "", "export cache spans to this OTLP/HTTP collector (env DCACHE_OTLP_URL)")
	flags.String("otlp-token", "", "bearer token for the collector (env DCACHE_OTLP_TOKEN)")
	flags.String("otlp-secret", "", "shared secret that signs --otlp-token (env DCACHE_OTLP_SECRET)")
	flags.String("log-file", "", "append debug and higher log entries to this file (env DCACHE_LOG_FILE)")

	root.AddCommand(
		newValidateCommand(),
		newGetCommand(),
		newPutCommand(),
		newInvalidateCommand(),
		newProbeCommand(),
	)
	return root
}

// session is what every subcommand works with: the loaded properties, the
// assembled configurations and the built registry.
type session struct {
	log      logger.Logger
	props    map[string]any
	configs  []*config.CacheConfig
	registry *cache.Registry
	out      io.Writer
	gatherer prometheus.Gatherer
	shutdown telemetry.ShutdownFunc
	logFile  io.Closer
}

func (s *session) factoryOptions(cmd *cobra.Command) ([]cache.Option, error) {
	opts := []cache.Option{cache.WithLogger(s.log)}
	if show, _ := cmd.Flags().GetBool("metrics"); show {
		reg := prometheus.NewRegistry()
		m, err := cache.NewMetrics(reg)
		if err != nil {
			return nil, err
		}
		s.gatherer = reg
		opts = append(opts, cache.WithMetrics(m))
	}
	if otlpURL := env.FlagOrEnv(cmd, "otlp-url", "DCACHE_OTLP_URL", ""); otlpURL != "" {
		token := env.FlagOrEnv(cmd, "otlp-token", "DCACHE_OTLP_TOKEN", "")
		if secret := env.FlagOrEnv(cmd, "otlp-secret", "DCACHE_OTLP_SECRET", ""); secret != "" {
			signed, err := telemetry.GenerateOTLPBearerToken(secret, token)
			if err != nil {
				return nil, errors.Wrap(err, "signing OTLP token")
			}
			token = signed
		}
		tp, shutdown, err := telemetry.NewTracerProvider(cmd.Context(), telemetry.Config{
			URL:         otlpURL,
			AuthToken:   token,
			ServiceName: "dcache",
		}, s.log)
		if err != nil {
			return nil, err
		}
		s.shutdown = shutdown
		opts = append(opts, cache.WithTracerProvider(tp))
	}
	return opts, nil
}

func openSession(cmd *cobra.Command) (_ *session, err error) {
	log := env.NewLogger(cmd)
	logFile, err := env.AttachLogFile(cmd, log)
	if err != nil {
		return nil, err
	}
	if logFile != nil {
		defer func() {
			if err != nil {
				logFile.Close()
			}
		}()
	}
	s := &session{log: log, out: cmd.OutOrStdout(), logFile: logFile}
	path := env.FlagOrEnv(cmd, "config", "DCACHE_CONFIG", "dcache.properties")
	props, err := env.LoadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "loading %s", path)
	}
	assembler := config.NewAssembler(log)
	assembler.Namespace = env.FlagOrEnv(cmd, "namespace", "DCACHE_NAMESPACE", config.DefaultNamespace)
	cfgs, err := assembler.Assemble(props)
	if err != nil {
		return nil, err
	}
	if len(cfgs) == 0 {
		return nil, errors.Newf("no caches declared under %s in %s", assembler.Namespace, path)
	}
	opts, err := s.factoryOptions(cmd)
	if err != nil {
		return nil, err
	}
	noFailover, _ := cmd.Flags().GetBool("no-failover")
	reg, err := cache.NewFactory(opts...).BuildRegistry(cfgs, !noFailover)
	if err != nil {
		if s.shutdown != nil {
			s.shutdown()
		}
		return nil, err
	}
	log.Debug("opened %d caches from %s", reg.Len(), path)
	s.props, s.configs, s.registry = props, cfgs, reg
	return s, nil
}

func (s *session) Close() {
	if err := s.registry.Close(); err != nil {
		s.log.Warn("closing caches: %v", err)
	}
	if s.gatherer != nil {
		if err := printMetrics(s.out, s.gatherer); err != nil {
			s.log.Warn("gathering metrics: %v", err)
		}
		printBreakers(s.out, s.registry)
	}
	if s.shutdown != nil {
		s.shutdown()
	}
	if s.logFile != nil {
		s.logFile.Close()
	}
}

// printBreakers writes the state of every primary circuit breaker.
func printBreakers(w io.Writer, reg *cache.Registry) {
	for _, id := range reg.IDs() {
		fc, ok := reg.Failover(id)
		if !ok || fc.Breaker() == nil {
			continue
		}
		st := fc.Breaker().Stats()
		fmt.Fprintf(w, "circuit{cache=%q} state=%s failures=%d successes=%d inflight=%d\n",
			id, st.State, st.Failures, st.Successes, st.Requests)
	}
}

// printMetrics writes every non-zero counter as name{labels} value, sorted.
func printMetrics(w io.Writer, g prometheus.Gatherer) error {
	families, err := g.Gather()
	if err != nil {
		return err
	}
	var lines []string
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			value := m.GetCounter().GetValue()
			if value == 0 {
				continue
			}
			labels := make([]string, 0, len(m.GetLabel()))
			for _, lp := range m.GetLabel() {
				labels = append(labels, fmt.Sprintf("%s=%q", lp.GetName(), lp.GetValue()))
			}
			lines = append(lines, fmt.Sprintf("%s{%s} %g", mf.GetName(), strings.Join(labels, ","), value))
		}
	}
	sort.Strings(lines)
	for _, line := range lines {
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}

func (s *session) cache(id string) (cache.Cache, error) {
	c, ok := s.registry.Get(id)
	if !ok {
		return nil, errors.Newf("no cache with ID [%s], have %v", id, s.registry.IDs())
	}
	return c, nil
}
