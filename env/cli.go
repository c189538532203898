package env

import (
	"io"
	"log"
	"os"

	"github.com/agentuity/go-dcache/logger"
	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
)

// FlagOrEnv will try and get a flag from the cobra.Command and if not found, look it up in the environment
// and fallback to defaultValue if non found
func FlagOrEnv(cmd *cobra.Command, flagName string, envName string, defaultValue string) string {
	flagValue, _ := cmd.Flags().GetString(flagName)
	if flagValue != "" {
		return flagValue
	}
	if val, ok := os.LookupEnv(envName); ok {
		return val
	}
	return defaultValue
}

// LogLevel resolves the --log-level flag, then DCACHE_LOG_LEVEL, then info.
func LogLevel(cmd *cobra.Command) logger.LogLevel {
	return logger.ParseLevel(FlagOrEnv(cmd, "log-level", logger.LevelEnv, "info"), logger.LevelInfo)
}

// NewLogger returns a logger at the level chosen by [LogLevel]. Passing
// --log-format=json selects the JSON logger instead of the console one.
func NewLogger(cmd *cobra.Command) logger.Logger {
	log.SetFlags(0)
	level := LogLevel(cmd)
	if FlagOrEnv(cmd, "log-format", "DCACHE_LOG_FORMAT", "console") == "json" {
		return logger.NewJSONLogger(level)
	}
	return logger.NewConsoleLogger(level)
}

// AttachLogFile appends every entry at debug and above to the file named by
// --log-file or DCACHE_LOG_FILE, whatever the console level. It must run
// before loggers are derived from log. The returned closer is nil when no
// file is configured.
func AttachLogFile(cmd *cobra.Command, log logger.Logger) (io.Closer, error) {
	fn := FlagOrEnv(cmd, "log-file", "DCACHE_LOG_FILE", "")
	if fn == "" {
		return nil, nil
	}
	sl, ok := log.(logger.SinkLogger)
	if !ok {
		return nil, errors.Newf("logger %T cannot write to a file", log)
	}
	of, err := os.OpenFile(fn, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, errors.Wrap(err, "opening log file")
	}
	sl.SetSink(of, logger.LevelDebug)
	return of, nil
}
