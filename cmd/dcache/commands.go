package main

import (
	"encoding/json"
	"fmt"
	"io"
	"reflect"
	"text/tabwriter"
	"time"

	"github.com/agentuity/go-dcache/cache"
	"github.com/agentuity/go-dcache/env"
	"github.com/agentuity/go-dcache/types"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/xhit/go-str2duration/v2"
	"gopkg.in/yaml.v3"
)

func newValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Assemble and build every declared cache, then list them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := openSession(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			if fn, _ := cmd.Flags().GetString("write"); fn != "" {
				if err := env.WriteFile(fn, env.FromMap(s.props)); err != nil {
					return errors.Wrapf(err, "writing %s", fn)
				}
				s.log.Info("wrote %d properties to %s", len(s.props), fn)
			}
			if show, _ := cmd.Flags().GetBool("properties"); show {
				for _, p := range env.FromMap(s.props) {
					fmt.Fprintln(cmd.OutOrStdout(), env.Encode(p.Key, p.Val))
				}
				return nil
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTYPE\tKEY\tVALUE\tFALLBACK")
			for _, cfg := range s.configs {
				fallback := cfg.Fallback
				if fallback == "" {
					fallback = "-"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", cfg.ID, cfg.Kind, cfg.KeyType, cfg.ValueType, fallback)
			}
			return w.Flush()
		},
	}
	cmd.Flags().Bool("properties", false, "print the loaded properties after interpolation instead")
	cmd.Flags().String("write", "", "also save the loaded properties, after interpolation, to this properties file")
	return cmd
}

func newGetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get <cache> <key>",
		Short: "Print the value stored under key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd)
			if err != nil {
				return err
			}
			defer s.Close()
			c, err := s.cache(args[0])
			if err != nil {
				return err
			}
			key, err := parseArg(c.KeyType(), args[1])
			if err != nil {
				return errors.Wrap(err, "key")
			}
			val, found, err := c.Get(cmd.Context(), key)
			if err != nil {
				return err
			}
			if !found {
				return errors.Newf("%s: no entry for %v", c.ID(), key)
			}
			return printValue(cmd.OutOrStdout(), val)
		},
	}
}

func newPutCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "put <cache> <key> <value>",
		Short: "Store value under key",
		Long: "Store value under key. Non-string values are parsed as YAML into the\n" +
			"cache's value type, so 42, true and {name: ada} all work.",
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd)
			if err != nil {
				return err
			}
			defer s.Close()
			c, err := s.cache(args[0])
			if err != nil {
				return err
			}
			key, err := parseArg(c.KeyType(), args[1])
			if err != nil {
				return errors.Wrap(err, "key")
			}
			value, err := parseArg(c.ValueType(), args[2])
			if err != nil {
				return errors.Wrap(err, "value")
			}
			ttlFlag, _ := cmd.Flags().GetString("ttl")
			ifAbsent, _ := cmd.Flags().GetBool("if-absent")
			var ttl time.Duration
			if ttlFlag != "" {
				if ttl, err = str2duration.ParseDuration(ttlFlag); err != nil {
					return errors.Wrap(err, "ttl")
				}
			}

			var ok bool
			switch {
			case ifAbsent && ttl > 0:
				ok, err = c.PutIfAbsentWithExpiry(cmd.Context(), key, value, ttl)
			case ifAbsent:
				ok, err = c.PutIfAbsent(cmd.Context(), key, value)
			case ttl > 0:
				ok, err = c.PutWithExpiry(cmd.Context(), key, value, ttl)
			default:
				ok, err = c.Put(cmd.Context(), key, value)
			}
			if err != nil {
				return err
			}
			if !ok {
				return errors.Newf("%s: write of %v was not applied", c.ID(), key)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "OK")
			return nil
		},
	}
	cmd.Flags().String("ttl", "", "expire the entry after this long, e.g. 90s or 1d")
	cmd.Flags().Bool("if-absent", false, "only write when the key has no entry")
	return cmd
}

func newInvalidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "invalidate <cache> <key>",
		Short: "Remove the entry stored under key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd)
			if err != nil {
				return err
			}
			defer s.Close()
			c, err := s.cache(args[0])
			if err != nil {
				return err
			}
			key, err := parseArg(c.KeyType(), args[1])
			if err != nil {
				return errors.Wrap(err, "key")
			}
			return c.Invalidate(cmd.Context(), key)
		},
	}
}

func newProbeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "probe <cache>...",
		Short: "Write, read back and remove a throwaway entry in each cache",
		Long: "Write, read back and remove a throwaway entry in each cache. Only caches\n" +
			"with string keys and values can be probed.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd)
			if err != nil {
				return err
			}
			defer s.Close()
			var failed error
			for _, id := range args {
				c, err := s.cache(id)
				if err == nil {
					err = probe(cmd, c)
				}
				if err != nil {
					fmt.Fprintf(cmd.OutOrStdout(), "%s\tFAIL\t%v\n", id, err)
					failed = errors.CombineErrors(failed, err)
				}
			}
			return failed
		},
	}
}

func probe(cmd *cobra.Command, c cache.Cache) error {
	if !c.KeyType().IsString() || !c.ValueType().AcceptsType(types.For[string]("string")) {
		return errors.Newf("cache [%s] does not store string values under string keys", c.ID())
	}
	ctx := cmd.Context()
	key, _ := parseArg(c.KeyType(), "dcache-probe-"+uuid.NewString())
	want := uuid.NewString()

	start := time.Now()
	ok, err := c.PutWithExpiry(ctx, key, want, time.Minute)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("write rejected")
	}
	got, found, err := c.Get(ctx, key)
	if err != nil {
		return err
	}
	if !found || got != want {
		return errors.Newf("read back %v (found %v)", got, found)
	}
	if err := c.Invalidate(ctx, key); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s\tOK\t%s\n", c.ID(), time.Since(start).Round(time.Microsecond))
	return nil
}

// parseArg converts a command line argument into a value of type t. String
// kinds are taken verbatim, everything else is decoded as YAML.
func parseArg(t types.Type, arg string) (any, error) {
	rt := t.Reflect()
	if rt == nil {
		return nil, errors.New("cache has no type")
	}
	if rt.Kind() == reflect.String {
		return reflect.ValueOf(arg).Convert(rt).Interface(), nil
	}
	ptr := reflect.New(rt)
	if err := yaml.Unmarshal([]byte(arg), ptr.Interface()); err != nil {
		return nil, errors.Wrapf(err, "parsing %q as %s", arg, t)
	}
	return ptr.Elem().Interface(), nil
}

func printValue(w io.Writer, val any) error {
	if s, ok := val.(string); ok {
		_, err := fmt.Fprintln(w, s)
		return err
	}
	buf, err := json.Marshal(val)
	if err != nil {
		return errors.Wrap(err, "encoding value")
	}
	_, err = fmt.Fprintln(w, string(buf))
	return err
}
