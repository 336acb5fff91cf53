package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/unkn0wn-root/hotrod"
	hotrodzap "github.com/unkn0wn-root/hotrod/log/zap"
)

// version metadata populated via -ldflags at build time
var version = "dev"

// options are the persistent flags shared by every command.
type options struct {
	cache      string
	configFile string
	timeout    time.Duration
	lifespan   time.Duration
	verbose    bool
}

func main() {
	logger := newLogger(os.Getenv("HOTROD_DEBUG") != "")
	defer func() { _ = logger.Sync() }()

	if err := newRootCmd(os.Stdout, logger).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "hotrodctl: %v\n", err)
		os.Exit(1)
	}
}

func newLogger(debug bool) *zap.Logger {
	cfg := zap.NewProductionConfig()
	if debug {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	cfg.OutputPaths = []string{"stderr"}
	l, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return l
}

// cli holds what every command needs once flags are parsed.
type cli struct {
	opts   options
	logger *zap.Logger
}

func newRootCmd(out io.Writer, logger *zap.Logger) *cobra.Command {
	c := &cli{logger: logger}
	root := &cobra.Command{
		Use:   "hotrodctl",
		Short: "HotRod cache client",
		Long: `Talk to HotRod servers configured through HOTROD_* variables
(HOTROD_SERVERS, HOTROD_PROTOCOL, HOTROD_SASL_MECHANISM, HOTROD_SASL_USER,
HOTROD_SASL_PASSWORD, HOTROD_SASL_SERVER_NAME) or a YAML file.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)

	pf := root.PersistentFlags()
	pf.StringVar(&c.opts.cache, "cache", "", "cache to use (default: server default cache)")
	pf.StringVar(&c.opts.configFile, "config", "", "YAML configuration instead of HOTROD_* variables")
	pf.DurationVar(&c.opts.timeout, "timeout", 30*time.Second, "per-command deadline")
	pf.DurationVar(&c.opts.lifespan, "lifespan", 0, "entry lifespan for put")
	pf.BoolVarP(&c.opts.verbose, "verbose", "v", false, "print previous values on put")

	root.AddCommand(
		c.cacheCmd("get <key>", "Print the value of key", 1, c.get),
		c.cacheCmd("put <key> <value>", "Store value", 2, c.put),
		c.cacheCmd("remove <key>", "Remove key and print the removed value", 1, c.remove),
		c.cacheCmd("contains <key>", "Print whether key exists", 1, c.contains),
		c.cacheCmd("keys", "List keys", 0, c.keys),
		c.cacheCmd("size", "Print the number of entries", 0, c.size),
		c.cacheCmd("clear", "Remove every entry", 0, c.clear),
		c.cacheCmd("stats", "Print server statistics", 0, c.stats),
		c.cacheCmd("ping", "Check connectivity", 0, c.ping),
		c.managerCmd("create-cache <name> <template|xml|json>", "Create a cache", 2, c.createCache),
		c.managerCmd("caches", "List cache names", 0, c.caches),
		&cobra.Command{
			Use:   "version",
			Short: "Print the version",
			Args:  cobra.NoArgs,
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "hotrodctl %s\n", version)
			},
		},
	)
	return root
}

type managerFunc func(ctx context.Context, m *hotrod.RemoteCacheManager, args []string, out io.Writer) error
type cacheFunc func(ctx context.Context, c *hotrod.ByteCache, args []string, out io.Writer) error

func (c *cli) managerCmd(use, short string, nargs int, fn managerFunc) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(nargs),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withManager(cmd.Context(), func(ctx context.Context, m *hotrod.RemoteCacheManager) error {
				return fn(ctx, m, args, cmd.OutOrStdout())
			})
		},
	}
}

func (c *cli) cacheCmd(use, short string, nargs int, fn cacheFunc) *cobra.Command {
	return c.managerCmd(use, short, nargs, func(ctx context.Context, m *hotrod.RemoteCacheManager, args []string, out io.Writer) error {
		return fn(ctx, m.Cache(c.opts.cache), args, out)
	})
}

// withManager starts a manager for one command and stops it afterwards.
func (c *cli) withManager(parent context.Context, fn func(context.Context, *hotrod.RemoteCacheManager) error) error {
	if parent == nil {
		parent = context.Background()
	}
	b, err := c.loadBuilder()
	if err != nil {
		return err
	}
	cfg, err := b.Logger(hotrodzap.New(c.logger)).Build()
	if err != nil {
		return err
	}
	m, err := hotrod.NewRemoteCacheManager(cfg)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(parent, c.opts.timeout)
	defer cancel()
	if err := m.Start(ctx); err != nil {
		return err
	}
	defer func() { _ = m.Stop(context.Background()) }()
	return fn(ctx, m)
}

func (c *cli) loadBuilder() (*hotrod.ConfigurationBuilder, error) {
	if c.opts.configFile != "" {
		return hotrod.LoadConfigFile(c.opts.configFile)
	}
	return hotrod.ConfigFromEnv()
}

var errNotFound = errors.New("key not found")

func (c *cli) get(ctx context.Context, bc *hotrod.ByteCache, args []string, out io.Writer) error {
	v, ok, err := bc.Get(ctx, hotrod.FromString(args[0]))
	if err != nil {
		return err
	}
	if !ok {
		return errNotFound
	}
	fmt.Fprintln(out, hotrod.ToString(v))
	return nil
}

func (c *cli) put(ctx context.Context, bc *hotrod.ByteCache, args []string, out io.Writer) error {
	var wo []hotrod.WriteOption
	if c.opts.lifespan != 0 {
		wo = append(wo, hotrod.WithLifespan(c.opts.lifespan))
	}
	prev, had, err := bc.Put(ctx, hotrod.FromString(args[0]), hotrod.FromString(args[1]), wo...)
	if err != nil {
		return err
	}
	if had && c.opts.verbose {
		fmt.Fprintf(out, "previous: %s\n", hotrod.ToString(prev))
	}
	return nil
}

func (c *cli) remove(ctx context.Context, bc *hotrod.ByteCache, args []string, out io.Writer) error {
	prev, had, err := bc.Remove(ctx, hotrod.FromString(args[0]))
	if err != nil {
		return err
	}
	if !had {
		return errNotFound
	}
	fmt.Fprintln(out, hotrod.ToString(prev))
	return nil
}

func (c *cli) contains(ctx context.Context, bc *hotrod.ByteCache, args []string, out io.Writer) error {
	found, err := bc.ContainsKey(ctx, hotrod.FromString(args[0]))
	if err != nil {
		return err
	}
	fmt.Fprintln(out, found)
	return nil
}

func (c *cli) keys(ctx context.Context, bc *hotrod.ByteCache, _ []string, out io.Writer) error {
	keys, err := bc.Keys(ctx)
	if err != nil {
		return err
	}
	names := make([]string, 0, len(keys))
	for _, k := range keys {
		names = append(names, hotrod.ToString(k))
	}
	sort.Strings(names)
	for _, k := range names {
		fmt.Fprintln(out, k)
	}
	return nil
}

func (c *cli) size(ctx context.Context, bc *hotrod.ByteCache, _ []string, out io.Writer) error {
	n, err := bc.Size(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, n)
	return nil
}

func (c *cli) clear(ctx context.Context, bc *hotrod.ByteCache, _ []string, _ io.Writer) error {
	return bc.Clear(ctx)
}

func (c *cli) stats(ctx context.Context, bc *hotrod.ByteCache, _ []string, out io.Writer) error {
	stats, err := bc.Stats(ctx)
	if err != nil {
		return err
	}
	names := make([]string, 0, len(stats))
	for k := range stats {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		fmt.Fprintf(out, "%s\t%s\n", k, stats[k])
	}
	return nil
}

func (c *cli) ping(ctx context.Context, bc *hotrod.ByteCache, _ []string, out io.Writer) error {
	start := time.Now()
	if err := bc.Ping(ctx); err != nil {
		return err
	}
	fmt.Fprintf(out, "pong %s\n", time.Since(start).Round(time.Microsecond))
	return nil
}

func (c *cli) createCache(ctx context.Context, m *hotrod.RemoteCacheManager, args []string, _ io.Writer) error {
	_, err := m.CreateCache(ctx, args[0], args[1])
	return err
}

func (c *cli) caches(ctx context.Context, m *hotrod.RemoteCacheManager, _ []string, out io.Writer) error {
	names, err := m.CacheNames(ctx)
	if err != nil {
		return err
	}
	for _, n := range names {
		fmt.Fprintln(out, n)
	}
	return nil
}
