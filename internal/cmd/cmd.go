// Package cmd is the ya-dns CLI entry point.
package cmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/AdguardTeam/golibs/log"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/go-co-op/gocron"

	"github.com/zh-yjie/ya-dns/internal/appconfig"
	"github.com/zh-yjie/ya-dns/internal/config"
	"github.com/zh-yjie/ya-dns/internal/handler"
	"github.com/zh-yjie/ya-dns/internal/resolver"
	"github.com/zh-yjie/ya-dns/internal/server"
	"github.com/zh-yjie/ya-dns/internal/statsapi"
	"github.com/zh-yjie/ya-dns/utils"
)

// Options are the flags accepted by the ya-dns binary.
type Options struct {
	ConfigPath string
	LogOutput  string
	StatsPath  string
	Verbose    bool
}

// parseOptions parses args (typically os.Args[1:]) into an Options value.
func parseOptions(args []string) (*Options, error) {
	fs := flag.NewFlagSet("ya-dns", flag.ContinueOnError)

	opts := &Options{}
	fs.StringVar(&opts.ConfigPath, "config-path", "config.yaml", "yaml configuration file")
	fs.StringVar(&opts.LogOutput, "output", "", "path to the log file; stdout if empty")
	fs.StringVar(&opts.StatsPath, "stats-path", "stats.json", "path to periodically save aggregate dispatch counters")
	fs.BoolVar(&opts.Verbose, "verbose", false, "enable debug logging")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return opts, nil
}

// Main is the entrypoint of the ya-dns CLI: parse flags, build the logger,
// load and compile the configuration, construct the resolver core, and run
// until an interrupt/termination signal arrives.
func Main() {
	opts, err := parseOptions(os.Args[1:])
	if err != nil {
		os.Exit(2)
	}

	logOutput := os.Stdout
	if opts.LogOutput != "" {
		// #nosec G302 -- Trust the file path given in the configuration.
		logOutput, err = os.OpenFile(opts.LogOutput, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
		if err != nil {
			_, _ = fmt.Fprintln(os.Stderr, fmt.Errorf("cannot create log file: %w", err))
			os.Exit(1)
		}
		defer func() { _ = logOutput.Close() }()
	}

	lvl := slog.LevelInfo
	if opts.Verbose {
		lvl = slog.LevelDebug
	}

	l := slogutil.New(&slogutil.Config{
		Output: logOutput,
		Format: slogutil.FormatDefault,
		Level:  lvl,
	})
	log.SetOutput(logOutput)

	ctx := context.Background()
	l.InfoContext(ctx, "ya-dns starting", "config", opts.ConfigPath)

	if err := run(ctx, l, opts); err != nil {
		l.ErrorContext(ctx, "ya-dns exiting", slogutil.KeyError, err)
		os.Exit(1)
	}
}

// run loads the configuration, wires the resolver core together, and blocks
// until a termination signal is received or the server fails.
func run(ctx context.Context, l *slog.Logger, opts *Options) error {
	file, err := config.Load(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	cfg, err := file.Build()
	if err != nil {
		return fmt.Errorf("compiling config: %w", err)
	}

	resolvers, err := buildResolvers(cfg)
	if err != nil {
		return fmt.Errorf("constructing resolvers: %w", err)
	}

	stats := statsapi.New()
	if exists, _ := utils.FileExists(opts.StatsPath); exists {
		if err := stats.Load(opts.StatsPath); err != nil {
			l.WarnContext(ctx, "loading saved stats", slogutil.KeyError, err)
		} else if size, modTime, err := utils.GetFileInfo(opts.StatsPath); err == nil {
			l.InfoContext(ctx, "restored stats", "bytes", size, "saved_at", modTime)
		}
	}

	bind := file.Bind
	if bind == "" {
		bind = ":53"
	}
	maxGoroutines := file.MaxGoroutines

	h := handler.New(cfg, resolvers, maxGoroutines, stats)
	srv := server.New(bind, h)

	sched := gocron.NewScheduler(time.UTC)
	if _, err := sched.Every(1).Hour().Do(stats.FlushPeriodic, opts.StatsPath); err != nil {
		l.WarnContext(ctx, "scheduling stats flush", slogutil.KeyError, err)
	}
	sched.StartAsync()
	defer sched.Stop()

	var statsSrv *http.Server
	if file.StatsAddr != "" {
		statsSrv = statsapi.NewServer(file.StatsAddr, stats)
		go func() {
			if err := statsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				l.ErrorContext(ctx, "stats server failed", slogutil.KeyError, err)
			}
		}()
	}

	serverCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe(serverCtx) }()

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-signalCh:
		l.InfoContext(ctx, "shutting down")
		cancel()
	case err := <-errCh:
		if statsSrv != nil {
			_ = statsSrv.Close()
		}
		return fmt.Errorf("running server: %w", err)
	}

	if statsSrv != nil {
		_ = statsSrv.Close()
	}
	stats.FlushPeriodic(opts.StatsPath)

	return <-errCh
}

// buildResolvers eagerly constructs one resolver.Resolver per configured
// upstream, per the §5 lifecycle contract: resolvers are built once at
// startup and shared by reference for the process lifetime.
func buildResolvers(cfg *appconfig.AppConfig) (map[string]*resolver.Resolver, error) {
	out := make(map[string]*resolver.Resolver, len(cfg.Upstreams))
	for name, up := range cfg.Upstreams {
		r, err := resolver.New(up)
		if err != nil {
			return nil, fmt.Errorf("upstream %q: %w", name, err)
		}
		out[name] = r
	}
	return out, nil
}
