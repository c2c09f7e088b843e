// Command chargectl is a small operator console for the charging admin API,
// built on the apicache session stack.
//
//	chargectl [-config path] [-env-prefix CHARGECTL] <command> [args]
//
// Commands: login <email> <password>, logout, stations [status],
// station <id>, set-status <id> <status>, watch <id>.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/voltadmin/apicache"
	"github.com/voltadmin/apicache/config"
	asynchook "github.com/voltadmin/apicache/hooks/async"
	"github.com/voltadmin/apicache/internal/logging"
	"github.com/voltadmin/apicache/internal/tracing"
	"github.com/voltadmin/apicache/metrics"
	"github.com/voltadmin/apicache/sloghooks"
)

const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
	exitAuth    = 3
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("chargectl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configFile := fs.String("config", "", "path to configuration file (yaml, json or toml)")
	envPrefix := fs.String("env-prefix", "CHARGECTL", "environment variable prefix")
	interval := fs.Duration("interval", 30*time.Second, "refetch interval for watch")
	fs.Usage = func() {
		fmt.Fprintln(stderr, "usage: chargectl [flags] <command> [args]")
		for _, c := range commands {
			fmt.Fprintf(stderr, "  %-28s %s\n", c.usage, c.help)
		}
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return exitUsage
	}
	cmd, ok := lookupCommand(fs.Arg(0))
	if !ok || !cmd.arity(len(fs.Args())-1) {
		fs.Usage()
		return exitUsage
	}

	cfg, err := config.NewLoader(*envPrefix, *configFile).Load(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "chargectl: %v\n", err)
		return exitFailure
	}

	logger, err := logging.New(cfg.Logging, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "chargectl: %v\n", err)
		return exitFailure
	}
	defer func() { _ = logger.Sync() }()

	shutdownTracing, err := tracing.Setup(ctx, cfg.Tracing)
	if err != nil {
		logger.Warn("tracing disabled", apicache.Fields{"err": err})
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = shutdownTracing(sctx)
	}()

	recorder := metrics.NewRecorder(prometheus.NewRegistry())
	hooks := asynchook.New(apicache.MultiHooks{
		recorder,
		sloghooks.New(logger.Slog, sloghooks.Options{FetchEvery: 10}),
	}, 1, 1024)
	defer hooks.Close()

	if cfg.Metrics.Address != "" {
		stopMetrics := serveMetrics(cfg.Metrics.Address, recorder.Handler(), logger)
		defer stopMetrics()
	}

	sess, err := openSession(ctx, cfg, logger, hooks, func(_ context.Context, err error) {
		fmt.Fprintf(stderr, "chargectl: session ended (%v); run chargectl login\n", err)
	})
	if err != nil {
		fmt.Fprintf(stderr, "chargectl: %v\n", err)
		return exitFailure
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := sess.Close(sctx); err != nil {
			logger.Warn("session close", apicache.Fields{"err": err})
		}
	}()

	env := &cmdEnv{sess: sess, out: stdout, interval: *interval}
	if err := cmd.run(ctx, env, fs.Args()[1:]); err != nil {
		fmt.Fprintf(stderr, "chargectl: %s: %v\n", cmd.name, err)
		if errors.Is(err, apicache.ErrAuth) {
			return exitAuth
		}
		return exitFailure
	}
	return exitOK
}

func serveMetrics(addr string, h http.Handler, log apicache.Logger) (stop func()) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", h)
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics listener failed", apicache.Fields{"addr": addr, "err": err})
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
