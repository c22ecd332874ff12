// Command uci runs the per-workspace code search service: it opens the
// durable index, loads the memory index, bootstraps the source mirror, starts
// the external full-text engine, and serves the HTTP API.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/standardbeagle/uci/internal/analytics"
	"github.com/standardbeagle/uci/internal/config"
	"github.com/standardbeagle/uci/internal/ingest"
	"github.com/standardbeagle/uci/internal/memindex"
	"github.com/standardbeagle/uci/internal/mirror"
	"github.com/standardbeagle/uci/internal/querypool"
	"github.com/standardbeagle/uci/internal/search"
	"github.com/standardbeagle/uci/internal/server"
	"github.com/standardbeagle/uci/internal/store"
	"github.com/standardbeagle/uci/internal/version"
	"github.com/standardbeagle/uci/internal/zoekt"
)

func main() {
	app := &cli.App{
		Name:    "uci",
		Usage:   "per-workspace code search service for Unreal source trees",
		Version: version.FullInfo(),
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "start the service",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "config",
						Aliases: []string{"c"},
						Usage:   "path to the workspace configuration file",
						EnvVars: []string{"UCI_CONFIG"},
					},
				},
				Action: serve,
			},
		},
		DefaultCommand: "serve",
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serve(c *cli.Context) error {
	configPath := c.String("config")
	if configPath == "" && c.Args().Len() > 0 {
		configPath = c.Args().First()
	}
	if configPath == "" {
		return cli.Exit("a configuration path is required (--config or UCI_CONFIG)", 1)
	}

	log := newLogger()
	log.Info().Str("version", version.Info()).Str("config", configPath).Msg("starting")

	cfg, err := config.Load(configPath)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	st, err := store.Open(cfg.Data.DBPath, log)
	if err != nil {
		return cli.Exit(fmt.Sprintf("open store: %v", err), 1)
	}
	defer st.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	idx := memindex.New(log)
	mir := mirror.New(cfg.Data.MirrorDir, log)

	// The memory index and the mirror both derive from the store; rebuild
	// them in parallel before anything serves.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return idx.Load(gctx, st) })
	g.Go(func() error { return mir.Bootstrap(gctx, st) })
	if err := g.Wait(); err != nil {
		return cli.Exit(fmt.Sprintf("startup rebuild: %v", err), 1)
	}

	engine := zoekt.New(zoekt.Options{
		BinaryDir:       cfg.Zoekt.BinaryDir,
		IndexDir:        cfg.Data.IndexDir,
		WebPort:         cfg.Zoekt.WebPort,
		Parallelism:     cfg.Zoekt.Parallelism,
		FileLimitBytes:  cfg.Zoekt.FileLimitBytes,
		ReindexDebounce: time.Duration(cfg.Zoekt.ReindexDebounceMs) * time.Millisecond,
	}, log)
	if err := engine.Start(ctx); err != nil {
		// The engine is required when the workspace pins its binaries;
		// otherwise grep degrades to the internal scanner.
		if cfg.Zoekt.BinaryDir != "" {
			return cli.Exit(fmt.Sprintf("start search engine: %v", err), 1)
		}
		log.Warn().Err(err).Msg("external search engine unavailable, grep will use the internal scanner")
	}
	defer engine.Shutdown()

	pool := querypool.New(st.DB(), cfg.Query.PoolSize, cfg.Query.QueueLimit,
		time.Duration(cfg.Query.TimeoutMs)*time.Millisecond, log)
	defer pool.Shutdown()

	grep := search.New(st, engine, mir.Prefix, time.Duration(cfg.Query.GrepTimeoutMs)*time.Millisecond, log)
	ing := ingest.New(cfg, st, idx, mir, engine, log)
	sink := analytics.New(st, 0, log)
	defer sink.Close()

	srv := server.New(cfg, st, idx, pool, grep, ing, sink, engine, mir, log)
	if err := srv.Start(); err != nil {
		return cli.Exit(err.Error(), 1)
	}

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http shutdown incomplete")
	}
	return nil
}

func newLogger() zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	if isatty.IsTerminal(os.Stderr.Fd()) {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}).
			With().Timestamp().Logger()
	}
	return zerolog.New(os.Stderr).With().Timestamp().Logger()
}
