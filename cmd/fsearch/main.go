package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	internal "github.com/ZanzyTHEbar/filesearch/fsearch"
	"github.com/ZanzyTHEbar/filesearch/fsearch/common"
	"github.com/ZanzyTHEbar/filesearch/fsearch/config"
	"github.com/ZanzyTHEbar/filesearch/fsearch/journal"
	"github.com/ZanzyTHEbar/filesearch/fsearch/ports"
	"github.com/ZanzyTHEbar/filesearch/fsearch/searcher"
	"github.com/ZanzyTHEbar/filesearch/fsearch/volume"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
)

var Version = "dev"

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:                   internal.DefaultAppName,
		Usage:                  "Index local volumes and search file names instantly",
		Version:                Version,
		UseShortOptionHandling: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Config file path (default: ./config.yaml or ~/.config/fsearch/config.yaml)",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Override log.level (debug, info, warn, error)",
			},
			&cli.StringFlag{
				Name:    "strategy",
				Aliases: []string{"s"},
				Usage:   "Override index.strategy (auto, walk, journal)",
			},
			&cli.StringSliceFlag{
				Name:    "root",
				Aliases: []string{"r"},
				Usage:   "Index this directory instead of the configured roots (repeatable)",
			},
		},
		Commands: []*cli.Command{
			indexCommand(),
			findCommand(),
			shellCommand(),
			statusCommand(),
			cleanCommand(),
		},
	}
}

// env is everything a command needs, built from config and flags.
type env struct {
	cfg      *config.Config
	logger   zerolog.Logger
	state    *volume.StateFile
	registry *volume.Registry
	ui       ports.Interactor
}

func setup(c *cli.Context) (*env, error) {
	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return nil, err
	}
	if s := c.String("strategy"); s != "" {
		cfg.Index.Strategy = s
	}
	if roots := c.StringSlice("root"); len(roots) > 0 {
		cfg.Index.Roots = roots
		cfg.Index.ShallowRoots = nil
	}
	if lvl := c.String("log-level"); lvl != "" {
		cfg.Log.Level = lvl
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := internal.NewLogger(cfg.Log.Level, cfg.Log.Pretty)

	state, err := volume.OpenStateFile(cfg.Index.StateFile)
	if errors.Is(err, common.ErrDataFormat) {
		logger.Warn().Err(err).Msg("Ignoring unreadable state file, it is rewritten on the next save")
	} else if err != nil {
		return nil, err
	}

	var source volume.Source = volume.StaticSource{Roots: cfg.Index.Roots, ShallowRoots: cfg.Index.ShallowRoots}
	if cfg.Index.Strategy != config.StrategyWalk && len(c.StringSlice("root")) == 0 {
		source = volume.PlatformSource{Fallback: source}
	}

	return &env{
		cfg:      cfg,
		logger:   logger,
		state:    state,
		registry: volume.NewRegistry(cfg, source, journal.NewOpener(), state, logger),
		ui:       newConsole(os.Stderr),
	}, nil
}

// signalContext is cancelled on interrupt or termination.
func signalContext(c *cli.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
}

// startCoordinator runs a coordinator in the background. stop shuts it
// down, which releases and persists every volume.
func (e *env) startCoordinator(ctx context.Context, sink ports.ResultSink) (co *searcher.Coordinator, stop func() error) {
	co = searcher.New(searcher.FromRegistry(e.registry), sink, searcher.Options{
		BatchSize:         e.cfg.Searcher.BatchSize,
		MaxParallelBuilds: e.cfg.Index.MaxParallelBuilds,
	}, e.logger)

	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return co.Run(gctx) })

	return co, func() error {
		cancel()
		return g.Wait()
	}
}

func debounceDelay(cfg *config.Config) time.Duration {
	return time.Duration(cfg.Searcher.DebounceMs) * time.Millisecond
}
