package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/delaneyj/sprinkle/hydrate"
	"github.com/delaneyj/sprinkle/pkg/config"
	"github.com/delaneyj/sprinkle/pkg/metrics"
	"github.com/delaneyj/sprinkle/pkg/report"
	"github.com/delaneyj/sprinkle/schedule"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
)

const (
	configKey = "config"
	scopeKey  = "scope"
	debugKey  = "debug"
	actionKey = "action"
	formatKey = "format"
	addrKey   = "addr"
)

func main() {
	cmd := &cli.Command{
		Name:  "sprinkle",
		Usage: "Hydrate reactive markup",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    configKey,
				Aliases: []string{"c"},
				Usage:   "YAML config file",
			},
			&cli.StringFlag{
				Name:    scopeKey,
				Aliases: []string{"s"},
				Usage:   "YAML or JSON file holding the initial scope",
			},
			&cli.BoolFlag{
				Name:  debugKey,
				Usage: "Enable debug logging",
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "render",
				Usage:     "Hydrate a document, fire events and print the result",
				ArgsUsage: "<file.html>",
				Flags: []cli.Flag{
					&cli.StringSliceFlag{
						Name:    actionKey,
						Aliases: []string{"a"},
						Usage:   "Event to fire after hydration, as event:#id[=value]",
					},
				},
				Action: render,
			},
			{
				Name:      "deps",
				Usage:     "Print the dependency map of a document",
				ArgsUsage: "<file.html>",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  formatKey,
						Usage: "table or html",
						Value: "table",
					},
				},
				Action: deps,
			},
			{
				Name:      "serve",
				Usage:     "Serve a live document over HTTP and websockets",
				ArgsUsage: "<file.html>",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  addrKey,
						Usage: "Listen address",
						Value: ":8080",
					},
				},
				Action: serve,
			},
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := cmd.Run(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}

// open loads the config, scope and document named on the command line and
// hydrates the document.
func open(ctx context.Context, cmd *cli.Command, opts ...hydrate.Option) (*host, *config.Config, *zap.Logger, error) {
	path := cmd.Args().First()
	if path == "" {
		return nil, nil, nil, fmt.Errorf("%s: missing document", cmd.Name)
	}

	cfg, err := config.Load(cmd.String(configKey))
	if err != nil {
		return nil, nil, nil, err
	}
	cfg.Debug = cfg.Debug || cmd.Bool(debugKey)
	logger, err := cfg.Logger()
	if err != nil {
		return nil, nil, nil, err
	}

	scope, err := loadScope(cmd.String(scopeKey))
	if err != nil {
		return nil, nil, nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, nil, nil, err
	}
	defer f.Close()

	h, err := newHost(ctx, cfg, logger, f, scope, opts...)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("%s: %w", path, err)
	}
	return h, cfg, logger, nil
}

func render(ctx context.Context, cmd *cli.Command) error {
	var actions []action
	for _, s := range cmd.StringSlice(actionKey) {
		a, err := parseAction(s)
		if err != nil {
			return err
		}
		actions = append(actions, a)
	}

	h, _, logger, err := open(ctx, cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if err := h.takeErrors(); err != nil {
		return err
	}
	for _, a := range actions {
		if err := h.dispatch(a); err != nil {
			return fmt.Errorf("%s:#%s: %w", a.Event, a.Target, err)
		}
	}
	if err := h.render(os.Stdout); err != nil {
		return err
	}
	fmt.Fprintln(os.Stdout)
	return nil
}

func deps(ctx context.Context, cmd *cli.Command) error {
	format := cmd.String(formatKey)
	if format != "table" && format != "html" {
		return fmt.Errorf("unknown format %q", format)
	}

	h, _, logger, err := open(ctx, cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	rows := report.Rows(h.hyd.Tracker())
	if format == "html" {
		report.WriteHTML(os.Stdout, rows)
		fmt.Fprintln(os.Stdout)
		return nil
	}
	report.WriteTable(os.Stdout, rows)
	return nil
}

func serve(ctx context.Context, cmd *cli.Command) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.New(metrics.WithRegistry(reg))

	h, cfg, logger, err := open(ctx, cmd, hydrate.WithObserver(collector))
	if err != nil {
		return err
	}
	defer logger.Sync()

	loopCtx, cancel := context.WithCancel(ctx)
	done := schedule.Loop(loopCtx, h.frames, cfg.FrameInterval, h)
	defer func() {
		cancel()
		<-done
	}()

	return listen(ctx, cmd.String(addrKey), newServer(h, logger).routes(reg), logger)
}
