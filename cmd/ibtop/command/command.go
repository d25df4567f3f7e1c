// Package command defines the ibtop command line.
package command

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/urfave/cli"

	"github.com/skobkin/ibtop/internal/config"
	"github.com/skobkin/ibtop/internal/version"
)

const usage = `
# to watch per-port bandwidth of every InfiniBand port
ibtop

# to also serve the JSON API, websocket stream and metrics
ibtop --listen-addr 127.0.0.1:8080

# to list interfaces, link state and cumulative traffic
ibtop list --totals
`

// App builds the ibtop command line application.
func App() *cli.App {
	app := cli.NewApp()

	app.Name = "ibtop"
	app.Version = version.Current().String()
	app.Usage = usage
	app.Description = "InfiniBand per-port bandwidth monitor"

	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "sysfs-root",
			Usage: "sysfs mount point to read devices from (overrides IBTOP_SYSFS_ROOT)",
		},
		cli.StringFlag{
			Name:  "log-level,l",
			Usage: "set the logging level [debug, info, warn, error] (overrides IBTOP_LOG_LEVEL)",
		},
		cli.StringFlag{
			Name:  "listen-addr",
			Usage: "serve the HTTP exporter on this address (overrides IBTOP_LISTEN_ADDR, empty disables)",
		},
	}
	app.Action = runCommand

	app.Commands = []cli.Command{
		{
			Name:   "list",
			Usage:  "list discovered InfiniBand interfaces and ports",
			Action: listCommand,
			Flags: []cli.Flag{
				cli.BoolFlag{
					Name:  "json",
					Usage: "print the result as JSON",
				},
				cli.BoolFlag{
					Name:  "totals",
					Usage: "also print cumulative received and transmitted data per port",
				},
			},
		},
		{
			Name:   "sample",
			Usage:  "take one bandwidth sample of every port and exit",
			Action: sampleCommand,
			Flags: []cli.Flag{
				cli.StringFlag{
					Name:  "interface",
					Usage: "only sample ports of this interface",
				},
				cli.BoolFlag{
					Name:  "json",
					Usage: "print the cycle as JSON",
				},
			},
		},
		{
			Name:  "version",
			Usage: "print build information",
			Action: func(cliContext *cli.Context) error {
				_, err := fmt.Fprintln(cliContext.App.Writer, version.Current().String())
				return err
			},
		},
	}

	return app
}

// loadConfig reads IBTOP_* variables and applies command line overrides.
func loadConfig(cliContext *cli.Context) (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, fmt.Errorf("load configuration: %w", err)
	}

	if value, ok := stringFlag(cliContext, "sysfs-root"); ok {
		cfg.SysfsRoot = value
	}
	if value, ok := stringFlag(cliContext, "listen-addr"); ok {
		cfg.ListenAddr = value
	}
	if value, ok := stringFlag(cliContext, "log-level"); ok {
		level, err := config.ParseLogLevel(value)
		if err != nil {
			return config.Config{}, fmt.Errorf("parse --log-level: %w", err)
		}
		cfg.LogLevel = level
	}

	return cfg, nil
}

// stringFlag finds a flag set on this command or any parent command.
func stringFlag(cliContext *cli.Context, name string) (string, bool) {
	if cliContext.IsSet(name) {
		return cliContext.String(name), true
	}
	if cliContext.GlobalIsSet(name) {
		return cliContext.GlobalString(name), true
	}
	return "", false
}

func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}
