package command

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli"

	"github.com/skobkin/ibtop/internal/app"
	"github.com/skobkin/ibtop/internal/render"
)

func runCommand(cliContext *cli.Context) error {
	cfg, err := loadConfig(cliContext)
	if err != nil {
		return err
	}

	logger := newLogger(os.Stderr, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return app.Run(ctx, logger, cfg, render.NewStdout())
}
