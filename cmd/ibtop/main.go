package main

import (
	"log/slog"
	"os"

	"github.com/skobkin/ibtop/cmd/ibtop/command"
	"github.com/skobkin/ibtop/internal/version"
)

var (
	buildVersion = "dev"
	buildCommit  = ""
	buildTime    = ""
)

func main() {
	version.Set(version.Info{
		Version:   buildVersion,
		Commit:    buildCommit,
		BuildTime: buildTime,
	})

	if err := command.App().Run(os.Args); err != nil {
		handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})
		slog.New(handler).Error("application error", "err", err)
		os.Exit(1)
	}
}
