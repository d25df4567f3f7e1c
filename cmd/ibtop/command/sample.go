package command

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli"

	"github.com/skobkin/ibtop/internal/app"
	"github.com/skobkin/ibtop/internal/ib"
	"github.com/skobkin/ibtop/internal/render"
	"github.com/skobkin/ibtop/internal/sampler"
)

var errInterrupted = errors.New("interrupted before a sample was taken")

// sampleCommand takes a baseline, waits one interval and prints a single
// cycle.
func sampleCommand(cliContext *cli.Context) error {
	cfg, err := loadConfig(cliContext)
	if err != nil {
		return err
	}

	logger := newLogger(os.Stderr, cfg.LogLevel)

	interfaces, err := ib.Discover(cfg.SysfsRoot, logger.With("component", "ib_discovery"))
	if err != nil {
		return fmt.Errorf("discover interfaces: %w", err)
	}
	if len(interfaces) == 0 {
		return app.ErrNoInterfaces
	}

	ports := ib.PortRefs(interfaces)
	if name := cliContext.String("interface"); name != "" {
		ports = filterPorts(ports, name)
		if len(ports) == 0 {
			return fmt.Errorf("unknown interface %q", name)
		}
	}

	reader, err := sampler.NewReader(cfg.SysfsRoot, logger)
	if err != nil {
		return fmt.Errorf("init reader: %w", err)
	}
	manager, err := sampler.NewManager(sampler.DefaultInterval, reader, ports, logger)
	if err != nil {
		_ = reader.Close()
		return fmt.Errorf("init sampler manager: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var cycle sampler.Cycle
	manager.OnCycle(func(c sampler.Cycle) {
		if c.Seq >= 2 {
			cycle = c
			cancel()
		}
	})

	if err := manager.Run(ctx); err != nil {
		return err
	}
	if cycle.Seq == 0 {
		return errInterrupted
	}

	w := cliContext.App.Writer
	if cliContext.Bool("json") {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(cycle)
	}

	if err := render.NewTerminal(w, false).Render(cycle); err != nil {
		return err
	}
	for _, skip := range cycle.Skipped {
		if _, err := fmt.Fprintf(w, "Skipped: %s/%s (%s)\n", skip.Interface, skip.Port, skip.Reason); err != nil {
			return err
		}
	}
	return nil
}

func filterPorts(ports []ib.PortRef, iface string) []ib.PortRef {
	var out []ib.PortRef
	for _, ref := range ports {
		if ref.Interface == iface {
			out = append(out, ref)
		}
	}
	return out
}
