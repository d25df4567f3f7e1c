// Package app wires up and runs the application services.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/skobkin/ibtop/internal/config"
	"github.com/skobkin/ibtop/internal/hostinfo"
	"github.com/skobkin/ibtop/internal/httpserver"
	"github.com/skobkin/ibtop/internal/ib"
	"github.com/skobkin/ibtop/internal/procscan"
	"github.com/skobkin/ibtop/internal/sampler"
)

const shutdownTimeout = 10 * time.Second

// ErrNoInterfaces is returned when discovery finds nothing to monitor.
var ErrNoInterfaces = errors.New("no InfiniBand interfaces found")

// Renderer presents a completed sampling cycle.
type Renderer interface {
	Render(cycle sampler.Cycle) error
}

// Run discovers interfaces once and samples them until ctx is cancelled.
// The HTTP exporter and process scanner are started only when a listen
// address is configured.
func Run(ctx context.Context, baseLogger *slog.Logger, cfg config.Config, renderer Renderer) error {
	appLogger := baseLogger.With("component", "app")

	host, err := hostinfo.Collect(ctx)
	if err != nil {
		appLogger.Warn("host info unavailable", "err", err)
	} else {
		appLogger.Info("host", "hostname", host.Hostname, "kernel", host.KernelVersion)
	}

	interfaces, err := ib.Discover(cfg.SysfsRoot, baseLogger.With("component", "ib_discovery"))
	if err != nil {
		return fmt.Errorf("discover interfaces: %w", err)
	}
	if len(interfaces) == 0 {
		return ErrNoInterfaces
	}
	ports := ib.PortRefs(interfaces)
	appLogger.Info("discovered interfaces", "count", len(interfaces), "ports", len(ports))

	reader, err := sampler.NewReader(cfg.SysfsRoot, baseLogger)
	if err != nil {
		return fmt.Errorf("init reader: %w", err)
	}

	samplerManager, err := sampler.NewManager(sampler.DefaultInterval, reader, ports, baseLogger)
	if err != nil {
		_ = reader.Close()
		return fmt.Errorf("init sampler manager: %w", err)
	}
	defer func() {
		if err := samplerManager.Close(); err != nil {
			appLogger.Warn("sampler manager close", "err", err)
		}
	}()

	if renderer != nil {
		samplerManager.OnCycle(func(cycle sampler.Cycle) {
			if err := renderer.Render(cycle); err != nil {
				appLogger.Warn("render failed", "err", err)
			}
		})
	}

	if !cfg.HTTPEnabled() {
		if err := samplerManager.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		appLogger.Info("shutdown complete")
		return nil
	}

	return serve(ctx, baseLogger, appLogger, cfg, interfaces, host, samplerManager)
}

func serve(ctx context.Context, baseLogger, appLogger *slog.Logger, cfg config.Config, interfaces []ib.Interface, host hostinfo.Info, samplerManager *sampler.Manager) error {
	var procManager *procscan.Manager
	if cfg.Proc.Enable {
		devices, err := procscan.VerbsDevices(cfg.SysfsRoot, baseLogger.With("component", "procscan"))
		if err != nil {
			appLogger.Warn("verbs devices unavailable", "err", err)
		}
		names := make([]string, 0, len(interfaces))
		for _, iface := range interfaces {
			names = append(names, iface.Name)
		}
		procManager, err = procscan.NewManager(cfg.Proc, cfg.ProcRoot, names, devices, baseLogger)
		if err != nil {
			return fmt.Errorf("init proc scanner: %w", err)
		}
		defer func() {
			if err := procManager.Close(); err != nil {
				appLogger.Warn("proc manager close", "err", err)
			}
		}()
	}

	samplerCtx, samplerCancel := context.WithCancel(ctx)
	defer samplerCancel()

	samplerErrCh := make(chan error, 1)
	go func() {
		samplerErrCh <- samplerManager.Run(samplerCtx)
	}()

	var (
		procCancel context.CancelFunc
		procErrCh  chan error
	)

	if procManager != nil {
		var procCtx context.Context
		procCtx, procCancel = context.WithCancel(ctx)
		defer procCancel()
		procErrCh = make(chan error, 1)
		go func() {
			procErrCh <- procManager.Run(procCtx)
		}()
	}

	srv := httpserver.New(cfg, baseLogger.With("component", "http"), interfaces, host, samplerManager, procManager)

	appLogger.Info("starting HTTP server", "listen_addr", cfg.ListenAddr)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	stopWorkers := func() error {
		samplerCancel()
		if procCancel != nil {
			procCancel()
		}
		if samplerErrCh != nil {
			if err := <-samplerErrCh; err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
		}
		if procErrCh != nil {
			if err := <-procErrCh; err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
		}
		return nil
	}

	for {
		select {
		case err := <-errCh:
			if stopErr := stopWorkers(); err == nil {
				err = stopErr
			}
			return err
		case err := <-samplerErrCh:
			samplerErrCh = nil
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
		case err := <-procErrCh:
			procErrCh = nil
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
		case <-ctx.Done():
			appLogger.Info("shutdown initiated", "reason", ctx.Err())

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()

			if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("http shutdown: %w", err)
			}
			if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			if err := stopWorkers(); err != nil {
				return err
			}

			appLogger.Info("shutdown complete")
			return nil
		}
	}
}
