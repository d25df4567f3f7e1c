package command

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/urfave/cli"

	"github.com/skobkin/ibtop/internal/app"
	"github.com/skobkin/ibtop/internal/hostinfo"
	"github.com/skobkin/ibtop/internal/ib"
	"github.com/skobkin/ibtop/internal/render"
)

const hostInfoTimeout = 5 * time.Second

type listOutput struct {
	Host       *hostinfo.Info `json:"host,omitempty"`
	Interfaces []ib.Interface `json:"interfaces"`
	Ports      []listPort     `json:"ports"`
}

type listPort struct {
	ib.PortRef
	*ib.PortAttributes
}

func listCommand(cliContext *cli.Context) error {
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

	attrs, err := ib.Describe(cfg.SysfsRoot)
	if err != nil {
		logger.Warn("link attributes unavailable", "err", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), hostInfoTimeout)
	defer cancel()

	var host *hostinfo.Info
	if info, err := hostinfo.Collect(ctx); err != nil {
		logger.Warn("host info unavailable", "err", err)
	} else {
		host = &info
	}

	w := cliContext.App.Writer
	if cliContext.Bool("json") {
		return writeListJSON(w, host, interfaces, attrs)
	}

	if host != nil {
		if _, err := fmt.Fprintf(w, "Host: %s\n\n", host); err != nil {
			return err
		}
	}
	render.WriteInterfaces(w, interfaces, attrs)

	if cliContext.Bool("totals") {
		if _, err := fmt.Fprintln(w); err != nil {
			return err
		}
		render.WriteTotals(w, attrs, ib.PortRefs(interfaces))
	}
	return nil
}

func writeListJSON(w io.Writer, host *hostinfo.Info, interfaces []ib.Interface, attrs ib.Attributes) error {
	out := listOutput{
		Host:       host,
		Interfaces: interfaces,
		Ports:      []listPort{},
	}
	for _, ref := range ib.PortRefs(interfaces) {
		entry := listPort{PortRef: ref}
		if pa, ok := attrs[ref]; ok {
			entry.PortAttributes = &pa
		}
		out.Ports = append(out.Ports, entry)
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
