package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	gadget "github.com/kevmo314/go-uvc-gadget"
	"github.com/kevmo314/go-uvc-gadget/pkg/config"
	"github.com/kevmo314/go-uvc-gadget/pkg/descriptors"
	"github.com/kevmo314/go-uvc-gadget/pkg/logging"
	"github.com/kevmo314/go-uvc-gadget/pkg/monitor"
	"github.com/kevmo314/go-uvc-gadget/pkg/source"
	"github.com/kevmo314/go-uvc-gadget/pkg/transport/fifo"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML config, defaults apply when empty")
	bus := flag.String("bus", "", "fifo bus directory (overrides transport.bus_dir)")
	logLevel := flag.String("log-level", "", "debug, info, warn or error (overrides log.level)")
	monitorAddr := flag.String("monitor", "", "serve the monitor API on this address")

	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if *bus != "" {
		cfg.Transport.BusDir = *bus
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if *monitorAddr != "" {
		cfg.Monitor.Enabled = true
		cfg.Monitor.Addr = *monitorAddr
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid flags: %v\n", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logging.Logger(logging.ComponentGadget).Error("gadget stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	level, _ := logging.ParseLevel(cfg.Log.Level)
	format, _ := logging.ParseFormat(cfg.Log.Format)
	logging.SetOutput(os.Stderr, format)
	logging.SetLevel(level)
	log := logging.Logger(logging.ComponentGadget)

	tc, err := cfg.TableConfig()
	if err != nil {
		return err
	}
	table, err := descriptors.BuildTable(tc)
	if err != nil {
		return err
	}
	log.Debug("descriptor table", "table", table.String())

	src, err := newSource(cfg, table)
	if err != nil {
		return fmt.Errorf("source: %w", err)
	}
	if c, ok := src.(io.Closer); ok {
		defer c.Close()
	}

	dev, err := fifo.NewDevice(cfg.Transport.BusDir, cfg.Transport.DeviceID)
	if err != nil {
		return fmt.Errorf("transport: %w", err)
	}
	defer dev.Close()

	policy, err := gadget.ParseCommitPolicy(cfg.Video.CommitPolicy)
	if err != nil {
		return err
	}
	g, err := gadget.New(table, src, dev, gadget.Options{
		Policy:                 policy,
		BufferCapacity:         cfg.Video.BufferCapacity,
		MaxPayloadTransferSize: cfg.Video.MaxPayloadTransferSize,
		FillProbeDefaults:      cfg.Video.FillProbeDefaults,
		IdleInterval:           cfg.Stream.IdleInterval.D(),
		RetryMin:               cfg.Stream.RetryBackoff.Min.D(),
		RetryMax:               cfg.Stream.RetryBackoff.Max.D(),
		Yield:                  cfg.Stream.Yield.D(),
		Pace:                   cfg.Stream.Pace,
	})
	if err != nil {
		return err
	}
	log.Info("device attached", "bus", cfg.Transport.BusDir, "id", dev.ID(), "source", cfg.Source.Kind)

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error { return g.Run(ctx) })
	if cfg.Monitor.Enabled {
		m := monitor.New(monitor.Options{Addr: cfg.Monitor.Addr, Gadget: g})
		eg.Go(func() error { return m.Run(ctx) })
	}
	return eg.Wait()
}

// newSource builds the configured source at the size of the default frame.
func newSource(cfg *config.Config, table *descriptors.Table) (source.Source, error) {
	def := table.DefaultFrame()
	opts := source.Options{
		Width:      int(def.Width),
		Height:     int(def.Height),
		Quality:    cfg.Source.Quality,
		PoolSize:   cfg.Source.PoolSize,
		StillEvery: cfg.Source.StillEvery,
	}
	switch cfg.Source.Kind {
	case "dir":
		return source.NewDir(cfg.Source.Dir, opts)
	case "files":
		return source.NewFiles(cfg.Source.Files, opts)
	default:
		return source.NewPattern(opts), nil
	}
}
