package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sportcal/internal/backend"
	"sportcal/internal/calendar"
	"sportcal/internal/capture"
	"sportcal/internal/config"
	"sportcal/internal/controller"
	appLog "sportcal/internal/log"
	"sportcal/internal/metrics"
	"sportcal/internal/refresh"
	"sportcal/internal/web"
)

const version = "0.1.0"

// flagConfig holds CLI flag values.
type flagConfig struct {
	configPath string
	envFile    string
	listen     string
	once       bool
	snapshot   string
}

func main() {
	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	if err := conf.ApplyEnv(flags.envFile); err != nil {
		appLog.Error("failed to load env file", err, "env_file", flags.envFile)
		os.Exit(1)
	}

	// CLI --listen overrides config and environment.
	if flags.listen != "" {
		conf.Listen = flags.listen
	}

	appLog.SetLevel(appLog.ParseLevel(conf.Log.Level))
	if conf.Log.File != "" {
		closer := appLog.EnableFile(appLog.FileOptions{
			Path:       conf.Log.File,
			MaxSizeMB:  conf.Log.MaxSizeMB,
			MaxBackups: conf.Log.MaxBackups,
			MaxAgeDays: conf.Log.MaxAgeDays,
		})
		defer closer.Close()
	}

	appLog.Info("sportcal starting", "version", version)
	appLog.Info("effective config",
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"week_start", conf.WeekStart,
		"backend", conf.Backend.BaseURL,
		"schema", conf.Backend.Schema,
		"refresh", conf.RefreshCron,
		"once", flags.once,
		"snapshot", flags.snapshot,
	)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	if err := run(ctx, conf, flags); err != nil {
		appLog.Error("sportcal failed", err)
		os.Exit(1)
	}
	appLog.Info("sportcal exiting")
}

func run(ctx context.Context, conf *config.Config, flags flagConfig) error {
	m := metrics.New()
	loc := conf.Location()

	client := backend.New(backend.Options{
		BaseURL:  conf.Backend.BaseURL,
		Schema:   conf.Backend.Schema,
		Timeout:  time.Duration(conf.Backend.TimeoutSeconds) * time.Second,
		Observer: m,
	})
	ctrl := controller.New(client, m, controller.Settings{
		Location:        loc,
		WeekStart:       calendar.WeekStartFromString(conf.WeekStart),
		DateLayout:      conf.DateLayout,
		ResetSelections: conf.Form.ResetSelections,
		TitleWithStatus: conf.Form.TitleWithStatus,
		SuccessNotice:   conf.Form.SuccessNotice,
	})

	// Load failures leave the page usable; they are already logged.
	loadErr := ctrl.Init(ctx)

	if flags.once {
		return printList(os.Stdout, ctrl, loadErr)
	}

	srv := web.NewServer(conf, ctrl, m)

	if flags.snapshot != "" {
		return snapshot(ctx, conf, srv, flags.snapshot)
	}

	if conf.RefreshCron != "" {
		sched, err := refresh.New(conf.RefreshCron, loc, ctrl, time.Duration(conf.Backend.TimeoutSeconds)*time.Second)
		if err != nil {
			return err
		}
		sched.Start()
		defer func() { <-sched.Stop().Done() }()
	}

	return srv.ListenAndServe(ctx)
}

// printList writes the flat event list, one row per line.
func printList(w io.Writer, ctrl *controller.Controller, loadErr error) error {
	list := ctrl.EventList()
	if len(list.Rows) == 0 {
		fmt.Fprintln(w, list.Empty)
	}
	for _, row := range list.Rows {
		fmt.Fprintln(w, row.Text)
		if row.Description != "" {
			fmt.Fprintln(w, "  "+row.Description)
		}
	}
	return loadErr
}

// snapshot serves the page on an ephemeral local port just long enough to
// capture it.
func snapshot(ctx context.Context, conf *config.Config, srv *web.Server, out string) error {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return fmt.Errorf("snapshot: listen: %w", err)
	}

	serveCtx, stop := context.WithCancel(ctx)
	defer stop()
	done := make(chan error, 1)
	go func() { done <- srv.Serve(serveCtx, ln) }()

	url := "http://" + ln.Addr().String() + "/?view=month"
	appLog.Info("capturing page", "url", url, "output", out)
	capErr := capture.SnapshotPNG(ctx, capture.Options{
		URL:        url,
		OutputPath: out,
		Timeout:    time.Duration(conf.Backend.TimeoutSeconds+15) * time.Second,
	})

	stop()
	if err := <-done; err != nil {
		return errors.Join(capErr, err)
	}
	return capErr
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "./sportcal.yaml", "Path to config file")
	flag.StringVar(&cfg.envFile, "env", ".env", "Path to a .env file with SPORTCAL_* overrides")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Load events once, print the list and exit")
	flag.StringVar(&cfg.snapshot, "snapshot", "", "Render the calendar page to this PNG path and exit")

	flag.Parse()

	return cfg
}
