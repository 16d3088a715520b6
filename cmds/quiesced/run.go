package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/safing/quiesce/base/info"
	"github.com/safing/quiesce/base/log"
)

var (
	configPath    string
	listenFlag    string
	logLevelFlag  string
	journalFlag   string
	quiesceOnExit bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the quiesce daemon",
	Args:  cobra.NoArgs,
	RunE:  cmdRun,
}

func init() {
	flags := runCmd.Flags()
	flags.StringVarP(&configPath, "config", "c", "", "path to the YAML config file")
	flags.StringVar(&listenFlag, "listen", "", "address to serve the HTTP API on (overrides config)")
	flags.StringVar(&logLevelFlag, "log", "", "log level: trace, debug, info, warning, error, critical (overrides config)")
	flags.StringVar(&journalFlag, "journal", "", "path of the request journal (overrides config)")
	flags.BoolVar(&quiesceOnExit, "quiesce-on-exit", false, "quiesce all units before exiting (overrides config)")
}

func cmdRun(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	applyFlags(cmd, cfg)

	// Start logging before anything else, so that all managers use it.
	if err := log.Start(cfg.LogLevel); err != nil {
		return err
	}

	slog.Info("starting", "version", info.Version(), "units", len(cfg.Units), "participants", len(cfg.Participants))

	d, err := newDaemon(cfg)
	if err != nil {
		return err
	}
	defer d.close()

	group := d.group()
	if err := group.Start(); err != nil {
		return fmt.Errorf("failed to start: %w", err)
	}

	// Wait for signal.
	signalCh := make(chan os.Signal, 1)
	signal.Notify(
		signalCh,
		os.Interrupt,
		syscall.SIGHUP,
		syscall.SIGTERM,
		syscall.SIGQUIT,
	)
	<-signalCh
	fmt.Println(" <INTERRUPT>") // CLI output.
	slog.Warn("program was interrupted, stopping")

	// Force exit after more interrupts or if stopping takes too long.
	deadline := time.After(cfg.Quiesce.DefaultTimeout + 3*time.Minute)
	go func() {
		forceCnt := 5
		for {
			select {
			case <-signalCh:
				forceCnt--
				if forceCnt > 0 {
					fmt.Printf(" <INTERRUPT> again, but already shutting down - %d more to force\n", forceCnt)
					continue
				}
			case <-deadline:
				slog.Error("taking too long to stop, exiting")
			}
			os.Exit(1)
		}
	}()

	if cfg.QuiesceOnExit {
		d.quiesceAll()
	}
	if err := group.Stop(); err != nil {
		slog.Error("failed to stop", "err", err)
		return err
	}
	return nil
}

func applyFlags(cmd *cobra.Command, cfg *Config) {
	flags := cmd.Flags()
	if flags.Changed("listen") {
		cfg.Listen = listenFlag
	}
	if flags.Changed("log") {
		cfg.LogLevel = logLevelFlag
	}
	if flags.Changed("journal") {
		cfg.Journal.Path = journalFlag
	}
	if flags.Changed("quiesce-on-exit") {
		cfg.QuiesceOnExit = quiesceOnExit
	}
}
