package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"idleempire.io/internal/sim/catalogs"
	"idleempire.io/internal/sim/engine"
	"idleempire.io/internal/sim/events"
	"idleempire.io/internal/sim/tuning"
)

type options struct {
	configDir  string
	dataDir    string
	tuningPath string
	store      string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	o := &options{}
	root := &cobra.Command{
		Use:           "idled",
		Short:         "Idle empire simulation host",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&o.configDir, "configs", "./configs", "config directory (catalog/ and tuning.yaml)")
	pf.StringVar(&o.dataDir, "data", "./data", "runtime data directory")
	pf.StringVar(&o.tuningPath, "tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
	pf.StringVar(&o.store, "store", envString("IDLE_STORE", "file"), "save store: file, sqlite or memory")
	pf.StringVar(&o.logLevel, "log-level", envString("IDLE_LOG_LEVEL", "info"), "debug, info, warn or error")

	root.AddCommand(
		newRunCmd(o),
		newReportCmd(o),
		newExportCmd(o),
		newImportCmd(o),
		newSimulateCmd(o),
		newHistoryCmd(o),
		newJournalCmd(o),
		newArchivesCmd(o),
	)
	return root
}

func (o *options) logger() *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(o.logLevel)); err != nil {
		level = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// load reads catalogs and tuning. A missing tuning file falls back to defaults; a broken
// one is an error.
func (o *options) load(log *slog.Logger) (*catalogs.Catalogs, tuning.Tuning, error) {
	cats, err := catalogs.Load(filepath.Join(o.configDir, "catalog"))
	if err != nil {
		return nil, tuning.Tuning{}, fmt.Errorf("load catalogs: %w", err)
	}
	tp := strings.TrimSpace(o.tuningPath)
	if tp == "" {
		tp = filepath.Join(o.configDir, "tuning.yaml")
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, tuning.Tuning{}, fmt.Errorf("load tuning: %w", err)
		}
		log.Info("tuning not found, using defaults", "path", tp)
		tune = tuning.Defaults()
	}
	return cats, tune, nil
}

// newEngine builds an engine publishing to a fresh bus.
func newEngine(cats *catalogs.Catalogs, tune tuning.Tuning, log *slog.Logger) (*engine.Engine, *events.Bus) {
	bus := events.NewBus(log)
	return engine.New(engine.Config{Catalogs: cats, Tuning: tune, Publisher: bus, Logger: log}), bus
}
