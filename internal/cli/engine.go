package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mehrguard/mehrguard/internal/config"
	"github.com/mehrguard/mehrguard/internal/engine"
	"github.com/mehrguard/mehrguard/internal/logging"
	"github.com/mehrguard/mehrguard/internal/tables"
)

// engineFlags are shared by every command that analyzes URLs locally.
type engineFlags struct {
	preset          string
	engineConfig    string
	tables          string
	counterfactuals bool
}

func (f *engineFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.preset, "preset", "", "Engine preset: default|strict|lenient (overrides config)")
	cmd.Flags().StringVar(&f.engineConfig, "engine-config", "", "Engine config JSON file (overrides --preset)")
	cmd.Flags().StringVar(&f.tables, "tables", "", "Table manifest JSON (default: tables.manifest_path or bundled tables)")
	cmd.Flags().BoolVar(&f.counterfactuals, "counterfactuals", false, "Include per-flag counterfactual scores")
}

// localEngine is an engine built from the config file and command flags.
type localEngine struct {
	cfg    *config.Config
	engine *engine.Engine
	logger *slog.Logger
	closer io.Closer
}

func (l *localEngine) Close() error { return l.closer.Close() }

func (f *engineFlags) build(cmd *cobra.Command) (*localEngine, error) {
	cfg, err := loadLocalConfig(configPath(cmd))
	if err != nil {
		return nil, err
	}
	if f.preset != "" {
		cfg.Engine.Preset = f.preset
		cfg.Engine.File = ""
	}
	if f.engineConfig != "" {
		cfg.Engine.File = f.engineConfig
	}
	if cmd.Flags().Changed("counterfactuals") {
		v := f.counterfactuals
		cfg.Engine.Counterfactuals = &v
	}
	ecfg, err := cfg.Engine.Build()
	if err != nil {
		return nil, err
	}

	store := tables.NewStore(tables.Default())
	manifest := f.tables
	if manifest == "" {
		manifest = cfg.Tables.ManifestPath
	}
	if manifest != "" {
		snap, err := loadManifestFile(manifest)
		if err != nil {
			return nil, err
		}
		if _, err := store.Swap(snap); err != nil {
			return nil, err
		}
	}

	logger, closer, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, err
	}
	return &localEngine{
		cfg: cfg,
		engine: engine.New(
			engine.WithTables(store),
			engine.WithConfig(ecfg),
			engine.WithLogger(logger),
		),
		logger: logger,
		closer: closer,
	}, nil
}

func loadManifestFile(path string) (*tables.Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open manifest: %w", err)
	}
	defer f.Close()
	_, raw, err := tables.ReadManifest(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return tables.Load(raw, "file:"+path)
}

// failOn decides whether a verdict trips --fail-on. "suspicious" also
// trips on UNKNOWN, since unparseable input should not be opened either.
type failOn string

func parseFailOn(s string) (failOn, error) {
	switch v := failOn(strings.ToLower(strings.TrimSpace(s))); v {
	case "", "suspicious", "malicious":
		return v, nil
	default:
		return "", fmt.Errorf("invalid --fail-on %q (want suspicious|malicious)", s)
	}
}

func (f failOn) trips(v engine.Verdict) bool {
	switch f {
	case "malicious":
		return v == engine.VerdictMalicious
	case "suspicious":
		return v != engine.VerdictSafe
	default:
		return false
	}
}
