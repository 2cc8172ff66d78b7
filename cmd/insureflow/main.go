// Package main is the entry point for the insureflow command.
//
// insureflow keeps a local book of insurance policies, clients and products
// and synchronizes the policies with a Google spreadsheet. It runs either as
// a local JSON API (serve) or as one-shot commands. Configuration is read
// from a YAML file, INSUREFLOW_* environment variables and flags.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/insureflow/insureflow/internal/config"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

func main() {
	if err := mainImpl(); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "insureflow: %v\n", err)
		os.Exit(1)
	}
}

func mainImpl() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	defer stop()
	return newRootCmd().ExecuteContext(ctx)
}

// cli holds the values of the persistent flags and the resolved
// configuration shared by every subcommand.
type cli struct {
	configPath string
	dataDir    string
	logLevel   string
	logFormat  string
	jsonOutput bool

	level slog.LevelVar
	cfg   *config.Config
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:           "insureflow",
		Short:         "InsureFlow CRM with Google Sheets sync",
		Version:       buildVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.setup(cmd)
		},
	}
	root.SetVersionTemplate(versionText())
	f := root.PersistentFlags()
	f.StringVar(&c.configPath, "config", "", "Config file (default $INSUREFLOW_CONFIG or <data-dir>/insureflow.yaml)")
	f.StringVar(&c.dataDir, "data-dir", "", "Data directory (default ./data)")
	f.StringVar(&c.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	f.StringVar(&c.logFormat, "log-format", "", "Log format (text, json)")
	f.BoolVar(&c.jsonOutput, "json", false, "Output in JSON format")

	root.AddCommand(
		newServeCmd(c),
		newTokenCmd(c),
		newConnectCmd(c),
		newSyncCmd(c),
		newPushCmd(c),
		newAppendCmd(c),
		newPolicyCmd(c),
		newClientCmd(c),
		newProductCmd(c),
	)
	return root
}

// setup loads the configuration, applies explicit flags and installs the
// process logger.
func (c *cli) setup(cmd *cobra.Command) error {
	flags := cmd.Flags()
	path := c.configPath
	if path == "" && os.Getenv("INSUREFLOW_CONFIG") == "" && flags.Changed("data-dir") {
		// Look for the default file in the data directory named on the
		// command line rather than the default one.
		if p := filepath.Join(c.dataDir, "insureflow.yaml"); fileExists(p) {
			path = p
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if flags.Changed("data-dir") {
		cfg.DataDir = c.dataDir
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = c.logLevel
	}
	if flags.Changed("log-format") {
		cfg.Log.Format = c.logFormat
	}
	if f := flags.Lookup("http"); f != nil && f.Changed {
		cfg.HTTP.Addr = f.Value.String()
	}
	if f := flags.Lookup("base-url"); f != nil && f.Changed {
		cfg.HTTP.BaseURL = f.Value.String()
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	lvl, err := cfg.LogLevel()
	if err != nil {
		return err
	}
	c.level.Set(lvl)
	slog.SetDefault(newLogger(cmd.ErrOrStderr(), &c.level, cfg.Log.Format))
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	c.cfg = cfg
	return nil
}

// newLogger returns the process logger. The text format is colored when w is
// a terminal.
func newLogger(w io.Writer, level slog.Leveler, format string) *slog.Logger {
	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
	}
	noColor := true
	if f, ok := w.(*os.File); ok {
		noColor = !isatty.IsTerminal(f.Fd())
		w = colorable.NewColorable(f)
	}
	// Skip timestamps when running under systemd (it adds its own).
	underSystemd := os.Getenv("JOURNAL_STREAM") != ""
	return slog.New(tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: "15:04:05.000",
		NoColor:    noColor,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if underSystemd && a.Key == slog.TimeKey && len(groups) == 0 {
				return slog.Attr{}
			}
			if zeroValue(a.Value.Any()) {
				return slog.Attr{}
			}
			return a
		},
	}))
}

func zeroValue(val any) bool {
	switch t := val.(type) {
	case string:
		return t == ""
	case bool:
		return !t
	case uint64:
		return t == 0
	case int64:
		return t == 0
	case float64:
		return t == 0
	case time.Time:
		return t.IsZero()
	case time.Duration:
		return t == 0
	case nil:
		return true
	}
	return false
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func versionText() string {
	version, goVersion, revision, dirty := getBuildInfo()
	s := fmt.Sprintf("insureflow %s\n  Go version: %s\n  Revision:   %s\n", version, goVersion, revision)
	if dirty {
		s += "  Modified:   true\n"
	}
	return s
}

func buildVersion() string {
	v, _, _, _ := getBuildInfo()
	return v
}

func getBuildInfo() (version, goVersion, revision string, dirty bool) {
	version = "unknown"
	goVersion = "unknown"
	revision = "unknown"
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	version = info.Main.Version
	if version == "" || version == "(devel)" {
		version = "dev"
	}
	goVersion = info.GoVersion
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			revision = setting.Value
		case "vcs.modified":
			dirty = setting.Value == "true"
		}
	}
	return
}
