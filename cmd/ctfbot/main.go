// Command ctfbot plays capture the flag against a match gateway and reports
// on past runs.
package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"ctfbot.ai/internal/config"
	"ctfbot.ai/internal/logging"
)

const defaultConfigPath = "configs/ctfbot.yaml"

var (
	configPath string
	verbose    bool
	urlFlag    string
	nameFlag   string
	dataDir    string

	cfg      config.Config
	logger   *zap.Logger
	logLevel zap.AtomicLevel
)

var rootCmd = &cobra.Command{
	Use:           "ctfbot",
	Short:         "Capture-the-flag bot driven by a priority decision ladder",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = loadConfig(cmd)
		if err != nil {
			return err
		}
		logger, logLevel, err = logging.New(logging.Options{
			Level:       cfg.Log.Level,
			Development: cfg.Log.Development,
			Verbose:     verbose,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&configPath, "config", "c", defaultConfigPath, "config file (YAML)")
	pf.BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	pf.StringVar(&urlFlag, "url", "", "gateway websocket URL (overrides server.url)")
	pf.StringVar(&nameFlag, "name", "", "bot name (overrides server.name)")
	pf.StringVar(&dataDir, "data", "", "data directory for the journal and stats database")

	rootCmd.AddCommand(runCmd, statsCmd, journalCmd)
}

// loadConfig reads the config file. A missing default file falls back to
// built-in defaults; a missing explicit file is an error.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	c, err := config.Load(configPath)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) || cmd.Root().PersistentFlags().Changed("config") {
			return config.Config{}, err
		}
		c = config.Defaults()
	}
	applyFlags(&c)
	if err := c.Validate(); err != nil {
		return config.Config{}, err
	}
	return c, nil
}

// applyFlags lays command line overrides over c.
func applyFlags(c *config.Config) {
	if urlFlag != "" {
		c.Server.URL = urlFlag
	}
	if nameFlag != "" {
		c.Server.Name = nameFlag
	}
	if dataDir != "" {
		c.Journal.Dir = filepath.Join(dataDir, "journal")
		c.Stats.Path = filepath.Join(dataDir, "stats.sqlite")
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "ctfbot:", err)
		os.Exit(1)
	}
}
