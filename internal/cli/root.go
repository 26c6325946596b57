// Package cli implements the plugin-engine command line interface.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/quillcms/plugin-engine/internal/config"
	"github.com/quillcms/plugin-engine/internal/logger"
)

const version = "0.1.0"

var (
	cfgFile  string
	logLevel string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "quill-plugins",
	Short: "Quill CMS plugin lifecycle engine",
	Long: `quill-plugins inspects plugin archives, validates their manifests, and
resolves dependency graphs for the Quill CMS plugin engine.`,
	Version: version,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.quill/plugin-engine.json)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level (debug, info, warn, error)")

	// Version template
	rootCmd.SetVersionTemplate(`{{with .Name}}{{printf "%s " .}}{{end}}{{printf "version %s" .Version}}
`)
}

// GetRootCmd returns the root command for testing
func GetRootCmd() *cobra.Command {
	return rootCmd
}

// GetVersion returns the current version
func GetVersion() string {
	return version
}

// newLogger builds the CLI logger from the loaded configuration. An explicit
// --log-level flag wins over the configured level.
func newLogger(cfg *config.Config) (*logger.Logger, error) {
	lc := logger.Config{
		Level:   cfg.Logging.Level,
		File:    cfg.Logging.File,
		Console: cfg.Logging.Console,
		Pretty:  cfg.Logging.Pretty,
	}
	if rootCmd.PersistentFlags().Changed("log-level") {
		lc.Level = logLevel
	}
	return logger.New(lc)
}
