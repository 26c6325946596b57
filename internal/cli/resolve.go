package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/quillcms/plugin-engine/internal/config"
	"github.com/quillcms/plugin-engine/pkg/plugin"
)

var resolveTarget string

var resolveCmd = &cobra.Command{
	Use:   "resolve DIR",
	Short: "Resolve the dependency graph of plugin archives in a directory",
	Long: `Resolve installs every plugin archive (*.zip) found in DIR into an
in-memory engine and prints the dependency report for each plugin, or for a
single plugin when --target is given. Nothing is activated or persisted.`,
	Args: cobra.ExactArgs(1),
	RunE: runResolve,
}

func init() {
	resolveCmd.Flags().StringVar(&resolveTarget, "target", "", "only report on this plugin slug")
	rootCmd.AddCommand(resolveCmd)
}

func runResolve(cmd *cobra.Command, args []string) error {
	cfg, err := config.NewLoader(cfgFile).Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	l, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer l.Close()

	engine, err := plugin.NewEngine(*l.GetZerolog(), plugin.EngineConfig{
		HostVersion:     cfg.HostVersion,
		ArchiveTimeout:  cfg.Archive.Timeout,
		MaxManifestSize: cfg.Archive.MaxManifestSize,
	}, plugin.Collaborators{
		Blobs:   plugin.NewMemoryBlobStore(),
		Records: plugin.NewMemoryRecordStore(),
	}, nil)
	if err != nil {
		return err
	}

	archives, err := filepath.Glob(filepath.Join(args[0], "*.zip"))
	if err != nil {
		return err
	}
	if len(archives) == 0 {
		return fmt.Errorf("no plugin archives found in %s", args[0])
	}

	ctx := context.Background()
	out := cmd.OutOrStdout()
	for _, path := range archives {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}
		if _, err := engine.Install(ctx, data, plugin.InstallOptions{}); err != nil {
			fmt.Fprintf(out, "skipping %s: %v\n", filepath.Base(path), err)
		}
	}

	for _, installed := range engine.List() {
		slug := installed.Manifest.Name
		if resolveTarget != "" && slug != resolveTarget {
			continue
		}
		report, err := engine.GetDependencyGraph(slug)
		if err != nil {
			fmt.Fprintf(out, "%s: %v\n", slug, err)
			continue
		}
		printReport(out, slug, installed.Manifest.Version, report)
	}

	return nil
}

func printReport(out io.Writer, slug, ver string, report *plugin.DependencyReport) {
	fmt.Fprintf(out, "%s@%s\n", slug, ver)
	deps := make([]string, 0, len(report.Dependencies))
	for dep := range report.Dependencies {
		deps = append(deps, dep)
	}
	sort.Strings(deps)
	for _, dep := range deps {
		resolved := report.Dependencies[dep]
		if resolved == "" {
			resolved = "(not installed)"
		}
		fmt.Fprintf(out, "  depends on %s -> %s\n", dep, resolved)
	}
	if len(report.Dependents) > 0 {
		fmt.Fprintf(out, "  dependents: %s\n", strings.Join(report.Dependents, ", "))
	}
	if len(report.Missing) > 0 {
		fmt.Fprintf(out, "  missing: %s\n", strings.Join(report.Missing, ", "))
	}
	for _, c := range report.Conflicts {
		fmt.Fprintf(out, "  conflict: %s requires %s, installed %s\n", c.Name, c.Required, c.Installed)
	}
}
