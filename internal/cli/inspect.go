package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/quillcms/plugin-engine/internal/config"
	"github.com/quillcms/plugin-engine/pkg/plugin"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect ARCHIVE",
	Short: "Validate a plugin archive and print its manifest",
	Long: `Inspect reads a plugin archive (zip), validates the embedded plugin.json
manifest, and prints a summary. Validation failures list every problem found.`,
	Args: cobra.ExactArgs(1),
	RunE: runInspect,
}

func init() {
	rootCmd.AddCommand(inspectCmd)
}

func runInspect(cmd *cobra.Command, args []string) error {
	cfg, err := config.NewLoader(cfgFile).Load()
	if err != nil {
		return err
	}
	l, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer l.Close()

	archive, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read archive: %w", err)
	}

	raw, err := plugin.ReadManifestFromArchive(archive, plugin.DefaultMaxManifestSize)
	if err != nil {
		return err
	}

	validator := plugin.NewManifestValidator(*l.GetZerolog())
	manifest, err := validator.Validate(raw)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Name:         %s\n", manifest.Name)
	fmt.Fprintf(out, "Version:      %s\n", manifest.Version)
	if manifest.Description != "" {
		fmt.Fprintf(out, "Description:  %s\n", manifest.Description)
	}
	if manifest.Author != "" {
		fmt.Fprintf(out, "Author:       %s\n", manifest.Author)
	}
	fmt.Fprintf(out, "Checksum:     %s\n", plugin.Checksum(archive))
	if len(manifest.Capabilities) > 0 {
		caps := make([]string, len(manifest.Capabilities))
		for i, c := range manifest.Capabilities {
			caps[i] = string(c)
		}
		fmt.Fprintf(out, "Capabilities: %s\n", strings.Join(caps, ", "))
	}
	for _, dep := range manifest.Dependencies {
		optional := ""
		if dep.Optional {
			optional = " (optional)"
		}
		fmt.Fprintf(out, "Depends on:   %s %s%s\n", dep.Name, dep.Range, optional)
	}
	fmt.Fprintf(out, "Hooks: %d  Filters: %d  Routes: %d\n",
		len(manifest.Hooks), len(manifest.Filters), len(manifest.Routes))

	for _, warning := range validator.Warnings(manifest) {
		fmt.Fprintf(out, "warning: %s\n", warning)
	}

	return nil
}
