package cli

import (
	"archive/zip"
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quillcms/plugin-engine/pkg/plugin"
)

func writeArchive(t *testing.T, manifest string) string {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create(plugin.ManifestFileName)
	require.NoError(t, err)
	_, err = w.Write([]byte(manifest))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	path := filepath.Join(t.TempDir(), "plugin.zip")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0644))
	return path
}

func TestInspectCommand(t *testing.T) {
	t.Run("prints a summary for a valid archive", func(t *testing.T) {
		path := writeArchive(t, `{
			"name": "seo-toolkit",
			"version": "1.2.0",
			"description": "SEO helpers",
			"capabilities": ["content:read"],
			"hooks": ["post_publish"]
		}`)

		cmd := GetRootCmd()
		cmd.SetArgs([]string{"inspect", path})
		output := &bytes.Buffer{}
		cmd.SetOut(output)

		err := cmd.Execute()

		require.NoError(t, err)
		out := output.String()
		assert.Contains(t, out, "seo-toolkit")
		assert.Contains(t, out, "1.2.0")
		assert.Contains(t, out, "content:read")
		assert.Contains(t, out, "Hooks: 1")
	})

	t.Run("fails on an invalid manifest", func(t *testing.T) {
		path := writeArchive(t, `{"name": "Bad Name", "version": "nope"}`)

		cmd := GetRootCmd()
		cmd.SetArgs([]string{"inspect", path})
		cmd.SetOut(&bytes.Buffer{})
		cmd.SetErr(&bytes.Buffer{})

		err := cmd.Execute()

		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid manifest")
	})

	t.Run("configured log file receives validator logs", func(t *testing.T) {
		dir := t.TempDir()
		logPath := filepath.Join(dir, "cli.log")
		cfgPath := filepath.Join(dir, "plugin-engine.json")
		cfgJSON := `{
			"logging": {"level": "debug", "file": "` + logPath + `", "console": false}
		}`
		require.NoError(t, os.WriteFile(cfgPath, []byte(cfgJSON), 0644))
		defer func() { cfgFile = "" }()

		archive := writeArchive(t, `{"name": "seo", "version": "1.0.0", "description": "x"}`)

		cmd := GetRootCmd()
		cmd.SetArgs([]string{"inspect", archive, "--config", cfgPath})
		cmd.SetOut(&bytes.Buffer{})

		require.NoError(t, cmd.Execute())

		data, err := os.ReadFile(logPath)
		require.NoError(t, err)
		assert.Contains(t, string(data), "manifest-validator")
		assert.Contains(t, string(data), "Validated manifest")
	})

	t.Run("fails on a missing file", func(t *testing.T) {
		cmd := GetRootCmd()
		cmd.SetArgs([]string{"inspect", filepath.Join(t.TempDir(), "ghost.zip")})
		cmd.SetOut(&bytes.Buffer{})
		cmd.SetErr(&bytes.Buffer{})

		assert.Error(t, cmd.Execute())
	})
}
