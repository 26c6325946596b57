package plugin

import (
	"archive/zip"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"path"
	"strings"
)

// ManifestFileName is the manifest entry expected inside a plugin archive.
const ManifestFileName = "plugin.json"

// DefaultMaxManifestSize caps the decompressed manifest size.
const DefaultMaxManifestSize = 1 << 20 // 1 MiB

// Checksum returns the hex-encoded SHA-256 digest of an archive.
func Checksum(archive []byte) string {
	sum := sha256.Sum256(archive)
	return hex.EncodeToString(sum[:])
}

// ReadManifestFromArchive extracts the manifest bytes from a zip archive.
// The manifest must live at the archive root (or one directory deep, which
// is how most packaging tools lay out a plugin folder).
func ReadManifestFromArchive(archive []byte, maxSize int64) ([]byte, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxManifestSize
	}

	zr, err := zip.NewReader(bytes.NewReader(archive), int64(len(archive)))
	if err != nil {
		return nil, fmt.Errorf("archive is not a valid zip: %w", err)
	}

	var manifestFile *zip.File
	for _, f := range zr.File {
		name := path.Clean(f.Name)
		if name == ManifestFileName {
			manifestFile = f
			break
		}
		// folder/plugin.json counts when the root entry is absent
		if manifestFile == nil && path.Base(name) == ManifestFileName && !strings.Contains(path.Dir(name), "/") {
			manifestFile = f
		}
	}
	if manifestFile == nil {
		return nil, fmt.Errorf("archive does not contain %s", ManifestFileName)
	}

	rc, err := manifestFile.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", ManifestFileName, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", ManifestFileName, err)
	}
	if int64(len(data)) > maxSize {
		return nil, fmt.Errorf("%s exceeds %d bytes", ManifestFileName, maxSize)
	}

	return data, nil
}
