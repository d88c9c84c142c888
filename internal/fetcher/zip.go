package fetcher

import (
	"archive/zip"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
)

// ExtractZIP unpacks every entry of the archive into destDir and returns the
// extracted file paths in archive order. GeoNames dumps ship as a payload
// file next to a readme; Natural Earth bundles hold the shapefile sidecar
// set. Directory entries are created but not returned.
func ExtractZIP(zipPath, destDir string) ([]string, error) {
	archive, err := zip.OpenReader(zipPath)
	if err != nil {
		return nil, eris.Wrapf(err, "zip: open %s", zipPath)
	}
	defer archive.Close() //nolint:errcheck

	var files []string
	for _, entry := range archive.File {
		dest, err := entryPath(destDir, entry.Name)
		if err != nil {
			return files, err
		}
		if entry.FileInfo().IsDir() {
			if err := os.MkdirAll(dest, 0o755); err != nil {
				return files, eris.Wrap(err, "zip: create directory")
			}
			continue
		}
		if err := writeEntry(entry, dest); err != nil {
			return files, err
		}
		files = append(files, dest)
	}
	return files, nil
}

// entryPath joins an archive member name onto destDir, rejecting names that
// would escape it.
func entryPath(destDir, name string) (string, error) {
	dest := filepath.Join(destDir, name)
	root := filepath.Clean(destDir)
	if dest != root && !strings.HasPrefix(dest, root+string(os.PathSeparator)) {
		return "", eris.Errorf("zip: entry %q escapes extract dir", name)
	}
	return dest, nil
}

func writeEntry(entry *zip.File, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return eris.Wrap(err, "zip: create parent directory")
	}

	rc, err := entry.Open()
	if err != nil {
		return eris.Wrapf(err, "zip: open entry %s", entry.Name)
	}
	defer rc.Close() //nolint:errcheck

	out, err := os.Create(dest)
	if err != nil {
		return eris.Wrapf(err, "zip: create %s", dest)
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close() //nolint:errcheck
		return eris.Wrapf(err, "zip: write %s", dest)
	}
	if err := out.Close(); err != nil {
		return eris.Wrapf(err, "zip: close %s", dest)
	}
	return nil
}
