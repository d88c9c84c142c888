package ingest

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/pressassoc/dateline/internal/fetcher"
)

// downloadTimeout bounds a single source download. GeoNames full dumps run
// to several hundred MB.
const downloadTimeout = 10 * time.Minute

// resolveSourceFile turns a loader's configured path into a local plain file:
// http(s) and ftp URLs are downloaded into tempDir, and zips are extracted
// there under label. wantExt picks the payload out of a zip, preferring the
// entry named after the archive (allCountries.zip holds allCountries.txt
// next to auxiliary files).
func resolveSourceFile(ctx context.Context, rawPath, tempDir, label, wantExt string) (string, error) {
	path := rawPath

	var remote fetcher.Fetcher
	switch {
	case strings.HasPrefix(path, "http://"), strings.HasPrefix(path, "https://"):
		remote = fetcher.NewHTTPFetcher(fetcher.HTTPOptions{Timeout: downloadTimeout})
	case strings.HasPrefix(path, "ftp://"):
		remote = fetcher.NewFTPFetcher(fetcher.FTPOptions{Timeout: downloadTimeout})
	}
	if remote != nil {
		if err := os.MkdirAll(tempDir, 0o755); err != nil {
			return "", eris.Wrap(err, "ingest: create temp dir")
		}
		dest := filepath.Join(tempDir, filepath.Base(path))
		if _, err := remote.DownloadToFile(ctx, path, dest); err != nil {
			return "", eris.Wrapf(err, "ingest: download %s", path)
		}
		path = dest
	}

	if !strings.HasSuffix(strings.ToLower(path), ".zip") {
		return path, nil
	}

	extractDir := filepath.Join(tempDir, label)
	if err := os.MkdirAll(extractDir, 0o755); err != nil {
		return "", eris.Wrap(err, "ingest: create extract dir")
	}
	extracted, err := fetcher.ExtractZIP(path, extractDir)
	if err != nil {
		return "", eris.Wrapf(err, "ingest: extract %s", path)
	}

	want := strings.TrimSuffix(filepath.Base(path), ".zip") + wantExt
	var fallback string
	for _, name := range extracted {
		if !strings.HasSuffix(strings.ToLower(name), wantExt) {
			continue
		}
		if strings.EqualFold(filepath.Base(name), want) {
			return name, nil
		}
		if fallback == "" {
			fallback = name
		}
	}
	if fallback != "" {
		return fallback, nil
	}
	return "", eris.Errorf("ingest: no %s file in %s", wantExt, path)
}
