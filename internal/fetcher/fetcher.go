// Package fetcher retrieves and decodes the remote datasets the gazetteer
// is built from: GeoNames dump files served over HTTP or FTP, Natural Earth
// boundary archives, and hand-maintained publisher sheets in CSV or XLSX
// form.
package fetcher

import (
	"context"
	"io"
	"os"

	"github.com/rotisserie/eris"
)

// A Fetcher materializes one remote dataset file on local disk. The HTTP and
// FTP implementations both satisfy it, so source resolution can treat a
// configured URL uniformly regardless of scheme.
type Fetcher interface {
	// DownloadToFile streams the URL into dest, creating or truncating the
	// file, and reports the number of bytes written.
	DownloadToFile(ctx context.Context, url, dest string) (int64, error)
}

// saveStream copies a download stream into dest and always closes the
// stream. Dump files run to hundreds of MB, so the body is never buffered in
// memory.
func saveStream(rc io.ReadCloser, dest string) (int64, error) {
	defer rc.Close() //nolint:errcheck

	out, err := os.Create(dest)
	if err != nil {
		return 0, eris.Wrapf(err, "fetcher: create %s", dest)
	}

	n, err := io.Copy(out, rc)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return n, eris.Wrapf(err, "fetcher: write %s", dest)
	}
	return n, nil
}
