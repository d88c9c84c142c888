package fetcher

import (
	"context"
	"net"
	"net/url"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// FTPOptions configures the FTP fetcher.
type FTPOptions struct {
	Timeout time.Duration // dial timeout, default 30s
}

// FTPFetcher retrieves dataset files from anonymous FTP mirrors. GeoNames
// still publishes its dump tree over FTP for consumers that predate the HTTP
// mirror.
type FTPFetcher struct {
	timeout time.Duration
}

// NewFTPFetcher creates an FTPFetcher with the given options.
func NewFTPFetcher(opts FTPOptions) *FTPFetcher {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &FTPFetcher{timeout: timeout}
}

// DownloadToFile retrieves the remote path into dest and reports bytes
// written. The control connection is closed once the transfer finishes.
func (f *FTPFetcher) DownloadToFile(ctx context.Context, ftpURL, dest string) (int64, error) {
	addr, remote, err := splitFTPURL(ftpURL)
	if err != nil {
		return 0, err
	}

	conn, err := ftp.Dial(addr, ftp.DialWithTimeout(f.timeout), ftp.DialWithContext(ctx))
	if err != nil {
		return 0, eris.Wrapf(err, "fetcher: ftp dial %s", addr)
	}
	defer conn.Quit() //nolint:errcheck

	// Dump mirrors serve anonymous read-only trees.
	if err := conn.Login("anonymous", "anonymous@"); err != nil {
		return 0, eris.Wrap(err, "fetcher: ftp login")
	}

	zap.L().Debug("fetcher: ftp transfer",
		zap.String("addr", addr),
		zap.String("path", remote),
	)

	resp, err := conn.Retr(remote)
	if err != nil {
		return 0, eris.Wrapf(err, "fetcher: ftp retrieve %s", remote)
	}
	return saveStream(resp, dest)
}

// splitFTPURL validates the scheme, applies the default control port, and
// returns the dial address and remote path.
func splitFTPURL(rawURL string) (addr, remote string, err error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", eris.Wrapf(err, "fetcher: parse %s", rawURL)
	}
	if u.Scheme != "ftp" {
		return "", "", eris.Errorf("fetcher: expected ftp scheme in %s, got %q", rawURL, u.Scheme)
	}
	if u.Path == "" {
		return "", "", eris.Errorf("fetcher: no path in %s", rawURL)
	}

	addr = u.Host
	if _, _, splitErr := net.SplitHostPort(addr); splitErr != nil {
		addr = net.JoinHostPort(addr, "21")
	}
	return addr, u.Path, nil
}
