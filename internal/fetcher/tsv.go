package fetcher

import (
	"bufio"
	"context"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/rotisserie/eris"
)

// TSVOptions configures the streaming tab-separated parser.
type TSVOptions struct {
	Comment   rune // lines starting with this rune are skipped (0 = none)
	TrimSpace bool // trim surrounding whitespace from each field
}

// StreamTSV reads tab-separated rows and sends them to a channel. GeoNames
// dumps are tab-separated with no quoting, so bare quote characters appear
// inside fields; encoding/csv rejects such lines, so fields are split
// directly on tabs instead.
// Caller must consume the returned row channel. Errors are sent on the error
// channel. Both channels are closed when processing completes.
func StreamTSV(ctx context.Context, r io.Reader, opts TSVOptions) (<-chan []string, <-chan error) {
	rowCh := make(chan []string, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(rowCh)
		defer close(errCh)

		scanner := bufio.NewScanner(r)
		// Alternate-name rows can run long; the default token limit is
		// too small for the worst of them.
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		for scanner.Scan() {
			if ctx.Err() != nil {
				errCh <- eris.Wrap(ctx.Err(), "tsv: context cancelled")
				return
			}

			line := scanner.Text()
			if line == "" {
				continue
			}
			if opts.Comment != 0 {
				if first, _ := utf8.DecodeRuneInString(line); first == opts.Comment {
					continue
				}
			}

			record := strings.Split(line, "\t")
			if opts.TrimSpace {
				for i, field := range record {
					record[i] = strings.TrimSpace(field)
				}
			}

			select {
			case rowCh <- record:
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "tsv: context cancelled")
				return
			}
		}
		if err := scanner.Err(); err != nil {
			errCh <- eris.Wrap(err, "tsv: read line")
		}
	}()

	return rowCh, errCh
}
