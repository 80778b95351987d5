// Package file reads the raw data sets from disk: CSV tables as header-keyed rows and
// JSON arrays as documents.
package file

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/couchcryptid/fire-data-etl/internal/domain"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// CSVFile is a store.RowSource over a CSV file with a header row.
type CSVFile struct {
	Path string
}

// Rows reads the whole file.
func (f CSVFile) Rows(ctx context.Context) ([]domain.RawRow, error) {
	fh, err := os.Open(f.Path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", f.Path, err)
	}
	defer fh.Close()

	rows, err := ReadCSVRows(ctx, fh)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", f.Path, err)
	}
	return rows, nil
}

// ReadCSVRows maps every record after the header to a row keyed by header name. Header
// names are trimmed and a leading UTF-8 byte order mark is dropped. Short records leave
// the missing columns absent so normalization reports them.
func ReadCSVRows(ctx context.Context, r io.Reader) ([]domain.RawRow, error) {
	reader := csv.NewReader(&bomReader{r: r})
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return []domain.RawRow{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("csv: read header: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	rows := make([]domain.RawRow, 0)
	for {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("csv: %w", err)
		}
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return rows, nil
		}
		if err != nil {
			return nil, fmt.Errorf("csv: read row: %w", err)
		}

		row := make(domain.RawRow, len(header))
		for i, name := range header {
			if i < len(record) {
				row[name] = record[i]
			}
		}
		rows = append(rows, row)
	}
}

// bomReader strips a UTF-8 byte order mark from the start of the stream.
type bomReader struct {
	r       io.Reader
	checked bool
	pending []byte
}

func (b *bomReader) Read(p []byte) (int, error) {
	if !b.checked {
		b.checked = true
		head := make([]byte, len(utf8BOM))
		n, err := io.ReadFull(b.r, head)
		head = head[:n]
		if !bytes.Equal(head, utf8BOM) {
			b.pending = head
		}
		if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
			return 0, err
		}
	}
	if len(b.pending) > 0 {
		n := copy(p, b.pending)
		b.pending = b.pending[n:]
		return n, nil
	}
	return b.r.Read(p)
}
