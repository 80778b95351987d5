package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/couchcryptid/fire-data-etl/internal/domain"
)

// JSONFile is a store.DocumentSource over a file holding one JSON array of objects.
type JSONFile struct {
	Path string
}

// Documents reads the whole file.
func (f JSONFile) Documents(ctx context.Context) ([]domain.RawDocument, error) {
	fh, err := os.Open(f.Path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", f.Path, err)
	}
	defer fh.Close()

	docs, err := ReadJSONDocuments(ctx, fh)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", f.Path, err)
	}
	return docs, nil
}

// ReadJSONDocuments decodes a JSON array element by element. Field values are kept raw
// for the normalizer. Empty input yields no documents.
func ReadJSONDocuments(ctx context.Context, r io.Reader) ([]domain.RawDocument, error) {
	decoder := json.NewDecoder(&bomReader{r: r})

	tok, err := decoder.Token()
	if errors.Is(err, io.EOF) {
		return []domain.RawDocument{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("json: read opening token: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '[' {
		return nil, fmt.Errorf("json: expected '[', got %v", tok)
	}

	docs := make([]domain.RawDocument, 0)
	for decoder.More() {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("json: %w", err)
		}
		var doc domain.RawDocument
		if err := decoder.Decode(&doc); err != nil {
			return nil, fmt.Errorf("json: decode element %d: %w", len(docs), err)
		}
		docs = append(docs, doc)
	}

	if _, err := decoder.Token(); err != nil {
		return nil, fmt.Errorf("json: read closing token: %w", err)
	}
	return docs, nil
}
