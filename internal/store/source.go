package store

import (
	"context"

	"github.com/couchcryptid/fire-data-etl/internal/domain"
)

// RowSource delivers tabular rows. Reading is the only blocking step of a load.
type RowSource interface {
	Rows(ctx context.Context) ([]domain.RawRow, error)
}

// DocumentSource delivers JSON documents.
type DocumentSource interface {
	Documents(ctx context.Context) ([]domain.RawDocument, error)
}

// StaticRows is a RowSource over rows already in memory.
type StaticRows []domain.RawRow

func (s StaticRows) Rows(_ context.Context) ([]domain.RawRow, error) { return s, nil }

// StaticDocuments is a DocumentSource over documents already in memory.
type StaticDocuments []domain.RawDocument

func (s StaticDocuments) Documents(_ context.Context) ([]domain.RawDocument, error) { return s, nil }
