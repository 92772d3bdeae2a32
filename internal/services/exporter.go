package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Lllllllleong/kycdocumentintake/internal/mirror"
	"github.com/Lllllllleong/kycdocumentintake/internal/models"
	"github.com/Lllllllleong/kycdocumentintake/internal/store"
)

// ExportFilename is the attachment name of every export.
const ExportFilename = "document-records.xlsx"

// RecordLister reads every stored record.
type RecordLister interface {
	ListAll(ctx context.Context, ascending bool) ([]*models.DocumentRecord, error)
}

// WorkbookSource supplies the local workbook bytes.
type WorkbookSource interface {
	Bytes(ctx context.Context) ([]byte, error)
}

// ExportFunction renders the records as an xlsx workbook. The store is the
// source of truth; when it cannot be read the local workbook is served.
type ExportFunction struct {
	records  RecordLister
	fallback WorkbookSource
}

func NewExport(records RecordLister, fallback WorkbookSource) *ExportFunction {
	f := &ExportFunction{records: records, fallback: fallback}
	if s, ok := records.(*store.FirestoreStore); ok && s == nil {
		f.records = nil
	}
	if m, ok := fallback.(*mirror.FileMirror); ok && m == nil {
		f.fallback = nil
	}
	return f
}

// Export returns the workbook bytes, oldest record first.
func (f *ExportFunction) Export(ctx context.Context) ([]byte, error) {
	data, err := f.fromStore(ctx)
	if err == nil {
		return data, nil
	}
	slog.Warn("Store export failed, falling back to local workbook.", "error", err)

	if f.fallback == nil {
		return nil, fmt.Errorf("failed to export records: %w", err)
	}
	data, fbErr := f.fallback.Bytes(ctx)
	if fbErr != nil {
		slog.Error("Workbook fallback failed.", "error", fbErr)
		return nil, fmt.Errorf("failed to export records: %w", errors.Join(err, fbErr))
	}
	return data, nil
}

func (f *ExportFunction) fromStore(ctx context.Context) ([]byte, error) {
	if f.records == nil {
		return nil, store.ErrStoreUnavailable
	}
	docs, err := f.records.ListAll(ctx, true)
	if err != nil {
		return nil, err
	}
	return mirror.BuildWorkbook(docs)
}
