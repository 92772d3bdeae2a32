package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Lllllllleong/kycdocumentintake/internal/mirror"
	"github.com/Lllllllleong/kycdocumentintake/internal/models"
	"github.com/Lllllllleong/kycdocumentintake/internal/schema"
)

// RowSearcher finds mirror rows containing a query string.
type RowSearcher interface {
	FindByQuery(ctx context.Context, q string) (*mirror.SheetSearchResult, error)
}

// SheetAdmin is the maintenance side of the remote sheet.
type SheetAdmin interface {
	Status(ctx context.Context) (*mirror.SheetStatus, error)
	NormalizeLegacyRows(ctx context.Context, dryRun bool) (int, error)
}

// SearchFunction answers record lookups from the mirrors. The remote sheet
// is preferred; without one the local workbook is searched.
type SearchFunction struct {
	searcher RowSearcher
	admin    SheetAdmin
}

// NewSearch picks the sheet when configured, falling back to file. Either
// may be nil.
func NewSearch(sheet *mirror.SheetMirror, file *mirror.FileMirror) *SearchFunction {
	f := &SearchFunction{}
	switch {
	case sheet != nil:
		f.searcher = sheet
		f.admin = sheet
	case file != nil:
		f.searcher = file
	}
	return f
}

// Search maps every matching row back to a record.
func (f *SearchFunction) Search(ctx context.Context, q string) (*models.SearchResponse, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return nil, invalid("Missing q")
	}
	if f.searcher == nil {
		return nil, ErrNotConfigured
	}
	result, err := f.searcher.FindByQuery(ctx, q)
	if err != nil {
		slog.Error("Search failed.", "error", err)
		return nil, fmt.Errorf("failed to search rows: %w", err)
	}

	resp := &models.SearchResponse{OK: true, Results: make([]models.SearchResult, 0, len(result.Matches))}
	for _, m := range result.Matches {
		resp.Results = append(resp.Results, models.SearchResult{
			Sequence: m.Sequence,
			RowIndex: m.RowIndex,
			Values:   m.Values,
			Document: schema.DocumentFromRow(m.Values, result.Headers),
		})
	}
	return resp, nil
}

// Status reports on the remote sheet.
func (f *SearchFunction) Status(ctx context.Context) (*models.SheetStatusResponse, error) {
	if f.admin == nil {
		return nil, ErrNotConfigured
	}
	st, err := f.admin.Status(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet status: %w", err)
	}
	return &models.SheetStatusResponse{
		OK:            true,
		SpreadsheetID: st.SpreadsheetID,
		SheetTitle:    st.SheetTitle,
		HasSheet:      st.HasSheet,
		HeaderOK:      st.HeaderOK,
		NextSequence:  st.NextSequence,
		Titles:        st.Titles,
	}, nil
}

// NormalizeRows rewrites legacy sheet rows into the current layout.
func (f *SearchFunction) NormalizeRows(ctx context.Context, dryRun bool) (int, error) {
	if f.admin == nil {
		return 0, ErrNotConfigured
	}
	return f.admin.NormalizeLegacyRows(ctx, dryRun)
}
