package mirror

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Lllllllleong/kycdocumentintake/internal/models"
	"github.com/Lllllllleong/kycdocumentintake/internal/schema"
)

// SheetInfo identifies one tab of a spreadsheet.
type SheetInfo struct {
	Title   string
	SheetID int64
}

// ValueRange is one A1 range and the rows written to it.
type ValueRange struct {
	Range  string
	Values [][]string
}

// SheetsClient is the subset of the Sheets API the mirror needs. Ranges
// use A1 notation including the quoted sheet title.
type SheetsClient interface {
	Sheets(ctx context.Context, spreadsheetID string) ([]SheetInfo, error)
	// AddSheet returns nil when the reply carries no sheet properties.
	AddSheet(ctx context.Context, spreadsheetID, title string) (*SheetInfo, error)
	GetValues(ctx context.Context, spreadsheetID, rng string) ([][]string, error)
	UpdateValues(ctx context.Context, spreadsheetID, rng string, values [][]string) error
	AppendValues(ctx context.Context, spreadsheetID, rng string, values [][]string) error
	BatchUpdateValues(ctx context.Context, spreadsheetID string, data []ValueRange) error
	FormatHeader(ctx context.Context, spreadsheetID string, sheetID int64, columns int) error
}

// SheetMatch is one row matched by FindByQuery.
type SheetMatch struct {
	Sequence int
	RowIndex int
	Values   []string
}

// SheetSearchResult carries the matches together with the header row they
// were stored under, so callers can map them back to records.
type SheetSearchResult struct {
	Headers []string
	Matches []SheetMatch
}

// SheetStatus is a diagnostic view of the remote sheet.
type SheetStatus struct {
	SpreadsheetID string
	SheetTitle    string
	Titles        []string
	HasSheet      bool
	HeaderOK      bool
	NextSequence  int
}

// SheetMirror keeps the records table in a Google Sheet. The sheet is
// resolved on every call and nothing is cached, so edits made by hand in
// the sheet are always picked up. Errors from the API are returned as is.
type SheetMirror struct {
	client        SheetsClient
	spreadsheetID string
	sheetName     string
	logger        *slog.Logger
}

func NewSheetMirror(client SheetsClient, spreadsheetID, sheetName string) *SheetMirror {
	if sheetName == "" {
		sheetName = DefaultSheetName
	}
	return &SheetMirror{
		client:        client,
		spreadsheetID: spreadsheetID,
		sheetName:     sheetName,
		logger:        slog.With("mirror", NameSheet, "spreadsheetId", spreadsheetID, "sheet", sheetName),
	}
}

func (m *SheetMirror) Name() string { return NameSheet }

// Append writes doc as a new row and returns its sequence, one more than
// the number of rows under the header.
func (m *SheetMirror) Append(ctx context.Context, doc *models.DocumentRecord) (int, error) {
	sheet, err := m.prepare(ctx)
	if err != nil {
		return 0, err
	}
	seq, err := m.nextSequence(ctx, sheet.Title)
	if err != nil {
		return 0, err
	}
	row := schema.RowFromDocument(doc, seq)
	if err := m.client.AppendValues(ctx, m.spreadsheetID, a1(sheet.Title, "A1"), [][]string{row}); err != nil {
		return 0, fmt.Errorf("failed to append row: %w", err)
	}
	m.logger.Info("Appended row to sheet.", "sequence", seq)
	return seq, nil
}

// Update overwrites the row holding sequence in place.
func (m *SheetMirror) Update(ctx context.Context, sequence int, doc *models.DocumentRecord) error {
	if sequence <= 0 {
		return fmt.Errorf("invalid sequence %d", sequence)
	}
	sheet, err := m.prepare(ctx)
	if err != nil {
		return err
	}
	row := schema.RowFromDocument(doc, sequence)
	if err := m.client.UpdateValues(ctx, m.spreadsheetID, rowRange(sheet.Title, sequence+1), [][]string{row}); err != nil {
		return fmt.Errorf("failed to update row %d: %w", sequence, err)
	}
	m.logger.Info("Updated row in sheet.", "sequence", sequence)
	return nil
}

// CheckDuplicate scans the sheet for a passport, aadhaar or pan collision.
func (m *SheetMirror) CheckDuplicate(ctx context.Context, doc *models.DocumentRecord) (Duplicate, error) {
	sheet, err := m.resolveSheet(ctx)
	if err != nil {
		return Duplicate{}, err
	}
	header, rows, err := m.readTable(ctx, sheet.Title)
	if err != nil {
		return Duplicate{}, err
	}
	return findDuplicate(header, rows, doc, NameSheet), nil
}

// FindByQuery returns every row whose joined cells contain q, ignoring
// case. The scan is linear over the whole sheet, which is fine for the
// few hundred rows the sheet is expected to hold.
func (m *SheetMirror) FindByQuery(ctx context.Context, q string) (*SheetSearchResult, error) {
	sheet, err := m.resolveSheet(ctx)
	if err != nil {
		return nil, err
	}
	header, rows, err := m.readTable(ctx, sheet.Title)
	if err != nil {
		return nil, err
	}
	q = strings.ToLower(strings.TrimSpace(q))
	result := &SheetSearchResult{Headers: header, Matches: []SheetMatch{}}
	for idx, row := range rows {
		if !matchesQuery(row, q) {
			continue
		}
		result.Matches = append(result.Matches, SheetMatch{
			Sequence: schema.Sequence(row, idx+1),
			RowIndex: idx + 2,
			Values:   row,
		})
	}
	return result, nil
}

// Status reports on the sheet without modifying it.
func (m *SheetMirror) Status(ctx context.Context) (*SheetStatus, error) {
	sheets, err := m.client.Sheets(ctx, m.spreadsheetID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sheets: %w", err)
	}
	status := &SheetStatus{SpreadsheetID: m.spreadsheetID, SheetTitle: m.sheetName}
	for _, s := range sheets {
		status.Titles = append(status.Titles, s.Title)
		if s.Title == m.sheetName {
			status.HasSheet = true
		}
	}
	if !status.HasSheet {
		status.NextSequence = 1
		return status, nil
	}
	header, err := m.readHeader(ctx, m.sheetName)
	if err != nil {
		return nil, err
	}
	status.HeaderOK = schema.HasCanonicalPrefix(header)
	if status.NextSequence, err = m.nextSequence(ctx, m.sheetName); err != nil {
		return nil, err
	}
	return status, nil
}

// NormalizeLegacyRows rewrites every non-blank row into the current column
// layout, reading each one through the header row it was stored under,
// then rewrites the header itself. Rows are numbered by position. It
// returns the number of rows rewritten; with dryRun nothing is written.
// Running it twice leaves the sheet unchanged the second time.
func (m *SheetMirror) NormalizeLegacyRows(ctx context.Context, dryRun bool) (int, error) {
	sheet, err := m.resolveSheet(ctx)
	if err != nil {
		return 0, err
	}
	header, rows, err := m.readTable(ctx, sheet.Title)
	if err != nil {
		return 0, err
	}
	if len(header) == 0 {
		return 0, fmt.Errorf("sheet %q has no header row", sheet.Title)
	}
	updates := m.normalizedUpdates(sheet.Title, header, rows, false)
	m.logger.Info("Normalizing legacy rows.", "rows", len(updates)-1, "dryRun", dryRun)
	if dryRun {
		return len(updates) - 1, nil
	}
	if err := m.client.BatchUpdateValues(ctx, m.spreadsheetID, updates); err != nil {
		return 0, fmt.Errorf("failed to write normalized rows: %w", err)
	}
	return len(updates) - 1, nil
}

// prepare resolves the sheet and makes sure its header row is current.
func (m *SheetMirror) prepare(ctx context.Context) (SheetInfo, error) {
	sheet, err := m.resolveSheet(ctx)
	if err != nil {
		return SheetInfo{}, err
	}
	if err := m.ensureHeader(ctx, sheet); err != nil {
		return SheetInfo{}, err
	}
	return sheet, nil
}

func (m *SheetMirror) resolveSheet(ctx context.Context) (SheetInfo, error) {
	sheets, err := m.client.Sheets(ctx, m.spreadsheetID)
	if err != nil {
		return SheetInfo{}, fmt.Errorf("failed to list sheets: %w", err)
	}
	if s, ok := findSheet(sheets, m.sheetName); ok {
		return s, nil
	}

	m.logger.Info("Sheet not found, creating it.")
	created, err := m.client.AddSheet(ctx, m.spreadsheetID, m.sheetName)
	if err != nil {
		return SheetInfo{}, fmt.Errorf("failed to add sheet %q: %w", m.sheetName, err)
	}
	if created != nil && created.Title != "" {
		return *created, nil
	}
	sheets, err = m.client.Sheets(ctx, m.spreadsheetID)
	if err != nil {
		return SheetInfo{}, fmt.Errorf("failed to list sheets: %w", err)
	}
	if s, ok := findSheet(sheets, m.sheetName); ok {
		return s, nil
	}
	return SheetInfo{}, fmt.Errorf("sheet %q missing after creation", m.sheetName)
}

// ensureHeader writes the canonical header row when its leading cells
// differ. A sheet whose rows were written under an older layout is migrated
// first so no row ends up under the wrong titles. Columns added after the
// last canonical one are left alone. Formatting is reapplied every time.
func (m *SheetMirror) ensureHeader(ctx context.Context, sheet SheetInfo) error {
	header, err := m.readHeader(ctx, sheet.Title)
	if err != nil {
		return err
	}
	if !schema.HasCanonicalPrefix(header) {
		updates := []ValueRange{{Range: a1(sheet.Title, "A1"), Values: [][]string{schema.Headers}}}
		if len(header) > 0 {
			_, rows, err := m.readTable(ctx, sheet.Title)
			if err != nil {
				return err
			}
			updates = m.normalizedUpdates(sheet.Title, header, rows, true)
			m.logger.Info("Header row differs, migrating rows.", "rows", len(updates)-1)
		}
		if err := m.client.BatchUpdateValues(ctx, m.spreadsheetID, updates); err != nil {
			return fmt.Errorf("failed to write header row: %w", err)
		}
	}
	if err := m.client.FormatHeader(ctx, m.spreadsheetID, sheet.SheetID, len(schema.Headers)); err != nil {
		return fmt.Errorf("failed to format header row: %w", err)
	}
	return nil
}

// normalizedUpdates returns the canonical header write followed by one
// write per non-blank data row. When the stored layout is replaced, every
// write spans the stored width so stale cells past the last column are
// cleared and the header settles. A header that already starts with the
// canonical titles keeps its extra columns untouched.
func (m *SheetMirror) normalizedUpdates(title string, header []string, rows [][]string, keepSequence bool) []ValueRange {
	width := len(schema.Headers)
	if !schema.HasCanonicalPrefix(header) {
		width = max(width, len(header))
	}
	updates := []ValueRange{{Range: a1(title, "A1"), Values: [][]string{padRow(schema.Headers, width)}}}
	normalized := normalizeRows(header, rows, keepSequence)
	for i := range rows {
		row, ok := normalized[i]
		if !ok {
			continue
		}
		updates = append(updates, ValueRange{
			Range:  a1(title, fmt.Sprintf("A%d", i+2)),
			Values: [][]string{padRow(row, width)},
		})
	}
	return updates
}

func padRow(row []string, width int) []string {
	if len(row) >= width {
		return row
	}
	out := make([]string, width)
	copy(out, row)
	return out
}

func (m *SheetMirror) readHeader(ctx context.Context, title string) ([]string, error) {
	values, err := m.client.GetValues(ctx, m.spreadsheetID, a1(title, "A1:ZZ1"))
	if err != nil {
		return nil, fmt.Errorf("failed to read header row: %w", err)
	}
	if len(values) == 0 {
		return nil, nil
	}
	return values[0], nil
}

// readTable returns the stored header row and all rows below it, wide
// enough to cover both the stored and the canonical layout.
func (m *SheetMirror) readTable(ctx context.Context, title string) ([]string, [][]string, error) {
	header, err := m.readHeader(ctx, title)
	if err != nil {
		return nil, nil, err
	}
	last := schema.ColumnLetter(max(len(schema.Headers), len(header)))
	rows, err := m.client.GetValues(ctx, m.spreadsheetID, a1(title, "A2:"+last))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read rows: %w", err)
	}
	return header, rows, nil
}

func (m *SheetMirror) nextSequence(ctx context.Context, title string) (int, error) {
	values, err := m.client.GetValues(ctx, m.spreadsheetID, a1(title, "A2:A"))
	if err != nil {
		return 0, fmt.Errorf("failed to count rows: %w", err)
	}
	return len(values) + 1, nil
}

func findSheet(sheets []SheetInfo, title string) (SheetInfo, bool) {
	for _, s := range sheets {
		if s.Title == title {
			return s, true
		}
	}
	return SheetInfo{}, false
}

// a1 builds a range reference with the sheet title quoted.
func a1(title, ref string) string {
	return "'" + strings.ReplaceAll(title, "'", "''") + "'!" + ref
}

func rowRange(title string, row int) string {
	return a1(title, fmt.Sprintf("A%d:%s%d", row, schema.LastColumn(), row))
}
