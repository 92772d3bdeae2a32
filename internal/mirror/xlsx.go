package mirror

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/Lllllllleong/kycdocumentintake/internal/models"
	"github.com/Lllllllleong/kycdocumentintake/internal/schema"
)

// DefaultSheetName is the worksheet used by new workbooks.
const DefaultSheetName = "records"

// WriteRetry bounds the retries of a file write that hit a lock-like error.
type WriteRetry struct {
	Attempts int
	Base     time.Duration
	Max      time.Duration
}

var defaultWriteRetry = WriteRetry{Attempts: 5, Base: 50 * time.Millisecond, Max: 2 * time.Second}

// FileMirror keeps the records table in a local xlsx workbook. Every
// operation is a full read-modify-write of the table guarded by mu, so
// writers inside one process never interleave. Separate processes sharing
// the file are not coordinated.
type FileMirror struct {
	mu        sync.Mutex
	path      string
	sheetName string
	retry     WriteRetry
	write     func(path string, data []byte) error
	sleep     func(ctx context.Context, d time.Duration) error
	logger    *slog.Logger
}

type FileOption func(*FileMirror)

// WithSheetName sets the worksheet name used when the workbook is created.
func WithSheetName(name string) FileOption {
	return func(m *FileMirror) {
		if name != "" {
			m.sheetName = name
		}
	}
}

// WithWriteRetry overrides the lock-retry policy of file writes.
func WithWriteRetry(r WriteRetry) FileOption {
	return func(m *FileMirror) {
		if r.Attempts > 0 {
			m.retry = r
		}
	}
}

func WithLogger(l *slog.Logger) FileOption {
	return func(m *FileMirror) {
		if l != nil {
			m.logger = l
		}
	}
}

// NewFileMirror returns a mirror backed by the workbook at path. The file
// and its directory are created lazily on first use.
func NewFileMirror(path string, opts ...FileOption) *FileMirror {
	m := &FileMirror{
		path:      path,
		sheetName: DefaultSheetName,
		retry:     defaultWriteRetry,
		write:     writeFileAtomic,
		sleep:     sleepCtx,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("mirror", NameFile, "path", path)
	return m
}

func (m *FileMirror) Name() string { return NameFile }

func (m *FileMirror) Path() string { return m.path }

// EnsureInitialized makes sure the workbook exists with a canonical header
// row. Missing, empty or unreadable files are recreated; a table that
// already holds data is left untouched.
func (m *FileMirror) EnsureInitialized(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rows, reset := m.load()
	if !reset {
		return nil
	}
	return m.persist(ctx, rows)
}

// Append writes doc after the last non-empty row and returns its sequence,
// one more than the number of data rows.
func (m *FileMirror) Append(ctx context.Context, doc *models.DocumentRecord) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rows, _ := m.load()
	rows = m.canonicalize(rows)

	seq := 1
	for _, row := range rows[1:] {
		if !isBlankRow(row) {
			seq++
		}
	}
	rows = append(rows, schema.RowFromDocument(doc, seq))
	if err := m.persist(ctx, rows); err != nil {
		return 0, err
	}
	m.logger.Info("Appended row to workbook.", "sequence", seq)
	return seq, nil
}

// Update overwrites the row holding sequence. Rows past the end of the
// table are padded with empty rows, leaving a gap the caller is
// responsible for.
func (m *FileMirror) Update(ctx context.Context, sequence int, doc *models.DocumentRecord) error {
	if sequence <= 0 {
		return fmt.Errorf("invalid sequence %d", sequence)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	rows, _ := m.load()
	rows = m.canonicalize(rows)
	for len(rows) <= sequence {
		rows = append(rows, nil)
	}
	rows[sequence] = schema.RowFromDocument(doc, sequence)
	if err := m.persist(ctx, rows); err != nil {
		return err
	}
	m.logger.Info("Updated row in workbook.", "sequence", sequence)
	return nil
}

// CheckDuplicate scans the table for a passport, aadhaar or pan collision.
func (m *FileMirror) CheckDuplicate(ctx context.Context, doc *models.DocumentRecord) (Duplicate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rows, err := m.readRows()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Duplicate{}, nil
		}
		return Duplicate{}, err
	}
	if len(rows) < 2 {
		return Duplicate{}, nil
	}
	return findDuplicate(rows[0], rows[1:], doc, NameFile), nil
}

// FindByQuery searches the workbook the same way SheetMirror.FindByQuery
// searches the sheet. A missing file has no matches.
func (m *FileMirror) FindByQuery(ctx context.Context, q string) (*SheetSearchResult, error) {
	header, rows, err := m.Rows(ctx)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	q = strings.ToLower(strings.TrimSpace(q))
	result := &SheetSearchResult{Headers: header, Matches: []SheetMatch{}}
	for idx, row := range rows {
		if matchesQuery(row, q) {
			result.Matches = append(result.Matches, SheetMatch{
				Sequence: schema.Sequence(row, idx+1),
				RowIndex: idx + 2,
				Values:   row,
			})
		}
	}
	return result, nil
}

// Rows returns the header row and the data rows currently on disk.
func (m *FileMirror) Rows(ctx context.Context) ([]string, [][]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rows, err := m.readRows()
	if err != nil {
		return nil, nil, err
	}
	if len(rows) == 0 {
		return nil, nil, nil
	}
	return rows[0], rows[1:], nil
}

// Bytes returns the workbook content, creating it first if needed.
func (m *FileMirror) Bytes(ctx context.Context) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rows, reset := m.load()
	if reset {
		if err := m.persist(ctx, rows); err != nil {
			return nil, err
		}
	}
	data, err := os.ReadFile(m.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read workbook: %w", err)
	}
	return data, nil
}

// BuildWorkbook renders docs into a fresh workbook numbered 1..N.
func BuildWorkbook(docs []*models.DocumentRecord) ([]byte, error) {
	rows := make([][]string, 0, len(docs)+1)
	rows = append(rows, schema.Headers)
	for i, doc := range docs {
		rows = append(rows, schema.RowFromDocument(doc, i+1))
	}
	return encodeWorkbook(DefaultSheetName, rows)
}

// load reads the table and reports whether it had to be reset to a bare
// header row because the file was missing, unreadable or held no data
// under a stale header.
func (m *FileMirror) load() ([][]string, bool) {
	rows, err := m.readRows()
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			m.logger.Warn("Workbook unreadable, resetting.", "error", err)
		}
		return headerOnly(), true
	}
	if len(rows) == 0 || (len(rows) == 1 && !schema.HasCanonicalPrefix(rows[0])) {
		return headerOnly(), true
	}
	return rows, false
}

// canonicalize migrates a table stored under an older header layout so
// new rows line up with the header above them. Extra columns after the
// canonical ones are kept.
func (m *FileMirror) canonicalize(rows [][]string) [][]string {
	if schema.HasCanonicalPrefix(rows[0]) {
		return rows
	}
	m.logger.Info("Migrating workbook to the current column layout.", "rows", len(rows)-1)
	normalized := normalizeRows(rows[0], rows[1:], true)
	out := make([][]string, len(rows))
	out[0] = schema.Headers
	for i := range rows[1:] {
		out[i+1] = normalized[i]
	}
	return out
}

func (m *FileMirror) readRows() ([][]string, error) {
	data, err := os.ReadFile(m.path)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, nil
	}
	sheet := sheets[0]
	for _, name := range sheets {
		if name == m.sheetName {
			sheet = name
			break
		}
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %q: %w", sheet, err)
	}
	return rows, nil
}

// persist serialises rows and swaps the file in atomically, retrying
// while the file is locked by another program.
func (m *FileMirror) persist(ctx context.Context, rows [][]string) error {
	data, err := encodeWorkbook(m.sheetName, rows)
	if err != nil {
		return err
	}

	backoff := m.retry.Base
	var lastErr error
	for attempt := 1; attempt <= m.retry.Attempts; attempt++ {
		lastErr = m.write(m.path, data)
		if lastErr == nil {
			return nil
		}
		if !isLockError(lastErr) || attempt == m.retry.Attempts {
			break
		}
		wait := backoff + time.Duration(rand.Int64N(int64(backoff)/2+1))
		m.logger.Warn("Workbook locked, will retry.", "attempt", attempt, "backoff", wait.String(), "error", lastErr)
		if err := m.sleep(ctx, wait); err != nil {
			return err
		}
		backoff = min(backoff*2, m.retry.Max)
	}
	return fmt.Errorf("failed to write workbook: %w", lastErr)
}

func headerOnly() [][]string {
	return [][]string{schema.Headers}
}

func encodeWorkbook(sheetName string, rows [][]string) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), sheetName); err != nil {
		return nil, fmt.Errorf("failed to name sheet: %w", err)
	}
	for i, row := range rows {
		if len(row) == 0 {
			continue
		}
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return nil, err
		}
		values := row
		if err := f.SetSheetRow(sheetName, cell, &values); err != nil {
			return nil, fmt.Errorf("failed to write row %d: %w", i+1, err)
		}
	}
	if err := styleHeader(f, sheetName); err != nil {
		return nil, err
	}
	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to encode workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func styleHeader(f *excelize.File, sheet string) error {
	style, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true},
		Fill:      excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"E6E6E6"}},
		Alignment: &excelize.Alignment{Horizontal: "center", WrapText: true},
	})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}
	if err := f.SetRowStyle(sheet, 1, 1, style); err != nil {
		return fmt.Errorf("failed to style header: %w", err)
	}
	return f.SetPanes(sheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	})
}

// writeFileAtomic writes data next to path, fsyncs it and renames it over
// path.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := f.Name()

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to fsync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

// isLockError reports whether err looks like another program holding the
// file open.
func isLockError(err error) bool {
	for _, errno := range []syscall.Errno{syscall.EBUSY, syscall.EACCES, syscall.EPERM, syscall.ETXTBSY} {
		if errors.Is(err, errno) {
			return true
		}
	}
	msg := strings.ToLower(err.Error())
	for _, hint := range []string{"busy", "permission", "denied", "text file busy"} {
		if strings.Contains(msg, hint) {
			return true
		}
	}
	return false
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
