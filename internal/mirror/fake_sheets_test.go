package mirror

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
)

// fakeSheets is an in-memory SheetsClient that understands the A1 ranges
// the mirror issues.
type fakeSheets struct {
	mu         sync.Mutex
	sheets     []*fakeTab
	nextID     int64
	addNoReply bool
	failWith   error
	formatted  map[int64]int
	calls      []string
}

type fakeTab struct {
	info SheetInfo
	grid [][]string
}

func newFakeSheets(titles ...string) *fakeSheets {
	f := &fakeSheets{nextID: 100, formatted: map[int64]int{}}
	for _, t := range titles {
		f.add(t)
	}
	return f
}

func (f *fakeSheets) add(title string) *fakeTab {
	tab := &fakeTab{info: SheetInfo{Title: title, SheetID: f.nextID}}
	f.nextID++
	f.sheets = append(f.sheets, tab)
	return tab
}

func (f *fakeSheets) tab(title string) *fakeTab {
	for _, t := range f.sheets {
		if t.info.Title == title {
			return t
		}
	}
	return nil
}

// seed replaces the content of a tab, creating it when needed.
func (f *fakeSheets) seed(title string, rows ...[]string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := f.tab(title)
	if t == nil {
		t = f.add(title)
	}
	t.grid = nil
	for _, r := range rows {
		t.grid = append(t.grid, append([]string(nil), r...))
	}
}

func (f *fakeSheets) rows(title string) [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	grid := trimGrid(f.tab(title).grid)
	out := make([][]string, len(grid))
	for i, r := range grid {
		out[i] = append([]string(nil), r...)
	}
	return out
}

func (f *fakeSheets) record(call string) error {
	f.calls = append(f.calls, call)
	return f.failWith
}

func (f *fakeSheets) Sheets(ctx context.Context, spreadsheetID string) ([]SheetInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("sheets"); err != nil {
		return nil, err
	}
	out := make([]SheetInfo, 0, len(f.sheets))
	for _, t := range f.sheets {
		out = append(out, t.info)
	}
	return out, nil
}

func (f *fakeSheets) AddSheet(ctx context.Context, spreadsheetID, title string) (*SheetInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("addSheet"); err != nil {
		return nil, err
	}
	t := f.add(title)
	if f.addNoReply {
		return nil, nil
	}
	info := t.info
	return &info, nil
}

func (f *fakeSheets) GetValues(ctx context.Context, spreadsheetID, rng string) ([][]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("get " + rng); err != nil {
		return nil, err
	}
	r, err := parseA1(rng)
	if err != nil {
		return nil, err
	}
	t := f.tab(r.title)
	if t == nil {
		return nil, fmt.Errorf("unable to parse range: %s", rng)
	}
	var out [][]string
	for i := r.startRow; i < len(t.grid) && (r.endRow < 0 || i <= r.endRow); i++ {
		row := t.grid[i]
		var cells []string
		for c := r.startCol; c < len(row) && (r.endCol < 0 || c <= r.endCol); c++ {
			cells = append(cells, row[c])
		}
		out = append(out, trimRow(cells))
	}
	return trimGrid(out), nil
}

func (f *fakeSheets) UpdateValues(ctx context.Context, spreadsheetID, rng string, values [][]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("update " + rng); err != nil {
		return err
	}
	return f.write(rng, values)
}

func (f *fakeSheets) AppendValues(ctx context.Context, spreadsheetID, rng string, values [][]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("append " + rng); err != nil {
		return err
	}
	r, err := parseA1(rng)
	if err != nil {
		return err
	}
	t := f.tab(r.title)
	t.grid = append(trimGrid(t.grid), values...)
	return nil
}

func (f *fakeSheets) BatchUpdateValues(ctx context.Context, spreadsheetID string, data []ValueRange) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("batchUpdate"); err != nil {
		return err
	}
	for _, d := range data {
		if err := f.write(d.Range, d.Values); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeSheets) FormatHeader(ctx context.Context, spreadsheetID string, sheetID int64, columns int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("format"); err != nil {
		return err
	}
	f.formatted[sheetID]++
	return nil
}

func (f *fakeSheets) write(rng string, values [][]string) error {
	r, err := parseA1(rng)
	if err != nil {
		return err
	}
	t := f.tab(r.title)
	if t == nil {
		return errors.New("no such sheet " + r.title)
	}
	for i, vals := range values {
		rowIdx := r.startRow + i
		for len(t.grid) <= rowIdx {
			t.grid = append(t.grid, nil)
		}
		row := t.grid[rowIdx]
		for len(row) < r.startCol+len(vals) {
			row = append(row, "")
		}
		copy(row[r.startCol:], vals)
		t.grid[rowIdx] = row
	}
	return nil
}

type a1Range struct {
	title            string
	startRow, endRow int // 0-based, endRow -1 means open
	startCol, endCol int // 0-based, endCol -1 means open
}

func parseA1(rng string) (a1Range, error) {
	i := strings.LastIndex(rng, "!")
	if i < 0 {
		return a1Range{}, fmt.Errorf("range %q has no sheet", rng)
	}
	title := strings.ReplaceAll(strings.Trim(rng[:i], "'"), "''", "'")
	ref := rng[i+1:]
	start, end, hasEnd := strings.Cut(ref, ":")

	sc, sr := splitCell(start)
	r := a1Range{title: title, startCol: sc, startRow: sr - 1, endRow: -1, endCol: -1}
	if !hasEnd {
		return r, nil
	}
	ec, er := splitCell(end)
	r.endCol = ec
	if er > 0 {
		r.endRow = er - 1
	}
	return r, nil
}

func splitCell(cell string) (col, row int) {
	i := 0
	for i < len(cell) && cell[i] >= 'A' && cell[i] <= 'Z' {
		col = col*26 + int(cell[i]-'A'+1)
		i++
	}
	row, _ = strconv.Atoi(cell[i:])
	return col - 1, row
}

func trimRow(row []string) []string {
	end := len(row)
	for end > 0 && row[end-1] == "" {
		end--
	}
	return row[:end]
}

func trimGrid(grid [][]string) [][]string {
	end := len(grid)
	for end > 0 && len(trimRow(grid[end-1])) == 0 {
		end--
	}
	return grid[:end]
}
