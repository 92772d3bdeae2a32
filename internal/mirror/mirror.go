// Package mirror keeps flat spreadsheet copies of the submitted records:
// a local xlsx file and a remote Google Sheet. Both are best-effort
// secondaries of the document store and share the row layout defined in
// package schema.
package mirror

import (
	"strings"

	"github.com/Lllllllleong/kycdocumentintake/internal/models"
	"github.com/Lllllllleong/kycdocumentintake/internal/schema"
)

// Mirror names, used in logs, metrics and submit responses.
const (
	NameFile  = "file"
	NameSheet = "sheet"
	NameStore = "store"
)

// Duplicate field labels reported to clients.
const (
	FieldPassportNumber = "Passport Number"
	FieldAadhaarNumber  = "Aadhaar Number"
	FieldPanNumber      = "PAN Number"
)

// Duplicate describes a unique-field collision. The zero value means
// no collision was found.
type Duplicate struct {
	Field  string
	Value  string
	Source string
}

// Found reports whether a collision was detected.
func (d Duplicate) Found() bool {
	return d.Field != ""
}

type uniqueCheck struct {
	field string
	title string
	value string
}

// uniqueChecks returns the identity checks for u in priority order.
func uniqueChecks(u models.UniqueFields) []uniqueCheck {
	return []uniqueCheck{
		{FieldPassportNumber, schema.ColPassportNumber, u.PassportNumber},
		{FieldAadhaarNumber, schema.ColAadhaarNumber, u.AadhaarNumber},
		{FieldPanNumber, schema.ColPanNumber, u.PanNumber},
	}
}

// findDuplicate scans data rows laid out under headerRow. Every row is
// checked for a passport collision before any aadhaar or pan collision is
// considered. Blank values never match.
func findDuplicate(headerRow []string, rows [][]string, doc *models.DocumentRecord, source string) Duplicate {
	for _, c := range uniqueChecks(doc.UniqueFields()) {
		if c.value == "" {
			continue
		}
		idx, ok := schema.IndexOf(headerRow, c.title)
		if !ok {
			continue
		}
		for _, row := range rows {
			if idx < len(row) && strings.TrimSpace(row[idx]) == c.value {
				return Duplicate{Field: c.field, Value: c.value, Source: source}
			}
		}
	}
	return Duplicate{}
}

// normalizeRows re-serialises every non-blank data row stored under
// headerRow into the canonical layout. The result is keyed by the 0-based
// data row offset. Blank rows are skipped so sparse gaps stay untouched.
func normalizeRows(headerRow []string, rows [][]string, keepSequence bool) map[int][]string {
	seqIdx, hasSeq := schema.IndexOf(headerRow, schema.ColSequence)
	out := make(map[int][]string, len(rows))
	for i, row := range rows {
		if isBlankRow(row) {
			continue
		}
		seq := i + 1
		if keepSequence && hasSeq && seqIdx < len(row) {
			seq = schema.Sequence(row[seqIdx:], seq)
		}
		out[i] = schema.RowFromDocument(schema.DocumentFromRow(row, headerRow), seq)
	}
	return out
}

func isBlankRow(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

// matchesQuery reports whether q occurs in the joined cells of row,
// ignoring case. q must already be lower-cased and trimmed.
func matchesQuery(row []string, q string) bool {
	if q == "" {
		return false
	}
	return strings.Contains(strings.ToLower(strings.Join(row, " \u0001 ")), q)
}
