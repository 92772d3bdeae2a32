// Package schema defines the spreadsheet column layout shared by every
// mirror and the mapping between a DocumentRecord and a flat row.
//
// Headers is the wire format of the mirrors. Its order and literal titles
// must stay stable; reads are keyed by header title so older layouts still
// map correctly as long as their titles match case/whitespace-insensitively.
package schema

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Lllllllleong/kycdocumentintake/internal/models"
)

// Column titles that other packages refer to directly.
const (
	ColSequence       = "NO"
	ColPanNumber      = "PAN Number"
	ColAadhaarNumber  = "Aadhaar Number"
	ColPassportNumber = "Passport No."
	ColDOB            = "DOB"
	ColPaymentStatus  = "Payment Status"
)

// Column binds a header title to the record field it projects.
// Set is nil for columns that are rendered specially (sequence).
type Column struct {
	Title string
	Get   func(d *models.DocumentRecord) string
	Set   func(d *models.DocumentRecord, v string)
}

// Columns is the canonical, ordered column table.
var Columns = []Column{
	{Title: ColSequence},
	{ColPanNumber, func(d *models.DocumentRecord) string { return pan(d).PanNumber }, func(d *models.DocumentRecord, v string) { d.Pan.PanNumber = v }},
	{ColAadhaarNumber, func(d *models.DocumentRecord) string { return aadhaar(d).AadhaarNumber }, func(d *models.DocumentRecord, v string) { d.Aadhaar.AadhaarNumber = v }},
	{"Aadhaar Name", func(d *models.DocumentRecord) string { return aadhaar(d).Name }, func(d *models.DocumentRecord, v string) { d.Aadhaar.Name = v }},
	{"Sex", func(d *models.DocumentRecord) string { return front(d).Sex }, func(d *models.DocumentRecord, v string) { d.PassportFront.Sex = v }},
	{"Full Name (Passport)", func(d *models.DocumentRecord) string { return front(d).FirstName }, func(d *models.DocumentRecord, v string) { d.PassportFront.FirstName = v }},
	{"Last Name", func(d *models.DocumentRecord) string { return front(d).LastName }, func(d *models.DocumentRecord, v string) { d.PassportFront.LastName = v }},
	{ColPassportNumber, func(d *models.DocumentRecord) string { return front(d).PassportNumber }, func(d *models.DocumentRecord, v string) { d.PassportFront.PassportNumber = v }},
	{"Nationality", func(d *models.DocumentRecord) string { return front(d).Nationality }, func(d *models.DocumentRecord, v string) { d.PassportFront.Nationality = v }},
	// The sheet keeps one DOB column; Aadhaar DOB is read back from it.
	{ColDOB, func(d *models.DocumentRecord) string { return front(d).DateOfBirth }, func(d *models.DocumentRecord, v string) {
		d.PassportFront.DateOfBirth = v
		d.Aadhaar.DateOfBirth = v
	}},
	{"D.O.Issue", func(d *models.DocumentRecord) string { return front(d).DateOfIssue }, func(d *models.DocumentRecord, v string) { d.PassportFront.DateOfIssue = v }},
	{"D.O.Expire", func(d *models.DocumentRecord) string { return front(d).DateOfExpiry }, func(d *models.DocumentRecord, v string) { d.PassportFront.DateOfExpiry = v }},
	{"Mobile Number", func(d *models.DocumentRecord) string { return back(d).MobileNumber }, func(d *models.DocumentRecord, v string) { d.PassportBack.MobileNumber = v }},
	{"Email", func(d *models.DocumentRecord) string { return back(d).Email }, func(d *models.DocumentRecord, v string) { d.PassportBack.Email = v }},
	{"REF", func(d *models.DocumentRecord) string { return back(d).Ref }, func(d *models.DocumentRecord, v string) { d.PassportBack.Ref = v }},
	{"FF 6E", func(d *models.DocumentRecord) string { return back(d).FF6E }, func(d *models.DocumentRecord, v string) { d.PassportBack.FF6E = v }},
	{"FF EK", func(d *models.DocumentRecord) string { return back(d).FFEK }, func(d *models.DocumentRecord, v string) { d.PassportBack.FFEK = v }},
	{"FF EY", func(d *models.DocumentRecord) string { return back(d).FFEY }, func(d *models.DocumentRecord, v string) { d.PassportBack.FFEY = v }},
	{"FF SQ", func(d *models.DocumentRecord) string { return back(d).FFSQ }, func(d *models.DocumentRecord, v string) { d.PassportBack.FFSQ = v }},
	{"FF AI", func(d *models.DocumentRecord) string { return back(d).FFAI }, func(d *models.DocumentRecord, v string) { d.PassportBack.FFAI = v }},
	{"FF QR", func(d *models.DocumentRecord) string { return back(d).FFQR }, func(d *models.DocumentRecord, v string) { d.PassportBack.FFQR = v }},
	{"Father Name", func(d *models.DocumentRecord) string { return back(d).FatherName }, func(d *models.DocumentRecord, v string) { d.PassportBack.FatherName = v }},
	{"Mother Name", func(d *models.DocumentRecord) string { return back(d).MotherName }, func(d *models.DocumentRecord, v string) { d.PassportBack.MotherName = v }},
	{"Spouse Name", func(d *models.DocumentRecord) string { return back(d).SpouseName }, func(d *models.DocumentRecord, v string) { d.PassportBack.SpouseName = v }},
	{"Place Of Birth", func(d *models.DocumentRecord) string { return front(d).PlaceOfBirth }, func(d *models.DocumentRecord, v string) { d.PassportFront.PlaceOfBirth = v }},
	{"Place Of Issue", func(d *models.DocumentRecord) string { return front(d).PlaceOfIssue }, func(d *models.DocumentRecord, v string) { d.PassportFront.PlaceOfIssue = v }},
	{"PAN Name", func(d *models.DocumentRecord) string { return pan(d).Name }, func(d *models.DocumentRecord, v string) { d.Pan.Name = v }},
	{"Passport Address", func(d *models.DocumentRecord) string { return back(d).Address }, func(d *models.DocumentRecord, v string) { d.PassportBack.Address = v }},
	{"Passport Front Image URL", func(d *models.DocumentRecord) string { return front(d).ImageURL }, func(d *models.DocumentRecord, v string) { d.PassportFront.ImageURL = v }},
	{"Passport Back Image URL", func(d *models.DocumentRecord) string { return back(d).ImageURL }, func(d *models.DocumentRecord, v string) { d.PassportBack.ImageURL = v }},
	{"Aadhaar Image URL", func(d *models.DocumentRecord) string { return aadhaar(d).ImageURL }, func(d *models.DocumentRecord, v string) { d.Aadhaar.ImageURL = v }},
	{"PAN Image URL", func(d *models.DocumentRecord) string { return pan(d).ImageURL }, func(d *models.DocumentRecord, v string) { d.Pan.ImageURL = v }},
	{"Traveler Photo URL", func(d *models.DocumentRecord) string { return photo(d).ImageURL }, func(d *models.DocumentRecord, v string) { d.Photo.ImageURL = v }},
	{ColPaymentStatus, func(d *models.DocumentRecord) string { return PaymentStatus(d.Payment) }, func(d *models.DocumentRecord, v string) { d.Payment = ParsePaymentStatus(v) }},
}

// Headers is the literal header row written to every mirror.
var Headers = titles(Columns)

var canonicalIndex = indexByKey(Headers)

func init() {
	seen := make(map[string]bool, len(Columns))
	for i, c := range Columns {
		key := HeaderKey(c.Title)
		if key == "" || seen[key] {
			panic(fmt.Sprintf("schema: column %d has an empty or repeated title %q", i, c.Title))
		}
		seen[key] = true
		if i > 0 && (c.Get == nil || c.Set == nil) {
			panic(fmt.Sprintf("schema: column %q must define both accessors", c.Title))
		}
	}
	if Columns[0].Title != ColSequence {
		panic("schema: the sequence column must come first")
	}
}

// RowFromDocument projects doc into a row ordered like Headers.
func RowFromDocument(doc *models.DocumentRecord, sequence int) []string {
	if doc == nil {
		doc = &models.DocumentRecord{}
	}
	row := make([]string, len(Columns))
	row[0] = strconv.Itoa(sequence)
	for i := 1; i < len(Columns); i++ {
		row[i] = Columns[i].Get(doc)
	}
	return row
}

// DocumentFromRow rebuilds a record from a stored row. headerRow is the
// header row read from storage; without one the canonical positions are
// used. Fields without a column are left blank.
func DocumentFromRow(row []string, headerRow []string) *models.DocumentRecord {
	index := columnIndex(headerRow)
	lookup := func(title string) string {
		idx, ok := index[HeaderKey(title)]
		if !ok || idx >= len(row) {
			return ""
		}
		return row[idx]
	}

	doc := &models.DocumentRecord{
		PassportFront: &models.PassportFront{},
		PassportBack:  &models.PassportBack{},
		Aadhaar:       &models.Aadhaar{},
		Pan:           &models.Pan{},
		Photo:         &models.Photo{},
	}
	for _, c := range Columns[1:] {
		c.Set(doc, lookup(c.Title))
	}
	return doc
}

// Sequence reads the sequence cell of a data row, falling back to the
// row ordinal when the cell is blank or not a positive integer.
func Sequence(row []string, fallback int) int {
	if len(row) == 0 {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(row[0]))
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

// HeaderKey normalises a header title for comparison.
func HeaderKey(title string) string {
	return strings.ToLower(strings.Join(strings.Fields(title), " "))
}

// IsCanonicalHeader reports whether row equals Headers exactly.
func IsCanonicalHeader(row []string) bool {
	if len(row) != len(Headers) {
		return false
	}
	for i := range row {
		if row[i] != Headers[i] {
			return false
		}
	}
	return true
}

// HasCanonicalPrefix reports whether the first len(Headers) cells of row
// equal Headers. Columns past the last canonical one are ignored.
func HasCanonicalPrefix(row []string) bool {
	return len(row) >= len(Headers) && IsCanonicalHeader(row[:len(Headers)])
}

// IndexOf returns the position of title within headerRow, or within
// Headers when headerRow is empty.
func IndexOf(headerRow []string, title string) (int, bool) {
	idx, ok := columnIndex(headerRow)[HeaderKey(title)]
	return idx, ok
}

func columnIndex(headerRow []string) map[string]int {
	stored := indexByKey(headerRow)
	if len(stored) == 0 {
		return canonicalIndex
	}
	return stored
}

// ColumnLetter converts a 1-based column number into A1 letters.
func ColumnLetter(n int) string {
	var out []byte
	for n > 0 {
		n--
		out = append([]byte{byte('A' + n%26)}, out...)
		n /= 26
	}
	return string(out)
}

// LastColumn is the A1 letter of the last canonical column.
func LastColumn() string {
	return ColumnLetter(len(Headers))
}

func titles(cols []Column) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = c.Title
	}
	return out
}

func indexByKey(headerRow []string) map[string]int {
	m := make(map[string]int, len(headerRow))
	for i, h := range headerRow {
		key := HeaderKey(h)
		if key == "" {
			continue
		}
		if _, dup := m[key]; !dup {
			m[key] = i
		}
	}
	return m
}

func front(d *models.DocumentRecord) *models.PassportFront {
	if d.PassportFront == nil {
		return &models.PassportFront{}
	}
	return d.PassportFront
}

func back(d *models.DocumentRecord) *models.PassportBack {
	if d.PassportBack == nil {
		return &models.PassportBack{}
	}
	return d.PassportBack
}

func aadhaar(d *models.DocumentRecord) *models.Aadhaar {
	if d.Aadhaar == nil {
		return &models.Aadhaar{}
	}
	return d.Aadhaar
}

func pan(d *models.DocumentRecord) *models.Pan {
	if d.Pan == nil {
		return &models.Pan{}
	}
	return d.Pan
}

func photo(d *models.DocumentRecord) *models.Photo {
	if d.Photo == nil {
		return &models.Photo{}
	}
	return d.Photo
}
