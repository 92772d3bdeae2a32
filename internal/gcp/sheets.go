package gcp

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/oauth2/google"
	"golang.org/x/oauth2/jwt"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"github.com/Lllllllleong/kycdocumentintake/internal/mirror"
)

const valueInputRaw = "RAW"

// SheetsClient implements mirror.SheetsClient over the Sheets v4 API.
type SheetsClient struct {
	svc *sheets.Service
}

var _ mirror.SheetsClient = (*SheetsClient)(nil)

// NewSheetsClient authenticates with the service account in
// GOOGLE_SERVICE_ACCOUNT_EMAIL and GOOGLE_SERVICE_ACCOUNT_KEY when both are
// set, and with application default credentials otherwise.
func NewSheetsClient(ctx context.Context) (*SheetsClient, error) {
	email := GetEnv("GOOGLE_SERVICE_ACCOUNT_EMAIL", "")
	key := GetEnv("GOOGLE_SERVICE_ACCOUNT_KEY", "")

	var opts []option.ClientOption
	if email != "" && key != "" {
		cfg := &jwt.Config{
			Email:      email,
			PrivateKey: []byte(NormalizePrivateKey(key)),
			Scopes:     []string{sheets.SpreadsheetsScope},
			TokenURL:   google.JWTTokenURL,
		}
		opts = append(opts, option.WithTokenSource(cfg.TokenSource(ctx)))
	} else {
		opts = append(opts, option.WithScopes(sheets.SpreadsheetsScope))
	}

	svc, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("sheets.NewService: %w", err)
	}
	return &SheetsClient{svc: svc}, nil
}

// NewSheetsClientFromService wraps an existing service, e.g. one pointed
// at a test server with option.WithEndpoint.
func NewSheetsClientFromService(svc *sheets.Service) *SheetsClient {
	return &SheetsClient{svc: svc}
}

// NormalizePrivateKey repairs a PEM key pasted into an environment
// variable: surrounding quotes, escaped newlines and carriage returns are
// undone, and a base64-wrapped key is decoded.
func NormalizePrivateKey(raw string) string {
	key := strings.TrimSpace(raw)
	key = strings.Trim(key, `"'`)
	key = strings.ReplaceAll(key, `\n`, "\n")
	key = strings.ReplaceAll(key, "\r", "")

	if !strings.Contains(key, "BEGIN PRIVATE KEY") && !strings.Contains(key, "BEGIN RSA PRIVATE KEY") {
		if decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(key)); err == nil {
			return NormalizePrivateKey(string(decoded))
		}
	}
	return key
}

func (c *SheetsClient) Sheets(ctx context.Context, spreadsheetID string) ([]mirror.SheetInfo, error) {
	resp, err := c.svc.Spreadsheets.Get(spreadsheetID).
		Fields("sheets(properties(sheetId,title))").
		Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to get spreadsheet: %w", err)
	}
	out := make([]mirror.SheetInfo, 0, len(resp.Sheets))
	for _, s := range resp.Sheets {
		if s.Properties == nil {
			continue
		}
		out = append(out, mirror.SheetInfo{Title: s.Properties.Title, SheetID: s.Properties.SheetId})
	}
	return out, nil
}

func (c *SheetsClient) AddSheet(ctx context.Context, spreadsheetID, title string) (*mirror.SheetInfo, error) {
	req := &sheets.BatchUpdateSpreadsheetRequest{
		Requests: []*sheets.Request{{
			AddSheet: &sheets.AddSheetRequest{Properties: &sheets.SheetProperties{Title: title}},
		}},
	}
	resp, err := c.svc.Spreadsheets.BatchUpdate(spreadsheetID, req).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to add sheet %q: %w", title, err)
	}
	if len(resp.Replies) == 0 || resp.Replies[0].AddSheet == nil || resp.Replies[0].AddSheet.Properties == nil {
		return nil, nil
	}
	props := resp.Replies[0].AddSheet.Properties
	return &mirror.SheetInfo{Title: props.Title, SheetID: props.SheetId}, nil
}

func (c *SheetsClient) GetValues(ctx context.Context, spreadsheetID, rng string) ([][]string, error) {
	resp, err := c.svc.Spreadsheets.Values.Get(spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", rng, err)
	}
	return fromCells(resp.Values), nil
}

func (c *SheetsClient) UpdateValues(ctx context.Context, spreadsheetID, rng string, values [][]string) error {
	_, err := c.svc.Spreadsheets.Values.Update(spreadsheetID, rng, &sheets.ValueRange{Values: toCells(values)}).
		ValueInputOption(valueInputRaw).
		Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("failed to update %s: %w", rng, err)
	}
	return nil
}

func (c *SheetsClient) AppendValues(ctx context.Context, spreadsheetID, rng string, values [][]string) error {
	_, err := c.svc.Spreadsheets.Values.Append(spreadsheetID, rng, &sheets.ValueRange{Values: toCells(values)}).
		ValueInputOption(valueInputRaw).
		InsertDataOption("INSERT_ROWS").
		Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("failed to append to %s: %w", rng, err)
	}
	return nil
}

func (c *SheetsClient) BatchUpdateValues(ctx context.Context, spreadsheetID string, data []mirror.ValueRange) error {
	if len(data) == 0 {
		return nil
	}
	req := &sheets.BatchUpdateValuesRequest{ValueInputOption: valueInputRaw}
	for _, d := range data {
		req.Data = append(req.Data, &sheets.ValueRange{Range: d.Range, Values: toCells(d.Values)})
	}
	if _, err := c.svc.Spreadsheets.Values.BatchUpdate(spreadsheetID, req).Context(ctx).Do(); err != nil {
		return fmt.Errorf("failed to batch update %d ranges: %w", len(data), err)
	}
	return nil
}

// FormatHeader freezes the first row and styles it bold, grey, centred
// and wrapped across the given number of columns.
func (c *SheetsClient) FormatHeader(ctx context.Context, spreadsheetID string, sheetID int64, columns int) error {
	req := &sheets.BatchUpdateSpreadsheetRequest{
		Requests: []*sheets.Request{
			{
				UpdateSheetProperties: &sheets.UpdateSheetPropertiesRequest{
					Properties: &sheets.SheetProperties{
						SheetId:         sheetID,
						GridProperties:  &sheets.GridProperties{FrozenRowCount: 1},
						ForceSendFields: []string{"SheetId"},
					},
					Fields: "gridProperties.frozenRowCount",
				},
			},
			{
				RepeatCell: &sheets.RepeatCellRequest{
					Range: &sheets.GridRange{
						SheetId:          sheetID,
						StartRowIndex:    0,
						EndRowIndex:      1,
						StartColumnIndex: 0,
						EndColumnIndex:   int64(columns),
						ForceSendFields:  []string{"SheetId", "StartRowIndex", "StartColumnIndex"},
					},
					Cell: &sheets.CellData{
						UserEnteredFormat: &sheets.CellFormat{
							TextFormat:          &sheets.TextFormat{Bold: true},
							BackgroundColor:     &sheets.Color{Red: 0.9, Green: 0.9, Blue: 0.9},
							HorizontalAlignment: "CENTER",
							WrapStrategy:        "WRAP",
							Padding:             &sheets.Padding{Top: 2, Bottom: 2, Left: 4, Right: 4},
						},
					},
					Fields: "userEnteredFormat(textFormat,horizontalAlignment,backgroundColor,wrapStrategy,padding)",
				},
			},
		},
	}
	if _, err := c.svc.Spreadsheets.BatchUpdate(spreadsheetID, req).Context(ctx).Do(); err != nil {
		return fmt.Errorf("failed to format header: %w", err)
	}
	return nil
}

func toCells(rows [][]string) [][]interface{} {
	out := make([][]interface{}, len(rows))
	for i, row := range rows {
		cells := make([]interface{}, len(row))
		for j, v := range row {
			cells[j] = v
		}
		out[i] = cells
	}
	return out
}

func fromCells(rows [][]interface{}) [][]string {
	out := make([][]string, len(rows))
	for i, row := range rows {
		cells := make([]string, len(row))
		for j, v := range row {
			if v != nil {
				cells[j] = fmt.Sprint(v)
			}
		}
		out[i] = cells
	}
	return out
}
