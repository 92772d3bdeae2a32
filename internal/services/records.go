package services

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/Lllllllleong/kycdocumentintake/internal/gcp"
	"github.com/Lllllllleong/kycdocumentintake/internal/mirror"
	"github.com/Lllllllleong/kycdocumentintake/internal/store"
)

// RecordsConfig locates the store and both mirrors.
type RecordsConfig struct {
	ProjectID     string
	Collection    string
	DataDir       string
	SpreadsheetID string
	SheetName     string
}

// Records bundles the store and the mirrors. Store and Sheet are nil when
// they could not be opened or are not configured; File is always set.
type Records struct {
	Store *store.FirestoreStore
	File  *mirror.FileMirror
	Sheet *mirror.SheetMirror
}

func RecordsConfigFromEnv() RecordsConfig {
	return RecordsConfig{
		ProjectID:     gcp.GetEnv("PROJECT_ID", ""),
		Collection:    gcp.GetEnv("FIRESTORE_COLLECTION", "documentSets"),
		DataDir:       gcp.DataDir(),
		SpreadsheetID: gcp.GetEnv("GOOGLE_SHEETS_SPREADSHEET_ID", ""),
		SheetName:     gcp.GetEnv("GOOGLE_SHEETS_SHEET_NAME", mirror.DefaultSheetName),
	}
}

// OpenRecords opens whatever backends are reachable. A store or sheet
// client that fails to open is logged and left nil so submissions still
// reach the remaining backends.
func OpenRecords(ctx context.Context, config RecordsConfig) (*Records, error) {
	r := &Records{
		File: mirror.NewFileMirror(filepath.Join(config.DataDir, "records.xlsx")),
	}
	if err := r.File.EnsureInitialized(ctx); err != nil {
		slog.Warn("Failed to initialize local workbook.", "path", r.File.Path(), "error", err)
	}

	if config.ProjectID == "" {
		slog.Warn("PROJECT_ID not set, running without the document store.")
	} else if s, err := store.Open(ctx, config.ProjectID, config.Collection); err != nil {
		slog.Error("Failed to open document store.", "error", err)
	} else {
		r.Store = s
	}

	if config.SpreadsheetID == "" {
		slog.Info("GOOGLE_SHEETS_SPREADSHEET_ID not set, sheet mirror disabled.")
		return r, nil
	}
	client, err := gcp.NewSheetsClient(ctx)
	if err != nil {
		slog.Error("Failed to create sheets client, sheet mirror disabled.", "error", err)
		return r, nil
	}
	r.Sheet = mirror.NewSheetMirror(client, config.SpreadsheetID, config.SheetName)
	return r, nil
}

func (r *Records) Close() error {
	if r.Store == nil {
		return nil
	}
	return r.Store.Close()
}
