package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"

	"github.com/Lllllllleong/kycdocumentintake/internal/api"
	"github.com/Lllllllleong/kycdocumentintake/internal/gcp"
	"github.com/Lllllllleong/kycdocumentintake/internal/services"
)

var (
	handler *api.Handler
	once    sync.Once
	initErr error
)

func init() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	functions.HTTP("SearchRecords", protected(func(h *api.Handler) http.HandlerFunc { return h.HandleSearch }))
	functions.HTTP("SheetStatus", protected(func(h *api.Handler) http.HandlerFunc { return h.HandleSheetStatus }))
	functions.HTTP("ExportRecords", withHandler(func(h *api.Handler) http.HandlerFunc { return h.HandleExport }))
}

// main is required by the Go Functions Framework.
func main() {}

func setup() {
	records, err := services.OpenRecords(context.Background(), services.RecordsConfigFromEnv())
	if err != nil {
		initErr = err
		return
	}
	handler = &api.Handler{
		Search:         services.NewSearch(records.Sheet, records.File),
		Export:         services.NewExport(records.Store, records.File),
		AccessPassword: gcp.GetEnv("APP_ACCESS_PASSWORD", ""),
	}
}

func withHandler(route func(*api.Handler) http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		once.Do(setup)
		if initErr != nil {
			slog.Error("Critical error during function initialization", "error", initErr)
			api.WriteError(w, http.StatusInternalServerError, "Server not configured")
			return
		}
		route(handler)(w, r)
	}
}

func protected(route func(*api.Handler) http.HandlerFunc) http.HandlerFunc {
	return withHandler(func(h *api.Handler) http.HandlerFunc {
		return api.RequireAppPass(h.AccessPassword)(route(h)).ServeHTTP
	})
}
