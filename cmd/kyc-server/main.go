package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	"github.com/Lllllllleong/kycdocumentintake/internal/api"
	"github.com/Lllllllleong/kycdocumentintake/internal/gcp"
	"github.com/Lllllllleong/kycdocumentintake/internal/server"
	"github.com/Lllllllleong/kycdocumentintake/internal/services"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		logger.Info("No .env file loaded, using the process environment.")
	}

	ctx := context.Background()
	records, err := services.OpenRecords(ctx, services.RecordsConfigFromEnv())
	if err != nil {
		logger.Error("Failed to open records.", "error", err)
		os.Exit(1)
	}
	defer records.Close()

	payments := services.NewPayment()
	handler := &api.Handler{
		Submissions:    services.NewSubmission(records.Store, payments, records.File, records.Sheet),
		Search:         services.NewSearch(records.Sheet, records.File),
		Export:         services.NewExport(records.Store, records.File),
		Payments:       payments,
		AccessPassword: gcp.GetEnv("APP_ACCESS_PASSWORD", ""),
	}

	// The model and storage backed capabilities are optional: without
	// PROJECT_ID or a bucket their routes answer "Server not configured".
	if uploader, err := services.NewUploader(ctx); err != nil {
		logger.Warn("Upload endpoint disabled.", "error", err)
	} else {
		handler.Uploads = uploader
	}
	if classifier, err := services.NewClassifier(ctx); err != nil {
		logger.Warn("Classify endpoint disabled.", "error", err)
	} else {
		handler.Classify = classifier
	}
	if extractor, err := services.NewExtractor(ctx); err != nil {
		logger.Warn("Extract endpoint disabled.", "error", err)
	} else {
		handler.Extract = extractor
	}

	if err := server.New(server.ConfigFromEnv(), logger, handler).Run(); err != nil {
		logger.Error("Server stopped with error.", "error", err)
		os.Exit(1)
	}
}
