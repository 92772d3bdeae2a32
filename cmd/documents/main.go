package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"

	"github.com/Lllllllleong/kycdocumentintake/internal/api"
	"github.com/Lllllllleong/kycdocumentintake/internal/services"
)

var (
	uploaderInstance   *services.UploaderFunction
	classifierInstance *services.ClassifierFunction
	extractorInstance  *services.ExtractorFunction

	uploaderOnce, classifierOnce, extractorOnce sync.Once
	uploaderErr, classifierErr, extractorErr    error
)

func init() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	functions.HTTP("Upload", handleUpload)
	functions.HTTP("Classify", handleClassify)
	functions.HTTP("Extract", handleExtract)
}

// main is required by the Go Functions Framework.
func main() {}

// handleUpload serves both POST (store) and DELETE (remove) on one URL.
func handleUpload(w http.ResponseWriter, r *http.Request) {
	uploaderOnce.Do(func() {
		uploaderInstance, uploaderErr = services.NewUploader(context.Background())
	})
	if uploaderErr != nil {
		failInit(w, uploaderErr)
		return
	}
	h := &api.Handler{Uploads: uploaderInstance}
	switch r.Method {
	case http.MethodPost:
		h.HandleUpload(w, r)
	case http.MethodDelete:
		h.HandleDeleteUpload(w, r)
	default:
		api.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func handleClassify(w http.ResponseWriter, r *http.Request) {
	classifierOnce.Do(func() {
		classifierInstance, classifierErr = services.NewClassifier(context.Background())
	})
	if classifierErr != nil {
		failInit(w, classifierErr)
		return
	}
	(&api.Handler{Classify: classifierInstance}).HandleClassify(w, r)
}

func handleExtract(w http.ResponseWriter, r *http.Request) {
	extractorOnce.Do(func() {
		extractorInstance, extractorErr = services.NewExtractor(context.Background())
	})
	if extractorErr != nil {
		failInit(w, extractorErr)
		return
	}
	(&api.Handler{Extract: extractorInstance}).HandleExtract(w, r)
}

func failInit(w http.ResponseWriter, err error) {
	slog.Error("Critical error during function initialization", "error", err)
	api.WriteError(w, http.StatusInternalServerError, "Server not configured")
}
