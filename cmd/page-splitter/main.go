package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	cloudevents "github.com/cloudevents/sdk-go/v2"

	"github.com/Lllllllleong/kycdocumentintake/internal/services"
)

var (
	pageSplitterInstance *services.PageSplitterFunction
	once                 sync.Once
	initErr              error
)

func init() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Triggered by object finalize events on the uploads bucket.
	functions.CloudEvent("SplitPages", splitPages)
}

// main is required by the Go Functions Framework.
func main() {}

func splitPages(ctx context.Context, e cloudevents.Event) error {
	once.Do(func() {
		pageSplitterInstance, initErr = services.NewPageSplitter(context.Background())
	})
	if initErr != nil {
		slog.Error("Critical error during function initialization", "error", initErr)
		return initErr
	}

	var gcsEvent services.GCSEvent
	if err := json.Unmarshal(e.Data(), &gcsEvent); err != nil {
		slog.Error("Failed to unmarshal event data", "error", err, "data", string(e.Data()))
		return fmt.Errorf("json.Unmarshal: %w", err)
	}

	// Process logs its own failures with context.
	return pageSplitterInstance.Process(ctx, gcsEvent)
}
