package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"cloud.google.com/go/storage"
	"cloud.google.com/go/vertexai/genai"

	"github.com/Lllllllleong/kycdocumentintake/internal/gcp"
	"github.com/Lllllllleong/kycdocumentintake/internal/models"
)

// manualOnlyFields are passport_back fields typed in by an operator. An
// extraction never fills them.
var manualOnlyFields = []string{"ref", "ff6E", "ffEK", "ffEY", "ffSQ", "ffAI", "ffQR"}

// ExtractorConfig holds configuration for the extract service.
type ExtractorConfig struct {
	ProjectID      string
	VertexAIRegion string
	Model          string
}

// ExtractorFunction reads the fields of one identity document image.
type ExtractorFunction struct {
	models map[models.DocType]ContentGenerator
	images ImageLoader
	config ExtractorConfig
	sleep  sleepFunc
}

// NewExtractor creates an ExtractorFunction from the environment.
func NewExtractor(ctx context.Context) (*ExtractorFunction, error) {
	projectID := gcp.GetEnv("PROJECT_ID", "")
	if projectID == "" {
		return nil, fmt.Errorf("PROJECT_ID environment variable must be set")
	}
	config := ExtractorConfig{
		ProjectID:      projectID,
		VertexAIRegion: gcp.GetEnv("VERTEX_AI_REGION", "us-central1"),
		Model:          gcp.GetEnv("VERTEX_MODEL", "gemini-1.5-flash"),
	}

	vertexClient, err := gcp.NewVertexClient(ctx, config.ProjectID, config.VertexAIRegion, config.Model)
	if err != nil {
		return nil, fmt.Errorf("failed to create vertex client: %w", err)
	}
	storageClient, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}

	generators := make(map[models.DocType]ContentGenerator, len(vertexClient.ExtractorModels))
	for t, m := range vertexClient.ExtractorModels {
		generators[t] = m
	}
	return NewExtractorWith(generators, NewObjectImageLoader(storageClient, nil), config), nil
}

// NewExtractorWith wires an extractor from explicit dependencies, one
// schema-constrained model per document type.
func NewExtractorWith(generators map[models.DocType]ContentGenerator, images ImageLoader, config ExtractorConfig) *ExtractorFunction {
	return &ExtractorFunction{models: generators, images: images, config: config, sleep: sleepCtx}
}

// Process extracts the fields of req.Type from the image. A response the
// model could not fit to the schema yields an empty field map rather than
// an error; the operator fills the form by hand in that case.
func (f *ExtractorFunction) Process(ctx context.Context, req *models.ExtractRequest) (*models.ExtractResponse, error) {
	if req == nil || strings.TrimSpace(req.ImageURL) == "" {
		return nil, invalid("missing imageUrl")
	}
	docType := req.Type
	if docType == "" {
		docType = models.DocTypePassportFront
	}
	model, ok := f.models[docType]
	fields := gcp.ExtractionFields[docType]
	if !ok || len(fields) == 0 {
		return nil, invalid("unsupported document type %q", req.Type)
	}
	logCtx := slog.With("type", docType)

	part, err := f.images.Load(ctx, req.ImageURL)
	if err != nil {
		if IsValidation(err) {
			return nil, err
		}
		return nil, upstream("failed to load image", err)
	}

	var text string
	err = modelRetry.do(ctx, f.sleep, logCtx, "extract", func(ctx context.Context) error {
		prompt := fmt.Sprintf(gcp.ExtractorUserPrompt, strings.ReplaceAll(string(docType), "_", " "))
		resp, err := model.GenerateContent(ctx, part, genai.Text(prompt))
		if err != nil {
			return err
		}
		text = extractJSONContent(resp)
		return nil
	})
	if err != nil {
		logCtx.Error("Extraction failed.", "error", err)
		return nil, upstream("extraction failed", err)
	}

	data := parseExtraction(logCtx, text, fields)
	if docType == models.DocTypePassportFront {
		normalizePassportNames(data)
	}
	if docType == models.DocTypePassportBack {
		for _, k := range manualOnlyFields {
			delete(data, k)
		}
	}
	data["imageUrl"] = req.ImageURL

	logCtx.Info("Extraction complete.", "fieldCount", len(data)-1)
	return &models.ExtractResponse{Data: data}, nil
}

// parseExtraction keeps only the expected fields with non-blank string
// values. Anything unparseable gives an empty map.
func parseExtraction(logCtx *slog.Logger, text string, fields []string) map[string]string {
	data := map[string]string{}
	if text == "" {
		logCtx.Warn("Model returned an empty extraction.")
		return data
	}
	var raw map[string]any
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		logCtx.Warn("Extraction did not match the schema.", "error", err)
		return data
	}
	for _, k := range fields {
		s, ok := raw[k].(string)
		if !ok {
			continue
		}
		if s = strings.TrimSpace(s); s != "" {
			data[k] = s
		}
	}
	return data
}

// normalizePassportNames fills firstName from the Given Names line and
// lastName from the Surname label.
func normalizePassportNames(data map[string]string) {
	given := data["givenNames"]
	if given == "" {
		given = data["firstName"]
	}
	if given = strings.Join(strings.Fields(given), " "); given != "" {
		data["firstName"] = given
	}
	surname := data["surname"]
	if surname == "" {
		surname = data["lastName"]
	}
	if surname = strings.TrimSpace(surname); surname != "" {
		data["lastName"] = surname
	}
}
