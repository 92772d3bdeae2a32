package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"cloud.google.com/go/vertexai/genai"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/errgroup"

	"github.com/Lllllllleong/kycdocumentintake/internal/gcp"
	"github.com/Lllllllleong/kycdocumentintake/internal/models"
)

var (
	classifyCacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kyc_classify_cache_hits_total",
		Help: "Classifications served from the cache.",
	})
	classifyCacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kyc_classify_cache_misses_total",
		Help: "Classifications that had to call the model.",
	})
)

// pdfClassifyPages is how many leading pages of a PDF are classified.
const pdfClassifyPages = 2

// ClassifierConfig holds configuration for the classify service.
type ClassifierConfig struct {
	ProjectID      string
	VertexAIRegion string
	Model          string
	UploadsBucket  string
	CacheSize      int
	CacheTTL       time.Duration
}

// ClassifierFunction decides which identity document an image shows.
type ClassifierFunction struct {
	model  ContentGenerator
	images ImageLoader
	cache  *expirable.LRU[string, classification]
	config ClassifierConfig
	sleep  sleepFunc
}

type classification struct {
	Type       models.DocType
	Confidence float64
}

// classificationOutput is the JSON object the model is constrained to.
type classificationOutput struct {
	Type       string  `json:"type"`
	Confidence float64 `json:"confidence"`
}

// NewClassifier creates a ClassifierFunction from the environment.
func NewClassifier(ctx context.Context) (*ClassifierFunction, error) {
	projectID := gcp.GetEnv("PROJECT_ID", "")
	if projectID == "" {
		return nil, fmt.Errorf("PROJECT_ID environment variable must be set")
	}
	config := ClassifierConfig{
		ProjectID:      projectID,
		VertexAIRegion: gcp.GetEnv("VERTEX_AI_REGION", "us-central1"),
		Model:          gcp.GetEnv("VERTEX_MODEL", "gemini-1.5-flash"),
		UploadsBucket:  gcp.GetEnv("UPLOADS_BUCKET", ""),
		CacheSize:      gcp.GetEnvInt("CLASSIFY_CACHE_SIZE", 256),
		CacheTTL:       time.Hour,
	}

	vertexClient, err := gcp.NewVertexClient(ctx, config.ProjectID, config.VertexAIRegion, config.Model)
	if err != nil {
		return nil, fmt.Errorf("failed to create vertex client: %w", err)
	}
	storageClient, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}

	f := NewClassifierWith(vertexClient.ClassifierModel, NewObjectImageLoader(storageClient, nil), config)
	slog.Info("Classifier initialized.", "model", config.Model, "cacheSize", config.CacheSize)
	return f, nil
}

// NewClassifierWith wires a classifier from explicit dependencies.
func NewClassifierWith(model ContentGenerator, images ImageLoader, config ClassifierConfig) *ClassifierFunction {
	if config.CacheSize <= 0 {
		config.CacheSize = 256
	}
	if config.CacheTTL <= 0 {
		config.CacheTTL = time.Hour
	}
	return &ClassifierFunction{
		model:  model,
		images: images,
		cache:  expirable.NewLRU[string, classification](config.CacheSize, nil, config.CacheTTL),
		config: config,
		sleep:  sleepCtx,
	}
}

// Process classifies a single image, one page of an uploaded PDF, or the
// first two pages of an uploaded PDF. For a PDF a page that fails is
// dropped; the call only fails when no page could be classified.
func (f *ClassifierFunction) Process(ctx context.Context, req *models.ClassifyRequest) (*models.ClassifyResponse, error) {
	if req == nil {
		return nil, invalid("missing body")
	}
	logCtx := slog.With("publicId", req.PublicID, "isPdf", req.IsPDF, "page", req.Page)

	var pages []int
	switch {
	case req.PublicID != "" && req.Page > 0:
		pages = []int{req.Page}
	case req.PublicID != "" && req.IsPDF:
		for p := 1; p <= pdfClassifyPages; p++ {
			pages = append(pages, p)
		}
	case req.ImageURL != "":
		c, err := f.classifyRef(ctx, logCtx, req.ImageURL)
		if err != nil {
			return nil, err
		}
		results := []models.PageClassification{{PageImageURL: req.ImageURL, Type: c.Type, Confidence: c.Confidence}}
		return &models.ClassifyResponse{Results: results, Suggested: Suggest(results)}, nil
	default:
		return nil, invalid("provide imageUrl, or publicId with isPdf or page")
	}
	if f.config.UploadsBucket == "" {
		return nil, fmt.Errorf("%w: UPLOADS_BUCKET is not set", ErrNotConfigured)
	}

	// A failed page leaves its slot empty and the remaining pages still run;
	// Wait reports the first failure.
	slots := make([]*models.PageClassification, len(pages))
	var eg errgroup.Group
	eg.SetLimit(pdfClassifyPages)
	for i, page := range pages {
		eg.Go(func() error {
			object := PageObjectName(req.PublicID, page)
			pageLog := logCtx.With("page", page)
			c, err := f.classifyRef(ctx, pageLog, gcp.GSURI(f.config.UploadsBucket, object))
			if err != nil {
				pageLog.Warn("Page classification failed, dropping page.", "error", err)
				return err
			}
			slots[i] = &models.PageClassification{
				Page:         page,
				PageImageURL: gcp.PublicURL(f.config.UploadsBucket, object),
				Type:         c.Type,
				Confidence:   c.Confidence,
			}
			return nil
		})
	}
	firstErr := eg.Wait()

	var results []models.PageClassification
	for _, s := range slots {
		if s != nil {
			results = append(results, *s)
		}
	}
	if len(results) == 0 {
		return nil, firstErr
	}
	return &models.ClassifyResponse{Results: results, Suggested: Suggest(results)}, nil
}

// classifyRef runs one cached, retried model call for an image reference.
func (f *ClassifierFunction) classifyRef(ctx context.Context, logCtx *slog.Logger, ref string) (classification, error) {
	if c, ok := f.cache.Get(ref); ok {
		classifyCacheHitsTotal.Inc()
		return c, nil
	}
	classifyCacheMissesTotal.Inc()

	part, err := f.images.Load(ctx, ref)
	if err != nil {
		if IsValidation(err) {
			return classification{}, err
		}
		return classification{}, upstream("failed to load image", err)
	}

	var out classification
	err = modelRetry.do(ctx, f.sleep, logCtx, "classify", func(ctx context.Context) error {
		resp, err := f.model.GenerateContent(ctx, part, genai.Text(gcp.ClassifierUserPrompt))
		if err != nil {
			return err
		}
		var raw classificationOutput
		text := extractJSONContent(resp)
		if text == "" {
			return fmt.Errorf("model returned an empty response")
		}
		if err := json.Unmarshal([]byte(text), &raw); err != nil {
			return fmt.Errorf("failed to parse classification: %w", err)
		}
		out = classification{Type: models.ParseDocType(raw.Type), Confidence: clamp01(raw.Confidence)}
		return nil
	})
	if err != nil {
		logCtx.Error("Classification failed.", "error", err)
		return classification{}, upstream("classification failed", err)
	}

	f.cache.Add(ref, out)
	logCtx.Info("Classified image.", "type", out.Type, "confidence", out.Confidence)
	return out, nil
}

// Suggest maps each recognised type to the page that best shows it. For
// passports the front and back are resolved together so that one page is
// never assigned to both.
func Suggest(results []models.PageClassification) map[models.DocType]int {
	suggested := map[models.DocType]int{}
	for _, t := range []models.DocType{models.DocTypeAadhaar, models.DocTypePan} {
		if r, ok := bestOfType(results, t); ok {
			suggested[t] = r.Page
		}
	}
	front, back := ResolvePassportPages(results)
	if front > 0 {
		suggested[models.DocTypePassportFront] = front
	}
	if back > 0 {
		suggested[models.DocTypePassportBack] = back
	}
	if len(suggested) == 0 {
		return nil
	}
	return suggested
}

// ResolvePassportPages picks the front and back pages of a passport PDF.
// Each side goes to the page classified as it with the highest confidence;
// a side left unassigned falls back to page 1 for the front and page 2 for
// the back, or the other of the two when that one is taken. Zero means no
// page. Nothing is assigned unless at least one
// page was recognised as a passport.
func ResolvePassportPages(results []models.PageClassification) (front, back int) {
	var anyPassport bool
	for _, r := range results {
		if r.Type == models.DocTypePassportFront || r.Type == models.DocTypePassportBack {
			anyPassport = true
			break
		}
	}
	if !anyPassport {
		return 0, 0
	}

	if r, ok := bestOfType(results, models.DocTypePassportFront); ok {
		front = r.Page
	}
	var others []models.PageClassification
	for _, r := range results {
		if r.Page != front {
			others = append(others, r)
		}
	}
	if r, ok := bestOfType(others, models.DocTypePassportBack); ok {
		back = r.Page
	}

	has := func(page int) bool {
		for _, r := range results {
			if r.Page == page {
				return true
			}
		}
		return false
	}
	fallback := func(taken int, preferred ...int) int {
		for _, p := range preferred {
			if p != taken && has(p) {
				return p
			}
		}
		return 0
	}
	if front == 0 {
		front = fallback(back, 1, 2)
	}
	if back == 0 {
		back = fallback(front, 2, 1)
	}
	return front, back
}

// BestResult returns the result of type want with the highest confidence,
// or the most confident result of any type when none matches.
func BestResult(results []models.PageClassification, want models.DocType) (models.PageClassification, bool) {
	if r, ok := bestOfType(results, want); ok {
		return r, true
	}
	var best models.PageClassification
	found := false
	for _, r := range results {
		if !found || r.Confidence > best.Confidence {
			best, found = r, true
		}
	}
	return best, found
}

func bestOfType(results []models.PageClassification, want models.DocType) (models.PageClassification, bool) {
	var best models.PageClassification
	found := false
	for _, r := range results {
		if r.Type != want {
			continue
		}
		if !found || r.Confidence > best.Confidence {
			best, found = r, true
		}
	}
	return best, found
}

func clamp01(v float64) float64 {
	return min(max(v, 0), 1)
}

// extractJSONContent gets the raw text content from the model response.
func extractJSONContent(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return ""
	}
	if txt, ok := resp.Candidates[0].Content.Parts[0].(genai.Text); ok {
		cleanJSON := strings.TrimSpace(string(txt))
		cleanJSON = strings.TrimPrefix(cleanJSON, "```json")
		cleanJSON = strings.TrimSuffix(cleanJSON, "```")
		return strings.TrimSpace(cleanJSON)
	}
	return ""
}
