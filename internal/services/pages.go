package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/storage"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"golang.org/x/sync/errgroup"

	"github.com/Lllllllleong/kycdocumentintake/internal/gcp"
	"github.com/Lllllllleong/kycdocumentintake/internal/models"
)

const (
	pdfContentType  = "application/pdf"
	pagesDir        = "pages"
	pageUploadLimit = 10
)

// PageObjectName is the object holding one page of an uploaded PDF.
func PageObjectName(publicID string, page int) string {
	return fmt.Sprintf("%s/%s/%05d.pdf", publicID, pagesDir, page)
}

// isPageObject reports objects written by the page splitter itself.
func isPageObject(name string) bool {
	return strings.Contains(name, "/"+pagesDir+"/")
}

// GCSEvent is the payload of a storage object finalize event.
type GCSEvent struct {
	Bucket      string `json:"bucket"`
	Name        string `json:"name"`
	ContentType string `json:"contentType"`
}

// pageSplitter optimises a PDF, splits it into single pages and uploads
// each page next to the original.
type pageSplitter struct {
	storage *storage.Client
	bucket  string
	sleep   sleepFunc
}

func (s *pageSplitter) splitAndUpload(ctx context.Context, logCtx *slog.Logger, sourcePath, publicID string) (int, error) {
	optimizedPath := filepath.Join(filepath.Dir(sourcePath), "optimized.pdf")
	if err := optimizePDF(sourcePath, optimizedPath); err != nil {
		return 0, fmt.Errorf("failed to validate/optimize PDF: %w", err)
	}
	pageCount, err := api.PageCountFile(optimizedPath)
	if err != nil {
		return 0, fmt.Errorf("failed to get page count: %w", err)
	}
	if err := api.SplitFile(optimizedPath, filepath.Dir(optimizedPath), 1, nil); err != nil {
		return 0, fmt.Errorf("failed to split PDF: %w", err)
	}
	logCtx.Info("PDF optimized and split locally.", "pageCount", pageCount)

	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(pageUploadLimit)
	splitFileBase := strings.TrimSuffix(optimizedPath, filepath.Ext(optimizedPath))
	for i := 1; i <= pageCount; i++ {
		pageNumber := i
		localPath := fmt.Sprintf("%s_%d.pdf", splitFileBase, pageNumber)
		dest := PageObjectName(publicID, pageNumber)
		eg.Go(func() error {
			if err := s.uploadFile(gctx, logCtx, localPath, dest); err != nil {
				return fmt.Errorf("page %d: %w", pageNumber, err)
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return 0, fmt.Errorf("one or more pages failed to upload: %w", err)
	}
	logCtx.Info("All pages uploaded successfully.", "pageCount", pageCount)
	return pageCount, nil
}

func (s *pageSplitter) uploadFile(ctx context.Context, logCtx *slog.Logger, localPath, destObject string) error {
	return uploadRetry.do(ctx, s.sleep, logCtx.With("gcsObject", destObject), "page upload", func(ctx context.Context) error {
		localFile, err := os.Open(localPath)
		if err != nil {
			return fmt.Errorf("could not open local file %s: %w", localPath, err)
		}
		defer localFile.Close()

		writeCtx, cancel := context.WithTimeout(ctx, 50*time.Second)
		defer cancel()

		w := s.storage.Bucket(s.bucket).Object(destObject).NewWriter(writeCtx)
		w.ContentType = pdfContentType
		if _, err := io.Copy(w, localFile); err != nil {
			_ = w.Close()
			return fmt.Errorf("io.Copy to GCS failed: %w", err)
		}
		if err := w.Close(); err != nil {
			return fmt.Errorf("failed to close GCS writer (finalize upload): %w", err)
		}
		return nil
	})
}

func optimizePDF(inPath, outPath string) error {
	cfg := model.NewDefaultConfiguration()
	cfg.ValidationMode = model.ValidationRelaxed
	return api.OptimizeFile(inPath, outPath, cfg)
}

// uploadRegistry records uploads in Firestore so the same file is stored
// and split only once.
type uploadRegistry struct {
	client     *firestore.Client
	collection string
}

func (r *uploadRegistry) findByHash(ctx context.Context, fileHash string) (*models.UploadRecord, error) {
	docs, err := r.client.Collection(r.collection).Where("fileHash", "==", fileHash).Limit(1).Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("failed to query for duplicates: %w", err)
	}
	if len(docs) == 0 {
		return nil, nil
	}
	var rec models.UploadRecord
	if err := docs[0].DataTo(&rec); err != nil {
		return nil, fmt.Errorf("failed to decode upload %s: %w", docs[0].Ref.ID, err)
	}
	return &rec, nil
}

func (r *uploadRegistry) create(ctx context.Context, rec models.UploadRecord) (*firestore.DocumentRef, error) {
	ref, _, err := r.client.Collection(r.collection).Add(ctx, rec)
	if err != nil {
		return nil, fmt.Errorf("failed to create upload document: %w", err)
	}
	return ref, nil
}

func (r *uploadRegistry) deleteByObject(ctx context.Context, objectName string) error {
	docs, err := r.client.Collection(r.collection).Where("objectName", "==", objectName).Documents(ctx).GetAll()
	if err != nil {
		return fmt.Errorf("failed to query uploads: %w", err)
	}
	for _, d := range docs {
		if _, err := d.Ref.Delete(ctx); err != nil {
			return fmt.Errorf("failed to delete upload %s: %w", d.Ref.ID, err)
		}
	}
	return nil
}

func updateStatus(ctx context.Context, docRef *firestore.DocumentRef, status, errDetails string, pageCount int) error {
	updates := []firestore.Update{
		{Path: "status", Value: status},
	}
	if errDetails != "" {
		updates = append(updates, firestore.Update{Path: "errorDetails", Value: errDetails})
	}
	if pageCount > 0 {
		updates = append(updates, firestore.Update{Path: "pageCount", Value: pageCount})
	}
	_, err := docRef.Update(ctx, updates)
	return err
}

// handleError logs a failure, marks the upload FAILED and returns the
// wrapped error.
func handleError(ctx context.Context, logCtx *slog.Logger, docRef *firestore.DocumentRef, message string, originalErr error) error {
	logCtx.Error(message, "error", originalErr)
	if docRef != nil {
		if err := updateStatus(ctx, docRef, models.UploadStatusFailed, fmt.Sprintf("%s: %v", message, originalErr), 0); err != nil {
			logCtx.Error("CRITICAL: Failed to update Firestore status to FAILED after a processing error.", "updateError", err)
		}
	}
	return fmt.Errorf("%s: %w", message, originalErr)
}

// PageSplitterConfig holds configuration for the page-splitter event function.
type PageSplitterConfig struct {
	ProjectID         string
	UploadsBucket     string
	UploadsCollection string
}

// PageSplitterFunction splits PDFs written straight to the uploads bucket,
// bypassing the upload endpoint.
type PageSplitterFunction struct {
	storageClient *storage.Client
	registry      *uploadRegistry
	splitter      *pageSplitter
	config        PageSplitterConfig
}

func NewPageSplitter(ctx context.Context) (*PageSplitterFunction, error) {
	projectID := gcp.GetEnv("PROJECT_ID", "")
	if projectID == "" {
		return nil, fmt.Errorf("PROJECT_ID environment variable must be set")
	}
	config := PageSplitterConfig{
		ProjectID:         projectID,
		UploadsBucket:     gcp.GetEnv("UPLOADS_BUCKET", ""),
		UploadsCollection: gcp.GetEnv("UPLOADS_COLLECTION", "uploads"),
	}
	if config.UploadsBucket == "" {
		return nil, fmt.Errorf("UPLOADS_BUCKET environment variable must be set")
	}

	firestoreClient, err := gcp.NewFirestoreClient(ctx, config.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create firestore client: %w", err)
	}
	storageClient, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create Storage client: %w", err)
	}

	slog.Info("Page splitter initialized.", "bucket", config.UploadsBucket)
	return &PageSplitterFunction{
		storageClient: storageClient,
		registry:      &uploadRegistry{client: firestoreClient, collection: config.UploadsCollection},
		splitter:      &pageSplitter{storage: storageClient, bucket: config.UploadsBucket, sleep: sleepCtx},
		config:        config,
	}, nil
}

// Process splits one finalized PDF object. Page objects, non-PDFs, other
// buckets and files already registered are skipped.
func (f *PageSplitterFunction) Process(ctx context.Context, e GCSEvent) error {
	logCtx := slog.With("gcsBucket", e.Bucket, "gcsObject", e.Name)
	if skip, reason := shouldSkipEvent(e, f.config.UploadsBucket); skip {
		logCtx.Info("Skipping object.", "reason", reason)
		return nil
	}
	logCtx.Info("Processing new GCS object.")

	tempDir, err := os.MkdirTemp("", "page-splitter-*")
	if err != nil {
		return fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tempDir)

	sourcePath := filepath.Join(tempDir, "source.pdf")
	fileHash, err := f.download(ctx, e.Bucket, e.Name, sourcePath)
	if err != nil {
		logCtx.Error("Failed to download source PDF", "error", err)
		return err
	}
	logCtx = logCtx.With("fileHash", fileHash)

	existing, err := f.registry.findByHash(ctx, fileHash)
	if err != nil {
		logCtx.Error("Failed to check for duplicate", "error", err)
		return err
	}
	if existing != nil {
		logCtx.Info("Duplicate file detected. Skipping.", "existingObject", existing.ObjectName)
		return nil
	}

	docRef, err := f.registry.create(ctx, models.UploadRecord{
		FileHash:         fileHash,
		OriginalFilename: filepath.Base(e.Name),
		ObjectName:       e.Name,
		ContentType:      pdfContentType,
		Status:           models.UploadStatusSplitting,
		CreatedAt:        time.Now().UTC(),
	})
	if err != nil {
		logCtx.Error("Failed to create upload document", "error", err)
		return err
	}
	logCtx = logCtx.With("uploadId", docRef.ID)

	pageCount, err := f.splitter.splitAndUpload(ctx, logCtx, sourcePath, e.Name)
	if err != nil {
		return handleError(ctx, logCtx, docRef, "failed to split PDF", err)
	}
	if err := updateStatus(ctx, docRef, models.UploadStatusReady, "", pageCount); err != nil {
		return handleError(ctx, logCtx, docRef, "failed to update status to READY", err)
	}
	logCtx.Info("Page split complete.", "pageCount", pageCount)
	return nil
}

// download streams an object to destPath and returns its SHA-256.
func (f *PageSplitterFunction) download(ctx context.Context, bucket, object, destPath string) (string, error) {
	r, err := f.storageClient.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return "", fmt.Errorf("object gs://%s/%s no longer exists: %w", bucket, object, err)
		}
		return "", fmt.Errorf("failed to get GCS object reader for gs://%s/%s: %w", bucket, object, err)
	}
	defer r.Close()
	return copyAndHash(r, destPath)
}

func shouldSkipEvent(e GCSEvent, bucket string) (bool, string) {
	switch {
	case e.Bucket != bucket:
		return true, "foreign bucket"
	case isPageObject(e.Name):
		return true, "page object"
	case !isPDF(e.Name, e.ContentType):
		return true, "not a PDF"
	}
	return false, ""
}

func isPDF(name, contentType string) bool {
	return strings.EqualFold(filepath.Ext(name), ".pdf") || strings.HasPrefix(contentType, pdfContentType)
}

// copyAndHash writes r to destPath and returns the hex SHA-256 of the
// bytes written.
func copyAndHash(r io.Reader, destPath string) (string, error) {
	localFile, err := os.Create(destPath)
	if err != nil {
		return "", fmt.Errorf("failed to create temp file at %s: %w", destPath, err)
	}
	defer localFile.Close()

	hash := sha256.New()
	if _, err := io.Copy(io.MultiWriter(localFile, hash), r); err != nil {
		return "", fmt.Errorf("failed to copy to local file: %w", err)
	}
	if err := localFile.Sync(); err != nil {
		return "", fmt.Errorf("failed to flush local file: %w", err)
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}
