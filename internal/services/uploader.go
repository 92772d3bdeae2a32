package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/google/uuid"

	"github.com/Lllllllleong/kycdocumentintake/internal/gcp"
	"github.com/Lllllllleong/kycdocumentintake/internal/models"
)

// UploaderConfig holds configuration for the upload service.
type UploaderConfig struct {
	ProjectID         string
	UploadsBucket     string
	UploadsCollection string
	Folder            string
}

// UploaderFunction stores uploaded document images and PDFs. PDFs are
// split into per-page objects so each page can be previewed and
// classified on its own.
type UploaderFunction struct {
	storageClient *storage.Client
	registry      *uploadRegistry
	splitter      *pageSplitter
	config        UploaderConfig
}

func NewUploader(ctx context.Context) (*UploaderFunction, error) {
	projectID := gcp.GetEnv("PROJECT_ID", "")
	if projectID == "" {
		return nil, fmt.Errorf("PROJECT_ID environment variable must be set")
	}
	config := UploaderConfig{
		ProjectID:         projectID,
		UploadsBucket:     gcp.GetEnv("UPLOADS_BUCKET", ""),
		UploadsCollection: gcp.GetEnv("UPLOADS_COLLECTION", "uploads"),
		Folder:            gcp.GetEnv("UPLOADS_FOLDER", "id-ocr-docs"),
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

	return &UploaderFunction{
		storageClient: storageClient,
		registry:      &uploadRegistry{client: firestoreClient, collection: config.UploadsCollection},
		splitter:      &pageSplitter{storage: storageClient, bucket: config.UploadsBucket, sleep: sleepCtx},
		config:        config,
	}, nil
}

// Store saves one upload. A file already stored (same SHA-256) returns the
// existing object instead of a new copy.
func (f *UploaderFunction) Store(ctx context.Context, filename, contentType string, r io.Reader) (*models.UploadResponse, error) {
	logCtx := slog.With("filename", filename)

	tempDir, err := os.MkdirTemp("", "upload-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tempDir)

	sourcePath := filepath.Join(tempDir, "source")
	fileHash, err := copyAndHash(r, sourcePath)
	if err != nil {
		return nil, err
	}
	logCtx = logCtx.With("fileHash", fileHash)

	existing, err := f.registry.findByHash(ctx, fileHash)
	if err != nil {
		return nil, upstream("failed to check for duplicate upload", err)
	}
	if existing != nil && existing.Status != models.UploadStatusFailed {
		logCtx.Info("Duplicate upload detected, returning stored object.", "objectName", existing.ObjectName)
		return f.response(existing.ObjectName, existing.ContentType, existing.PageCount), nil
	}

	contentType = detectContentType(filename, contentType)
	objectName := NewObjectName(f.config.Folder, filename, contentType)
	logCtx = logCtx.With("gcsObject", objectName)

	// Registered before the object exists so the finalize event sees it
	// and leaves the split to this request.
	status := models.UploadStatusStored
	if contentType == pdfContentType {
		status = models.UploadStatusSplitting
	}
	docRef, err := f.registry.create(ctx, models.UploadRecord{
		FileHash:         fileHash,
		OriginalFilename: filename,
		ObjectName:       objectName,
		ContentType:      contentType,
		Status:           status,
		CreatedAt:        time.Now().UTC(),
	})
	if err != nil {
		return nil, upstream("failed to register upload", err)
	}

	src, err := os.Open(sourcePath)
	if err != nil {
		return nil, handleError(ctx, logCtx, docRef, "failed to reopen upload", err)
	}
	defer src.Close()
	if _, err := gcp.WriteObjectIfAbsent(ctx, f.storageClient.Bucket(f.config.UploadsBucket), objectName, contentType, src); err != nil {
		return nil, upstream("failed to store upload", handleError(ctx, logCtx, docRef, "failed to write object", err))
	}

	if contentType != pdfContentType {
		logCtx.Info("Upload stored.")
		return f.response(objectName, contentType, 0), nil
	}

	pageCount, err := f.splitter.splitAndUpload(ctx, logCtx, sourcePath, objectName)
	if err != nil {
		return nil, upstream("failed to split PDF", handleError(ctx, logCtx, docRef, "failed to split PDF", err))
	}
	if err := updateStatus(ctx, docRef, models.UploadStatusReady, "", pageCount); err != nil {
		logCtx.Warn("Failed to mark upload READY.", "error", err)
	}
	logCtx.Info("PDF upload stored and split.", "pageCount", pageCount)
	return f.response(objectName, contentType, pageCount), nil
}

// Delete removes an upload, its page objects and its registry entry.
func (f *UploaderFunction) Delete(ctx context.Context, publicID string) error {
	if err := ValidatePublicID(publicID); err != nil {
		return err
	}
	logCtx := slog.With("publicId", publicID)
	bucket := f.storageClient.Bucket(f.config.UploadsBucket)

	if err := bucket.Object(publicID).Delete(ctx); err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return upstream("failed to delete upload", err)
	}
	n, err := gcp.DeletePrefix(ctx, bucket, publicID+"/"+pagesDir+"/")
	if err != nil {
		return upstream("failed to delete pages", err)
	}
	if err := f.registry.deleteByObject(ctx, publicID); err != nil {
		logCtx.Warn("Failed to remove upload from registry.", "error", err)
	}
	logCtx.Info("Upload deleted.", "pagesDeleted", n)
	return nil
}

func (f *UploaderFunction) response(objectName, contentType string, pageCount int) *models.UploadResponse {
	url := gcp.PublicURL(f.config.UploadsBucket, objectName)
	resp := &models.UploadResponse{
		URL:        url,
		PublicID:   objectName,
		PreviewURL: url,
		IsPDF:      contentType == pdfContentType,
		PageCount:  pageCount,
	}
	if resp.IsPDF && pageCount > 0 {
		resp.PreviewURL = gcp.PublicURL(f.config.UploadsBucket, PageObjectName(objectName, 1))
	}
	return resp
}

var (
	publicIDPattern  = regexp.MustCompile(`^[A-Za-z0-9._-]+(/[A-Za-z0-9._-]+)*$`)
	extensionPattern = regexp.MustCompile(`^\.[a-z0-9]{1,5}$`)
)

var preferredExtensions = map[string]string{
	"image/jpeg":   ".jpg",
	"image/png":    ".png",
	"image/webp":   ".webp",
	"image/heic":   ".heic",
	pdfContentType: ".pdf",
}

// ValidatePublicID rejects object names that are empty, absolute or try to
// climb out of their folder.
func ValidatePublicID(publicID string) error {
	if publicID == "" {
		return invalid("missing publicId")
	}
	if !publicIDPattern.MatchString(publicID) || strings.Contains(publicID, "..") {
		return invalid("malformed publicId")
	}
	return nil
}

// NewObjectName returns a fresh object name under folder keeping a
// sanitised extension of the original file name.
func NewObjectName(folder, filename, contentType string) string {
	ext := strings.ToLower(path.Ext(filename))
	if !extensionPattern.MatchString(ext) {
		ext = preferredExtensions[contentType]
		if ext == "" {
			if exts, _ := mime.ExtensionsByType(contentType); len(exts) > 0 {
				ext = exts[0]
			}
		}
	}
	name := uuid.NewString() + ext
	if folder = strings.Trim(folder, "/"); folder != "" {
		return folder + "/" + name
	}
	return name
}

func detectContentType(filename, declared string) string {
	if t, _, err := mime.ParseMediaType(declared); err == nil && t != "" && t != "application/octet-stream" {
		return t
	}
	return mimeFromName(filename)
}
