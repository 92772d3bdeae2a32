package services

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path"
	"strings"

	"cloud.google.com/go/storage"
	"cloud.google.com/go/vertexai/genai"

	"github.com/Lllllllleong/kycdocumentintake/internal/gcp"
)

// maxImageBytes bounds images fetched over HTTPS before they are inlined
// into a model request.
const maxImageBytes = 20 << 20

// ContentGenerator is the part of *genai.GenerativeModel the classifier and
// extractor call.
type ContentGenerator interface {
	GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

// ImageLoader turns an image reference into a model input part.
type ImageLoader interface {
	Load(ctx context.Context, ref string) (genai.Part, error)
}

// ObjectImageLoader accepts gs:// object URIs, https URLs and data: URLs.
// Objects and URLs are warmed up first: freshly uploaded pages may take a
// moment to become readable. A warm-up that never succeeds is logged and
// the model call goes ahead anyway.
type ObjectImageLoader struct {
	storage *storage.Client
	http    *http.Client
	sleep   sleepFunc
}

func NewObjectImageLoader(storageClient *storage.Client, httpClient *http.Client) *ObjectImageLoader {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &ObjectImageLoader{storage: storageClient, http: httpClient, sleep: sleepCtx}
}

func (l *ObjectImageLoader) Load(ctx context.Context, ref string) (genai.Part, error) {
	switch {
	case strings.HasPrefix(ref, "data:"):
		return parseDataURL(ref)
	case strings.HasPrefix(ref, "gs://"):
		return l.loadObject(ctx, ref)
	case strings.HasPrefix(ref, "https://"), strings.HasPrefix(ref, "http://"):
		return l.loadURL(ctx, ref)
	}
	return nil, invalid("unsupported image reference")
}

func (l *ObjectImageLoader) loadObject(ctx context.Context, uri string) (genai.Part, error) {
	bucket, object, ok := gcp.ParseGSURI(uri)
	if !ok {
		return nil, invalid("malformed object URI %q", uri)
	}
	logCtx := slog.With("gcsBucket", bucket, "gcsObject", object)

	contentType := mimeFromName(object)
	if l.storage != nil {
		err := warmupRetry.do(ctx, l.sleep, logCtx, "object warm-up", func(ctx context.Context) error {
			attrs, err := l.storage.Bucket(bucket).Object(object).Attrs(ctx)
			if err != nil {
				return err
			}
			if attrs.ContentType != "" {
				contentType = attrs.ContentType
			}
			return nil
		})
		if err != nil {
			logCtx.Warn("Object not ready after warm-up, continuing.", "error", err)
		}
	}
	return genai.FileData{MIMEType: contentType, FileURI: uri}, nil
}

func (l *ObjectImageLoader) loadURL(ctx context.Context, url string) (genai.Part, error) {
	logCtx := slog.With("url", url)
	err := warmupRetry.do(ctx, l.sleep, logCtx, "url warm-up", func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
		if err != nil {
			return err
		}
		resp, err := l.http.Do(req)
		if err != nil {
			return err
		}
		resp.Body.Close()
		if resp.StatusCode >= 300 {
			return fmt.Errorf("HEAD returned %d", resp.StatusCode)
		}
		return nil
	})
	if err != nil {
		logCtx.Warn("URL not ready after warm-up, continuing.", "error", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, invalid("malformed image URL")
	}
	resp, err := l.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch image: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("failed to fetch image: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	if len(data) > maxImageBytes {
		return nil, invalid("image larger than %d bytes", maxImageBytes)
	}

	contentType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(data)
	}
	return genai.Blob{MIMEType: contentType, Data: data}, nil
}

// parseDataURL decodes a base64 data: URL.
func parseDataURL(ref string) (genai.Part, error) {
	meta, payload, ok := strings.Cut(strings.TrimPrefix(ref, "data:"), ",")
	if !ok || !strings.HasSuffix(meta, ";base64") {
		return nil, invalid("data URL must be base64 encoded")
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, invalid("data URL is not valid base64")
	}
	contentType := strings.TrimSuffix(meta, ";base64")
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	return genai.Blob{MIMEType: contentType, Data: data}, nil
}

func mimeFromName(name string) string {
	if t := mime.TypeByExtension(path.Ext(name)); t != "" {
		t, _, _ = mime.ParseMediaType(t)
		return t
	}
	return "application/octet-stream"
}
