// Package api exposes the intake services over HTTP. The same handlers
// back the long-running server and the per-function entry points.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/Lllllllleong/kycdocumentintake/internal/mirror"
	"github.com/Lllllllleong/kycdocumentintake/internal/models"
	"github.com/Lllllllleong/kycdocumentintake/internal/services"
)

const (
	maxJSONBytes   = 2 << 20
	maxUploadBytes = 25 << 20
	xlsxMIME       = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

type Submitter interface {
	Process(ctx context.Context, req *models.SubmitRequest) (*models.SubmitResponse, error)
	CheckDuplicates(ctx context.Context, doc *models.DocumentRecord) mirror.Duplicate
}

type Searcher interface {
	Search(ctx context.Context, q string) (*models.SearchResponse, error)
	Status(ctx context.Context) (*models.SheetStatusResponse, error)
}

type Exporter interface {
	Export(ctx context.Context) ([]byte, error)
}

type Uploader interface {
	Store(ctx context.Context, filename, contentType string, r io.Reader) (*models.UploadResponse, error)
	Delete(ctx context.Context, publicID string) error
}

type Classifier interface {
	Process(ctx context.Context, req *models.ClassifyRequest) (*models.ClassifyResponse, error)
}

type Extractor interface {
	Process(ctx context.Context, req *models.ExtractRequest) (*models.ExtractResponse, error)
}

type Payments interface {
	CreateOrder(ctx context.Context, req *models.CreateOrderRequest) (*models.CreateOrderResponse, error)
	Verify(ctx context.Context, req *models.VerifyPaymentRequest) (*models.VerifyPaymentResponse, error)
	Promo(req *models.PromoRequest) (*models.PromoResponse, error)
	ValidateBypass(password string) bool
}

// Handler serves every intake route. A nil service makes its routes
// answer 500 "Server not configured".
type Handler struct {
	Submissions Submitter
	Search      Searcher
	Export      Exporter
	Uploads     Uploader
	Classify    Classifier
	Extract     Extractor
	Payments    Payments

	// AccessPassword guards the staff-only routes.
	AccessPassword string
}

// Routes mounts the API on r.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Post("/submit", h.HandleSubmit)
		r.Get("/export", h.HandleExport)
		r.Post("/upload", h.HandleUpload)
		r.Delete("/upload", h.HandleDeleteUpload)
		r.Post("/classify", h.HandleClassify)
		r.Post("/extract", h.HandleExtract)
		r.Post("/payment/create-order", h.HandleCreateOrder)
		r.Post("/payment/verify", h.HandleVerifyPayment)
		r.Post("/promo/validate", h.HandleValidatePromo)
		r.Post("/bypass/validate", h.HandleValidateBypass)

		r.Group(func(r chi.Router) {
			r.Use(RequireAppPass(h.AccessPassword))
			r.Post("/duplicates/check", h.HandleDuplicateCheck)
			r.Get("/sheets/search", h.HandleSearch)
			r.Get("/sheets/status", h.HandleSheetStatus)
		})
	})
}

func (h *Handler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	if h.Submissions == nil {
		WriteError(w, http.StatusInternalServerError, msgNotConfigured)
		return
	}
	var req models.SubmitRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	resp, err := h.Submissions.Process(r.Context(), &req)
	if err != nil {
		if errors.Is(err, services.ErrPersistFailed) && resp != nil {
			writeJSON(w, http.StatusInternalServerError, resp)
			return
		}
		writeServiceError(w, r, err, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) HandleDuplicateCheck(w http.ResponseWriter, r *http.Request) {
	if h.Submissions == nil {
		WriteError(w, http.StatusInternalServerError, msgNotConfigured)
		return
	}
	var doc models.DocumentRecord
	if !decodeJSON(w, r, &doc) {
		return
	}

	dup := h.Submissions.CheckDuplicates(r.Context(), &doc)
	writeJSON(w, http.StatusOK, models.DuplicateCheckResponse{
		OK:             true,
		HasDuplicate:   dup.Found(),
		DuplicateField: dup.Field,
		DuplicateValue: dup.Value,
		Source:         dup.Source,
	})
}

func (h *Handler) HandleSearch(w http.ResponseWriter, r *http.Request) {
	if h.Search == nil {
		WriteError(w, http.StatusInternalServerError, msgNotConfigured)
		return
	}
	resp, err := h.Search.Search(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		writeServiceError(w, r, err, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) HandleSheetStatus(w http.ResponseWriter, r *http.Request) {
	if h.Search == nil {
		WriteError(w, http.StatusInternalServerError, msgNotConfigured)
		return
	}
	resp, err := h.Search.Status(r.Context())
	if err != nil {
		writeServiceError(w, r, err, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) HandleExport(w http.ResponseWriter, r *http.Request) {
	if h.Export == nil {
		WriteError(w, http.StatusInternalServerError, msgNotConfigured)
		return
	}
	data, err := h.Export.Export(r.Context())
	if err != nil {
		slog.Error("Export failed.", "error", err)
		WriteError(w, http.StatusInternalServerError, "Export failed")
		return
	}
	w.Header().Set("Content-Type", xlsxMIME)
	w.Header().Set("Content-Disposition", `attachment; filename="`+services.ExportFilename+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		slog.Error("Failed to write export.", "error", err)
	}
}

func (h *Handler) HandleUpload(w http.ResponseWriter, r *http.Request) {
	if h.Uploads == nil {
		WriteError(w, http.StatusInternalServerError, msgNotConfigured)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		WriteError(w, http.StatusBadRequest, "Missing file")
		return
	}
	defer file.Close()

	resp, err := h.Uploads.Store(r.Context(), header.Filename, header.Header.Get("Content-Type"), file)
	if err != nil {
		slog.Error("Upload failed.", "filename", header.Filename, "error", err)
		if services.IsValidation(err) {
			writeServiceError(w, r, err, http.StatusInternalServerError)
			return
		}
		WriteError(w, http.StatusInternalServerError, "Upload failed")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) HandleDeleteUpload(w http.ResponseWriter, r *http.Request) {
	if h.Uploads == nil {
		WriteError(w, http.StatusInternalServerError, msgNotConfigured)
		return
	}
	var req models.DeleteUploadRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.Uploads.Delete(r.Context(), req.PublicID); err != nil {
		if services.IsValidation(err) {
			writeServiceError(w, r, err, http.StatusInternalServerError)
			return
		}
		slog.Error("Delete failed.", "publicId", req.PublicID, "error", err)
		WriteError(w, http.StatusInternalServerError, "Delete failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *Handler) HandleClassify(w http.ResponseWriter, r *http.Request) {
	if h.Classify == nil {
		WriteError(w, http.StatusInternalServerError, msgNotConfigured)
		return
	}
	var req models.ClassifyRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	resp, err := h.Classify.Process(r.Context(), &req)
	if err != nil {
		writeServiceError(w, r, err, http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) HandleExtract(w http.ResponseWriter, r *http.Request) {
	if h.Extract == nil {
		WriteError(w, http.StatusInternalServerError, msgNotConfigured)
		return
	}
	var req models.ExtractRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	resp, err := h.Extract.Process(r.Context(), &req)
	if err != nil {
		writeServiceError(w, r, err, http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) HandleCreateOrder(w http.ResponseWriter, r *http.Request) {
	if h.Payments == nil {
		WriteError(w, http.StatusInternalServerError, msgNotConfigured)
		return
	}
	var req models.CreateOrderRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	resp, err := h.Payments.CreateOrder(r.Context(), &req)
	if err != nil {
		writeServiceError(w, r, err, http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) HandleVerifyPayment(w http.ResponseWriter, r *http.Request) {
	if h.Payments == nil {
		WriteError(w, http.StatusInternalServerError, msgNotConfigured)
		return
	}
	var req models.VerifyPaymentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	resp, err := h.Payments.Verify(r.Context(), &req)
	if err != nil {
		writeServiceError(w, r, err, http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) HandleValidatePromo(w http.ResponseWriter, r *http.Request) {
	if h.Payments == nil {
		WriteError(w, http.StatusInternalServerError, msgNotConfigured)
		return
	}
	var req models.PromoRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	resp, err := h.Payments.Promo(&req)
	if err != nil {
		writeServiceError(w, r, err, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleValidateBypass lets the UI check the admin password before it
// submits. The password is verified again on submit.
func (h *Handler) HandleValidateBypass(w http.ResponseWriter, r *http.Request) {
	if h.Payments == nil {
		WriteError(w, http.StatusInternalServerError, msgNotConfigured)
		return
	}
	var req models.BypassRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if !h.Payments.ValidateBypass(req.Password) {
		WriteError(w, http.StatusUnauthorized, "Invalid password")
		return
	}
	writeJSON(w, http.StatusOK, models.BypassResponse{OK: true})
}

// decodeJSON reads a JSON body into dst, answering 400 on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBytes)).Decode(dst); err != nil {
		WriteError(w, http.StatusBadRequest, msgInvalidJSON)
		return false
	}
	return true
}
