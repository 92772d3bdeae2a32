package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Lllllllleong/kycdocumentintake/internal/mirror"
	"github.com/Lllllllleong/kycdocumentintake/internal/models"
	"github.com/Lllllllleong/kycdocumentintake/internal/services"
)

type mockSubmitter struct {
	mock.Mock
}

func (m *mockSubmitter) Process(ctx context.Context, req *models.SubmitRequest) (*models.SubmitResponse, error) {
	args := m.Called(req)
	resp, _ := args.Get(0).(*models.SubmitResponse)
	return resp, args.Error(1)
}

func (m *mockSubmitter) CheckDuplicates(ctx context.Context, doc *models.DocumentRecord) mirror.Duplicate {
	return m.Called(doc).Get(0).(mirror.Duplicate)
}

type fakeSearch struct {
	resp *models.SearchResponse
	err  error
	q    string
}

func (f *fakeSearch) Search(ctx context.Context, q string) (*models.SearchResponse, error) {
	f.q = q
	if strings.TrimSpace(q) == "" {
		return nil, fmt.Errorf("%w: Missing q", services.ErrInvalidPayload)
	}
	return f.resp, f.err
}

func (f *fakeSearch) Status(ctx context.Context) (*models.SheetStatusResponse, error) {
	return &models.SheetStatusResponse{OK: true, SheetTitle: "records"}, f.err
}

type fakeExport struct {
	data []byte
	err  error
}

func (f fakeExport) Export(context.Context) ([]byte, error) { return f.data, f.err }

type fakeUploads struct {
	filename, contentType, body string
	deleted                     string
}

func (f *fakeUploads) Store(ctx context.Context, filename, contentType string, r io.Reader) (*models.UploadResponse, error) {
	b, _ := io.ReadAll(r)
	f.filename, f.contentType, f.body = filename, contentType, string(b)
	return &models.UploadResponse{URL: "https://storage.googleapis.com/b/x.jpg", PublicID: "id-ocr-docs/x.jpg"}, nil
}

func (f *fakeUploads) Delete(ctx context.Context, publicID string) error {
	if publicID == "" {
		return fmt.Errorf("%w: missing publicId", services.ErrInvalidPayload)
	}
	f.deleted = publicID
	return nil
}

type fakeClassifier struct{ err error }

func (f fakeClassifier) Process(context.Context, *models.ClassifyRequest) (*models.ClassifyResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &models.ClassifyResponse{Results: []models.PageClassification{{Type: models.DocTypePan, Confidence: 0.9}}}, nil
}

type fakePayments struct{}

func (fakePayments) CreateOrder(ctx context.Context, req *models.CreateOrderRequest) (*models.CreateOrderResponse, error) {
	if req.Amount <= 0 {
		return nil, fmt.Errorf("%w: Invalid amount", services.ErrInvalidPayload)
	}
	return &models.CreateOrderResponse{OrderID: "order_1", Amount: int64(req.Amount * 100), Currency: "INR"}, nil
}

func (fakePayments) Verify(context.Context, *models.VerifyPaymentRequest) (*models.VerifyPaymentResponse, error) {
	return nil, services.ErrSignatureMismatch
}

func (fakePayments) Promo(req *models.PromoRequest) (*models.PromoResponse, error) {
	if req.Code != "BIG123" {
		return nil, fmt.Errorf("%w: Invalid promo code", services.ErrInvalidPayload)
	}
	return &models.PromoResponse{OK: true, Valid: true, Discount: 100, Code: "BIG123"}, nil
}

func (fakePayments) ValidateBypass(password string) bool { return password == "admin" }

func newRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(Metrics(), RequestLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	h.Routes(r)
	return r
}

func do(t *testing.T, h http.Handler, method, target, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) models.ErrorResponse {
	t.Helper()
	var body models.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestHandleSubmit(t *testing.T) {
	t.Run("should return the saved id", func(t *testing.T) {
		sub := new(mockSubmitter)
		sub.On("Process", mock.Anything).Return(&models.SubmitResponse{OK: true, ID: "doc-1"}, nil)

		rec := do(t, newRouter(&Handler{Submissions: sub}), http.MethodPost, "/api/submit", `{"pan":{"panNumber":"ABCDE1234F"}}`)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"ok":true,"id":"doc-1"}`, rec.Body.String())
	})

	t.Run("should answer 400 for malformed JSON", func(t *testing.T) {
		rec := do(t, newRouter(&Handler{Submissions: new(mockSubmitter)}), http.MethodPost, "/api/submit", `{`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, models.ErrorResponse{Error: msgInvalidJSON}, decodeError(t, rec))
	})

	tests := []struct {
		name   string
		err    error
		status int
		body   models.ErrorResponse
	}{
		{"should answer 400 for an empty record", services.ErrEmptyRecord, http.StatusBadRequest, models.ErrorResponse{Error: "Empty record"}},
		{"should answer 402 when payment is missing", services.ErrPaymentRequired, http.StatusPaymentRequired, models.ErrorResponse{Error: msgPaymentRequired}},
		{
			"should answer 409 with the duplicate field",
			&services.DuplicateError{Field: mirror.FieldPassportNumber, Value: "A1234567", Source: mirror.NameStore},
			http.StatusConflict,
			models.ErrorResponse{Error: "Duplicate Passport Number", DuplicateField: mirror.FieldPassportNumber, DuplicateValue: "A1234567"},
		},
		{"should hide unexpected errors", errors.New("mongo exploded at 10.0.0.3"), http.StatusInternalServerError, models.ErrorResponse{Error: msgInternal}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub := new(mockSubmitter)
			sub.On("Process", mock.Anything).Return(nil, tt.err)

			rec := do(t, newRouter(&Handler{Submissions: sub}), http.MethodPost, "/api/submit", `{}`)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.body, decodeError(t, rec))
		})
	}

	t.Run("should answer 500 with mirror outcomes when the store fails", func(t *testing.T) {
		sub := new(mockSubmitter)
		sub.On("Process", mock.Anything).Return(&models.SubmitResponse{
			OK:      false,
			Error:   "Save failed",
			Mirrors: []models.MirrorOutcome{{Mirror: mirror.NameFile, Action: services.ActionAppend, Sequence: 3}},
		}, fmt.Errorf("%w: %w", services.ErrPersistFailed, errors.New("deadline exceeded")))

		rec := do(t, newRouter(&Handler{Submissions: sub}), http.MethodPost, "/api/submit", `{}`)
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.JSONEq(t, `{"ok":false,"error":"Save failed","mirrors":[{"mirror":"file","action":"append","sequence":3}]}`, rec.Body.String())
	})
}

func TestProtectedRoutes(t *testing.T) {
	search := &fakeSearch{resp: &models.SearchResponse{OK: true, Results: []models.SearchResult{}}}

	t.Run("should fail closed without a configured password", func(t *testing.T) {
		rec := do(t, newRouter(&Handler{Search: search}), http.MethodGet, "/api/sheets/search?q=a", "", AppPassHeader, "")
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Equal(t, msgNotConfigured, decodeError(t, rec).Error)
	})

	h := newRouter(&Handler{Search: search, Submissions: new(mockSubmitter), AccessPassword: "pw"})

	t.Run("should reject a wrong password", func(t *testing.T) {
		rec := do(t, h, http.MethodGet, "/api/sheets/search?q=a", "", AppPassHeader, "nope")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, msgUnauthorized, decodeError(t, rec).Error)
	})

	t.Run("should reject a missing header", func(t *testing.T) {
		rec := do(t, h, http.MethodPost, "/api/duplicates/check", `{}`)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("should answer an empty list with 200", func(t *testing.T) {
		rec := do(t, h, http.MethodGet, "/api/sheets/search?q=zzz", "", AppPassHeader, "pw")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"ok":true,"results":[]}`, rec.Body.String())
		assert.Equal(t, "zzz", search.q)
	})

	t.Run("should require q", func(t *testing.T) {
		rec := do(t, h, http.MethodGet, "/api/sheets/search", "", AppPassHeader, "pw")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "Missing q", decodeError(t, rec).Error)
	})

	t.Run("should serve the sheet status", func(t *testing.T) {
		rec := do(t, h, http.MethodGet, "/api/sheets/status", "", AppPassHeader, "pw")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"sheetTitle":"records"`)
	})
}

func TestHandleDuplicateCheck(t *testing.T) {
	sub := new(mockSubmitter)
	sub.On("CheckDuplicates", mock.Anything).Return(mirror.Duplicate{Field: mirror.FieldPanNumber, Value: "ABCDE1234F", Source: mirror.NameSheet})

	rec := do(t, newRouter(&Handler{Submissions: sub, AccessPassword: "pw"}), http.MethodPost, "/api/duplicates/check",
		`{"pan":{"panNumber":"ABCDE1234F"}}`, AppPassHeader, "pw")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":true,"hasDuplicate":true,"duplicateField":"PAN Number","duplicateValue":"ABCDE1234F","source":"sheet"}`, rec.Body.String())
}

func TestHandleExport(t *testing.T) {
	t.Run("should send the workbook as an attachment", func(t *testing.T) {
		rec := do(t, newRouter(&Handler{Export: fakeExport{data: []byte("PK..")}}), http.MethodGet, "/api/export", "")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, xlsxMIME, rec.Header().Get("Content-Type"))
		assert.Equal(t, `attachment; filename="document-records.xlsx"`, rec.Header().Get("Content-Disposition"))
		assert.Equal(t, "PK..", rec.Body.String())
	})

	t.Run("should answer 500 when every source fails", func(t *testing.T) {
		rec := do(t, newRouter(&Handler{Export: fakeExport{err: errors.New("both down")}}), http.MethodGet, "/api/export", "")
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Equal(t, "Export failed", decodeError(t, rec).Error)
	})
}

func TestHandleUpload(t *testing.T) {
	t.Run("should store the multipart file", func(t *testing.T) {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		part, err := mw.CreateFormFile("file", "scan.jpg")
		require.NoError(t, err)
		_, _ = part.Write([]byte("jpeg-bytes"))
		require.NoError(t, mw.Close())

		uploads := &fakeUploads{}
		req := httptest.NewRequest(http.MethodPost, "/api/upload", &buf)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		rec := httptest.NewRecorder()
		newRouter(&Handler{Uploads: uploads}).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "scan.jpg", uploads.filename)
		assert.Equal(t, "jpeg-bytes", uploads.body)
		assert.Contains(t, rec.Body.String(), `"publicId":"id-ocr-docs/x.jpg"`)
	})

	t.Run("should answer 400 without a file", func(t *testing.T) {
		rec := do(t, newRouter(&Handler{Uploads: &fakeUploads{}}), http.MethodPost, "/api/upload", "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "Missing file", decodeError(t, rec).Error)
	})

	t.Run("should delete by public id", func(t *testing.T) {
		uploads := &fakeUploads{}
		rec := do(t, newRouter(&Handler{Uploads: uploads}), http.MethodDelete, "/api/upload", `{"publicId":"id-ocr-docs/x.jpg"}`)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "id-ocr-docs/x.jpg", uploads.deleted)

		rec = do(t, newRouter(&Handler{Uploads: uploads}), http.MethodDelete, "/api/upload", `{}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "missing publicId", decodeError(t, rec).Error)
	})
}

func TestHandleClassify(t *testing.T) {
	t.Run("should answer 502 when the model fails", func(t *testing.T) {
		err := fmt.Errorf("%w: classify: %w", services.ErrUpstream, errors.New("quota"))
		rec := do(t, newRouter(&Handler{Classify: fakeClassifier{err: err}}), http.MethodPost, "/api/classify", `{"imageUrl":"gs://b/o.jpg"}`)
		assert.Equal(t, http.StatusBadGateway, rec.Code)
		assert.Equal(t, msgUpstream, decodeError(t, rec).Error)
	})

	t.Run("should answer 500 when not configured", func(t *testing.T) {
		rec := do(t, newRouter(&Handler{}), http.MethodPost, "/api/classify", `{}`)
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Equal(t, msgNotConfigured, decodeError(t, rec).Error)
	})

	t.Run("should return results", func(t *testing.T) {
		rec := do(t, newRouter(&Handler{Classify: fakeClassifier{}}), http.MethodPost, "/api/classify", `{"imageUrl":"gs://b/o.jpg"}`)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"type":"pan"`)
	})
}

func TestPaymentRoutes(t *testing.T) {
	h := newRouter(&Handler{Payments: fakePayments{}})

	t.Run("should create an order", func(t *testing.T) {
		rec := do(t, h, http.MethodPost, "/api/payment/create-order", `{"amount":499}`)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"orderId":"order_1","amount":49900,"currency":"INR"}`, rec.Body.String())
	})

	t.Run("should reject an invalid amount", func(t *testing.T) {
		rec := do(t, h, http.MethodPost, "/api/payment/create-order", `{"amount":0}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "Invalid amount", decodeError(t, rec).Error)
	})

	t.Run("should answer 400 on a bad signature", func(t *testing.T) {
		rec := do(t, h, http.MethodPost, "/api/payment/verify", `{"razorpay_order_id":"o","razorpay_payment_id":"p","razorpay_signature":"s"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, msgVerifyFailed, decodeError(t, rec).Error)
	})

	t.Run("should validate promo codes", func(t *testing.T) {
		rec := do(t, h, http.MethodPost, "/api/promo/validate", `{"code":"BIG123"}`)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"ok":true,"valid":true,"discount":100,"code":"BIG123"}`, rec.Body.String())

		rec = do(t, h, http.MethodPost, "/api/promo/validate", `{"code":"NOPE"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "Invalid promo code", decodeError(t, rec).Error)
	})

	t.Run("should validate the bypass password", func(t *testing.T) {
		rec := do(t, h, http.MethodPost, "/api/bypass/validate", `{"password":"admin"}`)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"ok":true}`, rec.Body.String())

		rec = do(t, h, http.MethodPost, "/api/bypass/validate", `{"password":"guess"}`)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}
