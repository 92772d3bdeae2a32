package models

// These structs define the JSON payloads exchanged between the intake
// UI and the HTTP functions.

// SubmitRequest is a document record plus an optional sequence. A non-zero
// sequence marks an edit of a row previously loaded from a mirror.
type SubmitRequest struct {
	DocumentRecord
	Sequence int `json:"sequence,omitempty"`
}

// MirrorOutcome reports what happened to one best-effort mirror write.
type MirrorOutcome struct {
	Mirror   string `json:"mirror"`
	Action   string `json:"action"`
	Sequence int    `json:"sequence,omitempty"`
	Error    string `json:"error,omitempty"`
}

// SubmitResponse is the output of the submit function.
type SubmitResponse struct {
	OK             bool            `json:"ok"`
	ID             string          `json:"id,omitempty"`
	Error          string          `json:"error,omitempty"`
	DuplicateField string          `json:"duplicateField,omitempty"`
	DuplicateValue string          `json:"duplicateValue,omitempty"`
	Mirrors        []MirrorOutcome `json:"mirrors,omitempty"`
}

// DuplicateCheckResponse is the output of the duplicate-check function.
type DuplicateCheckResponse struct {
	OK             bool   `json:"ok"`
	HasDuplicate   bool   `json:"hasDuplicate"`
	DuplicateField string `json:"duplicateField,omitempty"`
	DuplicateValue string `json:"duplicateValue,omitempty"`
	Source         string `json:"source,omitempty"`
}

// SearchResult is one matched mirror row, mapped back to a record.
type SearchResult struct {
	Sequence int             `json:"sequence"`
	RowIndex int             `json:"rowIndex"`
	Values   []string        `json:"values"`
	Document *DocumentRecord `json:"document"`
}

type SearchResponse struct {
	OK      bool           `json:"ok"`
	Results []SearchResult `json:"results"`
}

// SheetStatusResponse mirrors the remote sheet diagnostics.
type SheetStatusResponse struct {
	OK            bool     `json:"ok"`
	SpreadsheetID string   `json:"spreadsheetId"`
	SheetTitle    string   `json:"sheetTitle"`
	HasSheet      bool     `json:"hasSheet"`
	HeaderOK      bool     `json:"headerOk"`
	NextSequence  int      `json:"nextSeq"`
	Titles        []string `json:"titles"`
}

// ClassifyRequest selects the image (or PDF pages) to classify.
type ClassifyRequest struct {
	ImageURL string `json:"imageUrl,omitempty"`
	PublicID string `json:"publicId,omitempty"`
	IsPDF    bool   `json:"isPdf,omitempty"`
	Page     int    `json:"page,omitempty"`
}

// PageClassification is the classification of one image or PDF page.
type PageClassification struct {
	Page         int     `json:"page,omitempty"`
	PageImageURL string  `json:"pageImageUrl,omitempty"`
	Type         DocType `json:"type"`
	Confidence   float64 `json:"confidence"`
}

// ClassifyResponse carries per-page results and the suggested assignment.
type ClassifyResponse struct {
	Results   []PageClassification `json:"results"`
	Suggested map[DocType]int      `json:"suggested,omitempty"`
}

type ExtractRequest struct {
	Type     DocType `json:"type"`
	ImageURL string  `json:"imageUrl"`
}

type ExtractResponse struct {
	Data map[string]string `json:"data"`
}

// UploadResponse describes a stored upload. PublicID is the object name
// used for later page lookups and deletion.
type UploadResponse struct {
	URL        string `json:"url"`
	PublicID   string `json:"publicId"`
	PreviewURL string `json:"previewUrl"`
	IsPDF      bool   `json:"isPdf"`
	PageCount  int    `json:"pageCount,omitempty"`
}

type DeleteUploadRequest struct {
	PublicID string `json:"publicId"`
}

type CreateOrderRequest struct {
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency,omitempty"`
	Receipt  string  `json:"receipt,omitempty"`
}

type CreateOrderResponse struct {
	OrderID  string `json:"orderId"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

type VerifyPaymentRequest struct {
	OrderID   string `json:"razorpay_order_id"`
	PaymentID string `json:"razorpay_payment_id"`
	Signature string `json:"razorpay_signature"`
}

type VerifyPaymentResponse struct {
	Success              bool    `json:"success"`
	PaymentID            string  `json:"paymentId"`
	OrderID              string  `json:"orderId"`
	Amount               float64 `json:"amount"`
	Status               string  `json:"status"`
	Method               string  `json:"method"`
	TransactionReference string  `json:"transactionReference"`
}

type PromoRequest struct {
	Code string `json:"code"`
}

type PromoResponse struct {
	OK       bool   `json:"ok"`
	Valid    bool   `json:"valid"`
	Discount int    `json:"discount"`
	Code     string `json:"code"`
	Error    string `json:"error,omitempty"`
}

type BypassRequest struct {
	Password string `json:"password"`
}

type BypassResponse struct {
	OK bool `json:"ok"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	OK             bool   `json:"ok"`
	Error          string `json:"error"`
	DuplicateField string `json:"duplicateField,omitempty"`
	DuplicateValue string `json:"duplicateValue,omitempty"`
}
