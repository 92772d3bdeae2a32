package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Lllllllleong/kycdocumentintake/internal/mirror"
	"github.com/Lllllllleong/kycdocumentintake/internal/models"
	"github.com/Lllllllleong/kycdocumentintake/internal/store"
)

// DocumentStore is the system of record.
type DocumentStore interface {
	Create(ctx context.Context, doc *models.DocumentRecord) (*models.DocumentRecord, error)
	FindDuplicate(ctx context.Context, doc *models.DocumentRecord) (mirror.Duplicate, error)
}

// Mirror is a spreadsheet copy of the records table.
type Mirror interface {
	Name() string
	Append(ctx context.Context, doc *models.DocumentRecord) (int, error)
	Update(ctx context.Context, sequence int, doc *models.DocumentRecord) error
	CheckDuplicate(ctx context.Context, doc *models.DocumentRecord) (mirror.Duplicate, error)
}

// PaymentPolicy decides whether a submission may skip payment.
type PaymentPolicy interface {
	ValidateBypass(password string) bool
	ValidatePromo(code string) (discount int, ok bool)
}

// Mirror actions reported in MirrorOutcome.
const (
	ActionAppend = "append"
	ActionUpdate = "update"
)

var (
	submissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kyc_submissions_total",
			Help: "Submissions by outcome.",
		},
		[]string{"outcome"},
	)
	mirrorFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kyc_mirror_write_failures_total",
			Help: "Failed mirror writes by mirror.",
		},
		[]string{"mirror"},
	)
	duplicateHitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kyc_duplicate_hits_total",
			Help: "Duplicate identity numbers found, by source.",
		},
		[]string{"source"},
	)
)

// SubmissionFunction accepts document records. The store is the system of
// record; the mirrors are written after it on a best-effort basis and are
// not transactionally tied to it or to each other.
type SubmissionFunction struct {
	store    DocumentStore
	mirrors  []Mirror
	payments PaymentPolicy
}

// NewSubmission wires the orchestrator. Nil mirrors are skipped, so an
// unconfigured spreadsheet simply drops out of the flow.
func NewSubmission(ds DocumentStore, payments PaymentPolicy, mirrors ...Mirror) *SubmissionFunction {
	f := &SubmissionFunction{store: ds, payments: payments}
	if s, ok := ds.(*store.FirestoreStore); ok && s == nil {
		f.store = nil
	}
	for _, m := range mirrors {
		if m != nil && !isNilMirror(m) {
			f.mirrors = append(f.mirrors, m)
		}
	}
	return f
}

// Process validates, checks duplicates, persists and mirrors one record.
// A non-zero req.Sequence updates that mirror row instead of appending and
// skips the duplicate check, since the record being edited would always
// collide with itself.
func (f *SubmissionFunction) Process(ctx context.Context, req *models.SubmitRequest) (*models.SubmitResponse, error) {
	if req == nil {
		submissionsTotal.WithLabelValues("invalid").Inc()
		return nil, invalid("missing body")
	}
	logCtx := slog.With("sequence", req.Sequence)

	if err := f.validate(req); err != nil {
		submissionsTotal.WithLabelValues("invalid").Inc()
		logCtx.Warn("Rejected submission.", "error", err)
		return nil, err
	}

	doc := sanitize(&req.DocumentRecord)

	if req.Sequence == 0 {
		dup := f.CheckDuplicates(ctx, doc)
		if dup.Found() {
			submissionsTotal.WithLabelValues("duplicate").Inc()
			logCtx.Info("Duplicate submission rejected.", "field", dup.Field, "source", dup.Source)
			return nil, &DuplicateError{Field: dup.Field, Value: dup.Value, Source: dup.Source}
		}
	}

	created, storeErr := f.create(ctx, doc)
	if storeErr != nil {
		logCtx.Error("Failed to create record, mirroring payload anyway.", "error", storeErr)
		outcomes := f.mirror(ctx, logCtx, doc, req.Sequence)
		submissionsTotal.WithLabelValues("store_failed").Inc()
		return &models.SubmitResponse{OK: false, Error: "Save failed", Mirrors: outcomes},
			fmt.Errorf("%w: %w", ErrPersistFailed, storeErr)
	}

	logCtx = logCtx.With("documentId", created.ID)
	outcomes := f.mirror(ctx, logCtx, created, req.Sequence)
	submissionsTotal.WithLabelValues("saved").Inc()
	logCtx.Info("Submission saved.")

	return &models.SubmitResponse{OK: true, ID: created.ID, Mirrors: outcomes}, nil
}

// CheckDuplicates looks for doc's identity numbers in the store, then the
// file mirror, then the remote sheet, returning the first hit. A backend
// that fails is logged and skipped.
func (f *SubmissionFunction) CheckDuplicates(ctx context.Context, doc *models.DocumentRecord) mirror.Duplicate {
	if f.store != nil {
		dup, err := f.store.FindDuplicate(ctx, doc)
		if err != nil {
			slog.Warn("Duplicate check against store failed, skipping.", "error", err)
		} else if dup.Found() {
			duplicateHitsTotal.WithLabelValues(dup.Source).Inc()
			return dup
		}
	}
	for _, m := range f.mirrors {
		dup, err := m.CheckDuplicate(ctx, doc)
		if err != nil {
			slog.Warn("Duplicate check against mirror failed, skipping.", "mirror", m.Name(), "error", err)
			continue
		}
		if dup.Found() {
			duplicateHitsTotal.WithLabelValues(dup.Source).Inc()
			return dup
		}
	}
	return mirror.Duplicate{}
}

func (f *SubmissionFunction) create(ctx context.Context, doc *models.DocumentRecord) (*models.DocumentRecord, error) {
	if f.store == nil {
		return nil, fmt.Errorf("%w: no store configured", store.ErrStoreUnavailable)
	}
	return f.store.Create(ctx, doc)
}

func (f *SubmissionFunction) validate(req *models.SubmitRequest) error {
	if req.Sequence < 0 {
		return invalid("sequence must not be negative")
	}
	if req.DocumentRecord.IsEmpty() {
		return ErrEmptyRecord
	}
	return f.checkPayment(req.Payment)
}

func (f *SubmissionFunction) checkPayment(p *models.Payment) error {
	switch {
	case p == nil:
		return ErrPaymentRequired
	case p.PaymentDone:
		return nil
	case p.BypassPasswordUsed:
		if f.payments != nil && f.payments.ValidateBypass(p.BypassPassword) {
			return nil
		}
		return fmt.Errorf("%w: invalid bypass password", ErrPaymentRequired)
	case p.PromoCodeUsed:
		if f.payments != nil {
			if discount, ok := f.payments.ValidatePromo(p.PromoCode); ok && discount >= 100 {
				return nil
			}
		}
		return fmt.Errorf("%w: promo code does not waive payment", ErrPaymentRequired)
	}
	return ErrPaymentRequired
}

// mirror writes doc to every mirror and reports each outcome. Failures
// are logged and counted, never returned.
func (f *SubmissionFunction) mirror(ctx context.Context, logCtx *slog.Logger, doc *models.DocumentRecord, sequence int) []models.MirrorOutcome {
	outcomes := make([]models.MirrorOutcome, 0, len(f.mirrors))
	for _, m := range f.mirrors {
		out := models.MirrorOutcome{Mirror: m.Name()}
		var err error
		if sequence > 0 {
			out.Action = ActionUpdate
			out.Sequence = sequence
			err = m.Update(ctx, sequence, doc)
		} else {
			out.Action = ActionAppend
			out.Sequence, err = m.Append(ctx, doc)
		}
		if err != nil {
			out.Error = "write failed"
			mirrorFailuresTotal.WithLabelValues(m.Name()).Inc()
			logCtx.Error("Mirror write failed.", "mirror", m.Name(), "action", out.Action, "error", err)
		} else {
			logCtx.Info("Mirror write complete.", "mirror", m.Name(), "action", out.Action, "mirrorSequence", out.Sequence)
		}
		outcomes = append(outcomes, out)
	}
	return outcomes
}

// sanitize copies doc without the transient bypass password.
func sanitize(doc *models.DocumentRecord) *models.DocumentRecord {
	out := *doc
	out.ID = ""
	if doc.Payment != nil {
		p := *doc.Payment
		p.BypassPassword = ""
		out.Payment = &p
	}
	return &out
}

// isNilMirror catches typed nil pointers such as a (*mirror.SheetMirror)(nil)
// passed when no spreadsheet is configured.
func isNilMirror(m Mirror) bool {
	switch v := m.(type) {
	case *mirror.SheetMirror:
		return v == nil
	case *mirror.FileMirror:
		return v == nil
	}
	return false
}

// AsDuplicate unwraps a *DuplicateError.
func AsDuplicate(err error) (*DuplicateError, bool) {
	var dup *DuplicateError
	ok := errors.As(err, &dup)
	return dup, ok
}
