// Package store persists document records in Firestore, the system of
// record. Mirrors are derived from it on a best-effort basis.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"

	"github.com/Lllllllleong/kycdocumentintake/internal/gcp"
	"github.com/Lllllllleong/kycdocumentintake/internal/mirror"
	"github.com/Lllllllleong/kycdocumentintake/internal/models"
)

// ErrStoreUnavailable wraps every failure talking to Firestore so callers
// can take their fallback path with errors.Is.
var ErrStoreUnavailable = errors.New("document store unavailable")

// Field paths of the identity numbers inside a stored record.
const (
	pathPassportNumber = "passport_front.passportNumber"
	pathAadhaarNumber  = "aadhar.aadhaarNumber"
	pathPanNumber      = "pan.panNumber"
	pathCreatedAt      = "createdAt"
)

// FirestoreStore is the document store. It is opened once per process and
// shared by every request.
type FirestoreStore struct {
	client     *firestore.Client
	collection string
	now        func() time.Time
}

// Open connects to Firestore. The client honours FIRESTORE_EMULATOR_HOST.
func Open(ctx context.Context, projectID, collection string) (*FirestoreStore, error) {
	if collection == "" {
		return nil, fmt.Errorf("collection must be provided")
	}
	client, err := gcp.NewFirestoreClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return New(client, collection), nil
}

// New wraps an existing client.
func New(client *firestore.Client, collection string) *FirestoreStore {
	return &FirestoreStore{client: client, collection: collection, now: time.Now}
}

func (s *FirestoreStore) Close() error {
	if s.client == nil {
		return nil
	}
	return s.client.Close()
}

// Client exposes the underlying client for collections other than the
// records collection.
func (s *FirestoreStore) Client() *firestore.Client {
	return s.client
}

// Create stores doc as a new record and returns the stored copy with its
// ID and timestamps set. The bypass password never reaches storage.
func (s *FirestoreStore) Create(ctx context.Context, doc *models.DocumentRecord) (*models.DocumentRecord, error) {
	stored := *doc
	if doc.Payment != nil {
		p := *doc.Payment
		p.BypassPassword = ""
		stored.Payment = &p
	}
	now := s.now().UTC()
	stored.CreatedAt = now
	stored.UpdatedAt = now

	ref, _, err := s.client.Collection(s.collection).Add(ctx, stored)
	if err != nil {
		return nil, unavailable("failed to create record", err)
	}
	stored.ID = ref.ID
	return &stored, nil
}

// FindByUniqueFields returns records sharing any non-empty identity number
// with u. Passport matches come first, then aadhaar, then pan; a record
// matching several fields appears once.
func (s *FirestoreStore) FindByUniqueFields(ctx context.Context, u models.UniqueFields) ([]*models.DocumentRecord, error) {
	var out []*models.DocumentRecord
	seen := map[string]bool{}
	for _, q := range []struct{ path, value string }{
		{pathPassportNumber, u.PassportNumber},
		{pathAadhaarNumber, u.AadhaarNumber},
		{pathPanNumber, u.PanNumber},
	} {
		if q.value == "" {
			continue
		}
		docs, err := s.client.Collection(s.collection).Where(q.path, "==", q.value).Documents(ctx).GetAll()
		if err != nil {
			return nil, unavailable("failed to query "+q.path, err)
		}
		for _, snap := range docs {
			if seen[snap.Ref.ID] {
				continue
			}
			rec, err := decode(snap)
			if err != nil {
				return nil, err
			}
			seen[snap.Ref.ID] = true
			out = append(out, rec)
		}
	}
	return out, nil
}

// FindDuplicate reports the first identity number of doc already held by
// a stored record, checking passport, then aadhaar, then pan.
func (s *FirestoreStore) FindDuplicate(ctx context.Context, doc *models.DocumentRecord) (mirror.Duplicate, error) {
	u := doc.UniqueFields()
	for _, q := range []struct{ path, field, value string }{
		{pathPassportNumber, mirror.FieldPassportNumber, u.PassportNumber},
		{pathAadhaarNumber, mirror.FieldAadhaarNumber, u.AadhaarNumber},
		{pathPanNumber, mirror.FieldPanNumber, u.PanNumber},
	} {
		if q.value == "" {
			continue
		}
		docs, err := s.client.Collection(s.collection).Where(q.path, "==", q.value).Limit(1).Documents(ctx).GetAll()
		if err != nil {
			return mirror.Duplicate{}, unavailable("failed to query "+q.path, err)
		}
		if len(docs) > 0 {
			return mirror.Duplicate{Field: q.field, Value: q.value, Source: mirror.NameStore}, nil
		}
	}
	return mirror.Duplicate{}, nil
}

// ListAll returns every record ordered by creation time.
func (s *FirestoreStore) ListAll(ctx context.Context, ascending bool) ([]*models.DocumentRecord, error) {
	dir := firestore.Asc
	if !ascending {
		dir = firestore.Desc
	}
	iter := s.client.Collection(s.collection).OrderBy(pathCreatedAt, dir).Documents(ctx)
	defer iter.Stop()

	var out []*models.DocumentRecord
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, unavailable("failed to list records", err)
		}
		rec, err := decode(snap)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func decode(snap *firestore.DocumentSnapshot) (*models.DocumentRecord, error) {
	var rec models.DocumentRecord
	if err := snap.DataTo(&rec); err != nil {
		return nil, fmt.Errorf("failed to decode record %s: %w", snap.Ref.ID, err)
	}
	rec.ID = snap.Ref.ID
	return &rec, nil
}

func unavailable(message string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, message, err)
}
