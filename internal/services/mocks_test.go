package services

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/Lllllllleong/kycdocumentintake/internal/mirror"
	"github.com/Lllllllleong/kycdocumentintake/internal/models"
)

type mockStore struct {
	mock.Mock
}

func (m *mockStore) Create(ctx context.Context, doc *models.DocumentRecord) (*models.DocumentRecord, error) {
	args := m.Called(ctx, doc)
	rec, _ := args.Get(0).(*models.DocumentRecord)
	return rec, args.Error(1)
}

func (m *mockStore) FindDuplicate(ctx context.Context, doc *models.DocumentRecord) (mirror.Duplicate, error) {
	args := m.Called(ctx, doc)
	return args.Get(0).(mirror.Duplicate), args.Error(1)
}

func (m *mockStore) ListAll(ctx context.Context, ascending bool) ([]*models.DocumentRecord, error) {
	args := m.Called(ctx, ascending)
	recs, _ := args.Get(0).([]*models.DocumentRecord)
	return recs, args.Error(1)
}

type mockMirror struct {
	mock.Mock
	name string
}

func newMockMirror(name string) *mockMirror {
	return &mockMirror{name: name}
}

func (m *mockMirror) Name() string { return m.name }

func (m *mockMirror) Append(ctx context.Context, doc *models.DocumentRecord) (int, error) {
	args := m.Called(ctx, doc)
	return args.Int(0), args.Error(1)
}

func (m *mockMirror) Update(ctx context.Context, sequence int, doc *models.DocumentRecord) error {
	args := m.Called(ctx, sequence, doc)
	return args.Error(0)
}

func (m *mockMirror) CheckDuplicate(ctx context.Context, doc *models.DocumentRecord) (mirror.Duplicate, error) {
	args := m.Called(ctx, doc)
	return args.Get(0).(mirror.Duplicate), args.Error(1)
}

// stubPolicy accepts one bypass password and a fixed promo table.
type stubPolicy struct {
	password string
	promos   map[string]int
}

func (p stubPolicy) ValidateBypass(password string) bool {
	return p.password != "" && password == p.password
}

func (p stubPolicy) ValidatePromo(code string) (int, bool) {
	d, ok := p.promos[code]
	return d, ok
}

func record(passport, aadhaar, pan string) *models.DocumentRecord {
	doc := &models.DocumentRecord{}
	if passport != "" {
		doc.PassportFront = &models.PassportFront{PassportNumber: passport}
	}
	if aadhaar != "" {
		doc.Aadhaar = &models.Aadhaar{AadhaarNumber: aadhaar}
	}
	if pan != "" {
		doc.Pan = &models.Pan{PanNumber: pan}
	}
	return doc
}

func paid(doc *models.DocumentRecord) *models.DocumentRecord {
	doc.Payment = &models.Payment{PaymentDone: true, Amount: 499}
	return doc
}
