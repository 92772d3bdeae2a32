package services

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lllllllleong/kycdocumentintake/internal/mirror"
	"github.com/Lllllllleong/kycdocumentintake/internal/models"
	"github.com/Lllllllleong/kycdocumentintake/internal/store"
)

func TestOpenRecords_LocalOnly(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	records, err := OpenRecords(ctx, RecordsConfig{DataDir: dir, Collection: "documentSets"})
	require.NoError(t, err)
	defer records.Close()

	assert.Nil(t, records.Store)
	assert.Nil(t, records.Sheet)
	_, err = os.Stat(filepath.Join(dir, "records.xlsx"))
	assert.NoError(t, err)

	t.Run("should still mirror submissions without a store", func(t *testing.T) {
		sub := NewSubmission(records.Store, stubPolicy{}, records.File, records.Sheet)
		resp, err := sub.Process(ctx, &models.SubmitRequest{DocumentRecord: *paid(record("A1234567", "", ""))})

		assert.ErrorIs(t, err, ErrPersistFailed)
		assert.ErrorIs(t, err, store.ErrStoreUnavailable)
		require.NotNil(t, resp)
		require.Len(t, resp.Mirrors, 1)
		assert.Equal(t, 1, resp.Mirrors[0].Sequence)
	})
}

func TestOpenRecords_SheetClientFailure(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	t.Setenv("GOOGLE_SERVICE_ACCOUNT_EMAIL", "")
	t.Setenv("GOOGLE_SERVICE_ACCOUNT_KEY", "")
	t.Setenv("GOOGLE_APPLICATION_CREDENTIALS", filepath.Join(dir, "missing", "creds.json"))

	records, err := OpenRecords(ctx, RecordsConfig{DataDir: dir, SpreadsheetID: "abc", SheetName: "records"})

	t.Run("should keep the local workbook when the sheet client cannot be built", func(t *testing.T) {
		require.NoError(t, err)
		require.NotNil(t, records)
		assert.Nil(t, records.Sheet)
		assert.NotNil(t, records.File)
	})

	t.Run("should still accept submissions", func(t *testing.T) {
		sub := NewSubmission(records.Store, stubPolicy{}, records.File, records.Sheet)
		resp, err := sub.Process(ctx, &models.SubmitRequest{DocumentRecord: *paid(record("A1234567", "", ""))})

		assert.ErrorIs(t, err, ErrPersistFailed)
		require.NotNil(t, resp)
		require.Len(t, resp.Mirrors, 1)
		assert.Equal(t, mirror.NameFile, resp.Mirrors[0].Mirror)
	})
	require.NoError(t, records.Close())
}
