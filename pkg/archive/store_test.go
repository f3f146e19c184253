package archive

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "archive", "stepwise.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSaveAndGet(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	rec := Record{
		TraceID:   "01J0000000000000000000TEST",
		Model:     "openai/gpt-4o",
		Iteration: 3,
		Status:    "in_progress",
		Success:   true,
		Request:   json.RawMessage(`{"prompt":"find the time","iteration":3}`),
		Response:  json.RawMessage(`{"success":true,"status":"in_progress"}`),
	}
	require.NoError(t, s.Save(ctx, rec))

	got, err := s.Get(ctx, rec.TraceID)
	require.NoError(t, err)
	assert.Equal(t, rec.Model, got.Model)
	assert.Equal(t, 3, got.Iteration)
	assert.True(t, got.Success)
	assert.JSONEq(t, string(rec.Request), string(got.Request))
	assert.JSONEq(t, string(rec.Response), string(got.Response))
	assert.False(t, got.CreatedAt.IsZero())
}

func TestGetUnknown(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSaveRequiresTraceID(t *testing.T) {
	s := openTestStore(t)
	assert.Error(t, s.Save(context.Background(), Record{}))
}

func TestSaveReplaces(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	rec := Record{TraceID: "t1", Model: "m", Status: "in_progress", Request: json.RawMessage(`{}`), Response: json.RawMessage(`{}`)}
	require.NoError(t, s.Save(ctx, rec))
	rec.Status = "completed"
	require.NoError(t, s.Save(ctx, rec))

	got, err := s.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "completed", got.Status)
}

func TestRecentOrdering(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.Save(ctx, Record{
			TraceID:   id,
			Model:     "m",
			Iteration: i,
			Status:    "in_progress",
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
			Request:   json.RawMessage(`{}`),
			Response:  json.RawMessage(`{}`),
		}))
	}

	recent, err := s.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "c", recent[0].TraceID)
	assert.Equal(t, "b", recent[1].TraceID)
}

func TestArchiveFileIsPrivate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "private.db")
	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestInMemoryDSN(t *testing.T) {
	s, err := Open(":memory:")
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	require.NoError(t, s.Save(ctx, Record{TraceID: "mem", Model: "m", Status: "error", Request: json.RawMessage(`{}`), Response: json.RawMessage(`{}`)}))
	got, err := s.Get(ctx, "mem")
	require.NoError(t, err)
	assert.Equal(t, "error", got.Status)
}

func TestDSNParsing(t *testing.T) {
	tests := []struct {
		dsn    string
		path   string
		onDisk bool
	}{
		{":memory:", "", false},
		{"", "", false},
		{"/var/lib/stepwise.db", "/var/lib/stepwise.db", true},
		{"file:/tmp/a.db?_pragma=busy_timeout(5000)", "/tmp/a.db", true},
		{"file::memory:?cache=shared", "", false},
	}
	for _, tt := range tests {
		path, onDisk := sqliteFilePathFromDSN(tt.dsn)
		assert.Equal(t, tt.onDisk, onDisk, tt.dsn)
		assert.Equal(t, tt.path, path, tt.dsn)
	}
}
