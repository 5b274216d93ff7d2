package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/cao-extract/internal/model"
)

func testRecord(id string, flow model.Flow) *model.ExtractedRecord {
	return &model.ExtractedRecord{
		DocumentID:  id,
		Flow:        flow,
		Model:       "claude-sonnet-4-5",
		ExtractedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Fields: map[string]model.Value{
			"wage":  model.Found("12,50 EUR"),
			"notes": model.NotFound,
		},
	}
}

func TestFileStore_WriteRead(t *testing.T) {
	ctx := context.Background()
	s := NewFileStore(t.TempDir())

	require.NoError(t, s.Write(ctx, testRecord("CAO-1001", model.FlowNew)))
	assert.True(t, s.Exists(model.FlowNew, "CAO-1001"))
	assert.False(t, s.Exists(model.FlowOld, "CAO-1001"))

	got, err := s.Read(ctx, model.FlowNew, "CAO-1001")
	require.NoError(t, err)
	assert.Equal(t, "12,50 EUR", got.Fields["wage"].Text)
	assert.False(t, got.Fields["notes"].Found)

	raw, err := os.ReadFile(s.Path(model.FlowNew, "CAO-1001"))
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"notes": null`)
	assert.Equal(t, filepath.Join(s.Root(), "new_flow", "CAO-1001.json"), s.Path(model.FlowNew, "CAO-1001"))
}

func TestFileStore_ReadMissing(t *testing.T) {
	s := NewFileStore(t.TempDir())
	_, err := s.Read(context.Background(), model.FlowOld, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFileStore_LatestWriteWins(t *testing.T) {
	ctx := context.Background()
	s := NewFileStore(t.TempDir())

	require.NoError(t, s.Write(ctx, testRecord("182", model.FlowOld)))
	rec := testRecord("182", model.FlowOld)
	rec.Fields["wage"] = model.Found("14,00")
	require.NoError(t, s.Write(ctx, rec))

	got, err := s.Read(ctx, model.FlowOld, "182")
	require.NoError(t, err)
	assert.Equal(t, "14,00", got.Fields["wage"].Text)

	entries, err := os.ReadDir(s.FlowDir(model.FlowOld))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestFileStore_List(t *testing.T) {
	ctx := context.Background()
	s := NewFileStore(t.TempDir())

	ids, err := s.List(ctx, model.FlowNew)
	require.NoError(t, err)
	assert.Empty(t, ids)

	for _, id := range []string{"30", "1001", "7"} {
		require.NoError(t, s.Write(ctx, testRecord(id, model.FlowNew)))
	}
	require.NoError(t, s.WriteContext(ctx, model.FlowNew, &model.IntermediateContext{DocumentID: "7"}))

	ids, err = s.List(ctx, model.FlowNew)
	require.NoError(t, err)
	assert.Equal(t, []string{"1001", "30", "7"}, ids)
	assert.FileExists(t, filepath.Join(s.FlowDir(model.FlowNew), "_context", "7.json"))
}

func TestFileStore_WriteRejectsEmptyID(t *testing.T) {
	s := NewFileStore(t.TempDir())
	assert.Error(t, s.Write(context.Background(), &model.ExtractedRecord{}))
}

func TestWriteFileAtomic_CreatesDirs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a", "b", "summary.json")
	require.NoError(t, WriteFileAtomic(path, []byte("{}")))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "{}", string(data))
}

func TestCheckWritable(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	require.NoError(t, CheckWritable(dir))
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
