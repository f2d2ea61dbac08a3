package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/csvrefinery/internal/core"
	"github.com/JonMunkholm/csvrefinery/internal/storage"
	"github.com/JonMunkholm/csvrefinery/internal/testutil"
)

func fixedClock() func() time.Time {
	t := time.Date(2025, 1, 1, 10, 0, 0, 123456000, time.UTC)
	return func() time.Time {
		t = t.Add(time.Second)
		return t
	}
}

func newStore(objects storage.Store, opts Options) *Store {
	s := New(objects, opts)
	s.now = fixedClock()
	return s
}

func TestFetch_MissingIsEmpty(t *testing.T) {
	mem := testutil.NewMemoryStore(t, "refined")
	s := newStore(mem, Options{Bucket: "refined"})

	doc, err := s.Fetch(context.Background(), RefinementLogKey)
	require.NoError(t, err)
	assert.Empty(t, doc)
}

func TestFetch_NoBucket(t *testing.T) {
	s := newStore(testutil.NewMemoryStore(t, "refined"), Options{})

	_, err := s.Fetch(context.Background(), RefinementLogKey)
	require.Error(t, err)
	assert.Equal(t, core.KindConfiguration, core.KindOf(err))
}

func TestFetch_InvalidJSON(t *testing.T) {
	mem := testutil.NewMemoryStore(t, "refined")
	mem.Put("refined", RefinementLogKey, []byte("{not json"))
	s := newStore(mem, Options{Bucket: "refined"})

	_, err := s.Fetch(context.Background(), RefinementLogKey)
	require.Error(t, err)
	assert.Equal(t, core.KindLogAccess, core.KindOf(err))
}

func TestFetch_StoreFailure(t *testing.T) {
	mem := testutil.NewMemoryStore(t, "refined")
	mem.DownloadErr = errors.New("access denied")
	s := newStore(mem, Options{Bucket: "refined"})

	_, err := s.Fetch(context.Background(), RefinementLogKey)
	require.Error(t, err)
	assert.Equal(t, core.KindLogAccess, core.KindOf(err))
}

func TestAppend_DoesNotMutateInput(t *testing.T) {
	s := newStore(testutil.NewMemoryStore(t, "refined"), Options{Bucket: "refined"})

	orig := Document{Ingested: {{Timestamp: "t0", File: "a"}}}
	out := s.Append(orig, Ingested, "b")

	assert.Len(t, orig[Ingested], 1)
	require.Len(t, out[Ingested], 2)
	assert.Equal(t, "b", out[Ingested][1].File)
	assert.Equal(t, "2025-01-01T10:00:01.123456+00:00", out[Ingested][1].Timestamp)
}

func TestAppend_CreatesCategory(t *testing.T) {
	s := newStore(testutil.NewMemoryStore(t, "refined"), Options{Bucket: "refined"})

	out := s.Append(Document{}, Quarantined, "quarantine/x.csv")
	require.Len(t, out[Quarantined], 1)
	_, hasIngested := out[Ingested]
	assert.False(t, hasIngested)
}

func TestPersist_Format(t *testing.T) {
	mem := testutil.NewMemoryStore(t, "refined")
	s := newStore(mem, Options{Bucket: "refined"})
	scratch := t.TempDir()
	ctx := storage.WithScratchDir(context.Background(), scratch)

	doc := Document{Ingested: {{Timestamp: "t0", File: "refined/a.parquet"}}}
	require.NoError(t, s.Persist(ctx, RefinementLogKey, doc))

	data, ok := mem.Get("refined", RefinementLogKey)
	require.True(t, ok)
	assert.Equal(t, "{\n  \"ingested_files\": [\n    {\n      \"timestamp\": \"t0\",\n      \"file\": \"refined/a.parquet\"\n    }\n  ]\n}", string(data))

	// Scratch file is cleaned up.
	entries, err := os.ReadDir(scratch)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestPersist_UploadFailure(t *testing.T) {
	mem := testutil.NewMemoryStore(t, "refined")
	mem.UploadErr = errors.New("boom")
	s := newStore(mem, Options{Bucket: "refined"})

	err := s.Persist(context.Background(), RefinementLogKey, Document{})
	require.Error(t, err)
	assert.Equal(t, core.KindLogPersist, core.KindOf(err))
}

func TestRecord_SequentialAppendsKeepOrder(t *testing.T) {
	mem := testutil.NewMemoryStore(t, "refined")
	s := newStore(mem, Options{Bucket: "refined"})
	ctx := storage.WithScratchDir(context.Background(), t.TempDir())

	files := []string{"refined/1.parquet", "refined/2.parquet", "refined/3.parquet"}
	for _, f := range files {
		_, err := s.Record(ctx, RefinementLogKey, Ingested, f)
		require.NoError(t, err)
	}

	data, _ := mem.Get("refined", RefinementLogKey)
	var doc Document
	require.NoError(t, json.Unmarshal(data, &doc))
	require.Len(t, doc[Ingested], len(files))
	for i, f := range files {
		assert.Equal(t, f, doc[Ingested][i].File)
	}
}

func TestRecord_PreservesUnknownCategories(t *testing.T) {
	mem := testutil.NewMemoryStore(t, "refined")
	mem.Put("refined", RefinementLogKey, []byte(`{"legacy_files":[{"timestamp":"t","file":"old.csv"}]}`))
	s := newStore(mem, Options{Bucket: "refined"})

	doc, err := s.Record(context.Background(), RefinementLogKey, Ingested, "refined/new.parquet")
	require.NoError(t, err)
	assert.Len(t, doc["legacy_files"], 1)
	assert.Len(t, doc[Ingested], 1)
}

func TestRecord_ConditionalRetriesOnConflict(t *testing.T) {
	mem := testutil.NewMemoryStore(t, "refined")
	mem.Put("refined", RefinementLogKey, []byte(`{"ingested_files":[]}`))
	s := newStore(mem, Options{Bucket: "refined", ConditionalWrites: true, MaxConflictRetries: 2})

	// Another writer lands between our fetch and our first persist.
	mem.BeforeConditionalUpload = func(call int) {
		if call == 1 {
			mem.Put("refined", RefinementLogKey, []byte(`{"ingested_files":[{"timestamp":"t","file":"other.parquet"}]}`))
		}
	}

	doc, err := s.Record(context.Background(), RefinementLogKey, Ingested, "refined/mine.parquet")
	require.NoError(t, err)
	require.Len(t, doc[Ingested], 2)
	assert.Equal(t, "other.parquet", doc[Ingested][0].File)
	assert.Equal(t, "refined/mine.parquet", doc[Ingested][1].File)
}

func TestRecord_ConditionalGivesUp(t *testing.T) {
	mem := testutil.NewMemoryStore(t, "refined")
	s := newStore(mem, Options{Bucket: "refined", ConditionalWrites: true, MaxConflictRetries: 1})

	mem.BeforeConditionalUpload = func(call int) {
		mem.Put("refined", RefinementLogKey, []byte(`{}`))
	}

	_, err := s.Record(context.Background(), RefinementLogKey, Ingested, "refined/mine.parquet")
	require.Error(t, err)
	assert.Equal(t, core.KindLogPersist, core.KindOf(err))
	assert.ErrorIs(t, err, storage.ErrPreconditionFailed)
	assert.Equal(t, 2, mem.ConditionalUploads())
}

func TestRecord_FetchErrorStops(t *testing.T) {
	mem := testutil.NewMemoryStore(t, "refined")
	mem.DownloadErr = errors.New("timeout")
	s := newStore(mem, Options{Bucket: "refined"})

	_, err := s.Record(context.Background(), QuarantineLogKey, Quarantined, "quarantine/a.csv")
	assert.Equal(t, core.KindLogAccess, core.KindOf(err))
	assert.Empty(t, mem.Uploads())
}

func TestCategoryFor(t *testing.T) {
	key, cat := CategoryFor(false)
	assert.Equal(t, RefinementLogKey, key)
	assert.Equal(t, Ingested, cat)

	key, cat = CategoryFor(true)
	assert.Equal(t, QuarantineLogKey, key)
	assert.Equal(t, Quarantined, cat)
}
