package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/csvrefinery/internal/columnar"
	"github.com/JonMunkholm/csvrefinery/internal/core"
	"github.com/JonMunkholm/csvrefinery/internal/core/tables"
	"github.com/JonMunkholm/csvrefinery/internal/ledger"
	"github.com/JonMunkholm/csvrefinery/internal/testutil"
	"github.com/JonMunkholm/csvrefinery/internal/trigger"
)

const (
	rawBucket     = "test-bucket"
	refinedBucket = "refined-bucket"
	rawKey        = "raw/2025/01/01/data.csv"
)

type recorderFunc func(ctx context.Context, o *Outcome) error

func (f recorderFunc) Record(ctx context.Context, o *Outcome) error { return f(ctx, o) }

type fixture struct {
	store    *testutil.MemoryStore
	service  *Service
	scratch  string
	mu       sync.Mutex
	recorded []*Outcome
}

func newFixture(t *testing.T, logBucket string) *fixture {
	t.Helper()

	f := &fixture{
		store:   testutil.NewMemoryStore(t, refinedBucket),
		scratch: t.TempDir(),
	}

	writer, err := columnar.NewWriter(columnar.Options{})
	require.NoError(t, err)

	logs := ledger.New(f.store, ledger.Options{Bucket: logBucket})
	f.service = NewService(
		f.store,
		core.NewValidator(tables.FraudTransactionsSchema()),
		writer,
		logs,
		Config{ScratchDir: f.scratch},
		WithRecorder(recorderFunc(func(_ context.Context, o *Outcome) error {
			f.mu.Lock()
			defer f.mu.Unlock()
			f.recorded = append(f.recorded, o)
			return nil
		})),
	)
	f.service.newID = func() string { return "inv-1" }
	return f
}

func (f *fixture) putRaw(content string) {
	f.store.Put(rawBucket, rawKey, []byte(content))
}

func (f *fixture) logDoc(t *testing.T, key string) ledger.Document {
	t.Helper()
	data, ok := f.store.Get(refinedBucket, key)
	require.True(t, ok, "log %s not written", key)
	var doc ledger.Document
	require.NoError(t, json.Unmarshal(data, &doc))
	return doc
}

func TestHandle_Success(t *testing.T) {
	f := newFixture(t, refinedBucket)
	f.putRaw(testutil.FraudCSV(nil, testutil.FraudRows(3)...))

	out, err := f.service.Handle(context.Background(), trigger.Object{Bucket: rawBucket, Key: rawKey})
	require.NoError(t, err)

	assert.Equal(t, StatusRefined, out.Status)
	assert.Equal(t, StageLogUpdated, out.Stage)
	assert.Equal(t, "refined/2025/01/01/data.parquet", out.DestKey)
	assert.Equal(t, 3, out.Rows)
	assert.Equal(t, "inv-1", out.InvocationID)

	_, ok := f.store.Get(refinedBucket, "refined/2025/01/01/data.parquet")
	assert.True(t, ok)

	doc := f.logDoc(t, ledger.RefinementLogKey)
	require.Len(t, doc[ledger.Ingested], 1)
	assert.Equal(t, "refined/2025/01/01/data.parquet", doc[ledger.Ingested][0].File)

	_, quarantined := f.store.Get(refinedBucket, "quarantine/2025/01/01/data.csv")
	assert.False(t, quarantined)

	assert.Equal(t, []string{
		rawBucket + "/" + rawKey,
		refinedBucket + "/" + ledger.RefinementLogKey,
	}, f.store.Downloads())
	assert.Equal(t, []string{"refined/2025/01/01/data.parquet", ledger.RefinementLogKey}, f.store.Uploads())

	require.Len(t, f.recorded, 1)
	assert.Same(t, out, f.recorded[0])
}

func TestHandle_PublishedParquetRoundTrips(t *testing.T) {
	f := newFixture(t, refinedBucket)
	f.putRaw(testutil.FraudCSV(nil, testutil.FraudRows(4)...))

	_, err := f.service.Handle(context.Background(), trigger.Object{Bucket: rawBucket, Key: rawKey})
	require.NoError(t, err)

	// The scratch copy of the artifact is left for the caller.
	ds, err := columnar.ReadFile(context.Background(),
		filepath.Join(f.scratch, "inv-1", "refined", "data.parquet"))
	require.NoError(t, err)
	assert.Equal(t, 4, ds.Rows)
	assert.Equal(t, testutil.FraudHeader, ds.Names())
}

func TestHandle_ValidationErrorQuarantines(t *testing.T) {
	f := newFixture(t, refinedBucket)
	rows := testutil.FraudRows(2)
	rows[1]["is_fraud"] = "7"
	raw := testutil.FraudCSV(nil, rows...)
	f.putRaw(raw)

	out, err := f.service.Handle(context.Background(), trigger.Object{Bucket: rawBucket, Key: rawKey})
	require.Error(t, err)
	assert.Equal(t, core.KindValidation, core.KindOf(err))

	assert.Equal(t, StatusQuarantined, out.Status)
	assert.Equal(t, StageQuarantineLogUpdated, out.Stage)
	assert.Equal(t, "quarantine/2025/01/01/data.csv", out.DestKey)
	assert.Equal(t, "ValidationError", out.ErrorKind)
	assert.Equal(t, "VAL001", out.ErrorCode)

	data, ok := f.store.Get(refinedBucket, "quarantine/2025/01/01/data.csv")
	require.True(t, ok)
	assert.Equal(t, raw, string(data), "quarantine holds the original raw bytes")

	doc := f.logDoc(t, ledger.QuarantineLogKey)
	require.Len(t, doc[ledger.Quarantined], 1)
	assert.Equal(t, "quarantine/2025/01/01/data.csv", doc[ledger.Quarantined][0].File)

	_, refined := f.store.Get(refinedBucket, "refined/2025/01/01/data.parquet")
	assert.False(t, refined)
	_, refinementLog := f.store.Get(refinedBucket, ledger.RefinementLogKey)
	assert.False(t, refinementLog)
}

func TestHandle_SchemaErrorQuarantines(t *testing.T) {
	f := newFixture(t, refinedBucket)
	f.putRaw(testutil.FraudCSV(testutil.Without(testutil.FraudHeader, "zip"), testutil.FraudRow()))

	out, err := f.service.Handle(context.Background(), trigger.Object{Bucket: rawBucket, Key: rawKey})
	require.Error(t, err)
	assert.Equal(t, core.KindSchema, core.KindOf(err))
	assert.Contains(t, err.Error(), "missing columns: zip")
	assert.Equal(t, StatusQuarantined, out.Status)
}

func TestHandle_PublishFailureQuarantines(t *testing.T) {
	f := newFixture(t, refinedBucket)
	f.putRaw(testutil.FraudCSV(nil, testutil.FraudRow()))
	f.store.UploadErrFor["refined/2025/01/01/data.parquet"] = errors.New("access denied")

	out, err := f.service.Handle(context.Background(), trigger.Object{Bucket: rawBucket, Key: rawKey})
	require.Error(t, err)
	assert.Equal(t, core.KindStore, core.KindOf(err))
	assert.Equal(t, StatusQuarantined, out.Status)

	_, ok := f.store.Get(refinedBucket, "quarantine/2025/01/01/data.csv")
	assert.True(t, ok)
}

func TestHandle_RefinementLogFailureQuarantines(t *testing.T) {
	f := newFixture(t, refinedBucket)
	f.putRaw(testutil.FraudCSV(nil, testutil.FraudRow()))
	f.store.UploadErrFor[ledger.RefinementLogKey] = errors.New("throttled")

	out, err := f.service.Handle(context.Background(), trigger.Object{Bucket: rawBucket, Key: rawKey})
	require.Error(t, err)
	assert.Equal(t, core.KindLogPersist, core.KindOf(err))
	assert.Equal(t, StatusQuarantined, out.Status)

	// The parquet was already published before the log failed.
	_, ok := f.store.Get(refinedBucket, "refined/2025/01/01/data.parquet")
	assert.True(t, ok)
}

func TestHandle_QuarantineUploadFailureReplacesError(t *testing.T) {
	f := newFixture(t, refinedBucket)
	rows := testutil.FraudRows(1)
	rows[0]["zip"] = "ABCDE"
	f.putRaw(testutil.FraudCSV(nil, rows...))
	f.store.UploadErrFor["quarantine/2025/01/01/data.csv"] = errors.New("bucket gone")

	out, err := f.service.Handle(context.Background(), trigger.Object{Bucket: rawBucket, Key: rawKey})
	require.Error(t, err)
	assert.Equal(t, core.KindStore, core.KindOf(err))
	assert.Equal(t, StatusFailed, out.Status)
	assert.Equal(t, StageQuarantining, out.Stage)

	_, logged := f.store.Get(refinedBucket, ledger.QuarantineLogKey)
	assert.False(t, logged)
}

func TestHandle_CancelledLeavesRawFile(t *testing.T) {
	f := newFixture(t, refinedBucket)
	f.putRaw(testutil.FraudCSV(nil, testutil.FraudRows(3)...))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out, err := f.service.Handle(ctx, trigger.Object{Bucket: rawBucket, Key: rawKey})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StatusFailed, out.Status)
	assert.Equal(t, StageDownloaded, out.Stage)
	assert.Empty(t, out.DestKey)
	assert.Empty(t, f.store.Uploads())

	_, logged := f.store.Get(refinedBucket, ledger.QuarantineLogKey)
	assert.False(t, logged)
	require.Len(t, f.recorded, 1)
}

func TestHandle_DeadlineStillQuarantines(t *testing.T) {
	f := newFixture(t, refinedBucket)
	f.putRaw(testutil.FraudCSV(nil, testutil.FraudRows(3)...))

	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	out, err := f.service.Handle(ctx, trigger.Object{Bucket: rawBucket, Key: rawKey})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, StatusQuarantined, out.Status)
	assert.Equal(t, "quarantine/2025/01/01/data.csv", out.DestKey)

	doc := f.logDoc(t, ledger.QuarantineLogKey)
	require.Len(t, doc[ledger.Quarantined], 1)
}

func TestHandle_RawNameMatchingLogName(t *testing.T) {
	const key = "raw/2025/01/01/" + ledger.RefinementLogKey
	f := newFixture(t, refinedBucket)
	raw := testutil.FraudCSV(nil, testutil.FraudRow())
	f.store.Put(rawBucket, key, []byte(raw))
	f.store.Put(refinedBucket, ledger.RefinementLogKey, []byte(`{"ingested_files": []}`))
	f.store.UploadErrFor[ledger.RefinementLogKey] = errors.New("throttled")

	out, err := f.service.Handle(context.Background(), trigger.Object{Bucket: rawBucket, Key: key})
	require.Error(t, err)
	assert.Equal(t, StatusQuarantined, out.Status)

	data, ok := f.store.Get(refinedBucket, "quarantine/2025/01/01/"+ledger.RefinementLogKey)
	require.True(t, ok)
	assert.Equal(t, raw, string(data))
}

func TestHandle_MissingLogBucket(t *testing.T) {
	f := newFixture(t, "")
	f.putRaw(testutil.FraudCSV(nil, testutil.FraudRow()))

	out, err := f.service.Handle(context.Background(), trigger.Object{Bucket: rawBucket, Key: rawKey})
	require.Error(t, err)

	// Refinement log fails, then the quarantine log fails the same way and wins.
	assert.Equal(t, core.KindConfiguration, core.KindOf(err))
	assert.Equal(t, StatusFailed, out.Status)
}

func TestHandle_InvalidTrigger(t *testing.T) {
	tests := []struct {
		name string
		obj  trigger.Object
	}{
		{"missing bucket", trigger.Object{Key: rawKey}},
		{"missing key", trigger.Object{Bucket: rawBucket}},
		{"outside raw zone", trigger.Object{Bucket: rawBucket, Key: "refined/2025/01/01/data.parquet"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, refinedBucket)

			out, err := f.service.Handle(context.Background(), tt.obj)
			require.Error(t, err)
			assert.Equal(t, core.KindInvalidTrigger, core.KindOf(err))
			assert.Equal(t, StatusFailed, out.Status)
			assert.Equal(t, StageStart, out.Stage)

			assert.Empty(t, f.store.Downloads(), "no store access before the trigger is accepted")
			assert.Empty(t, f.store.Uploads())
			assert.Len(t, f.recorded, 1)
		})
	}
}

func TestHandle_DownloadFailureNoQuarantine(t *testing.T) {
	f := newFixture(t, refinedBucket)
	// Nothing stored under rawKey.

	out, err := f.service.Handle(context.Background(), trigger.Object{Bucket: rawBucket, Key: rawKey})
	require.Error(t, err)
	assert.Equal(t, core.KindStore, core.KindOf(err))
	assert.Equal(t, StatusFailed, out.Status)
	assert.Equal(t, StageStart, out.Stage)
	assert.Empty(t, f.store.Uploads())
}

func TestHandle_RecorderErrorIgnored(t *testing.T) {
	f := newFixture(t, refinedBucket)
	f.service.recorder = recorderFunc(func(context.Context, *Outcome) error {
		return errors.New("db down")
	})
	f.putRaw(testutil.FraudCSV(nil, testutil.FraudRow()))

	out, err := f.service.Handle(context.Background(), trigger.Object{Bucket: rawBucket, Key: rawKey})
	require.NoError(t, err)
	assert.Equal(t, StatusRefined, out.Status)
}

func TestHandle_SequentialInvocationsAppend(t *testing.T) {
	f := newFixture(t, refinedBucket)
	f.service.newID = func() func() string {
		n := 0
		return func() string {
			n++
			return "inv-" + strings.Repeat("x", n)
		}
	}()

	keys := []string{"raw/a.csv", "raw/b.csv", "raw/c.csv"}
	for _, k := range keys {
		f.store.Put(rawBucket, k, []byte(testutil.FraudCSV(nil, testutil.FraudRow())))
		_, err := f.service.Handle(context.Background(), trigger.Object{Bucket: rawBucket, Key: k})
		require.NoError(t, err)
	}

	doc := f.logDoc(t, ledger.RefinementLogKey)
	require.Len(t, doc[ledger.Ingested], 3)
	for i, k := range keys {
		assert.Equal(t, DefaultZones().RefinedKey(k), doc[ledger.Ingested][i].File)
	}
}

func TestHandle_DurationRecorded(t *testing.T) {
	f := newFixture(t, refinedBucket)
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	calls := 0
	f.service.now = func() time.Time {
		calls++
		return start.Add(time.Duration(calls-1) * time.Second)
	}
	f.putRaw(testutil.FraudCSV(nil, testutil.FraudRow()))

	out, err := f.service.Handle(context.Background(), trigger.Object{Bucket: rawBucket, Key: rawKey})
	require.NoError(t, err)
	assert.Equal(t, start, out.StartedAt)
	assert.Equal(t, time.Second, out.Duration)
}
