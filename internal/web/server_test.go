package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/csvrefinery/internal/columnar"
	"github.com/JonMunkholm/csvrefinery/internal/config"
	"github.com/JonMunkholm/csvrefinery/internal/core"
	"github.com/JonMunkholm/csvrefinery/internal/core/tables"
	"github.com/JonMunkholm/csvrefinery/internal/ingest"
	"github.com/JonMunkholm/csvrefinery/internal/ledger"
	"github.com/JonMunkholm/csvrefinery/internal/testutil"
	"github.com/JonMunkholm/csvrefinery/internal/trigger"
)

const event = `{"Records":[{"s3":{"bucket":{"name":"landing"},"object":{"key":"raw/data.csv"}}}]}`

type ingesterFunc func(ctx context.Context, obj trigger.Object) (*ingest.Outcome, error)

func (f ingesterFunc) Handle(ctx context.Context, obj trigger.Object) (*ingest.Outcome, error) {
	return f(ctx, obj)
}

type historyFunc func(ctx context.Context, limit int) ([]ingest.Outcome, error)

func (f historyFunc) Recent(ctx context.Context, limit int) ([]ingest.Outcome, error) {
	return f(ctx, limit)
}

func testConfig() *config.Config {
	return &config.Config{
		Server:   config.ServerConfig{Port: 8080, MaxBodyBytes: 4096},
		Pipeline: config.PipelineConfig{Timeout: time.Minute},
	}
}

func do(t *testing.T, s *Server, method, target, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	return resp
}

func TestHealth(t *testing.T) {
	s := NewServer(nil, ingest.NewLimiter(3, time.Second), testConfig())

	rec := do(t, s, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.EqualValues(t, 3, body["capacity"])
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func TestEvent_Success(t *testing.T) {
	var got trigger.Object
	s := NewServer(ingesterFunc(func(_ context.Context, obj trigger.Object) (*ingest.Outcome, error) {
		got = obj
		return &ingest.Outcome{
			Bucket:  obj.Bucket,
			RawKey:  obj.Key,
			DestKey: "refined/data.parquet",
			Status:  ingest.StatusRefined,
			Rows:    12,
		}, nil
	}), ingest.NewLimiter(1, time.Second), testConfig())

	rec := do(t, s, http.MethodPost, "/v1/events", event)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, trigger.Object{Bucket: "landing", Key: "raw/data.csv"}, got)

	var out ingest.Outcome
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, ingest.StatusRefined, out.Status)
	assert.Equal(t, "refined/data.parquet", out.DestKey)
	assert.Equal(t, 12, out.Rows)
}

func TestEvent_ErrorStatus(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		kind   string
		code   string
	}{
		{"schema", core.Errorf(core.KindSchema, "validate", "missing columns: zip"), http.StatusUnprocessableEntity, "SchemaError", "SCH001"},
		{"validation", core.Errorf(core.KindValidation, "validate", "invalid ZIP codes found"), http.StatusUnprocessableEntity, "ValidationError", "VAL001"},
		{"store", core.Errorf(core.KindStore, "download", "access denied"), http.StatusBadGateway, "StoreError", "STO001"},
		{"configuration", core.Errorf(core.KindConfiguration, "fetch log", "REFINED_BUCKET_NAME is not set"), http.StatusInternalServerError, "ConfigurationError", "CFG001"},
		{"timeout", context.DeadlineExceeded, http.StatusGatewayTimeout, "UnknownError", "ERR000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewServer(ingesterFunc(func(context.Context, trigger.Object) (*ingest.Outcome, error) {
				return &ingest.Outcome{Status: ingest.StatusQuarantined}, tt.err
			}), ingest.NewLimiter(1, time.Second), testConfig())

			rec := do(t, s, http.MethodPost, "/v1/events", event)
			require.Equal(t, tt.status, rec.Code)

			resp := decodeError(t, rec)
			assert.Equal(t, tt.kind, resp.Kind)
			assert.Equal(t, tt.code, resp.Code)
			require.NotNil(t, resp.Outcome)
			assert.Equal(t, ingest.StatusQuarantined, resp.Outcome.Status)
		})
	}
}

func TestEvent_InvalidTrigger(t *testing.T) {
	called := false
	s := NewServer(ingesterFunc(func(context.Context, trigger.Object) (*ingest.Outcome, error) {
		called = true
		return nil, nil
	}), ingest.NewLimiter(1, time.Second), testConfig())

	for _, body := range []string{"", "{", `{"Records":[]}`} {
		rec := do(t, s, http.MethodPost, "/v1/events", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, "body %q", body)
		assert.Equal(t, "TRG001", decodeError(t, rec).Code)
	}
	assert.False(t, called)
}

func TestEvent_BodyTooLarge(t *testing.T) {
	cfg := testConfig()
	cfg.Server.MaxBodyBytes = 16
	s := NewServer(nil, ingest.NewLimiter(1, time.Second), cfg)

	rec := do(t, s, http.MethodPost, "/v1/events", event)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeError(t, rec).Error, "exceeds 16 bytes")
}

func TestEvent_Busy(t *testing.T) {
	limiter := ingest.NewLimiter(1, 10*time.Millisecond)
	require.NoError(t, limiter.Acquire(context.Background()))
	defer limiter.Release()

	cfg := testConfig()
	cfg.Pipeline.MaxWaitTime = 45 * time.Second
	s := NewServer(nil, limiter, cfg)

	rec := do(t, s, http.MethodPost, "/v1/events", event)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "45", rec.Header().Get("Retry-After"))
	assert.Equal(t, "BSY001", decodeError(t, rec).Code)
}

func TestRetryAfter(t *testing.T) {
	assert.Equal(t, "30", retryAfter(30*time.Second))
	assert.Equal(t, "2", retryAfter(1500*time.Millisecond))
	assert.Equal(t, "1", retryAfter(10*time.Millisecond))
	assert.Equal(t, "1", retryAfter(0))
}

func TestEvent_ReleasesSlot(t *testing.T) {
	limiter := ingest.NewLimiter(1, time.Second)
	s := NewServer(ingesterFunc(func(context.Context, trigger.Object) (*ingest.Outcome, error) {
		return &ingest.Outcome{Status: ingest.StatusRefined}, nil
	}), limiter, testConfig())

	for i := 0; i < 3; i++ {
		require.Equal(t, http.StatusOK, do(t, s, http.MethodPost, "/v1/events", event).Code)
	}
	assert.Equal(t, 0, limiter.Active())
}

func TestAPIKeyAuth(t *testing.T) {
	cfg := testConfig()
	cfg.Security = config.SecurityConfig{RequireAPIKey: true, APIKeys: []string{"k1", "k2"}}
	s := NewServer(nil, ingest.NewLimiter(1, time.Second), cfg)

	assert.Equal(t, http.StatusUnauthorized, do(t, s, http.MethodGet, "/v1/schemas", "").Code)
	assert.Equal(t, http.StatusForbidden, do(t, s, http.MethodGet, "/v1/schemas", "", "X-API-Key", "nope").Code)
	assert.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/v1/schemas", "", "X-API-Key", "k2").Code)
	assert.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/healthz", "").Code, "health is not authenticated")
}

func TestSchemas(t *testing.T) {
	s := NewServer(nil, ingest.NewLimiter(1, time.Second), testConfig())

	rec := do(t, s, http.MethodGet, "/v1/schemas/"+tables.FraudTransactions, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var view schemaView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, tables.FraudTransactions, view.Key)
	assert.Len(t, view.Fields, len(tables.FraudTransactionsSchema().Fields))
	assert.Contains(t, view.Fields, fieldView{Name: "is_fraud", Type: "int8"})
	assert.Len(t, view.Rules, 2)

	rec = do(t, s, http.MethodGet, "/v1/schemas", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), tables.FraudTransactions)

	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodGet, "/v1/schemas/unknown", "").Code)
}

func TestOutcomes(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		s := NewServer(nil, ingest.NewLimiter(1, time.Second), testConfig())
		rec := do(t, s, http.MethodGet, "/v1/outcomes", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "CFG002", decodeError(t, rec).Code)
	})

	t.Run("listed", func(t *testing.T) {
		var gotLimit int
		s := NewServer(nil, ingest.NewLimiter(1, time.Second), testConfig(),
			WithHistory(historyFunc(func(_ context.Context, limit int) ([]ingest.Outcome, error) {
				gotLimit = limit
				return []ingest.Outcome{{InvocationID: "a"}, {InvocationID: "b"}}, nil
			})))

		rec := do(t, s, http.MethodGet, "/v1/outcomes?limit=2", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, 2, gotLimit)

		var outs []ingest.Outcome
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &outs))
		assert.Len(t, outs, 2)
	})

	t.Run("bad limit", func(t *testing.T) {
		s := NewServer(nil, ingest.NewLimiter(1, time.Second), testConfig(),
			WithHistory(historyFunc(func(context.Context, int) ([]ingest.Outcome, error) { return nil, nil })))
		assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodGet, "/v1/outcomes?limit=-3", "").Code)
	})
}

// End to end through the real service and an in-memory store.
func TestEvent_Pipeline(t *testing.T) {
	store := testutil.NewMemoryStore(t, "refined-bucket")
	writer, err := columnar.NewWriter(columnar.Options{})
	require.NoError(t, err)

	service := ingest.NewService(
		store,
		core.NewValidator(tables.FraudTransactionsSchema()),
		writer,
		ledger.New(store, ledger.Options{Bucket: "refined-bucket"}),
		ingest.Config{ScratchDir: t.TempDir()},
	)
	s := NewServer(service, ingest.NewLimiter(2, time.Second), testConfig())

	good := testutil.FraudCSV(nil, testutil.FraudRows(4)...)
	bad := testutil.FraudCSV(testutil.Without(testutil.FraudHeader, "zip"), testutil.FraudRows(1)...)
	store.Put("landing", "raw/good.csv", []byte(good))
	store.Put("landing", "raw/bad.csv", []byte(bad))

	var wg sync.WaitGroup
	codes := make(map[string]int)
	var mu sync.Mutex
	for _, key := range []string{"raw/good.csv", "raw/bad.csv"} {
		wg.Add(1)
		go func(key string) {
			defer wg.Done()
			body := strings.Replace(event, "raw/data.csv", key, 1)
			rec := do(t, s, http.MethodPost, "/v1/events", body)
			mu.Lock()
			codes[key] = rec.Code
			mu.Unlock()
		}(key)
	}
	wg.Wait()

	assert.Equal(t, http.StatusOK, codes["raw/good.csv"])
	assert.Equal(t, http.StatusUnprocessableEntity, codes["raw/bad.csv"])

	_, ok := store.Get("refined-bucket", "refined/good.parquet")
	assert.True(t, ok, "refined artifact published")
	_, ok = store.Get("refined-bucket", "quarantine/bad.csv")
	assert.True(t, ok, "raw file quarantined")
}
