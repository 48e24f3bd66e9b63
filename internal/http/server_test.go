package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/ratemate/taas/config"
	"github.com/ratemate/taas/internal/domain/model"
	apperrors "github.com/ratemate/taas/internal/errors"
	"github.com/ratemate/taas/internal/queue"
	"github.com/ratemate/taas/internal/statusfile"
	"github.com/ratemate/taas/internal/visual"
)

const (
	testLegacyKey  = "legacy-key"
	testAdminToken = "admin-token"
	testRawKey     = "issued-raw-key"
)

type fakeSessions struct {
	mu   sync.Mutex
	rows map[string]*model.Session
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{rows: map[string]*model.Session{}}
}

func (f *fakeSessions) Upsert(_ context.Context, s *model.Session) (*model.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *s
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	cp.UpdatedAt = time.Now().UTC()
	f.rows[cp.ID] = &cp
	return &cp, nil
}

func (f *fakeSessions) GetByID(_ context.Context, id string) (*model.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.rows[id]
	if !ok {
		return nil, apperrors.NotFoundf("session %s not found", id)
	}
	cp := *s
	return &cp, nil
}

func (f *fakeSessions) UpdateStatus(_ context.Context, id string, next model.SessionStatus) (*model.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.rows[id]
	if !ok {
		return nil, apperrors.NotFoundf("session %s not found", id)
	}
	if !s.Status.CanTransition(next) {
		return nil, apperrors.Conflictf("cannot transition %s to %s", s.Status, next)
	}
	s.Status = next
	s.UpdatedAt = time.Now().UTC()
	cp := *s
	return &cp, nil
}

func (f *fakeSessions) List(_ context.Context, opts model.SessionListOptions) ([]*model.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.Session
	for _, s := range f.rows {
		if opts.Status != nil && s.Status != *opts.Status {
			continue
		}
		if opts.Kind != nil && s.Kind != *opts.Kind {
			continue
		}
		if opts.Project != nil && (s.Project == nil || *s.Project != *opts.Project) {
			continue
		}
		cp := *s
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeSessions) ListProjects(_ context.Context) ([]model.ProjectCount, error) {
	return []model.ProjectCount{{Project: "default", Sessions: 1}}, nil
}

type fakeResults struct {
	mu   sync.Mutex
	rows []*model.Result
}

func (f *fakeResults) add(sessionID string, summary model.ResultSummary) *model.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	row := &model.Result{
		ID:        int64(len(f.rows) + 1),
		SessionID: sessionID,
		Summary:   summary,
		CreatedAt: time.Now().UTC(),
	}
	f.rows = append(f.rows, row)
	return row
}

func (f *fakeResults) GetByID(_ context.Context, id int64) (*model.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.rows {
		if r.ID == id {
			return r, nil
		}
	}
	return nil, apperrors.NotFoundf("result %d not found", id)
}

func (f *fakeResults) Latest(_ context.Context, sessionID string) (*model.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.rows) - 1; i >= 0; i-- {
		if f.rows[i].SessionID == sessionID {
			return f.rows[i], nil
		}
	}
	return nil, apperrors.NotFoundf("no result for session %s", sessionID)
}

func (f *fakeResults) List(_ context.Context, opts model.ResultListOptions) ([]*model.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.Result
	for _, r := range f.rows {
		if r.SessionID == opts.SessionID {
			out = append(out, r)
		}
	}
	return out, nil
}

type fakeKeys struct {
	mu    sync.Mutex
	byRaw map[string]*model.APIKey
	byID  map[string]*model.APIKey
}

func newFakeKeys() *fakeKeys {
	f := &fakeKeys{byRaw: map[string]*model.APIKey{}, byID: map[string]*model.APIKey{}}
	f.seed(testRawKey, &model.APIKey{
		ID:              "key-1",
		Name:            "ci",
		RateLimitPerMin: 60,
		Active:          true,
		CreatedAt:       time.Now().UTC(),
	})
	return f
}

func (f *fakeKeys) seed(raw string, key *model.APIKey) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key.KeyHash = model.HashAPIKey(raw)
	f.byRaw[raw] = key
	f.byID[key.ID] = key
}

func (f *fakeKeys) VerifyRaw(_ context.Context, raw string) (*model.APIKey, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key, ok := f.byRaw[raw]
	if !ok || !key.Active {
		return nil, apperrors.NotFound("api key not found")
	}
	cp := *key
	return &cp, nil
}

func (f *fakeKeys) Create(_ context.Context, req *model.CreateAPIKeyRequest) (*model.APIKey, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	raw := "raw-" + req.Name
	key := &model.APIKey{
		ID:              "key-" + req.Name,
		Name:            req.Name,
		Project:         req.Project,
		KeyHash:         model.HashAPIKey(raw),
		RateLimitPerMin: req.RateLimitPerMin,
		Active:          true,
		CreatedAt:       time.Now().UTC(),
	}
	f.byRaw[raw] = key
	f.byID[key.ID] = key
	return key, raw, nil
}

func (f *fakeKeys) List(_ context.Context) ([]*model.APIKey, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*model.APIKey, 0, len(f.byID))
	for _, k := range f.byID {
		cp := *k
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeKeys) Update(_ context.Context, id string, req model.UpdateAPIKeyRequest) (*model.APIKey, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key, ok := f.byID[id]
	if !ok {
		return nil, apperrors.NotFoundf("api key %s not found", id)
	}
	if req.Active != nil {
		key.Active = *req.Active
	}
	if req.RateLimitPerMin != nil {
		key.RateLimitPerMin = *req.RateLimitPerMin
	}
	cp := *key
	return &cp, nil
}

// memBlobs backs both the artifact signer and the visual engine in tests.
type memBlobs struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemBlobs() *memBlobs {
	return &memBlobs{objects: map[string][]byte{}}
}

func (m *memBlobs) Put(_ context.Context, key, _ string, body io.Reader) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	return nil
}

func (m *memBlobs) Get(_ context.Context, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, apperrors.NotFoundf("object %s not found", key)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memBlobs) Exists(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[key]
	return ok, nil
}

func (m *memBlobs) Copy(_ context.Context, srcKey, dstKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[srcKey]
	if !ok {
		return apperrors.NotFoundf("object %s not found", srcKey)
	}
	m.objects[dstKey] = append([]byte(nil), data...)
	return nil
}

func (m *memBlobs) Presign(_ context.Context, key string) (string, error) {
	return "https://signed.test/" + key + "?sig=abc", nil
}

type fixture struct {
	handler  http.Handler
	srv      *Server
	mr       *miniredis.Miniredis
	q        *queue.Queue
	cancels  *queue.CancelFlags
	status   *statusfile.Store
	sessions *fakeSessions
	results  *fakeResults
	keys     *fakeKeys
	blobs    *memBlobs
}

func newFixture(t *testing.T, mutate ...func(*ServerOptions)) *fixture {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	status, err := statusfile.NewStore(t.TempDir())
	require.NoError(t, err)

	sessions := newFakeSessions()
	results := &fakeResults{}
	keys := newFakeKeys()
	blobs := newMemBlobs()
	q := queue.NewQueue(client, "taas-test")

	opts := ServerOptions{
		HTTP: config.HTTPConfig{
			LegacyAPIKey: testLegacyKey,
			AdminToken:   testAdminToken,
			CORSOrigins:  "*",
		},
		Upload: config.UploadConfig{
			Dir:         t.TempDir(),
			MaxMB:       1,
			AllowedExts: "apk,zip",
		},
		Queue:     q,
		Cancels:   queue.NewCancelFlags(client),
		Limiter:   queue.NewRateLimiter(client),
		Status:    status,
		Sessions:  sessions,
		Results:   results,
		Keys:      keys,
		Artifacts: blobs,
		Visual:    visual.NewEngine(blobs, config.VisualConfig{}),
		Health: Health{
			Redis:        func(ctx context.Context) error { return client.Ping(ctx).Err() },
			DB:           func(context.Context) error { return nil },
			S3Configured: true,
		},
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, m := range mutate {
		m(&opts)
	}

	srv, err := NewServer(opts)
	require.NoError(t, err)

	return &fixture{
		handler:  srv.Handler(),
		srv:      srv,
		mr:       mr,
		q:        q,
		cancels:  opts.Cancels,
		status:   status,
		sessions: sessions,
		results:  results,
		keys:     keys,
		blobs:    blobs,
	}
}

// do issues an authenticated request against the assembled handler.
func (fx *fixture) do(t *testing.T, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, target, rd)
	req.Header.Set("X-API-Key", testRawKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	fx.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestNewServerValidatesOptions(t *testing.T) {
	_, err := NewServer(ServerOptions{})
	require.Error(t, err)
}

func TestRootListsEndpoints(t *testing.T) {
	fx := newFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	fx.handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	require.Equal(t, "taas", body["name"])
	require.NotEmpty(t, body["endpoints"])
}

func TestHealthzReportsDependencies(t *testing.T) {
	fx := newFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	fx.handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	require.Equal(t, true, body["ok"])
	require.Equal(t, true, body["redis"])
	require.Equal(t, true, body["db"])
	require.Equal(t, true, body["s3_configured"])
}

func TestHealthzFailsWhenRedisDown(t *testing.T) {
	fx := newFixture(t)
	fx.mr.Close()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	fx.handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decodeBody(t, rec)
	require.Equal(t, false, body["ok"])
}

func TestStatsReflectsQueueCounters(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	require.NoError(t, fx.q.Push(ctx, model.JobMessage{
		Kind:      model.KindWeb,
		SessionID: "job-1",
		Payload:   json.RawMessage(`{}`),
	}))

	rec := fx.do(t, http.MethodGet, "/api/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	require.Equal(t, "taas-test", body["queue"])
	require.EqualValues(t, 1, body["depth"])
	require.EqualValues(t, 1, body["queued"])
}
