package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pedrolm/mapscout/internal/auth"
	"github.com/pedrolm/mapscout/internal/store"
)

type memKeyStore struct {
	byHash map[string]store.APIKey
	nextID int64
}

func newMemKeyStore() *memKeyStore {
	return &memKeyStore{byHash: map[string]store.APIKey{}, nextID: 1}
}

func (m *memKeyStore) Insert(_ context.Context, key store.APIKey) (store.APIKey, error) {
	key.ID = m.nextID
	m.nextID++
	key.IsActive = true
	key.CreatedAt = time.Unix(1700000000, 0).UTC()
	m.byHash[key.KeyHash] = key
	return key, nil
}

func (m *memKeyStore) LookupByHash(_ context.Context, keyHash string) (store.APIKey, error) {
	key, ok := m.byHash[keyHash]
	if !ok {
		return store.APIKey{}, store.ErrNotFound
	}
	return key, nil
}

func (m *memKeyStore) TouchUsage(context.Context, int64) error { return nil }

func (m *memKeyStore) Revoke(_ context.Context, id int64) error {
	for hash, key := range m.byHash {
		if key.ID == id {
			key.IsActive = false
			m.byHash[hash] = key
			return nil
		}
	}
	return store.ErrNotFound
}

func (m *memKeyStore) List(context.Context) ([]store.APIKey, error) {
	keys := make([]store.APIKey, 0, len(m.byHash))
	for _, key := range m.byHash {
		keys = append(keys, key)
	}
	return keys, nil
}

func (m *memKeyStore) Count(context.Context) (int, error) { return len(m.byHash), nil }

type stubSearchStore struct {
	summaries map[int64]store.SearchSummary
	submitted []store.SearchParams
	stats     store.QueueStats
}

func (s *stubSearchStore) Submit(_ context.Context, params store.SearchParams) (int64, error) {
	if strings.TrimSpace(params.Region) == "" {
		return 0, fmt.Errorf("%w: region is required", store.ErrValidation)
	}
	s.submitted = append(s.submitted, params)
	return int64(len(s.submitted)), nil
}

func (s *stubSearchStore) GetByID(_ context.Context, id int64) (store.Search, error) {
	summary, ok := s.summaries[id]
	if !ok {
		return store.Search{}, store.ErrNotFound
	}
	return summary.Search, nil
}

func (s *stubSearchStore) StatusSummary(_ context.Context, id int64) (store.SearchSummary, error) {
	summary, ok := s.summaries[id]
	if !ok {
		return store.SearchSummary{}, store.ErrNotFound
	}
	return summary, nil
}

func (s *stubSearchStore) List(context.Context) ([]store.Search, error) {
	searches := make([]store.Search, 0, len(s.summaries))
	for _, summary := range s.summaries {
		searches = append(searches, summary.Search)
	}
	return searches, nil
}

func (s *stubSearchStore) MarkProcessing(context.Context, int64) error { return nil }

func (s *stubSearchStore) MarkCompleted(context.Context, int64, []store.Lead) error { return nil }

func (s *stubSearchStore) MarkError(context.Context, int64, string) error { return nil }

func (s *stubSearchStore) QueueStats(context.Context) (store.QueueStats, error) {
	return s.stats, nil
}

type stubCampaignStore struct {
	campaigns map[int64]store.Campaign
	nextID    int64
}

func (s *stubCampaignStore) Create(_ context.Context, nome string) (store.Campaign, error) {
	if strings.TrimSpace(nome) == "" {
		return store.Campaign{}, fmt.Errorf("%w: campaign name is required", store.ErrValidation)
	}
	if s.campaigns == nil {
		s.campaigns = map[int64]store.Campaign{}
	}
	s.nextID++
	campaign := store.Campaign{
		ID:        s.nextID,
		Nome:      nome,
		Status:    store.CampaignPendente,
		CreatedAt: time.Unix(1700000000, 0).UTC(),
	}
	s.campaigns[campaign.ID] = campaign
	return campaign, nil
}

func (s *stubCampaignStore) GetByID(_ context.Context, id int64) (store.Campaign, error) {
	campaign, ok := s.campaigns[id]
	if !ok {
		return store.Campaign{}, store.ErrNotFound
	}
	return campaign, nil
}

func (s *stubCampaignStore) RefreshStatuses(context.Context) error { return nil }

type testEnv struct {
	server    *Server
	searches  *stubSearchStore
	campaigns *stubCampaignStore
	apiKey    string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	keys := newMemKeyStore()
	authService := auth.NewService(keys, zap.NewNop())
	generated, err := authService.Generate(context.Background(), "test", 0, nil)
	require.NoError(t, err)

	searches := &stubSearchStore{summaries: map[int64]store.SearchSummary{}}
	campaigns := &stubCampaignStore{}
	return &testEnv{
		server:    NewServer(searches, campaigns, authService, zap.NewNop()),
		searches:  searches,
		campaigns: campaigns,
		apiKey:    generated.Plaintext,
	}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, authed bool) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.RemoteAddr = "203.0.113.9:51234"
	if authed {
		req.Header.Set("X-API-Key", e.apiKey)
	}
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	return payload
}

func TestHealthzIsOpen(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/healthz", nil, false)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestSubmitScrapeRequiresKey(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/scrape", map[string]any{
		"region": "Anápolis", "business_type": "Restaurante",
	}, false)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Empty(t, env.searches.submitted)
}

func TestSubmitScrapeAccepted(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/scrape", map[string]any{
		"region":        "Anápolis",
		"business_type": "Restaurante",
		"keywords":      "rodizio espetinho",
	}, true)

	require.Equal(t, http.StatusAccepted, rec.Code)
	payload := decodeBody(t, rec)
	require.Equal(t, "task_1", payload["task_id"])
	require.Equal(t, "search added to the processing queue", payload["message"])

	require.Len(t, env.searches.submitted, 1)
	params := env.searches.submitted[0]
	require.Equal(t, []string{"rodizio", "espetinho"}, params.Keywords)
	// Unset max_results falls back to the default page of ten.
	require.Equal(t, 10, params.MaxResults)
}

func TestSubmitScrapeValidation(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/scrape", map[string]any{
		"business_type": "Restaurante",
	}, true)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "region is required")
}

func TestSubmitScrapeRejectsMalformedJSON(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodPost, "/scrape", strings.NewReader("{not json"))
	req.Header.Set("X-API-Key", env.apiKey)
	req.RemoteAddr = "203.0.113.9:51234"
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetTaskStatusCompletedIncludesResults(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.searches.summaries[5] = store.SearchSummary{
		Search: store.Search{ID: 5, Status: store.SearchConcluido},
		Leads: []store.Lead{
			{NomeEmpresa: "Churrascaria Boi na Brasa", Telefone: "62999990000", Avaliacao: 4.5},
		},
	}

	rec := env.do(t, http.MethodGet, "/task/task_5", nil, true)
	require.Equal(t, http.StatusOK, rec.Code)
	payload := decodeBody(t, rec)
	require.Equal(t, "concluido", payload["status"])
	results, ok := payload["results"].([]any)
	require.True(t, ok)
	require.Len(t, results, 1)
}

func TestGetTaskStatusErrorIncludesMessage(t *testing.T) {
	t.Parallel()

	message := "maps feed never rendered"
	env := newTestEnv(t)
	env.searches.summaries[6] = store.SearchSummary{
		Search: store.Search{ID: 6, Status: store.SearchError, ErrorMessage: &message},
	}

	rec := env.do(t, http.MethodGet, "/task/6", nil, true)
	require.Equal(t, http.StatusOK, rec.Code)
	payload := decodeBody(t, rec)
	require.Equal(t, "error", payload["status"])
	require.Equal(t, message, payload["message"])
	require.NotContains(t, payload, "results")
}

func TestGetTaskStatusProcessingOmitsResults(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.searches.summaries[7] = store.SearchSummary{
		Search: store.Search{ID: 7, Status: store.SearchProcessing},
	}

	rec := env.do(t, http.MethodGet, "/task/task_7", nil, true)
	require.Equal(t, http.StatusOK, rec.Code)
	payload := decodeBody(t, rec)
	require.Equal(t, "processing", payload["status"])
	require.NotContains(t, payload, "results")
}

func TestGetTaskStatusNotFound(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/task/task_99", nil, true)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetTaskStatusInvalidID(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/task/banana", nil, true)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestQueueStatusReportsPositions(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.searches.stats = store.QueueStats{
		Waiting:    2,
		Processing: 1,
		Completed:  5,
		Errors:     1,
		NextUp: []store.Search{
			{ID: 10, Region: "Anápolis", BusinessType: "Restaurante", MaxResults: 10},
			{ID: 11, Region: "Goiânia", BusinessType: "Padaria", MaxResults: 5},
		},
	}

	rec := env.do(t, http.MethodGet, "/queue/status", nil, true)
	require.Equal(t, http.StatusOK, rec.Code)
	payload := decodeBody(t, rec)
	require.Equal(t, float64(2), payload["queue_size"])
	next, ok := payload["next_in_queue"].([]any)
	require.True(t, ok)
	require.Len(t, next, 2)
	first, ok := next[0].(map[string]any)
	require.True(t, ok)
	require.Equal(t, float64(1), first["position"])
}

func TestCreateAndFetchCampaign(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/campaigns", map[string]any{"nome": "Expansão Goiás"}, true)
	require.Equal(t, http.StatusCreated, rec.Code)
	payload := decodeBody(t, rec)
	require.Equal(t, "pendente", payload["status"])

	rec = env.do(t, http.MethodGet, "/campaigns/1", nil, true)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/campaigns/42", nil, true)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateCampaignRejectsBlankName(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/campaigns", map[string]any{"nome": "  "}, true)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestKeyLifecycleOverHTTP(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/admin/keys/", map[string]any{"name": "ci-bot"}, true)
	require.Equal(t, http.StatusCreated, rec.Code)
	payload := decodeBody(t, rec)
	require.NotEmpty(t, payload["api_key"])

	rec = env.do(t, http.MethodGet, "/admin/keys/", nil, true)
	require.Equal(t, http.StatusOK, rec.Code)
	// Stored key listings never carry plaintext or hashes.
	require.NotContains(t, rec.Body.String(), payload["api_key"])

	rec = env.do(t, http.MethodDelete, fmt.Sprintf("/admin/keys/%v", payload["id"]), nil, true)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodDelete, "/admin/keys/999", nil, true)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateKeyRequiresName(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/admin/keys/", map[string]any{"name": ""}, true)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestParseTaskID(t *testing.T) {
	t.Parallel()

	id, err := parseTaskID("task_42")
	require.NoError(t, err)
	require.Equal(t, int64(42), id)

	id, err = parseTaskID("42")
	require.NoError(t, err)
	require.Equal(t, int64(42), id)

	_, err = parseTaskID("task_abc")
	require.Error(t, err)
}
