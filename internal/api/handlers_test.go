package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/evgenich/amosheets/internal/journal"
	"github.com/evgenich/amosheets/internal/sheets"
	"github.com/evgenich/amosheets/internal/syncer"
	"github.com/evgenich/amosheets/internal/token"
)

// --- Mock Implementations for Testing ---

type mockSyncer struct {
	deliveries [][]int64
	leadResult syncer.LeadResult
	lastLead   int64
	lastTrig   syncer.Trigger
	deleteRes  sheets.Result
	deleteErr  error
}

func (m *mockSyncer) ProcessDelivery(ctx context.Context, leadIDs []int64) syncer.Summary {
	m.deliveries = append(m.deliveries, leadIDs)
	results := make([]syncer.LeadResult, len(leadIDs))
	for i, id := range leadIDs {
		results[i] = syncer.LeadResult{LeadID: id, Success: true, Action: "created"}
	}
	return syncer.Summary{Processed: len(leadIDs), Successful: len(leadIDs), Results: results}
}

func (m *mockSyncer) SyncLead(ctx context.Context, leadID int64, trigger syncer.Trigger) syncer.LeadResult {
	m.lastLead = leadID
	m.lastTrig = trigger
	if m.leadResult.LeadID == 0 {
		return syncer.LeadResult{LeadID: leadID, Success: true, Action: "updated", Row: 3}
	}
	return m.leadResult
}

func (m *mockSyncer) DeleteLead(ctx context.Context, leadID int64) (sheets.Result, error) {
	return m.deleteRes, m.deleteErr
}

type mockTokens struct {
	result     token.RefreshResult
	refreshErr error
	calls      int
}

func (m *mockTokens) Refresh(ctx context.Context) (token.RefreshResult, error) {
	m.calls++
	return m.result, m.refreshErr
}

func (m *mockTokens) Status() token.Status {
	return token.Status{HasAccessToken: true, HasRefreshToken: true}
}

type mockCRM struct{ err error }

func (m *mockCRM) CheckAccount(ctx context.Context) error { return m.err }

type mockSheet struct {
	stats *sheets.Stats
	err   error
}

func (m *mockSheet) Stats(ctx context.Context) (*sheets.Stats, error) {
	if m.err != nil {
		return nil, m.err
	}
	if m.stats != nil {
		return m.stats, nil
	}
	return &sheets.Stats{DataRows: 10, ActiveDeals: 8, DeletedDeals: 2}, nil
}

type mockJournal struct{}

func (m *mockJournal) Recent(ctx context.Context, limit int) ([]journal.Entry, error) {
	return []journal.Entry{{ID: "01J0000000000000000000000A", DealID: 42, Action: "created", Success: true}}, nil
}

func (m *mockJournal) Stats(ctx context.Context) (*journal.Counts, error) {
	return &journal.Counts{Total: 12, Succeeded: 11, Failed: 1}, nil
}

type testDeps struct {
	sync   *mockSyncer
	tokens *mockTokens
	crm    *mockCRM
	sheet  *mockSheet
}

func newTestRouter(d *testDeps) http.Handler {
	return NewRouter(NewHandler(d.sync, d.tokens, d.crm, d.sheet, &mockJournal{}, StatusConfig{
		Environment:  "test",
		PipelineName: "ЕВГ СПБ",
		SheetID:      "sheet-1",
	}, "test"))
}

func defaultDeps() *testDeps {
	return &testDeps{sync: &mockSyncer{}, tokens: &mockTokens{}, crm: &mockCRM{}, sheet: &mockSheet{}}
}

func doRequest(t *testing.T, router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestWebhook(t *testing.T) {
	deps := defaultDeps()
	router := newTestRouter(deps)

	rec := doRequest(t, router, http.MethodPost, "/webhook/amocrm", `{"leads":[{"id":1},{"id":2}]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
	}

	var resp webhookResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Processed != 2 || resp.Successful != 2 || len(resp.Results) != 2 {
		t.Errorf("unexpected response: %+v", resp)
	}
	if resp.DeliveryID == "" {
		t.Error("expected a delivery id")
	}
	if len(deps.sync.deliveries) != 1 || len(deps.sync.deliveries[0]) != 2 {
		t.Errorf("unexpected deliveries: %+v", deps.sync.deliveries)
	}
}

func TestWebhookInvalidJSON(t *testing.T) {
	router := newTestRouter(defaultDeps())
	rec := doRequest(t, router, http.MethodPost, "/webhook/amocrm", `{not json`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestWebhookValidation(t *testing.T) {
	router := newTestRouter(defaultDeps())

	t.Run("empty leads", func(t *testing.T) {
		rec := doRequest(t, router, http.MethodPost, "/webhook/amocrm", `{"leads":[]}`)
		if rec.Code != http.StatusUnprocessableEntity {
			t.Fatalf("expected 422, got %d", rec.Code)
		}
	})

	t.Run("bad lead id", func(t *testing.T) {
		rec := doRequest(t, router, http.MethodPost, "/webhook/amocrm", `{"leads":[{"id":0}]}`)
		if rec.Code != http.StatusUnprocessableEntity {
			t.Fatalf("expected 422, got %d", rec.Code)
		}
		var resp ProblemWithErrors
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode problem: %v", err)
		}
		if len(resp.Errors) != 1 || resp.Errors[0].Field != "leads[0].id" {
			t.Errorf("unexpected errors: %+v", resp.Errors)
		}
	})
}

func TestSyncDeal(t *testing.T) {
	deps := defaultDeps()
	router := newTestRouter(deps)

	rec := doRequest(t, router, http.MethodPost, "/sync/deal/42", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
	}
	if deps.sync.lastLead != 42 || deps.sync.lastTrig != syncer.TriggerManual {
		t.Errorf("unexpected sync call: lead=%d trigger=%s", deps.sync.lastLead, deps.sync.lastTrig)
	}
}

func TestSyncDealBadID(t *testing.T) {
	router := newTestRouter(defaultDeps())
	rec := doRequest(t, router, http.MethodPost, "/sync/deal/abc", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestSyncDealFailure(t *testing.T) {
	deps := defaultDeps()
	deps.sync.leadResult = syncer.LeadResult{LeadID: 42, Success: false, Error: "CRM down"}
	router := newTestRouter(deps)

	rec := doRequest(t, router, http.MethodPost, "/sync/deal/42", "")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}

func TestDeleteDeal(t *testing.T) {
	deps := defaultDeps()
	deps.sync.deleteRes = sheets.Result{Action: sheets.ActionDeleted, Position: 4}
	router := newTestRouter(deps)

	rec := doRequest(t, router, http.MethodDelete, "/sync/deal/42", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
	}
	var res sheets.Result
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if res.Action != sheets.ActionDeleted || res.Position != 4 {
		t.Errorf("unexpected result: %+v", res)
	}
}

func TestManualSyncDelegatesSingleDeal(t *testing.T) {
	deps := defaultDeps()
	router := newTestRouter(deps)

	rec := doRequest(t, router, http.MethodPost, "/sync/manual", `{"deal_id":77}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
	}
	if deps.sync.lastLead != 77 {
		t.Errorf("expected sync of deal 77, got %d", deps.sync.lastLead)
	}
}

func TestManualSyncBulkNotImplemented(t *testing.T) {
	router := newTestRouter(defaultDeps())
	rec := doRequest(t, router, http.MethodPost, "/sync/manual", `{}`)
	if rec.Code != http.StatusNotImplemented {
		t.Fatalf("expected 501, got %d: %s", rec.Code, rec.Body)
	}
}

func TestRefreshToken(t *testing.T) {
	deps := defaultDeps()
	deps.tokens.result = token.RefreshOK
	router := newTestRouter(deps)

	rec := doRequest(t, router, http.MethodPost, "/token/refresh", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
	}

	var resp tokenRefreshResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Result != "ok" {
		t.Errorf("unexpected result %q", resp.Result)
	}
	if deps.tokens.calls != 1 {
		t.Errorf("expected 1 refresh call, got %d", deps.tokens.calls)
	}
}

func TestRefreshTokenFailure(t *testing.T) {
	deps := defaultDeps()
	deps.tokens.refreshErr = errors.New("endpoint returned 400")
	router := newTestRouter(deps)

	rec := doRequest(t, router, http.MethodPost, "/token/refresh", "")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		router := newTestRouter(defaultDeps())
		rec := doRequest(t, router, http.MethodGet, "/health", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
	})

	t.Run("crm down", func(t *testing.T) {
		deps := defaultDeps()
		deps.crm.err = errors.New("unreachable")
		router := newTestRouter(deps)
		rec := doRequest(t, router, http.MethodGet, "/health", "")
		if rec.Code != http.StatusServiceUnavailable {
			t.Fatalf("expected 503, got %d", rec.Code)
		}

		var resp healthResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		if resp.Services["amocrm"] != "unreachable" || resp.Services["googleSheets"] != "ok" {
			t.Errorf("unexpected services: %+v", resp.Services)
		}
	})

	t.Run("sheets down", func(t *testing.T) {
		deps := defaultDeps()
		deps.sheet.err = errors.New("unreachable")
		router := newTestRouter(deps)
		rec := doRequest(t, router, http.MethodGet, "/health", "")
		if rec.Code != http.StatusServiceUnavailable {
			t.Fatalf("expected 503, got %d", rec.Code)
		}
	})
}

func TestStatus(t *testing.T) {
	router := newTestRouter(defaultDeps())
	rec := doRequest(t, router, http.MethodGet, "/status", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp statusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Config.PipelineName != "ЕВГ СПБ" {
		t.Errorf("unexpected config: %+v", resp.Config)
	}
	if resp.Sheet == nil || resp.Sheet.DataRows != 10 {
		t.Errorf("unexpected sheet stats: %+v", resp.Sheet)
	}
	if resp.Journal == nil || resp.Journal.Counts.Total != 12 || len(resp.Journal.Recent) != 1 {
		t.Errorf("unexpected journal section: %+v", resp.Journal)
	}
}

func TestStatusDegradesWhenSheetUnavailable(t *testing.T) {
	deps := defaultDeps()
	deps.sheet.err = errors.New("quota exceeded")
	router := newTestRouter(deps)

	rec := doRequest(t, router, http.MethodGet, "/status", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status must stay 200 without sheet stats, got %d", rec.Code)
	}
	var resp statusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Sheet != nil {
		t.Errorf("expected no sheet section, got %+v", resp.Sheet)
	}
}

func TestConnectivityProbes(t *testing.T) {
	t.Run("sheets ok", func(t *testing.T) {
		router := newTestRouter(defaultDeps())
		rec := doRequest(t, router, http.MethodGet, "/test/google-sheets", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
	})

	t.Run("sheets down", func(t *testing.T) {
		deps := defaultDeps()
		deps.sheet.err = errors.New("unauthorized")
		router := newTestRouter(deps)
		rec := doRequest(t, router, http.MethodGet, "/test/google-sheets", "")
		if rec.Code != http.StatusServiceUnavailable {
			t.Fatalf("expected 503, got %d", rec.Code)
		}
	})

	t.Run("amocrm ok", func(t *testing.T) {
		router := newTestRouter(defaultDeps())
		rec := doRequest(t, router, http.MethodGet, "/test/amocrm", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
	})

	t.Run("amocrm down", func(t *testing.T) {
		deps := defaultDeps()
		deps.crm.err = errors.New("401")
		router := newTestRouter(deps)
		rec := doRequest(t, router, http.MethodGet, "/test/amocrm", "")
		if rec.Code != http.StatusServiceUnavailable {
			t.Fatalf("expected 503, got %d", rec.Code)
		}
	})
}
