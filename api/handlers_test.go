package api_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/limpahora/hours-engine/api"
	"github.com/limpahora/hours-engine/catalog"
	"github.com/limpahora/hours-engine/checkout"
	"github.com/limpahora/hours-engine/credit"
	creditstore "github.com/limpahora/hours-engine/credit/store"
	"github.com/limpahora/hours-engine/pricing"
)

// =============================================================================
// TEST SETUP
// =============================================================================

const testConfigYAML = `
currency: BRL
hours:
  min_bookable: 2
  max_bookable: 420
tiers:
  - min_hours: 1
    max_hours: 59
    rate_per_hour: 40.0
  - min_hours: 60
    max_hours: 119
    rate_per_hour: 32.0
  - min_hours: 120
    rate_per_hour: 25.0
fees:
  service_pct: 0.40
  post_work_pct: 0.20
  organization_pct: 0.10
  product_fee: 50.0
multipliers:
  complexity:
    low: 1.0
    medium: 1.15
    high: 1.35
  per_extra_environment: 0.05
  per_extra_person: 0.03
catalog:
  hours: [40, 60, 80, 100, 120, 160, 200, 240, 300, 360, 420]
credit:
  expiry_days: 365
`

type testAPI struct {
	router   http.Handler
	ledger   *credit.Ledger
	provider *checkout.Sandbox
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()

	cfg, err := pricing.Parse([]byte(testConfigYAML))
	require.NoError(t, err)
	calc := pricing.Compile(cfg, "v1")
	source := pricing.NewSource(calc)

	cat, err := catalog.New(calc)
	require.NoError(t, err)

	store := creditstore.NewMemory()
	ledger := credit.NewLedger(store)
	provider := &checkout.Sandbox{}
	orchestrator := checkout.NewOrchestrator(source, provider, checkout.NewMemoryIntents(store), ledger, nil)

	h := api.NewHandler(source, cat, ledger, orchestrator, nil)
	return &testAPI{
		router:   api.NewRouter(h),
		ledger:   ledger,
		provider: provider,
	}
}

func (a *testAPI) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

// =============================================================================
// CATALOG ENDPOINT TESTS
// =============================================================================

func TestAPI_ListPackages(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(t, http.MethodGet, "/api/packages", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode[struct {
		ConfigVersion string           `json:"config_version"`
		Packages      []api.PackageDTO `json:"packages"`
	}](t, rec)

	assert.Equal(t, "v1", body.ConfigVersion)
	require.Len(t, body.Packages, 11)
	assert.Equal(t, "40", body.Packages[0].Hours)
	assert.Equal(t, "420", body.Packages[10].Hours)
}

func TestAPI_SuggestPackage(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(t, http.MethodGet, "/api/packages/suggest?hours=45", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode[api.SuggestionDTO](t, rec)
	assert.Equal(t, "45", body.HoursNeeded)
	assert.Equal(t, "60", body.Suggested.Hours)
}

func TestAPI_SuggestPackage_BadHours(t *testing.T) {
	a := newTestAPI(t)

	for _, q := range []string{"", "abc", "0", "-3"} {
		rec := a.do(t, http.MethodGet, "/api/packages/suggest?hours="+q, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, "hours=%q", q)
	}
}

// =============================================================================
// QUOTE ENDPOINT TESTS
// =============================================================================

func TestAPI_CreateQuote(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(t, http.MethodPost, "/api/quotes", api.QuoteRequest{Hours: "40"})
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode[api.QuoteDTO](t, rec)
	assert.Equal(t, "1600", body.BasePrice)
	assert.Equal(t, "640", body.ServiceFee)
	assert.Equal(t, "2770", body.FinalPrice)
	assert.Equal(t, "BRL", body.Currency)
	assert.Equal(t, "v1", body.ConfigVersion)
}

func TestAPI_CreateQuote_OutOfRangeHours(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(t, http.MethodPost, "/api/quotes", api.QuoteRequest{Hours: "1"})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	body := decode[api.ErrorResponse](t, rec)
	assert.NotEmpty(t, body.Error)
}

func TestAPI_CreateQuote_BadComplexity(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(t, http.MethodPost, "/api/quotes", api.QuoteRequest{Hours: "40", Complexity: "extreme"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// PURCHASE ENDPOINT TESTS
// =============================================================================

func purchaseBody(token string) api.PurchaseRequestDTO {
	return api.PurchaseRequestDTO{Hours: "40", Method: "card", IntentToken: token}
}

func TestAPI_Purchase_ThenCreditVisible(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(t, http.MethodPost, "/api/customers/cust-1/purchases", purchaseBody("tok-1"))
	require.Equal(t, http.StatusCreated, rec.Code)

	receipt := decode[api.ReceiptDTO](t, rec)
	assert.NotEmpty(t, receipt.BatchID)
	assert.Equal(t, "40", receipt.Hours)
	assert.Equal(t, "2770", receipt.FinalPrice)
	require.NotNil(t, receipt.Breakdown)

	rec = a.do(t, http.MethodGet, "/api/customers/cust-1/credit", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	cr := decode[api.CreditDTO](t, rec)
	assert.Equal(t, "40", cr.AvailableHours)
	assert.Equal(t, "0", cr.UsedHours)

	rec = a.do(t, http.MethodGet, "/api/customers/cust-1/batches", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	batches := decode[struct {
		Batches []api.BatchDTO `json:"batches"`
	}](t, rec)
	require.Len(t, batches.Batches, 1)
	assert.Equal(t, receipt.BatchID, batches.Batches[0].ID)
	assert.Equal(t, "active", batches.Batches[0].State)
}

func TestAPI_Purchase_Replay_SameReceipt(t *testing.T) {
	a := newTestAPI(t)

	first := decode[api.ReceiptDTO](t, a.do(t, http.MethodPost, "/api/customers/cust-1/purchases", purchaseBody("tok-1")))

	rec := a.do(t, http.MethodPost, "/api/customers/cust-1/purchases", purchaseBody("tok-1"))
	require.Equal(t, http.StatusCreated, rec.Code)

	second := decode[api.ReceiptDTO](t, rec)
	assert.Equal(t, first.BatchID, second.BatchID)
	assert.Nil(t, second.Breakdown)

	cr := decode[api.CreditDTO](t, a.do(t, http.MethodGet, "/api/customers/cust-1/credit", nil))
	assert.Equal(t, "40", cr.AvailableHours, "not credited twice")
}

func TestAPI_Purchase_Declined(t *testing.T) {
	a := newTestAPI(t)
	a.provider.Decline = true

	rec := a.do(t, http.MethodPost, "/api/customers/cust-1/purchases", purchaseBody("tok-1"))
	require.Equal(t, http.StatusPaymentRequired, rec.Code)

	cr := decode[api.CreditDTO](t, a.do(t, http.MethodGet, "/api/customers/cust-1/credit", nil))
	assert.Equal(t, "0", cr.AvailableHours)
}

func TestAPI_Purchase_StaleQuote(t *testing.T) {
	a := newTestAPI(t)

	body := purchaseBody("tok-1")
	body.QuoteVersion = "v0"

	rec := a.do(t, http.MethodPost, "/api/customers/cust-1/purchases", body)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestAPI_Purchase_BadMethod(t *testing.T) {
	a := newTestAPI(t)

	body := purchaseBody("tok-1")
	body.Method = "barter"

	rec := a.do(t, http.MethodPost, "/api/customers/cust-1/purchases", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// REDEMPTION ENDPOINT TESTS
// =============================================================================

func TestAPI_Redeem(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(t, http.MethodPost, "/api/customers/cust-1/purchases", purchaseBody("tok-1"))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = a.do(t, http.MethodPost, "/api/customers/cust-1/redemptions", api.RedemptionRequest{Hours: "10"})
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode[api.RedemptionDTO](t, rec)
	assert.Equal(t, "10", body.HoursRedeemed)
	assert.True(t, body.FeeWaived)
	require.Len(t, body.Consumed, 1)

	cr := decode[api.CreditDTO](t, a.do(t, http.MethodGet, "/api/customers/cust-1/credit", nil))
	assert.Equal(t, "30", cr.AvailableHours)
	assert.Equal(t, "10", cr.UsedHours)
}

func TestAPI_Redeem_Insufficient(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(t, http.MethodPost, "/api/customers/cust-1/redemptions", api.RedemptionRequest{Hours: "10"})
	require.Equal(t, http.StatusConflict, rec.Code)

	body := decode[api.ErrorResponse](t, rec)
	assert.Equal(t, "Insufficient credit", body.Error)
}

func TestAPI_Redeem_BadHours(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(t, http.MethodPost, "/api/customers/cust-1/redemptions", api.RedemptionRequest{Hours: "-5"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// CONFIG / ADMIN ENDPOINT TESTS
// =============================================================================

func TestAPI_GetPricingInfo(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(t, http.MethodGet, "/api/config/pricing", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode[api.PricingInfoDTO](t, rec)
	assert.Equal(t, "v1", body.ConfigVersion)
	assert.Equal(t, "BRL", body.Currency)
	assert.Equal(t, "2", body.MinBookableHours)
	assert.Equal(t, "420", body.MaxBookableHours)
	assert.Len(t, body.CatalogHours, 11)
	assert.Equal(t, 365, body.CreditExpiryDays)
}

func TestAPI_TriggerSweep(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(t, http.MethodPost, "/api/admin/sweep", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode[api.SweepResultDTO](t, rec)
	assert.Equal(t, 0, body.Archived)
	assert.NotEmpty(t, body.SweptAt)
}
