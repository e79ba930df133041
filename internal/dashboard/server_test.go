package dashboard

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wattson/config"
	"wattson/models"
)

type fakeLedger struct {
	period models.BillingPeriod
	totals models.PeriodTotals
	tariff models.TariffParams
	found  bool
}

func (f *fakeLedger) CurrentPeriod() models.BillingPeriod { return f.period }
func (f *fakeLedger) CurrentTotals() models.PeriodTotals  { return f.totals }
func (f *fakeLedger) Tariff() models.TariffParams         { return f.tariff }
func (f *fakeLedger) TotalsForOffset(int) (models.PeriodTotals, models.BillingPeriod, bool) {
	return f.totals, f.period, f.found
}

type fakeDiag struct {
	status models.FetchStatus
	err    error
	report string
}

func (f *fakeDiag) Load() (models.FetchStatus, error) { return f.status, f.err }
func (f *fakeDiag) Report(models.TariffParams, time.Time) string {
	return f.report
}

func newTestServer(t *testing.T) (*Server, *fakeLedger, *fakeDiag) {
	t.Helper()
	cfg := &config.Config{}
	cfg.Wattson.Version = "test"
	cfg.Dashboard.Enabled = true
	cfg.Dashboard.Address = ":0"
	cfg.Store.Dir = t.TempDir()

	ledger := &fakeLedger{
		period: models.BillingPeriod{
			Start: models.Date{Year: 2024, Month: time.February, Day: 24},
			End:   models.Date{Year: 2024, Month: time.March, Day: 24},
		},
		totals: models.PeriodTotals{TotalEUR: 12.5, OffPeakKwh: 40, PeakKwh: 60},
		tariff: models.DefaultTariff(),
		found:  true,
	}
	diag := &fakeDiag{report: "--- METERING API ---\nLast update: never\n"}

	srv := NewServer(cfg, ledger, diag)
	require.NotNil(t, srv)
	return srv, ledger, diag
}

func get(t *testing.T, srv *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	srv.buildRouter().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestDisabledDashboardIsNil(t *testing.T) {
	cfg := &config.Config{}
	cfg.Dashboard.Enabled = false
	var srv *Server = NewServer(cfg, &fakeLedger{}, &fakeDiag{})
	assert.Nil(t, srv)
	assert.NoError(t, srv.Run(nil))
	assert.Empty(t, srv.Address())
}

func TestPeriodEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t)

	w := get(t, srv, "/api/period")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "2024-02-24", body["period_start"])
	assert.Equal(t, "2024-03-23", body["period_end"])
	assert.InDelta(t, 12.5, body["total_eur"].(float64), 1e-9)
	assert.InDelta(t, 100.0, body["kwh"].(float64), 1e-9)
}

func TestTotalsEndpointValidation(t *testing.T) {
	srv, _, _ := newTestServer(t)

	assert.Equal(t, http.StatusOK, get(t, srv, "/api/totals").Code)
	assert.Equal(t, http.StatusOK, get(t, srv, "/api/totals?offset=-1").Code)
	assert.Equal(t, http.StatusBadRequest, get(t, srv, "/api/totals?offset=1").Code)
	assert.Equal(t, http.StatusBadRequest, get(t, srv, "/api/totals?offset=abc").Code)

	body := decode(t, get(t, srv, "/api/totals?offset=-2"))
	assert.Equal(t, true, body["found"])
	assert.InDelta(t, -2.0, body["offset"].(float64), 1e-9)
}

func TestTariffEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t)

	body := decode(t, get(t, srv, "/api/tariff"))
	assert.InDelta(t, 0.1382, body["off_peak_price_eur_kwh"].(float64), 1e-9)
	assert.InDelta(t, 0.1733, body["peak_price_eur_kwh"].(float64), 1e-9)
	assert.InDelta(t, 24.0, body["billing_start_day"].(float64), 1e-9)
}

func TestFetchStatusEndpoint(t *testing.T) {
	srv, _, diag := newTestServer(t)

	diag.status = models.FetchStatus{LastHTTPCode: 200, LastError: "OK"}
	body := decode(t, get(t, srv, "/api/fetch-status"))
	assert.Equal(t, true, body["available"])

	diag.err = assert.AnError
	body = decode(t, get(t, srv, "/api/fetch-status"))
	assert.Equal(t, false, body["available"])
}

func TestReportEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t)

	w := get(t, srv, "/api/report")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "METERING API")
}

func TestHealthAndMetricsEndpoints(t *testing.T) {
	srv, _, _ := newTestServer(t)

	assert.Equal(t, http.StatusOK, get(t, srv, "/healthz").Code)
	assert.Equal(t, http.StatusOK, get(t, srv, "/metrics").Code)
}

func TestNormalizeAddress(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", "0.0.0.0:8087"},
		{":8087", "0.0.0.0:8087"},
		{"127.0.0.1:9000", "127.0.0.1:9000"},
		{"*:9000", "0.0.0.0:9000"},
		{"localhost", "localhost:8087"},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, normalizeAddress(tc.in), tc.in)
	}
}
