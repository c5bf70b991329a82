package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"formulaflow/config"
	"formulaflow/internal/auth"
	"formulaflow/internal/store"
	"formulaflow/logger"
	"formulaflow/processor"
)

const (
	testTx    = "6f1c2f0a-3c1e-4b8e-9a43-1d2f3e4a5b6c"
	testMelo  = "DE00014545768S0000000000000003054"
	testToken = "Bearer mock_token_0123456789abcdef"
)

const testDocument = `{
	"maloId": "12345678901",
	"calculationFormulaTimeSlices": [{
		"timeSliceId": 1,
		"timeSliceQuality": "Gültige Daten",
		"periodOfUseFrom": "2024-01-01T00:00:00Z",
		"periodOfUseTo": "2024-12-31T23:59:59Z",
		"calculationFormula": {"mul": [
			{"meloOperand": {
				"meloId": "DE00014545768S0000000000000003054",
				"energyDirection": "consumption",
				"lossFactorTransformer": {"percentvalue": 0},
				"lossFactorConduction": {"percentvalue": 0},
				"distributionFactorEnergyQuantity": {"percentvalue": 1}
			}},
			{"const": "2"}
		]}
	}]
}`

const testSeries = `{"timeSeries": [{
	"timeSeriesId": "TS-IN-1",
	"meterLocationId": "DE00014545768S0000000000000003054",
	"unit": "KWH",
	"intervals": [
		{"position": 1, "start": "2024-03-01T00:00:00Z", "end": "2024-03-01T00:15:00Z", "quantity": "1.5"},
		{"position": 2, "start": "2024-03-01T00:15:00Z", "end": "2024-03-01T00:30:00Z", "quantity": 2.25}
	]
}, {"unit": "KWH"}]}`

type testAPI struct {
	srv    *Server
	repo   *store.Memory
	router http.Handler
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	cfg := config.Default()
	cfg.Server.RateLimit.RequestsPerSecond = 0

	repo := store.NewMemory()
	proc, err := processor.NewProcessor(cfg, repo)
	require.NoError(t, err)

	srv := NewServer(cfg, logger.Logger(), repo, proc, auth.NewIssuer(cfg.Auth.TokenTTL, cfg.Auth.Scope, false))
	t.Cleanup(srv.cleanup)
	return &testAPI{srv: srv, repo: repo, router: srv.Router()}
}

func (a *testAPI) do(t *testing.T, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res := httptest.NewRecorder()
	a.router.ServeHTTP(res, req)
	return res
}

func decodeBody(t *testing.T, res *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &out), res.Body.String())
	return out
}

func authHeaders() map[string]string {
	return map[string]string{"Authorization": testToken}
}

func submissionHeaders() map[string]string {
	return map[string]string{
		"Content-Type":     "application/json",
		"transactionId":    testTx,
		"creationDateTime": "2024-03-01T10:00:00Z",
	}
}

func TestNormalizeAddress(t *testing.T) {
	cases := map[string]string{
		"":                          "0.0.0.0:8000",
		"  :9090  ":                 "0.0.0.0:9090",
		"localhost":                 "localhost:8000",
		"0.0.0.0:80":                "0.0.0.0:80",
		"[::1]:443":                 "[::1]:443",
		"::1":                       "[::1]:8000",
		"*:8080":                    "0.0.0.0:8080",
		"http://10.0.0.5:8080":      "10.0.0.5:8080",
		"https://10.0.0.5":          "10.0.0.5:8000",
		"http://:7070":              "0.0.0.0:7070",
		"https://api.example.com/":  "api.example.com:8000",
		"tcp://formulas.local:5050": "formulas.local:5050",
	}

	for input, want := range cases {
		if got := normalizeAddress(input); got != want {
			t.Fatalf("normalizeAddress(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestOAuthToken(t *testing.T) {
	api := newTestAPI(t)
	form := map[string]string{"Content-Type": "application/x-www-form-urlencoded"}

	res := api.do(t, http.MethodPost, "/oauth/token", url.Values{
		"grant_type": {"client_credentials"}, "client_id": {"c"}, "client_secret": {"s"},
	}.Encode(), form)
	require.Equal(t, http.StatusOK, res.Code)
	body := decodeBody(t, res)
	assert.Equal(t, "Bearer", body["token_type"])
	assert.EqualValues(t, 3600, body["expires_in"])
	assert.True(t, strings.HasPrefix(body["access_token"].(string), "mock_token_"))

	res = api.do(t, http.MethodPost, "/oauth/token", "grant_type=password", form)
	assert.Equal(t, http.StatusBadRequest, res.Code)
	assert.JSONEq(t, `{"error":"unsupported_grant_type"}`, res.Body.String())

	res = api.do(t, http.MethodPost, "/oauth/token", "grant_type=client_credentials&client_id=c", form)
	assert.Equal(t, http.StatusUnauthorized, res.Code)
	assert.JSONEq(t, `{"error":"invalid_client"}`, res.Body.String())
}

func TestFormulaSubmissionFlow(t *testing.T) {
	api := newTestAPI(t)

	res := api.do(t, http.MethodPost, "/formula/v0.0.1", testDocument, submissionHeaders())
	require.Equal(t, http.StatusAccepted, res.Code, res.Body.String())
	body := decodeBody(t, res)
	assert.Equal(t, "accepted", body["status"])
	assert.Equal(t, "12345678901", body["locationId"])
	assert.EqualValues(t, 1, body["timeSlicesAccepted"])

	res = api.do(t, http.MethodGet, "/formulas", "", nil)
	assert.Equal(t, http.StatusUnauthorized, res.Code)
	assert.JSONEq(t, `{"error":"Unauthorized"}`, res.Body.String())

	res = api.do(t, http.MethodGet, "/formulas", "", authHeaders())
	require.Equal(t, http.StatusOK, res.Code)
	list := decodeBody(t, res)
	assert.EqualValues(t, 1, list["totalCount"])
	first := list["formulas"].([]any)[0].(map[string]any)
	assert.Equal(t, "maloId", first["locationType"])
	assert.EqualValues(t, 1, first["timeSliceCount"])

	res = api.do(t, http.MethodGet, "/v1/formulas/12345678901", "", authHeaders())
	require.Equal(t, http.StatusOK, res.Code)
	got := decodeBody(t, res)
	assert.Equal(t, testTx, got["transactionId"])
	loc, err := json.Marshal(got["formulaLocation"])
	require.NoError(t, err)
	assert.JSONEq(t, testDocument, string(loc))

	res = api.do(t, http.MethodGet, "/formulas/99999999999", "", authHeaders())
	assert.Equal(t, http.StatusNotFound, res.Code)
	assert.JSONEq(t, `{"error":"Not found"}`, res.Body.String())
}

func TestFormulaSubmissionErrors(t *testing.T) {
	api := newTestAPI(t)

	res := api.do(t, http.MethodPost, "/formula/v0.0.1", testDocument, nil)
	assert.Equal(t, http.StatusBadRequest, res.Code)
	assert.JSONEq(t, `{"error":"Bad Request","message":"Header transactionId is required","transactionId":"unknown"}`, res.Body.String())

	res = api.do(t, http.MethodPost, "/formula/v0.0.1", `{"neloId": "bad"}`, submissionHeaders())
	assert.Equal(t, http.StatusBadRequest, res.Code)
	body := decodeBody(t, res)
	assert.Equal(t, "Validation failed", body["message"])
	assert.NotEmpty(t, body["validationErrors"])

	for _, method := range []string{http.MethodGet, http.MethodPut, http.MethodDelete, http.MethodPatch} {
		res = api.do(t, method, "/formula/v0.0.1", "", nil)
		assert.Equal(t, http.StatusMethodNotAllowed, res.Code, method)
		assert.JSONEq(t, `{"error":"Method Not Allowed","message":"Only POST method is allowed for /formula/v0.0.1","allowedMethods":["POST"]}`, res.Body.String())
	}
}

func TestLegacyFormulaSubmission(t *testing.T) {
	api := newTestAPI(t)

	res := api.do(t, http.MethodPost, "/v1/formulas", testDocument, nil)
	assert.Equal(t, http.StatusBadRequest, res.Code)
	body := decodeBody(t, res)
	assert.Equal(t, "Migration Required", body["error"])
	assert.Equal(t, "See EDI@Energy formel_v0.0.1 specification", body["documentation"])

	res = api.do(t, http.MethodPost, "/v1/formulas", testDocument, submissionHeaders())
	assert.Equal(t, http.StatusAccepted, res.Code, res.Body.String())
}

func TestTimeSeriesAndCalculation(t *testing.T) {
	api := newTestAPI(t)

	res := api.do(t, http.MethodPost, "/formula/v0.0.1", testDocument, submissionHeaders())
	require.Equal(t, http.StatusAccepted, res.Code)

	res = api.do(t, http.MethodPost, "/v1/time-series", testSeries, authHeaders())
	require.Equal(t, http.StatusCreated, res.Code, res.Body.String())
	accepted := decodeBody(t, res)
	assert.Equal(t, "ACCEPTED", accepted["status"])
	assert.Equal(t, []any{"TS-IN-1"}, accepted["timeSeriesIds"])

	res = api.do(t, http.MethodGet, "/v1/time-series?meterLocationId="+testMelo, "", authHeaders())
	require.Equal(t, http.StatusOK, res.Code)
	assert.EqualValues(t, 1, decodeBody(t, res)["totalCount"])

	calcReq := `{"maloId": "12345678901", "timeSliceId": 1, "inputTimeSeries": {"` + testMelo + `": "TS-IN-1"}, "outputTimeSeriesId": "TS-OUT-1"}`
	res = api.do(t, http.MethodPost, "/v1/calculations", calcReq, authHeaders())
	require.Equal(t, http.StatusAccepted, res.Code, res.Body.String())
	calc := decodeBody(t, res)
	assert.Equal(t, "COMPLETED", calc["status"])
	calcID := calc["calculationId"].(string)
	assert.True(t, strings.HasPrefix(calcID, "CALC-"))

	res = api.do(t, http.MethodGet, "/v1/calculations/"+calcID, "", authHeaders())
	require.Equal(t, http.StatusOK, res.Code)
	full := decodeBody(t, res)
	assert.Equal(t, "TS-OUT-1", full["outputTimeSeriesId"])
	assert.EqualValues(t, 2, full["intervalsCalculated"])

	res = api.do(t, http.MethodGet, "/v1/time-series/TS-OUT-1", "", authHeaders())
	require.Equal(t, http.StatusOK, res.Code)
	out := decodeBody(t, res)
	assert.Equal(t, "CALCULATED", out["measurementType"])
	assert.Equal(t, "12345678901", out["marketLocationId"])
	intervals := out["intervals"].([]any)
	assert.Equal(t, "3.000000", intervals[0].(map[string]any)["quantity"])
	assert.Equal(t, "4.500000", intervals[1].(map[string]any)["quantity"])

	res = api.do(t, http.MethodGet, "/v1/calculations/CALC-missing", "", authHeaders())
	assert.Equal(t, http.StatusNotFound, res.Code)
}

func TestCalculationNotFound(t *testing.T) {
	api := newTestAPI(t)

	res := api.do(t, http.MethodPost, "/v1/calculations", `{"maloId": "12345678901", "timeSliceId": 1}`, authHeaders())
	assert.Equal(t, http.StatusNotFound, res.Code)
	assert.JSONEq(t, `{"error":"Not Found","message":"Formula for location 12345678901 not found"}`, res.Body.String())

	api.do(t, http.MethodPost, "/formula/v0.0.1", testDocument, submissionHeaders())
	res = api.do(t, http.MethodPost, "/v1/calculations", `{"maloId": "12345678901", "timeSliceId": 7}`, authHeaders())
	assert.Equal(t, http.StatusNotFound, res.Code)
	assert.JSONEq(t, `{"error":"Not Found","message":"Time slice 7 not found in formula"}`, res.Body.String())

	res = api.do(t, http.MethodPost, "/v1/calculations", `{`, authHeaders())
	assert.Equal(t, http.StatusBadRequest, res.Code)
}

func TestHealthAndIndex(t *testing.T) {
	api := newTestAPI(t)
	api.do(t, http.MethodPost, "/formula/v0.0.1", testDocument, submissionHeaders())

	res := api.do(t, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, res.Code)
	body := decodeBody(t, res)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "0.0.1", body["version"])
	stats := body["stats"].(map[string]any)
	assert.EqualValues(t, 1, stats["formulas"])
	assert.EqualValues(t, 1, stats["transactions"])

	res = api.do(t, http.MethodGet, "/", "", nil)
	require.Equal(t, http.StatusOK, res.Code)
	assert.Contains(t, decodeBody(t, res), "requiredHeaders")

	res = api.do(t, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, res.Code)

	res = api.do(t, http.MethodGet, "/nowhere", "", nil)
	assert.Equal(t, http.StatusNotFound, res.Code)
}

func TestDebugEndpoints(t *testing.T) {
	api := newTestAPI(t)
	api.srv.log.WithComponent("api").Info("debug probe")

	res := api.do(t, http.MethodGet, "/debug/logs", "", authHeaders())
	require.Equal(t, http.StatusOK, res.Code)
	assert.Contains(t, res.Body.String(), "debug probe")

	res = api.do(t, http.MethodGet, "/debug/metrics", "", authHeaders())
	assert.Equal(t, http.StatusOK, res.Code)

	res = api.do(t, http.MethodGet, "/debug/resources", "", authHeaders())
	assert.Equal(t, http.StatusOK, res.Code)

	res = api.do(t, http.MethodGet, "/debug/logs", "", nil)
	assert.Equal(t, http.StatusUnauthorized, res.Code)
}

func TestRateLimit(t *testing.T) {
	cfg := config.Default()
	cfg.Server.RateLimit.RequestsPerSecond = 0.001
	cfg.Server.RateLimit.Burst = 1

	repo := store.NewMemory()
	proc, err := processor.NewProcessor(cfg, repo)
	require.NoError(t, err)
	srv := NewServer(cfg, logger.Logger(), repo, proc, auth.NewIssuer(time.Hour, "", false))
	t.Cleanup(srv.cleanup)
	router := srv.Router()

	res := httptest.NewRecorder()
	router.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, res.Code)

	res = httptest.NewRecorder()
	router.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusTooManyRequests, res.Code)
}

func TestCORSPreflight(t *testing.T) {
	api := newTestAPI(t)

	res := api.do(t, http.MethodOptions, "/formula/v0.0.1", "", map[string]string{"Origin": "http://localhost:3000"})
	assert.Equal(t, http.StatusNoContent, res.Code)
	assert.Equal(t, "*", res.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, res.Header().Get("Access-Control-Allow-Headers"), "transactionId")
}

func TestCalculationEventStream(t *testing.T) {
	api := newTestAPI(t)
	ts := httptest.NewServer(api.router)
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/calculations/events"
	header := http.Header{}
	header.Set("Authorization", testToken)
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, header)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return api.srv.hub.Subscribers() == 1 }, time.Second, 10*time.Millisecond)

	api.do(t, http.MethodPost, "/formula/v0.0.1", testDocument, submissionHeaders())
	api.do(t, http.MethodPost, "/v1/time-series", testSeries, authHeaders())
	res := api.do(t, http.MethodPost, "/v1/calculations",
		`{"maloId": "12345678901", "timeSliceId": 1, "inputTimeSeries": {"`+testMelo+`": "TS-IN-1"}}`, authHeaders())
	require.Equal(t, http.StatusAccepted, res.Code)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var processing, completed CalculationEvent
	require.NoError(t, conn.ReadJSON(&processing))
	require.NoError(t, conn.ReadJSON(&completed))
	assert.Equal(t, "calculation.processing", processing.Type)
	assert.Equal(t, "calculation.completed", completed.Type)
	assert.Equal(t, "12345678901", completed.Calculation.LocationID)
	require.NotNil(t, completed.Calculation.IntervalsCalculated)
	assert.Equal(t, 2, *completed.Calculation.IntervalsCalculated)

	res = api.do(t, http.MethodGet, "/v1/calculations/events", "", nil)
	assert.Equal(t, http.StatusUnauthorized, res.Code)
}
