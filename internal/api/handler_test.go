package api_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/SVKNL/payout-service/internal/api"
	"github.com/SVKNL/payout-service/internal/config"
	"github.com/SVKNL/payout-service/internal/domain"
	"github.com/SVKNL/payout-service/internal/repository/inmem"
	"github.com/SVKNL/payout-service/internal/service"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupAPI() (http.Handler, *inmem.Store) {
	store := inmem.NewStore()
	payoutSvc := service.NewPayoutService(store, nil)
	cfg := &config.Config{
		HTTPPort:       "0",
		RateLimitRPS:   1000,
		IdempotencyTTL: time.Hour,
	}
	router := api.NewRouter(cfg, zap.NewNop(), nil, nil, nil, payoutSvc)
	return router.Routes(), store
}

func createPayout(t *testing.T, client http.Handler, payload map[string]any) domain.Payout {
	t.Helper()
	body, _ := json.Marshal(payload)
	req := httptest.NewRequest("POST", "/v1/payouts", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	client.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var p domain.Payout
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &p))
	return p
}

func validPayload() map[string]any {
	return map[string]any{
		"amount":            "100.50",
		"currency":          "USD",
		"recipient_details": "recipient@example.com",
		"description":       "September invoice",
	}
}

func TestCreatePayout(t *testing.T) {
	client, store := setupAPI()

	p := createPayout(t, client, validPayload())

	assert.NotEqual(t, uuid.Nil, p.ID)
	assert.Equal(t, domain.StatusPending, p.Status)
	assert.Equal(t, "USD", p.Currency)
	assert.True(t, decimal.RequireFromString("100.50").Equal(p.Amount))
	assert.False(t, p.CreatedAt.IsZero())
	assert.Equal(t, 1, store.Len())
}

func TestCreatePayoutValidation(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(m map[string]any)
	}{
		{name: "negative_amount", mutate: func(m map[string]any) { m["amount"] = "-1.00" }},
		{name: "zero_amount", mutate: func(m map[string]any) { m["amount"] = "0" }},
		{name: "three_decimal_places", mutate: func(m map[string]any) { m["amount"] = "10.123" }},
		{name: "non_numeric_amount", mutate: func(m map[string]any) { m["amount"] = "ten" }},
		{name: "unsupported_currency", mutate: func(m map[string]any) { m["currency"] = "GBP" }},
		{name: "recipient_too_short", mutate: func(m map[string]any) { m["recipient_details"] = "abcd" }},
		{name: "client_supplied_status", mutate: func(m map[string]any) { m["status"] = "COMPLETED" }},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			client, store := setupAPI()
			payload := validPayload()
			tc.mutate(payload)

			body, _ := json.Marshal(payload)
			req := httptest.NewRequest("POST", "/v1/payouts", bytes.NewReader(body))
			req.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()
			client.ServeHTTP(w, req)

			assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
			assert.Equal(t, 0, store.Len())
		})
	}
}

func TestGetPayout(t *testing.T) {
	client, _ := setupAPI()
	p := createPayout(t, client, validPayload())

	req := httptest.NewRequest("GET", "/v1/payouts/"+p.ID.String(), nil)
	w := httptest.NewRecorder()
	client.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var got domain.Payout
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, p.ID, got.ID)
	assert.Equal(t, domain.StatusPending, got.Status)
}

func TestGetPayoutErrors(t *testing.T) {
	client, _ := setupAPI()

	cases := []struct {
		name string
		path string
		want int
	}{
		{name: "not_found", path: "/v1/payouts/" + uuid.New().String(), want: http.StatusNotFound},
		{name: "invalid_id", path: "/v1/payouts/not-a-uuid", want: http.StatusBadRequest},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", tc.path, nil)
			w := httptest.NewRecorder()
			client.ServeHTTP(w, req)
			assert.Equal(t, tc.want, w.Code)
		})
	}
}

func TestListPayoutsNewestFirst(t *testing.T) {
	client, _ := setupAPI()
	first := createPayout(t, client, validPayload())
	time.Sleep(time.Millisecond)
	second := createPayout(t, client, validPayload())

	req := httptest.NewRequest("GET", "/v1/payouts", nil)
	w := httptest.NewRecorder()
	client.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Items []domain.Payout `json:"items"`
		Count int             `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, 2, resp.Count)
	assert.Equal(t, second.ID, resp.Items[0].ID)
	assert.Equal(t, first.ID, resp.Items[1].ID)
}

func TestCreatePayoutNumericAmount(t *testing.T) {
	client, store := setupAPI()

	payload := validPayload()
	payload["amount"] = 100.5
	p := createPayout(t, client, payload)

	assert.True(t, decimal.RequireFromString("100.5").Equal(p.Amount))
	assert.Equal(t, 1, store.Len())

	payload = validPayload()
	payload["amount"] = 10.123
	body, _ := json.Marshal(payload)
	req := httptest.NewRequest("POST", "/v1/payouts", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	client.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListPayoutsLimitClamped(t *testing.T) {
	client, _ := setupAPI()
	createPayout(t, client, validPayload())

	req := httptest.NewRequest("GET", "/v1/payouts?limit=100000", nil)
	w := httptest.NewRecorder()
	client.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Limit int `json:"limit"`
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 500, resp.Limit)
	assert.Equal(t, 1, resp.Count)
}

func TestListPayoutsInvalidPaging(t *testing.T) {
	client, _ := setupAPI()

	for _, path := range []string{
		"/v1/payouts?limit=abc",
		"/v1/payouts?limit=-1",
		"/v1/payouts?offset=-2",
		"/v1/payouts?offset=4294967296",
	} {
		req := httptest.NewRequest("GET", path, nil)
		w := httptest.NewRecorder()
		client.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code, path)
	}
}

func TestUpdatePayoutStatus(t *testing.T) {
	cases := []struct {
		name   string
		status string
		want   int
	}{
		{name: "to_processing", status: "PROCESSING", want: http.StatusOK},
		{name: "to_canceled", status: "CANCELED", want: http.StatusOK},
		{name: "skip_to_completed", status: "COMPLETED", want: http.StatusBadRequest},
		{name: "skip_to_failed", status: "FAILED", want: http.StatusBadRequest},
		{name: "unknown_status", status: "ARCHIVED", want: http.StatusBadRequest},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			client, _ := setupAPI()
			p := createPayout(t, client, validPayload())

			body, _ := json.Marshal(map[string]string{"status": tc.status})
			req := httptest.NewRequest("PATCH", "/v1/payouts/"+p.ID.String(), bytes.NewReader(body))
			req.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()
			client.ServeHTTP(w, req)

			require.Equal(t, tc.want, w.Code, w.Body.String())
			if tc.want == http.StatusOK {
				var got domain.Payout
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
				assert.Equal(t, domain.Status(tc.status), got.Status)
			}
		})
	}
}

func TestUpdatePayoutImmutableFields(t *testing.T) {
	cases := []struct {
		name string
		body map[string]string
	}{
		{name: "amount", body: map[string]string{"amount": "10.00"}},
		{name: "currency", body: map[string]string{"currency": "EUR"}},
		{name: "recipient_details", body: map[string]string{"recipient_details": "other@example.com"}},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			client, _ := setupAPI()
			p := createPayout(t, client, validPayload())

			body, _ := json.Marshal(tc.body)
			req := httptest.NewRequest("PATCH", "/v1/payouts/"+p.ID.String(), bytes.NewReader(body))
			req.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()
			client.ServeHTTP(w, req)

			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestUpdatePayoutDescription(t *testing.T) {
	client, _ := setupAPI()
	p := createPayout(t, client, validPayload())

	body, _ := json.Marshal(map[string]string{"description": "updated note"})
	req := httptest.NewRequest("PATCH", "/v1/payouts/"+p.ID.String(), bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	client.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var got domain.Payout
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "updated note", got.Description)
	assert.Equal(t, domain.StatusPending, got.Status)
}

func TestDeletePayout(t *testing.T) {
	client, store := setupAPI()
	p := createPayout(t, client, validPayload())

	req := httptest.NewRequest("DELETE", "/v1/payouts/"+p.ID.String(), nil)
	w := httptest.NewRecorder()
	client.ServeHTTP(w, req)
	require.Equal(t, http.StatusNoContent, w.Code)
	require.Equal(t, 0, store.Len())

	req = httptest.NewRequest("DELETE", "/v1/payouts/"+p.ID.String(), nil)
	w = httptest.NewRecorder()
	client.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRFC7807ProblemDetails(t *testing.T) {
	client, _ := setupAPI()

	path := "/v1/payouts/" + uuid.New().String()
	req := httptest.NewRequest("GET", path, nil)
	w := httptest.NewRecorder()
	client.ServeHTTP(w, req)

	require.Equal(t, http.StatusNotFound, w.Code)
	require.Contains(t, w.Header().Get("Content-Type"), "application/problem+json")

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.NotEmpty(t, body["type"])
	assert.Equal(t, float64(http.StatusNotFound), body["status"])
	assert.NotEmpty(t, body["title"])
	assert.NotEmpty(t, body["detail"])
	assert.Equal(t, path, body["instance"])
	assert.NotEmpty(t, body["request_id"])
}

func TestHealthAndMetrics(t *testing.T) {
	client, _ := setupAPI()

	cases := []struct {
		name string
		path string
	}{
		{name: "live", path: "/healthz/live"},
		{name: "ready", path: "/healthz/ready"},
		{name: "metrics", path: "/metrics"},
		{name: "openapi", path: "/openapi.yaml"},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", tc.path, nil)
			w := httptest.NewRecorder()
			client.ServeHTTP(w, req)
			assert.Equal(t, http.StatusOK, w.Code)
		})
	}
}
