package api_test

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/SVKNL/payout-service/internal/api"
	"github.com/SVKNL/payout-service/internal/config"
	"github.com/SVKNL/payout-service/internal/domain"
	"github.com/SVKNL/payout-service/internal/idempotency"
	"github.com/SVKNL/payout-service/internal/repository/inmem"
	"github.com/SVKNL/payout-service/internal/service"
	"github.com/SVKNL/payout-service/internal/testutil/dblock"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	_ = godotenv.Load("../../.env") // Load from root
}

// setupIdempotentAPI wires the router with a real Postgres-backed idempotency
// store (Redis absent) and the in-memory payout store.
func setupIdempotentAPI(t *testing.T) (http.Handler, *idempotency.Store, *inmem.Store) {
	t.Helper()
	if os.Getenv("DATABASE_URL") == "" {
		t.Skip("Skipping integration test: DATABASE_URL not set")
	}

	release := dblock.Acquire()
	t.Cleanup(release)

	pool, err := pgxpool.New(context.Background(), os.Getenv("DATABASE_URL"))
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	ctx := context.Background()
	require.NoError(t, pool.Ping(ctx))
	_, err = pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS idempotency_keys (
			key TEXT PRIMARY KEY,
			request_hash TEXT NOT NULL,
			response_status INT NOT NULL DEFAULT 0,
			response_body BYTEA,
			content_type TEXT NOT NULL DEFAULT '',
			finalized BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			expires_at TIMESTAMPTZ NOT NULL
		)
	`)
	require.NoError(t, err)
	_, err = pool.Exec(ctx, "TRUNCATE TABLE idempotency_keys")
	require.NoError(t, err)

	store := inmem.NewStore()
	payoutSvc := service.NewPayoutService(store, nil)
	idemStore := idempotency.NewStore(nil, pool, time.Hour)
	cfg := &config.Config{
		HTTPPort:       "0",
		RateLimitRPS:   1000,
		IdempotencyTTL: time.Hour,
	}
	router := api.NewRouter(cfg, zap.NewNop(), nil, nil, idemStore, payoutSvc)
	return router.Routes(), idemStore, store
}

func postPayout(client http.Handler, key string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest("POST", "/v1/payouts", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	w := httptest.NewRecorder()
	client.ServeHTTP(w, req)
	return w
}

// requestHash mirrors the middleware's fingerprint of method, path and body.
func requestHash(body []byte) string {
	sum := sha256.Sum256(append([]byte("POST|/v1/payouts|"), body...))
	return hex.EncodeToString(sum[:])
}

func TestIdempotentCreateReplaysResponse(t *testing.T) {
	client, _, store := setupIdempotentAPI(t)

	body, _ := json.Marshal(validPayload())
	key := uuid.New().String()

	first := postPayout(client, key, body)
	require.Equal(t, http.StatusCreated, first.Code, first.Body.String())
	var created domain.Payout
	require.NoError(t, json.Unmarshal(first.Body.Bytes(), &created))

	second := postPayout(client, key, body)
	require.Equal(t, http.StatusCreated, second.Code)
	require.NotEmpty(t, second.Header().Get("X-Idempotent-Replay"))

	var replayed domain.Payout
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &replayed))
	assert.Equal(t, created.ID, replayed.ID)
	assert.Equal(t, 1, store.Len())
}

func TestIdempotencyKeyRequired(t *testing.T) {
	client, _, store := setupIdempotentAPI(t)

	body, _ := json.Marshal(validPayload())
	w := postPayout(client, "", body)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, 0, store.Len())
}

func TestIdempotencyKeyBodyMismatch(t *testing.T) {
	client, _, store := setupIdempotentAPI(t)

	key := uuid.New().String()
	body, _ := json.Marshal(validPayload())
	first := postPayout(client, key, body)
	require.Equal(t, http.StatusCreated, first.Code)

	other := validPayload()
	other["amount"] = "99.99"
	otherBody, _ := json.Marshal(other)
	second := postPayout(client, key, otherBody)

	require.Equal(t, http.StatusConflict, second.Code)
	require.Contains(t, second.Header().Get("Content-Type"), "application/problem+json")
	var problemBody map[string]any
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &problemBody))
	assert.Contains(t, problemBody["type"], "idempotency/key-conflict")
	assert.Equal(t, 1, store.Len())
}

func TestIdempotencyWaitsForLiveReservation(t *testing.T) {
	client, idemStore, store := setupIdempotentAPI(t)
	ctx := context.Background()

	body, _ := json.Marshal(validPayload())
	key := uuid.New().String()
	hash := requestHash(body)

	// Another request holds the reservation.
	reserved, err := idemStore.Reserve(ctx, key, hash)
	require.NoError(t, err)
	require.True(t, reserved)

	done := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		done <- postPayout(client, key, body)
	}()

	// The duplicate must be waiting, not conflicting. Finalize on behalf of
	// the reservation owner and expect the recorded response to be replayed.
	time.Sleep(150 * time.Millisecond)
	recorded := []byte(`{"id":"` + uuid.New().String() + `","status":"PENDING"}`)
	require.NoError(t, idemStore.Finalize(ctx, key, hash, http.StatusCreated, recorded, "application/json"))

	select {
	case w := <-done:
		require.Equal(t, http.StatusCreated, w.Code)
		require.NotEmpty(t, w.Header().Get("X-Idempotent-Replay"))
		assert.JSONEq(t, string(recorded), w.Body.String())
	case <-time.After(5 * time.Second):
		t.Fatal("duplicate request never completed")
	}

	// The handler never ran for the duplicate.
	assert.Equal(t, 0, store.Len())
}

func TestIdempotencyWaitGivesUpWithConflict(t *testing.T) {
	client, idemStore, _ := setupIdempotentAPI(t)
	ctx := context.Background()

	body, _ := json.Marshal(validPayload())
	key := uuid.New().String()
	hash := requestHash(body)

	reserved, err := idemStore.Reserve(ctx, key, hash)
	require.NoError(t, err)
	require.True(t, reserved)

	reqCtx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest("POST", "/v1/payouts", bytes.NewReader(body)).WithContext(reqCtx)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", key)
	w := httptest.NewRecorder()
	client.ServeHTTP(w, req)

	require.Equal(t, http.StatusConflict, w.Code)
	var problemBody map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &problemBody))
	assert.Contains(t, problemBody["type"], "idempotency/in-progress")
}
