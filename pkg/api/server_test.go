package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/shopcompliance/engine/pkg/job"
	"github.com/shopcompliance/engine/pkg/model"
	"github.com/shopcompliance/engine/pkg/provider"
	"github.com/shopcompliance/engine/pkg/quota"
	"github.com/shopcompliance/engine/pkg/store"
)

type fakeIdempotencyStore struct{}

func (fakeIdempotencyStore) Get(ctx context.Context, key string, out any) error {
	return store.ErrNotFound
}
func (fakeIdempotencyStore) Store(ctx context.Context, key string, value any, ttl time.Duration) error {
	return nil
}

type fakeDegradationStore struct{}

func (fakeDegradationStore) Find(ctx context.Context, policyType, contentHash string, out any) error {
	return store.ErrNotFound
}
func (fakeDegradationStore) Store(ctx context.Context, policyType, contentHash string, result any, ttl time.Duration) error {
	return nil
}

func testServer(t *testing.T) (*Server, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	jobStore := job.NewStore(db)
	registry := provider.NewRegistry([]string{"openai"})
	tracker := quota.NewTracker(db, map[string]quota.Limits{})
	manager := provider.NewManager(registry, tracker, map[string]provider.Provider{})

	sup := job.NewSupervisor("pod-1", jobStore, fakeIdempotencyStore{}, fakeDegradationStore{}, manager, nil, job.DefaultConfig())

	s := NewServer(sup, nil, 3)
	return s, mock
}

func TestServer_SubmitReturnsPendingForNewRequest(t *testing.T) {
	s, mock := testServer(t)

	mock.ExpectExec("INSERT INTO jobs").WillReturnResult(sqlmock.NewResult(1, 1))

	body, _ := json.Marshal(model.SubmissionInput{
		ShopName:           "Acme",
		ShopSpecialization: "electronics",
		PolicyType:         model.PolicyTypeReturns,
		PolicyText:         "Returns accepted within thirty days of purchase for any reason whatsoever, no questions asked.",
	})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/analyses", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	s.echo.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp submitResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "pending", resp.Status)
	require.NotEmpty(t, resp.TaskID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestServer_SubmitRejectsInvalidInput(t *testing.T) {
	s, _ := testServer(t)

	body, _ := json.Marshal(model.SubmissionInput{ShopName: "A", ShopSpecialization: "x", PolicyType: model.PolicyTypeReturns, PolicyText: "too short"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/analyses", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	s.echo.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_HealthReportsWorkerPoolSnapshot(t *testing.T) {
	s, mock := testServer(t)
	mock.ExpectQuery("SELECT count").WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery("SELECT count").WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
}
