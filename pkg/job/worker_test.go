package job

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopcompliance/engine/pkg/model"
	"github.com/stretchr/testify/require"
)

func discardTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testWorker(cfg Config) *worker {
	sup := &Supervisor{cfg: cfg, logger: discardTestLogger()}
	return newWorker("w-1", sup, nil)
}

func TestWorker_ShouldRetry_RetryableKindWithinBudget(t *testing.T) {
	w := testWorker(Config{MaxRetries: 3, RetryBackoff: 60 * time.Second})
	j := &model.Job{RetryCount: 1}
	record := &model.ErrorRecord{Kind: model.ErrorKindTimeout}
	require.True(t, w.shouldRetry(j, record))
}

func TestWorker_ShouldRetry_ExhaustedBudgetFails(t *testing.T) {
	w := testWorker(Config{MaxRetries: 3, RetryBackoff: 60 * time.Second})
	j := &model.Job{RetryCount: 3}
	record := &model.ErrorRecord{Kind: model.ErrorKindServerError}
	require.False(t, w.shouldRetry(j, record))
}

func TestWorker_ShouldRetry_NonRetryableKindNeverRetries(t *testing.T) {
	w := testWorker(Config{MaxRetries: 3, RetryBackoff: 60 * time.Second})
	j := &model.Job{RetryCount: 0}
	for _, kind := range []model.ErrorKind{
		model.ErrorKindQuotaExceeded, model.ErrorKindAuthentication,
		model.ErrorKindValidation, model.ErrorKindCancelled, model.ErrorKindUnknown,
	} {
		require.False(t, w.shouldRetry(j, &model.ErrorRecord{Kind: kind}), "kind %s must not retry", kind)
	}
}

func TestWorker_Retry_ReschedulesJobWithBackingOffDelay(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("UPDATE jobs SET status = 'PENDING', pod_id = NULL, retry_count = retry_count \\+ 1").
		WithArgs("job-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	w := testWorker(Config{MaxRetries: 3, RetryBackoff: time.Second})
	w.sup.store = NewStore(db)
	w.sup.logger = discardTestLogger()

	j := &model.Job{JobID: "job-1", RetryCount: 0}
	record := &model.ErrorRecord{Kind: model.ErrorKindNetwork}
	w.retry(context.Background(), j, record, w.sup.logger)

	require.NoError(t, mock.ExpectationsWereMet())
}
