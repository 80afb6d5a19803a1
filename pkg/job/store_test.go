package job

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopcompliance/engine/pkg/model"
	"github.com/stretchr/testify/require"
)

func jobRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"job_id", "idempotency_key", "content_hash", "shop_name", "specialization",
		"policy_type", "policy_text", "status", "current_stage", "total_stages",
		"progress_message", "completed_stages", "result", "error_record", "retry_count",
		"created_at", "updated_at", "completed_at",
	})
}

func TestStore_ClaimNext_SkipsJobsNotYetDueForRetry(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT job_id FROM jobs\\s+WHERE status = 'PENDING' AND next_attempt_at <= now\\(\\)").
		WillReturnRows(sqlmock.NewRows([]string{"job_id"}).AddRow("job-1"))
	mock.ExpectExec("UPDATE jobs SET status = 'RUNNING'").
		WithArgs("job-1", "pod-a").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT job_id, idempotency_key").
		WillReturnRows(jobRows().AddRow("job-1", "idem-1", "hash-1", "shop", "bakery",
			string(model.PolicyTypeReturns), "policy text", "RUNNING", 0, 0, "", []byte("[]"),
			nil, nil, 1, time.Now(), time.Now(), nil))
	mock.ExpectCommit()

	s := NewStore(db)
	j, err := s.ClaimNext(context.Background(), "pod-a")
	require.NoError(t, err)
	require.Equal(t, "job-1", j.JobID)
	require.Equal(t, 1, j.RetryCount)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Reschedule_BumpsRetryCountAndDefersNextAttempt(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	notBefore := time.Now().Add(time.Minute)
	mock.ExpectExec("UPDATE jobs SET status = 'PENDING', pod_id = NULL, retry_count = retry_count \\+ 1").
		WithArgs("job-9", notBefore).
		WillReturnResult(sqlmock.NewResult(0, 1))

	s := NewStore(db)
	err = s.Reschedule(context.Background(), "job-9", notBefore)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
