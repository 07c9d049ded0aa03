package webhook

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
)

func newTestRepository(t *testing.T) (*repository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	sqlxDB := sqlx.NewDb(db, "postgres")
	return newRepository(sqlxDB), mock
}

func TestRepositoryCreate(t *testing.T) {
	repo, mock := newTestRepository(t)
	mock.ExpectExec("INSERT INTO webhook_subscriptions").
		WillReturnResult(sqlmock.NewResult(0, 1))

	now := time.Now().UTC()
	sub := &Subscription{
		ID: "sub_1", URL: "https://example.com/hook", Events: []string{"user.created"},
		Secret: "shh", Active: true, MaxRetries: 5, BaseBackoffSeconds: 1, TimeoutSeconds: 10,
		CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, repo.create(context.Background(), sub))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryGetByID_NotFound(t *testing.T) {
	repo, mock := newTestRepository(t)
	mock.ExpectQuery("SELECT .* FROM webhook_subscriptions").
		WithArgs("sub_missing").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "url", "events", "filter", "secret", "headers", "active", "max_retries",
			"base_backoff_seconds", "timeout_seconds", "total_deliveries", "successful_deliveries",
			"failed_deliveries", "last_delivery_at", "last_success_at", "last_failure_at",
			"created_at", "updated_at",
		}))

	_, err := repo.getByID(context.Background(), "sub_missing")
	require.ErrorIs(t, err, ErrSubscriptionNotFound)
}

func TestRepositoryRecordDelivery_UpdatesCounters(t *testing.T) {
	repo, mock := newTestRepository(t)
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO webhook_deliveries").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE webhook_subscriptions").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	subID := "sub_1"
	record := &Delivery{
		ID: "del_1", SubscriptionID: &subID, Event: "user.created", Payload: []byte(`{}`),
		Method: "POST", URL: "https://example.com/hook", Success: true, CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, repo.recordDelivery(context.Background(), record))
	require.NoError(t, mock.ExpectationsWereMet())
}
