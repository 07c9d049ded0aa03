package resource

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/realtime-resource-server/infrastructure/logging"
)

// recordingBroadcaster implements Broadcaster and excludingBroadcaster,
// recording which method was invoked and with which exclude id.
type recordingBroadcaster struct {
	method    string
	excludeID string
}

func (b *recordingBroadcaster) BroadcastCreated(ctx context.Context, data interface{}) {
	b.method = "created"
}
func (b *recordingBroadcaster) BroadcastUpdated(ctx context.Context, data interface{}) {
	b.method = "updated"
}
func (b *recordingBroadcaster) BroadcastDeleted(ctx context.Context, id interface{}) {
	b.method = "deleted"
}
func (b *recordingBroadcaster) BroadcastCreatedExcluding(ctx context.Context, data interface{}, excludeClientID string) {
	b.method, b.excludeID = "created_excluding", excludeClientID
}
func (b *recordingBroadcaster) BroadcastUpdatedExcluding(ctx context.Context, data interface{}, excludeClientID string) {
	b.method, b.excludeID = "updated_excluding", excludeClientID
}
func (b *recordingBroadcaster) BroadcastDeletedExcluding(ctx context.Context, id interface{}, excludeClientID string) {
	b.method, b.excludeID = "deleted_excluding", excludeClientID
}

// plainBroadcaster implements only Broadcaster, no origin suppression.
type plainBroadcaster struct{ method string }

func (b *plainBroadcaster) BroadcastCreated(ctx context.Context, data interface{}) { b.method = "created" }
func (b *plainBroadcaster) BroadcastUpdated(ctx context.Context, data interface{}) { b.method = "updated" }
func (b *plainBroadcaster) BroadcastDeleted(ctx context.Context, id interface{})   { b.method = "deleted" }

func newTestEngineWithBroadcast(t *testing.T, broadcast Broadcaster) (*Engine[widgetInput, widgetOutput], sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	sqlxDB := sqlx.NewDb(db, "postgres")
	engine := New(Config[widgetInput, widgetOutput]{
		DB:        sqlxDB,
		Logger:    logging.New("resource-test", "error", "text"),
		Adapter:   newWidgetAdapter(),
		Broadcast: broadcast,
	})
	return engine, mock
}

func TestFanOut_UsesExcludingVariantWhenOriginSet(t *testing.T) {
	rec := &recordingBroadcaster{}
	engine, mock := newTestEngineWithBroadcast(t, rec)
	now := time.Now()

	mock.ExpectQuery(`INSERT INTO resources \(kind, attributes\) VALUES \(\$1, \$2\)`).
		WithArgs("widgets", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "kind", "attributes", "created_at", "updated_at"}).
			AddRow(int64(1), "widgets", []byte(`{"name":"gadget","count":3}`), now, now))

	_, err := engine.Create(context.Background(), widgetInput{Name: "gadget", Count: 3}, OriginClientID("client-1"))
	require.NoError(t, err)
	require.Equal(t, "created_excluding", rec.method)
	require.Equal(t, "client-1", rec.excludeID)
}

func TestFanOut_UsesPlainVariantWithoutOrigin(t *testing.T) {
	rec := &recordingBroadcaster{}
	engine, mock := newTestEngineWithBroadcast(t, rec)
	now := time.Now()

	mock.ExpectQuery(`INSERT INTO resources \(kind, attributes\) VALUES \(\$1, \$2\)`).
		WithArgs("widgets", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "kind", "attributes", "created_at", "updated_at"}).
			AddRow(int64(1), "widgets", []byte(`{"name":"gadget","count":3}`), now, now))

	_, err := engine.Create(context.Background(), widgetInput{Name: "gadget", Count: 3})
	require.NoError(t, err)
	require.Equal(t, "created", rec.method)
	require.Empty(t, rec.excludeID)
}

func TestFanOut_FallsBackWhenBroadcasterLacksExcluding(t *testing.T) {
	plain := &plainBroadcaster{}
	engine, mock := newTestEngineWithBroadcast(t, plain)
	now := time.Now()

	mock.ExpectQuery(`INSERT INTO resources \(kind, attributes\) VALUES \(\$1, \$2\)`).
		WithArgs("widgets", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "kind", "attributes", "created_at", "updated_at"}).
			AddRow(int64(1), "widgets", []byte(`{"name":"gadget","count":3}`), now, now))

	_, err := engine.Create(context.Background(), widgetInput{Name: "gadget", Count: 3}, OriginClientID("client-1"))
	require.NoError(t, err)
	require.Equal(t, "created", plain.method)
}

func TestFanOutDelete_UsesExcludingVariantWhenOriginSet(t *testing.T) {
	rec := &recordingBroadcaster{}
	engine, mock := newTestEngineWithBroadcast(t, rec)

	mock.ExpectExec(`DELETE FROM resources WHERE kind = \$1 AND id = \$2`).
		WithArgs("widgets", int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	deleted, err := engine.Delete(context.Background(), 1, OriginClientID("client-2"))
	require.NoError(t, err)
	require.True(t, deleted)
	require.Equal(t, "deleted_excluding", rec.method)
	require.Equal(t, "client-2", rec.excludeID)
}
