package queue

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/realtime-resource-server/internal/mail"
	"github.com/R3E-Network/realtime-resource-server/internal/media"
)

type fakeMediaStore struct {
	data map[string][]byte
	puts map[string][]byte
}

func newFakeMediaStore() *fakeMediaStore {
	return &fakeMediaStore{data: map[string][]byte{"src": []byte("original")}, puts: map[string][]byte{}}
}

func (f *fakeMediaStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, ok := f.data[key]
	if !ok {
		return nil, errors.New("not found")
	}
	return data, nil
}

func (f *fakeMediaStore) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	f.puts[key] = data
	return "https://example.invalid/" + key, nil
}

type fakeSender struct {
	mu  sync.Mutex
	got []mail.Message
}

func (f *fakeSender) Send(ctx context.Context, msg mail.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.got = append(f.got, msg)
	return nil
}

func TestRegisterBuiltins_MediaThumbnailPublishesProgress(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()
	fakeStore := newFakeMediaStore()
	RegisterBuiltins(q, fakeStore, mail.NoopSender{})

	var published []map[string]interface{}
	publish := func(subject string, payload interface{}) {
		published = append(published, map[string]interface{}{"subject": subject, "payload": payload})
	}

	job := &Job{ID: "job-1", Args: mustJSON(t, MediaThumbnailArgs{MediaID: 7, SourceKey: "src"})}
	fn := q.registry[FuncMediaThumbnail]
	require.NotNil(t, fn)

	require.NoError(t, fn(ctx, job, publish))
	require.Len(t, published, 3)
	require.Contains(t, fakeStore.puts, "thumbnail/src/7")
}

func TestRegisterBuiltins_MediaThumbnailPropagatesStoreError(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()
	RegisterBuiltins(q, media.NoopStore{}, mail.NoopSender{})

	job := &Job{ID: "job-1", Args: mustJSON(t, MediaThumbnailArgs{MediaID: 7, SourceKey: "missing"})}
	fn := q.registry[FuncMediaOptimize]
	require.NotNil(t, fn)

	err := fn(ctx, job, func(string, interface{}) {})
	require.ErrorIs(t, err, media.ErrNotConfigured)
}

func TestRegisterBuiltins_EmailSendDeliversMessage(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()
	sender := &fakeSender{}
	RegisterBuiltins(q, media.NoopStore{}, sender)

	job := &Job{ID: "job-2", Args: mustJSON(t, EmailSendArgs{To: "a@example.com", Subject: "hi", Body: "body"})}
	fn := q.registry[FuncEmailSend]
	require.NotNil(t, fn)

	require.NoError(t, fn(ctx, job, func(string, interface{}) {}))
	require.Len(t, sender.got, 1)
	require.Equal(t, "a@example.com", sender.got[0].To)
}

func TestRegisterBuiltins_EmailBulkSendNotifiesPerRecipient(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()
	sender := &fakeSender{}
	RegisterBuiltins(q, media.NoopStore{}, sender)

	job := &Job{ID: "job-3", Args: mustJSON(t, EmailBulkSendArgs{
		Recipients:    []string{"a@example.com", "b@example.com"},
		Subject:       "hi",
		Body:          "body",
		RatePerSecond: 1000,
	})}
	fn := q.registry[FuncEmailBulkSend]
	require.NotNil(t, fn)

	var notified []string
	err := fn(ctx, job, func(subject string, payload interface{}) {
		notified = append(notified, subject)
	})
	require.NoError(t, err)
	require.Len(t, sender.got, 2)
	require.Len(t, notified, 2)
}

func mustJSON(t *testing.T, v interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}
