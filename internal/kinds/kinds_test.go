package kinds

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/realtime-resource-server/internal/resource"
)

func TestUserAdapter_ValidateCreate(t *testing.T) {
	a := NewUserAdapter()

	require.Error(t, a.ValidateCreate(UserInput{}))
	require.Error(t, a.ValidateCreate(UserInput{Provider: "google", ProviderUserID: "x1", Email: "not-an-email"}))
	require.NoError(t, a.ValidateCreate(UserInput{Provider: "google", ProviderUserID: "x1", Email: "a@b.com"}))
}

func TestUserAdapter_ProjectDefaultsRole(t *testing.T) {
	a := NewUserAdapter()
	attrs, err := a.ToAttributes(UserInput{Provider: "google", ProviderUserID: "x1", Email: "a@b.com"})
	require.NoError(t, err)
	require.Equal(t, "user", attrs["role"])

	now := time.Now()
	out := a.Project(resource.Row{ID: 1, Attributes: attrs, CreatedAt: now, UpdatedAt: now})
	require.Equal(t, int64(1), out.ID)
	require.Equal(t, "a@b.com", out.Email)
	require.Equal(t, "user", out.Role)
}

func TestMediaAdapter_ValidateCreate_EnforcesMaxSize(t *testing.T) {
	a := NewMediaAdapter(1024)
	require.Error(t, a.ValidateCreate(MediaInput{Filename: "f", SourceKey: "k", SizeBytes: 2048}))
	require.NoError(t, a.ValidateCreate(MediaInput{Filename: "f", SourceKey: "k", SizeBytes: 512}))
}

func TestMediaAdapter_ValidateUpdate_RejectsUnknownStatus(t *testing.T) {
	a := NewMediaAdapter(0)
	require.Error(t, a.ValidateUpdate(map[string]interface{}{"status": "bogus"}))
	require.NoError(t, a.ValidateUpdate(map[string]interface{}{"status": MediaStatusReady}))
}

func TestMediaAdapter_ToAttributes_StartsUploaded(t *testing.T) {
	a := NewMediaAdapter(0)
	attrs, err := a.ToAttributes(MediaInput{Filename: "f.png", SourceKey: "uploads/f.png"})
	require.NoError(t, err)
	require.Equal(t, MediaStatusUploaded, attrs["status"])
}

func TestPostAdapter_ValidateCreate(t *testing.T) {
	a := NewPostAdapter()
	require.Error(t, a.ValidateCreate(PostInput{Title: "hi"}))
	require.Error(t, a.ValidateCreate(PostInput{AuthorID: 1}))
	require.NoError(t, a.ValidateCreate(PostInput{Title: "hi", AuthorID: 1}))
}

func TestPostAdapter_Project(t *testing.T) {
	a := NewPostAdapter()
	now := time.Now()
	row := resource.Row{
		ID: 7,
		Attributes: map[string]interface{}{
			"title": "hello", "body": "world", "author_id": float64(3), "published": true,
		},
		CreatedAt: now, UpdatedAt: now,
	}
	out := a.Project(row)
	require.Equal(t, int64(7), out.ID)
	require.Equal(t, int64(3), out.AuthorID)
	require.True(t, out.Published)
}
