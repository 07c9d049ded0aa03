package kinds

import (
	"strings"

	svcerrors "github.com/R3E-Network/realtime-resource-server/infrastructure/errors"
	"github.com/R3E-Network/realtime-resource-server/internal/filter"
	"github.com/R3E-Network/realtime-resource-server/internal/resource"
)

// Media lifecycle states. A row starts "uploaded" and transitions to
// "processing" then "ready" (or "failed") as the media.thumbnail /
// media.optimize job families run (see internal/queue/jobs.go).
const (
	MediaStatusUploaded   = "uploaded"
	MediaStatusProcessing = "processing"
	MediaStatusReady      = "ready"
	MediaStatusFailed     = "failed"
)

// MediaInput is the accepted shape for POST /media/.
type MediaInput struct {
	Filename    string `json:"filename"`
	SourceKey   string `json:"source_key"`
	ContentType string `json:"content_type"`
	SizeBytes   int64  `json:"size_bytes"`
	OwnerID     int64  `json:"owner_id"`
}

// MediaOutput is the publicly visible projection of a media row.
type MediaOutput struct {
	ID          int64  `json:"id"`
	Filename    string `json:"filename"`
	SourceKey   string `json:"source_key"`
	ContentType string `json:"content_type"`
	SizeBytes   int64  `json:"size_bytes"`
	OwnerID     int64  `json:"owner_id"`
	Status      string `json:"status"`
	URL         string `json:"url,omitempty"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

// MediaAdapter binds the generic engine to the "media" kind.
type MediaAdapter struct {
	schema  *filter.Schema
	maxSize int64
}

// NewMediaAdapter constructs a MediaAdapter. maxSizeBytes enforces
// spec.md §6's MAX_FILE_SIZE config key at ValidateCreate time; 0 disables
// the check.
func NewMediaAdapter(maxSizeBytes int64) *MediaAdapter {
	return &MediaAdapter{
		maxSize: maxSizeBytes,
		schema: filter.NewSchema(map[string]filter.FieldSpec{
			"filename":     {Column: "filename", Kind: filter.ColumnJSONAttribute},
			"content_type": {Column: "content_type", Kind: filter.ColumnJSONAttribute},
			"status":       {Column: "status", Kind: filter.ColumnJSONAttribute},
			"owner_id":     {Column: "owner_id", Kind: filter.ColumnJSONAttribute},
			"size_bytes":   {Column: "size_bytes", Kind: filter.ColumnJSONAttribute},
		}),
	}
}

func (a *MediaAdapter) Kind() string          { return "media" }
func (a *MediaAdapter) Schema() *filter.Schema { return a.schema }

func (a *MediaAdapter) ValidateCreate(in MediaInput) error {
	if strings.TrimSpace(in.Filename) == "" {
		return svcerrors.InvalidInput("filename", "must not be empty")
	}
	if strings.TrimSpace(in.SourceKey) == "" {
		return svcerrors.InvalidInput("source_key", "must not be empty")
	}
	if a.maxSize > 0 && in.SizeBytes > a.maxSize {
		return svcerrors.OutOfRange("size_bytes", 0, a.maxSize)
	}
	return nil
}

func (a *MediaAdapter) ValidateUpdate(partial map[string]interface{}) error {
	if raw, ok := partial["status"]; ok {
		status, isString := raw.(string)
		if !isString || !validMediaStatus(status) {
			return svcerrors.InvalidInput("status", "must be one of uploaded, processing, ready, failed")
		}
	}
	return nil
}

func validMediaStatus(s string) bool {
	switch s {
	case MediaStatusUploaded, MediaStatusProcessing, MediaStatusReady, MediaStatusFailed:
		return true
	default:
		return false
	}
}

func (a *MediaAdapter) ToAttributes(in MediaInput) (map[string]interface{}, error) {
	return map[string]interface{}{
		"filename":     in.Filename,
		"source_key":   in.SourceKey,
		"content_type": in.ContentType,
		"size_bytes":   in.SizeBytes,
		"owner_id":     in.OwnerID,
		"status":       MediaStatusUploaded,
	}, nil
}

func (a *MediaAdapter) Project(row resource.Row) MediaOutput {
	filename, _ := row.Attributes["filename"].(string)
	sourceKey, _ := row.Attributes["source_key"].(string)
	contentType, _ := row.Attributes["content_type"].(string)
	status, _ := row.Attributes["status"].(string)
	url, _ := row.Attributes["url"].(string)
	sizeBytes, _ := row.Attributes["size_bytes"].(float64)
	ownerID, _ := row.Attributes["owner_id"].(float64)
	return MediaOutput{
		ID:          row.ID,
		Filename:    filename,
		SourceKey:   sourceKey,
		ContentType: contentType,
		SizeBytes:   int64(sizeBytes),
		OwnerID:     int64(ownerID),
		Status:      status,
		URL:         url,
		CreatedAt:   row.CreatedAt.UTC().Format(timeLayout),
		UpdatedAt:   row.UpdatedAt.UTC().Format(timeLayout),
	}
}
