package kinds

import (
	"context"
	"strings"

	svcerrors "github.com/R3E-Network/realtime-resource-server/infrastructure/errors"
	"github.com/R3E-Network/realtime-resource-server/internal/filter"
	"github.com/R3E-Network/realtime-resource-server/internal/resource"
)

// PostInput is the accepted shape for POST/PATCH /posts/.
type PostInput struct {
	Title     string `json:"title"`
	Body      string `json:"body"`
	AuthorID  int64  `json:"author_id"`
	Published bool   `json:"published"`
}

// PostOutput is the publicly visible projection of a post row.
type PostOutput struct {
	ID        int64  `json:"id"`
	Title     string `json:"title"`
	Body      string `json:"body"`
	AuthorID  int64  `json:"author_id"`
	Published bool   `json:"published"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// PostAdapter binds the generic engine to the "posts" kind.
type PostAdapter struct {
	schema *filter.Schema
}

// NewPostAdapter constructs a PostAdapter with its bootstrapped filter schema.
func NewPostAdapter() *PostAdapter {
	return &PostAdapter{schema: filter.NewSchema(map[string]filter.FieldSpec{
		"title":      {Column: "title", Kind: filter.ColumnJSONAttribute},
		"author_id":  {Column: "author_id", Kind: filter.ColumnJSONAttribute},
		"published":  {Column: "published", Kind: filter.ColumnJSONAttribute},
		"created_at": {Column: "created_at", Kind: filter.ColumnTimestamp},
	})}
}

func (a *PostAdapter) Kind() string          { return "posts" }
func (a *PostAdapter) Schema() *filter.Schema { return a.schema }

func (a *PostAdapter) ValidateCreate(in PostInput) error {
	if strings.TrimSpace(in.Title) == "" {
		return svcerrors.InvalidInput("title", "must not be empty")
	}
	if in.AuthorID <= 0 {
		return svcerrors.InvalidInput("author_id", "must be a positive id")
	}
	return nil
}

func (a *PostAdapter) ValidateUpdate(partial map[string]interface{}) error {
	if raw, ok := partial["title"]; ok {
		if title, isString := raw.(string); !isString || strings.TrimSpace(title) == "" {
			return svcerrors.InvalidInput("title", "must not be empty")
		}
	}
	return nil
}

func (a *PostAdapter) ToAttributes(in PostInput) (map[string]interface{}, error) {
	return map[string]interface{}{
		"title":     in.Title,
		"body":      in.Body,
		"author_id": in.AuthorID,
		"published": in.Published,
	}, nil
}

func (a *PostAdapter) Project(row resource.Row) PostOutput {
	title, _ := row.Attributes["title"].(string)
	body, _ := row.Attributes["body"].(string)
	published, _ := row.Attributes["published"].(bool)
	authorID, _ := row.Attributes["author_id"].(float64)
	return PostOutput{
		ID:        row.ID,
		Title:     title,
		Body:      body,
		AuthorID:  int64(authorID),
		Published: published,
		CreatedAt: row.CreatedAt.UTC().Format(timeLayout),
		UpdatedAt: row.UpdatedAt.UTC().Format(timeLayout),
	}
}

// PostService wraps the generic engine with the one added domain method
// spec.md §4.1 uses as its example of permitted kind-specific logic:
// get_posts_by_user. No CRUD logic is duplicated here — GetByAuthor is a
// thin FilterPaginated call with a fixed condition.
type PostService struct {
	engine *resource.Engine[PostInput, PostOutput]
}

// NewPostService wraps an already-constructed posts engine.
func NewPostService(engine *resource.Engine[PostInput, PostOutput]) *PostService {
	return &PostService{engine: engine}
}

// Engine exposes the underlying generic engine for CRUD/filter operations.
func (s *PostService) Engine() *resource.Engine[PostInput, PostOutput] {
	return s.engine
}

// GetByAuthor returns the author's posts ordered newest first, the one
// domain-specific query spec.md names as an example.
func (s *PostService) GetByAuthor(ctx context.Context, authorID int64, limit, offset int) (resource.Page[PostOutput], error) {
	return s.engine.FilterPaginated(ctx, filter.Query{
		Conditions: []filter.Condition{
			{Field: "author_id", Operator: filter.OpEq, Value: authorID},
		},
		OrderBy:  "created_at",
		OrderDir: "desc",
		Limit:    limit,
		Offset:   offset,
	})
}
