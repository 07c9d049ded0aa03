// Package kinds supplies the concrete resource-kind adapters spec.md §2
// names as examples (`users`, `media`, `posts`). Each adapter is the schema
// triple plus the six Adapter methods; no CRUD code lives here, only the
// per-kind domain shape and validation.
package kinds

import (
	"strings"

	svcerrors "github.com/R3E-Network/realtime-resource-server/infrastructure/errors"
	"github.com/R3E-Network/realtime-resource-server/internal/filter"
	"github.com/R3E-Network/realtime-resource-server/internal/resource"
)

// UserInput is the accepted shape for POST/PATCH /users/.
type UserInput struct {
	Provider       string `json:"provider"`
	ProviderUserID string `json:"provider_user_id"`
	Email          string `json:"email"`
	Role           string `json:"role"`
}

// UserOutput is the publicly visible projection of a user row.
type UserOutput struct {
	ID             int64  `json:"id"`
	Provider       string `json:"provider"`
	ProviderUserID string `json:"provider_user_id"`
	Email          string `json:"email"`
	Role           string `json:"role"`
	CreatedAt      string `json:"created_at"`
	UpdatedAt      string `json:"updated_at"`
}

// UserAdapter binds the generic engine to the "users" kind.
type UserAdapter struct {
	schema *filter.Schema
}

// NewUserAdapter constructs a UserAdapter with its bootstrapped filter schema.
func NewUserAdapter() *UserAdapter {
	return &UserAdapter{schema: filter.NewSchema(map[string]filter.FieldSpec{
		"provider":         {Column: "provider", Kind: filter.ColumnJSONAttribute},
		"provider_user_id": {Column: "provider_user_id", Kind: filter.ColumnJSONAttribute},
		"email":            {Column: "email", Kind: filter.ColumnJSONAttribute},
		"role":             {Column: "role", Kind: filter.ColumnJSONAttribute},
		"created_at":       {Column: "created_at", Kind: filter.ColumnTimestamp},
	})}
}

func (a *UserAdapter) Kind() string          { return "users" }
func (a *UserAdapter) Schema() *filter.Schema { return a.schema }

func (a *UserAdapter) ValidateCreate(in UserInput) error {
	if strings.TrimSpace(in.Provider) == "" {
		return svcerrors.InvalidInput("provider", "must not be empty")
	}
	if strings.TrimSpace(in.ProviderUserID) == "" {
		return svcerrors.InvalidInput("provider_user_id", "must not be empty")
	}
	if !strings.Contains(in.Email, "@") {
		return svcerrors.InvalidFormat("email", "user@example.com")
	}
	return nil
}

func (a *UserAdapter) ValidateUpdate(partial map[string]interface{}) error {
	if raw, ok := partial["email"]; ok {
		email, isString := raw.(string)
		if !isString || !strings.Contains(email, "@") {
			return svcerrors.InvalidFormat("email", "user@example.com")
		}
	}
	return nil
}

func (a *UserAdapter) ToAttributes(in UserInput) (map[string]interface{}, error) {
	role := in.Role
	if role == "" {
		role = "user"
	}
	return map[string]interface{}{
		"provider":         in.Provider,
		"provider_user_id": in.ProviderUserID,
		"email":            in.Email,
		"role":             role,
	}, nil
}

func (a *UserAdapter) Project(row resource.Row) UserOutput {
	provider, _ := row.Attributes["provider"].(string)
	providerUserID, _ := row.Attributes["provider_user_id"].(string)
	email, _ := row.Attributes["email"].(string)
	role, _ := row.Attributes["role"].(string)
	return UserOutput{
		ID:             row.ID,
		Provider:       provider,
		ProviderUserID: providerUserID,
		Email:          email,
		Role:           role,
		CreatedAt:      row.CreatedAt.UTC().Format(timeLayout),
		UpdatedAt:      row.UpdatedAt.UTC().Format(timeLayout),
	}
}

const timeLayout = "2006-01-02T15:04:05.000Z"
