package resource

import (
	"context"
	"encoding/json"
	"time"
)

// dbRow mirrors the resources table's column shapes for sqlx scanning;
// Attributes arrives as raw JSONB bytes and is decoded into Row.Attributes.
type dbRow struct {
	ID         int64     `db:"id"`
	Kind       string    `db:"kind"`
	Attributes []byte    `db:"attributes"`
	CreatedAt  time.Time `db:"created_at"`
	UpdatedAt  time.Time `db:"updated_at"`
}

func (r dbRow) toRow() (Row, error) {
	attrs := make(map[string]interface{})
	if len(r.Attributes) > 0 {
		if err := json.Unmarshal(r.Attributes, &attrs); err != nil {
			return Row{}, err
		}
	}
	return Row{
		ID:         r.ID,
		Kind:       r.Kind,
		Attributes: attrs,
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}, nil
}

func (e *Engine[Input, Output]) scanOne(ctx context.Context, query string, args ...interface{}) (Row, error) {
	var raw dbRow
	if err := e.db.GetContext(ctx, &raw, query, args...); err != nil {
		return Row{}, err
	}
	return raw.toRow()
}

func (e *Engine[Input, Output]) scanMany(ctx context.Context, query string, args ...interface{}) ([]Row, error) {
	var raws []dbRow
	if err := e.db.SelectContext(ctx, &raws, query, args...); err != nil {
		return nil, err
	}
	rows := make([]Row, 0, len(raws))
	for _, raw := range raws {
		row, err := raw.toRow()
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}
