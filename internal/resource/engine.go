// Package resource implements the generic resource engine: one instance per
// entity kind providing CRUD, advanced filtering, pagination and automatic
// fan-out on mutation (spec.md §4.1).
package resource

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	svcerrors "github.com/R3E-Network/realtime-resource-server/infrastructure/errors"
	"github.com/R3E-Network/realtime-resource-server/infrastructure/logging"
	"github.com/R3E-Network/realtime-resource-server/infrastructure/store"
	"github.com/R3E-Network/realtime-resource-server/internal/filter"
)

// Broadcaster is the subset of the channel fabric the engine needs. Kinds
// bind to one channel of the same name (internal/channel.Channel satisfies
// this).
type Broadcaster interface {
	BroadcastCreated(ctx context.Context, data interface{})
	BroadcastUpdated(ctx context.Context, data interface{})
	BroadcastDeleted(ctx context.Context, id interface{})
}

// EventTrigger is the subset of the webhook dispatcher the engine needs
// (internal/webhook.Dispatcher satisfies this).
type EventTrigger interface {
	TriggerEvent(ctx context.Context, eventName string, data interface{})
}

// excludingBroadcaster is the optional origin-suppression extension of
// Broadcaster. internal/channel.Channel implements it; fanOut/fanOutDelete
// fall back to the plain Broadcaster methods when a Broadcast collaborator
// doesn't (spec.md §4.2's suppression is best-effort, not required).
type excludingBroadcaster interface {
	BroadcastCreatedExcluding(ctx context.Context, data interface{}, excludeClientID string)
	BroadcastUpdatedExcluding(ctx context.Context, data interface{}, excludeClientID string)
	BroadcastDeletedExcluding(ctx context.Context, id interface{}, excludeClientID string)
}

// Page is the result shape of filter_paginated.
type Page[Output any] struct {
	Data    []Output `json:"data"`
	Total   int64    `json:"total"`
	Limit   int      `json:"limit"`
	Offset  int      `json:"offset"`
	HasMore bool     `json:"has_more"`
}

// mutationOptions controls per-call behavior not exposed in the public
// signature, per spec.md's "a per-call boolean may suppress fan-out" note.
type mutationOptions struct {
	suppressFanout bool
	originClientID string
}

// MutationOption configures a single Create/Update/Delete call.
type MutationOption func(*mutationOptions)

// SuppressFanout disables channel broadcast and webhook triggering for one
// mutation (bulk imports, tests).
func SuppressFanout() MutationOption {
	return func(o *mutationOptions) { o.suppressFanout = true }
}

// OriginClientID marks the WebSocket client id that caused this mutation so
// the broadcast fabric can optionally exclude it (origin suppression).
func OriginClientID(id string) MutationOption {
	return func(o *mutationOptions) { o.originClientID = id }
}

// Config wires an Engine's dependencies.
type Config[Input any, Output any] struct {
	DB         *sqlx.DB
	Store      *store.Store
	Logger     *logging.Logger
	Adapter    Adapter[Input, Output]
	Broadcast  Broadcaster
	Webhooks   EventTrigger
	CacheTTL   time.Duration
}

// Engine is the generic resource engine bound to one kind by Config.Adapter.
type Engine[Input any, Output any] struct {
	db        *sqlx.DB
	store     *store.Store
	logger    *logging.Logger
	adapter   Adapter[Input, Output]
	broadcast Broadcaster
	webhooks  EventTrigger
	cacheTTL  time.Duration
}

// New constructs an Engine for one resource kind.
func New[Input any, Output any](cfg Config[Input, Output]) *Engine[Input, Output] {
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Engine[Input, Output]{
		db:        cfg.DB,
		store:     cfg.Store,
		logger:    cfg.Logger,
		adapter:   cfg.Adapter,
		broadcast: cfg.Broadcast,
		webhooks:  cfg.Webhooks,
		cacheTTL:  ttl,
	}
}

func (e *Engine[Input, Output]) kind() string { return e.adapter.Kind() }

// Kind returns the resource kind this engine is bound to, e.g. for
// building not-found errors and log fields in the HTTP layer.
func (e *Engine[Input, Output]) Kind() string { return e.adapter.Kind() }

func (e *Engine[Input, Output]) cacheKeyByID(id int64) string {
	return fmt.Sprintf("%s:id:%d", e.kind(), id)
}

func (e *Engine[Input, Output]) invalidateCache(ctx context.Context) {
	if e.store == nil {
		return
	}
	e.store.InvalidatePattern(ctx, e.kind()+":*")
}

// GetByID fetches one instance by id. Reads go through the shared-store
// cache first; a miss or store failure falls back to the database.
func (e *Engine[Input, Output]) GetByID(ctx context.Context, id int64) (Output, bool, error) {
	var zero Output
	cacheKey := e.cacheKeyByID(id)

	if e.store != nil {
		if raw, ok, err := e.store.Get(ctx, cacheKey); err != nil {
			e.logger.LogCacheFailure(ctx, cacheKey, err)
		} else if ok {
			var row Row
			if err := json.Unmarshal([]byte(raw), &row); err == nil {
				return e.adapter.Project(row), true, nil
			}
		}
	}

	row, found, err := e.fetchByID(ctx, id)
	if err != nil {
		return zero, false, svcerrors.UpstreamTransient("get_by_id", err)
	}
	if !found {
		return zero, false, nil
	}

	e.cacheRow(ctx, row)
	return e.adapter.Project(row), true, nil
}

func (e *Engine[Input, Output]) fetchByID(ctx context.Context, id int64) (Row, bool, error) {
	const q = `SELECT id, kind, attributes, created_at, updated_at FROM resources WHERE kind = $1 AND id = $2`
	row, err := e.scanOne(ctx, q, e.kind(), id)
	if err == sql.ErrNoRows {
		return Row{}, false, nil
	}
	if err != nil {
		return Row{}, false, err
	}
	return row, true, nil
}

func (e *Engine[Input, Output]) cacheRow(ctx context.Context, row Row) {
	if e.store == nil {
		return
	}
	encoded, err := json.Marshal(row)
	if err != nil {
		return
	}
	if err := e.store.Set(ctx, e.cacheKeyByID(row.ID), string(encoded), e.cacheTTL); err != nil {
		e.logger.LogCacheFailure(ctx, e.cacheKeyByID(row.ID), err)
	}
}

// GetAll returns an ordered page of instances by id ascending.
func (e *Engine[Input, Output]) GetAll(ctx context.Context, skip, limit int) ([]Output, error) {
	limit, skip = filter.NormalizePagination(limit, skip)

	const q = `SELECT id, kind, attributes, created_at, updated_at FROM resources
		WHERE kind = $1 ORDER BY id ASC LIMIT $2 OFFSET $3`
	rows, err := e.scanMany(ctx, q, e.kind(), limit, skip)
	if err != nil {
		return nil, svcerrors.UpstreamTransient("get_all", err)
	}
	return e.projectAll(rows), nil
}

// Count returns the total number of instances for this kind.
func (e *Engine[Input, Output]) Count(ctx context.Context) (int64, error) {
	const q = `SELECT count(*) FROM resources WHERE kind = $1`
	var total int64
	if err := e.db.GetContext(ctx, &total, q, e.kind()); err != nil {
		return 0, svcerrors.UpstreamTransient("count", err)
	}
	return total, nil
}

// Create validates input, persists a new row, and fans out on success.
func (e *Engine[Input, Output]) Create(ctx context.Context, input Input, opts ...MutationOption) (Output, error) {
	var zero Output
	options := applyOptions(opts)

	if err := e.adapter.ValidateCreate(input); err != nil {
		if svcerrors.GetServiceError(err) != nil {
			return zero, err
		}
		return zero, svcerrors.InvalidInput("input", err.Error())
	}
	attrs, err := e.adapter.ToAttributes(input)
	if err != nil {
		return zero, svcerrors.InvalidInput("input", err.Error())
	}

	encoded, err := json.Marshal(attrs)
	if err != nil {
		return zero, svcerrors.Internal("failed to encode attributes", err)
	}

	const q = `INSERT INTO resources (kind, attributes) VALUES ($1, $2)
		RETURNING id, kind, attributes, created_at, updated_at`
	row, err := e.scanOne(ctx, q, e.kind(), encoded)
	if err != nil {
		return zero, svcerrors.UpstreamTransient("create", err)
	}

	e.invalidateCache(ctx)
	e.cacheRow(ctx, row)

	output := e.adapter.Project(row)
	if !options.suppressFanout {
		e.fanOut(ctx, e.kind()+".created", output, options)
	}
	return output, nil
}

// Update merges partial into the stored attributes, bumps updated_at, and
// fans out on success. Returns (zero, false, nil) if id does not exist.
func (e *Engine[Input, Output]) Update(ctx context.Context, id int64, partial map[string]interface{}, opts ...MutationOption) (Output, bool, error) {
	var zero Output
	options := applyOptions(opts)

	if err := e.adapter.ValidateUpdate(partial); err != nil {
		return zero, false, err
	}

	existing, found, err := e.fetchByID(ctx, id)
	if err != nil {
		return zero, false, svcerrors.UpstreamTransient("update", err)
	}
	if !found {
		return zero, false, nil
	}

	merged := make(map[string]interface{}, len(existing.Attributes)+len(partial))
	for k, v := range existing.Attributes {
		merged[k] = v
	}
	for k, v := range partial {
		merged[k] = v
	}

	encoded, err := json.Marshal(merged)
	if err != nil {
		return zero, false, svcerrors.Internal("failed to encode attributes", err)
	}

	const q = `UPDATE resources SET attributes = $1, updated_at = now()
		WHERE kind = $2 AND id = $3
		RETURNING id, kind, attributes, created_at, updated_at`
	row, err := e.scanOne(ctx, q, encoded, e.kind(), id)
	if err != nil {
		return zero, false, svcerrors.UpstreamTransient("update", err)
	}

	e.invalidateCache(ctx)
	e.cacheRow(ctx, row)

	output := e.adapter.Project(row)
	if !options.suppressFanout {
		e.fanOut(ctx, e.kind()+".updated", output, options)
	}
	return output, true, nil
}

// Delete removes an instance by id and fans out on success.
func (e *Engine[Input, Output]) Delete(ctx context.Context, id int64, opts ...MutationOption) (bool, error) {
	options := applyOptions(opts)

	const q = `DELETE FROM resources WHERE kind = $1 AND id = $2`
	result, err := e.db.ExecContext(ctx, q, e.kind(), id)
	if err != nil {
		return false, svcerrors.UpstreamTransient("delete", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, svcerrors.UpstreamTransient("delete", err)
	}
	if affected == 0 {
		return false, nil
	}

	e.invalidateCache(ctx)
	if e.store != nil {
		if delErr := e.store.Delete(ctx, e.cacheKeyByID(id)); delErr != nil {
			e.logger.LogCacheFailure(ctx, e.cacheKeyByID(id), delErr)
		}
	}

	if !options.suppressFanout {
		e.fanOutDelete(ctx, id, options)
	}
	return true, nil
}

// Filter evaluates a structured query and returns the matching instances in
// order. Unknown fields are dropped with a logged warning, not a failure.
func (e *Engine[Input, Output]) Filter(ctx context.Context, q filter.Query) ([]Output, error) {
	schema := e.adapter.Schema()
	compiled := filter.Compile(schema, q).ShiftPlaceholders(1)
	e.logFilterWarnings(ctx, compiled)

	order := filter.OrderClause(schema, q)
	limit, offset := filter.NormalizePagination(q.Limit, q.Offset)

	sqlQ := fmt.Sprintf(`SELECT id, kind, attributes, created_at, updated_at FROM resources
		WHERE kind = $1 AND %s %s LIMIT %d OFFSET %d`, compiled.SQL, order, limit, offset)

	args := append([]interface{}{e.kind()}, compiled.Args...)
	rows, err := e.scanMany(ctx, sqlQ, args...)
	if err != nil {
		return nil, svcerrors.InvalidQuery(err.Error())
	}
	return e.projectAll(rows), nil
}

// FilterPaginated is Filter plus a total count and has_more metadata.
func (e *Engine[Input, Output]) FilterPaginated(ctx context.Context, q filter.Query) (Page[Output], error) {
	schema := e.adapter.Schema()
	compiled := filter.Compile(schema, q).ShiftPlaceholders(1)
	e.logFilterWarnings(ctx, compiled)

	limit, offset := filter.NormalizePagination(q.Limit, q.Offset)

	total, err := e.countWithCompiled(ctx, compiled)
	if err != nil {
		return Page[Output]{}, svcerrors.InvalidQuery(err.Error())
	}

	order := filter.OrderClause(schema, q)
	sqlQ := fmt.Sprintf(`SELECT id, kind, attributes, created_at, updated_at FROM resources
		WHERE kind = $1 AND %s %s LIMIT %d OFFSET %d`, compiled.SQL, order, limit, offset)
	args := append([]interface{}{e.kind()}, compiled.Args...)
	rows, err := e.scanMany(ctx, sqlQ, args...)
	if err != nil {
		return Page[Output]{}, svcerrors.InvalidQuery(err.Error())
	}

	data := e.projectAll(rows)
	return Page[Output]{
		Data:    data,
		Total:   total,
		Limit:   limit,
		Offset:  offset,
		HasMore: int64(offset+len(data)) < total,
	}, nil
}

// CountFiltered returns the number of instances matching q.
func (e *Engine[Input, Output]) CountFiltered(ctx context.Context, q filter.Query) (int64, error) {
	schema := e.adapter.Schema()
	compiled := filter.Compile(schema, q).ShiftPlaceholders(1)
	e.logFilterWarnings(ctx, compiled)
	total, err := e.countWithCompiled(ctx, compiled)
	if err != nil {
		return 0, svcerrors.InvalidQuery(err.Error())
	}
	return total, nil
}

func (e *Engine[Input, Output]) countWithCompiled(ctx context.Context, compiled filter.Compiled) (int64, error) {
	sqlQ := fmt.Sprintf(`SELECT count(*) FROM resources WHERE kind = $1 AND %s`, compiled.SQL)
	args := append([]interface{}{e.kind()}, compiled.Args...)
	var total int64
	if err := e.db.GetContext(ctx, &total, sqlQ, args...); err != nil {
		return 0, err
	}
	return total, nil
}

func (e *Engine[Input, Output]) logFilterWarnings(ctx context.Context, compiled filter.Compiled) {
	if e.logger == nil {
		return
	}
	for _, w := range compiled.Warnings {
		e.logger.WithContext(ctx).WithFields(map[string]interface{}{
			"subsystem": "resource",
			"kind":      e.kind(),
			"field":     w.Field,
			"reason":    w.Reason,
		}).Warn("filter condition dropped")
	}
}

func (e *Engine[Input, Output]) projectAll(rows []Row) []Output {
	out := make([]Output, 0, len(rows))
	for _, row := range rows {
		out = append(out, e.adapter.Project(row))
	}
	return out
}

func (e *Engine[Input, Output]) fanOut(ctx context.Context, eventName string, output Output, options mutationOptions) {
	if e.broadcast != nil {
		func() {
			defer e.recoverBroadcast(ctx)
			excluding, supportsExcluding := e.broadcast.(excludingBroadcaster)
			useExcluding := supportsExcluding && options.originClientID != ""
			switch eventName[len(e.kind())+1:] {
			case "created":
				if useExcluding {
					excluding.BroadcastCreatedExcluding(ctx, output, options.originClientID)
					return
				}
				e.broadcast.BroadcastCreated(ctx, output)
			case "updated":
				if useExcluding {
					excluding.BroadcastUpdatedExcluding(ctx, output, options.originClientID)
					return
				}
				e.broadcast.BroadcastUpdated(ctx, output)
			}
		}()
	}
	if e.webhooks != nil {
		e.webhooks.TriggerEvent(ctx, eventName, output)
	}
}

func (e *Engine[Input, Output]) fanOutDelete(ctx context.Context, id int64, options mutationOptions) {
	if e.broadcast != nil {
		func() {
			defer e.recoverBroadcast(ctx)
			if options.originClientID != "" {
				if excluding, ok := e.broadcast.(excludingBroadcaster); ok {
					excluding.BroadcastDeletedExcluding(ctx, id, options.originClientID)
					return
				}
			}
			e.broadcast.BroadcastDeleted(ctx, id)
		}()
	}
	if e.webhooks != nil {
		e.webhooks.TriggerEvent(ctx, e.kind()+".deleted", map[string]interface{}{"id": id})
	}
}

func (e *Engine[Input, Output]) recoverBroadcast(ctx context.Context) {
	if r := recover(); r != nil && e.logger != nil {
		e.logger.LogBroadcastFailure(ctx, e.kind(), fmt.Errorf("panic: %v", r))
	}
}

func applyOptions(opts []MutationOption) mutationOptions {
	var o mutationOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
