// Package filter implements the resource engine's advanced query language: a
// recursive condition tree compiled once per kind into a parameterized SQL
// WHERE clause, rather than reflected per request.
package filter

import (
	"fmt"
	"regexp"
	"strings"
)

// Operator is one of the comparison, substring, membership or presence
// operators spec.md §4.1 enumerates.
type Operator string

const (
	OpEq         Operator = "eq"
	OpNe         Operator = "ne"
	OpGt         Operator = "gt"
	OpGte        Operator = "gte"
	OpLt         Operator = "lt"
	OpLte        Operator = "lte"
	OpContains   Operator = "contains"
	OpIContains  Operator = "icontains"
	OpStartsWith Operator = "startswith"
	OpEndsWith   Operator = "endswith"
	OpIn         Operator = "in"
	OpNotIn      Operator = "not_in"
	OpIsNull     Operator = "is_null"
	OpIsNotNull  Operator = "is_not_null"
)

// GroupOperator combines nested conditions.
type GroupOperator string

const (
	GroupAnd GroupOperator = "and"
	GroupOr  GroupOperator = "or"
)

// Condition is one node of the recursive query tree: either a leaf
// {field, operator, value} or a group {conditions, operator}. Exactly one
// of Field or Conditions is set.
type Condition struct {
	Field     string        `json:"field,omitempty"`
	Operator  Operator      `json:"operator,omitempty"`
	Value     interface{}   `json:"value,omitempty"`
	Group     GroupOperator `json:"group_operator,omitempty"`
	Conditions []Condition  `json:"conditions,omitempty"`
}

// IsGroup reports whether c is a group node rather than a leaf.
func (c Condition) IsGroup() bool {
	return len(c.Conditions) > 0 || c.Field == "" && c.Operator == ""
}

// Query is the top-level request shape for filter/filter_paginated.
type Query struct {
	Conditions []Condition `json:"conditions"`
	Operator   GroupOperator `json:"operator"`
	OrderBy    string        `json:"order_by"`
	OrderDir   string        `json:"order_dir"`
	Limit      int           `json:"limit"`
	Offset     int           `json:"offset"`
}

// ColumnKind describes how a known field is stored, driving which operators
// are legal and how its SQL predicate is generated.
type ColumnKind int

const (
	// ColumnText is a plain text/varchar column.
	ColumnText ColumnKind = iota
	// ColumnNumber is an integer/float column.
	ColumnNumber
	// ColumnBool is a boolean column.
	ColumnBool
	// ColumnTimestamp is a timestamptz column.
	ColumnTimestamp
	// ColumnJSONAttribute is a field nested inside the kind's JSONB
	// attributes blob, addressed with a Postgres `->>` path.
	ColumnJSONAttribute
)

// FieldSpec describes one filterable field of a kind, bootstrapped once at
// service construction time per SPEC_FULL.md's "operator table keyed by
// (column-kind, operator), not reflected per request" resolution of
// spec.md's Open Question on dynamic type reflection.
type FieldSpec struct {
	Column string
	Kind   ColumnKind
}

// Schema is the bootstrapped field table for one kind, built once when the
// resource engine is constructed for that kind.
type Schema struct {
	Fields map[string]FieldSpec
	// IDColumn is the tie-break column appended to every ORDER BY.
	IDColumn string
}

// NewSchema constructs a Schema from a field table. The id column is always
// registered as a ColumnNumber field named "id" unless overridden.
func NewSchema(fields map[string]FieldSpec) *Schema {
	s := &Schema{Fields: make(map[string]FieldSpec, len(fields)+1), IDColumn: "id"}
	for name, spec := range fields {
		s.Fields[name] = spec
	}
	if _, ok := s.Fields["id"]; !ok {
		s.Fields["id"] = FieldSpec{Column: "id", Kind: ColumnNumber}
	}
	return s
}

// allowedOperators is the operator table keyed by column kind, bootstrapped
// once at package init rather than per request.
var allowedOperators = map[ColumnKind]map[Operator]bool{
	ColumnText: {
		OpEq: true, OpNe: true, OpContains: true, OpIContains: true,
		OpStartsWith: true, OpEndsWith: true, OpIn: true, OpNotIn: true,
		OpIsNull: true, OpIsNotNull: true,
	},
	ColumnNumber: {
		OpEq: true, OpNe: true, OpGt: true, OpGte: true, OpLt: true, OpLte: true,
		OpIn: true, OpNotIn: true, OpIsNull: true, OpIsNotNull: true,
	},
	ColumnBool: {
		OpEq: true, OpNe: true, OpIsNull: true, OpIsNotNull: true,
	},
	ColumnTimestamp: {
		OpEq: true, OpNe: true, OpGt: true, OpGte: true, OpLt: true, OpLte: true,
		OpIsNull: true, OpIsNotNull: true,
	},
	ColumnJSONAttribute: {
		OpEq: true, OpNe: true, OpGt: true, OpGte: true, OpLt: true, OpLte: true,
		OpContains: true, OpIContains: true, OpStartsWith: true, OpEndsWith: true,
		OpIn: true, OpNotIn: true, OpIsNull: true, OpIsNotNull: true,
	},
}

// Warning is a non-fatal compile note (unknown field, unsupported operator)
// per spec.md's "unknown field names are silently dropped with a warning".
type Warning struct {
	Field  string
	Reason string
}

// Compiled is a SQL WHERE fragment plus its positional arguments.
type Compiled struct {
	SQL      string
	Args     []interface{}
	Warnings []Warning
}

// Compile turns a Query into a parameterized SQL WHERE clause (without the
// "WHERE" keyword). It emits no ORDER BY / LIMIT / OFFSET: ordering comes
// from OrderClause and paging bounds from NormalizePagination. An empty
// condition set compiles to "TRUE" (match-all), per spec.md's no-op rule.
func Compile(schema *Schema, q Query) Compiled {
	argN := 0
	var warnings []Warning

	groupOp := q.Operator
	if groupOp == "" {
		groupOp = GroupAnd
	}

	root := Condition{Conditions: q.Conditions, Group: groupOp}
	sql, args := compileNode(schema, root, &argN, &warnings)
	if sql == "" {
		sql = "TRUE"
	}

	return Compiled{SQL: sql, Args: args, Warnings: warnings}
}

var placeholderRE = regexp.MustCompile(`\$(\d+)`)

// ShiftPlaceholders renumbers c's "$N" positional placeholders so they start
// after offset, used when the caller has already bound leading arguments
// (e.g. the kind column) ahead of the compiled WHERE fragment.
func (c Compiled) ShiftPlaceholders(offset int) Compiled {
	if offset == 0 {
		return c
	}
	shifted := placeholderRE.ReplaceAllStringFunc(c.SQL, func(m string) string {
		n := 0
		fmt.Sscanf(m, "$%d", &n)
		return fmt.Sprintf("$%d", n+offset)
	})
	c.SQL = shifted
	return c
}

func compileNode(schema *Schema, c Condition, argN *int, warnings *[]Warning) (string, []interface{}) {
	if c.IsGroup() {
		return compileGroup(schema, c, argN, warnings)
	}
	return compileLeaf(schema, c, argN, warnings)
}

func compileGroup(schema *Schema, c Condition, argN *int, warnings *[]Warning) (string, []interface{}) {
	joiner := " AND "
	if c.Group == GroupOr {
		joiner = " OR "
	}

	var parts []string
	var args []interface{}
	for _, sub := range c.Conditions {
		sql, subArgs := compileNode(schema, sub, argN, warnings)
		if sql == "" {
			continue
		}
		parts = append(parts, sql)
		args = append(args, subArgs...)
	}
	if len(parts) == 0 {
		return "", nil
	}
	return "(" + strings.Join(parts, joiner) + ")", args
}

func compileLeaf(schema *Schema, c Condition, argN *int, warnings *[]Warning) (string, []interface{}) {
	spec, ok := schema.Fields[c.Field]
	if !ok {
		*warnings = append(*warnings, Warning{Field: c.Field, Reason: "unknown field"})
		return "", nil
	}
	if !allowedOperators[spec.Kind][c.Operator] {
		*warnings = append(*warnings, Warning{Field: c.Field, Reason: fmt.Sprintf("operator %q not supported for this field", c.Operator)})
		return "", nil
	}

	column := columnExpr(spec)

	switch c.Operator {
	case OpIsNull:
		return column + " IS NULL", nil
	case OpIsNotNull:
		return column + " IS NOT NULL", nil
	case OpIn, OpNotIn:
		values, ok := c.Value.([]interface{})
		if !ok || len(values) == 0 {
			*warnings = append(*warnings, Warning{Field: c.Field, Reason: "in/not_in requires a non-empty list value"})
			return "", nil
		}
		placeholders := make([]string, len(values))
		for i, v := range values {
			*argN++
			placeholders[i] = fmt.Sprintf("$%d", *argN)
			_ = v
		}
		op := "IN"
		if c.Operator == OpNotIn {
			op = "NOT IN"
		}
		return fmt.Sprintf("%s %s (%s)", column, op, strings.Join(placeholders, ", ")), values
	case OpContains:
		*argN++
		return fmt.Sprintf("%s LIKE '%%' || $%d || '%%'", column, *argN), []interface{}{c.Value}
	case OpIContains:
		*argN++
		return fmt.Sprintf("%s ILIKE '%%' || $%d || '%%'", column, *argN), []interface{}{c.Value}
	case OpStartsWith:
		*argN++
		return fmt.Sprintf("%s LIKE $%d || '%%'", column, *argN), []interface{}{c.Value}
	case OpEndsWith:
		*argN++
		return fmt.Sprintf("%s LIKE '%%' || $%d", column, *argN), []interface{}{c.Value}
	default:
		sqlOp, ok := comparisonSQL(c.Operator)
		if !ok {
			*warnings = append(*warnings, Warning{Field: c.Field, Reason: fmt.Sprintf("unsupported operator %q", c.Operator)})
			return "", nil
		}
		*argN++
		return fmt.Sprintf("%s %s $%d", column, sqlOp, *argN), []interface{}{c.Value}
	}
}

func comparisonSQL(op Operator) (string, bool) {
	switch op {
	case OpEq:
		return "=", true
	case OpNe:
		return "!=", true
	case OpGt:
		return ">", true
	case OpGte:
		return ">=", true
	case OpLt:
		return "<", true
	case OpLte:
		return "<=", true
	default:
		return "", false
	}
}

func columnExpr(spec FieldSpec) string {
	if spec.Kind == ColumnJSONAttribute {
		return fmt.Sprintf("attributes->>'%s'", spec.Column)
	}
	return spec.Column
}

// OrderClause builds the ORDER BY suffix for q, defaulting to id ascending
// and always tie-breaking by the schema's id column.
func OrderClause(schema *Schema, q Query) string {
	field := q.OrderBy
	dir := strings.ToLower(q.OrderDir)
	if dir != "desc" {
		dir = "asc"
	}

	spec, ok := schema.Fields[field]
	if field == "" || !ok {
		return fmt.Sprintf("ORDER BY %s ASC", schema.IDColumn)
	}

	col := columnExpr(spec)
	if col == schema.IDColumn {
		return fmt.Sprintf("ORDER BY %s %s", col, strings.ToUpper(dir))
	}
	return fmt.Sprintf("ORDER BY %s %s, %s ASC", col, strings.ToUpper(dir), schema.IDColumn)
}

// NormalizePagination clamps limit/offset to spec.md's bounds:
// limit defaults to 100, clamped to [1,1000]; offset defaults to 0, clamped
// to >= 0.
func NormalizePagination(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
