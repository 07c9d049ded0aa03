package filter

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func testSchema() *Schema {
	return NewSchema(map[string]FieldSpec{
		"name":   {Column: "name", Kind: ColumnText},
		"age":    {Column: "age", Kind: ColumnNumber},
		"active": {Column: "active", Kind: ColumnBool},
		"tags":   {Column: "tags", Kind: ColumnJSONAttribute},
	})
}

func TestCompile_EmptyConditionsIsNoOp(t *testing.T) {
	schema := testSchema()
	compiled := Compile(schema, Query{})
	require.Equal(t, "TRUE", compiled.SQL)
	require.Empty(t, compiled.Args)
}

func TestCompile_UnknownFieldDroppedWithWarning(t *testing.T) {
	schema := testSchema()
	compiled := Compile(schema, Query{
		Conditions: []Condition{{Field: "ghost", Operator: OpEq, Value: "x"}},
	})
	require.Equal(t, "TRUE", compiled.SQL)
	require.Len(t, compiled.Warnings, 1)
	require.Equal(t, "ghost", compiled.Warnings[0].Field)
}

func TestCompile_LeafEq(t *testing.T) {
	schema := testSchema()
	compiled := Compile(schema, Query{
		Conditions: []Condition{{Field: "name", Operator: OpEq, Value: "alice"}},
	})
	require.Equal(t, "(name = $1)", compiled.SQL)
	require.Equal(t, []interface{}{"alice"}, compiled.Args)
}

func TestCompile_GroupOr(t *testing.T) {
	schema := testSchema()
	compiled := Compile(schema, Query{
		Operator: GroupOr,
		Conditions: []Condition{
			{Field: "age", Operator: OpGte, Value: 18},
			{Field: "active", Operator: OpEq, Value: true},
		},
	})
	require.Equal(t, "(age >= $1 OR active = $2)", compiled.SQL)
	require.Equal(t, []interface{}{18, true}, compiled.Args)
}

func TestCompile_JSONAttributeColumn(t *testing.T) {
	schema := testSchema()
	compiled := Compile(schema, Query{
		Conditions: []Condition{{Field: "tags", Operator: OpContains, Value: "go"}},
	})
	require.Contains(t, compiled.SQL, "attributes->>'tags'")
}

func TestCompile_InRequiresNonEmptyList(t *testing.T) {
	schema := testSchema()
	compiled := Compile(schema, Query{
		Conditions: []Condition{{Field: "name", Operator: OpIn, Value: []interface{}{}}},
	})
	require.Equal(t, "TRUE", compiled.SQL)
	require.Len(t, compiled.Warnings, 1)
}

func TestOrderClause_DefaultsToIDAscending(t *testing.T) {
	schema := testSchema()
	require.Equal(t, "ORDER BY id ASC", OrderClause(schema, Query{}))
}

func TestOrderClause_TieBreaksByID(t *testing.T) {
	schema := testSchema()
	require.Equal(t, "ORDER BY age DESC, id ASC", OrderClause(schema, Query{OrderBy: "age", OrderDir: "desc"}))
}

func TestNormalizePagination_Defaults(t *testing.T) {
	limit, offset := NormalizePagination(0, 0)
	require.Equal(t, 100, limit)
	require.Equal(t, 0, offset)
}

func TestNormalizePagination_ClampsLimit(t *testing.T) {
	limit, _ := NormalizePagination(5000, -3)
	require.Equal(t, 1000, limit)
	_, offset := NormalizePagination(5000, -3)
	require.Equal(t, 0, offset)
}

func TestEvaluate_MatchesJSONDocument(t *testing.T) {
	schema := testSchema()
	doc := `{"name":"alice","age":30,"active":true,"attributes":{"tags":"go,redis"}}`

	require.True(t, Evaluate(schema, Query{
		Conditions: []Condition{{Field: "name", Operator: OpEq, Value: "alice"}},
	}, doc))

	require.False(t, Evaluate(schema, Query{
		Conditions: []Condition{{Field: "age", Operator: OpLt, Value: 18}},
	}, doc))

	require.True(t, Evaluate(schema, Query{
		Conditions: []Condition{{Field: "tags", Operator: OpContains, Value: "redis"}},
	}, doc))
}
