package filter

import (
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

// Evaluate tests a query against a single JSON-encoded resource, used to
// filter read-through cache hits (internal/resource) without touching the
// database. JSONB attribute leaves are extracted with gjson rather than a
// full JSON unmarshal, matching the teacher's marble/datafeed dispatchers'
// use of gjson for ad hoc payload field extraction.
func Evaluate(schema *Schema, q Query, jsonDoc string) bool {
	groupOp := q.Operator
	if groupOp == "" {
		groupOp = GroupAnd
	}
	root := Condition{Conditions: q.Conditions, Group: groupOp}
	return evaluateNode(schema, root, gjson.Parse(jsonDoc))
}

func evaluateNode(schema *Schema, c Condition, doc gjson.Result) bool {
	if c.IsGroup() {
		return evaluateGroup(schema, c, doc)
	}
	return evaluateLeaf(schema, c, doc)
}

func evaluateGroup(schema *Schema, c Condition, doc gjson.Result) bool {
	if len(c.Conditions) == 0 {
		return true
	}
	if c.Group == GroupOr {
		for _, sub := range c.Conditions {
			if evaluateNode(schema, sub, doc) {
				return true
			}
		}
		return false
	}
	for _, sub := range c.Conditions {
		if !evaluateNode(schema, sub, doc) {
			return false
		}
	}
	return true
}

func evaluateLeaf(schema *Schema, c Condition, doc gjson.Result) bool {
	spec, ok := schema.Fields[c.Field]
	if !ok || !allowedOperators[spec.Kind][c.Operator] {
		return true // unknown/unsupported leaves are dropped, not rejecting
	}

	path := spec.Column
	if spec.Kind == ColumnJSONAttribute {
		path = "attributes." + spec.Column
	}
	field := doc.Get(path)

	switch c.Operator {
	case OpIsNull:
		return !field.Exists() || field.Type == gjson.Null
	case OpIsNotNull:
		return field.Exists() && field.Type != gjson.Null
	case OpIn, OpNotIn:
		values, ok := c.Value.([]interface{})
		if !ok {
			return true
		}
		matched := containsValue(values, field)
		if c.Operator == OpNotIn {
			return !matched
		}
		return matched
	case OpContains:
		return strings.Contains(field.String(), toString(c.Value))
	case OpIContains:
		return strings.Contains(strings.ToLower(field.String()), strings.ToLower(toString(c.Value)))
	case OpStartsWith:
		return strings.HasPrefix(field.String(), toString(c.Value))
	case OpEndsWith:
		return strings.HasSuffix(field.String(), toString(c.Value))
	case OpEq:
		return compareEqual(field, c.Value)
	case OpNe:
		return !compareEqual(field, c.Value)
	case OpGt, OpGte, OpLt, OpLte:
		return compareOrdered(c.Operator, field, c.Value)
	default:
		return true
	}
}

func toString(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return strconv.FormatFloat(toFloat(v), 'f', -1, 64)
}

func toFloat(v interface{}) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case int:
		return float64(t)
	case string:
		f, _ := strconv.ParseFloat(t, 64)
		return f
	default:
		return 0
	}
}

func compareEqual(field gjson.Result, v interface{}) bool {
	switch t := v.(type) {
	case string:
		return field.String() == t
	case bool:
		return field.Bool() == t
	default:
		return field.Num == toFloat(v)
	}
}

func compareOrdered(op Operator, field gjson.Result, v interface{}) bool {
	a, b := field.Num, toFloat(v)
	switch op {
	case OpGt:
		return a > b
	case OpGte:
		return a >= b
	case OpLt:
		return a < b
	case OpLte:
		return a <= b
	default:
		return false
	}
}

func containsValue(values []interface{}, field gjson.Result) bool {
	for _, v := range values {
		if compareEqual(field, v) {
			return true
		}
	}
	return false
}
