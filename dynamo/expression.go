package dynamo

import (
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/leanmap/store"
)

// maxInOperands is the DynamoDB limit on IN operands per comparison.
const maxInOperands = 100

// expression is a condition or filter expression with its placeholders.
type expression struct {
	text   string
	names  map[string]string
	values map[string]types.AttributeValue
}

func (e expression) empty() bool { return e.text == "" }

// and joins two expressions with AND.
func (e expression) and(other expression) expression {
	switch {
	case other.empty():
		return e
	case e.empty():
		return other
	}
	return expression{
		text:   e.text + " AND " + other.text,
		names:  mergeExprNames(e.names, other.names),
		values: mergeExprValues(e.values, other.values),
	}
}

// filterExpression builds a Scan filter matching every condition. ok is false
// when a condition can never match, such as IN with no operands.
func filterExpression(conds []store.Condition) (expr expression, ok bool, err error) {
	expr = expression{
		names:  make(map[string]string),
		values: make(map[string]types.AttributeValue),
	}
	clauses := make([]string, 0, len(conds))
	for i, c := range conds {
		name := fmt.Sprintf("#c%d", i)
		expr.names[name] = c.Column

		switch c.Op {
		case store.OpIsNull, store.OpNotNull:
			typ := fmt.Sprintf(":t%d", i)
			expr.values[typ] = &types.AttributeValueMemberS{Value: "NULL"}
			if c.Op == store.OpIsNull {
				clauses = append(clauses, fmt.Sprintf("(attribute_not_exists(%s) OR attribute_type(%s, %s))", name, name, typ))
			} else {
				clauses = append(clauses, fmt.Sprintf("(attribute_exists(%s) AND NOT attribute_type(%s, %s))", name, name, typ))
			}

		case store.OpIn:
			operands, _ := c.Value.([]any)
			if len(operands) == 0 {
				return expression{}, false, nil
			}
			var groups []string
			for start := 0; start < len(operands); start += maxInOperands {
				end := min(start+maxInOperands, len(operands))
				placeholders := make([]string, 0, end-start)
				for j, v := range operands[start:end] {
					key := fmt.Sprintf(":v%d_%d", i, start+j)
					av, err := attributevalue.Marshal(v)
					if err != nil {
						return expression{}, false, fmt.Errorf("marshal %s operand: %w", c.Column, err)
					}
					expr.values[key] = av
					placeholders = append(placeholders, key)
				}
				groups = append(groups, fmt.Sprintf("%s IN (%s)", name, strings.Join(placeholders, ", ")))
			}
			clauses = append(clauses, "("+strings.Join(groups, " OR ")+")")

		case store.OpEq, store.OpNeq, store.OpLt, store.OpLte, store.OpGt, store.OpGte:
			if c.Value == nil {
				// NULL never compares equal or ordered.
				return expression{}, false, nil
			}
			key := fmt.Sprintf(":v%d", i)
			av, err := attributevalue.Marshal(c.Value)
			if err != nil {
				return expression{}, false, fmt.Errorf("marshal %s operand: %w", c.Column, err)
			}
			expr.values[key] = av
			clauses = append(clauses, fmt.Sprintf("%s %s %s", name, c.Op, key))

		default:
			return expression{}, false, fmt.Errorf("%w: unsupported operator %q", store.ErrInvalidArgument, c.Op)
		}
	}
	expr.text = strings.Join(clauses, " AND ")
	if expr.text == "" {
		return expression{}, true, nil
	}
	return expr, true, nil
}

// idLookup reports whether q selects rows by id only, returning the ids in
// request order without duplicates.
func idLookup(q *store.Query) ([]int64, bool) {
	conds := q.Conditions()
	if len(conds) != 1 || conds[0].Column != store.IDColumn || conds[0].Op != store.OpIn {
		return nil, false
	}
	operands, _ := conds[0].Value.([]any)
	seen := make(map[int64]struct{}, len(operands))
	ids := make([]int64, 0, len(operands))
	for _, v := range operands {
		id, ok := store.ToID(v)
		if !ok {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids, true
}

// render returns the canonical text of an expression: the expression followed by
// its names and values in key order.
func (e expression) render() string {
	var b strings.Builder
	b.WriteString(e.text)
	for _, k := range slices.Sorted(maps.Keys(e.names)) {
		fmt.Fprintf(&b, " %s=%s", k, e.names[k])
	}
	for _, k := range slices.Sorted(maps.Keys(e.values)) {
		fmt.Fprintf(&b, " %s=%s", k, formatValue(e.values[k]))
	}
	return b.String()
}

func formatValue(av types.AttributeValue) string {
	switch v := av.(type) {
	case *types.AttributeValueMemberS:
		return strconv.Quote(v.Value)
	case *types.AttributeValueMemberN:
		return v.Value
	case *types.AttributeValueMemberBOOL:
		return strconv.FormatBool(v.Value)
	case *types.AttributeValueMemberNULL:
		return "NULL"
	case *types.AttributeValueMemberB:
		return fmt.Sprintf("0x%x", v.Value)
	case *types.AttributeValueMemberSS:
		return fmt.Sprintf("%q", v.Value)
	case *types.AttributeValueMemberNS:
		return "[" + strings.Join(v.Value, " ") + "]"
	case *types.AttributeValueMemberL:
		parts := make([]string, 0, len(v.Value))
		for _, item := range v.Value {
			parts = append(parts, formatValue(item))
		}
		return "[" + strings.Join(parts, " ") + "]"
	case *types.AttributeValueMemberM:
		parts := make([]string, 0, len(v.Value))
		for _, k := range slices.Sorted(maps.Keys(v.Value)) {
			parts = append(parts, k+":"+formatValue(v.Value[k]))
		}
		return "{" + strings.Join(parts, " ") + "}"
	}
	return fmt.Sprintf("%T", av)
}

// mergeExprNames merges multiple expression attribute name maps.
func mergeExprNames(sets ...map[string]string) map[string]string {
	result := make(map[string]string)
	for _, m := range sets {
		for k, v := range m {
			result[k] = v
		}
	}
	return result
}

// mergeExprValues merges multiple expression attribute value maps.
func mergeExprValues(sets ...map[string]types.AttributeValue) map[string]types.AttributeValue {
	result := make(map[string]types.AttributeValue)
	for _, m := range sets {
		for k, v := range m {
			result[k] = v
		}
	}
	return result
}
