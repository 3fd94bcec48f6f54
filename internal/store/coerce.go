package store

import (
	"fmt"

	"github.com/google/uuid"
)

// Operator is a comparison operator usable inside a Query.  The set is closed;
// any other "$..." name is rejected when the statement is built.
type Operator string

const (
	OpEq       Operator = "$eq"
	OpNe       Operator = "$ne"
	OpLt       Operator = "$lt"
	OpLte      Operator = "$lte"
	OpGt       Operator = "$gt"
	OpGte      Operator = "$gte"
	OpIn       Operator = "$in"
	OpContains Operator = "$contains"
)

// operatorSQL maps the binary operators to their SQL spelling.  OpIn and
// OpContains have dedicated rendering in statement.go.
var operatorSQL = map[Operator]string{
	OpEq:  "=",
	OpNe:  "<>",
	OpLt:  "<",
	OpLte: "<=",
	OpGt:  ">",
	OpGte: ">=",
}

// ParseOperator reports whether name is a recognised operator.
func ParseOperator(name string) (Operator, bool) {
	op := Operator(name)
	switch op {
	case OpEq, OpNe, OpLt, OpLte, OpGt, OpGte, OpIn, OpContains:
		return op, true
	}
	return "", false
}

// Ops is a convenience constructor for operator maps in queries.
type Ops map[Operator]any

// operatorMap normalises the accepted operator map spellings.  It returns
// ok=false when v is not a map at all.
func operatorMap(v any) (Ops, bool, error) {
	switch m := v.(type) {
	case Ops:
		return m, true, nil
	case map[Operator]any:
		return Ops(m), true, nil
	case map[string]any:
		ops := make(Ops, len(m))
		for name, operand := range m {
			op, ok := ParseOperator(name)
			if !ok {
				return nil, true, fmt.Errorf("%w: unknown operator %q", ErrInvalidQuery, name)
			}
			ops[op] = operand
		}
		return ops, true, nil
	}
	return nil, false, nil
}

// CoerceQuery returns a copy of q where every key-typed field, including
// operands nested under operators and inside arrays, holds a uuid.UUID.
// Non-key fields are copied untouched.
func CoerceQuery(s Schema, q Query) (Query, error) {
	out := make(Query, len(q))
	for field, v := range q {
		ft, err := s.fieldType(field)
		if err != nil {
			return nil, err
		}
		ops, isOps, err := operatorMap(v)
		if err != nil {
			return nil, err
		}
		if !isOps {
			if out[field], err = coerceField(ft, v); err != nil {
				return nil, fmt.Errorf("%s: %w", field, err)
			}
			continue
		}
		coerced := make(Ops, len(ops))
		for op, operand := range ops {
			if coerced[op], err = coerceField(ft, operand); err != nil {
				return nil, fmt.Errorf("%s %s: %w", field, op, err)
			}
		}
		out[field] = coerced
	}
	return out, nil
}

// CoerceRecord returns a copy of r with key and key-list fields converted to
// typed keys.  It is used for both inserted records and update patches.
func CoerceRecord(s Schema, r Record) (Record, error) {
	out := make(Record, len(r))
	for field, v := range r {
		ft, err := s.fieldType(field)
		if err != nil {
			return nil, err
		}
		if out[field], err = coerceField(ft, v); err != nil {
			return nil, fmt.Errorf("%s: %w", field, err)
		}
	}
	return out, nil
}

func coerceField(ft FieldType, v any) (any, error) {
	if ft != Key && ft != KeyList {
		return v, nil
	}
	return coerceKey(v)
}

// coerceKey walks v and replaces every string with its typed key.  Arrays
// and operator maps are walked recursively so that `$in` lists and nested
// comparisons are covered.
func coerceKey(v any) (any, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case uuid.UUID:
		return t, nil
	case string:
		u, err := uuid.Parse(t)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidKey, t)
		}
		return u, nil
	case []string:
		out := make([]any, len(t))
		for i, e := range t {
			k, err := coerceKey(e)
			if err != nil {
				return nil, err
			}
			out[i] = k
		}
		return out, nil
	case []uuid.UUID:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = e
		}
		return out, nil
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			k, err := coerceKey(e)
			if err != nil {
				return nil, err
			}
			out[i] = k
		}
		return out, nil
	}
	if ops, isOps, err := operatorMap(v); isOps {
		if err != nil {
			return nil, err
		}
		out := make(Ops, len(ops))
		for op, operand := range ops {
			k, err := coerceKey(operand)
			if err != nil {
				return nil, err
			}
			out[op] = k
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: unsupported value %T", ErrInvalidKey, v)
}

// CoerceOut converts every typed key found in v back to its canonical string,
// descending into records, maps and slices.  The result never contains a
// uuid.UUID.
func CoerceOut(v any) any {
	switch t := v.(type) {
	case uuid.UUID:
		return t.String()
	case uuid.NullUUID:
		if !t.Valid {
			return nil
		}
		return t.UUID.String()
	case []uuid.UUID:
		out := make([]string, len(t))
		for i, u := range t {
			out[i] = u.String()
		}
		return out
	case Record:
		out := make(Record, len(t))
		for k, e := range t {
			out[k] = CoerceOut(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = CoerceOut(e)
		}
		return out
	case Ops:
		out := make(Ops, len(t))
		for k, e := range t {
			out[k] = CoerceOut(e)
		}
		return out
	case []Record:
		out := make([]Record, len(t))
		for i, e := range t {
			out[i] = CoerceOut(e).(Record)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = CoerceOut(e)
		}
		return out
	}
	return v
}
