package store

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Statement is a fully built, not yet executed write or read.  Args are
// driver-ready values (string, int64, bool, time.Time or nil) so a Statement
// can be journaled and replayed later without the schema.
type Statement struct {
	Query string
	Args  []any
	// Guarded statements must affect at least one row when committed, the
	// whole batch is rolled back with ErrConflict otherwise.
	Guarded bool
}

// UpdateOption tweaks a statement produced by DryUpdate.
type UpdateOption func(*Statement)

// WithGuard marks an update as conditional: the filter doubles as a
// precondition and a miss aborts the batch it is committed in.
func WithGuard() UpdateOption {
	return func(st *Statement) { st.Guarded = true }
}

// DryCreate builds the INSERT for r.  A missing key-typed primary key is
// generated.  Nothing is executed.
func DryCreate(s Schema, r Record) (Statement, error) {
	st, _, err := buildInsert(s, r)
	return st, err
}

// DrySearch builds the SELECT for q.  Rows are always ordered by primary key
// so repeated searches return identical slices.
func DrySearch(s Schema, q Query) (Statement, error) {
	cq, err := CoerceQuery(s, q)
	if err != nil {
		return Statement{}, err
	}
	where, args, err := buildWhere(s, cq)
	if err != nil {
		return Statement{}, err
	}
	query := fmt.Sprintf("SELECT %s FROM %s", strings.Join(s.columns(), ", "), s.Table)
	if where != "" {
		query += " WHERE " + where
	}
	query += " ORDER BY " + s.PrimaryKey + " ASC"
	return Statement{Query: query, Args: args}, nil
}

// DryUpdate builds the UPDATE applying patch to the rows matched by q.  An
// empty filter is rejected so that a bug can never rewrite a whole table.
func DryUpdate(s Schema, q Query, patch Record, opts ...UpdateOption) (Statement, error) {
	if len(patch) == 0 {
		return Statement{}, fmt.Errorf("%w: empty patch for %s", ErrInvalidQuery, s.Table)
	}
	if _, ok := patch[s.PrimaryKey]; ok {
		return Statement{}, fmt.Errorf("%w: primary key %s.%s is immutable", ErrInvalidQuery, s.Table, s.PrimaryKey)
	}
	cp, err := CoerceRecord(s, patch)
	if err != nil {
		return Statement{}, err
	}
	cq, err := CoerceQuery(s, q)
	if err != nil {
		return Statement{}, err
	}
	where, whereArgs, err := buildWhere(s, cq)
	if err != nil {
		return Statement{}, err
	}
	if where == "" {
		return Statement{}, fmt.Errorf("%w: update on %s without filter", ErrInvalidQuery, s.Table)
	}
	fields := sortedKeys(cp)
	sets := make([]string, 0, len(fields))
	args := make([]any, 0, len(fields)+len(whereArgs))
	for _, f := range fields {
		v, err := bindValue(s.Fields[f], cp[f])
		if err != nil {
			return Statement{}, fmt.Errorf("%s: %w", f, err)
		}
		sets = append(sets, f+" = ?")
		args = append(args, v)
	}
	args = append(args, whereArgs...)
	st := Statement{
		Query: fmt.Sprintf("UPDATE %s SET %s WHERE %s", s.Table, strings.Join(sets, ", "), where),
		Args:  args,
	}
	for _, opt := range opts {
		opt(&st)
	}
	return st, nil
}

// DryDelete builds the DELETE for the rows matched by q.  An empty filter is
// rejected.
func DryDelete(s Schema, q Query) (Statement, error) {
	cq, err := CoerceQuery(s, q)
	if err != nil {
		return Statement{}, err
	}
	where, args, err := buildWhere(s, cq)
	if err != nil {
		return Statement{}, err
	}
	if where == "" {
		return Statement{}, fmt.Errorf("%w: delete on %s without filter", ErrInvalidQuery, s.Table)
	}
	return Statement{Query: fmt.Sprintf("DELETE FROM %s WHERE %s", s.Table, where), Args: args}, nil
}

// buildInsert returns the INSERT statement along with the record as it will
// be stored, with keys already converted back to strings.
func buildInsert(s Schema, r Record) (Statement, Record, error) {
	cr, err := CoerceRecord(s, r)
	if err != nil {
		return Statement{}, nil, err
	}
	if v, ok := cr[s.PrimaryKey]; !ok || v == nil {
		if s.Fields[s.PrimaryKey] != Key {
			return Statement{}, nil, fmt.Errorf("%w: missing primary key %s.%s", ErrInvalidQuery, s.Table, s.PrimaryKey)
		}
		cr[s.PrimaryKey] = uuid.New()
	}
	fields := sortedKeys(cr)
	args := make([]any, 0, len(fields))
	for _, f := range fields {
		v, err := bindValue(s.Fields[f], cr[f])
		if err != nil {
			return Statement{}, nil, fmt.Errorf("%s: %w", f, err)
		}
		args = append(args, v)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(fields)), ", ")
	st := Statement{
		Query: fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", s.Table, strings.Join(fields, ", "), placeholders),
		Args:  args,
	}
	return st, CoerceOut(cr).(Record), nil
}

// buildWhere renders an already coerced query.  Fields and operators are
// visited in sorted order; the same query always yields the same SQL.
func buildWhere(s Schema, q Query) (string, []any, error) {
	var (
		clauses []string
		args    []any
	)
	for _, field := range sortedKeys(q) {
		ft, err := s.fieldType(field)
		if err != nil {
			return "", nil, err
		}
		ops, isOps, err := operatorMap(q[field])
		if err != nil {
			return "", nil, err
		}
		if !isOps {
			ops = Ops{OpEq: q[field]}
		}
		names := make([]string, 0, len(ops))
		for op := range ops {
			names = append(names, string(op))
		}
		sort.Strings(names)
		for _, name := range names {
			op := Operator(name)
			clause, opArgs, err := renderOp(ft, field, op, ops[op])
			if err != nil {
				return "", nil, err
			}
			clauses = append(clauses, clause)
			args = append(args, opArgs...)
		}
	}
	return strings.Join(clauses, " AND "), args, nil
}

func renderOp(ft FieldType, field string, op Operator, operand any) (string, []any, error) {
	switch op {
	case OpEq, OpNe:
		if operand == nil {
			if op == OpEq {
				return field + " IS NULL", nil, nil
			}
			return field + " IS NOT NULL", nil, nil
		}
	case OpIn:
		items, err := asSlice(operand)
		if err != nil {
			return "", nil, fmt.Errorf("%s %s: %w", field, op, err)
		}
		if len(items) == 0 {
			return "1 = 0", nil, nil
		}
		args := make([]any, len(items))
		for i, it := range items {
			v, err := bindValue(ft, it)
			if err != nil {
				return "", nil, fmt.Errorf("%s %s: %w", field, op, err)
			}
			args[i] = v
		}
		return fmt.Sprintf("%s IN (%s)", field, strings.TrimSuffix(strings.Repeat("?, ", len(items)), ", ")), args, nil
	case OpContains:
		needle, err := containsNeedle(ft, operand)
		if err != nil {
			return "", nil, fmt.Errorf("%s %s: %w", field, op, err)
		}
		return field + " LIKE ? ESCAPE '!'", []any{"%" + escapeLike(needle) + "%"}, nil
	}
	sqlOp, ok := operatorSQL[op]
	if !ok {
		return "", nil, fmt.Errorf("%w: unknown operator %q", ErrInvalidQuery, op)
	}
	v, err := bindValue(ft, operand)
	if err != nil {
		return "", nil, fmt.Errorf("%s %s: %w", field, op, err)
	}
	return fmt.Sprintf("%s %s ?", field, sqlOp), []any{v}, nil
}

// containsNeedle returns the text searched for by $contains.  For JSON and
// key-list columns the element is matched in its encoded form.
func containsNeedle(ft FieldType, operand any) (string, error) {
	switch ft {
	case Text:
		s, ok := operand.(string)
		if !ok {
			return "", fmt.Errorf("%w: text contains needs a string, got %T", ErrInvalidQuery, operand)
		}
		return s, nil
	case JSON, KeyList:
		if u, ok := operand.(uuid.UUID); ok {
			operand = u.String()
		}
		b, err := json.Marshal(operand)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidQuery, err)
		}
		return string(b), nil
	}
	return "", fmt.Errorf("%w: $contains is not supported on %s fields", ErrInvalidQuery, ft)
}

func escapeLike(s string) string {
	r := strings.NewReplacer("!", "!!", "%", "!%", "_", "!_")
	return r.Replace(s)
}

func asSlice(v any) ([]any, error) {
	switch t := v.(type) {
	case []any:
		return t, nil
	case []string:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = e
		}
		return out, nil
	case []int64:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = e
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: expected a list, got %T", ErrInvalidQuery, v)
}

// bindValue converts a coerced value into the parameter actually sent to the
// driver.
func bindValue(ft FieldType, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch ft {
	case Key:
		u, ok := v.(uuid.UUID)
		if !ok {
			return nil, fmt.Errorf("%w: expected typed key, got %T", ErrInvalidKey, v)
		}
		return u.String(), nil
	case KeyList:
		items, err := asSlice(v)
		if err != nil {
			return nil, err
		}
		keys := make([]string, len(items))
		for i, it := range items {
			u, ok := it.(uuid.UUID)
			if !ok {
				return nil, fmt.Errorf("%w: expected typed key, got %T", ErrInvalidKey, it)
			}
			keys[i] = u.String()
		}
		b, err := json.Marshal(keys)
		if err != nil {
			return nil, err
		}
		return string(b), nil
	case JSON:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidQuery, err)
		}
		return string(b), nil
	case Time:
		switch t := v.(type) {
		case time.Time:
			return t.UTC(), nil
		case string:
			parsed, err := time.Parse(time.RFC3339Nano, t)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidQuery, err)
			}
			return parsed.UTC(), nil
		}
	case Bool:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	case Int:
		switch n := v.(type) {
		case int:
			return int64(n), nil
		case int32:
			return int64(n), nil
		case int64:
			return n, nil
		case uint32:
			return int64(n), nil
		}
	case Text:
		if s, ok := v.(string); ok {
			return s, nil
		}
	}
	return nil, fmt.Errorf("%w: %T is not a valid %s value", ErrInvalidQuery, v, ft)
}

func sortedKeys[M ~map[string]V, V any](m M) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
