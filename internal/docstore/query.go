package docstore

import (
	"context"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"time"
)

type Direction int

const (
	Asc Direction = iota
	Desc
)

type Op string

const (
	Eq    Op = "=="
	NotEq Op = "!="
)

// Filter compares one top-level field. NotEq also matches documents
// where the field is absent.
type Filter struct {
	Field string
	Op    Op
	Value any
}

// Query selects documents of one collection, or a single document when ID is set.
// Ordering by a field excludes documents that do not carry it.
type Query struct {
	Collection string
	ID         string
	OrderBy    string
	Direction  Direction
	Where      []Filter
}

var fieldName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func (q Query) normalized() (Query, error) {
	segs, err := splitPath(q.Collection)
	if err != nil {
		return q, err
	}
	if len(segs)%2 != 1 {
		return q, fmt.Errorf("%w: %q is not a collection", ErrInvalidPath, q.Collection)
	}
	q.Collection = strings.Join(segs, "/")
	if q.OrderBy != "" && !fieldName.MatchString(q.OrderBy) {
		return q, fmt.Errorf("invalid order field %q", q.OrderBy)
	}
	for _, f := range q.Where {
		if !fieldName.MatchString(f.Field) {
			return q, fmt.Errorf("invalid filter field %q", f.Field)
		}
		if f.Op != Eq && f.Op != NotEq {
			return q, fmt.Errorf("unsupported filter op %q", f.Op)
		}
	}
	return q, nil
}

func (q Query) sql() (string, []any) {
	var b strings.Builder
	args := []any{q.Collection}
	b.WriteString(`SELECT id,data,created_at,updated_at FROM documents WHERE collection=?`)
	if q.ID != "" {
		b.WriteString(` AND id=?`)
		args = append(args, q.ID)
	}
	for _, f := range q.Where {
		switch f.Op {
		case Eq:
			b.WriteString(` AND json_extract(data,?) = ?`)
		case NotEq:
			b.WriteString(` AND json_extract(data,?) IS NOT ?`)
		}
		args = append(args, "$."+f.Field, sqlValue(f.Value))
	}
	if q.OrderBy != "" {
		b.WriteString(` AND json_extract(data,?) IS NOT NULL ORDER BY json_extract(data,?)`)
		args = append(args, "$."+q.OrderBy, "$."+q.OrderBy)
		if q.Direction == Desc {
			b.WriteString(` DESC`)
		}
		b.WriteString(`, id`)
	} else {
		b.WriteString(` ORDER BY created_at, id`)
	}
	return b.String(), args
}

// json_extract returns 1/0 for JSON booleans.
func sqlValue(v any) any {
	switch x := v.(type) {
	case bool:
		if x {
			return 1
		}
		return 0
	case time.Time:
		return formatTime(x)
	case fmt.Stringer:
		return x.String()
	}
	if rv := reflect.ValueOf(v); rv.Kind() == reflect.String {
		return rv.String()
	}
	return v
}

// Query runs q once and returns the matching documents.
func (s *SQLStore) Query(ctx context.Context, q Query) ([]Document, error) {
	q, err := q.normalized()
	if err != nil {
		return nil, err
	}
	return s.run(ctx, q)
}

func (s *SQLStore) run(ctx context.Context, q Query) ([]Document, error) {
	stmt, args := q.sql()
	rows, err := s.DB.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", q.Collection, err)
	}
	defer rows.Close()
	docs := []Document{}
	for rows.Next() {
		doc, err := scanDoc(rows.Scan, q.Collection)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}
