// Package docstore is a schemaless document store over SQLite with
// collection snapshots pushed to in-process subscribers.
//
// Paths alternate collection and document segments: "issues",
// "issues/<id>", "innovations/<id>/comments/<id>".
package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

var ErrNotFound = errors.New("document not found")

// ErrInvalidPath is returned for malformed collection or document paths.
var ErrInvalidPath = errors.New("invalid document path")

// Store is the record store capability used by the engine.
type Store interface {
	Query(ctx context.Context, q Query) ([]Document, error)
	Subscribe(ctx context.Context, q Query) (*Subscription, error)
	Create(ctx context.Context, collection string, fields Fields) (string, error)
	UpdateFields(ctx context.Context, path string, fields Fields) error
	// Update runs fn against the current document and merges the fields it
	// returns in one atomic step. fn must not call back into the store.
	Update(ctx context.Context, path string, fn func(Document) (Fields, error)) error
	Delete(ctx context.Context, path string) error
	Get(ctx context.Context, path string) (Document, error)
}

// Document is one stored record. Data always carries the document id under "id".
type Document struct {
	ID         string
	Collection string
	Data       json.RawMessage
	CreateTime time.Time
	UpdateTime time.Time
}

// Path returns the full document path.
func (d Document) Path() string {
	return d.Collection + "/" + d.ID
}

// DataTo decodes the document into v.
func (d Document) DataTo(v any) error {
	if err := json.Unmarshal(d.Data, v); err != nil {
		return fmt.Errorf("decode %s: %w", d.Path(), err)
	}
	return nil
}

// SQLStore implements Store on the documents table.
type SQLStore struct {
	DB     *sql.DB
	Logger *zap.Logger
	Now    func() time.Time

	mu   sync.Mutex
	subs map[string]map[*Subscription]struct{}
}

func New(conn *sql.DB, logger *zap.Logger) *SQLStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SQLStore{DB: conn, Logger: logger, Now: time.Now}
}

var _ Store = (*SQLStore)(nil)

func (s *SQLStore) now() time.Time {
	if s.Now == nil {
		return time.Now().UTC()
	}
	return s.Now().UTC()
}

func (s *SQLStore) Create(ctx context.Context, collection string, fields Fields) (string, error) {
	segs, err := splitPath(collection)
	if err != nil {
		return "", err
	}
	if len(segs)%2 != 1 {
		return "", fmt.Errorf("%w: %q is not a collection", ErrInvalidPath, collection)
	}
	collection = strings.Join(segs, "/")
	id := uuid.NewString()
	if len(segs) > 1 {
		id = strings.ToLower(ulid.Make().String())
	}
	now := s.now()
	data, err := mergeFields(nil, fields, now)
	if err != nil {
		return "", err
	}
	ts := formatTime(now)
	if _, err := s.DB.ExecContext(ctx, `INSERT INTO documents(collection,id,data,created_at,updated_at) VALUES (?,?,?,?,?)`,
		collection, id, string(data), ts, ts); err != nil {
		return "", fmt.Errorf("create %s: %w", collection, err)
	}
	s.notify(collection)
	return id, nil
}

func (s *SQLStore) UpdateFields(ctx context.Context, path string, fields Fields) error {
	return s.Update(ctx, path, func(Document) (Fields, error) { return fields, nil })
}

func (s *SQLStore) Update(ctx context.Context, path string, fn func(Document) (Fields, error)) error {
	collection, id, err := docPath(path)
	if err != nil {
		return err
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	doc, err := getDoc(ctx, tx, collection, id)
	if err != nil {
		return err
	}
	fields, err := fn(doc)
	if err != nil {
		return err
	}
	if len(fields) == 0 {
		return nil
	}
	now := s.now()
	data, err := mergeFields(stripID(doc.Data), fields, now)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE documents SET data=?, updated_at=? WHERE collection=? AND id=?`,
		string(data), formatTime(now), collection, id); err != nil {
		return fmt.Errorf("update %s/%s: %w", collection, id, err)
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	s.notify(collection)
	return nil
}

// Delete removes the document and every document nested beneath it.
// Deleting a missing document is not an error.
func (s *SQLStore) Delete(ctx context.Context, path string) error {
	collection, id, err := docPath(path)
	if err != nil {
		return err
	}
	prefix := collection + "/" + id + "/"
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `SELECT DISTINCT collection FROM documents WHERE substr(collection,1,?)=?`, len(prefix), prefix)
	if err != nil {
		return fmt.Errorf("delete %s: %w", path, err)
	}
	var nested []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			rows.Close()
			return err
		}
		nested = append(nested, c)
	}
	if err := rows.Close(); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE substr(collection,1,?)=?`, len(prefix), prefix); err != nil {
		return fmt.Errorf("delete %s: %w", path, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE collection=? AND id=?`, collection, id); err != nil {
		return fmt.Errorf("delete %s: %w", path, err)
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	s.notify(collection)
	for _, c := range nested {
		s.notify(c)
	}
	return nil
}

func (s *SQLStore) Get(ctx context.Context, path string) (Document, error) {
	collection, id, err := docPath(path)
	if err != nil {
		return Document{}, err
	}
	return getDoc(ctx, s.DB, collection, id)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func getDoc(ctx context.Context, q queryer, collection, id string) (Document, error) {
	row := q.QueryRowContext(ctx, `SELECT id,data,created_at,updated_at FROM documents WHERE collection=? AND id=?`, collection, id)
	doc, err := scanDoc(row.Scan, collection)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, ErrNotFound
	}
	return doc, err
}

func scanDoc(scan func(dest ...any) error, collection string) (Document, error) {
	var id, data, created, updated string
	if err := scan(&id, &data, &created, &updated); err != nil {
		return Document{}, err
	}
	withID, err := injectID(data, id)
	if err != nil {
		return Document{}, fmt.Errorf("decode %s/%s: %w", collection, id, err)
	}
	doc := Document{ID: id, Collection: collection, Data: withID}
	doc.CreateTime, _ = time.Parse(time.RFC3339Nano, created)
	doc.UpdateTime, _ = time.Parse(time.RFC3339Nano, updated)
	return doc, nil
}

func injectID(data, id string) (json.RawMessage, error) {
	obj := map[string]json.RawMessage{}
	if err := json.Unmarshal([]byte(data), &obj); err != nil {
		return nil, err
	}
	rawID, _ := json.Marshal(id)
	obj["id"] = rawID
	return json.Marshal(obj)
}

func stripID(data json.RawMessage) json.RawMessage {
	obj := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &obj); err != nil {
		return data
	}
	delete(obj, "id")
	out, err := json.Marshal(obj)
	if err != nil {
		return data
	}
	return out
}

func splitPath(path string) ([]string, error) {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil, fmt.Errorf("%w: empty path", ErrInvalidPath)
	}
	segs := strings.Split(path, "/")
	for _, seg := range segs {
		if seg == "" {
			return nil, fmt.Errorf("%w: %q", ErrInvalidPath, path)
		}
	}
	return segs, nil
}

func docPath(path string) (collection, id string, err error) {
	segs, err := splitPath(path)
	if err != nil {
		return "", "", err
	}
	if len(segs)%2 != 0 {
		return "", "", fmt.Errorf("%w: %q is not a document", ErrInvalidPath, path)
	}
	return strings.Join(segs[:len(segs)-1], "/"), segs[len(segs)-1], nil
}

// DocPath joins a collection path and a document id.
func DocPath(collection, id string) string {
	return strings.Trim(collection, "/") + "/" + id
}
