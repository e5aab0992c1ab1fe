package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

const (
	IssueCreated       = "issue.created"
	IssueUpdated       = "issue.updated"
	IssueStatusChanged = "issue.status_changed"
	IssueMoved         = "issue.moved"
	IssueJoined        = "issue.joined"
	IssueArchived      = "issue.archived"
	IssueUnarchived    = "issue.unarchived"
	IssueDeleted       = "issue.deleted"

	InnovationCreated       = "innovation.created"
	InnovationStatusChanged = "innovation.status_changed"
	InnovationJoined        = "innovation.joined"
	InnovationSolution      = "innovation.solution_updated"
	InnovationCommented     = "innovation.commented"
	InnovationArchived      = "innovation.archived"
	InnovationUnarchived    = "innovation.unarchived"
	InnovationDeleted       = "innovation.deleted"
)

type Payload map[string]any

type Event struct {
	ID         int64     `json:"id"`
	Timestamp  time.Time `json:"ts" format:"date-time"`
	Type       string    `json:"type"`
	EntityKind string    `json:"entityKind"`
	EntityID   string    `json:"entityId,omitempty"`
	ActorID    string    `json:"actorId"`
	ActorName  string    `json:"actorName,omitempty"`
	Payload    Payload   `json:"payload"`
}

// Execer is satisfied by *sql.DB and *sql.Tx.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Log is the append-only activity trail.
type Log struct {
	DB  *sql.DB
	Now func() time.Time
}

func (l Log) now() time.Time {
	if l.Now == nil {
		return time.Now().UTC()
	}
	return l.Now().UTC()
}

// Append records one event. exec may be a transaction; nil uses l.DB.
func (l Log) Append(ctx context.Context, exec Execer, evt Event) error {
	if exec == nil {
		exec = l.DB
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = l.now()
	}
	if evt.Payload == nil {
		evt.Payload = Payload{}
	}
	data, err := json.Marshal(evt.Payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = exec.ExecContext(ctx, `INSERT INTO events(ts,type,entity_kind,entity_id,actor_id,actor_name,payload_json) VALUES (?,?,?,?,?,?,?)`,
		evt.Timestamp.UTC().Format(time.RFC3339Nano), evt.Type, evt.EntityKind, nullable(evt.EntityID), evt.ActorID, evt.ActorName, string(data))
	if err != nil {
		return fmt.Errorf("append event %s: %w", evt.Type, err)
	}
	return nil
}

// Tail returns the latest limit events, oldest first. An entityID
// narrows the result to one record.
func (l Log) Tail(ctx context.Context, entityID string, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id,ts,type,entity_kind,entity_id,actor_id,actor_name,payload_json FROM events`
	args := []any{}
	if entityID != "" {
		query += ` WHERE entity_id=?`
		args = append(args, entityID)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := l.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Event
	for rows.Next() {
		var (
			evt      Event
			ts       string
			entityID sql.NullString
			payload  string
		)
		if err := rows.Scan(&evt.ID, &ts, &evt.Type, &evt.EntityKind, &entityID, &evt.ActorID, &evt.ActorName, &payload); err != nil {
			return nil, err
		}
		evt.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		evt.EntityID = entityID.String
		if err := json.Unmarshal([]byte(payload), &evt.Payload); err != nil {
			return nil, fmt.Errorf("decode event %d payload: %w", evt.ID, err)
		}
		out = append(out, evt)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
