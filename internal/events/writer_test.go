package events

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hubtrack/internal/db"
	"hubtrack/internal/migrate"
)

func TestAppendAndTail(t *testing.T) {
	ctx := context.Background()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, migrate.Migrate(ctx, conn))

	ts := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	log := Log{DB: conn, Now: func() time.Time { return ts }}

	require.NoError(t, log.Append(ctx, nil, Event{Type: IssueCreated, EntityKind: "issue", EntityID: "i1", ActorID: "u1", ActorName: "Ada"}))
	require.NoError(t, log.Append(ctx, nil, Event{Type: IssueMoved, EntityKind: "issue", EntityID: "i1", ActorID: "u1", Payload: Payload{"to": "Resolved"}}))
	require.NoError(t, log.Append(ctx, nil, Event{Type: InnovationCreated, EntityKind: "innovation", EntityID: "n1", ActorID: "u2"}))

	all, err := log.Tail(ctx, "", 2)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, IssueMoved, all[0].Type)
	assert.Equal(t, InnovationCreated, all[1].Type)
	assert.Equal(t, "Resolved", all[0].Payload["to"])
	assert.Equal(t, ts, all[0].Timestamp)

	forIssue, err := log.Tail(ctx, "i1", 0)
	require.NoError(t, err)
	require.Len(t, forIssue, 2)
	assert.Equal(t, IssueCreated, forIssue[0].Type)
	assert.Equal(t, "Ada", forIssue[0].ActorName)
}
