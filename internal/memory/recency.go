package memory

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/SPCG-NEST/daemon/internal/lifecycle"
)

// Recency roles.
const (
	RoleUser  = "user"
	RoleAgent = "agent"
)

const recencySchema = `
CREATE TABLE IF NOT EXISTS recency_messages (
	seq           INTEGER PRIMARY KEY AUTOINCREMENT,
	id            TEXT    NOT NULL,
	daemon_pubkey TEXT    NOT NULL,
	channel_id    TEXT    NOT NULL DEFAULT '',
	turn_id       TEXT    NOT NULL,
	role          TEXT    NOT NULL,
	content       TEXT    NOT NULL,
	created_at    INTEGER NOT NULL,
	UNIQUE (daemon_pubkey, id)
);
CREATE INDEX IF NOT EXISTS idx_recency_scope ON recency_messages (daemon_pubkey, channel_id, created_at);
`

// RecencyStore keeps raw messages in arrival order.
type RecencyStore struct {
	db    *sql.DB
	limit int
}

// NewRecencyStore creates the schema on db. limit <= 0 selects the default.
func NewRecencyStore(ctx context.Context, db *sql.DB, limit int) (*RecencyStore, error) {
	if db == nil {
		return nil, lifecycle.ErrNotInitialized
	}
	if limit <= 0 {
		limit = DefaultConfig().RecencyLimit
	}
	if _, err := db.ExecContext(ctx, recencySchema); err != nil {
		return nil, lifecycle.Unavailable("creating recency schema", err)
	}
	return &RecencyStore{db: db, limit: limit}, nil
}

// Insert stores the user message and the agent reply as two entries keyed
// {turn}:user and {turn}:agent. Re-inserting a turn is a no-op.
func (r *RecencyStore) Insert(ctx context.Context, turn Turn) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return lifecycle.Unavailable("recency insert", err)
	}
	defer func() { _ = tx.Rollback() }()

	const q = `INSERT OR IGNORE INTO recency_messages
		(id, daemon_pubkey, channel_id, turn_id, role, content, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`
	ts := turn.CreatedAt.UTC().UnixNano()
	for _, m := range []struct{ role, content string }{
		{RoleUser, turn.Message},
		{RoleAgent, turn.Output},
	} {
		id := turn.ID + ":" + m.role
		if _, err := tx.ExecContext(ctx, q, id, turn.DaemonPubkey, turn.ChannelID, turn.ID, m.role, m.content, ts); err != nil {
			return lifecycle.Unavailable("recency insert", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return lifecycle.Unavailable("recency commit", err)
	}
	return nil
}

// Query returns the newest entries in scope as "{role}: {content}".
// The message is not used; recency ranks by time alone.
func (r *RecencyStore) Query(ctx context.Context, scope Scope, _ string) ([]string, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	q := `SELECT role, content FROM recency_messages WHERE daemon_pubkey = ?`
	args := []any{scope.DaemonPubkey}
	if scope.ChannelID != "" {
		q += ` AND channel_id = ?`
		args = append(args, scope.ChannelID)
	}
	q += ` ORDER BY created_at DESC, seq DESC LIMIT ?`
	args = append(args, r.limit)

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, lifecycle.Unavailable("recency query", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var role, content string
		if err := rows.Scan(&role, &content); err != nil {
			return nil, lifecycle.Unavailable("recency scan", err)
		}
		out = append(out, fmt.Sprintf("%s: %s", role, content))
	}
	if err := rows.Err(); err != nil {
		return nil, lifecycle.Unavailable("recency rows", err)
	}
	return out, nil
}

var _ Source = (*RecencyStore)(nil)
