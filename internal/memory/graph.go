package memory

import (
	"context"
	"database/sql"
	"strings"

	"github.com/SPCG-NEST/daemon/internal/lifecycle"
)

const graphSchema = `
CREATE TABLE IF NOT EXISTS entities (
	daemon_pubkey TEXT    NOT NULL,
	channel_id    TEXT    NOT NULL DEFAULT '',
	key           TEXT    NOT NULL,
	name          TEXT    NOT NULL,
	mentions      INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (daemon_pubkey, channel_id, key)
);
CREATE TABLE IF NOT EXISTS relations (
	daemon_pubkey TEXT    NOT NULL,
	channel_id    TEXT    NOT NULL DEFAULT '',
	source        TEXT    NOT NULL,
	target        TEXT    NOT NULL,
	weight        INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (daemon_pubkey, channel_id, source, target)
);
CREATE TABLE IF NOT EXISTS mentions (
	daemon_pubkey TEXT NOT NULL,
	turn_id       TEXT NOT NULL,
	key           TEXT NOT NULL,
	PRIMARY KEY (daemon_pubkey, turn_id, key)
);
`

// MaxRelated caps the related names listed per entity.
const MaxRelated = 5

// GraphIndex records which entities each daemon has talked about and which
// appeared together.
type GraphIndex struct {
	db *sql.DB
}

// NewGraphIndex creates the schema on db.
func NewGraphIndex(ctx context.Context, db *sql.DB) (*GraphIndex, error) {
	if db == nil {
		return nil, lifecycle.ErrNotInitialized
	}
	if _, err := db.ExecContext(ctx, graphSchema); err != nil {
		return nil, lifecycle.Unavailable("creating graph schema", err)
	}
	return &GraphIndex{db: db}, nil
}

// Index records the entities of a turn and links every pair co-mentioned in it.
// A turn already indexed is skipped.
func (g *GraphIndex) Index(ctx context.Context, turn Turn, entities []Entity) error {
	if len(entities) == 0 {
		return nil
	}
	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return lifecycle.Unavailable("graph index", err)
	}
	defer func() { _ = tx.Rollback() }()

	var seen int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM mentions WHERE daemon_pubkey = ? AND turn_id = ?`,
		turn.DaemonPubkey, turn.ID).Scan(&seen)
	if err != nil {
		return lifecycle.Unavailable("graph index", err)
	}
	if seen > 0 {
		return nil
	}

	for _, e := range entities {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO mentions (daemon_pubkey, turn_id, key) VALUES (?, ?, ?)`,
			turn.DaemonPubkey, turn.ID, e.Key); err != nil {
			return lifecycle.Unavailable("graph mention", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO entities (daemon_pubkey, channel_id, key, name, mentions) VALUES (?, ?, ?, ?, 1)
			 ON CONFLICT (daemon_pubkey, channel_id, key) DO UPDATE SET mentions = mentions + 1`,
			turn.DaemonPubkey, turn.ChannelID, e.Key, e.Name); err != nil {
			return lifecycle.Unavailable("graph entity", err)
		}
	}

	const relate = `INSERT INTO relations (daemon_pubkey, channel_id, source, target, weight) VALUES (?, ?, ?, ?, 1)
		ON CONFLICT (daemon_pubkey, channel_id, source, target) DO UPDATE SET weight = weight + 1`
	for i, a := range entities {
		for j, b := range entities {
			if i == j {
				continue
			}
			if _, err := tx.ExecContext(ctx, relate, turn.DaemonPubkey, turn.ChannelID, a.Key, b.Key); err != nil {
				return lifecycle.Unavailable("graph relation", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return lifecycle.Unavailable("graph commit", err)
	}
	return nil
}

// Related returns a line "{entity}: related to {a, b, c}" for each entity
// already known in scope that has co-mentioned neighbours.
func (g *GraphIndex) Related(ctx context.Context, scope Scope, entities []Entity) ([]string, error) {
	var out []string
	for _, e := range entities {
		related, err := g.neighbours(ctx, scope, e.Key)
		if err != nil {
			return nil, err
		}
		if len(related) == 0 {
			continue
		}
		out = append(out, e.Name+": related to "+strings.Join(related, ", "))
	}
	return out, nil
}

// neighbours returns display names of entities linked to key, strongest first.
func (g *GraphIndex) neighbours(ctx context.Context, scope Scope, key string) ([]string, error) {
	q := `SELECT r.target, MAX(e.name), SUM(r.weight) AS w
		FROM relations r
		JOIN entities e ON e.daemon_pubkey = r.daemon_pubkey AND e.channel_id = r.channel_id AND e.key = r.target
		WHERE r.daemon_pubkey = ? AND r.source = ?`
	args := []any{scope.DaemonPubkey, key}
	if scope.ChannelID != "" {
		q += ` AND r.channel_id = ?`
		args = append(args, scope.ChannelID)
	}
	q += ` GROUP BY r.target ORDER BY w DESC, r.target ASC LIMIT ?`
	args = append(args, MaxRelated)

	rows, err := g.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, lifecycle.Unavailable("graph query", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var target, name string
		var weight int
		if err := rows.Scan(&target, &name, &weight); err != nil {
			return nil, lifecycle.Unavailable("graph scan", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, lifecycle.Unavailable("graph rows", err)
	}
	return names, nil
}
