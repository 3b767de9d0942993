// Package identity provides the character registry and the append-only
// conversation log, backed by SQLite.
package identity

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/SPCG-NEST/daemon/internal/approval"
	"github.com/SPCG-NEST/daemon/internal/lifecycle"
	"github.com/SPCG-NEST/daemon/internal/storage"
)

const instrumentationName = "github.com/SPCG-NEST/daemon/internal/identity"

// ServerName is the provider name recorded in post-process entries.
const ServerName = "Daemon Identity Server"

const schema = `
CREATE TABLE IF NOT EXISTS daemons (
	pubkey    TEXT PRIMARY KEY,
	character TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS logs (
	seq           INTEGER PRIMARY KEY AUTOINCREMENT,
	id            TEXT NOT NULL UNIQUE,
	daemon_pubkey TEXT NOT NULL,
	channel_id    TEXT,
	created_at    INTEGER NOT NULL,
	lifecycle     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_logs_daemon_channel_created
	ON logs(daemon_pubkey, channel_id, created_at);
`

// Config configures the identity store.
type Config struct {
	// Path is the SQLite database file. ":memory:" keeps everything in process.
	Path string

	// BusyTimeout bounds how long a writer waits on a locked database.
	BusyTimeout time.Duration

	// CacheSize caps the number of cached characters. Zero disables the cache.
	CacheSize int64
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Path:        "~/.config/daemon/identity.db",
		BusyTimeout: 5 * time.Second,
		CacheSize:   1024,
	}
}

// Option customizes a Store.
type Option func(*Store)

// WithClock overrides the write timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithIDGenerator overrides log id generation.
func WithIDGenerator(gen func() string) Option {
	return func(s *Store) { s.newID = gen }
}

// WithRedactor scrubs each record before its snapshot is written.
func WithRedactor(r Redactor) Option {
	return func(s *Store) { s.redactor = r }
}

// Redactor removes sensitive text from a record before it is persisted.
type Redactor interface {
	RedactRecord(rec lifecycle.Record) lifecycle.Record
}

// Store is the identity store. Methods fail with lifecycle.ErrNotInitialized
// until Init succeeds.
type Store struct {
	config *Config
	gate   approval.Gate
	logger *zap.Logger
	now    func() time.Time
	newID  func() string

	redactor Redactor

	tracer        trace.Tracer
	appendCounter metric.Int64Counter
	deniedCounter metric.Int64Counter

	mu    sync.RWMutex
	db    *sql.DB
	cache *ristretto.Cache
}

// NewStore creates an uninitialized store. A nil gate uses approval.FieldGate.
func NewStore(cfg *Config, gate approval.Gate, logger *zap.Logger, opts ...Option) *Store {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if gate == nil {
		gate = approval.FieldGate{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Store{
		config: cfg,
		gate:   gate,
		logger: logger,
		now:    time.Now,
		newID:  func() string { return uuid.New().String() },
		tracer: otel.Tracer(instrumentationName),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.initMetrics()
	return s
}

func (s *Store) initMetrics() {
	meter := otel.Meter(instrumentationName)

	var err error
	s.appendCounter, err = meter.Int64Counter(
		"daemon.identity.log_appends_total",
		metric.WithDescription("Total number of conversation log appends"),
		metric.WithUnit("{append}"),
	)
	if err != nil {
		s.logger.Warn("failed to create append counter", zap.Error(err))
	}

	s.deniedCounter, err = meter.Int64Counter(
		"daemon.identity.approval_denied_total",
		metric.WithDescription("Total number of log appends refused by the approval gate"),
		metric.WithUnit("{denial}"),
	)
	if err != nil {
		s.logger.Warn("failed to create denied counter", zap.Error(err))
	}
}

// Init opens the database and creates the schema. Calling Init twice is a no-op.
func (s *Store) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		return nil
	}

	db, err := storage.OpenSQLite(s.config.Path, s.config.BusyTimeout)
	if err != nil {
		return lifecycle.Unavailable("open identity database", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return lifecycle.Unavailable("create identity schema", err)
	}

	if s.config.CacheSize > 0 {
		cache, err := ristretto.NewCache(&ristretto.Config{
			NumCounters: s.config.CacheSize * 10,
			MaxCost:     s.config.CacheSize,
			BufferItems: 64,
		})
		if err != nil {
			_ = db.Close()
			return fmt.Errorf("creating character cache: %w", err)
		}
		s.cache = cache
	}

	s.db = db
	s.logger.Info("identity store initialized", zap.String("path", s.config.Path))
	return nil
}

// Close releases the database. The store returns ErrNotInitialized afterwards.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	if s.cache != nil {
		s.cache.Close()
		s.cache = nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *Store) handle() (*sql.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return nil, lifecycle.ErrNotInitialized
	}
	return s.db, nil
}

// RegisterCharacter inserts c unless its pubkey already exists, and returns
// the stored character either way. Safe to retry.
func (s *Store) RegisterCharacter(ctx context.Context, c Character) (Character, error) {
	ctx, span := s.tracer.Start(ctx, "identity.RegisterCharacter")
	defer span.End()

	db, err := s.handle()
	if err != nil {
		return Character{}, err
	}
	if err := c.Validate(); err != nil {
		return Character{}, err
	}
	span.SetAttributes(attribute.String("daemon.pubkey", c.Pubkey))

	doc, err := json.Marshal(c)
	if err != nil {
		return Character{}, fmt.Errorf("encoding character: %w", err)
	}

	res, err := db.ExecContext(ctx,
		`INSERT INTO daemons (pubkey, character) VALUES (?, ?) ON CONFLICT(pubkey) DO NOTHING`,
		c.Pubkey, string(doc))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Character{}, lifecycle.Unavailable("register character", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		s.logger.Debug("character already registered", zap.String("pubkey", c.Pubkey))
	} else {
		s.logger.Info("character registered", zap.String("pubkey", c.Pubkey), zap.String("name", c.Name))
	}

	stored, err := s.FetchCharacter(ctx, c.Pubkey)
	if err != nil {
		return Character{}, err
	}
	if stored == nil {
		return Character{}, lifecycle.Unavailable("register character", errors.New("row missing after insert"))
	}
	return *stored, nil
}

// FetchCharacter returns the character or nil when absent.
func (s *Store) FetchCharacter(ctx context.Context, pubkey string) (*Character, error) {
	ctx, span := s.tracer.Start(ctx, "identity.FetchCharacter")
	defer span.End()
	span.SetAttributes(attribute.String("daemon.pubkey", pubkey))

	db, err := s.handle()
	if err != nil {
		return nil, err
	}

	if c, ok := s.cached(pubkey); ok {
		return &c, nil
	}

	var doc string
	err = db.QueryRowContext(ctx, `SELECT character FROM daemons WHERE pubkey = ?`, pubkey).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, lifecycle.Unavailable("fetch character", err)
	}

	var c Character
	if err := json.Unmarshal([]byte(doc), &c); err != nil {
		return nil, fmt.Errorf("decoding character %s: %w", pubkey, err)
	}

	s.mu.RLock()
	if s.cache != nil {
		if cp, err := c.clone(); err == nil {
			s.cache.Set(pubkey, cp, 1)
		}
	}
	s.mu.RUnlock()
	return &c, nil
}

func (s *Store) cached(pubkey string) (Character, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cache == nil {
		return Character{}, false
	}
	v, ok := s.cache.Get(pubkey)
	if !ok {
		return Character{}, false
	}
	// Copy so callers cannot mutate the cached value.
	c, err := v.(Character).clone()
	if err != nil {
		return Character{}, false
	}
	return c, true
}

// AppendLog persists an immutable snapshot of rec once the gate approves it.
// The returned record carries exactly one new post-process entry naming the
// new log id. Failures are returned to the caller.
func (s *Store) AppendLog(ctx context.Context, rec lifecycle.Record) (lifecycle.Record, error) {
	ctx, span := s.tracer.Start(ctx, "identity.AppendLog")
	defer span.End()

	db, err := s.handle()
	if err != nil {
		return rec, err
	}
	if err := rec.Validate(); err != nil {
		return rec, err
	}
	span.SetAttributes(
		attribute.String("daemon.pubkey", rec.DaemonPubkey),
		attribute.String("channel.id", rec.ChannelID),
	)

	if err := approval.Check(s.gate, rec); err != nil {
		if s.deniedCounter != nil {
			s.deniedCounter.Add(ctx, 1)
		}
		s.logger.Info("log append refused", zap.String("pubkey", rec.DaemonPubkey), zap.Error(err))
		return rec, err
	}

	persisted := rec
	if s.redactor != nil {
		persisted = s.redactor.RedactRecord(rec)
	}
	snapshot, err := json.Marshal(persisted)
	if err != nil {
		return rec, fmt.Errorf("encoding lifecycle snapshot: %w", err)
	}

	id := s.newID()
	createdAt := s.now().UTC()
	_, err = db.ExecContext(ctx,
		`INSERT INTO logs (id, daemon_pubkey, channel_id, created_at, lifecycle) VALUES (?, ?, ?, ?, ?)`,
		id, rec.DaemonPubkey, nullable(rec.ChannelID), createdAt.UnixNano(), string(snapshot))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return rec, lifecycle.Unavailable("append log", err)
	}
	if s.appendCounter != nil {
		s.appendCounter.Add(ctx, 1)
	}

	out, err := rec.AppendProcessLog(lifecycle.ProcessLogEntry{
		Server: ServerName,
		Tool:   ToolCreateLog,
		Args:   map[string]any{"logId": id},
	})
	if err != nil {
		return rec, err
	}

	s.logger.Debug("log appended",
		zap.String("pubkey", rec.DaemonPubkey),
		zap.String("channel_id", rec.ChannelID),
		zap.String("log_id", id))
	return out, nil
}

// FetchLogs returns at most q.Limit entries for a daemon ordered by createdAt,
// ties broken by insertion order in the same direction.
func (s *Store) FetchLogs(ctx context.Context, q LogQuery) ([]LogEntry, error) {
	ctx, span := s.tracer.Start(ctx, "identity.FetchLogs")
	defer span.End()

	db, err := s.handle()
	if err != nil {
		return nil, err
	}
	if err := q.normalize(); err != nil {
		return nil, err
	}
	span.SetAttributes(
		attribute.String("daemon.pubkey", q.DaemonPubkey),
		attribute.Int("limit", q.Limit),
		attribute.String("order_by", string(q.OrderBy)),
	)

	dir := "DESC"
	if q.OrderBy == OrderAsc {
		dir = "ASC"
	}

	query := `SELECT seq, id, daemon_pubkey, channel_id, created_at, lifecycle FROM logs WHERE daemon_pubkey = ?`
	args := []any{q.DaemonPubkey}
	if q.ChannelID != "" {
		query += ` AND channel_id = ?`
		args = append(args, q.ChannelID)
	}
	query += fmt.Sprintf(` ORDER BY created_at %s, seq %s LIMIT ?`, dir, dir)
	args = append(args, q.Limit)

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, lifecycle.Unavailable("fetch logs", err)
	}
	defer rows.Close()

	entries := make([]LogEntry, 0)
	for rows.Next() {
		var (
			e       LogEntry
			channel sql.NullString
			created int64
			doc     string
		)
		if err := rows.Scan(&e.Seq, &e.ID, &e.DaemonPubkey, &channel, &created, &doc); err != nil {
			return nil, lifecycle.Unavailable("scan log row", err)
		}
		e.ChannelID = channel.String
		e.CreatedAt = time.Unix(0, created).UTC()
		if err := json.Unmarshal([]byte(doc), &e.Lifecycle); err != nil {
			return nil, fmt.Errorf("decoding log %s: %w", e.ID, err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, lifecycle.Unavailable("iterate logs", err)
	}

	span.SetAttributes(attribute.Int("results_count", len(entries)))
	return entries, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
