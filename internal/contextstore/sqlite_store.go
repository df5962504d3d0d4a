package contextstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"crawshaw.io/sqlite"
	"crawshaw.io/sqlite/sqlitex"
	"github.com/google/uuid"

	"github.com/localrivet/sharedcontext/internal/errortypes"
	"github.com/localrivet/sharedcontext/internal/telemetry"
)

// DefaultPoolSize is the number of pooled connections used when none is configured.
const DefaultPoolSize = 8

var errStoreClosed = errors.New("store is not initialized")

const schemaSQL = `
CREATE TABLE IF NOT EXISTS contexts (
	id TEXT PRIMARY KEY,
	uri TEXT NOT NULL UNIQUE,
	readme TEXT,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_contexts_created_at ON contexts (created_at);
CREATE TABLE IF NOT EXISTS context_entries (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	id TEXT NOT NULL UNIQUE,
	context_id TEXT NOT NULL REFERENCES contexts (id) ON DELETE CASCADE,
	content TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_context_entries_order ON context_entries (context_id, created_at, seq);
`

// SQLiteContextStore is an implementation of ContextStore backed by a pool
// of SQLite connections.
type SQLiteContextStore struct {
	pool     *sqlitex.Pool
	dbPath   string
	poolSize int
	now      func() time.Time
	newID    func() string
	metrics  *telemetry.MetricsCollector
	logger   *slog.Logger
}

// Option configures a SQLiteContextStore.
type Option func(*SQLiteContextStore)

// WithPoolSize sets the number of pooled connections.
func WithPoolSize(n int) Option {
	return func(s *SQLiteContextStore) {
		if n > 0 {
			s.poolSize = n
		}
	}
}

// WithClock replaces the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *SQLiteContextStore) { s.now = now }
}

// WithIDGenerator replaces the generator used for context and entry ids.
func WithIDGenerator(newID func() string) Option {
	return func(s *SQLiteContextStore) { s.newID = newID }
}

// WithMetrics records store operations on m.
func WithMetrics(m *telemetry.MetricsCollector) Option {
	return func(s *SQLiteContextStore) { s.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *SQLiteContextStore) { s.logger = l }
}

// NewSQLiteContextStore creates a new SQLiteContextStore instance.
func NewSQLiteContextStore(opts ...Option) *SQLiteContextStore {
	s := &SQLiteContextStore{
		poolSize: DefaultPoolSize,
		now:      time.Now,
		newID:    func() string { return uuid.Must(uuid.NewV7()).String() },
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Initialize opens the connection pool at dbPath, enables foreign keys on
// every connection and creates the schema.
func (s *SQLiteContextStore) Initialize(dbPath string) error {
	s.dbPath = dbPath

	pool, err := sqlitex.Open(dbPath, 0, s.poolSize)
	if err != nil {
		return errortypes.DatabaseError(err, "failed to open SQLite database").
			WithField("path", dbPath)
	}

	// Foreign key enforcement is per connection, so touch all of them once.
	conns := make([]*sqlite.Conn, 0, s.poolSize)
	fail := func(cause error, message string) error {
		for _, c := range conns {
			pool.Put(c)
		}
		pool.Close()
		return errortypes.DatabaseError(cause, message).WithField("path", dbPath)
	}
	for i := 0; i < s.poolSize; i++ {
		conn := pool.Get(context.Background())
		if conn == nil {
			break
		}
		conns = append(conns, conn)
		if err := sqlitex.Exec(conn, "PRAGMA foreign_keys = ON;", nil); err != nil {
			return fail(err, "failed to enable foreign keys")
		}
	}
	if len(conns) == 0 {
		return fail(errStoreClosed, "no connection available for schema setup")
	}

	if err := sqlitex.ExecScript(conns[0], schemaSQL); err != nil {
		return fail(err, "failed to create schema")
	}
	for _, c := range conns {
		pool.Put(c)
	}

	s.pool = pool
	s.logger.Info("Context store initialized", "path", dbPath, "pool_size", s.poolSize)
	return nil
}

// Close closes the store and releases any resources.
func (s *SQLiteContextStore) Close() error {
	if s.pool == nil {
		return nil
	}
	err := s.pool.Close()
	s.pool = nil
	return err
}

func (s *SQLiteContextStore) get(ctx context.Context) (*sqlite.Conn, error) {
	if s.pool == nil {
		return nil, errortypes.DatabaseError(errStoreClosed, "no database")
	}
	conn := s.pool.Get(ctx)
	if conn == nil {
		cause := ctx.Err()
		if cause == nil {
			cause = errors.New("connection pool closed")
		}
		return nil, errortypes.TransientError(cause, "no database connection available")
	}
	return conn, nil
}

// classify maps a SQLite failure onto the error taxonomy.
func (s *SQLiteContextStore) classify(err error, message string) error {
	if err == nil {
		return nil
	}
	var appErr *errortypes.AppError
	if errors.As(err, &appErr) {
		return err
	}
	if s.metrics != nil {
		s.metrics.IncrementCounter(telemetry.MetricStoreErrors, 1)
	}

	switch sqlite.ErrCode(err) {
	case sqlite.SQLITE_CONSTRAINT_UNIQUE, sqlite.SQLITE_CONSTRAINT_PRIMARYKEY:
		return errortypes.ConflictError(err, message)
	case sqlite.SQLITE_CONSTRAINT_FOREIGNKEY:
		return errortypes.NotFoundError(err, message)
	case sqlite.SQLITE_BUSY, sqlite.SQLITE_LOCKED, sqlite.SQLITE_INTERRUPT:
		return errortypes.TransientError(err, message)
	}

	// Primary codes are reported when extended codes are unavailable.
	msg := err.Error()
	switch {
	case strings.Contains(msg, "UNIQUE constraint failed"):
		return errortypes.ConflictError(err, message)
	case strings.Contains(msg, "FOREIGN KEY constraint failed"):
		return errortypes.NotFoundError(err, message)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return errortypes.TransientError(err, message)
	}
	return errortypes.DatabaseError(err, message)
}

func nullable(s *string) interface{} {
	if s == nil {
		return nil
	}
	return *s
}

func fromMicros(v int64) time.Time {
	return time.UnixMicro(v).UTC()
}

func (s *SQLiteContextStore) timestamp() int64 {
	return s.now().UTC().UnixMicro()
}

// CreateContext registers a new context.
func (s *SQLiteContextStore) CreateContext(ctx context.Context, uri string, readme *string) (*Context, error) {
	conn, err := s.get(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	id := s.newID()
	ts := s.timestamp()

	err = sqlitex.Exec(conn,
		`INSERT INTO contexts (id, uri, readme, created_at, updated_at) VALUES (?, ?, ?, ?, ?);`,
		nil, id, uri, nullable(readme), ts, ts)
	if err != nil {
		return nil, s.classify(err, "failed to create context")
	}

	if s.metrics != nil {
		s.metrics.IncrementCounter(telemetry.MetricContextsCreated, 1)
	}

	var readmeCopy *string
	if readme != nil {
		r := *readme
		readmeCopy = &r
	}
	return &Context{
		ID:        id,
		URI:       uri,
		Readme:    readmeCopy,
		CreatedAt: fromMicros(ts),
		UpdatedAt: fromMicros(ts),
	}, nil
}

func scanContext(stmt *sqlite.Stmt) Context {
	c := Context{
		ID:        stmt.ColumnText(0),
		URI:       stmt.ColumnText(1),
		CreatedAt: fromMicros(stmt.ColumnInt64(3)),
		UpdatedAt: fromMicros(stmt.ColumnInt64(4)),
	}
	if stmt.ColumnType(2) != sqlite.SQLITE_NULL {
		r := stmt.ColumnText(2)
		c.Readme = &r
	}
	return c
}

// GetContext returns the context with the given id, or nil when absent.
func (s *SQLiteContextStore) GetContext(ctx context.Context, contextID string) (*Context, error) {
	conn, err := s.get(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	var found *Context
	err = sqlitex.Exec(conn,
		`SELECT id, uri, readme, created_at, updated_at FROM contexts WHERE id = ?;`,
		func(stmt *sqlite.Stmt) error {
			c := scanContext(stmt)
			found = &c
			return nil
		}, contextID)
	if err != nil {
		return nil, s.classify(err, "failed to get context")
	}
	return found, nil
}

// ListContexts returns contexts newest first.
func (s *SQLiteContextStore) ListContexts(ctx context.Context, limit, offset int) (contexts []Context, total int, err error) {
	conn, err := s.get(ctx)
	if err != nil {
		return nil, 0, err
	}
	defer s.pool.Put(conn)
	defer sqlitex.Save(conn)(&err)

	limit, offset = normalizePage(limit, offset)

	err = sqlitex.Exec(conn, `SELECT COUNT(*) FROM contexts;`, func(stmt *sqlite.Stmt) error {
		total = int(stmt.ColumnInt64(0))
		return nil
	})
	if err != nil {
		return nil, 0, s.classify(err, "failed to count contexts")
	}

	contexts = make([]Context, 0)
	err = sqlitex.Exec(conn,
		`SELECT id, uri, readme, created_at, updated_at FROM contexts
		 ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?;`,
		func(stmt *sqlite.Stmt) error {
			contexts = append(contexts, scanContext(stmt))
			return nil
		}, limit, offset)
	if err != nil {
		return nil, 0, s.classify(err, "failed to list contexts")
	}
	return contexts, total, nil
}

// UpdateReadme replaces the readme of a context.
func (s *SQLiteContextStore) UpdateReadme(ctx context.Context, contextID string, readme *string) (bool, error) {
	conn, err := s.get(ctx)
	if err != nil {
		return false, err
	}
	defer s.pool.Put(conn)

	err = sqlitex.Exec(conn,
		`UPDATE contexts SET readme = ?, updated_at = ? WHERE id = ?;`,
		nil, nullable(readme), s.timestamp(), contextID)
	if err != nil {
		return false, s.classify(err, "failed to update readme")
	}

	updated := conn.Changes() > 0
	if updated && s.metrics != nil {
		s.metrics.IncrementCounter(telemetry.MetricReadmesUpdated, 1)
	}
	return updated, nil
}

// AppendEntry stores a new entry in an existing context.
func (s *SQLiteContextStore) AppendEntry(ctx context.Context, contextID, content string) (entry *Entry, err error) {
	conn, err := s.get(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)
	defer sqlitex.Save(conn)(&err)

	exists := false
	err = sqlitex.Exec(conn, `SELECT 1 FROM contexts WHERE id = ?;`, func(*sqlite.Stmt) error {
		exists = true
		return nil
	}, contextID)
	if err != nil {
		return nil, s.classify(err, "failed to look up context")
	}
	if !exists {
		return nil, errortypes.ContextNotFound(contextID)
	}

	id := s.newID()
	ts := s.timestamp()
	err = sqlitex.Exec(conn,
		`INSERT INTO context_entries (id, context_id, content, created_at) VALUES (?, ?, ?, ?);`,
		nil, id, contextID, content, ts)
	if err != nil {
		return nil, s.classify(err, "failed to append entry")
	}

	if s.metrics != nil {
		s.metrics.IncrementCounter(telemetry.MetricEntriesAppended, 1)
		s.metrics.RecordTimestamp(telemetry.MetricLastEntryAppended)
	}

	return &Entry{
		ID:        id,
		ContextID: contextID,
		Content:   content,
		Seq:       conn.LastInsertRowID(),
		CreatedAt: fromMicros(ts),
	}, nil
}

// ListEntries returns a page of entries ordered by timestamp with the
// insertion sequence as tie-break.
func (s *SQLiteContextStore) ListEntries(ctx context.Context, contextID string, order Order, limit, offset int) (entries []Entry, total int, err error) {
	var orderSQL string
	switch order {
	case OrderAsc, "":
		orderSQL = "created_at ASC, seq ASC"
	case OrderDesc:
		orderSQL = "created_at DESC, seq DESC"
	default:
		return nil, 0, errortypes.ValidationError(fmt.Errorf("unknown order %q", order), "invalid order")
	}

	conn, err := s.get(ctx)
	if err != nil {
		return nil, 0, err
	}
	defer s.pool.Put(conn)
	defer sqlitex.Save(conn)(&err)

	limit, offset = normalizePage(limit, offset)

	err = sqlitex.Exec(conn, `SELECT COUNT(*) FROM context_entries WHERE context_id = ?;`,
		func(stmt *sqlite.Stmt) error {
			total = int(stmt.ColumnInt64(0))
			return nil
		}, contextID)
	if err != nil {
		return nil, 0, s.classify(err, "failed to count entries")
	}

	entries = make([]Entry, 0)
	err = sqlitex.Exec(conn,
		`SELECT id, context_id, content, seq, created_at FROM context_entries
		 WHERE context_id = ? ORDER BY `+orderSQL+` LIMIT ? OFFSET ?;`,
		func(stmt *sqlite.Stmt) error {
			entries = append(entries, Entry{
				ID:        stmt.ColumnText(0),
				ContextID: stmt.ColumnText(1),
				Content:   stmt.ColumnText(2),
				Seq:       stmt.ColumnInt64(3),
				CreatedAt: fromMicros(stmt.ColumnInt64(4)),
			})
			return nil
		}, contextID, limit, offset)
	if err != nil {
		return nil, 0, s.classify(err, "failed to list entries")
	}
	return entries, total, nil
}

// normalizePage maps a negative limit to "no limit" and a negative offset to 0.
func normalizePage(limit, offset int) (int, int) {
	if limit < 0 {
		limit = -1
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
