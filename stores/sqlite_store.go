package stores

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/mickamy/txqueue"
	"github.com/mickamy/txqueue/internal/sqlutil"
	"github.com/mickamy/txqueue/sqltx"
)

// SQLiteOption configures a SQLiteStore.
type SQLiteOption func(*options)

// WithSQLiteQueue names the queue in reported errors.
func WithSQLiteQueue(name string) SQLiteOption {
	return func(o *options) {
		if name != "" {
			o.queue = name
		}
	}
}

// WithSQLiteTable overrides the default element table ("txqueue_elements").
func WithSQLiteTable(name string) SQLiteOption {
	return func(o *options) {
		if name != "" {
			o.table = name
		}
	}
}

// WithSQLiteDeadLetterTable overrides the default dead-letter table ("txqueue_dead_letters").
func WithSQLiteDeadLetterTable(name string) SQLiteOption {
	return func(o *options) {
		if name != "" {
			o.deadLetterTable = name
		}
	}
}

// SQLiteStore implements txqueue.ElementRepository for SQLite databases.
// SQLite serializes writers, so the claim needs no SKIP LOCKED. Timestamps are stored as unix nanoseconds.
type SQLiteStore[P any] struct {
	db   *sql.DB
	opts options
}

// NewSQLiteStore creates a store backed by SQLite.
func NewSQLiteStore[P any](db *sql.DB, opts ...SQLiteOption) *SQLiteStore[P] {
	o := newOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &SQLiteStore[P]{db: db, opts: o}
}

// DeadLetters returns the dead-letter repository sharing this store's database and options.
func (s *SQLiteStore[P]) DeadLetters() *SQLiteDeadLetterStore[P] {
	return &SQLiteDeadLetterStore[P]{db: s.db, opts: s.opts}
}

// Insert adds a row within the transaction carried by ctx.
func (s *SQLiteStore[P]) Insert(ctx context.Context, item txqueue.ElementToEnqueue[P], createdAt, nextDispatchAfter time.Time) (txqueue.Element[P], error) {
	payload, err := marshalPayload(s.opts.queue, item, item.Payload)
	if err != nil {
		return txqueue.Element[P]{}, err
	}
	query := fmt.Sprintf(
		"INSERT INTO %s (created_at, next_dispatch_after, dispatch_count, payload) VALUES (?, ?, ?, ?) RETURNING id",
		s.tableIdent(),
	)
	rows, err := sqltx.ExecutorFrom(ctx, s.db).QueryContext(ctx, query,
		createdAt.UnixNano(), nextDispatchAfter.UnixNano(), txqueue.InitialDispatchCount, payload)
	if err != nil {
		return txqueue.Element[P]{}, txqueue.NewError(s.opts.queue, item, txqueue.ErrTypeQueueInsert, "Failed to insert the element.", err)
	}
	defer func(rows *sql.Rows) { _ = rows.Close() }(rows)

	id, err := insertedID(s.opts.queue, item, rows)
	if err != nil {
		return txqueue.Element[P]{}, err
	}
	return item.Build(id, createdAt, nextDispatchAfter), nil
}

// FindByID reads one row.
func (s *SQLiteStore[P]) FindByID(ctx context.Context, id int64) (txqueue.Element[P], error) {
	query := fmt.Sprintf(
		"SELECT id, created_at, next_dispatch_after, dispatch_count, payload FROM %s WHERE id = ?",
		s.tableIdent(),
	)
	row := sqltx.ExecutorFrom(ctx, s.db).QueryRowContext(ctx, query, id)
	element, err := s.scan(row)
	if err != nil {
		if _, ok := txqueue.TypeOf(err); ok {
			return txqueue.Element[P]{}, err
		}
		return txqueue.Element[P]{}, readError(s.opts.queue, id, err)
	}
	return element, nil
}

// LockForNextDispatch leases up to batchSize due rows in one UPDATE ... RETURNING statement.
func (s *SQLiteStore[P]) LockForNextDispatch(ctx context.Context, batchSize int, notDispatchedTill, nextDispatchTime time.Time) ([]txqueue.Element[P], error) {
	query := fmt.Sprintf(`
UPDATE %s
SET next_dispatch_after = ?,
    dispatch_count = dispatch_count + 1
WHERE id IN (
    SELECT id FROM %s
    WHERE next_dispatch_after < ?
    ORDER BY created_at, id
    LIMIT ?
)
RETURNING id, created_at, next_dispatch_after, dispatch_count, payload;`, s.tableIdent(), s.tableIdent())

	rows, err := sqltx.ExecutorFrom(ctx, s.db).QueryContext(ctx, query,
		nextDispatchTime.UnixNano(), notDispatchedTill.UnixNano(), batchSize)
	if err != nil {
		return nil, lockError(s.opts.queue, err)
	}
	defer func(rows *sql.Rows) { _ = rows.Close() }(rows)

	var elements []txqueue.Element[P]
	for rows.Next() {
		element, err := s.scan(rows)
		if err != nil {
			if _, ok := txqueue.TypeOf(err); ok {
				return nil, err
			}
			return nil, lockError(s.opts.queue, err)
		}
		elements = append(elements, element)
	}
	if err := rows.Err(); err != nil {
		return nil, lockError(s.opts.queue, err)
	}
	sortElements(elements)
	return elements, nil
}

// Delete removes the row only while its dispatch count still matches.
func (s *SQLiteStore[P]) Delete(ctx context.Context, element txqueue.Element[P]) (txqueue.Element[P], error) {
	query := fmt.Sprintf("DELETE FROM %s WHERE id = ? AND dispatch_count = ?", s.tableIdent())
	res, err := sqltx.ExecutorFrom(ctx, s.db).ExecContext(ctx, query, element.ID, element.DispatchCount)
	return deleteResult(s.opts.queue, element, res, err)
}

func (s *SQLiteStore[P]) scan(row rowScanner) (txqueue.Element[P], error) {
	var (
		id                int64
		createdAt         int64
		nextDispatchAfter int64
		dispatchCount     int
		raw               []byte
	)
	if err := row.Scan(&id, &createdAt, &nextDispatchAfter, &dispatchCount, &raw); err != nil {
		return txqueue.Element[P]{}, err
	}
	payload, err := unmarshalPayload[P](s.opts.queue, id, append([]byte(nil), raw...))
	if err != nil {
		return txqueue.Element[P]{}, err
	}
	return txqueue.NewElement(id, time.Unix(0, createdAt).UTC(), time.Unix(0, nextDispatchAfter).UTC(), dispatchCount, payload), nil
}

func (s *SQLiteStore[P]) tableIdent() string {
	return sqlutil.QuoteIdentifier(s.opts.table, `"`)
}

// SQLiteDeadLetterStore keeps dead-lettered elements in SQLite.
type SQLiteDeadLetterStore[P any] struct {
	db   *sql.DB
	opts options
}

// Insert copies element into the dead-letter table.
func (s *SQLiteDeadLetterStore[P]) Insert(ctx context.Context, element txqueue.Element[P]) (txqueue.Element[P], error) {
	payload, err := marshalPayload(s.opts.queue, element, element.Payload)
	if err != nil {
		return txqueue.Element[P]{}, err
	}
	query := fmt.Sprintf(`
INSERT INTO %s (id, created_at, next_dispatch_after, dispatch_count, payload, moved_at)
VALUES (?, ?, ?, ?, ?, ?)`, sqlutil.QuoteIdentifier(s.opts.deadLetterTable, `"`))
	_, err = sqltx.ExecutorFrom(ctx, s.db).ExecContext(ctx, query,
		element.ID, element.CreatedAt.UnixNano(), element.NextDispatchAfter.UnixNano(), element.DispatchCount, payload,
		time.Now().UnixNano())
	if err != nil {
		return txqueue.Element[P]{}, deadLetterError(s.opts.queue, element, err)
	}
	return element, nil
}

// Count returns the number of dead-lettered rows.
func (s *SQLiteDeadLetterStore[P]) Count(ctx context.Context) (int, error) {
	var n int
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s", sqlutil.QuoteIdentifier(s.opts.deadLetterTable, `"`))
	if err := sqltx.ExecutorFrom(ctx, s.db).QueryRowContext(ctx, query).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}
