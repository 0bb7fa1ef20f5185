package stores

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/mickamy/txqueue"
	"github.com/mickamy/txqueue/internal/sqlutil"
	"github.com/mickamy/txqueue/sqltx"
)

// PostgresOption configures a PostgresStore.
type PostgresOption func(*options)

// WithPostgresQueue names the queue in reported errors.
func WithPostgresQueue(name string) PostgresOption {
	return func(o *options) {
		if name != "" {
			o.queue = name
		}
	}
}

// WithPostgresTable overrides the default element table ("txqueue_elements").
func WithPostgresTable(table string) PostgresOption {
	return func(o *options) {
		if table != "" {
			o.table = table
		}
	}
}

// WithPostgresDeadLetterTable overrides the default dead-letter table ("txqueue_dead_letters").
func WithPostgresDeadLetterTable(table string) PostgresOption {
	return func(o *options) {
		if table != "" {
			o.deadLetterTable = table
		}
	}
}

// PostgresStore keeps queue elements in PostgreSQL. Claims use FOR UPDATE SKIP LOCKED.
type PostgresStore[P any] struct {
	db   *sql.DB
	opts options
}

// NewPostgresStore creates a store over db, typically opened with the pgx stdlib driver.
func NewPostgresStore[P any](db *sql.DB, opts ...PostgresOption) *PostgresStore[P] {
	o := newOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &PostgresStore[P]{db: db, opts: o}
}

// DeadLetters returns the dead-letter repository sharing this store's database and options.
func (s *PostgresStore[P]) DeadLetters() *PostgresDeadLetterStore[P] {
	return &PostgresDeadLetterStore[P]{db: s.db, opts: s.opts}
}

func (s *PostgresStore[P]) Insert(ctx context.Context, item txqueue.ElementToEnqueue[P], createdAt, nextDispatchAfter time.Time) (txqueue.Element[P], error) {
	payload, err := marshalPayload(s.opts.queue, item, item.Payload)
	if err != nil {
		return txqueue.Element[P]{}, err
	}
	query := fmt.Sprintf(
		"INSERT INTO %s (created_at, next_dispatch_after, dispatch_count, payload) VALUES ($1, $2, $3, $4) RETURNING id",
		s.tableIdent(),
	)
	rows, err := sqltx.ExecutorFrom(ctx, s.db).QueryContext(ctx, query,
		createdAt.UTC(), nextDispatchAfter.UTC(), txqueue.InitialDispatchCount, string(payload))
	if err != nil {
		return txqueue.Element[P]{}, txqueue.NewError(s.opts.queue, item, txqueue.ErrTypeQueueInsert, "Failed to insert the element.", err)
	}
	defer func(rows *sql.Rows) {
		_ = rows.Close()
	}(rows)

	id, err := insertedID(s.opts.queue, item, rows)
	if err != nil {
		return txqueue.Element[P]{}, err
	}
	return item.Build(id, createdAt, nextDispatchAfter), nil
}

func (s *PostgresStore[P]) FindByID(ctx context.Context, id int64) (txqueue.Element[P], error) {
	query := fmt.Sprintf(
		"SELECT id, created_at, next_dispatch_after, dispatch_count, payload FROM %s WHERE id = $1",
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

func (s *PostgresStore[P]) LockForNextDispatch(ctx context.Context, batchSize int, notDispatchedTill, nextDispatchTime time.Time) ([]txqueue.Element[P], error) {
	query := fmt.Sprintf(`
WITH due AS (
    SELECT id FROM %s
    WHERE next_dispatch_after < $1
    ORDER BY created_at, id
    LIMIT $2
    FOR UPDATE SKIP LOCKED
)
UPDATE %s AS q
SET next_dispatch_after = $3,
    dispatch_count = q.dispatch_count + 1
FROM due
WHERE q.id = due.id
RETURNING q.id, q.created_at, q.next_dispatch_after, q.dispatch_count, q.payload;
`, s.tableIdent(), s.tableIdent())

	rows, err := sqltx.ExecutorFrom(ctx, s.db).QueryContext(ctx, query, notDispatchedTill.UTC(), batchSize, nextDispatchTime.UTC())
	if err != nil {
		return nil, lockError(s.opts.queue, err)
	}
	defer func(rows *sql.Rows) {
		_ = rows.Close()
	}(rows)

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

func (s *PostgresStore[P]) Delete(ctx context.Context, element txqueue.Element[P]) (txqueue.Element[P], error) {
	query := fmt.Sprintf("DELETE FROM %s WHERE id = $1 AND dispatch_count = $2", s.tableIdent())
	res, err := sqltx.ExecutorFrom(ctx, s.db).ExecContext(ctx, query, element.ID, element.DispatchCount)
	return deleteResult(s.opts.queue, element, res, err)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *PostgresStore[P]) scan(row rowScanner) (txqueue.Element[P], error) {
	var (
		id                int64
		createdAt         time.Time
		nextDispatchAfter time.Time
		dispatchCount     int
		raw               []byte
	)
	if err := row.Scan(&id, &createdAt, &nextDispatchAfter, &dispatchCount, &raw); err != nil {
		return txqueue.Element[P]{}, err
	}
	payload, err := unmarshalPayload[P](s.opts.queue, id, bytes.Clone(raw))
	if err != nil {
		return txqueue.Element[P]{}, err
	}
	return txqueue.NewElement(id, createdAt, nextDispatchAfter, dispatchCount, payload), nil
}

func (s *PostgresStore[P]) tableIdent() string {
	return sqlutil.QuoteIdentifier(s.opts.table, `"`)
}

// PostgresDeadLetterStore keeps dead-lettered elements in PostgreSQL.
type PostgresDeadLetterStore[P any] struct {
	db   *sql.DB
	opts options
}

func (s *PostgresDeadLetterStore[P]) Insert(ctx context.Context, element txqueue.Element[P]) (txqueue.Element[P], error) {
	payload, err := marshalPayload(s.opts.queue, element, element.Payload)
	if err != nil {
		return txqueue.Element[P]{}, err
	}
	query := fmt.Sprintf(`
INSERT INTO %s (id, created_at, next_dispatch_after, dispatch_count, payload)
VALUES ($1, $2, $3, $4, $5)`, sqlutil.QuoteIdentifier(s.opts.deadLetterTable, `"`))
	_, err = sqltx.ExecutorFrom(ctx, s.db).ExecContext(ctx, query,
		element.ID, element.CreatedAt.UTC(), element.NextDispatchAfter.UTC(), element.DispatchCount, string(payload))
	if err != nil {
		return txqueue.Element[P]{}, deadLetterError(s.opts.queue, element, err)
	}
	return element, nil
}

// Count returns the number of dead-lettered rows.
func (s *PostgresDeadLetterStore[P]) Count(ctx context.Context) (int, error) {
	var n int
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s", sqlutil.QuoteIdentifier(s.opts.deadLetterTable, `"`))
	if err := sqltx.ExecutorFrom(ctx, s.db).QueryRowContext(ctx, query).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}
