package stores

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/mickamy/txqueue"
	"github.com/mickamy/txqueue/internal/sqlutil"
	"github.com/mickamy/txqueue/sqltx"
)

// MySQLOption configures a MySQLStore.
type MySQLOption func(*options)

// WithMySQLQueue names the queue in reported errors.
func WithMySQLQueue(name string) MySQLOption {
	return func(o *options) {
		if name != "" {
			o.queue = name
		}
	}
}

// WithMySQLTable overrides the default element table ("txqueue_elements").
func WithMySQLTable(table string) MySQLOption {
	return func(o *options) {
		if table != "" {
			o.table = table
		}
	}
}

// WithMySQLDeadLetterTable overrides the default dead-letter table ("txqueue_dead_letters").
func WithMySQLDeadLetterTable(table string) MySQLOption {
	return func(o *options) {
		if table != "" {
			o.deadLetterTable = table
		}
	}
}

// MySQLStore keeps queue elements in MySQL 8. The DSN must set parseTime=true and loc=UTC.
type MySQLStore[P any] struct {
	db   *sql.DB
	opts options
}

func NewMySQLStore[P any](db *sql.DB, opts ...MySQLOption) *MySQLStore[P] {
	o := newOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &MySQLStore[P]{db: db, opts: o}
}

// DeadLetters returns the dead-letter repository sharing this store's database and options.
func (s *MySQLStore[P]) DeadLetters() *MySQLDeadLetterStore[P] {
	return &MySQLDeadLetterStore[P]{db: s.db, opts: s.opts}
}

func (s *MySQLStore[P]) Insert(ctx context.Context, item txqueue.ElementToEnqueue[P], createdAt, nextDispatchAfter time.Time) (txqueue.Element[P], error) {
	payload, err := marshalPayload(s.opts.queue, item, item.Payload)
	if err != nil {
		return txqueue.Element[P]{}, err
	}
	query := fmt.Sprintf(
		"INSERT INTO %s (created_at, next_dispatch_after, dispatch_count, payload) VALUES (?, ?, ?, ?)",
		s.tableIdent(),
	)
	res, err := sqltx.ExecutorFrom(ctx, s.db).ExecContext(ctx, query,
		createdAt.UTC(), nextDispatchAfter.UTC(), txqueue.InitialDispatchCount, payload)
	if err != nil {
		return txqueue.Element[P]{}, txqueue.NewError(s.opts.queue, item, txqueue.ErrTypeQueueInsert, "Failed to insert the element.", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return txqueue.Element[P]{}, txqueue.NewError(s.opts.queue, item, txqueue.ErrTypeQueueInsert, "Failed to count inserted rows.", err)
	}
	if n != 1 {
		return txqueue.Element[P]{}, txqueue.NewError(s.opts.queue, item, txqueue.ErrTypeQueueInsertCountRowsInserted,
			fmt.Sprintf("Expected one row to be inserted, got %d.", n), nil)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return txqueue.Element[P]{}, txqueue.NewError(s.opts.queue, item, txqueue.ErrTypeElementID, "Failed to read the generated element id.", err)
	}
	if id == 0 {
		return txqueue.Element[P]{}, txqueue.NewError(s.opts.queue, item, txqueue.ErrTypeElementIDNull, "The generated element id is null.", nil)
	}
	return item.Build(id, createdAt, nextDispatchAfter), nil
}

func (s *MySQLStore[P]) FindByID(ctx context.Context, id int64) (txqueue.Element[P], error) {
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

// LockForNextDispatch selects with SKIP LOCKED, bumps the selected rows and reads them back, all in the
// transaction carried by ctx. Without one it runs in a local transaction.
func (s *MySQLStore[P]) LockForNextDispatch(ctx context.Context, batchSize int, notDispatchedTill, nextDispatchTime time.Time) (elements []txqueue.Element[P], err error) {
	tx, ok := sqltx.FromContext(ctx)
	if !ok {
		tx, err = s.db.BeginTx(ctx, nil)
		if err != nil {
			return nil, lockError(s.opts.queue, err)
		}
		defer func() {
			if err != nil {
				if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
					err = multierr.Append(err, rbErr)
				}
				return
			}
			if cErr := tx.Commit(); cErr != nil {
				elements, err = nil, lockError(s.opts.queue, cErr)
			}
		}()
	}

	ids, err := s.selectDueIDs(ctx, tx, batchSize, notDispatchedTill)
	if err != nil {
		return nil, lockError(s.opts.queue, err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	if err := s.lease(ctx, tx, ids, nextDispatchTime); err != nil {
		return nil, lockError(s.opts.queue, err)
	}
	elements, err = s.fetch(ctx, tx, ids)
	if err != nil {
		if _, ok := txqueue.TypeOf(err); ok {
			return nil, err
		}
		return nil, lockError(s.opts.queue, err)
	}
	sortElements(elements)
	return elements, nil
}

func (s *MySQLStore[P]) selectDueIDs(ctx context.Context, tx *sql.Tx, limit int, notDispatchedTill time.Time) ([]int64, error) {
	query := fmt.Sprintf(`
SELECT id FROM %s
WHERE next_dispatch_after < ?
ORDER BY created_at, id
LIMIT %d
FOR UPDATE SKIP LOCKED`, s.tableIdent(), limit)
	rows, err := tx.QueryContext(ctx, query, notDispatchedTill.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *MySQLStore[P]) lease(ctx context.Context, tx *sql.Tx, ids []int64, nextDispatchTime time.Time) error {
	query := fmt.Sprintf(`
UPDATE %s
SET next_dispatch_after = ?,
    dispatch_count = dispatch_count + 1
WHERE id IN (%s)`, s.tableIdent(), sqlutil.Placeholders(len(ids)))
	args := append([]any{nextDispatchTime.UTC()}, sqlutil.Int64Args(ids)...)
	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

func (s *MySQLStore[P]) fetch(ctx context.Context, tx *sql.Tx, ids []int64) ([]txqueue.Element[P], error) {
	query := fmt.Sprintf(`
SELECT id, created_at, next_dispatch_after, dispatch_count, payload
FROM %s
WHERE id IN (%s)`, s.tableIdent(), sqlutil.Placeholders(len(ids)))

	rows, err := tx.QueryContext(ctx, query, sqlutil.Int64Args(ids)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var elements []txqueue.Element[P]
	for rows.Next() {
		element, err := s.scan(rows)
		if err != nil {
			return nil, err
		}
		elements = append(elements, element)
	}
	return elements, rows.Err()
}

func (s *MySQLStore[P]) Delete(ctx context.Context, element txqueue.Element[P]) (txqueue.Element[P], error) {
	query := fmt.Sprintf("DELETE FROM %s WHERE id = ? AND dispatch_count = ?", s.tableIdent())
	res, err := sqltx.ExecutorFrom(ctx, s.db).ExecContext(ctx, query, element.ID, element.DispatchCount)
	return deleteResult(s.opts.queue, element, res, err)
}

func (s *MySQLStore[P]) scan(row rowScanner) (txqueue.Element[P], error) {
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
	payload, err := unmarshalPayload[P](s.opts.queue, id, append([]byte(nil), raw...))
	if err != nil {
		return txqueue.Element[P]{}, err
	}
	return txqueue.NewElement(id, createdAt, nextDispatchAfter, dispatchCount, payload), nil
}

func (s *MySQLStore[P]) tableIdent() string {
	return sqlutil.QuoteIdentifier(s.opts.table, "`")
}

// MySQLDeadLetterStore keeps dead-lettered elements in MySQL.
type MySQLDeadLetterStore[P any] struct {
	db   *sql.DB
	opts options
}

func (s *MySQLDeadLetterStore[P]) Insert(ctx context.Context, element txqueue.Element[P]) (txqueue.Element[P], error) {
	payload, err := marshalPayload(s.opts.queue, element, element.Payload)
	if err != nil {
		return txqueue.Element[P]{}, err
	}
	query := fmt.Sprintf(`
INSERT INTO %s (id, created_at, next_dispatch_after, dispatch_count, payload)
VALUES (?, ?, ?, ?, ?)`, sqlutil.QuoteIdentifier(s.opts.deadLetterTable, "`"))
	_, err = sqltx.ExecutorFrom(ctx, s.db).ExecContext(ctx, query,
		element.ID, element.CreatedAt.UTC(), element.NextDispatchAfter.UTC(), element.DispatchCount, payload)
	if err != nil {
		return txqueue.Element[P]{}, deadLetterError(s.opts.queue, element, err)
	}
	return element, nil
}

// Count returns the number of dead-lettered rows.
func (s *MySQLDeadLetterStore[P]) Count(ctx context.Context) (int, error) {
	var n int
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s", sqlutil.QuoteIdentifier(s.opts.deadLetterTable, "`"))
	if err := sqltx.ExecutorFrom(ctx, s.db).QueryRowContext(ctx, query).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}
