package database

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/mickamy/txqueue/migrations"
)

// OpenSQLite returns an in-memory SQLite DB with the queue schema applied.
// The pool is capped at one connection so transactions never contend for shared-cache table locks.
func OpenSQLite(t *testing.T) *sql.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:txqueue_%d?mode=memory&cache=shared&_foreign_keys=on", time.Now().UnixNano())
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		t.Fatalf("ping sqlite: %v", err)
	}
	if _, err := migrations.Up(ctx, db, migrations.SQLite); err != nil {
		t.Fatalf("migrate sqlite: %v", err)
	}
	db.SetMaxOpenConns(1)
	return db
}
