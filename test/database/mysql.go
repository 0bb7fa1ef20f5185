package database

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/mickamy/txqueue/migrations"
)

const defaultMySQLDSN = "root:password@tcp(localhost:3306)/txqueue?parseTime=true&loc=UTC"

// OpenMySQL connects to MYSQL_DSN, applies the schema and empties the queue tables.
func OpenMySQL(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("MYSQL_DSN")
	if dsn == "" {
		dsn = defaultMySQLDSN
	}
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		t.Fatalf("open mysql (%s): %v", dsn, err)
	}
	t.Cleanup(func() { _ = db.Close() })
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		t.Fatalf("ping mysql (%s): %v", dsn, err)
	}
	if _, err := migrations.Up(ctx, db, migrations.MySQL); err != nil {
		t.Fatalf("migrate mysql: %v", err)
	}
	for _, table := range []string{"txqueue_elements", "txqueue_dead_letters"} {
		if _, err := db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			t.Fatalf("truncate %s: %v", table, err)
		}
	}
	return db
}
