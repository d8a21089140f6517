package storage_test

import (
	"database/sql"
	"os"
	"testing"

	_ "github.com/lib/pq"

	"github.com/contextpg/contextpg/storage"
)

// openSQLDB opens a database/sql connection to the integration database and
// applies the schema.
func openSQLDB(t *testing.T) (*sql.DB, error) {
	t.Helper()

	db, err := sql.Open("postgres", os.Getenv("DATABASE_URL"))
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(storage.Schema); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}
