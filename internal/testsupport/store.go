package testsupport

import (
	"database/sql"
	"testing"

	"curator/internal/config"
	"curator/internal/queue"
	"curator/internal/storage"
)

// MustOpenDB opens the curator database for tests and registers cleanup.
func MustOpenDB(t testing.TB, cfg *config.Config) *sql.DB {
	t.Helper()
	db, err := storage.Open(cfg)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// MustOpenStore opens a queue.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *queue.Store {
	t.Helper()
	return queue.NewStore(MustOpenDB(t, cfg))
}
