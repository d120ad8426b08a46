package store

import (
	"database/sql"
	"fmt"
	"io"
	"sync"

	"github.com/golang-migrate/migrate/v4/database"
)

// sqliteDriver adapts our existing *sql.DB (opened against
// modernc.org/sqlite, a pure-Go driver with no registered
// golang-migrate database driver of its own) to golang-migrate's
// database.Driver contract, tracking applied versions in a
// `schema_version` row as spec.md §4.4 requires. Only the subset of
// the contract the migrator actually exercises for a forward-only,
// single-process run is implemented.
type sqliteDriver struct {
	db   *sql.DB
	mu   sync.Mutex
	lock bool
}

func newSQLiteDriver(db *sql.DB) (*sqliteDriver, error) {
	d := &sqliteDriver{db: db}
	if err := d.ensureVersionTable(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *sqliteDriver) ensureVersionTable() error {
	_, err := d.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER NOT NULL,
		dirty   INTEGER NOT NULL
	);`)
	return err
}

// Open/Close: this driver is always constructed pre-opened against an
// existing connection; golang-migrate's generic Open(url) entry point
// is not used by this module (see OpenStore in store.go).
func (d *sqliteDriver) Open(url string) (database.Driver, error) {
	return nil, fmt.Errorf("sqliteDriver: Open(url) unsupported, construct via newSQLiteDriver")
}

func (d *sqliteDriver) Close() error { return nil }

func (d *sqliteDriver) Lock() error {
	d.mu.Lock()
	if d.lock {
		d.mu.Unlock()
		return fmt.Errorf("sqliteDriver: already locked")
	}
	d.lock = true
	d.mu.Unlock()
	return nil
}

func (d *sqliteDriver) Unlock() error {
	d.mu.Lock()
	d.lock = false
	d.mu.Unlock()
	return nil
}

func (d *sqliteDriver) Run(migration io.Reader) error {
	stmt, err := io.ReadAll(migration)
	if err != nil {
		return err
	}
	_, err = d.db.Exec(string(stmt))
	return err
}

func (d *sqliteDriver) SetVersion(version int, dirty bool) error {
	tx, err := d.db.Begin()
	if err != nil {
		return err
	}
	if _, err := tx.Exec("DELETE FROM schema_version"); err != nil {
		tx.Rollback()
		return err
	}
	dirtyInt := 0
	if dirty {
		dirtyInt = 1
	}
	if _, err := tx.Exec("INSERT INTO schema_version (version, dirty) VALUES (?, ?)", version, dirtyInt); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (d *sqliteDriver) Version() (int, bool, error) {
	row := d.db.QueryRow("SELECT version, dirty FROM schema_version LIMIT 1")
	var version, dirty int
	if err := row.Scan(&version, &dirty); err != nil {
		if err == sql.ErrNoRows {
			return -1, false, nil
		}
		return 0, false, err
	}
	return version, dirty != 0, nil
}

func (d *sqliteDriver) Drop() error {
	rows, err := d.db.Query("SELECT name FROM sqlite_master WHERE type='table'")
	if err != nil {
		return err
	}
	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return err
		}
		tables = append(tables, name)
	}
	rows.Close()
	for _, t := range tables {
		if _, err := d.db.Exec(fmt.Sprintf(`DROP TABLE IF EXISTS "%s"`, t)); err != nil {
			return err
		}
	}
	return nil
}
