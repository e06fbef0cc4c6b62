// Package propstore persists component properties in SQLite.
package propstore

import (
    "context"
    "database/sql"
    "embed"
    "errors"
    "fmt"
    "time"

    "github.com/golang-migrate/migrate/v4"
    "github.com/golang-migrate/migrate/v4/database/sqlite"
    "github.com/golang-migrate/migrate/v4/source/iofs"
    "go.uber.org/zap"
    _ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Record is one stored property value. Data is the value marshalled with
// the codec named by Format.
type Record struct {
    Component string
    Name      string
    Type      string
    Format    string
    Doc       string
    Data      []byte
    UpdatedAt time.Time
}

// Store is a property store backed by one SQLite database.
type Store struct {
    db  *sql.DB
    now func() time.Time
}

// Open opens (creating if needed) the database at path and migrates it to
// the latest schema.
func Open(path string) (*Store, error) {
    db, err := sql.Open("sqlite", path)
    if err != nil { return nil, fmt.Errorf("propstore: open %s: %w", path, err) }
    // one connection: sqlite serialises writers anyway and :memory: databases are per connection
    db.SetMaxOpenConns(1)
    if _, err := db.Exec(`PRAGMA busy_timeout = 5000; PRAGMA foreign_keys = ON;`); err != nil {
        _ = db.Close()
        return nil, fmt.Errorf("propstore: pragmas: %w", err)
    }
    s := &Store{db: db, now: time.Now}
    if err := s.migrateUp(); err != nil {
        _ = db.Close()
        return nil, err
    }
    return s, nil
}

func (s *Store) newMigrate() (*migrate.Migrate, error) {
    src, err := iofs.New(migrations, "migrations")
    if err != nil { return nil, fmt.Errorf("propstore: migration source: %w", err) }
    driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
    if err != nil { return nil, fmt.Errorf("propstore: sqlite driver: %w", err) }
    m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
    if err != nil { return nil, fmt.Errorf("propstore: migrate: %w", err) }
    return m, nil
}

// migrateUp applies pending migrations. The migrate instance is not closed
// since that would close the shared database handle.
func (s *Store) migrateUp() error {
    m, err := s.newMigrate()
    if err != nil { return err }
    if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
        return fmt.Errorf("propstore: migration up failed: %w", err)
    }
    v, _, _ := m.Version()
    zap.L().Debug("property store ready", zap.Uint("schema", v))
    return nil
}

// Version reports the schema version.
func (s *Store) Version() (uint, bool, error) {
    m, err := s.newMigrate()
    if err != nil { return 0, false, err }
    v, dirty, err := m.Version()
    if errors.Is(err, migrate.ErrNilVersion) { return 0, false, nil }
    return v, dirty, err
}

// Save upserts records in one transaction.
func (s *Store) Save(ctx context.Context, recs ...Record) error {
    tx, err := s.db.BeginTx(ctx, nil)
    if err != nil { return err }
    defer func() { _ = tx.Rollback() }()
    stmt, err := tx.PrepareContext(ctx, `
        INSERT INTO properties (component, name, type, format, doc, data, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT (component, name) DO UPDATE SET
            type = excluded.type, format = excluded.format, doc = excluded.doc,
            data = excluded.data, updated_at = excluded.updated_at`)
    if err != nil { return err }
    defer stmt.Close()
    for _, r := range recs {
        if r.Component == "" || r.Name == "" { return fmt.Errorf("propstore: record needs component and name") }
        at := r.UpdatedAt
        if at.IsZero() { at = s.now() }
        data := r.Data
        if data == nil { data = []byte{} }
        if _, err := stmt.ExecContext(ctx, r.Component, r.Name, r.Type, r.Format, r.Doc, data, at.UnixNano()); err != nil {
            return fmt.Errorf("propstore: save %s.%s: %w", r.Component, r.Name, err)
        }
    }
    return tx.Commit()
}

// Load returns the records of a component ordered by name.
func (s *Store) Load(ctx context.Context, component string) ([]Record, error) {
    rows, err := s.db.QueryContext(ctx, `
        SELECT component, name, type, format, doc, data, updated_at
        FROM properties WHERE component = ? ORDER BY name`, component)
    if err != nil { return nil, err }
    defer rows.Close()
    var out []Record
    for rows.Next() {
        var r Record
        var at int64
        if err := rows.Scan(&r.Component, &r.Name, &r.Type, &r.Format, &r.Doc, &r.Data, &at); err != nil { return nil, err }
        r.UpdatedAt = time.Unix(0, at)
        out = append(out, r)
    }
    return out, rows.Err()
}

// Components lists the components with stored properties.
func (s *Store) Components(ctx context.Context) ([]string, error) {
    rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT component FROM properties ORDER BY component`)
    if err != nil { return nil, err }
    defer rows.Close()
    var out []string
    for rows.Next() {
        var c string
        if err := rows.Scan(&c); err != nil { return nil, err }
        out = append(out, c)
    }
    return out, rows.Err()
}

// Delete removes one property, or all of a component's when name is empty.
func (s *Store) Delete(ctx context.Context, component, name string) (int64, error) {
    var res sql.Result
    var err error
    if name == "" {
        res, err = s.db.ExecContext(ctx, `DELETE FROM properties WHERE component = ?`, component)
    } else {
        res, err = s.db.ExecContext(ctx, `DELETE FROM properties WHERE component = ? AND name = ?`, component, name)
    }
    if err != nil { return 0, err }
    return res.RowsAffected()
}

func (s *Store) Close() error { return s.db.Close() }
