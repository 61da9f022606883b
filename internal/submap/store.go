package submap

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/kabilan-n/tsdf-fusion/internal/diag"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store is the sqlite-backed catalog of every submap cut so far,
// recording submap number, timestamp, sensor position, and the disk
// paths it was written to (spec.md §6's persisted-layout note), so a
// submap can be looked up by number or nearest timestamp without
// re-reading every .tsdf file from disk. The ingest pipeline inserts into
// it; neither cmd/submap-inspect nor the command server reads it.
type Store struct {
	db *sql.DB
}

// OpenStore opens (creating if absent) the sqlite catalog at path and
// brings its schema up to the latest migration.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("submap: open catalog %q: %w", path, err)
	}

	s := &Store{db: db}
	if err := s.migrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrateUp() error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("submap: iofs source driver: %w", err)
	}
	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("submap: sqlite migrate driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("submap: migrate instance: %w", err)
	}
	m.Log = &migrateLogger{}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("submap: migration up: %w", err)
	}
	return nil
}

type migrateLogger struct{}

func (migrateLogger) Printf(format string, v ...interface{}) { log.Printf("[submap migrate] "+format, v...) }
func (migrateLogger) Verbose() bool                          { return false }

// Close closes the underlying database connection.
func (s *Store) Close() error { return s.db.Close() }

// Insert records a newly cut submap in the catalog.
func (s *Store) Insert(rec Record) error {
	_, err := s.db.Exec(
		`INSERT INTO submaps (number, submap_id, timestamp_unix_nanos, sensor_x, sensor_y, sensor_z, layer_path, trajectory_path)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Number, rec.ID.String(), rec.Timestamp.UnixNano(),
		rec.SensorPosition.X, rec.SensorPosition.Y, rec.SensorPosition.Z,
		rec.LayerPath, rec.TrajectoryPath,
	)
	if err != nil {
		diag.Opsf("submap: catalog insert for submap %d failed: %v", rec.Number, err)
		return fmt.Errorf("submap: insert submap %d: %w", rec.Number, err)
	}
	return nil
}

// ByNumber looks up a cataloged submap by its sequence number.
func (s *Store) ByNumber(number int) (Record, error) {
	row := s.db.QueryRow(
		`SELECT submap_id, number, timestamp_unix_nanos, sensor_x, sensor_y, sensor_z, layer_path, trajectory_path
		 FROM submaps WHERE number = ?`, number)
	return scanRecord(row)
}

// Nearest returns the cataloged submap whose timestamp is closest to at.
func (s *Store) Nearest(at time.Time) (Record, error) {
	row := s.db.QueryRow(
		`SELECT submap_id, number, timestamp_unix_nanos, sensor_x, sensor_y, sensor_z, layer_path, trajectory_path
		 FROM submaps ORDER BY ABS(timestamp_unix_nanos - ?) ASC LIMIT 1`, at.UnixNano())
	return scanRecord(row)
}

// List returns every cataloged submap, ordered by number.
func (s *Store) List() ([]Record, error) {
	rows, err := s.db.Query(
		`SELECT submap_id, number, timestamp_unix_nanos, sensor_x, sensor_y, sensor_z, layer_path, trajectory_path
		 FROM submaps ORDER BY number ASC`)
	if err != nil {
		return nil, fmt.Errorf("submap: list catalog: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (Record, error) {
	var rec Record
	var idStr string
	var timestampNS int64
	if err := row.Scan(&idStr, &rec.Number, &timestampNS, &rec.SensorPosition.X, &rec.SensorPosition.Y, &rec.SensorPosition.Z, &rec.LayerPath, &rec.TrajectoryPath); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, fmt.Errorf("submap: no matching catalog entry: %w", err)
		}
		return Record{}, fmt.Errorf("submap: scan catalog row: %w", err)
	}
	id, err := uuid.Parse(idStr)
	if err != nil {
		return Record{}, fmt.Errorf("submap: parse catalog submap id %q: %w", idStr, err)
	}
	rec.ID = id
	rec.Timestamp = time.Unix(0, timestampNS).UTC()
	return rec, nil
}

// compile-time check that fs.FS is satisfied by the embedded migrations.
var _ fs.FS = migrationsFS
