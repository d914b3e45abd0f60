// Package storage provides SQLite-backed persistence for the seed catalog
// and the checkpointed vessel population.
package storage

import (
	"database/sql"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/rewired-gh/aisstream/internal/models"
	_ "modernc.org/sqlite"
)

// Storage wraps a SQLite database for all persistence operations.
type Storage struct {
	db *sql.DB
}

// New opens or creates the SQLite database at dbPath.
// An empty dbPath defaults to $TMPDIR/aisstream/data.db.
func New(dbPath string) (*Storage, error) {
	if dbPath == "" {
		dbPath = filepath.Join(os.TempDir(), "aisstream", "data.db")
	}
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // single writer; WAL allows concurrent readers
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}
	s := &Storage{db: db}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) createTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS seed_vessels (
			seq          INTEGER PRIMARY KEY AUTOINCREMENT,
			id           TEXT NOT NULL,
			name         TEXT NOT NULL,
			latitude     REAL NOT NULL,
			longitude    REAL NOT NULL,
			sog          REAL NOT NULL,
			cog          REAL,
			vessel_type  TEXT NOT NULL,
			observed_at  INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS population (
			id           TEXT PRIMARY KEY,
			position     INTEGER NOT NULL,
			name         TEXT NOT NULL,
			latitude     REAL NOT NULL,
			longitude    REAL NOT NULL,
			sog          REAL NOT NULL,
			cog          REAL,
			vessel_type  TEXT NOT NULL,
			observed_at  INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_population_position ON population(position)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// ReplaceSeed atomically swaps the stored seed catalog for vessels.
func (s *Storage) ReplaceSeed(vessels []models.VesselState) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.Exec(`DELETE FROM seed_vessels`); err != nil {
		return fmt.Errorf("failed to clear seed catalog: %w", err)
	}
	stmt, err := tx.Prepare(`
		INSERT INTO seed_vessels
			(id, name, latitude, longitude, sog, cog, vessel_type, observed_at)
		VALUES (?,?,?,?,?,?,?,?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare seed insert: %w", err)
	}
	defer stmt.Close()

	for i := range vessels {
		v := &vessels[i]
		if err := v.Validate(); err != nil {
			return fmt.Errorf("invalid seed vessel %q: %w", v.ID, err)
		}
		if _, err := stmt.Exec(
			v.ID, v.Name, v.Latitude, v.Longitude, v.SpeedOverGround,
			nullableCourse(v.CourseOverGround), string(v.VesselType), unixNano(v.ObservedAt),
		); err != nil {
			return fmt.Errorf("failed to insert seed vessel %q: %w", v.ID, err)
		}
	}
	return tx.Commit()
}

// LoadSeed returns the stored seed catalog in insertion order.
func (s *Storage) LoadSeed() ([]models.VesselState, error) {
	rows, err := s.db.Query(`SELECT ` + vesselCols + ` FROM seed_vessels ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("failed to query seed catalog: %w", err)
	}
	defer rows.Close()
	return scanVessels(rows)
}

func (s *Storage) SeedCount() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM seed_vessels`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count seed vessels: %w", err)
	}
	return n, nil
}

// SavePopulation replaces the stored checkpoint with vessels, keeping their order.
func (s *Storage) SavePopulation(vessels []models.VesselState) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.Exec(`DELETE FROM population`); err != nil {
		return fmt.Errorf("failed to clear population: %w", err)
	}
	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO population
			(id, position, name, latitude, longitude, sog, cog, vessel_type, observed_at)
		VALUES (?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare population insert: %w", err)
	}
	defer stmt.Close()

	for i, v := range vessels {
		if _, err := stmt.Exec(
			v.ID, i, v.Name, v.Latitude, v.Longitude, v.SpeedOverGround,
			nullableCourse(v.CourseOverGround), string(v.VesselType), unixNano(v.ObservedAt),
		); err != nil {
			return fmt.Errorf("failed to save vessel %q: %w", v.ID, err)
		}
	}
	return tx.Commit()
}

// LoadPopulation returns the last checkpoint, or an empty slice if none was saved.
func (s *Storage) LoadPopulation() ([]models.VesselState, error) {
	rows, err := s.db.Query(`SELECT ` + vesselCols + ` FROM population ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("failed to query population: %w", err)
	}
	defer rows.Close()
	return scanVessels(rows)
}

const vesselCols = `id, name, latitude, longitude, sog, cog, vessel_type, observed_at`

func scanVessels(rows *sql.Rows) ([]models.VesselState, error) {
	vessels := []models.VesselState{}
	for rows.Next() {
		var (
			v             models.VesselState
			cog           sql.NullFloat64
			vesselType    string
			observedNanos int64
		)
		if err := rows.Scan(
			&v.ID, &v.Name, &v.Latitude, &v.Longitude, &v.SpeedOverGround,
			&cog, &vesselType, &observedNanos,
		); err != nil {
			return nil, fmt.Errorf("failed to scan vessel: %w", err)
		}
		v.CourseOverGround = math.NaN()
		if cog.Valid {
			v.CourseOverGround = cog.Float64
		}
		v.VesselType = models.ParseVesselType(vesselType)
		if observedNanos != 0 {
			v.ObservedAt = time.Unix(0, observedNanos).UTC()
		}
		vessels = append(vessels, v)
	}
	return vessels, rows.Err()
}

// nullableCourse stores an undefined course as NULL.
func nullableCourse(c float64) sql.NullFloat64 {
	if math.IsNaN(c) {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: c, Valid: true}
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}
