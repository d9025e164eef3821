// Package db persists named calibration profiles and depth stream
// snapshots in a local SQLite database. The schema is owned by the
// embedded migrations; NewDB brings the database to the latest
// version on open.
package db

import (
	"compress/gzip"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/tailscale/tailsql/server/tailsql"
	_ "modernc.org/sqlite"
	"tailscale.com/tsweb"

	"github.com/relief-labs/topobox/internal/calib"
	"github.com/relief-labs/topobox/internal/frame"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrProfileNotFound reports a profile name with no stored record.
var ErrProfileNotFound = errors.New("profile not found")

// ErrSnapshotNotFound reports a snapshot id with no stored row.
var ErrSnapshotNotFound = errors.New("snapshot not found")

type DB struct {
	*sql.DB
}

// OpenDB opens the database without touching the schema. The migrate
// subcommand uses this so a half-migrated database can still be
// inspected and repaired.
func OpenDB(path string) (*DB, error) {
	// Pragmas ride the DSN so every pooled connection gets them.
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_pragma=temp_store(MEMORY)", path)
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	return &DB{sqlDB}, nil
}

// NewDB opens the database and applies any pending migrations.
func NewDB(path string) (*DB, error) {
	db, err := OpenDB(path)
	if err != nil {
		return nil, err
	}

	fsys, err := MigrationsFS()
	if err != nil {
		db.Close()
		return nil, err
	}
	if err := db.MigrateUp(fsys); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database %s: %w", path, err)
	}

	version, dirty, err := db.MigrateVersion(fsys)
	if err != nil {
		db.Close()
		return nil, err
	}
	log.Printf("[DB] Opened %s at schema version %d (dirty: %v)", path, version, dirty)

	return db, nil
}

// MigrationsFS returns the embedded migration files rooted where
// golang-migrate expects them.
func MigrationsFS() (fs.FS, error) {
	fsys, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to open embedded migrations: %w", err)
	}
	return fsys, nil
}

// SaveProfile upserts a named calibration record and appends it to the
// revision history in the same transaction.
func (db *DB) SaveProfile(name string, p *calib.Profile) error {
	if name == "" {
		return fmt.Errorf("profile name must not be empty")
	}
	record, err := calib.Marshal(p)
	if err != nil {
		return err
	}
	now := time.Now().Unix()

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO profiles (name, record, created_unix, updated_unix)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET record = excluded.record, updated_unix = excluded.updated_unix`,
		name, string(record), now, now,
	)
	if err != nil {
		return err
	}

	_, err = tx.Exec(
		`INSERT INTO profile_history (name, record, saved_unix) VALUES (?, ?, ?)`,
		name, string(record), now,
	)
	if err != nil {
		return err
	}

	return tx.Commit()
}

// LoadProfile reads a named calibration record back through the same
// validation as a file load.
func (db *DB) LoadProfile(name string) (*calib.Profile, error) {
	var record string
	err := db.QueryRow("SELECT record FROM profiles WHERE name = ?", name).Scan(&record)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrProfileNotFound, name)
	}
	if err != nil {
		return nil, err
	}
	return calib.Unmarshal([]byte(record))
}

// ProfileInfo summarises one stored profile for listings.
type ProfileInfo struct {
	Name        string `json:"name"`
	UpdatedUnix int64  `json:"updated_unix"`
	Revisions   int    `json:"revisions"`
}

// ListProfiles returns every stored profile with its revision count,
// ordered by name.
func (db *DB) ListProfiles() ([]ProfileInfo, error) {
	rows, err := db.Query(`
		SELECT p.name, p.updated_unix, COUNT(h.revision_id)
		FROM profiles p
		LEFT JOIN profile_history h ON h.name = p.name
		GROUP BY p.name, p.updated_unix
		ORDER BY p.name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var infos []ProfileInfo
	for rows.Next() {
		var info ProfileInfo
		if err := rows.Scan(&info.Name, &info.UpdatedUnix, &info.Revisions); err != nil {
			return nil, err
		}
		infos = append(infos, info)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return infos, nil
}

// DeleteProfile removes a named profile. Its history rows stay behind
// as the audit trail.
func (db *DB) DeleteProfile(name string) error {
	res, err := db.Exec("DELETE FROM profiles WHERE name = ?", name)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrProfileNotFound, name)
	}
	return nil
}

// ProfileRevision is one historical save of a named profile.
type ProfileRevision struct {
	RevisionID int64  `json:"revision_id"`
	Name       string `json:"name"`
	Record     string `json:"record"`
	SavedUnix  int64  `json:"saved_unix"`
}

// ProfileHistory returns the most recent revisions of a named profile,
// newest first.
func (db *DB) ProfileHistory(name string, limit int) ([]ProfileRevision, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(
		`SELECT revision_id, name, record, saved_unix
		 FROM profile_history WHERE name = ?
		 ORDER BY saved_unix DESC, revision_id DESC LIMIT ?`,
		name, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var revs []ProfileRevision
	for rows.Next() {
		var rev ProfileRevision
		if err := rows.Scan(&rev.RevisionID, &rev.Name, &rev.Record, &rev.SavedUnix); err != nil {
			return nil, err
		}
		revs = append(revs, rev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return revs, nil
}

// FrameSnapshot is one row of depth stream statistics captured from a
// live frame. FrameGZ holds the archived frame itself as a gzip+gob
// blob; list queries leave it nil.
type FrameSnapshot struct {
	SnapshotID     int64   `json:"snapshot_id"`
	SensorID       string  `json:"sensor_id"`
	FrameID        int64   `json:"frame_id"`
	TakenUnixNanos int64   `json:"taken_unix_nanos"`
	ValidCells     int64   `json:"valid_cells"`
	TotalCells     int64   `json:"total_cells"`
	MinMM          float64 `json:"min_mm"`
	MaxMM          float64 `json:"max_mm"`
	MeanMM         float64 `json:"mean_mm"`
	StddevMM       float64 `json:"stddev_mm"`
	FrameGZ        []byte  `json:"-"`
}

// InsertFrameSnapshot persists one snapshot row and returns the new
// snapshot_id.
func (db *DB) InsertFrameSnapshot(s *FrameSnapshot) (int64, error) {
	if s == nil {
		return 0, nil
	}
	stmt := `INSERT INTO frame_snapshots (sensor_id, frame_id, taken_unix_nanos, valid_cells, total_cells, min_mm, max_mm, mean_mm, stddev_mm, frame_gz)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	res, err := db.Exec(stmt, s.SensorID, s.FrameID, s.TakenUnixNanos, s.ValidCells, s.TotalCells, s.MinMM, s.MaxMM, s.MeanMM, s.StddevMM, s.FrameGZ)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// FrameSnapshotFrame loads and decodes the archived depth frame for one
// snapshot. Returns ErrSnapshotNotFound when the row does not exist and
// an error when the row was stored without a frame blob.
func (db *DB) FrameSnapshotFrame(snapshotID int64) (*frame.DepthFrame, error) {
	var blob []byte
	err := db.QueryRow(`SELECT frame_gz FROM frame_snapshots WHERE snapshot_id = ?`, snapshotID).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: snapshot %d", ErrSnapshotNotFound, snapshotID)
	}
	if err != nil {
		return nil, err
	}
	if len(blob) == 0 {
		return nil, fmt.Errorf("snapshot %d has no archived frame", snapshotID)
	}
	return frame.DecodeDepthFrame(blob)
}

// FrameSnapshots returns recent snapshot rows, newest first. An empty
// sensorID matches every sensor.
func (db *DB) FrameSnapshots(sensorID string, limit int) ([]FrameSnapshot, error) {
	if limit <= 0 {
		limit = 500
	}

	query := `SELECT snapshot_id, sensor_id, frame_id, taken_unix_nanos, valid_cells, total_cells, min_mm, max_mm, mean_mm, stddev_mm
			  FROM frame_snapshots`
	args := []interface{}{}
	if sensorID != "" {
		query += " WHERE sensor_id = ?"
		args = append(args, sensorID)
	}
	query += " ORDER BY taken_unix_nanos DESC LIMIT ?"
	args = append(args, limit)

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snaps []FrameSnapshot
	for rows.Next() {
		var s FrameSnapshot
		if err := rows.Scan(&s.SnapshotID, &s.SensorID, &s.FrameID, &s.TakenUnixNanos, &s.ValidCells, &s.TotalCells, &s.MinMM, &s.MaxMM, &s.MeanMM, &s.StddevMM); err != nil {
			return nil, err
		}
		snaps = append(snaps, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return snaps, nil
}

func (db *DB) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	// create a tailSQL instance and point it to our DB
	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		log.Fatalf("failed to create tailsql server: %v", err)
	}
	tsql.SetDB("sqlite://topobox.db", db.DB, &tailsql.DBOptions{
		Label: "Topobox DB",
	})

	// mount the tailSQL server on the debug /tailsql path
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())

	debug.Handle("backup", "Create and download a backup of the database now", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		unixTime := time.Now().Unix()
		backupPath := fmt.Sprintf("topobox-backup-%d.db", unixTime)
		if _, err := db.DB.Exec("VACUUM INTO ?", backupPath); err != nil {
			http.Error(w, fmt.Sprintf("Failed to create backup: %v", err), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", backupPath))
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Content-Encoding", "gzip")

		backupFile, err := os.Open(backupPath)
		if err != nil {
			http.Error(w, fmt.Sprintf("Failed to open backup file: %v", err), http.StatusInternalServerError)
			return
		}

		// The backup is a one-shot download: close the file after
		// sending and remove it from the filesystem.
		defer func() {
			backupFile.Close()
			if err := os.Remove(backupPath); err != nil {
				log.Printf("Failed to remove backup file: %v", err)
			}
		}()

		gzipWriter := gzip.NewWriter(w)
		defer gzipWriter.Close()
		if _, err := gzipWriter.Write([]byte{}); err != nil {
			// Need to write something to initialize the gzip header
			http.Error(w, fmt.Sprintf("Failed to initialize gzip writer: %v", err), http.StatusInternalServerError)
			return
		}

		if _, err := io.Copy(gzipWriter, backupFile); err != nil {
			http.Error(w, fmt.Sprintf("Failed to write backup file: %v", err), http.StatusInternalServerError)
			return
		}
	}))
}
