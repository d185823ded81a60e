// Package db is the persistence collaborator: it stores one summary row per
// finished race plus its ordered lap times, and serves the ranking queries.
package db

import (
	"compress/gzip"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/tailscale/tailsql/server/tailsql"
	_ "modernc.org/sqlite"
	"tailscale.com/tsweb"

	"github.com/trackside-labs/linesim/internal/race"
)

type DB struct {
	*sql.DB
}

// NewDB opens (or creates) the sqlite database at path and applies all
// pending migrations.
func NewDB(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	db := &DB{sqlDB}
	if err := db.MigrateUp(); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return db, nil
}

// SaveRaceSummary stores one finished race and its lap times in a single
// transaction. Lap times keep their completion order via the lap number.
func (db *DB) SaveRaceSummary(s race.Summary) error {
	history, err := json.Marshal(s.ErrorHistory)
	if err != nil {
		return fmt.Errorf("failed to encode error history: %w", err)
	}

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO races (
			id, total_time_ms, laps, kp, ki, kd, kslip,
			mean_error, mean_velocity, error_history, recorded_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.TotalTimeMs, s.Laps,
		s.Gains.Kp, s.Gains.Ki, s.Gains.Kd, s.Gains.Kslip,
		s.MeanError, s.MeanVelocity, string(history), s.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert race %s: %w", s.ID, err)
	}

	var cumulative float64
	for i, lapTime := range s.LapTimesMs {
		cumulative += lapTime
		_, err = tx.Exec(
			`INSERT INTO race_laps (race_id, lap_number, lap_time_ms, total_ms)
			 VALUES (?, ?, ?, ?)`,
			s.ID, i+1, lapTime, cumulative,
		)
		if err != nil {
			return fmt.Errorf("failed to insert lap %d for race %s: %w", i+1, s.ID, err)
		}
	}

	return tx.Commit()
}

// Rankings returns stored races ordered ascending by total time, best first,
// with each race's lap times in completion order. A non-positive limit
// defaults to 100.
func (db *DB) Rankings(limit int) ([]race.Summary, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := db.Query(
		`SELECT id, total_time_ms, laps, kp, ki, kd, kslip,
		        mean_error, mean_velocity, error_history, recorded_at
		 FROM races ORDER BY total_time_ms ASC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var summaries []race.Summary
	for rows.Next() {
		var s race.Summary
		var history string
		if err := rows.Scan(
			&s.ID, &s.TotalTimeMs, &s.Laps,
			&s.Gains.Kp, &s.Gains.Ki, &s.Gains.Kd, &s.Gains.Kslip,
			&s.MeanError, &s.MeanVelocity, &history, &s.RecordedAt,
		); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(history), &s.ErrorHistory); err != nil {
			return nil, fmt.Errorf("failed to decode error history for race %s: %w", s.ID, err)
		}
		summaries = append(summaries, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range summaries {
		lapTimes, err := db.lapTimes(summaries[i].ID)
		if err != nil {
			return nil, err
		}
		summaries[i].LapTimesMs = lapTimes
	}

	return summaries, nil
}

// lapTimes loads one race's lap times ordered by lap number.
func (db *DB) lapTimes(raceID string) ([]float64, error) {
	rows, err := db.Query(
		`SELECT lap_time_ms FROM race_laps WHERE race_id = ? ORDER BY lap_number ASC`,
		raceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var times []float64
	for rows.Next() {
		var t float64
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		times = append(times, t)
	}
	return times, rows.Err()
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
	tsql.SetDB("sqlite://races.db", db.DB, &tailsql.DBOptions{
		Label: "Race DB",
	})

	// mount the tailSQL server on the debug /tailsql path
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())

	debug.Handle("backup", "Create and download a backup of the database now", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		unixTime := time.Now().Unix()
		backupPath := fmt.Sprintf("backup-%d.db", unixTime)
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

		// close the backup file after sending it
		// and remove it from the filesystem
		defer func() {
			backupFile.Close()
			if err := os.Remove(backupPath); err != nil {
				log.Printf("Failed to remove backup file: %v", err)
			}
		}()

		gzipWriter := gzip.NewWriter(w)
		defer gzipWriter.Close()
		if _, err := io.Copy(gzipWriter, backupFile); err != nil {
			http.Error(w, fmt.Sprintf("Failed to write backup file: %v", err), http.StatusInternalServerError)
			return
		}
	}))
}
