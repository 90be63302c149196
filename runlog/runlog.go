// Package runlog records training runs and their per-epoch statistics in a SQL database.
package runlog

import (
	"database/sql"
	"os"
	"runtime"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

// ErrUnknownDriver is returned for DSNs without a "sqlite:" or "mysql:" prefix
var ErrUnknownDriver = errors.New("unknown run log driver")

// Run describes one training run
type Run struct {
	Name         string
	Seed         int64
	TimeSteps    int
	Epochs       int
	LearningRate float32
	Optimizer    string
	Workers      int
	UseGPU       bool
}

// Epoch is one row of per-epoch statistics
type Epoch struct {
	Epoch     int
	Loss      float64
	Accuracy  float64
	EventRate float64
	LR        float32
	Duration  time.Duration
}

// Store is an open run log
type Store struct {
	db     *sql.DB
	driver string
}

// Open connects to "sqlite:<path>" or "mysql:<user:pass@tcp(host:port)/db>"
// and creates the tables if needed.
func Open(dsn string) (*Store, error) {
	driver, source, err := parseDSN(dsn)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driver, source)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", driver)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.Wrapf(err, "connect %s", driver)
	}

	s := &Store{db: db, driver: driver}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func parseDSN(dsn string) (string, string, error) {
	switch {
	case strings.HasPrefix(dsn, "sqlite:"):
		return "sqlite", strings.TrimPrefix(dsn, "sqlite:"), nil
	case strings.HasPrefix(dsn, "mysql:"):
		source := strings.TrimPrefix(dsn, "mysql:")
		if !strings.Contains(source, "parseTime=") {
			sep := "?"
			if strings.Contains(source, "?") {
				sep = "&"
			}
			source += sep + "parseTime=true"
		}
		return "mysql", source, nil
	default:
		return "", "", errors.Wrapf(ErrUnknownDriver, "dsn %q", dsn)
	}
}

func (s *Store) migrate() error {
	autoID := "INTEGER PRIMARY KEY AUTOINCREMENT"
	if s.driver == "mysql" {
		autoID = "BIGINT PRIMARY KEY AUTO_INCREMENT"
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS runs(
			id ` + autoID + `,
			name VARCHAR(255) NOT NULL,
			host VARCHAR(255) NOT NULL,
			go_version VARCHAR(64) NOT NULL,
			seed BIGINT NOT NULL,
			time_steps INTEGER NOT NULL,
			epochs INTEGER NOT NULL,
			learning_rate DOUBLE NOT NULL,
			optimizer VARCHAR(64) NOT NULL,
			workers INTEGER NOT NULL,
			use_gpu INTEGER NOT NULL,
			started_at BIGINT NOT NULL,
			finished_at BIGINT,
			final_loss DOUBLE,
			final_accuracy DOUBLE
		)`,
		`CREATE TABLE IF NOT EXISTS epochs(
			run_id BIGINT NOT NULL,
			epoch INTEGER NOT NULL,
			loss DOUBLE NOT NULL,
			accuracy DOUBLE NOT NULL,
			event_rate DOUBLE NOT NULL,
			lr DOUBLE NOT NULL,
			duration_ns BIGINT NOT NULL,
			PRIMARY KEY(run_id, epoch)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return errors.Wrap(err, "create tables")
		}
	}
	return nil
}

// StartRun inserts a run and returns its id
func (s *Store) StartRun(r Run) (int64, error) {
	host, err := os.Hostname()
	if err != nil {
		host = os.Getenv("HOSTNAME")
	}
	gpu := 0
	if r.UseGPU {
		gpu = 1
	}

	res, err := s.db.Exec(`INSERT INTO runs(name, host, go_version, seed, time_steps, epochs,
		learning_rate, optimizer, workers, use_gpu, started_at) VALUES(?,?,?,?,?,?,?,?,?,?,?)`,
		r.Name, host, runtime.Version(), r.Seed, r.TimeSteps, r.Epochs,
		float64(r.LearningRate), r.Optimizer, r.Workers, gpu, time.Now().UnixNano())
	if err != nil {
		return 0, errors.Wrap(err, "insert run")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, errors.Wrap(err, "run id")
	}
	return id, nil
}

// RecordEpoch stores the statistics of one epoch
func (s *Store) RecordEpoch(runID int64, e Epoch) error {
	_, err := s.db.Exec(`INSERT INTO epochs(run_id, epoch, loss, accuracy, event_rate, lr, duration_ns)
		VALUES(?,?,?,?,?,?,?)`,
		runID, e.Epoch, e.Loss, e.Accuracy, e.EventRate, float64(e.LR), int64(e.Duration))
	if err != nil {
		return errors.Wrapf(err, "insert epoch %d of run %d", e.Epoch, runID)
	}
	return nil
}

// FinishRun stores the final loss and accuracy of a run
func (s *Store) FinishRun(runID int64, loss, accuracy float64) error {
	res, err := s.db.Exec(`UPDATE runs SET finished_at = ?, final_loss = ?, final_accuracy = ? WHERE id = ?`,
		time.Now().UnixNano(), loss, accuracy, runID)
	if err != nil {
		return errors.Wrapf(err, "finish run %d", runID)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return errors.Errorf("run %d not found", runID)
	}
	return nil
}

// Epochs returns the recorded epochs of a run in order
func (s *Store) Epochs(runID int64) ([]Epoch, error) {
	rows, err := s.db.Query(`SELECT epoch, loss, accuracy, event_rate, lr, duration_ns
		FROM epochs WHERE run_id = ? ORDER BY epoch`, runID)
	if err != nil {
		return nil, errors.Wrapf(err, "query epochs of run %d", runID)
	}
	defer rows.Close()

	var out []Epoch
	for rows.Next() {
		var e Epoch
		var lr float64
		var ns int64
		if err := rows.Scan(&e.Epoch, &e.Loss, &e.Accuracy, &e.EventRate, &lr, &ns); err != nil {
			return nil, errors.Wrap(err, "scan epoch")
		}
		e.LR = float32(lr)
		e.Duration = time.Duration(ns)
		out = append(out, e)
	}
	return out, errors.Wrap(rows.Err(), "read epochs")
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}
