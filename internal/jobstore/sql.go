package jobstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/book-expert/lecture-service/internal/core"

	// Registers the "postgres" database/sql driver.
	_ "github.com/lib/pq"
	// Registers the "sqlite3" database/sql driver.
	_ "github.com/mattn/go-sqlite3"
)

// Supported SQL drivers.
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

const sqliteOptions = "?_journal_mode=WAL&_timeout=5000"

var errUnsupportedDriver = errors.New("unsupported job store driver")

// SQLStore persists jobs as JSON documents with indexed status and timestamps.
// Updates are serialized in-process so a read-modify-write never interleaves.
type SQLStore struct {
	db     *sql.DB
	driver string
	mu     sync.Mutex
	now    func() time.Time
}

// NewSQLiteStore opens (or creates) a SQLite database at path.
func NewSQLiteStore(path string) (*SQLStore, error) {
	return NewSQLStore(DriverSQLite, path+sqliteOptions)
}

// NewPostgresStore connects to PostgreSQL with the given DSN.
func NewPostgresStore(dsn string) (*SQLStore, error) {
	return NewSQLStore(DriverPostgres, dsn)
}

// NewSQLStore opens a database with driver and initializes the schema.
func NewSQLStore(driver, dsn string) (*SQLStore, error) {
	if driver != DriverSQLite && driver != DriverPostgres {
		return nil, fmt.Errorf("%w: %s", errUnsupportedDriver, driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if driver == DriverSQLite {
		db.SetMaxOpenConns(1)
	}

	err = db.Ping()
	if err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &SQLStore{db: db, driver: driver, now: time.Now}

	err = store.initSchema()
	if err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS lecture_jobs (
			id TEXT PRIMARY KEY,
			subject_id TEXT NOT NULL,
			status TEXT NOT NULL,
			progress INTEGER NOT NULL DEFAULT 0,
			data TEXT NOT NULL,
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_lecture_jobs_status ON lecture_jobs(status)`,
		`CREATE INDEX IF NOT EXISTS idx_lecture_jobs_created_at ON lecture_jobs(created_at)`,
	}

	for _, statement := range statements {
		_, err := s.db.Exec(statement)
		if err != nil {
			return err
		}
	}

	return nil
}

// Create inserts a new job row.
func (s *SQLStore) Create(ctx context.Context, job *core.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to encode job: %w", err)
	}

	query := s.rebind(`
		INSERT INTO lecture_jobs (id, subject_id, status, progress, data, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)

	_, err = s.db.ExecContext(ctx, query,
		job.ID,
		job.SubjectID,
		string(job.Status),
		job.Progress,
		string(data),
		job.CreatedAt.UnixNano(),
		job.UpdatedAt.UnixNano(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", core.ErrDuplicateJob, job.ID)
		}

		return fmt.Errorf("failed to create job: %w", err)
	}

	return nil
}

// Get loads a job by id.
func (s *SQLStore) Get(ctx context.Context, id string) (*core.Job, error) {
	return s.load(ctx, s.db, id)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLStore) load(ctx context.Context, q queryer, id string) (*core.Job, error) {
	var data string

	err := q.QueryRowContext(ctx, s.rebind(`SELECT data FROM lecture_jobs WHERE id = ?`), id).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, core.ErrJobNotFound
		}

		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	var job core.Job

	err = json.Unmarshal([]byte(data), &job)
	if err != nil {
		return nil, fmt.Errorf("failed to decode job %s: %w", id, err)
	}

	return &job, nil
}

// Update reads, patches and writes the job inside one transaction.
func (s *SQLStore) Update(ctx context.Context, id string, patch core.Patch) (*core.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		_ = tx.Rollback()
	}()

	job, err := s.load(ctx, tx, id)
	if err != nil {
		return nil, err
	}

	next, err := patch.Apply(job, s.now().UTC())
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(next)
	if err != nil {
		return nil, fmt.Errorf("failed to encode job: %w", err)
	}

	query := s.rebind(`UPDATE lecture_jobs SET status = ?, progress = ?, data = ?, updated_at = ? WHERE id = ?`)

	_, err = tx.ExecContext(ctx, query, string(next.Status), next.Progress, string(data), next.UpdatedAt.UnixNano(), id)
	if err != nil {
		return nil, fmt.Errorf("failed to update job: %w", err)
	}

	err = tx.Commit()
	if err != nil {
		return nil, fmt.Errorf("failed to commit job update: %w", err)
	}

	return next, nil
}

// List returns every job, newest first.
func (s *SQLStore) List(ctx context.Context) ([]*core.Job, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT data FROM lecture_jobs ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*core.Job

	for rows.Next() {
		var data string

		err = rows.Scan(&data)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}

		var job core.Job

		err = json.Unmarshal([]byte(data), &job)
		if err != nil {
			return nil, fmt.Errorf("failed to decode job: %w", err)
		}

		jobs = append(jobs, &job)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating over jobs: %w", err)
	}

	return jobs, nil
}

// RemoveOlderThan deletes terminal jobs created more than age ago. Pending and
// processing jobs are kept whatever their age.
func (s *SQLStore) RemoveOlderThan(ctx context.Context, age time.Duration) (int, error) {
	cutoff := s.now().Add(-age).UnixNano()

	result, err := s.db.ExecContext(ctx,
		s.rebind(`DELETE FROM lecture_jobs WHERE created_at < ? AND status IN (?, ?, ?)`),
		cutoff,
		string(core.JobStatusCompleted),
		string(core.JobStatusFailed),
		string(core.JobStatusCancelled),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to remove old jobs: %w", err)
	}

	removed, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count removed jobs: %w", err)
	}

	return int(removed), nil
}

// rebind rewrites ? placeholders to $n for PostgreSQL.
func (s *SQLStore) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}

	var (
		builder strings.Builder
		index   int
	)

	for _, char := range query {
		if char == '?' {
			index++

			builder.WriteString("$" + strconv.Itoa(index))

			continue
		}

		builder.WriteRune(char)
	}

	return builder.String()
}

func isUniqueViolation(err error) bool {
	message := err.Error()

	return strings.Contains(message, "UNIQUE constraint failed") ||
		strings.Contains(message, "duplicate key value")
}
