// Package tasks implements the durable task queue: persistence, dedup,
// priority dispatch and the bounded-concurrency manager.
package tasks

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/calvia/stockdeck/internal/database"
	"github.com/calvia/stockdeck/internal/domain"
)

// Repository provides access to the tasks table
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new task repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("component", "tasks_repo").Logger(),
	}
}

// Create enqueues a task, deduplicating against any non-terminal task with
// the same (symbol, task_type): when one exists its id is returned and no
// row is written. The check and insert share one transaction.
func (r *Repository) Create(taskType domain.TaskType, symbol string, priority int, metadata string) (string, error) {
	if !taskType.Valid() {
		return "", fmt.Errorf("unknown task type: %s", taskType)
	}
	if priority < domain.PriorityHighest || priority > domain.PriorityLowest {
		priority = domain.PriorityDefault
	}

	var id string
	err := database.WithTransaction(r.db, func(tx *sql.Tx) error {
		var existing string
		err := tx.QueryRow(`
			SELECT id FROM tasks
			WHERE symbol = ? AND task_type = ? AND status IN (?, ?)
			LIMIT 1
		`, symbol, string(taskType), string(domain.TaskPending), string(domain.TaskRunning)).Scan(&existing)
		if err == nil {
			id = existing
			return nil
		}
		if err != sql.ErrNoRows {
			return fmt.Errorf("failed to check for duplicate task: %w", err)
		}

		id = uuid.New().String()
		_, err = tx.Exec(`
			INSERT INTO tasks (id, task_type, symbol, status, priority, created_at, metadata)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, id, string(taskType), symbol, string(domain.TaskPending), priority,
			time.Now().UTC().Format(time.RFC3339Nano), metadata)
		if err != nil {
			return fmt.Errorf("failed to insert task: %w", err)
		}

		r.log.Info().
			Str("task_id", id).
			Str("type", string(taskType)).
			Str("symbol", symbol).
			Int("priority", priority).
			Msg("Created task")
		return nil
	})
	if err != nil {
		return "", err
	}

	return id, nil
}

// Get returns a task by id. Returns domain.ErrNotFound when no row exists.
func (r *Repository) Get(id string) (*domain.Task, error) {
	row := r.db.QueryRow(taskSelect+` WHERE id = ?`, id)
	task, err := scanTask(row.Scan)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return task, nil
}

// List returns tasks newest first, optionally filtered by status, capped at
// limit rows.
func (r *Repository) List(status domain.TaskStatus, limit int) ([]domain.Task, error) {
	query := taskSelect
	args := []interface{}{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	defer rows.Close()

	var tasks []domain.Task
	for rows.Next() {
		task, err := scanTask(rows.Scan)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tasks: %w", err)
	}

	return tasks, nil
}

// NextPending returns the dispatchable pending tasks: ascending priority
// (lower first), then creation order within a priority.
func (r *Repository) NextPending(limit int) ([]domain.Task, error) {
	rows, err := r.db.Query(taskSelect+`
		WHERE status = ?
		ORDER BY priority ASC, created_at ASC
		LIMIT ?
	`, string(domain.TaskPending), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending tasks: %w", err)
	}
	defer rows.Close()

	var tasks []domain.Task
	for rows.Next() {
		task, err := scanTask(rows.Scan)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating pending tasks: %w", err)
	}

	return tasks, nil
}

// MarkRunning claims a pending task for execution. The guarded UPDATE makes
// the claim race-safe: a task already claimed or finished reports
// domain.ErrTaskNotPending.
func (r *Repository) MarkRunning(id string) error {
	res, err := r.db.Exec(`
		UPDATE tasks
		SET status = ?, started_at = ?
		WHERE id = ? AND status = ?
	`, string(domain.TaskRunning), time.Now().UTC().Format(time.RFC3339Nano),
		id, string(domain.TaskPending))
	if err != nil {
		return fmt.Errorf("failed to mark task running: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", domain.ErrTaskNotPending, id)
	}

	return nil
}

// MarkCompleted moves a running task to COMPLETED.
func (r *Repository) MarkCompleted(id string) error {
	return r.finish(id, domain.TaskCompleted, "")
}

// MarkFailed moves a running task to FAILED with an error message.
func (r *Repository) MarkFailed(id string, message string) error {
	return r.finish(id, domain.TaskFailed, message)
}

func (r *Repository) finish(id string, status domain.TaskStatus, message string) error {
	var errMsg sql.NullString
	if message != "" {
		errMsg = sql.NullString{String: message, Valid: true}
	}

	res, err := r.db.Exec(`
		UPDATE tasks
		SET status = ?, completed_at = ?, error_message = ?
		WHERE id = ? AND status = ?
	`, string(status), time.Now().UTC().Format(time.RFC3339Nano), errMsg,
		id, string(domain.TaskRunning))
	if err != nil {
		return fmt.Errorf("failed to finish task: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("task %s is not running", id)
	}

	return nil
}

// Cancel marks a non-terminal task FAILED with the cancellation message.
// A running task's handler is not interrupted; its eventual completion
// attempt hits the status guard and becomes a no-op. Cancelling a terminal
// task returns domain.ErrTaskTerminal.
func (r *Repository) Cancel(id string) error {
	return database.WithTransaction(r.db, func(tx *sql.Tx) error {
		var status string
		err := tx.QueryRow(`SELECT status FROM tasks WHERE id = ?`, id).Scan(&status)
		if err == sql.ErrNoRows {
			return fmt.Errorf("%w: task %s", domain.ErrNotFound, id)
		}
		if err != nil {
			return fmt.Errorf("failed to read task status: %w", err)
		}
		if domain.TaskStatus(status).Terminal() {
			return fmt.Errorf("%w: %s", domain.ErrTaskTerminal, id)
		}

		_, err = tx.Exec(`
			UPDATE tasks
			SET status = ?, completed_at = ?, error_message = ?
			WHERE id = ?
		`, string(domain.TaskFailed), time.Now().UTC().Format(time.RFC3339Nano),
			domain.CancelledMessage, id)
		if err != nil {
			return fmt.Errorf("failed to cancel task: %w", err)
		}

		r.log.Info().Str("task_id", id).Msg("Cancelled task")
		return nil
	})
}

// RequeueStaleRunning resets RUNNING tasks older than the cutoff back to
// PENDING. Run once at startup: any task still marked running then is an
// orphan from a previous process.
func (r *Repository) RequeueStaleRunning(olderThan time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-olderThan).Format(time.RFC3339Nano)

	res, err := r.db.Exec(`
		UPDATE tasks
		SET status = ?, started_at = NULL
		WHERE status = ? AND started_at < ?
	`, string(domain.TaskPending), string(domain.TaskRunning), cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to requeue stale tasks: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected > 0 {
		r.log.Warn().Int64("count", affected).Msg("Requeued stale running tasks")
	}

	return int(affected), nil
}

// CountByStatus returns how many tasks currently hold each status.
func (r *Repository) CountByStatus() (map[domain.TaskStatus]int, error) {
	rows, err := r.db.Query(`SELECT status, COUNT(*) FROM tasks GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count tasks: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.TaskStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		counts[domain.TaskStatus(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating counts: %w", err)
	}

	return counts, nil
}

const taskSelect = `
	SELECT id, task_type, symbol, status, priority, created_at,
	       started_at, completed_at, error_message, metadata
	FROM tasks`

func scanTask(scan func(...interface{}) error) (*domain.Task, error) {
	var t domain.Task
	var taskType, status, createdAt string
	var startedAt, completedAt, errMsg, metadata sql.NullString

	err := scan(
		&t.ID, &taskType, &t.Symbol, &status, &t.Priority, &createdAt,
		&startedAt, &completedAt, &errMsg, &metadata,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan task: %w", err)
	}

	t.Type = domain.TaskType(taskType)
	t.Status = domain.TaskStatus(status)
	if ts, perr := time.Parse(time.RFC3339Nano, createdAt); perr == nil {
		t.CreatedAt = ts
	}
	if startedAt.Valid {
		if ts, perr := time.Parse(time.RFC3339Nano, startedAt.String); perr == nil {
			t.StartedAt = &ts
		}
	}
	if completedAt.Valid {
		if ts, perr := time.Parse(time.RFC3339Nano, completedAt.String); perr == nil {
			t.CompletedAt = &ts
		}
	}
	t.ErrorMessage = errMsg.String
	t.Metadata = metadata.String

	return &t, nil
}
