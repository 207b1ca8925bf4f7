package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"examflow/internal/task"
)

const taskColumns = "id, type, status, priority, exam_id, payload_json, progress_json, result_json, error_message, retry_count, max_retries, attempts, created_at, started_at, completed_at"

const upsertTask = `INSERT INTO tasks (` + taskColumns + `, archived_at)
    VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
    ON CONFLICT(id) DO UPDATE SET
        status = excluded.status,
        priority = excluded.priority,
        progress_json = excluded.progress_json,
        result_json = excluded.result_json,
        error_message = excluded.error_message,
        retry_count = excluded.retry_count,
        max_retries = excluded.max_retries,
        attempts = excluded.attempts,
        started_at = excluded.started_at,
        completed_at = excluded.completed_at,
        archived_at = excluded.archived_at`

// TaskFilter narrows ListTasks. Zero values match everything.
type TaskFilter struct {
	ExamID   string
	Statuses []task.Status
	Limit    int
}

func taskArgs(t task.Task, archivedAt time.Time) ([]any, error) {
	payload, err := marshalJSON(t.Payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload of task %s: %w", t.ID, err)
	}
	progress, err := marshalJSON(t.Progress)
	if err != nil {
		return nil, fmt.Errorf("marshal progress of task %s: %w", t.ID, err)
	}
	result, err := marshalJSON(t.Result)
	if err != nil {
		// Unencodable results are stored in their printed form.
		result, _ = marshalJSON(fmt.Sprintf("%v", t.Result))
	}
	return []any{
		t.ID,
		string(t.Type),
		string(t.Status),
		t.Priority,
		nullableString(t.Payload.ExamID),
		payload,
		progress,
		result,
		nullableString(t.Error),
		t.RetryCount,
		t.MaxRetries,
		t.Attempts,
		formatTime(t.CreatedAt),
		nullableTime(t.StartedAt),
		nullableTime(t.CompletedAt),
		formatTime(archivedAt),
	}, nil
}

// SaveTask inserts or updates one task snapshot.
func (s *Store) SaveTask(ctx context.Context, t task.Task) error {
	return s.ArchiveTasks(ctx, []task.Task{t})
}

// ArchiveTasks stores task snapshots in a single transaction. It satisfies
// scheduler.Archiver.
func (s *Store) ArchiveTasks(ctx context.Context, tasks []task.Task) error {
	if len(tasks) == 0 {
		return nil
	}
	now := time.Now()
	rows := make([][]any, 0, len(tasks))
	for _, t := range tasks {
		args, err := taskArgs(t, now)
		if err != nil {
			return err
		}
		rows = append(rows, args)
	}
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, upsertTask)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, args := range rows {
			if _, err := stmt.ExecContext(ctx, args...); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("archive tasks: %w", err)
	}
	return nil
}

// ListTasks returns archived tasks in creation order.
func (s *Store) ListTasks(ctx context.Context, filter TaskFilter) ([]task.Task, error) {
	var (
		clauses []string
		args    []any
	)
	if examID := strings.TrimSpace(filter.ExamID); examID != "" {
		clauses = append(clauses, "exam_id = ?")
		args = append(args, examID)
	}
	if len(filter.Statuses) > 0 {
		clauses = append(clauses, "status IN ("+makePlaceholders(len(filter.Statuses))+")")
		for _, st := range filter.Statuses {
			args = append(args, string(st))
		}
	}
	query := `SELECT ` + taskColumns + ` FROM tasks`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at, id"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ensureContext(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var out []task.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanTask(scanner interface{ Scan(dest ...any) error }) (task.Task, error) {
	var (
		t           task.Task
		typ, status string
		examID      sql.NullString
		payload     sql.NullString
		progress    sql.NullString
		result      sql.NullString
		errMsg      sql.NullString
		createdRaw  string
		startedRaw  sql.NullString
		finishedRaw sql.NullString
	)
	if err := scanner.Scan(
		&t.ID,
		&typ,
		&status,
		&t.Priority,
		&examID,
		&payload,
		&progress,
		&result,
		&errMsg,
		&t.RetryCount,
		&t.MaxRetries,
		&t.Attempts,
		&createdRaw,
		&startedRaw,
		&finishedRaw,
	); err != nil {
		return task.Task{}, err
	}
	t.Type = task.Type(typ)
	t.Status = task.Status(status)
	t.Error = errMsg.String
	if payload.Valid {
		if err := json.Unmarshal([]byte(payload.String), &t.Payload); err != nil {
			return task.Task{}, fmt.Errorf("decode payload: %w", err)
		}
	}
	if t.Payload.ExamID == "" {
		t.Payload.ExamID = examID.String
	}
	if progress.Valid {
		if err := json.Unmarshal([]byte(progress.String), &t.Progress); err != nil {
			return task.Task{}, fmt.Errorf("decode progress: %w", err)
		}
	}
	if result.Valid {
		t.Result = json.RawMessage(result.String)
	}
	if created, err := parseTimeString(createdRaw); err == nil {
		t.CreatedAt = created
	}
	t.StartedAt = parseNullableTime(startedRaw)
	t.CompletedAt = parseNullableTime(finishedRaw)
	return t, nil
}
