package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"examflow/internal/services"
	"examflow/internal/workflow"
)

// WorkflowRecord is the listing view of a stored workflow.
type WorkflowRecord struct {
	ID           string
	ExamID       string
	CurrentStage workflow.Stage
	Version      int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// CreateWorkflow reserves a workflow id for examID.
func (s *Store) CreateWorkflow(ctx context.Context, examID string) (string, error) {
	examID = strings.TrimSpace(examID)
	if examID == "" {
		return "", services.Wrap(services.ErrValidation, "store", "create workflow", "exam id is required", nil)
	}
	id := uuid.NewString()
	now := formatTime(time.Now())
	ctx = ensureContext(ctx)
	if err := retryOnBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO workflows (id, exam_id, version, created_at, updated_at) VALUES (?, ?, 0, ?, ?)`,
			id, examID, now, now,
		)
		return err
	}); err != nil {
		return "", fmt.Errorf("insert workflow: %w", err)
	}
	return id, nil
}

// SaveWorkflow stores the snapshot and its transitions atomically.
func (s *Store) SaveWorkflow(ctx context.Context, state workflow.State, transitions []workflow.Transition) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal workflow state: %w", err)
	}
	updated := state.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}
	err = s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE workflows SET exam_id = ?, current_stage = ?, version = ?, state_json = ?, updated_at = ? WHERE id = ?`,
			state.ExamID, string(state.CurrentStage), state.Version, string(data), formatTime(updated), state.WorkflowID,
		)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return services.Wrap(services.ErrNotFound, "store", "save workflow", fmt.Sprintf("workflow %s", state.WorkflowID), nil)
		}
		for _, tr := range transitions {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO stage_transitions (workflow_id, stage, from_status, to_status, action, version, at)
                 VALUES (?, ?, ?, ?, ?, ?, ?)`,
				state.WorkflowID, string(tr.Stage), string(tr.From), string(tr.To), tr.Action, tr.Version, formatTime(tr.At),
			); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("save workflow: %w", err)
	}
	return nil
}

// LoadWorkflow returns the last saved snapshot of a workflow.
func (s *Store) LoadWorkflow(ctx context.Context, workflowID string) (workflow.State, error) {
	var raw sql.NullString
	err := s.db.QueryRowContext(ensureContext(ctx), `SELECT state_json FROM workflows WHERE id = ?`, workflowID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && !raw.Valid) {
		return workflow.State{}, services.Wrap(services.ErrNotFound, "store", "load workflow", fmt.Sprintf("workflow %s", workflowID), nil)
	}
	if err != nil {
		return workflow.State{}, fmt.Errorf("load workflow: %w", err)
	}
	var state workflow.State
	if err := json.Unmarshal([]byte(raw.String), &state); err != nil {
		return workflow.State{}, fmt.Errorf("decode workflow %s: %w", workflowID, err)
	}
	return state, nil
}

// ListWorkflows returns stored workflows, newest first. An empty examID lists all.
func (s *Store) ListWorkflows(ctx context.Context, examID string) ([]WorkflowRecord, error) {
	query := `SELECT id, exam_id, current_stage, version, created_at, updated_at FROM workflows`
	var args []any
	if examID = strings.TrimSpace(examID); examID != "" {
		query += ` WHERE exam_id = ?`
		args = append(args, examID)
	}
	query += ` ORDER BY updated_at DESC, id`
	rows, err := s.db.QueryContext(ensureContext(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}
	defer rows.Close()

	var out []WorkflowRecord
	for rows.Next() {
		var (
			rec        WorkflowRecord
			stage      sql.NullString
			createdRaw string
			updatedRaw string
		)
		if err := rows.Scan(&rec.ID, &rec.ExamID, &stage, &rec.Version, &createdRaw, &updatedRaw); err != nil {
			return nil, fmt.Errorf("scan workflow: %w", err)
		}
		rec.CurrentStage = workflow.Stage(stage.String)
		if t, err := parseTimeString(createdRaw); err == nil {
			rec.CreatedAt = t
		}
		if t, err := parseTimeString(updatedRaw); err == nil {
			rec.UpdatedAt = t
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ListTransitions returns the stage history of a workflow in commit order.
func (s *Store) ListTransitions(ctx context.Context, workflowID string) ([]workflow.Transition, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx),
		`SELECT t.workflow_id, w.exam_id, t.stage, t.from_status, t.to_status, t.action, t.version, t.at
         FROM stage_transitions t JOIN workflows w ON w.id = t.workflow_id
         WHERE t.workflow_id = ? ORDER BY t.id`,
		workflowID,
	)
	if err != nil {
		return nil, fmt.Errorf("list transitions: %w", err)
	}
	defer rows.Close()

	var out []workflow.Transition
	for rows.Next() {
		var (
			tr         workflow.Transition
			stage      string
			from, to   string
			recordedAt string
		)
		if err := rows.Scan(&tr.WorkflowID, &tr.ExamID, &stage, &from, &to, &tr.Action, &tr.Version, &recordedAt); err != nil {
			return nil, fmt.Errorf("scan transition: %w", err)
		}
		tr.Stage = workflow.Stage(stage)
		tr.From = workflow.StageStatus(from)
		tr.To = workflow.StageStatus(to)
		if t, err := parseTimeString(recordedAt); err == nil {
			tr.At = t
		}
		out = append(out, tr)
	}
	return out, rows.Err()
}
