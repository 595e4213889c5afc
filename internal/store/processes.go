package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

const processColumns = `id, workspace_id, title, description, steps::text, category_key, created_at, updated_at`

func scanProcess(row interface{ Scan(...any) error }) (Process, error) {
	var item Process
	var steps []byte
	err := row.Scan(&item.ID, &item.WorkspaceID, &item.Title, &item.Description, &steps, &item.CategoryKey, &item.CreatedAt, &item.UpdatedAt)
	item.Steps = json.RawMessage(steps)
	return item, err
}

func (s *PostgresStore) ListProcesses(ctx context.Context, workspaceID string) ([]Process, error) {
	rows, err := s.q(ctx).QueryContext(ctx, `SELECT `+processColumns+` FROM processes WHERE workspace_id=$1 ORDER BY title`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("list processes: %w", err)
	}
	defer rows.Close()

	items := make([]Process, 0)
	for rows.Next() {
		item, err := scanProcess(rows)
		if err != nil {
			return nil, fmt.Errorf("scan process: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate processes: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetProcess(ctx context.Context, workspaceID, id string) (Process, error) {
	return scanProcess(s.q(ctx).QueryRowContext(ctx, `SELECT `+processColumns+` FROM processes WHERE id=$1 AND workspace_id=$2`, id, workspaceID))
}

func (s *PostgresStore) CreateProcess(ctx context.Context, item Process) (Process, error) {
	item.ID = uuid.NewString()
	item.CreatedAt = s.now()
	item.UpdatedAt = item.CreatedAt
	_, err := s.q(ctx).ExecContext(ctx, `
		INSERT INTO processes (id, workspace_id, title, description, steps, category_key, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5::jsonb, $6, $7, $8)
	`, item.ID, item.WorkspaceID, item.Title, item.Description, string(item.Steps), item.CategoryKey, item.CreatedAt, item.UpdatedAt)
	if err != nil {
		return Process{}, fmt.Errorf("insert process: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) UpdateProcess(ctx context.Context, item Process) (Process, error) {
	item.UpdatedAt = s.now()
	res, err := s.q(ctx).ExecContext(ctx, `
		UPDATE processes SET title=$3, description=$4, steps=$5::jsonb, category_key=$6, updated_at=$7
		WHERE id=$1 AND workspace_id=$2
	`, item.ID, item.WorkspaceID, item.Title, item.Description, string(item.Steps), item.CategoryKey, item.UpdatedAt)
	if err != nil {
		return Process{}, fmt.Errorf("update process: %w", err)
	}
	if err := affected(res); err != nil {
		return Process{}, err
	}
	return item, nil
}

func (s *PostgresStore) DeleteProcess(ctx context.Context, workspaceID, id string) error {
	res, err := s.q(ctx).ExecContext(ctx, `DELETE FROM processes WHERE id=$1 AND workspace_id=$2`, id, workspaceID)
	if err != nil {
		return fmt.Errorf("delete process: %w", err)
	}
	return affected(res)
}

const processInstanceColumns = `id, process_id, workspace_id, data::text, stage_key, COALESCE(initiator_id::text, ''), created_at, updated_at`

func scanProcessInstance(row interface{ Scan(...any) error }) (ProcessInstance, error) {
	var item ProcessInstance
	var data []byte
	err := row.Scan(&item.ID, &item.ProcessID, &item.WorkspaceID, &data, &item.StageKey, &item.InitiatorID, &item.CreatedAt, &item.UpdatedAt)
	item.Data = json.RawMessage(data)
	return item, err
}

func (s *PostgresStore) ListProcessInstances(ctx context.Context, processID string) ([]ProcessInstance, error) {
	rows, err := s.q(ctx).QueryContext(ctx, `SELECT `+processInstanceColumns+` FROM process_instances WHERE process_id=$1 ORDER BY created_at DESC`, processID)
	if err != nil {
		return nil, fmt.Errorf("list process instances: %w", err)
	}
	defer rows.Close()

	items := make([]ProcessInstance, 0)
	for rows.Next() {
		item, err := scanProcessInstance(rows)
		if err != nil {
			return nil, fmt.Errorf("scan process instance: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate process instances: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetProcessInstance(ctx context.Context, processID, id string) (ProcessInstance, error) {
	return scanProcessInstance(s.q(ctx).QueryRowContext(ctx, `SELECT `+processInstanceColumns+` FROM process_instances WHERE id=$1 AND process_id=$2`, id, processID))
}

func (s *PostgresStore) CreateProcessInstance(ctx context.Context, item ProcessInstance) (ProcessInstance, error) {
	item.ID = uuid.NewString()
	item.CreatedAt = s.now()
	item.UpdatedAt = item.CreatedAt
	_, err := s.q(ctx).ExecContext(ctx, `
		INSERT INTO process_instances (id, process_id, workspace_id, data, stage_key, initiator_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4::jsonb, $5, $6, $7, $8)
	`, item.ID, item.ProcessID, item.WorkspaceID, string(item.Data), item.StageKey, nilIfEmpty(item.InitiatorID), item.CreatedAt, item.UpdatedAt)
	if err != nil {
		return ProcessInstance{}, fmt.Errorf("insert process instance: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) UpdateProcessInstance(ctx context.Context, item ProcessInstance) (ProcessInstance, error) {
	item.UpdatedAt = s.now()
	res, err := s.q(ctx).ExecContext(ctx, `UPDATE process_instances SET data=$3::jsonb, stage_key=$4, updated_at=$5 WHERE id=$1 AND process_id=$2`,
		item.ID, item.ProcessID, string(item.Data), item.StageKey, item.UpdatedAt)
	if err != nil {
		return ProcessInstance{}, fmt.Errorf("update process instance: %w", err)
	}
	if err := affected(res); err != nil {
		return ProcessInstance{}, err
	}
	return item, nil
}

func (s *PostgresStore) DeleteProcessInstance(ctx context.Context, processID, id string) error {
	res, err := s.q(ctx).ExecContext(ctx, `DELETE FROM process_instances WHERE id=$1 AND process_id=$2`, id, processID)
	if err != nil {
		return fmt.Errorf("delete process instance: %w", err)
	}
	return affected(res)
}
