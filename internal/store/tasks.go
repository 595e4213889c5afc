package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const taskColumns = `id, workspace_id, COALESCE(owner_id::text, ''), stage_key, category_key, title, description, created_at, updated_at`

func scanTask(row interface{ Scan(...any) error }) (Task, error) {
	var item Task
	err := row.Scan(&item.ID, &item.WorkspaceID, &item.OwnerID, &item.StageKey, &item.CategoryKey, &item.Title, &item.Description, &item.CreatedAt, &item.UpdatedAt)
	return item, err
}

func (s *PostgresStore) listTasks(ctx context.Context, query string, args ...any) ([]Task, error) {
	rows, err := s.q(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	items := make([]Task, 0)
	for rows.Next() {
		item, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tasks: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) ListTasks(ctx context.Context, workspaceID string) ([]Task, error) {
	return s.listTasks(ctx, `SELECT `+taskColumns+` FROM tasks WHERE workspace_id=$1 ORDER BY updated_at DESC`, workspaceID)
}

// SearchTasks runs a full-text query over title and description. Row
// security on the bound connection limits results to visible tasks.
func (s *PostgresStore) SearchTasks(ctx context.Context, workspaceID, query string, limit int) ([]Task, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []Task{}, nil
	}
	if limit <= 0 {
		limit = 20
	}
	return s.listTasks(ctx, `
		SELECT `+taskColumns+`
		FROM tasks
		WHERE ($1 = '' OR workspace_id::text = $1)
			AND search_vector @@ plainto_tsquery('simple', $2)
		ORDER BY ts_rank(search_vector, plainto_tsquery('simple', $2)) DESC, updated_at DESC
		LIMIT $3
	`, workspaceID, query, limit)
}

func (s *PostgresStore) GetTask(ctx context.Context, id string) (Task, error) {
	return scanTask(s.q(ctx).QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=$1`, id))
}

func (s *PostgresStore) CreateTask(ctx context.Context, item Task) (Task, error) {
	item.ID = uuid.NewString()
	item.CreatedAt = s.now()
	item.UpdatedAt = item.CreatedAt
	_, err := s.q(ctx).ExecContext(ctx, `
		INSERT INTO tasks (id, workspace_id, owner_id, stage_key, category_key, title, description, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, item.ID, item.WorkspaceID, nilIfEmpty(item.OwnerID), item.StageKey, item.CategoryKey, item.Title, item.Description, item.CreatedAt, item.UpdatedAt)
	if err != nil {
		return Task{}, fmt.Errorf("insert task: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) UpdateTask(ctx context.Context, item Task) (Task, error) {
	item.UpdatedAt = s.now()
	res, err := s.q(ctx).ExecContext(ctx, `
		UPDATE tasks
		SET owner_id=$3, stage_key=$4, category_key=$5, title=$6, description=$7, updated_at=$8
		WHERE id=$1 AND workspace_id=$2
	`, item.ID, item.WorkspaceID, nilIfEmpty(item.OwnerID), item.StageKey, item.CategoryKey, item.Title, item.Description, item.UpdatedAt)
	if err != nil {
		return Task{}, fmt.Errorf("update task: %w", err)
	}
	if err := affected(res); err != nil {
		return Task{}, err
	}
	return item, nil
}

func (s *PostgresStore) DeleteTask(ctx context.Context, workspaceID, id string) error {
	res, err := s.q(ctx).ExecContext(ctx, `DELETE FROM tasks WHERE id=$1 AND workspace_id=$2`, id, workspaceID)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	return affected(res)
}

func (s *PostgresStore) ListComments(ctx context.Context, taskID string) ([]TaskComment, error) {
	rows, err := s.q(ctx).QueryContext(ctx, `
		SELECT id, task_id, COALESCE(author_id::text, ''), content, created_at
		FROM task_comments
		WHERE task_id=$1
		ORDER BY created_at
	`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer rows.Close()

	items := make([]TaskComment, 0)
	for rows.Next() {
		var item TaskComment
		if err := rows.Scan(&item.ID, &item.TaskID, &item.AuthorID, &item.Content, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate comments: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) CreateComment(ctx context.Context, item TaskComment) (TaskComment, error) {
	item.ID = uuid.NewString()
	item.CreatedAt = s.now()
	_, err := s.q(ctx).ExecContext(ctx, `
		INSERT INTO task_comments (id, task_id, author_id, content, created_at) VALUES ($1, $2, $3, $4, $5)
	`, item.ID, item.TaskID, nilIfEmpty(item.AuthorID), item.Content, item.CreatedAt)
	if err != nil {
		return TaskComment{}, fmt.Errorf("insert comment: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) UpdateComment(ctx context.Context, taskID, id, content string) error {
	res, err := s.q(ctx).ExecContext(ctx, `UPDATE task_comments SET content=$3 WHERE id=$1 AND task_id=$2`, id, taskID, content)
	if err != nil {
		return fmt.Errorf("update comment: %w", err)
	}
	return affected(res)
}

func (s *PostgresStore) DeleteComment(ctx context.Context, taskID, id string) error {
	res, err := s.q(ctx).ExecContext(ctx, `DELETE FROM task_comments WHERE id=$1 AND task_id=$2`, id, taskID)
	if err != nil {
		return fmt.Errorf("delete comment: %w", err)
	}
	return affected(res)
}

func (s *PostgresStore) GetTaskSummary(ctx context.Context, taskID string) (TaskSummary, error) {
	var item TaskSummary
	err := s.q(ctx).QueryRowContext(ctx, `SELECT task_id, summary, updated_at FROM task_summaries WHERE task_id=$1`, taskID).
		Scan(&item.TaskID, &item.Summary, &item.UpdatedAt)
	if err != nil {
		return TaskSummary{}, err
	}
	return item, nil
}

// SaveTaskSummary upserts the generated summary. Only privileged callers can
// write summaries.
func (s *PostgresStore) SaveTaskSummary(ctx context.Context, taskID, summary string) error {
	_, err := s.q(ctx).ExecContext(ctx, `
		INSERT INTO task_summaries (task_id, summary, updated_at) VALUES ($1, $2, $3)
		ON CONFLICT (task_id) DO UPDATE SET summary=EXCLUDED.summary, updated_at=EXCLUDED.updated_at
	`, taskID, summary, s.now())
	if err != nil {
		return fmt.Errorf("save task summary: %w", err)
	}
	return nil
}

// GetTaskWithComments loads what the summary worker sends upstream.
func (s *PostgresStore) GetTaskWithComments(ctx context.Context, taskID string) (Task, []TaskComment, error) {
	task, err := s.GetTask(ctx, taskID)
	if err != nil {
		if err == sql.ErrNoRows {
			return Task{}, nil, err
		}
		return Task{}, nil, fmt.Errorf("load task: %w", err)
	}
	comments, err := s.ListComments(ctx, taskID)
	if err != nil {
		return Task{}, nil, err
	}
	return task, comments, nil
}
