package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

func (s *PostgresStore) CreateFile(ctx context.Context, item WorkspaceFile) (WorkspaceFile, error) {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	item.CreatedAt = s.now()
	_, err := s.q(ctx).ExecContext(ctx, `
		INSERT INTO workspace_files (id, workspace_id, name, object_key, content_type, size, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, item.ID, item.WorkspaceID, item.Name, item.ObjectKey, item.ContentType, item.Size, nilIfEmpty(item.CreatedBy), item.CreatedAt)
	if err != nil {
		return WorkspaceFile{}, fmt.Errorf("insert file: %w", err)
	}
	return item, nil
}

const fileColumns = `id, workspace_id, name, object_key, content_type, size, COALESCE(created_by::text, ''), created_at`

func scanFile(row interface{ Scan(...any) error }) (WorkspaceFile, error) {
	var item WorkspaceFile
	err := row.Scan(&item.ID, &item.WorkspaceID, &item.Name, &item.ObjectKey, &item.ContentType, &item.Size, &item.CreatedBy, &item.CreatedAt)
	return item, err
}

func (s *PostgresStore) ListFiles(ctx context.Context, workspaceID string) ([]WorkspaceFile, error) {
	rows, err := s.q(ctx).QueryContext(ctx, `SELECT `+fileColumns+` FROM workspace_files WHERE workspace_id=$1 ORDER BY created_at DESC`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	defer rows.Close()

	items := make([]WorkspaceFile, 0)
	for rows.Next() {
		item, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan file: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate files: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetFile(ctx context.Context, workspaceID, id string) (WorkspaceFile, error) {
	return scanFile(s.q(ctx).QueryRowContext(ctx, `SELECT `+fileColumns+` FROM workspace_files WHERE id=$1 AND workspace_id=$2`, id, workspaceID))
}

func (s *PostgresStore) DeleteFile(ctx context.Context, workspaceID, id string) error {
	res, err := s.q(ctx).ExecContext(ctx, `DELETE FROM workspace_files WHERE id=$1 AND workspace_id=$2`, id, workspaceID)
	if err != nil {
		return fmt.Errorf("delete file: %w", err)
	}
	return affected(res)
}

// AttachTaskFile records the uploaded file and links it to its task in one
// transaction.
func (s *PostgresStore) AttachTaskFile(ctx context.Context, file WorkspaceFile, link TaskFile) (TaskFile, error) {
	link.ID = uuid.NewString()
	err := s.InTx(ctx, func(ctx context.Context) error {
		created, err := s.CreateFile(ctx, file)
		if err != nil {
			return err
		}
		link.FileID = created.ID
		link.Name = created.Name
		link.ContentType = created.ContentType
		link.Size = created.Size
		link.ObjectKey = created.ObjectKey
		link.CreatedAt = created.CreatedAt
		if _, err := s.q(ctx).ExecContext(ctx, `
			INSERT INTO task_comment_files (id, task_id, comment_id, file_id, owner_id, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, link.ID, link.TaskID, nilIfEmpty(link.CommentID), link.FileID, nilIfEmpty(link.OwnerID), link.CreatedAt); err != nil {
			return fmt.Errorf("insert task file: %w", err)
		}
		return nil
	})
	if err != nil {
		return TaskFile{}, err
	}
	return link, nil
}

const taskFileSelect = `
	SELECT l.id, l.task_id, COALESCE(l.comment_id::text, ''), l.file_id, COALESCE(l.owner_id::text, ''),
		f.name, f.content_type, f.size, f.object_key, l.created_at
	FROM task_comment_files l
	JOIN workspace_files f ON f.id = l.file_id
`

func scanTaskFile(row interface{ Scan(...any) error }) (TaskFile, error) {
	var item TaskFile
	err := row.Scan(&item.ID, &item.TaskID, &item.CommentID, &item.FileID, &item.OwnerID,
		&item.Name, &item.ContentType, &item.Size, &item.ObjectKey, &item.CreatedAt)
	return item, err
}

func (s *PostgresStore) ListTaskFiles(ctx context.Context, taskID string) ([]TaskFile, error) {
	rows, err := s.q(ctx).QueryContext(ctx, taskFileSelect+` WHERE l.task_id=$1 ORDER BY l.created_at`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list task files: %w", err)
	}
	defer rows.Close()

	items := make([]TaskFile, 0)
	for rows.Next() {
		item, err := scanTaskFile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task file: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate task files: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetTaskFile(ctx context.Context, taskID, id string) (TaskFile, error) {
	return scanTaskFile(s.q(ctx).QueryRowContext(ctx, taskFileSelect+` WHERE l.id=$1 AND l.task_id=$2`, id, taskID))
}

// DetachTaskFile removes the link. The file stays in the workspace files.
func (s *PostgresStore) DetachTaskFile(ctx context.Context, taskID, id string) error {
	res, err := s.q(ctx).ExecContext(ctx, `DELETE FROM task_comment_files WHERE id=$1 AND task_id=$2`, id, taskID)
	if err != nil {
		return fmt.Errorf("delete task file: %w", err)
	}
	return affected(res)
}

// FileTaskIDs lists the tasks a workspace file is attached to.
func (s *PostgresStore) FileTaskIDs(ctx context.Context, fileID string) ([]string, error) {
	rows, err := s.q(ctx).QueryContext(ctx, `SELECT DISTINCT task_id FROM task_comment_files WHERE file_id=$1`, fileID)
	if err != nil {
		return nil, fmt.Errorf("list file tasks: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan file task: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate file tasks: %w", err)
	}
	return ids, nil
}
