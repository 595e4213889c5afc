package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// JSON columns are read back as text so the raw document reaches the client
// unchanged.

const formColumns = `id, workspace_id, title, description, fields::text, category_key, created_at, updated_at`

func scanForm(row interface{ Scan(...any) error }) (Form, error) {
	var item Form
	var fields []byte
	err := row.Scan(&item.ID, &item.WorkspaceID, &item.Title, &item.Description, &fields, &item.CategoryKey, &item.CreatedAt, &item.UpdatedAt)
	item.Fields = json.RawMessage(fields)
	return item, err
}

func (s *PostgresStore) ListForms(ctx context.Context, workspaceID string) ([]Form, error) {
	rows, err := s.q(ctx).QueryContext(ctx, `SELECT `+formColumns+` FROM forms WHERE workspace_id=$1 ORDER BY title`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("list forms: %w", err)
	}
	defer rows.Close()

	items := make([]Form, 0)
	for rows.Next() {
		item, err := scanForm(rows)
		if err != nil {
			return nil, fmt.Errorf("scan form: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate forms: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetForm(ctx context.Context, workspaceID, id string) (Form, error) {
	return scanForm(s.q(ctx).QueryRowContext(ctx, `SELECT `+formColumns+` FROM forms WHERE id=$1 AND workspace_id=$2`, id, workspaceID))
}

func (s *PostgresStore) CreateForm(ctx context.Context, item Form) (Form, error) {
	item.ID = uuid.NewString()
	item.CreatedAt = s.now()
	item.UpdatedAt = item.CreatedAt
	_, err := s.q(ctx).ExecContext(ctx, `
		INSERT INTO forms (id, workspace_id, title, description, fields, category_key, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5::jsonb, $6, $7, $8)
	`, item.ID, item.WorkspaceID, item.Title, item.Description, string(item.Fields), item.CategoryKey, item.CreatedAt, item.UpdatedAt)
	if err != nil {
		return Form{}, fmt.Errorf("insert form: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) UpdateForm(ctx context.Context, item Form) (Form, error) {
	item.UpdatedAt = s.now()
	res, err := s.q(ctx).ExecContext(ctx, `
		UPDATE forms SET title=$3, description=$4, fields=$5::jsonb, category_key=$6, updated_at=$7
		WHERE id=$1 AND workspace_id=$2
	`, item.ID, item.WorkspaceID, item.Title, item.Description, string(item.Fields), item.CategoryKey, item.UpdatedAt)
	if err != nil {
		return Form{}, fmt.Errorf("update form: %w", err)
	}
	if err := affected(res); err != nil {
		return Form{}, err
	}
	return item, nil
}

func (s *PostgresStore) DeleteForm(ctx context.Context, workspaceID, id string) error {
	res, err := s.q(ctx).ExecContext(ctx, `DELETE FROM forms WHERE id=$1 AND workspace_id=$2`, id, workspaceID)
	if err != nil {
		return fmt.Errorf("delete form: %w", err)
	}
	return affected(res)
}

const formSubmissionColumns = `id, form_id, workspace_id, data::text, COALESCE(submitter_id::text, ''), created_at, updated_at`

func scanFormSubmission(row interface{ Scan(...any) error }) (FormSubmission, error) {
	var item FormSubmission
	var data []byte
	err := row.Scan(&item.ID, &item.FormID, &item.WorkspaceID, &data, &item.SubmitterID, &item.CreatedAt, &item.UpdatedAt)
	item.Data = json.RawMessage(data)
	return item, err
}

func (s *PostgresStore) ListFormSubmissions(ctx context.Context, formID string) ([]FormSubmission, error) {
	rows, err := s.q(ctx).QueryContext(ctx, `SELECT `+formSubmissionColumns+` FROM form_submissions WHERE form_id=$1 ORDER BY created_at DESC`, formID)
	if err != nil {
		return nil, fmt.Errorf("list form submissions: %w", err)
	}
	defer rows.Close()

	items := make([]FormSubmission, 0)
	for rows.Next() {
		item, err := scanFormSubmission(rows)
		if err != nil {
			return nil, fmt.Errorf("scan form submission: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate form submissions: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetFormSubmission(ctx context.Context, formID, id string) (FormSubmission, error) {
	return scanFormSubmission(s.q(ctx).QueryRowContext(ctx, `SELECT `+formSubmissionColumns+` FROM form_submissions WHERE id=$1 AND form_id=$2`, id, formID))
}

func (s *PostgresStore) CreateFormSubmission(ctx context.Context, item FormSubmission) (FormSubmission, error) {
	item.ID = uuid.NewString()
	item.CreatedAt = s.now()
	item.UpdatedAt = item.CreatedAt
	_, err := s.q(ctx).ExecContext(ctx, `
		INSERT INTO form_submissions (id, form_id, workspace_id, data, submitter_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4::jsonb, $5, $6, $7)
	`, item.ID, item.FormID, item.WorkspaceID, string(item.Data), nilIfEmpty(item.SubmitterID), item.CreatedAt, item.UpdatedAt)
	if err != nil {
		return FormSubmission{}, fmt.Errorf("insert form submission: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) UpdateFormSubmission(ctx context.Context, item FormSubmission) (FormSubmission, error) {
	item.UpdatedAt = s.now()
	res, err := s.q(ctx).ExecContext(ctx, `UPDATE form_submissions SET data=$3::jsonb, updated_at=$4 WHERE id=$1 AND form_id=$2`,
		item.ID, item.FormID, string(item.Data), item.UpdatedAt)
	if err != nil {
		return FormSubmission{}, fmt.Errorf("update form submission: %w", err)
	}
	if err := affected(res); err != nil {
		return FormSubmission{}, err
	}
	return item, nil
}

func (s *PostgresStore) DeleteFormSubmission(ctx context.Context, formID, id string) error {
	res, err := s.q(ctx).ExecContext(ctx, `DELETE FROM form_submissions WHERE id=$1 AND form_id=$2`, id, formID)
	if err != nil {
		return fmt.Errorf("delete form submission: %w", err)
	}
	return affected(res)
}
