package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const choreColumns = `id, workspace_id, title, description, category_key, recurrence, schedule, created_at`

func scanChore(row interface{ Scan(...any) error }) (Chore, error) {
	var item Chore
	err := row.Scan(&item.ID, &item.WorkspaceID, &item.Title, &item.Description, &item.CategoryKey, &item.Recurrence, &item.Schedule, &item.CreatedAt)
	return item, err
}

func (s *PostgresStore) ListChores(ctx context.Context, workspaceID string) ([]Chore, error) {
	rows, err := s.q(ctx).QueryContext(ctx, `SELECT `+choreColumns+` FROM chores WHERE workspace_id=$1 ORDER BY title`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("list chores: %w", err)
	}
	defer rows.Close()

	items := make([]Chore, 0)
	for rows.Next() {
		item, err := scanChore(rows)
		if err != nil {
			return nil, fmt.Errorf("scan chore: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chores: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetChore(ctx context.Context, id string) (Chore, error) {
	return scanChore(s.q(ctx).QueryRowContext(ctx, `SELECT `+choreColumns+` FROM chores WHERE id=$1`, id))
}

func (s *PostgresStore) CreateChore(ctx context.Context, item Chore) (Chore, error) {
	item.ID = uuid.NewString()
	item.CreatedAt = s.now()
	_, err := s.q(ctx).ExecContext(ctx, `
		INSERT INTO chores (id, workspace_id, title, description, category_key, recurrence, schedule, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, item.ID, item.WorkspaceID, item.Title, item.Description, item.CategoryKey, item.Recurrence, item.Schedule, item.CreatedAt)
	if err != nil {
		return Chore{}, fmt.Errorf("insert chore: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) UpdateChore(ctx context.Context, item Chore) error {
	res, err := s.q(ctx).ExecContext(ctx, `
		UPDATE chores SET title=$3, description=$4, category_key=$5, recurrence=$6, schedule=$7
		WHERE id=$1 AND workspace_id=$2
	`, item.ID, item.WorkspaceID, item.Title, item.Description, item.CategoryKey, item.Recurrence, item.Schedule)
	if err != nil {
		return fmt.Errorf("update chore: %w", err)
	}
	return affected(res)
}

func (s *PostgresStore) DeleteChore(ctx context.Context, workspaceID, id string) error {
	res, err := s.q(ctx).ExecContext(ctx, `DELETE FROM chores WHERE id=$1 AND workspace_id=$2`, id, workspaceID)
	if err != nil {
		return fmt.Errorf("delete chore: %w", err)
	}
	return affected(res)
}

func (s *PostgresStore) ListResponsibles(ctx context.Context, choreID string) ([]ChoreResponsible, error) {
	rows, err := s.q(ctx).QueryContext(ctx, `SELECT id, chore_id, user_id FROM chore_responsibles WHERE chore_id=$1 ORDER BY user_id`, choreID)
	if err != nil {
		return nil, fmt.Errorf("list responsibles: %w", err)
	}
	defer rows.Close()

	items := make([]ChoreResponsible, 0)
	for rows.Next() {
		var item ChoreResponsible
		if err := rows.Scan(&item.ID, &item.ChoreID, &item.UserID); err != nil {
			return nil, fmt.Errorf("scan responsible: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate responsibles: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) AddResponsible(ctx context.Context, choreID, userID string) (ChoreResponsible, error) {
	item := ChoreResponsible{ID: uuid.NewString(), ChoreID: choreID, UserID: userID}
	_, err := s.q(ctx).ExecContext(ctx, `INSERT INTO chore_responsibles (id, chore_id, user_id) VALUES ($1, $2, $3)`, item.ID, choreID, userID)
	if err != nil {
		return ChoreResponsible{}, fmt.Errorf("insert responsible: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) RemoveResponsible(ctx context.Context, choreID, id string) error {
	res, err := s.q(ctx).ExecContext(ctx, `DELETE FROM chore_responsibles WHERE id=$1 AND chore_id=$2`, id, choreID)
	if err != nil {
		return fmt.Errorf("delete responsible: %w", err)
	}
	return affected(res)
}

// ListChoreSchedules returns every chore of a workspace with its responsible
// users. Chores without responsibles are included with an empty list.
func (s *PostgresStore) ListChoreSchedules(ctx context.Context, workspaceID string) ([]ChoreSchedule, error) {
	rows, err := s.q(ctx).QueryContext(ctx, `
		SELECT c.id, c.workspace_id, c.schedule, COALESCE(r.user_id::text, '')
		FROM chores c
		LEFT JOIN chore_responsibles r ON r.chore_id = c.id
		WHERE c.workspace_id = $1
		ORDER BY c.id, r.user_id
	`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("list chore schedules: %w", err)
	}
	defer rows.Close()

	items := make([]ChoreSchedule, 0)
	for rows.Next() {
		var choreID, wsID, schedule, userID string
		if err := rows.Scan(&choreID, &wsID, &schedule, &userID); err != nil {
			return nil, fmt.Errorf("scan chore schedule: %w", err)
		}
		if n := len(items); n == 0 || items[n-1].ChoreID != choreID {
			items = append(items, ChoreSchedule{ChoreID: choreID, WorkspaceID: wsID, Schedule: schedule, UserIDs: []string{}})
		}
		if userID != "" {
			last := &items[len(items)-1]
			last.UserIDs = append(last.UserIDs, userID)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chore schedules: %w", err)
	}
	return items, nil
}

const assignmentColumns = `id, workspace_id, chore_id, COALESCE(user_id::text, ''), status, closed, assigned_at`

func scanAssignment(row interface{ Scan(...any) error }) (Assignment, error) {
	var item Assignment
	err := row.Scan(&item.ID, &item.WorkspaceID, &item.ChoreID, &item.UserID, &item.Status, &item.Closed, &item.AssignedAt)
	return item, err
}

func (s *PostgresStore) ListAssignments(ctx context.Context, filter AssignmentFilter) ([]Assignment, error) {
	rows, err := s.q(ctx).QueryContext(ctx, `
		SELECT `+assignmentColumns+`
		FROM chore_assignments
		WHERE workspace_id = $1
			AND ($2 = '' OR chore_id::text = $2)
			AND ($3 = '' OR user_id::text = $3)
			AND (NOT $4 OR NOT closed)
		ORDER BY assigned_at DESC
	`, filter.WorkspaceID, filter.ChoreID, filter.UserID, filter.OpenOnly)
	if err != nil {
		return nil, fmt.Errorf("list assignments: %w", err)
	}
	defer rows.Close()

	items := make([]Assignment, 0)
	for rows.Next() {
		item, err := scanAssignment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan assignment: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate assignments: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetAssignment(ctx context.Context, id string) (Assignment, error) {
	return scanAssignment(s.q(ctx).QueryRowContext(ctx, `SELECT `+assignmentColumns+` FROM chore_assignments WHERE id=$1`, id))
}

// CreateAssignment inserts a pending, open assignment. A preset ID makes the
// insert idempotent: a second insert with the same id is a no-op and reports
// created=false.
func (s *PostgresStore) CreateAssignment(ctx context.Context, item Assignment) (Assignment, bool, error) {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.AssignedAt.IsZero() {
		item.AssignedAt = s.now()
	}
	item.Status = StatusPending
	item.Closed = false
	res, err := s.q(ctx).ExecContext(ctx, `
		INSERT INTO chore_assignments (id, workspace_id, chore_id, user_id, status, closed, assigned_at)
		SELECT $1, c.workspace_id, c.id, $3, 'pending', false, $4
		FROM chores c
		WHERE c.id = $2
		ON CONFLICT (id) DO NOTHING
	`, item.ID, item.ChoreID, nilIfEmpty(item.UserID), item.AssignedAt)
	if err != nil {
		return Assignment{}, false, fmt.Errorf("insert assignment: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Assignment{}, false, err
	}
	if n == 0 {
		existing, err := s.GetAssignment(ctx, item.ID)
		if err != nil {
			return Assignment{}, false, err
		}
		return existing, false, nil
	}
	stored, err := s.GetAssignment(ctx, item.ID)
	if err != nil {
		return Assignment{}, false, err
	}
	return stored, true, nil
}

// UpdateAssignmentStatus writes status and the derived closed flag in one
// statement.
func (s *PostgresStore) UpdateAssignmentStatus(ctx context.Context, id string, status AssignmentStatus) error {
	res, err := s.q(ctx).ExecContext(ctx, `
		UPDATE chore_assignments
		SET status = $2::text, closed = ($2::text IN ('done', 'cancelled'))
		WHERE id = $1
	`, id, string(status))
	if err != nil {
		return fmt.Errorf("update assignment status: %w", err)
	}
	return affected(res)
}

func (s *PostgresStore) DeleteAssignment(ctx context.Context, workspaceID, id string) error {
	res, err := s.q(ctx).ExecContext(ctx, `DELETE FROM chore_assignments WHERE id=$1 AND workspace_id=$2`, id, workspaceID)
	if err != nil {
		return fmt.Errorf("delete assignment: %w", err)
	}
	return affected(res)
}

func (s *PostgresStore) ListSubmissions(ctx context.Context, assignmentID string) ([]Submission, error) {
	rows, err := s.q(ctx).QueryContext(ctx, `
		SELECT id, assignment_id, COALESCE(user_id::text, ''), status, notes, created_at
		FROM chore_assignment_submissions
		WHERE assignment_id=$1
		ORDER BY created_at
	`, assignmentID)
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	defer rows.Close()

	items := make([]Submission, 0)
	for rows.Next() {
		var item Submission
		if err := rows.Scan(&item.ID, &item.AssignmentID, &item.UserID, &item.Status, &item.Notes, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan submission: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate submissions: %w", err)
	}
	return items, nil
}

// CreateSubmission appends a submission and mirrors its status onto the
// parent assignment in the same transaction.
func (s *PostgresStore) CreateSubmission(ctx context.Context, item Submission) (Submission, error) {
	item.ID = uuid.NewString()
	item.CreatedAt = s.now()
	err := s.InTx(ctx, func(ctx context.Context) error {
		if _, err := s.q(ctx).ExecContext(ctx, `
			INSERT INTO chore_assignment_submissions (id, assignment_id, user_id, status, notes, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, item.ID, item.AssignmentID, nilIfEmpty(item.UserID), string(item.Status), item.Notes, item.CreatedAt); err != nil {
			return fmt.Errorf("insert submission: %w", err)
		}
		return s.UpdateAssignmentStatus(ctx, item.AssignmentID, item.Status)
	})
	if err != nil {
		return Submission{}, err
	}
	return item, nil
}

// AssignmentID derives a stable assignment id from a schedule occurrence so
// that repeated creation of the same occurrence converges on one row.
func AssignmentID(choreID, userID string, at time.Time) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(fmt.Sprintf("assignment:%s:%s:%d", choreID, userID, at.Unix()))).String()
}
