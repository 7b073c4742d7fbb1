package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/hostel-allocation-api/internal/models"
)

const applicationColumns = `a.id, a.student_id, a.preferences, a.priority_category, a.status, a.submitted_at, a.updated_at,
       u.email AS student_email, u.full_name AS student_name`

// ApplicationRepository reads hostel applications and moves them through the
// allocation status machine.
type ApplicationRepository struct {
	db *sqlx.DB
}

// NewApplicationRepository constructs the repository.
func NewApplicationRepository(db *sqlx.DB) *ApplicationRepository {
	return &ApplicationRepository{db: db}
}

// ListAllocatable returns PENDING and WAITLISTED applications, priority
// holders first and then oldest submission first.
func (r *ApplicationRepository) ListAllocatable(ctx context.Context) ([]models.Application, error) {
	query := fmt.Sprintf(`SELECT %s
	FROM applications a
	JOIN users u ON u.id = a.student_id
	WHERE a.status IN ($1, $2)
	ORDER BY (NULLIF(a.priority_category, '') IS NULL) ASC, a.submitted_at ASC, a.id ASC`, applicationColumns)
	var apps []models.Application
	if err := r.db.SelectContext(ctx, &apps, query, models.ApplicationStatusPending, models.ApplicationStatusWaitlisted); err != nil {
		return nil, fmt.Errorf("list allocatable applications: %w", err)
	}
	return apps, nil
}

// FindByID fetches an application with the requester's contact details.
func (r *ApplicationRepository) FindByID(ctx context.Context, id string) (*models.Application, error) {
	query := fmt.Sprintf(`SELECT %s
	FROM applications a
	JOIN users u ON u.id = a.student_id
	WHERE a.id = $1`, applicationColumns)
	var app models.Application
	if err := r.db.GetContext(ctx, &app, query, id); err != nil {
		return nil, err
	}
	return &app, nil
}

// Claim atomically moves an application from the expected status to
// IN_PROGRESS. It reports false when another worker got there first.
func (r *ApplicationRepository) Claim(ctx context.Context, id string, from models.ApplicationStatus) (bool, error) {
	const query = `UPDATE applications SET status = $1, updated_at = $2 WHERE id = $3 AND status = $4`
	result, err := r.db.ExecContext(ctx, query, models.ApplicationStatusInProgress, time.Now().UTC(), id, from)
	if err != nil {
		return false, fmt.Errorf("claim application: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("check application claim rows: %w", err)
	}
	return rows == 1, nil
}

// Release hands an IN_PROGRESS application back with the given status. It is
// a no-op when the application already left IN_PROGRESS.
func (r *ApplicationRepository) Release(ctx context.Context, id string, to models.ApplicationStatus) error {
	const query = `UPDATE applications SET status = $1, updated_at = $2 WHERE id = $3 AND status = $4`
	if _, err := r.db.ExecContext(ctx, query, to, time.Now().UTC(), id, models.ApplicationStatusInProgress); err != nil {
		return fmt.Errorf("release application: %w", err)
	}
	return nil
}
