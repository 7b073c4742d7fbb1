package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/hostel-allocation-api/internal/models"
)

const waitlistColumns = `id, application_id, rank, hostel_id, room_type, created_at, updated_at`

// WaitlistRepository persists ranked waitlist entries.
type WaitlistRepository struct {
	db *sqlx.DB
}

// NewWaitlistRepository constructs the repository.
func NewWaitlistRepository(db *sqlx.DB) *WaitlistRepository {
	return &WaitlistRepository{db: db}
}

// FindByApplication returns the entry for an application or sql.ErrNoRows.
func (r *WaitlistRepository) FindByApplication(ctx context.Context, applicationID string) (*models.WaitlistEntry, error) {
	query := `SELECT ` + waitlistColumns + ` FROM waitlist_entries WHERE application_id = $1`
	var entry models.WaitlistEntry
	if err := r.db.GetContext(ctx, &entry, query, applicationID); err != nil {
		return nil, err
	}
	return &entry, nil
}

// MaxRank returns the highest rank in the bucket, or 0 when it is empty.
func (r *WaitlistRepository) MaxRank(ctx context.Context, scope models.WaitlistScope) (int, error) {
	var (
		rank int
		err  error
	)
	if scope.HostelID == "" {
		err = r.db.GetContext(ctx, &rank, `SELECT COALESCE(MAX(rank), 0) FROM waitlist_entries WHERE hostel_id IS NULL`)
	} else {
		err = r.db.GetContext(ctx, &rank, `SELECT COALESCE(MAX(rank), 0) FROM waitlist_entries WHERE hostel_id = $1`, scope.HostelID)
	}
	if err != nil {
		return 0, fmt.Errorf("max waitlist rank: %w", err)
	}
	return rank, nil
}

// Save upserts the entry keyed by application and marks the application
// WAITLISTED in the same transaction.
func (r *WaitlistRepository) Save(ctx context.Context, entry *models.WaitlistEntry) (err error) {
	now := time.Now().UTC()
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
	entry.UpdatedAt = now

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin waitlist transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	const upsertQuery = `INSERT INTO waitlist_entries (id, application_id, rank, hostel_id, room_type, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	ON CONFLICT (application_id) DO UPDATE
	SET rank = EXCLUDED.rank, hostel_id = EXCLUDED.hostel_id, room_type = EXCLUDED.room_type, updated_at = EXCLUDED.updated_at
	RETURNING id, created_at`
	row := tx.QueryRowxContext(ctx, upsertQuery, entry.ID, entry.ApplicationID, entry.Rank, entry.HostelID, entry.RoomType, entry.CreatedAt, entry.UpdatedAt)
	if err = row.Scan(&entry.ID, &entry.CreatedAt); err != nil {
		return fmt.Errorf("upsert waitlist entry: %w", err)
	}

	const statusQuery = `UPDATE applications SET status = $1, updated_at = $2 WHERE id = $3`
	if _, err = tx.ExecContext(ctx, statusQuery, models.ApplicationStatusWaitlisted, now, entry.ApplicationID); err != nil {
		return fmt.Errorf("mark application waitlisted: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit waitlist entry: %w", err)
	}
	return nil
}

// ListByScope returns one page of a bucket ordered by rank, with the number
// of entries in the whole bucket.
func (r *WaitlistRepository) ListByScope(ctx context.Context, scope models.WaitlistScope, limit, offset int) ([]models.WaitlistEntry, int, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	baseQuery := `FROM waitlist_entries WHERE hostel_id IS NULL`
	args := []interface{}{}
	if scope.HostelID != "" {
		baseQuery = `FROM waitlist_entries WHERE hostel_id = $1`
		args = append(args, scope.HostelID)
	}

	listQuery := fmt.Sprintf("SELECT %s %s ORDER BY rank ASC, created_at ASC LIMIT $%d OFFSET $%d", waitlistColumns, baseQuery, len(args)+1, len(args)+2)
	var entries []models.WaitlistEntry
	if err := r.db.SelectContext(ctx, &entries, listQuery, append(args, limit, offset)...); err != nil {
		return nil, 0, fmt.Errorf("list waitlist entries: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) "+baseQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count waitlist entries: %w", err)
	}
	return entries, total, nil
}
