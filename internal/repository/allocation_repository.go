package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/hostel-allocation-api/internal/models"
)

const bedColumns = `b.id, b.room_id, b.bed_number, b.occupant_id, r.room_number, bl.hostel_id, r.status AS room_status`

// AllocationTx is one allocation unit of work. Row locks taken through it are
// held until Commit or Rollback.
type AllocationTx interface {
	ListCandidateBeds(ctx context.Context, prefs models.ApplicationPreferences, limit int) ([]models.Bed, error)
	LockBed(ctx context.Context, bedID string) (*models.Bed, bool, error)
	AssignOccupant(ctx context.Context, bedID, studentID string) error
	MarkAllocated(ctx context.Context, applicationID string) error
	DeleteWaitlistEntry(ctx context.Context, applicationID string) error
	CreateAllocation(ctx context.Context, allocation *models.Allocation) error
	Commit() error
	Rollback() error
}

// AllocationRepository persists beds and allocation records.
type AllocationRepository struct {
	db *sqlx.DB
}

// NewAllocationRepository constructs the repository.
func NewAllocationRepository(db *sqlx.DB) *AllocationRepository {
	return &AllocationRepository{db: db}
}

// Begin opens a read-committed transaction. Row locks provide the mutual
// exclusion, so a stricter isolation level would only add serialization
// failures.
func (r *AllocationRepository) Begin(ctx context.Context) (AllocationTx, error) {
	tx, err := r.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, fmt.Errorf("begin allocation transaction: %w", err)
	}
	return &allocationTx{tx: tx}, nil
}

// FindByApplication returns the allocation recorded for an application.
func (r *AllocationRepository) FindByApplication(ctx context.Context, applicationID string) (*models.Allocation, error) {
	const query = `SELECT id, application_id, student_id, room_id, bed_id, allocated_by, allocated_at
	FROM allocations WHERE application_id = $1`
	var allocation models.Allocation
	if err := r.db.GetContext(ctx, &allocation, query, applicationID); err != nil {
		return nil, err
	}
	return &allocation, nil
}

type allocationTx struct {
	tx *sqlx.Tx
}

// ListCandidateBeds returns free beds in available rooms, filtered by the
// preferred hostels when any are given, in bed id order.
func (t *allocationTx) ListCandidateBeds(ctx context.Context, prefs models.ApplicationPreferences, limit int) ([]models.Bed, error) {
	if limit <= 0 {
		limit = 10
	}
	builder := strings.Builder{}
	args := make([]interface{}, 0, 3)
	builder.WriteString(`SELECT ` + bedColumns + `
	FROM beds b
	JOIN rooms r ON r.id = b.room_id
	JOIN blocks bl ON bl.id = r.block_id
	WHERE b.occupant_id IS NULL`)
	args = append(args, models.RoomStatusAvailable)
	builder.WriteString(fmt.Sprintf(" AND r.status = $%d", len(args)))
	if len(prefs.HostelIDs) > 0 {
		args = append(args, pq.Array(prefs.HostelIDs))
		builder.WriteString(fmt.Sprintf(" AND bl.hostel_id = ANY($%d)", len(args)))
	}
	args = append(args, limit)
	builder.WriteString(fmt.Sprintf(" ORDER BY b.id ASC LIMIT $%d", len(args)))

	var beds []models.Bed
	if err := t.tx.SelectContext(ctx, &beds, builder.String(), args...); err != nil {
		return nil, fmt.Errorf("list candidate beds: %w", err)
	}
	return beds, nil
}

// LockBed takes the bed row lock without waiting. It reports false when the
// bed is locked by another transaction or is no longer free.
func (t *allocationTx) LockBed(ctx context.Context, bedID string) (*models.Bed, bool, error) {
	const query = `SELECT ` + bedColumns + `
	FROM beds b
	JOIN rooms r ON r.id = b.room_id
	JOIN blocks bl ON bl.id = r.block_id
	WHERE b.id = $1 AND b.occupant_id IS NULL AND r.status = $2
	FOR UPDATE OF b SKIP LOCKED`
	var bed models.Bed
	if err := t.tx.GetContext(ctx, &bed, query, bedID, models.RoomStatusAvailable); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("lock bed: %w", err)
	}
	return &bed, true, nil
}

func (t *allocationTx) AssignOccupant(ctx context.Context, bedID, studentID string) error {
	const query = `UPDATE beds SET occupant_id = $1 WHERE id = $2 AND occupant_id IS NULL`
	result, err := t.tx.ExecContext(ctx, query, studentID, bedID)
	if err != nil {
		return fmt.Errorf("assign bed occupant: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check bed occupant rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (t *allocationTx) MarkAllocated(ctx context.Context, applicationID string) error {
	const query = `UPDATE applications SET status = $1, updated_at = $2 WHERE id = $3`
	result, err := t.tx.ExecContext(ctx, query, models.ApplicationStatusAllocated, time.Now().UTC(), applicationID)
	if err != nil {
		return fmt.Errorf("mark application allocated: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check application rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (t *allocationTx) DeleteWaitlistEntry(ctx context.Context, applicationID string) error {
	const query = `DELETE FROM waitlist_entries WHERE application_id = $1`
	if _, err := t.tx.ExecContext(ctx, query, applicationID); err != nil {
		return fmt.Errorf("delete waitlist entry: %w", err)
	}
	return nil
}

func (t *allocationTx) CreateAllocation(ctx context.Context, allocation *models.Allocation) error {
	if allocation.ID == "" {
		allocation.ID = uuid.NewString()
	}
	if allocation.AllocatedAt.IsZero() {
		allocation.AllocatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO allocations (id, application_id, student_id, room_id, bed_id, allocated_by, allocated_at)
	VALUES (:id, :application_id, :student_id, :room_id, :bed_id, :allocated_by, :allocated_at)`
	if _, err := t.tx.NamedExecContext(ctx, query, allocation); err != nil {
		return fmt.Errorf("create allocation: %w", err)
	}
	return nil
}

func (t *allocationTx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("commit allocation: %w", err)
	}
	return nil
}

func (t *allocationTx) Rollback() error {
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("rollback allocation: %w", err)
	}
	return nil
}
