package repository

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/hostel-allocation-api/internal/models"
)

func TestAuditRepositoryCreateAuditLog(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewAuditRepository(db)

	actor := "system"
	resource := "alloc-1"
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO audit_logs`)).
		WithArgs(sqlmock.AnyArg(), &actor, models.AuditActionAllocationCreate, models.AuditResourceAllocation, &resource,
			sqlmock.AnyArg(), []byte(`{"bedId":"bed-1"}`), "system", "allocation-service", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	log := &models.AuditLog{
		UserID:     &actor,
		Action:     models.AuditActionAllocationCreate,
		Resource:   models.AuditResourceAllocation,
		ResourceID: &resource,
		NewValues:  []byte(`{"bedId":"bed-1"}`),
		IPAddress:  "system",
		UserAgent:  "allocation-service",
	}
	require.NoError(t, repo.CreateAuditLog(context.Background(), log))
	assert.NotEmpty(t, log.ID)
	assert.False(t, log.CreatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}
