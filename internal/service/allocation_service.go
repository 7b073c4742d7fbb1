package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/hostel-allocation-api/internal/dto"
	"github.com/noah-isme/hostel-allocation-api/internal/models"
	"github.com/noah-isme/hostel-allocation-api/internal/repository"
	appErrors "github.com/noah-isme/hostel-allocation-api/pkg/errors"
	"github.com/noah-isme/hostel-allocation-api/pkg/logger"
	"github.com/noah-isme/hostel-allocation-api/pkg/middleware/requestid"
)

const releaseTimeout = 5 * time.Second

type allocationStore interface {
	Begin(ctx context.Context) (repository.AllocationTx, error)
}

type applicationStore interface {
	FindByID(ctx context.Context, id string) (*models.Application, error)
	Claim(ctx context.Context, id string, from models.ApplicationStatus) (bool, error)
	Release(ctx context.Context, id string, to models.ApplicationStatus) error
}

type auditLogger interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

type allocationNotifier interface {
	NotifyAllocated(ctx context.Context, to Recipient, details AllocationDetails)
}

type allocationOutcome string

const (
	outcomeAllocated      allocationOutcome = "allocated"
	outcomeNoCandidate    allocationOutcome = "no_candidate"
	outcomeLockContention allocationOutcome = "lock_contention"
	outcomeError          allocationOutcome = "error"
)

// AllocationServiceConfig bounds a single allocation attempt.
type AllocationServiceConfig struct {
	CandidateLimit int
	TxTimeout      time.Duration
}

// AllocationService binds one application to one free bed inside a single
// transaction, skipping beds that a concurrent allocator holds.
type AllocationService struct {
	store        allocationStore
	applications applicationStore
	audit        auditLogger
	notifier     allocationNotifier
	metrics      *MetricsService
	validator    *validator.Validate
	logger       *zap.Logger
	cfg          AllocationServiceConfig
}

// NewAllocationService constructs the allocator.
func NewAllocationService(store allocationStore, applications applicationStore, audit auditLogger, notifier allocationNotifier, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger, cfg AllocationServiceConfig) *AllocationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if cfg.CandidateLimit <= 0 {
		cfg.CandidateLimit = 10
	}
	if cfg.TxTimeout <= 0 {
		cfg.TxTimeout = 10 * time.Second
	}
	return &AllocationService{
		store:        store,
		applications: applications,
		audit:        audit,
		notifier:     notifier,
		metrics:      metrics,
		validator:    validate,
		logger:       logger,
		cfg:          cfg,
	}
}

// Allocate tries to give the application a bed from its candidate list. The
// caller must already hold the IN_PROGRESS claim. It returns false when no
// bed was free or every candidate was locked, and an error only when the
// transaction itself failed.
func (s *AllocationService) Allocate(ctx context.Context, app *models.Application, actorID string) (bool, error) {
	_, outcome, err := s.allocate(ctx, app, actorID, models.AllocationModeAutomated, nil)
	if err != nil {
		return false, err
	}
	return outcome == outcomeAllocated, nil
}

// AssignBed allocates a specific bed to an application on behalf of an
// administrator. The same claim, lock and audit rules as batch allocation apply.
func (s *AllocationService) AssignBed(ctx context.Context, applicationID string, req dto.AssignBedRequest, actorID string) (*models.Allocation, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid assignment payload")
	}
	app, err := s.applications.FindByID(ctx, applicationID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "application not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load application")
	}
	if !app.Status.Allocatable() {
		return nil, appErrors.ErrNotAllocatable
	}

	prior := app.Status
	claimed, err := s.applications.Claim(ctx, app.ID, prior)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to claim application")
	}
	if !claimed {
		return nil, appErrors.Clone(appErrors.ErrNotAllocatable, "application is being processed")
	}
	app.Status = models.ApplicationStatusInProgress

	allocation, outcome, err := s.allocate(ctx, app, actorID, models.AllocationModeManual, []string{req.BedID})
	if err != nil || outcome != outcomeAllocated {
		s.release(ctx, app.ID, prior)
		if err != nil {
			return nil, err
		}
		return nil, appErrors.ErrBedUnavailable
	}
	return allocation, nil
}

// allocate runs the transaction and, once it has committed, the best-effort
// audit and notification. A non-nil bedIDs replaces candidate selection.
func (s *AllocationService) allocate(ctx context.Context, app *models.Application, actorID string, mode models.AllocationMode, bedIDs []string) (*models.Allocation, allocationOutcome, error) {
	start := time.Now()
	txCtx, cancel := context.WithTimeout(ctx, s.cfg.TxTimeout)
	defer cancel()

	allocation, bed, outcome, err := s.allocateTx(txCtx, app, actorID, bedIDs)
	if err != nil {
		outcome = outcomeError
	}
	s.metrics.ObserveAllocation(mode, string(outcome), time.Since(start))

	log := logger.WithRequest(ctx, s.logger).With(
		zap.String("application_id", app.ID),
		zap.String("mode", string(mode)),
	)
	if err != nil {
		log.Error("allocation transaction failed", zap.Error(err))
		return nil, outcome, appErrors.Wrap(err, appErrors.ErrTransaction.Code, appErrors.ErrTransaction.Status, appErrors.ErrTransaction.Message)
	}
	if outcome != outcomeAllocated {
		log.Debug("application not allocated", zap.String("outcome", string(outcome)))
		return nil, outcome, nil
	}

	log.Info("application allocated",
		zap.String("allocation_id", allocation.ID),
		zap.String("bed_id", allocation.BedID),
		zap.String("room_id", allocation.RoomID),
	)
	s.recordAllocation(ctx, allocation, mode)
	if s.notifier != nil {
		s.notifier.NotifyAllocated(ctx, Recipient{Email: app.StudentEmail, Name: app.StudentName}, AllocationDetails{
			ApplicationID: app.ID,
			HostelID:      bed.HostelID,
			RoomNumber:    bed.RoomNumber,
			BedNumber:     bed.BedNumber,
		})
	}
	return allocation, outcome, nil
}

func (s *AllocationService) allocateTx(ctx context.Context, app *models.Application, actorID string, bedIDs []string) (*models.Allocation, *models.Bed, allocationOutcome, error) {
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return nil, nil, outcomeError, err
	}
	committed := false
	defer func() {
		if committed {
			return
		}
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Warn("failed to roll back allocation", zap.String("application_id", app.ID), zap.Error(rbErr))
		}
	}()

	candidates := bedIDs
	if candidates == nil {
		beds, err := tx.ListCandidateBeds(ctx, app.Preferences, s.cfg.CandidateLimit)
		if err != nil {
			return nil, nil, outcomeError, err
		}
		candidates = make([]string, 0, len(beds))
		for _, bed := range beds {
			candidates = append(candidates, bed.ID)
		}
	}
	if len(candidates) == 0 {
		return nil, nil, outcomeNoCandidate, nil
	}

	var locked *models.Bed
	for _, bedID := range candidates {
		bed, ok, err := tx.LockBed(ctx, bedID)
		if err != nil {
			return nil, nil, outcomeError, err
		}
		if !ok {
			s.metrics.RecordLockSkip()
			continue
		}
		locked = bed
		break
	}
	if locked == nil {
		return nil, nil, outcomeLockContention, nil
	}

	if err := tx.AssignOccupant(ctx, locked.ID, app.StudentID); err != nil {
		return nil, nil, outcomeError, err
	}
	if err := tx.MarkAllocated(ctx, app.ID); err != nil {
		return nil, nil, outcomeError, err
	}
	if err := tx.DeleteWaitlistEntry(ctx, app.ID); err != nil {
		return nil, nil, outcomeError, err
	}
	allocation := &models.Allocation{
		ApplicationID: app.ID,
		StudentID:     app.StudentID,
		RoomID:        locked.RoomID,
		BedID:         locked.ID,
		AllocatedBy:   actorID,
	}
	if err := tx.CreateAllocation(ctx, allocation); err != nil {
		return nil, nil, outcomeError, err
	}
	if err := tx.Commit(); err != nil {
		return nil, nil, outcomeError, err
	}
	committed = true
	app.Status = models.ApplicationStatusAllocated
	return allocation, locked, outcomeAllocated, nil
}

func (s *AllocationService) recordAllocation(ctx context.Context, allocation *models.Allocation, mode models.AllocationMode) {
	details, err := json.Marshal(map[string]interface{}{
		"applicationId": allocation.ApplicationID,
		"studentId":     allocation.StudentID,
		"bedId":         allocation.BedID,
		"roomId":        allocation.RoomID,
		"mode":          mode,
		"automated":     mode == models.AllocationModeAutomated,
		"requestId":     requestid.FromContext(ctx),
	})
	if err != nil {
		s.logger.Warn("failed to encode allocation audit details", zap.Error(err))
		return
	}
	actor := allocation.AllocatedBy
	emitAudit(ctx, s.audit, s.logger, &models.AuditLog{
		UserID:     &actor,
		Action:     models.AuditActionAllocationCreate,
		Resource:   models.AuditResourceAllocation,
		ResourceID: &allocation.ID,
		NewValues:  details,
		UserAgent:  "allocation-service",
	})
}

// release hands a claimed application back. It survives cancellation of the
// caller's context so a timed-out attempt never leaves the claim behind.
func (s *AllocationService) release(ctx context.Context, applicationID string, to models.ApplicationStatus) {
	releaseClaim(ctx, s.applications, s.logger, applicationID, to)
}

type claimReleaser interface {
	Release(ctx context.Context, id string, to models.ApplicationStatus) error
}

func releaseClaim(ctx context.Context, store claimReleaser, log *zap.Logger, applicationID string, to models.ApplicationStatus) {
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()
	if err := store.Release(releaseCtx, applicationID, to); err != nil {
		log.Error("failed to release application claim",
			zap.String("application_id", applicationID),
			zap.String("status", string(to)),
			zap.Error(err),
		)
	}
}

// emitAudit writes the record outside any allocation transaction. Failures
// are logged and never reach the caller.
func emitAudit(ctx context.Context, audit auditLogger, log *zap.Logger, entry *models.AuditLog) {
	if audit == nil || entry == nil {
		return
	}
	entry.IPAddress = "system"
	if entry.UserAgent == "" {
		entry.UserAgent = "allocation-engine"
	}
	auditCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()
	if err := audit.CreateAuditLog(auditCtx, entry); err != nil {
		log.Warn("failed to persist audit log", zap.String("action", entry.Action), zap.Error(err))
	}
}
