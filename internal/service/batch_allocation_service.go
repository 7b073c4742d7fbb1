package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/hostel-allocation-api/internal/models"
	appErrors "github.com/noah-isme/hostel-allocation-api/pkg/errors"
	"github.com/noah-isme/hostel-allocation-api/pkg/jobs"
	"github.com/noah-isme/hostel-allocation-api/pkg/logger"
	"github.com/noah-isme/hostel-allocation-api/pkg/middleware/requestid"
)

// JobTypeAllocationRun is the queue job type of a batch run.
const JobTypeAllocationRun = "allocation.run"

const latestRunCacheKey = "allocation:runs:latest"

type allocatableStore interface {
	ListAllocatable(ctx context.Context) ([]models.Application, error)
	Claim(ctx context.Context, id string, from models.ApplicationStatus) (bool, error)
	Release(ctx context.Context, id string, to models.ApplicationStatus) error
}

type singleAllocator interface {
	Allocate(ctx context.Context, app *models.Application, actorID string) (bool, error)
}

type waitlister interface {
	AddToWaitlist(ctx context.Context, app *models.Application) (*WaitlistPlacement, error)
}

type runStatsCache interface {
	Get(ctx context.Context, key string, dest interface{}) (bool, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

type runResult int

const (
	resultAllocated runResult = iota
	resultWaitlisted
	resultRetained
	resultSkipped
	resultError
)

// BatchAllocationConfig configures batch runs.
type BatchAllocationConfig struct {
	SystemActor string
	StatsTTL    time.Duration
}

// BatchAllocationService drives the allocator over every PENDING and
// WAITLISTED application, priority holders first and then oldest first.
// One application failing never stops the run.
type BatchAllocationService struct {
	applications allocatableStore
	allocator    singleAllocator
	waitlist     waitlister
	audit        auditLogger
	cache        runStatsCache
	queue        jobDispatcher
	metrics      *MetricsService
	logger       *zap.Logger
	cfg          BatchAllocationConfig

	latest atomic.Pointer[models.AllocationRunStats]
}

// NewBatchAllocationService constructs the batch runner.
func NewBatchAllocationService(applications allocatableStore, allocator singleAllocator, waitlist waitlister, audit auditLogger, cache runStatsCache, metrics *MetricsService, logger *zap.Logger, cfg BatchAllocationConfig) *BatchAllocationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.SystemActor == "" {
		cfg.SystemActor = "system"
	}
	if cfg.StatsTTL <= 0 {
		cfg.StatsTTL = 24 * time.Hour
	}
	return &BatchAllocationService{
		applications: applications,
		allocator:    allocator,
		waitlist:     waitlist,
		audit:        audit,
		cache:        cache,
		metrics:      metrics,
		logger:       logger,
		cfg:          cfg,
	}
}

// SetQueue attaches the dispatcher used by Trigger.
func (s *BatchAllocationService) SetQueue(queue jobDispatcher) {
	s.queue = queue
}

// SystemActor returns the identity used for scheduled runs.
func (s *BatchAllocationService) SystemActor() string {
	return s.cfg.SystemActor
}

// Run executes one batch run synchronously.
func (s *BatchAllocationService) Run(ctx context.Context, actorID string) (*models.AllocationRunStats, error) {
	runID := requestid.FromContext(ctx)
	if runID == "" {
		runID = uuid.NewString()
	}
	return s.run(ctx, runID, actorID)
}

// RunScheduled runs with the system actor; used by the recurring trigger.
func (s *BatchAllocationService) RunScheduled(ctx context.Context) error {
	_, err := s.Run(requestid.WithContext(ctx, uuid.NewString()), s.cfg.SystemActor)
	return err
}

// Trigger queues a run and returns its id.
func (s *BatchAllocationService) Trigger(actorID string) (string, error) {
	if s.queue == nil {
		return "", appErrors.ErrQueueUnavailable
	}
	runID := uuid.NewString()
	if err := s.queue.Enqueue(jobs.Job{ID: runID, Type: JobTypeAllocationRun, Payload: actorID}); err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrQueueUnavailable.Code, appErrors.ErrQueueUnavailable.Status, appErrors.ErrQueueUnavailable.Message)
	}
	return runID, nil
}

// Handle processes a queued run job.
func (s *BatchAllocationService) Handle(ctx context.Context, job jobs.Job) error {
	actorID, _ := job.Payload.(string)
	if actorID == "" {
		actorID = s.cfg.SystemActor
	}
	_, err := s.run(ctx, job.ID, actorID)
	return err
}

// LatestRun returns the statistics of the most recent finished run.
func (s *BatchAllocationService) LatestRun(ctx context.Context) (*models.AllocationRunStats, error) {
	if s.cache != nil {
		var stats models.AllocationRunStats
		hit, err := s.cache.Get(ctx, latestRunCacheKey, &stats)
		if err != nil {
			s.logger.Warn("failed to read run stats cache", zap.Error(err))
		} else if hit {
			return &stats, nil
		}
	}
	if stats := s.latest.Load(); stats != nil {
		clone := *stats
		return &clone, nil
	}
	return nil, appErrors.Clone(appErrors.ErrNotFound, "no allocation run recorded")
}

func (s *BatchAllocationService) run(ctx context.Context, runID, actorID string) (*models.AllocationRunStats, error) {
	ctx = requestid.WithContext(ctx, runID)
	log := logger.WithRequest(ctx, s.logger).With(zap.String("run_id", runID))

	stats := models.AllocationRunStats{RunID: runID, Actor: actorID, StartedAt: time.Now().UTC()}
	apps, err := s.applications.ListAllocatable(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list applications")
	}
	sortForAllocation(apps)

	for i := range apps {
		if ctx.Err() != nil {
			log.Warn("allocation run cancelled", zap.Int("remaining", len(apps)-i), zap.Error(ctx.Err()))
			break
		}
		app := &apps[i]
		result, err := s.process(ctx, app, actorID)
		switch result {
		case resultAllocated:
			stats.Allocated++
		case resultWaitlisted:
			stats.Waitlisted++
		case resultRetained:
			stats.Retained++
		case resultSkipped:
			stats.Skipped++
		case resultError:
			stats.Errors++
			log.Error("failed to process application", zap.String("application_id", app.ID), zap.Error(err))
		}
	}
	stats.FinishedAt = time.Now().UTC()

	s.finish(ctx, stats)
	log.Info("allocation run finished",
		zap.String("actor", actorID),
		zap.Int("processed", stats.Processed()),
		zap.Int("allocated", stats.Allocated),
		zap.Int("waitlisted", stats.Waitlisted),
		zap.Int("retained", stats.Retained),
		zap.Int("skipped", stats.Skipped),
		zap.Int("errors", stats.Errors),
		zap.Duration("duration", stats.FinishedAt.Sub(stats.StartedAt)),
	)
	return &stats, nil
}

// process claims one application and routes it to a bed or the waitlist. On
// error the claim is released back to the status the application had.
func (s *BatchAllocationService) process(ctx context.Context, app *models.Application, actorID string) (result runResult, err error) {
	prior := app.Status
	claimed, err := s.applications.Claim(ctx, app.ID, prior)
	if err != nil {
		return resultError, err
	}
	if !claimed {
		return resultSkipped, nil
	}
	app.Status = models.ApplicationStatusInProgress

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while allocating: %v", r)
			result = resultError
		}
		if err != nil {
			releaseClaim(ctx, s.applications, s.logger, app.ID, prior)
			app.Status = prior
		}
	}()

	allocated, err := s.allocator.Allocate(ctx, app, actorID)
	if err != nil {
		return resultError, err
	}
	if allocated {
		return resultAllocated, nil
	}

	placement, err := s.waitlist.AddToWaitlist(ctx, app)
	if err != nil {
		return resultError, err
	}
	if placement.Retained() {
		return resultRetained, nil
	}
	return resultWaitlisted, nil
}

func (s *BatchAllocationService) finish(ctx context.Context, stats models.AllocationRunStats) {
	s.latest.Store(&stats)
	s.metrics.ObserveRun(stats)

	if s.cache != nil {
		if err := s.cache.Set(context.WithoutCancel(ctx), latestRunCacheKey, stats, s.cfg.StatsTTL); err != nil {
			s.logger.Warn("failed to cache run stats", zap.String("run_id", stats.RunID), zap.Error(err))
		}
	}

	details, err := json.Marshal(stats)
	if err != nil {
		s.logger.Warn("failed to encode run audit details", zap.Error(err))
		return
	}
	actor := stats.Actor
	runID := stats.RunID
	emitAudit(ctx, s.audit, s.logger, &models.AuditLog{
		UserID:     &actor,
		Action:     models.AuditActionAllocationRun,
		Resource:   models.AuditResourceAllocationRun,
		ResourceID: &runID,
		NewValues:  details,
		UserAgent:  "allocation-runner",
	})
}

// sortForAllocation orders priority holders first, then by submission time,
// then by id.
func sortForAllocation(apps []models.Application) {
	sort.SliceStable(apps, func(i, j int) bool {
		pi, pj := apps[i].HasPriority(), apps[j].HasPriority()
		if pi != pj {
			return pi
		}
		if !apps[i].SubmittedAt.Equal(apps[j].SubmittedAt) {
			return apps[i].SubmittedAt.Before(apps[j].SubmittedAt)
		}
		return apps[i].ID < apps[j].ID
	})
}
