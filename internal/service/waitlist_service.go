package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/noah-isme/hostel-allocation-api/internal/dto"
	"github.com/noah-isme/hostel-allocation-api/internal/models"
	appErrors "github.com/noah-isme/hostel-allocation-api/pkg/errors"
	"github.com/noah-isme/hostel-allocation-api/pkg/logger"
)

type waitlistStore interface {
	FindByApplication(ctx context.Context, applicationID string) (*models.WaitlistEntry, error)
	MaxRank(ctx context.Context, scope models.WaitlistScope) (int, error)
	Save(ctx context.Context, entry *models.WaitlistEntry) error
	ListByScope(ctx context.Context, scope models.WaitlistScope, limit, offset int) ([]models.WaitlistEntry, int, error)
}

type waitlistNotifier interface {
	NotifyWaitlisted(ctx context.Context, to Recipient, rank int)
}

// WaitlistPlacement reports what AddToWaitlist did to the entry.
type WaitlistPlacement struct {
	Entry    *models.WaitlistEntry
	Created  bool
	Reranked bool
}

// Retained reports whether the application kept its existing rank.
func (p *WaitlistPlacement) Retained() bool {
	return p != nil && !p.Created && !p.Reranked
}

// WaitlistService ranks applications that could not be allocated.
type WaitlistService struct {
	repo     waitlistStore
	audit    auditLogger
	notifier waitlistNotifier
	logger   *zap.Logger
}

// NewWaitlistService constructs the waitlist manager.
func NewWaitlistService(repo waitlistStore, audit auditLogger, notifier waitlistNotifier, logger *zap.Logger) *WaitlistService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WaitlistService{repo: repo, audit: audit, notifier: notifier, logger: logger}
}

// AddToWaitlist upserts the application's entry and marks it WAITLISTED.
// Ranks are max+1 within the bucket of the first preferred hostel. An entry
// already in the same bucket keeps its rank.
//
// Rank assignment is read-then-write; concurrent inserts into one bucket may
// produce equal ranks.
func (s *WaitlistService) AddToWaitlist(ctx context.Context, app *models.Application) (*WaitlistPlacement, error) {
	scope := models.ScopeFor(app.Preferences)

	existing, err := s.repo.FindByApplication(ctx, app.ID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load waitlist entry")
	}

	placement := &WaitlistPlacement{}
	entry := &models.WaitlistEntry{
		ApplicationID: app.ID,
		HostelID:      optionalString(scope.HostelID),
		RoomType:      optionalString(app.Preferences.RoomType),
	}
	switch {
	case existing != nil && scope.Matches(existing):
		entry.ID = existing.ID
		entry.Rank = existing.Rank
		entry.CreatedAt = existing.CreatedAt
	default:
		maxRank, err := s.repo.MaxRank(ctx, scope)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to compute waitlist rank")
		}
		entry.Rank = maxRank + 1
		if existing != nil {
			entry.ID = existing.ID
			entry.CreatedAt = existing.CreatedAt
			placement.Reranked = true
		} else {
			placement.Created = true
		}
	}

	if err := s.repo.Save(ctx, entry); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to save waitlist entry")
	}
	app.Status = models.ApplicationStatusWaitlisted
	placement.Entry = entry

	if placement.Retained() {
		return placement, nil
	}

	logger.WithRequest(ctx, s.logger).Info("application waitlisted",
		zap.String("application_id", app.ID),
		zap.String("hostel_id", scope.HostelID),
		zap.Int("rank", entry.Rank),
		zap.Bool("reranked", placement.Reranked),
	)
	if details, err := json.Marshal(entry); err == nil {
		student := app.StudentID
		emitAudit(ctx, s.audit, s.logger, &models.AuditLog{
			UserID:     &student,
			Action:     models.AuditActionWaitlistUpsert,
			Resource:   models.AuditResourceWaitlist,
			ResourceID: &entry.ID,
			NewValues:  details,
			UserAgent:  "waitlist-service",
		})
	}
	if s.notifier != nil {
		s.notifier.NotifyWaitlisted(ctx, Recipient{Email: app.StudentEmail, Name: app.StudentName}, entry.Rank)
	}
	return placement, nil
}

// List returns one waitlist bucket ordered by rank.
func (s *WaitlistService) List(ctx context.Context, query dto.WaitlistQuery) ([]models.WaitlistEntry, *models.Pagination, error) {
	page := query.Page
	if page <= 0 {
		page = 1
	}
	size := query.PageSize
	if size <= 0 || size > 200 {
		size = 50
	}
	scope := models.WaitlistScope{HostelID: strings.TrimSpace(query.HostelID)}
	entries, total, err := s.repo.ListByScope(ctx, scope, size, (page-1)*size)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list waitlist")
	}
	if entries == nil {
		entries = []models.WaitlistEntry{}
	}
	return entries, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

func optionalString(value string) *string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	v := strings.TrimSpace(value)
	return &v
}
