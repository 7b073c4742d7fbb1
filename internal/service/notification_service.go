package service

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/noah-isme/hostel-allocation-api/pkg/jobs"
	"github.com/noah-isme/hostel-allocation-api/pkg/mailer"
)

// Notification kinds double as job types on the notification queue.
const (
	NotificationAllocated  = "allocation.allocated"
	NotificationWaitlisted = "allocation.waitlisted"
)

type jobDispatcher interface {
	Enqueue(job jobs.Job) error
}

// Recipient identifies the student to notify.
type Recipient struct {
	Email string
	Name  string
}

// AllocationDetails describes the bed a student received.
type AllocationDetails struct {
	ApplicationID string
	HostelID      string
	RoomNumber    string
	BedNumber     int
}

// NotificationService renders allocation notices and hands them to the mail
// transport, through the queue when one is configured.
type NotificationService struct {
	sender  mailer.Sender
	queue   jobDispatcher
	metrics *MetricsService
	logger  *zap.Logger
}

// NewNotificationService constructs the notifier. A nil queue sends inline.
func NewNotificationService(sender mailer.Sender, queue jobDispatcher, metrics *MetricsService, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationService{sender: sender, queue: queue, metrics: metrics, logger: logger}
}

// SetQueue attaches the dispatcher once the queue, whose handler is this
// service, has been constructed.
func (s *NotificationService) SetQueue(queue jobDispatcher) {
	s.queue = queue
}

// NotifyAllocated tells the student which bed they received. Failures are logged only.
func (s *NotificationService) NotifyAllocated(ctx context.Context, to Recipient, details AllocationDetails) {
	var body strings.Builder
	fmt.Fprintf(&body, "Hello %s,\n\n", displayName(to))
	body.WriteString("Your hostel application has been allocated.\n\n")
	if details.HostelID != "" {
		fmt.Fprintf(&body, "Hostel: %s\n", details.HostelID)
	}
	fmt.Fprintf(&body, "Room: %s\n", details.RoomNumber)
	fmt.Fprintf(&body, "Bed: %d\n", details.BedNumber)
	fmt.Fprintf(&body, "Application: %s\n", details.ApplicationID)

	s.dispatch(ctx, NotificationAllocated, mailer.Message{
		To:      to.Email,
		ToName:  to.Name,
		Subject: "Your hostel bed allocation",
		Body:    body.String(),
	})
}

// NotifyWaitlisted tells the student their waitlist position. Failures are logged only.
func (s *NotificationService) NotifyWaitlisted(ctx context.Context, to Recipient, rank int) {
	body := fmt.Sprintf("Hello %s,\n\nNo bed matching your preferences is free right now. "+
		"Your application has been placed on the waitlist at position %d.\n", displayName(to), rank)

	s.dispatch(ctx, NotificationWaitlisted, mailer.Message{
		To:      to.Email,
		ToName:  to.Name,
		Subject: "Your hostel application is waitlisted",
		Body:    body,
	})
}

// Handle processes a queued notification job.
func (s *NotificationService) Handle(ctx context.Context, job jobs.Job) error {
	msg, ok := job.Payload.(mailer.Message)
	if !ok {
		s.logger.Error("invalid notification payload", zap.String("job_id", job.ID), zap.String("type", job.Type))
		return nil
	}
	err := s.send(ctx, job.Type, msg)
	if err != nil {
		s.logger.Warn("notification delivery failed",
			zap.String("job_id", job.ID),
			zap.String("type", job.Type),
			zap.Int("attempt", job.Attempt),
			zap.Error(err),
		)
	}
	return err
}

func (s *NotificationService) dispatch(ctx context.Context, kind string, msg mailer.Message) {
	if s == nil || s.sender == nil {
		return
	}
	if strings.TrimSpace(msg.To) == "" {
		s.logger.Debug("notification skipped, recipient has no email", zap.String("type", kind))
		return
	}
	if s.queue != nil {
		if err := s.queue.Enqueue(jobs.Job{Type: kind, Payload: msg}); err != nil {
			s.logger.Warn("failed to enqueue notification", zap.String("type", kind), zap.Error(err))
			s.metrics.RecordNotification(kind, err)
		}
		return
	}
	if err := s.send(ctx, kind, msg); err != nil {
		s.logger.Warn("notification delivery failed", zap.String("type", kind), zap.Error(err))
	}
}

func (s *NotificationService) send(ctx context.Context, kind string, msg mailer.Message) error {
	err := s.sender.Send(ctx, msg)
	s.metrics.RecordNotification(kind, err)
	return err
}

func displayName(to Recipient) string {
	if strings.TrimSpace(to.Name) != "" {
		return to.Name
	}
	return "student"
}
