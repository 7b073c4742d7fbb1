package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/hostel-allocation-api/internal/dto"
	"github.com/noah-isme/hostel-allocation-api/internal/models"
	appErrors "github.com/noah-isme/hostel-allocation-api/pkg/errors"
)

var baseTime = time.Date(2024, 7, 1, 9, 0, 0, 0, time.UTC)

func newTestAllocationService(store *memoryStore, notifier *recordingNotifier) *AllocationService {
	return NewAllocationService(store, store, store, notifier, nil, nil, zap.NewNop(), AllocationServiceConfig{
		CandidateLimit: 10,
		TxTimeout:      time.Second,
	})
}

func claimed(store *memoryStore, id string) *models.Application {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.apps[id].Status = models.ApplicationStatusInProgress
	clone := *store.apps[id]
	return &clone
}

func TestAllocationServiceAllocatesFirstFreeBed(t *testing.T) {
	store := newMemoryStore()
	occupant := "someone"
	store.addBed("bed-1", "room-1", "hostel-a", 1).OccupantID = &occupant
	store.addBed("bed-2", "room-1", "hostel-a", 2)
	store.addBed("bed-3", "room-2", "hostel-a", 1)
	store.addApp("app-1", nil, baseTime, "hostel-a")
	store.waitlist["app-1"] = models.WaitlistEntry{ID: "wl-old", ApplicationID: "app-1", Rank: 4}
	notifier := &recordingNotifier{}
	svc := newTestAllocationService(store, notifier)

	ok, err := svc.Allocate(context.Background(), claimed(store, "app-1"), "admin-1")
	require.NoError(t, err)
	assert.True(t, ok)

	allocation, found := store.allocation("app-1")
	require.True(t, found)
	assert.Equal(t, "bed-2", allocation.BedID)
	assert.Equal(t, "room-1", allocation.RoomID)
	assert.Equal(t, "student-app-1", allocation.StudentID)
	assert.Equal(t, "admin-1", allocation.AllocatedBy)

	bed := store.bed("bed-2")
	require.NotNil(t, bed.OccupantID)
	assert.Equal(t, "student-app-1", *bed.OccupantID)
	assert.Equal(t, models.ApplicationStatusAllocated, store.app("app-1").Status)
	_, waitlisted := store.entry("app-1")
	assert.False(t, waitlisted)

	require.Len(t, store.audits, 1)
	audit := store.audits[0]
	assert.Equal(t, models.AuditActionAllocationCreate, audit.Action)
	assert.Equal(t, models.AuditResourceAllocation, audit.Resource)
	require.NotNil(t, audit.ResourceID)
	assert.Equal(t, allocation.ID, *audit.ResourceID)
	var details map[string]interface{}
	require.NoError(t, json.Unmarshal(audit.NewValues, &details))
	assert.Equal(t, true, details["automated"])
	assert.Equal(t, "bed-2", details["bedId"])

	require.Len(t, notifier.sent, 1)
	assert.Equal(t, NotificationAllocated, notifier.sent[0].kind)
	assert.Equal(t, "app-1@example.com", notifier.sent[0].to.Email)
	assert.Equal(t, "R-room-1", notifier.sent[0].bed.RoomNumber)
	assert.Equal(t, 2, notifier.sent[0].bed.BedNumber)
}

func TestAllocationServiceNoCandidate(t *testing.T) {
	store := newMemoryStore()
	bed := store.addBed("bed-1", "room-1", "hostel-a", 1)
	bed.RoomStatus = models.RoomStatusMaintenance
	store.addBed("bed-2", "room-2", "hostel-b", 1)
	store.addApp("app-1", nil, baseTime, "hostel-a")
	notifier := &recordingNotifier{}
	svc := newTestAllocationService(store, notifier)

	ok, err := svc.Allocate(context.Background(), claimed(store, "app-1"), "system")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, store.allocations)
	assert.Empty(t, store.audits)
	assert.Empty(t, notifier.sent)
	assert.Equal(t, models.ApplicationStatusInProgress, store.app("app-1").Status)
}

func TestAllocationServiceWithoutHostelPreferenceUsesAnyHostel(t *testing.T) {
	store := newMemoryStore()
	store.addBed("bed-9", "room-9", "hostel-z", 1)
	store.addApp("app-1", nil, baseTime)
	svc := newTestAllocationService(store, &recordingNotifier{})

	ok, err := svc.Allocate(context.Background(), claimed(store, "app-1"), "system")
	require.NoError(t, err)
	assert.True(t, ok)
	allocation, _ := store.allocation("app-1")
	assert.Equal(t, "bed-9", allocation.BedID)
}

func TestAllocationServiceSkipsLockedBed(t *testing.T) {
	store := newMemoryStore()
	store.addBed("bed-1", "room-1", "hostel-a", 1)
	store.addBed("bed-2", "room-1", "hostel-a", 2)
	store.addApp("app-1", nil, baseTime, "hostel-a")
	svc := newTestAllocationService(store, &recordingNotifier{})

	other, err := store.Begin(context.Background())
	require.NoError(t, err)
	_, locked, err := other.LockBed(context.Background(), "bed-1")
	require.NoError(t, err)
	require.True(t, locked)
	defer other.Rollback()

	ok, err := svc.Allocate(context.Background(), claimed(store, "app-1"), "system")
	require.NoError(t, err)
	assert.True(t, ok)
	allocation, _ := store.allocation("app-1")
	assert.Equal(t, "bed-2", allocation.BedID)
}

func TestAllocationServiceAllCandidatesLocked(t *testing.T) {
	store := newMemoryStore()
	store.addBed("bed-1", "room-1", "hostel-a", 1)
	store.addApp("app-1", nil, baseTime, "hostel-a")
	svc := newTestAllocationService(store, &recordingNotifier{})

	other, err := store.Begin(context.Background())
	require.NoError(t, err)
	_, locked, err := other.LockBed(context.Background(), "bed-1")
	require.NoError(t, err)
	require.True(t, locked)
	defer other.Rollback()

	ok, err := svc.Allocate(context.Background(), claimed(store, "app-1"), "system")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, store.bed("bed-1").OccupantID)
}

func TestAllocationServiceTransactionErrorRollsBack(t *testing.T) {
	store := newMemoryStore()
	store.addBed("bed-1", "room-1", "hostel-a", 1)
	store.addApp("app-1", nil, baseTime, "hostel-a")
	store.failCreate["app-1"] = errors.New("unique violation")
	notifier := &recordingNotifier{}
	svc := newTestAllocationService(store, notifier)

	ok, err := svc.Allocate(context.Background(), claimed(store, "app-1"), "system")
	require.Error(t, err)
	assert.False(t, ok)
	assert.True(t, appErrors.Is(err, appErrors.ErrTransaction))

	assert.Nil(t, store.bed("bed-1").OccupantID)
	assert.Empty(t, store.allocations)
	assert.Empty(t, store.locks)
	assert.Empty(t, store.audits)
	assert.Empty(t, notifier.sent)
}

func TestAllocationServiceCommitFailureLeavesNoPartialState(t *testing.T) {
	store := newMemoryStore()
	store.addBed("bed-1", "room-1", "hostel-a", 1)
	store.addApp("app-1", nil, baseTime, "hostel-a")
	store.waitlist["app-1"] = models.WaitlistEntry{ID: "wl-1", ApplicationID: "app-1", Rank: 2}
	// a stale allocation row for bed-1 makes the insert collide at commit
	store.allocations["ghost"] = models.Allocation{ID: "alloc-ghost", ApplicationID: "ghost", BedID: "bed-1"}
	notifier := &recordingNotifier{}
	svc := newTestAllocationService(store, notifier)

	ok, err := svc.Allocate(context.Background(), claimed(store, "app-1"), "system")
	require.Error(t, err)
	assert.False(t, ok)
	assert.True(t, appErrors.Is(err, appErrors.ErrTransaction))

	assert.Nil(t, store.bed("bed-1").OccupantID)
	assert.Equal(t, models.ApplicationStatusInProgress, store.app("app-1").Status)
	_, allocated := store.allocation("app-1")
	assert.False(t, allocated)
	entry, waitlisted := store.entry("app-1")
	require.True(t, waitlisted)
	assert.Equal(t, 2, entry.Rank)
	assert.Empty(t, store.locks)
	assert.Empty(t, store.audits)
	assert.Empty(t, notifier.sent)
}

func TestAllocationServiceCancelledContextIsTransactionError(t *testing.T) {
	store := newMemoryStore()
	store.addBed("bed-1", "room-1", "hostel-a", 1)
	store.addApp("app-1", nil, baseTime, "hostel-a")
	svc := newTestAllocationService(store, &recordingNotifier{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ok, err := svc.Allocate(ctx, claimed(store, "app-1"), "system")
	assert.False(t, ok)
	assert.True(t, appErrors.Is(err, appErrors.ErrTransaction))
}

func TestAllocationServiceAuditFailureKeepsAllocation(t *testing.T) {
	store := newMemoryStore()
	store.addBed("bed-1", "room-1", "hostel-a", 1)
	store.addApp("app-1", nil, baseTime, "hostel-a")
	store.auditErr = errors.New("audit sink down")
	notifier := &recordingNotifier{}
	svc := newTestAllocationService(store, notifier)

	ok, err := svc.Allocate(context.Background(), claimed(store, "app-1"), "system")
	require.NoError(t, err)
	assert.True(t, ok)
	_, found := store.allocation("app-1")
	assert.True(t, found)
	assert.Len(t, notifier.sent, 1)
}

func TestAllocationServiceExclusivityUnderRace(t *testing.T) {
	store := newMemoryStore()
	store.addBed("bed-1", "room-1", "hostel-a", 1)
	store.addApp("app-1", nil, baseTime, "hostel-a")
	store.addApp("app-2", nil, baseTime, "hostel-a")

	var listed sync.WaitGroup
	listed.Add(2)
	store.afterList = func() {
		listed.Done()
		listed.Wait()
	}
	svc := newTestAllocationService(store, &recordingNotifier{})

	apps := []*models.Application{claimed(store, "app-1"), claimed(store, "app-2")}
	results := make([]bool, len(apps))
	errs := make([]error, len(apps))
	var wg sync.WaitGroup
	for i, app := range apps {
		wg.Add(1)
		go func(i int, app *models.Application) {
			defer wg.Done()
			results[i], errs[i] = svc.Allocate(context.Background(), app, "system")
		}(i, app)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	successes := 0
	for _, ok := range results {
		if ok {
			successes++
		}
	}
	assert.Equal(t, 1, successes)
	assert.Len(t, store.allocations, 1)

	bed := store.bed("bed-1")
	require.NotNil(t, bed.OccupantID)
	for _, allocation := range store.allocations {
		assert.Equal(t, "bed-1", allocation.BedID)
		assert.Equal(t, allocation.StudentID, *bed.OccupantID)
	}
}

func TestAllocationServiceAssignBed(t *testing.T) {
	store := newMemoryStore()
	store.addBed("bed-1", "room-1", "hostel-a", 1)
	store.addBed("bed-2", "room-1", "hostel-a", 2)
	app := store.addApp("app-1", nil, baseTime, "hostel-a")
	app.Status = models.ApplicationStatusWaitlisted
	store.waitlist["app-1"] = models.WaitlistEntry{ID: "wl-1", ApplicationID: "app-1", Rank: 1}
	svc := newTestAllocationService(store, &recordingNotifier{})

	allocation, err := svc.AssignBed(context.Background(), "app-1", dto.AssignBedRequest{BedID: "bed-2"}, "warden-1")
	require.NoError(t, err)
	assert.Equal(t, "bed-2", allocation.BedID)
	assert.Equal(t, "warden-1", allocation.AllocatedBy)
	assert.Equal(t, models.ApplicationStatusAllocated, store.app("app-1").Status)
	_, waitlisted := store.entry("app-1")
	assert.False(t, waitlisted)

	require.Len(t, store.audits, 1)
	var details map[string]interface{}
	require.NoError(t, json.Unmarshal(store.audits[0].NewValues, &details))
	assert.Equal(t, false, details["automated"])
	assert.Equal(t, string(models.AllocationModeManual), details["mode"])
}

func TestAllocationServiceAssignBedUnavailableRestoresStatus(t *testing.T) {
	store := newMemoryStore()
	occupant := "someone"
	store.addBed("bed-1", "room-1", "hostel-a", 1).OccupantID = &occupant
	app := store.addApp("app-1", nil, baseTime, "hostel-a")
	app.Status = models.ApplicationStatusWaitlisted
	svc := newTestAllocationService(store, &recordingNotifier{})

	_, err := svc.AssignBed(context.Background(), "app-1", dto.AssignBedRequest{BedID: "bed-1"}, "warden-1")
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrBedUnavailable))
	assert.Equal(t, models.ApplicationStatusWaitlisted, store.app("app-1").Status)
	assert.Empty(t, store.allocations)
}

func TestAllocationServiceAssignBedErrors(t *testing.T) {
	store := newMemoryStore()
	store.addBed("bed-1", "room-1", "hostel-a", 1)
	store.addApp("app-1", nil, baseTime, "hostel-a").Status = models.ApplicationStatusAllocated
	store.addApp("app-2", nil, baseTime, "hostel-a")
	store.failCreate["app-2"] = errors.New("connection reset")
	svc := newTestAllocationService(store, &recordingNotifier{})

	tests := []struct {
		name   string
		appID  string
		req    dto.AssignBedRequest
		target *appErrors.Error
	}{
		{name: "missing bed", appID: "app-2", req: dto.AssignBedRequest{}, target: appErrors.ErrValidation},
		{name: "unknown application", appID: "missing", req: dto.AssignBedRequest{BedID: "bed-1"}, target: appErrors.ErrNotFound},
		{name: "already allocated", appID: "app-1", req: dto.AssignBedRequest{BedID: "bed-1"}, target: appErrors.ErrNotAllocatable},
		{name: "store failure", appID: "app-2", req: dto.AssignBedRequest{BedID: "bed-1"}, target: appErrors.ErrTransaction},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.AssignBed(context.Background(), tc.appID, tc.req, "warden-1")
			require.Error(t, err)
			assert.True(t, appErrors.Is(err, tc.target), "got %v", err)
		})
	}
	assert.Equal(t, models.ApplicationStatusPending, store.app("app-2").Status)
	assert.Nil(t, store.bed("bed-1").OccupantID)
}
