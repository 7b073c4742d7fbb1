package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/noah-isme/hostel-allocation-api/internal/models"
	"github.com/noah-isme/hostel-allocation-api/internal/repository"
)

// memoryStore is an in-memory store with transactional staging and
// skip-locked bed locks. Writes made through a transaction become visible
// only on Commit, and bed locks are held until Commit or Rollback.
type memoryStore struct {
	mu          sync.Mutex
	beds        map[string]*models.Bed
	apps        map[string]*models.Application
	allocations map[string]models.Allocation
	waitlist    map[string]models.WaitlistEntry
	locks       map[string]*memoryTx
	audits      []models.AuditLog
	seq         int

	failCreate map[string]error
	auditErr   error
	afterList  func()
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		beds:        make(map[string]*models.Bed),
		apps:        make(map[string]*models.Application),
		allocations: make(map[string]models.Allocation),
		waitlist:    make(map[string]models.WaitlistEntry),
		locks:       make(map[string]*memoryTx),
		failCreate:  make(map[string]error),
	}
}

func (m *memoryStore) addBed(id, roomID, hostelID string, number int) *models.Bed {
	bed := &models.Bed{
		ID:         id,
		RoomID:     roomID,
		BedNumber:  number,
		RoomNumber: "R-" + roomID,
		HostelID:   hostelID,
		RoomStatus: models.RoomStatusAvailable,
	}
	m.beds[id] = bed
	return bed
}

func (m *memoryStore) addApp(id string, priority *models.PriorityCategory, submitted time.Time, hostels ...string) *models.Application {
	app := &models.Application{
		ID:           id,
		StudentID:    "student-" + id,
		Preferences:  models.ApplicationPreferences{HostelIDs: hostels},
		Priority:     priority,
		Status:       models.ApplicationStatusPending,
		SubmittedAt:  submitted,
		StudentEmail: id + "@example.com",
		StudentName:  "Student " + id,
	}
	m.apps[id] = app
	return app
}

func (m *memoryStore) nextID(prefix string) string {
	m.seq++
	return fmt.Sprintf("%s-%d", prefix, m.seq)
}

func (m *memoryStore) app(id string) models.Application {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.apps[id]
}

func (m *memoryStore) bed(id string) models.Bed {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.beds[id]
}

func (m *memoryStore) allocation(appID string) (models.Allocation, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.allocations[appID]
	return a, ok
}

func (m *memoryStore) entry(appID string) (models.WaitlistEntry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.waitlist[appID]
	return e, ok
}

func (m *memoryStore) auditActions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	actions := make([]string, 0, len(m.audits))
	for _, a := range m.audits {
		actions = append(actions, a.Action)
	}
	return actions
}

// Begin implements allocationStore.
func (m *memoryStore) Begin(ctx context.Context) (repository.AllocationTx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &memoryTx{store: m}, nil
}

func (m *memoryStore) ListAllocatable(context.Context) ([]models.Application, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var apps []models.Application
	for _, app := range m.apps {
		if app.Status.Allocatable() {
			apps = append(apps, *app)
		}
	}
	return apps, nil
}

func (m *memoryStore) FindByID(_ context.Context, id string) (*models.Application, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	app, ok := m.apps[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	clone := *app
	return &clone, nil
}

func (m *memoryStore) Claim(_ context.Context, id string, from models.ApplicationStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	app, ok := m.apps[id]
	if !ok || app.Status != from {
		return false, nil
	}
	app.Status = models.ApplicationStatusInProgress
	return true, nil
}

func (m *memoryStore) Release(_ context.Context, id string, to models.ApplicationStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if app, ok := m.apps[id]; ok && app.Status == models.ApplicationStatusInProgress {
		app.Status = to
	}
	return nil
}

func (m *memoryStore) FindByApplication(_ context.Context, applicationID string) (*models.WaitlistEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.waitlist[applicationID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &entry, nil
}

func (m *memoryStore) MaxRank(_ context.Context, scope models.WaitlistScope) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	max := 0
	for _, entry := range m.waitlist {
		entry := entry
		if scope.Matches(&entry) && entry.Rank > max {
			max = entry.Rank
		}
	}
	return max, nil
}

func (m *memoryStore) Save(_ context.Context, entry *models.WaitlistEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry.ID == "" {
		entry.ID = m.nextID("wl")
	}
	m.waitlist[entry.ApplicationID] = *entry
	if app, ok := m.apps[entry.ApplicationID]; ok {
		app.Status = models.ApplicationStatusWaitlisted
	}
	return nil
}

func (m *memoryStore) ListByScope(_ context.Context, scope models.WaitlistScope, limit, offset int) ([]models.WaitlistEntry, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var entries []models.WaitlistEntry
	for _, entry := range m.waitlist {
		entry := entry
		if scope.Matches(&entry) {
			entries = append(entries, entry)
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Rank < entries[j].Rank })
	total := len(entries)
	if offset >= total {
		return nil, total, nil
	}
	entries = entries[offset:]
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, total, nil
}

func (m *memoryStore) CreateAuditLog(_ context.Context, log *models.AuditLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.auditErr != nil {
		return m.auditErr
	}
	m.audits = append(m.audits, *log)
	return nil
}

type memoryTx struct {
	store *memoryStore
	ops   []func(*memoryStore) error
	done  bool
}

func (t *memoryTx) ListCandidateBeds(_ context.Context, prefs models.ApplicationPreferences, limit int) ([]models.Bed, error) {
	t.store.mu.Lock()
	var beds []models.Bed
	for _, bed := range t.store.beds {
		if !bed.Available() {
			continue
		}
		if len(prefs.HostelIDs) > 0 && !contains(prefs.HostelIDs, bed.HostelID) {
			continue
		}
		beds = append(beds, *bed)
	}
	hook := t.store.afterList
	t.store.mu.Unlock()

	sort.Slice(beds, func(i, j int) bool { return beds[i].ID < beds[j].ID })
	if len(beds) > limit {
		beds = beds[:limit]
	}
	if hook != nil {
		hook()
	}
	return beds, nil
}

func (t *memoryTx) LockBed(_ context.Context, bedID string) (*models.Bed, bool, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	if holder, ok := t.store.locks[bedID]; ok && holder != t {
		return nil, false, nil
	}
	bed, ok := t.store.beds[bedID]
	if !ok || !bed.Available() {
		return nil, false, nil
	}
	t.store.locks[bedID] = t
	clone := *bed
	return &clone, true, nil
}

func (t *memoryTx) AssignOccupant(_ context.Context, bedID, studentID string) error {
	t.ops = append(t.ops, func(m *memoryStore) error {
		bed, ok := m.beds[bedID]
		if !ok || bed.OccupantID != nil {
			return sql.ErrNoRows
		}
		occupant := studentID
		bed.OccupantID = &occupant
		return nil
	})
	return nil
}

func (t *memoryTx) MarkAllocated(_ context.Context, applicationID string) error {
	t.ops = append(t.ops, func(m *memoryStore) error {
		app, ok := m.apps[applicationID]
		if !ok {
			return sql.ErrNoRows
		}
		app.Status = models.ApplicationStatusAllocated
		return nil
	})
	return nil
}

func (t *memoryTx) DeleteWaitlistEntry(_ context.Context, applicationID string) error {
	t.ops = append(t.ops, func(m *memoryStore) error {
		delete(m.waitlist, applicationID)
		return nil
	})
	return nil
}

func (t *memoryTx) CreateAllocation(_ context.Context, allocation *models.Allocation) error {
	t.store.mu.Lock()
	err := t.store.failCreate[allocation.ApplicationID]
	if err == nil {
		allocation.ID = t.store.nextID("alloc")
		allocation.AllocatedAt = time.Now().UTC()
	}
	t.store.mu.Unlock()
	if err != nil {
		return err
	}
	record := *allocation
	t.ops = append(t.ops, func(m *memoryStore) error {
		for _, existing := range m.allocations {
			if existing.BedID == record.BedID {
				return errors.New("duplicate allocation for bed")
			}
		}
		if _, ok := m.allocations[record.ApplicationID]; ok {
			return errors.New("duplicate allocation for application")
		}
		m.allocations[record.ApplicationID] = record
		return nil
	})
	return nil
}

func (t *memoryTx) Commit() error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	if t.done {
		return sql.ErrTxDone
	}
	t.done = true
	defer t.unlock()
	snap := t.store.snapshot()
	for _, op := range t.ops {
		if err := op(t.store); err != nil {
			t.store.restore(snap)
			return err
		}
	}
	return nil
}

func (t *memoryTx) Rollback() error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	if t.done {
		return nil
	}
	t.done = true
	t.unlock()
	return nil
}

type memorySnapshot struct {
	beds        map[string]models.Bed
	apps        map[string]models.Application
	allocations map[string]models.Allocation
	waitlist    map[string]models.WaitlistEntry
}

// snapshot copies the committed state so a failed Commit can restore it.
// Callers hold mu.
func (m *memoryStore) snapshot() memorySnapshot {
	snap := memorySnapshot{
		beds:        make(map[string]models.Bed, len(m.beds)),
		apps:        make(map[string]models.Application, len(m.apps)),
		allocations: make(map[string]models.Allocation, len(m.allocations)),
		waitlist:    make(map[string]models.WaitlistEntry, len(m.waitlist)),
	}
	for id, bed := range m.beds {
		snap.beds[id] = *bed
	}
	for id, app := range m.apps {
		snap.apps[id] = *app
	}
	for id, a := range m.allocations {
		snap.allocations[id] = a
	}
	for id, e := range m.waitlist {
		snap.waitlist[id] = e
	}
	return snap
}

// restore writes snap back in place, keeping the bed and application
// pointers tests hold. Callers hold mu.
func (m *memoryStore) restore(snap memorySnapshot) {
	for id, bed := range snap.beds {
		*m.beds[id] = bed
	}
	for id, app := range snap.apps {
		*m.apps[id] = app
	}
	m.allocations = snap.allocations
	m.waitlist = snap.waitlist
}

// unlock releases every bed lock held by t. Callers hold store.mu.
func (t *memoryTx) unlock() {
	for bedID, holder := range t.store.locks {
		if holder == t {
			delete(t.store.locks, bedID)
		}
	}
	t.ops = nil
}

func contains(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}

type notification struct {
	kind string
	to   Recipient
	rank int
	bed  AllocationDetails
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []notification
}

func (n *recordingNotifier) NotifyAllocated(_ context.Context, to Recipient, details AllocationDetails) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, notification{kind: NotificationAllocated, to: to, bed: details})
}

func (n *recordingNotifier) NotifyWaitlisted(_ context.Context, to Recipient, rank int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, notification{kind: NotificationWaitlisted, to: to, rank: rank})
}

func (n *recordingNotifier) kinds() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	kinds := make([]string, 0, len(n.sent))
	for _, s := range n.sent {
		kinds = append(kinds, s.kind)
	}
	return kinds
}
