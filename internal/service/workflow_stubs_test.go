package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"path"
	"sort"
	"sync"
	"time"

	"github.com/noah-isme/qc-validator-api/internal/models"
	appErrors "github.com/noah-isme/qc-validator-api/pkg/errors"
	"github.com/noah-isme/qc-validator-api/pkg/jobs"
	"github.com/noah-isme/qc-validator-api/pkg/realtime"
)

var (
	sellerActor   = models.Actor{ID: "seller-1", Email: "seller@example.com", Role: models.RoleUser}
	buyerActor    = models.Actor{ID: "buyer-1", Email: "buyer@example.com", Role: models.RoleUser}
	strangerActor = models.Actor{ID: "stranger-1", Email: "stranger@example.com", Role: models.RoleUser}
	adminActor    = models.Actor{ID: "admin-1", Email: "admin@example.com", Role: models.RoleAdmin}
)

func fixedClock() func() time.Time {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	return func() time.Time { return now }
}

func checklistItems(statuses ...models.ItemStatus) []models.ChecklistItem {
	items := make([]models.ChecklistItem, 0, len(statuses))
	for i, status := range statuses {
		items = append(items, models.ChecklistItem{
			Category:    "Engine",
			Requirement: "Requirement " + string(rune('A'+i)),
			Status:      status,
		})
	}
	return items
}

// memChecklistStore mimics the conditional update of the checklist repository.
type memChecklistStore struct {
	mu    sync.Mutex
	items map[string]models.Checklist
	// beforeUpdate runs inside Update before the compare; tests use it to simulate a rival writer.
	beforeUpdate func(store map[string]models.Checklist)
	updates      int
	deleted      []string
	disputed     map[string]bool
	documents    map[string]string
}

func newMemChecklistStore() *memChecklistStore {
	return &memChecklistStore{items: map[string]models.Checklist{}, disputed: map[string]bool{}, documents: map[string]string{}}
}

func (m *memChecklistStore) put(c models.Checklist) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[c.ID] = c.Clone()
}

func (m *memChecklistStore) get(id string) models.Checklist {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.items[id].Clone()
}

func (m *memChecklistStore) Create(ctx context.Context, c *models.Checklist) error {
	m.put(*c)
	return nil
}

func (m *memChecklistStore) FindByID(ctx context.Context, id string) (*models.Checklist, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.items[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	out := c.Clone()
	return &out, nil
}

func (m *memChecklistStore) List(ctx context.Context, filter models.ChecklistFilter) ([]models.Checklist, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Checklist
	for _, c := range m.items {
		seller := c.OwnerID == filter.UserID
		buyer := c.IsBuyer(filter.UserID)
		switch filter.Role {
		case models.ChecklistRoleSeller:
			if !seller {
				continue
			}
		case models.ChecklistRoleBuyer:
			if !buyer {
				continue
			}
		default:
			if !seller && !buyer {
				continue
			}
		}
		out = append(out, c.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, len(out), nil
}

func (m *memChecklistStore) Update(ctx context.Context, next models.Checklist, expectedStatus models.AgreementStatus, expectedVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates++
	if m.beforeUpdate != nil {
		m.beforeUpdate(m.items)
	}
	current, ok := m.items[next.ID]
	if !ok || current.AgreementStatus != expectedStatus || current.Version != expectedVersion {
		return sql.ErrNoRows
	}
	m.items[next.ID] = next.Clone()
	return nil
}

func (m *memChecklistStore) Delete(ctx context.Context, id string, guard func(models.Checklist) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.items[id]
	if !ok {
		return sql.ErrNoRows
	}
	if err := guard(c.Clone()); err != nil {
		return err
	}
	if m.disputed[id] {
		return appErrors.ErrReferencedByDispute
	}
	delete(m.items, id)
	m.deleted = append(m.deleted, id)
	return nil
}

func (m *memChecklistStore) SetDocument(ctx context.Context, id, path string, generatedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.items[id]
	if !ok || c.AgreementStatus != models.AgreementCompleted {
		return sql.ErrNoRows
	}
	c.DocumentPath = &path
	c.DocumentGeneratedAt = &generatedAt
	c.Version++
	m.items[id] = c
	m.documents[id] = path
	return nil
}

// memListingStore enforces the perfect-score insert condition against a checklist store.
type memListingStore struct {
	mu         sync.Mutex
	items      map[string]models.Listing
	checklists *memChecklistStore
	lastFilter models.ListingFilter
	listCalls  int
}

func newMemListingStore(checklists *memChecklistStore) *memListingStore {
	return &memListingStore{items: map[string]models.Listing{}, checklists: checklists}
}

func (m *memListingStore) Create(ctx context.Context, l *models.Listing) error {
	c := m.checklists.get(l.ChecklistID)
	if c.ID == "" || c.OwnerID != l.SellerID || c.Score != 100 {
		return sql.ErrNoRows
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[l.ID] = *l
	return nil
}

func (m *memListingStore) FindByID(ctx context.Context, id string) (*models.Listing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.items[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &l, nil
}

func (m *memListingStore) List(ctx context.Context, filter models.ListingFilter) ([]models.Listing, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastFilter = filter
	m.listCalls++
	var out []models.Listing
	for _, l := range m.items {
		if filter.SellerID != "" && l.SellerID != filter.SellerID {
			continue
		}
		if filter.MaintainedAfter != nil && l.LastMaintainedAt.Before(*filter.MaintainedAfter) {
			continue
		}
		if filter.EligibleOnly && m.checklists.get(l.ChecklistID).Score != 100 {
			continue
		}
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, len(out), nil
}

func (m *memListingStore) Maintain(ctx context.Context, id, sellerID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.items[id]
	if !ok || l.SellerID != sellerID {
		return sql.ErrNoRows
	}
	l.LastMaintainedAt = at
	m.items[id] = l
	return nil
}

func (m *memListingStore) Delete(ctx context.Context, id, sellerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.items[id]
	if !ok || l.SellerID != sellerID {
		return sql.ErrNoRows
	}
	delete(m.items, id)
	return nil
}

// memDisputeStore mirrors the dispute repository conditions.
type memDisputeStore struct {
	mu           sync.Mutex
	items        map[string]models.Dispute
	messages     []models.DisputeMessage
	seq          int64
	checklists   *memChecklistStore
	lastFilter   models.DisputeFilter
	beforeUpdate func(store map[string]models.Dispute)
}

func newMemDisputeStore(checklists *memChecklistStore) *memDisputeStore {
	return &memDisputeStore{items: map[string]models.Dispute{}, checklists: checklists}
}

func (m *memDisputeStore) Create(ctx context.Context, d *models.Dispute) error {
	c := m.checklists.get(d.ChecklistID)
	if c.AgreementStatus != models.AgreementCompleted || !c.IsBuyer(d.BuyerID) {
		return sql.ErrNoRows
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.items {
		if existing.ChecklistID == d.ChecklistID && !existing.Status.Terminal() {
			return appErrors.ErrDisputeAlreadyOpen
		}
	}
	m.items[d.ID] = d.Clone()
	return nil
}

func (m *memDisputeStore) FindByID(ctx context.Context, id string) (*models.Dispute, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.items[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	out := d.Clone()
	return &out, nil
}

func (m *memDisputeStore) Update(ctx context.Context, next models.Dispute, expectedStatus models.DisputeStatus, expectedVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.beforeUpdate != nil {
		m.beforeUpdate(m.items)
	}
	current, ok := m.items[next.ID]
	if !ok || current.Status != expectedStatus || current.Version != expectedVersion {
		return sql.ErrNoRows
	}
	m.items[next.ID] = next.Clone()
	return nil
}

func (m *memDisputeStore) List(ctx context.Context, filter models.DisputeFilter) ([]models.Dispute, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastFilter = filter
	var out []models.Dispute
	for _, d := range m.items {
		if filter.PartyID != "" && d.SellerID != filter.PartyID && d.BuyerID != filter.PartyID {
			continue
		}
		if len(filter.Statuses) > 0 {
			match := false
			for _, status := range filter.Statuses {
				if d.Status == status {
					match = true
				}
			}
			if !match {
				continue
			}
		}
		out = append(out, d.Clone())
	}
	return out, len(out), nil
}

func (m *memDisputeStore) CreateMessage(ctx context.Context, msg *models.DisputeMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.items[msg.DisputeID]
	if !ok || d.Status.Terminal() || (msg.AuthorID != d.SellerID && msg.AuthorID != d.BuyerID) {
		return sql.ErrNoRows
	}
	m.seq++
	msg.Seq = m.seq
	m.messages = append(m.messages, *msg)
	return nil
}

func (m *memDisputeStore) ListMessages(ctx context.Context, disputeID string, afterSeq int64, limit int) ([]models.DisputeMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.DisputeMessage
	for _, msg := range m.messages {
		if msg.DisputeID == disputeID && msg.Seq > afterSeq {
			out = append(out, msg)
		}
	}
	return out, nil
}

type memNotificationStore struct {
	mu       sync.Mutex
	items    []models.Notification
	batchErr error
}

func (m *memNotificationStore) CreateBatch(ctx context.Context, items []models.Notification) error {
	if m.batchErr != nil {
		return m.batchErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = append(m.items, items...)
	return nil
}

func (m *memNotificationStore) List(ctx context.Context, filter models.NotificationFilter) ([]models.Notification, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Notification
	for _, n := range m.items {
		if n.UserID != filter.UserID || (filter.UnreadOnly && n.ReadAt != nil) {
			continue
		}
		out = append(out, n)
	}
	return out, len(out), nil
}

func (m *memNotificationStore) MarkRead(ctx context.Context, id, userID string, at time.Time) (*models.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, n := range m.items {
		if n.ID != id || n.UserID != userID {
			continue
		}
		if n.ReadAt == nil {
			m.items[i].ReadAt = &at
		}
		out := m.items[i]
		return &out, nil
	}
	return nil, sql.ErrNoRows
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []realtime.Event
}

func (p *recordingPublisher) Publish(ctx context.Context, event realtime.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) ofType(eventType string) []realtime.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []realtime.Event
	for _, e := range p.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

type recordingNotifier struct {
	mu       sync.Mutex
	requests []NotificationRequest
}

func (n *recordingNotifier) Notify(ctx context.Context, req NotificationRequest) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.requests = append(n.requests, req)
}

func (n *recordingNotifier) ofType(t models.NotificationType) []NotificationRequest {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []NotificationRequest
	for _, req := range n.requests {
		if req.Type == t {
			out = append(out, req)
		}
	}
	return out
}

type recordingScheduler struct {
	mu        sync.Mutex
	scheduled []string
}

func (s *recordingScheduler) ScheduleAgreement(ctx context.Context, checklistID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scheduled = append(s.scheduled, checklistID)
}

type memAuditLog struct {
	mu      sync.Mutex
	entries []*models.AuditLog
	err     error
}

func (a *memAuditLog) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	if a.err != nil {
		return a.err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, log)
	return nil
}

type stubEnqueuer struct {
	jobs []jobs.Job
	err  error
}

func (q *stubEnqueuer) Enqueue(job jobs.Job) error {
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, job)
	return nil
}

// memCache stores JSON payloads and supports glob invalidation like the redis store.
type memCache struct {
	mu      sync.Mutex
	entries map[string][]byte
}

func newMemCache() *memCache {
	return &memCache{entries: map[string][]byte{}}
}

func (c *memCache) Get(ctx context.Context, key string, dest interface{}) error {
	c.mu.Lock()
	raw, ok := c.entries[key]
	c.mu.Unlock()
	if !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(raw, dest)
}

func (c *memCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = raw
	return nil
}

func (c *memCache) DeleteByPattern(ctx context.Context, pattern string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.entries {
		if ok, _ := path.Match(pattern, key); ok {
			delete(c.entries, key)
		}
	}
	return nil
}
