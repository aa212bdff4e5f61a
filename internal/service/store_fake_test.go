package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Strob0t/SiteKeeper/internal/domain"
	"github.com/Strob0t/SiteKeeper/internal/domain/job"
	"github.com/Strob0t/SiteKeeper/internal/domain/ledger"
	"github.com/Strob0t/SiteKeeper/internal/domain/tenant"
	"github.com/Strob0t/SiteKeeper/internal/domain/user"
	"github.com/Strob0t/SiteKeeper/internal/port/database"
	"github.com/Strob0t/SiteKeeper/internal/port/genprovider"
	"github.com/Strob0t/SiteKeeper/internal/port/messagequeue"
	"github.com/Strob0t/SiteKeeper/internal/tenantfilter"
)

// memStore is an in-memory database.Store. Reads and writes on tenant-scoped
// tables are filtered with the same gate the postgres store uses, and one
// mutex stands in for row locks.
type memStore struct {
	mu      sync.Mutex
	gate    *tenantfilter.Gate
	tenants map[int64]*tenant.Tenant
	users   map[int64]*user.User
	jobs    map[int64]*job.Job
	ledger  []ledger.Entry
	admins  map[string]*user.Admin
	nextID  int64

	listTenantsErr error
}

var _ database.Store = (*memStore)(nil)

func newMemStore() *memStore {
	return &memStore{
		gate:    tenantfilter.New(tenantfilter.DefaultExempt),
		tenants: make(map[int64]*tenant.Tenant),
		users:   make(map[int64]*user.User),
		jobs:    make(map[int64]*job.Job),
		admins:  make(map[string]*user.Admin),
		nextID:  100,
	}
}

func (m *memStore) id() int64 {
	m.nextID++
	return m.nextID
}

// seed helpers bypass the gate.

func (m *memStore) addTenant(t tenant.Tenant) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tenants[t.ID] = &t
}

func (m *memStore) addUser(u user.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u.Enabled = true
	m.users[u.ID] = &u
}

func (m *memStore) addJob(j job.Job) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if j.Status == "" {
		j.Status = job.StatusProcessing
	}
	m.jobs[j.ID] = &j
}

func (m *memStore) balance(userID int64) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.users[userID].Balance
}

func (m *memStore) entries(jobID int64, typ ledger.EntryType) []ledger.Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ledger.Entry
	for _, e := range m.ledger {
		if e.Type == typ && e.JobID != nil && *e.JobID == jobID {
			out = append(out, e)
		}
	}
	return out
}

func (m *memStore) rawJob(id int64) job.Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.jobs[id]
}

// --- TenantStore ---

func (m *memStore) ListActiveTenants(_ context.Context) ([]tenant.Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listTenantsErr != nil {
		return nil, m.listTenantsErr
	}
	var out []tenant.Tenant
	for _, t := range m.tenants {
		if !t.Deleted {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (m *memStore) GetTenant(_ context.Context, id int64) (*tenant.Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tenants[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *memStore) CreateTenant(_ context.Context, req tenant.CreateRequest) (*tenant.Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tenants {
		if req.Domain != "" && t.Domain == req.Domain {
			return nil, domain.ErrConflict
		}
	}
	t := &tenant.Tenant{ID: m.id(), Name: req.Name, Domain: req.Domain, Code: req.Code, Enabled: true}
	m.tenants[t.ID] = t
	cp := *t
	return &cp, nil
}

// --- JobStore ---

func (m *memStore) CreateJob(ctx context.Context, req job.CreateRequest) (*job.Job, *ledger.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[req.UserID]
	if !ok || !m.gate.Visible(ctx, "users", u.TenantID) {
		return nil, nil, domain.ErrNotFound
	}
	if u.Balance < req.Cost {
		return nil, nil, domain.ErrInsufficientBalance
	}
	u.Balance -= req.Cost
	now := time.Now()
	j := &job.Job{
		ID: m.id(), TenantID: u.TenantID, UserID: u.ID, Provider: req.Provider, Prompt: req.Prompt,
		Status: job.StatusProcessing, Cost: req.Cost, CreatedAt: now, UpdatedAt: now,
	}
	m.jobs[j.ID] = j
	var entry *ledger.Entry
	if req.Cost > 0 {
		e := m.appendLedger(u, ledger.TypeConsume, req.Cost, &j.ID, "")
		entry = &e
	}
	cp := *j
	return &cp, entry, nil
}

func (m *memStore) appendLedger(u *user.User, typ ledger.EntryType, amount int64, jobID *int64, remark string) ledger.Entry {
	e := ledger.Entry{
		ID: m.id(), TenantID: u.TenantID, UserID: u.ID, Type: typ, Amount: amount,
		BalanceAfter: u.Balance, JobID: jobID, TradeNo: fmt.Sprintf("T%d", m.nextID), Remark: remark,
		CreatedAt: time.Now(),
	}
	m.ledger = append(m.ledger, e)
	return e
}

func (m *memStore) visibleJob(ctx context.Context, id int64) (*job.Job, bool) {
	j, ok := m.jobs[id]
	if !ok || !m.gate.Visible(ctx, "generation_jobs", j.TenantID) {
		return nil, false
	}
	return j, true
}

func (m *memStore) SetProviderTask(ctx context.Context, id int64, taskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.visibleJob(ctx, id)
	if !ok {
		return domain.ErrNotFound
	}
	j.ProviderTaskID = taskID
	return nil
}

func (m *memStore) GetJob(ctx context.Context, id int64) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.visibleJob(ctx, id)
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (m *memStore) filterJobs(ctx context.Context, keep func(*job.Job) bool, limit int) []job.Job {
	var out []job.Job
	for _, j := range m.jobs {
		if m.gate.Visible(ctx, "generation_jobs", j.TenantID) && keep(j) {
			out = append(out, *j)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (m *memStore) ListJobs(ctx context.Context, userID int64, limit int) ([]job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.filterJobs(ctx, func(j *job.Job) bool { return j.UserID == userID }, limit), nil
}

func (m *memStore) ListProcessingJobs(ctx context.Context, limit int) ([]job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.filterJobs(ctx, func(j *job.Job) bool { return j.Status == job.StatusProcessing }, limit), nil
}

func (m *memStore) ListStuckJobs(ctx context.Context, olderThan time.Time, limit int) ([]job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.filterJobs(ctx, func(j *job.Job) bool {
		return j.Status == job.StatusProcessing && j.CreatedAt.Before(olderThan)
	}, limit), nil
}

func (m *memStore) CompleteJob(ctx context.Context, id int64, resultURL string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.visibleJob(ctx, id)
	if !ok {
		return false, domain.ErrNotFound
	}
	if j.Status != job.StatusProcessing {
		return false, nil
	}
	j.Status = job.StatusSuccess
	j.ResultURL = resultURL
	j.UpdatedAt = time.Now()
	return true, nil
}

func (m *memStore) FailJob(ctx context.Context, id int64, reason string) (*job.FailOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.visibleJob(ctx, id)
	if !ok {
		return nil, domain.ErrNotFound
	}
	if j.Status != job.StatusProcessing {
		return &job.FailOutcome{Job: *j}, nil
	}
	j.Status = job.StatusFailed
	j.FailureReason = &reason
	j.UpdatedAt = time.Now()

	out := &job.FailOutcome{Transitioned: true}
	if u, ok := m.users[j.UserID]; ok && j.Cost > 0 {
		u.Balance += j.Cost
		m.appendLedger(u, ledger.TypeRefund, j.Cost, &j.ID, reason)
		out.Refunded = j.Cost
		out.BalanceAfter = u.Balance
	}
	out.Job = *j
	return out, nil
}

func (m *memStore) CountJobsByTenant(ctx context.Context) ([]job.TenantStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	by := map[int64]*job.TenantStats{}
	for _, j := range m.jobs {
		if !m.gate.Visible(ctx, "generation_jobs", j.TenantID) {
			continue
		}
		s, ok := by[j.TenantID]
		if !ok {
			s = &job.TenantStats{TenantID: j.TenantID}
			by[j.TenantID] = s
		}
		switch j.Status {
		case job.StatusProcessing:
			s.Processing++
		case job.StatusSuccess:
			s.Success++
		case job.StatusFailed:
			s.Failed++
		}
		s.CostTotal += j.Cost
	}
	out := make([]job.TenantStats, 0, len(by))
	for _, s := range by {
		out = append(out, *s)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].TenantID < out[b].TenantID })
	return out, nil
}

// --- UserStore ---

func (m *memStore) CreateUser(ctx context.Context, req user.CreateRequest, passwordHash string) (*user.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tid, err := m.gate.InsertTenant(ctx, "users", req.TenantID)
	if err != nil {
		return nil, err
	}
	for _, u := range m.users {
		if u.TenantID == tid && u.Email == req.Email {
			return nil, domain.ErrConflict
		}
	}
	u := &user.User{ID: m.id(), TenantID: tid, Email: req.Email, Name: req.Name, PasswordHash: passwordHash, Enabled: true}
	m.users[u.ID] = u
	cp := *u
	return &cp, nil
}

func (m *memStore) GetUser(ctx context.Context, id int64) (*user.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok || !m.gate.Visible(ctx, "users", u.TenantID) {
		return nil, domain.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *memStore) GetUserByEmail(ctx context.Context, email string) (*user.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email && m.gate.Visible(ctx, "users", u.TenantID) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memStore) ListLedger(ctx context.Context, userID int64, limit int) ([]ledger.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ledger.Entry
	for i := len(m.ledger) - 1; i >= 0; i-- {
		e := m.ledger[i]
		if e.UserID == userID && m.gate.Visible(ctx, "balance_ledger", e.TenantID) {
			out = append(out, e)
		}
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *memStore) Recharge(ctx context.Context, userID, amount int64, remark string) (*ledger.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok || !m.gate.Visible(ctx, "users", u.TenantID) {
		return nil, domain.ErrNotFound
	}
	u.Balance += amount
	e := m.appendLedger(u, ledger.TypeRecharge, amount, nil, remark)
	return &e, nil
}

func (m *memStore) CreateAdmin(_ context.Context, req user.CreateAdminRequest, prefix, keyHash string) (*user.Admin, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a := &user.Admin{ID: m.id(), Name: req.Name, Prefix: prefix, KeyHash: keyHash, Enabled: true}
	m.admins[keyHash] = a
	cp := *a
	return &cp, nil
}

func (m *memStore) GetAdminByKeyHash(_ context.Context, keyHash string) (*user.Admin, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.admins[keyHash]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

// fakeProvider is a scripted genprovider.Provider.
type fakeProvider struct {
	mu        sync.Mutex
	name      string
	results   map[string]*genprovider.Result
	statusErr error
	submitErr error
	calls     int
	nextTask  int
}

var _ genprovider.Provider = (*fakeProvider)(nil)

func newFakeProvider(name string) *fakeProvider {
	return &fakeProvider{name: name, results: make(map[string]*genprovider.Result)}
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) set(taskID string, state genprovider.State, url, errMsg string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.results[taskID] = &genprovider.Result{TaskID: taskID, State: state, ResultURL: url, Error: errMsg}
}

func (p *fakeProvider) Submit(_ context.Context, _ genprovider.SubmitRequest) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.submitErr != nil {
		return "", p.submitErr
	}
	p.nextTask++
	id := fmt.Sprintf("task-%d", p.nextTask)
	p.results[id] = &genprovider.Result{TaskID: id, State: genprovider.StateQueued}
	return id, nil
}

func (p *fakeProvider) Status(_ context.Context, taskID string) (*genprovider.Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.statusErr != nil {
		return nil, p.statusErr
	}
	r, ok := p.results[taskID]
	if !ok {
		return nil, genprovider.ErrTaskNotFound
	}
	cp := *r
	return &cp, nil
}

func (p *fakeProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// mockQueue records published messages.
type mockQueue struct {
	mu        sync.Mutex
	published []publishedMsg
}

type publishedMsg struct {
	subject string
	data    []byte
}

var _ messagequeue.Queue = (*mockQueue)(nil)

func (q *mockQueue) Publish(_ context.Context, subject string, data []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.published = append(q.published, publishedMsg{subject, data})
	return nil
}

func (q *mockQueue) Subscribe(_ context.Context, _ string, _ messagequeue.Handler) (func(), error) {
	return func() {}, nil
}

func (q *mockQueue) Drain() error      { return nil }
func (q *mockQueue) Close() error      { return nil }
func (q *mockQueue) IsConnected() bool { return true }

func (q *mockQueue) count(subject string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, m := range q.published {
		if m.subject == subject {
			n++
		}
	}
	return n
}
