package task

import (
	"context"
	"encoding/json"
	"slices"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	domain "github.com/example/task-service/domain/task"
	"github.com/example/task-service/events"
	"github.com/example/task-service/modules/database"
)

// mockRepository is an in-memory Repository with error injection.
type mockRepository struct {
	mu        sync.Mutex
	tasks     map[int64]*domain.Task
	nextID    int64
	insertErr error
	listErr   error
	statsErr  error
	statsHits atomic.Int32
}

var _ Repository = (*mockRepository)(nil)

func newMockRepository() *mockRepository {
	return &mockRepository{tasks: make(map[int64]*domain.Task)}
}

func cloneTask(t *domain.Task) *domain.Task {
	c := *t
	c.Tags = slices.Clone(t.Tags)
	if c.Tags == nil {
		c.Tags = []string{}
	}
	return &c
}

func (m *mockRepository) Insert(_ context.Context, _ database.Session, t *domain.Task) (*domain.Task, error) {
	if m.insertErr != nil {
		return nil, m.insertErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	stored := cloneTask(t)
	stored.ID = m.nextID
	m.tasks[stored.ID] = stored
	return cloneTask(stored), nil
}

func (m *mockRepository) FindByID(_ context.Context, _ database.Session, id int64) (*domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneTask(t), nil
}

func (m *mockRepository) FindForUpdate(ctx context.Context, s database.Session, id int64) (*domain.Task, error) {
	return m.FindByID(ctx, s, id)
}

func (m *mockRepository) matching(f domain.Filter) []*domain.Task {
	var out []*domain.Task
	for _, t := range m.tasks {
		if f.Status != nil && t.Status != *f.Status {
			continue
		}
		if f.Priority != nil && t.Priority != *f.Priority {
			continue
		}
		if f.AssignedTo != nil && (t.AssignedTo == nil || *t.AssignedTo != *f.AssignedTo) {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

func (m *mockRepository) List(_ context.Context, _ database.Session, f domain.Filter, limit, offset int) ([]*domain.Task, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	all := m.matching(f)
	out := make([]*domain.Task, 0, limit)
	for i := offset; i < len(all) && i < offset+limit; i++ {
		out = append(out, cloneTask(all[i]))
	}
	return out, nil
}

func (m *mockRepository) Count(_ context.Context, _ database.Session, f domain.Filter) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.matching(f))), nil
}

func (m *mockRepository) Update(_ context.Context, _ database.Session, t *domain.Task) (*domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.tasks[t.ID]; !ok {
		return nil, domain.ErrNotFound
	}
	m.tasks[t.ID] = cloneTask(t)
	return cloneTask(t), nil
}

func (m *mockRepository) Delete(_ context.Context, _ database.Session, id int64) (*domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	delete(m.tasks, id)
	return t, nil
}

func (m *mockRepository) Stats(_ context.Context, _ database.Session, now time.Time) (domain.Stats, error) {
	m.statsHits.Add(1)
	if m.statsErr != nil {
		return domain.Stats{}, m.statsErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	st := domain.NewStats()
	for _, t := range m.tasks {
		st.Total++
		st.ByStatus[t.Status]++
		st.ByPriority[t.Priority]++
		if t.DueDate == nil || !t.Status.Open() {
			continue
		}
		switch {
		case t.DueDate.Before(now):
			st.Overdue++
		case !t.DueDate.After(now.Add(deadlineWindow)):
			st.UpcomingDeadlines++
		}
	}
	return st, nil
}

// mockRunner runs units of work without a database.
type mockRunner struct {
	sessionErr error
	sessions   atomic.Int32
	readOnly   atomic.Int32
	// gate, when set, blocks read-only sessions until closed.
	gate chan struct{}
}

var _ database.Runner = (*mockRunner)(nil)

func (r *mockRunner) WithSession(ctx context.Context, fn func(context.Context, database.Session) error) error {
	r.sessions.Add(1)
	if r.sessionErr != nil {
		return r.sessionErr
	}
	return fn(ctx, nil)
}

func (r *mockRunner) WithReadOnlySession(ctx context.Context, fn func(context.Context, database.Session) error) error {
	r.readOnly.Add(1)
	if r.gate != nil {
		<-r.gate
	}
	if r.sessionErr != nil {
		return r.sessionErr
	}
	return fn(ctx, nil)
}

// recordingPublisher captures published events.
type recordingPublisher struct {
	mu      sync.Mutex
	err     error
	created []events.TaskCreatedEvent
	updated []events.TaskUpdatedEvent
	deleted []events.TaskDeletedEvent
}

func (p *recordingPublisher) PublishCreated(ev events.TaskCreatedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.created = append(p.created, ev)
	return p.err
}

func (p *recordingPublisher) PublishUpdated(ev events.TaskUpdatedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.updated = append(p.updated, ev)
	return p.err
}

func (p *recordingPublisher) PublishDeleted(ev events.TaskDeletedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.deleted = append(p.deleted, ev)
	return p.err
}

// memoryCache is a StatsCache backed by a map.
type memoryCache struct {
	mu      sync.Mutex
	entries map[string][]byte
	getErr  error
}

func newMemoryCache() *memoryCache {
	return &memoryCache{entries: make(map[string][]byte)}
}

func (c *memoryCache) Get(_ context.Context, key string, dest any) (bool, error) {
	if c.getErr != nil {
		return false, c.getErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	data, ok := c.entries[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(data, dest)
}

func (c *memoryCache) Set(_ context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = data
	return nil
}

func (c *memoryCache) Delete(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.entries, k)
	}
	return nil
}

func (c *memoryCache) has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[key]
	return ok
}
