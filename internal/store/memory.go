package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"carrierplan/internal/model"
)

// Memory is a simple in-memory store used when no DATABASE_URL is set.
type Memory struct {
	mu     sync.Mutex
	plans  map[string]model.Plan          // id -> plan
	byTen  map[string][]string            // tenant -> plan ids, creation order
	planMx map[string][]model.PlanMetrics // tenant -> metrics
	optCfg map[string]model.OptimizerConfig
}

func NewMemory() *Memory {
	return &Memory{
		plans:  map[string]model.Plan{},
		byTen:  map[string][]string{},
		planMx: map[string][]model.PlanMetrics{},
		optCfg: map[string]model.OptimizerConfig{},
	}
}

func (m *Memory) CreatePlan(ctx context.Context, p model.Plan) (model.Plan, error) {
	m.mu.Lock(); defer m.mu.Unlock()
	if p.ID == "" { p.ID = uuid.New().String() }
	if p.CreatedAt.IsZero() { p.CreatedAt = time.Now().UTC() }
	m.plans[p.ID] = p
	m.byTen[p.TenantID] = append(m.byTen[p.TenantID], p.ID)
	return p, nil
}

func (m *Memory) UpdatePlan(ctx context.Context, p model.Plan) error {
	m.mu.Lock(); defer m.mu.Unlock()
	old, ok := m.plans[p.ID]
	if !ok || old.TenantID != p.TenantID { return ErrNotFound }
	m.plans[p.ID] = p
	return nil
}

func (m *Memory) GetPlan(ctx context.Context, tenantID, planID string) (model.Plan, error) {
	m.mu.Lock(); defer m.mu.Unlock()
	p, ok := m.plans[planID]
	if !ok || p.TenantID != tenantID { return model.Plan{}, ErrNotFound }
	return p, nil
}

func (m *Memory) ListPlans(ctx context.Context, tenantID, status, cursor string, limit int) ([]model.Plan, string, error) {
	m.mu.Lock(); defer m.mu.Unlock()
	ids := m.byTen[tenantID]
	start := 0
	if cursor != "" {
		for i, id := range ids {
			if id == cursor { start = i + 1; break }
		}
	}
	limit = clampLimit(limit)
	out := []model.Plan{}
	var next string
	for i := start; i < len(ids) && len(out) < limit; i++ {
		p := m.plans[ids[i]]
		if status == "" || p.Status == status { out = append(out, p) }
		next = ids[i]
	}
	if len(out) < limit { next = "" }
	return out, next, nil
}

func (m *Memory) SavePlanMetrics(ctx context.Context, pm model.PlanMetrics) error {
	m.mu.Lock(); defer m.mu.Unlock()
	if pm.CreatedAt.IsZero() { pm.CreatedAt = time.Now().UTC() }
	list := m.planMx[pm.TenantID]
	for i := range list {
		// one row per (plan, policy), as in the SQL schema
		if list[i].PlanID == pm.PlanID && list[i].Policy == pm.Policy { list[i] = pm; return nil }
	}
	m.planMx[pm.TenantID] = append(list, pm)
	return nil
}

func (m *Memory) ListPlanMetrics(ctx context.Context, tenantID, planID, policy string) ([]model.PlanMetrics, error) {
	m.mu.Lock(); defer m.mu.Unlock()
	out := []model.PlanMetrics{}
	for _, pm := range m.planMx[tenantID] {
		if planID != "" && pm.PlanID != planID { continue }
		if policy != "" && pm.Policy != policy { continue }
		out = append(out, pm)
	}
	return out, nil
}

func (m *Memory) GetOptimizerConfig(ctx context.Context, tenantID string) (*model.OptimizerConfig, error) {
	m.mu.Lock(); defer m.mu.Unlock()
	cfg, ok := m.optCfg[tenantID]
	if !ok { return nil, nil }
	return &cfg, nil
}

func (m *Memory) SaveOptimizerConfig(ctx context.Context, tenantID string, cfg model.OptimizerConfig) error {
	m.mu.Lock(); defer m.mu.Unlock()
	m.optCfg[tenantID] = cfg
	return nil
}
