package store

import (
	"context"
	"errors"
	"testing"

	"carrierplan/internal/model"
	"carrierplan/internal/opt"
)

func TestMemoryPlansAreTenantScoped(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	p, err := m.CreatePlan(ctx, model.Plan{TenantID: "t1", Status: model.PlanQueued})
	if err != nil { t.Fatalf("CreatePlan: %v", err) }
	if p.ID == "" || p.CreatedAt.IsZero() { t.Fatalf("id and createdAt must be assigned: %+v", p) }

	if _, err := m.GetPlan(ctx, "t2", p.ID); !errors.Is(err, ErrNotFound) { t.Fatalf("other tenant must not see plan, got %v", err) }
	p.Status = model.PlanDone
	if err := m.UpdatePlan(ctx, p); err != nil { t.Fatalf("UpdatePlan: %v", err) }
	got, err := m.GetPlan(ctx, "t1", p.ID)
	if err != nil || got.Status != model.PlanDone { t.Fatalf("GetPlan: %+v %v", got, err) }
	if err := m.UpdatePlan(ctx, model.Plan{ID: "missing", TenantID: "t1"}); !errors.Is(err, ErrNotFound) { t.Fatalf("want ErrNotFound, got %v", err) }
}

func TestMemoryListPlansPaging(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		st := model.PlanDone
		if i%2 == 1 { st = model.PlanFailed }
		if _, err := m.CreatePlan(ctx, model.Plan{TenantID: "t1", Status: st}); err != nil { t.Fatal(err) }
	}
	page, next, _ := m.ListPlans(ctx, "t1", "", "", 2)
	if len(page) != 2 || next == "" { t.Fatalf("first page: %d items, next %q", len(page), next) }
	page, next, _ = m.ListPlans(ctx, "t1", "", next, 2)
	if len(page) != 2 || next == "" { t.Fatalf("second page: %d items, next %q", len(page), next) }
	page, next, _ = m.ListPlans(ctx, "t1", "", next, 2)
	if len(page) != 1 || next != "" { t.Fatalf("last page: %d items, next %q", len(page), next) }

	failed, _, _ := m.ListPlans(ctx, "t1", model.PlanFailed, "", 0)
	if len(failed) != 2 { t.Fatalf("status filter: got %d", len(failed)) }
}

func TestMemoryPlanMetricsUpsert(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	_ = m.SavePlanMetrics(ctx, model.PlanMetrics{TenantID: "t1", PlanID: "p1", Policy: "fixed", Iterations: 10})
	_ = m.SavePlanMetrics(ctx, model.PlanMetrics{TenantID: "t1", PlanID: "p1", Policy: "fixed", Iterations: 20})
	_ = m.SavePlanMetrics(ctx, model.PlanMetrics{TenantID: "t1", PlanID: "p2", Policy: "annealing", Iterations: 5})

	all, _ := m.ListPlanMetrics(ctx, "t1", "", "")
	if len(all) != 2 { t.Fatalf("want 2 rows, got %d", len(all)) }
	p1, _ := m.ListPlanMetrics(ctx, "t1", "p1", "")
	if len(p1) != 1 || p1[0].Iterations != 20 { t.Fatalf("upsert lost: %+v", p1) }
	ann, _ := m.ListPlanMetrics(ctx, "t1", "", "annealing")
	if len(ann) != 1 { t.Fatalf("policy filter: %+v", ann) }
}

func TestMemoryOptimizerConfig(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	cfg, err := m.GetOptimizerConfig(ctx, "t1")
	if err != nil || cfg != nil { t.Fatalf("unset tenant -> nil, got %+v %v", cfg, err) }
	want := model.OptimizerConfig{TimeBudgetMs: 500, Acceptance: opt.DefaultAcceptance()}
	_ = m.SaveOptimizerConfig(ctx, "t1", want)
	cfg, _ = m.GetOptimizerConfig(ctx, "t1")
	if cfg == nil || *cfg != want { t.Fatalf("got %+v", cfg) }
}
