//go:build postgres_integration

package store

import (
	"os"
	"testing"

	"carrierplan/internal/model"
)

func TestPostgresPlanLifecycle(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" { t.Skip("DATABASE_URL not set; skipping integration test") }
	p, err := NewPostgres(dsn)
	if err != nil { t.Fatalf("NewPostgres: %v", err) }
	defer p.Close()
	if err := p.Ping(t.Context()); err != nil { t.Fatalf("Ping: %v", err) }
	if err := p.Migrate(t.Context()); err != nil { t.Fatalf("Migrate: %v", err) }

	pl, err := p.CreatePlan(t.Context(), model.Plan{TenantID: "t_it", Status: model.PlanRunning})
	if err != nil { t.Fatalf("CreatePlan: %v", err) }
	pl.Status = model.PlanDone
	pl.Routes = []model.CarrierPlan{{CarrierID: "v1", Cost: 12}}
	if err := p.UpdatePlan(t.Context(), pl); err != nil { t.Fatalf("UpdatePlan: %v", err) }
	got, err := p.GetPlan(t.Context(), "t_it", pl.ID)
	if err != nil { t.Fatalf("GetPlan: %v", err) }
	if got.Status != model.PlanDone || len(got.Routes) != 1 { t.Fatalf("unexpected plan: %+v", got) }
	if err := p.SavePlanMetrics(t.Context(), model.PlanMetrics{TenantID: "t_it", PlanID: pl.ID, Policy: "fixed", Iterations: 3}); err != nil {
		t.Fatalf("SavePlanMetrics: %v", err)
	}
	if _, _, err := p.ListPlans(t.Context(), "t_it", "", "", 1); err != nil { t.Fatalf("ListPlans: %v", err) }
}
