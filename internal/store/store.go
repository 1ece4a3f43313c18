package store

import (
	"context"
	"errors"

	"carrierplan/internal/model"
)

// Store is the persistence interface used by the planner and the API server.
type Store interface {
	// Plans
	CreatePlan(ctx context.Context, p model.Plan) (model.Plan, error)
	UpdatePlan(ctx context.Context, p model.Plan) error
	GetPlan(ctx context.Context, tenantID, planID string) (model.Plan, error)
	ListPlans(ctx context.Context, tenantID, status, cursor string, limit int) (items []model.Plan, nextCursor string, err error)

	// Search metrics
	SavePlanMetrics(ctx context.Context, m model.PlanMetrics) error
	ListPlanMetrics(ctx context.Context, tenantID, planID, policy string) ([]model.PlanMetrics, error)

	// Optimizer config per tenant; nil when the tenant has no override.
	GetOptimizerConfig(ctx context.Context, tenantID string) (*model.OptimizerConfig, error)
	SaveOptimizerConfig(ctx context.Context, tenantID string, cfg model.OptimizerConfig) error
}

var ErrNotFound = errors.New("not found")

const defaultLimit = 100

func clampLimit(limit int) int {
	if limit <= 0 || limit > 500 {
		return defaultLimit
	}
	return limit
}
