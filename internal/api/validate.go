package api

import (
	"fmt"
	"net/url"

	"carrierplan/internal/model"
	"carrierplan/internal/planner"
)

const (
	maxTasks    = 5000
	maxCarriers = 500
)

// validatePlanRequest checks request-level limits; instance consistency is
// left to the planner.
func validatePlanRequest(req *model.PlanRequest) error {
	if req.TimeBudgetMs < 0 {
		return fmt.Errorf("timeBudgetMs must be >= 0")
	}
	if int64(req.TimeBudgetMs) > planner.MaxTimeBudget.Milliseconds() {
		return fmt.Errorf("timeBudgetMs must be <= %d", planner.MaxTimeBudget.Milliseconds())
	}
	if req.MaxIterations < 0 {
		return fmt.Errorf("maxIterations must be >= 0")
	}
	if len(req.Carriers) == 0 {
		return fmt.Errorf("at least one carrier is required")
	}
	if len(req.Carriers) > maxCarriers {
		return fmt.Errorf("at most %d carriers are allowed", maxCarriers)
	}
	if len(req.Tasks) > maxTasks {
		return fmt.Errorf("at most %d tasks are allowed", maxTasks)
	}
	if req.Acceptance != nil {
		if err := req.Acceptance.Validate(); err != nil {
			return err
		}
	}
	if req.CallbackURL != "" {
		if err := validateCallback(req.CallbackURL); err != nil {
			return err
		}
	}
	for _, c := range req.Carriers {
		if c.Capacity < 0 || c.CostPerDistance < 0 {
			return fmt.Errorf("carrier %q: capacity and costPerDistance must be >= 0", c.ID)
		}
	}
	return nil
}

func validateCallback(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("callbackUrl must be an absolute http(s) URL")
	}
	return nil
}

func validateOptimizerConfig(c *model.OptimizerConfig) error {
	if c.TimeBudgetMs < 0 || c.SafetyMarginMs < 0 || c.MaxIterations < 0 || c.InsertionThresholdMs < 0 {
		return fmt.Errorf("durations and iteration caps must be >= 0")
	}
	if int64(c.TimeBudgetMs) > planner.MaxTimeBudget.Milliseconds() {
		return fmt.Errorf("timeBudgetMs must be <= %d", planner.MaxTimeBudget.Milliseconds())
	}
	if c.BidMarkup < 0 || c.MinBid < 0 {
		return fmt.Errorf("bidMarkup and minBid must be >= 0")
	}
	if c.Acceptance.Policy != "" {
		return c.Acceptance.Validate()
	}
	return nil
}
