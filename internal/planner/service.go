// Package planner runs centralized fleet planning requests: it builds the
// problem instance, runs the local search within the tenant's time budget,
// streams progress events and persists the plan with its search metrics.
package planner

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"carrierplan/internal/metrics"
	"carrierplan/internal/model"
	"carrierplan/internal/opt"
	"carrierplan/internal/store"
	"carrierplan/internal/webhooks"
)

// Plan event types.
const (
	EventStarted   = "plan.started"
	EventImproved  = "plan.improved"
	EventCompleted = "plan.completed"
	EventFailed    = "plan.failed"
)

// MaxTimeBudget bounds a single search.
const MaxTimeBudget = 5 * time.Minute

// Events receives plan progress. Implementations must be safe for concurrent use.
type Events interface {
	Publish(planID, eventType string, data map[string]any)
}

type Options struct {
	Events   Events
	Webhooks *webhooks.Notifier
	Clock    opt.Clock
	Logger   *log.Entry
}

type Service struct {
	store    store.Store
	defaults model.OptimizerConfig
	events   Events
	hooks    *webhooks.Notifier
	clock    opt.Clock
	log      *log.Entry
	wg       sync.WaitGroup
}

type noEvents struct{}

func (noEvents) Publish(string, string, map[string]any) {}

func New(st store.Store, defaults model.OptimizerConfig, o Options) *Service {
	s := &Service{store: st, defaults: defaults, events: o.Events, hooks: o.Webhooks, clock: o.Clock, log: o.Logger}
	if s.events == nil {
		s.events = noEvents{}
	}
	if s.log == nil {
		s.log = log.WithField("component", "planner")
	}
	return s
}

// Config returns the service defaults overlaid with the tenant override.
func (s *Service) Config(ctx context.Context, tenantID string) (model.OptimizerConfig, error) {
	cfg := s.defaults
	o, err := s.store.GetOptimizerConfig(ctx, tenantID)
	if err != nil {
		return cfg, fmt.Errorf("optimizer config: %w", err)
	}
	if o != nil {
		cfg = cfg.Merge(*o)
	}
	return cfg, nil
}

func (s *Service) Defaults() model.OptimizerConfig { return s.defaults }

type run struct {
	plan     model.Plan
	in       *Instance
	budget   time.Duration
	margin   time.Duration
	maxIter  int
	acc      opt.AcceptanceConfig
	seed     int64
	callback string
	secret   string
}

// Plan validates req and plans it. Synchronous requests return the finished
// plan; asynchronous ones return the queued plan immediately and finish in the
// background. Instances with a task heavier than every carrier fail with an
// *opt.InfeasibleTaskError before any plan is recorded.
func (s *Service) Plan(ctx context.Context, tenantID string, req model.PlanRequest) (model.Plan, error) {
	in, err := NewInstance(req.Topology, req.Carriers, req.Tasks)
	if err != nil {
		return model.Plan{}, err
	}
	if err := opt.CheckCapacity(in.Problem, allTasks(in.Problem)); err != nil {
		return model.Plan{}, err
	}
	cfg, err := s.Config(ctx, tenantID)
	if err != nil {
		return model.Plan{}, err
	}
	r := run{
		in:       in,
		budget:   model.Millis(cfg.TimeBudgetMs),
		margin:   model.Millis(cfg.SafetyMarginMs),
		maxIter:  cfg.MaxIterations,
		acc:      cfg.Acceptance,
		seed:     time.Now().UnixNano(),
		callback: req.CallbackURL,
		secret:   req.CallbackSecret,
	}
	if req.TimeBudgetMs > 0 {
		r.budget = model.Millis(req.TimeBudgetMs)
	}
	if r.budget > MaxTimeBudget {
		r.budget = MaxTimeBudget
	}
	if req.MaxIterations > 0 {
		r.maxIter = req.MaxIterations
	}
	if req.Acceptance != nil {
		r.acc = *req.Acceptance
	}
	if r.acc.Policy == "" {
		r.acc = opt.DefaultAcceptance()
	}
	if err := r.acc.Validate(); err != nil {
		return model.Plan{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if req.Seed != nil {
		r.seed = *req.Seed
	}

	status := model.PlanRunning
	if req.Async {
		status = model.PlanQueued
	}
	r.plan, err = s.store.CreatePlan(ctx, model.Plan{TenantID: tenantID, Source: "request", Status: status})
	if err != nil {
		return model.Plan{}, fmt.Errorf("create plan: %w", err)
	}
	if !req.Async {
		return s.execute(ctx, r)
	}
	queued := r.plan
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), r.budget+30*time.Second)
		defer cancel()
		r.plan.Status = model.PlanRunning
		if err := s.store.UpdatePlan(ctx, r.plan); err != nil {
			s.log.Warnf("[planner] plan %s: mark running: %v", r.plan.ID, err)
		}
		if _, err := s.execute(ctx, r); err != nil {
			s.log.Warnf("[planner] plan %s: %v", r.plan.ID, err)
		}
	}()
	return queued, nil
}

// Wait blocks until every asynchronous plan has finished.
func (s *Service) Wait() { s.wg.Wait() }

func (s *Service) execute(ctx context.Context, r run) (model.Plan, error) {
	pl := r.plan
	logger := s.log.WithFields(log.Fields{"plan": pl.ID, "tenant": pl.TenantID})
	s.events.Publish(pl.ID, EventStarted, map[string]any{
		"planId": pl.ID, "tasks": r.in.Problem.NumTasks(), "carriers": r.in.Problem.NumCarriers(), "budgetMs": r.budget.Milliseconds(),
	})
	d := opt.NewDriver(r.in.Problem, opt.DriverConfig{
		Rand:          rand.New(rand.NewSource(r.seed)),
		Clock:         s.clock,
		SafetyMargin:  r.margin,
		MaxIterations: r.maxIter,
		Logger:        logger,
		OnImprove: func(iteration int, cost float64) {
			s.events.Publish(pl.ID, EventImproved, map[string]any{"planId": pl.ID, "iteration": iteration, "cost": cost})
		},
	})
	init, err := d.BuildInitial()
	if err != nil {
		return s.fail(ctx, pl, r, err)
	}
	best, m := d.Search(init, r.budget, r.acc)
	if err := best.Validate(allTasks(r.in.Problem)); err != nil {
		return s.fail(ctx, pl, r, err)
	}
	return s.Record(ctx, pl, r.in, best, m, r.acc.Policy, r.callback, r.secret)
}

// Record stores a finished solution on pl, saves its search metrics and
// announces completion.
func (s *Service) Record(ctx context.Context, pl model.Plan, in *Instance, best *opt.Solution, m opt.Metrics, policy opt.Policy, callback, secret string) (model.Plan, error) {
	now := time.Now().UTC()
	pl.Status = model.PlanDone
	pl.Error = ""
	pl.TotalCost = best.TotalCost()
	pl.Routes = in.Routes(best)
	pl.CompletedAt = &now
	if pl.ID == "" {
		var err error
		if pl, err = s.store.CreatePlan(ctx, pl); err != nil {
			return pl, fmt.Errorf("create plan: %w", err)
		}
	} else if err := s.store.UpdatePlan(ctx, pl); err != nil {
		return pl, fmt.Errorf("update plan: %w", err)
	}
	pm := model.PlanMetrics{
		PlanID: pl.ID, TenantID: pl.TenantID, Policy: string(policy),
		Tasks: best.NumTasks(), Carriers: in.Problem.NumCarriers(),
		Iterations: m.Iterations, Candidates: m.Candidates, Infeasible: m.Infeasible,
		Accepted: m.Accepted, AcceptedWorse: m.AcceptedWorse, Improvements: m.Improvements,
		InitialCost: m.InitialCost, BestCost: m.BestCost, FinalCost: m.FinalCost,
		ElapsedMs: m.Elapsed.Milliseconds(), Snapshots: m.Snapshots,
	}
	if err := s.store.SavePlanMetrics(ctx, pm); err != nil {
		s.log.Warnf("[planner] plan %s: save metrics: %v", pl.ID, err)
	}
	metrics.ObserveSearch(string(policy), model.PlanDone, m.Iterations, m.InitialCost, m.BestCost)
	s.events.Publish(pl.ID, EventCompleted, map[string]any{"planId": pl.ID, "totalCost": pl.TotalCost, "iterations": m.Iterations})
	s.notify(callback, secret, pl, EventCompleted)
	s.log.WithField("plan", pl.ID).Infof("[planner] plan done: cost %.3f after %d iterations", pl.TotalCost, m.Iterations)
	return pl, nil
}

func (s *Service) fail(ctx context.Context, pl model.Plan, r run, cause error) (model.Plan, error) {
	now := time.Now().UTC()
	pl.Status = model.PlanFailed
	pl.Error = cause.Error()
	pl.CompletedAt = &now
	if err := s.store.UpdatePlan(ctx, pl); err != nil {
		s.log.Warnf("[planner] plan %s: update failed plan: %v", pl.ID, err)
	}
	metrics.ObserveSearch(string(r.acc.Policy), model.PlanFailed, 0, 0, 0)
	s.events.Publish(pl.ID, EventFailed, map[string]any{"planId": pl.ID, "error": pl.Error})
	s.notify(r.callback, r.secret, pl, EventFailed)
	return pl, cause
}

func (s *Service) notify(url, secret string, pl model.Plan, eventType string) {
	if url == "" || s.hooks == nil {
		return
	}
	s.hooks.Go(url, secret, webhooks.NewEvent(pl.TenantID, eventType, pl))
}

func allTasks(p *opt.Problem) []int {
	out := make([]int, p.NumTasks())
	for i := range out {
		out[i] = i
	}
	return out
}
