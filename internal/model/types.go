package model

import (
	"math"
	"time"

	"carrierplan/internal/opt"
)

// Instance input. Locations are referenced by city name.

type City struct {
	Name string  `json:"name" yaml:"name"`
	Lat  float64 `json:"lat,omitempty" yaml:"lat"`
	Lng  float64 `json:"lng,omitempty" yaml:"lng"`
}

type Road struct {
	From   string  `json:"from" yaml:"from"`
	To     string  `json:"to" yaml:"to"`
	Length float64 `json:"length" yaml:"length"`
}

// TopologySpec describes the city network. Exactly one of Roads, Matrix or
// city coordinates is used: Matrix first, then Roads, then coordinates.
type TopologySpec struct {
	Cities []City      `json:"cities" yaml:"cities"`
	Roads  []Road      `json:"roads,omitempty" yaml:"roads"`
	Matrix [][]float64 `json:"matrix,omitempty" yaml:"matrix"`
}

type CarrierIn struct {
	ID              string  `json:"id" yaml:"id"`
	Capacity        float64 `json:"capacity" yaml:"capacity"`
	CostPerDistance float64 `json:"costPerDistance" yaml:"cost_per_distance"`
	Home            string  `json:"home" yaml:"home"`
}

type TaskIn struct {
	ID       string  `json:"id" yaml:"id"`
	Pickup   string  `json:"pickup" yaml:"pickup"`
	Delivery string  `json:"delivery" yaml:"delivery"`
	Weight   float64 `json:"weight" yaml:"weight"`
	Reward   float64 `json:"reward,omitempty" yaml:"reward"`
}

type PlanRequest struct {
	TenantID       string                `json:"tenantId,omitempty" yaml:"tenant_id"`
	Topology       TopologySpec          `json:"topology" yaml:"topology"`
	Carriers       []CarrierIn           `json:"carriers" yaml:"carriers"`
	Tasks          []TaskIn              `json:"tasks" yaml:"tasks"`
	TimeBudgetMs   int                   `json:"timeBudgetMs,omitempty" yaml:"time_budget_ms"`
	MaxIterations  int                   `json:"maxIterations,omitempty" yaml:"max_iterations"`
	Seed           *int64                `json:"seed,omitempty" yaml:"seed"`
	Acceptance     *opt.AcceptanceConfig `json:"acceptance,omitempty" yaml:"acceptance"`
	Async          bool                  `json:"async,omitempty" yaml:"-"`
	CallbackURL    string                `json:"callbackUrl,omitempty" yaml:"-"`
	CallbackSecret string                `json:"callbackSecret,omitempty" yaml:"-"`
}

// Plan output.

type StopOut struct {
	Kind     string `json:"kind"`
	TaskID   string `json:"taskId"`
	Location string `json:"location"`
}

type CarrierPlan struct {
	CarrierID string    `json:"carrierId"`
	Stops     []StopOut `json:"stops"`
	Cost      float64   `json:"cost"`
}

const (
	PlanQueued  = "queued"
	PlanRunning = "running"
	PlanDone    = "done"
	PlanFailed  = "failed"
)

type Plan struct {
	ID          string        `json:"id"`
	TenantID    string        `json:"tenantId"`
	Source      string        `json:"source,omitempty"` // "request" or "auction:<id>"
	Status      string        `json:"status"`
	Error       string        `json:"error,omitempty"`
	TotalCost   float64       `json:"totalCost"`
	Routes      []CarrierPlan `json:"routes,omitempty"`
	CreatedAt   time.Time     `json:"createdAt"`
	CompletedAt *time.Time    `json:"completedAt,omitempty"`
}

// PlanMetrics is the persisted summary of one search run.
type PlanMetrics struct {
	PlanID        string         `json:"planId"`
	TenantID      string         `json:"tenantId"`
	Policy        string         `json:"policy"`
	Tasks         int            `json:"tasks"`
	Carriers      int            `json:"carriers"`
	Iterations    int            `json:"iterations"`
	Candidates    int            `json:"candidates"`
	Infeasible    int            `json:"infeasible"`
	Accepted      int            `json:"accepted"`
	AcceptedWorse int            `json:"acceptedWorse"`
	Improvements  int            `json:"improvements"`
	InitialCost   float64        `json:"initialCost"`
	BestCost      float64        `json:"bestCost"`
	FinalCost     float64        `json:"finalCost"`
	ElapsedMs     int64          `json:"elapsedMs"`
	Snapshots     []opt.Snapshot `json:"snapshots,omitempty"`
	CreatedAt     time.Time      `json:"createdAt"`
}

// Millis converts a millisecond count to a Duration. Negative counts give 0
// and counts beyond the Duration range saturate instead of wrapping.
func Millis(ms int) time.Duration {
	if ms <= 0 {
		return 0
	}
	if int64(ms) > math.MaxInt64/int64(time.Millisecond) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(ms) * time.Millisecond
}

// OptimizerConfig holds search defaults. A tenant override replaces the
// service defaults field by field where the override is non-zero.
type OptimizerConfig struct {
	TimeBudgetMs         int                  `json:"timeBudgetMs,omitempty" yaml:"time_budget_ms"`
	SafetyMarginMs       int                  `json:"safetyMarginMs,omitempty" yaml:"safety_margin_ms"`
	MaxIterations        int                  `json:"maxIterations,omitempty" yaml:"max_iterations"`
	Acceptance           opt.AcceptanceConfig `json:"acceptance" yaml:"acceptance"`
	InsertionThresholdMs int                  `json:"insertionThresholdMs,omitempty" yaml:"insertion_threshold_ms"`
	BidMarkup            float64              `json:"bidMarkup,omitempty" yaml:"bid_markup"`
	MinBid               float64              `json:"minBid,omitempty" yaml:"min_bid"`
}

// Merge overlays the non-zero fields of o onto c.
func (c OptimizerConfig) Merge(o OptimizerConfig) OptimizerConfig {
	if o.TimeBudgetMs > 0 {
		c.TimeBudgetMs = o.TimeBudgetMs
	}
	if o.SafetyMarginMs > 0 {
		c.SafetyMarginMs = o.SafetyMarginMs
	}
	if o.MaxIterations > 0 {
		c.MaxIterations = o.MaxIterations
	}
	if o.Acceptance.Policy != "" {
		c.Acceptance = o.Acceptance
	}
	if o.InsertionThresholdMs > 0 {
		c.InsertionThresholdMs = o.InsertionThresholdMs
	}
	if o.BidMarkup > 0 {
		c.BidMarkup = o.BidMarkup
	}
	if o.MinBid > 0 {
		c.MinBid = o.MinBid
	}
	return c
}

// Auctions.

type AuctionRequest struct {
	TenantID string       `json:"tenantId,omitempty"`
	Topology TopologySpec `json:"topology"`
	Carriers []CarrierIn  `json:"carriers"`
	Seed     *int64       `json:"seed,omitempty"`
}

type Auction struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenantId"`
	Carriers  int       `json:"carriers"`
	Won       []string  `json:"won"`
	Reward    float64   `json:"reward"`
	Cost      float64   `json:"cost"`
	Pending   string    `json:"pending,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

type BidRequest struct {
	Task      TaskIn `json:"task"`
	TimeoutMs int    `json:"timeoutMs,omitempty"`
}

type BidResponse struct {
	TaskID   string   `json:"taskId"`
	Bid      *float64 `json:"bid"` // nil declines
	Marginal float64  `json:"marginal"`
	Mode     string   `json:"mode,omitempty"`
	Carrier  string   `json:"carrier,omitempty"`
	Reason   string   `json:"reason,omitempty"`
}

type AuctionResult struct {
	TaskID string  `json:"taskId"`
	Won    bool    `json:"won"`
	Price  float64 `json:"price,omitempty"`
}
