package opt

import (
	"fmt"
	"math"
	"math/rand"
	"time"

	log "github.com/sirupsen/logrus"
)

// State of a Driver.
type State int

const (
	StateInitializing State = iota
	StateSearching
	StateDone
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateSearching:
		return "searching"
	default:
		return "done"
	}
}

// Policy selects how the driver accepts the best neighbor of a round.
type Policy string

const (
	// PolicyFixed moves to the selected neighbor with a fixed probability.
	PolicyFixed Policy = "fixed"
	// PolicyAnnealing always takes improving neighbors and takes worse ones
	// with probability exp(-beta*delta); beta grows every iteration.
	PolicyAnnealing Policy = "annealing"
)

type AcceptanceConfig struct {
	Policy      Policy  `json:"policy" yaml:"policy"`
	Probability float64 `json:"probability,omitempty" yaml:"probability"`
	InitialBeta float64 `json:"initialBeta,omitempty" yaml:"initial_beta"`
	BetaGrowth  float64 `json:"betaGrowth,omitempty" yaml:"beta_growth"`
}

// DefaultAcceptance is the fixed-probability policy with p = 0.4.
func DefaultAcceptance() AcceptanceConfig {
	return AcceptanceConfig{Policy: PolicyFixed, Probability: 0.4, InitialBeta: 0.01, BetaGrowth: 1.002}
}

func (a AcceptanceConfig) Validate() error {
	switch a.Policy {
	case PolicyFixed:
		if a.Probability < 0 || a.Probability > 1 {
			return fmt.Errorf("acceptance: probability must be in [0,1], got %g", a.Probability)
		}
	case PolicyAnnealing:
		if a.InitialBeta < 0 {
			return fmt.Errorf("acceptance: initialBeta must be >= 0, got %g", a.InitialBeta)
		}
		if a.BetaGrowth < 1 {
			return fmt.Errorf("acceptance: betaGrowth must be >= 1, got %g", a.BetaGrowth)
		}
	default:
		return fmt.Errorf("acceptance: unknown policy %q (allowed: fixed, annealing)", a.Policy)
	}
	return nil
}

// Clock is the monotonic time source of the driver.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// DriverConfig holds the collaborators and tuning knobs of a Driver. Zero
// values select defaults.
type DriverConfig struct {
	Rand          *rand.Rand
	Clock         Clock
	SafetyMargin  time.Duration // reserved for result extraction
	BatchSize     int           // neighbors sampled per iteration
	MaxIterations int           // optional iteration cap
	SnapshotEvery int
	// OnImprove is called with every new best-known cost.
	OnImprove func(iteration int, cost float64)
	Logger    *log.Entry
}

type Snapshot struct {
	Iteration int     `json:"iteration"`
	Best      float64 `json:"best"`
	Current   float64 `json:"current"`
}

type Metrics struct {
	Iterations    int           `json:"iterations"`
	Candidates    int           `json:"candidates"`
	Infeasible    int           `json:"infeasible"`
	Accepted      int           `json:"accepted"`
	AcceptedWorse int           `json:"acceptedWorse"`
	Improvements  int           `json:"improvements"`
	InitialCost   float64       `json:"initialCost"`
	BestCost      float64       `json:"bestCost"`
	FinalCost     float64       `json:"finalCost"`
	Elapsed       time.Duration `json:"elapsedNs"`
	Snapshots     []Snapshot    `json:"snapshots,omitempty"`
}

// Driver runs the anytime local search over one Problem. A Driver is owned by
// a single goroutine.
type Driver struct {
	p     *Problem
	cfg   DriverConfig
	rng   *rand.Rand
	clock Clock
	log   *log.Entry
	state State
}

func NewDriver(p *Problem, cfg DriverConfig) *Driver {
	d := &Driver{p: p, cfg: cfg, rng: cfg.Rand, clock: cfg.Clock, log: cfg.Logger}
	if d.rng == nil {
		d.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if d.clock == nil {
		d.clock = systemClock{}
	}
	if d.log == nil {
		d.log = log.WithField("component", "opt")
	}
	return d
}

func (d *Driver) State() State { return d.state }

// Rand exposes the driver's random source, shared with the operators it samples.
func (d *Driver) Rand() *rand.Rand { return d.rng }

// BuildInitial constructs the starting solution. Failure leaves the driver in
// StateInitializing.
func (d *Driver) BuildInitial() (*Solution, error) {
	d.state = StateInitializing
	s, err := BuildInitialSolution(d.p, d.rng)
	if err != nil {
		d.log.Warnf("[opt] initial assignment failed: %v", err)
		return nil, err
	}
	d.log.Debugf("[opt] initial solution: %d tasks, cost %.3f", s.NumTasks(), s.TotalCost())
	return s, nil
}

// BatchSize is the number of neighbors sampled per iteration for a fleet of
// carriers serving tasks.
func BatchSize(carriers, tasks int) int {
	n := 2*carriers + tasks
	if n < 8 {
		n = 8
	}
	if n > 512 {
		n = 512
	}
	return n
}

func (d *Driver) margin(budget time.Duration) time.Duration {
	if d.cfg.SafetyMargin > 0 {
		return d.cfg.SafetyMargin
	}
	m := budget / 20
	if m > 50*time.Millisecond {
		m = 50 * time.Millisecond
	}
	return m
}

// Search improves initial until the budget, less the safety margin, runs out
// and returns the best solution seen. It never fails: a budget too small for a
// single iteration returns initial unchanged.
func (d *Driver) Search(initial *Solution, budget time.Duration, acc AcceptanceConfig) (*Solution, Metrics) {
	start := d.clock.Now()
	deadline := start.Add(budget - d.margin(budget))
	d.state = StateSearching

	curr, best := initial, initial
	m := Metrics{InitialCost: initial.cost, BestCost: initial.cost}
	batch := d.cfg.BatchSize
	if batch <= 0 {
		batch = BatchSize(d.p.NumCarriers(), initial.NumTasks())
	}
	snapshotEvery := d.cfg.SnapshotEvery
	if snapshotEvery <= 0 {
		snapshotEvery = 50
	}
	beta := acc.InitialBeta

	for initial.NumTasks() > 0 && d.clock.Now().Before(deadline) {
		if d.cfg.MaxIterations > 0 && m.Iterations >= d.cfg.MaxIterations {
			break
		}
		m.Iterations++
		cand, tried, failed := d.sampleBest(curr, batch)
		m.Candidates += tried
		m.Infeasible += failed
		if cand != nil {
			if d.accept(acc, beta, cand.cost-curr.cost) {
				if cand.cost > curr.cost {
					m.AcceptedWorse++
				}
				m.Accepted++
				curr = cand
			}
			if cand.cost < best.cost {
				best = cand
				m.Improvements++
				m.BestCost = best.cost
				d.log.Debugf("[opt] iteration %d: best cost %.3f", m.Iterations, best.cost)
				if d.cfg.OnImprove != nil {
					d.cfg.OnImprove(m.Iterations, best.cost)
				}
			}
		}
		if acc.Policy == PolicyAnnealing {
			beta *= acc.BetaGrowth
		}
		if m.Iterations%snapshotEvery == 0 {
			m.Snapshots = append(m.Snapshots, Snapshot{Iteration: m.Iterations, Best: best.cost, Current: curr.cost})
		}
	}

	d.state = StateDone
	m.FinalCost = curr.cost
	m.Elapsed = d.clock.Now().Sub(start)
	d.log.Infof("[opt] search done: %d iterations, best cost %.3f (initial %.3f) in %v",
		m.Iterations, best.cost, initial.cost, m.Elapsed)
	return best, m
}

// sampleBest draws batch random neighbors of curr and returns the cheapest
// feasible one, breaking cost ties uniformly at random.
func (d *Driver) sampleBest(curr *Solution, batch int) (*Solution, int, int) {
	busy := make([]int, 0, len(curr.routes))
	for c, r := range curr.routes {
		if r.Len() > 0 {
			busy = append(busy, c)
		}
	}
	nc := len(curr.routes)

	var best *Solution
	ties, failed := 0, 0
	for k := 0; k < batch; k++ {
		src := busy[d.rng.Intn(len(busy))]
		n := curr.routes[src].Len()
		var cand *Solution
		var err error
		if nc > 1 && d.rng.Intn(2) == 0 {
			dst := d.rng.Intn(nc - 1)
			if dst >= src {
				dst++
			}
			cand, err = RelocateTask(curr, src, d.rng.Intn(n), dst)
		} else {
			cand, err = SwapStops(curr, src, d.rng.Intn(n), d.rng.Intn(n))
		}
		if err != nil {
			failed++
			continue
		}
		switch {
		case best == nil || cand.cost < best.cost-costTolerance:
			best, ties = cand, 1
		case math.Abs(cand.cost-best.cost) <= costTolerance:
			ties++
			if d.rng.Intn(ties) == 0 {
				best = cand
			}
		}
	}
	return best, batch, failed
}

func (d *Driver) accept(acc AcceptanceConfig, beta, delta float64) bool {
	switch acc.Policy {
	case PolicyAnnealing:
		if delta <= 0 {
			return true
		}
		return d.rng.Float64() < math.Exp(-beta*delta)
	default:
		return d.rng.Float64() < acc.Probability
	}
}
