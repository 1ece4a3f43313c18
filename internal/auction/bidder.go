// Package auction prices transport tasks in a sealed-bid auction. A Bidder
// owns a private problem and solution; each bid estimates the marginal cost
// of carrying one more task and stays pending until the auction settles it.
package auction

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	log "github.com/sirupsen/logrus"

	"carrierplan/internal/metrics"
	"carrierplan/internal/model"
	"carrierplan/internal/opt"
	"carrierplan/internal/planner"
)

var (
	ErrNoPendingBid  = errors.New("auction: no pending bid")
	ErrDuplicateTask = errors.New("auction: task already offered")
)

type Options struct {
	Markup             float64       // relative margin over the marginal cost
	MinBid             float64       // floor for every priced bid
	InsertionThreshold time.Duration // cheapest insertion needs at least this much time
	SafetyMargin       time.Duration
	Rand               *rand.Rand
	Clock              opt.Clock
	Logger             *log.Entry
}

// Bid is a priced proposal for one task.
type Bid struct {
	TaskID   string
	Price    float64
	Marginal float64
	Mode     opt.EstimateMode
	Carrier  string
}

type proposal struct {
	task  int
	bid   Bid
	after *opt.Solution
}

type Bidder struct {
	in      *planner.Instance
	opts    Options
	sol     *opt.Solution
	offered map[string]bool
	pending *proposal
	won     []int
	reward  float64
	log     *log.Entry
}

func NewBidder(in *planner.Instance, o Options) *Bidder {
	if o.Rand == nil {
		o.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if o.Logger == nil {
		o.Logger = log.WithField("component", "auction")
	}
	return &Bidder{in: in, opts: o, sol: opt.NewSolution(in.Problem), offered: map[string]bool{}, log: o.Logger}
}

// Bid estimates the cost of adding t to the committed tasks and prices it.
// With a positive timeout, cheapest insertion runs only when the timeout less
// the safety margin reaches the insertion threshold; otherwise the task is
// appended. A previous unsettled proposal is discarded.
func (b *Bidder) Bid(t model.TaskIn, timeout time.Duration) (Bid, error) {
	if b.offered[t.ID] {
		return Bid{}, fmt.Errorf("%w: %q", ErrDuplicateTask, t.ID)
	}
	idx, err := b.in.AddTask(t)
	if err != nil {
		return Bid{}, err
	}
	b.offered[t.ID] = true
	if b.pending != nil {
		b.log.Warnf("[auction] discarding unsettled bid for %s", b.pending.bid.TaskID)
		b.pending = nil
	}

	o := opt.EstimateOptions{Mode: opt.ModeCheapestInsertion, Carrier: -1}
	if timeout > 0 {
		o.Mode = opt.ModeAuto
		o.Remaining = timeout - b.opts.SafetyMargin
		o.Threshold = b.opts.InsertionThreshold
	}
	est, err := opt.EstimateMarginalCost(b.sol, idx, o)
	if err != nil {
		metrics.Bids.WithLabelValues("declined", o.Mode.String()).Inc()
		b.log.Infof("[auction] declining %s: %v", t.ID, err)
		return Bid{}, err
	}
	bid := Bid{
		TaskID:   t.ID,
		Price:    math.Max(est.Marginal*(1+b.opts.Markup), b.opts.MinBid),
		Marginal: est.Marginal,
		Mode:     est.Mode,
		Carrier:  b.in.Problem.Carrier(est.Carrier).ID,
	}
	b.pending = &proposal{task: idx, bid: bid, after: est.Solution}
	metrics.Bids.WithLabelValues("priced", est.Mode.String()).Inc()
	b.log.Debugf("[auction] bid %s: marginal %.3f price %.3f via %s on %s", t.ID, bid.Marginal, bid.Price, bid.Mode, bid.Carrier)
	return bid, nil
}

// Pending returns the task id of the unsettled proposal, if any.
func (b *Bidder) Pending() (string, bool) {
	if b.pending == nil {
		return "", false
	}
	return b.pending.bid.TaskID, true
}

// Settle commits the pending proposal when won, at the given price, and
// discards it otherwise.
func (b *Bidder) Settle(won bool, price float64) error {
	if b.pending == nil {
		return ErrNoPendingBid
	}
	p := b.pending
	b.pending = nil
	if !won {
		metrics.Bids.WithLabelValues("lost", p.bid.Mode.String()).Inc()
		return nil
	}
	b.sol = p.after
	b.won = append(b.won, p.task)
	b.reward += price
	metrics.Bids.WithLabelValues("won", p.bid.Mode.String()).Inc()
	return nil
}

// Won lists the ids of committed tasks in the order they were won.
func (b *Bidder) Won() []string {
	out := make([]string, len(b.won))
	for i, t := range b.won {
		out[i] = b.in.Problem.Task(t).ID
	}
	return out
}

func (b *Bidder) Reward() float64             { return b.reward }
func (b *Bidder) Cost() float64               { return b.sol.TotalCost() }
func (b *Bidder) Solution() *opt.Solution     { return b.sol }
func (b *Bidder) Instance() *planner.Instance { return b.in }

// FinalPlan re-optimizes the committed tasks within budget and adopts the
// best solution found.
func (b *Bidder) FinalPlan(budget time.Duration, acc opt.AcceptanceConfig) (*opt.Solution, opt.Metrics) {
	d := opt.NewDriver(b.in.Problem, opt.DriverConfig{
		Rand:         b.opts.Rand,
		Clock:        b.opts.Clock,
		SafetyMargin: b.opts.SafetyMargin,
		Logger:       b.log,
	})
	best, m := d.Search(b.sol, budget, acc)
	b.sol = best
	return best, m
}
