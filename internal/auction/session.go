package auction

import (
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"carrierplan/internal/model"
	"carrierplan/internal/opt"
	"carrierplan/internal/planner"
)

var (
	ErrUnknownAuction = errors.New("auction: not found")
	ErrTaskMismatch   = errors.New("auction: result does not match the pending bid")
)

// Session is one open auction of a tenant. Its methods serialize access to
// the bidder.
type Session struct {
	ID        string
	TenantID  string
	CreatedAt time.Time

	mu     sync.Mutex
	bidder *Bidder
	cfg    model.OptimizerConfig
}

// Registry keeps the open auctions in memory.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	clock    opt.Clock
	log      *log.Entry
}

func NewRegistry(clock opt.Clock, logger *log.Entry) *Registry {
	if logger == nil {
		logger = log.WithField("component", "auction")
	}
	return &Registry{sessions: map[string]*Session{}, clock: clock, log: logger}
}

// Open starts an auction for the fleet in req, priced with cfg.
func (r *Registry) Open(tenantID string, req model.AuctionRequest, cfg model.OptimizerConfig) (*Session, error) {
	in, err := planner.NewInstance(req.Topology, req.Carriers, nil)
	if err != nil {
		return nil, err
	}
	seed := time.Now().UnixNano()
	if req.Seed != nil {
		seed = *req.Seed
	}
	s := &Session{ID: uuid.NewString(), TenantID: tenantID, CreatedAt: time.Now().UTC(), cfg: cfg}
	s.bidder = NewBidder(in, Options{
		Markup:             cfg.BidMarkup,
		MinBid:             cfg.MinBid,
		InsertionThreshold: model.Millis(cfg.InsertionThresholdMs),
		SafetyMargin:       model.Millis(cfg.SafetyMarginMs),
		Rand:               rand.New(rand.NewSource(seed)),
		Clock:              r.clock,
		Logger:             r.log.WithFields(log.Fields{"auction": s.ID, "tenant": tenantID}),
	})
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID] = s
	r.log.Infof("[auction] opened %s for tenant %s with %d carriers", s.ID, tenantID, in.Problem.NumCarriers())
	return s, nil
}

// Get returns the tenant's auction id.
func (r *Registry) Get(tenantID, id string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok || s.TenantID != tenantID {
		return nil, ErrUnknownAuction
	}
	return s, nil
}

// Close forgets the auction.
func (r *Registry) Close(tenantID, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok || s.TenantID != tenantID {
		return ErrUnknownAuction
	}
	delete(r.sessions, id)
	return nil
}

// Bid answers a bid request. A task no carrier can take is declined with a
// reason instead of an error.
func (s *Session) Bid(req model.BidRequest) (model.BidResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, err := s.bidder.Bid(req.Task, model.Millis(req.TimeoutMs))
	if errors.Is(err, opt.ErrNoFeasibleInsertion) {
		return model.BidResponse{TaskID: req.Task.ID, Reason: err.Error()}, nil
	}
	if err != nil {
		return model.BidResponse{}, err
	}
	price := b.Price
	return model.BidResponse{TaskID: b.TaskID, Bid: &price, Marginal: b.Marginal, Mode: b.Mode.String(), Carrier: b.Carrier}, nil
}

// Settle applies the auction outcome for the pending bid. A zero price on a
// won task charges the bid price.
func (s *Session) Settle(res model.AuctionResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	pending, ok := s.bidder.Pending()
	if !ok {
		return ErrNoPendingBid
	}
	if res.TaskID != "" && res.TaskID != pending {
		return fmt.Errorf("%w: pending %q, got %q", ErrTaskMismatch, pending, res.TaskID)
	}
	price := res.Price
	if res.Won && price == 0 {
		price = s.bidder.pending.bid.Price
	}
	return s.bidder.Settle(res.Won, price)
}

func (s *Session) Summary() model.Auction {
	s.mu.Lock()
	defer s.mu.Unlock()
	pending, _ := s.bidder.Pending()
	return model.Auction{
		ID:        s.ID,
		TenantID:  s.TenantID,
		Carriers:  s.bidder.Instance().Problem.NumCarriers(),
		Won:       s.bidder.Won(),
		Reward:    s.bidder.Reward(),
		Cost:      s.bidder.Cost(),
		Pending:   pending,
		CreatedAt: s.CreatedAt,
	}
}

// FinalPlan re-optimizes the won tasks. A non-positive budget uses the
// auction's configured time budget.
func (s *Session) FinalPlan(budget time.Duration, acc *opt.AcceptanceConfig) (*planner.Instance, *opt.Solution, opt.Metrics, opt.AcceptanceConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if budget <= 0 {
		budget = model.Millis(s.cfg.TimeBudgetMs)
	}
	a := s.cfg.Acceptance
	if acc != nil {
		a = *acc
	}
	if a.Policy == "" {
		a = opt.DefaultAcceptance()
	}
	best, m := s.bidder.FinalPlan(budget, a)
	return s.bidder.Instance(), best, m, a
}
