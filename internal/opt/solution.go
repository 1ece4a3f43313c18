package opt

import (
	"fmt"
	"math"
)

// costTolerance bounds the drift between the incremental total cost and a
// fresh recomputation.
const costTolerance = 1e-6

// Solution assigns committed tasks to carrier routes. Solutions are values:
// operators return a clone that shares every untouched Route with its parent.
type Solution struct {
	p      *Problem
	routes []*Route
	cost   float64
}

// NewSolution returns a Solution with an empty route for every carrier.
func NewSolution(p *Problem) *Solution {
	s := &Solution{p: p, routes: make([]*Route, p.NumCarriers())}
	for i := range s.routes {
		s.routes[i] = emptyRoute
	}
	return s
}

// clone copies the route table only; routes themselves are shared.
func (s *Solution) clone() *Solution {
	return &Solution{p: s.p, routes: append([]*Route(nil), s.routes...), cost: s.cost}
}

// replace swaps in a new route for carrier c and moves the total cost by the
// route delta.
func (s *Solution) replace(c int, r *Route) {
	s.cost += r.cost - s.routes[c].cost
	s.routes[c] = r
}

func (s *Solution) Problem() *Problem { return s.p }

// TotalCost is the incrementally maintained sum of route costs.
func (s *Solution) TotalCost() float64 { return s.cost }

func (s *Solution) Route(c int) *Route { return s.routes[c] }

// NumTasks counts the tasks held across all routes.
func (s *Solution) NumTasks() int {
	n := 0
	for _, r := range s.routes {
		n += r.Len()
	}
	return n / 2
}

// Holds reports which carrier carries task t.
func (s *Solution) Holds(t int) (int, bool) {
	for c, r := range s.routes {
		if _, ok := r.pos[PickupOf(t)]; ok {
			return c, true
		}
	}
	return -1, false
}

// CarrierRoute is the read view of one carrier's route.
type CarrierRoute struct {
	Carrier int
	Stops   []Stop
	Cost    float64
}

// CarrierRoutes returns every carrier's ordered stops, indexed by carrier.
func (s *Solution) CarrierRoutes() []CarrierRoute {
	out := make([]CarrierRoute, len(s.routes))
	for c, r := range s.routes {
		out[c] = CarrierRoute{Carrier: c, Stops: r.Stops(), Cost: r.cost}
	}
	return out
}

// RecomputeCost sums freshly computed route costs.
func (s *Solution) RecomputeCost() float64 {
	total := 0.0
	for c, r := range s.routes {
		total += r.Recost(s.p, c)
	}
	return total
}

// Validate checks conservation of the given task set, precedence, capacity,
// pairing-index agreement and cost consistency.
func (s *Solution) Validate(tasks []int) error {
	seen := make(map[Stop]int)
	for c, r := range s.routes {
		if len(r.pos) != len(r.stops) {
			return fmt.Errorf("validate: carrier %d: pairing index has %d entries for %d stops", c, len(r.pos), len(r.stops))
		}
		for i, st := range r.stops {
			if n := seen[st]; n > 0 {
				return fmt.Errorf("validate: stop %s appears more than once", st)
			}
			seen[st]++
			if j, ok := r.pos[st]; !ok || j != i {
				return fmt.Errorf("validate: carrier %d: pairing index disagrees for %s", c, st)
			}
			j := r.PartnerPosition(i)
			if j < 0 {
				return fmt.Errorf("validate: carrier %d: %s has no partner in the route", c, st)
			}
			if st.Kind() == Pickup && j <= i {
				return fmt.Errorf("validate: carrier %d: task %d delivered before pickup", c, st.Task())
			}
		}
		if !r.CapacityFeasible(s.p, c) {
			return fmt.Errorf("validate: carrier %d: capacity exceeded", c)
		}
	}
	for _, t := range tasks {
		if seen[PickupOf(t)] != 1 || seen[DeliveryOf(t)] != 1 {
			return fmt.Errorf("validate: task %d is not held exactly once", t)
		}
	}
	if len(seen) != 2*len(tasks) {
		return fmt.Errorf("validate: solution holds %d stops, want %d", len(seen), 2*len(tasks))
	}
	if fresh := s.RecomputeCost(); math.Abs(fresh-s.cost) > costTolerance*math.Max(1, fresh) {
		return fmt.Errorf("validate: total cost %g drifted from recomputed %g", s.cost, fresh)
	}
	return nil
}
