package opt

import (
	"fmt"
	"math"
	"time"
)

// EstimateMode selects how EstimateMarginalCost places the new task.
type EstimateMode int

const (
	// ModeAuto uses cheapest insertion when enough time remains, append otherwise.
	ModeAuto EstimateMode = iota
	// ModeCheapestInsertion tries every pickup/delivery position pair on every carrier.
	ModeCheapestInsertion
	// ModeAppend appends the pair to one designated carrier.
	ModeAppend
	// ModeFirstTask assigns the pair to the largest carrier of an empty solution.
	ModeFirstTask
)

func (m EstimateMode) String() string {
	switch m {
	case ModeCheapestInsertion:
		return "cheapest_insertion"
	case ModeAppend:
		return "append"
	case ModeFirstTask:
		return "first_task"
	default:
		return "auto"
	}
}

type EstimateOptions struct {
	Mode EstimateMode
	// Carrier designated for ModeAppend; negative selects the largest carrier.
	Carrier int
	// Remaining and Threshold drive ModeAuto.
	Remaining time.Duration
	Threshold time.Duration
}

// Estimate is the result of inserting one extra task into a solution.
type Estimate struct {
	Marginal float64
	Solution *Solution
	Carrier  int
	Mode     EstimateMode
}

// EstimateMarginalCost returns the cost increase of adding task t to s along
// with the resulting solution. s is not modified. ErrNoFeasibleInsertion is
// returned when no carrier can take the task.
func EstimateMarginalCost(s *Solution, t int, o EstimateOptions) (Estimate, error) {
	if t < 0 || t >= s.p.NumTasks() {
		return Estimate{}, fmt.Errorf("estimate: unknown task index %d", t)
	}
	if c, ok := s.Holds(t); ok {
		return Estimate{}, fmt.Errorf("estimate: task %q already carried by carrier %d", s.p.tasks[t].ID, c)
	}

	mode := o.Mode
	if s.NumTasks() == 0 {
		mode = ModeFirstTask
	} else if mode == ModeAuto {
		mode = ModeAppend
		if o.Remaining >= o.Threshold {
			mode = ModeCheapestInsertion
		}
	}

	switch mode {
	case ModeCheapestInsertion:
		return cheapestInsertion(s, t)
	case ModeFirstTask:
		return appendTask(s, t, s.p.LargestCarrier(), ModeFirstTask)
	default:
		c := o.Carrier
		if c < 0 || c >= s.p.NumCarriers() {
			c = s.p.LargestCarrier()
		}
		return appendTask(s, t, c, ModeAppend)
	}
}

func appendTask(s *Solution, t, c int, mode EstimateMode) (Estimate, error) {
	r := s.routes[c]
	if r.EndLoad(s.p)+s.p.tasks[t].Weight > s.p.carriers[c].Capacity+loadEpsilon {
		return Estimate{}, ErrNoFeasibleInsertion
	}
	stops := make([]Stop, 0, r.Len()+2)
	stops = append(stops, r.stops...)
	stops = append(stops, PickupOf(t), DeliveryOf(t))
	out := s.clone()
	out.replace(c, buildRoute(s.p, c, stops))
	return Estimate{Marginal: out.cost - s.cost, Solution: out, Carrier: c, Mode: mode}, nil
}

// cheapestInsertion is O(carriers × n³): O(n²) position pairs per route, each
// scored with a full route walk.
func cheapestInsertion(s *Solution, t int) (Estimate, error) {
	p, d := PickupOf(t), DeliveryOf(t)
	bestDelta := math.Inf(1)
	var bestStops []Stop
	bestCarrier := -1

	for c, r := range s.routes {
		if s.p.tasks[t].Weight > s.p.carriers[c].Capacity+loadEpsilon {
			continue
		}
		n := r.Len()
		trial := make([]Stop, n+2)
		for i := 0; i <= n; i++ {
			for j := i + 1; j <= n+1; j++ {
				fillTrial(trial, r.stops, p, d, i, j)
				if !CapacityFeasible(s.p, c, trial) {
					continue
				}
				if delta := RouteCost(s.p, c, trial) - r.cost; delta < bestDelta {
					bestDelta = delta
					bestStops = append(bestStops[:0], trial...)
					bestCarrier = c
				}
			}
		}
	}
	if bestCarrier < 0 {
		return Estimate{}, ErrNoFeasibleInsertion
	}
	out := s.clone()
	out.replace(bestCarrier, buildRoute(s.p, bestCarrier, append([]Stop(nil), bestStops...)))
	return Estimate{Marginal: out.cost - s.cost, Solution: out, Carrier: bestCarrier, Mode: ModeCheapestInsertion}, nil
}

// fillTrial writes base with p inserted at index i and d at index j of the
// resulting sequence (i < j).
func fillTrial(trial, base []Stop, p, d Stop, i, j int) {
	k := 0
	for idx := range trial {
		switch idx {
		case i:
			trial[idx] = p
		case j:
			trial[idx] = d
		default:
			trial[idx] = base[k]
			k++
		}
	}
}
