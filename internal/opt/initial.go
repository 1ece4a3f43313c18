package opt

import (
	"math"
	"math/rand"
)

// Affinity maps every task to the carrier whose home is closest to the task
// pickup. Ties go to the lowest carrier index.
func Affinity(p *Problem) []int {
	out := make([]int, len(p.tasks))
	for t := range p.tasks {
		best, bestDist := 0, math.MaxFloat64
		for c := range p.carriers {
			if d := p.Distance(p.carriers[c].Home, p.tasks[t].Pickup); d < bestDist {
				best, bestDist = c, d
			}
		}
		out[t] = best
	}
	return out
}

// CheckCapacity verifies that every task fits the largest carrier. It is the
// precondition that keeps overflow placement finite.
func CheckCapacity(p *Problem, tasks []int) error {
	maxCap := p.carriers[p.LargestCarrier()].Capacity
	for _, t := range tasks {
		if w := p.tasks[t].Weight; w > maxCap+loadEpsilon {
			return &InfeasibleTaskError{TaskID: p.tasks[t].ID, Weight: w, MaxCapacity: maxCap}
		}
	}
	return nil
}

// BuildInitialSolution places every task of the problem as a consecutive
// pickup/delivery pair. A task goes to its closest carrier when that carrier
// can hold it; otherwise it waits in an overflow set and is later given to the
// first capacity-feasible carrier of a random probe order.
func BuildInitialSolution(p *Problem, rng *rand.Rand) (*Solution, error) {
	all := make([]int, len(p.tasks))
	for t := range all {
		all[t] = t
	}
	return buildInitial(p, all, rng)
}

func buildInitial(p *Problem, tasks []int, rng *rand.Rand) (*Solution, error) {
	if err := CheckCapacity(p, tasks); err != nil {
		return nil, err
	}
	affinity := Affinity(p)
	stops := make([][]Stop, len(p.carriers))
	var overflow []int
	for _, t := range tasks {
		c := affinity[t]
		if p.tasks[t].Weight > p.carriers[c].Capacity+loadEpsilon {
			overflow = append(overflow, t)
			continue
		}
		stops[c] = append(stops[c], PickupOf(t), DeliveryOf(t))
	}
	for _, t := range overflow {
		placed := false
		// Each carrier is probed at most once.
		for _, c := range rng.Perm(len(p.carriers)) {
			if p.tasks[t].Weight <= p.carriers[c].Capacity+loadEpsilon {
				stops[c] = append(stops[c], PickupOf(t), DeliveryOf(t))
				placed = true
				break
			}
		}
		if !placed {
			return nil, &InfeasibleTaskError{TaskID: p.tasks[t].ID, Weight: p.tasks[t].Weight, MaxCapacity: p.carriers[p.LargestCarrier()].Capacity}
		}
	}

	s := NewSolution(p)
	for c := range stops {
		r := buildRoute(p, c, stops[c])
		s.routes[c] = r
		s.cost += r.cost
	}
	return s, nil
}
