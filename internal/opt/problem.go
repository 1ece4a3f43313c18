// Package opt implements the pickup-and-delivery local search used for fleet
// planning and auction bid estimation.
//
// Tasks and carriers live in append-only arenas owned by a Problem and are
// addressed by stable integer indices. Stops, routes and solutions only hold
// indices, so cloning a Solution never duplicates task or carrier records.
package opt

import "fmt"

// Location identifies a node of the distance oracle.
type Location int

// Distances is the read-only distance oracle consumed by the optimizer. It must
// be symmetric, deterministic and non-negative.
type Distances interface {
	Distance(a, b Location) float64
}

// DistanceFunc adapts a plain function to Distances.
type DistanceFunc func(a, b Location) float64

func (f DistanceFunc) Distance(a, b Location) float64 { return f(a, b) }

type Task struct {
	ID       string
	Pickup   Location
	Delivery Location
	Weight   float64
	Reward   float64
}

type Carrier struct {
	ID              string
	Capacity        float64
	CostPerDistance float64
	Home            Location
}

// Kind distinguishes the two stops of a task.
type Kind int

const (
	Pickup Kind = iota
	Delivery
)

func (k Kind) String() string {
	if k == Pickup {
		return "pickup"
	}
	return "delivery"
}

// Stop is a pickup or delivery of one task, encoded as 2*task+kind. The two
// stops of a task are partners: s.Partner() == s^1.
type Stop int

// PickupOf returns the pickup stop of task t.
func PickupOf(t int) Stop { return Stop(2 * t) }

// DeliveryOf returns the delivery stop of task t.
func DeliveryOf(t int) Stop { return Stop(2*t + 1) }

func (s Stop) Task() int     { return int(s) >> 1 }
func (s Stop) Kind() Kind    { return Kind(int(s) & 1) }
func (s Stop) Partner() Stop { return s ^ 1 }

func (s Stop) String() string { return fmt.Sprintf("%s(%d)", s.Kind(), s.Task()) }

// Problem owns the task and carrier arenas and the distance oracle. Appending
// tasks keeps existing indices valid, so a Solution built before AddTask stays
// valid afterwards. A Problem is not safe for concurrent AddTask calls; reads
// are freely shared.
type Problem struct {
	dist     Distances
	tasks    []Task
	carriers []Carrier
}

// NewProblem validates carriers and tasks and builds the arenas.
func NewProblem(dist Distances, carriers []Carrier, tasks []Task) (*Problem, error) {
	if dist == nil {
		return nil, fmt.Errorf("new problem: distance oracle is nil")
	}
	if len(carriers) == 0 {
		return nil, fmt.Errorf("new problem: at least one carrier is required")
	}
	p := &Problem{dist: dist}
	for _, c := range carriers {
		if c.Capacity < 0 || c.CostPerDistance < 0 {
			return nil, fmt.Errorf("new problem: carrier %q: capacity and cost per distance must be >= 0", c.ID)
		}
		p.carriers = append(p.carriers, c)
	}
	for _, t := range tasks {
		if _, err := p.AddTask(t); err != nil {
			return nil, fmt.Errorf("new problem: %w", err)
		}
	}
	return p, nil
}

// AddTask appends a task to the arena and returns its index.
func (p *Problem) AddTask(t Task) (int, error) {
	if t.Weight < 0 {
		return -1, fmt.Errorf("task %q: weight must be >= 0", t.ID)
	}
	p.tasks = append(p.tasks, t)
	return len(p.tasks) - 1, nil
}

func (p *Problem) Task(i int) Task       { return p.tasks[i] }
func (p *Problem) Carrier(i int) Carrier { return p.carriers[i] }
func (p *Problem) NumTasks() int         { return len(p.tasks) }
func (p *Problem) NumCarriers() int      { return len(p.carriers) }

func (p *Problem) Distance(a, b Location) float64 { return p.dist.Distance(a, b) }

// StopLocation is the pickup or delivery location of s.
func (p *Problem) StopLocation(s Stop) Location {
	t := &p.tasks[s.Task()]
	if s.Kind() == Pickup {
		return t.Pickup
	}
	return t.Delivery
}

// StopLoad is the signed load change at s.
func (p *Problem) StopLoad(s Stop) float64 {
	w := p.tasks[s.Task()].Weight
	if s.Kind() == Pickup {
		return w
	}
	return -w
}

// LargestCarrier returns the index of the carrier with the highest capacity;
// ties go to the lowest index.
func (p *Problem) LargestCarrier() int {
	best := 0
	for i := 1; i < len(p.carriers); i++ {
		if p.carriers[i].Capacity > p.carriers[best].Capacity {
			best = i
		}
	}
	return best
}
