package planner

import (
	"errors"
	"fmt"
	"strings"

	"carrierplan/internal/model"
	"carrierplan/internal/opt"
	"carrierplan/internal/topology"
)

// ErrInvalidRequest marks input that cannot describe a planning instance.
var ErrInvalidRequest = errors.New("invalid request")

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, fmt.Sprintf(format, args...))
}

// Instance is an optimizer Problem together with the city network its
// locations index into.
type Instance struct {
	Problem  *opt.Problem
	Topology *topology.Topology
}

// BuildTopology picks the matrix, the road network or the city coordinates,
// in that order.
func BuildTopology(spec model.TopologySpec) (*topology.Topology, error) {
	names := make([]string, len(spec.Cities))
	for i, c := range spec.Cities {
		names[i] = c.Name
	}
	var (
		t   *topology.Topology
		err error
	)
	switch {
	case len(spec.Matrix) > 0:
		t, err = topology.FromMatrix(names, spec.Matrix)
	case len(spec.Roads) > 0:
		roads := make([]topology.Road, len(spec.Roads))
		for i, r := range spec.Roads {
			roads[i] = topology.Road{From: r.From, To: r.To, Length: r.Length}
		}
		t, err = topology.FromRoads(names, roads)
	default:
		cities := make([]topology.City, len(spec.Cities))
		for i, c := range spec.Cities {
			cities[i] = topology.City{Name: c.Name, Lat: c.Lat, Lng: c.Lng}
		}
		t, err = topology.FromCoordinates(cities)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return t, nil
}

// NewInstance resolves carriers and tasks against the topology.
func NewInstance(spec model.TopologySpec, carriers []model.CarrierIn, tasks []model.TaskIn) (*Instance, error) {
	top, err := BuildTopology(spec)
	if err != nil {
		return nil, err
	}
	if len(carriers) == 0 {
		return nil, invalid("at least one carrier is required")
	}
	in := &Instance{Topology: top}
	seen := map[string]bool{}
	cs := make([]opt.Carrier, len(carriers))
	for i, c := range carriers {
		if strings.TrimSpace(c.ID) == "" {
			return nil, invalid("carrier %d: id is required", i)
		}
		if seen[c.ID] {
			return nil, invalid("duplicate carrier id %q", c.ID)
		}
		seen[c.ID] = true
		home, err := top.Locate(c.Home)
		if err != nil {
			return nil, invalid("carrier %q: %v", c.ID, err)
		}
		cs[i] = opt.Carrier{ID: c.ID, Capacity: c.Capacity, CostPerDistance: c.CostPerDistance, Home: home}
	}
	p, err := opt.NewProblem(top, cs, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	in.Problem = p
	seen = map[string]bool{}
	for _, t := range tasks {
		if seen[t.ID] {
			return nil, invalid("duplicate task id %q", t.ID)
		}
		seen[t.ID] = true
		if _, err := in.AddTask(t); err != nil {
			return nil, err
		}
	}
	return in, nil
}

// ResolveTask maps a task's city names to locations.
func (in *Instance) ResolveTask(t model.TaskIn) (opt.Task, error) {
	if strings.TrimSpace(t.ID) == "" {
		return opt.Task{}, invalid("task id is required")
	}
	pick, err := in.Topology.Locate(t.Pickup)
	if err != nil {
		return opt.Task{}, invalid("task %q pickup: %v", t.ID, err)
	}
	del, err := in.Topology.Locate(t.Delivery)
	if err != nil {
		return opt.Task{}, invalid("task %q delivery: %v", t.ID, err)
	}
	if t.Weight < 0 {
		return opt.Task{}, invalid("task %q: weight must be >= 0", t.ID)
	}
	return opt.Task{ID: t.ID, Pickup: pick, Delivery: del, Weight: t.Weight, Reward: t.Reward}, nil
}

// AddTask resolves t and appends it to the problem arena.
func (in *Instance) AddTask(t model.TaskIn) (int, error) {
	task, err := in.ResolveTask(t)
	if err != nil {
		return -1, err
	}
	return in.Problem.AddTask(task)
}

// Routes renders a solution with carrier, task and city names.
func (in *Instance) Routes(s *opt.Solution) []model.CarrierPlan {
	out := make([]model.CarrierPlan, 0, in.Problem.NumCarriers())
	for _, cr := range s.CarrierRoutes() {
		cp := model.CarrierPlan{CarrierID: in.Problem.Carrier(cr.Carrier).ID, Cost: cr.Cost, Stops: make([]model.StopOut, len(cr.Stops))}
		for i, st := range cr.Stops {
			cp.Stops[i] = model.StopOut{
				Kind:     st.Kind().String(),
				TaskID:   in.Problem.Task(st.Task()).ID,
				Location: in.Topology.Name(in.Problem.StopLocation(st)),
			}
		}
		out = append(out, cp)
	}
	return out
}
