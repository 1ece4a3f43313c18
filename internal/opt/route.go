package opt

// loadEpsilon absorbs float rounding in running-load sums.
const loadEpsilon = 1e-9

// Route is the ordered stop sequence of one carrier. A Route is immutable once
// built: operators build a new Route for every carrier they touch and share
// the others with the parent Solution.
type Route struct {
	stops []Stop
	pos   map[Stop]int // pairing index: stop -> position in stops
	cost  float64
}

var emptyRoute = &Route{pos: map[Stop]int{}}

// buildRoute takes ownership of stops.
func buildRoute(p *Problem, carrier int, stops []Stop) *Route {
	if len(stops) == 0 {
		return emptyRoute
	}
	r := &Route{stops: stops, pos: make(map[Stop]int, len(stops))}
	for i, s := range stops {
		r.pos[s] = i
	}
	r.cost = RouteCost(p, carrier, stops)
	return r
}

// RouteCost walks stops once from the carrier home, summing
// distance × cost per distance.
func RouteCost(p *Problem, carrier int, stops []Stop) float64 {
	c := &p.carriers[carrier]
	prev := c.Home
	dist := 0.0
	for _, s := range stops {
		next := p.StopLocation(s)
		dist += p.Distance(prev, next)
		prev = next
	}
	return dist * c.CostPerDistance
}

// CapacityFeasible walks stops once accumulating signed load and reports
// false as soon as the load exceeds the carrier capacity or goes negative.
func CapacityFeasible(p *Problem, carrier int, stops []Stop) bool {
	capacity := p.carriers[carrier].Capacity
	load := 0.0
	for _, s := range stops {
		load += p.StopLoad(s)
		if load > capacity+loadEpsilon || load < -loadEpsilon {
			return false
		}
	}
	return true
}

func (r *Route) Len() int { return len(r.stops) }

// At returns the stop at position i.
func (r *Route) At(i int) Stop { return r.stops[i] }

// Stops returns a copy of the stop sequence.
func (r *Route) Stops() []Stop { return append([]Stop(nil), r.stops...) }

// Cost is the cached route cost computed when the route was built.
func (r *Route) Cost() float64 { return r.cost }

// Position returns where s sits in the route.
func (r *Route) Position(s Stop) (int, bool) {
	i, ok := r.pos[s]
	return i, ok
}

// PartnerPosition returns the position of the partner of the stop at i, or -1
// when the partner is not in this route.
func (r *Route) PartnerPosition(i int) int {
	j, ok := r.pos[r.stops[i].Partner()]
	if !ok {
		return -1
	}
	return j
}

// Recost recomputes the route cost from scratch without touching the cache.
func (r *Route) Recost(p *Problem, carrier int) float64 { return RouteCost(p, carrier, r.stops) }

// CapacityFeasible reports whether the route respects the carrier capacity.
func (r *Route) CapacityFeasible(p *Problem, carrier int) bool {
	return CapacityFeasible(p, carrier, r.stops)
}

// EndLoad is the load still on board after the last stop. It is zero when
// every picked-up task is also delivered in the route.
func (r *Route) EndLoad(p *Problem) float64 {
	load := 0.0
	for _, s := range r.stops {
		load += p.StopLoad(s)
	}
	return load
}
