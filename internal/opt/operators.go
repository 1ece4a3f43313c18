package opt

// SwapStops exchanges the stops at positions i <= j of carrier c's route.
// Precedence is checked on the pairing index before any cost work. The parent
// solution is never modified.
func SwapStops(s *Solution, c, i, j int) (*Solution, error) {
	if c < 0 || c >= len(s.routes) {
		return nil, errCarrier
	}
	r := s.routes[c]
	if i > j {
		i, j = j, i
	}
	if i < 0 || j >= r.Len() || i == j {
		return nil, errPosition
	}
	a, b := r.stops[i], r.stops[j]
	// a moves to j, b moves to i.
	if !keepsPrecedence(r, a, b, j, i) || !keepsPrecedence(r, b, a, i, j) {
		return nil, errPrecedence
	}

	stops := r.Stops()
	stops[i], stops[j] = b, a
	if !CapacityFeasible(s.p, c, stops) {
		return nil, errCapacity
	}
	out := s.clone()
	out.replace(c, buildRoute(s.p, c, stops))
	return out, nil
}

// keepsPrecedence reports whether stop x, moved to position to while other
// moves to otherTo, still respects its pairing.
func keepsPrecedence(r *Route, x, other Stop, to, otherTo int) bool {
	partner := r.pos[x.Partner()]
	if x.Partner() == other {
		partner = otherTo
	}
	if x.Kind() == Pickup {
		return to < partner
	}
	return partner < to
}

// RelocateTask moves the task owning the stop at position pos of carrier src
// to the end of carrier dst's route. Both stops leave src in order; the pair
// is appended to dst as pickup then delivery.
func RelocateTask(s *Solution, src, pos, dst int) (*Solution, error) {
	if src < 0 || src >= len(s.routes) || dst < 0 || dst >= len(s.routes) {
		return nil, errCarrier
	}
	if src == dst {
		return nil, errSameCarrier
	}
	from := s.routes[src]
	if pos < 0 || pos >= from.Len() {
		return nil, errPosition
	}
	t := from.stops[pos].Task()
	to := s.routes[dst]
	if to.EndLoad(s.p)+s.p.tasks[t].Weight > s.p.carriers[dst].Capacity+loadEpsilon {
		return nil, errCapacity
	}

	rest := make([]Stop, 0, from.Len()-2)
	for _, st := range from.stops {
		if st.Task() != t {
			rest = append(rest, st)
		}
	}
	grown := make([]Stop, 0, to.Len()+2)
	grown = append(grown, to.stops...)
	grown = append(grown, PickupOf(t), DeliveryOf(t))

	out := s.clone()
	out.replace(src, buildRoute(s.p, src, rest))
	out.replace(dst, buildRoute(s.p, dst, grown))
	return out, nil
}
