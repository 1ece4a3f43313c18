// Package topology builds the distance oracle consumed by the optimizer from a
// city network: an explicit matrix, a road graph reduced to shortest paths, or
// geographic coordinates.
package topology

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"carrierplan/internal/opt"
)

var (
	ErrUnknownLocation  = errors.New("topology: unknown location")
	ErrNegativeDistance = errors.New("topology: negative distance")
	ErrAsymmetric       = errors.New("topology: distance matrix is not symmetric")
	ErrDisconnected     = errors.New("topology: locations are not connected")
	ErrDuplicate        = errors.New("topology: duplicate location name")
)

// City is a named node, optionally placed on the globe.
type City struct {
	Name string  `json:"name" yaml:"name"`
	Lat  float64 `json:"lat,omitempty" yaml:"lat"`
	Lng  float64 `json:"lng,omitempty" yaml:"lng"`
}

// Road is an undirected edge between two cities.
type Road struct {
	From   string  `json:"from" yaml:"from"`
	To     string  `json:"to" yaml:"to"`
	Length float64 `json:"length" yaml:"length"`
}

// Topology is an immutable symmetric distance table. It implements
// opt.Distances and is safe for concurrent reads.
type Topology struct {
	names []string
	index map[string]opt.Location
	dist  *mat.SymDense
}

func newTopology(names []string) (*Topology, error) {
	if len(names) == 0 {
		return nil, fmt.Errorf("topology: at least one location is required")
	}
	t := &Topology{names: append([]string(nil), names...), index: make(map[string]opt.Location, len(names))}
	for i, n := range names {
		if _, dup := t.index[n]; dup {
			return nil, fmt.Errorf("%w: %q", ErrDuplicate, n)
		}
		t.index[n] = opt.Location(i)
	}
	t.dist = mat.NewSymDense(len(names), nil)
	return t, nil
}

// FromMatrix validates rows as a square, symmetric, non-negative table with a
// zero diagonal.
func FromMatrix(names []string, rows [][]float64) (*Topology, error) {
	t, err := newTopology(names)
	if err != nil {
		return nil, err
	}
	n := len(names)
	if len(rows) != n {
		return nil, fmt.Errorf("topology: matrix has %d rows for %d locations", len(rows), n)
	}
	for i := range rows {
		if len(rows[i]) != n {
			return nil, fmt.Errorf("topology: row %d has %d columns, want %d", i, len(rows[i]), n)
		}
		if rows[i][i] != 0 {
			return nil, fmt.Errorf("topology: distance from %q to itself must be 0", names[i])
		}
		for j := i + 1; j < n; j++ {
			if rows[i][j] < 0 {
				return nil, fmt.Errorf("%w: %q to %q", ErrNegativeDistance, names[i], names[j])
			}
			if rows[i][j] != rows[j][i] {
				return nil, fmt.Errorf("%w: %q and %q", ErrAsymmetric, names[i], names[j])
			}
			t.dist.SetSym(i, j, rows[i][j])
		}
	}
	return t, nil
}

// FromRoads reduces a road network to all-pairs shortest path lengths
// (Floyd–Warshall). Every pair of cities must be connected.
func FromRoads(names []string, roads []Road) (*Topology, error) {
	t, err := newTopology(names)
	if err != nil {
		return nil, err
	}
	n := len(names)
	inf := math.Inf(1)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			t.dist.SetSym(i, j, inf)
		}
	}
	for _, r := range roads {
		a, err := t.Locate(r.From)
		if err != nil {
			return nil, err
		}
		b, err := t.Locate(r.To)
		if err != nil {
			return nil, err
		}
		if r.Length < 0 {
			return nil, fmt.Errorf("%w: road %q to %q", ErrNegativeDistance, r.From, r.To)
		}
		if a != b && r.Length < t.dist.At(int(a), int(b)) {
			t.dist.SetSym(int(a), int(b), r.Length)
		}
	}
	for k := 0; k < n; k++ {
		for i := 0; i < n; i++ {
			ik := t.dist.At(i, k)
			if math.IsInf(ik, 1) {
				continue
			}
			for j := i + 1; j < n; j++ {
				if d := ik + t.dist.At(k, j); d < t.dist.At(i, j) {
					t.dist.SetSym(i, j, d)
				}
			}
		}
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if math.IsInf(t.dist.At(i, j), 1) {
				return nil, fmt.Errorf("%w: %q and %q", ErrDisconnected, names[i], names[j])
			}
		}
	}
	return t, nil
}

// FromCoordinates uses great-circle distances in kilometres.
func FromCoordinates(cities []City) (*Topology, error) {
	names := make([]string, len(cities))
	for i, c := range cities {
		names[i] = c.Name
	}
	t, err := newTopology(names)
	if err != nil {
		return nil, err
	}
	for i := range cities {
		for j := i + 1; j < len(cities); j++ {
			t.dist.SetSym(i, j, haversineKm(cities[i].Lat, cities[i].Lng, cities[j].Lat, cities[j].Lng))
		}
	}
	return t, nil
}

func haversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	const R = 6371.0
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return R * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

func (t *Topology) Distance(a, b opt.Location) float64 { return t.dist.At(int(a), int(b)) }

// Locate resolves a city name to its location index.
func (t *Topology) Locate(name string) (opt.Location, error) {
	l, ok := t.index[name]
	if !ok {
		return -1, fmt.Errorf("%w: %q", ErrUnknownLocation, name)
	}
	return l, nil
}

func (t *Topology) Name(l opt.Location) string { return t.names[l] }
func (t *Topology) Len() int                   { return len(t.names) }

// Names returns the city names in location order.
func (t *Topology) Names() []string { return append([]string(nil), t.names...) }
