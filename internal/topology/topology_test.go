package topology

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromRoadsShortestPaths(t *testing.T) {
	top, err := FromRoads([]string{"Lausanne", "Geneve", "Bern", "Zurich"}, []Road{
		{From: "Lausanne", To: "Geneve", Length: 60},
		{From: "Lausanne", To: "Bern", Length: 100},
		{From: "Bern", To: "Zurich", Length: 120},
		{From: "Geneve", To: "Zurich", Length: 400},
	})
	require.NoError(t, err)

	g, _ := top.Locate("Geneve")
	z, _ := top.Locate("Zurich")
	// Geneve -> Lausanne -> Bern -> Zurich beats the direct road.
	assert.Equal(t, 280.0, top.Distance(g, z))
	assert.Equal(t, top.Distance(g, z), top.Distance(z, g))
	assert.Equal(t, 0.0, top.Distance(z, z))
	assert.Equal(t, "Zurich", top.Name(z))
}

func TestFromRoadsErrors(t *testing.T) {
	_, err := FromRoads([]string{"a", "b", "c"}, []Road{{From: "a", To: "b", Length: 1}})
	require.ErrorIs(t, err, ErrDisconnected)

	_, err = FromRoads([]string{"a", "b"}, []Road{{From: "a", To: "x", Length: 1}})
	require.ErrorIs(t, err, ErrUnknownLocation)

	_, err = FromRoads([]string{"a", "b"}, []Road{{From: "a", To: "b", Length: -1}})
	require.ErrorIs(t, err, ErrNegativeDistance)

	_, err = FromRoads([]string{"a", "a"}, nil)
	require.ErrorIs(t, err, ErrDuplicate)
}

func TestFromMatrixValidation(t *testing.T) {
	names := []string{"a", "b"}
	top, err := FromMatrix(names, [][]float64{{0, 3}, {3, 0}})
	require.NoError(t, err)
	assert.Equal(t, 3.0, top.Distance(0, 1))

	_, err = FromMatrix(names, [][]float64{{0, 3}, {4, 0}})
	require.ErrorIs(t, err, ErrAsymmetric)
	_, err = FromMatrix(names, [][]float64{{0, -3}, {-3, 0}})
	require.ErrorIs(t, err, ErrNegativeDistance)
	_, err = FromMatrix(names, [][]float64{{0, 3}})
	require.Error(t, err)
}

func TestFromCoordinates(t *testing.T) {
	top, err := FromCoordinates([]City{
		{Name: "equator-0", Lat: 0, Lng: 0},
		{Name: "equator-1", Lat: 0, Lng: 1},
	})
	require.NoError(t, err)
	// One degree of longitude on the equator.
	assert.InDelta(t, 111.19, top.Distance(0, 1), 0.01)
	_, err = top.Locate("nowhere")
	require.ErrorIs(t, err, ErrUnknownLocation)
}
