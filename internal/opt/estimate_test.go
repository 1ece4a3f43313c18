package opt

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// corridor holds one task 1 -> 10 on a single carrier based at 0.
func corridor(t *testing.T) (*Solution, int) {
	t.Helper()
	p := mustProblem(t,
		[]Carrier{{ID: "v", Capacity: 10, CostPerDistance: 1, Home: 0}},
		[]Task{{ID: "long", Pickup: 1, Delivery: 10, Weight: 2}})
	s := NewSolution(p)
	s.replace(0, buildRoute(p, 0, []Stop{PickupOf(0), DeliveryOf(0)}))
	idx, err := p.AddTask(Task{ID: "short", Pickup: 5, Delivery: 6, Weight: 1})
	require.NoError(t, err)
	return s, idx
}

func TestEstimateFirstTaskUsesLargestCarrier(t *testing.T) {
	p := mustProblem(t,
		[]Carrier{
			{ID: "van", Capacity: 3, CostPerDistance: 1, Home: 0},
			{ID: "truck", Capacity: 8, CostPerDistance: 1, Home: 20},
		},
		[]Task{{ID: "t0", Pickup: 10, Delivery: 12, Weight: 1}})

	e, err := EstimateMarginalCost(NewSolution(p), 0, EstimateOptions{Mode: ModeCheapestInsertion})
	require.NoError(t, err)
	assert.Equal(t, ModeFirstTask, e.Mode)
	assert.Equal(t, 1, e.Carrier)
	assert.Equal(t, 12.0, e.Marginal)
	require.NoError(t, e.Solution.Validate([]int{0}))
}

func TestEstimateCheapestInsertionBeatsAppend(t *testing.T) {
	s, idx := corridor(t)

	ins, err := EstimateMarginalCost(s, idx, EstimateOptions{Mode: ModeCheapestInsertion})
	require.NoError(t, err)
	// 0 -> 1 -> 5 -> 6 -> 10 costs the same as 0 -> 1 -> 10.
	assert.InDelta(t, 0.0, ins.Marginal, 1e-9)
	assert.Equal(t, []Stop{PickupOf(0), PickupOf(idx), DeliveryOf(idx), DeliveryOf(0)}, ins.Solution.Route(0).Stops())

	app, err := EstimateMarginalCost(s, idx, EstimateOptions{Mode: ModeAppend})
	require.NoError(t, err)
	// 0 -> 1 -> 10 -> 5 -> 6 adds 5 + 1.
	assert.InDelta(t, 6.0, app.Marginal, 1e-9)

	// The input solution is left alone.
	assert.Equal(t, 10.0, s.TotalCost())
	_, held := s.Holds(idx)
	assert.False(t, held)
}

func TestEstimateAutoFollowsRemainingTime(t *testing.T) {
	s, idx := corridor(t)

	e, err := EstimateMarginalCost(s, idx, EstimateOptions{Remaining: time.Second, Threshold: 500 * time.Millisecond})
	require.NoError(t, err)
	assert.Equal(t, ModeCheapestInsertion, e.Mode)

	e, err = EstimateMarginalCost(s, idx, EstimateOptions{Remaining: 100 * time.Millisecond, Threshold: 500 * time.Millisecond})
	require.NoError(t, err)
	assert.Equal(t, ModeAppend, e.Mode)
}

func TestEstimateNoFeasibleInsertion(t *testing.T) {
	s, _ := corridor(t)
	heavy, err := s.Problem().AddTask(Task{ID: "anvil", Pickup: 2, Delivery: 3, Weight: 11})
	require.NoError(t, err)

	_, err = EstimateMarginalCost(s, heavy, EstimateOptions{Mode: ModeCheapestInsertion})
	require.ErrorIs(t, err, ErrNoFeasibleInsertion)
	_, err = EstimateMarginalCost(s, heavy, EstimateOptions{Mode: ModeAppend})
	require.ErrorIs(t, err, ErrNoFeasibleInsertion)
}

func TestEstimateRejectsHeldOrUnknownTask(t *testing.T) {
	s, _ := corridor(t)
	_, err := EstimateMarginalCost(s, 0, EstimateOptions{})
	require.Error(t, err)
	_, err = EstimateMarginalCost(s, 99, EstimateOptions{})
	require.Error(t, err)
}

func TestCheapestInsertionNeverWorseThanAppend(t *testing.T) {
	rng := rand.New(rand.NewSource(21))
	for round := 0; round < 30; round++ {
		p := randomProblem(t, rng, 1+rng.Intn(3), 1+rng.Intn(8))
		held := taskIndices(p)
		s, err := BuildInitialSolution(p, rng)
		require.NoError(t, err)
		idx, err := p.AddTask(Task{ID: "new", Pickup: Location(rng.Intn(30)), Delivery: Location(rng.Intn(30)), Weight: 1})
		require.NoError(t, err)

		ins, err := EstimateMarginalCost(s, idx, EstimateOptions{Mode: ModeCheapestInsertion})
		require.NoError(t, err)
		require.NoError(t, ins.Solution.Validate(append(held, idx)))
		for c := 0; c < p.NumCarriers(); c++ {
			app, err := EstimateMarginalCost(s, idx, EstimateOptions{Mode: ModeAppend, Carrier: c})
			require.NoError(t, err)
			assert.LessOrEqual(t, ins.Marginal, app.Marginal+1e-9, "round %d carrier %d", round, c)
		}
	}
}
