package opt

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// line places every location on the integer number line.
var line = DistanceFunc(func(a, b Location) float64 { return math.Abs(float64(a - b)) })

func mustProblem(t *testing.T, carriers []Carrier, tasks []Task) *Problem {
	t.Helper()
	p, err := NewProblem(line, carriers, tasks)
	require.NoError(t, err)
	return p
}

func taskIndices(p *Problem) []int {
	out := make([]int, p.NumTasks())
	for i := range out {
		out[i] = i
	}
	return out
}

// randomProblem builds a feasible instance: every weight fits every carrier.
func randomProblem(t *testing.T, rng *rand.Rand, carriers, tasks int) *Problem {
	t.Helper()
	cs := make([]Carrier, carriers)
	for i := range cs {
		cs[i] = Carrier{ID: string(rune('A' + i)), Capacity: float64(6 + rng.Intn(5)), CostPerDistance: float64(1 + rng.Intn(3)), Home: Location(rng.Intn(30))}
	}
	ts := make([]Task, tasks)
	for i := range ts {
		ts[i] = Task{ID: string(rune('a' + i)), Pickup: Location(rng.Intn(30)), Delivery: Location(rng.Intn(30)), Weight: float64(1 + rng.Intn(5)), Reward: 10}
	}
	return mustProblem(t, cs, ts)
}

// stepClock advances by step on every reading.
type stepClock struct {
	now  time.Time
	step time.Duration
}

func (c *stepClock) Now() time.Time {
	c.now = c.now.Add(c.step)
	return c.now
}

func newStepClock(step time.Duration) *stepClock {
	return &stepClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), step: step}
}
