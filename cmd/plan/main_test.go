package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carrierplan/internal/model"
)

const swiss = `
topology:
  cities:
    - name: Lausanne
    - name: Bern
    - name: Zurich
  roads:
    - {from: Lausanne, to: Bern, length: 100}
    - {from: Bern, to: Zurich, length: 125}
carriers:
  - {id: v1, capacity: 10, cost_per_distance: 1, home: Bern}
tasks:
  - {id: t1, pickup: Lausanne, delivery: Zurich, weight: 3}
time_budget_ms: 20
seed: 4
`

func TestReadInstance(t *testing.T) {
	path := filepath.Join(t.TempDir(), "swiss.yaml")
	require.NoError(t, os.WriteFile(path, []byte(swiss), 0o600))
	req, err := readInstance(path)
	require.NoError(t, err)
	assert.Len(t, req.Topology.Roads, 2)
	assert.Equal(t, 1.0, req.Carriers[0].CostPerDistance)
	assert.Equal(t, "Zurich", req.Tasks[0].Delivery)
	require.NotNil(t, req.Seed)
	assert.Equal(t, int64(4), *req.Seed)

	_, err = readInstance(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestPrintPlan(t *testing.T) {
	var buf bytes.Buffer
	printPlan(&buf, model.Plan{TotalCost: 325, Routes: []model.CarrierPlan{{
		CarrierID: "v1", Cost: 325,
		Stops: []model.StopOut{{Kind: "pickup", TaskID: "t1", Location: "Lausanne"}, {Kind: "delivery", TaskID: "t1", Location: "Zurich"}},
	}}})
	out := buf.String()
	assert.True(t, strings.Contains(out, "P:t1@Lausanne D:t1@Zurich"), out)
	assert.True(t, strings.Contains(out, "total cost 325.00"), out)
}
