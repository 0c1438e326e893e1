package runner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/testmaster/testmaster/internal/script"
)

const orderedScript = `
multi_unit_supported_number: 2
tests:
  Setup:
    exec_order: -1
  Temperature:
    Set 25C:
      exec_order: 1
    Set 70C:
      exec_order: 2
  Calibrate:
    exec_order: 1
  Teardown:
    exec_order: -1
  Manual:
    exec_order: 0
`

func TestPlan_ExecOrder(t *testing.T) {
	s, err := script.Parse("ordered", []byte(orderedScript))
	require.NoError(t, err)

	selected := []string{"Setup", "Temperature/Set 25C", "Temperature/Set 70C", "Calibrate", "Teardown", "Manual"}
	plan := Plan(s, selected, []int{1, 2})

	assert.Equal(t, []Invocation{
		{TestID: "Setup"},
		{TestID: "Temperature/Set 25C", Unit: 1},
		{TestID: "Calibrate", Unit: 1},
		{TestID: "Temperature/Set 25C", Unit: 2},
		{TestID: "Calibrate", Unit: 2},
		{TestID: "Temperature/Set 70C", Unit: 1},
		{TestID: "Temperature/Set 70C", Unit: 2},
		{TestID: "Teardown"},
	}, plan)
}

func TestPlan_FiltersSelection(t *testing.T) {
	s, err := script.Parse("ordered", []byte(orderedScript))
	require.NoError(t, err)

	plan := Plan(s, []string{"Calibrate"}, []int{2})
	assert.Equal(t, []Invocation{{TestID: "Calibrate", Unit: 2}}, plan)

	assert.Empty(t, Plan(s, nil, []int{1}))
	assert.Nil(t, Plan(s, selectedAll(s), nil))
}

func selectedAll(s *script.Script) []string {
	return s.Tree().IDs()
}
