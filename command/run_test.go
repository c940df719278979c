package command

import (
	"os"
	"testing"

	"github.com/hashicorp/cli"
	"github.com/stretchr/testify/require"
)

const runTestHCL = `
duration = 200

machine {
  id = "m1"
  type = "standard"
  cpu_cores = 16
  memory_gb = 32
  failure_domain = "rack-a"
}

scheduler {
  id = "batch-1"
  type = "batch"
  max_retries = 3
}

workload {
  seed = 7
  batch_mean_interarrival = 10
  batch_task_count_mean = 2
  batch_duration_mean = 20
}
`

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "cellsim-*.hcl")
	require.NoError(t, err)
	_, err = f.WriteString(contents)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	return f.Name()
}

func TestRunCommandExecutesSimulationAndPrintsJSON(t *testing.T) {
	ui := cli.NewMockUi()
	cmd := &RunCommand{UI: ui}
	path := writeTempConfig(t, runTestHCL)

	code := cmd.Run([]string{path})
	require.Equal(t, 0, code)
	require.Contains(t, ui.OutputWriter.String(), "simulation_time")
}

func TestRunCommandRejectsMissingArgument(t *testing.T) {
	ui := cli.NewMockUi()
	cmd := &RunCommand{UI: ui}

	code := cmd.Run([]string{})
	require.Equal(t, 1, code)
	require.Contains(t, ui.ErrorWriter.String(), "requires exactly one")
}

func TestRunCommandRejectsInvalidConfig(t *testing.T) {
	ui := cli.NewMockUi()
	cmd := &RunCommand{UI: ui}
	path := writeTempConfig(t, "duration = -1")

	code := cmd.Run([]string{path})
	require.Equal(t, 1, code)
	require.Contains(t, ui.ErrorWriter.String(), "invalid config")
}
