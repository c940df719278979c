// Package command implements the cellsim CLI verbs, dispatched through
// hashicorp/cli the way nomad's command package wires its command map in
// main.go: one cli.Command per verb, a shared cli.Ui for output.
package command

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/hashicorp/cli"
	"github.com/hashicorp/go-hclog"

	"github.com/cellsched/cellsched/cell"
	"github.com/cellsched/cellsched/config"
	"github.com/cellsched/cellsched/metrics"
	"github.com/cellsched/cellsched/scheduler"
	"github.com/cellsched/cellsched/simulator"
	"github.com/cellsched/cellsched/structs"
	"github.com/cellsched/cellsched/workload"
)

// RunCommand loads a Configuration file and executes one simulation to
// completion, printing the resulting structs.Results.
type RunCommand struct {
	UI cli.Ui
}

func (c *RunCommand) Help() string {
	return `Usage: cellsim run [options] <config.hcl>

  Runs one simulation from an HCL configuration file and prints the
  resulting Results record.

Options:

  -json         Emit results as JSON instead of a human table (default: true)
  -metrics      Enable go-metrics emission for the run
`
}

func (c *RunCommand) Synopsis() string {
	return "Run one cell scheduling simulation"
}

func (c *RunCommand) Run(args []string) int {
	flags := flag.NewFlagSet("run", flag.ContinueOnError)
	jsonOut := flags.Bool("json", true, "emit JSON results")
	withMetrics := flags.Bool("metrics", false, "enable metrics emission")
	if err := flags.Parse(args); err != nil {
		return 1
	}
	if flags.NArg() != 1 {
		c.UI.Error("run requires exactly one config file argument")
		return 1
	}

	raw, err := os.ReadFile(flags.Arg(0))
	if err != nil {
		c.UI.Error(fmt.Sprintf("reading config: %v", err))
		return 1
	}

	cfg, err := config.Parse(string(raw))
	if err != nil {
		c.UI.Error(fmt.Sprintf("invalid config: %v", err))
		return 1
	}

	logger := hclog.New(&hclog.LoggerOptions{Name: "cellsim", Level: hclog.Info})

	results, err := c.runSimulation(cfg, logger, *withMetrics)
	if err != nil {
		c.UI.Error(fmt.Sprintf("simulation failed: %v", err))
		return 1
	}

	if *jsonOut {
		out, err := json.MarshalIndent(results, "", "  ")
		if err != nil {
			c.UI.Error(fmt.Sprintf("marshaling results: %v", err))
			return 1
		}
		c.UI.Output(string(out))
		return 0
	}

	c.UI.Output(formatResultsTable(results))
	return 0
}

func (c *RunCommand) runSimulation(cfg *config.Config, logger hclog.Logger, withMetrics bool) (*structs.Results, error) {
	clust, err := cell.New(logger)
	if err != nil {
		return nil, err
	}
	for _, m := range cfg.BuildMachines() {
		if err := clust.AddMachine(m); err != nil {
			return nil, err
		}
	}

	schedulers := make([]scheduler.Scheduler, 0, len(cfg.Schedulers))
	for _, sc := range cfg.Schedulers {
		spec := schedulerSpecFromConfig(sc)
		built, err := scheduler.Build(spec, logger)
		if err != nil {
			return nil, err
		}
		schedulers = append(schedulers, built)
	}
	registry := scheduler.NewRegistry(schedulers)

	wcfg := workloadConfigFromConfig(cfg.Workload)
	gen := workload.NewGenerator(wcfg)

	sim := simulator.New(logger, clust, registry, gen, simulator.Config{
		Duration:     cfg.Duration,
		FailureSeed:  cfg.Failure.Seed,
		FailureRate:  cfg.Failure.Rate,
		MeanDowntime: cfg.Failure.MeanDowntime,
	})

	if withMetrics {
		rec, err := metrics.NewRecorder(structs.GenerateID())
		if err != nil {
			return nil, err
		}
		sim.SetRecorder(rec)
	}

	return sim.Run()
}

func formatResultsTable(r *structs.Results) string {
	out := fmt.Sprintf("simulation_time: %.2f\ncompleted_jobs: %d\nfailed_jobs: %d\n",
		r.SimulationTime, r.CompletedJobs, r.FailedJobs)
	out += fmt.Sprintf("cell: transactions=%d commits=%d conflicts=%d conflict_rate=%.4f\n",
		r.Cell.TotalTransactions, r.Cell.TotalCommits, r.Cell.TotalConflicts, r.Cell.ConflictRate)
	out += fmt.Sprintf("utilization: cpu=%.2f gpu=%.2f memory=%.2f\n",
		r.Cell.Utilization.CPU, r.Cell.Utilization.GPU, r.Cell.Utilization.Memory)
	for id, stats := range r.Schedulers {
		out += fmt.Sprintf("scheduler %s: jobs=%d tasks=%d conflicts=%d conflict_rate=%.4f avg_wait=%.2f\n",
			id, stats.JobsScheduled, stats.TasksScheduled, stats.Conflicts, stats.ConflictRate, stats.AvgWaitTime)
	}
	return out
}
