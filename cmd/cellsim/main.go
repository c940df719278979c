// Command cellsim is the simulator's CLI entrypoint, wired the way
// nomad's cmd/nomad main.go builds a cli.CLI from a command map and a
// shared Ui.
package main

import (
	"os"

	"github.com/hashicorp/cli"

	"github.com/cellsched/cellsched/command"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	ui := &cli.BasicUi{
		Reader:      os.Stdin,
		Writer:      os.Stdout,
		ErrorWriter: os.Stderr,
	}

	c := cli.NewCLI("cellsim", "0.1.0")
	c.Args = args
	c.Commands = map[string]cli.CommandFactory{
		"run": func() (cli.Command, error) {
			return &command.RunCommand{UI: ui}, nil
		},
	}

	exitCode, err := c.Run()
	if err != nil {
		ui.Error(err.Error())
		return 1
	}
	return exitCode
}
