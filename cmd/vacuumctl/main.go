package main

import (
	"os"

	"k8s.io/apiserver/pkg/server"

	"github.com/autopeer-io/vacuumsim/cmd/vacuumctl/app"
)

func main() {
	ctx := server.SetupSignalContext()
	if err := app.NewVacuumctlCommand(ctx, os.Stdout).Execute(); err != nil {
		os.Exit(1)
	}
}
