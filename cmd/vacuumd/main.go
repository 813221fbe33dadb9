package main

import (
	"os"

	_ "go.uber.org/automaxprocs"
	"k8s.io/apiserver/pkg/server"

	"github.com/autopeer-io/vacuumsim/cmd/vacuumd/app"
)

func main() {
	ctx := server.SetupSignalContext()
	if err := app.NewVacuumdCommand(ctx).Execute(); err != nil {
		os.Exit(1)
	}
}
