package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/castai/volume-autoscaler/cmd/volume-autoscaler/daemon"
)

var (
	Version = "local"
)

func main() {
	root := cobra.Command{
		Use: "volume-autoscaler",
	}

	root.AddCommand(
		daemon.NewRunCommand(Version),
	)

	if err := root.Execute(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}
