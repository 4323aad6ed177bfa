package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	var root = &cobra.Command{Use: "bestgoods"}

	root.AddCommand(serveCMD(), migrateCMD(), pipelineCMD(), importCMD())
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
