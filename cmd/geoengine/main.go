package main

import (
	"os"

	"github.com/2younis/geoengine/cmd"
	"github.com/2younis/geoengine/cmd/run"
	"github.com/2younis/geoengine/cmd/validate"
)

func main() {
	rootCmd := cmd.NewRootCommand()

	runCmd := run.NewRunCommand()
	rootCmd.AddCommand(runCmd)

	validateCmd := validate.NewValidateCommand()
	rootCmd.AddCommand(validateCmd)

	versionCmd := cmd.NewVersionCommand()
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
