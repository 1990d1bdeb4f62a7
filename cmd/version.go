package cmd

import (
	"log"

	"github.com/spf13/cobra"

	"github.com/2younis/geoengine/internal/build"
)

// NewVersionCommand returns the command to get the geoengine version.
func NewVersionCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Return the geoengine version",
		Long:  "Return the geoengine version.",
		RunE:  version,
		Args:  cobra.NoArgs,
	}

	return cmd
}

// print out the built version
func version(_ *cobra.Command, _ []string) error {
	log.Printf("geoengine version %s date %s commit id %s ", build.Version, build.Date, build.Commit)
	return nil
}
