// Package cmd contains all the commands included in the binary file.
package cmd

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// NewRootCommand enables all children commands to read flags from CLI flags,
// environment variables prefixed with GEOENGINE, or config.yaml (in that
// order).
func NewRootCommand() *cobra.Command {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	viper.SetEnvPrefix("GEOENGINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()

	configPaths := []string{"/etc/geoengine", "$HOME/.geoengine", "."}
	for _, path := range configPaths {
		viper.AddConfigPath(path)
	}
	// The config file is optional.
	_ = viper.ReadInConfig()

	return &cobra.Command{
		Use:   "geoengine",
		Short: "A streaming execution engine for geospatial operator workflows",
		Long: `A streaming execution engine for geospatial operator workflows.

Workflows are JSON documents describing a tree of raster, vector and plot
operators. The engine validates and initializes the tree, then answers
spatio-temporal queries as ordered streams of raster tiles or feature
collection chunks, computed in parallel on a fixed global tiling grid.`,
	}
}
