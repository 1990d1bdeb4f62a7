package validate

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/2younis/geoengine/cmd/util"
)

// bindValidateFlagsFunc binds the cobra cmd flags to the equivalent config
// value being managed by viper. This bridges the config between cobra flags
// and viper flags.
func bindValidateFlagsFunc(flags *pflag.FlagSet) func(*cobra.Command, []string) {
	return func(cmd *cobra.Command, args []string) {
		util.MustBindPFlag(catalogFlag, flags.Lookup(catalogFlag))
	}
}
