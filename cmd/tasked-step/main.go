// Command tasked-step is a thin operator harness around the engine core:
// it wires internal/engine against in-memory fakes of every out-of-scope
// collaborator (statistics service, tag service, async SQL transport) so a
// full run can be exercised from a terminal without a real feature store
// or database. Request parsing/authorization are explicitly out of scope
// here — this is a demo/operator surface, not a service.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, failStyle.Render(err.Error()))
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "tasked-step",
		Short: "Exercise the tasked-step export engine against in-memory fakes",
	}

	root.PersistentFlags().String("recipe", "", "path to a TOML step recipe (see internal/stepconfig)")
	root.PersistentFlags().String("space", "demo-space", "spaceId to run against")
	root.PersistentFlags().Int64("max-version", 42, "maxVersion the fake statistics service reports for HEAD")
	root.PersistentFlags().Int64("byte-size", 1<<26, "byteSize the fake statistics service reports")

	for _, flag := range []string{"recipe", "space", "max-version", "byte-size"} {
		_ = viper.BindPFlag(flag, root.PersistentFlags().Lookup(flag))
	}
	viper.SetEnvPrefix("TASKED_STEP")
	viper.AutomaticEnv()

	root.AddCommand(newRunCmd(), newResumeCmd(), newPlanCmd(), newWizardCmd())
	return root
}
