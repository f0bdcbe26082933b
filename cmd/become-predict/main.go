package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "become-predict",
		Short:         "Turn a person into the style of another image",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(newPredictCmd())
	return cmd
}
