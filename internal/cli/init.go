package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rvtx-labs/rvtx/internal/branding"
	"github.com/rvtx-labs/rvtx/internal/userdata"
)

func init() {
	rootCmd.AddCommand(initCmd)
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the " + branding.HomeDir() + " directory layout",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Fprintln(cmd.OutOrStdout(), "Initializing user data:")
		return userdata.Init(cmd.OutOrStdout())
	},
}
