package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rvtx-labs/rvtx/internal/attach"
	"github.com/rvtx-labs/rvtx/internal/clone"
	"github.com/rvtx-labs/rvtx/internal/config"
	"github.com/rvtx-labs/rvtx/internal/extension"
	"github.com/rvtx-labs/rvtx/internal/fault"
	"github.com/rvtx-labs/rvtx/internal/store"
)

func init() {
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configSeedCmd)
	rootCmd.AddCommand(configCmd)
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage user settings",
	Long:  `Read and write settings stored at ~/.rvtx/config.yaml.`,
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]
		if err := config.Set(key, value); err != nil {
			return fmt.Errorf("setting config key %q: %w", key, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Set %s = %s\n", key, value)
		return nil
	},
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Get a configuration value",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Fprintln(cmd.OutOrStdout(), config.Get(args[0]))
		return nil
	},
}

// knownSections are the registry sections a seed template may carry.
var knownSections = map[string]bool{
	clone.Section:     true,
	extension.Section: true,
	attach.Section:    true,
}

var configSeedCmd = &cobra.Command{
	Use:   "seed <template>",
	Short: "Replace the user registry with a template",
	Long: `Replace the user registry with the content of a registry template file,
for example one prepared by an administrator. The template must be a valid
registry file holding only known sections.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tmpl, err := store.Open(args[0], store.ReadOnly)
		if err != nil {
			return fault.Wrap(fault.Validation, err, "seed template")
		}
		for _, s := range tmpl.Sections() {
			if !knownSections[s] {
				return fault.New(fault.Validation, "seed template has unknown section %q", s)
			}
		}
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		if err := a.user.Replace(tmpl); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Seeded %s from %s\n", a.user.Path(), args[0])
		return nil
	},
}
