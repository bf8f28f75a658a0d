package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rvtx-labs/rvtx/internal/extension"
	"github.com/rvtx-labs/rvtx/internal/fault"
)

var (
	extendType     string
	extendDest     string
	extendBranch   string
	extendUsername string
	extendPassword string

	extJSON  bool
	extPre   bool
	extAll   bool
	extReset bool
)

var extendCmd = &cobra.Command{
	Use:   "extend <name> [<repo-url>]",
	Short: "Install an extension",
	Long: `Install an extension by cloning its repository.

Without a repository URL the extension is looked up by name in the
configured catalogs, which also provide its type.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		opts := extension.InstallOptions{
			Name:     args[0],
			Dest:     extendDest,
			Branch:   extendBranch,
			Username: extendUsername,
			Password: extendPassword,
		}
		if len(args) == 2 {
			opts.RepoURL = args[1]
		}
		if extendType != "" {
			if opts.Type, err = extension.ParseType(extendType); err != nil {
				return err
			}
		}
		ext, err := a.extensions.Install(cmd.Context(), opts)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Installed %s extension %q at %s\n", ext.Type, ext.Name, ext.Path)
		return nil
	},
}

var extensionsCmd = &cobra.Command{
	Use:   "extensions",
	Short: "List and manage installed extensions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		exts, items := a.extensions.Installed(cmd.Context())
		out := cmd.OutOrStdout()
		if extJSON {
			if err := printJSON(out, exts); err != nil {
				return err
			}
			return reportItems(cmd.ErrOrStderr(), "list extensions", items)
		}
		if len(exts) == 0 && len(items) == 0 {
			fmt.Fprintln(out, "No extensions installed.")
			return nil
		}
		w := newTable(out)
		fmt.Fprintln(w, "NAME\tTYPE\tSTATE\tGIT\tPATH")
		for _, e := range exts {
			state := "enabled"
			if !e.Enabled {
				state = "disabled"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", e.Name, e.Type, state, yesNo(e.IsGit), e.Path)
		}
		if err := w.Flush(); err != nil {
			return err
		}
		return reportItems(out, "list extensions", items)
	},
}

var extensionsSearchCmd = &cobra.Command{
	Use:   "search [<pattern>]",
	Short: "Search extension catalogs",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		pattern := ""
		if len(args) == 1 {
			pattern = args[0]
		}
		entries, items, err := a.extensions.Search(cmd.Context(), pattern, extPre)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if extJSON {
			if err := printJSON(out, entries); err != nil {
				return err
			}
			return reportItems(cmd.ErrOrStderr(), "search catalogs", items)
		}
		if len(entries) == 0 {
			fmt.Fprintln(out, "No matching extensions.")
		} else {
			w := newTable(out)
			fmt.Fprintln(w, "NAME\tTYPE\tVERSION\tDESCRIPTION")
			for _, e := range entries {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e.Name, e.Type, orDash(e.Version), e.Description)
			}
			if err := w.Flush(); err != nil {
				return err
			}
		}
		return reportItems(out, "search catalogs", items)
	},
}

var extensionsInfoCmd = &cobra.Command{
	Use:   "info <name>",
	Short: "Show an installed extension",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		e, err := a.extensions.Find(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if extJSON {
			return printJSON(cmd.OutOrStdout(), e)
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Name: %s\n", e.Name)
		fmt.Fprintf(out, "Type: %s\n", e.Type)
		fmt.Fprintf(out, "Enabled: %s\n", yesNo(e.Enabled))
		fmt.Fprintf(out, "Path: %s\n", e.Path)
		fmt.Fprintf(out, "Git: %s\n", yesNo(e.IsGit))
		if e.Meta.Description != "" {
			fmt.Fprintf(out, "Description: %s\n", e.Meta.Description)
		}
		if e.Meta.Author != "" {
			fmt.Fprintf(out, "Author: %s\n", e.Meta.Author)
		}
		if e.Meta.Version != "" {
			fmt.Fprintf(out, "Version: %s\n", e.Meta.Version)
		}
		return nil
	},
}

var extensionsDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Uninstall an extension",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		if err := a.extensions.Uninstall(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Uninstalled extension %q\n", args[0])
		return nil
	},
}

var extensionsOriginCmd = &cobra.Command{
	Use:   "origin <name> [<url> | --reset]",
	Short: "Show or change an extension's origin remote",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		switch {
		case extReset:
			if err := a.extensions.ResetOrigin(ctx, args[0]); err != nil {
				return err
			}
		case len(args) == 2:
			if err := a.extensions.SetOrigin(ctx, args[0], args[1]); err != nil {
				return err
			}
		}
		origin, err := a.extensions.Origin(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), origin)
		return nil
	},
}

func stateCmd(use, short, verb string, apply func(a *app, cmd *cobra.Command, name string) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			if err := apply(a, cmd, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s extension %q\n", verb, args[0])
			return nil
		},
	}
}

var extensionsEnableCmd = stateCmd("enable <name>", "Enable an extension", "Enabled",
	func(a *app, cmd *cobra.Command, name string) error {
		return a.extensions.Enable(cmd.Context(), name)
	})

var extensionsDisableCmd = stateCmd("disable <name>", "Disable an extension", "Disabled",
	func(a *app, cmd *cobra.Command, name string) error {
		return a.extensions.Disable(cmd.Context(), name)
	})

var extensionsUpdateCmd = &cobra.Command{
	Use:   "update (<name> | --all)",
	Short: "Pull the latest changes into git extensions",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if extAll {
			updated, items := a.extensions.UpdateAll(cmd.Context())
			for _, name := range updated {
				fmt.Fprintf(out, "  [ OK ] %s\n", name)
			}
			return reportItems(out, "update extensions", items)
		}
		if len(args) != 1 {
			return fault.New(fault.Validation, "extension name or --all is required")
		}
		if err := a.extensions.Update(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Fprintf(out, "Updated extension %q\n", args[0])
		return nil
	},
}

var extensionsCommandsCmd = &cobra.Command{
	Use:   "commands <name>",
	Short: "List the runnable commands an extension provides",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		e, err := a.extensions.Find(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		cmds, err := e.Provider().Commands()
		if err != nil {
			return err
		}
		if extJSON {
			return printJSON(cmd.OutOrStdout(), cmds)
		}
		w := newTable(cmd.OutOrStdout())
		fmt.Fprintln(w, "COMMAND\tSCRIPT")
		for _, c := range cmds {
			fmt.Fprintf(w, "%s\t%s\n", c.Name, c.Script)
		}
		return w.Flush()
	},
}

// listCmd builds the show/add/forget group used for search paths and
// catalog sources.
func listCmd(use, short, noun string,
	list func(a *app) []string,
	add func(a *app, v string) error,
	forget func(a *app, v string) error,
) *cobra.Command {
	group := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			for _, v := range list(a) {
				fmt.Fprintln(cmd.OutOrStdout(), v)
			}
			return nil
		},
	}
	group.AddCommand(&cobra.Command{
		Use:   "add <" + noun + ">",
		Short: "Add a " + noun,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			if err := add(a, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added %s %s\n", noun, args[0])
			return nil
		},
	}, &cobra.Command{
		Use:   "forget <" + noun + ">",
		Short: "Remove a " + noun,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			if err := forget(a, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %s %s\n", noun, args[0])
			return nil
		},
	})
	return group
}

var extensionsPathsCmd = listCmd("paths", "Show or edit extension search paths", "path",
	func(a *app) []string { return a.extensions.SearchPaths() },
	func(a *app, v string) error { return a.extensions.AddSearchPath(v) },
	func(a *app, v string) error { return a.extensions.ForgetSearchPath(v) })

var extensionsSourcesCmd = listCmd("sources", "Show or edit extension catalog sources", "source",
	func(a *app) []string { return a.extensions.Sources() },
	func(a *app, v string) error { return a.extensions.AddSource(v) },
	func(a *app, v string) error { return a.extensions.ForgetSource(v) })

func init() {
	extendCmd.Flags().StringVar(&extendType, "type", "", "Extension type: ui or lib (default from catalog, else ui)")
	extendCmd.Flags().StringVar(&extendDest, "dest", "", "Install under this directory (added to the search paths)")
	extendCmd.Flags().StringVar(&extendBranch, "branch", "", "Branch to check out")
	extendCmd.Flags().StringVar(&extendUsername, "username", "", "Username for private repositories")
	extendCmd.Flags().StringVar(&extendPassword, "password", "", "Password or token for private repositories")
	rootCmd.AddCommand(extendCmd)

	extensionsCmd.PersistentFlags().BoolVar(&extJSON, "json", false, "Output in JSON format")
	extensionsSearchCmd.Flags().BoolVar(&extPre, "pre", false, "Include prerelease versions")
	extensionsUpdateCmd.Flags().BoolVar(&extAll, "all", false, "Update every git extension")
	extensionsOriginCmd.Flags().BoolVar(&extReset, "reset", false, "Reset origin to the catalog URL")

	extensionsCmd.AddCommand(extensionsSearchCmd, extensionsInfoCmd, extensionsDeleteCmd, extensionsOriginCmd,
		extensionsEnableCmd, extensionsDisableCmd, extensionsUpdateCmd, extensionsCommandsCmd,
		extensionsPathsCmd, extensionsSourcesCmd)
	rootCmd.AddCommand(extensionsCmd)
}
