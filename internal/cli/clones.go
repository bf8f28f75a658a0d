package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rvtx-labs/rvtx/internal/clone"
	"github.com/rvtx-labs/rvtx/internal/fault"
	"github.com/rvtx-labs/rvtx/internal/userdata"
)

var (
	cloneDest       string
	cloneDeployment string
	cloneBranch     string
	cloneSource     string
	cloneImage      string

	clonesJSON  bool
	clonesForce bool
	clonesAll   bool
	clonesReset bool
)

var cloneCmd = &cobra.Command{
	Use:   "clone <name>",
	Short: "Create and register a new clone",
	Long: `Clone the framework repository into <dest>/<name> and register it.

With --image, extract a local zip image instead (the clone is not git-backed).
With --deployment, only the paths of that deployment are kept.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		dest := cloneDest
		if dest == "" {
			if dest, err = userdata.GetClonesRoot(); err != nil {
				return err
			}
		}

		var c *clone.Clone
		if cloneImage != "" {
			c, err = a.clones.InstallImage(cmd.Context(), clone.ImageOptions{
				Name: args[0], Deployment: cloneDeployment, Dest: dest, ImagePath: cloneImage,
			})
		} else {
			c, err = a.clones.Materialize(cmd.Context(), clone.MaterializeOptions{
				Name: args[0], Deployment: cloneDeployment, Dest: dest, RepoURL: cloneSource, Branch: cloneBranch,
			})
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Registered clone %q at %s\n", c.Name, c.Path)
		return nil
	},
}

var clonesCmd = &cobra.Command{
	Use:   "clones",
	Short: "List and manage registered clones",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		list := a.clones.List()
		if clonesJSON {
			return printJSON(cmd.OutOrStdout(), list)
		}
		if len(list) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No clones registered.")
			return nil
		}
		w := newTable(cmd.OutOrStdout())
		fmt.Fprintln(w, "NAME\tDEPLOYMENT\tGIT\tPATH")
		for _, c := range list {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", c.Name, orDash(c.Deployment), yesNo(c.IsGit), c.Path)
		}
		return w.Flush()
	},
}

var clonesInfoCmd = &cobra.Command{
	Use:   "info <name>",
	Short: "Show a clone and its git state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		c, err := a.clones.Info(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if clonesJSON {
			return printJSON(cmd.OutOrStdout(), c)
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Name: %s\n", c.Name)
		fmt.Fprintf(out, "Path: %s\n", c.Path)
		fmt.Fprintf(out, "Deployment: %s\n", orDash(c.Deployment))
		for _, at := range a.attach.AttachedClone(c.Name) {
			fmt.Fprintf(out, "Attached: %d (%s)\n", at.HostYear, at.Scope)
		}
		if !c.IsGit {
			fmt.Fprintln(out, "Git: No")
			return nil
		}
		fmt.Fprintf(out, "Origin: %s\n", orDash(c.Git.Origin))
		fmt.Fprintf(out, "Branch: %s\n", orDash(c.Git.Branch))
		fmt.Fprintf(out, "Version: %s\n", orDash(c.Git.Tag))
		fmt.Fprintf(out, "Commit: %s\n", orDash(c.Git.Commit))
		return nil
	},
}

var clonesAddCmd = &cobra.Command{
	Use:   "add <name> <path>",
	Short: "Register an existing clone directory",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		c, err := a.clones.Register(cmd.Context(), args[1], args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Registered clone %q at %s\n", c.Name, c.Path)
		return nil
	},
}

var clonesForgetCmd = &cobra.Command{
	Use:   "forget (<name> | --all)",
	Short: "Unregister a clone without touching its files",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		if clonesAll {
			if err := a.clones.ForgetAll(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Forgot all clones")
			return nil
		}
		if len(args) != 1 {
			return fault.New(fault.Validation, "clone name or --all is required")
		}
		if err := a.clones.Forget(args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Forgot clone %q\n", args[0])
		return nil
	},
}

var clonesRenameCmd = &cobra.Command{
	Use:   "rename <name> <new-name>",
	Short: "Rename a registered clone",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		if err := a.clones.Rename(args[0], args[1]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Renamed clone %q to %q\n", args[0], args[1])
		return nil
	},
}

var clonesDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a clone's files and unregister it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		if err := a.clones.Delete(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted clone %q\n", args[0])
		return nil
	},
}

// gitAttrCmd builds the get/set pair for branch, version and commit.
func gitAttrCmd(use, short string,
	get func(a *app, cmd *cobra.Command, name string) (string, error),
	set func(a *app, cmd *cobra.Command, name, value string) error,
) *cobra.Command {
	attr := strings.Fields(use)[0]
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			if len(args) == 1 {
				v, err := get(a, cmd, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), v)
				return nil
			}
			if err := set(a, cmd, args[0], args[1]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Set %s of %q to %s\n", attr, args[0], args[1])
			return nil
		},
	}
}

var clonesBranchCmd = gitAttrCmd("branch <name> [<branch>]", "Show or check out a clone's branch",
	func(a *app, cmd *cobra.Command, name string) (string, error) {
		return a.clones.Branch(cmd.Context(), name)
	},
	func(a *app, cmd *cobra.Command, name, value string) error {
		return a.clones.SetBranch(cmd.Context(), name, value, clonesForce)
	})

var clonesVersionCmd = gitAttrCmd("version <name> [<tag>]", "Show or check out a clone's version tag",
	func(a *app, cmd *cobra.Command, name string) (string, error) {
		return a.clones.Version(cmd.Context(), name)
	},
	func(a *app, cmd *cobra.Command, name, value string) error {
		return a.clones.SetVersion(cmd.Context(), name, value, clonesForce)
	})

var clonesCommitCmd = gitAttrCmd("commit <name> [<commit>]", "Show or check out a clone's commit",
	func(a *app, cmd *cobra.Command, name string) (string, error) {
		return a.clones.Commit(cmd.Context(), name)
	},
	func(a *app, cmd *cobra.Command, name, value string) error {
		return a.clones.SetCommit(cmd.Context(), name, value, clonesForce)
	})

var clonesOriginCmd = &cobra.Command{
	Use:   "origin <name> [<url> | --reset]",
	Short: "Show or change a clone's origin remote",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		switch {
		case clonesReset:
			if err := a.clones.ResetOrigin(ctx, args[0]); err != nil {
				return err
			}
		case len(args) == 2:
			if err := a.clones.SetOrigin(ctx, args[0], args[1]); err != nil {
				return err
			}
		}
		origin, err := a.clones.Origin(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), origin)
		return nil
	},
}

var clonesUpdateCmd = &cobra.Command{
	Use:   "update (<name> | --all)",
	Short: "Pull the latest changes into git clones",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if clonesAll {
			updated, items := a.clones.UpdateAll(cmd.Context(), clonesForce)
			for _, name := range updated {
				fmt.Fprintf(out, "  [ OK ] %s\n", name)
			}
			return reportItems(out, "update clones", items)
		}
		if len(args) != 1 {
			return fault.New(fault.Validation, "clone name or --all is required")
		}
		if err := a.clones.Update(cmd.Context(), args[0], clonesForce); err != nil {
			return err
		}
		fmt.Fprintf(out, "Updated clone %q\n", args[0])
		return nil
	},
}

var clonesDeploymentsCmd = &cobra.Command{
	Use:   "deployments <name>",
	Short: "List the deployments a clone defines",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		deps, err := a.clones.Deployments(args[0])
		if err != nil {
			return err
		}
		if clonesJSON {
			return printJSON(cmd.OutOrStdout(), deps)
		}
		for _, d := range deps {
			fmt.Fprintf(cmd.OutOrStdout(), "%s\n", d.Name)
			for _, p := range d.Paths {
				fmt.Fprintf(cmd.OutOrStdout(), "    %s\n", p)
			}
		}
		return nil
	},
}

var clonesEnginesCmd = &cobra.Command{
	Use:   "engines <name>",
	Short: "List the script engines a clone ships",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		engines, err := a.clones.Engines(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if clonesJSON {
			return printJSON(cmd.OutOrStdout(), engines)
		}
		w := newTable(cmd.OutOrStdout())
		fmt.Fprintln(w, "ID\tKIND\tVERSION\tPATH")
		for _, e := range engines {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e.ID, e.Kind, e.Version, e.Path)
		}
		return w.Flush()
	},
}

func init() {
	cloneCmd.Flags().StringVar(&cloneDest, "dest", "", "Parent directory for the clone (default ~/.rvtx/clones)")
	cloneCmd.Flags().StringVar(&cloneDeployment, "deployment", "", "Keep only the paths of this deployment")
	cloneCmd.Flags().StringVar(&cloneBranch, "branch", "", "Branch to check out")
	cloneCmd.Flags().StringVar(&cloneSource, "source", "", "Repository URL (default framework repository)")
	cloneCmd.Flags().StringVar(&cloneImage, "image", "", "Extract a local zip image instead of cloning")
	rootCmd.AddCommand(cloneCmd)

	clonesCmd.PersistentFlags().BoolVar(&clonesJSON, "json", false, "Output in JSON format")
	clonesForgetCmd.Flags().BoolVar(&clonesAll, "all", false, "Forget every clone")
	clonesUpdateCmd.Flags().BoolVar(&clonesAll, "all", false, "Update every git clone")
	clonesOriginCmd.Flags().BoolVar(&clonesReset, "reset", false, "Reset origin to the framework repository")
	for _, c := range []*cobra.Command{clonesBranchCmd, clonesVersionCmd, clonesCommitCmd, clonesUpdateCmd} {
		c.Flags().BoolVar(&clonesForce, "force", false, "Discard local changes")
	}

	clonesCmd.AddCommand(clonesInfoCmd, clonesAddCmd, clonesForgetCmd, clonesRenameCmd, clonesDeleteCmd,
		clonesBranchCmd, clonesVersionCmd, clonesCommitCmd, clonesOriginCmd, clonesUpdateCmd,
		clonesDeploymentsCmd, clonesEnginesCmd)
	rootCmd.AddCommand(clonesCmd)
}
