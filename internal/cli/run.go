package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rvtx-labs/rvtx/internal/runner"
)

var (
	runModels       bool
	runYear         int
	runPurge        bool
	runImport       string
	runAllowDialogs bool
	runJSON         bool
)

var runCmd = &cobra.Command{
	Use:   "run <command | script.py> [<model> | --models <list-file>]",
	Short: "Run a command script inside a host instance",
	Long: `Run a command bundle (found in the attached clone's extensions, then in
installed extensions) or a script file inside a host instance.

The host version is taken from --revit, or else from the newest target
model, or else the newest installed host. The clone and engine attached to
that version are used.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		r, err := a.runner()
		if err != nil {
			return err
		}
		req := runner.Request{
			Command:      args[0],
			TargetIsList: runModels,
			HostYear:     runYear,
			ImportPath:   runImport,
			Purge:        runPurge,
			AllowDialogs: runAllowDialogs,
		}
		if len(args) == 2 {
			req.Target = args[1]
		}

		env, err := r.Run(cmd.Context(), req)
		if env != nil {
			if runJSON {
				if jerr := printJSON(cmd.OutOrStdout(), env); jerr != nil {
					return jerr
				}
			} else {
				printEnvironment(cmd.OutOrStdout(), env)
			}
		}
		return err
	},
}

func printEnvironment(w io.Writer, env *runner.Environment) {
	fmt.Fprintln(w, "==> Execution Environment")
	fmt.Fprintf(w, "Execution Id: %q\n", env.ExecutionID)
	fmt.Fprintf(w, "Product: %s\n", env.Product)
	if env.Clone != nil {
		fmt.Fprintf(w, "Clone: %s | %s\n", env.Clone.Name, env.Clone.Path)
	}
	fmt.Fprintf(w, "Engine: %s %s | %s\n", env.Engine.ID, env.Engine.Version, env.Engine.Path)
	fmt.Fprintf(w, "Script: %q\n", env.Script)
	fmt.Fprintf(w, "Working Directory: %q\n", env.WorkingDirectory)
	fmt.Fprintf(w, "Journal File: %q\n", env.JournalFile)
	fmt.Fprintf(w, "Manifest File: %q\n", env.ManifestFile)
	fmt.Fprintf(w, "Log File: %q\n", env.LogFile)
	fmt.Fprintf(w, "Working Directory Purged: %s\n", yesNo(env.Purged))
	if len(env.ModelPaths) > 0 {
		fmt.Fprintln(w, "==> Target Models")
		for _, m := range env.ModelPaths {
			fmt.Fprintln(w, m)
		}
	}
	if env.LogContents != "" {
		fmt.Fprintln(w, "==> Execution Log")
		fmt.Fprint(w, env.LogContents)
		if !strings.HasSuffix(env.LogContents, "\n") {
			fmt.Fprintln(w)
		}
	}
}

var runCommandsCmd = &cobra.Command{
	Use:   "commands",
	Short: "List commands available to run",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		r, err := a.runner()
		if err != nil {
			return err
		}
		groups, items := r.AvailableCommands(cmd.Context(), a.clones.List())
		out := cmd.OutOrStdout()
		if runJSON {
			if err := printJSON(out, groups); err != nil {
				return err
			}
			return reportItems(cmd.ErrOrStderr(), "list commands", items)
		}
		if len(groups) == 0 {
			fmt.Fprintln(out, "No runnable commands found.")
		}
		for _, g := range groups {
			fmt.Fprintf(out, "==> %s | %s\n", g.Source, g.Extension)
			for _, c := range g.Commands {
				fmt.Fprintf(out, "    %s\n", c.Name)
			}
		}
		return reportItems(out, "list commands", items)
	},
}

func init() {
	runCmd.Flags().BoolVar(&runModels, "models", false, "Treat the target as a file listing one model path per line")
	runCmd.Flags().IntVar(&runYear, "revit", 0, "Host `year` to run in")
	runCmd.Flags().BoolVar(&runPurge, "purge", false, "Remove the working directory after the run")
	runCmd.Flags().StringVar(&runImport, "import", "", "Copy this file or directory into the working directory")
	runCmd.Flags().BoolVar(&runAllowDialogs, "allowdialogs", false, "Let the host show dialogs")
	runCmd.PersistentFlags().BoolVar(&runJSON, "json", false, "Output in JSON format")
	runCmd.AddCommand(runCommandsCmd)
	rootCmd.AddCommand(runCmd)
}
